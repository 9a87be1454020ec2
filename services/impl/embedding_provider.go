package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docstack-rag/config"
	"github.com/docstack-rag/services"
)

type embeddingProviderImpl struct {
	config     *config.EmbeddingConfig
	httpClient *http.Client
}

type embeddingRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	TaskType string   `json:"task_type"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// NewEmbeddingProvider creates the HTTP client for the embedding API.
// Batch requests are split to respect the provider's batch limit.
func NewEmbeddingProvider(cfg *config.EmbeddingConfig) services.EmbeddingProvider {
	return &embeddingProviderImpl{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

func (p *embeddingProviderImpl) ModelID() string {
	return p.config.Model
}

func (p *embeddingProviderImpl) Dimension() int {
	return p.config.Dimension
}

func (p *embeddingProviderImpl) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embed(ctx, []string{text}, "retrieval_query")
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *embeddingProviderImpl) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	limit := p.config.BatchLimit
	if limit <= 0 {
		limit = 10
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += limit {
		end := start + limit
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := p.embed(ctx, texts[start:end], "retrieval_document")
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (p *embeddingProviderImpl) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	jsonData, err := json.Marshal(embeddingRequest{
		Model:    p.config.Model,
		Input:    texts,
		TaskType: taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/embeddings", p.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.config.APIKey))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("embedding API returned %d: %s", resp.StatusCode, truncate(string(body), 512)),
		}
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	// The API reports indexes explicitly; honor them rather than trusting
	// response order.
	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding API response missing vector for index %d", i)
		}
	}
	return vectors, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

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

type rerankerImpl struct {
	config     *config.RerankerConfig
	httpClient *http.Client
}

type rerankRequest struct {
	Model     string           `json:"model"`
	Query     string           `json:"query"`
	Documents []rerankDocument `json:"documents"`
}

type rerankDocument struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type rerankResponse struct {
	Results []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"results"`
	Model string `json:"model"`
}

// NewReranker creates the HTTP client for the cross-encoder rerank API.
// Returns nil when the reranker is disabled; the pipeline treats a nil
// reranker as "keep fused order".
func NewReranker(cfg *config.RerankerConfig) services.Reranker {
	if !cfg.Enabled {
		return nil
	}
	return &rerankerImpl{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

func (r *rerankerImpl) Rerank(ctx context.Context, query string, candidates []services.RerankCandidate) ([]services.RerankResult, error) {
	docs := make([]rerankDocument, len(candidates))
	for i, c := range candidates {
		docs[i] = rerankDocument{ID: c.Identity, Text: c.Content}
	}

	jsonData, err := json.Marshal(rerankRequest{
		Model:     r.config.Model,
		Query:     query,
		Documents: docs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/rerank", r.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", r.config.APIKey))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("rerank API returned %d: %s", resp.StatusCode, truncate(string(body), 512)),
		}
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	results := make([]services.RerankResult, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		results = append(results, services.RerankResult{
			Identity: res.ID,
			Score:    res.Score,
			Source:   parsed.Model,
		})
	}
	return results, nil
}

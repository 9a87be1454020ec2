package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docstack-rag/config"
	"github.com/docstack-rag/services"
)

// textExtractorImpl handles plain text formats inline and delegates
// PDF/DOCX to the extraction API.
type textExtractorImpl struct {
	config     *config.ExtractorConfig
	httpClient *http.Client
}

type extractResponse struct {
	Text string `json:"text"`
}

func NewTextExtractor(cfg *config.ExtractorConfig) services.TextExtractor {
	return &textExtractorImpl{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

func (e *textExtractorImpl) Extract(ctx context.Context, mimeType string, data []byte) (string, error) {
	base := mimeType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}

	switch base {
	case "text/plain", "text/markdown", "text/csv":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("document is not valid UTF-8")
		}
		return string(data), nil
	case "application/pdf",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return e.extractRemote(ctx, base, data)
	default:
		return "", fmt.Errorf("unsupported mime type %q", mimeType)
	}
}

// extractRemote posts the binary to the extraction API as multipart form
// data and returns the extracted text.
func (e *textExtractorImpl) extractRemote(ctx context.Context, mimeType string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "document")
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := writer.WriteField("mime_type", mimeType); err != nil {
		return "", fmt.Errorf("failed to write multipart field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/v1/extract", e.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.config.APIKey))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("extraction API returned %d: %s", resp.StatusCode, truncate(string(respBody), 512)),
		}
	}

	var parsed extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode extraction response: %w", err)
	}
	return parsed.Text, nil
}

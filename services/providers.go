package services

import (
	"context"
)

// EmbeddingProvider turns text into fixed-dimension vectors. Queries and
// documents use distinct task types on the provider side, so the two
// methods are never interchangeable.
type EmbeddingProvider interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	Dimension() int
}

// TokenStream yields generated tokens one at a time. Next returns io.EOF
// when the stream is complete; Close releases the underlying connection.
type TokenStream interface {
	Next() (string, error)
	Close() error
}

// LLMProvider generates answers from a query plus assembled context. The
// prompt template applied is versioned via configuration.
type LLMProvider interface {
	GenerateAnswer(ctx context.Context, query, contextText string) (string, error)
	GenerateStream(ctx context.Context, query, contextText string) (TokenStream, error)
}

// ObjectStorage stores raw uploaded binaries. Errors are I/O errors; the
// caller wraps them into the taxonomy.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// TextExtractor converts an uploaded binary into plain UTF-8 text
// according to its MIME type.
type TextExtractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (string, error)
}

// Reranker optionally reorders fused retrieval results. A failing reranker
// never fails the pipeline; the fused order is used unchanged.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)
}

// RerankCandidate pairs a chunk identity with its content for scoring.
type RerankCandidate struct {
	Identity string
	Content  string
}

// RerankResult carries the reranker's score and provenance for one
// candidate.
type RerankResult struct {
	Identity string
	Score    float64
	Source   string
}

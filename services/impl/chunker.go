package impl

import (
	"fmt"
	"strings"
)

// TextChunk is one slice of a document body before embedding.
type TextChunk struct {
	Index   int
	Content string
}

// Chunker splits text into overlapping, bounded chunks. Chunk k starts at
// rune index k*(size-overlap) and spans up to size runes; slices are
// trimmed of surrounding whitespace afterwards, so the stored content is
// byte-faithful to the trimmed window.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must satisfy 0 <= overlap < size, got size=%d overlap=%d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the ordered, non-empty chunks of text. Empty or
// whitespace-only input produces zero chunks. Indexes are contiguous
// from 0 even when a trimmed window collapses to nothing.
func (c *Chunker) Split(text string) []TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	stride := c.size - c.overlap

	var chunks []TextChunk
	for start := 0; start < len(runes); start += stride {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, TextChunk{
				Index:   len(chunks),
				Content: content,
			})
		}

		if end == len(runes) {
			break
		}
	}

	return chunks
}

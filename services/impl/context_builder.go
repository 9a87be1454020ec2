package impl

import (
	"fmt"
	"strings"

	"github.com/docstack-rag/models"
)

// Delimiters wrapping every evidence block in the prompt. These are part
// of the anti-injection contract with the prompt template and must not
// vary between requests.
const (
	contextBlockOpen  = "<<<CONTEXTO S%d>>>"
	contextBlockClose = "<<<FIN S%d>>>"
	sourcesHeader     = "FUENTES:"
)

// BuiltContext is the assembled, cited, length-bounded evidence for the
// LLM plus the ordered subset of chunks that actually made it in.
type BuiltContext struct {
	Text     string
	Included []models.RetrievedChunk
}

// ContextBuilder composes the prompt context from selected chunks under a
// character budget.
type ContextBuilder struct {
	charBudget int
}

func NewContextBuilder(charBudget int) *ContextBuilder {
	return &ContextBuilder{charBudget: charBudget}
}

// Build assigns stable [S1], [S2], ... labels in input order and wraps
// each chunk in fixed delimiters with minimal source metadata. Inclusion
// is greedy: a chunk that would blow the budget is skipped, but later
// shorter chunks may still fit. The trailing FUENTES section maps labels
// to (document_id, chunk_id) without repeating content. Empty input or a
// budget no chunk fits yields an empty context; the caller must then emit
// the fixed fallback instead of calling the LLM.
func (b *ContextBuilder) Build(chunks []models.RetrievedChunk) BuiltContext {
	if len(chunks) == 0 {
		return BuiltContext{}
	}

	var sb strings.Builder
	var sources strings.Builder
	var included []models.RetrievedChunk

	sources.WriteString(sourcesHeader)
	sources.WriteByte('\n')

	used := 0
	for _, chunk := range chunks {
		label := len(included) + 1
		block := b.renderBlock(label, chunk)
		sourceLine := fmt.Sprintf("[S%d] document_id=%s chunk_id=%s\n", label, chunk.DocumentID, chunk.ID)

		// The sources section grows with each inclusion, so it counts
		// against the budget too.
		if used+len(block)+sources.Len()+len(sourceLine) > b.charBudget {
			continue
		}

		sb.WriteString(block)
		sources.WriteString(sourceLine)
		used += len(block)

		chunk.Label = fmt.Sprintf("S%d", label)
		included = append(included, chunk)
	}

	if len(included) == 0 {
		return BuiltContext{}
	}

	sb.WriteString(sources.String())
	return BuiltContext{
		Text:     sb.String(),
		Included: included,
	}
}

func (b *ContextBuilder) renderBlock(label int, chunk models.RetrievedChunk) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(contextBlockOpen, label))
	sb.WriteByte('\n')
	sb.WriteString(fmt.Sprintf("[S%d] titulo=%q document_id=%s chunk_index=%d\n", label, chunk.DocumentTitle, chunk.DocumentID, chunk.ChunkIndex))
	sb.WriteString(chunk.Content)
	sb.WriteByte('\n')
	sb.WriteString(fmt.Sprintf(contextBlockClose, label))
	sb.WriteString("\n\n")
	return sb.String()
}

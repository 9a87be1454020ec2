package impl

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstack-rag/models"
)

func retrievedChunk(content string) models.RetrievedChunk {
	return models.RetrievedChunk{
		ID:            uuid.New(),
		DocumentID:    uuid.New(),
		DocumentTitle: "Manual de procedimientos",
		ChunkIndex:    0,
		Content:       content,
		Score:         0.8,
	}
}

func TestContextBuilder_Build(t *testing.T) {
	t.Run("empty input yields empty context", func(t *testing.T) {
		builder := NewContextBuilder(1000)
		built := builder.Build(nil)
		assert.Empty(t, built.Text)
		assert.Empty(t, built.Included)
	})

	t.Run("labels are assigned in input order", func(t *testing.T) {
		builder := NewContextBuilder(10000)
		chunks := []models.RetrievedChunk{
			retrievedChunk("primer fragmento"),
			retrievedChunk("segundo fragmento"),
		}

		built := builder.Build(chunks)
		require.Len(t, built.Included, 2)
		assert.Equal(t, "S1", built.Included[0].Label)
		assert.Equal(t, "S2", built.Included[1].Label)
	})

	t.Run("blocks carry fixed delimiters and a sources section", func(t *testing.T) {
		builder := NewContextBuilder(10000)
		chunk := retrievedChunk("contenido de prueba")

		built := builder.Build([]models.RetrievedChunk{chunk})
		assert.Contains(t, built.Text, "<<<CONTEXTO S1>>>")
		assert.Contains(t, built.Text, "<<<FIN S1>>>")
		assert.Contains(t, built.Text, "contenido de prueba")
		assert.Contains(t, built.Text, "FUENTES:")
		assert.Contains(t, built.Text, fmt.Sprintf("[S1] document_id=%s chunk_id=%s", chunk.DocumentID, chunk.ID))
	})

	t.Run("oversized chunk is skipped but later chunks still fit", func(t *testing.T) {
		builder := NewContextBuilder(600)
		big := retrievedChunk(strings.Repeat("x", 2000))
		small := retrievedChunk("cabe perfectamente")

		built := builder.Build([]models.RetrievedChunk{big, small})
		require.Len(t, built.Included, 1)
		assert.Equal(t, small.ID, built.Included[0].ID)
		assert.Equal(t, "S1", built.Included[0].Label)
		assert.NotContains(t, built.Text, strings.Repeat("x", 100))
	})

	t.Run("budget no chunk fits yields empty context", func(t *testing.T) {
		builder := NewContextBuilder(10)
		built := builder.Build([]models.RetrievedChunk{retrievedChunk("demasiado largo para diez caracteres")})
		assert.Empty(t, built.Text)
		assert.Empty(t, built.Included)
	})

	t.Run("content stays within budget", func(t *testing.T) {
		builder := NewContextBuilder(1500)
		var chunks []models.RetrievedChunk
		for i := 0; i < 10; i++ {
			chunks = append(chunks, retrievedChunk(strings.Repeat("palabra ", 30)))
		}

		built := builder.Build(chunks)
		assert.LessOrEqual(t, len(built.Text), 1500)
		assert.NotEmpty(t, built.Included)
	})
}

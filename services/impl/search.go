package impl

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/docstack-rag/models"
)

// ChunkSearcher runs the two retrieval queries over the chunks table.
// Both are scoped by workspace id and exclude soft-deleted documents; the
// SQL is parameterized throughout.
type ChunkSearcher struct {
	db       *gorm.DB
	language string
}

func NewChunkSearcher(db *gorm.DB, ftsLanguage string) *ChunkSearcher {
	if ftsLanguage == "" {
		ftsLanguage = "spanish"
	}
	return &ChunkSearcher{db: db, language: ftsLanguage}
}

type searchRow struct {
	ID            uuid.UUID      `gorm:"column:id"`
	DocumentID    uuid.UUID      `gorm:"column:document_id"`
	DocumentTitle string         `gorm:"column:document_title"`
	ChunkIndex    int            `gorm:"column:chunk_index"`
	Content       string         `gorm:"column:content"`
	Score         float64        `gorm:"column:score"`
	RiskScore     float64        `gorm:"column:risk_score"`
	SecurityFlags pq.StringArray `gorm:"column:security_flags;type:text[]"`
}

// DenseSearch returns the top-k chunks by cosine similarity (1 - <=>).
func (s *ChunkSearcher) DenseSearch(ctx context.Context, workspaceID uuid.UUID, embedding []float32, k int) ([]models.RetrievedChunk, error) {
	vec := pgvector.NewVector(embedding)

	var rows []searchRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT c.id, c.document_id, d.title AS document_title, c.chunk_index, c.content,
		       c.risk_score, c.security_flags,
		       1 - (c.embedding <=> ?) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.workspace_id = ?
		  AND d.deleted_at IS NULL
		  AND d.status = ?
		ORDER BY c.embedding <=> ?
		LIMIT ?`,
		vec, workspaceID, models.DocumentStatusReady, vec, k,
	).Scan(&rows).Error
	if err != nil {
		return nil, models.NewDBError("dense search failed", err)
	}

	return rowsToChunks(rows), nil
}

// FullTextSearch returns the top-k chunks by ts_rank over the generated
// tsv column, using websearch_to_tsquery semantics.
func (s *ChunkSearcher) FullTextSearch(ctx context.Context, workspaceID uuid.UUID, queryText string, k int) ([]models.RetrievedChunk, error) {
	var rows []searchRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT c.id, c.document_id, d.title AS document_title, c.chunk_index, c.content,
		       c.risk_score, c.security_flags,
		       ts_rank(c.tsv, websearch_to_tsquery(?::regconfig, ?)) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.workspace_id = ?
		  AND d.deleted_at IS NULL
		  AND d.status = ?
		  AND c.tsv @@ websearch_to_tsquery(?::regconfig, ?)
		ORDER BY score DESC
		LIMIT ?`,
		s.language, queryText, workspaceID, models.DocumentStatusReady, s.language, queryText, k,
	).Scan(&rows).Error
	if err != nil {
		return nil, models.NewDBError("full-text search failed", err)
	}

	return rowsToChunks(rows), nil
}

func rowsToChunks(rows []searchRow) []models.RetrievedChunk {
	chunks := make([]models.RetrievedChunk, len(rows))
	for i, r := range rows {
		chunks[i] = models.RetrievedChunk{
			ID:            r.ID,
			DocumentID:    r.DocumentID,
			DocumentTitle: r.DocumentTitle,
			ChunkIndex:    r.ChunkIndex,
			Content:       r.Content,
			Score:         r.Score,
			RiskScore:     r.RiskScore,
			SecurityFlags: r.SecurityFlags,
		}
	}
	return chunks
}

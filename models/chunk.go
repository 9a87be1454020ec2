package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// EmbeddingDimension is the fixed width of the chunk embedding column.
// Writes with any other dimension are rejected.
const EmbeddingDimension = 768

// Chunk is a fragment of a document with its embedding and injection
// metadata. (DocumentID, ChunkIndex) is unique and contiguous from 0;
// WorkspaceID is denormalized so every retrieval query scopes on it
// without a join. The tsv full-text column is generated in SQL (see
// scripts/create_tables.go) and never mapped here.
type Chunk struct {
	ID               uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DocumentID       uuid.UUID       `json:"document_id" gorm:"type:uuid;not null;uniqueIndex:idx_chunks_doc_index,priority:1"`
	WorkspaceID      uuid.UUID       `json:"workspace_id" gorm:"type:uuid;not null;index"`
	ChunkIndex       int             `json:"chunk_index" gorm:"not null;uniqueIndex:idx_chunks_doc_index,priority:2"`
	Content          string          `json:"content" gorm:"type:text;not null"`
	Embedding        pgvector.Vector `json:"-" gorm:"type:vector(768)"`
	RiskScore        float64         `json:"risk_score" gorm:"type:double precision;not null;default:0"`
	SecurityFlags    pq.StringArray  `json:"security_flags" gorm:"type:text[]"`
	DetectedPatterns pq.StringArray  `json:"detected_patterns" gorm:"type:text[]"`
	Metadata         datatypes.JSON  `json:"metadata,omitempty" gorm:"type:jsonb;default:'{}'"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null;default:now()"`
}

func (Chunk) TableName() string {
	return "chunks"
}

// RetrievedChunk is a chunk as it flows through the retrieval pipeline:
// search score, fusion ranks, rerank annotation and finally the citation
// label assigned by the context builder.
type RetrievedChunk struct {
	ID            uuid.UUID `json:"id"`
	DocumentID    uuid.UUID `json:"document_id"`
	DocumentTitle string    `json:"document_title,omitempty"`
	ChunkIndex    int       `json:"chunk_index"`
	Content       string    `json:"content"`
	Score         float64   `json:"score"`
	RerankScore   *float64  `json:"rerank_score,omitempty"`
	RerankSource  string    `json:"rerank_source,omitempty"`
	RiskScore     float64   `json:"risk_score"`
	SecurityFlags []string  `json:"security_flags,omitempty"`
	Label         string    `json:"label,omitempty"`
}

// Identity keys a chunk inside rank fusion: the chunk id when present,
// otherwise the (document_id, chunk_index) pair.
func (c *RetrievedChunk) Identity() string {
	if c.ID != uuid.Nil {
		return c.ID.String()
	}
	return fmt.Sprintf("%s:%d", c.DocumentID, c.ChunkIndex)
}

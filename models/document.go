package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "PENDING"
	DocumentStatusProcessing DocumentStatus = "PROCESSING"
	DocumentStatusReady      DocumentStatus = "READY"
	DocumentStatusFailed     DocumentStatus = "FAILED"
)

// Document is an ingested source file. Status follows
// PENDING -> PROCESSING -> (READY | FAILED); reprocessing resets a
// non-PROCESSING document to PENDING. DeletedAt hides the document from
// listings and excludes its chunks from retrieval.
type Document struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	WorkspaceID    uuid.UUID      `json:"workspace_id" gorm:"type:uuid;not null;index:idx_documents_ws_created,priority:1;index:idx_documents_ws_status,priority:1"`
	Title          string         `json:"title" gorm:"type:varchar(512);not null"`
	Source         string         `json:"source,omitempty" gorm:"type:varchar(512)"`
	FileName       string         `json:"file_name,omitempty" gorm:"type:varchar(512)"`
	MimeType       string         `json:"mime_type,omitempty" gorm:"type:varchar(255)"`
	StorageKey     string         `json:"storage_key,omitempty" gorm:"type:varchar(1024)"`
	Status         DocumentStatus `json:"status" gorm:"type:varchar(20);not null;default:'PENDING';index:idx_documents_ws_status,priority:2"`
	ErrorMessage   string         `json:"error_message,omitempty" gorm:"type:varchar(2048)"`
	Tags           pq.StringArray `json:"tags" gorm:"type:text[]"`
	Metadata       datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb;default:'{}'"`
	UploaderUserID string         `json:"uploader_user_id" gorm:"type:varchar(255);not null"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null;default:now();index:idx_documents_ws_created,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty" gorm:"index"`
}

func (Document) TableName() string {
	return "documents"
}

type UploadDocumentRequest struct {
	Title    string         `json:"title"`
	Source   string         `json:"source,omitempty"`
	FileName string         `json:"file_name"`
	MimeType string         `json:"mime_type"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Content  []byte         `json:"-"`
}

type UpdateDocumentRequest struct {
	Title    *string        `json:"title,omitempty" validate:"omitempty,min=1,max=512"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type DocumentListFilter struct {
	Status *DocumentStatus `json:"status,omitempty"`
	Tag    string          `json:"tag,omitempty"`
	Search string          `json:"search,omitempty"`
	Page   int             `json:"page"`
	Size   int             `json:"size"`
}

type DocumentListResponse struct {
	Documents []Document `json:"documents"`
	Total     int64      `json:"total"`
	Page      int        `json:"page"`
	Size      int        `json:"size"`
}

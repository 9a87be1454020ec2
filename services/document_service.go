package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/docstack-rag/models"
)

type DocumentService interface {
	// UploadDocument runs the synchronous intake phase: policy check,
	// MIME/size validation, storage write, PENDING row, job enqueue.
	UploadDocument(ctx context.Context, workspaceID uuid.UUID, req models.UploadDocumentRequest, actor models.Actor) (*models.Document, error)
	GetDocument(ctx context.Context, workspaceID, documentID uuid.UUID, actor models.Actor) (*models.Document, error)
	ListDocuments(ctx context.Context, workspaceID uuid.UUID, filter models.DocumentListFilter, actor models.Actor) (*models.DocumentListResponse, error)
	UpdateDocument(ctx context.Context, workspaceID, documentID uuid.UUID, req models.UpdateDocumentRequest, actor models.Actor) (*models.Document, error)
	DeleteDocument(ctx context.Context, workspaceID, documentID uuid.UUID, actor models.Actor) error

	// ReprocessDocument resets a non-PROCESSING document to PENDING and
	// enqueues a fresh job. PROCESSING documents return CONFLICT.
	ReprocessDocument(ctx context.Context, workspaceID, documentID uuid.UUID, actor models.Actor) (*models.Document, error)

	// ProcessDocument is the worker entry point: extract, chunk, embed,
	// detect, persist atomically, transition status.
	ProcessDocument(ctx context.Context, documentID uuid.UUID) error
}

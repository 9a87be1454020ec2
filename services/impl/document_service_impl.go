package impl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/docstack-rag/config"
	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

// JobEnqueuer decouples the document service from the queue package.
// The Redis queue satisfies it.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, documentID uuid.UUID) error
}

type documentServiceImpl struct {
	db         *gorm.DB
	workspaces services.WorkspaceService
	audit      services.AuditService
	storage    services.ObjectStorage
	extractor  services.TextExtractor
	embedder   services.EmbeddingProvider
	chunker    *Chunker
	detector   *InjectionDetector
	retry      *RetryPolicy
	enqueuer   JobEnqueuer
	ingest     config.IngestConfig
}

func NewDocumentService(
	db *gorm.DB,
	workspaces services.WorkspaceService,
	audit services.AuditService,
	storage services.ObjectStorage,
	extractor services.TextExtractor,
	embedder services.EmbeddingProvider,
	chunker *Chunker,
	detector *InjectionDetector,
	retry *RetryPolicy,
	enqueuer JobEnqueuer,
	ingest config.IngestConfig,
) services.DocumentService {
	return &documentServiceImpl{
		db:         db,
		workspaces: workspaces,
		audit:      audit,
		storage:    storage,
		extractor:  extractor,
		embedder:   embedder,
		chunker:    chunker,
		detector:   detector,
		retry:      retry,
		enqueuer:   enqueuer,
		ingest:     ingest,
	}
}

// UploadDocument is the synchronous intake half of ingestion. Everything
// slow (extraction, embedding) happens later in the worker; here we only
// validate, persist the raw bytes, create the PENDING row and enqueue.
func (s *documentServiceImpl) UploadDocument(ctx context.Context, workspaceID uuid.UUID, req models.UploadDocumentRequest, actor models.Actor) (*models.Document, error) {
	if _, err := s.workspaces.ResolveWrite(ctx, workspaceID, actor); err != nil {
		return nil, err
	}

	if len(req.Content) == 0 {
		return nil, models.NewValidation("uploaded file is empty")
	}
	if int64(len(req.Content)) > s.ingest.MaxUploadBytes {
		return nil, models.NewValidation(
			fmt.Sprintf("file exceeds the %d byte upload limit", s.ingest.MaxUploadBytes))
	}
	if !s.mimeAllowed(req.MimeType) {
		return nil, models.NewValidation(fmt.Sprintf("unsupported mime type %q", req.MimeType))
	}

	title := req.Title
	if title == "" {
		title = req.FileName
	}
	if title == "" {
		return nil, models.NewValidation("document title is required")
	}

	doc := &models.Document{
		ID:             uuid.New(),
		WorkspaceID:    workspaceID,
		Title:          title,
		Source:         req.Source,
		FileName:       req.FileName,
		MimeType:       req.MimeType,
		Status:         models.DocumentStatusPending,
		Tags:           req.Tags,
		UploaderUserID: actor.UserID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if req.Metadata != nil {
		data, err := models.ConvertToJSON(req.Metadata)
		if err != nil {
			return nil, models.NewValidation("document metadata is not serializable")
		}
		doc.Metadata = data
	}

	key := path.Join(workspaceID.String(), doc.ID.String(), req.FileName)
	storedKey, err := s.storage.Put(ctx, key, req.Content, req.MimeType)
	if err != nil {
		return nil, models.NewStorageError("failed to store uploaded file", err)
	}
	doc.StorageKey = storedKey

	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		// The row never existed; remove the orphaned object.
		if delErr := s.storage.Delete(ctx, storedKey); delErr != nil {
			log.Printf("documents: failed to clean up orphaned object %s: %v", storedKey, delErr)
		}
		return nil, models.NewDBError("failed to create document", err)
	}

	if err := s.enqueuer.Enqueue(ctx, doc.ID); err != nil {
		// The document stays PENDING; a reprocess call re-enqueues it.
		log.Printf("documents: failed to enqueue job for %s: %v", doc.ID, err)
	}

	s.audit.Record(ctx, &workspaceID, actor.UserID, models.AuditDocumentUploaded, map[string]any{
		"document_id": doc.ID.String(),
		"title":       doc.Title,
		"mime_type":   doc.MimeType,
		"size_bytes":  len(req.Content),
	})
	return doc, nil
}

func (s *documentServiceImpl) GetDocument(ctx context.Context, workspaceID, documentID uuid.UUID, actor models.Actor) (*models.Document, error) {
	if _, err := s.workspaces.ResolveRead(ctx, workspaceID, actor); err != nil {
		return nil, err
	}
	return s.loadDocument(ctx, workspaceID, documentID)
}

func (s *documentServiceImpl) ListDocuments(ctx context.Context, workspaceID uuid.UUID, filter models.DocumentListFilter, actor models.Actor) (*models.DocumentListResponse, error) {
	if _, err := s.workspaces.ResolveRead(ctx, workspaceID, actor); err != nil {
		return nil, err
	}
	page, size := clampPage(filter.Page, filter.Size)

	query := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("workspace_id = ? AND deleted_at IS NULL", workspaceID)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Tag != "" {
		query = query.Where("? = ANY(tags)", filter.Tag)
	}
	if filter.Search != "" {
		query = query.Where("title ILIKE ?", "%"+filter.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, models.NewDBError("failed to count documents", err)
	}

	var docs []models.Document
	if err := query.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&docs).Error; err != nil {
		return nil, models.NewDBError("failed to list documents", err)
	}

	return &models.DocumentListResponse{
		Documents: docs,
		Total:     total,
		Page:      page,
		Size:      size,
	}, nil
}

func (s *documentServiceImpl) UpdateDocument(ctx context.Context, workspaceID, documentID uuid.UUID, req models.UpdateDocumentRequest, actor models.Actor) (*models.Document, error) {
	if _, err := s.workspaces.ResolveWrite(ctx, workspaceID, actor); err != nil {
		return nil, err
	}
	doc, err := s.loadDocument(ctx, workspaceID, documentID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": time.Now()}
	if req.Title != nil {
		if *req.Title == "" {
			return nil, models.NewValidation("document title cannot be empty")
		}
		updates["title"] = *req.Title
	}
	if req.Tags != nil {
		updates["tags"] = pqStringArray(req.Tags)
	}
	if req.Metadata != nil {
		data, err := models.ConvertToJSON(req.Metadata)
		if err != nil {
			return nil, models.NewValidation("document metadata is not serializable")
		}
		updates["metadata"] = data
	}

	if err := s.db.WithContext(ctx).Model(doc).Updates(updates).Error; err != nil {
		return nil, models.NewDBError("failed to update document", err)
	}
	return doc, nil
}

// DeleteDocument soft-deletes the row. Retrieval excludes deleted
// documents through the join, so the chunks drop out of results
// immediately; the stored object is removed best-effort.
func (s *documentServiceImpl) DeleteDocument(ctx context.Context, workspaceID, documentID uuid.UUID, actor models.Actor) error {
	if _, err := s.workspaces.ResolveWrite(ctx, workspaceID, actor); err != nil {
		return err
	}
	doc, err := s.loadDocument(ctx, workspaceID, documentID)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(doc).
		Updates(map[string]any{"deleted_at": now, "updated_at": now}).Error; err != nil {
		return models.NewDBError("failed to delete document", err)
	}

	if doc.StorageKey != "" {
		if err := s.storage.Delete(ctx, doc.StorageKey); err != nil {
			log.Printf("documents: failed to delete object %s: %v", doc.StorageKey, err)
		}
	}

	s.audit.Record(ctx, &workspaceID, actor.UserID, models.AuditDocumentDeleted, map[string]any{
		"document_id": doc.ID.String(),
		"title":       doc.Title,
	})
	return nil
}

func (s *documentServiceImpl) ReprocessDocument(ctx context.Context, workspaceID, documentID uuid.UUID, actor models.Actor) (*models.Document, error) {
	if _, err := s.workspaces.ResolveWrite(ctx, workspaceID, actor); err != nil {
		return nil, err
	}
	doc, err := s.loadDocument(ctx, workspaceID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == models.DocumentStatusProcessing {
		return nil, models.NewConflict("document is currently processing", doc.ID.String())
	}

	if err := s.db.WithContext(ctx).Model(doc).Updates(map[string]any{
		"status":        models.DocumentStatusPending,
		"error_message": "",
		"updated_at":    time.Now(),
	}).Error; err != nil {
		return nil, models.NewDBError("failed to reset document status", err)
	}
	doc.Status = models.DocumentStatusPending
	doc.ErrorMessage = ""

	if err := s.enqueuer.Enqueue(ctx, doc.ID); err != nil {
		log.Printf("documents: failed to enqueue reprocess job for %s: %v", doc.ID, err)
	}

	s.audit.Record(ctx, &workspaceID, actor.UserID, models.AuditDocumentReprocessed, map[string]any{
		"document_id": doc.ID.String(),
	})
	return doc, nil
}

// ProcessDocument is the worker entry point. It is idempotent by document
// id: the PENDING -> PROCESSING transition is a compare-and-set, so a
// duplicate delivery of the same job observes a non-PENDING status and
// returns without touching anything. On a transient failure the status is
// reset to PENDING before the error is returned, which keeps the CAS open
// for the requeued attempt.
func (s *documentServiceImpl) ProcessDocument(ctx context.Context, documentID uuid.UUID) error {
	var doc models.Document
	err := s.db.WithContext(ctx).Where("id = ?", documentID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("ingest: document %s no longer exists, dropping job", documentID)
		return nil
	}
	if err != nil {
		return models.NewDBError("failed to load document", err)
	}
	if doc.DeletedAt != nil {
		log.Printf("ingest: document %s was deleted, dropping job", documentID)
		return nil
	}
	if doc.Status != models.DocumentStatusPending {
		log.Printf("ingest: document %s is %s, skipping duplicate job", documentID, doc.Status)
		return nil
	}

	claim := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND status = ?", documentID, models.DocumentStatusPending).
		Updates(map[string]any{"status": models.DocumentStatusProcessing, "updated_at": time.Now()})
	if claim.Error != nil {
		return models.NewDBError("failed to claim document", claim.Error)
	}
	if claim.RowsAffected == 0 {
		log.Printf("ingest: lost the claim race for document %s, skipping", documentID)
		return nil
	}

	if err := s.process(ctx, &doc); err != nil {
		if IsTransient(err) {
			if resetErr := s.resetToPending(ctx, documentID); resetErr != nil {
				log.Printf("ingest: failed to reset document %s to PENDING: %v", documentID, resetErr)
			}
		}
		return err
	}
	return nil
}

func (s *documentServiceImpl) process(ctx context.Context, doc *models.Document) error {
	started := time.Now()

	raw, err := s.storage.Get(ctx, doc.StorageKey)
	if err != nil {
		return models.NewStorageError("failed to read stored file", err)
	}

	var text string
	err = s.retry.Do(ctx, doc.ID.String(), func(ctx context.Context) error {
		var exErr error
		text, exErr = s.extractor.Extract(ctx, doc.MimeType, raw)
		return exErr
	})
	if err != nil {
		return err
	}

	pieces := s.chunker.Split(text)
	if len(pieces) == 0 {
		return s.FailDocument(ctx, doc.ID, "document produced no extractable text")
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}

	var vectors [][]float32
	err = s.retry.Do(ctx, doc.ID.String(), func(ctx context.Context) error {
		var emErr error
		vectors, emErr = s.embedder.EmbedDocuments(ctx, texts)
		return emErr
	})
	if err != nil {
		return err
	}
	if len(vectors) != len(pieces) {
		return models.NewEmbeddingError(
			fmt.Sprintf("got %d vectors for %d chunks", len(vectors), len(pieces)), nil)
	}

	now := time.Now()
	chunks := make([]models.Chunk, len(pieces))
	flagged := 0
	for i, p := range pieces {
		assessment := s.detector.Assess(p.Content)
		if len(assessment.SecurityFlags) > 0 {
			flagged++
		}
		chunks[i] = models.Chunk{
			ID:               uuid.New(),
			DocumentID:       doc.ID,
			WorkspaceID:      doc.WorkspaceID,
			ChunkIndex:       p.Index,
			Content:          p.Content,
			Embedding:        pgvector.NewVector(vectors[i]),
			RiskScore:        assessment.RiskScore,
			SecurityFlags:    pqStringArray(assessment.SecurityFlags),
			DetectedPatterns: pqStringArray(assessment.DetectedPatterns),
			CreatedAt:        now,
		}
	}

	// Replace-all in one transaction: a reader sees either the previous
	// chunk set or the new one, never a mix.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", doc.ID).Delete(&models.Chunk{}).Error; err != nil {
			return err
		}
		if err := tx.CreateInBatches(chunks, 200).Error; err != nil {
			return err
		}
		return tx.Model(&models.Document{}).
			Where("id = ?", doc.ID).
			Updates(map[string]any{
				"status":        models.DocumentStatusReady,
				"error_message": "",
				"updated_at":    time.Now(),
			}).Error
	})
	if err != nil {
		return models.NewDBError("failed to persist chunks", err)
	}

	log.Printf("ingest: document %s READY, chunks=%d flagged=%d elapsed=%s",
		doc.ID, len(chunks), flagged, time.Since(started))
	return nil
}

// FailDocument marks the document FAILED with a bounded operator-facing
// message. Used by the worker for terminal outcomes.
func (s *documentServiceImpl) FailDocument(ctx context.Context, documentID uuid.UUID, message string) error {
	if len(message) > 2048 {
		message = message[:2048]
	}
	err := s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", documentID).
		Updates(map[string]any{
			"status":        models.DocumentStatusFailed,
			"error_message": message,
			"updated_at":    time.Now(),
		}).Error
	if err != nil {
		return models.NewDBError("failed to mark document FAILED", err)
	}
	return nil
}

func (s *documentServiceImpl) resetToPending(ctx context.Context, documentID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND status = ?", documentID, models.DocumentStatusProcessing).
		Updates(map[string]any{"status": models.DocumentStatusPending, "updated_at": time.Now()}).Error
}

func (s *documentServiceImpl) loadDocument(ctx context.Context, workspaceID, documentID uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ? AND deleted_at IS NULL", documentID, workspaceID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFound(documentID.String())
	}
	if err != nil {
		return nil, models.NewDBError("failed to load document", err)
	}
	return &doc, nil
}

func (s *documentServiceImpl) mimeAllowed(mimeType string) bool {
	for _, m := range s.ingest.AllowedMimes {
		if m == mimeType {
			return true
		}
	}
	return false
}

// pqStringArray keeps empty slices as empty arrays rather than NULL.
func pqStringArray(values []string) pq.StringArray {
	if values == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(values)
}

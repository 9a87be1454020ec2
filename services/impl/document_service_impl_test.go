package impl

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/docstack-rag/config"
	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

// The ingestion tests run against sqlite, so the schema below mirrors the
// Postgres tables with portable column types. Array and vector values are
// stored as their driver literals, which round-trip fine through TEXT.
const testDocumentsDDL = `
CREATE TABLE documents (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	title TEXT NOT NULL,
	source TEXT,
	file_name TEXT,
	mime_type TEXT,
	storage_key TEXT,
	status TEXT NOT NULL DEFAULT 'PENDING',
	error_message TEXT,
	tags TEXT,
	metadata TEXT,
	uploader_user_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	deleted_at DATETIME
)`

const testChunksDDL = `
CREATE TABLE chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding TEXT,
	risk_score REAL NOT NULL DEFAULT 0,
	security_flags TEXT,
	detected_patterns TEXT,
	metadata TEXT,
	created_at DATETIME NOT NULL
)`

type stubExtractor struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (e *stubExtractor) Extract(context.Context, string, []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.text, e.err
}

func (e *stubExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type captureEnqueuer struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (q *captureEnqueuer) Enqueue(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *captureEnqueuer) enqueued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}

type documentTestEnv struct {
	db        *gorm.DB
	svc       services.DocumentService
	storage   services.ObjectStorage
	extractor *stubExtractor
	enqueuer  *captureEnqueuer
	audit     *fakeAudit
	ws        *models.Workspace
}

func newDocumentTestEnv(t *testing.T) *documentTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ingest.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(testDocumentsDDL).Error)
	require.NoError(t, db.Exec(testChunksDDL).Error)

	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	chunker, err := NewChunker(40, 8)
	require.NoError(t, err)

	env := &documentTestEnv{
		db:        db,
		storage:   storage,
		extractor: &stubExtractor{text: "contenido de prueba"},
		enqueuer:  &captureEnqueuer{},
		audit:     &fakeAudit{},
		ws:        activeWorkspace(),
	}
	env.svc = NewDocumentService(
		db, &fakeWorkspaces{workspace: env.ws}, env.audit,
		storage, env.extractor, fakeEmbedder{},
		chunker, NewInjectionDetector(),
		fastPolicy(2), env.enqueuer,
		config.IngestConfig{
			ChunkSize:      40,
			ChunkOverlap:   8,
			MaxUploadBytes: 1 << 20,
			AllowedMimes:   []string{"text/plain", "application/pdf"},
		},
	)
	return env
}

func (env *documentTestEnv) upload(t *testing.T, actor models.Actor) *models.Document {
	t.Helper()
	doc, err := env.svc.UploadDocument(context.Background(), env.ws.ID, models.UploadDocumentRequest{
		Title:    "Contrato marco",
		FileName: "contrato.txt",
		MimeType: "text/plain",
		Content:  []byte("cuerpo del archivo"),
	}, actor)
	require.NoError(t, err)
	return doc
}

func (env *documentTestEnv) reload(t *testing.T, id uuid.UUID) models.Document {
	t.Helper()
	var doc models.Document
	require.NoError(t, env.db.Where("id = ?", id).First(&doc).Error)
	return doc
}

func (env *documentTestEnv) setStatus(t *testing.T, id uuid.UUID, status models.DocumentStatus) {
	t.Helper()
	require.NoError(t, env.db.Model(&models.Document{}).
		Where("id = ?", id).Update("status", status).Error)
}

func (env *documentTestEnv) chunkCount(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&models.Chunk{}).
		Where("document_id = ?", id).Count(&n).Error)
	return n
}

func TestDocumentService_UploadDocument(t *testing.T) {
	ctx := context.Background()
	actor := models.Actor{UserID: "user-owner", Role: models.RoleEmployee}

	t.Run("stores the file, creates a PENDING row and enqueues", func(t *testing.T) {
		env := newDocumentTestEnv(t)

		doc := env.upload(t, actor)
		assert.Equal(t, models.DocumentStatusPending, doc.Status)
		assert.Equal(t, "Contrato marco", doc.Title)

		data, err := env.storage.Get(ctx, doc.StorageKey)
		require.NoError(t, err)
		assert.Equal(t, []byte("cuerpo del archivo"), data)

		assert.Equal(t, []uuid.UUID{doc.ID}, env.enqueuer.enqueued())
		assert.Contains(t, env.audit.recorded(), models.AuditDocumentUploaded)
	})

	t.Run("title falls back to the file name", func(t *testing.T) {
		env := newDocumentTestEnv(t)

		doc, err := env.svc.UploadDocument(ctx, env.ws.ID, models.UploadDocumentRequest{
			FileName: "acta.txt",
			MimeType: "text/plain",
			Content:  []byte("x"),
		}, actor)
		require.NoError(t, err)
		assert.Equal(t, "acta.txt", doc.Title)
	})

	t.Run("empty files are rejected", func(t *testing.T) {
		env := newDocumentTestEnv(t)

		_, err := env.svc.UploadDocument(ctx, env.ws.ID, models.UploadDocumentRequest{
			FileName: "vacio.txt",
			MimeType: "text/plain",
		}, actor)
		assert.Equal(t, models.CodeValidation, models.CodeOf(err))
	})

	t.Run("disallowed mime types are rejected", func(t *testing.T) {
		env := newDocumentTestEnv(t)

		_, err := env.svc.UploadDocument(ctx, env.ws.ID, models.UploadDocumentRequest{
			FileName: "foto.png",
			MimeType: "image/png",
			Content:  []byte("..."),
		}, actor)
		assert.Equal(t, models.CodeValidation, models.CodeOf(err))
	})
}

func TestDocumentService_ProcessDocument(t *testing.T) {
	ctx := context.Background()
	actor := models.Actor{UserID: "user-owner", Role: models.RoleEmployee}

	t.Run("pending document transitions to READY with its chunks", func(t *testing.T) {
		env := newDocumentTestEnv(t)
		env.extractor.text = "El contrato establece un plazo de entrega de treinta días hábiles para todos los pedidos nacionales."
		doc := env.upload(t, actor)

		require.NoError(t, env.svc.ProcessDocument(ctx, doc.ID))

		got := env.reload(t, doc.ID)
		assert.Equal(t, models.DocumentStatusReady, got.Status)
		assert.Empty(t, got.ErrorMessage)
		assert.Greater(t, env.chunkCount(t, doc.ID), int64(1))

		var chunks []models.Chunk
		require.NoError(t, env.db.Where("document_id = ?", doc.ID).
			Order("chunk_index ASC").Find(&chunks).Error)
		for i, c := range chunks {
			assert.Equal(t, i, c.ChunkIndex)
			assert.Equal(t, env.ws.ID, c.WorkspaceID)
		}
	})

	t.Run("duplicate delivery is a no-op after READY", func(t *testing.T) {
		env := newDocumentTestEnv(t)
		doc := env.upload(t, actor)

		require.NoError(t, env.svc.ProcessDocument(ctx, doc.ID))
		require.Equal(t, 1, env.extractor.callCount())

		require.NoError(t, env.svc.ProcessDocument(ctx, doc.ID))
		assert.Equal(t, 1, env.extractor.callCount())
		assert.Equal(t, models.DocumentStatusReady, env.reload(t, doc.ID).Status)
	})

	t.Run("document already claimed by another worker is skipped", func(t *testing.T) {
		env := newDocumentTestEnv(t)
		doc := env.upload(t, actor)
		env.setStatus(t, doc.ID, models.DocumentStatusProcessing)

		require.NoError(t, env.svc.ProcessDocument(ctx, doc.ID))
		assert.Zero(t, env.extractor.callCount())
		assert.Equal(t, models.DocumentStatusProcessing, env.reload(t, doc.ID).Status)
	})

	t.Run("empty extraction marks the document FAILED", func(t *testing.T) {
		env := newDocumentTestEnv(t)
		doc := env.upload(t, actor)
		env.extractor.text = "   \n\t  "

		// Terminal outcome, so the job is still acked.
		require.NoError(t, env.svc.ProcessDocument(ctx, doc.ID))

		got := env.reload(t, doc.ID)
		assert.Equal(t, models.DocumentStatusFailed, got.Status)
		assert.Equal(t, "document produced no extractable text", got.ErrorMessage)
		assert.Zero(t, env.chunkCount(t, doc.ID))
	})

	t.Run("transient extraction failure resets the document to PENDING", func(t *testing.T) {
		env := newDocumentTestEnv(t)
		doc := env.upload(t, actor)
		env.extractor.err = &HTTPStatusError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "extractor unavailable",
		}

		err := env.svc.ProcessDocument(ctx, doc.ID)
		require.Error(t, err)
		assert.True(t, IsTransient(err))

		// The retry envelope exhausted its attempts before giving up.
		assert.Equal(t, 2, env.extractor.callCount())

		// The CAS is open again for the requeued attempt.
		assert.Equal(t, models.DocumentStatusPending, env.reload(t, doc.ID).Status)
	})

	t.Run("deleted document drops the job", func(t *testing.T) {
		env := newDocumentTestEnv(t)
		doc := env.upload(t, actor)
		require.NoError(t, env.svc.DeleteDocument(ctx, env.ws.ID, doc.ID, actor))

		require.NoError(t, env.svc.ProcessDocument(ctx, doc.ID))
		assert.Zero(t, env.extractor.callCount())
	})
}

func TestDocumentService_ReprocessDocument(t *testing.T) {
	ctx := context.Background()
	actor := models.Actor{UserID: "user-owner", Role: models.RoleEmployee}

	t.Run("conflicts while the document is processing", func(t *testing.T) {
		env := newDocumentTestEnv(t)
		doc := env.upload(t, actor)
		env.setStatus(t, doc.ID, models.DocumentStatusProcessing)

		_, err := env.svc.ReprocessDocument(ctx, env.ws.ID, doc.ID, actor)
		assert.Equal(t, models.CodeConflict, models.CodeOf(err))
		assert.Equal(t, models.DocumentStatusProcessing, env.reload(t, doc.ID).Status)
	})

	t.Run("failed document resets to PENDING and re-enqueues", func(t *testing.T) {
		env := newDocumentTestEnv(t)
		doc := env.upload(t, actor)
		env.extractor.text = " "
		require.NoError(t, env.svc.ProcessDocument(ctx, doc.ID))
		require.Equal(t, models.DocumentStatusFailed, env.reload(t, doc.ID).Status)

		reset, err := env.svc.ReprocessDocument(ctx, env.ws.ID, doc.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, models.DocumentStatusPending, reset.Status)
		assert.Empty(t, reset.ErrorMessage)

		got := env.reload(t, doc.ID)
		assert.Equal(t, models.DocumentStatusPending, got.Status)
		assert.Empty(t, got.ErrorMessage)

		// Upload enqueued once, reprocess enqueued again.
		assert.Equal(t, []uuid.UUID{doc.ID, doc.ID}, env.enqueuer.enqueued())
		assert.Contains(t, env.audit.recorded(), models.AuditDocumentReprocessed)
	})
}

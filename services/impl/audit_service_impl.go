package impl

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

type auditServiceImpl struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) services.AuditService {
	return &auditServiceImpl{db: db}
}

// Record appends an audit event. Failures are logged and swallowed: the
// trail is best-effort and never fails the operation that produced it.
func (s *auditServiceImpl) Record(ctx context.Context, workspaceID *uuid.UUID, actorUserID string, kind models.AuditKind, payload map[string]any) {
	event := &models.AuditEvent{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		ActorUserID: actorUserID,
		Kind:        kind,
		CreatedAt:   time.Now(),
	}

	if payload != nil {
		data, err := models.ConvertToJSON(payload)
		if err != nil {
			log.Printf("audit: failed to encode payload for %s: %v", kind, err)
		} else {
			event.Payload = data
		}
	}

	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		log.Printf("audit: failed to record %s: %v", kind, err)
	}
}

func (s *auditServiceImpl) ListEvents(ctx context.Context, actor models.Actor, workspaceID *uuid.UUID, page, size int) (*models.AuditListResponse, error) {
	if !actor.IsAdmin() {
		return nil, models.NewForbidden("audit trail is admin only")
	}
	page, size = clampPage(page, size)

	query := s.db.WithContext(ctx).Model(&models.AuditEvent{})
	if workspaceID != nil {
		query = query.Where("workspace_id = ?", *workspaceID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, models.NewDBError("failed to count audit events", err)
	}

	var events []models.AuditEvent
	if err := query.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&events).Error; err != nil {
		return nil, models.NewDBError("failed to list audit events", err)
	}

	return &models.AuditListResponse{
		Events: events,
		Total:  total,
		Page:   page,
		Size:   size,
	}, nil
}

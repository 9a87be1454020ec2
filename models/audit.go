package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AuditKind string

const (
	AuditWorkspaceCreated    AuditKind = "workspace.created"
	AuditWorkspaceUpdated    AuditKind = "workspace.updated"
	AuditWorkspaceArchived   AuditKind = "workspace.archived"
	AuditWorkspaceACLGranted AuditKind = "workspace.acl_granted"
	AuditWorkspaceACLRevoked AuditKind = "workspace.acl_revoked"
	AuditDocumentUploaded    AuditKind = "document.uploaded"
	AuditDocumentDeleted     AuditKind = "document.deleted"
	AuditDocumentReprocessed AuditKind = "document.reprocessed"
	AuditQueryAnswered       AuditKind = "query.answered"
	AuditQueryDenied         AuditKind = "query.denied"
)

// AuditEvent is an append-only trace record. Writes are best-effort and
// never fail the operation that produced them.
type AuditEvent struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	WorkspaceID *uuid.UUID     `json:"workspace_id,omitempty" gorm:"type:uuid;index"`
	ActorUserID string         `json:"actor_user_id,omitempty" gorm:"type:varchar(255)"`
	Kind        AuditKind      `json:"kind" gorm:"type:varchar(100);not null;index"`
	Payload     datatypes.JSON `json:"payload,omitempty" gorm:"type:jsonb;default:'{}'"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null;default:now()"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

type AuditListResponse struct {
	Events []AuditEvent `json:"events"`
	Total  int64        `json:"total"`
	Page   int          `json:"page"`
	Size   int          `json:"size"`
}

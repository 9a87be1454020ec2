package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/docstack-rag/models"
)

type WorkspaceService interface {
	CreateWorkspace(ctx context.Context, req models.CreateWorkspaceRequest, actor models.Actor) (*models.Workspace, error)
	GetWorkspace(ctx context.Context, id uuid.UUID, actor models.Actor) (*models.Workspace, error)
	ListWorkspaces(ctx context.Context, actor models.Actor, page, size int) (*models.WorkspaceListResponse, error)
	UpdateWorkspace(ctx context.Context, id uuid.UUID, req models.UpdateWorkspaceRequest, actor models.Actor) (*models.Workspace, error)
	ArchiveWorkspace(ctx context.Context, id uuid.UUID, actor models.Actor) error

	GrantAccess(ctx context.Context, workspaceID uuid.UUID, userID string, actor models.Actor) error
	RevokeAccess(ctx context.Context, workspaceID uuid.UUID, userID string, actor models.Actor) error
	ListAccess(ctx context.Context, workspaceID uuid.UUID, actor models.Actor) ([]models.WorkspaceACL, error)

	// ResolveRead loads the workspace and its ACL rows and applies the
	// access policy. Denials on hidden workspaces surface as NOT_FOUND.
	ResolveRead(ctx context.Context, workspaceID uuid.UUID, actor models.Actor) (*models.Workspace, error)
	ResolveWrite(ctx context.Context, workspaceID uuid.UUID, actor models.Actor) (*models.Workspace, error)
}

type AuditService interface {
	// Record is best-effort: failures are logged, never propagated.
	Record(ctx context.Context, workspaceID *uuid.UUID, actorUserID string, kind models.AuditKind, payload map[string]any)
	ListEvents(ctx context.Context, actor models.Actor, workspaceID *uuid.UUID, page, size int) (*models.AuditListResponse, error)
}

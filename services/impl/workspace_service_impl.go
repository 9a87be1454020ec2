package impl

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

const maxPageSize = 100

type workspaceServiceImpl struct {
	db    *gorm.DB
	audit services.AuditService
}

func NewWorkspaceService(db *gorm.DB, audit services.AuditService) services.WorkspaceService {
	return &workspaceServiceImpl{
		db:    db,
		audit: audit,
	}
}

func (s *workspaceServiceImpl) CreateWorkspace(ctx context.Context, req models.CreateWorkspaceRequest, actor models.Actor) (*models.Workspace, error) {
	if req.Name == "" {
		return nil, models.NewValidation("workspace name is required")
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = models.VisibilityPrivate
	}
	if !models.ValidVisibility(visibility) {
		return nil, models.NewValidation("invalid workspace visibility")
	}
	if req.FilterMode != "" && !models.ValidFilterMode(req.FilterMode) {
		return nil, models.NewValidation("filter_mode must be off, downrank or exclude")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.Workspace{}).
		Where("owner_user_id = ? AND name = ?", actor.UserID, req.Name).
		Count(&existing).Error; err != nil {
		return nil, models.NewDBError("failed to check workspace name", err)
	}
	if existing > 0 {
		return nil, models.NewConflict("a workspace with this name already exists", req.Name)
	}

	ws := &models.Workspace{
		ID:          uuid.New(),
		Name:        req.Name,
		OwnerUserID: actor.UserID,
		Visibility:  visibility,
		FilterMode:  req.FilterMode,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(ws).Error; err != nil {
		return nil, models.NewDBError("failed to create workspace", err)
	}

	s.audit.Record(ctx, &ws.ID, actor.UserID, models.AuditWorkspaceCreated, map[string]any{
		"name":       ws.Name,
		"visibility": ws.Visibility,
	})
	return ws, nil
}

func (s *workspaceServiceImpl) GetWorkspace(ctx context.Context, id uuid.UUID, actor models.Actor) (*models.Workspace, error) {
	return s.ResolveRead(ctx, id, actor)
}

func (s *workspaceServiceImpl) ListWorkspaces(ctx context.Context, actor models.Actor, page, size int) (*models.WorkspaceListResponse, error) {
	page, size = clampPage(page, size)

	query := s.db.WithContext(ctx).Model(&models.Workspace{}).Where("archived_at IS NULL")
	if !actor.IsAdmin() {
		// Owned, org-readable, or granted through the ACL of a shared
		// workspace.
		query = query.Where(
			"owner_user_id = ? OR visibility = ? OR (visibility = ? AND id IN (SELECT workspace_id FROM workspace_acl WHERE user_id = ?))",
			actor.UserID, models.VisibilityOrgRead, models.VisibilityShared, actor.UserID,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, models.NewDBError("failed to count workspaces", err)
	}

	var workspaces []models.Workspace
	if err := query.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&workspaces).Error; err != nil {
		return nil, models.NewDBError("failed to list workspaces", err)
	}

	return &models.WorkspaceListResponse{
		Workspaces: workspaces,
		Total:      total,
		Page:       page,
		Size:       size,
	}, nil
}

func (s *workspaceServiceImpl) UpdateWorkspace(ctx context.Context, id uuid.UUID, req models.UpdateWorkspaceRequest, actor models.Actor) (*models.Workspace, error) {
	ws, acl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckManage(actor, ws, acl); err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": time.Now()}
	if req.Name != nil {
		if *req.Name == "" {
			return nil, models.NewValidation("workspace name cannot be empty")
		}
		var existing int64
		if err := s.db.WithContext(ctx).Model(&models.Workspace{}).
			Where("owner_user_id = ? AND name = ? AND id <> ?", ws.OwnerUserID, *req.Name, ws.ID).
			Count(&existing).Error; err != nil {
			return nil, models.NewDBError("failed to check workspace name", err)
		}
		if existing > 0 {
			return nil, models.NewConflict("a workspace with this name already exists", *req.Name)
		}
		updates["name"] = *req.Name
	}
	if req.Visibility != nil {
		if !models.ValidVisibility(*req.Visibility) {
			return nil, models.NewValidation("invalid workspace visibility")
		}
		updates["visibility"] = *req.Visibility
	}
	if req.FilterMode != nil {
		// Empty clears the override back to the service-wide default.
		if *req.FilterMode != "" && !models.ValidFilterMode(*req.FilterMode) {
			return nil, models.NewValidation("filter_mode must be off, downrank or exclude")
		}
		updates["filter_mode"] = *req.FilterMode
	}

	if err := s.db.WithContext(ctx).Model(ws).Updates(updates).Error; err != nil {
		return nil, models.NewDBError("failed to update workspace", err)
	}

	s.audit.Record(ctx, &ws.ID, actor.UserID, models.AuditWorkspaceUpdated, map[string]any{
		"updates": updates,
	})
	return ws, nil
}

func (s *workspaceServiceImpl) ArchiveWorkspace(ctx context.Context, id uuid.UUID, actor models.Actor) error {
	ws, acl, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if ws.IsArchived() {
		return models.NewConflict("workspace is already archived", ws.ID.String())
	}
	if err := CheckManage(actor, ws, acl); err != nil {
		return err
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(ws).
		Updates(map[string]any{"archived_at": now, "updated_at": now}).Error; err != nil {
		return models.NewDBError("failed to archive workspace", err)
	}

	s.audit.Record(ctx, &ws.ID, actor.UserID, models.AuditWorkspaceArchived, nil)
	return nil
}

func (s *workspaceServiceImpl) GrantAccess(ctx context.Context, workspaceID uuid.UUID, userID string, actor models.Actor) error {
	ws, acl, err := s.load(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := CheckManage(actor, ws, acl); err != nil {
		return err
	}
	if ws.Visibility != models.VisibilityShared {
		return models.NewValidation("access grants only apply to SHARED workspaces")
	}

	grant := &models.WorkspaceACL{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Access:      models.ACLAccessRead,
		CreatedAt:   time.Now(),
	}
	err = s.db.WithContext(ctx).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		FirstOrCreate(grant).Error
	if err != nil {
		return models.NewDBError("failed to grant access", err)
	}

	s.audit.Record(ctx, &workspaceID, actor.UserID, models.AuditWorkspaceACLGranted, map[string]any{
		"user_id": userID,
	})
	return nil
}

func (s *workspaceServiceImpl) RevokeAccess(ctx context.Context, workspaceID uuid.UUID, userID string, actor models.Actor) error {
	ws, acl, err := s.load(ctx, workspaceID)
	if err != nil {
		return err
	}
	if err := CheckManage(actor, ws, acl); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		Delete(&models.WorkspaceACL{}).Error; err != nil {
		return models.NewDBError("failed to revoke access", err)
	}

	s.audit.Record(ctx, &workspaceID, actor.UserID, models.AuditWorkspaceACLRevoked, map[string]any{
		"user_id": userID,
	})
	return nil
}

func (s *workspaceServiceImpl) ListAccess(ctx context.Context, workspaceID uuid.UUID, actor models.Actor) ([]models.WorkspaceACL, error) {
	ws, acl, err := s.load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := CheckManage(actor, ws, acl); err != nil {
		return nil, err
	}
	return acl, nil
}

func (s *workspaceServiceImpl) ResolveRead(ctx context.Context, workspaceID uuid.UUID, actor models.Actor) (*models.Workspace, error) {
	ws, acl, err := s.load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := CheckRead(actor, ws, acl); err != nil {
		return nil, err
	}
	return ws, nil
}

func (s *workspaceServiceImpl) ResolveWrite(ctx context.Context, workspaceID uuid.UUID, actor models.Actor) (*models.Workspace, error) {
	ws, acl, err := s.load(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := CheckWrite(actor, ws, acl); err != nil {
		return nil, err
	}
	return ws, nil
}

// load fetches the workspace and its ACL rows in one round each; every
// policy decision in this service goes through it.
func (s *workspaceServiceImpl) load(ctx context.Context, id uuid.UUID) (*models.Workspace, []models.WorkspaceACL, error) {
	var ws models.Workspace
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&ws).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, models.NewNotFound(id.String())
		}
		return nil, nil, models.NewDBError("failed to load workspace", err)
	}

	var acl []models.WorkspaceACL
	if err := s.db.WithContext(ctx).Where("workspace_id = ?", id).Find(&acl).Error; err != nil {
		return nil, nil, models.NewDBError("failed to load workspace ACL", err)
	}
	return &ws, acl, nil
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

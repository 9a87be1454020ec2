package models

import (
	"time"

	"github.com/google/uuid"
)

type Visibility string
type GlobalRole string
type ACLAccess string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityOrgRead Visibility = "ORG_READ"
	VisibilityShared  Visibility = "SHARED"

	RoleAdmin    GlobalRole = "admin"
	RoleEmployee GlobalRole = "employee"

	ACLAccessRead ACLAccess = "READ"
)

// Actor is the resolved identity of the request originator.
type Actor struct {
	UserID string     `json:"user_id"`
	Role   GlobalRole `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Workspace isolates documents, chunks and conversations. (OwnerUserID, Name)
// is unique; archival is a terminal soft state. An empty FilterMode means
// the workspace inherits the service-wide injection filter default.
type Workspace struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name        string     `json:"name" gorm:"type:varchar(255);not null;uniqueIndex:idx_workspaces_owner_name,priority:2"`
	OwnerUserID string     `json:"owner_user_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_workspaces_owner_name,priority:1"`
	Visibility  Visibility `json:"visibility" gorm:"type:varchar(20);not null;default:'PRIVATE'"`
	FilterMode  FilterMode `json:"filter_mode,omitempty" gorm:"type:varchar(16);not null;default:''"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"not null;default:now()"`
}

func (Workspace) TableName() string {
	return "workspaces"
}

func (w *Workspace) IsArchived() bool {
	return w.ArchivedAt != nil
}

// WorkspaceACL is a per-user read grant. Only meaningful for SHARED
// workspaces; rows on other visibilities are ignored by the policy.
type WorkspaceACL struct {
	WorkspaceID uuid.UUID `json:"workspace_id" gorm:"type:uuid;primary_key"`
	UserID      string    `json:"user_id" gorm:"type:varchar(255);primary_key"`
	Access      ACLAccess `json:"access" gorm:"type:varchar(20);not null;default:'READ'"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (WorkspaceACL) TableName() string {
	return "workspace_acl"
}

type CreateWorkspaceRequest struct {
	Name       string     `json:"name" validate:"required,min=1,max=255"`
	Visibility Visibility `json:"visibility"`
	FilterMode FilterMode `json:"filter_mode,omitempty"`
}

type UpdateWorkspaceRequest struct {
	Name       *string     `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Visibility *Visibility `json:"visibility,omitempty"`
	FilterMode *FilterMode `json:"filter_mode,omitempty"`
}

type WorkspaceListResponse struct {
	Workspaces []Workspace `json:"workspaces"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	Size       int         `json:"size"`
}

// ValidVisibility reports whether v is one of the three workspace modes.
func ValidVisibility(v Visibility) bool {
	switch v {
	case VisibilityPrivate, VisibilityOrgRead, VisibilityShared:
		return true
	}
	return false
}

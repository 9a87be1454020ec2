package impl

import (
	"github.com/docstack-rag/models"
)

// Capability is the access level the policy grants an actor on a
// workspace.
type Capability int

const (
	CapabilityNone Capability = iota
	CapabilityRead
	CapabilityWrite
	CapabilityManage
)

// ResolveCapability is the central access decision. Admins and owners get
// full access; employees get read on ORG_READ workspaces and on SHARED
// workspaces where an ACL row grants them; everyone else gets nothing.
// Archival removes write/manage for everyone except admin reads for audit.
func ResolveCapability(actor models.Actor, ws *models.Workspace, acl []models.WorkspaceACL) Capability {
	cap := CapabilityNone

	switch {
	case actor.IsAdmin(), ws.OwnerUserID == actor.UserID:
		cap = CapabilityManage
	case ws.Visibility == models.VisibilityOrgRead:
		cap = CapabilityRead
	case ws.Visibility == models.VisibilityShared:
		for _, grant := range acl {
			if grant.UserID == actor.UserID && grant.Access == models.ACLAccessRead {
				cap = CapabilityRead
				break
			}
		}
	}

	if ws.IsArchived() {
		switch {
		case actor.IsAdmin():
			// Admins keep read for audit purposes only.
			if cap > CapabilityRead {
				cap = CapabilityRead
			}
		case cap >= CapabilityRead && ws.OwnerUserID == actor.UserID:
			cap = CapabilityRead
		default:
			cap = CapabilityNone
		}
	}

	return cap
}

// CheckRead returns nil when the actor may read the workspace. Denials on
// workspaces the actor cannot even see surface as NOT_FOUND so existence
// is not revealed; denials on visible workspaces are FORBIDDEN.
func CheckRead(actor models.Actor, ws *models.Workspace, acl []models.WorkspaceACL) error {
	if ResolveCapability(actor, ws, acl) >= CapabilityRead {
		return nil
	}
	return denyError(actor, ws)
}

// CheckWrite returns nil when the actor may write documents and run
// mutations in the workspace.
func CheckWrite(actor models.Actor, ws *models.Workspace, acl []models.WorkspaceACL) error {
	if ResolveCapability(actor, ws, acl) >= CapabilityWrite {
		return nil
	}
	if ws.IsArchived() && (actor.IsAdmin() || ws.OwnerUserID == actor.UserID) {
		return models.NewConflict("workspace is archived", ws.ID.String())
	}
	return denyError(actor, ws)
}

// CheckManage returns nil when the actor may manage ACLs and workspace
// settings.
func CheckManage(actor models.Actor, ws *models.Workspace, acl []models.WorkspaceACL) error {
	if ResolveCapability(actor, ws, acl) >= CapabilityManage {
		return nil
	}
	if ws.IsArchived() && (actor.IsAdmin() || ws.OwnerUserID == actor.UserID) {
		return models.NewConflict("workspace is archived", ws.ID.String())
	}
	return denyError(actor, ws)
}

// denyError hides PRIVATE and un-granted SHARED workspaces behind
// NOT_FOUND; ORG_READ workspaces are visible, so denial is FORBIDDEN.
func denyError(actor models.Actor, ws *models.Workspace) error {
	if ws.Visibility == models.VisibilityOrgRead {
		return models.NewForbidden("operation not permitted on this workspace")
	}
	return models.NewNotFound(ws.ID.String())
}

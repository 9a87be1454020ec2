package impl

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/docstack-rag/models"
)

var (
	owner    = models.Actor{UserID: "user-owner", Role: models.RoleEmployee}
	stranger = models.Actor{UserID: "user-stranger", Role: models.RoleEmployee}
	granted  = models.Actor{UserID: "user-granted", Role: models.RoleEmployee}
	admin    = models.Actor{UserID: "user-admin", Role: models.RoleAdmin}
)

func workspaceWith(visibility models.Visibility, archived bool) *models.Workspace {
	ws := &models.Workspace{
		ID:          uuid.New(),
		Name:        "ventas",
		OwnerUserID: owner.UserID,
		Visibility:  visibility,
	}
	if archived {
		now := time.Now()
		ws.ArchivedAt = &now
	}
	return ws
}

func aclFor(ws *models.Workspace, userID string) []models.WorkspaceACL {
	return []models.WorkspaceACL{{
		WorkspaceID: ws.ID,
		UserID:      userID,
		Access:      models.ACLAccessRead,
	}}
}

func TestResolveCapability(t *testing.T) {
	t.Run("owner manages own workspace", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityPrivate, false)
		assert.Equal(t, CapabilityManage, ResolveCapability(owner, ws, nil))
	})

	t.Run("admin manages any workspace", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityPrivate, false)
		assert.Equal(t, CapabilityManage, ResolveCapability(admin, ws, nil))
	})

	t.Run("stranger gets nothing on private", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityPrivate, false)
		assert.Equal(t, CapabilityNone, ResolveCapability(stranger, ws, nil))
	})

	t.Run("org read grants read to any employee", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityOrgRead, false)
		assert.Equal(t, CapabilityRead, ResolveCapability(stranger, ws, nil))
	})

	t.Run("shared grants read only through the ACL", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityShared, false)
		assert.Equal(t, CapabilityRead, ResolveCapability(granted, ws, aclFor(ws, granted.UserID)))
		assert.Equal(t, CapabilityNone, ResolveCapability(stranger, ws, aclFor(ws, granted.UserID)))
	})

	t.Run("archival caps owner and admin at read", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityPrivate, true)
		assert.Equal(t, CapabilityRead, ResolveCapability(owner, ws, nil))
		assert.Equal(t, CapabilityRead, ResolveCapability(admin, ws, nil))
	})

	t.Run("archival removes everyone else's access", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityOrgRead, true)
		assert.Equal(t, CapabilityNone, ResolveCapability(stranger, ws, nil))

		shared := workspaceWith(models.VisibilityShared, true)
		assert.Equal(t, CapabilityNone, ResolveCapability(granted, shared, aclFor(shared, granted.UserID)))
	})
}

func TestCheckWrite(t *testing.T) {
	t.Run("owner writes on active workspace", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityPrivate, false)
		assert.NoError(t, CheckWrite(owner, ws, nil))
	})

	t.Run("reader cannot write", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityOrgRead, false)
		err := CheckWrite(stranger, ws, nil)
		assert.Equal(t, models.CodeForbidden, models.CodeOf(err))
	})

	t.Run("archived workspace returns conflict for owner", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityPrivate, true)
		err := CheckWrite(owner, ws, nil)
		assert.Equal(t, models.CodeConflict, models.CodeOf(err))
	})
}

func TestDenialHidesExistence(t *testing.T) {
	t.Run("private workspace denial is NOT_FOUND", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityPrivate, false)
		err := CheckRead(stranger, ws, nil)
		assert.Equal(t, models.CodeNotFound, models.CodeOf(err))
	})

	t.Run("ungranted shared workspace denial is NOT_FOUND", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityShared, false)
		err := CheckRead(stranger, ws, nil)
		assert.Equal(t, models.CodeNotFound, models.CodeOf(err))
	})

	t.Run("org read workspace manage denial is FORBIDDEN", func(t *testing.T) {
		ws := workspaceWith(models.VisibilityOrgRead, false)
		err := CheckManage(stranger, ws, nil)
		assert.Equal(t, models.CodeForbidden, models.CodeOf(err))
	})
}

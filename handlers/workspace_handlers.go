package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

type WorkspaceHandlers struct {
	workspaceService services.WorkspaceService
	auditService     services.AuditService
}

func NewWorkspaceHandlers(workspaceService services.WorkspaceService, auditService services.AuditService) *WorkspaceHandlers {
	return &WorkspaceHandlers{
		workspaceService: workspaceService,
		auditService:     auditService,
	}
}

func (h *WorkspaceHandlers) CreateWorkspace(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}

	var req models.CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ws, err := h.workspaceService.CreateWorkspace(c.Request.Context(), req, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ws)
}

func (h *WorkspaceHandlers) GetWorkspace(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	ws, err := h.workspaceService.GetWorkspace(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *WorkspaceHandlers) ListWorkspaces(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	page, size := parsePagination(c)

	resp, err := h.workspaceService.ListWorkspaces(c.Request.Context(), actor, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WorkspaceHandlers) UpdateWorkspace(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.UpdateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ws, err := h.workspaceService.UpdateWorkspace(c.Request.Context(), id, req, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *WorkspaceHandlers) ArchiveWorkspace(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.workspaceService.ArchiveWorkspace(c.Request.Context(), id, actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Workspace archived"})
}

type grantRequest struct {
	UserID string `json:"user_id"`
}

func (h *WorkspaceHandlers) GrantAccess(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := h.workspaceService.GrantAccess(c.Request.Context(), id, req.UserID, actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Access granted"})
}

func (h *WorkspaceHandlers) RevokeAccess(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := h.workspaceService.RevokeAccess(c.Request.Context(), id, userID, actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Access revoked"})
}

func (h *WorkspaceHandlers) ListAccess(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	acl, err := h.workspaceService.ListAccess(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": acl})
}

// ListAuditEvents is admin only; optional workspace_id query filter.
func (h *WorkspaceHandlers) ListAuditEvents(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	page, size := parsePagination(c)

	var workspaceID *uuid.UUID
	if raw := c.Query("workspace_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace_id"})
			return
		}
		workspaceID = &id
	}

	resp, err := h.auditService.ListEvents(c.Request.Context(), actor, workspaceID, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

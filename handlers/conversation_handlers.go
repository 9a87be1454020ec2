package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

type ConversationHandlers struct {
	conversationService services.ConversationService
	feedbackService     services.FeedbackService
}

func NewConversationHandlers(conversationService services.ConversationService, feedbackService services.FeedbackService) *ConversationHandlers {
	return &ConversationHandlers{
		conversationService: conversationService,
		feedbackService:     feedbackService,
	}
}

func (h *ConversationHandlers) CreateConversation(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	workspaceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	req.WorkspaceID = workspaceID

	conv, err := h.conversationService.CreateConversation(c.Request.Context(), req, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *ConversationHandlers) ListConversations(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	workspaceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	page, size := parsePagination(c)

	convs, err := h.conversationService.ListConversations(c.Request.Context(), workspaceID, actor, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h *ConversationHandlers) GetMessages(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(c, "conv_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	messages, err := h.conversationService.GetMessages(c.Request.Context(), conversationID, actor, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *ConversationHandlers) ClearConversation(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(c, "conv_id")
	if !ok {
		return
	}

	if err := h.conversationService.ClearConversation(c.Request.Context(), conversationID, actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation cleared"})
}

func (h *ConversationHandlers) Vote(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	messageID, ok := parseUUIDParam(c, "msg_id")
	if !ok {
		return
	}

	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.feedbackService.Vote(c.Request.Context(), messageID, req.Value, actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Vote recorded"})
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

type QueryHandlers struct {
	queryService services.QueryService
}

func NewQueryHandlers(queryService services.QueryService) *QueryHandlers {
	return &QueryHandlers{queryService: queryService}
}

func (h *QueryHandlers) bindQueryRequest(c *gin.Context) (models.QueryRequest, models.Actor, bool) {
	actor, ok := getActor(c)
	if !ok {
		return models.QueryRequest{}, models.Actor{}, false
	}
	workspaceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return models.QueryRequest{}, models.Actor{}, false
	}

	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return models.QueryRequest{}, models.Actor{}, false
	}
	req.WorkspaceID = workspaceID
	return req, actor, true
}

// Query runs the synchronous ask-and-answer pipeline.
func (h *QueryHandlers) Query(c *gin.Context) {
	req, actor, ok := h.bindQueryRequest(c)
	if !ok {
		return
	}

	answer, err := h.queryService.Answer(c.Request.Context(), req, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// QueryStream emits the answer as server-sent events: one event per
// pipeline event (START, TOKEN, END, ERROR). Errors before the stream
// opens are plain JSON; once streaming has begun they arrive as an ERROR
// event.
func (h *QueryHandlers) QueryStream(c *gin.Context) {
	req, actor, ok := h.bindQueryRequest(c)
	if !ok {
		return
	}

	events, err := h.queryService.AnswerStream(c.Request.Context(), req, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, data)
		c.Writer.Flush()
	}
}

package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docstack-rag/models"
)

// actorKey is where the auth middleware stores the resolved actor.
const actorKey = "actor"

// statusForCode maps the service error taxonomy to HTTP statuses. This is
// the only place HTTP semantics are attached to errors.
func statusForCode(code models.ErrorCode) int {
	switch code {
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeForbidden:
		return http.StatusForbidden
	case models.CodeConflict:
		return http.StatusConflict
	case models.CodeValidation:
		return http.StatusBadRequest
	case models.CodeTimeout:
		return http.StatusGatewayTimeout
	case models.CodeEmbedding, models.CodeLLM:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	appErr := models.AsAppError(err)
	status := statusForCode(appErr.Code)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":     appErr.Code,
			"message":  appErr.Message,
			"resource": appErr.Resource,
		},
	})
}

func getActor(c *gin.Context) (models.Actor, bool) {
	value, exists := c.Get(actorKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Actor not found in context"})
		return models.Actor{}, false
	}
	actor, ok := value.(models.Actor)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid actor in context"})
		return models.Actor{}, false
	}
	return actor, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func parsePagination(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))
	return page, size
}

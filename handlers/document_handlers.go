package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

type DocumentHandlers struct {
	documentService services.DocumentService
	maxUploadBytes  int64
}

func NewDocumentHandlers(documentService services.DocumentService, maxUploadBytes int64) *DocumentHandlers {
	return &DocumentHandlers{
		documentService: documentService,
		maxUploadBytes:  maxUploadBytes,
	}
}

// UploadDocument accepts a multipart form with a "file" part plus optional
// title, source and tags fields. The body is capped before parsing so an
// oversized upload fails fast.
func (h *DocumentHandlers) UploadDocument(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	workspaceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Multipart 'file' field is required", "details": err.Error()})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to open uploaded file"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}

	mimeType := c.PostForm("mime_type")
	if mimeType == "" {
		mimeType = fileHeader.Header.Get("Content-Type")
	}

	req := models.UploadDocumentRequest{
		Title:    c.PostForm("title"),
		Source:   c.PostForm("source"),
		FileName: fileHeader.Filename,
		MimeType: mimeType,
		Tags:     c.PostFormArray("tags"),
		Content:  content,
	}

	doc, err := h.documentService.UploadDocument(c.Request.Context(), workspaceID, req, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

func (h *DocumentHandlers) GetDocument(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	workspaceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	documentID, ok := parseUUIDParam(c, "doc_id")
	if !ok {
		return
	}

	doc, err := h.documentService.GetDocument(c.Request.Context(), workspaceID, documentID, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandlers) ListDocuments(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	workspaceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	page, size := parsePagination(c)
	filter := models.DocumentListFilter{
		Tag:    c.Query("tag"),
		Search: c.Query("search"),
		Page:   page,
		Size:   size,
	}
	if raw := c.Query("status"); raw != "" {
		status := models.DocumentStatus(raw)
		filter.Status = &status
	}

	resp, err := h.documentService.ListDocuments(c.Request.Context(), workspaceID, filter, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DocumentHandlers) UpdateDocument(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	workspaceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	documentID, ok := parseUUIDParam(c, "doc_id")
	if !ok {
		return
	}

	var req models.UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	doc, err := h.documentService.UpdateDocument(c.Request.Context(), workspaceID, documentID, req, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandlers) DeleteDocument(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	workspaceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	documentID, ok := parseUUIDParam(c, "doc_id")
	if !ok {
		return
	}

	if err := h.documentService.DeleteDocument(c.Request.Context(), workspaceID, documentID, actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
}

func (h *DocumentHandlers) ReprocessDocument(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	workspaceID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	documentID, ok := parseUUIDParam(c, "doc_id")
	if !ok {
		return
	}

	doc, err := h.documentService.ReprocessDocument(c.Request.Context(), workspaceID, documentID, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

// Package handler provides the HTTP handlers of the RAG service.
package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/lexica/internal/model"
	"github.com/kart-io/lexica/internal/rag/biz"
	"github.com/kart-io/lexica/internal/rag/metrics"
	apierrors "github.com/kart-io/lexica/pkg/errors"
)

// userHeader carries the authenticated tenant. Authentication itself happens
// upstream; this service trusts the header.
const userHeader = "X-User-ID"

// Handler handles the RAG HTTP API.
type Handler struct {
	service biz.Service
	metrics *metrics.Metrics
}

// New creates a Handler.
func New(service biz.Service, m *metrics.Metrics) *Handler {
	return &Handler{service: service, metrics: m}
}

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, err error) {
	e := apierrors.FromError(err)
	c.JSON(e.HTTPStatus(), ErrorResponse{Code: e.Code, Message: e.MessageEN})
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: data})
}

func userID(c *gin.Context) (string, bool) {
	id := c.GetHeader(userHeader)
	if id == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    apierrors.ErrInvalidParam.Code,
			Message: "missing " + userHeader + " header",
		})
		return "", false
	}
	return id, true
}

// UploadDocument registers an uploaded document and queues it for ingestion.
// The upload is a multipart form with a "file" part and optional "file_type",
// "category" and "tags" fields.
func (h *Handler) UploadDocument(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, apierrors.ErrInvalidParam.WithMessage("multipart field \"file\" is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, apierrors.ErrInvalidParam.WithCause(err))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		respondError(c, apierrors.ErrInvalidParam.WithCause(err))
		return
	}

	doc, created, err := h.service.RegisterDocument(c.Request.Context(), user, &biz.DocumentUpload{
		Filename: fileHeader.Filename,
		FileType: c.PostForm("file_type"),
		Category: c.PostForm("category"),
		Tags:     c.PostForm("tags"),
		Content:  content,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, SuccessResponse{Code: 0, Message: "success", Data: documentView(doc)})
}

// ListDocuments returns all documents of the user.
func (h *Handler) ListDocuments(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	docs, err := h.service.ListDocuments(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]gin.H, len(docs))
	for i, doc := range docs {
		views[i] = documentView(doc)
	}
	respondOK(c, views)
}

// GetDocument returns one document.
func (h *Handler) GetDocument(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	doc, err := h.service.GetDocument(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, documentView(doc))
}

// GetDocumentStatus returns the ingestion status of one document.
func (h *Handler) GetDocumentStatus(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	doc, err := h.service.GetDocument(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"id":               doc.ID,
		"status":           doc.Status,
		"progress":         doc.Progress,
		"processing_error": doc.ProcessingError,
		"chunk_num":        doc.ChunkNum,
		"attempts":         doc.Attempts,
	})
}

// ReindexDocument re-queues a failed document.
func (h *Handler) ReindexDocument(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	if err := h.service.Reindex(c.Request.Context(), user, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"id": c.Param("id"), "status": model.StatusPending})
}

// DeleteDocument removes a document with its chunks and vectors.
func (h *Handler) DeleteDocument(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteDocument(c.Request.Context(), user, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// AskRequest is the body of an ask call.
type AskRequest struct {
	Question    string                   `json:"question" binding:"required"`
	TopK        int                      `json:"top_k"`
	DocumentIDs []string                 `json:"document_ids"`
	History     []model.ConversationTurn `json:"history"`
}

// Ask answers a question grounded in the user's documents.
func (h *Handler) Ask(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.ErrInvalidParam.WithMessage(err.Error()))
		return
	}

	result, err := h.service.Ask(c.Request.Context(), user, &biz.AskRequest{
		Question:    req.Question,
		TopK:        req.TopK,
		DocumentIDs: req.DocumentIDs,
		History:     req.History,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Stats reports corpus counts for the user.
func (h *Handler) Stats(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, stats)
}

// Metrics reports service counters. Not tenant-scoped.
func (h *Handler) Metrics(c *gin.Context) {
	respondOK(c, h.metrics.Snapshot())
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// documentView is the API shape of a document, without its raw content.
func documentView(doc *model.Document) gin.H {
	return gin.H{
		"id":               doc.ID,
		"filename":         doc.Filename,
		"file_type":        doc.FileType,
		"size_bytes":       doc.SizeBytes,
		"content_hash":     doc.ContentHash,
		"category":         doc.Category,
		"tags":             doc.Tags,
		"status":           doc.Status,
		"progress":         doc.Progress,
		"processing_error": doc.ProcessingError,
		"chunk_num":        doc.ChunkNum,
		"attempts":         doc.Attempts,
		"created_at":       doc.CreatedAt,
		"updated_at":       doc.UpdatedAt,
	}
}

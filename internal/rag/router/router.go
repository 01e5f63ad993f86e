// Package router wires the RAG HTTP routes.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/lexica/internal/rag/handler"
)

// Register registers all RAG routes on the engine.
func Register(engine *gin.Engine, h *handler.Handler) {
	engine.GET("/healthz", h.Healthz)
	engine.GET("/metrics", h.Metrics)

	v1 := engine.Group("/v1")
	{
		documents := v1.Group("/documents")
		{
			documents.POST("", h.UploadDocument)
			documents.GET("", h.ListDocuments)
			documents.GET("/:id", h.GetDocument)
			documents.GET("/:id/status", h.GetDocumentStatus)
			documents.POST("/:id/reindex", h.ReindexDocument)
			documents.DELETE("/:id", h.DeleteDocument)
		}

		chat := v1.Group("/chat")
		{
			chat.POST("/ask", h.Ask)
		}

		v1.GET("/stats", h.Stats)
	}

	logger.Info("HTTP routes registered")
}

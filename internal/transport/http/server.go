package http

import (
	"github.com/gin-gonic/gin"

	appsvc "gopherai-legal/internal/app"
	"gopherai-legal/internal/bootstrap"
	"gopherai-legal/internal/transport/http/handler"
	"gopherai-legal/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger), gin.Recovery())

	maxFileBytes := int64(app.Config.App.MaxUploadMB) << 20
	router.MaxMultipartMemory = maxFileBytes

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	registerRAGRoutes(router, app.RAGService, handler.UploadLimits{
		MaxFileBytes: maxFileBytes,
		MaxFiles:     app.Config.App.MaxUploadFile,
	})
	return router
}

func registerRAGRoutes(router *gin.Engine, svc *appsvc.RAGService, limits handler.UploadLimits) {
	ragHandler := handler.NewRAGHandler(svc, limits)

	v1 := router.Group("/api/v1")
	v1.POST("/documents", ragHandler.UploadToNewSession)

	sessions := v1.Group("/sessions")
	sessions.POST("", ragHandler.CreateSession)
	sessions.GET("", ragHandler.ListSessions)
	sessions.DELETE("/:id", ragHandler.DeleteSession)
	sessions.POST("/:id/documents", ragHandler.UploadDocuments)
	sessions.GET("/:id/documents", ragHandler.ListDocuments)
	sessions.POST("/:id/query", ragHandler.Query)
	sessions.POST("/:id/ask", ragHandler.Ask)
	sessions.POST("/:id/translate", ragHandler.Translate)
	sessions.POST("/:id/analyze", ragHandler.Analyze)
	sessions.GET("/:id/risks", ragHandler.Risks)
	sessions.GET("/:id/questions", ragHandler.Questions)
}

package server

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"gradebridge/internal/api"
	"gradebridge/internal/bootstrap"
	"gradebridge/internal/config"
)

// Server HTTP服务器
type Server struct {
	router *gin.Engine
	app    *bootstrap.App
	api    *api.Handler
	cfg    *config.AppConfig
}

// NewServer 创建服务器
func NewServer(cfg *config.AppConfig, app *bootstrap.App) *Server {
	if !cfg.Server.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(app.Exporter, app.Importer, app.Artifacts, app.Store, api.Options{
		ExportDir:      filepath.Join(app.DataDir, "exports"),
		MaxUploadBytes: cfg.Import.MaxBytes,
	})

	s := &Server{
		router: gin.Default(),
		app:    app,
		api:    handler,
		cfg:    cfg,
	}

	s.setupRoutes()

	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// CORS
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Actor-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/status", s.status)
		s.api.RegisterRoutes(apiGroup)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

// status 服务状态
func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"artifactBackend": s.cfg.Artifact.Backend,
		"importPolicy":    s.cfg.Import.Policy,
		"outbox":          s.app.Outbox != nil,
	})
}

// Handler 返回 http.Handler（用于测试）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 启动服务器
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

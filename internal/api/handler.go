package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gradebridge/internal/artifact"
	"gradebridge/internal/exporter"
	"gradebridge/internal/importer"
	"gradebridge/internal/model"
	"gradebridge/internal/store"
)

// ArchiveExporter 构建反馈压缩包
type ArchiveExporter interface {
	Export(ctx context.Context, opts exporter.ExportOptions) (*exporter.Result, error)
}

// ArchiveImporter 导入评分后的压缩包
type ArchiveImporter interface {
	Import(ctx context.Context, opts importer.ImportOptions) <-chan importer.ProgressEvent
	Run(ctx context.Context, opts importer.ImportOptions) *model.ImportOutcome
}

// ImportHistory 导入审计记录
type ImportHistory interface {
	ListImportLogs(ctx context.Context, assignmentID int64) ([]store.ImportLog, error)
}

// Options 处理器参数
type Options struct {
	ExportDir      string // 导出压缩包的落盘目录
	MaxUploadBytes int64  // 上传压缩包大小上限，0 表示不限制
}

// Handler API 处理器
type Handler struct {
	exporter  ArchiveExporter
	importer  ArchiveImporter
	uploads   artifact.Store
	history   ImportHistory
	opts      Options
	downloads *exportDownloadStore
}

// NewHandler 创建 API 处理器；uploads 与 history 可以为 nil
func NewHandler(exp ArchiveExporter, imp ArchiveImporter, uploads artifact.Store, history ImportHistory, opts Options) *Handler {
	return &Handler{
		exporter:  exp,
		importer:  imp,
		uploads:   uploads,
		history:   history,
		opts:      opts,
		downloads: newExportDownloadStore(),
	}
}

// RegisterRoutes 注册 API 路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 数据导出
	router.POST("/assignments/:id/export", h.Export)
	router.POST("/assignments/:id/export/stream", h.ExportStream)
	router.GET("/export/download/:token", h.DownloadExport)

	// 数据导入
	router.POST("/assignments/:id/import", h.Import)
	router.GET("/assignments/:id/imports", h.ListImports)
}

func assignmentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的作业 ID"})
		return 0, false
	}
	return id, true
}

// errorStatus 校验错误返回 400，其余 500
func errorStatus(err error) int {
	if model.IsValidation(err) {
		return http.StatusBadRequest
	}
	if errors.Is(err, exporter.ErrNothingExported) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

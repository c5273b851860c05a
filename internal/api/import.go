package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gradebridge/internal/artifact"
	"gradebridge/internal/importer"
	"gradebridge/internal/model"
)

// Import 导入评分后的压缩包
// POST /api/assignments/:id/import
//
// multipart 字段 file；操作人来自 X-Actor-ID。Accept 为 text/event-stream 时流式返回进度，
// 否则返回 ImportOutcome JSON。
func (h *Handler) Import(c *gin.Context) {
	id, ok := assignmentID(c)
	if !ok {
		return
	}
	actorID, err := parseActor(c.GetHeader("X-Actor-ID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 X-Actor-ID"})
		return
	}

	if h.opts.MaxUploadBytes > 0 {
		// multipart 头部另留 1MB
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+1<<20)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未找到上传文件"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取上传文件"})
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法读取上传文件"})
		return
	}

	source := importer.Source{Bytes: data, Name: path.Base(fh.Filename)}
	if h.uploads != nil {
		key := uuid.NewString() + ".zip"
		if err := h.uploads.Put(c.Request.Context(), artifact.NamespaceUploads, key, data); err != nil {
			log.Printf("[api] store upload: %v", err)
		} else {
			source = importer.Source{StorageKey: artifact.JoinKey(artifact.NamespaceUploads, key), Name: source.Name}
			// 上传只在本次导入期间保留
			defer h.discardUpload(c.Request.Context(), key)
		}
	}

	opts := importer.ImportOptions{AssignmentID: id, ActorID: actorID, Source: source}
	if wantsEventStream(c) {
		h.streamImport(c, opts)
		return
	}

	outcome := h.importer.Run(c.Request.Context(), opts)
	status := http.StatusOK
	switch outcome.ErrorKind {
	case model.ErrorKindValidation:
		status = http.StatusBadRequest
	case model.ErrorKindProcessing:
		status = http.StatusInternalServerError
	}
	c.JSON(status, outcome)
}

func (h *Handler) streamImport(c *gin.Context, opts importer.ImportOptions) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return
	}

	// 设置 SSE 响应头
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	for event := range h.importer.Import(c.Request.Context(), opts) {
		eventData, err := json.Marshal(event)
		if err != nil {
			continue
		}

		// SSE 格式: data: {json}\n\n
		fmt.Fprintf(c.Writer, "data: %s\n\n", eventData)
		flusher.Flush()
	}
}

// ListImports 作业的导入记录
// GET /api/assignments/:id/imports
func (h *Handler) ListImports(c *gin.Context) {
	id, ok := assignmentID(c)
	if !ok {
		return
	}
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"items": []any{}})
		return
	}
	logs, err := h.history.ListImportLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询导入记录失败"})
		return
	}
	if logs == nil {
		c.JSON(http.StatusOK, gin.H{"items": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": logs})
}

func (h *Handler) discardUpload(ctx context.Context, key string) {
	if err := h.uploads.Delete(context.WithoutCancel(ctx), artifact.NamespaceUploads, key); err != nil {
		log.Printf("[api] remove upload %s: %v", key, err)
	}
}

func parseActor(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func wantsEventStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

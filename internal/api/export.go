package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gradebridge/internal/exporter"
)

// ExportRequest 导出请求；ParticipantIDs 为空表示全部参与者
type ExportRequest struct {
	ParticipantIDs []int64 `json:"participantIds"`
}

type exportProgressEvent struct {
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func (h *Handler) exportOptions(c *gin.Context) (exporter.ExportOptions, bool) {
	id, ok := assignmentID(c)
	if !ok {
		return exporter.ExportOptions{}, false
	}
	var req ExportRequest
	if c.Request.ContentLength != 0 && c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数: " + err.Error()})
			return exporter.ExportOptions{}, false
		}
	}
	return exporter.ExportOptions{
		AssignmentID:   id,
		ParticipantIDs: req.ParticipantIDs,
		OutputDir:      h.opts.ExportDir,
	}, true
}

// Export 导出反馈压缩包并直接下载
// POST /api/assignments/:id/export
func (h *Handler) Export(c *gin.Context) {
	opts, ok := h.exportOptions(c)
	if !ok {
		return
	}

	res, err := h.exporter.Export(c.Request.Context(), opts)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": "导出失败: " + err.Error()})
		return
	}
	defer os.Remove(res.ArchivePath)

	if len(res.Warnings) > 0 {
		c.Header("X-Export-Warnings", fmt.Sprint(len(res.Warnings)))
	}
	c.Header("Content-Disposition", buildContentDisposition(res.FileName))
	c.Header("Content-Type", "application/zip")
	c.File(res.ArchivePath)
}

// ExportStream 导出压缩包（SSE 进度 + 完成后提供一次性下载地址）
// POST /api/assignments/:id/export/stream
func (h *Handler) ExportStream(c *gin.Context) {
	opts, ok := h.exportOptions(c)
	if !ok {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "不支持流式响应"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	send := func(event exportProgressEvent) {
		b, err := json.Marshal(event)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", b)
		flusher.Flush()
	}

	send(exportProgressEvent{
		Type:      "start",
		Message:   "开始导出",
		Data:      map[string]any{"assignmentId": opts.AssignmentID},
		Timestamp: time.Now(),
	})

	lastPercent := -1
	opts.Progress = func(p exporter.ProgressEvent) {
		if p.Percent == lastPercent {
			return
		}
		lastPercent = p.Percent
		data := map[string]any{"percent": p.Percent}
		if p.Folder != "" {
			data["folder"] = p.Folder
		}
		send(exportProgressEvent{
			Type:      "progress",
			Message:   p.Stage,
			Data:      data,
			Timestamp: time.Now(),
		})
	}

	res, err := h.exporter.Export(c.Request.Context(), opts)
	if err != nil {
		send(exportProgressEvent{
			Type:      "error",
			Message:   "导出失败: " + err.Error(),
			Data:      map[string]any{},
			Timestamp: time.Now(),
		})
		return
	}

	token := h.downloads.put(res.ArchivePath, res.FileName, 10*time.Minute)
	prefix := "/api"
	if strings.HasPrefix(c.Request.URL.Path, "/api/v1/") {
		prefix = "/api/v1"
	}
	downloadURL := fmt.Sprintf("%s/export/download/%s", prefix, token)

	send(exportProgressEvent{
		Type:    "done",
		Message: "导出完成",
		Data: map[string]any{
			"percent":      100,
			"downloadUrl":  downloadURL,
			"fileName":     res.FileName,
			"participants": res.Participants,
			"files":        res.Files,
			"warnings":     res.Warnings,
		},
		Timestamp: time.Now(),
	})
}

// DownloadExport 下载导出的压缩包（一次性）
// GET /api/export/download/:token
func (h *Handler) DownloadExport(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 token"})
		return
	}

	item, ok := h.downloads.take(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "下载链接已失效"})
		return
	}
	defer os.Remove(item.filePath)

	if _, err := os.Stat(item.filePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "导出文件不存在"})
		return
	}

	c.Header("Content-Disposition", buildContentDisposition(item.fileName))
	c.Header("Content-Type", "application/zip")
	c.File(item.filePath)
}

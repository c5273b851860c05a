package model

import (
	"fmt"
	"sort"
	"time"
)

// ErrorKind 导入失败类别
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindProcessing ErrorKind = "processing"
)

// RenamedFile 被识别为修改过的原始提交文件
type RenamedFile struct {
	ParticipantID int64  `json:"participantId"`
	Folder        string `json:"folder"`
	From          string `json:"from"`
	To            string `json:"to"`
}

// SkippedEntry 被跳过的压缩包条目或文件
type SkippedEntry struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ImportOutcome 导入结果汇总，所有跳过/重命名/拒绝都能在这里枚举到
type ImportOutcome struct {
	RunID             string             `json:"runId"`
	Success           bool               `json:"success"`
	ErrorKind         ErrorKind          `json:"errorKind,omitempty"`
	Error             string             `json:"error,omitempty"`
	StatusFile        string             `json:"statusFile,omitempty"` // 实际应用的状态文件
	StatusRowsApplied int                `json:"statusRowsApplied"`
	Attached          map[int64][]string `json:"attached"` // 参与者（用户）ID → 新附加的反馈文件
	AttachedCount     int                `json:"attachedCount"`
	Renamed           []RenamedFile      `json:"renamed"`
	Unchanged         int                `json:"unchanged"` // 未修改的原始提交文件数
	Skipped           []SkippedEntry     `json:"skipped"`
	Warnings          []string           `json:"warnings"`
	Notified          []int64            `json:"notified"`
	Duration          time.Duration      `json:"duration"`
}

// NewImportOutcome 创建空结果
func NewImportOutcome(runID string) *ImportOutcome {
	return &ImportOutcome{
		RunID:    runID,
		Attached: make(map[int64][]string),
		Renamed:  []RenamedFile{},
		Skipped:  []SkippedEntry{},
		Warnings: []string{},
		Notified: []int64{},
	}
}

// Warnf 记录一条非致命警告
func (o *ImportOutcome) Warnf(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Skip 记录一个被跳过的条目
func (o *ImportOutcome) Skip(path, reason string) {
	o.Skipped = append(o.Skipped, SkippedEntry{Path: path, Reason: reason})
}

// AddAttached 记录一个已附加的文件
func (o *ImportOutcome) AddAttached(userID int64, filename string) {
	o.Attached[userID] = append(o.Attached[userID], filename)
	o.AttachedCount++
}

// Fail 标记失败
func (o *ImportOutcome) Fail(kind ErrorKind, err error) {
	o.Success = false
	o.ErrorKind = kind
	o.Error = err.Error()
}

// AttachedUsers 返回有附加文件的用户 ID（升序）
func (o *ImportOutcome) AttachedUsers() []int64 {
	ids := make([]int64, 0, len(o.Attached))
	for id := range o.Attached {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

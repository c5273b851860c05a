package model

// StatusUpdateRecord 状态文件中的一行批量评分数据（由状态文件编解码器产生）
type StatusUpdateRecord struct {
	Row           int               `json:"row"`           // 源文件行号（从 1 开始，含表头）
	ParticipantID int64             `json:"participantId"` // 个人为用户 ID，小组为小组 ID
	Login         string            `json:"login"`
	Apply         bool              `json:"apply"` // 是否应用本行
	Status        string            `json:"status"`
	Mark          string            `json:"mark"`
	Notice        string            `json:"notice"`
	Comment       string            `json:"comment"`
	Extra         map[string]string `json:"extra,omitempty"` // 其他可选字段（如 plagiarism）
}

// GradeState 参与者当前评分状态（用于渲染状态文件）
type GradeState struct {
	Status  string            `json:"status"`
	Mark    string            `json:"mark"`
	Notice  string            `json:"notice"`
	Comment string            `json:"comment"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// 合法的评分状态值，语义校验由编解码器负责
const (
	StatusNotGraded = "notgraded"
	StatusPassed    = "passed"
	StatusFailed    = "failed"
)

package model

// ParticipantKind 参与者类型
type ParticipantKind string

const (
	KindIndividual ParticipantKind = "individual" // 个人提交
	KindTeam       ParticipantKind = "team"       // 小组提交
)

// Assignment 作业（一次导出/导入周期内只读）
type Assignment struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	TeamSubmission bool   `json:"teamSubmission"` // 是否为小组作业
}

// ParticipantKind 根据作业类型返回参与者类型
func (a *Assignment) ParticipantKind() ParticipantKind {
	if a.TeamSubmission {
		return KindTeam
	}
	return KindIndividual
}

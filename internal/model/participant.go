package model

import (
	"fmt"
	"time"
)

// Identity 用户身份
type Identity struct {
	UserID    int64  `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Login     string `json:"login"`
}

// DisplayName 展示名（姓, 名）
func (i Identity) DisplayName() string {
	switch {
	case i.LastName != "" && i.FirstName != "":
		return i.LastName + ", " + i.FirstName
	case i.LastName != "":
		return i.LastName
	case i.FirstName != "":
		return i.FirstName
	}
	return i.Login
}

// Participant 被评分的参与者：个人或小组
//
// FolderName 由 layout 包根据参与者类型决定，这里只暴露身份信息。
type Participant interface {
	ID() int64
	Kind() ParticipantKind
	// Members 小组返回固定顺序的成员，个人返回自身
	Members() []Identity
}

// Individual 个人参与者
type Individual struct {
	Identity
}

// ID 返回用户 ID
func (p *Individual) ID() int64 { return p.UserID }

// Kind 返回参与者类型
func (p *Individual) Kind() ParticipantKind { return KindIndividual }

// Members 返回自身
func (p *Individual) Members() []Identity { return []Identity{p.Identity} }

// Team 小组参与者，成员在一次流水线运行中固定
type Team struct {
	TeamID int64      `json:"teamId"`
	Name   string     `json:"name"`
	Roster []Identity `json:"members"` // 成员（固定顺序）
}

// ID 返回小组 ID
func (t *Team) ID() int64 { return t.TeamID }

// Kind 返回参与者类型
func (t *Team) Kind() ParticipantKind { return KindTeam }

// Members 返回成员列表副本
func (t *Team) Members() []Identity {
	out := make([]Identity, len(t.Roster))
	copy(out, t.Roster)
	return out
}

// Member 按用户 ID 查找成员
func (t *Team) Member(userID int64) (Identity, bool) {
	for _, m := range t.Roster {
		if m.UserID == userID {
			return m, true
		}
	}
	return Identity{}, false
}

// String 用于日志
func (t *Team) String() string {
	return fmt.Sprintf("team %d (%d members)", t.TeamID, len(t.Roster))
}

// SubmissionFile 已知的提交文件（来自提交查询）
type SubmissionFile struct {
	UserID      int64     `json:"userId"`
	Name        string    `json:"name"`        // 文件名
	StoragePath string    `json:"storagePath"` // 制品存储中的对象 key
	SubmittedAt time.Time `json:"submittedAt"`
}

// Attachment 一次附加反馈文件的请求；小组成员共享同一份 Data
type Attachment struct {
	AssignmentID int64
	UserID       int64
	Filename     string
	Data         []byte
	SHA256       string
	RunID        string
}

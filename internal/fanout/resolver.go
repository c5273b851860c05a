package fanout

import (
	"context"
	"fmt"
	"log"
	"os"

	"gradebridge/internal/classify"
	"gradebridge/internal/layout"
	"gradebridge/internal/model"
)

// Attacher 将反馈文件写入制品存储并关联到用户
type Attacher interface {
	Attach(ctx context.Context, a model.Attachment) error
}

// FlagSetter 设置“已有反馈”标记
type FlagSetter interface {
	SetFeedbackFlag(ctx context.Context, assignmentID, userID int64) error
}

// Notifier 通知用户有新反馈
type Notifier interface {
	Notify(ctx context.Context, assignmentID, userID int64) error
}

// Run 一次导入运行的范围；通知去重集合只在本次运行内有效
type Run struct {
	ID           string
	AssignmentID int64
	notified     map[int64]struct{}
}

// NewRun 创建运行范围
func NewRun(id string, assignmentID int64) *Run {
	return &Run{ID: id, AssignmentID: assignmentID, notified: make(map[int64]struct{})}
}

// Folder 一个参与者目录（小组为整个 Team_<id> 目录）的分类结果
type Folder struct {
	Name        string
	Participant model.Participant
	Files       []classify.File
}

// Resolver 把分类结果落到持久化：附加文件、设置标记、发送通知
type Resolver struct {
	attacher Attacher
	flags    FlagSetter
	notifier Notifier
}

// NewResolver 创建 Resolver；flags 与 notifier 可以为 nil
func NewResolver(attacher Attacher, flags FlagSetter, notifier Notifier) *Resolver {
	return &Resolver{attacher: attacher, flags: flags, notifier: notifier}
}

type payload struct {
	file classify.File
	data []byte
}

// Apply 将目录中的 new_feedback 与 modified_submission 文件附加给参与者的每个成员
//
// 单个文件、标记或通知失败只记录到 outcome，不影响其余文件与成员。
func (r *Resolver) Apply(ctx context.Context, run *Run, folder Folder, outcome *model.ImportOutcome) {
	files := r.collect(folder, outcome)
	if len(files) == 0 {
		return
	}

	recipients := folder.Participant.Members()
	for _, member := range recipients {
		attached := 0
		for _, p := range files {
			if err := ctx.Err(); err != nil {
				outcome.Warnf("%s: 已取消: %v", folder.Name, err)
				return
			}
			err := r.attacher.Attach(ctx, model.Attachment{
				AssignmentID: run.AssignmentID,
				UserID:       member.UserID,
				Filename:     p.file.Name,
				Data:         p.data,
				SHA256:       p.file.Digest.SHA256,
				RunID:        run.ID,
			})
			if err != nil {
				perr := &model.ProcessingError{Scope: p.file.Path, Err: fmt.Errorf("附加给用户 %d 失败: %w", member.UserID, err)}
				log.Printf("[fanout] %v", perr)
				outcome.Warnf("%v", perr)
				continue
			}
			outcome.AddAttached(member.UserID, p.file.Name)
			attached++
		}
		if attached == 0 {
			continue
		}
		r.markAndNotify(ctx, run, member.UserID, outcome)
	}
}

// collect 读取待附加文件，按 (文件名, 摘要) 去重
func (r *Resolver) collect(folder Folder, outcome *model.ImportOutcome) []payload {
	type seenFile struct {
		sha  string
		path string
	}
	seen := make(map[string]seenFile)
	var out []payload
	for _, f := range folder.Files {
		if f.Kind == classify.KindUnchanged {
			continue
		}
		if prev, ok := seen[f.Name]; ok {
			if prev.sha != f.Digest.SHA256 {
				outcome.Warnf("%s: 与 %s 同名但内容不同，已忽略", f.Path, prev.path)
			}
			continue
		}
		data, err := os.ReadFile(f.AbsPath)
		if err != nil {
			perr := &model.ProcessingError{Scope: f.Path, Err: err}
			log.Printf("[fanout] %v", perr)
			outcome.Warnf("%v", perr)
			continue
		}
		seen[f.Name] = seenFile{sha: f.Digest.SHA256, path: f.Path}
		out = append(out, payload{file: f, data: data})
	}
	return out
}

func (r *Resolver) markAndNotify(ctx context.Context, run *Run, userID int64, outcome *model.ImportOutcome) {
	if r.flags != nil {
		if err := r.flags.SetFeedbackFlag(ctx, run.AssignmentID, userID); err != nil {
			outcome.Warnf("用户 %d: 设置反馈标记失败: %v", userID, err)
		}
	}
	if _, done := run.notified[userID]; done {
		return
	}
	run.notified[userID] = struct{}{}
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, run.AssignmentID, userID); err != nil {
		perr := &model.ProcessingError{Scope: fmt.Sprintf("notify user %d", userID), Err: err}
		log.Printf("[fanout] %v", perr)
		outcome.Warnf("%v", perr)
		return
	}
	outcome.Notified = append(outcome.Notified, userID)
}

// ResolveFolder 将顶层目录名解析为本作业的参与者
//
// ok=false 表示该目录名不是参与者目录；err 非空表示目录类型与作业不符或参与者未知。
func ResolveFolder(a *model.Assignment, name string, byID map[int64]model.Participant) (p model.Participant, ok bool, err error) {
	ref, ok := layout.ParseFolder(name)
	if !ok {
		return nil, false, nil
	}
	if ref.Kind != a.ParticipantKind() {
		return nil, true, model.NewValidationError("目录 %s 的类型（%s）与作业类型（%s）不符", name, ref.Kind, a.ParticipantKind())
	}
	p, found := byID[ref.ID]
	if !found {
		return nil, true, &model.ProcessingError{Scope: name, Err: fmt.Errorf("参与者 %d 不属于作业 %d", ref.ID, a.ID)}
	}
	return p, true, nil
}

package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"gradebridge/internal/artifact"
	"gradebridge/internal/classify"
	"gradebridge/internal/fanout"
	"gradebridge/internal/layout"
	"gradebridge/internal/manifest"
	"gradebridge/internal/model"
	"gradebridge/internal/statusfile"
	"gradebridge/internal/store"
)

// ParticipantSource 作业与参与者
type ParticipantSource interface {
	GetAssignment(ctx context.Context, id int64) (*model.Assignment, error)
	ListParticipants(ctx context.Context, assignmentID int64) ([]model.Participant, error)
}

// SubmissionLister 已知提交文件
type SubmissionLister interface {
	ListSubmissions(ctx context.Context, assignmentID, userID int64) ([]model.SubmissionFile, error)
}

// StatusApplier 应用一行状态数据
type StatusApplier interface {
	ApplyStatusRow(ctx context.Context, assignmentID, actorID int64, rec model.StatusUpdateRecord) error
}

// RunLog 导入审计记录（可选）
type RunLog interface {
	CreateImportLog(ctx context.Context, runID string, assignmentID, actorID int64, source string) (int64, error)
	FinishImportLog(ctx context.Context, id int64, o *model.ImportOutcome) error
}

// Deps 导入协调器的协作者，全部显式注入
type Deps struct {
	Participants ParticipantSource
	Submissions  SubmissionLister
	Status       StatusApplier
	Codec        statusfile.Codec
	Resolver     *fanout.Resolver
	Uploads      artifact.Store // 仅 StorageKey 来源需要
	Logs         RunLog
}

// Config 导入限制与策略
type Config struct {
	TempDir    string
	MaxBytes   int64
	MaxEntries int
	Policy     classify.Policy
}

// Coordinator 导入协调器
type Coordinator struct {
	participants ParticipantSource
	submissions  SubmissionLister
	status       StatusApplier
	codec        statusfile.Codec
	resolver     *fanout.Resolver
	uploads      artifact.Store
	logs         RunLog
	cfg          Config
}

// NewCoordinator 创建导入协调器
func NewCoordinator(deps Deps, cfg Config) *Coordinator {
	return &Coordinator{
		participants: deps.Participants,
		submissions:  deps.Submissions,
		status:       deps.Status,
		codec:        deps.Codec,
		resolver:     deps.Resolver,
		uploads:      deps.Uploads,
		logs:         deps.Logs,
		cfg:          cfg,
	}
}

// ImportOptions 导入选项
type ImportOptions struct {
	AssignmentID int64
	ActorID      int64
	Source       Source
}

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type      string      `json:"type"`      // start/info/status/folder/done/error
	Message   string      `json:"message"`   // 事件消息
	Data      interface{} `json:"data"`      // 附加数据
	Timestamp time.Time   `json:"timestamp"` // 时间戳
}

// importRun 单次导入的上下文
type importRun struct {
	opts       ImportOptions
	outcome    *model.ImportOutcome
	assignment *model.Assignment
	byID       map[int64]model.Participant
	ws         *Workspace
	manifest   *manifest.Manifest
	folders    []resolvedFolder
	fanoutRun  *fanout.Run
	emit       func(ProgressEvent)
}

type resolvedFolder struct {
	name        string
	participant model.Participant
	entries     []Entry
}

// Import 执行导入，返回进度通道；最后一个事件为 done（Data 为 *model.ImportOutcome）
func (c *Coordinator) Import(ctx context.Context, opts ImportOptions) <-chan ProgressEvent {
	progressChan := make(chan ProgressEvent, 100)

	go func() {
		defer close(progressChan)
		outcome := c.run(ctx, opts, func(ev ProgressEvent) { c.sendProgress(progressChan, ev) })
		// done 事件必须送达
		done := ProgressEvent{Type: "done", Message: "导入完成", Data: outcome, Timestamp: time.Now()}
		if !outcome.Success {
			done.Type = "error"
			done.Message = outcome.Error
		}
		select {
		case progressChan <- done:
		case <-ctx.Done():
		}
	}()

	return progressChan
}

// Run 同步执行导入；失败信息在返回的 outcome 中
func (c *Coordinator) Run(ctx context.Context, opts ImportOptions) *model.ImportOutcome {
	return c.run(ctx, opts, func(ProgressEvent) {})
}

func (c *Coordinator) run(ctx context.Context, opts ImportOptions, emit func(ProgressEvent)) *model.ImportOutcome {
	startTime := time.Now()
	outcome := model.NewImportOutcome(uuid.NewString())

	var logID int64
	if c.logs != nil {
		id, err := c.logs.CreateImportLog(ctx, outcome.RunID, opts.AssignmentID, opts.ActorID, opts.Source.DisplayName())
		if err != nil {
			log.Printf("[import %s] create import log: %v", outcome.RunID, err)
		}
		logID = id
	}

	emit(ProgressEvent{
		Type:    "start",
		Message: "开始导入压缩包",
		Data: map[string]interface{}{
			"runId":    outcome.RunID,
			"filename": opts.Source.DisplayName(),
		},
		Timestamp: time.Now(),
	})

	err := c.execute(ctx, &importRun{opts: opts, outcome: outcome, emit: emit})
	switch {
	case err == nil:
		outcome.Success = true
	case model.IsValidation(err):
		outcome.Fail(model.ErrorKindValidation, err)
	default:
		outcome.Fail(model.ErrorKindProcessing, err)
	}
	outcome.Duration = time.Since(startTime)
	log.Printf("[import %s] assignment=%d success=%v rows=%d attached=%d renamed=%d skipped=%d warnings=%d",
		outcome.RunID, opts.AssignmentID, outcome.Success, outcome.StatusRowsApplied, outcome.AttachedCount,
		len(outcome.Renamed), len(outcome.Skipped), len(outcome.Warnings))

	if c.logs != nil && logID > 0 {
		if err := c.logs.FinishImportLog(context.WithoutCancel(ctx), logID, outcome); err != nil {
			log.Printf("[import %s] finish import log: %v", outcome.RunID, err)
		}
	}
	return outcome
}

// execute 流水线主体；临时目录在任何返回路径上都会被删除
func (c *Coordinator) execute(ctx context.Context, r *importRun) error {
	if err := c.loadParticipants(ctx, r); err != nil {
		return err
	}

	src, err := c.openSource(ctx, r.opts.Source)
	if err != nil {
		return err
	}
	defer src.close()

	ws, err := Extract(src, src.size, ExtractOptions{
		TempDir:    c.cfg.TempDir,
		MaxBytes:   c.cfg.MaxBytes,
		MaxEntries: c.cfg.MaxEntries,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Printf("[import %s] remove workspace: %v", r.outcome.RunID, err)
		}
	}()
	r.ws = ws
	r.outcome.Skipped = append(r.outcome.Skipped, ws.Skipped...)
	r.outcome.Warnings = append(r.outcome.Warnings, ws.Warnings...)

	r.emit(ProgressEvent{
		Type:      "info",
		Message:   fmt.Sprintf("解压完成，共 %d 个文件", len(ws.Entries)),
		Data:      map[string]int{"entries": len(ws.Entries), "skipped": len(ws.Skipped)},
		Timestamp: time.Now(),
	})

	c.loadManifest(r)

	// 结构校验在任何写操作之前完成
	if err := c.resolveFolders(r); err != nil {
		return err
	}

	c.applyStatusFile(ctx, r)

	for _, folder := range r.folders {
		if err := ctx.Err(); err != nil {
			return &model.ProcessingError{Scope: "import", Err: err}
		}
		c.processFolder(ctx, r, folder)
	}
	return nil
}

func (c *Coordinator) loadParticipants(ctx context.Context, r *importRun) error {
	a, err := c.participants.GetAssignment(ctx, r.opts.AssignmentID)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewValidationError("作业 %d 不存在", r.opts.AssignmentID)
	}
	if err != nil {
		return fmt.Errorf("load assignment: %w", err)
	}
	ps, err := c.participants.ListParticipants(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	r.assignment = a
	r.byID = make(map[int64]model.Participant, len(ps))
	for _, p := range ps {
		r.byID[p.ID()] = p
	}
	return nil
}

func (c *Coordinator) loadManifest(r *importRun) {
	m, err := manifest.Load(r.ws.Root())
	switch {
	case err != nil:
		log.Printf("[import %s] %v", r.outcome.RunID, err)
		r.outcome.Warnf("%s 无法解析，已忽略，所有文件按新反馈处理: %v", layout.ManifestFile, err)
		m = nil
	case m == nil:
		log.Printf("[import %s] no manifest, change detection disabled", r.outcome.RunID)
		r.outcome.Warnf("压缩包不含 %s，无法检测修改，所有文件按新反馈处理", layout.ManifestFile)
	}
	r.manifest = m
}

// resolveFolders 将顶层目录映射为参与者并校验压缩包结构
func (c *Coordinator) resolveFolders(r *importRun) error {
	dirents, err := os.ReadDir(r.ws.Root())
	if err != nil {
		return fmt.Errorf("read workspace: %w", err)
	}

	byFolder := make(map[string][]Entry)
	for _, e := range r.ws.Entries {
		top, rest, nested := strings.Cut(e.Path, "/")
		if !nested {
			if !layout.IsReservedRootName(top) {
				r.outcome.Skip(e.Path, "根目录下的文件不属于任何参与者")
			}
			continue
		}
		if rest == "" {
			continue
		}
		byFolder[top] = append(byFolder[top], e)
	}

	wantKind := r.assignment.ParticipantKind()
	found := 0
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		name := d.Name()
		p, ok, err := fanout.ResolveFolder(r.assignment, name, r.byID)
		if !ok {
			for _, e := range byFolder[name] {
				r.outcome.Skip(e.Path, "不是参与者目录")
			}
			continue
		}
		if err != nil {
			if model.IsValidation(err) {
				return err
			}
			// 未知参与者只跳过该目录
			log.Printf("[import %s] %v", r.outcome.RunID, err)
			r.outcome.Warnf("%v", err)
			for _, e := range byFolder[name] {
				r.outcome.Skip(e.Path, "参与者不属于本作业")
			}
			found++
			continue
		}
		found++
		r.folders = append(r.folders, resolvedFolder{name: name, participant: p, entries: byFolder[name]})
	}

	// 没有参与者的作业导出后本就不含参与者目录
	if found == 0 && len(r.byID) > 0 {
		if wantKind == model.KindTeam {
			return model.NewValidationError("小组作业的压缩包中没有 %s<id> 目录", layout.TeamFolderPrefix)
		}
		return model.NewValidationError("压缩包中没有参与者目录")
	}
	sort.Slice(r.folders, func(i, j int) bool { return r.folders[i].name < r.folders[j].name })
	return nil
}

// applyStatusFile 选择并逐行应用状态文件；任何失败都不阻止后续的反馈处理
func (c *Coordinator) applyStatusFile(ctx context.Context, r *importRun) {
	sel, err := statusfile.Select(r.ws.Root(), r.manifest)
	if err != nil {
		r.outcome.Warnf("选择状态文件失败: %v", err)
		return
	}
	if sel == nil {
		return
	}
	if sel.Conflict != "" {
		log.Printf("[import %s] status conflict: %s", r.outcome.RunID, sel.Conflict)
		r.outcome.Warnf("%s", sel.Conflict)
	}
	r.outcome.StatusFile = sel.Name

	data, err := os.ReadFile(sel.Path)
	if err != nil {
		r.outcome.Warnf("%v", &model.ProcessingError{Scope: sel.Name, Err: err})
		return
	}
	records, err := c.codec.Parse(data, sel.Format)
	if err != nil {
		log.Printf("[import %s] parse %s: %v", r.outcome.RunID, sel.Name, err)
		r.outcome.Warnf("%v", &model.ProcessingError{Scope: sel.Name, Err: err})
		return
	}

	applicable := 0
	for _, rec := range records {
		if !rec.Apply {
			continue
		}
		applicable++
		if err := c.status.ApplyStatusRow(ctx, r.assignment.ID, r.opts.ActorID, rec); err != nil {
			perr := &model.ProcessingError{Scope: fmt.Sprintf("%s 第 %d 行", sel.Name, rec.Row), Err: err}
			log.Printf("[import %s] %v", r.outcome.RunID, perr)
			r.outcome.Warnf("%v", perr)
			continue
		}
		r.outcome.StatusRowsApplied++
	}
	if applicable == 0 {
		log.Printf("[import %s] %s has no rows marked for apply", r.outcome.RunID, sel.Name)
	}

	r.emit(ProgressEvent{
		Type:    "status",
		Message: fmt.Sprintf("已应用 %s 中 %d 行", sel.Name, r.outcome.StatusRowsApplied),
		Data: map[string]interface{}{
			"file":     sel.Name,
			"rows":     len(records),
			"applied":  r.outcome.StatusRowsApplied,
			"conflict": sel.Conflict,
		},
		Timestamp: time.Now(),
	})
}

// processFolder 分类一个参与者目录中的文件并分发给成员
func (c *Coordinator) processFolder(ctx context.Context, r *importRun, folder resolvedFolder) {
	known, err := c.knownNames(ctx, r.assignment.ID, folder.participant)
	if err != nil {
		perr := &model.ProcessingError{Scope: folder.name, Err: err}
		log.Printf("[import %s] %v", r.outcome.RunID, perr)
		r.outcome.Warnf("%v", perr)
		return
	}

	candidates := make([]classify.Candidate, 0, len(folder.entries))
	for _, e := range folder.entries {
		if folder.participant.Kind() == model.KindTeam && e.Path == path.Join(folder.name, layout.TeamInfoFile) {
			continue
		}
		candidates = append(candidates, classify.Candidate{Path: e.Path, AbsPath: e.AbsPath})
	}

	files, errs := classify.New(r.manifest, c.cfg.Policy).Classify(candidates, known)
	for _, err := range errs {
		log.Printf("[import %s] %v", r.outcome.RunID, err)
		r.outcome.Warnf("%v", err)
	}
	for _, f := range files {
		switch f.Kind {
		case classify.KindUnchanged:
			r.outcome.Unchanged++
		case classify.KindModified:
			r.outcome.Renamed = append(r.outcome.Renamed, model.RenamedFile{
				ParticipantID: folder.participant.ID(),
				Folder:        folder.name,
				From:          f.OriginalName,
				To:            f.Name,
			})
		}
	}

	before := r.outcome.AttachedCount
	c.resolver.Apply(ctx, r.run(), fanout.Folder{Name: folder.name, Participant: folder.participant, Files: files}, r.outcome)

	r.emit(ProgressEvent{
		Type:    "folder",
		Message: fmt.Sprintf("已处理 %s", folder.name),
		Data: map[string]interface{}{
			"folder":   folder.name,
			"files":    len(files),
			"attached": r.outcome.AttachedCount - before,
		},
		Timestamp: time.Now(),
	})
}

// knownNames 参与者（小组为全部成员）以前提交过的文件名
func (c *Coordinator) knownNames(ctx context.Context, assignmentID int64, p model.Participant) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range p.Members() {
		files, err := c.submissions.ListSubmissions(ctx, assignmentID, m.UserID)
		if err != nil {
			return nil, fmt.Errorf("list submissions of user %d: %w", m.UserID, err)
		}
		for _, f := range files {
			// 导出时写入压缩包的文件名
			name := layout.SafeFileName(f.Name)
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names, nil
}

func (r *importRun) run() *fanout.Run {
	if r.fanoutRun == nil {
		r.fanoutRun = fanout.NewRun(r.outcome.RunID, r.assignment.ID)
	}
	return r.fanoutRun
}

func (c *Coordinator) sendProgress(ch chan ProgressEvent, event ProgressEvent) {
	select {
	case ch <- event:
	default:
		// 通道已满，丢弃事件
	}
}

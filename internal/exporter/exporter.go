package exporter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"

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

// SubmissionLookup 已提交文件的元数据与内容
type SubmissionLookup interface {
	ListSubmissions(ctx context.Context, assignmentID, userID int64) ([]model.SubmissionFile, error)
	ReadSubmission(ctx context.Context, f model.SubmissionFile) ([]byte, error)
}

// ExportLog 导出审计记录（可选）
type ExportLog interface {
	CreateExportLog(ctx context.Context, assignmentID int64, filename string, participants, files int, manifestJSON []byte) (int64, error)
}

// Deps 导出器的协作者
type Deps struct {
	Participants ParticipantSource
	Submissions  SubmissionLookup
	Codec        statusfile.Codec
	Logs         ExportLog
}

// Exporter 反馈压缩包导出器
//
// 个人与小组共用同一套流程，差异只在目录命名、文件集合与 README。
type Exporter struct {
	participants ParticipantSource
	submissions  SubmissionLookup
	codec        statusfile.Codec
	logs         ExportLog
	now          func() time.Time
}

// NewExporter 创建导出器
func NewExporter(deps Deps) *Exporter {
	return &Exporter{
		participants: deps.Participants,
		submissions:  deps.Submissions,
		codec:        deps.Codec,
		logs:         deps.Logs,
		now:          time.Now,
	}
}

// ExportOptions 导出选项
type ExportOptions struct {
	AssignmentID   int64
	ParticipantIDs []int64 // 为空表示全部参与者；否则按给定顺序
	OutputDir      string  // 为空使用系统临时目录
	Progress       func(ProgressEvent)
}

// Result 导出结果
type Result struct {
	ArchivePath  string
	FileName     string
	Manifest     *manifest.Manifest
	Participants int
	Files        int // 写入的提交文件数（小组按成员目录重复计数）
	Warnings     []string
}

// ErrNothingExported 状态文件与提交文件都没有生成
var ErrNothingExported = errors.New("nothing could be exported")

// Export 构建压缩包，返回写好的文件路径
func (e *Exporter) Export(ctx context.Context, opts ExportOptions) (*Result, error) {
	progress := progressFunc(opts.Progress)
	progress.stage(0, "读取参与者")
	a, err := e.participants.GetAssignment(ctx, opts.AssignmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, model.NewValidationError("作业 %d 不存在", opts.AssignmentID)
		}
		return nil, fmt.Errorf("读取作业失败: %w", err)
	}
	participants, err := e.selectParticipants(ctx, a, opts.ParticipantIDs)
	if err != nil {
		return nil, err
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = os.TempDir()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建导出目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(outDir, ".gradebridge-export-*.part")
	if err != nil {
		return nil, fmt.Errorf("创建导出文件失败: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	now := e.now()
	b := &builder{
		zw:       zip.NewWriter(tmp),
		manifest: manifest.New(),
		modified: now,
	}
	res := &Result{Manifest: b.manifest, Participants: len(participants)}

	for i, p := range participants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.writeParticipant(ctx, b, a, p, res); err != nil {
			return nil, err
		}
		progress.folder(i+1, len(participants), layout.FolderName(p))
	}

	progress.stage(stageStatus, "生成状态文件")
	statusOK := 0
	for _, f := range statusfile.Formats {
		data, err := e.codec.Render(ctx, a, participants, f)
		if err != nil {
			log.Printf("[export] render %s: %v", f.FileName(), err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("生成 %s 失败: %v", f.FileName(), err))
			continue
		}
		if err := b.writeFile(f.FileName(), data, manifest.KindStatusFile); err != nil {
			return nil, err
		}
		statusOK++
	}
	if statusOK == 0 && res.Files == 0 {
		return nil, fmt.Errorf("导出失败: %w", ErrNothingExported)
	}

	progress.stage(stageManifest, "写入校验清单")
	readme, err := renderReadme(a, len(participants), now)
	if err != nil {
		return nil, err
	}
	if err := b.writeFile(layout.ReadmeFile, readme, ""); err != nil {
		return nil, err
	}
	manifestJSON, err := b.manifest.Encode()
	if err != nil {
		return nil, fmt.Errorf("序列化校验清单失败: %w", err)
	}
	if err := b.writeFile(layout.ManifestFile, manifestJSON, ""); err != nil {
		return nil, err
	}

	if err := b.zw.Close(); err != nil {
		return nil, fmt.Errorf("写入压缩包失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("写入压缩包失败: %w", err)
	}

	res.FileName = archiveName(a, now)
	res.ArchivePath = filepath.Join(outDir, res.FileName)
	if err := os.Rename(tmpName, res.ArchivePath); err != nil {
		return nil, fmt.Errorf("保存压缩包失败: %w", err)
	}
	committed = true

	if e.logs != nil {
		if _, err := e.logs.CreateExportLog(ctx, a.ID, res.FileName, res.Participants, res.Files, manifestJSON); err != nil {
			log.Printf("[export] create export log: %v", err)
		}
	}
	log.Printf("[export] assignment=%d participants=%d files=%d archive=%s", a.ID, res.Participants, res.Files, res.ArchivePath)
	progress.stage(100, "导出完成")
	return res, nil
}

func (e *Exporter) selectParticipants(ctx context.Context, a *model.Assignment, ids []int64) ([]model.Participant, error) {
	all, err := e.participants.ListParticipants(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("读取参与者失败: %w", err)
	}
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[int64]model.Participant, len(all))
	for _, p := range all {
		byID[p.ID()] = p
	}
	out := make([]model.Participant, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, model.NewValidationError("参与者 %d 不属于作业 %d", id, a.ID)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, p)
	}
	return out, nil
}

// writeParticipant 写入一个参与者目录；没有可用文件时仍创建空目录
func (e *Exporter) writeParticipant(ctx context.Context, b *builder, a *model.Assignment, p model.Participant, res *Result) error {
	folder := layout.FolderName(p)
	if err := b.writeDir(folder); err != nil {
		return err
	}

	files, warnings := e.participantFiles(ctx, a.ID, p)
	res.Warnings = append(res.Warnings, warnings...)

	team, isTeam := p.(*model.Team)
	if !isTeam {
		return e.writeFiles(ctx, b, folder, files, res)
	}

	if err := b.writeFile(path.Join(folder, layout.TeamInfoFile), renderTeamInfo(team), ""); err != nil {
		return err
	}
	for _, m := range team.Roster {
		memberFolder := path.Join(folder, layout.IndividualFolder(m))
		if err := b.writeDir(memberFolder); err != nil {
			return err
		}
		if err := e.writeFiles(ctx, b, memberFolder, files, res); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) writeFiles(ctx context.Context, b *builder, folder string, files []model.SubmissionFile, res *Result) error {
	for _, f := range files {
		data, err := e.submissions.ReadSubmission(ctx, f)
		if err != nil {
			log.Printf("[export] %s/%s: %v", folder, f.Name, err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s/%s 读取失败，已跳过: %v", folder, f.Name, err))
			continue
		}
		if err := b.writeFile(path.Join(folder, layout.SafeFileName(f.Name)), data, manifest.KindSubmission); err != nil {
			return err
		}
		res.Files++
	}
	return nil
}

// participantFiles 参与者的提交文件；小组为全体成员提交的并集
//
// 按存储路径去重，同名文件只保留最近提交的一份。
func (e *Exporter) participantFiles(ctx context.Context, assignmentID int64, p model.Participant) ([]model.SubmissionFile, []string) {
	var (
		all      []model.SubmissionFile
		warnings []string
	)
	for _, m := range p.Members() {
		files, err := e.submissions.ListSubmissions(ctx, assignmentID, m.UserID)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: 读取用户 %d 的提交失败: %v", layout.FolderName(p), m.UserID, err))
			continue
		}
		all = append(all, files...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].SubmittedAt.After(all[j].SubmittedAt) })

	byPath := make(map[string]bool, len(all))
	byName := make(map[string]bool, len(all))
	out := make([]model.SubmissionFile, 0, len(all))
	for _, f := range all {
		if byPath[f.StoragePath] {
			continue
		}
		byPath[f.StoragePath] = true
		name := layout.SafeFileName(f.Name)
		if byName[name] {
			warnings = append(warnings, fmt.Sprintf("%s: 较早提交的同名文件 %s 未导出", layout.FolderName(p), f.Name))
			continue
		}
		byName[name] = true
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, warnings
}

func archiveName(a *model.Assignment, now time.Time) string {
	title := layout.SafeName(a.Title)
	if title == "" {
		title = "assignment"
	}
	return fmt.Sprintf("%s_%d_%s.zip", title, a.ID, now.Format("20060102-150405"))
}

// builder 写压缩包并同步记录校验清单
type builder struct {
	zw       *zip.Writer
	manifest *manifest.Manifest
	modified time.Time
}

func (b *builder) writeDir(name string) error {
	_, err := b.zw.CreateHeader(&zip.FileHeader{
		Name:     name + "/",
		Method:   zip.Store,
		Modified: b.modified,
	})
	if err != nil {
		return fmt.Errorf("写入目录 %s 失败: %w", name, err)
	}
	return nil
}

// writeFile 写入文件；kind 非空时记入校验清单
func (b *builder) writeFile(name string, data []byte, kind manifest.Kind) error {
	w, err := b.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: b.modified,
	})
	if err != nil {
		return fmt.Errorf("写入 %s 失败: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", name, err)
	}
	if kind != "" {
		b.manifest.Add(name, manifest.ComputeBytes(data), kind)
	}
	return nil
}

package importer

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gradebridge/internal/artifact"
	"gradebridge/internal/classify"
	"gradebridge/internal/exporter"
	"gradebridge/internal/fanout"
	"gradebridge/internal/manifest"
	"gradebridge/internal/model"
	"gradebridge/internal/statusfile"
	"gradebridge/internal/store"
	"gradebridge/internal/submission"
)

type notifyRecorder struct {
	mu    sync.Mutex
	users []int64
}

func (n *notifyRecorder) Notify(_ context.Context, _, userID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
	return nil
}

type pipeline struct {
	store     *store.Store
	subs      *submission.Service
	artifacts *artifact.MemoryStore
	notifier  *notifyRecorder
	exporter  *exporter.Exporter
	importer  *Coordinator
	tempDir   string
}

func newPipeline(t *testing.T, policy classify.Policy) *pipeline {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	arts := artifact.NewMemoryStore()
	subs, err := submission.NewService(st, arts, 0)
	require.NoError(t, err)
	codec := statusfile.NewCodec(st)
	notifier := &notifyRecorder{}
	tempDir := t.TempDir()

	return &pipeline{
		store:     st,
		subs:      subs,
		artifacts: arts,
		notifier:  notifier,
		exporter:  exporter.NewExporter(exporter.Deps{Participants: st, Submissions: subs, Codec: codec, Logs: st}),
		importer: NewCoordinator(Deps{
			Participants: st,
			Submissions:  subs,
			Status:       st,
			Codec:        codec,
			Resolver:     fanout.NewResolver(subs, st, notifier),
			Uploads:      arts,
			Logs:         st,
		}, Config{TempDir: tempDir, MaxBytes: 10 << 20, MaxEntries: 1000, Policy: policy}),
		tempDir: tempDir,
	}
}

// seedIndividuals 作业 1：U1(3)、U2(4) 各提交 essay.txt
func (p *pipeline) seedIndividuals(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.store.SaveAssignment(ctx, &model.Assignment{ID: 1, Title: "Essay"}))
	for _, id := range []model.Identity{
		{UserID: 3, FirstName: "John", LastName: "Doe", Login: "jdoe"},
		{UserID: 4, FirstName: "Ann", LastName: "Lee", Login: "alee"},
	} {
		require.NoError(t, p.store.Enroll(ctx, 1, id))
		_, err := p.subs.Submit(ctx, 1, id.UserID, "essay.txt", []byte("essay by "+id.Login), time.Time{})
		require.NoError(t, err)
	}
}

// seedTeam 作业 2：三人小组 7，成员 10 提交 report.pdf
func (p *pipeline) seedTeam(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.store.SaveAssignment(ctx, &model.Assignment{ID: 2, Title: "Project", TeamSubmission: true}))
	require.NoError(t, p.store.SaveTeam(ctx, 2, &model.Team{TeamID: 7, Name: "Red", Roster: []model.Identity{
		{UserID: 10, FirstName: "A", LastName: "One", Login: "a1"},
		{UserID: 11, FirstName: "B", LastName: "Two", Login: "b2"},
		{UserID: 12, FirstName: "C", LastName: "Three", Login: "c3"},
	}}))
	_, err := p.subs.Submit(ctx, 2, 10, "report.pdf", []byte("team report"), time.Time{})
	require.NoError(t, err)
}

func (p *pipeline) export(t *testing.T, assignmentID int64) map[string][]byte {
	t.Helper()
	res, err := p.exporter.Export(context.Background(), exporter.ExportOptions{AssignmentID: assignmentID, OutputDir: t.TempDir()})
	require.NoError(t, err)

	zr, err := zip.OpenReader(res.ArchivePath)
	require.NoError(t, err)
	defer zr.Close()
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		files[f.Name] = data
	}
	return files
}

func pack(t *testing.T, files map[string][]byte, extra ...zipEntry) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	entries := make([]zipEntry, 0, len(names)+len(extra))
	for _, n := range names {
		entries = append(entries, zipEntry{name: n, body: string(files[n])})
	}
	return buildZip(t, append(entries, extra...)...)
}

func (p *pipeline) importBytes(t *testing.T, assignmentID int64, data []byte) *model.ImportOutcome {
	t.Helper()
	return p.importer.Run(context.Background(), ImportOptions{
		AssignmentID: assignmentID,
		ActorID:      99,
		Source:       Source{Bytes: data},
	})
}

func requireWorkspaceRemoved(t *testing.T, dir string) {
	t.Helper()
	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, left, "extraction directory must be removed")
}

func TestImport_RoundTripIsIdempotent(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)

	files := p.export(t, 1)
	out := p.importBytes(t, 1, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Empty(t, out.Renamed)
	require.Zero(t, out.AttachedCount)
	require.Equal(t, 2, out.Unchanged)
	require.Zero(t, out.StatusRowsApplied)
	require.Equal(t, "status.xlsx", out.StatusFile)
	require.Empty(t, out.Warnings)
	require.Empty(t, p.notifier.users)
	requireWorkspaceRemoved(t, p.tempDir)
}

func TestImport_ModifiedSubmissionIsRenamedAndAttached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)

	files := p.export(t, 1)
	files["Doe_John_jdoe_3/essay.txt"] = []byte("essay by jdoe\n\n[grader] see margin notes")
	out := p.importBytes(t, 1, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Equal(t, []model.RenamedFile{{
		ParticipantID: 3, Folder: "Doe_John_jdoe_3", From: "essay.txt", To: "essay_modified.txt",
	}}, out.Renamed)
	require.Equal(t, 1, out.AttachedCount)
	require.Equal(t, map[int64][]string{3: {"essay_modified.txt"}}, out.Attached)
	require.Equal(t, 1, out.Unchanged)
	require.Zero(t, out.StatusRowsApplied)
	require.Equal(t, []int64{3}, out.Notified)

	fb, err := p.store.ListFeedback(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, fb, 1)
	require.Equal(t, "essay_modified.txt", fb[0].Filename)
	present, err := p.store.FeedbackPresent(ctx, 1, 3)
	require.NoError(t, err)
	require.True(t, present)

	fb, err = p.store.ListFeedback(ctx, 1, 4)
	require.NoError(t, err)
	require.Empty(t, fb)
}

func TestImport_UnsafeEntriesNeverAttached(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)

	files := p.export(t, 1)
	out := p.importBytes(t, 1, pack(t, files,
		zipEntry{name: "../../evil.txt", body: "evil"},
		zipEntry{name: "/etc/evil.txt", body: "abs"},
		zipEntry{name: "Doe_John_jdoe_3/bad\x00.txt", body: "nul"},
		zipEntry{name: "Doe_John_jdoe_3/link", body: "/etc/passwd", mode: os.ModeSymlink | 0o777},
	))

	require.True(t, out.Success, out.Error)
	require.Zero(t, out.AttachedCount)
	require.Empty(t, out.Renamed)
	require.Empty(t, p.notifier.users)

	reasons := map[string]string{}
	for _, s := range out.Skipped {
		reasons[s.Path] = s.Reason
	}
	// 穿越段被去掉后落在根目录或非参与者目录，不会被分类
	require.Equal(t, "根目录下的文件不属于任何参与者", reasons["evil.txt"])
	require.Equal(t, "不是参与者目录", reasons["etc/evil.txt"])
	require.Contains(t, reasons["Doe_John_jdoe_3/bad\x00.txt"], "security")
	require.Contains(t, reasons["Doe_John_jdoe_3/link"], "security")

	_, err := os.Stat(filepath.Join(filepath.Dir(p.tempDir), "evil.txt"))
	require.True(t, os.IsNotExist(err))
	requireWorkspaceRemoved(t, p.tempDir)
}

func TestImport_TeamFanOutCompleteness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedTeam(t)

	files := p.export(t, 2)
	require.Contains(t, files, "Team_7/Three_C_c3_12/report.pdf", "team union is in every member folder")
	files["Team_7/Two_B_b2_11/review.txt"] = []byte("well done")
	out := p.importBytes(t, 2, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Equal(t, 3, out.AttachedCount)
	require.Equal(t, 3, out.Unchanged)
	for _, uid := range []int64{10, 11, 12} {
		fb, err := p.store.ListFeedback(ctx, 2, uid)
		require.NoError(t, err)
		require.Len(t, fb, 1, "user %d", uid)
		require.Equal(t, "review.txt", fb[0].Filename)
	}
	require.ElementsMatch(t, []int64{10, 11, 12}, p.notifier.users)

	keys, err := p.artifacts.List(ctx, artifact.NamespaceFeedback)
	require.NoError(t, err)
	require.Len(t, keys, 1, "team feedback is stored once")
}

func TestImport_TeamLevelFileAndTeamInfoIgnored(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedTeam(t)

	files := p.export(t, 2)
	files["Team_7/team_info.txt"] = []byte("edited but ignored")
	files["Team_7/grading.pdf"] = []byte("team level")
	out := p.importBytes(t, 2, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Equal(t, 3, out.AttachedCount)
	for _, uid := range []int64{10, 11, 12} {
		require.Equal(t, []string{"grading.pdf"}, out.Attached[uid])
	}
}

func editXLSX(t *testing.T, data []byte, cells map[string]string) []byte {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	for cell, v := range cells {
		require.NoError(t, f.SetCellValue("status", cell, v))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestImport_StatusConflictPrefersPrimary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)

	files := p.export(t, 1)
	// 第 2 行是用户 3：E 列 apply，F 列 status
	files["status.xlsx"] = editXLSX(t, files["status.xlsx"], map[string]string{"E2": "1", "F2": "failed"})
	files["status.csv"] = []byte("id,apply,status\n3,1,passed\n")
	out := p.importBytes(t, 1, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Equal(t, "status.xlsx", out.StatusFile)
	require.Equal(t, 1, out.StatusRowsApplied)
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0], "status.xlsx")
	require.Contains(t, out.Warnings[0], "status.csv")

	st, err := p.store.GradeState(ctx, 1, 3)
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, st.Status)
}

func TestImport_OnlySecondaryStatusModified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)

	files := p.export(t, 1)
	files["status.csv"] = []byte("id,apply,status,mark\n3,1,passed,10\n4,0,failed,0\n42,1,passed,1\n")
	out := p.importBytes(t, 1, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Equal(t, "status.csv", out.StatusFile)
	require.Equal(t, 1, out.StatusRowsApplied)
	require.Len(t, out.Warnings, 1, "row for unknown participant is reported")

	st, err := p.store.GradeState(ctx, 1, 3)
	require.NoError(t, err)
	require.Equal(t, model.StatusPassed, st.Status)
	require.Equal(t, "10", st.Mark)
	st, err = p.store.GradeState(ctx, 1, 4)
	require.NoError(t, err)
	require.Equal(t, model.StatusNotGraded, st.Status)
}

func TestImport_StructuralValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)
	p.seedTeam(t)

	// 小组作业却没有 Team_ 目录
	teamArchive := pack(t, map[string][]byte{
		"status.csv":        []byte("id,apply,status\n7,1,passed\n"),
		"One_A_a1_10/x.txt": []byte("x"),
		"notes/readme.txt":  []byte("n"),
	})
	out := p.importBytes(t, 2, teamArchive)
	require.False(t, out.Success)
	require.Equal(t, model.ErrorKindValidation, out.ErrorKind)
	require.Zero(t, out.StatusRowsApplied)
	st, err := p.store.GradeState(ctx, 2, 7)
	require.NoError(t, err)
	require.Equal(t, model.StatusNotGraded, st.Status)

	// 个人作业里出现 Team_ 目录
	files := p.export(t, 1)
	files["status.csv"] = []byte("id,apply,status\n3,1,passed\n")
	files["Team_5/review.txt"] = []byte("r")
	out = p.importBytes(t, 1, pack(t, files))
	require.False(t, out.Success)
	require.Equal(t, model.ErrorKindValidation, out.ErrorKind)
	require.Zero(t, out.AttachedCount)
	st, err = p.store.GradeState(ctx, 1, 3)
	require.NoError(t, err)
	require.Equal(t, model.StatusNotGraded, st.Status)

	requireWorkspaceRemoved(t, p.tempDir)
}

func TestImport_WithoutManifestEverythingIsFeedback(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)

	files := p.export(t, 1)
	delete(files, "checksums.json")
	out := p.importBytes(t, 1, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Equal(t, 2, out.AttachedCount)
	require.Empty(t, out.Renamed)
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0], "checksums.json")
}

func TestImport_CorruptManifestWarnsOnce(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)

	files := p.export(t, 1)
	files["checksums.json"] = []byte("{not json")
	out := p.importBytes(t, 1, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Equal(t, 2, out.AttachedCount)
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0], "无法解析")
	require.NotContains(t, out.Warnings[0], "不含")
}

func TestImport_TeamLikeIndividualNameRoundTrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPipeline(t, classify.PolicyUnchanged)
	require.NoError(t, p.store.SaveAssignment(ctx, &model.Assignment{ID: 5, Title: "Essay"}))
	for _, id := range []model.Identity{
		{UserID: 3, FirstName: "Anna", LastName: "Team", Login: "ateam"},
		{UserID: 8, FirstName: "Team"},
	} {
		require.NoError(t, p.store.Enroll(ctx, 5, id))
		_, err := p.subs.Submit(ctx, 5, id.UserID, "essay.txt", []byte("essay by "+id.FirstName), time.Time{})
		require.NoError(t, err)
	}

	files := p.export(t, 5)
	require.Contains(t, files, "team_Anna_ateam_3/essay.txt")
	require.Contains(t, files, "team_8/essay.txt")

	out := p.importBytes(t, 5, pack(t, files))
	require.True(t, out.Success, out.Error)
	require.Equal(t, 2, out.Unchanged)
	require.Zero(t, out.AttachedCount)
	require.Empty(t, out.Skipped)

	files["team_Anna_ateam_3/feedback.txt"] = []byte("well done")
	out = p.importBytes(t, 5, pack(t, files))
	require.True(t, out.Success, out.Error)
	require.Equal(t, map[int64][]string{3: {"feedback.txt"}}, out.Attached)

	// 旧版本导出的 "Team_<姓名>..." 目录仍按个人目录识别
	legacy := map[string][]byte{"Team_Anna_ateam_3/notes.txt": []byte("notes")}
	out = p.importBytes(t, 5, pack(t, legacy))
	require.True(t, out.Success, out.Error)
	require.Equal(t, map[int64][]string{3: {"notes.txt"}}, out.Attached)

	fb, err := p.store.ListFeedback(ctx, 5, 3)
	require.NoError(t, err)
	require.Len(t, fb, 2)
}

func TestImport_EmptyAssignmentRoundTrips(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, classify.PolicyUnchanged)
	require.NoError(t, p.store.SaveAssignment(context.Background(), &model.Assignment{ID: 6, Title: "Empty"}))

	files := p.export(t, 6)
	require.Contains(t, files, "checksums.json")
	out := p.importBytes(t, 6, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Zero(t, out.AttachedCount)
	require.Zero(t, out.StatusRowsApplied)
	require.Empty(t, out.Skipped)

	// 有参与者的作业仍然要求参与者目录
	p.seedIndividuals(t)
	out = p.importBytes(t, 1, pack(t, map[string][]byte{"README.md": []byte("x")}))
	require.False(t, out.Success)
	require.Equal(t, model.ErrorKindValidation, out.ErrorKind)
}

func TestImport_UnknownParticipantFolderIsSkipped(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)

	files := p.export(t, 1)
	files["Stranger_Sam_sam_77/hello.txt"] = []byte("hi")
	out := p.importBytes(t, 1, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Zero(t, out.AttachedCount)
	require.Len(t, out.Warnings, 1)
	require.Equal(t, []model.SkippedEntry{{Path: "Stranger_Sam_sam_77/hello.txt", Reason: "参与者不属于本作业"}}, out.Skipped)
}

func TestImport_InvalidArchives(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)

	for name, data := range map[string][]byte{
		"garbage": []byte("not a zip"),
		"empty":   pack(t, map[string][]byte{}),
	} {
		out := p.importBytes(t, 1, data)
		require.False(t, out.Success, name)
		require.Equal(t, model.ErrorKindValidation, out.ErrorKind, name)
		require.NotEmpty(t, out.Error, name)
	}

	out := p.importer.Run(context.Background(), ImportOptions{AssignmentID: 1})
	require.Equal(t, model.ErrorKindValidation, out.ErrorKind, "no source")

	out = p.importBytes(t, 404, pack(t, map[string][]byte{"a/b.txt": []byte("x")}))
	require.Equal(t, model.ErrorKindValidation, out.ErrorKind, "unknown assignment")
}

func TestImport_SourcesAndProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPipeline(t, classify.PolicyUnchanged)
	p.seedIndividuals(t)

	files := p.export(t, 1)
	files["Lee_Ann_alee_4/comments.md"] = []byte("nice")
	data := pack(t, files)

	// 本地路径
	path := filepath.Join(t.TempDir(), "graded.zip")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	out := p.importer.Run(ctx, ImportOptions{AssignmentID: 1, Source: Source{Path: path}})
	require.True(t, out.Success, out.Error)
	require.Equal(t, 1, out.AttachedCount)

	// 制品存储中的上传结果，经进度通道
	require.NoError(t, p.artifacts.Put(ctx, artifact.NamespaceUploads, "u1.zip", data))
	var last ProgressEvent
	types := map[string]bool{}
	for ev := range p.importer.Import(ctx, ImportOptions{AssignmentID: 1, Source: Source{StorageKey: "uploads/u1.zip"}}) {
		types[ev.Type] = true
		last = ev
	}
	require.Equal(t, "done", last.Type)
	require.True(t, types["start"])
	require.True(t, types["folder"])
	outcome, ok := last.Data.(*model.ImportOutcome)
	require.True(t, ok)
	require.True(t, outcome.Success)
	require.Equal(t, []int64{4}, outcome.Notified, "a new run notifies again")

	logs, err := p.store.ListImportLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "success", logs[0].Status)
}

func TestImport_UnverifiedMatchPolicy(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, classify.PolicyFeedback)
	p.seedIndividuals(t)

	files := p.export(t, 1)
	// 清单里只保留 U2 的提交记录，U1 的 essay.txt 按名称匹配但无法校验
	m := manifest.New()
	m.Add("Lee_Ann_alee_4/essay.txt", manifest.ComputeBytes(files["Lee_Ann_alee_4/essay.txt"]), manifest.KindSubmission)
	encoded, err := m.Encode()
	require.NoError(t, err)
	files["checksums.json"] = encoded
	out := p.importBytes(t, 1, pack(t, files))

	require.True(t, out.Success, out.Error)
	require.Equal(t, map[int64][]string{3: {"essay.txt"}}, out.Attached)
	require.Equal(t, 1, out.Unchanged)
}


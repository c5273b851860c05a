package importer

import (
	"io"
	"sort"

	"gradebridge/internal/layout"
	"gradebridge/internal/manifest"
	"gradebridge/internal/model"
	"gradebridge/internal/statusfile"
)

// VerifyState 单个文件相对清单的状态
type VerifyState string

const (
	VerifyUnchanged VerifyState = "unchanged"
	VerifyModified  VerifyState = "modified"
	VerifyNew       VerifyState = "new"     // 清单中没有
	VerifyMissing   VerifyState = "missing" // 清单中有但压缩包里没有
)

// VerifyEntry 校验结果中的一行
type VerifyEntry struct {
	Path  string      `json:"path"`
	State VerifyState `json:"state"`
}

// VerifyReport 离线校验报告，不访问任何存储
type VerifyReport struct {
	HasManifest bool                 `json:"hasManifest"`
	StatusFile  string               `json:"statusFile,omitempty"`
	Conflict    string               `json:"conflict,omitempty"`
	Entries     []VerifyEntry        `json:"entries"`
	Skipped     []model.SkippedEntry `json:"skipped"`
	Warnings    []string             `json:"warnings"`
}

// Count 统计某种状态的文件数
func (r *VerifyReport) Count(s VerifyState) int {
	n := 0
	for _, e := range r.Entries {
		if e.State == s {
			n++
		}
	}
	return n
}

// Verify 解压压缩包并与内置清单比对，报告每个文件是否被修改以及将应用哪个状态文件
func Verify(r io.ReaderAt, size int64, opts ExtractOptions) (*VerifyReport, error) {
	ws, err := Extract(r, size, opts)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	report := &VerifyReport{
		Entries:  []VerifyEntry{},
		Skipped:  ws.Skipped,
		Warnings: ws.Warnings,
	}

	m, err := manifest.Load(ws.Root())
	if err != nil {
		report.Warnings = append(report.Warnings, err.Error())
		m = nil
	}
	report.HasManifest = m != nil

	present := make(map[string]struct{}, len(ws.Entries))
	for _, e := range ws.Entries {
		present[manifest.Key(e.Path)] = struct{}{}
		if e.Path == layout.ManifestFile || e.Path == layout.ReadmeFile {
			continue
		}
		d, err := manifest.ComputeFile(e.AbsPath)
		if err != nil {
			report.Skipped = append(report.Skipped, model.SkippedEntry{Path: e.Path, Reason: err.Error()})
			continue
		}
		state := VerifyNew
		if changed, known := m.Changed(e.Path, d); known {
			state = VerifyUnchanged
			if changed {
				state = VerifyModified
			}
		}
		report.Entries = append(report.Entries, VerifyEntry{Path: e.Path, State: state})
	}
	for _, p := range m.Paths() {
		if _, ok := present[p]; !ok {
			report.Entries = append(report.Entries, VerifyEntry{Path: p, State: VerifyMissing})
		}
	}
	sort.Slice(report.Entries, func(i, j int) bool { return report.Entries[i].Path < report.Entries[j].Path })

	sel, err := statusfile.Select(ws.Root(), m)
	if err != nil {
		report.Warnings = append(report.Warnings, err.Error())
	} else if sel != nil {
		report.StatusFile = sel.Name
		report.Conflict = sel.Conflict
	}
	return report, nil
}

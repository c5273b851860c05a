package statusfile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gradebridge/internal/layout"
	"gradebridge/internal/model"
)

// Codec 状态文件编解码器
type Codec interface {
	Render(ctx context.Context, a *model.Assignment, participants []model.Participant, f Format) ([]byte, error)
	Parse(data []byte, f Format) ([]model.StatusUpdateRecord, error)
}

// GradeSource 提供渲染所需的当前评分状态
type GradeSource interface {
	GradeStates(ctx context.Context, assignmentID int64) (map[int64]model.GradeState, error)
}

// ErrInvalidFile 状态文件结构无效（缺少必需列、无法解码），与“没有可应用的行”区分
var ErrInvalidFile = errors.New("invalid status file")

// 列名（表头，大小写不敏感）
const (
	ColID      = "id"
	ColFolder  = "folder"
	ColName    = "name"
	ColLogin   = "login"
	ColApply   = "apply"
	ColStatus  = "status"
	ColMark    = "mark"
	ColNotice  = "notice"
	ColComment = "comment"
)

var baseColumns = []string{ColID, ColFolder, ColName, ColLogin, ColApply, ColStatus, ColMark, ColNotice, ColComment}

// TableCodec 默认编解码器：格式 A 为 xlsx，格式 B 为 csv，两者列相同
type TableCodec struct {
	grades GradeSource
}

// NewCodec 创建默认编解码器
func NewCodec(grades GradeSource) *TableCodec {
	return &TableCodec{grades: grades}
}

// Render 渲染状态文件；apply 列一律为 0，原样导回不会修改任何评分
func (c *TableCodec) Render(ctx context.Context, a *model.Assignment, participants []model.Participant, f Format) ([]byte, error) {
	states := map[int64]model.GradeState{}
	if c.grades != nil {
		var err error
		states, err = c.grades.GradeStates(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("load grades: %w", err)
		}
	}
	table := buildTable(participants, states)
	switch f {
	case FormatXLSX:
		return encodeXLSX(a, table)
	case FormatCSV:
		return encodeCSV(table)
	}
	return nil, fmt.Errorf("unsupported status format %q", f)
}

// Parse 解析状态文件
func (c *TableCodec) Parse(data []byte, f Format) ([]model.StatusUpdateRecord, error) {
	var (
		rows [][]string
		err  error
	)
	switch f {
	case FormatXLSX:
		rows, err = decodeXLSX(data)
	case FormatCSV:
		rows, err = decodeCSV(data)
	default:
		return nil, fmt.Errorf("unsupported status format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return recordsFromTable(rows)
}

func buildTable(participants []model.Participant, states map[int64]model.GradeState) [][]string {
	extraSet := map[string]struct{}{}
	for _, s := range states {
		for k := range s.Extra {
			extraSet[strings.ToLower(k)] = struct{}{}
		}
	}
	extras := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extras = append(extras, k)
	}
	sort.Strings(extras)

	header := append(append([]string{}, baseColumns...), extras...)
	table := [][]string{header}
	for _, p := range participants {
		st, ok := states[p.ID()]
		if !ok {
			st = model.GradeState{Status: model.StatusNotGraded}
		}
		name, login := participantLabel(p)
		row := []string{
			strconv.FormatInt(p.ID(), 10),
			layout.FolderName(p),
			name,
			login,
			"0",
			st.Status,
			st.Mark,
			st.Notice,
			st.Comment,
		}
		for _, k := range extras {
			row = append(row, st.Extra[k])
		}
		table = append(table, row)
	}
	return table
}

func participantLabel(p model.Participant) (name, login string) {
	switch v := p.(type) {
	case *model.Individual:
		return v.DisplayName(), v.Login
	case *model.Team:
		if v.Name != "" {
			return v.Name, ""
		}
		return layout.TeamFolder(v.TeamID), ""
	}
	return strconv.FormatInt(p.ID(), 10), ""
}

func recordsFromTable(rows [][]string) ([]model.StatusUpdateRecord, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrInvalidFile)
	}
	index := map[string]int{}
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if key == "" {
			continue
		}
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	for _, required := range []string{ColID, ColApply} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidFile, required)
		}
	}

	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	isBase := make(map[string]bool, len(baseColumns))
	for _, c := range baseColumns {
		isBase[c] = true
	}

	records := make([]model.StatusUpdateRecord, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		rec := model.StatusUpdateRecord{
			Row:     n + 2,
			Login:   cell(row, ColLogin),
			Apply:   parseApply(cell(row, ColApply)),
			Status:  cell(row, ColStatus),
			Mark:    cell(row, ColMark),
			Notice:  cell(row, ColNotice),
			Comment: cell(row, ColComment),
		}
		// 无法解析的 ID 保留为 0，由应用方按行报错
		if id, err := strconv.ParseInt(cell(row, ColID), 10, 64); err == nil {
			rec.ParticipantID = id
		}
		for col := range index {
			if isBase[col] {
				continue
			}
			if v := cell(row, col); v != "" {
				if rec.Extra == nil {
					rec.Extra = map[string]string{}
				}
				rec.Extra[col] = v
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseApply(v string) bool {
	switch strings.ToLower(v) {
	case "1", "x", "y", "yes", "true", "是":
		return true
	}
	return false
}

package exporter

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
	"time"

	"gradebridge/internal/layout"
	"gradebridge/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var readmeTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type readmeData struct {
	Title            string
	ExportedAt       string
	ParticipantCount int
	Statuses         []string
	Marker           string
}

// renderReadme 按参与者类型渲染操作说明
func renderReadme(a *model.Assignment, participants int, now time.Time) ([]byte, error) {
	name := "readme_individual.md.tmpl"
	if a.ParticipantKind() == model.KindTeam {
		name = "readme_team.md.tmpl"
	}
	title := a.Title
	if title == "" {
		title = fmt.Sprintf("Assignment %d", a.ID)
	}
	var buf bytes.Buffer
	err := readmeTemplates.ExecuteTemplate(&buf, name, readmeData{
		Title:            title,
		ExportedAt:       now.Format("2006-01-02 15:04"),
		ParticipantCount: participants,
		Statuses:         []string{model.StatusNotGraded, model.StatusPassed, model.StatusFailed},
		Marker:           layout.ModificationMarker,
	})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// renderTeamInfo 小组信息（仅供阅读，导入时忽略）
func renderTeamInfo(t *model.Team) []byte {
	var buf bytes.Buffer
	name := t.Name
	if name == "" {
		name = layout.TeamFolder(t.TeamID)
	}
	fmt.Fprintf(&buf, "Team: %s\nID: %d\nMembers:\n", name, t.TeamID)
	for _, m := range t.Roster {
		fmt.Fprintf(&buf, "  - %s (%s, id %d)\n", m.DisplayName(), m.Login, m.UserID)
	}
	return buf.Bytes()
}

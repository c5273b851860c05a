package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gradebridge/internal/model"
)

// ImportLog 一次导入运行的审计记录
type ImportLog struct {
	ID            int64      `json:"id"`
	RunID         string     `json:"runId"`
	AssignmentID  int64      `json:"assignmentId"`
	ActorID       int64      `json:"actorId"`
	Source        string     `json:"source"`
	Status        string     `json:"status"`
	StatusFile    string     `json:"statusFile"`
	RowsApplied   int        `json:"rowsApplied"`
	AttachedCount int        `json:"attachedCount"`
	RenamedCount  int        `json:"renamedCount"`
	SkippedCount  int        `json:"skippedCount"`
	Warnings      []string   `json:"warnings"`
	ErrorKind     string     `json:"errorKind"`
	ErrorMessage  string     `json:"errorMessage"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// CreateImportLog 创建导入日志，返回 import_log_id
func (s *Store) CreateImportLog(ctx context.Context, runID string, assignmentID, actorID int64, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO import_logs (run_id, assignment_id, actor_id, source, status)
		VALUES (?, ?, ?, ?, 'processing')
	`, runID, assignmentID, actorID, source)
	if err != nil {
		return 0, fmt.Errorf("failed to create import log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get import log id: %w", err)
	}
	return id, nil
}

// FinishImportLog 用导入结果完成日志
func (s *Store) FinishImportLog(ctx context.Context, id int64, o *model.ImportOutcome) error {
	status := "success"
	if !o.Success {
		status = "failed"
	}
	warnings, err := json.Marshal(o.Warnings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE import_logs SET
			status = ?,
			status_file = ?,
			rows_applied = ?,
			attached_count = ?,
			renamed_count = ?,
			skipped_count = ?,
			warnings_json = ?,
			error_kind = ?,
			error_message = ?,
			completed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, o.StatusFile, o.StatusRowsApplied, o.AttachedCount, len(o.Renamed), len(o.Skipped),
		string(warnings), string(o.ErrorKind), o.Error, id)
	if err != nil {
		return fmt.Errorf("failed to update import log: %w", err)
	}
	return nil
}

// ListImportLogs 返回作业的导入记录（最新在前）
func (s *Store) ListImportLogs(ctx context.Context, assignmentID int64) ([]ImportLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, assignment_id, actor_id, source, status, status_file, rows_applied,
			attached_count, renamed_count, skipped_count, warnings_json, error_kind, error_message,
			started_at, completed_at
		FROM import_logs WHERE assignment_id = ?
		ORDER BY id DESC
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query import logs: %w", err)
	}
	defer rows.Close()

	var out []ImportLog
	for rows.Next() {
		var (
			l        ImportLog
			warnings string
		)
		if err := rows.Scan(&l.ID, &l.RunID, &l.AssignmentID, &l.ActorID, &l.Source, &l.Status,
			&l.StatusFile, &l.RowsApplied, &l.AttachedCount, &l.RenamedCount, &l.SkippedCount,
			&warnings, &l.ErrorKind, &l.ErrorMessage, &l.StartedAt, &l.CompletedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(warnings), &l.Warnings)
		out = append(out, l)
	}
	return out, rows.Err()
}

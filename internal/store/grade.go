package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gradebridge/internal/model"
)

var validStatuses = map[string]bool{
	model.StatusNotGraded: true,
	model.StatusPassed:    true,
	model.StatusFailed:    true,
}

// GradeStates 返回作业下全部参与者的当前评分（key 为参与者 ID）
func (s *Store) GradeStates(ctx context.Context, assignmentID int64) (map[int64]model.GradeState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, status, mark, notice, comment, extra_json
		FROM grades WHERE assignment_id = ?
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query grades: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]model.GradeState)
	for rows.Next() {
		var (
			id    int64
			st    model.GradeState
			extra string
		)
		if err := rows.Scan(&id, &st.Status, &st.Mark, &st.Notice, &st.Comment, &extra); err != nil {
			return nil, err
		}
		if extra != "" && extra != "{}" {
			if err := json.Unmarshal([]byte(extra), &st.Extra); err != nil {
				return nil, fmt.Errorf("grade %d: bad extra_json: %w", id, err)
			}
		}
		out[id] = st
	}
	return out, rows.Err()
}

// GradeState 返回单个参与者的评分
func (s *Store) GradeState(ctx context.Context, assignmentID, participantID int64) (model.GradeState, error) {
	var (
		st    model.GradeState
		extra string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, mark, notice, comment, extra_json
		FROM grades WHERE assignment_id = ? AND participant_id = ?
	`, assignmentID, participantID).Scan(&st.Status, &st.Mark, &st.Notice, &st.Comment, &extra)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GradeState{Status: model.StatusNotGraded}, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to get grade: %w", err)
	}
	if extra != "" && extra != "{}" {
		_ = json.Unmarshal([]byte(extra), &st.Extra)
	}
	return st, nil
}

// ApplyStatusRow 应用状态文件中的一行；每行独立提交
//
// 空字段表示保持原值。参与者必须属于该作业，状态值必须合法。
func (s *Store) ApplyStatusRow(ctx context.Context, assignmentID, actorID int64, rec model.StatusUpdateRecord) error {
	if rec.ParticipantID <= 0 {
		return fmt.Errorf("missing or invalid participant id")
	}
	status := strings.ToLower(strings.TrimSpace(rec.Status))
	if status != "" && !validStatuses[status] {
		return fmt.Errorf("invalid status %q", rec.Status)
	}

	ok, err := s.isParticipant(ctx, assignmentID, rec.ParticipantID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("participant %d: %w", rec.ParticipantID, ErrNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur := model.GradeState{Status: model.StatusNotGraded}
	var extra string
	err = tx.QueryRowContext(ctx, `
		SELECT status, mark, notice, comment, extra_json
		FROM grades WHERE assignment_id = ? AND participant_id = ?
	`, assignmentID, rec.ParticipantID).Scan(&cur.Status, &cur.Mark, &cur.Notice, &cur.Comment, &extra)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read grade: %w", err)
	}
	if extra != "" && extra != "{}" {
		_ = json.Unmarshal([]byte(extra), &cur.Extra)
	}

	if status != "" {
		cur.Status = status
	}
	cur.Mark = keep(cur.Mark, rec.Mark)
	cur.Notice = keep(cur.Notice, rec.Notice)
	cur.Comment = keep(cur.Comment, rec.Comment)
	for k, v := range rec.Extra {
		if cur.Extra == nil {
			cur.Extra = map[string]string{}
		}
		cur.Extra[k] = v
	}
	extraJSON := []byte("{}")
	if len(cur.Extra) > 0 {
		extraJSON, err = json.Marshal(cur.Extra)
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO grades (assignment_id, participant_id, status, mark, notice, comment, extra_json, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(assignment_id, participant_id) DO UPDATE SET
			status = excluded.status,
			mark = excluded.mark,
			notice = excluded.notice,
			comment = excluded.comment,
			extra_json = excluded.extra_json,
			updated_by = excluded.updated_by,
			updated_at = CURRENT_TIMESTAMP
	`, assignmentID, rec.ParticipantID, cur.Status, cur.Mark, cur.Notice, cur.Comment, string(extraJSON), actorID); err != nil {
		return fmt.Errorf("failed to save grade: %w", err)
	}
	return tx.Commit()
}

func keep(cur, next string) string {
	if strings.TrimSpace(next) == "" {
		return cur
	}
	return next
}

func (s *Store) isParticipant(ctx context.Context, assignmentID, participantID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM enrollments e
			   JOIN assignments a ON a.id = e.assignment_id
			  WHERE e.assignment_id = ? AND e.user_id = ? AND a.team_submission = 0) +
			(SELECT COUNT(*) FROM teams t
			   JOIN assignments a ON a.id = t.assignment_id
			  WHERE t.assignment_id = ? AND t.id = ? AND a.team_submission = 1)
	`, assignmentID, participantID, assignmentID, participantID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return n > 0, nil
}

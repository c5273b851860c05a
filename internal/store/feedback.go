package store

import (
	"context"
	"fmt"
	"time"
)

// FeedbackFile 反馈文件与用户的关联
type FeedbackFile struct {
	ID           int64     `json:"id"`
	AssignmentID int64     `json:"assignmentId"`
	UserID       int64     `json:"userId"`
	Filename     string    `json:"filename"`
	StorageKey   string    `json:"storageKey"`
	SHA256       string    `json:"sha256"`
	Size         int64     `json:"size"`
	RunID        string    `json:"runId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AddFeedback 记录一条反馈关联；多个成员可以指向同一个 storage_key
func (s *Store) AddFeedback(ctx context.Context, f FeedbackFile) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_files (assignment_id, user_id, filename, storage_key, sha256, size, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.AssignmentID, f.UserID, f.Filename, f.StorageKey, f.SHA256, f.Size, f.RunID)
	if err != nil {
		return 0, fmt.Errorf("failed to add feedback: %w", err)
	}
	return res.LastInsertId()
}

// ListFeedback 返回用户在作业下的反馈文件（按添加顺序）
func (s *Store) ListFeedback(ctx context.Context, assignmentID, userID int64) ([]FeedbackFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assignment_id, user_id, filename, storage_key, sha256, size, run_id, created_at
		FROM feedback_files
		WHERE assignment_id = ? AND user_id = ?
		ORDER BY id
	`, assignmentID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []FeedbackFile
	for rows.Next() {
		var f FeedbackFile
		if err := rows.Scan(&f.ID, &f.AssignmentID, &f.UserID, &f.Filename, &f.StorageKey,
			&f.SHA256, &f.Size, &f.RunID, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetFeedbackFlag 标记用户已有反馈
func (s *Store) SetFeedbackFlag(ctx context.Context, assignmentID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_flags (assignment_id, user_id, present) VALUES (?, ?, 1)
		ON CONFLICT(assignment_id, user_id) DO UPDATE SET present = 1, updated_at = CURRENT_TIMESTAMP
	`, assignmentID, userID)
	if err != nil {
		return fmt.Errorf("failed to set feedback flag: %w", err)
	}
	return nil
}

// FeedbackPresent 查询反馈标记
func (s *Store) FeedbackPresent(ctx context.Context, assignmentID, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM feedback_flags WHERE assignment_id = ? AND user_id = ? AND present = 1",
		assignmentID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query feedback flag: %w", err)
	}
	return n > 0, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"gradebridge/internal/model"
)

// AddSubmission 记录一个已提交文件
func (s *Store) AddSubmission(ctx context.Context, assignmentID int64, f model.SubmissionFile) error {
	submittedAt := f.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submission_files (assignment_id, user_id, name, storage_path, submitted_at)
		VALUES (?, ?, ?, ?, ?)
	`, assignmentID, f.UserID, f.Name, f.StoragePath, submittedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to add submission: %w", err)
	}
	return nil
}

// ListSubmissionFiles 返回用户在作业下的提交文件（最新在前）
func (s *Store) ListSubmissionFiles(ctx context.Context, assignmentID, userID int64) ([]model.SubmissionFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, name, storage_path, submitted_at
		FROM submission_files
		WHERE assignment_id = ? AND user_id = ?
		ORDER BY submitted_at DESC, id DESC
	`, assignmentID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var out []model.SubmissionFile
	for rows.Next() {
		var f model.SubmissionFile
		if err := rows.Scan(&f.UserID, &f.Name, &f.StoragePath, &f.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

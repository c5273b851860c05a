package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gradebridge/internal/model"
)

// SaveAssignment 新建或更新作业
func (s *Store) SaveAssignment(ctx context.Context, a *model.Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (id, title, team_submission) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, team_submission = excluded.team_submission
	`, a.ID, a.Title, a.TeamSubmission)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

// GetAssignment 按 ID 读取作业
func (s *Store) GetAssignment(ctx context.Context, id int64) (*model.Assignment, error) {
	a := &model.Assignment{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, team_submission FROM assignments WHERE id = ?", id,
	).Scan(&a.ID, &a.Title, &a.TeamSubmission)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assignment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

package store

import (
	"context"
	"fmt"

	"gradebridge/internal/model"
)

// SaveUser 新建或更新用户身份
func (s *Store) SaveUser(ctx context.Context, id model.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, first_name, last_name, login) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			login = excluded.login
	`, id.UserID, id.FirstName, id.LastName, id.Login)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Enroll 将用户登记为个人作业的参与者
func (s *Store) Enroll(ctx context.Context, assignmentID int64, id model.Identity) error {
	if err := s.SaveUser(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO enrollments (assignment_id, user_id) VALUES (?, ?)",
		assignmentID, id.UserID)
	if err != nil {
		return fmt.Errorf("failed to enroll user: %w", err)
	}
	return nil
}

// SaveTeam 新建或替换小组及其成员（成员顺序按 Roster）
func (s *Store) SaveTeam(ctx context.Context, assignmentID int64, team *model.Team) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO teams (id, assignment_id, name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET assignment_id = excluded.assignment_id, name = excluded.name
	`, team.TeamID, assignmentID, team.Name); err != nil {
		return fmt.Errorf("failed to save team: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM team_members WHERE team_id = ?", team.TeamID); err != nil {
		return fmt.Errorf("failed to reset team members: %w", err)
	}
	for i, m := range team.Roster {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, first_name, last_name, login) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				login = excluded.login
		`, m.UserID, m.FirstName, m.LastName, m.Login); err != nil {
			return fmt.Errorf("failed to save team member: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO team_members (team_id, user_id, position) VALUES (?, ?, ?)",
			team.TeamID, m.UserID, i); err != nil {
			return fmt.Errorf("failed to add team member: %w", err)
		}
	}
	return tx.Commit()
}

// ListParticipants 按作业类型返回全部参与者（按 ID 升序）
func (s *Store) ListParticipants(ctx context.Context, assignmentID int64) ([]model.Participant, error) {
	a, err := s.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.TeamSubmission {
		return s.listTeams(ctx, assignmentID)
	}
	return s.listIndividuals(ctx, assignmentID)
}

func (s *Store) listIndividuals(ctx context.Context, assignmentID int64) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.first_name, u.last_name, u.login
		FROM enrollments e JOIN users u ON u.id = e.user_id
		WHERE e.assignment_id = ?
		ORDER BY u.id
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var id model.Identity
		if err := rows.Scan(&id.UserID, &id.FirstName, &id.LastName, &id.Login); err != nil {
			return nil, err
		}
		out = append(out, &model.Individual{Identity: id})
	}
	return out, rows.Err()
}

func (s *Store) listTeams(ctx context.Context, assignmentID int64) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, u.id, u.first_name, u.last_name, u.login
		FROM teams t
		LEFT JOIN team_members m ON m.team_id = t.id
		LEFT JOIN users u ON u.id = m.user_id
		WHERE t.assignment_id = ?
		ORDER BY t.id, m.position, u.id
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams: %w", err)
	}
	defer rows.Close()

	var (
		out  []model.Participant
		last *model.Team
	)
	for rows.Next() {
		var (
			teamID              int64
			name                string
			userID              *int64
			first, lastN, login *string
		)
		if err := rows.Scan(&teamID, &name, &userID, &first, &lastN, &login); err != nil {
			return nil, err
		}
		if last == nil || last.TeamID != teamID {
			last = &model.Team{TeamID: teamID, Name: name}
			out = append(out, last)
		}
		if userID != nil {
			last.Roster = append(last.Roster, model.Identity{
				UserID:    *userID,
				FirstName: deref(first),
				LastName:  deref(lastN),
				Login:     deref(login),
			})
		}
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package store

import (
	"context"
	"fmt"
)

// CreateExportLog 记录一次导出，manifestJSON 为导出时写入压缩包的校验清单
func (s *Store) CreateExportLog(ctx context.Context, assignmentID int64, filename string, participants, files int, manifestJSON []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO export_logs (assignment_id, filename, participant_count, file_count, manifest_json)
		VALUES (?, ?, ?, ?, ?)
	`, assignmentID, filename, participants, files, string(manifestJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to create export log: %w", err)
	}
	return res.LastInsertId()
}

package store

import (
	"context"
	"database/sql"
	"errors"
)

const checkpointColumns = `id, book_id, chapter_idx, step_size, snapshot_json, snapshot_hash, created_at`

// UpsertCheckpoint writes a checkpoint keyed by (book_id, chapter_idx,
// step_size), replacing the snapshot on conflict. Checkpoints are never
// deleted by restore.
func (s *Session) UpsertCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO world_state_checkpoints (book_id, chapter_idx, step_size, snapshot_json, snapshot_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(book_id, chapter_idx, step_size) DO UPDATE SET
			snapshot_json = excluded.snapshot_json,
			snapshot_hash = excluded.snapshot_hash
	`, cp.BookID, cp.ChapterIdx, cp.StepSize, cp.SnapshotJSON, cp.SnapshotHash)
	return err
}

// GetCheckpoint retrieves the checkpoint at an exact boundary; nil when
// absent.
func (s *Session) GetCheckpoint(ctx context.Context, bookID int64, chapterIdx, stepSize int) (*Checkpoint, error) {
	return scanCheckpoint(s.q.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+` FROM world_state_checkpoints
		WHERE book_id = ? AND chapter_idx = ? AND step_size = ?
	`, bookID, chapterIdx, stepSize))
}

// LatestCheckpointAtOrBefore returns the newest checkpoint with
// chapter_idx <= maxChapterIdx for the given step size; nil when none.
func (s *Session) LatestCheckpointAtOrBefore(ctx context.Context, bookID int64, maxChapterIdx, stepSize int) (*Checkpoint, error) {
	return scanCheckpoint(s.q.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+` FROM world_state_checkpoints
		WHERE book_id = ? AND chapter_idx <= ? AND step_size = ?
		ORDER BY chapter_idx DESC, created_at DESC, id DESC LIMIT 1
	`, bookID, maxChapterIdx, stepSize))
}

func scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	var cp Checkpoint
	err := row.Scan(&cp.ID, &cp.BookID, &cp.ChapterIdx, &cp.StepSize,
		&cp.SnapshotJSON, &cp.SnapshotHash, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

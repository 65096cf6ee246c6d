package store

import (
	"context"
	"database/sql"
	"errors"
)

const narrationColumns = `id, book_id, chapter_id, chapter_idx, prompt_version, model, input_hash, narration_text, key_events_json, created_at`

// InsertNarration inserts a narration unless one already exists for the same
// (chapter_id, prompt_version, model, input_hash). Returns the row id of the
// inserted or existing narration and whether a new row was created.
func (s *Session) InsertNarration(ctx context.Context, n Narration) (int64, bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO narrations (book_id, chapter_id, chapter_idx, prompt_version, model, input_hash, narration_text, key_events_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chapter_id, prompt_version, model, input_hash) DO NOTHING
	`, n.BookID, n.ChapterID, n.ChapterIdx, n.PromptVersion, n.Model, n.InputHash, n.NarrationText, n.KeyEventsJSON)
	if err != nil {
		return 0, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if affected == 0 {
		existing, err := s.GetNarrationByKey(ctx, n.ChapterID, n.PromptVersion, n.Model, n.InputHash)
		if err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}
	id, err := res.LastInsertId()
	return id, true, err
}

// GetNarrationByKey retrieves the narration for a full identity key; nil
// when absent.
func (s *Session) GetNarrationByKey(ctx context.Context, chapterID int64, promptVersion, model, inputHash string) (*Narration, error) {
	return scanNarration(s.q.QueryRowContext(ctx, `
		SELECT `+narrationColumns+` FROM narrations
		WHERE chapter_id = ? AND prompt_version = ? AND model = ? AND input_hash = ?
	`, chapterID, promptVersion, model, inputHash))
}

// FindNarrationByInputHash retrieves any narration of a book matching the
// input hash. The step executor uses it for step-level cache hits.
func (s *Session) FindNarrationByInputHash(ctx context.Context, bookID int64, promptVersion, inputHash string) (*Narration, error) {
	return scanNarration(s.q.QueryRowContext(ctx, `
		SELECT `+narrationColumns+` FROM narrations
		WHERE book_id = ? AND prompt_version = ? AND input_hash = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, bookID, promptVersion, inputHash))
}

// LatestNarrationForChapter returns the newest narration of a chapter by
// (created_at desc, id desc); nil when the chapter has none.
func (s *Session) LatestNarrationForChapter(ctx context.Context, chapterID int64) (*Narration, error) {
	return scanNarration(s.q.QueryRowContext(ctx, `
		SELECT `+narrationColumns+` FROM narrations
		WHERE chapter_id = ? ORDER BY created_at DESC, id DESC LIMIT 1
	`, chapterID))
}

// LatestNarrationsByBook returns the latest narration per chapter, ordered
// by chapter idx. Chapters without narrations are absent from the result.
func (s *Session) LatestNarrationsByBook(ctx context.Context, bookID int64) ([]Narration, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+narrationColumns+` FROM narrations n
		WHERE n.book_id = ? AND n.id = (
			SELECT n2.id FROM narrations n2 WHERE n2.chapter_id = n.chapter_id
			ORDER BY n2.created_at DESC, n2.id DESC LIMIT 1
		)
		ORDER BY n.chapter_idx
	`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var narrations []Narration
	for rows.Next() {
		var n Narration
		if err := rows.Scan(&n.ID, &n.BookID, &n.ChapterID, &n.ChapterIdx, &n.PromptVersion,
			&n.Model, &n.InputHash, &n.NarrationText, &n.KeyEventsJSON, &n.CreatedAt); err != nil {
			return nil, err
		}
		narrations = append(narrations, n)
	}
	return narrations, rows.Err()
}

// CountNarrations returns the number of narration rows for a book.
func (s *Session) CountNarrations(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM narrations WHERE book_id = ?", bookID).Scan(&n)
	return n, err
}

// SaveNarrationOutput stores or replaces the structured payload sidecar of
// a narration.
func (s *Session) SaveNarrationOutput(ctx context.Context, narrationID int64, payloadJSON string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO narration_outputs (narration_id, payload_json) VALUES (?, ?)
		ON CONFLICT(narration_id) DO UPDATE SET payload_json = excluded.payload_json
	`, narrationID, payloadJSON)
	return err
}

// GetNarrationOutput retrieves the structured payload of a narration; nil
// when absent.
func (s *Session) GetNarrationOutput(ctx context.Context, narrationID int64) (*NarrationOutput, error) {
	var out NarrationOutput
	err := s.q.QueryRowContext(ctx, `
		SELECT id, narration_id, payload_json, created_at
		FROM narration_outputs WHERE narration_id = ?
	`, narrationID).Scan(&out.ID, &out.NarrationID, &out.PayloadJSON, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func scanNarration(row *sql.Row) (*Narration, error) {
	var n Narration
	err := row.Scan(&n.ID, &n.BookID, &n.ChapterID, &n.ChapterIdx, &n.PromptVersion,
		&n.Model, &n.InputHash, &n.NarrationText, &n.KeyEventsJSON, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

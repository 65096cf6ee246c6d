package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertChapters inserts chapters in order and returns their ids.
func (s *Session) InsertChapters(ctx context.Context, chapters []Chapter) ([]int64, error) {
	ids := make([]int64, len(chapters))
	for i, ch := range chapters {
		res, err := s.q.ExecContext(ctx, `
			INSERT INTO chapters (book_id, idx, title, text, chapter_hash, start_pos, end_pos)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, ch.BookID, ch.Idx, ch.Title, ch.Text, ch.ChapterHash, ch.StartPos, ch.EndPos)
		if err != nil {
			return nil, err
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// UpsertChapter inserts a chapter unless one already exists at (book_id, idx).
// Returns the chapter id and whether a new row was created.
func (s *Session) UpsertChapter(ctx context.Context, ch Chapter) (int64, bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO chapters (book_id, idx, title, text, chapter_hash, start_pos, end_pos)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id, idx) DO NOTHING
	`, ch.BookID, ch.Idx, ch.Title, ch.Text, ch.ChapterHash, ch.StartPos, ch.EndPos)
	if err != nil {
		return 0, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if affected > 0 {
		id, err := res.LastInsertId()
		return id, true, err
	}
	existing, err := s.GetChapter(ctx, ch.BookID, ch.Idx)
	if err != nil {
		return 0, false, err
	}
	if existing == nil {
		return 0, false, fmt.Errorf("chapter (book %d, idx %d) vanished during upsert", ch.BookID, ch.Idx)
	}
	return existing.ID, false, nil
}

// GetChapter retrieves a chapter by (book_id, idx); nil when absent.
func (s *Session) GetChapter(ctx context.Context, bookID int64, idx int) (*Chapter, error) {
	var ch Chapter
	err := s.q.QueryRowContext(ctx, `
		SELECT id, book_id, idx, title, text, chapter_hash, start_pos, end_pos
		FROM chapters WHERE book_id = ? AND idx = ?
	`, bookID, idx).Scan(&ch.ID, &ch.BookID, &ch.Idx, &ch.Title, &ch.Text, &ch.ChapterHash, &ch.StartPos, &ch.EndPos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChapters returns all chapters of a book ordered by idx.
func (s *Session) ListChapters(ctx context.Context, bookID int64) ([]Chapter, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, book_id, idx, title, text, chapter_hash, start_pos, end_pos
		FROM chapters WHERE book_id = ? ORDER BY idx
	`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chapters []Chapter
	for rows.Next() {
		var ch Chapter
		if err := rows.Scan(&ch.ID, &ch.BookID, &ch.Idx, &ch.Title, &ch.Text, &ch.ChapterHash, &ch.StartPos, &ch.EndPos); err != nil {
			return nil, err
		}
		chapters = append(chapters, ch)
	}
	return chapters, rows.Err()
}

// MaxChapterIdx returns the highest chapter idx for a book, 0 when none.
func (s *Session) MaxChapterIdx(ctx context.Context, bookID int64) (int, error) {
	var max int
	err := s.q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(idx), 0) FROM chapters WHERE book_id = ?", bookID).Scan(&max)
	return max, err
}

package store

import (
	"context"
	"database/sql"
	"errors"
)

// InsertSummary stores a legacy summarize-pipeline row.
func (s *Session) InsertSummary(ctx context.Context, sum Summary) (int64, error) {
	scope := sum.Scope
	if scope == "" {
		scope = "book"
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO summaries (book_id, chapter_id, scope, summary_type, content, model, prompt_version, input_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sum.BookID, sum.ChapterID, scope, sum.SummaryType, sum.Content, sum.Model, sum.PromptVersion, sum.InputHash)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestBookSummary returns the newest book-scope summary of a type; nil
// when absent. Legacy export reads book_summary, characters, timeline, and
// story through this.
func (s *Session) LatestBookSummary(ctx context.Context, bookID int64, summaryType string) (*Summary, error) {
	var sum Summary
	var chapterID sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		SELECT id, book_id, chapter_id, scope, summary_type, content, model, prompt_version, input_hash, created_at
		FROM summaries
		WHERE book_id = ? AND scope = 'book' AND summary_type = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, bookID, summaryType).Scan(&sum.ID, &sum.BookID, &chapterID, &sum.Scope, &sum.SummaryType,
		&sum.Content, &sum.Model, &sum.PromptVersion, &sum.InputHash, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if chapterID.Valid {
		sum.ChapterID = &chapterID.Int64
	}
	return &sum, nil
}

// ListChapterSummaries returns chapter-scope summaries of a type joined in
// chapter order.
func (s *Session) ListChapterSummaries(ctx context.Context, bookID int64, summaryType string) ([]Summary, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT s.id, s.book_id, s.chapter_id, s.scope, s.summary_type, s.content,
			s.model, s.prompt_version, s.input_hash, s.created_at
		FROM summaries s
		JOIN chapters ch ON ch.id = s.chapter_id
		WHERE s.book_id = ? AND s.scope = 'chapter' AND s.summary_type = ?
		ORDER BY ch.idx
	`, bookID, summaryType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []Summary
	for rows.Next() {
		var sum Summary
		var chapterID sql.NullInt64
		if err := rows.Scan(&sum.ID, &sum.BookID, &chapterID, &sum.Scope, &sum.SummaryType,
			&sum.Content, &sum.Model, &sum.PromptVersion, &sum.InputHash, &sum.CreatedAt); err != nil {
			return nil, err
		}
		if chapterID.Valid {
			sum.ChapterID = &chapterID.Int64
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// FindSummaryByInputHash returns the summary matching an exact identity key;
// nil when absent. The legacy pipeline's cache hit check.
func (s *Session) FindSummaryByInputHash(ctx context.Context, bookID int64, summaryType, inputHash string) (*Summary, error) {
	var sum Summary
	var chapterID sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		SELECT id, book_id, chapter_id, scope, summary_type, content, model, prompt_version, input_hash, created_at
		FROM summaries
		WHERE book_id = ? AND summary_type = ? AND input_hash = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, bookID, summaryType, inputHash).Scan(&sum.ID, &sum.BookID, &chapterID, &sum.Scope, &sum.SummaryType,
		&sum.Content, &sum.Model, &sum.PromptVersion, &sum.InputHash, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if chapterID.Valid {
		sum.ChapterID = &chapterID.Int64
	}
	return &sum, nil
}

package store

import (
	"context"
	"database/sql"
)

// RebuildChunksFTS drops and re-populates the chunk keyword index for one
// book from the chunks table.
func (s *Session) RebuildChunksFTS(ctx context.Context, bookID int64) error {
	if _, err := s.q.ExecContext(ctx,
		"DELETE FROM chunks_fts WHERE CAST(book_id AS INTEGER) = ?", bookID); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO chunks_fts (chunk_id, book_id, chapter_idx, chapter_title, text)
		SELECT c.id, c.book_id, ch.idx, ch.title, c.text
		FROM chunks c
		JOIN chapters ch ON ch.id = c.chapter_id
		WHERE c.book_id = ?
	`, bookID)
	return err
}

// RebuildNarrationsFTS drops and re-populates the narration keyword index
// for one book, indexing only the latest narration per chapter.
func (s *Session) RebuildNarrationsFTS(ctx context.Context, bookID int64) error {
	if _, err := s.q.ExecContext(ctx,
		"DELETE FROM narrations_fts WHERE CAST(book_id AS INTEGER) = ?", bookID); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO narrations_fts (narration_id, book_id, chapter_idx, chapter_title, text)
		SELECT n.id, n.book_id, n.chapter_idx, ch.title, n.narration_text
		FROM narrations n
		JOIN chapters ch ON ch.id = n.chapter_id
		WHERE n.book_id = ? AND n.id = (
			SELECT n2.id FROM narrations n2 WHERE n2.chapter_id = n.chapter_id
			ORDER BY n2.created_at DESC, n2.id DESC LIMIT 1
		)
	`, bookID)
	return err
}

// SearchChunksFTS runs an FTS5 MATCH over chunk text, causally filtered to
// chapters strictly before beforeChapterIdx. Results are bm25-ordered.
func (s *Session) SearchChunksFTS(ctx context.Context, bookID int64, match string, beforeChapterIdx, limit int) ([]FTSHit, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT CAST(chunk_id AS INTEGER), CAST(chapter_idx AS INTEGER), chapter_title, text, bm25(chunks_fts)
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
			AND CAST(book_id AS INTEGER) = ?
			AND CAST(chapter_idx AS INTEGER) < ?
		ORDER BY bm25(chunks_fts) LIMIT ?
	`, match, bookID, beforeChapterIdx, limit)
	if err != nil {
		return nil, err
	}
	return collectFTSHits(rows)
}

// SearchNarrationsFTS is SearchChunksFTS over prior narrations.
func (s *Session) SearchNarrationsFTS(ctx context.Context, bookID int64, match string, beforeChapterIdx, limit int) ([]FTSHit, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT CAST(narration_id AS INTEGER), CAST(chapter_idx AS INTEGER), chapter_title, text, bm25(narrations_fts)
		FROM narrations_fts
		WHERE narrations_fts MATCH ?
			AND CAST(book_id AS INTEGER) = ?
			AND CAST(chapter_idx AS INTEGER) < ?
		ORDER BY bm25(narrations_fts) LIMIT ?
	`, match, bookID, beforeChapterIdx, limit)
	if err != nil {
		return nil, err
	}
	return collectFTSHits(rows)
}

// CountFTSRows reports how many index rows a book has in the named FTS
// table. Only "chunks_fts" and "narrations_fts" are valid.
func (s *Session) CountFTSRows(ctx context.Context, table string, bookID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+" WHERE CAST(book_id AS INTEGER) = ?", bookID).Scan(&n)
	return n, err
}

func collectFTSHits(rows *sql.Rows) ([]FTSHit, error) {
	defer rows.Close()
	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		var rank float64
		if err := rows.Scan(&h.SourceID, &h.ChapterIdx, &h.ChapterTitle, &h.Text, &rank); err != nil {
			return nil, err
		}
		// bm25 is negative with lower = better; flip so higher is better.
		h.Rank = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

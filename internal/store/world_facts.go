package store

import "context"

// UpsertWorldFact writes a fact keyed by (book_id, fact_key), replacing the
// value, confidence, and source on conflict.
func (s *Session) UpsertWorldFact(ctx context.Context, f WorldFact) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO world_facts (book_id, fact_key, fact_value, confidence, source_chapter_idx, source_excerpt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id, fact_key) DO UPDATE SET
			fact_value = excluded.fact_value,
			confidence = excluded.confidence,
			source_chapter_idx = excluded.source_chapter_idx,
			source_excerpt = excluded.source_excerpt
	`, f.BookID, f.FactKey, f.FactValue, f.Confidence, f.SourceChapterIdx, f.SourceExcerpt)
	return err
}

// ListWorldFacts returns all facts of a book ordered by key.
func (s *Session) ListWorldFacts(ctx context.Context, bookID int64) ([]WorldFact, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, book_id, fact_key, fact_value, confidence, source_chapter_idx, source_excerpt
		FROM world_facts WHERE book_id = ? ORDER BY fact_key
	`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []WorldFact
	for rows.Next() {
		var f WorldFact
		if err := rows.Scan(&f.ID, &f.BookID, &f.FactKey, &f.FactValue, &f.Confidence,
			&f.SourceChapterIdx, &f.SourceExcerpt); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

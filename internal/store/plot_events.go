package store

import (
	"context"
	"database/sql"
)

const plotEventColumns = `id, book_id, chapter_idx, event_type, event_summary, involved_characters_json, impact, created_at`

// InsertPlotEvent appends a plot event. Events are never updated or
// deduplicated here; consistency_check filters before insertion.
func (s *Session) InsertPlotEvent(ctx context.Context, e PlotEvent) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO plot_events (book_id, chapter_idx, event_type, event_summary, involved_characters_json, impact)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.BookID, e.ChapterIdx, e.EventType, e.EventSummary, e.InvolvedCharactersJSON, e.Impact)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListPlotEvents returns all plot events of a book in timeline order
// (chapter_idx, then insertion id).
func (s *Session) ListPlotEvents(ctx context.Context, bookID int64) ([]PlotEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+plotEventColumns+` FROM plot_events
		WHERE book_id = ? ORDER BY chapter_idx, id
	`, bookID)
	if err != nil {
		return nil, err
	}
	return collectPlotEvents(rows)
}

// RecentPlotEvents returns events with chapter_idx in [fromIdx, beforeIdx),
// in timeline order. The graph's state_lookup window.
func (s *Session) RecentPlotEvents(ctx context.Context, bookID int64, fromIdx, beforeIdx int) ([]PlotEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+plotEventColumns+` FROM plot_events
		WHERE book_id = ? AND chapter_idx >= ? AND chapter_idx < ?
		ORDER BY chapter_idx, id
	`, bookID, fromIdx, beforeIdx)
	if err != nil {
		return nil, err
	}
	return collectPlotEvents(rows)
}

func collectPlotEvents(rows *sql.Rows) ([]PlotEvent, error) {
	defer rows.Close()
	var events []PlotEvent
	for rows.Next() {
		var e PlotEvent
		if err := rows.Scan(&e.ID, &e.BookID, &e.ChapterIdx, &e.EventType, &e.EventSummary,
			&e.InvolvedCharactersJSON, &e.Impact, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

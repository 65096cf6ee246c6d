package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taleteller/taleteller/internal/hashing"
)

// WorldSnapshot is the full world-state of a book at a step boundary. Row
// order inside each list is deterministic (the stable sort of the list
// queries), so marshaling the snapshot yields a canonical form.
type WorldSnapshot struct {
	Characters []Character `json:"characters"`
	Items      []Item      `json:"items"`
	PlotEvents []PlotEvent `json:"plot_events"`
	WorldFacts []WorldFact `json:"world_facts"`
}

// Column whitelists for snapshot restore. Snapshot rows are filtered to
// these before insertion so a snapshot written under an older schema cannot
// smuggle unknown columns in. The id column is included: restore preserves
// row ids to keep cross-references stable.
var (
	characterRestoreColumns = []string{"id", "book_id", "canonical_name", "aliases_json", "status", "location",
		"abilities_json", "relationships_json", "motivation", "notes", "first_chapter_idx", "last_chapter_idx"}
	itemRestoreColumns = []string{"id", "book_id", "name", "description", "owner", "status",
		"first_chapter_idx", "last_chapter_idx"}
	plotEventRestoreColumns = []string{"id", "book_id", "chapter_idx", "event_type", "event_summary",
		"involved_characters_json", "impact", "created_at"}
	worldFactRestoreColumns = []string{"id", "book_id", "fact_key", "fact_value", "confidence",
		"source_chapter_idx", "source_excerpt"}
)

// BuildSnapshot reads the four world-state tables for a book into a
// snapshot.
func (s *Session) BuildSnapshot(ctx context.Context, bookID int64) (*WorldSnapshot, error) {
	characters, err := s.ListCharacters(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("snapshotting characters: %w", err)
	}
	items, err := s.ListItems(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("snapshotting items: %w", err)
	}
	events, err := s.ListPlotEvents(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("snapshotting plot events: %w", err)
	}
	facts, err := s.ListWorldFacts(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("snapshotting world facts: %w", err)
	}
	return &WorldSnapshot{
		Characters: characters,
		Items:      items,
		PlotEvents: events,
		WorldFacts: facts,
	}, nil
}

// Marshal renders the snapshot as canonical JSON.
func (w *WorldSnapshot) Marshal() (string, error) {
	out, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}
	return string(out), nil
}

// Hash returns the content hash of the canonical snapshot JSON.
func (w *WorldSnapshot) Hash() (string, error) {
	canonical, err := w.Marshal()
	if err != nil {
		return "", err
	}
	return hashing.SHA256Text(canonical), nil
}

// rawSnapshot is the restore-side view: rows stay as generic maps so the
// column whitelist can filter unknown keys regardless of snapshot age.
type rawSnapshot struct {
	Characters []map[string]any `json:"characters"`
	Items      []map[string]any `json:"items"`
	PlotEvents []map[string]any `json:"plot_events"`
	WorldFacts []map[string]any `json:"world_facts"`
}

// RestoreWorldState replaces the world-state of a book with a snapshot:
// clears characters, items, plot_events, and world_facts for the book, then
// bulk-inserts the snapshot rows through the column whitelists. Must run
// inside WithTx. Checkpoints themselves are never touched.
func (s *Session) RestoreWorldState(ctx context.Context, bookID int64, snapshotJSON string) error {
	var snap rawSnapshot
	if err := json.Unmarshal([]byte(snapshotJSON), &snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	for _, table := range []string{"plot_events", "characters", "items", "world_facts"} {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table+" WHERE book_id = ?", bookID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	inserts := []struct {
		table   string
		columns []string
		rows    []map[string]any
	}{
		{"characters", characterRestoreColumns, snap.Characters},
		{"items", itemRestoreColumns, snap.Items},
		{"plot_events", plotEventRestoreColumns, snap.PlotEvents},
		{"world_facts", worldFactRestoreColumns, snap.WorldFacts},
	}
	for _, ins := range inserts {
		for _, row := range ins.rows {
			row["book_id"] = bookID
			if err := s.insertFiltered(ctx, ins.table, ins.columns, row); err != nil {
				return fmt.Errorf("restoring %s: %w", ins.table, err)
			}
		}
	}
	return nil
}

// insertFiltered inserts one row keeping only whitelisted columns that the
// row actually carries.
func (s *Session) insertFiltered(ctx context.Context, table string, whitelist []string, row map[string]any) error {
	var columns []string
	var args []any
	for _, col := range whitelist {
		value, ok := row[col]
		if !ok {
			continue
		}
		columns = append(columns, col)
		args = append(args, value)
	}
	if len(columns) == 0 {
		return fmt.Errorf("row for %s has no recognized columns", table)
	}
	query := "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (?" +
		repeatPlaceholders(len(columns)-1) + ")"
	_, err := s.q.ExecContext(ctx, query, args...)
	return err
}

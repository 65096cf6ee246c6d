package store

import (
	"context"
	"database/sql"
	"errors"
)

const itemColumns = `id, book_id, name, description, owner, status, first_chapter_idx, last_chapter_idx`

// SaveItem upserts an item keyed by (book_id, name).
func (s *Session) SaveItem(ctx context.Context, it Item) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO items (book_id, name, description, owner, status, first_chapter_idx, last_chapter_idx)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id, name) DO UPDATE SET
			description = excluded.description,
			owner = excluded.owner,
			status = excluded.status,
			last_chapter_idx = excluded.last_chapter_idx
	`, it.BookID, it.Name, it.Description, it.Owner, it.Status, it.FirstChapterIdx, it.LastChapterIdx)
	return err
}

// GetItem retrieves one item by name; nil when absent.
func (s *Session) GetItem(ctx context.Context, bookID int64, name string) (*Item, error) {
	var it Item
	err := s.q.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE book_id = ? AND name = ?
	`, bookID, name).Scan(&it.ID, &it.BookID, &it.Name, &it.Description, &it.Owner,
		&it.Status, &it.FirstChapterIdx, &it.LastChapterIdx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// ListItems returns all items of a book ordered by name.
func (s *Session) ListItems(ctx context.Context, bookID int64) ([]Item, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE book_id = ? ORDER BY name
	`, bookID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// ListItemsByNames returns the items whose name is in names.
func (s *Session) ListItemsByNames(ctx context.Context, bookID int64, names []string) ([]Item, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(names)+1)
	args = append(args, bookID)
	for _, n := range names {
		args = append(args, n)
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE book_id = ? AND name IN (?`+repeatPlaceholders(len(names)-1)+`)
		ORDER BY name
	`, args...)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.BookID, &it.Name, &it.Description, &it.Owner,
			&it.Status, &it.FirstChapterIdx, &it.LastChapterIdx); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

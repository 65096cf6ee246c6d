package store

import (
	"context"
	"database/sql"
	"errors"
)

const characterColumns = `id, book_id, canonical_name, aliases_json, status, location, abilities_json, relationships_json, motivation, notes, first_chapter_idx, last_chapter_idx`

// SaveCharacter upserts a character keyed by (book_id, canonical_name).
// Alias-set merging is the caller's job: the graph reads the existing row,
// merges, and writes the full record back.
func (s *Session) SaveCharacter(ctx context.Context, c Character) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO characters (book_id, canonical_name, aliases_json, status, location,
			abilities_json, relationships_json, motivation, notes, first_chapter_idx, last_chapter_idx)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id, canonical_name) DO UPDATE SET
			aliases_json = excluded.aliases_json,
			status = excluded.status,
			location = excluded.location,
			abilities_json = excluded.abilities_json,
			relationships_json = excluded.relationships_json,
			motivation = excluded.motivation,
			notes = excluded.notes,
			last_chapter_idx = excluded.last_chapter_idx
	`, c.BookID, c.CanonicalName, c.AliasesJSON, c.Status, c.Location,
		c.AbilitiesJSON, c.RelationshipsJSON, c.Motivation, c.Notes,
		c.FirstChapterIdx, c.LastChapterIdx)
	return err
}

// GetCharacter retrieves one character by canonical name; nil when absent.
func (s *Session) GetCharacter(ctx context.Context, bookID int64, canonicalName string) (*Character, error) {
	var c Character
	err := s.q.QueryRowContext(ctx, `
		SELECT `+characterColumns+` FROM characters
		WHERE book_id = ? AND canonical_name = ?
	`, bookID, canonicalName).Scan(&c.ID, &c.BookID, &c.CanonicalName, &c.AliasesJSON, &c.Status,
		&c.Location, &c.AbilitiesJSON, &c.RelationshipsJSON, &c.Motivation, &c.Notes,
		&c.FirstChapterIdx, &c.LastChapterIdx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCharacters returns all characters of a book ordered by name.
func (s *Session) ListCharacters(ctx context.Context, bookID int64) ([]Character, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+characterColumns+` FROM characters
		WHERE book_id = ? ORDER BY canonical_name
	`, bookID)
	if err != nil {
		return nil, err
	}
	return collectCharacters(rows)
}

// ListCharactersByNames returns the characters whose canonical name is in
// names. The entity list from extraction feeds this.
func (s *Session) ListCharactersByNames(ctx context.Context, bookID int64, names []string) ([]Character, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(names)+1)
	args = append(args, bookID)
	for _, n := range names {
		args = append(args, n)
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+characterColumns+` FROM characters
		WHERE book_id = ? AND canonical_name IN (?`+repeatPlaceholders(len(names)-1)+`)
		ORDER BY canonical_name
	`, args...)
	if err != nil {
		return nil, err
	}
	return collectCharacters(rows)
}

func collectCharacters(rows *sql.Rows) ([]Character, error) {
	defer rows.Close()
	var characters []Character
	for rows.Next() {
		var c Character
		if err := rows.Scan(&c.ID, &c.BookID, &c.CanonicalName, &c.AliasesJSON, &c.Status,
			&c.Location, &c.AbilitiesJSON, &c.RelationshipsJSON, &c.Motivation, &c.Notes,
			&c.FirstChapterIdx, &c.LastChapterIdx); err != nil {
			return nil, err
		}
		characters = append(characters, c)
	}
	return characters, rows.Err()
}

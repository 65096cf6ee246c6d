package store

import (
	"context"
	"database/sql"
	"errors"
)

// UpsertBook inserts the book unless one with the same book_hash exists.
// Returns the row id and whether a new row was created.
func (s *Session) UpsertBook(ctx context.Context, b Book) (int64, bool, error) {
	existing, err := s.GetBookByHash(ctx, b.BookHash)
	if err != nil {
		return 0, false, err
	}
	if existing != nil {
		return existing.ID, false, nil
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO books (title, author, source_path, book_hash, encoding)
		VALUES (?, ?, ?, ?, ?)
	`, b.Title, b.Author, b.SourcePath, b.BookHash, b.Encoding)
	if err != nil {
		return 0, false, err
	}
	id, err := res.LastInsertId()
	return id, true, err
}

// GetBook retrieves a book by id; nil when absent.
func (s *Session) GetBook(ctx context.Context, id int64) (*Book, error) {
	return s.scanBook(s.q.QueryRowContext(ctx, `
		SELECT id, title, author, source_path, book_hash, encoding, created_at
		FROM books WHERE id = ?
	`, id))
}

// GetBookByHash retrieves a book by content hash; nil when absent.
func (s *Session) GetBookByHash(ctx context.Context, hash string) (*Book, error) {
	return s.scanBook(s.q.QueryRowContext(ctx, `
		SELECT id, title, author, source_path, book_hash, encoding, created_at
		FROM books WHERE book_hash = ?
	`, hash))
}

// ListBooks returns all books, newest first.
func (s *Session) ListBooks(ctx context.Context) ([]Book, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, title, author, source_path, book_hash, encoding, created_at
		FROM books ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.SourcePath, &b.BookHash, &b.Encoding, &b.CreatedAt); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (s *Session) scanBook(row *sql.Row) (*Book, error) {
	var b Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.SourcePath, &b.BookHash, &b.Encoding, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Package vectorstore holds the per-book embedding tables used by hybrid
// retrieval. Vectors live in their own SQLite file under the configured
// vector directory, one vec0 virtual table per (book, source kind) plus a
// metadata sidecar, so dropping a book's vectors never touches another's.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Kind selects which source a table holds vectors for.
type Kind string

const (
	KindChunks     Kind = "chunks"
	KindNarrations Kind = "narrations"
)

// Record is one embeddable unit: a chunk or a narration with its metadata.
type Record struct {
	ID           int64
	ChapterIdx   int
	ChapterTitle string
	Text         string
	Embedding    []float32
}

// Hit is a k-NN result. Score is 1 - distance, so higher is better.
type Hit struct {
	ID           int64
	ChapterIdx   int
	ChapterTitle string
	Text         string
	Score        float64
}

// Store wraps the vector database.
type Store struct {
	db  *sql.DB
	dim int
}

// Open opens (or creates) the vector database under dir.
func Open(dir string, dim int) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating vector directory: %w", err)
	}
	path := filepath.Join(dir, "vectors.sqlite")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging vector database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, dim: dim}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func vectorTable(kind Kind, bookID int64) string {
	return fmt.Sprintf("%s_vectors_%d", kind, bookID)
}

func metaTable(kind Kind, bookID int64) string {
	return fmt.Sprintf("%s_vectors_meta_%d", kind, bookID)
}

// EnsureTables creates the vec0 and metadata tables for a (book, kind) pair.
func (s *Store) EnsureTables(ctx context.Context, kind Kind, bookID int64) error {
	vec := vectorTable(kind, bookID)
	meta := metaTable(kind, bookID)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(id INTEGER PRIMARY KEY, embedding float[%d])",
		vec, s.dim)); err != nil {
		return fmt.Errorf("creating %s: %w", vec, err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, chapter_idx INTEGER NOT NULL, chapter_title TEXT NOT NULL DEFAULT '', text TEXT NOT NULL DEFAULT '')",
		meta)); err != nil {
		return fmt.Errorf("creating %s: %w", meta, err)
	}
	return nil
}

// HasTable reports whether vectors exist for a (book, kind) pair.
func (s *Store) HasTable(ctx context.Context, kind Kind, bookID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?",
		vectorTable(kind, bookID)).Scan(&n)
	return n > 0, err
}

// Upsert writes records by id. Re-inserting an existing id replaces it, so
// the asset builder can run repeatedly without duplicating rows.
func (s *Store) Upsert(ctx context.Context, kind Kind, bookID int64, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.EnsureTables(ctx, kind, bookID); err != nil {
		return err
	}
	vec := vectorTable(kind, bookID)
	meta := metaTable(kind, bookID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning vector transaction: %w", err)
	}
	for _, r := range records {
		if len(r.Embedding) != s.dim {
			tx.Rollback()
			return fmt.Errorf("embedding for id %d has dim %d, want %d", r.ID, len(r.Embedding), s.dim)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO "+vec+" (id, embedding) VALUES (?, ?)",
			r.ID, serializeFloat32(r.Embedding)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting vector %d: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO "+meta+" (id, chapter_idx, chapter_title, text) VALUES (?, ?, ?, ?)",
			r.ID, r.ChapterIdx, r.ChapterTitle, r.Text); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting metadata %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// ListExistingIDs returns the set of ids already embedded, so incremental
// embedding only pays for new rows.
func (s *Store) ListExistingIDs(ctx context.Context, kind Kind, bookID int64) (map[int64]bool, error) {
	ok, err := s.HasTable(ctx, kind, bookID)
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]bool)
	if !ok {
		return ids, nil
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM "+metaTable(kind, bookID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// Query runs a k-NN search over one (book, kind) table. A book with no
// vectors yields an empty result, not an error.
func (s *Store) Query(ctx context.Context, kind Kind, bookID int64, embedding []float32, k int) ([]Hit, error) {
	ok, err := s.HasTable(ctx, kind, bookID)
	if err != nil {
		return nil, err
	}
	if !ok || k <= 0 {
		return nil, nil
	}
	vec := vectorTable(kind, bookID)
	meta := metaTable(kind, bookID)
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.distance, m.chapter_idx, m.chapter_title, m.text
		FROM `+vec+` v
		JOIN `+meta+` m ON m.id = v.id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var distance float64
		if err := rows.Scan(&h.ID, &distance, &h.ChapterIdx, &h.ChapterTitle, &h.Text); err != nil {
			return nil, err
		}
		h.Score = 1.0 - distance
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

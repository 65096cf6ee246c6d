package store

import "context"

// InsertChunks inserts a batch of chunks and returns their ids.
func (s *Session) InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		res, err := s.q.ExecContext(ctx, `
			INSERT INTO chunks (book_id, chapter_id, idx, text, token_count, start_pos, end_pos, chunk_hash, split_params)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.BookID, c.ChapterID, c.Idx, c.Text, c.TokenCount, c.StartPos, c.EndPos, c.ChunkHash, c.SplitParams)
		if err != nil {
			return nil, err
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// UpsertChunk inserts a chunk unless one already exists at (chapter_id, idx).
// Returns the chunk id and whether a new row was created.
func (s *Session) UpsertChunk(ctx context.Context, c Chunk) (int64, bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO chunks (book_id, chapter_id, idx, text, token_count, start_pos, end_pos, chunk_hash, split_params)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chapter_id, idx) DO NOTHING
	`, c.BookID, c.ChapterID, c.Idx, c.Text, c.TokenCount, c.StartPos, c.EndPos, c.ChunkHash, c.SplitParams)
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
	var id int64
	err = s.q.QueryRowContext(ctx,
		"SELECT id FROM chunks WHERE chapter_id = ? AND idx = ?", c.ChapterID, c.Idx).Scan(&id)
	return id, false, err
}

// ListChunksByBook returns all chunks of a book joined with chapter position,
// ordered by (chapter idx, chunk idx). Used by the retrieval asset builder.
func (s *Session) ListChunksByBook(ctx context.Context, bookID int64) ([]Chunk, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.book_id, c.chapter_id, c.idx, c.text, c.token_count,
			c.start_pos, c.end_pos, c.chunk_hash, c.split_params
		FROM chunks c
		JOIN chapters ch ON ch.id = c.chapter_id
		WHERE c.book_id = ? ORDER BY ch.idx, c.idx
	`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.BookID, &c.ChapterID, &c.Idx, &c.Text, &c.TokenCount,
			&c.StartPos, &c.EndPos, &c.ChunkHash, &c.SplitParams); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of chunks stored for a book.
func (s *Session) CountChunks(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE book_id = ?", bookID).Scan(&n)
	return n, err
}

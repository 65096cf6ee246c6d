package store

// schemaSQL is the DDL for all relational and FTS tables. The FTS tables are
// standalone (not content= synced) and carry book_id/chapter_idx columns so
// rebuilds and causal filtering stay per-book.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS books (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    author TEXT NOT NULL DEFAULT '',
    source_path TEXT NOT NULL DEFAULT '',
    book_hash TEXT NOT NULL UNIQUE,
    encoding TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chapters (
    id INTEGER PRIMARY KEY,
    book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    idx INTEGER NOT NULL,
    title TEXT NOT NULL,
    text TEXT NOT NULL,
    chapter_hash TEXT NOT NULL,
    start_pos INTEGER NOT NULL DEFAULT 0,
    end_pos INTEGER NOT NULL DEFAULT 0,
    UNIQUE(book_id, idx)
);

CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    chapter_id INTEGER NOT NULL REFERENCES chapters(id) ON DELETE CASCADE,
    idx INTEGER NOT NULL,
    text TEXT NOT NULL,
    token_count INTEGER NOT NULL DEFAULT 0,
    start_pos INTEGER NOT NULL DEFAULT 0,
    end_pos INTEGER NOT NULL DEFAULT 0,
    chunk_hash TEXT NOT NULL,
    split_params TEXT NOT NULL,
    UNIQUE(chapter_id, idx)
);

CREATE TABLE IF NOT EXISTS narrations (
    id INTEGER PRIMARY KEY,
    book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    chapter_id INTEGER NOT NULL REFERENCES chapters(id) ON DELETE CASCADE,
    chapter_idx INTEGER NOT NULL,
    prompt_version TEXT NOT NULL,
    model TEXT NOT NULL,
    input_hash TEXT NOT NULL,
    narration_text TEXT NOT NULL,
    key_events_json TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(chapter_id, prompt_version, model, input_hash)
);

CREATE TABLE IF NOT EXISTS narration_outputs (
    id INTEGER PRIMARY KEY,
    narration_id INTEGER NOT NULL UNIQUE REFERENCES narrations(id) ON DELETE CASCADE,
    payload_json TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS summaries (
    id INTEGER PRIMARY KEY,
    book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    chapter_id INTEGER REFERENCES chapters(id) ON DELETE CASCADE,
    scope TEXT NOT NULL DEFAULT 'book',
    summary_type TEXT NOT NULL,
    content TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    prompt_version TEXT NOT NULL DEFAULT '',
    input_hash TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS characters (
    id INTEGER PRIMARY KEY,
    book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    canonical_name TEXT NOT NULL,
    aliases_json TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'active',
    location TEXT NOT NULL DEFAULT '',
    abilities_json TEXT NOT NULL DEFAULT '[]',
    relationships_json TEXT NOT NULL DEFAULT '{}',
    motivation TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    first_chapter_idx INTEGER NOT NULL DEFAULT 0,
    last_chapter_idx INTEGER NOT NULL DEFAULT 0,
    UNIQUE(book_id, canonical_name)
);

CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY,
    book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    owner TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    first_chapter_idx INTEGER NOT NULL DEFAULT 0,
    last_chapter_idx INTEGER NOT NULL DEFAULT 0,
    UNIQUE(book_id, name)
);

CREATE TABLE IF NOT EXISTS plot_events (
    id INTEGER PRIMARY KEY,
    book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    chapter_idx INTEGER NOT NULL,
    event_type TEXT NOT NULL DEFAULT '',
    event_summary TEXT NOT NULL,
    involved_characters_json TEXT NOT NULL DEFAULT '[]',
    impact TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS world_facts (
    id INTEGER PRIMARY KEY,
    book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    fact_key TEXT NOT NULL,
    fact_value TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    source_chapter_idx INTEGER NOT NULL DEFAULT 0,
    source_excerpt TEXT NOT NULL DEFAULT '',
    UNIQUE(book_id, fact_key)
);

CREATE TABLE IF NOT EXISTS world_state_checkpoints (
    id INTEGER PRIMARY KEY,
    book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
    chapter_idx INTEGER NOT NULL,
    step_size INTEGER NOT NULL,
    snapshot_json TEXT NOT NULL,
    snapshot_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(book_id, chapter_idx, step_size)
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    chunk_id UNINDEXED,
    book_id UNINDEXED,
    chapter_idx UNINDEXED,
    chapter_title,
    text
);

CREATE VIRTUAL TABLE IF NOT EXISTS narrations_fts USING fts5(
    narration_id UNINDEXED,
    book_id UNINDEXED,
    chapter_idx UNINDEXED,
    chapter_title,
    text
);

CREATE INDEX IF NOT EXISTS idx_chapters_book ON chapters(book_id, idx);
CREATE INDEX IF NOT EXISTS idx_chunks_book ON chunks(book_id);
CREATE INDEX IF NOT EXISTS idx_chunks_chapter ON chunks(chapter_id, idx);
CREATE INDEX IF NOT EXISTS idx_narrations_chapter ON narrations(chapter_id, created_at);
CREATE INDEX IF NOT EXISTS idx_narrations_book ON narrations(book_id, chapter_idx);
CREATE INDEX IF NOT EXISTS idx_summaries_book ON summaries(book_id, summary_type);
CREATE INDEX IF NOT EXISTS idx_plot_events_book ON plot_events(book_id, chapter_idx);
CREATE INDEX IF NOT EXISTS idx_checkpoints_book ON world_state_checkpoints(book_id, chapter_idx);
`

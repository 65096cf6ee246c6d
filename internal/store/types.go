package store

// Book is a row in the books table, unique by book_hash.
type Book struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	SourcePath string `json:"source_path"`
	BookHash   string `json:"book_hash"`
	Encoding   string `json:"encoding"`
	CreatedAt  string `json:"created_at"`
}

// Chapter is a row in the chapters table. Idx is 1-based and contiguous
// within a book.
type Chapter struct {
	ID          int64  `json:"id"`
	BookID      int64  `json:"book_id"`
	Idx         int    `json:"idx"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	ChapterHash string `json:"chapter_hash"`
	StartPos    int    `json:"start_pos"`
	EndPos      int    `json:"end_pos"`
}

// Chunk is a row in the chunks table. Idx is 1-based within its chapter.
type Chunk struct {
	ID          int64  `json:"id"`
	BookID      int64  `json:"book_id"`
	ChapterID   int64  `json:"chapter_id"`
	Idx         int    `json:"idx"`
	Text        string `json:"text"`
	TokenCount  int    `json:"token_count"`
	StartPos    int    `json:"start_pos"`
	EndPos      int    `json:"end_pos"`
	ChunkHash   string `json:"chunk_hash"`
	SplitParams string `json:"split_params"`
}

// Narration is one generated storyteller rewrite of a chapter. Multiple
// versions may coexist per chapter; "latest" orders by created_at then id,
// both descending.
type Narration struct {
	ID            int64  `json:"id"`
	BookID        int64  `json:"book_id"`
	ChapterID     int64  `json:"chapter_id"`
	ChapterIdx    int    `json:"chapter_idx"`
	PromptVersion string `json:"prompt_version"`
	Model         string `json:"model"`
	InputHash     string `json:"input_hash"`
	NarrationText string `json:"narration_text"`
	KeyEventsJSON string `json:"key_events_json"`
	CreatedAt     string `json:"created_at"`
}

// NarrationOutput is the structured sidecar of a narration: the full parsed
// model payload, kept for cheap replay during world-state rebuild.
type NarrationOutput struct {
	ID          int64  `json:"id"`
	NarrationID int64  `json:"narration_id"`
	PayloadJSON string `json:"payload_json"`
	CreatedAt   string `json:"created_at"`
}

// Summary is a legacy summarize-pipeline row.
type Summary struct {
	ID            int64  `json:"id"`
	BookID        int64  `json:"book_id"`
	ChapterID     *int64 `json:"chapter_id,omitempty"`
	Scope         string `json:"scope"`
	SummaryType   string `json:"summary_type"`
	Content       string `json:"content"`
	Model         string `json:"model"`
	PromptVersion string `json:"prompt_version"`
	InputHash     string `json:"input_hash"`
	CreatedAt     string `json:"created_at"`
}

// Character is the evolving world-state of one character, unique per
// (book_id, canonical_name). AliasesJSON holds a sorted JSON string array.
type Character struct {
	ID                int64  `json:"id"`
	BookID            int64  `json:"book_id"`
	CanonicalName     string `json:"canonical_name"`
	AliasesJSON       string `json:"aliases_json"`
	Status            string `json:"status"`
	Location          string `json:"location"`
	AbilitiesJSON     string `json:"abilities_json"`
	RelationshipsJSON string `json:"relationships_json"`
	Motivation        string `json:"motivation"`
	Notes             string `json:"notes"`
	FirstChapterIdx   int    `json:"first_chapter_idx"`
	LastChapterIdx    int    `json:"last_chapter_idx"`
}

// Item is the world-state of one item, unique per (book_id, name).
type Item struct {
	ID              int64  `json:"id"`
	BookID          int64  `json:"book_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Owner           string `json:"owner"`
	Status          string `json:"status"`
	FirstChapterIdx int    `json:"first_chapter_idx"`
	LastChapterIdx  int    `json:"last_chapter_idx"`
}

// PlotEvent is append-only; ordering within a chapter is by insertion id.
type PlotEvent struct {
	ID                     int64  `json:"id"`
	BookID                 int64  `json:"book_id"`
	ChapterIdx             int    `json:"chapter_idx"`
	EventType              string `json:"event_type"`
	EventSummary           string `json:"event_summary"`
	InvolvedCharactersJSON string `json:"involved_characters_json"`
	Impact                 string `json:"impact"`
	CreatedAt              string `json:"created_at"`
}

// WorldFact is an upsertable fact, unique per (book_id, fact_key). Keys are
// namespaced, e.g. "character:韩立:status" or "event:3:<hash12>".
type WorldFact struct {
	ID               int64   `json:"id"`
	BookID           int64   `json:"book_id"`
	FactKey          string  `json:"fact_key"`
	FactValue        string  `json:"fact_value"`
	Confidence       float64 `json:"confidence"`
	SourceChapterIdx int     `json:"source_chapter_idx"`
	SourceExcerpt    string  `json:"source_excerpt"`
}

// Checkpoint is a full world-state snapshot taken immediately after
// chapter_idx committed under step_size.
type Checkpoint struct {
	ID           int64  `json:"id"`
	BookID       int64  `json:"book_id"`
	ChapterIdx   int    `json:"chapter_idx"`
	StepSize     int    `json:"step_size"`
	SnapshotJSON string `json:"snapshot_json"`
	SnapshotHash string `json:"snapshot_hash"`
	CreatedAt    string `json:"created_at"`
}

// FTSHit is a keyword-search result from one of the FTS tables. Rank is the
// bm25 value negated so that higher is better.
type FTSHit struct {
	SourceID     int64   `json:"source_id"`
	ChapterIdx   int     `json:"chapter_idx"`
	ChapterTitle string  `json:"chapter_title"`
	Text         string  `json:"text"`
	Rank         float64 `json:"rank"`
}

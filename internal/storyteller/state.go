// Package storyteller turns chapters into 评书-style narrations through a
// fixed per-chapter node graph, tracking evolving world-state as it goes.
package storyteller

import (
	"github.com/taleteller/taleteller/internal/store"
)

// KeyEvent is one claim about what happened in a chapter.
type KeyEvent struct {
	Who     string `json:"who"`
	What    string `json:"what"`
	Where   string `json:"where"`
	Outcome string `json:"outcome"`
	Impact  string `json:"impact"`

	EvidenceSourceType string  `json:"evidence_source_type,omitempty"`
	EvidenceQuote      string  `json:"evidence_quote,omitempty"`
	EvidenceScore      float64 `json:"evidence_score,omitempty"`
}

// CharacterUpdate is a claimed change to one character. NameRaw keeps the
// name as the model emitted it before alias normalization.
type CharacterUpdate struct {
	Name       string `json:"name"`
	NameRaw    string `json:"name_raw,omitempty"`
	ChangeType string `json:"change_type"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Evidence   string `json:"evidence"`

	EvidenceSourceType string  `json:"evidence_source_type,omitempty"`
	EvidenceQuote      string  `json:"evidence_quote,omitempty"`
	EvidenceScore      float64 `json:"evidence_score,omitempty"`
}

// NewItem is a claimed newly introduced item.
type NewItem struct {
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	Description string `json:"description"`

	EvidenceSourceType string  `json:"evidence_source_type,omitempty"`
	EvidenceQuote      string  `json:"evidence_quote,omitempty"`
	EvidenceScore      float64 `json:"evidence_score,omitempty"`
}

// Memory is one awakened piece of prior context from hybrid retrieval.
type Memory struct {
	SourceID     int64  `json:"source_id"`
	SourceType   string `json:"source_type"`
	ChapterIdx   int    `json:"chapter_idx"`
	ChapterTitle string `json:"chapter_title"`
	Text         string `json:"text"`
}

// EvidenceReport counts claims through the evidence gate.
type EvidenceReport struct {
	TotalClaims       int `json:"total_claims"`
	SupportedClaims   int `json:"supported_claims"`
	UnsupportedClaims int `json:"unsupported_claims"`
}

// Mutations counts world-state writes applied by state_update.
type Mutations struct {
	PlotEventsInserted int `json:"plot_events_inserted"`
	CharactersUpserted int `json:"characters_upserted"`
	ItemsUpserted      int `json:"items_upserted"`
	WorldFactsUpserted int `json:"world_facts_upserted"`
}

// Telemetry accumulates LLM call counters for one chapter or step.
type Telemetry struct {
	NarrationLLMCalls     int
	NarrationCacheHit     bool
	RefineLLMCalls        int
	RefineCacheHit        bool
	InputTokensEstimated  int
	OutputTokensEstimated int
}

// State is the bag handed from node to node within one chapter. One node
// owns it at a time; across chapters a fresh State is built.
type State struct {
	BookID       int64
	ChapterID    int64
	ChapterIdx   int
	ChapterTitle string
	ChapterText  string

	// Settings holds the tier-effective knobs for this chapter.
	Settings TierSettings

	// InputHash is the narration identity computed by the service before
	// the graph runs; generate and refine key their caches off it.
	InputHash string

	EntitiesMentioned  []string
	LocationsMentioned []string
	ItemsMentioned     []string

	CharacterStates []store.Character
	ItemStates      []store.Item
	RecentEvents    []store.PlotEvent

	AwakenedMemories []Memory

	Narration        string
	KeyEvents        []KeyEvent
	CharacterUpdates []CharacterUpdate
	NewItems         []NewItem

	ConsistencyWarnings []string
	ConsistencyActions  []string
	Evidence            EvidenceReport

	Mutations       Mutations
	MemoryCommitted bool
	Telemetry       Telemetry
}

// OutputPayload is what gets persisted as a NarrationOutput sidecar: the
// full structured result needed to replay state_update without the LLM.
type OutputPayload struct {
	StepStartChapterIdx int               `json:"step_start_chapter_idx,omitempty"`
	StepEndChapterIdx   int               `json:"step_end_chapter_idx,omitempty"`
	Narration           string            `json:"narration"`
	EntitiesMentioned   []string          `json:"entities_mentioned"`
	KeyEvents           []KeyEvent        `json:"key_events"`
	CharacterUpdates    []CharacterUpdate `json:"character_updates"`
	NewItems            []NewItem         `json:"new_items"`
	EvidenceReport      EvidenceReport    `json:"evidence_report"`
}

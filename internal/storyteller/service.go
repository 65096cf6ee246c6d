package storyteller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/hashing"
	"github.com/taleteller/taleteller/internal/store"
)

// FallbackModelID labels narrations produced without a working LLM route.
const FallbackModelID = "storyteller-mvp"

// Service drives chapter-mode narration: one graph run per chapter, one
// transaction per chapter.
type Service struct {
	store     *store.Store
	cfg       *config.Config
	retriever Retriever

	entityClient    ChatClient
	narrationClient ChatClient
	refineClient    ChatClient

	logger *slog.Logger
}

// ServiceDeps wires a Service. Clients and the retriever may be nil; the
// graph falls back per node.
type ServiceDeps struct {
	Store           *store.Store
	Config          *config.Config
	Retriever       Retriever
	EntityClient    ChatClient
	NarrationClient ChatClient
	RefineClient    ChatClient
	Logger          *slog.Logger
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		store:           deps.Store,
		cfg:             deps.Config,
		retriever:       deps.Retriever,
		entityClient:    deps.EntityClient,
		narrationClient: deps.NarrationClient,
		refineClient:    deps.RefineClient,
		logger:          deps.Logger.With("component", "storyteller"),
	}
}

// StorytellOptions bounds one run. Zero values mean the full book.
type StorytellOptions struct {
	BookID      int64
	FromChapter int
	ToChapter   int
}

// StorytellStats summarizes one chapter-mode run.
type StorytellStats struct {
	ChaptersConsidered int
	Generated          int
	SkippedExisting    int
	SkippedEmpty       int
	CacheHits          int
	NarrationLLMCalls  int
	RefineLLMCalls     int
	ClaimsVerified     int
	ClaimsRejected     int
}

// narrationIdentity is everything that influences a chapter narration,
// serialized with alphabetically ordered keys and hashed into input_hash.
// Changing any field invalidates cached narrations for the chapter.
type narrationIdentity struct {
	ChapterHash          string     `json:"chapter_hash"`
	ChapterIdx           int        `json:"chapter_idx"`
	IncludeInnerThoughts bool       `json:"include_inner_thoughts"`
	IncludeKeyDialogue   bool       `json:"include_key_dialogue"`
	Language             string     `json:"language"`
	Model                string     `json:"model"`
	NarrationRatio       [2]float64 `json:"narration_ratio"`
	PromptVersion        string     `json:"prompt_version"`
	Style                string     `json:"style"`
	Tier                 string     `json:"tier"`
}

// ChapterInputHash computes the narration identity for one chapter under
// the given tier settings and model.
func ChapterInputHash(ch *store.Chapter, settings TierSettings, cfg *config.Config, model, promptVersion string) string {
	encoded, _ := json.Marshal(narrationIdentity{
		ChapterHash:          ch.ChapterHash,
		ChapterIdx:           ch.Idx,
		IncludeInnerThoughts: settings.IncludeInnerThoughts,
		IncludeKeyDialogue:   settings.IncludeKeyDialogue,
		Language:             cfg.Storyteller.Language,
		Model:                model,
		NarrationRatio:       settings.NarrationRatio,
		PromptVersion:        promptVersion,
		Style:                cfg.Storyteller.Style,
		Tier:                 settings.Tier,
	})
	return hashing.SHA256Text(string(encoded))
}

// ModelID reports the identifier that will be stamped on narrations.
func (s *Service) ModelID() string {
	if s.narrationClient == nil {
		return FallbackModelID
	}
	return s.narrationClient.ModelIdentifier()
}

// Storytell narrates every chapter in range that does not already have a
// narration under the current identity. Chapters are processed in order;
// each one commits before the next starts, so an interrupted run resumes
// where it stopped.
func (s *Service) Storytell(ctx context.Context, opts StorytellOptions) (*StorytellStats, error) {
	chapters, err := s.chaptersInRange(ctx, opts)
	if err != nil {
		return nil, err
	}

	model := s.ModelID()
	stats := &StorytellStats{}
	prefetch := newPrefetcher(s, opts.BookID, s.cfg.Storyteller.PrefetchWindow)
	for i := range chapters {
		ch := &chapters[i]
		stats.ChaptersConsidered++
		prefetch.schedule(ctx, chapters, i+1)

		if ch.Text == "" {
			s.logger.Warn("skipping chapter with empty text", "chapter_idx", ch.Idx)
			stats.SkippedEmpty++
			continue
		}

		tier := DecideTier(ch.Idx, ch.Title, ch.Text, s.cfg)
		settings := EffectiveSettings(tier, s.cfg)
		inputHash := ChapterInputHash(ch, settings, s.cfg, model, NarrationPromptVersion)

		existing, err := s.store.Session().GetNarrationByKey(ctx, ch.ID, NarrationPromptVersion, model, inputHash)
		if err != nil {
			return nil, fmt.Errorf("checking existing narration for chapter %d: %w", ch.Idx, err)
		}
		if existing != nil {
			s.logger.Debug("narration up to date", "chapter_idx", ch.Idx)
			stats.SkippedExisting++
			continue
		}

		st, err := s.narrateChapter(ctx, opts.BookID, ch, settings, model, inputHash, prefetch.take(ctx, ch.Idx))
		if err != nil {
			return stats, err
		}
		s.accumulate(stats, st)
		s.logger.Info("chapter narrated",
			"chapter_idx", ch.Idx,
			"tier", settings.Tier,
			"narration_runes", len([]rune(st.Narration)),
			"key_events", len(st.KeyEvents),
			"cache_hit", st.Telemetry.NarrationCacheHit,
			"warnings", len(st.ConsistencyWarnings))
	}
	return stats, nil
}

// narrateChapter runs the full node graph and persists the narration plus
// its structured payload, all inside one transaction.
func (s *Service) narrateChapter(ctx context.Context, bookID int64, ch *store.Chapter,
	settings TierSettings, model, inputHash string, prefetched []Memory) (*State, error) {
	st := &State{
		BookID:           bookID,
		ChapterID:        ch.ID,
		ChapterIdx:       ch.Idx,
		ChapterTitle:     ch.Title,
		ChapterText:      ch.Text,
		Settings:         settings,
		InputHash:        inputHash,
		AwakenedMemories: prefetched,
	}

	err := s.store.WithTx(ctx, func(sess *store.Session) error {
		graph := NewGraph(GraphDeps{
			Session:         sess,
			Config:          s.cfg,
			BookID:          bookID,
			Retriever:       s.retriever,
			EntityClient:    s.entityClient,
			NarrationClient: s.narrationClient,
			RefineClient:    s.refineClient,
			Logger:          s.logger,
		})
		if err := graph.Invoke(ctx, st); err != nil {
			return err
		}
		if st.Narration == "" {
			return fmt.Errorf("chapter %d produced an empty narration", ch.Idx)
		}
		return persistNarration(ctx, sess, st, NarrationPromptVersion, model, 0, 0)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// persistNarration writes the narration row and its payload sidecar using
// the caller's session. Step bounds of 0 mean a single-chapter narration.
func persistNarration(ctx context.Context, sess *store.Session, st *State, promptVersion, model string, stepStart, stepEnd int) error {
	narrationID, _, err := sess.InsertNarration(ctx, store.Narration{
		BookID:        st.BookID,
		ChapterID:     st.ChapterID,
		ChapterIdx:    st.ChapterIdx,
		PromptVersion: promptVersion,
		Model:         model,
		InputHash:     st.InputHash,
		NarrationText: st.Narration,
		KeyEventsJSON: jsonString(st.KeyEvents),
	})
	if err != nil {
		return fmt.Errorf("inserting narration for chapter %d: %w", st.ChapterIdx, err)
	}

	payload, err := json.Marshal(OutputPayload{
		StepStartChapterIdx: stepStart,
		StepEndChapterIdx:   stepEnd,
		Narration:           st.Narration,
		EntitiesMentioned:   st.EntitiesMentioned,
		KeyEvents:           st.KeyEvents,
		CharacterUpdates:    st.CharacterUpdates,
		NewItems:            st.NewItems,
		EvidenceReport:      st.Evidence,
	})
	if err != nil {
		return fmt.Errorf("encoding narration payload: %w", err)
	}
	return sess.SaveNarrationOutput(ctx, narrationID, string(payload))
}

func (s *Service) chaptersInRange(ctx context.Context, opts StorytellOptions) ([]store.Chapter, error) {
	chapters, err := s.store.Session().ListChapters(ctx, opts.BookID)
	if err != nil {
		return nil, fmt.Errorf("listing chapters: %w", err)
	}
	var out []store.Chapter
	for _, ch := range chapters {
		if opts.FromChapter > 0 && ch.Idx < opts.FromChapter {
			continue
		}
		if opts.ToChapter > 0 && ch.Idx > opts.ToChapter {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

func (s *Service) accumulate(stats *StorytellStats, st *State) {
	stats.Generated++
	if st.Telemetry.NarrationCacheHit {
		stats.CacheHits++
	}
	stats.NarrationLLMCalls += st.Telemetry.NarrationLLMCalls
	stats.RefineLLMCalls += st.Telemetry.RefineLLMCalls
	stats.ClaimsVerified += st.Evidence.SupportedClaims
	stats.ClaimsRejected += st.Evidence.UnsupportedClaims
}

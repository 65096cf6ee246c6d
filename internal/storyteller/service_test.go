package storyteller

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/hashing"
	"github.com/taleteller/taleteller/internal/llm"
	"github.com/taleteller/taleteller/internal/store"
)

// fakeChat returns one canned structured payload for every call.
type fakeChat struct {
	model   string
	payload string
	calls   int
}

func (f *fakeChat) ModelIdentifier() string { return f.model }

func (f *fakeChat) CompleteJSON(_ context.Context, _ llm.Request, out any) (llm.Result, error) {
	f.calls++
	return llm.Result{Text: f.payload}, json.Unmarshal([]byte(f.payload), out)
}

func (f *fakeChat) CompleteStructured(_ context.Context, _ llm.Request, _ *llm.Schema, out any) (llm.Result, error) {
	f.calls++
	return llm.Result{Text: f.payload}, json.Unmarshal([]byte(f.payload), out)
}

func openStorytellerStore(t *testing.T, chapterTexts []string) (*store.Store, int64) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	sess := s.Session()
	bookID, _, err := sess.UpsertBook(ctx, store.Book{Title: "凡人修仙传", BookHash: hashing.BookHash("storyteller test")})
	if err != nil {
		t.Fatalf("upserting book: %v", err)
	}
	for i, text := range chapterTexts {
		if _, _, err := sess.UpsertChapter(ctx, store.Chapter{
			BookID:      bookID,
			Idx:         i + 1,
			Title:       "第" + string(rune('一'+i)) + "章",
			Text:        text,
			ChapterHash: hashing.ChapterHash("book", "title", text),
		}); err != nil {
			t.Fatalf("upserting chapter %d: %v", i+1, err)
		}
	}
	return s, bookID
}

func storytellerTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storyteller.MemoryTopK = 0
	cfg.Storyteller.RefineEnabled = false
	cfg.Storyteller.EntityExtractMode = "regex"
	return cfg
}

func TestStorytellGeneratesAndResumes(t *testing.T) {
	texts := []string{
		"韩立出门，在山边小村遇见墨大夫。",
		"韩立出门，随后进入七玄门修炼。",
	}
	s, bookID := openStorytellerStore(t, texts)
	cfg := storytellerTestConfig()

	chat := &fakeChat{model: "fake/chat/test", payload: `{
		"narration": "话说韩立此番出门，遇上了改变命运的人物。",
		"key_events": [{"who": "韩立", "what": "韩立出门", "where": "山边小村", "outcome": "", "impact": "踏上修仙路"}],
		"character_updates": [],
		"new_items": []
	}`}
	svc := NewService(ServiceDeps{
		Store:           s,
		Config:          cfg,
		NarrationClient: chat,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	stats, err := svc.Storytell(ctx, StorytellOptions{BookID: bookID})
	if err != nil {
		t.Fatalf("storytell: %v", err)
	}
	if stats.Generated != 2 || stats.SkippedExisting != 0 {
		t.Fatalf("stats = %+v, want 2 generated", stats)
	}

	narrations, err := s.Session().LatestNarrationsByBook(ctx, bookID)
	if err != nil {
		t.Fatalf("listing narrations: %v", err)
	}
	if len(narrations) != 2 {
		t.Fatalf("narrations = %d, want 2", len(narrations))
	}
	for _, n := range narrations {
		if n.Model != "fake/chat/test" || n.PromptVersion != NarrationPromptVersion {
			t.Errorf("narration identity = %s/%s, want fake model and %s", n.Model, n.PromptVersion, NarrationPromptVersion)
		}
		output, err := s.Session().GetNarrationOutput(ctx, n.ID)
		if err != nil || output == nil {
			t.Fatalf("narration %d missing output payload: %v", n.ID, err)
		}
	}

	// The identical key event in chapter 2 is dropped against chapter 1's
	// plot event, so only one plot event lands.
	events, err := s.Session().ListPlotEvents(ctx, bookID)
	if err != nil {
		t.Fatalf("listing plot events: %v", err)
	}
	if len(events) != 1 || events[0].EventSummary != "韩立出门" {
		t.Fatalf("plot events = %v, want single 韩立出门", events)
	}

	t.Run("second run is a no-op", func(t *testing.T) {
		stats, err := svc.Storytell(ctx, StorytellOptions{BookID: bookID})
		if err != nil {
			t.Fatalf("storytell rerun: %v", err)
		}
		if stats.Generated != 0 || stats.SkippedExisting != 2 {
			t.Fatalf("rerun stats = %+v, want all chapters skipped", stats)
		}
		narrations, err := s.Session().LatestNarrationsByBook(ctx, bookID)
		if err != nil {
			t.Fatalf("listing narrations: %v", err)
		}
		if len(narrations) != 2 {
			t.Fatalf("narrations = %d after rerun, want unchanged 2", len(narrations))
		}
	})
}

func TestStorytellFallbackWithoutClient(t *testing.T) {
	s, bookID := openStorytellerStore(t, []string{"韩立在山边小村长大，七岁那年进山采药。"})
	cfg := storytellerTestConfig()
	svc := NewService(ServiceDeps{
		Store:  s,
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	stats, err := svc.Storytell(ctx, StorytellOptions{BookID: bookID})
	if err != nil {
		t.Fatalf("storytell: %v", err)
	}
	if stats.Generated != 1 {
		t.Fatalf("stats = %+v, want 1 generated via fallback", stats)
	}

	narrations, err := s.Session().LatestNarrationsByBook(ctx, bookID)
	if err != nil || len(narrations) != 1 {
		t.Fatalf("narrations = %v err = %v, want 1 fallback narration", narrations, err)
	}
	if narrations[0].Model != FallbackModelID {
		t.Errorf("model = %q, want %q", narrations[0].Model, FallbackModelID)
	}
	if narrations[0].NarrationText == "" {
		t.Error("fallback narration is empty")
	}

	// Regex entity mentions still reach the world-state tables.
	characters, err := s.Session().ListCharacters(ctx, bookID)
	if err != nil {
		t.Fatalf("listing characters: %v", err)
	}
	if len(characters) == 0 {
		t.Error("expected entity mentions upserted as characters")
	}
}

func TestChapterInputHashSensitivity(t *testing.T) {
	cfg := config.DefaultConfig()
	ch := &store.Chapter{Idx: 3, ChapterHash: "abc123"}
	settings := EffectiveSettings("medium", cfg)

	base := ChapterInputHash(ch, settings, cfg, "m1", NarrationPromptVersion)
	if again := ChapterInputHash(ch, settings, cfg, "m1", NarrationPromptVersion); again != base {
		t.Error("input hash is not deterministic")
	}
	if other := ChapterInputHash(ch, settings, cfg, "m2", NarrationPromptVersion); other == base {
		t.Error("model change must invalidate the hash")
	}
	changed := settings
	changed.NarrationRatio = [2]float64{0.9, 1.0}
	if other := ChapterInputHash(ch, changed, cfg, "m1", NarrationPromptVersion); other == base {
		t.Error("ratio change must invalidate the hash")
	}
	cfg2 := config.DefaultConfig()
	cfg2.Storyteller.Style = "单口相声"
	if other := ChapterInputHash(ch, settings, cfg2, "m1", NarrationPromptVersion); other == base {
		t.Error("style change must invalidate the hash")
	}
}

func TestFallbackNarration(t *testing.T) {
	if got := fallbackNarration("abcdefghij", 0.3); got != "abc" {
		t.Errorf("fallback = %q, want abc", got)
	}
	if got := fallbackNarration("韩立出门", 0.5); got != "韩立" {
		t.Errorf("fallback = %q, want rune-measured 韩立", got)
	}
	if got := fallbackNarration("x", 0.1); got != "x" {
		t.Errorf("fallback = %q, want at least one rune", got)
	}
	ev := placeholderKeyEvent(7)
	if ev.What != "Chapter 7 draft narration generated" || ev.Outcome != "draft_generated" {
		t.Errorf("placeholder = %+v", ev)
	}
}

package storyteller

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/taleteller/taleteller/internal/config"
)

func stepTestConfig() *config.Config {
	cfg := storytellerTestConfig()
	cfg.Storyteller.StepSize = 2
	cfg.Storyteller.StepAlign = "auto"
	cfg.Storyteller.StepCheckpointEnabled = true
	cfg.Storyteller.StepMemoryMode = "off"
	return cfg
}

func TestStorytellStepsFallback(t *testing.T) {
	texts := []string{
		"韩立在山边小村长大。",
		"韩立进山采药，遇见墨大夫。",
		"韩立进入七玄门。",
		"韩立开始修炼长春功。",
	}
	s, bookID := openStorytellerStore(t, texts)
	cfg := stepTestConfig()
	svc := NewService(ServiceDeps{
		Store:  s,
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	stats, err := svc.StorytellSteps(ctx, StepOptions{BookID: bookID})
	if err != nil {
		t.Fatalf("storytell steps: %v", err)
	}
	if stats.StepsPlanned != 2 || stats.StepsGenerated != 2 {
		t.Fatalf("stats = %+v, want 2 steps generated", stats)
	}
	if stats.CheckpointsWritten != 2 {
		t.Errorf("checkpoints = %d, want one per step", stats.CheckpointsWritten)
	}

	sess := s.Session()
	narrations, err := sess.LatestNarrationsByBook(ctx, bookID)
	if err != nil {
		t.Fatalf("listing narrations: %v", err)
	}
	// One narration per step, anchored at the step's last chapter.
	anchors := map[int]bool{}
	for _, n := range narrations {
		if n.PromptVersion != StepNarrationPromptVersion {
			t.Errorf("prompt version = %q, want %q", n.PromptVersion, StepNarrationPromptVersion)
		}
		anchors[n.ChapterIdx] = true
	}
	if len(narrations) != 2 || !anchors[2] || !anchors[4] {
		t.Fatalf("narrations anchored at %v, want chapters 2 and 4", anchors)
	}

	for _, idx := range []int{2, 4} {
		cp, err := sess.GetCheckpoint(ctx, bookID, idx, cfg.Storyteller.StepSize)
		if err != nil {
			t.Fatalf("loading checkpoint %d: %v", idx, err)
		}
		if cp == nil || cp.SnapshotHash == "" {
			t.Errorf("checkpoint at %d missing or unhashed", idx)
		}
	}
}

func TestStorytellStepsRerunReplays(t *testing.T) {
	texts := []string{
		"韩立在山边小村长大。",
		"韩立进山采药，遇见墨大夫。",
	}
	s, bookID := openStorytellerStore(t, texts)
	cfg := stepTestConfig()
	cfg.Storyteller.StepResumeMode = "restore"
	svc := NewService(ServiceDeps{
		Store:  s,
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	if _, err := svc.StorytellSteps(ctx, StepOptions{BookID: bookID}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sess := s.Session()
	charactersBefore, err := sess.ListCharacters(ctx, bookID)
	if err != nil {
		t.Fatalf("listing characters: %v", err)
	}
	if len(charactersBefore) == 0 {
		t.Fatal("first run produced no world state")
	}
	snapBefore, err := sess.BuildSnapshot(ctx, bookID)
	if err != nil {
		t.Fatalf("snapshotting: %v", err)
	}
	hashBefore, err := snapBefore.Hash()
	if err != nil {
		t.Fatalf("hashing snapshot: %v", err)
	}

	// Rerun with nothing reset. The boundary rebuild clears the dirty
	// baseline, so the step identity matches the persisted narration and
	// the run replays without generating anything.
	stats, err := svc.StorytellSteps(ctx, StepOptions{BookID: bookID})
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if stats.StepsCacheReplayed != 1 || stats.StepsGenerated != 0 {
		t.Fatalf("rerun stats = %+v, want pure cache replay", stats)
	}

	count, err := sess.CountNarrations(ctx, bookID)
	if err != nil {
		t.Fatalf("counting narrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("narrations = %d, want no new rows on rerun", count)
	}
	snapAfter, err := sess.BuildSnapshot(ctx, bookID)
	if err != nil {
		t.Fatalf("snapshotting after rerun: %v", err)
	}
	hashAfter, err := snapAfter.Hash()
	if err != nil {
		t.Fatalf("hashing snapshot: %v", err)
	}
	if hashAfter != hashBefore {
		t.Errorf("world state diverged across rerun: %s != %s", hashAfter, hashBefore)
	}
}

func TestStorytellStepsRestoreRenarratesGap(t *testing.T) {
	texts := []string{
		"韩立在山边小村长大。",
		"韩立进山采药，遇见墨大夫。",
		"韩立进入七玄门。",
		"韩立开始修炼长春功。",
	}
	s, bookID := openStorytellerStore(t, texts)
	cfg := stepTestConfig()
	cfg.Storyteller.StepResumeMode = "restore"
	cfg.Storyteller.StepCheckpointEnabled = false
	svc := NewService(ServiceDeps{
		Store:  s,
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	// Chapters 1 and 2 were never narrated: the boundary rebuild runs the
	// full graph for them before the first step starts.
	ctx := context.Background()
	stats, err := svc.StorytellSteps(ctx, StepOptions{BookID: bookID, FromChapter: 3})
	if err != nil {
		t.Fatalf("storytell steps: %v", err)
	}
	if stats.GapChaptersNarrated != 2 {
		t.Fatalf("stats = %+v, want both gap chapters renarrated", stats)
	}
	if stats.StepsGenerated != 1 {
		t.Fatalf("stats = %+v, want one generated step", stats)
	}

	sess := s.Session()
	narrations, err := sess.LatestNarrationsByBook(ctx, bookID)
	if err != nil {
		t.Fatalf("listing narrations: %v", err)
	}
	if len(narrations) != 3 {
		t.Fatalf("narrations = %d, want chapters 1 and 2 plus the step anchor", len(narrations))
	}
	characters, err := sess.ListCharacters(ctx, bookID)
	if err != nil {
		t.Fatalf("listing characters: %v", err)
	}
	if len(characters) == 0 {
		t.Error("gap narration left no world state")
	}
}

func TestStorytellStepsRenarratesUnreadablePayload(t *testing.T) {
	texts := []string{
		"韩立在山边小村长大。",
		"韩立进山采药，遇见墨大夫。",
		"韩立进入七玄门。",
		"韩立开始修炼长春功。",
	}
	s, bookID := openStorytellerStore(t, texts)
	cfg := stepTestConfig()
	cfg.Storyteller.StepResumeMode = "restore"
	cfg.Storyteller.StepCheckpointEnabled = false
	svc := NewService(ServiceDeps{
		Store:  s,
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	if _, err := svc.StorytellSteps(ctx, StepOptions{BookID: bookID, ToChapter: 2}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sess := s.Session()
	narrations, err := sess.LatestNarrationsByBook(ctx, bookID)
	if err != nil {
		t.Fatalf("listing narrations: %v", err)
	}
	if len(narrations) != 1 {
		t.Fatalf("narrations = %d, want one step narration", len(narrations))
	}
	if err := sess.SaveNarrationOutput(ctx, narrations[0].ID, "{"); err != nil {
		t.Fatalf("corrupting payload: %v", err)
	}

	// The step payload no longer parses, so the boundary rebuild cannot
	// replay chapters 1 and 2 and narrates them again instead.
	stats, err := svc.StorytellSteps(ctx, StepOptions{BookID: bookID, FromChapter: 3})
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if stats.GapChaptersNarrated != 2 || stats.ReplayedNarrations != 0 {
		t.Fatalf("stats = %+v, want the gap rebuilt by full graph passes", stats)
	}
	if stats.StepsGenerated != 1 {
		t.Fatalf("stats = %+v, want the step after the gap generated", stats)
	}
}

func TestStorytellStepsRestoreResume(t *testing.T) {
	texts := []string{
		"韩立在山边小村长大。",
		"韩立进山采药，遇见墨大夫。",
		"韩立进入七玄门。",
		"韩立开始修炼长春功。",
	}
	s, bookID := openStorytellerStore(t, texts)
	cfg := stepTestConfig()
	cfg.Storyteller.StepResumeMode = "restore"
	svc := NewService(ServiceDeps{
		Store:  s,
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	if _, err := svc.StorytellSteps(ctx, StepOptions{BookID: bookID}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Resume at chapter 3: the boundary world-state is rebuilt from the
	// checkpoint at chapter 2, and the second step's unchanged identity
	// replays from its stored payload.
	stats, err := svc.StorytellSteps(ctx, StepOptions{BookID: bookID, FromChapter: 3})
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if stats.RestoredFromChapter != 2 {
		t.Errorf("restored from chapter %d, want checkpoint at 2", stats.RestoredFromChapter)
	}
	if stats.StepsCacheReplayed != 1 || stats.StepsGenerated != 0 {
		t.Fatalf("resume stats = %+v, want cache replay of step [3,4]", stats)
	}
}

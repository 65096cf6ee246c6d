package storyteller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/store"
)

func newTestGraph(cfg *config.Config) *Graph {
	return NewGraph(GraphDeps{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestConsistencyCheckDedupAndAlias(t *testing.T) {
	g := newTestGraph(config.DefaultConfig())
	st := &State{
		ChapterIdx: 3,
		CharacterStates: []store.Character{
			{CanonicalName: "韩立", AliasesJSON: `["韩跑跑"]`},
		},
		KeyEvents: []KeyEvent{
			{Who: "韩立", What: "斩杀妖兽"},
			{Who: "韩立", What: "斩杀妖兽"},
		},
		CharacterUpdates: []CharacterUpdate{
			{Name: "韩跑跑", ChangeType: "status", Before: "炼气", After: "筑基"},
		},
	}

	if err := g.runConsistencyCheck(context.Background(), st); err != nil {
		t.Fatalf("consistency check: %v", err)
	}

	if len(st.KeyEvents) != 1 {
		t.Fatalf("key events = %d, want 1 after dedup", len(st.KeyEvents))
	}
	if len(st.CharacterUpdates) != 1 {
		t.Fatalf("character updates = %d, want 1", len(st.CharacterUpdates))
	}
	if got := st.CharacterUpdates[0].Name; got != "韩立" {
		t.Errorf("update name = %q, want canonical 韩立", got)
	}
	if got := st.CharacterUpdates[0].NameRaw; got != "韩跑跑" {
		t.Errorf("raw name = %q, want 韩跑跑", got)
	}

	wantAction := "Normalized character alias '韩跑跑' -> '韩立'"
	if len(st.ConsistencyActions) != 1 || st.ConsistencyActions[0] != wantAction {
		t.Errorf("actions = %v, want [%q]", st.ConsistencyActions, wantAction)
	}
	wantWarning := "Dropped duplicated key_event: 斩杀妖兽"
	if len(st.ConsistencyWarnings) != 1 || st.ConsistencyWarnings[0] != wantWarning {
		t.Errorf("warnings = %v, want [%q]", st.ConsistencyWarnings, wantWarning)
	}
}

func TestConsistencyCheckDropsAgainstRecentEvents(t *testing.T) {
	g := newTestGraph(config.DefaultConfig())
	st := &State{
		ChapterIdx:   4,
		RecentEvents: []store.PlotEvent{{ChapterIdx: 3, EventSummary: "获得掌天瓶"}},
		KeyEvents: []KeyEvent{
			{What: "获得掌天瓶"},
			{What: "离开山村"},
		},
	}

	if err := g.runConsistencyCheck(context.Background(), st); err != nil {
		t.Fatalf("consistency check: %v", err)
	}
	if len(st.KeyEvents) != 1 || st.KeyEvents[0].What != "离开山村" {
		t.Fatalf("key events = %v, want only the new event", st.KeyEvents)
	}
}

func TestConsistencyCheckFiltersMalformedClaims(t *testing.T) {
	g := newTestGraph(config.DefaultConfig())
	st := &State{
		ChapterIdx: 2,
		KeyEvents:  []KeyEvent{{What: "  "}},
		CharacterUpdates: []CharacterUpdate{
			{Name: "", After: "筑基"},
			{Name: "韩立", Before: "筑基", After: "筑基"},
			{Name: "墨大夫", After: "收徒"},
		},
	}

	if err := g.runConsistencyCheck(context.Background(), st); err != nil {
		t.Fatalf("consistency check: %v", err)
	}

	if len(st.KeyEvents) != 0 {
		t.Errorf("key events = %v, want empty", st.KeyEvents)
	}
	if len(st.CharacterUpdates) != 1 || st.CharacterUpdates[0].Name != "墨大夫" {
		t.Fatalf("updates = %v, want only 墨大夫", st.CharacterUpdates)
	}
	if got := st.CharacterUpdates[0].ChangeType; got != "status" {
		t.Errorf("change type = %q, want default status", got)
	}

	joined := strings.Join(st.ConsistencyWarnings, "\n")
	for _, want := range []string{
		"Dropped empty key_event",
		"Dropped character_update without name",
		"Dropped no-op character_update for '韩立' (status)",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q in %v", want, st.ConsistencyWarnings)
		}
	}
}

func TestConsistencyCheckTruncatesKeyEvents(t *testing.T) {
	g := newTestGraph(config.DefaultConfig())
	st := &State{ChapterIdx: 1}
	for i := 0; i < 25; i++ {
		st.KeyEvents = append(st.KeyEvents, KeyEvent{What: fmt.Sprintf("事件%d", i)})
	}

	if err := g.runConsistencyCheck(context.Background(), st); err != nil {
		t.Fatalf("consistency check: %v", err)
	}
	if len(st.KeyEvents) != 20 {
		t.Fatalf("key events = %d, want 20 after truncation", len(st.KeyEvents))
	}
	want := "Too many key_events; truncated to 20"
	if len(st.ConsistencyWarnings) == 0 || st.ConsistencyWarnings[len(st.ConsistencyWarnings)-1] != want {
		t.Errorf("warnings = %v, want trailing %q", st.ConsistencyWarnings, want)
	}
}

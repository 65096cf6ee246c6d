package storyteller

import (
	"context"
	"strings"
	"testing"

	"github.com/taleteller/taleteller/internal/config"
)

func TestEvidenceVerifyGate(t *testing.T) {
	g := newTestGraph(config.DefaultConfig())
	st := &State{
		ChapterIdx:  5,
		ChapterText: "韩立在秘境中斩杀妖兽，获得掌天瓶。",
		AwakenedMemories: []Memory{
			{SourceType: "narration", ChapterIdx: 4, Text: "韩立需要突破瓶颈"},
		},
		KeyEvents: []KeyEvent{
			{Who: "韩立", What: "斩杀妖兽"},
			{What: "飞升灵界"},
		},
		CharacterUpdates: []CharacterUpdate{
			{Name: "韩立", ChangeType: "status", Before: "炼气", After: "筑基", Evidence: "韩立需要突破瓶颈"},
		},
		NewItems: []NewItem{
			{Name: "掌天瓶", Owner: "韩立", Description: "神秘小瓶"},
		},
	}

	if err := g.runEvidenceVerify(context.Background(), st); err != nil {
		t.Fatalf("evidence verify: %v", err)
	}

	if st.Evidence.TotalClaims != 4 || st.Evidence.SupportedClaims != 3 || st.Evidence.UnsupportedClaims != 1 {
		t.Fatalf("report = %+v, want total 4, supported 3, unsupported 1", st.Evidence)
	}

	if len(st.KeyEvents) != 1 || st.KeyEvents[0].What != "斩杀妖兽" {
		t.Fatalf("key events = %v, want only 斩杀妖兽", st.KeyEvents)
	}
	if got := st.KeyEvents[0].EvidenceScore; got < 1.0 {
		t.Errorf("event score = %v, want full support from chapter text", got)
	}
	if got := st.KeyEvents[0].EvidenceSourceType; got != "chapter" {
		t.Errorf("event source = %q, want chapter", got)
	}

	if len(st.CharacterUpdates) != 1 {
		t.Fatalf("updates = %v, want the memory-backed update kept", st.CharacterUpdates)
	}
	if got := st.CharacterUpdates[0].EvidenceSourceType; got != "narration" {
		t.Errorf("update source = %q, want the memory source type", got)
	}

	if len(st.NewItems) != 1 || st.NewItems[0].Name != "掌天瓶" {
		t.Fatalf("items = %v, want 掌天瓶 kept", st.NewItems)
	}

	wantWarning := "Evidence rejected key_event: 飞升灵界"
	if !strings.Contains(strings.Join(st.ConsistencyWarnings, "\n"), wantWarning) {
		t.Errorf("warnings = %v, want %q", st.ConsistencyWarnings, wantWarning)
	}
	wantAction := "Evidence filtered unsupported claims: 1"
	if !strings.Contains(strings.Join(st.ConsistencyActions, "\n"), wantAction) {
		t.Errorf("actions = %v, want %q", st.ConsistencyActions, wantAction)
	}
}

func TestEvidenceVerifyAcceptedScoresMeetThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	g := newTestGraph(cfg)
	st := &State{
		ChapterIdx:  2,
		ChapterText: "韩立走入洞府，点燃油灯，开始打坐修炼。",
		KeyEvents: []KeyEvent{
			{Who: "韩立", What: "打坐修炼", Where: "洞府"},
			{What: "与墨大夫决裂"},
		},
	}

	if err := g.runEvidenceVerify(context.Background(), st); err != nil {
		t.Fatalf("evidence verify: %v", err)
	}
	for _, ev := range st.KeyEvents {
		if ev.EvidenceScore < cfg.Storyteller.EvidenceMinSupportScore {
			t.Errorf("accepted claim %q scored %v below threshold %v",
				ev.What, ev.EvidenceScore, cfg.Storyteller.EvidenceMinSupportScore)
		}
	}
}

func TestSupportScore(t *testing.T) {
	source := "韩立在山脚下的小村中长大。"

	t.Run("key phrase substring is full support", func(t *testing.T) {
		if got := supportScore("任意内容", nil, []string{"小村"}, source); got != 1.0 {
			t.Errorf("score = %v, want 1.0", got)
		}
	})

	t.Run("token overlap intersects token sets", func(t *testing.T) {
		claim := "hanli went city"
		got := supportScore(claim, tokenSet(claim), nil, "hanli stayed home")
		if want := 1.0 / 3.0; got != want {
			t.Errorf("score = %v, want %v", got, want)
		}
	})

	t.Run("repeated claim tokens count once", func(t *testing.T) {
		claim := "hanli hanli sword"
		got := supportScore(claim, tokenSet(claim), nil, "hanli rests")
		if got != 0.5 {
			t.Errorf("score = %v, want 0.5 from the deduplicated claim tokens", got)
		}
	})

	t.Run("token inside a longer source word does not match", func(t *testing.T) {
		claim := "cat"
		got := supportScore(claim, tokenSet(claim), nil, "concatenate strings")
		if got != 0 {
			t.Errorf("score = %v, want 0", got)
		}
	})

	t.Run("empty source scores zero", func(t *testing.T) {
		if got := supportScore("韩立", tokenSet("韩立"), nil, ""); got != 0 {
			t.Errorf("score = %v, want 0", got)
		}
	})
}

func TestEvidenceSnippetTruncates(t *testing.T) {
	long := strings.Repeat("韩", 300)
	got := evidenceSnippet(long)
	if n := len([]rune(got)); n != evidenceSnippetMaxRunes {
		t.Errorf("snippet runes = %d, want %d", n, evidenceSnippetMaxRunes)
	}
}

package retrieval

import (
	"testing"

	"github.com/taleteller/taleteller/internal/config"
)

func TestExtractKeywordTerms(t *testing.T) {
	terms := ExtractKeywordTerms([]string{"韩立", "掌天瓶", "韩立", " ", "墨大夫"}, 4)
	if len(terms) != 3 {
		t.Fatalf("expected 3 terms, got %v", terms)
	}
	if terms[0] != "韩立" || terms[1] != "掌天瓶" || terms[2] != "墨大夫" {
		t.Errorf("unexpected term order: %v", terms)
	}

	capped := ExtractKeywordTerms([]string{"a", "b", "c", "d", "e"}, 2)
	if len(capped) != 2 {
		t.Errorf("cap not applied: %v", capped)
	}
}

func TestBuildFTSQuery(t *testing.T) {
	if got := BuildFTSQuery([]string{"韩立", "掌天瓶"}); got != `"韩立" OR "掌天瓶"` {
		t.Errorf("got %q", got)
	}
	if got := BuildFTSQuery(nil); got != "" {
		t.Errorf("empty terms produced %q", got)
	}
	if got := BuildFTSQuery([]string{`say "hi"`}); got != `"say ""hi"""` {
		t.Errorf("quote escaping: %q", got)
	}
}

func TestNormRankAndProximity(t *testing.T) {
	if got := NormRank(1, 4); got != 1.0 {
		t.Errorf("NormRank(1,4) = %f", got)
	}
	if got := NormRank(4, 4); got != 0.25 {
		t.Errorf("NormRank(4,4) = %f", got)
	}
	if got := ProximityScore(10, 9); got != 0.5 {
		t.Errorf("ProximityScore(10,9) = %f", got)
	}
	if got := ProximityScore(10, 10); got != 0.0 {
		t.Errorf("ProximityScore(10,10) = %f", got)
	}
	if got := ProximityScore(10, 12); got != 0.0 {
		t.Errorf("future chapter scored %f", got)
	}
}

func TestFuseAppliesCausalFilterAndProximityOrder(t *testing.T) {
	s := &Searcher{cfg: config.RetrievalCfg{Alpha: 0.7, Beta: 0.2, MaxKeywordTerms: 8, SnippetMaxChars: 800}}

	candidates := make(map[string]*fusedHit)
	for i, idx := range []int{1, 3, 8, 2} {
		c := ensureCandidate(candidates, "chunk", int64(i+1), idx, "", "text")
		// Identical dense scores so chapter proximity decides.
		c.VectorScore = 0.9
		c.hasVector = true
	}

	hits := s.fuse(candidates, 3, 2)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChapterIdx != 2 || hits[1].ChapterIdx != 1 {
		t.Errorf("expected proximity order [2, 1], got [%d, %d]", hits[0].ChapterIdx, hits[1].ChapterIdx)
	}
	for _, h := range hits {
		if h.ChapterIdx >= 3 {
			t.Errorf("causal filter leaked chapter %d", h.ChapterIdx)
		}
		if h.ProximityScore <= 0 || h.Score <= 0 {
			t.Errorf("scores not populated: %+v", h)
		}
	}
}

func TestFuseTruncatesSnippets(t *testing.T) {
	s := &Searcher{cfg: config.RetrievalCfg{Alpha: 0.7, Beta: 0.2, SnippetMaxChars: 4}}
	candidates := make(map[string]*fusedHit)
	c := ensureCandidate(candidates, "narration", 1, 1, "", "韩立在山边小村出门")
	c.KeywordScore = 1.0
	c.hasKeyword = true

	hits := s.fuse(candidates, 2, 5)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Text != "韩立在山" {
		t.Errorf("snippet = %q", hits[0].Text)
	}
}

func TestFuseMergesSourcesByKey(t *testing.T) {
	s := &Searcher{cfg: config.RetrievalCfg{Alpha: 0.5, Beta: 0, SnippetMaxChars: 800}}
	candidates := make(map[string]*fusedHit)

	// Same source seen by both components keeps the max of each score.
	c := ensureCandidate(candidates, "chunk", 7, 1, "", "text")
	c.VectorScore, c.hasVector = 0.8, true
	c = ensureCandidate(candidates, "chunk", 7, 1, "", "text")
	c.KeywordScore, c.hasKeyword = 0.6, true

	if len(candidates) != 1 {
		t.Fatalf("expected fused candidate, got %d", len(candidates))
	}
	hits := s.fuse(candidates, 2, 5)
	want := 0.5*0.8 + 0.5*0.6
	if len(hits) != 1 || hits[0].Score != want {
		t.Errorf("fused score = %+v, want %f", hits, want)
	}
}

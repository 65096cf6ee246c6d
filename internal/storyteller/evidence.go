package storyteller

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
)

var claimTokenPattern = regexp.MustCompile(`[\x{4e00}-\x{9fff}]{2,8}|[A-Za-z0-9_]{2,20}`)

const evidenceSnippetMaxRunes = 120

// evidenceSource is one text a claim can be grounded against.
type evidenceSource struct {
	sourceType string
	text       string
}

// runEvidenceVerify scores every structured claim against the chapter text
// and the awakened memories, then drops claims below the support threshold.
// Pure: no store writes, no LLM.
func (g *Graph) runEvidenceVerify(_ context.Context, st *State) error {
	sources := []evidenceSource{{sourceType: "chapter", text: st.ChapterText}}
	maxSnippets := g.cfg.Storyteller.EvidenceMaxSnippets
	for i, mem := range st.AwakenedMemories {
		if i >= maxSnippets {
			break
		}
		sourceType := mem.SourceType
		if sourceType == "" {
			sourceType = "memory"
		}
		sources = append(sources, evidenceSource{sourceType: sourceType, text: mem.Text})
	}

	minScore := g.cfg.Storyteller.EvidenceMinSupportScore
	report := EvidenceReport{}
	dropped := 0

	var events []KeyEvent
	for _, ev := range st.KeyEvents {
		report.TotalClaims++
		claim := joinClaim(ev.Who, ev.What, ev.Where, ev.Outcome, ev.Impact)
		score, src := bestEvidence(claim, []string{ev.What}, sources)
		ev.EvidenceScore = score
		ev.EvidenceSourceType = src.sourceType
		ev.EvidenceQuote = evidenceSnippet(src.text)
		if score < minScore {
			report.UnsupportedClaims++
			dropped++
			st.ConsistencyWarnings = append(st.ConsistencyWarnings,
				fmt.Sprintf("Evidence rejected key_event: %s", ev.What))
			continue
		}
		report.SupportedClaims++
		events = append(events, ev)
	}
	st.KeyEvents = events

	var updates []CharacterUpdate
	for _, upd := range st.CharacterUpdates {
		report.TotalClaims++
		claim := joinClaim(upd.Name, upd.ChangeType, upd.After, upd.Evidence)
		score, src := bestEvidence(claim, []string{upd.Evidence, upd.After}, sources)
		upd.EvidenceScore = score
		upd.EvidenceSourceType = src.sourceType
		upd.EvidenceQuote = evidenceSnippet(src.text)
		if score < minScore {
			report.UnsupportedClaims++
			dropped++
			st.ConsistencyWarnings = append(st.ConsistencyWarnings,
				fmt.Sprintf("Evidence rejected character_update: %s", upd.Name))
			continue
		}
		report.SupportedClaims++
		updates = append(updates, upd)
	}
	st.CharacterUpdates = updates

	var items []NewItem
	for _, it := range st.NewItems {
		report.TotalClaims++
		claim := joinClaim(it.Name, it.Owner, it.Description)
		score, src := bestEvidence(claim, []string{it.Name, it.Description, it.Owner}, sources)
		it.EvidenceScore = score
		it.EvidenceSourceType = src.sourceType
		it.EvidenceQuote = evidenceSnippet(src.text)
		if score < minScore {
			report.UnsupportedClaims++
			dropped++
			st.ConsistencyWarnings = append(st.ConsistencyWarnings,
				fmt.Sprintf("Evidence rejected new_item: %s", it.Name))
			continue
		}
		report.SupportedClaims++
		items = append(items, it)
	}
	st.NewItems = items

	if dropped > 0 {
		st.ConsistencyActions = append(st.ConsistencyActions,
			fmt.Sprintf("Evidence filtered unsupported claims: %d", dropped))
	}
	st.Evidence = report
	return nil
}

func joinClaim(fields ...string) string {
	var parts []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}

// bestEvidence returns the highest support score across sources and the
// source that produced it. A key-phrase or whole-claim substring match is
// full support; otherwise the overlap of the deduplicated token sets of
// claim and source decides.
func bestEvidence(claim string, keyPhrases []string, sources []evidenceSource) (float64, evidenceSource) {
	best := 0.0
	bestSrc := evidenceSource{}
	claimTokens := tokenSet(claim)
	for _, src := range sources {
		score := supportScore(claim, claimTokens, keyPhrases, src.text)
		if score > best || bestSrc.sourceType == "" {
			best = score
			bestSrc = src
		}
		if best >= 1.0 {
			break
		}
	}
	return math.Round(best*10000) / 10000, bestSrc
}

func tokenSet(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range claimTokenPattern.FindAllString(text, -1) {
		tokens[tok] = true
	}
	return tokens
}

func supportScore(claim string, claimTokens map[string]bool, keyPhrases []string, source string) float64 {
	if source == "" {
		return 0
	}
	for _, phrase := range keyPhrases {
		if phrase = strings.TrimSpace(phrase); phrase != "" && strings.Contains(source, phrase) {
			return 1.0
		}
	}
	if claim != "" && strings.Contains(source, claim) {
		return 1.0
	}
	if len(claimTokens) == 0 {
		return 0
	}
	matched := 0
	for tok := range tokenSet(source) {
		if claimTokens[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(claimTokens))
}

func evidenceSnippet(source string) string {
	return strings.TrimSpace(truncateRunes(source, evidenceSnippetMaxRunes))
}

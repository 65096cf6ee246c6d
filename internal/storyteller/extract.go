package storyteller

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/taleteller/taleteller/internal/hashing"
	"github.com/taleteller/taleteller/internal/llm"
	"github.com/taleteller/taleteller/internal/retrieval"
)

var cjkTokenPattern = regexp.MustCompile(`[\x{4e00}-\x{9fff}]{2,8}`)

const (
	maxFallbackEntities = 16
	memoryTextMaxRunes  = 600
	queryTextMaxRunes   = 2000
)

func uniqueStrings(values []string, maxItems int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) >= maxItems {
			break
		}
	}
	return out
}

type entityPayload struct {
	Characters []string `json:"characters"`
	Locations  []string `json:"locations"`
	Items      []string `json:"items"`
	KeyPhrases []string `json:"key_phrases"`
}

// runEntityExtract fills entities/locations/items. In "llm" mode it asks
// the entity route; any failure (or "regex" mode) degrades to CJK n-gram
// extraction over the chapter text.
func (g *Graph) runEntityExtract(ctx context.Context, st *State) error {
	if st.Settings.EntityExtractMode == "llm" && g.entityClient != nil {
		system, user := entityPrompt(g.cfg.Storyteller.Language, st.ChapterText)
		inputHash := hashing.SHA256Text(st.ChapterText)
		req := llm.Request{
			System:    system,
			User:      user,
			CacheKey:  llm.MakeCacheKey("storyteller_entity", g.entityClient.ModelIdentifier(), EntityPromptVersion, inputHash),
			InputHash: inputHash,
		}
		var payload entityPayload
		_, err := g.entityClient.CompleteStructured(ctx, req, entitySchema, &payload)
		if err == nil {
			st.EntitiesMentioned = uniqueStrings(trimAll(payload.Characters), maxFallbackEntities)
			st.LocationsMentioned = trimAll(payload.Locations)
			st.ItemsMentioned = trimAll(payload.Items)
			return nil
		}
		g.logger.Warn("entity extraction fell back to regex", "chapter_idx", st.ChapterIdx, "error", err.Error())
	}

	st.EntitiesMentioned = uniqueStrings(cjkTokenPattern.FindAllString(st.ChapterText, -1), maxFallbackEntities)
	st.LocationsMentioned = nil
	st.ItemsMentioned = nil
	return nil
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// runStateLookup loads the world-state relevant to the mentioned entities
// plus the recent plot-event window.
func (g *Graph) runStateLookup(ctx context.Context, st *State) error {
	var err error
	if len(st.EntitiesMentioned) > 0 {
		st.CharacterStates, err = g.sess.ListCharactersByNames(ctx, g.bookID, st.EntitiesMentioned)
	} else {
		st.CharacterStates, err = g.sess.ListCharacters(ctx, g.bookID)
	}
	if err != nil {
		return fmt.Errorf("loading character states: %w", err)
	}

	if len(st.ItemsMentioned) > 0 {
		st.ItemStates, err = g.sess.ListItemsByNames(ctx, g.bookID, st.ItemsMentioned)
	} else {
		st.ItemStates, err = g.sess.ListItems(ctx, g.bookID)
	}
	if err != nil {
		return fmt.Errorf("loading item states: %w", err)
	}

	window := g.cfg.Storyteller.RecentEventsWindow
	st.RecentEvents, err = g.sess.RecentPlotEvents(ctx, g.bookID, st.ChapterIdx-window, st.ChapterIdx)
	if err != nil {
		return fmt.Errorf("loading recent events: %w", err)
	}
	return nil
}

// runMemoryRetrieve awakens prior context through hybrid retrieval. A
// pre-populated memory list is respected, so step batching can inject
// shared memories.
func (g *Graph) runMemoryRetrieve(ctx context.Context, st *State) error {
	if st.AwakenedMemories != nil {
		return nil
	}
	topK := st.Settings.MemoryTopK
	if topK <= 0 || g.retriever == nil {
		st.AwakenedMemories = []Memory{}
		return nil
	}

	hits, err := g.retriever.Retrieve(ctx, g.bookID, retrieval.Query{
		Text:              memoryQueryText(st),
		TopK:              topK,
		CurrentChapterIdx: st.ChapterIdx,
		KeywordTerms:      st.EntitiesMentioned,
	})
	if err != nil {
		g.logger.Warn("memory retrieve failed, continuing with empty memories",
			"chapter_idx", st.ChapterIdx, "error", err.Error())
		st.AwakenedMemories = []Memory{}
		return nil
	}

	memories := make([]Memory, 0, len(hits))
	for _, h := range hits {
		memories = append(memories, Memory{
			SourceID:     h.SourceID,
			SourceType:   h.SourceType,
			ChapterIdx:   h.ChapterIdx,
			ChapterTitle: h.ChapterTitle,
			Text:         truncateRunes(h.Text, memoryTextMaxRunes),
		})
	}
	st.AwakenedMemories = memories
	return nil
}

func memoryQueryText(st *State) string {
	return fmt.Sprintf("chapter_idx=%d\nentities=%s\n%s",
		st.ChapterIdx,
		strings.Join(st.EntitiesMentioned, ", "),
		truncateRunes(st.ChapterText, queryTextMaxRunes))
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

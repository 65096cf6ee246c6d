package storyteller

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/taleteller/taleteller/internal/hashing"
	"github.com/taleteller/taleteller/internal/llm"
)

type narrationPayload struct {
	Narration        string            `json:"narration"`
	KeyEvents        []KeyEvent        `json:"key_events"`
	CharacterUpdates []CharacterUpdate `json:"character_updates"`
	NewItems         []NewItem         `json:"new_items"`
}

// runGenerate produces the draft narration plus structured claims. Without a
// usable client (or when the model returns an empty narration) the node
// degrades to a deterministic excerpt draft so the pipeline stays resumable.
func (g *Graph) runGenerate(ctx context.Context, st *State) error {
	if g.narrationClient == nil {
		g.applyFallbackDraft(st)
		return nil
	}

	system, user := narrationPrompt(
		g.cfg.Storyteller.Language,
		g.cfg.Storyteller.Style,
		st.Settings,
		jsonString(st.CharacterStates),
		jsonString(st.ItemStates),
		jsonString(st.RecentEvents),
		jsonString(st.AwakenedMemories),
		st.ChapterTitle,
		st.ChapterText,
	)
	req := llm.Request{
		System: system,
		User:   user,
		CacheKey: llm.MakeCacheKey(
			"storyteller_generate",
			g.narrationClient.ModelIdentifier(),
			NarrationPromptVersion,
			st.InputHash,
			formatTemperature(g.cfg.Storyteller.NarrationTemperature),
		),
		InputHash: st.InputHash,
	}

	var payload narrationPayload
	res, err := g.narrationClient.CompleteStructured(ctx, req, narrationSchema, &payload)
	if err != nil {
		g.logger.Warn("narration generation failed, using fallback draft",
			"chapter_idx", st.ChapterIdx, "error", err.Error())
		g.applyFallbackDraft(st)
		st.Telemetry.NarrationLLMCalls = 1
		return nil
	}

	st.Telemetry.NarrationCacheHit = res.CacheHit
	if !res.CacheHit {
		st.Telemetry.NarrationLLMCalls = 1
	}
	st.Telemetry.InputTokensEstimated += res.PromptTokens
	st.Telemetry.OutputTokensEstimated += res.CompletionTokens

	if strings.TrimSpace(payload.Narration) == "" {
		g.logger.Warn("model returned empty narration, using fallback draft", "chapter_idx", st.ChapterIdx)
		g.applyFallbackDraft(st)
		return nil
	}

	st.Narration = payload.Narration
	st.KeyEvents = payload.KeyEvents
	st.CharacterUpdates = payload.CharacterUpdates
	st.NewItems = payload.NewItems
	return nil
}

// applyFallbackDraft writes the deterministic degraded output: an excerpt
// sized by the upper narration ratio plus a placeholder key event so the
// world-state still records that a draft exists for this chapter.
func (g *Graph) applyFallbackDraft(st *State) {
	st.Narration = fallbackNarration(st.ChapterText, st.Settings.NarrationRatio[1])
	st.KeyEvents = []KeyEvent{placeholderKeyEvent(st.ChapterIdx)}
	st.CharacterUpdates = []CharacterUpdate{}
	st.NewItems = []NewItem{}
}

func fallbackNarration(chapterText string, ratioHigh float64) string {
	runes := []rune(chapterText)
	n := int(float64(len(runes)) * ratioHigh)
	if n < 1 {
		n = 1
	}
	if n > len(runes) {
		n = len(runes)
	}
	return strings.TrimSpace(string(runes[:n]))
}

func placeholderKeyEvent(chapterIdx int) KeyEvent {
	return KeyEvent{
		Who:     "unknown",
		What:    "Chapter " + strconv.Itoa(chapterIdx) + " draft narration generated",
		Where:   "unknown",
		Outcome: "draft_generated",
		Impact:  "world_state_pending",
	}
}

// refineInput is serialized with alphabetically ordered keys so the refine
// cache key is stable across runs.
type refineInput struct {
	ChapterID        int64             `json:"chapter_id"`
	ChapterIdx       int               `json:"chapter_idx"`
	CharacterUpdates []CharacterUpdate `json:"character_updates"`
	KeyEvents        []KeyEvent        `json:"key_events"`
	Narration        string            `json:"narration"`
	Style            string            `json:"style"`
}

// runRefineNarration polishes the draft. It never fails the chapter: any
// refine error keeps the draft narration as-is.
func (g *Graph) runRefineNarration(ctx context.Context, st *State) error {
	if !st.Settings.RefineEnabled || st.Narration == "" || g.refineClient == nil {
		return nil
	}

	inputJSON, err := json.Marshal(refineInput{
		ChapterID:        st.ChapterID,
		ChapterIdx:       st.ChapterIdx,
		CharacterUpdates: st.CharacterUpdates,
		KeyEvents:        st.KeyEvents,
		Narration:        st.Narration,
		Style:            g.cfg.Storyteller.Style,
	})
	if err != nil {
		return nil
	}
	inputHash := hashing.SHA256Text(string(inputJSON))

	system, user := refinePrompt(
		g.cfg.Storyteller.Language,
		g.cfg.Storyteller.Style,
		jsonString(st.KeyEvents),
		jsonString(st.CharacterUpdates),
		st.Narration,
	)
	req := llm.Request{
		System: system,
		User:   user,
		CacheKey: llm.MakeCacheKey(
			"storyteller_refine",
			g.refineClient.ModelIdentifier(),
			RefinePromptVersion,
			inputHash,
			formatTemperature(g.cfg.Storyteller.RefineTemperature),
		),
		InputHash: inputHash,
	}

	var payload struct {
		Narration string `json:"narration"`
	}
	res, err := g.refineClient.CompleteStructured(ctx, req, refineSchema, &payload)
	if err != nil {
		g.logger.Warn("refine failed, keeping draft narration",
			"chapter_idx", st.ChapterIdx, "error", err.Error())
		st.Telemetry.RefineLLMCalls = 1
		return nil
	}

	st.Telemetry.RefineCacheHit = res.CacheHit
	if !res.CacheHit {
		st.Telemetry.RefineLLMCalls = 1
	}
	st.Telemetry.InputTokensEstimated += res.PromptTokens
	st.Telemetry.OutputTokensEstimated += res.CompletionTokens

	if refined := strings.TrimSpace(payload.Narration); refined != "" {
		st.Narration = payload.Narration
	}
	return nil
}

func formatTemperature(t float64) string {
	return strconv.FormatFloat(t, 'g', -1, 64)
}

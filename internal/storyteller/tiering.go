package storyteller

import (
	"strings"

	"github.com/taleteller/taleteller/internal/config"
)

// TierSettings are the storyteller knobs effective for one chapter after
// tier selection.
type TierSettings struct {
	Tier                 string
	NarrationRatio       [2]float64
	MemoryTopK           int
	IncludeKeyDialogue   bool
	IncludeInnerThoughts bool
	RefineEnabled        bool
	EntityExtractMode    string
}

// DecideTier picks short/medium/long for a chapter. Long triggers are
// periodic position, raw length, and keyword hits in the title or the head
// of the text.
func DecideTier(chapterIdx int, chapterTitle, chapterText string, cfg *config.Config) string {
	tiering := cfg.Storyteller.Tiering
	if !tiering.Enabled {
		return cfg.Storyteller.NarrationPreset
	}

	if tiering.LongEveryN > 0 && chapterIdx%tiering.LongEveryN == 0 {
		return "long"
	}
	if tiering.LongMinChars > 0 && len([]rune(chapterText)) >= tiering.LongMinChars {
		return "long"
	}
	if len(tiering.LongKeywordTriggers) > 0 {
		head := chapterText
		if runes := []rune(head); len(runes) > 4000 {
			head = string(runes[:4000])
		}
		haystack := strings.ToLower(chapterTitle + "\n" + head)
		for _, keyword := range tiering.LongKeywordTriggers {
			key := strings.ToLower(strings.TrimSpace(keyword))
			if key != "" && strings.Contains(haystack, key) {
				return "long"
			}
		}
	}
	return tiering.DefaultTier
}

// EffectiveSettings resolves the knobs for a tier. With tiering disabled
// the base storyteller config applies unchanged.
func EffectiveSettings(tier string, cfg *config.Config) TierSettings {
	st := cfg.Storyteller
	if !st.Tiering.Enabled {
		return TierSettings{
			Tier:                 tier,
			NarrationRatio:       cfg.Storyteller.EffectiveNarrationRatio(),
			MemoryTopK:           st.MemoryTopK,
			IncludeKeyDialogue:   st.IncludeKeyDialogue,
			IncludeInnerThoughts: st.IncludeInnerThoughts,
			RefineEnabled:        st.RefineEnabled,
			EntityExtractMode:    st.EntityExtractMode,
		}
	}

	profile := st.Tiering.TierProfile(tier)
	ratio := cfg.Storyteller.EffectiveNarrationRatio()
	if len(profile.NarrationRatio) == 2 {
		ratio = [2]float64{profile.NarrationRatio[0], profile.NarrationRatio[1]}
	}
	return TierSettings{
		Tier:                 tier,
		NarrationRatio:       ratio,
		MemoryTopK:           profile.MemoryTopK,
		IncludeKeyDialogue:   profile.IncludeKeyDialogue,
		IncludeInnerThoughts: profile.IncludeInnerThoughts,
		RefineEnabled:        profile.RefineEnabled,
		EntityExtractMode:    profile.EntityExtractMode,
	}
}

// MemoryRetrievalEnabled reports whether any effective tier can awaken
// memories, used to decide whether retrieval assets must be prebuilt.
func MemoryRetrievalEnabled(cfg *config.Config) bool {
	st := cfg.Storyteller
	if st.Tiering.Enabled {
		return st.Tiering.Short.MemoryTopK > 0 ||
			st.Tiering.Medium.MemoryTopK > 0 ||
			st.Tiering.Long.MemoryTopK > 0
	}
	return st.MemoryTopK > 0
}

package storyteller

import (
	"strings"
	"testing"

	"github.com/taleteller/taleteller/internal/config"
)

func tieringConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storyteller.Tiering.Enabled = true
	cfg.Storyteller.Tiering.DefaultTier = "medium"
	cfg.Storyteller.Tiering.LongEveryN = 10
	cfg.Storyteller.Tiering.LongMinChars = 5000
	cfg.Storyteller.Tiering.LongKeywordTriggers = []string{"突破", "大战"}
	return cfg
}

func TestDecideTier(t *testing.T) {
	cfg := tieringConfig()

	t.Run("disabled falls back to preset", func(t *testing.T) {
		plain := config.DefaultConfig()
		plain.Storyteller.NarrationPreset = "short"
		if got := DecideTier(3, "第三章", "平平无奇", plain); got != "short" {
			t.Errorf("tier = %q, want preset short", got)
		}
	})

	t.Run("periodic long", func(t *testing.T) {
		if got := DecideTier(20, "第二十章", "平平无奇", cfg); got != "long" {
			t.Errorf("tier = %q, want long at every tenth chapter", got)
		}
	})

	t.Run("length long", func(t *testing.T) {
		text := strings.Repeat("韩", 5000)
		if got := DecideTier(3, "第三章", text, cfg); got != "long" {
			t.Errorf("tier = %q, want long for %d runes", got, len([]rune(text)))
		}
	})

	t.Run("keyword in title", func(t *testing.T) {
		if got := DecideTier(3, "第三章 筑基突破", "平平无奇", cfg); got != "long" {
			t.Errorf("tier = %q, want long on keyword hit", got)
		}
	})

	t.Run("keyword beyond head is ignored", func(t *testing.T) {
		text := strings.Repeat("平", 4000) + "大战"
		if got := DecideTier(3, "第三章", text, cfg); got != "medium" {
			t.Errorf("tier = %q, want medium when keyword sits past the head", got)
		}
	})

	t.Run("default tier", func(t *testing.T) {
		if got := DecideTier(3, "第三章", "平平无奇", cfg); got != "medium" {
			t.Errorf("tier = %q, want default medium", got)
		}
	})
}

func TestEffectiveSettings(t *testing.T) {
	cfg := tieringConfig()

	long := EffectiveSettings("long", cfg)
	if long.Tier != "long" {
		t.Errorf("tier = %q, want long", long.Tier)
	}
	if long.MemoryTopK != cfg.Storyteller.Tiering.Long.MemoryTopK {
		t.Errorf("memory top_k = %d, want long profile %d", long.MemoryTopK, cfg.Storyteller.Tiering.Long.MemoryTopK)
	}
	if long.EntityExtractMode != "llm" {
		t.Errorf("entity mode = %q, want llm for long tier", long.EntityExtractMode)
	}

	plain := config.DefaultConfig()
	base := EffectiveSettings("medium", plain)
	if base.MemoryTopK != plain.Storyteller.MemoryTopK {
		t.Errorf("memory top_k = %d, want base %d with tiering disabled", base.MemoryTopK, plain.Storyteller.MemoryTopK)
	}
	if base.NarrationRatio != plain.Storyteller.EffectiveNarrationRatio() {
		t.Errorf("ratio = %v, want base ratio", base.NarrationRatio)
	}
}

func TestMemoryRetrievalEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storyteller.MemoryTopK = 0
	if MemoryRetrievalEnabled(cfg) {
		t.Error("expected retrieval disabled with top_k=0 and tiering off")
	}

	cfg = tieringConfig()
	if !MemoryRetrievalEnabled(cfg) {
		t.Error("expected retrieval enabled when a tier has top_k > 0")
	}
}

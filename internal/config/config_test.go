package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storyteller.StepSize != 1 {
		t.Errorf("expected default step_size 1, got %d", cfg.Storyteller.StepSize)
	}
	if cfg.LLM.Routes["storyteller_narration"] == "" {
		t.Error("expected storyteller_narration route")
	}
	if cfg.LLM.EmbeddingDim != 1536 {
		t.Errorf("expected default embedding dim 1536, got %d", cfg.LLM.EmbeddingDim)
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(custom, []byte("app:\n  output_dir: from-yaml\nstoryteller:\n  step_size: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("custom yaml over defaults", func(t *testing.T) {
		cfg, err := Load(LoadOptions{ConfigPath: custom})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.App.OutputDir != "from-yaml" {
			t.Errorf("expected yaml output_dir, got %q", cfg.App.OutputDir)
		}
		if cfg.Storyteller.StepSize != 4 {
			t.Errorf("expected yaml step_size 4, got %d", cfg.Storyteller.StepSize)
		}
	})

	t.Run("overrides beat yaml", func(t *testing.T) {
		cfg, err := Load(LoadOptions{
			ConfigPath: custom,
			Overrides:  map[string]any{"app.output_dir": "from-override"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.App.OutputDir != "from-override" {
			t.Errorf("expected override output_dir, got %q", cfg.App.OutputDir)
		}
	})

	t.Run("env beats overrides", func(t *testing.T) {
		t.Setenv("NOVEL_SUMMARIZER_DATA_DIR", "/env/data")
		cfg, err := Load(LoadOptions{
			ConfigPath: custom,
			Overrides:  map[string]any{"app.data_dir": "from-override"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if cfg.App.DataDir != "/env/data" {
			t.Errorf("expected env data_dir, got %q", cfg.App.DataDir)
		}
	})
}

func TestProviderBaseURLEnvOverride(t *testing.T) {
	t.Setenv("NOVEL_SUMMARIZER_LLM_PROVIDER_OPENAI_BASE_URL", "http://localhost:8000/v1")
	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Providers["openai"].BaseURL != "http://localhost:8000/v1" {
		t.Errorf("expected base_url from env, got %q", cfg.LLM.Providers["openai"].BaseURL)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  any
	}{
		{"bad step_size", "storyteller.step_size", 0},
		{"bad evidence score", "storyteller.evidence_min_support_score", 1.5},
		{"bad resume mode", "storyteller.step_resume_mode", "rewind"},
		{"bad memory mode", "storyteller.step_memory_mode", "sometimes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(LoadOptions{Overrides: map[string]any{tc.key: tc.val}})
			if err == nil {
				t.Errorf("expected validation error for %s=%v", tc.key, tc.val)
			}
		})
	}
}

func TestCheckRouteAPIKey(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("missing env fails", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		os.Unsetenv("OPENAI_API_KEY")
		if err := CheckRouteAPIKey(cfg, "storyteller_narration"); err == nil {
			t.Error("expected missing API key error")
		}
	})

	t.Run("set env passes", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		if err := CheckRouteAPIKey(cfg, "storyteller_narration"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown route fails", func(t *testing.T) {
		if err := CheckRouteAPIKey(cfg, "nonexistent"); err == nil {
			t.Error("expected unknown route error")
		}
	})
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("TEST_KEY_XYZ", "secret123")
	if got := ResolveEnvVars("${TEST_KEY_XYZ}"); got != "secret123" {
		t.Errorf("expected env value, got %q", got)
	}
	if got := ResolveEnvVars("literal"); got != "literal" {
		t.Errorf("literal must pass through, got %q", got)
	}
	if got := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}"); got != "" {
		t.Errorf("unset var must resolve empty, got %q", got)
	}
}

func TestEffectiveNarrationRatio(t *testing.T) {
	st := StorytellerCfg{NarrationPreset: "short"}
	if got := st.EffectiveNarrationRatio(); got != [2]float64{0.2, 0.3} {
		t.Errorf("short preset mismatch: %v", got)
	}

	st.NarrationRatio = []float64{0.1, 0.9}
	if got := st.EffectiveNarrationRatio(); got != [2]float64{0.1, 0.9} {
		t.Errorf("explicit ratio must override preset: %v", got)
	}

	st = StorytellerCfg{NarrationPreset: "nonsense"}
	if got := st.EffectiveNarrationRatio(); got != [2]float64{0.4, 0.5} {
		t.Errorf("unknown preset must fall back to medium: %v", got)
	}
}

func TestResolveChatRoute(t *testing.T) {
	cfg := DefaultConfig()
	name, endpoint, provider, err := cfg.LLM.ResolveChatRoute("storyteller_refine")
	if err != nil {
		t.Fatal(err)
	}
	if name != "refine" || endpoint.Provider != "openai" || provider.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("unexpected resolution: %s %+v %+v", name, endpoint, provider)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "NOVEL_SUMMARIZER"

// ErrMissingAPIKey indicates a route's provider requires an API key env var
// that is not set. Fatal at startup for commands that use the route.
var ErrMissingAPIKey = errors.New("missing required API key env")

// LoadOptions controls the layered config merge.
type LoadOptions struct {
	// ConfigPath is an optional custom YAML file merged over the profile.
	ConfigPath string
	// Profile names a YAML profile; resolved to configs/<profile>.yaml
	// unless it already looks like a file path.
	Profile string
	// Overrides are programmatic key overrides (flattened viper keys).
	Overrides map[string]any
	// RequireAPIKeyRoutes lists llm routes whose provider API key env must
	// be present; load fails otherwise.
	RequireAPIKeyRoutes []string
}

// Load builds the effective configuration. Merge order:
// defaults < profile YAML < custom YAML < programmatic overrides < env.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("app", defaults.App)
	v.SetDefault("storage", defaults.Storage)
	v.SetDefault("ingest", defaults.Ingest)
	v.SetDefault("split", defaults.Split)
	v.SetDefault("cache", defaults.Cache)
	v.SetDefault("llm", defaults.LLM)
	v.SetDefault("retrieval", defaults.Retrieval)
	v.SetDefault("summarize", defaults.Summarize)
	v.SetDefault("storyteller", defaults.Storyteller)

	if opts.Profile != "" {
		path := profilePath(opts.Profile)
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading profile %q: %w", opts.Profile, err)
		}
	}

	if opts.ConfigPath != "" {
		v.SetConfigFile(opts.ConfigPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", opts.ConfigPath, err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	for _, route := range opts.RequireAPIKeyRoutes {
		if err := CheckRouteAPIKey(cfg, route); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func profilePath(profile string) string {
	if strings.ContainsRune(profile, os.PathSeparator) || strings.HasSuffix(profile, ".yaml") || strings.HasSuffix(profile, ".yml") {
		return profile
	}
	return filepath.Join("configs", profile+".yaml")
}

// applyEnvOverrides handles the documented flat env keys that do not follow
// the viper key naming: NOVEL_SUMMARIZER_DATA_DIR and
// NOVEL_SUMMARIZER_LLM_PROVIDER_<NAME>_BASE_URL.
func applyEnvOverrides(cfg *Config) {
	if dir := os.Getenv(EnvPrefix + "_DATA_DIR"); dir != "" {
		cfg.App.DataDir = dir
	}
	for name, provider := range cfg.LLM.Providers {
		key := EnvPrefix + "_LLM_PROVIDER_" + strings.ToUpper(name) + "_BASE_URL"
		if url := os.Getenv(key); url != "" {
			provider.BaseURL = url
			cfg.LLM.Providers[name] = provider
		}
	}
}

func validate(cfg *Config) error {
	st := cfg.Storyteller
	if st.StepSize <= 0 {
		return fmt.Errorf("storyteller.step_size must be positive, got %d", st.StepSize)
	}
	if st.EvidenceMinSupportScore < 0 || st.EvidenceMinSupportScore > 1 {
		return fmt.Errorf("storyteller.evidence_min_support_score must be in [0,1], got %v", st.EvidenceMinSupportScore)
	}
	if st.EvidenceMaxSnippets <= 0 {
		return fmt.Errorf("storyteller.evidence_max_snippets must be positive, got %d", st.EvidenceMaxSnippets)
	}
	if st.PrefetchWindow < 0 {
		return fmt.Errorf("storyteller.prefetch_window must be >= 0, got %d", st.PrefetchWindow)
	}
	switch st.StepAlign {
	case "auto", "off":
	default:
		return fmt.Errorf("storyteller.step_align must be auto or off, got %q", st.StepAlign)
	}
	switch st.StepResumeMode {
	case "continue", "restore":
	default:
		return fmt.Errorf("storyteller.step_resume_mode must be continue or restore, got %q", st.StepResumeMode)
	}
	switch st.StepMemoryMode {
	case "per_chapter", "per_step_shared", "off":
	default:
		return fmt.Errorf("storyteller.step_memory_mode must be per_chapter, per_step_shared or off, got %q", st.StepMemoryMode)
	}
	if st.Observability.JSONErrorPayloadMaxChars < 0 {
		return fmt.Errorf("storyteller.observability.json_error_payload_max_chars must be >= 0")
	}
	r := cfg.Retrieval
	if r.Alpha < 0 || r.Alpha > 1 {
		return fmt.Errorf("retrieval.alpha must be in [0,1], got %v", r.Alpha)
	}
	if r.Beta < 0 {
		return fmt.Errorf("retrieval.beta must be >= 0, got %v", r.Beta)
	}
	if r.MaxKeywordTerms <= 0 {
		return fmt.Errorf("retrieval.max_keyword_terms must be positive, got %d", r.MaxKeywordTerms)
	}
	return nil
}

// CheckRouteAPIKey verifies the provider API key env for a route is set.
func CheckRouteAPIKey(cfg *Config, route string) error {
	_, _, provider, err := cfg.LLM.ResolveChatRoute(route)
	if err != nil {
		return err
	}
	if provider.APIKeyEnv == "" {
		return nil
	}
	if os.Getenv(provider.APIKeyEnv) == "" {
		return fmt.Errorf("%w: route %q needs %s", ErrMissingAPIKey, route, provider.APIKeyEnv)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// ResolveEnvVars expands a "${ENV_VAR}" reference to its value. Literal
// strings pass through unchanged; an unset variable resolves to "".
func ResolveEnvVars(value string) string {
	m := envVarPattern.FindStringSubmatch(value)
	if m == nil {
		return value
	}
	return os.Getenv(m[1])
}

// Dump renders the effective config as YAML for the config command.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("rendering config: %w", err)
	}
	return string(out), nil
}

// MaskedEnvSnapshot reports which API key env vars are present without
// leaking their values.
func (c *Config) MaskedEnvSnapshot() map[string]string {
	snapshot := make(map[string]string)
	for _, provider := range c.LLM.Providers {
		if provider.APIKeyEnv == "" {
			continue
		}
		value := os.Getenv(provider.APIKeyEnv)
		if value == "" {
			snapshot[provider.APIKeyEnv] = "(unset)"
			continue
		}
		if len(value) <= 4 {
			snapshot[provider.APIKeyEnv] = "****"
			continue
		}
		snapshot[provider.APIKeyEnv] = value[:4] + strings.Repeat("*", 8)
	}
	return snapshot
}

package config

import (
	"fmt"
	"path/filepath"
)

// Config is the fully merged application configuration. Merge order is
// defaults < profile YAML < custom YAML < programmatic overrides < env.
type Config struct {
	App         AppCfg         `mapstructure:"app" yaml:"app"`
	Storage     StorageCfg     `mapstructure:"storage" yaml:"storage"`
	Ingest      IngestCfg      `mapstructure:"ingest" yaml:"ingest"`
	Split       SplitCfg       `mapstructure:"split" yaml:"split"`
	Cache       CacheCfg       `mapstructure:"cache" yaml:"cache"`
	LLM         LLMCfg         `mapstructure:"llm" yaml:"llm"`
	Retrieval   RetrievalCfg   `mapstructure:"retrieval" yaml:"retrieval"`
	Summarize   SummarizeCfg   `mapstructure:"summarize" yaml:"summarize"`
	Storyteller StorytellerCfg `mapstructure:"storyteller" yaml:"storyteller"`
}

// AppCfg holds process-level settings.
type AppCfg struct {
	DataDir   string `mapstructure:"data_dir" yaml:"data_dir"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"` // "debug", "info", "warn", "error"
}

// StorageCfg locates the persistent stores.
type StorageCfg struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	VectorDir  string `mapstructure:"vector_dir" yaml:"vector_dir"`
}

// IngestCfg controls text loading and chapter segmentation.
type IngestCfg struct {
	Encoding             string           `mapstructure:"encoding" yaml:"encoding"` // "auto" or an explicit charset name
	ChapterRegex         string           `mapstructure:"chapter_regex" yaml:"chapter_regex"`
	FallbackChapterChars int              `mapstructure:"fallback_chapter_chars" yaml:"fallback_chapter_chars"`
	Cleanup              IngestCleanupCfg `mapstructure:"cleanup" yaml:"cleanup"`
}

// IngestCleanupCfg controls text normalization.
type IngestCleanupCfg struct {
	NormalizeFullwidth bool `mapstructure:"normalize_fullwidth" yaml:"normalize_fullwidth"`
	StripBlankLines    bool `mapstructure:"strip_blank_lines" yaml:"strip_blank_lines"`
}

// SplitCfg controls chunking. Token counts are estimated character counts
// for CJK-heavy text; identity keys embed these values via split params.
type SplitCfg struct {
	ChunkSizeTokens    int `mapstructure:"chunk_size_tokens" yaml:"chunk_size_tokens"`
	ChunkOverlapTokens int `mapstructure:"chunk_overlap_tokens" yaml:"chunk_overlap_tokens"`
	MinChunkTokens     int `mapstructure:"min_chunk_tokens" yaml:"min_chunk_tokens"`
}

// CacheCfg configures the content-addressed LLM response cache.
type CacheCfg struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Backend    string `mapstructure:"backend" yaml:"backend"` // only "sqlite"
	TTLSeconds int    `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
}

// LLMCfg holds route, endpoint, and provider configuration plus the
// embedding model used for retrieval assets.
type LLMCfg struct {
	Routes        map[string]string      `mapstructure:"routes" yaml:"routes"`
	Endpoints     map[string]EndpointCfg `mapstructure:"endpoints" yaml:"endpoints"`
	Providers     map[string]ProviderCfg `mapstructure:"providers" yaml:"providers"`
	EmbeddingModel string                `mapstructure:"embedding_model" yaml:"embedding_model"`
	EmbeddingDim   int                   `mapstructure:"embedding_dim" yaml:"embedding_dim"`
}

// EndpointCfg configures a chat endpoint. Each route resolves to exactly one
// endpoint, and an endpoint names its provider.
type EndpointCfg struct {
	Provider       string  `mapstructure:"provider" yaml:"provider"`
	Model          string  `mapstructure:"model" yaml:"model"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_s" yaml:"timeout_s"`
	MaxConcurrency int     `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	Retries        int     `mapstructure:"retries" yaml:"retries"`
}

// ProviderCfg configures an OpenAI-compatible provider.
type ProviderCfg struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env"`
}

// RetrievalCfg tunes hybrid retrieval fusion. Alpha balances vector against
// keyword scores; beta weights chapter proximity.
type RetrievalCfg struct {
	Alpha           float64 `mapstructure:"alpha" yaml:"alpha"`
	Beta            float64 `mapstructure:"beta" yaml:"beta"`
	MaxKeywordTerms int     `mapstructure:"max_keyword_terms" yaml:"max_keyword_terms"`
	SnippetMaxChars int     `mapstructure:"snippet_max_chars" yaml:"snippet_max_chars"`
}

// SummarizeCfg controls the legacy map-reduce summary pipeline.
type SummarizeCfg struct {
	ChapterSummaryWords []int `mapstructure:"chapter_summary_words" yaml:"chapter_summary_words"` // (min, max)
	BookSummaryWords    []int `mapstructure:"book_summary_words" yaml:"book_summary_words"`       // (min, max)
	StoryWords          []int `mapstructure:"story_words" yaml:"story_words"`                     // (min, max)
	MaxBookInputChars   int   `mapstructure:"max_book_input_chars" yaml:"max_book_input_chars"`
}

// StorytellerCfg controls the per-chapter graph and the step executor.
type StorytellerCfg struct {
	Language            string     `mapstructure:"language" yaml:"language"`
	Style               string     `mapstructure:"style" yaml:"style"`
	NarrationPreset     string     `mapstructure:"narration_preset" yaml:"narration_preset"` // "short", "medium", "long"
	NarrationRatio      []float64  `mapstructure:"narration_ratio" yaml:"narration_ratio"`   // overrides the preset when set
	NarrationTemperature float64   `mapstructure:"narration_temperature" yaml:"narration_temperature"`
	RefineTemperature   float64    `mapstructure:"refine_temperature" yaml:"refine_temperature"`
	IncludeKeyDialogue  bool       `mapstructure:"include_key_dialogue" yaml:"include_key_dialogue"`
	IncludeInnerThoughts bool      `mapstructure:"include_inner_thoughts" yaml:"include_inner_thoughts"`
	EntityExtractMode   string     `mapstructure:"entity_extract_mode" yaml:"entity_extract_mode"` // "llm" or "regex"
	MemoryTopK          int        `mapstructure:"memory_top_k" yaml:"memory_top_k"`
	RecentEventsWindow  int        `mapstructure:"recent_events_window" yaml:"recent_events_window"`
	RefineEnabled       bool       `mapstructure:"refine_enabled" yaml:"refine_enabled"`

	EvidenceMinSupportScore float64 `mapstructure:"evidence_min_support_score" yaml:"evidence_min_support_score"`
	EvidenceMaxSnippets     int     `mapstructure:"evidence_max_snippets" yaml:"evidence_max_snippets"`

	StepSize              int    `mapstructure:"step_size" yaml:"step_size"`
	StepAlign             string `mapstructure:"step_align" yaml:"step_align"` // "auto" or "off"
	StepCheckpointEnabled bool   `mapstructure:"step_checkpoint_enabled" yaml:"step_checkpoint_enabled"`
	StepResumeMode        string `mapstructure:"step_resume_mode" yaml:"step_resume_mode"` // "continue" or "restore"
	StepMemoryMode        string `mapstructure:"step_memory_mode" yaml:"step_memory_mode"` // "per_chapter", "per_step_shared", "off"

	PrefetchWindow int `mapstructure:"prefetch_window" yaml:"prefetch_window"`

	Tiering       TieringCfg       `mapstructure:"tiering" yaml:"tiering"`
	Observability ObservabilityCfg `mapstructure:"observability" yaml:"observability"`
}

// TieringCfg selects a per-chapter tier that scales narration depth.
type TieringCfg struct {
	Enabled             bool     `mapstructure:"enabled" yaml:"enabled"`
	DefaultTier         string   `mapstructure:"default_tier" yaml:"default_tier"`
	LongEveryN          int      `mapstructure:"long_every_n" yaml:"long_every_n"`
	LongMinChars        int      `mapstructure:"long_min_chars" yaml:"long_min_chars"`
	LongKeywordTriggers []string `mapstructure:"long_keyword_triggers" yaml:"long_keyword_triggers"`

	Short  TierProfileCfg `mapstructure:"short" yaml:"short"`
	Medium TierProfileCfg `mapstructure:"medium" yaml:"medium"`
	Long   TierProfileCfg `mapstructure:"long" yaml:"long"`
}

// TierProfileCfg is the set of storyteller knobs a tier overrides.
type TierProfileCfg struct {
	NarrationRatio       []float64 `mapstructure:"narration_ratio" yaml:"narration_ratio"`
	MemoryTopK           int       `mapstructure:"memory_top_k" yaml:"memory_top_k"`
	IncludeKeyDialogue   bool      `mapstructure:"include_key_dialogue" yaml:"include_key_dialogue"`
	IncludeInnerThoughts bool      `mapstructure:"include_inner_thoughts" yaml:"include_inner_thoughts"`
	RefineEnabled        bool      `mapstructure:"refine_enabled" yaml:"refine_enabled"`
	EntityExtractMode    string    `mapstructure:"entity_extract_mode" yaml:"entity_extract_mode"`
}

// ObservabilityCfg controls payload logging on JSON/structured parse failures.
type ObservabilityCfg struct {
	LogJSONErrorPayload      bool `mapstructure:"log_json_error_payload" yaml:"log_json_error_payload"`
	JSONErrorPayloadMaxChars int  `mapstructure:"json_error_payload_max_chars" yaml:"json_error_payload_max_chars"`
	LogRetryAttempts         bool `mapstructure:"log_retry_attempts" yaml:"log_retry_attempts"`
}

// narrationPresets maps preset names to (low, high) ratio pairs.
var narrationPresets = map[string][2]float64{
	"short":  {0.2, 0.3},
	"medium": {0.4, 0.5},
	"long":   {0.65, 0.8},
}

// EffectiveNarrationRatio resolves the (low, high) narration ratio: an
// explicit narration_ratio wins over the preset.
func (s StorytellerCfg) EffectiveNarrationRatio() [2]float64 {
	if len(s.NarrationRatio) == 2 {
		return [2]float64{s.NarrationRatio[0], s.NarrationRatio[1]}
	}
	if pair, ok := narrationPresets[s.NarrationPreset]; ok {
		return pair
	}
	return narrationPresets["medium"]
}

// TierProfile returns the profile for a tier name.
func (t TieringCfg) TierProfile(tier string) TierProfileCfg {
	switch tier {
	case "short":
		return t.Short
	case "long":
		return t.Long
	default:
		return t.Medium
	}
}

// ResolveChatRoute maps a route name to its endpoint and provider configs.
func (l LLMCfg) ResolveChatRoute(route string) (endpointName string, endpoint EndpointCfg, provider ProviderCfg, err error) {
	endpointName, ok := l.Routes[route]
	if !ok {
		return "", EndpointCfg{}, ProviderCfg{}, fmt.Errorf("unknown llm route %q", route)
	}
	endpoint, ok = l.Endpoints[endpointName]
	if !ok {
		return "", EndpointCfg{}, ProviderCfg{}, fmt.Errorf("route %q names unknown endpoint %q", route, endpointName)
	}
	provider, ok = l.Providers[endpoint.Provider]
	if !ok {
		return "", EndpointCfg{}, ProviderCfg{}, fmt.Errorf("endpoint %q names unknown provider %q", endpointName, endpoint.Provider)
	}
	return endpointName, endpoint, provider, nil
}

// SQLitePath resolves the relational database path against the data dir.
func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.App.DataDir, "novel.sqlite")
}

// VectorDir resolves the vector store directory against the data dir.
func (c *Config) VectorDir() string {
	if c.Storage.VectorDir != "" {
		return c.Storage.VectorDir
	}
	return filepath.Join(c.App.DataDir, "vectors")
}

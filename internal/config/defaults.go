package config

// DefaultConfig returns configuration with sensible defaults for a
// CJK-novel storyteller run against an OpenAI-compatible endpoint.
func DefaultConfig() *Config {
	return &Config{
		App: AppCfg{
			DataDir:   "data",
			OutputDir: "output",
			LogLevel:  "info",
		},
		Storage: StorageCfg{},
		Ingest: IngestCfg{
			Encoding:             "auto",
			ChapterRegex:         `^第[0-9零一二三四五六七八九十百千]+章.*$`,
			FallbackChapterChars: 20000,
			Cleanup: IngestCleanupCfg{
				NormalizeFullwidth: false,
				StripBlankLines:    true,
			},
		},
		Split: SplitCfg{
			ChunkSizeTokens:    1200,
			ChunkOverlapTokens: 120,
			MinChunkTokens:     200,
		},
		Cache: CacheCfg{
			Enabled:    true,
			Backend:    "sqlite",
			TTLSeconds: 0,
		},
		Retrieval: RetrievalCfg{
			Alpha:           0.7,
			Beta:            0.2,
			MaxKeywordTerms: 8,
			SnippetMaxChars: 800,
		},
		LLM: LLMCfg{
			Routes: map[string]string{
				"summarize":             "main",
				"storyteller":           "narration",
				"storyteller_entity":    "entity",
				"storyteller_narration": "narration",
				"storyteller_refine":    "refine",
			},
			Endpoints: map[string]EndpointCfg{
				"main": {
					Provider:       "openai",
					Model:          "gpt-4o-mini",
					Temperature:    0.3,
					TimeoutSeconds: 120,
					MaxConcurrency: 4,
					Retries:        2,
				},
				"narration": {
					Provider:       "openai",
					Model:          "gpt-4o",
					Temperature:    0.6,
					TimeoutSeconds: 300,
					MaxConcurrency: 2,
					Retries:        2,
				},
				"entity": {
					Provider:       "openai",
					Model:          "gpt-4o-mini",
					Temperature:    0.0,
					TimeoutSeconds: 60,
					MaxConcurrency: 4,
					Retries:        2,
				},
				"refine": {
					Provider:       "openai",
					Model:          "gpt-4o-mini",
					Temperature:    0.4,
					TimeoutSeconds: 120,
					MaxConcurrency: 2,
					Retries:        1,
				},
			},
			Providers: map[string]ProviderCfg{
				"openai": {
					APIKeyEnv: "OPENAI_API_KEY",
				},
			},
			EmbeddingModel: "text-embedding-3-small",
			EmbeddingDim:   1536,
		},
		Summarize: SummarizeCfg{
			ChapterSummaryWords: []int{120, 300},
			BookSummaryWords:    []int{800, 2000},
			StoryWords:          []int{3000, 8000},
			MaxBookInputChars:   60000,
		},
		Storyteller: StorytellerCfg{
			Language:             "zh",
			Style:                "评书",
			NarrationPreset:      "medium",
			NarrationTemperature: 0.6,
			RefineTemperature:    0.4,
			IncludeKeyDialogue:   true,
			IncludeInnerThoughts: false,
			EntityExtractMode:    "regex",
			MemoryTopK:           6,
			RecentEventsWindow:   5,
			RefineEnabled:        false,

			EvidenceMinSupportScore: 0.3,
			EvidenceMaxSnippets:     6,

			StepSize:              1,
			StepAlign:             "auto",
			StepCheckpointEnabled: true,
			StepResumeMode:        "continue",
			StepMemoryMode:        "per_chapter",

			PrefetchWindow: 1,

			Tiering: TieringCfg{
				Enabled:     false,
				DefaultTier: "medium",
				LongEveryN:  0,
				Short: TierProfileCfg{
					NarrationRatio:    []float64{0.2, 0.3},
					MemoryTopK:        3,
					EntityExtractMode: "regex",
				},
				Medium: TierProfileCfg{
					NarrationRatio:     []float64{0.4, 0.5},
					MemoryTopK:         6,
					IncludeKeyDialogue: true,
					EntityExtractMode:  "regex",
				},
				Long: TierProfileCfg{
					NarrationRatio:       []float64{0.65, 0.8},
					MemoryTopK:           10,
					IncludeKeyDialogue:   true,
					IncludeInnerThoughts: true,
					RefineEnabled:        true,
					EntityExtractMode:    "llm",
				},
			},
			Observability: ObservabilityCfg{
				LogJSONErrorPayload:      true,
				JSONErrorPayloadMaxChars: 2000,
				LogRetryAttempts:         true,
			},
		},
	}
}

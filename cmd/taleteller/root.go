package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/controller"
	"github.com/taleteller/taleteller/version"
)

var (
	cfgFile       string
	cfgProfile    string
	flagDataDir   string
	flagOutputDir string
	flagLogLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "taleteller",
	Short: "Resumable novel-to-storyteller narration pipeline",
	Long: `Taleteller turns long CJK novels into chaptered storyteller narration.

The pipeline includes:
  - Encoding-aware ingest with chapter segmentation and chunking
  - A per-chapter narration DAG with entity tracking, hybrid memory
    retrieval, consistency checks, and evidence gating
  - Persistent world-state tables with step checkpoints for resume
  - A legacy map-reduce summarize pipeline
  - Markdown export of narrations, characters, timeline, and world state`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file merged over the profile",
	)
	rootCmd.PersistentFlags().StringVar(
		&cfgProfile, "profile", "", "config profile name or YAML path",
	)
	rootCmd.PersistentFlags().StringVar(
		&flagDataDir, "data-dir", "", "data directory (default: data)",
	)
	rootCmd.PersistentFlags().StringVar(
		&flagOutputDir, "output-dir", "", "export output directory (default: output)",
	)
	rootCmd.PersistentFlags().StringVar(
		&flagLogLevel, "log-level", "", "log level: debug, info, warn, error",
	)

	rootCmd.AddCommand(
		ingestCmd,
		summarizeCmd,
		storytellCmd,
		embedCmd,
		exportCmd,
		runCmd,
		configCmd,
		versionCmd,
	)
}

func loadConfig() (*config.Config, error) {
	overrides := map[string]any{}
	if flagDataDir != "" {
		overrides["app.data_dir"] = flagDataDir
	}
	if flagOutputDir != "" {
		overrides["app.output_dir"] = flagOutputDir
	}
	if flagLogLevel != "" {
		overrides["app.log_level"] = flagLogLevel
	}
	return config.Load(config.LoadOptions{
		ConfigPath: cfgFile,
		Profile:    cfgProfile,
		Overrides:  overrides,
	})
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newController loads config and opens the pipeline's resources. Callers
// must Close the controller.
func newController() (*controller.Controller, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return controller.New(cfg, newLogger(cfg))
}

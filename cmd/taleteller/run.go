package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taleteller/taleteller/internal/controller"
)

var (
	runTitle        string
	runAuthor       string
	runChapterRegex string
	runFrom         int
	runTo           int
	runStep         int
	runExportMode   string
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Ingest, narrate, and export in one go",
	Long: `Run executes the full pipeline for one input file: ingest the text,
generate storyteller narration (chapter or step mode per configuration), and
export the markdown bundle. Every stage is resumable, so rerunning after an
interruption picks up where the previous run stopped.

Examples:
  taleteller run novel.txt --title 凡人修仙传
  taleteller run novel.txt --step-size 8 --from-chapter 1 --to-chapter 100`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := newController()
		if err != nil {
			return err
		}
		defer ctl.Close()

		stats, err := ctl.Run(cmd.Context(), controller.RunOptions{
			InputPath:    args[0],
			Title:        runTitle,
			Author:       runAuthor,
			ChapterRegex: runChapterRegex,
			FromChapter:  runFrom,
			ToChapter:    runTo,
			StepSize:     runStep,
			ExportMode:   runExportMode,
		})
		if err != nil {
			return err
		}

		fmt.Printf("ingested book %d: %d chapters, %d chunks\n",
			stats.Ingest.BookID, stats.Ingest.ChaptersTotal, stats.Ingest.ChunksTotal)
		if stats.Steps != nil {
			fmt.Printf("narrated %d chapters in %d steps (%d replayed)\n",
				stats.Steps.ChaptersCovered, stats.Steps.StepsGenerated+stats.Steps.StepsCacheReplayed,
				stats.Steps.StepsCacheReplayed)
		}
		if stats.Storytell != nil {
			fmt.Printf("narrated %d chapters (%d skipped)\n",
				stats.Storytell.Generated, stats.Storytell.SkippedExisting+stats.Storytell.SkippedEmpty)
		}
		fmt.Printf("exported %d chapters (%s mode) to %s\n",
			stats.Export.ChapterCount, stats.Export.Mode, stats.Export.OutputDir)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runTitle, "title", "", "book title")
	runCmd.Flags().StringVar(&runAuthor, "author", "", "book author")
	runCmd.Flags().StringVar(&runChapterRegex, "chapter-regex", "", "override the chapter heading regex")
	runCmd.Flags().IntVar(&runFrom, "from-chapter", 0, "first chapter index (1-based)")
	runCmd.Flags().IntVar(&runTo, "to-chapter", 0, "last chapter index (inclusive)")
	runCmd.Flags().IntVar(&runStep, "step-size", 0, "chapters per step (overrides config)")
	runCmd.Flags().StringVar(&runExportMode, "export-mode", "auto", "export mode: storyteller, legacy, or auto")
}

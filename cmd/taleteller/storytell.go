package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taleteller/taleteller/internal/storyteller"
)

var (
	storytellBookID int64
	storytellFrom   int
	storytellTo     int
	storytellStep   int
)

var storytellCmd = &cobra.Command{
	Use:   "storytell",
	Short: "Generate storyteller narration for a book",
	Long: `Storytell runs the narration DAG over a book's chapters. With a step
size above one, chapters are processed in fixed windows with one narration
and one checkpoint per window; otherwise each chapter gets its own narration.
Finished chapters and windows are skipped by content identity, so an
interrupted run resumes where it stopped.

Examples:
  taleteller storytell --book-id 1
  taleteller storytell --book-id 1 --from-chapter 10 --to-chapter 20
  taleteller storytell --book-id 1 --step-size 8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := newController()
		if err != nil {
			return err
		}
		defer ctl.Close()
		ctx := cmd.Context()

		if ctl.StepSize(storytellStep) > 1 {
			stats, err := ctl.StorytellSteps(ctx, storyteller.StepOptions{
				BookID:      storytellBookID,
				FromChapter: storytellFrom,
				ToChapter:   storytellTo,
				StepSize:    storytellStep,
			})
			if err != nil {
				return err
			}
			fmt.Printf("steps: %d planned, %d generated, %d replayed, %d chapters covered, %d checkpoints\n",
				stats.StepsPlanned, stats.StepsGenerated, stats.StepsCacheReplayed,
				stats.ChaptersCovered, stats.CheckpointsWritten)
			return nil
		}

		stats, err := ctl.Storytell(ctx, storyteller.StorytellOptions{
			BookID:      storytellBookID,
			FromChapter: storytellFrom,
			ToChapter:   storytellTo,
		})
		if err != nil {
			return err
		}
		fmt.Printf("chapters: %d considered, %d generated, %d skipped, %d cache hits, %d/%d claims kept\n",
			stats.ChaptersConsidered, stats.Generated,
			stats.SkippedExisting+stats.SkippedEmpty, stats.CacheHits,
			stats.ClaimsVerified-stats.ClaimsRejected, stats.ClaimsVerified)
		return nil
	},
}

func init() {
	storytellCmd.Flags().Int64Var(&storytellBookID, "book-id", 0, "book id (required)")
	storytellCmd.Flags().IntVar(&storytellFrom, "from-chapter", 0, "first chapter index (1-based)")
	storytellCmd.Flags().IntVar(&storytellTo, "to-chapter", 0, "last chapter index (inclusive)")
	storytellCmd.Flags().IntVar(&storytellStep, "step-size", 0, "chapters per step (overrides config)")
	_ = storytellCmd.MarkFlagRequired("book-id")
}

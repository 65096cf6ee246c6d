package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var summarizeBookID int64

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Run the legacy map-reduce summary pipeline",
	Long: `Summarize condenses each chapter into a structured summary, then
reduces those into book-level artifacts: an overall summary, a character
roster, a timeline, and an optional continuous story draft. Rows are keyed
by input hashes, so rerunning only regenerates what changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := newController()
		if err != nil {
			return err
		}
		defer ctl.Close()

		stats, err := ctl.Summarize(cmd.Context(), summarizeBookID)
		if err != nil {
			return err
		}
		fmt.Printf("chapters: %d total, %d new; book rows: %d summary, %d characters, %d timeline, %d story; %d LLM calls (%d cached)\n",
			stats.ChaptersTotal, stats.ChaptersNew,
			stats.BookSummaryNew, stats.CharactersNew, stats.TimelineNew, stats.StoryNew,
			stats.LLMCalls, stats.CacheHits)
		return nil
	},
}

func init() {
	summarizeCmd.Flags().Int64Var(&summarizeBookID, "book-id", 0, "book id (required)")
	_ = summarizeCmd.MarkFlagRequired("book-id")
}

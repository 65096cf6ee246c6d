package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taleteller/taleteller/internal/hashing"
	"github.com/taleteller/taleteller/internal/ingest"
)

var (
	ingestTitle        string
	ingestAuthor       string
	ingestChapterRegex string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Load a novel file into the store",
	Long: `Ingest decodes a novel text file (with charset autodetection),
normalizes it, segments it into chapters, chunks each chapter, and persists
everything keyed by content hashes. Re-ingesting the same file is a no-op.

Examples:
  taleteller ingest novel.txt --title 凡人修仙传
  taleteller ingest gbk_novel.txt --chapter-regex '^第.+回'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := newController()
		if err != nil {
			return err
		}
		defer ctl.Close()

		stats, err := ctl.Ingest(cmd.Context(), ingest.Options{
			InputPath:    args[0],
			Title:        ingestTitle,
			Author:       ingestAuthor,
			ChapterRegex: ingestChapterRegex,
		})
		if err != nil {
			return err
		}
		fmt.Printf("book %d (%s): %d chapters (%d new), %d chunks (%d new)\n",
			stats.BookID, hashing.Short(stats.BookHash),
			stats.ChaptersTotal, stats.ChaptersInserted,
			stats.ChunksTotal, stats.ChunksInserted)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "book title")
	ingestCmd.Flags().StringVar(&ingestAuthor, "author", "", "book author")
	ingestCmd.Flags().StringVar(&ingestChapterRegex, "chapter-regex", "", "override the chapter heading regex")
}

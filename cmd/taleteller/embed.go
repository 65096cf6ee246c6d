package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	embedBookID    int64
	embedBatchSize int
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Build retrieval assets for a book",
	Long: `Embed computes vectors for any chunks and latest narrations that are
missing from the vector store and rebuilds both keyword indexes. The build is
incremental: already-embedded rows are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := newController()
		if err != nil {
			return err
		}
		defer ctl.Close()

		stats, err := ctl.BuildAssets(cmd.Context(), embedBookID, embedBatchSize)
		if err != nil {
			return err
		}
		fmt.Printf("chunks: %d embedded, %d skipped; narrations: %d embedded, %d skipped; fts rows: %d chunks, %d narrations\n",
			stats.ChunksEmbedded, stats.ChunksSkipped,
			stats.NarrationsEmbedded, stats.NarrationsSkipped,
			stats.ChunkFTSRows, stats.NarrationFTSRows)
		return nil
	},
}

func init() {
	embedCmd.Flags().Int64Var(&embedBookID, "book-id", 0, "book id (required)")
	embedCmd.Flags().IntVar(&embedBatchSize, "batch-size", 32, "texts per embeddings request")
	_ = embedCmd.MarkFlagRequired("book-id")
}

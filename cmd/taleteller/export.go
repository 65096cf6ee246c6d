package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	exportBookID int64
	exportMode   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the markdown bundle for a book",
	Long: `Export writes per-chapter narration files, the concatenated story,
the character roster, the timeline, a summary page, and a world-state JSON
snapshot under the output directory, in a folder named by the book hash.

Mode "storyteller" exports narrations, "legacy" exports summarize-pipeline
artifacts, and "auto" picks storyteller when narrations exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl, err := newController()
		if err != nil {
			return err
		}
		defer ctl.Close()

		result, err := ctl.Export(cmd.Context(), exportBookID, exportMode)
		if err != nil {
			return err
		}
		fmt.Printf("exported %d chapters (%s mode) to %s\n", result.ChapterCount, result.Mode, result.OutputDir)
		return nil
	},
}

func init() {
	exportCmd.Flags().Int64Var(&exportBookID, "book-id", 0, "book id (required)")
	exportCmd.Flags().StringVar(&exportMode, "mode", "auto", "export mode: storyteller, legacy, or auto")
	_ = exportCmd.MarkFlagRequired("book-id")
}

package controller

import (
	"context"
	"fmt"

	"github.com/taleteller/taleteller/internal/export"
	"github.com/taleteller/taleteller/internal/ingest"
	"github.com/taleteller/taleteller/internal/storyteller"
)

// RunOptions configures the end-to-end pipeline: ingest, narrate, export.
type RunOptions struct {
	InputPath    string
	Title        string
	Author       string
	ChapterRegex string

	FromChapter int
	ToChapter   int
	StepSize    int

	ExportMode string
}

// RunStats aggregates the per-stage results. Exactly one of Storytell and
// Steps is set, depending on the effective step size.
type RunStats struct {
	Ingest    ingest.Stats
	Storytell *storyteller.StorytellStats
	Steps     *storyteller.StepStats
	Export    export.Result
}

// Run executes the full pipeline for one input file.
func (c *Controller) Run(ctx context.Context, opts RunOptions) (RunStats, error) {
	var stats RunStats

	ingestStats, err := c.Ingest(ctx, ingest.Options{
		InputPath:    opts.InputPath,
		Title:        opts.Title,
		Author:       opts.Author,
		ChapterRegex: opts.ChapterRegex,
	})
	if err != nil {
		return stats, fmt.Errorf("ingest: %w", err)
	}
	stats.Ingest = ingestStats
	bookID := ingestStats.BookID

	if c.StepSize(opts.StepSize) > 1 {
		stepStats, err := c.StorytellSteps(ctx, storyteller.StepOptions{
			BookID:      bookID,
			FromChapter: opts.FromChapter,
			ToChapter:   opts.ToChapter,
			StepSize:    opts.StepSize,
		})
		if err != nil {
			return stats, fmt.Errorf("storytell: %w", err)
		}
		stats.Steps = stepStats
	} else {
		tellStats, err := c.Storytell(ctx, storyteller.StorytellOptions{
			BookID:      bookID,
			FromChapter: opts.FromChapter,
			ToChapter:   opts.ToChapter,
		})
		if err != nil {
			return stats, fmt.Errorf("storytell: %w", err)
		}
		stats.Storytell = tellStats
	}

	mode := opts.ExportMode
	if mode == "" {
		mode = "auto"
	}
	exportResult, err := c.Export(ctx, bookID, mode)
	if err != nil {
		return stats, fmt.Errorf("export: %w", err)
	}
	stats.Export = exportResult
	return stats, nil
}

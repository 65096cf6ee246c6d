package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/hashing"
	"github.com/taleteller/taleteller/internal/store"
)

// ErrEmptyBook means the input decoded and normalized to nothing.
var ErrEmptyBook = errors.New("input contains no text after normalization")

// Stats summarizes one ingest run. Inserted counts are zero when the same
// file is ingested twice.
type Stats struct {
	BookID           int64
	BookHash         string
	Encoding         string
	Autodetected     bool
	Confidence       float64
	ChaptersTotal    int
	ChaptersInserted int
	ChunksTotal      int
	ChunksInserted   int
}

// Options are per-run overrides for a configured ingest.
type Options struct {
	InputPath    string
	Title        string
	Author       string
	ChapterRegex string
}

// Service ingests book files: decode, normalize, segment, chunk, persist.
type Service struct {
	store  *store.Store
	cfg    *config.Config
	logger *slog.Logger
}

func NewService(st *store.Store, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{store: st, cfg: cfg, logger: logger.With("component", "ingest")}
}

// IngestBook runs the full pipeline for one file. All rows for the book are
// written in a single transaction, so a failed ingest leaves nothing behind.
func (s *Service) IngestBook(ctx context.Context, opts Options) (Stats, error) {
	chapterRegex := opts.ChapterRegex
	if chapterRegex == "" {
		chapterRegex = s.cfg.Ingest.ChapterRegex
	}

	s.logger.Info("reading novel text", "path", opts.InputPath)
	loaded, err := LoadTextAuto(opts.InputPath, s.cfg.Ingest.Encoding, chapterRegex)
	if err != nil {
		return Stats{}, err
	}
	if loaded.Autodetected {
		s.logger.Info("detected encoding",
			"encoding", loaded.Encoding,
			"confidence", fmt.Sprintf("%.2f", loaded.Confidence),
			"replace_fallback", loaded.UsedReplaceFallback)
	}

	normalized := NormalizeText(loaded.Text, s.cfg.Ingest.Cleanup)
	if normalized == "" {
		return Stats{}, fmt.Errorf("%w: %s", ErrEmptyBook, opts.InputPath)
	}

	bookHash := hashing.BookHash(normalized)
	chapters, err := ParseChapters(normalized, chapterRegex, s.cfg.Ingest.FallbackChapterChars)
	if err != nil {
		return Stats{}, err
	}
	s.logger.Info("parsed chapters", "count", len(chapters))

	splitParams := fmt.Sprintf("size=%d;overlap=%d;min=%d",
		s.cfg.Split.ChunkSizeTokens, s.cfg.Split.ChunkOverlapTokens, s.cfg.Split.MinChunkTokens)

	stats := Stats{
		BookHash:      bookHash,
		Encoding:      loaded.Encoding,
		Autodetected:  loaded.Autodetected,
		Confidence:    loaded.Confidence,
		ChaptersTotal: len(chapters),
	}

	err = s.store.WithTx(ctx, func(sess *store.Session) error {
		bookID, _, err := sess.UpsertBook(ctx, store.Book{
			Title:      opts.Title,
			Author:     opts.Author,
			BookHash:   bookHash,
			SourcePath: opts.InputPath,
		})
		if err != nil {
			return fmt.Errorf("upserting book: %w", err)
		}
		stats.BookID = bookID

		for _, chapter := range chapters {
			chapterHash := hashing.ChapterHash(bookHash, chapter.Title, chapter.Text)
			chapterID, inserted, err := sess.UpsertChapter(ctx, store.Chapter{
				BookID:      bookID,
				Idx:         chapter.Idx,
				Title:       chapter.Title,
				Text:        chapter.Text,
				ChapterHash: chapterHash,
				StartPos:    chapter.StartPos,
				EndPos:      chapter.EndPos,
			})
			if err != nil {
				return fmt.Errorf("upserting chapter %d: %w", chapter.Idx, err)
			}
			if inserted {
				stats.ChaptersInserted++
			}

			for _, chunk := range SplitText(chapter.Text,
				s.cfg.Split.ChunkSizeTokens, s.cfg.Split.ChunkOverlapTokens, s.cfg.Split.MinChunkTokens) {
				stats.ChunksTotal++
				_, inserted, err := sess.UpsertChunk(ctx, store.Chunk{
					BookID:      bookID,
					ChapterID:   chapterID,
					Idx:         chunk.Idx,
					Text:        chunk.Text,
					TokenCount:  chunk.TokenCount,
					StartPos:    chunk.StartPos,
					EndPos:      chunk.EndPos,
					ChunkHash:   hashing.ChunkHash(chapterHash, splitParams, chunk.Text),
					SplitParams: splitParams,
				})
				if err != nil {
					return fmt.Errorf("upserting chunk %d of chapter %d: %w", chunk.Idx, chapter.Idx, err)
				}
				if inserted {
					stats.ChunksInserted++
				}
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	s.logger.Info("ingest complete",
		"book_id", stats.BookID,
		"book_hash", hashing.Short(stats.BookHash),
		"chapters", stats.ChaptersTotal,
		"chapters_inserted", stats.ChaptersInserted,
		"chunks", stats.ChunksTotal,
		"chunks_inserted", stats.ChunksInserted)
	return stats, nil
}

package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taleteller/taleteller/internal/store"
	"github.com/taleteller/taleteller/internal/vectorstore"
)

// Embedder produces one vector per input text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// AssetStats reports one asset build: how much was embedded vs already
// present, and how many FTS rows exist afterwards.
type AssetStats struct {
	ChunksTotal        int
	ChunksEmbedded     int
	ChunksSkipped      int
	NarrationsTotal    int
	NarrationsEmbedded int
	NarrationsSkipped  int
	ChunkFTSRows       int
	NarrationFTSRows   int
}

// AssetBuilder keeps the retrieval side stores in sync with the relational
// store: chunk and latest-narration vectors plus both FTS indexes.
type AssetBuilder struct {
	store    *store.Store
	vectors  *vectorstore.Store
	embedder Embedder
	logger   *slog.Logger
}

func NewAssetBuilder(st *store.Store, vectors *vectorstore.Store, embedder Embedder, logger *slog.Logger) *AssetBuilder {
	return &AssetBuilder{store: st, vectors: vectors, embedder: embedder, logger: logger.With("component", "retrieval_assets")}
}

// BuildBookAssets embeds any chunks and latest narrations that are missing
// from the vector store and rebuilds both FTS indexes. It is incremental on
// vectors and idempotent on FTS.
func (b *AssetBuilder) BuildBookAssets(ctx context.Context, bookID int64, batchSize int) (AssetStats, error) {
	if batchSize <= 0 {
		batchSize = 32
	}
	var stats AssetStats
	sess := b.store.Session()

	chapters, err := sess.ListChapters(ctx, bookID)
	if err != nil {
		return stats, fmt.Errorf("listing chapters: %w", err)
	}
	chapterByID := make(map[int64]store.Chapter, len(chapters))
	for _, ch := range chapters {
		chapterByID[ch.ID] = ch
	}

	chunks, err := sess.ListChunksByBook(ctx, bookID)
	if err != nil {
		return stats, fmt.Errorf("listing chunks: %w", err)
	}
	stats.ChunksTotal = len(chunks)

	chunkRecords := make([]vectorstore.Record, 0, len(chunks))
	for _, c := range chunks {
		ch := chapterByID[c.ChapterID]
		chunkRecords = append(chunkRecords, vectorstore.Record{
			ID:           c.ID,
			ChapterIdx:   ch.Idx,
			ChapterTitle: ch.Title,
			Text:         c.Text,
		})
	}
	embedded, skipped, err := b.embedMissing(ctx, vectorstore.KindChunks, bookID, chunkRecords, batchSize)
	if err != nil {
		return stats, fmt.Errorf("embedding chunks: %w", err)
	}
	stats.ChunksEmbedded, stats.ChunksSkipped = embedded, skipped

	narrations, err := sess.LatestNarrationsByBook(ctx, bookID)
	if err != nil {
		return stats, fmt.Errorf("listing narrations: %w", err)
	}
	stats.NarrationsTotal = len(narrations)

	narrationRecords := make([]vectorstore.Record, 0, len(narrations))
	for _, n := range narrations {
		title := ""
		if ch, ok := chapterByID[n.ChapterID]; ok {
			title = ch.Title
		}
		narrationRecords = append(narrationRecords, vectorstore.Record{
			ID:           n.ID,
			ChapterIdx:   n.ChapterIdx,
			ChapterTitle: title,
			Text:         n.NarrationText,
		})
	}
	embedded, skipped, err = b.embedMissing(ctx, vectorstore.KindNarrations, bookID, narrationRecords, batchSize)
	if err != nil {
		return stats, fmt.Errorf("embedding narrations: %w", err)
	}
	stats.NarrationsEmbedded, stats.NarrationsSkipped = embedded, skipped

	if err := sess.RebuildChunksFTS(ctx, bookID); err != nil {
		return stats, fmt.Errorf("rebuilding chunk fts: %w", err)
	}
	if err := sess.RebuildNarrationsFTS(ctx, bookID); err != nil {
		return stats, fmt.Errorf("rebuilding narration fts: %w", err)
	}
	if stats.ChunkFTSRows, err = sess.CountFTSRows(ctx, "chunks_fts", bookID); err != nil {
		return stats, err
	}
	if stats.NarrationFTSRows, err = sess.CountFTSRows(ctx, "narrations_fts", bookID); err != nil {
		return stats, err
	}

	b.logger.Info("asset build complete",
		"book_id", bookID,
		"chunks_embedded", stats.ChunksEmbedded,
		"chunks_skipped", stats.ChunksSkipped,
		"narrations_embedded", stats.NarrationsEmbedded,
		"narrations_skipped", stats.NarrationsSkipped,
		"chunk_fts_rows", stats.ChunkFTSRows,
		"narration_fts_rows", stats.NarrationFTSRows)
	return stats, nil
}

func (b *AssetBuilder) embedMissing(ctx context.Context, kind vectorstore.Kind, bookID int64, records []vectorstore.Record, batchSize int) (embedded, skipped int, err error) {
	existing, err := b.vectors.ListExistingIDs(ctx, kind, bookID)
	if err != nil {
		return 0, 0, err
	}

	var pending []vectorstore.Record
	for _, r := range records {
		if existing[r.ID] {
			skipped++
			continue
		}
		pending = append(pending, r)
	}
	if len(pending) == 0 {
		if err := b.vectors.EnsureTables(ctx, kind, bookID); err != nil {
			return 0, skipped, err
		}
		return 0, skipped, nil
	}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.Text
		}
		vectors, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return embedded, skipped, err
		}
		if len(vectors) != len(batch) {
			return embedded, skipped, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}
		if err := b.vectors.Upsert(ctx, kind, bookID, batch); err != nil {
			return embedded, skipped, err
		}
		embedded += len(batch)
	}
	return embedded, skipped, nil
}

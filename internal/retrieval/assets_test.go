package retrieval

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/taleteller/taleteller/internal/store"
	"github.com/taleteller/taleteller/internal/vectorstore"
)

type fakeEmbedder struct {
	dim   int
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func TestBuildBookAssetsIsIncremental(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "novel.sqlite"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	vectors, err := vectorstore.Open(filepath.Join(dir, "vectors"), 4)
	if err != nil {
		t.Fatalf("opening vector store: %v", err)
	}
	t.Cleanup(func() { vectors.Close() })

	sess := st.Session()
	bookID, _, err := sess.UpsertBook(ctx, store.Book{Title: "书", BookHash: "hash-assets"})
	if err != nil {
		t.Fatalf("seeding book: %v", err)
	}
	chapterIDs, err := sess.InsertChapters(ctx, []store.Chapter{
		{BookID: bookID, Idx: 1, Title: "第一章", Text: "韩立出门", ChapterHash: "ch1"},
		{BookID: bookID, Idx: 2, Title: "第二章", Text: "韩立回家", ChapterHash: "ch2"},
	})
	if err != nil {
		t.Fatalf("seeding chapters: %v", err)
	}
	if _, err := sess.InsertChunks(ctx, []store.Chunk{
		{BookID: bookID, ChapterID: chapterIDs[0], Idx: 1, Text: "韩立出门", TokenCount: 4, ChunkHash: "ck1", SplitParams: "size=4;overlap=0;min=1"},
		{BookID: bookID, ChapterID: chapterIDs[1], Idx: 1, Text: "韩立回家", TokenCount: 4, ChunkHash: "ck2", SplitParams: "size=4;overlap=0;min=1"},
	}); err != nil {
		t.Fatalf("seeding chunks: %v", err)
	}
	if _, _, err := sess.InsertNarration(ctx, store.Narration{
		BookID: bookID, ChapterID: chapterIDs[0], ChapterIdx: 1,
		PromptVersion: "v0-mvp", Model: "m", InputHash: "ih1", NarrationText: "却说韩立出门",
	}); err != nil {
		t.Fatalf("seeding narration: %v", err)
	}

	embedder := &fakeEmbedder{dim: 4}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	builder := NewAssetBuilder(st, vectors, embedder, logger)

	first, err := builder.BuildBookAssets(ctx, bookID, 32)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	if first.ChunksEmbedded != 2 || first.ChunksSkipped != 0 {
		t.Errorf("first build chunks: %+v", first)
	}
	if first.NarrationsEmbedded != 1 {
		t.Errorf("first build narrations: %+v", first)
	}
	if first.ChunkFTSRows != 2 || first.NarrationFTSRows != 1 {
		t.Errorf("fts rows: %+v", first)
	}

	second, err := builder.BuildBookAssets(ctx, bookID, 32)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if second.ChunksEmbedded != 0 || second.ChunksSkipped != 2 {
		t.Errorf("second build chunks not skipped: %+v", second)
	}
	if second.NarrationsEmbedded != 0 || second.NarrationsSkipped != 1 {
		t.Errorf("second build narrations not skipped: %+v", second)
	}
	if second.ChunkFTSRows != 2 {
		t.Errorf("fts rebuild not idempotent: %+v", second)
	}
}

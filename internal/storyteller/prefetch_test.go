package storyteller

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/taleteller/taleteller/internal/retrieval"
	"github.com/taleteller/taleteller/internal/store"
)

type fakeRetriever struct {
	calls atomic.Int32
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ int64, q retrieval.Query) ([]retrieval.Hit, error) {
	f.calls.Add(1)
	return []retrieval.Hit{
		{SourceType: "chunk", SourceID: 1, ChapterIdx: q.CurrentChapterIdx - 1, Text: "旧事回忆"},
	}, nil
}

func TestPrefetcherOverlapsRetrieval(t *testing.T) {
	cfg := storytellerTestConfig()
	cfg.Storyteller.MemoryTopK = 4
	cfg.Storyteller.PrefetchWindow = 2
	retriever := &fakeRetriever{}
	svc := NewService(ServiceDeps{
		Config:    cfg,
		Retriever: retriever,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	chapters := []store.Chapter{
		{ID: 1, Idx: 1, Text: "韩立在山边小村长大。"},
		{ID: 2, Idx: 2, Text: "韩立进山采药。"},
		{ID: 3, Idx: 3, Text: "韩立进入七玄门。"},
	}

	ctx := context.Background()
	pf := newPrefetcher(svc, 7, cfg.Storyteller.PrefetchWindow)
	pf.schedule(ctx, chapters, 1)

	memories := pf.take(ctx, 2)
	if len(memories) != 1 || memories[0].Text != "旧事回忆" {
		t.Fatalf("memories = %v, want the retriever's hit", memories)
	}
	if pf.take(ctx, 2) != nil {
		t.Error("second take for the same chapter must return nil")
	}
	// Chapter 1 was never scheduled; its retrieval happens inline.
	if pf.take(ctx, 1) != nil {
		t.Error("unscheduled chapter must return nil")
	}
	if got := retriever.calls.Load(); got != 2 {
		t.Errorf("retriever calls = %d, want one per scheduled chapter", got)
	}
}

func TestPrefetcherDisabledWithoutRetriever(t *testing.T) {
	cfg := storytellerTestConfig()
	cfg.Storyteller.PrefetchWindow = 3
	svc := NewService(ServiceDeps{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	pf := newPrefetcher(svc, 7, cfg.Storyteller.PrefetchWindow)
	pf.schedule(context.Background(), []store.Chapter{{ID: 1, Idx: 1, Text: "正文"}}, 0)
	if pf.take(context.Background(), 1) != nil {
		t.Error("prefetcher without a retriever must be inert")
	}
}

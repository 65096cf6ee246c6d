package storyteller

import (
	"context"
	"sync"

	"github.com/taleteller/taleteller/internal/store"
)

// prefetcher overlaps memory retrieval for upcoming chapters with the
// current chapter's narration. Retrieval assets do not change during a run,
// so prefetched memories match what the graph would retrieve inline; entity
// extraction in the real graph run hits the LLM cache when "llm" mode was
// used here.
type prefetcher struct {
	svc    *Service
	bookID int64
	window int

	mu      sync.Mutex
	pending map[int]chan []Memory
}

func newPrefetcher(svc *Service, bookID int64, window int) *prefetcher {
	if svc.retriever == nil {
		window = 0
	}
	return &prefetcher{
		svc:     svc,
		bookID:  bookID,
		window:  window,
		pending: make(map[int]chan []Memory),
	}
}

// schedule launches retrieval for up to window chapters starting at next.
// Already-pending chapters are not re-launched.
func (p *prefetcher) schedule(ctx context.Context, chapters []store.Chapter, next int) {
	for j := next; j < len(chapters) && j < next+p.window; j++ {
		ch := chapters[j]
		if ch.Text == "" {
			continue
		}
		p.mu.Lock()
		if _, ok := p.pending[ch.Idx]; ok {
			p.mu.Unlock()
			continue
		}
		done := make(chan []Memory, 1)
		p.pending[ch.Idx] = done
		p.mu.Unlock()

		go func(ch store.Chapter) {
			done <- p.retrieve(ctx, ch)
		}(ch)
	}
}

// take returns the prefetched memories for a chapter, or nil when none were
// scheduled; nil makes the graph retrieve inline.
func (p *prefetcher) take(ctx context.Context, chapterIdx int) []Memory {
	p.mu.Lock()
	done, ok := p.pending[chapterIdx]
	if ok {
		delete(p.pending, chapterIdx)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case memories := <-done:
		return memories
	case <-ctx.Done():
		return nil
	}
}

func (p *prefetcher) retrieve(ctx context.Context, ch store.Chapter) []Memory {
	tier := DecideTier(ch.Idx, ch.Title, ch.Text, p.svc.cfg)
	st := &State{
		BookID:       p.bookID,
		ChapterID:    ch.ID,
		ChapterIdx:   ch.Idx,
		ChapterTitle: ch.Title,
		ChapterText:  ch.Text,
		Settings:     EffectiveSettings(tier, p.svc.cfg),
	}
	g := NewGraph(GraphDeps{
		Config:       p.svc.cfg,
		BookID:       p.bookID,
		Retriever:    p.svc.retriever,
		EntityClient: p.svc.entityClient,
		Logger:       p.svc.logger,
	})
	if err := g.runEntityExtract(ctx, st); err != nil {
		return nil
	}
	if err := g.runMemoryRetrieve(ctx, st); err != nil {
		return nil
	}
	return st.AwakenedMemories
}

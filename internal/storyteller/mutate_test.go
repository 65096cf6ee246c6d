package storyteller

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/store"
)

func TestStateUpdateItemOwnerFact(t *testing.T) {
	s, bookID := openStorytellerStore(t, []string{"韩立得到神秘小瓶。"})
	ctx := context.Background()

	err := s.WithTx(ctx, func(sess *store.Session) error {
		g := NewGraph(GraphDeps{
			Session: sess,
			Config:  config.DefaultConfig(),
			BookID:  bookID,
			Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		st := &State{
			BookID:     bookID,
			ChapterIdx: 1,
			NewItems: []NewItem{
				{Name: "神秘小瓶", Description: "掌心大小的小瓶"},
				{Name: "乌龙夺", Owner: "墨大夫", Description: "顶阶法器"},
			},
		}
		return g.runStateUpdate(ctx, st)
	})
	if err != nil {
		t.Fatalf("state update: %v", err)
	}

	sess := s.Session()
	items, err := sess.ListItems(ctx, bookID)
	if err != nil {
		t.Fatalf("listing items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want both saved", len(items))
	}

	facts, err := sess.ListWorldFacts(ctx, bookID)
	if err != nil {
		t.Fatalf("listing facts: %v", err)
	}
	byKey := map[string]string{}
	for _, f := range facts {
		byKey[f.FactKey] = f.FactValue
	}
	if _, ok := byKey["item:神秘小瓶:owner"]; ok {
		t.Error("ownerless item must not write an ownership fact")
	}
	if got := byKey["item:乌龙夺:owner"]; got != "墨大夫" {
		t.Errorf("owner fact = %q, want 墨大夫", got)
	}
}

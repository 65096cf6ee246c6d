package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/taleteller/taleteller/internal/config"
	"github.com/taleteller/taleteller/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "novel.sqlite"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Split.ChunkSizeTokens = 10
	cfg.Split.ChunkOverlapTokens = 2
	cfg.Split.MinChunkTokens = 3
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, cfg, logger)
}

func TestIngestBookIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	path := filepath.Join(t.TempDir(), "novel.txt")
	text := "序言内容\n第1章 开始\n韩立在山边小村出门，走了很远的山路。\n第2章 继续\n韩立遇到了墨大夫。"
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	first, err := svc.IngestBook(ctx, Options{InputPath: path, Title: "凡人修仙传", Author: "忘语"})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.ChaptersTotal != 3 {
		t.Errorf("chapters_total = %d, want 3 (preface + 2)", first.ChaptersTotal)
	}
	if first.ChaptersInserted != first.ChaptersTotal {
		t.Errorf("first run inserted %d of %d chapters", first.ChaptersInserted, first.ChaptersTotal)
	}
	if first.ChunksInserted == 0 || first.ChunksInserted != first.ChunksTotal {
		t.Errorf("first run inserted %d of %d chunks", first.ChunksInserted, first.ChunksTotal)
	}

	second, err := svc.IngestBook(ctx, Options{InputPath: path, Title: "凡人修仙传", Author: "忘语"})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.BookID != first.BookID || second.BookHash != first.BookHash {
		t.Errorf("identity changed across runs: %d/%s vs %d/%s",
			first.BookID, first.BookHash, second.BookID, second.BookHash)
	}
	if second.ChaptersInserted != 0 || second.ChunksInserted != 0 {
		t.Errorf("second run inserted rows: chapters=%d chunks=%d",
			second.ChaptersInserted, second.ChunksInserted)
	}
}

func TestIngestBookRejectsEmptyInput(t *testing.T) {
	svc := newTestService(t)
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, []byte("\n\n  \n"), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	_, err := svc.IngestBook(context.Background(), Options{InputPath: path})
	if err == nil {
		t.Fatal("expected error for empty input")
	}
}

package ingest

import (
	"testing"

	"github.com/taleteller/taleteller/internal/config"
)

func TestNormalizeText(t *testing.T) {
	cleanup := config.IngestCleanupCfg{NormalizeFullwidth: true, StripBlankLines: true}

	got := NormalizeText("ＡＢＣ\r\n\r\n　\n１２３", cleanup)
	if got != "ABC\n123" {
		t.Errorf("got %q, want %q", got, "ABC\n123")
	}

	// CRLF folding happens even when cleanup is off.
	got = NormalizeText("a\r\nb\rc", config.IngestCleanupCfg{})
	if got != "a\nb\nc" {
		t.Errorf("got %q, want %q", got, "a\nb\nc")
	}
}

func TestParseChaptersWithRegexAndPreface(t *testing.T) {
	text := "序言内容\n第1章 开始\n内容一\n第2章 继续\n内容二"
	chapters, err := ParseChapters(text, `^第[0-9]+章.*$`, 20000)
	if err != nil {
		t.Fatalf("ParseChapters: %v", err)
	}
	if len(chapters) != 3 {
		t.Fatalf("expected 3 chapters, got %d", len(chapters))
	}

	want := []struct{ title, text string }{
		{"序章", "序言内容"},
		{"第1章 开始", "内容一"},
		{"第2章 继续", "内容二"},
	}
	for i, w := range want {
		if chapters[i].Title != w.title || chapters[i].Text != w.text {
			t.Errorf("chapter %d: got (%q, %q), want (%q, %q)",
				i, chapters[i].Title, chapters[i].Text, w.title, w.text)
		}
		if chapters[i].Idx != i+1 {
			t.Errorf("chapter %d: idx = %d", i, chapters[i].Idx)
		}
	}
}

func TestParseChaptersFallbackSplit(t *testing.T) {
	chapters, err := ParseChapters("abcdefghij", "", 4)
	if err != nil {
		t.Fatalf("ParseChapters: %v", err)
	}
	if len(chapters) != 3 {
		t.Fatalf("expected 3 chapters, got %d", len(chapters))
	}
	for i, title := range []string{"第1章", "第2章", "第3章"} {
		if chapters[i].Title != title {
			t.Errorf("chapter %d: title %q, want %q", i, chapters[i].Title, title)
		}
	}
	if chapters[0].Text != "abcd" || chapters[2].Text != "ij" {
		t.Errorf("unexpected window contents: %q / %q", chapters[0].Text, chapters[2].Text)
	}
}

func TestParseChaptersNoMatchesFallsBack(t *testing.T) {
	chapters, err := ParseChapters("plain prose with no headings", `^第[0-9]+章.*$`, 10)
	if err != nil {
		t.Fatalf("ParseChapters: %v", err)
	}
	if len(chapters) == 0 {
		t.Fatal("expected fallback chapters")
	}
	if chapters[0].Title != "第1章" {
		t.Errorf("fallback title = %q", chapters[0].Title)
	}
}

func TestParseChaptersEmptyText(t *testing.T) {
	chapters, err := ParseChapters("", `^第[0-9]+章.*$`, 100)
	if err != nil {
		t.Fatalf("ParseChapters: %v", err)
	}
	if len(chapters) != 0 {
		t.Errorf("expected no chapters, got %d", len(chapters))
	}
}

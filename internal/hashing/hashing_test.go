package hashing

import (
	"strings"
	"testing"
)

func TestSHA256Text(t *testing.T) {
	// Known vector for the empty string.
	if got := SHA256Text(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("unexpected empty-string hash: %s", got)
	}

	if SHA256Text("韩立") == SHA256Text("韩立 ") {
		t.Error("whitespace must change the hash")
	}
}

func TestComposite(t *testing.T) {
	if Composite("a", "b") != SHA256Text("a::b") {
		t.Error("composite must join with :: before hashing")
	}
	if Composite("a", "b") == Composite("a:", ":b") {
		// The separator is part of the identity; a collision here would let
		// two different key tuples alias the same cache entry.
		t.Error("composite parts must not be ambiguous for these inputs")
	}
}

func TestShort(t *testing.T) {
	h := SHA256Text("chapter")
	if got := Short(h); len(got) != 12 || !strings.HasPrefix(h, got) {
		t.Errorf("short form must be the first 12 chars, got %q", got)
	}
	if Short("abc") != "abc" {
		t.Error("short of a short string is the string itself")
	}
}

func TestChapterAndChunkHashes(t *testing.T) {
	book := BookHash("正文")
	ch1 := ChapterHash(book, "第一章", "内容")
	ch2 := ChapterHash(book, "第一章", "内容二")
	if ch1 == ch2 {
		t.Error("chapter text must be part of the identity")
	}

	ck1 := ChunkHash(ch1, "size=4;overlap=1;min=4", "abcd")
	ck2 := ChunkHash(ch1, "size=8;overlap=1;min=4", "abcd")
	if ck1 == ck2 {
		t.Error("split params must be part of the chunk identity")
	}
}

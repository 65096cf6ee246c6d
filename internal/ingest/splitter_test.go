package ingest

import "testing"

func TestSplitTextEmpty(t *testing.T) {
	if chunks := SplitText("", 4, 1, 2); len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplitTextShortSingleChunk(t *testing.T) {
	chunks := SplitText("abcd", 10, 2, 2)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Text != "abcd" || c.StartPos != 0 || c.EndPos != 4 || c.TokenCount != 4 {
		t.Errorf("unexpected chunk: %+v", c)
	}
}

func TestSplitTextOverlapAndMergeShortTail(t *testing.T) {
	chunks := SplitText("abcdefghi", 4, 1, 4)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "abcd" {
		t.Errorf("first chunk = %q", chunks[0].Text)
	}
	if chunks[1].Text != "defgghi" {
		t.Errorf("merged tail = %q", chunks[1].Text)
	}
	if chunks[1].StartPos != 3 || chunks[1].EndPos != 9 {
		t.Errorf("merged tail span = [%d, %d)", chunks[1].StartPos, chunks[1].EndPos)
	}
}

func TestSplitTextCJKRuneCounting(t *testing.T) {
	chunks := SplitText("韩立出门走山路", 4, 0, 2)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "韩立出门" || chunks[0].TokenCount != 4 {
		t.Errorf("first chunk: %+v", chunks[0])
	}
	if chunks[1].Text != "走山路" || chunks[1].StartPos != 4 {
		t.Errorf("second chunk: %+v", chunks[1])
	}
}

package ingest

// Chunk is a splitter window over chapter text. Positions and token counts
// are rune-based so identity keys stay stable for CJK text.
type Chunk struct {
	Idx        int
	Text       string
	StartPos   int
	EndPos     int
	TokenCount int
}

func estimateTokens(runes []rune) int {
	return len(runes)
}

// SplitText slides a window of chunkSize runes with overlap over text. A
// final window shorter than minChunk merges into the previous chunk.
func SplitText(text string, chunkSize, overlap, minChunk int) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	length := len(runes)
	if length <= chunkSize {
		return []Chunk{{Idx: 1, Text: text, EndPos: length, TokenCount: estimateTokens(runes)}}
	}

	var chunks []Chunk
	start := 0
	idx := 1
	for start < length {
		end := start + chunkSize
		if end > length {
			end = length
		}
		segment := runes[start:end]
		tokenCount := estimateTokens(segment)

		if tokenCount < minChunk && len(chunks) > 0 {
			prev := &chunks[len(chunks)-1]
			prev.Text += string(segment)
			prev.EndPos = end
			prev.TokenCount = estimateTokens([]rune(prev.Text))
			break
		}

		chunks = append(chunks, Chunk{
			Idx:        idx,
			Text:       string(segment),
			StartPos:   start,
			EndPos:     end,
			TokenCount: tokenCount,
		})
		idx++
		if end == length {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
		if start == end {
			start = end + 1
		}
	}
	return chunks
}

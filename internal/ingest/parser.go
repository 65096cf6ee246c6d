package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/taleteller/taleteller/internal/config"
)

// Chapter is a parsed chapter. Positions are rune offsets into the
// normalized text.
type Chapter struct {
	Idx      int
	Title    string
	Text     string
	StartPos int
	EndPos   int
}

// NormalizeText canonicalizes line endings, optionally applies NFKC and
// drops blank lines, and trims the result.
func NormalizeText(text string, cleanup config.IngestCleanupCfg) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	if cleanup.NormalizeFullwidth {
		normalized = norm.NFKC.String(normalized)
	}
	if cleanup.StripBlankLines {
		var lines []string
		for _, line := range strings.Split(normalized, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			lines = append(lines, strings.TrimRight(line, " \t"))
		}
		normalized = strings.Join(lines, "\n")
	}
	return strings.TrimSpace(normalized)
}

// ParseChapters segments text into chapters on chapterRegex heading matches.
// Text before the first heading becomes a preface chapter. Without a regex,
// or when nothing matches, the text is windowed into fixed-size chapters.
func ParseChapters(text, chapterRegex string, fallbackChapterChars int) ([]Chapter, error) {
	if text == "" {
		return nil, nil
	}
	if chapterRegex == "" {
		return fallbackSplit(text, fallbackChapterChars), nil
	}

	pattern, err := regexp.Compile("(?m)" + chapterRegex)
	if err != nil {
		return nil, fmt.Errorf("compiling chapter regex: %w", err)
	}
	matches := pattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return fallbackSplit(text, fallbackChapterChars), nil
	}

	var chapters []Chapter
	idx := 1

	if matches[0][0] > 0 {
		preface := strings.TrimSpace(text[:matches[0][0]])
		if preface != "" {
			chapters = append(chapters, Chapter{
				Idx:    idx,
				Title:  "序章",
				Text:   preface,
				EndPos: utf8.RuneCountInString(text[:matches[0][0]]),
			})
			idx++
		}
	}

	for i, m := range matches {
		start := m[0]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		block := strings.TrimSpace(text[start:end])
		title := strings.TrimSpace(text[m[0]:m[1]])

		// The heading line itself is not chapter content.
		content := block
		if lines := strings.Split(block, "\n"); len(lines) > 0 && strings.TrimSpace(lines[0]) == title {
			content = strings.TrimSpace(strings.Join(lines[1:], "\n"))
		}
		if content == "" {
			content = block
		}

		chapters = append(chapters, Chapter{
			Idx:      idx,
			Title:    title,
			Text:     content,
			StartPos: utf8.RuneCountInString(text[:start]),
			EndPos:   utf8.RuneCountInString(text[:end]),
		})
		idx++
	}
	return chapters, nil
}

func fallbackSplit(text string, maxChars int) []Chapter {
	if maxChars <= 0 {
		maxChars = 20000
	}
	runes := []rune(text)
	var chapters []Chapter
	idx := 1
	for start := 0; start < len(runes); start += maxChars {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chapters = append(chapters, Chapter{
			Idx:      idx,
			Title:    fmt.Sprintf("第%d章", idx),
			Text:     strings.TrimSpace(string(runes[start:end])),
			StartPos: start,
			EndPos:   end,
		})
		idx++
	}
	return chapters
}

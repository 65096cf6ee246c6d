package ingest

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	xunicode "golang.org/x/text/encoding/unicode"
)

// LoadResult is decoded text plus how it was decoded. Confidence is the
// normalized score gap between the best and second-best candidates.
type LoadResult struct {
	Text                string
	Encoding            string
	Autodetected        bool
	Confidence          float64
	UsedReplaceFallback bool
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type encodingCandidate struct {
	name    string
	decoder func() *encoding.Decoder
	// needsBOM restricts the candidate to inputs that carry the UTF-8 BOM,
	// so it never ties with plain utf-8.
	needsBOM bool
}

var encodingCandidates = []encodingCandidate{
	{name: "utf-8-sig", needsBOM: true},
	{name: "utf-8"},
	{name: "gb18030", decoder: simplifiedchinese.GB18030.NewDecoder},
	{name: "big5", decoder: traditionalchinese.Big5.NewDecoder},
	{name: "utf-16le", decoder: func() *encoding.Decoder {
		return xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM).NewDecoder()
	}},
	{name: "utf-16be", decoder: func() *encoding.Decoder {
		return xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM).NewDecoder()
	}},
}

// LoadTextAuto reads a file and decodes it. When encodingName is "auto" (or
// empty) the candidate list is scored and the best decoding wins; otherwise
// the named encoding is used directly, replacing undecodable bytes.
func LoadTextAuto(path, encodingName, chapterRegex string) (LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, fmt.Errorf("reading input file: %w", err)
	}

	if encodingName != "" && encodingName != "auto" {
		cand := findCandidate(encodingName)
		if cand == nil {
			return LoadResult{}, fmt.Errorf("unsupported encoding %q", encodingName)
		}
		text, replaced := decodeWith(*cand, data)
		return LoadResult{Text: text, Encoding: cand.name, Confidence: 1.0, UsedReplaceFallback: replaced}, nil
	}

	var pattern *regexp.Regexp
	if chapterRegex != "" {
		pattern, err = regexp.Compile("(?m)" + chapterRegex)
		if err != nil {
			return LoadResult{}, fmt.Errorf("compiling chapter regex: %w", err)
		}
	}
	return detectEncoding(data, pattern)
}

func findCandidate(name string) *encodingCandidate {
	for i := range encodingCandidates {
		if encodingCandidates[i].name == strings.ToLower(name) {
			return &encodingCandidates[i]
		}
	}
	return nil
}

func detectEncoding(data []byte, chapterPattern *regexp.Regexp) (LoadResult, error) {
	best := LoadResult{}
	bestScore, secondScore := -1e9, -1e9
	hasBOM := bytes.HasPrefix(data, utf8BOM)

	for _, cand := range encodingCandidates {
		if cand.needsBOM && !hasBOM {
			continue
		}
		text, replaced := decodeWith(cand, data)
		score := scoreDecoded(text, chapterPattern)
		if replaced {
			score -= 10
		}
		if score > bestScore {
			secondScore = bestScore
			bestScore = score
			best = LoadResult{Text: text, Encoding: cand.name, Autodetected: true, UsedReplaceFallback: replaced}
		} else if score > secondScore {
			secondScore = score
		}
	}
	if best.Encoding == "" {
		return LoadResult{}, fmt.Errorf("no encoding candidate could decode input")
	}
	best.Confidence = clamp((bestScore-secondScore)/30, 0, 1)
	return best, nil
}

func decodeWith(cand encodingCandidate, data []byte) (text string, replaced bool) {
	switch {
	case cand.name == "utf-8-sig":
		data = bytes.TrimPrefix(data, utf8BOM)
		return decodeUTF8(data)
	case cand.decoder == nil:
		return decodeUTF8(data)
	default:
		decoded, err := cand.decoder().Bytes(data)
		if err != nil {
			// x/text decoders substitute on invalid input; a hard error
			// means the payload is hopeless for this candidate.
			return strings.ToValidUTF8(string(decoded), string(utf8.RuneError)), true
		}
		text = string(decoded)
		return text, strings.ContainsRune(text, utf8.RuneError)
	}
}

func decodeUTF8(data []byte) (string, bool) {
	if utf8.Valid(data) {
		return string(data), false
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError)), true
}

// scoreDecoded rates how plausible a decoding is: mostly expected characters
// (ASCII printable, CJK, CJK punctuation, whitespace), rewarded further for
// CJK density and chapter-heading matches, penalized for control characters
// and replacement runes.
func scoreDecoded(text string, chapterPattern *regexp.Regexp) float64 {
	if text == "" {
		return -100
	}
	var total, expected, cjk, control int
	for _, r := range text {
		total++
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			expected++
		case r >= 0x20 && r < 0x7F:
			expected++
		case isCJKIdeograph(r):
			expected++
			cjk++
		case isCJKPunct(r):
			expected++
		case r == utf8.RuneError || r < 0x20 || r == 0x7F:
			control++
		}
	}
	score := 60*float64(expected)/float64(total) +
		25*float64(cjk)/float64(total) -
		50*float64(control)/float64(total)
	if chapterPattern != nil {
		matches := len(chapterPattern.FindAllStringIndex(text, 6))
		if matches > 5 {
			matches = 5
		}
		score += 2 * float64(matches)
	}
	return score
}

func isCJKIdeograph(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

func isCJKPunct(r rune) bool {
	return (r >= 0x3000 && r <= 0x303F) || (r >= 0xFF00 && r <= 0xFFEF)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	controlCharPattern   = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F]")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseLoose decodes model output that is supposed to be JSON but may be
// wrapped in markdown fences, contain stray control characters, or carry
// trailing commas. As a last resort it slices from the first '{' to the
// last '}'.
func ParseLoose(raw string, out any) error {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return fmt.Errorf("empty payload")
	}

	candidate = stripFences(candidate)
	candidate = controlCharPattern.ReplaceAllString(candidate, "")
	candidate = trailingCommaPattern.ReplaceAllString(candidate, "$1")

	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(candidate[start:end+1]), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("payload is not valid JSON")
}

func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

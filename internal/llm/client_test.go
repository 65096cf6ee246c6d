package llm

import (
	"strings"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	cases := []struct {
		attempt uint
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second}, // capped
		{10, 4 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempt, nil, nil); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestTruncatePayload(t *testing.T) {
	short := "hello"
	if got := truncatePayload(short, 100); got != short {
		t.Errorf("short payload changed: %q", got)
	}

	long := strings.Repeat("x", 50) + strings.Repeat("y", 50)
	got := truncatePayload(long, 20)
	if !strings.Contains(got, "chars omitted") {
		t.Errorf("omission marker missing: %q", got)
	}
	if !strings.HasPrefix(got, "xxxxxxxxxx") {
		t.Errorf("head not preserved: %q", got)
	}
	if !strings.HasSuffix(got, "yyyyyyyyyy") {
		t.Errorf("tail not preserved: %q", got)
	}

	// Truncation counts runes, not bytes.
	cjk := strings.Repeat("韩", 100)
	got = truncatePayload(cjk, 10)
	if !strings.Contains(got, "[90 chars omitted]") {
		t.Errorf("rune-based omission count wrong: %q", got)
	}
}

func TestTokenEstimate(t *testing.T) {
	if got := tokenEstimate("abcd"); got != 4 {
		t.Errorf("ascii estimate = %d, want 4", got)
	}
	if got := tokenEstimate("韩立出门"); got != 4 {
		t.Errorf("cjk estimate = %d, want 4", got)
	}
}

func TestSchemaValidate(t *testing.T) {
	schema := MustSchema("test_entities", `{
		"type": "object",
		"properties": {
			"characters": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["characters"],
		"additionalProperties": false
	}`)

	var doc any
	if err := ParseLoose(`{"characters": ["韩立"]}`, &doc); err != nil {
		t.Fatalf("ParseLoose: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}

	if err := ParseLoose(`{"characters": "韩立"}`, &doc); err != nil {
		t.Fatalf("ParseLoose: %v", err)
	}
	if err := schema.Validate(doc); err == nil {
		t.Error("invalid document accepted")
	}
}

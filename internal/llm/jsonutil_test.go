package llm

import "testing"

func TestParseLoose(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	cases := []struct {
		name string
		raw  string
		want payload
	}{
		{
			name: "plain json",
			raw:  `{"name": "韩立", "count": 3}`,
			want: payload{Name: "韩立", Count: 3},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"name\": \"韩立\", \"count\": 3}\n```",
			want: payload{Name: "韩立", Count: 3},
		},
		{
			name: "fence without language tag",
			raw:  "```\n{\"name\": \"韩立\", \"count\": 3}\n```",
			want: payload{Name: "韩立", Count: 3},
		},
		{
			name: "trailing comma",
			raw:  `{"name": "韩立", "count": 3,}`,
			want: payload{Name: "韩立", Count: 3},
		},
		{
			name: "control characters",
			raw:  "{\"name\": \"韩立\",\x01 \"count\": 3}",
			want: payload{Name: "韩立", Count: 3},
		},
		{
			name: "prose around the object",
			raw:  "Here is the result:\n{\"name\": \"韩立\", \"count\": 3}\nHope that helps.",
			want: payload{Name: "韩立", Count: 3},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got payload
			if err := ParseLoose(tc.raw, &got); err != nil {
				t.Fatalf("ParseLoose: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseLooseRejectsGarbage(t *testing.T) {
	var out map[string]any
	if err := ParseLoose("", &out); err == nil {
		t.Error("expected error for empty payload")
	}
	if err := ParseLoose("not json at all", &out); err == nil {
		t.Error("expected error for non-JSON payload")
	}
}

func TestStripFences(t *testing.T) {
	if got := stripFences("no fences here"); got != "no fences here" {
		t.Errorf("unfenced input changed: %q", got)
	}
	if got := stripFences("```json\n{}\n```"); got != "{}" {
		t.Errorf("fenced input: got %q, want %q", got, "{}")
	}
}

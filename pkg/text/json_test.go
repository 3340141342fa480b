package text

import (
	"encoding/json"
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "object wrapped in prose",
			input: "Sure! Here's the result:\n{\"a\": 1}\nLet me know if you need more.",
			want:  `{"a": 1}`,
		},
		{
			name:  "object in markdown fence",
			input: "```json\n{\"a\": {\"b\": 2}}\n```",
			want:  `{"a": {"b": 2}}`,
		},
		{
			name:  "braces inside strings",
			input: `{"note": "curly { and } inside", "ok": true}`,
			want:  `{"note": "curly { and } inside", "ok": true}`,
		},
		{
			name:  "escaped quotes inside strings",
			input: `{"note": "she said \"hi {\"", "n": 1} trailing`,
			want:  `{"note": "she said \"hi {\"", "n": 1}`,
		},
		{
			name:    "no object",
			input:   "I could not produce JSON, sorry.",
			wantErr: true,
		},
		{
			name:    "unbalanced object",
			input:   `{"a": {"b": 1}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("extracted JSON is not valid: %q", got)
			}
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	got, err := ExtractJSONArray(`strategies: ["filter_and_replace", "generate_more"] done`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `["filter_and_replace", "generate_more"]`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractJSONValuePrefersEarlier(t *testing.T) {
	got, err := ExtractJSONValue(`["a"] then {"b": 1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `["a"]` {
		t.Errorf("got %q, want the array", got)
	}
}

func TestNormalizePrompt(t *testing.T) {
	got := NormalizePrompt("  90s  chill\n\n indie   for studying ")
	want := "90s chill indie for studying"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

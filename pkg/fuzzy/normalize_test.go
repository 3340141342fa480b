package fuzzy

import "testing"

func TestNormalizeTrack(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		in   string
		want string
	}{
		{"Escape Plan", "escape plan"},
		{"Escape Plan (feat. Someone)", "escape plan"},
		{"SICKO MODE (Remastered 2020)", "sicko mode"},
		{"Café del Mar", "cafe del mar"},
		{"  Spaced   Out  ", "spaced out"},
	}

	for _, tt := range tests {
		if got := n.NormalizeTrack(tt.in); got != tt.want {
			t.Errorf("NormalizeTrack(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeArtist(t *testing.T) {
	n := NewNormalizer()

	if got := n.NormalizeArtist("Simon and Garfunkel"); got != "simon & garfunkel" {
		t.Errorf("unexpected artist normalization: %q", got)
	}
	if got := n.NormalizeArtist("Beyoncé"); got != "beyonce" {
		t.Errorf("unexpected artist normalization: %q", got)
	}
}

func TestSameTrack(t *testing.T) {
	n := NewNormalizer()

	if !n.SameTrack("Escape Plan", "escape plan (feat. somebody)") {
		t.Error("expected feat-variant names to match")
	}
	if n.SameTrack("Escape Plan", "Highest In The Room") {
		t.Error("expected different tracks not to match")
	}
	if n.SameTrack("", "anything") {
		t.Error("empty names must never match")
	}
}

func TestSimilarity(t *testing.T) {
	n := NewNormalizer()

	if got := n.Similarity("abc", "abc"); got != 1.0 {
		t.Errorf("identical strings: got %v", got)
	}
	if got := n.Similarity("abc", ""); got != 0.0 {
		t.Errorf("empty string: got %v", got)
	}
	if got := n.Similarity("sicko mode", "sicko modes"); got < 0.85 {
		t.Errorf("near-identical strings scored too low: %v", got)
	}
}

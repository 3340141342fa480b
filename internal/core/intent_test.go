package core

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestIntentRulesClassification(t *testing.T) {
	a := NewIntentAnalyzer(nil, testLLMConfig(), zap.NewNop())

	cases := []struct {
		prompt string
		want   IntentType
	}{
		{"songs like Bohemian Rhapsody", IntentSpecificTrackSimilar},
		{"something similar to Daft Punk's best work", IntentSpecificTrackSimilar},
		{"give me a Queen playlist", IntentArtistFocus},
		{"I want to explore techno", IntentGenreExploration},
		{"discover new jazz for me", IntentGenreExploration},
		{"feeling nostalgic tonight", IntentMoodVariety},
	}
	for _, c := range cases {
		got := a.Analyze(context.Background(), c.prompt)
		if got.IntentType != c.want {
			t.Errorf("Analyze(%q).IntentType = %s, want %s", c.prompt, got.IntentType, c.want)
		}
	}
}

func TestIntentRulesGenreAndStrictness(t *testing.T) {
	a := NewIntentAnalyzer(nil, testLLMConfig(), zap.NewNop())

	intent := a.Analyze(context.Background(), "I want to explore techno")
	if intent.PrimaryGenre != "techno" {
		t.Errorf("PrimaryGenre = %q, want techno", intent.PrimaryGenre)
	}
	if intent.GenreStrictness != strictnessGenre {
		t.Errorf("GenreStrictness = %v, want %v", intent.GenreStrictness, strictnessGenre)
	}
	if !intent.AllowObscureArtists {
		t.Error("genre exploration should allow obscure artists")
	}

	intent = a.Analyze(context.Background(), "give me a trap playlist")
	if intent.GenreStrictness != strictnessArtist {
		t.Errorf("GenreStrictness = %v, want %v", intent.GenreStrictness, strictnessArtist)
	}
}

func TestIntentLLMPath(t *testing.T) {
	llm := &mockLLM{queue: []string{`{
		"intent_type": "artist_focus",
		"user_mentioned_tracks": [
			{"track_name": "One More Time", "artist_name": "Daft Punk", "priority": "high"},
			{"track_name": "", "artist_name": "Nobody", "priority": "high"}
		],
		"user_mentioned_artists": ["Daft Punk", ""],
		"primary_genre": " House ",
		"genre_strictness": 0.9,
		"quality_threshold": 0.8
	}`}}
	a := NewIntentAnalyzer(llm, testLLMConfig(), zap.NewNop())

	intent := a.Analyze(context.Background(), "a Daft Punk playlist around One More Time")
	if intent.IntentType != IntentArtistFocus {
		t.Fatalf("IntentType = %s, want artist_focus", intent.IntentType)
	}
	if len(intent.UserMentionedTracks) != 1 {
		t.Fatalf("UserMentionedTracks = %d, want 1 (empty mention dropped)", len(intent.UserMentionedTracks))
	}
	if intent.UserMentionedTracks[0].Priority != PriorityHigh {
		t.Errorf("Priority = %s, want high", intent.UserMentionedTracks[0].Priority)
	}
	if len(intent.UserMentionedArtists) != 1 {
		t.Errorf("UserMentionedArtists = %v, want empty entries dropped", intent.UserMentionedArtists)
	}
	if intent.PrimaryGenre != "house" {
		t.Errorf("PrimaryGenre = %q, want normalized house", intent.PrimaryGenre)
	}
	if intent.QualityThreshold != 0.8 {
		t.Errorf("QualityThreshold = %v, want 0.8", intent.QualityThreshold)
	}
}

func TestIntentLLMGarbageFallsBack(t *testing.T) {
	llm := &mockLLM{queue: []string{"sorry, I cannot help with that"}}
	a := NewIntentAnalyzer(llm, testLLMConfig(), zap.NewNop())

	intent := a.Analyze(context.Background(), "chill evening vibes")
	if intent.IntentType != IntentMoodVariety {
		t.Errorf("IntentType = %s, want mood_variety fallback", intent.IntentType)
	}
	if intent.QualityThreshold <= 0 {
		t.Error("fallback must fill a usable quality threshold")
	}
}

func TestIntentValidateClampsRanges(t *testing.T) {
	llm := &mockLLM{queue: []string{`{"intent_type": "made_up", "genre_strictness": 7.5, "quality_threshold": -1}`}}
	a := NewIntentAnalyzer(llm, testLLMConfig(), zap.NewNop())

	intent := a.Analyze(context.Background(), "whatever")
	if intent.IntentType != IntentMoodVariety {
		t.Errorf("unknown intent type should coerce to mood_variety, got %s", intent.IntentType)
	}
	if intent.GenreStrictness != 1 {
		t.Errorf("GenreStrictness = %v, want clamped to 1", intent.GenreStrictness)
	}
	if intent.QualityThreshold != 0.75 {
		t.Errorf("QualityThreshold = %v, want fallback 0.75", intent.QualityThreshold)
	}
}

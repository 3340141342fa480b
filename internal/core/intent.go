package core

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"moodlist/pkg/text"
)

// IntentAnalyzer reads a mood prompt into an IntentAnalysis. LLM
// classification is attempted first; any failure or schema violation falls
// back to rule-based detection, so analysis never fails.
type IntentAnalyzer struct {
	llm    LLMProvider
	config *LLMConfig
	logger *zap.Logger
}

func NewIntentAnalyzer(llm LLMProvider, config *LLMConfig, logger *zap.Logger) *IntentAnalyzer {
	return &IntentAnalyzer{llm: llm, config: config, logger: logger}
}

// genreLexicon maps prompt keywords to a canonical primary genre.
var genreLexicon = map[string]string{
	"trap":       "trap",
	"hip hop":    "hip-hop",
	"hip-hop":    "hip-hop",
	"rap":        "hip-hop",
	"funk":       "funk",
	"disco":      "disco",
	"house":      "house",
	"techno":     "techno",
	"edm":        "edm",
	"rock":       "rock",
	"metal":      "metal",
	"punk":       "punk",
	"indie":      "indie",
	"folk":       "folk",
	"country":    "country",
	"jazz":       "jazz",
	"blues":      "blues",
	"soul":       "soul",
	"r&b":        "r&b",
	"rnb":        "r&b",
	"reggae":     "reggae",
	"reggaeton":  "reggaeton",
	"latin":      "latin",
	"afrobeats":  "afrobeats",
	"k-pop":      "k-pop",
	"kpop":       "k-pop",
	"classical":  "classical",
	"ambient":    "ambient",
	"lofi":       "lo-fi",
	"lo-fi":      "lo-fi",
	"pop":        "pop",
	"synthwave":  "synthwave",
	"electronic": "electronic",
}

const (
	strictnessArtist  = 0.85
	strictnessGenre   = 0.7
	strictnessDefault = 0.6
)

type intentResponse struct {
	IntentType           string `json:"intent_type"`
	UserMentionedTracks  []struct {
		TrackName  string `json:"track_name"`
		ArtistName string `json:"artist_name"`
		Priority   string `json:"priority"`
	} `json:"user_mentioned_tracks"`
	UserMentionedArtists []string `json:"user_mentioned_artists"`
	PrimaryGenre         string   `json:"primary_genre"`
	GenreStrictness      float64  `json:"genre_strictness"`
	LanguagePreferences  []string `json:"language_preferences"`
	ExcludeRegions       []string `json:"exclude_regions"`
	AllowObscureArtists  bool     `json:"allow_obscure_artists"`
	QualityThreshold     float64  `json:"quality_threshold"`
}

// Analyze produces a validated IntentAnalysis for the prompt. The returned
// analysis is always usable; LLM failures are recorded in the debug log and
// absorbed by the rule-based fallback.
func (a *IntentAnalyzer) Analyze(ctx context.Context, prompt string) *IntentAnalysis {
	prompt = text.NormalizePrompt(prompt)

	if a.llm != nil {
		intent, err := a.analyzeLLM(ctx, prompt)
		if err == nil {
			return a.validate(intent)
		}
		a.logger.Debug("LLM intent classification failed, using rules",
			zap.String("kind", KindOf(err).String()),
			zap.Error(err))
	}

	return a.validate(a.analyzeRules(prompt))
}

func (a *IntentAnalyzer) analyzeLLM(ctx context.Context, prompt string) (*IntentAnalysis, error) {
	resp, err := a.llm.Complete(ctx, CompletionRequest{
		System:      intentSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   800,
		Temperature: a.config.Temperature,
		Timeout:     a.config.CallTimeout,
	})
	if err != nil {
		return nil, err
	}

	raw, err := text.ExtractJSONObject(resp.Text)
	if err != nil {
		return nil, WrapError(KindSchemaViolation, "intent_analysis", err)
	}

	var parsed intentResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, WrapError(KindSchemaViolation, "intent_analysis", err)
	}

	intent := &IntentAnalysis{
		IntentType:           IntentType(parsed.IntentType),
		UserMentionedArtists: parsed.UserMentionedArtists,
		PrimaryGenre:         strings.ToLower(strings.TrimSpace(parsed.PrimaryGenre)),
		GenreStrictness:      parsed.GenreStrictness,
		LanguagePreferences:  parsed.LanguagePreferences,
		ExcludeRegions:       parsed.ExcludeRegions,
		AllowObscureArtists:  parsed.AllowObscureArtists,
		QualityThreshold:     parsed.QualityThreshold,
	}

	for _, m := range parsed.UserMentionedTracks {
		priority := MentionPriority(m.Priority)
		if priority != PriorityHigh && priority != PriorityMedium {
			priority = PriorityMedium
		}
		intent.UserMentionedTracks = append(intent.UserMentionedTracks, TrackMention{
			TrackName:  m.TrackName,
			ArtistName: m.ArtistName,
			Priority:   priority,
		})
	}

	return intent, nil
}

// analyzeRules is the deterministic fallback classifier.
func (a *IntentAnalyzer) analyzeRules(prompt string) *IntentAnalysis {
	lower := strings.ToLower(prompt)

	intent := &IntentAnalysis{
		IntentType:       IntentMoodVariety,
		GenreStrictness:  strictnessDefault,
		QualityThreshold: 0.75,
	}

	switch {
	case strings.Contains(lower, "like ") || strings.Contains(lower, "similar to"):
		intent.IntentType = IntentSpecificTrackSimilar
	case strings.Contains(lower, "playlist") || strings.Contains(lower, "give me") || strings.Contains(lower, "only"):
		intent.IntentType = IntentArtistFocus
	case strings.Contains(lower, "explore") || strings.Contains(lower, "discover") ||
		strings.Contains(lower, "variety") || strings.Contains(lower, "mix"):
		intent.IntentType = IntentGenreExploration
	}

	for keyword, genre := range genreLexicon {
		if strings.Contains(lower, keyword) {
			intent.PrimaryGenre = genre
			break
		}
	}

	switch intent.IntentType {
	case IntentArtistFocus, IntentSpecificTrackSimilar:
		intent.GenreStrictness = strictnessArtist
	case IntentGenreExploration:
		intent.GenreStrictness = strictnessGenre
		intent.AllowObscureArtists = true
	}

	return intent
}

// validate clamps numeric ranges, coerces arrays and drops malformed track
// mentions so downstream stages can trust the analysis.
func (a *IntentAnalyzer) validate(intent *IntentAnalysis) *IntentAnalysis {
	switch intent.IntentType {
	case IntentArtistFocus, IntentGenreExploration, IntentMoodVariety, IntentSpecificTrackSimilar:
	default:
		intent.IntentType = IntentMoodVariety
	}

	intent.GenreStrictness = clampUnit(intent.GenreStrictness, strictnessDefault)
	intent.QualityThreshold = clampUnit(intent.QualityThreshold, 0.75)

	valid := intent.UserMentionedTracks[:0]
	for _, m := range intent.UserMentionedTracks {
		if strings.TrimSpace(m.TrackName) == "" || strings.TrimSpace(m.ArtistName) == "" {
			continue
		}
		valid = append(valid, m)
	}
	intent.UserMentionedTracks = valid

	intent.UserMentionedArtists = dropEmpty(intent.UserMentionedArtists)
	intent.LanguagePreferences = dropEmpty(intent.LanguagePreferences)
	intent.ExcludeRegions = dropEmpty(intent.ExcludeRegions)

	return intent
}

func clampUnit(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	if v > 1 {
		return 1
	}
	return v
}

func dropEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

const intentSystemPrompt = `You are a music request classifier. Analyze the user's mood prompt and respond with a JSON object in this exact format:
{
  "intent_type": "artist_focus|genre_exploration|mood_variety|specific_track_similar",
  "user_mentioned_tracks": [{"track_name": "...", "artist_name": "...", "priority": "high|medium"}],
  "user_mentioned_artists": ["..."],
  "primary_genre": "trap",
  "genre_strictness": 0.7,
  "language_preferences": ["french"],
  "exclude_regions": [],
  "allow_obscure_artists": false,
  "quality_threshold": 0.75
}

Rules:
1. specific_track_similar: the user names a track and wants similar music
2. artist_focus: the user asks for a playlist around named artists
3. genre_exploration: the user wants to explore or discover within a genre
4. mood_variety: everything else
5. genre_strictness and quality_threshold are between 0.0 and 1.0
6. Only list tracks and artists the user actually named
7. Respond with JSON only, no commentary`

package core

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"moodlist/pkg/cohesion"
	"moodlist/pkg/text"
)

// MoodAnalyzer turns a prompt plus intent into target audio-feature ranges,
// per-feature weights and a playlist sizing target. Sizing is deterministic
// for a given prompt: the jitter RNG is seeded from the prompt hash.
type MoodAnalyzer struct {
	llm      LLMProvider
	config   *LLMConfig
	pipeline *PipelineConfig
	logger   *zap.Logger
}

func NewMoodAnalyzer(llm LLMProvider, config *LLMConfig, pipeline *PipelineConfig, logger *zap.Logger) *MoodAnalyzer {
	return &MoodAnalyzer{llm: llm, config: config, pipeline: pipeline, logger: logger}
}

const (
	baseTarget        = 20
	baseMin           = 16
	baseThreshold     = 0.75
	broadTarget       = 22
	broadThreshold    = 0.70
	specificTarget    = 19
	specificThreshold = 0.78
	nicheMin          = 15
	highWeightCutoff  = 0.7
)

var nicheKeywords = []string{"indie", "underground", "obscure", "niche", "rare"}

var errMissingTargetFeatures = errors.New("response has no target features")

type moodResponse struct {
	MoodInterpretation    string                `json:"mood_interpretation"`
	TargetFeatures        map[string][2]float64 `json:"target_features"`
	FeatureWeights        map[string]float64    `json:"feature_weights"`
	SearchKeywords        []string              `json:"search_keywords"`
	ArtistRecommendations []string              `json:"artist_recommendations"`
	GenreKeywords         []string              `json:"genre_keywords"`
	TemporalContext       *TemporalContext      `json:"temporal_context"`
	ExcludedThemes        []string              `json:"excluded_themes"`
	PreferredRegions      []string              `json:"preferred_regions"`
	ExcludedRegions       []string              `json:"excluded_regions"`
}

// Analyze returns the mood analysis and playlist target for the prompt.
// Never fails: LLM trouble degrades to a keyword-derived analysis.
func (m *MoodAnalyzer) Analyze(ctx context.Context, prompt string, intent *IntentAnalysis) (*MoodAnalysis, *PlaylistTarget) {
	prompt = text.NormalizePrompt(prompt)

	var analysis *MoodAnalysis
	if m.llm != nil {
		parsed, err := m.analyzeLLM(ctx, prompt, intent)
		if err != nil {
			m.logger.Debug("LLM mood analysis failed, using heuristics",
				zap.String("kind", KindOf(err).String()),
				zap.Error(err))
		} else {
			analysis = parsed
		}
	}
	if analysis == nil {
		analysis = m.analyzeHeuristic(prompt, intent)
	}

	m.applyDefaults(analysis)
	target := m.sizeTarget(prompt, analysis, intent)
	return analysis, target
}

func (m *MoodAnalyzer) analyzeLLM(ctx context.Context, prompt string, intent *IntentAnalysis) (*MoodAnalysis, error) {
	resp, err := m.llm.Complete(ctx, CompletionRequest{
		System:      moodSystemPrompt,
		Prompt:      buildMoodUserPrompt(prompt, intent),
		MaxTokens:   1200,
		Temperature: m.config.Temperature,
		Timeout:     m.config.CallTimeout,
	})
	if err != nil {
		return nil, err
	}

	raw, err := text.ExtractJSONObject(resp.Text)
	if err != nil {
		return nil, WrapError(KindSchemaViolation, "mood_analysis", err)
	}

	var parsed moodResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, WrapError(KindSchemaViolation, "mood_analysis", err)
	}

	analysis := &MoodAnalysis{
		MoodInterpretation:    parsed.MoodInterpretation,
		TargetFeatures:        make(map[string]cohesion.Range, len(parsed.TargetFeatures)),
		FeatureWeights:        parsed.FeatureWeights,
		SearchKeywords:        parsed.SearchKeywords,
		ArtistRecommendations: parsed.ArtistRecommendations,
		GenreKeywords:         parsed.GenreKeywords,
		TemporalContext:       parsed.TemporalContext,
		ExcludedThemes:        parsed.ExcludedThemes,
		PreferredRegions:      parsed.PreferredRegions,
		ExcludedRegions:       parsed.ExcludedRegions,
	}

	for name, bounds := range parsed.TargetFeatures {
		lo, hi := bounds[0], bounds[1]
		if hi < lo {
			lo, hi = hi, lo
		}
		analysis.TargetFeatures[name] = cohesion.Range{Min: lo, Max: hi}
	}

	if len(analysis.TargetFeatures) == 0 {
		return nil, WrapError(KindSchemaViolation, "mood_analysis",
			errMissingTargetFeatures)
	}

	return analysis, nil
}

// analyzeHeuristic derives a usable profile from prompt keywords alone.
func (m *MoodAnalyzer) analyzeHeuristic(prompt string, intent *IntentAnalysis) *MoodAnalysis {
	lower := strings.ToLower(prompt)

	analysis := &MoodAnalysis{
		MoodInterpretation: "keyword-derived profile for: " + prompt,
		TargetFeatures:     map[string]cohesion.Range{},
		FeatureWeights:     map[string]float64{},
		SearchKeywords:     strings.Fields(lower),
	}

	switch {
	case containsAny(lower, "party", "dance", "hype", "workout", "pump"):
		analysis.TargetFeatures["energy"] = cohesion.Range{Min: 0.6, Max: 1.0}
		analysis.TargetFeatures["danceability"] = cohesion.Range{Min: 0.6, Max: 1.0}
		analysis.TargetFeatures["valence"] = cohesion.Range{Min: 0.5, Max: 1.0}
	case containsAny(lower, "chill", "relax", "study", "studying", "focus", "sleep", "calm"):
		analysis.TargetFeatures["energy"] = cohesion.Range{Min: 0.2, Max: 0.5}
		analysis.TargetFeatures["instrumentalness"] = cohesion.Range{Min: 0.3, Max: 0.8}
		analysis.TargetFeatures["acousticness"] = cohesion.Range{Min: 0.3, Max: 1.0}
	case containsAny(lower, "sad", "melancholy", "heartbreak", "cry"):
		analysis.TargetFeatures["valence"] = cohesion.Range{Min: 0.0, Max: 0.4}
		analysis.TargetFeatures["energy"] = cohesion.Range{Min: 0.1, Max: 0.5}
	default:
		analysis.TargetFeatures["energy"] = cohesion.Range{Min: 0.4, Max: 0.8}
		analysis.TargetFeatures["valence"] = cohesion.Range{Min: 0.4, Max: 0.8}
	}

	if intent.PrimaryGenre != "" {
		analysis.GenreKeywords = []string{intent.PrimaryGenre}
	}

	if decade, years, ok := detectDecade(lower); ok {
		analysis.TemporalContext = &TemporalContext{
			Decade:     decade,
			YearRange:  years,
			IsTemporal: true,
		}
	}

	return analysis
}

// applyDefaults fills in weights the LLM omitted.
func (m *MoodAnalyzer) applyDefaults(analysis *MoodAnalysis) {
	if analysis.FeatureWeights == nil {
		analysis.FeatureWeights = map[string]float64{}
	}
	for name, w := range cohesion.DefaultWeights() {
		if _, ok := analysis.FeatureWeights[name]; !ok {
			analysis.FeatureWeights[name] = w
		}
	}
}

// sizeTarget applies the target-sizing policy: broad moods get larger,
// looser playlists; specific moods get tighter ones; niche prompts shrink.
func (m *MoodAnalyzer) sizeTarget(prompt string, analysis *MoodAnalysis, intent *IntentAnalysis) *PlaylistTarget {
	rng := rand.New(rand.NewSource(promptSeed(prompt)))

	target := &PlaylistTarget{
		TargetCount:      baseTarget,
		MinCount:         baseMin,
		MaxCount:         m.pipeline.MaxCount,
		QualityThreshold: baseThreshold,
	}

	features := len(analysis.TargetFeatures)
	highWeight := 0
	for name := range analysis.TargetFeatures {
		if analysis.FeatureWeights[name] >= highWeightCutoff {
			highWeight++
		}
	}

	switch {
	case features <= 4 || highWeight <= 2:
		target.TargetCount = broadTarget + rng.Intn(7) - 3 // ±3
		target.QualityThreshold = broadThreshold
	case features >= 8 || highWeight >= 4:
		target.TargetCount = specificTarget + rng.Intn(5) - 2 // ±2
		target.QualityThreshold = specificThreshold
	}

	lower := strings.ToLower(prompt)
	if containsAny(lower, nicheKeywords...) {
		target.TargetCount -= rng.Intn(3) // 0-2
		target.MinCount = nicheMin
	}

	if intent.QualityThreshold > target.QualityThreshold {
		target.QualityThreshold = intent.QualityThreshold
	}

	if target.TargetCount < target.MinCount {
		target.TargetCount = target.MinCount
	}
	if target.TargetCount > target.MaxCount {
		target.TargetCount = target.MaxCount
	}

	return target
}

func promptSeed(prompt string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(prompt))
	return int64(h.Sum64())
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// detectDecade spots "80s", "90s", "2000s" style references.
func detectDecade(lower string) (string, [2]int, bool) {
	decades := map[string][2]int{
		"60s":   {1960, 1969},
		"70s":   {1970, 1979},
		"80s":   {1980, 1989},
		"90s":   {1990, 1999},
		"2000s": {2000, 2009},
		"2010s": {2010, 2019},
	}
	for decade, years := range decades {
		if strings.Contains(lower, decade) {
			return decade, years, true
		}
	}
	return "", [2]int{}, false
}

func buildMoodUserPrompt(prompt string, intent *IntentAnalysis) string {
	var b strings.Builder
	b.WriteString("Mood prompt: ")
	b.WriteString(prompt)
	b.WriteString("\nDetected intent: ")
	b.WriteString(string(intent.IntentType))
	if intent.PrimaryGenre != "" {
		b.WriteString("\nPrimary genre: ")
		b.WriteString(intent.PrimaryGenre)
	}
	if len(intent.UserMentionedArtists) > 0 {
		b.WriteString("\nMentioned artists: ")
		b.WriteString(strings.Join(intent.UserMentionedArtists, ", "))
	}
	return b.String()
}

const moodSystemPrompt = `You are a music mood analyst. Translate the user's mood prompt into audio-feature targets. Respond with a JSON object in this exact format:
{
  "mood_interpretation": "one sentence",
  "target_features": {"energy": [0.6, 1.0], "valence": [0.5, 0.9]},
  "feature_weights": {"energy": 0.8, "valence": 0.8},
  "search_keywords": ["..."],
  "artist_recommendations": ["..."],
  "genre_keywords": ["..."],
  "temporal_context": {"decade": "90s", "era": "", "year_range": [1990, 1999], "is_temporal": false},
  "excluded_themes": [],
  "preferred_regions": [],
  "excluded_regions": []
}

Rules:
1. Features: acousticness, danceability, energy, instrumentalness, key, liveness, loudness, mode, speechiness, tempo, valence, popularity
2. Ranges for 0-1 features stay within [0,1]; tempo is BPM; loudness is dB (negative)
3. Weights are between 0.0 and 1.0; only include features that matter for this mood
4. artist_recommendations: 5-15 artists that fit the mood
5. Set temporal_context.is_temporal only for explicit decade or year references
6. Respond with JSON only, no commentary`

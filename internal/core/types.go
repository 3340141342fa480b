package core

import (
	"context"
	"time"

	"moodlist/pkg/cohesion"
)

// IntentType classifies what the user is asking for.
type IntentType string

const (
	// IntentArtistFocus requests a playlist built around named artists
	IntentArtistFocus IntentType = "artist_focus"
	// IntentGenreExploration requests discovery within a genre
	IntentGenreExploration IntentType = "genre_exploration"
	// IntentMoodVariety requests a varied playlist matching a mood
	IntentMoodVariety IntentType = "mood_variety"
	// IntentSpecificTrackSimilar requests tracks similar to a named track
	IntentSpecificTrackSimilar IntentType = "specific_track_similar"
)

// MentionPriority ranks how explicitly the user asked for a track.
type MentionPriority string

const (
	PriorityHigh   MentionPriority = "high"
	PriorityMedium MentionPriority = "medium"
)

// TrackMention is a track the user referenced in the prompt.
type TrackMention struct {
	TrackName  string          `json:"track_name"`
	ArtistName string          `json:"artist_name"`
	Priority   MentionPriority `json:"priority"`
}

// IntentAnalysis is the structured reading of the mood prompt.
type IntentAnalysis struct {
	IntentType           IntentType     `json:"intent_type"`
	UserMentionedTracks  []TrackMention `json:"user_mentioned_tracks"`
	UserMentionedArtists []string       `json:"user_mentioned_artists"`
	PrimaryGenre         string         `json:"primary_genre,omitempty"`
	GenreStrictness      float64        `json:"genre_strictness"`
	LanguagePreferences  []string       `json:"language_preferences,omitempty"`
	ExcludeRegions       []string       `json:"exclude_regions,omitempty"`
	AllowObscureArtists  bool           `json:"allow_obscure_artists"`
	QualityThreshold     float64        `json:"quality_threshold"`
}

// TemporalContext captures a decade or year-range constraint in the prompt.
type TemporalContext struct {
	Decade     string `json:"decade,omitempty"`
	Era        string `json:"era,omitempty"`
	YearRange  [2]int `json:"year_range,omitempty"`
	IsTemporal bool   `json:"is_temporal"`
}

// MoodAnalysis is the audio-feature reading of the mood prompt.
type MoodAnalysis struct {
	MoodInterpretation    string                    `json:"mood_interpretation"`
	TargetFeatures        map[string]cohesion.Range `json:"target_features"`
	FeatureWeights        map[string]float64        `json:"feature_weights"`
	SearchKeywords        []string                  `json:"search_keywords,omitempty"`
	ArtistRecommendations []string                  `json:"artist_recommendations,omitempty"`
	GenreKeywords         []string                  `json:"genre_keywords,omitempty"`
	TemporalContext       *TemporalContext          `json:"temporal_context,omitempty"`
	ExcludedThemes        []string                  `json:"excluded_themes,omitempty"`
	PreferredRegions      []string                  `json:"preferred_regions,omitempty"`
	ExcludedRegions       []string                  `json:"excluded_regions,omitempty"`
}

// PlaylistTarget is the sizing contract for the final playlist.
type PlaylistTarget struct {
	TargetCount      int     `json:"target_count"`
	MinCount         int     `json:"min_count"`
	MaxCount         int     `json:"max_count"`
	QualityThreshold float64 `json:"quality_threshold"`
}

// AudioFeatures is the closed feature set; every field is optional on a
// track because the catalog can lack analysis for some tracks.
type AudioFeatures struct {
	Acousticness     *float64 `json:"acousticness,omitempty"`
	Danceability     *float64 `json:"danceability,omitempty"`
	Energy           *float64 `json:"energy,omitempty"`
	Instrumentalness *float64 `json:"instrumentalness,omitempty"`
	Key              *int     `json:"key,omitempty"`
	Liveness         *float64 `json:"liveness,omitempty"`
	Loudness         *float64 `json:"loudness,omitempty"`
	Mode             *int     `json:"mode,omitempty"`
	Speechiness      *float64 `json:"speechiness,omitempty"`
	Tempo            *float64 `json:"tempo,omitempty"`
	Valence          *float64 `json:"valence,omitempty"`
	Popularity       *float64 `json:"popularity,omitempty"`
}

// Map flattens the present features for cohesion scoring.
func (f *AudioFeatures) Map() map[string]float64 {
	out := make(map[string]float64, 12)
	put := func(name string, v *float64) {
		if v != nil {
			out[name] = *v
		}
	}
	put("acousticness", f.Acousticness)
	put("danceability", f.Danceability)
	put("energy", f.Energy)
	put("instrumentalness", f.Instrumentalness)
	put("liveness", f.Liveness)
	put("loudness", f.Loudness)
	put("speechiness", f.Speechiness)
	put("tempo", f.Tempo)
	put("valence", f.Valence)
	put("popularity", f.Popularity)
	if f.Key != nil {
		out["key"] = float64(*f.Key)
	}
	if f.Mode != nil {
		out["mode"] = float64(*f.Mode)
	}
	return out
}

// Empty reports whether no feature value is present.
func (f *AudioFeatures) Empty() bool {
	return len(f.Map()) == 0
}

// RecommendationSource identifies which sub-strategy produced a track.
type RecommendationSource string

const (
	// SourceAnchorTrack marks tracks resolved from user mentions, mentioned
	// artists, or genre keyword searches
	SourceAnchorTrack RecommendationSource = "anchor_track"
	// SourceArtistDiscovery marks tracks discovered through recommended
	// artists' top tracks
	SourceArtistDiscovery RecommendationSource = "artist_discovery"
	// SourceRecoBeat marks tracks returned by the seeded similarity engine
	SourceRecoBeat RecommendationSource = "reccobeat"
)

// AnchorType distinguishes why a track was anchored.
type AnchorType string

const (
	AnchorUser   AnchorType = "user"
	AnchorGenre  AnchorType = "genre"
	AnchorArtist AnchorType = "artist"
)

// TrackRecommendation is one candidate in the recommendation pool. The
// protection flags are set only by the seed gatherer; every later stage
// treats them as read-only.
type TrackRecommendation struct {
	TrackID             string               `json:"track_id"`
	TrackName           string               `json:"track_name"`
	Artists             []string             `json:"artists"`
	SpotifyURI          string               `json:"spotify_uri,omitempty"`
	AudioFeatures       AudioFeatures        `json:"audio_features"`
	ConfidenceScore     float64              `json:"confidence_score"`
	Reasoning           string               `json:"reasoning,omitempty"`
	Source              RecommendationSource `json:"source"`
	UserMentioned       bool                 `json:"user_mentioned,omitempty"`
	UserMentionedArtist bool                 `json:"user_mentioned_artist,omitempty"`
	Protected           bool                 `json:"protected,omitempty"`
	AnchorType          AnchorType           `json:"anchor_type,omitempty"`
	ReleaseYear         int                  `json:"release_year,omitempty"`
	Genres              []string             `json:"genres,omitempty"`
	ArtistCountry       string               `json:"artist_country,omitempty"`
}

// Removable reports whether filters and outlier rules may drop this track.
func (r *TrackRecommendation) Removable() bool {
	return !r.Protected && !r.UserMentioned
}

// CatalogTrack is the catalog's view of a track.
type CatalogTrack struct {
	ID          string
	Name        string
	Artists     []string
	ArtistIDs   []string
	URI         string
	Popularity  int
	ReleaseYear int
}

// CatalogArtist is the catalog's view of an artist.
type CatalogArtist struct {
	ID         string
	Name       string
	Genres     []string
	Popularity int
	Country    string
}

// CatalogClient is the music-catalog port. Implementations must be safe for
// concurrent use across workflows.
type CatalogClient interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]CatalogTrack, error)
	SearchArtist(ctx context.Context, name string, limit int) ([]CatalogArtist, error)
	GetTrack(ctx context.Context, trackID string) (*CatalogTrack, error)
	// GetArtistTopTracks must be routed through the process-wide top-tracks
	// gate by the caller.
	GetArtistTopTracks(ctx context.Context, artistID, country string) ([]CatalogTrack, error)
	GetAudioFeatures(ctx context.Context, trackIDs []string) (map[string]AudioFeatures, error)
}

// SimilarityClient is the seeded-similarity port (RecoBeat).
type SimilarityClient interface {
	Recommend(ctx context.Context, seeds, negativeSeeds []string, limit int) ([]CatalogTrack, error)
}

// CompletionRequest is a single text-model invocation.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Completion carries model output plus token accounting.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
}

// LLMProvider is the text-model port.
type LLMProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Cache is a TTL key/value port used to memoize catalog lookups and quota
// counters. Operations are serialized per key, not globally.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
}

// SnapshotStore persists WorkflowState snapshots keyed by session ID with a
// monotonic updated_at.
type SnapshotStore interface {
	Save(ctx context.Context, state *WorkflowState) error
	Load(ctx context.Context, sessionID string) (*WorkflowState, error)
}

// TopTracksGate serializes artist-top-tracks requests across all workflows.
type TopTracksGate interface {
	Wait(ctx context.Context) error
}

// Quota limits workflow starts per user per calendar day (UTC).
type Quota interface {
	Allow(userID string) bool
}

// MetricsSink receives pipeline instrumentation. Implementations must be
// safe for concurrent use; a nil sink disables recording.
type MetricsSink interface {
	RecordStage(stage string, seconds float64)
	RecordError(stage, kind string)
	RecordWorkflow(status string)
	RecordPlaylistSize(size int)
	RecordActiveWorkflows(delta int)
}

// HistoryStore remembers tracks already recommended to a user across
// sessions so repeat prompts surface fresh material. Probabilistic
// implementations may report false positives; callers treat Seen as a
// down-ranking hint, not a hard filter.
type HistoryStore interface {
	Seen(userID, trackID string) bool
	Mark(userID, trackID string)
}

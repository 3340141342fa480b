package core

import (
	"time"
)

type Config struct {
	Spotify  SpotifyConfig
	RecoBeat RecoBeatConfig
	LLM      LLMConfig
	Server   ServerConfig
	Log      LogConfig
	Pipeline PipelineConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	Market       string
	// RequestsPerMinute and Burst size the client's internal token bucket.
	RequestsPerMinute int
	Burst             int
	RequestTimeout    time.Duration
}

type RecoBeatConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	CallTimeout time.Duration
	// Cost accounting per million tokens, used for invocation logging.
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// PipelineConfig carries every tunable of the recommendation pipeline.
type PipelineConfig struct {
	// Quality loop
	MaxIterations      int
	MaxStalled         int
	ConvergenceEpsilon float64
	CohesionThreshold  float64

	// Playlist sizing defaults; the mood analyzer adjusts per prompt
	TargetCount      int
	MinCount         int
	MaxCount         int
	QualityThreshold float64

	// Seed gathering
	AnchorTrackLimit          int
	MentionedArtistTrackLimit int
	ArtistTrackLimit          int
	MaxSeedTracks             int
	MaxNegativeSeeds          int

	// Generation
	ArtistRecommendationLimit int
	ArtistDiscoveryShare      float64
	MaxTracksPerArtist        int
	MaxRetries                int
	RetryBaseDelay            time.Duration
	RetryMaxDelay             time.Duration

	// Ordering
	EnergyBatchSize   int
	OrderBatchTimeout time.Duration

	// Shared resources
	TopTracksInterval time.Duration
	DailyQuota        int
	CacheTTL          time.Duration
	SnapshotPath      string
	ShutdownBudget    time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			Market:            "US",
			RequestsPerMinute: 120,
			Burst:             20,
			RequestTimeout:    20 * time.Second,
		},
		RecoBeat: RecoBeatConfig{
			BaseURL:        "https://api.reccobeats.com/v1",
			RequestTimeout: 20 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "none",
			Temperature: 0.2,
			CallTimeout: 60 * time.Second,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Pipeline: PipelineConfig{
			MaxIterations:      2,
			MaxStalled:         1,
			ConvergenceEpsilon: 0.03,
			CohesionThreshold:  0.65,

			TargetCount:      20,
			MinCount:         16,
			MaxCount:         30,
			QualityThreshold: 0.75,

			AnchorTrackLimit:          5,
			MentionedArtistTrackLimit: 5,
			ArtistTrackLimit:          3,
			MaxSeedTracks:             5,
			MaxNegativeSeeds:          5,

			ArtistRecommendationLimit: 10,
			ArtistDiscoveryShare:      0.98,
			MaxTracksPerArtist:        2,
			MaxRetries:                3,
			RetryBaseDelay:            500 * time.Millisecond,
			RetryMaxDelay:             8 * time.Second,

			EnergyBatchSize:   8,
			OrderBatchTimeout: 45 * time.Second,

			TopTracksInterval: 1500 * time.Millisecond,
			DailyQuota:        25,
			CacheTTL:          30 * time.Minute,
			SnapshotPath:      "./moodlist_snapshots.db",
			ShutdownBudget:    300 * time.Second,
		},
	}
}

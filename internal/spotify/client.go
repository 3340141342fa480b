// Package spotify implements the music catalog port against the Spotify Web
// API using the client credentials flow.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"moodlist/internal/core"
)

const (
	// audioFeatureBatchSize is the API's maximum IDs per features call.
	audioFeatureBatchSize = 100
	releaseDateYearLength = 4
	searchCacheTTL        = 30 * time.Minute
)

// CallMetrics counts catalog API calls by operation and outcome.
type CallMetrics interface {
	RecordCatalogCall(operation, status string)
}

type Client struct {
	config  *core.SpotifyConfig
	logger  *zap.Logger
	client  *spotify.Client
	limiter *rate.Limiter
	cache   core.Cache
	metrics CallMetrics
}

// NewClient authenticates with the client credentials flow. The returned
// client renews its token transparently and is safe for concurrent use.
func NewClient(ctx context.Context, config *core.SpotifyConfig, cache core.Cache, metrics CallMetrics, logger *zap.Logger) (*Client, error) {
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("spotify client ID and secret are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	token, err := creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("spotify token request failed: %w", err)
	}

	httpClient := spotifyauth.New().Client(ctx, token)
	httpClient.Timeout = config.RequestTimeout

	perSecond := rate.Limit(float64(config.RequestsPerMinute) / 60.0)

	return &Client{
		config:  config,
		logger:  logger,
		client:  spotify.New(httpClient),
		limiter: rate.NewLimiter(perSecond, config.Burst),
		cache:   cache,
		metrics: metrics,
	}, nil
}

// record counts the call under its operation label. Cache hits never reach
// here; only real API round trips are counted.
func (c *Client) record(operation string, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = classify(err).String()
	}
	c.metrics.RecordCatalogCall(operation, status)
}

func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]core.CatalogTrack, error) {
	cacheKey := fmt.Sprintf("spotify:search:track:%s:%d", query, limit)
	if c.cache != nil {
		if cached, ok := c.cache.Get(cacheKey); ok {
			if tracks, ok := cached.([]core.CatalogTrack); ok {
				return tracks, nil
			}
		}
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	results, err := c.client.Search(ctx, query, spotify.SearchTypeTrack,
		spotify.Limit(limit), spotify.Market(c.config.Market))
	c.record("search_tracks", err)
	if err != nil {
		return nil, c.wrap("track search", err)
	}

	var tracks []core.CatalogTrack
	if results.Tracks != nil {
		for i := range results.Tracks.Tracks {
			tracks = append(tracks, convertTrack(&results.Tracks.Tracks[i]))
		}
	}

	if c.cache != nil {
		c.cache.Set(cacheKey, tracks, searchCacheTTL)
	}

	c.logger.Debug("track search",
		zap.String("query", query),
		zap.Int("hits", len(tracks)))
	return tracks, nil
}

func (c *Client) SearchArtist(ctx context.Context, name string, limit int) ([]core.CatalogArtist, error) {
	cacheKey := fmt.Sprintf("spotify:search:artist:%s:%d", name, limit)
	if c.cache != nil {
		if cached, ok := c.cache.Get(cacheKey); ok {
			if artists, ok := cached.([]core.CatalogArtist); ok {
				return artists, nil
			}
		}
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	results, err := c.client.Search(ctx, name, spotify.SearchTypeArtist, spotify.Limit(limit))
	c.record("search_artist", err)
	if err != nil {
		return nil, c.wrap("artist search", err)
	}

	var artists []core.CatalogArtist
	if results.Artists != nil {
		for i := range results.Artists.Artists {
			a := &results.Artists.Artists[i]
			artists = append(artists, core.CatalogArtist{
				ID:         string(a.ID),
				Name:       a.Name,
				Genres:     a.Genres,
				Popularity: int(a.Popularity),
			})
		}
	}

	if c.cache != nil {
		c.cache.Set(cacheKey, artists, searchCacheTTL)
	}
	return artists, nil
}

func (c *Client) GetTrack(ctx context.Context, trackID string) (*core.CatalogTrack, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	track, err := c.client.GetTrack(ctx, spotify.ID(trackID))
	c.record("get_track", err)
	if err != nil {
		return nil, c.wrap("get track", err)
	}
	out := convertTrack(track)
	return &out, nil
}

func (c *Client) GetArtistTopTracks(ctx context.Context, artistID, country string) ([]core.CatalogTrack, error) {
	if country == "" {
		country = c.config.Market
	}

	cacheKey := fmt.Sprintf("spotify:toptracks:%s:%s", artistID, country)
	if c.cache != nil {
		if cached, ok := c.cache.Get(cacheKey); ok {
			if tracks, ok := cached.([]core.CatalogTrack); ok {
				return tracks, nil
			}
		}
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	top, err := c.client.GetArtistsTopTracks(ctx, spotify.ID(artistID), country)
	c.record("top_tracks", err)
	if err != nil {
		return nil, c.wrap("artist top tracks", err)
	}

	tracks := make([]core.CatalogTrack, 0, len(top))
	for i := range top {
		tracks = append(tracks, convertTrack(&top[i]))
	}

	if c.cache != nil {
		c.cache.Set(cacheKey, tracks, searchCacheTTL)
	}
	return tracks, nil
}

// GetAudioFeatures fetches features in batches of up to 100 IDs. A batch
// failure skips that batch rather than failing the whole call; tracks the
// API has no analysis for are simply absent from the result.
func (c *Client) GetAudioFeatures(ctx context.Context, trackIDs []string) (map[string]core.AudioFeatures, error) {
	out := make(map[string]core.AudioFeatures, len(trackIDs))

	for start := 0; start < len(trackIDs); start += audioFeatureBatchSize {
		end := start + audioFeatureBatchSize
		if end > len(trackIDs) {
			end = len(trackIDs)
		}

		ids := make([]spotify.ID, 0, end-start)
		for _, id := range trackIDs[start:end] {
			ids = append(ids, spotify.ID(id))
		}

		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		features, err := c.client.GetAudioFeatures(ctx, ids...)
		c.record("audio_features", err)
		if err != nil {
			if kind := classify(err); kind == core.KindCatalogAuth {
				return nil, c.wrap("audio features", err)
			}
			c.logger.Warn("audio feature batch failed",
				zap.Int("batch_start", start),
				zap.Error(err))
			continue
		}

		for _, f := range features {
			if f == nil {
				continue
			}
			out[string(f.ID)] = convertFeatures(f)
		}
	}
	return out, nil
}

// wait blocks on the rate limiter.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return core.WrapError(core.KindCancelled, "catalog", err)
	}
	return nil
}

func (c *Client) wrap(op string, err error) error {
	return core.WrapError(classify(err), "catalog", fmt.Errorf("%s failed: %w", op, err))
}

// classify maps API failures onto the pipeline's error kinds.
func classify(err error) core.Kind {
	var serr spotify.Error
	if errors.As(err, &serr) {
		switch {
		case serr.Status == http.StatusUnauthorized || serr.Status == http.StatusForbidden:
			return core.KindCatalogAuth
		case serr.Status == http.StatusTooManyRequests || serr.Status >= 500:
			return core.KindRetryable
		default:
			return core.KindFatal
		}
	}
	// Transport-level failures are worth a retry.
	return core.KindRetryable
}

func convertTrack(track *spotify.FullTrack) core.CatalogTrack {
	var artists []string
	var artistIDs []string
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
		artistIDs = append(artistIDs, string(artist.ID))
	}

	var year int
	if len(track.Album.ReleaseDate) >= releaseDateYearLength {
		if y, err := strconv.Atoi(track.Album.ReleaseDate[:releaseDateYearLength]); err == nil {
			year = y
		}
	}

	return core.CatalogTrack{
		ID:          string(track.ID),
		Name:        track.Name,
		Artists:     artists,
		ArtistIDs:   artistIDs,
		URI:         string(track.URI),
		Popularity:  int(track.Popularity),
		ReleaseYear: year,
	}
}

func convertFeatures(f *spotify.AudioFeatures) core.AudioFeatures {
	fl := func(v float32) *float64 {
		out := float64(v)
		return &out
	}
	key := int(f.Key)
	mode := int(f.Mode)
	return core.AudioFeatures{
		Acousticness:     fl(f.Acousticness),
		Danceability:     fl(f.Danceability),
		Energy:           fl(f.Energy),
		Instrumentalness: fl(f.Instrumentalness),
		Key:              &key,
		Liveness:         fl(f.Liveness),
		Loudness:         fl(f.Loudness),
		Mode:             &mode,
		Speechiness:      fl(f.Speechiness),
		Tempo:            fl(f.Tempo),
		Valence:          fl(f.Valence),
	}
}

// Package reccobeat implements the seeded-similarity port against the
// RecoBeats recommendation API.
package reccobeat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"moodlist/internal/core"
)

const maxSeedsPerRequest = 5

type Client struct {
	config     *core.RecoBeatConfig
	logger     *zap.Logger
	httpClient *http.Client
}

type recommendationResponse struct {
	Content []struct {
		ID      string `json:"id"`
		Href    string `json:"href"`
		Title   string `json:"trackTitle"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Popularity  int    `json:"popularity"`
		ReleaseDate string `json:"releaseDate"`
	} `json:"content"`
}

func NewClient(config *core.RecoBeatConfig, logger *zap.Logger) *Client {
	return &Client{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// Recommend asks for tracks similar to the seeds while steering away from
// the negative seeds. At most five seeds are supported per request.
func (c *Client) Recommend(ctx context.Context, seeds, negativeSeeds []string, limit int) ([]core.CatalogTrack, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("at least one seed is required")
	}
	if len(seeds) > maxSeedsPerRequest {
		seeds = seeds[:maxSeedsPerRequest]
	}

	query := url.Values{}
	query.Set("seeds", strings.Join(seeds, ","))
	query.Set("size", strconv.Itoa(limit))
	if len(negativeSeeds) > 0 {
		query.Set("negativeSeeds", strings.Join(negativeSeeds, ","))
	}

	endpoint := c.config.BaseURL + "/track/recommendation?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.WrapError(core.KindRetryable, "similarity",
			fmt.Errorf("RecoBeats API call failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, core.WrapError(core.KindRetryable, "similarity",
			fmt.Errorf("RecoBeats API returned status %d", resp.StatusCode))
	default:
		return nil, core.WrapError(core.KindFatal, "similarity",
			fmt.Errorf("RecoBeats API returned status %d", resp.StatusCode))
	}

	var parsed recommendationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, core.WrapError(core.KindSchemaViolation, "similarity",
			fmt.Errorf("failed to decode RecoBeats response: %w", err))
	}

	tracks := make([]core.CatalogTrack, 0, len(parsed.Content))
	for _, item := range parsed.Content {
		var artists []string
		for _, a := range item.Artists {
			artists = append(artists, a.Name)
		}
		tracks = append(tracks, core.CatalogTrack{
			ID:          spotifyIDFromHref(item.Href, item.ID),
			Name:        item.Title,
			Artists:     artists,
			Popularity:  item.Popularity,
			ReleaseYear: releaseYear(item.ReleaseDate),
		})
	}

	c.logger.Debug("similarity recommendations",
		zap.Int("seeds", len(seeds)),
		zap.Int("negative_seeds", len(negativeSeeds)),
		zap.Int("hits", len(tracks)))
	return tracks, nil
}

// spotifyIDFromHref extracts the catalog track ID from the href the API
// returns; it falls back to the API's own ID when the href is not a track
// link.
func spotifyIDFromHref(href, fallback string) string {
	const marker = "/track/"
	if idx := strings.LastIndex(href, marker); idx >= 0 {
		id := href[idx+len(marker):]
		if cut := strings.IndexAny(id, "?#"); cut >= 0 {
			id = id[:cut]
		}
		if id != "" {
			return id
		}
	}
	return fallback
}

func releaseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moodlist/pkg/cohesion"
)

// Source priors for confidence scoring. Anchors carry the most trust, the
// similarity engine the least.
const (
	priorAnchor    = 1.0
	priorArtist    = 0.85
	priorRecoBeat  = 0.7
	seedChunkSize  = 3
	historyPenalty = 0.15
)

// RecommendationGenerator fills the candidate pool from three sub-strategies
// running concurrently: seeded similarity, recommended-artist discovery and
// the anchors gathered earlier.
type RecommendationGenerator struct {
	catalog    CatalogClient
	similarity SimilarityClient
	gate       TopTracksGate
	history    HistoryStore
	pipeline   *PipelineConfig
	market     string
	logger     *zap.Logger
}

func NewRecommendationGenerator(catalog CatalogClient, similarity SimilarityClient, gate TopTracksGate, history HistoryStore, pipeline *PipelineConfig, market string, logger *zap.Logger) *RecommendationGenerator {
	return &RecommendationGenerator{
		catalog:    catalog,
		similarity: similarity,
		gate:       gate,
		history:    history,
		pipeline:   pipeline,
		market:     market,
		logger:     logger,
	}
}

// Generate tops up the state's recommendation pool to roughly twice the
// target count so evaluation and filtering have slack to cut from. The
// anchors already in the pool are kept untouched.
func (g *RecommendationGenerator) Generate(ctx context.Context, state *WorkflowState, matcher *cohesion.Matcher) error {
	want := state.Target.TargetCount*2 - len(state.Recommendations)
	if want <= 0 {
		return nil
	}

	artistWant := int(float64(want) * g.pipeline.ArtistDiscoveryShare)
	similarWant := want - artistWant
	if similarWant < 1 {
		similarWant = 1
	}

	var (
		mu          sync.Mutex
		fromArtists []TrackRecommendation
		fromSimilar []TrackRecommendation
	)

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		recs, err := g.discoverByArtists(gctx, state, artistWant)
		if err != nil {
			return err
		}
		mu.Lock()
		fromArtists = recs
		mu.Unlock()
		return nil
	})
	eg.Go(func() error {
		recs, err := g.discoverBySimilarity(gctx, state, similarWant)
		if err != nil {
			return err
		}
		mu.Lock()
		fromSimilar = recs
		mu.Unlock()
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	candidates := g.merge(state, fromArtists, fromSimilar)
	candidates = g.applyFilters(state, candidates)

	g.enrich(ctx, candidates)
	g.scoreConfidence(state, candidates, matcher)

	for i := range candidates {
		state.Recommendations = append(state.Recommendations, candidates[i])
	}

	if len(state.Recommendations) < state.Target.MinCount {
		state.SetMeta("insufficient_supply", true)
		g.logger.Warn("candidate pool below minimum",
			zap.String("session", state.SessionID),
			zap.Int("pool", len(state.Recommendations)),
			zap.Int("min", state.Target.MinCount))
	}

	g.logger.Info("generation complete",
		zap.String("session", state.SessionID),
		zap.Int("artist_discovery", len(fromArtists)),
		zap.Int("similarity", len(fromSimilar)),
		zap.Int("pool", len(state.Recommendations)))
	return nil
}

// discoverBySimilarity queries the similarity engine in seed chunks of three,
// passing the workflow's negative seeds with every call.
func (g *RecommendationGenerator) discoverBySimilarity(ctx context.Context, state *WorkflowState, want int) ([]TrackRecommendation, error) {
	seeds := state.SeedTracks
	if len(seeds) == 0 {
		return nil, nil
	}

	chunks := chunkStrings(seeds, seedChunkSize)
	perChunk := want/len(chunks) + 1

	var out []TrackRecommendation
	for _, chunk := range chunks {
		var tracks []CatalogTrack
		err := retry(ctx, g.pipeline.MaxRetries, g.pipeline.RetryBaseDelay, g.pipeline.RetryMaxDelay, func() error {
			var err error
			tracks, err = g.similarity.Recommend(ctx, chunk, state.NegativeSeeds, perChunk)
			return err
		})
		if err != nil {
			if KindOf(err) == KindCancelled {
				return nil, err
			}
			g.logger.Warn("similarity request failed",
				zap.Strings("seeds", chunk),
				zap.Error(err))
			continue
		}
		for _, t := range tracks {
			out = append(out, TrackRecommendation{
				TrackID:     t.ID,
				TrackName:   t.Name,
				Artists:     t.Artists,
				SpotifyURI:  t.URI,
				Reasoning:   fmt.Sprintf("similar to seeds %s", strings.Join(chunk, ", ")),
				Source:      SourceRecoBeat,
				ReleaseYear: t.ReleaseYear,
			})
		}
	}
	return out, nil
}

// discoverByArtists resolves the mood analysis' recommended artists and
// collects a few top tracks from each, serialized through the gate.
func (g *RecommendationGenerator) discoverByArtists(ctx context.Context, state *WorkflowState, want int) ([]TrackRecommendation, error) {
	artists := state.MoodAnalysis.ArtistRecommendations
	if len(artists) > g.pipeline.ArtistRecommendationLimit {
		artists = artists[:g.pipeline.ArtistRecommendationLimit]
	}

	var out []TrackRecommendation
	for _, name := range artists {
		if len(out) >= want {
			break
		}
		var hits []CatalogArtist
		err := retry(ctx, g.pipeline.MaxRetries, g.pipeline.RetryBaseDelay, g.pipeline.RetryMaxDelay, func() error {
			var err error
			hits, err = g.catalog.SearchArtist(ctx, name, 1)
			return err
		})
		if err != nil || len(hits) == 0 {
			g.logger.Warn("recommended artist not found", zap.String("artist", name), zap.Error(err))
			continue
		}
		artist := hits[0]

		if err := g.gate.Wait(ctx); err != nil {
			return out, WrapError(KindCancelled, "artist_discovery", err)
		}
		var tracks []CatalogTrack
		err = retry(ctx, g.pipeline.MaxRetries, g.pipeline.RetryBaseDelay, g.pipeline.RetryMaxDelay, func() error {
			var err error
			tracks, err = g.catalog.GetArtistTopTracks(ctx, artist.ID, g.market)
			return err
		})
		if err != nil {
			g.logger.Warn("top tracks lookup failed", zap.String("artist", name), zap.Error(err))
			continue
		}

		limit := g.pipeline.ArtistTrackLimit
		if limit > len(tracks) {
			limit = len(tracks)
		}
		for _, t := range tracks[:limit] {
			out = append(out, TrackRecommendation{
				TrackID:       t.ID,
				TrackName:     t.Name,
				Artists:       t.Artists,
				SpotifyURI:    t.URI,
				Reasoning:     "top track of recommended artist " + artist.Name,
				Source:        SourceArtistDiscovery,
				ReleaseYear:   t.ReleaseYear,
				Genres:        artist.Genres,
				ArtistCountry: artist.Country,
			})
		}
	}
	return out, nil
}

// merge combines new candidates in deterministic order, anchors first, then
// artist discovery, then similarity hits, deduplicating against the pool by
// track ID, URI and a per-artist cap. Protected tracks never count against
// the cap.
func (g *RecommendationGenerator) merge(state *WorkflowState, fromArtists, fromSimilar []TrackRecommendation) []TrackRecommendation {
	seenID := map[string]bool{}
	seenURI := map[string]bool{}
	perArtist := map[string]int{}

	note := func(r *TrackRecommendation) {
		seenID[r.TrackID] = true
		if r.SpotifyURI != "" {
			seenURI[r.SpotifyURI] = true
		}
		if r.Removable() && len(r.Artists) > 0 {
			perArtist[artistKey(r.Artists[0])]++
		}
	}
	for i := range state.Recommendations {
		note(&state.Recommendations[i])
	}

	admit := func(r *TrackRecommendation) bool {
		if r.TrackID == "" || seenID[r.TrackID] {
			return false
		}
		if r.SpotifyURI != "" && seenURI[r.SpotifyURI] {
			return false
		}
		if r.Removable() && len(r.Artists) > 0 &&
			perArtist[artistKey(r.Artists[0])] >= g.pipeline.MaxTracksPerArtist {
			return false
		}
		note(r)
		return true
	}

	var out []TrackRecommendation
	for i := range fromArtists {
		if admit(&fromArtists[i]) {
			out = append(out, fromArtists[i])
		}
	}
	for i := range fromSimilar {
		if admit(&fromSimilar[i]) {
			out = append(out, fromSimilar[i])
		}
	}
	return out
}

// applyFilters enforces the genre gate, regional exclusions and the temporal
// window. Protected tracks pass every filter.
func (g *RecommendationGenerator) applyFilters(state *WorkflowState, candidates []TrackRecommendation) []TrackRecommendation {
	intent := state.Intent
	mood := state.MoodAnalysis

	out := candidates[:0]
	for i := range candidates {
		r := &candidates[i]
		if !r.Removable() {
			out = append(out, *r)
			continue
		}

		if intent.GenreStrictness >= strictnessGenre && intent.PrimaryGenre != "" &&
			len(r.Genres) > 0 && genreDisjoint(intent.PrimaryGenre, r.Genres) {
			g.logger.Debug("genre gate rejected track",
				zap.String("track", r.TrackName),
				zap.Strings("genres", r.Genres),
				zap.String("want", intent.PrimaryGenre))
			continue
		}

		if r.ArtistCountry != "" && containsFold(mood.ExcludedRegions, r.ArtistCountry) {
			continue
		}
		if r.ArtistCountry != "" && containsFold(intent.ExcludeRegions, r.ArtistCountry) {
			continue
		}

		if tc := mood.TemporalContext; tc != nil && tc.IsTemporal && r.ReleaseYear > 0 {
			lo, hi := tc.YearRange[0]-1, tc.YearRange[1]+1
			if r.ReleaseYear < lo || r.ReleaseYear > hi {
				continue
			}
		}

		out = append(out, *r)
	}
	return out
}

// enrich batches audio features for candidates that lack them.
func (g *RecommendationGenerator) enrich(ctx context.Context, candidates []TrackRecommendation) {
	var missing []string
	for i := range candidates {
		if candidates[i].AudioFeatures.Empty() {
			missing = append(missing, candidates[i].TrackID)
		}
	}
	if len(missing) == 0 {
		return
	}
	features, err := g.catalog.GetAudioFeatures(ctx, missing)
	if err != nil {
		g.logger.Warn("audio feature enrichment failed", zap.Error(err))
		return
	}
	for i := range candidates {
		if f, ok := features[candidates[i].TrackID]; ok && candidates[i].AudioFeatures.Empty() {
			candidates[i].AudioFeatures = f
		}
	}
}

// scoreConfidence assigns confidence as weighted cohesion blended with the
// source prior. Previously recommended tracks take a small penalty. Sorting
// keeps the merge order stable within equal scores.
func (g *RecommendationGenerator) scoreConfidence(state *WorkflowState, candidates []TrackRecommendation, matcher *cohesion.Matcher) {
	mood := state.MoodAnalysis
	for i := range candidates {
		r := &candidates[i]
		if r.Protected || r.UserMentioned {
			r.ConfidenceScore = 1.0
			continue
		}
		score := matcher.Score(r.AudioFeatures.Map(), mood.TargetFeatures, mood.FeatureWeights, cohesion.ModeBase)
		r.ConfidenceScore = score*0.7 + 0.3*sourcePrior(r.Source)
		if g.history != nil && state.UserID != "" && g.history.Seen(state.UserID, r.TrackID) {
			r.ConfidenceScore -= historyPenalty
			if r.ConfidenceScore < 0 {
				r.ConfidenceScore = 0
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Source != candidates[j].Source {
			return sourceRank(candidates[i].Source) < sourceRank(candidates[j].Source)
		}
		if candidates[i].Source == SourceArtistDiscovery {
			return candidates[i].ConfidenceScore > candidates[j].ConfidenceScore
		}
		return false
	})
}

func sourcePrior(s RecommendationSource) float64 {
	switch s {
	case SourceAnchorTrack:
		return priorAnchor
	case SourceArtistDiscovery:
		return priorArtist
	default:
		return priorRecoBeat
	}
}

func sourceRank(s RecommendationSource) int {
	switch s {
	case SourceAnchorTrack:
		return 0
	case SourceArtistDiscovery:
		return 1
	default:
		return 2
	}
}

// genreDisjoint reports whether none of the track's genres share a family
// with the requested genre. Families are matched by substring so "melodic
// techno" passes a "techno" gate.
func genreDisjoint(want string, genres []string) bool {
	want = strings.ToLower(want)
	for _, genre := range genres {
		genre = strings.ToLower(genre)
		if strings.Contains(genre, want) || strings.Contains(want, genre) {
			return false
		}
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func artistKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func chunkStrings(in []string, size int) [][]string {
	var out [][]string
	for len(in) > size {
		out = append(out, in[:size])
		in = in[size:]
	}
	if len(in) > 0 {
		out = append(out, in)
	}
	return out
}

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"moodlist/pkg/cohesion"
	"moodlist/pkg/fuzzy"
	"moodlist/pkg/text"
)

// SeedGatherer resolves the prompt's anchors against the catalog and selects
// the seed tracks that drive similarity generation. User-mentioned tracks are
// marked protected here and only here.
type SeedGatherer struct {
	catalog  CatalogClient
	gate     TopTracksGate
	llm      LLMProvider
	llmCfg   *LLMConfig
	pipeline *PipelineConfig
	market   string
	norm     *fuzzy.Normalizer
	logger   *zap.Logger
}

func NewSeedGatherer(catalog CatalogClient, gate TopTracksGate, llm LLMProvider, llmCfg *LLMConfig, pipeline *PipelineConfig, market string, logger *zap.Logger) *SeedGatherer {
	return &SeedGatherer{
		catalog:  catalog,
		gate:     gate,
		llm:      llm,
		llmCfg:   llmCfg,
		pipeline: pipeline,
		market:   market,
		norm:     fuzzy.NewNormalizer(),
		logger:   logger,
	}
}

type anchorCandidate struct {
	rec        TrackRecommendation
	popularity int
	distance   float64
}

// Gather populates the state with anchor recommendations, seed track IDs and
// negative seeds. It fails only when the intent requires anchors and none
// could be resolved.
func (g *SeedGatherer) Gather(ctx context.Context, state *WorkflowState) error {
	intent := state.Intent
	mood := state.MoodAnalysis

	var candidates []anchorCandidate

	mentioned, err := g.resolveMentions(ctx, intent.UserMentionedTracks)
	if err != nil {
		return err
	}
	candidates = append(candidates, mentioned...)

	artistAnchors := g.gatherArtistAnchors(ctx, intent.UserMentionedArtists)
	candidates = append(candidates, artistAnchors...)

	genreAnchors := g.gatherGenreAnchors(ctx, mood)
	candidates = append(candidates, genreAnchors...)

	candidates = dedupCandidates(candidates)

	if len(candidates) == 0 {
		if anchorsRequired(intent) {
			return WrapError(KindFatal, "seed_gathering",
				fmt.Errorf("intent %s requires anchors, none resolved", intent.IntentType))
		}
		g.logger.Info("no anchors resolved, similarity generation will run unseeded",
			zap.String("session", state.SessionID))
	}

	g.enrichFeatures(ctx, candidates)
	g.rankByCohesion(candidates, mood)

	seeds := g.selectSeeds(ctx, candidates, state)
	state.SeedTracks = seeds

	for i := range candidates {
		state.Recommendations = append(state.Recommendations, candidates[i].rec)
	}

	g.pickNegativeSeeds(candidates, state)

	g.logger.Info("seed gathering complete",
		zap.String("session", state.SessionID),
		zap.Int("anchors", len(candidates)),
		zap.Int("seeds", len(seeds)),
		zap.Int("negative_seeds", len(state.NegativeSeeds)))
	return nil
}

// resolveMentions looks up each user-mentioned track with a field-scoped
// search and verifies the hit with fuzzy title matching. A mention that
// cannot be resolved is logged and skipped, never fails the workflow.
func (g *SeedGatherer) resolveMentions(ctx context.Context, mentions []TrackMention) ([]anchorCandidate, error) {
	var out []anchorCandidate
	for _, m := range mentions {
		query := fmt.Sprintf("track:%s artist:%s", m.TrackName, m.ArtistName)
		hits, err := g.catalog.SearchTracks(ctx, query, 5)
		if err != nil {
			if KindOf(err) == KindCatalogAuth {
				return nil, err
			}
			g.logger.Warn("mention lookup failed",
				zap.String("track", m.TrackName),
				zap.String("artist", m.ArtistName),
				zap.Error(err))
			continue
		}

		match := g.bestMention(m, hits)
		if match == nil {
			g.logger.Warn("mention not found in catalog",
				zap.String("track", m.TrackName),
				zap.String("artist", m.ArtistName))
			continue
		}

		out = append(out, anchorCandidate{
			rec: TrackRecommendation{
				TrackID:       match.ID,
				TrackName:     match.Name,
				Artists:       match.Artists,
				SpotifyURI:    match.URI,
				Reasoning:     "explicitly requested in the prompt",
				Source:        SourceAnchorTrack,
				UserMentioned: true,
				Protected:     true,
				AnchorType:    AnchorUser,
				ReleaseYear:   match.ReleaseYear,
			},
			popularity: match.Popularity,
		})
	}
	return out, nil
}

func (g *SeedGatherer) bestMention(m TrackMention, hits []CatalogTrack) *CatalogTrack {
	for i := range hits {
		if !g.norm.SameTrack(hits[i].Name, m.TrackName) {
			continue
		}
		wantArtist := g.norm.NormalizeArtist(m.ArtistName)
		for _, artist := range hits[i].Artists {
			if g.norm.NormalizeArtist(artist) == wantArtist {
				return &hits[i]
			}
		}
	}
	if len(hits) > 0 && g.norm.SameTrack(hits[0].Name, m.TrackName) {
		return &hits[0]
	}
	return nil
}

// gatherArtistAnchors pulls top tracks for each user-mentioned artist. Top
// track requests are serialized through the process-wide gate.
func (g *SeedGatherer) gatherArtistAnchors(ctx context.Context, artists []string) []anchorCandidate {
	var out []anchorCandidate
	for _, name := range artists {
		hits, err := g.catalog.SearchArtist(ctx, name, 1)
		if err != nil || len(hits) == 0 {
			g.logger.Warn("mentioned artist not found", zap.String("artist", name), zap.Error(err))
			continue
		}
		artist := hits[0]

		if err := g.gate.Wait(ctx); err != nil {
			g.logger.Warn("top tracks gate interrupted", zap.Error(err))
			return out
		}
		tracks, err := g.catalog.GetArtistTopTracks(ctx, artist.ID, g.market)
		if err != nil {
			g.logger.Warn("top tracks lookup failed", zap.String("artist", name), zap.Error(err))
			continue
		}

		limit := g.pipeline.MentionedArtistTrackLimit
		if limit > len(tracks) {
			limit = len(tracks)
		}
		for _, t := range tracks[:limit] {
			out = append(out, anchorCandidate{
				rec: TrackRecommendation{
					TrackID:             t.ID,
					TrackName:           t.Name,
					Artists:             t.Artists,
					SpotifyURI:          t.URI,
					Reasoning:           "top track of mentioned artist " + artist.Name,
					Source:              SourceAnchorTrack,
					UserMentionedArtist: true,
					AnchorType:          AnchorArtist,
					ReleaseYear:         t.ReleaseYear,
					Genres:              artist.Genres,
					ArtistCountry:       artist.Country,
				},
				popularity: t.Popularity,
			})
		}
	}
	return out
}

// gatherGenreAnchors searches the catalog by genre keyword and keeps the five
// most popular hits overall.
func (g *SeedGatherer) gatherGenreAnchors(ctx context.Context, mood *MoodAnalysis) []anchorCandidate {
	genres := mood.GenreKeywords
	if len(genres) > 5 {
		genres = genres[:5]
	}

	var pool []anchorCandidate
	for _, genre := range genres {
		hits, err := g.catalog.SearchTracks(ctx, fmt.Sprintf("genre:%q", genre), 10)
		if err != nil {
			g.logger.Warn("genre search failed", zap.String("genre", genre), zap.Error(err))
			continue
		}
		for _, t := range hits {
			pool = append(pool, anchorCandidate{
				rec: TrackRecommendation{
					TrackID:     t.ID,
					TrackName:   t.Name,
					Artists:     t.Artists,
					SpotifyURI:  t.URI,
					Reasoning:   "popular in genre " + genre,
					Source:      SourceAnchorTrack,
					AnchorType:  AnchorGenre,
					ReleaseYear: t.ReleaseYear,
					Genres:      []string{genre},
				},
				popularity: t.Popularity,
			})
		}
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].popularity > pool[j].popularity
	})
	if len(pool) > g.pipeline.AnchorTrackLimit {
		pool = pool[:g.pipeline.AnchorTrackLimit]
	}
	return pool
}

// enrichFeatures attaches audio features in one batch call. Missing features
// for individual tracks are tolerated.
func (g *SeedGatherer) enrichFeatures(ctx context.Context, candidates []anchorCandidate) {
	if len(candidates) == 0 {
		return
	}
	ids := make([]string, 0, len(candidates))
	for i := range candidates {
		ids = append(ids, candidates[i].rec.TrackID)
	}
	features, err := g.catalog.GetAudioFeatures(ctx, ids)
	if err != nil {
		g.logger.Warn("audio feature enrichment failed", zap.Error(err))
		return
	}
	for i := range candidates {
		if f, ok := features[candidates[i].rec.TrackID]; ok {
			candidates[i].rec.AudioFeatures = f
		}
	}
}

// rankByCohesion orders candidates by feature distance to the mood targets.
// Candidates without features sort last but are never dropped here.
func (g *SeedGatherer) rankByCohesion(candidates []anchorCandidate, mood *MoodAnalysis) {
	for i := range candidates {
		fm := candidates[i].rec.AudioFeatures.Map()
		if len(fm) == 0 {
			candidates[i].distance = 2.0
			continue
		}
		candidates[i].distance = cohesion.Distance(fm, mood.TargetFeatures)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rec.UserMentioned != candidates[j].rec.UserMentioned {
			return candidates[i].rec.UserMentioned
		}
		return candidates[i].distance < candidates[j].distance
	})
}

// selectSeeds asks the LLM to pick the seed set; schema trouble falls back
// to the top-ranked candidates. User-mentioned tracks are always seeded
// first.
func (g *SeedGatherer) selectSeeds(ctx context.Context, candidates []anchorCandidate, state *WorkflowState) []string {
	max := g.pipeline.MaxSeedTracks

	var seeds []string
	seen := map[string]bool{}
	for i := range candidates {
		if candidates[i].rec.UserMentioned && len(seeds) < max {
			seeds = append(seeds, candidates[i].rec.TrackID)
			seen[candidates[i].rec.TrackID] = true
		}
	}

	if len(seeds) < max && g.llm != nil && len(candidates) > len(seeds) {
		picked, err := g.selectSeedsLLM(ctx, candidates, state, max-len(seeds))
		if err != nil {
			g.logger.Debug("LLM seed selection failed, using cohesion ranking",
				zap.String("kind", KindOf(err).String()),
				zap.Error(err))
		} else {
			for _, id := range picked {
				if !seen[id] && len(seeds) < max {
					seeds = append(seeds, id)
					seen[id] = true
				}
			}
		}
	}

	for i := range candidates {
		if len(seeds) >= max {
			break
		}
		id := candidates[i].rec.TrackID
		if !seen[id] {
			seeds = append(seeds, id)
			seen[id] = true
		}
	}
	return seeds
}

func (g *SeedGatherer) selectSeedsLLM(ctx context.Context, candidates []anchorCandidate, state *WorkflowState, want int) ([]string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Mood: %s\n", state.MoodAnalysis.MoodInterpretation)
	fmt.Fprintf(&b, "Pick the %d track IDs that best represent this mood as similarity seeds.\n\nCandidates:\n", want)
	for i := range candidates {
		c := &candidates[i]
		fmt.Fprintf(&b, "- id=%s %q by %s (distance %.2f)\n",
			c.rec.TrackID, c.rec.TrackName, strings.Join(c.rec.Artists, ", "), c.distance)
	}

	resp, err := g.llm.Complete(ctx, CompletionRequest{
		System:      seedSystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   300,
		Temperature: g.llmCfg.Temperature,
		Timeout:     g.llmCfg.CallTimeout,
	})
	if err != nil {
		return nil, err
	}

	raw, err := text.ExtractJSONArray(resp.Text)
	if err != nil {
		return nil, WrapError(KindSchemaViolation, "seed_selection", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, WrapError(KindSchemaViolation, "seed_selection", err)
	}

	known := map[string]bool{}
	for i := range candidates {
		known[candidates[i].rec.TrackID] = true
	}
	out := ids[:0]
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// pickNegativeSeeds records the least popular removable anchors so the
// similarity engine steers away from them.
func (g *SeedGatherer) pickNegativeSeeds(candidates []anchorCandidate, state *WorkflowState) {
	seeded := map[string]bool{}
	for _, id := range state.SeedTracks {
		seeded[id] = true
	}

	pool := make([]anchorCandidate, 0, len(candidates))
	for i := range candidates {
		if candidates[i].rec.Removable() && !seeded[candidates[i].rec.TrackID] {
			pool = append(pool, candidates[i])
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].popularity < pool[j].popularity
	})
	for i := range pool {
		if pool[i].distance > 1.0 {
			state.AddNegativeSeed(pool[i].rec.TrackID, g.pipeline.MaxNegativeSeeds)
		}
	}
}

func dedupCandidates(candidates []anchorCandidate) []anchorCandidate {
	seen := map[string]int{}
	out := candidates[:0]
	for i := range candidates {
		id := candidates[i].rec.TrackID
		if at, ok := seen[id]; ok {
			// A protected duplicate wins over an unprotected one.
			if candidates[i].rec.Protected && !out[at].rec.Protected {
				out[at] = candidates[i]
			}
			continue
		}
		seen[id] = len(out)
		out = append(out, candidates[i])
	}
	return out
}

func anchorsRequired(intent *IntentAnalysis) bool {
	switch intent.IntentType {
	case IntentArtistFocus:
		return len(intent.UserMentionedArtists) > 0 || len(intent.UserMentionedTracks) > 0
	case IntentSpecificTrackSimilar:
		return len(intent.UserMentionedTracks) > 0
	}
	return false
}

const seedSystemPrompt = `You are a music curator selecting similarity seeds. From the candidate list, pick the track IDs that together best represent the requested mood. Respond with a JSON array of track ID strings only, for example ["id1","id2"]. No commentary.`

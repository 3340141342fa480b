package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"moodlist/pkg/cohesion"
)

func seedTestState(intent *IntentAnalysis, mood *MoodAnalysis) *WorkflowState {
	state := NewWorkflowState("sess-seeds", "user-1", "test prompt")
	state.Intent = intent
	state.MoodAnalysis = mood
	state.Target = &PlaylistTarget{TargetCount: 20, MinCount: 16, MaxCount: 30, QualityThreshold: 0.75}
	return state
}

func TestGatherProtectsMentionedTracks(t *testing.T) {
	catalog := &mockCatalog{
		searchTracks: func(query string, _ int) ([]CatalogTrack, error) {
			if !strings.Contains(query, "track:") {
				return nil, nil
			}
			return []CatalogTrack{{
				ID:         "t1",
				Name:       "One More Time",
				Artists:    []string{"Daft Punk"},
				URI:        "spotify:track:t1",
				Popularity: 90,
			}}, nil
		},
	}
	g := NewSeedGatherer(catalog, &mockGate{}, nil, testLLMConfig(), testPipeline(), "US", zap.NewNop())

	state := seedTestState(
		&IntentAnalysis{
			IntentType: IntentSpecificTrackSimilar,
			UserMentionedTracks: []TrackMention{
				{TrackName: "One More Time", ArtistName: "Daft Punk", Priority: PriorityHigh},
			},
		},
		&MoodAnalysis{TargetFeatures: map[string]cohesion.Range{"energy": {Min: 0.6, Max: 1}}},
	)

	if err := g.Gather(context.Background(), state); err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(state.Recommendations) != 1 {
		t.Fatalf("pool = %d tracks, want 1", len(state.Recommendations))
	}
	r := state.Recommendations[0]
	if !r.Protected || !r.UserMentioned {
		t.Error("mentioned track must be protected and user-mentioned")
	}
	if r.AnchorType != AnchorUser {
		t.Errorf("AnchorType = %s, want user", r.AnchorType)
	}
	if len(state.SeedTracks) != 1 || state.SeedTracks[0] != "t1" {
		t.Errorf("SeedTracks = %v, want the mentioned track seeded first", state.SeedTracks)
	}
}

func TestGatherRequiredAnchorsMissing(t *testing.T) {
	catalog := &mockCatalog{} // nothing resolves
	g := NewSeedGatherer(catalog, &mockGate{}, nil, testLLMConfig(), testPipeline(), "US", zap.NewNop())

	state := seedTestState(
		&IntentAnalysis{
			IntentType: IntentSpecificTrackSimilar,
			UserMentionedTracks: []TrackMention{
				{TrackName: "Ghost Song", ArtistName: "Nobody", Priority: PriorityHigh},
			},
		},
		&MoodAnalysis{TargetFeatures: map[string]cohesion.Range{"energy": {Min: 0.6, Max: 1}}},
	)

	err := g.Gather(context.Background(), state)
	if err == nil {
		t.Fatal("Gather should fail when a similar-track intent resolves no anchors")
	}
	if KindOf(err) != KindFatal {
		t.Errorf("error kind = %s, want fatal", KindOf(err))
	}
}

func TestGatherUnseededMoodVariety(t *testing.T) {
	g := NewSeedGatherer(&mockCatalog{}, &mockGate{}, nil, testLLMConfig(), testPipeline(), "US", zap.NewNop())

	state := seedTestState(
		&IntentAnalysis{IntentType: IntentMoodVariety},
		&MoodAnalysis{TargetFeatures: map[string]cohesion.Range{"energy": {Min: 0.6, Max: 1}}},
	)

	if err := g.Gather(context.Background(), state); err != nil {
		t.Fatalf("mood variety without anchors must not fail: %v", err)
	}
	if len(state.SeedTracks) != 0 {
		t.Errorf("SeedTracks = %v, want none", state.SeedTracks)
	}
}

func TestGatherAuthErrorPropagates(t *testing.T) {
	catalog := &mockCatalog{
		searchTracks: func(string, int) ([]CatalogTrack, error) {
			return nil, WrapError(KindCatalogAuth, "catalog", errors.New("token expired"))
		},
	}
	g := NewSeedGatherer(catalog, &mockGate{}, nil, testLLMConfig(), testPipeline(), "US", zap.NewNop())

	state := seedTestState(
		&IntentAnalysis{
			IntentType:          IntentMoodVariety,
			UserMentionedTracks: []TrackMention{{TrackName: "A", ArtistName: "B", Priority: PriorityHigh}},
		},
		&MoodAnalysis{TargetFeatures: map[string]cohesion.Range{"energy": {Min: 0.6, Max: 1}}},
	)

	err := g.Gather(context.Background(), state)
	if KindOf(err) != KindCatalogAuth {
		t.Fatalf("error kind = %v, want catalog_auth to propagate", err)
	}
}

func TestGatherGenreAnchorsKeepMostPopular(t *testing.T) {
	catalog := &mockCatalog{
		searchTracks: func(query string, _ int) ([]CatalogTrack, error) {
			if !strings.Contains(query, "genre:") {
				return nil, nil
			}
			var out []CatalogTrack
			for i := 0; i < 10; i++ {
				out = append(out, CatalogTrack{
					ID:         fmt.Sprintf("g%d", i),
					Name:       fmt.Sprintf("Track %d", i),
					Artists:    []string{fmt.Sprintf("Artist %d", i)},
					URI:        fmt.Sprintf("spotify:track:g%d", i),
					Popularity: i * 10,
				})
			}
			return out, nil
		},
	}
	pipeline := testPipeline()
	g := NewSeedGatherer(catalog, &mockGate{}, nil, testLLMConfig(), pipeline, "US", zap.NewNop())

	state := seedTestState(
		&IntentAnalysis{IntentType: IntentGenreExploration, PrimaryGenre: "techno"},
		&MoodAnalysis{
			TargetFeatures: map[string]cohesion.Range{"energy": {Min: 0.6, Max: 1}},
			GenreKeywords:  []string{"techno"},
		},
	)

	if err := g.Gather(context.Background(), state); err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(state.Recommendations) != pipeline.AnchorTrackLimit {
		t.Fatalf("pool = %d, want anchor limit %d", len(state.Recommendations), pipeline.AnchorTrackLimit)
	}
	for _, r := range state.Recommendations {
		if r.TrackID == "g0" || r.TrackID == "g1" {
			t.Errorf("low-popularity track %s should not survive the anchor cut", r.TrackID)
		}
	}
}

func TestGatherNegativeSeedCapAndProtection(t *testing.T) {
	state := seedTestState(
		&IntentAnalysis{IntentType: IntentMoodVariety},
		&MoodAnalysis{TargetFeatures: map[string]cohesion.Range{"energy": {Min: 0.9, Max: 1}}},
	)
	state.Recommendations = []TrackRecommendation{{TrackID: "keep", Protected: true}}

	// Protected tracks never become negative seeds.
	state.AddNegativeSeed("keep", 5)
	if len(state.NegativeSeeds) != 0 {
		t.Fatal("protected track must not become a negative seed")
	}

	for i := 0; i < 10; i++ {
		state.AddNegativeSeed(fmt.Sprintf("bad%d", i), 5)
	}
	if len(state.NegativeSeeds) != 5 {
		t.Errorf("negative seeds = %d, want capped at 5", len(state.NegativeSeeds))
	}

	// Duplicates are ignored.
	before := len(state.NegativeSeeds)
	state.AddNegativeSeed("bad0", 10)
	state.AddNegativeSeed("bad0", 10)
	if len(state.NegativeSeeds) != before+0 {
		t.Error("duplicate negative seeds must be ignored")
	}
}

func TestSelectSeedsLLMFiltersUnknownIDs(t *testing.T) {
	llm := &mockLLM{queue: []string{`["t2", "bogus", "t3"]`}}
	g := NewSeedGatherer(&mockCatalog{}, &mockGate{}, llm, testLLMConfig(), testPipeline(), "US", zap.NewNop())

	state := seedTestState(
		&IntentAnalysis{IntentType: IntentMoodVariety},
		&MoodAnalysis{MoodInterpretation: "test", TargetFeatures: map[string]cohesion.Range{"energy": {Min: 0, Max: 1}}},
	)
	candidates := []anchorCandidate{
		{rec: TrackRecommendation{TrackID: "t1", TrackName: "A"}},
		{rec: TrackRecommendation{TrackID: "t2", TrackName: "B"}},
		{rec: TrackRecommendation{TrackID: "t3", TrackName: "C"}},
	}

	seeds := g.selectSeeds(context.Background(), candidates, state)
	for _, id := range seeds {
		if id == "bogus" {
			t.Fatal("seed selection must drop IDs outside the candidate set")
		}
	}
	if len(seeds) != 3 {
		t.Errorf("seeds = %v, want all three known candidates", seeds)
	}
}

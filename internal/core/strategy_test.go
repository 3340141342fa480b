package core

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"moodlist/pkg/cohesion"
)

func newTestStrategy(llm LLMProvider, generator *RecommendationGenerator) *ImprovementStrategy {
	return NewImprovementStrategy(llm, testLLMConfig(), testPipeline(), generator, zap.NewNop())
}

func TestChooseActionsRules(t *testing.T) {
	s := newTestStrategy(nil, nil)

	// generatorTestState targets 10 tracks with a minimum of 8.
	cases := []struct {
		name   string
		pool   int
		report *QualityReport
		want   []string
	}{
		{
			name:   "outliers filtered when the pool can spare them",
			pool:   10,
			report: &QualityReport{Cohesion: 0.8, Outliers: []string{"x"}},
			want:   []string{ActionFilterAndReplace},
		},
		{
			name:   "outliers kept when dropping would breach the minimum",
			pool:   8,
			report: &QualityReport{Cohesion: 0.8, Outliers: []string{"x"}},
			want:   []string{ActionGenerateMore},
		},
		{
			name:   "badly incohesive pool adjusts and reseeds",
			pool:   10,
			report: &QualityReport{Cohesion: 0.5},
			want:   []string{ActionAdjustFeatureWeight, ActionReseedFromClean},
		},
		{
			name:   "filtering suppresses the reseed",
			pool:   10,
			report: &QualityReport{Cohesion: 0.5, Outliers: []string{"x"}},
			want:   []string{ActionFilterAndReplace, ActionAdjustFeatureWeight},
		},
		{
			name:   "mildly incohesive pool adjusts weights",
			pool:   10,
			report: &QualityReport{Cohesion: 0.6},
			want:   []string{ActionAdjustFeatureWeight},
		},
		{
			name:   "nothing matches, default moves apply",
			pool:   10,
			report: &QualityReport{Cohesion: 0.8},
			want:   []string{ActionAdjustFeatureWeight, ActionGenerateMore},
		},
	}
	for _, c := range cases {
		state := generatorTestState()
		state.Recommendations = make([]TrackRecommendation, c.pool)

		got := s.chooseActionsRules(state, c.report)
		if len(got) != len(c.want) {
			t.Errorf("%s: actions = %v, want %v", c.name, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("%s: actions = %v, want %v", c.name, got, c.want)
			}
		}
	}
}

func TestChooseActionsRulesShortPool(t *testing.T) {
	s := newTestStrategy(nil, nil)
	state := generatorTestState()
	state.Recommendations = make([]TrackRecommendation, 3)

	got := s.chooseActionsRules(state, &QualityReport{Cohesion: 0.8})
	if len(got) != 1 || got[0] != ActionGenerateMore {
		t.Errorf("actions = %v, want [generate_more]", got)
	}
}

func TestChooseActionsLLMValidated(t *testing.T) {
	llm := &mockLLM{queue: []string{`["filter_and_replace", "dance_party", "generate_more"]`}}
	s := newTestStrategy(llm, nil)
	state := generatorTestState()

	got, err := s.chooseActionsLLM(context.Background(), state, &QualityReport{})
	if err != nil {
		t.Fatalf("chooseActionsLLM failed: %v", err)
	}
	if len(got) != 2 || got[0] != ActionFilterAndReplace || got[1] != ActionGenerateMore {
		t.Errorf("actions = %v, unknown actions must be dropped", got)
	}
}

func TestChooseActionsLLMEmptyIsViolation(t *testing.T) {
	llm := &mockLLM{queue: []string{`["do_the_thing"]`}}
	s := newTestStrategy(llm, nil)
	state := generatorTestState()

	_, err := s.chooseActionsLLM(context.Background(), state, &QualityReport{})
	if KindOf(err) != KindSchemaViolation {
		t.Fatalf("error = %v, want schema violation for no valid actions", err)
	}
}

func TestFilterAndReplaceKeepsProtected(t *testing.T) {
	generator := newTestGenerator(&mockCatalog{}, &mockSimilarity{}, nil)
	s := newTestStrategy(nil, generator)

	state := generatorTestState()
	state.SeedTracks = []string{"s1"}
	state.Recommendations = []TrackRecommendation{
		{TrackID: "keep", Protected: true, Source: SourceAnchorTrack},
		{TrackID: "drop", Source: SourceRecoBeat},
		{TrackID: "stay", Source: SourceRecoBeat},
	}
	report := &QualityReport{Outliers: []string{"drop", "keep"}}

	if err := s.filterAndReplace(context.Background(), state, report, cohesion.NewMatcher()); err != nil {
		t.Fatalf("filterAndReplace failed: %v", err)
	}

	ids := map[string]bool{}
	for _, r := range state.Recommendations {
		ids[r.TrackID] = true
	}
	if !ids["keep"] {
		t.Error("protected track must survive outlier filtering")
	}
	if ids["drop"] {
		t.Error("removable outlier must be dropped")
	}
	if !containsString(state.NegativeSeeds, "drop") {
		t.Errorf("NegativeSeeds = %v, dropped outlier should steer future generation", state.NegativeSeeds)
	}
	if containsString(state.NegativeSeeds, "keep") {
		t.Error("protected track must never become a negative seed")
	}
}

func TestReseedFromClean(t *testing.T) {
	generator := newTestGenerator(&mockCatalog{}, &mockSimilarity{}, nil)
	s := newTestStrategy(nil, generator)

	state := generatorTestState()
	state.SeedTracks = []string{"old-seed"}
	state.Recommendations = []TrackRecommendation{
		{TrackID: "clean1", Source: SourceArtistDiscovery},
		{TrackID: "clean2", Source: SourceArtistDiscovery},
		{TrackID: "dirty", Source: SourceRecoBeat},
	}
	report := &QualityReport{
		TrackCohesion: map[string]float64{"clean1": 0.9, "clean2": 0.8, "dirty": 0.2},
	}

	if err := s.reseedFromClean(context.Background(), state, report, cohesion.NewMatcher()); err != nil {
		t.Fatalf("reseedFromClean failed: %v", err)
	}

	if len(state.SeedTracks) != 2 || state.SeedTracks[0] != "clean1" || state.SeedTracks[1] != "clean2" {
		t.Errorf("SeedTracks = %v, want the cohesive tracks in score order", state.SeedTracks)
	}
	for _, r := range state.Recommendations {
		if r.TrackID == "dirty" {
			t.Error("low-cohesion similarity track must be dropped on reseed")
		}
	}
}

func TestAdjustWeightsCapped(t *testing.T) {
	s := newTestStrategy(nil, nil)
	matcher := cohesion.NewMatcher()

	s.adjustWeights(matcher)
	if matcher.Boost() != 1.0+weightBoostStep {
		t.Errorf("Boost = %v, want %v", matcher.Boost(), 1.0+weightBoostStep)
	}

	for i := 0; i < 50; i++ {
		s.adjustWeights(matcher)
	}
	if matcher.Boost() != weightBoostCap {
		t.Errorf("Boost = %v, want capped at %v", matcher.Boost(), weightBoostCap)
	}
}

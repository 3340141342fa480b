package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"moodlist/pkg/cohesion"
	"moodlist/pkg/text"
)

// Improvement actions, executed in the order chosen.
const (
	ActionFilterAndReplace    = "filter_and_replace"
	ActionReseedFromClean     = "reseed_from_clean"
	ActionAdjustFeatureWeight = "adjust_feature_weights"
	ActionGenerateMore        = "generate_more"
)

const (
	weightBoostStep = 0.3
	weightBoostCap  = 5.0

	// reseedCohesionFloor is the pool cohesion below which the seed set is
	// considered contaminated and rebuilt from the cleanest survivors.
	reseedCohesionFloor = 0.6
)

// ImprovementStrategy chooses and executes corrective actions between
// quality-loop iterations. The LLM proposes the action list; malformed
// output falls back to deterministic rules.
type ImprovementStrategy struct {
	llm       LLMProvider
	llmCfg    *LLMConfig
	pipeline  *PipelineConfig
	generator *RecommendationGenerator
	logger    *zap.Logger
}

func NewImprovementStrategy(llm LLMProvider, llmCfg *LLMConfig, pipeline *PipelineConfig, generator *RecommendationGenerator, logger *zap.Logger) *ImprovementStrategy {
	return &ImprovementStrategy{
		llm:       llm,
		llmCfg:    llmCfg,
		pipeline:  pipeline,
		generator: generator,
		logger:    logger,
	}
}

// Improve runs one optimization pass. Actions execute sequentially so each
// sees the previous action's effect on the pool.
func (s *ImprovementStrategy) Improve(ctx context.Context, state *WorkflowState, report *QualityReport, matcher *cohesion.Matcher) error {
	actions := s.chooseActions(ctx, state, report)
	if len(actions) == 0 {
		return nil
	}

	s.logger.Info("improvement pass",
		zap.String("session", state.SessionID),
		zap.Strings("actions", actions))

	for _, action := range actions {
		state.AppendMeta("improvement_actions", action)
		var err error
		switch action {
		case ActionFilterAndReplace:
			err = s.filterAndReplace(ctx, state, report, matcher)
		case ActionReseedFromClean:
			err = s.reseedFromClean(ctx, state, report, matcher)
		case ActionAdjustFeatureWeight:
			s.adjustWeights(matcher)
		case ActionGenerateMore:
			err = s.generator.Generate(ctx, state, matcher)
		default:
			s.logger.Warn("unknown improvement action skipped", zap.String("action", action))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *ImprovementStrategy) chooseActions(ctx context.Context, state *WorkflowState, report *QualityReport) []string {
	if s.llm != nil {
		actions, err := s.chooseActionsLLM(ctx, state, report)
		if err == nil {
			return actions
		}
		s.logger.Debug("LLM action selection failed, using rules",
			zap.String("kind", KindOf(err).String()),
			zap.Error(err))
	}
	return s.chooseActionsRules(state, report)
}

// chooseActionsRules is the deterministic policy: outliers are filtered when
// the pool can spare them, an incohesive pool gets a weight boost, a badly
// contaminated one is reseeded, and a short pool is topped up. When nothing
// matches, a weight boost plus a top-up is the default move.
func (s *ImprovementStrategy) chooseActionsRules(state *WorkflowState, report *QualityReport) []string {
	var actions []string
	if len(report.Outliers) > 0 && len(state.Recommendations) > state.Target.MinCount {
		actions = append(actions, ActionFilterAndReplace)
	}
	if report.Cohesion < s.pipeline.CohesionThreshold {
		actions = append(actions, ActionAdjustFeatureWeight)
	}
	if report.Cohesion < reseedCohesionFloor &&
		len(state.Recommendations) >= state.Target.MinCount &&
		!containsString(actions, ActionFilterAndReplace) {
		actions = append(actions, ActionReseedFromClean)
	}
	if len(state.Recommendations) < state.Target.TargetCount {
		actions = append(actions, ActionGenerateMore)
	}
	if len(actions) == 0 {
		actions = []string{ActionAdjustFeatureWeight, ActionGenerateMore}
	}
	return actions
}

func containsString(in []string, want string) bool {
	for _, s := range in {
		if s == want {
			return true
		}
	}
	return false
}

func (s *ImprovementStrategy) chooseActionsLLM(ctx context.Context, state *WorkflowState, report *QualityReport) ([]string, error) {
	prompt := fmt.Sprintf(
		"Quality report: overall %.2f, cohesion %.2f, coverage %.2f, confidence %.2f, diversity %.2f, outliers %d, pool %d of %d tracks.\nIssues: %s",
		report.Overall, report.Cohesion, report.Coverage, report.Confidence, report.Diversity,
		len(report.Outliers), len(state.Recommendations), state.Target.TargetCount,
		strings.Join(report.Issues, "; "))

	resp, err := s.llm.Complete(ctx, CompletionRequest{
		System:      strategySystemPrompt,
		Prompt:      prompt,
		MaxTokens:   200,
		Temperature: s.llmCfg.Temperature,
		Timeout:     s.llmCfg.CallTimeout,
	})
	if err != nil {
		return nil, err
	}

	raw, err := text.ExtractJSONArray(resp.Text)
	if err != nil {
		return nil, WrapError(KindSchemaViolation, "improvement_strategy", err)
	}
	var actions []string
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, WrapError(KindSchemaViolation, "improvement_strategy", err)
	}

	valid := actions[:0]
	for _, a := range actions {
		switch a {
		case ActionFilterAndReplace, ActionReseedFromClean, ActionAdjustFeatureWeight, ActionGenerateMore:
			valid = append(valid, a)
		}
	}
	if len(valid) == 0 {
		return nil, WrapError(KindSchemaViolation, "improvement_strategy",
			fmt.Errorf("no valid actions in %q", resp.Text))
	}
	return valid, nil
}

// filterAndReplace drops outlier tracks, records them as negative seeds and
// backfills the pool. Protected tracks are never outliers and never dropped.
func (s *ImprovementStrategy) filterAndReplace(ctx context.Context, state *WorkflowState, report *QualityReport, matcher *cohesion.Matcher) error {
	drop := map[string]bool{}
	for _, id := range report.Outliers {
		drop[id] = true
	}

	kept := state.Recommendations[:0]
	removed := 0
	for i := range state.Recommendations {
		r := &state.Recommendations[i]
		if drop[r.TrackID] && r.Removable() {
			state.AddNegativeSeed(r.TrackID, s.pipeline.MaxNegativeSeeds)
			removed++
			continue
		}
		kept = append(kept, *r)
	}
	state.Recommendations = kept

	s.logger.Debug("outliers filtered",
		zap.String("session", state.SessionID),
		zap.Int("removed", removed))

	if removed == 0 {
		return nil
	}
	return s.generator.Generate(ctx, state, matcher)
}

// reseedFromClean rebuilds the seed set from the most cohesive tracks still
// in the pool and regenerates the similarity portion.
func (s *ImprovementStrategy) reseedFromClean(ctx context.Context, state *WorkflowState, report *QualityReport, matcher *cohesion.Matcher) error {
	type scored struct {
		id    string
		score float64
	}
	pool := make([]scored, 0, len(state.Recommendations))
	for i := range state.Recommendations {
		r := &state.Recommendations[i]
		pool = append(pool, scored{id: r.TrackID, score: report.TrackCohesion[r.TrackID]})
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })

	seeds := make([]string, 0, s.pipeline.MaxSeedTracks)
	for _, p := range pool {
		if len(seeds) >= s.pipeline.MaxSeedTracks {
			break
		}
		if p.score >= s.pipeline.CohesionThreshold {
			seeds = append(seeds, p.id)
		}
	}
	if len(seeds) == 0 {
		s.logger.Debug("no clean tracks to reseed from", zap.String("session", state.SessionID))
		return nil
	}

	state.SeedTracks = seeds

	kept := state.Recommendations[:0]
	for i := range state.Recommendations {
		r := &state.Recommendations[i]
		if r.Source == SourceRecoBeat && r.Removable() &&
			report.TrackCohesion[r.TrackID] < s.pipeline.CohesionThreshold {
			continue
		}
		kept = append(kept, *r)
	}
	state.Recommendations = kept

	return s.generator.Generate(ctx, state, matcher)
}

// adjustWeights tightens cohesion scoring by boosting the penalty on
// violated features.
func (s *ImprovementStrategy) adjustWeights(matcher *cohesion.Matcher) {
	boost := matcher.Boost() + weightBoostStep
	if boost > weightBoostCap {
		boost = weightBoostCap
	}
	matcher.SetBoost(boost)
	s.logger.Debug("feature weight boost adjusted", zap.Float64("boost", boost))
}

const strategySystemPrompt = `You are a playlist quality strategist. Given a quality report, choose the corrective actions to run, in order. Allowed actions: "filter_and_replace" (drop misfit tracks and backfill), "reseed_from_clean" (rebuild similarity seeds from the best tracks), "adjust_feature_weights" (penalize off-target features harder), "generate_more" (top up a short pool). Respond with a JSON array of action strings only, for example ["filter_and_replace","generate_more"]. No commentary.`

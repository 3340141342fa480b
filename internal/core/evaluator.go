package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"moodlist/pkg/cohesion"
	"moodlist/pkg/fuzzy"
	"moodlist/pkg/text"
)

// Outlier cutoffs by source. The similarity engine gets the tighter leash
// because its hits are the least trusted.
const (
	outlierRecoBeat = 0.6
	outlierArtist   = 0.3
)

// Relaxed quality gate floors. A pool that misses the strict gate still
// passes when it is cohesive enough, scores reasonably, covers the minimum
// and carries at most a couple of outliers.
const (
	relaxedCohesionFloor = 0.65
	relaxedOverallFloor  = 0.60
	relaxedOutlierLimit  = 2
)

// QualityReport is one evaluation pass over the recommendation pool.
type QualityReport struct {
	Coverage   float64 `json:"coverage"`
	Cohesion   float64 `json:"cohesion"`
	Confidence float64 `json:"confidence"`
	Diversity  float64 `json:"diversity"`
	Overall    float64 `json:"overall"`
	// PoolSize is the number of recommendations evaluated.
	PoolSize int `json:"pool_size"`

	// TrackCohesion maps track ID to its individual cohesion score.
	TrackCohesion map[string]float64 `json:"track_cohesion,omitempty"`
	// Outliers lists removable track IDs scoring below their source cutoff.
	Outliers []string `json:"outliers,omitempty"`
	Issues   []string `json:"issues,omitempty"`
}

// MeetsThreshold gates the quality loop: the pool passes on either the
// strict or the relaxed predicate.
func (q *QualityReport) MeetsThreshold(target *PlaylistTarget, cohesionThreshold float64) bool {
	return q.meetsStrict(target, cohesionThreshold) || q.meetsRelaxed(target)
}

// meetsStrict demands full coverage, zero outliers and both score
// thresholds.
func (q *QualityReport) meetsStrict(target *PlaylistTarget, cohesionThreshold float64) bool {
	return q.Cohesion >= cohesionThreshold &&
		q.PoolSize >= target.TargetCount &&
		len(q.Outliers) == 0 &&
		q.Overall >= target.QualityThreshold
}

func (q *QualityReport) meetsRelaxed(target *PlaylistTarget) bool {
	return q.Cohesion >= relaxedCohesionFloor &&
		q.Overall >= relaxedOverallFloor &&
		q.PoolSize >= target.MinCount &&
		len(q.Outliers) <= relaxedOutlierLimit
}

// QualityEvaluator scores the pool deterministically and optionally blends
// in an LLM judgement.
type QualityEvaluator struct {
	llm      LLMProvider
	llmCfg   *LLMConfig
	pipeline *PipelineConfig
	norm     *fuzzy.Normalizer
	logger   *zap.Logger
}

func NewQualityEvaluator(llm LLMProvider, llmCfg *LLMConfig, pipeline *PipelineConfig, logger *zap.Logger) *QualityEvaluator {
	return &QualityEvaluator{
		llm:      llm,
		llmCfg:   llmCfg,
		pipeline: pipeline,
		norm:     fuzzy.NewNormalizer(),
		logger:   logger,
	}
}

// Evaluate produces a quality report for the current pool. The deterministic
// score always succeeds; the LLM blend is best-effort.
func (e *QualityEvaluator) Evaluate(ctx context.Context, state *WorkflowState, matcher *cohesion.Matcher) *QualityReport {
	report := e.evaluateDeterministic(state, matcher)

	if e.llm != nil && len(state.Recommendations) > 0 {
		llmScore, issues, err := e.evaluateLLM(ctx, state)
		if err != nil {
			e.logger.Debug("LLM evaluation failed, keeping deterministic score",
				zap.String("kind", KindOf(err).String()),
				zap.Error(err))
		} else {
			report.Overall = report.Overall*0.7 + llmScore*0.3
			e.mergeIssues(state, report, issues)
		}
	}

	e.logger.Info("quality evaluated",
		zap.String("session", state.SessionID),
		zap.Float64("overall", report.Overall),
		zap.Float64("cohesion", report.Cohesion),
		zap.Float64("coverage", report.Coverage),
		zap.Float64("diversity", report.Diversity),
		zap.Int("outliers", len(report.Outliers)))
	return report
}

func (e *QualityEvaluator) evaluateDeterministic(state *WorkflowState, matcher *cohesion.Matcher) *QualityReport {
	recs := state.Recommendations
	mood := state.MoodAnalysis
	report := &QualityReport{
		PoolSize:      len(recs),
		TrackCohesion: make(map[string]float64, len(recs)),
	}

	if len(recs) == 0 {
		return report
	}

	var cohesionSum, confidenceSum float64
	artists := map[string]bool{}
	for i := range recs {
		r := &recs[i]
		score := matcher.Score(r.AudioFeatures.Map(), mood.TargetFeatures, mood.FeatureWeights, cohesion.ModeBase)
		report.TrackCohesion[r.TrackID] = score
		// Protected tracks stay regardless of fit, so they count as a
		// perfect match instead of dragging the pool score.
		if r.Removable() {
			cohesionSum += score
		} else {
			cohesionSum += 1.0
		}
		confidenceSum += r.ConfidenceScore
		if len(r.Artists) > 0 {
			artists[artistKey(r.Artists[0])] = true
		}

		if r.Removable() && isOutlier(r.Source, score) {
			report.Outliers = append(report.Outliers, r.TrackID)
		}
	}

	n := float64(len(recs))
	report.Cohesion = cohesionSum / n
	report.Confidence = confidenceSum / n

	report.Coverage = n / float64(state.Target.TargetCount)
	if report.Coverage > 1 {
		report.Coverage = 1
	}
	if len(recs) < state.Target.MinCount {
		report.Issues = append(report.Issues,
			fmt.Sprintf("pool has %d tracks, below the minimum of %d", len(recs), state.Target.MinCount))
	}

	report.Diversity = float64(len(artists)) / (0.6 * n)
	if report.Diversity > 1 {
		report.Diversity = 1
	}

	report.Overall = 0.4*report.Cohesion + 0.25*report.Coverage +
		0.2*report.Confidence + 0.15*report.Diversity
	return report
}

func isOutlier(source RecommendationSource, score float64) bool {
	switch source {
	case SourceRecoBeat:
		return score < outlierRecoBeat
	case SourceArtistDiscovery:
		return score < outlierArtist
	}
	return false
}

type llmEvaluation struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues"`
}

func (e *QualityEvaluator) evaluateLLM(ctx context.Context, state *WorkflowState) (float64, []string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Mood: %s\n\nPlaylist:\n", state.MoodAnalysis.MoodInterpretation)
	for i := range state.Recommendations {
		r := &state.Recommendations[i]
		fmt.Fprintf(&b, "- %q by %s\n", r.TrackName, strings.Join(r.Artists, ", "))
	}

	resp, err := e.llm.Complete(ctx, CompletionRequest{
		System:      evalSystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   600,
		Temperature: e.llmCfg.Temperature,
		Timeout:     e.llmCfg.CallTimeout,
	})
	if err != nil {
		return 0, nil, err
	}

	raw, err := text.ExtractJSONObject(resp.Text)
	if err != nil {
		return 0, nil, WrapError(KindSchemaViolation, "quality_evaluation", err)
	}
	var parsed llmEvaluation
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return 0, nil, WrapError(KindSchemaViolation, "quality_evaluation", err)
	}
	if parsed.Score < 0 || parsed.Score > 1 {
		return 0, nil, WrapError(KindSchemaViolation, "quality_evaluation",
			fmt.Errorf("score %v out of range", parsed.Score))
	}
	return parsed.Score, parsed.Issues, nil
}

// mergeIssues records LLM complaints and promotes "out of place" mentions to
// outliers when the named track can be matched in the pool.
func (e *QualityEvaluator) mergeIssues(state *WorkflowState, report *QualityReport, issues []string) {
	outlierSet := map[string]bool{}
	for _, id := range report.Outliers {
		outlierSet[id] = true
	}

	for _, issue := range issues {
		report.Issues = append(report.Issues, issue)
		if !strings.Contains(strings.ToLower(issue), "out of place") {
			continue
		}
		for i := range state.Recommendations {
			r := &state.Recommendations[i]
			if !r.Removable() || outlierSet[r.TrackID] {
				continue
			}
			if e.norm.SameTrack(r.TrackName, issue) || containsTrackName(issue, r.TrackName) {
				report.Outliers = append(report.Outliers, r.TrackID)
				outlierSet[r.TrackID] = true
				break
			}
		}
	}
}

func containsTrackName(issue, name string) bool {
	return len(name) >= 3 && strings.Contains(strings.ToLower(issue), strings.ToLower(name))
}

const evalSystemPrompt = `You are a music playlist critic. Rate how well the playlist fits the stated mood. Respond with a JSON object:
{"score": 0.8, "issues": ["Track X by Y feels out of place"]}
score is between 0.0 and 1.0. List at most five issues. When a specific track does not fit, phrase the issue as: Track <name> by <artist> feels out of place. Respond with JSON only.`

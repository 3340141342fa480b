package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"moodlist/pkg/cohesion"
)

// Orchestrator drives a workflow through seed gathering, generation, the
// bounded quality loop and the final pass. It owns the state for the
// duration of Run; nothing else mutates it.
type Orchestrator struct {
	gatherer  *SeedGatherer
	generator *RecommendationGenerator
	evaluator *QualityEvaluator
	strategy  *ImprovementStrategy
	orderer   *PlaylistOrderer
	catalog   CatalogClient
	snapshots SnapshotStore
	history   HistoryStore
	metrics   MetricsSink
	pipeline  *PipelineConfig
	logger    *zap.Logger
}

func NewOrchestrator(gatherer *SeedGatherer, generator *RecommendationGenerator, evaluator *QualityEvaluator, strategy *ImprovementStrategy, orderer *PlaylistOrderer, catalog CatalogClient, snapshots SnapshotStore, history HistoryStore, metrics MetricsSink, pipeline *PipelineConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		gatherer:  gatherer,
		generator: generator,
		evaluator: evaluator,
		strategy:  strategy,
		orderer:   orderer,
		catalog:   catalog,
		snapshots: snapshots,
		history:   history,
		metrics:   metrics,
		pipeline:  pipeline,
		logger:    logger,
	}
}

// Run executes the full pipeline on the state. It returns nil when the
// workflow reaches recommendations_ready, including best-effort results
// flagged with insufficient_supply metadata.
func (o *Orchestrator) Run(ctx context.Context, state *WorkflowState) error {
	matcher := cohesion.NewMatcher()

	if err := o.step(ctx, state, StatusGatheringSeeds, "seed_gathering", func() error {
		return o.gatherer.Gather(ctx, state)
	}); err != nil {
		return err
	}

	if err := o.step(ctx, state, StatusGeneratingRecommendations, "generation", func() error {
		return o.generator.Generate(ctx, state, matcher)
	}); err != nil {
		return err
	}

	report, err := o.qualityLoop(ctx, state, matcher)
	if err != nil {
		return err
	}

	if err := o.finalPass(ctx, state, matcher, report); err != nil {
		return err
	}

	if err := state.SetStatus(StatusRecommendationsReady); err != nil {
		return WrapError(KindFatal, "finalize", err)
	}
	o.snapshot(ctx, state)

	o.markHistory(state)

	o.logger.Info("workflow complete",
		zap.String("session", state.SessionID),
		zap.Int("tracks", len(state.Recommendations)))
	return nil
}

// qualityLoop alternates evaluation and optimization until the pool clears
// the strict gate, the score converges, or the iteration budget runs out.
func (o *Orchestrator) qualityLoop(ctx context.Context, state *WorkflowState, matcher *cohesion.Matcher) (*QualityReport, error) {
	var (
		report    *QualityReport
		prevScore = -1.0
		stalled   = 0
	)

	for iteration := 0; ; iteration++ {
		if err := o.checkCancelled(ctx, "quality_loop"); err != nil {
			return nil, err
		}
		if err := state.SetStatus(StatusEvaluatingQuality); err != nil {
			return nil, WrapError(KindFatal, "quality_loop", err)
		}
		state.CurrentStep = fmt.Sprintf("evaluating iteration %d", iteration)

		evalStart := time.Now()
		report = o.evaluator.Evaluate(ctx, state, matcher)
		if o.metrics != nil {
			o.metrics.RecordStage("quality_evaluation", time.Since(evalStart).Seconds())
		}
		state.AppendMeta("quality_scores", report.Overall)
		o.snapshot(ctx, state)

		if report.MeetsThreshold(state.Target, o.pipeline.CohesionThreshold) {
			o.logger.Info("quality gate passed",
				zap.String("session", state.SessionID),
				zap.Int("iteration", iteration))
			return report, nil
		}

		if prevScore >= 0 && abs(report.Overall-prevScore) < o.pipeline.ConvergenceEpsilon {
			stalled++
			if stalled >= o.pipeline.MaxStalled {
				o.logger.Info("quality score converged",
					zap.String("session", state.SessionID),
					zap.Float64("overall", report.Overall))
				return report, nil
			}
		} else {
			stalled = 0
		}
		prevScore = report.Overall

		if iteration >= o.pipeline.MaxIterations {
			o.logger.Info("iteration budget exhausted",
				zap.String("session", state.SessionID),
				zap.Float64("overall", report.Overall))
			return report, nil
		}

		if err := state.SetStatus(StatusOptimizingRecommendations); err != nil {
			return nil, WrapError(KindFatal, "quality_loop", err)
		}
		state.CurrentStep = fmt.Sprintf("optimizing iteration %d", iteration)
		optStart := time.Now()
		if err := o.strategy.Improve(ctx, state, report, matcher); err != nil {
			return nil, err
		}
		if o.metrics != nil {
			o.metrics.RecordStage("optimization", time.Since(optStart).Seconds())
		}
		o.snapshot(ctx, state)
	}
}

// finalPass resolves URIs, drops residual outliers, tops up a short pool
// once, and composes the final pool with the source-ratio policy.
func (o *Orchestrator) finalPass(ctx context.Context, state *WorkflowState, matcher *cohesion.Matcher, report *QualityReport) error {
	if err := o.checkCancelled(ctx, "final_pass"); err != nil {
		return err
	}
	state.CurrentStep = "final pass"

	o.resolveURIs(ctx, state)

	if len(report.Outliers) > 0 {
		drop := map[string]bool{}
		for _, id := range report.Outliers {
			drop[id] = true
		}
		kept := state.Recommendations[:0]
		for i := range state.Recommendations {
			r := &state.Recommendations[i]
			if drop[r.TrackID] && r.Removable() {
				continue
			}
			kept = append(kept, *r)
		}
		state.Recommendations = kept
	}

	if len(state.Recommendations) < state.Target.TargetCount {
		if err := o.generator.Generate(ctx, state, matcher); err != nil {
			return err
		}
		o.resolveURIs(ctx, state)
	}

	o.composeFinal(state, report)

	if len(state.Recommendations) < state.Target.MinCount {
		state.SetMeta("insufficient_supply", true)
		o.logger.Warn("returning best-effort playlist below minimum",
			zap.String("session", state.SessionID),
			zap.Int("tracks", len(state.Recommendations)),
			zap.Int("min", state.Target.MinCount))
	}

	ordering := o.orderer.Order(ctx, state.Recommendations, state.MoodAnalysis)
	state.Recommendations = ordering.Ordered
	state.SetMeta("energy_arc", ordering.Arc)
	state.SetMeta("phase_distribution", ordering.PhaseDistribution)

	o.snapshot(ctx, state)
	return nil
}

// resolveURIs backfills missing playable URIs with a name search. Tracks
// that stay unresolved are dropped unless protected.
func (o *Orchestrator) resolveURIs(ctx context.Context, state *WorkflowState) {
	kept := state.Recommendations[:0]
	for i := range state.Recommendations {
		r := &state.Recommendations[i]
		if r.SpotifyURI != "" {
			kept = append(kept, *r)
			continue
		}

		query := fmt.Sprintf("track:%s", r.TrackName)
		if len(r.Artists) > 0 {
			query = fmt.Sprintf("track:%s artist:%s", r.TrackName, r.Artists[0])
		}
		hits, err := o.catalog.SearchTracks(ctx, query, 1)
		if err == nil && len(hits) > 0 && hits[0].URI != "" {
			r.SpotifyURI = hits[0].URI
			if r.TrackID == "" {
				r.TrackID = hits[0].ID
			}
			kept = append(kept, *r)
			continue
		}

		if !r.Removable() {
			o.logger.Warn("protected track kept without playable URI",
				zap.String("track", r.TrackName))
			kept = append(kept, *r)
			continue
		}
		o.logger.Debug("dropping track without playable URI",
			zap.String("track", r.TrackName))
	}
	state.Recommendations = kept
}

// composeFinal trims the pool to the target with the source policy: user
// anchors always stay, other anchors are capped, artist discovery fills
// nearly all remaining slots and at least one similarity hit survives when
// any exist. Partitions are ordered by confidence internally; the final
// order is anchors, then artist discovery, then similarity, never re-sorted
// across partitions.
func (o *Orchestrator) composeFinal(state *WorkflowState, report *QualityReport) {
	var userAnchors, otherAnchors, artistRecs, similarRecs []TrackRecommendation
	for i := range state.Recommendations {
		r := state.Recommendations[i]
		switch {
		case r.UserMentioned || r.Protected:
			userAnchors = append(userAnchors, r)
		case r.Source == SourceAnchorTrack:
			otherAnchors = append(otherAnchors, r)
		case r.Source == SourceArtistDiscovery:
			artistRecs = append(artistRecs, r)
		default:
			similarRecs = append(similarRecs, r)
		}
	}

	// Each partition is ordered by confidence before any cap, so trimming
	// always drops the weakest tracks first.
	for _, part := range [][]TrackRecommendation{userAnchors, otherAnchors, artistRecs, similarRecs} {
		part := part
		sort.SliceStable(part, func(i, j int) bool {
			return part[i].ConfidenceScore > part[j].ConfidenceScore
		})
	}

	if len(otherAnchors) > o.pipeline.AnchorTrackLimit {
		otherAnchors = otherAnchors[:o.pipeline.AnchorTrackLimit]
	}

	target := state.Target.TargetCount
	remaining := target - len(userAnchors) - len(otherAnchors)
	if remaining < 0 {
		remaining = 0
	}

	similarSlots := 0
	if len(similarRecs) > 0 && remaining > 0 {
		similarSlots = remaining - int(float64(remaining)*o.pipeline.ArtistDiscoveryShare)
		if similarSlots < 1 {
			similarSlots = 1
		}
	}
	artistSlots := remaining - similarSlots

	if len(artistRecs) > artistSlots {
		artistRecs = artistRecs[:artistSlots]
	} else if len(similarRecs) > 0 {
		// Artist discovery came up short; let similarity fill the gap.
		similarSlots += artistSlots - len(artistRecs)
	}
	if len(similarRecs) > similarSlots {
		similarRecs = similarRecs[:similarSlots]
	}

	final := make([]TrackRecommendation, 0, len(userAnchors)+len(otherAnchors)+len(artistRecs)+len(similarRecs))
	final = append(final, userAnchors...)
	final = append(final, otherAnchors...)
	final = append(final, artistRecs...)
	final = append(final, similarRecs...)
	state.Recommendations = final
}

func (o *Orchestrator) markHistory(state *WorkflowState) {
	if o.history == nil || state.UserID == "" {
		return
	}
	for i := range state.Recommendations {
		o.history.Mark(state.UserID, state.Recommendations[i].TrackID)
	}
}

func (o *Orchestrator) step(ctx context.Context, state *WorkflowState, status WorkflowStatus, stage string, fn func() error) error {
	if err := o.checkCancelled(ctx, stage); err != nil {
		return err
	}
	if err := state.SetStatus(status); err != nil {
		return WrapError(KindFatal, stage, err)
	}
	state.CurrentStep = stage
	start := time.Now()
	if err := fn(); err != nil {
		if o.metrics != nil {
			o.metrics.RecordError(stage, KindOf(err).String())
		}
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordStage(stage, time.Since(start).Seconds())
	}
	o.snapshot(ctx, state)
	return nil
}

func (o *Orchestrator) checkCancelled(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return WrapError(KindCancelled, stage, err)
	}
	return nil
}

// snapshot persists the state best-effort; the pipeline never fails on
// snapshot trouble.
func (o *Orchestrator) snapshot(ctx context.Context, state *WorkflowState) {
	if o.snapshots == nil {
		return
	}
	if err := o.snapshots.Save(ctx, state); err != nil {
		o.logger.Warn("snapshot save failed",
			zap.String("session", state.SessionID),
			zap.Error(err))
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moodlist/pkg/cohesion"
	"moodlist/pkg/text"
)

// Playlist phases in playback order.
const (
	PhaseOpening = "opening"
	PhaseBuild   = "build"
	PhaseMid     = "mid"
	PhaseHigh    = "high"
	PhaseDescent = "descent"
	PhaseClosure = "closure"
)

var phaseOrder = []string{PhaseOpening, PhaseBuild, PhaseMid, PhaseHigh, PhaseDescent, PhaseClosure}

// phaseShare is each phase's slice of the playlist; shares sum to 1.
var phaseShare = map[string]float64{
	PhaseOpening: 0.10,
	PhaseBuild:   0.20,
	PhaseMid:     0.25,
	PhaseHigh:    0.20,
	PhaseDescent: 0.15,
	PhaseClosure: 0.10,
}

// Energy arcs shape the playlist's flow.
const (
	ArcClassicBuild           = "classic_build"
	ArcImmediateImpact        = "immediate_impact"
	ArcChillJourney           = "chill_journey"
	ArcEmotionalRollercoaster = "emotional_rollercoaster"
	ArcSustainedEnergy        = "sustained_energy"
	ArcAmbientFlow            = "ambient_flow"
)

// arcCurves gives each arc its target energy per phase, in phase order.
var arcCurves = map[string][6]float64{
	ArcClassicBuild:           {0.30, 0.50, 0.60, 0.90, 0.50, 0.30},
	ArcImmediateImpact:        {0.90, 0.80, 0.70, 0.85, 0.50, 0.30},
	ArcChillJourney:           {0.30, 0.40, 0.45, 0.55, 0.40, 0.30},
	ArcEmotionalRollercoaster: {0.40, 0.70, 0.30, 0.90, 0.40, 0.60},
	ArcSustainedEnergy:        {0.70, 0.80, 0.80, 0.90, 0.80, 0.70},
	ArcAmbientFlow:            {0.25, 0.30, 0.35, 0.40, 0.30, 0.25},
}

// trackAnalysis is the per-track profile from the first ordering pass.
type trackAnalysis struct {
	Energy             float64 `json:"energy_level"`
	Momentum           float64 `json:"momentum"`
	EmotionalIntensity float64 `json:"emotional_intensity"`
	OpeningPotential   float64 `json:"opening_potential"`
	ClosingPotential   float64 `json:"closing_potential"`
	PeakPotential      float64 `json:"peak_potential"`
	Phase              string  `json:"phase"`
}

// OrderingResult is the ordered playlist with its arc and phase layout.
type OrderingResult struct {
	Arc               string                `json:"arc"`
	PhaseDistribution map[string]int        `json:"phase_distribution"`
	Ordered           []TrackRecommendation `json:"ordered"`
}

// PlaylistOrderer arranges the final pool into an energy arc. Track profiles
// are analyzed in concurrent batches, then tracks are distributed over
// phases and ordered for smooth transitions.
type PlaylistOrderer struct {
	llm      LLMProvider
	llmCfg   *LLMConfig
	pipeline *PipelineConfig
	logger   *zap.Logger
}

func NewPlaylistOrderer(llm LLMProvider, llmCfg *LLMConfig, pipeline *PipelineConfig, logger *zap.Logger) *PlaylistOrderer {
	return &PlaylistOrderer{llm: llm, llmCfg: llmCfg, pipeline: pipeline, logger: logger}
}

// Order never fails: every fallible step degrades to a feature-driven
// heuristic. The result always contains every input track exactly once and
// all six phases in its distribution.
func (p *PlaylistOrderer) Order(ctx context.Context, recs []TrackRecommendation, mood *MoodAnalysis) *OrderingResult {
	if len(recs) == 0 {
		return &OrderingResult{
			Arc:               ArcClassicBuild,
			PhaseDistribution: emptyDistribution(),
		}
	}

	analyses := p.analyzeTracks(ctx, recs)
	arc := p.chooseArc(ctx, mood, recs, analyses)

	counts := phaseCounts(len(recs))
	assigned := assignPhases(recs, analyses, arc, counts)

	var ordered []TrackRecommendation
	var prev *TrackRecommendation
	for _, phase := range phaseOrder {
		group := orderPhase(phase, assigned[phase], analyses, prev)
		group = centerUserMentions(group)
		ordered = append(ordered, group...)
		if len(ordered) > 0 {
			prev = &ordered[len(ordered)-1]
		}
	}

	p.logger.Info("playlist ordered",
		zap.String("arc", arc),
		zap.Int("tracks", len(ordered)))
	return &OrderingResult{
		Arc:               arc,
		PhaseDistribution: counts,
		Ordered:           ordered,
	}
}

// fallbackAnalysis derives a profile from catalog features alone: calm
// tracks suit the edges of the playlist, energetic ones its peak.
func fallbackAnalysis(r *TrackRecommendation) trackAnalysis {
	energy := 0.5
	if r.AudioFeatures.Energy != nil {
		energy = *r.AudioFeatures.Energy
	}
	return trackAnalysis{
		Energy:             energy,
		Momentum:           0.5,
		EmotionalIntensity: 0.5,
		OpeningPotential:   1 - energy,
		ClosingPotential:   1 - energy,
		PeakPotential:      energy,
	}
}

// analyzeTracks returns a profile per track ID. Batches run concurrently
// with a per-batch timeout; any batch failure falls back to catalog
// features.
func (p *PlaylistOrderer) analyzeTracks(ctx context.Context, recs []TrackRecommendation) map[string]trackAnalysis {
	analyses := make(map[string]trackAnalysis, len(recs))
	var mu sync.Mutex

	if p.llm == nil {
		for i := range recs {
			analyses[recs[i].TrackID] = fallbackAnalysis(&recs[i])
		}
		return analyses
	}

	batches := chunkRecs(recs, p.pipeline.EnergyBatchSize)
	eg, gctx := errgroup.WithContext(ctx)
	for _, batch := range batches {
		batch := batch
		eg.Go(func() error {
			bctx, cancel := context.WithTimeout(gctx, p.pipeline.OrderBatchTimeout)
			defer cancel()

			profiles, err := p.analyzeBatch(bctx, batch)
			mu.Lock()
			defer mu.Unlock()
			for i := range batch {
				if err == nil {
					if a, ok := profiles[batch[i].TrackID]; ok {
						analyses[batch[i].TrackID] = a
						continue
					}
				}
				analyses[batch[i].TrackID] = fallbackAnalysis(&batch[i])
			}
			if err != nil {
				p.logger.Debug("analysis batch fell back to features",
					zap.Int("batch", len(batch)),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = eg.Wait()
	return analyses
}

func (p *PlaylistOrderer) analyzeBatch(ctx context.Context, batch []TrackRecommendation) (map[string]trackAnalysis, error) {
	var b strings.Builder
	b.WriteString("Profile each track for playlist placement.\n\n")
	for i := range batch {
		fmt.Fprintf(&b, "- id=%s %q by %s\n", batch[i].TrackID, batch[i].TrackName, strings.Join(batch[i].Artists, ", "))
	}

	resp, err := p.llm.Complete(ctx, CompletionRequest{
		System:      energySystemPrompt,
		Prompt:      b.String(),
		MaxTokens:   900,
		Temperature: p.llmCfg.Temperature,
		Timeout:     p.pipeline.OrderBatchTimeout,
	})
	if err != nil {
		return nil, err
	}

	raw, err := text.ExtractJSONObject(resp.Text)
	if err != nil {
		return nil, WrapError(KindSchemaViolation, "track_analysis", err)
	}
	var profiles map[string]trackAnalysis
	if err := json.Unmarshal([]byte(raw), &profiles); err != nil {
		return nil, WrapError(KindSchemaViolation, "track_analysis", err)
	}
	for id, a := range profiles {
		if a.Energy < 0 || a.Energy > 1 {
			delete(profiles, id)
			continue
		}
		a.Momentum = clamp01(a.Momentum)
		a.EmotionalIntensity = clamp01(a.EmotionalIntensity)
		a.OpeningPotential = clamp01(a.OpeningPotential)
		a.ClosingPotential = clamp01(a.ClosingPotential)
		a.PeakPotential = clamp01(a.PeakPotential)
		a.Phase = strings.ToLower(strings.TrimSpace(a.Phase))
		if _, ok := phaseShare[a.Phase]; !ok {
			a.Phase = ""
		}
		profiles[id] = a
	}
	return profiles, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// chooseArc asks the LLM for an arc and falls back to a feature heuristic
// backed by k-means clustering of the pool's energy profile.
func (p *PlaylistOrderer) chooseArc(ctx context.Context, mood *MoodAnalysis, recs []TrackRecommendation, analyses map[string]trackAnalysis) string {
	if p.llm != nil {
		arc, err := p.chooseArcLLM(ctx, mood, recs, analyses)
		if err == nil {
			return arc
		}
		p.logger.Debug("LLM arc selection failed, using heuristic",
			zap.String("kind", KindOf(err).String()),
			zap.Error(err))
	}
	return p.chooseArcHeuristic(mood, recs, analyses)
}

func (p *PlaylistOrderer) chooseArcLLM(ctx context.Context, mood *MoodAnalysis, recs []TrackRecommendation, analyses map[string]trackAnalysis) (string, error) {
	avgE, minE, maxE := 0.0, 1.0, 0.0
	avgMomentum, avgIntensity := 0.0, 0.0
	mentioned := 0
	for i := range recs {
		a := analyses[recs[i].TrackID]
		avgE += a.Energy
		avgMomentum += a.Momentum
		avgIntensity += a.EmotionalIntensity
		if a.Energy < minE {
			minE = a.Energy
		}
		if a.Energy > maxE {
			maxE = a.Energy
		}
		if recs[i].UserMentioned {
			mentioned++
		}
	}
	n := float64(len(recs))
	avgE, avgMomentum, avgIntensity = avgE/n, avgMomentum/n, avgIntensity/n

	prompt := fmt.Sprintf(
		"Mood: %s\nTracks: %d (%d picked by the user)\nEnergy avg %.2f, min %.2f, max %.2f\nMomentum avg %.2f, emotional intensity avg %.2f",
		mood.MoodInterpretation, len(recs), mentioned, avgE, minE, maxE, avgMomentum, avgIntensity)

	resp, err := p.llm.Complete(ctx, CompletionRequest{
		System:      arcSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   60,
		Temperature: p.llmCfg.Temperature,
		Timeout:     p.llmCfg.CallTimeout,
	})
	if err != nil {
		return "", err
	}

	arc := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Text), `"`))
	if _, ok := arcCurves[arc]; !ok {
		return "", WrapError(KindSchemaViolation, "arc_selection",
			fmt.Errorf("unknown arc %q", arc))
	}
	return arc, nil
}

// chooseArcHeuristic reads the mood's energy target and the clustering of
// the pool. A pool whose energy clusters sit far apart suggests deliberate
// peaks and valleys; a tight pool sustains one level.
func (p *PlaylistOrderer) chooseArcHeuristic(mood *MoodAnalysis, recs []TrackRecommendation, analyses map[string]trackAnalysis) string {
	spread := energyClusterSpread(recs, analyses)

	var target float64 = 0.5
	if r, ok := mood.TargetFeatures["energy"]; ok {
		target = r.Mid()
	}

	switch {
	case spread > 0.45:
		return ArcEmotionalRollercoaster
	case target >= 0.75 && spread < 0.2:
		return ArcSustainedEnergy
	case target >= 0.7:
		return ArcImmediateImpact
	case target <= 0.3:
		return ArcAmbientFlow
	case target <= 0.45:
		return ArcChillJourney
	default:
		return ArcClassicBuild
	}
}

// energyClusterSpread partitions tracks on energy, valence and tempo and
// returns the energy distance between the extreme cluster centers.
func energyClusterSpread(recs []TrackRecommendation, analyses map[string]trackAnalysis) float64 {
	if len(recs) < 4 {
		return 0
	}

	var obs clusters.Observations
	for i := range recs {
		r := &recs[i]
		valence, tempo := 0.5, 0.5
		if r.AudioFeatures.Valence != nil {
			valence = *r.AudioFeatures.Valence
		}
		if r.AudioFeatures.Tempo != nil {
			tempo = *r.AudioFeatures.Tempo / 250.0
		}
		obs = append(obs, clusters.Coordinates{analyses[r.TrackID].Energy, valence, tempo})
	}

	km := kmeans.New()
	partition, err := km.Partition(obs, 2)
	if err != nil || len(partition) < 2 {
		return 0
	}

	lo, hi := 1.0, 0.0
	for _, c := range partition {
		center := c.Center[0]
		if center < lo {
			lo = center
		}
		if center > hi {
			hi = center
		}
	}
	return hi - lo
}

// phaseCounts splits n tracks over the six phases by share, largest
// remainder first, so the counts always sum to n.
func phaseCounts(n int) map[string]int {
	counts := make(map[string]int, len(phaseOrder))
	type rem struct {
		phase string
		frac  float64
	}
	var rems []rem
	total := 0
	for _, phase := range phaseOrder {
		exact := float64(n) * phaseShare[phase]
		base := int(exact)
		counts[phase] = base
		total += base
		rems = append(rems, rem{phase: phase, frac: exact - float64(base)})
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; total < n; i++ {
		counts[rems[i%len(rems)].phase]++
		total++
	}
	return counts
}

// assignPhases distributes tracks over phases. User-mentioned anchors take
// the opening and build phases first, then pass-one phase labels are
// honored while their phase has room, and whatever remains fills phases
// energy-sorted against the arc's target curve.
func assignPhases(recs []TrackRecommendation, analyses map[string]trackAnalysis, arc string, counts map[string]int) map[string][]TrackRecommendation {
	assigned := make(map[string][]TrackRecommendation, len(phaseOrder))
	remaining := make(map[string]int, len(counts))
	for phase, n := range counts {
		remaining[phase] = n
	}

	place := func(phase string, r TrackRecommendation) bool {
		if remaining[phase] <= 0 {
			return false
		}
		assigned[phase] = append(assigned[phase], r)
		remaining[phase]--
		return true
	}

	var rest []TrackRecommendation
	for i := range recs {
		r := recs[i]
		if r.UserMentioned && (place(PhaseOpening, r) || place(PhaseBuild, r)) {
			continue
		}
		rest = append(rest, r)
	}

	var unlabeled []TrackRecommendation
	for i := range rest {
		r := rest[i]
		if phase := analyses[r.TrackID].Phase; phase != "" && place(phase, r) {
			continue
		}
		unlabeled = append(unlabeled, r)
	}

	sort.SliceStable(unlabeled, func(i, j int) bool {
		return analyses[unlabeled[i].TrackID].Energy < analyses[unlabeled[j].TrackID].Energy
	})

	curve := arcCurves[arc]
	type ranked struct {
		phase  string
		target float64
	}
	order := make([]ranked, 0, len(phaseOrder))
	for i, phase := range phaseOrder {
		order = append(order, ranked{phase: phase, target: curve[i]})
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].target < order[j].target })

	idx := 0
	for _, o := range order {
		take := remaining[o.phase]
		if take > len(unlabeled)-idx {
			take = len(unlabeled) - idx
		}
		assigned[o.phase] = append(assigned[o.phase], unlabeled[idx:idx+take]...)
		idx += take
	}
	return assigned
}

// orderPhase orders a phase greedily for smooth transitions. The opening
// phase leads with the strongest opener, the high phase drops straight into
// its peak, and the closure phase holds its best closer for the final slot.
func orderPhase(phase string, group []TrackRecommendation, analyses map[string]trackAnalysis, prev *TrackRecommendation) []TrackRecommendation {
	if len(group) <= 1 {
		return group
	}

	remaining := make([]TrackRecommendation, len(group))
	copy(remaining, group)
	out := make([]TrackRecommendation, 0, len(group))

	var closer *TrackRecommendation
	if phase == PhaseClosure {
		idx := maxBy(remaining, func(a trackAnalysis) float64 { return a.ClosingPotential }, analyses)
		c := remaining[idx]
		closer = &c
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}

	cur := prev
	first := true
	for len(remaining) > 0 {
		var best int
		switch {
		case first && phase == PhaseOpening:
			best = maxBy(remaining, func(a trackAnalysis) float64 { return a.OpeningPotential }, analyses)
		case first && phase == PhaseHigh:
			best = maxBy(remaining, func(a trackAnalysis) float64 { return a.PeakPotential }, analyses)
		default:
			best = 0
			bestCost := -1.0
			for i := range remaining {
				cost := transitionCost(cur, &remaining[i], analyses)
				if bestCost < 0 || cost < bestCost {
					best, bestCost = i, cost
				}
			}
		}
		out = append(out, remaining[best])
		cur = &out[len(out)-1]
		remaining = append(remaining[:best], remaining[best+1:]...)
		first = false
	}

	if closer != nil {
		out = append(out, *closer)
	}
	return out
}

func maxBy(group []TrackRecommendation, score func(trackAnalysis) float64, analyses map[string]trackAnalysis) int {
	best, bestScore := 0, -1.0
	for i := range group {
		if s := score(analyses[group[i].TrackID]); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// transitionCost penalizes tempo jumps, energy jumps and harmonic clashes
// between consecutive tracks.
func transitionCost(from, to *TrackRecommendation, analyses map[string]trackAnalysis) float64 {
	if from == nil {
		return analyses[to.TrackID].Energy
	}

	cost := abs(analyses[from.TrackID].Energy - analyses[to.TrackID].Energy)

	if from.AudioFeatures.Tempo != nil && to.AudioFeatures.Tempo != nil {
		cost += abs(*from.AudioFeatures.Tempo-*to.AudioFeatures.Tempo) / 250.0
	}

	if from.AudioFeatures.Key != nil && from.AudioFeatures.Mode != nil &&
		to.AudioFeatures.Key != nil && to.AudioFeatures.Mode != nil {
		cost += float64(cohesion.KeyDistance(
			*from.AudioFeatures.Key, *from.AudioFeatures.Mode,
			*to.AudioFeatures.Key, *to.AudioFeatures.Mode)) / 6.0
	}
	return cost
}

// centerUserMentions moves user-mentioned tracks to the middle of their
// phase, where they land as highlights rather than transitions.
func centerUserMentions(group []TrackRecommendation) []TrackRecommendation {
	var mentioned, rest []TrackRecommendation
	for i := range group {
		if group[i].UserMentioned {
			mentioned = append(mentioned, group[i])
		} else {
			rest = append(rest, group[i])
		}
	}
	if len(mentioned) == 0 {
		return group
	}

	mid := len(rest) / 2
	out := make([]TrackRecommendation, 0, len(group))
	out = append(out, rest[:mid]...)
	out = append(out, mentioned...)
	out = append(out, rest[mid:]...)
	return out
}

func emptyDistribution() map[string]int {
	counts := make(map[string]int, len(phaseOrder))
	for _, phase := range phaseOrder {
		counts[phase] = 0
	}
	return counts
}

func chunkRecs(in []TrackRecommendation, size int) [][]TrackRecommendation {
	var out [][]TrackRecommendation
	for len(in) > size {
		out = append(out, in[:size])
		in = in[size:]
	}
	if len(in) > 0 {
		out = append(out, in)
	}
	return out
}

const energySystemPrompt = `You are a DJ profiling tracks for playlist placement. Respond with a JSON object mapping each track id to an object:
{"id1": {"energy_level": 0.7, "momentum": 0.6, "emotional_intensity": 0.5, "opening_potential": 0.2, "closing_potential": 0.1, "peak_potential": 0.8, "phase": "high"}}
All numbers are between 0.0 and 1.0. phase is one of: opening, build, mid, high, descent, closure. JSON only, no commentary.`

const arcSystemPrompt = `You pick the energy arc for a playlist from its mood and aggregate stats. Respond with exactly one of: classic_build, immediate_impact, chill_journey, emotional_rollercoaster, sustained_energy, ambient_flow. No other text.`

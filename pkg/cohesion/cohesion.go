// Package cohesion scores how well a track's audio features match a target
// feature profile. Scores are in [0,1] where 1 means every weighted feature
// sits inside its target range.
package cohesion

import (
	"math"
	"sort"
)

// Range is an inclusive target interval for a single audio feature.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Mid returns the midpoint of the range, used for distance-based ranking.
func (r Range) Mid() float64 {
	return (r.Min + r.Max) / 2
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Mode selects the scoring profile.
type Mode string

const (
	// ModeBase is the default scoring profile used by seed ranking,
	// confidence scoring and quality evaluation.
	ModeBase Mode = "base"
	// ModeStrict halves the out-of-range tolerance; used when the
	// improvement loop tightens cohesion scoring.
	ModeStrict Mode = "strict"
)

// featureSpan is the full value span per feature, used to normalize
// out-of-range distances. Features not listed span [0,1].
var featureSpan = map[string]float64{
	"tempo":      250,
	"loudness":   60,
	"key":        11,
	"popularity": 100,
}

// criticalWeight marks a feature as critical for outlier purposes.
const criticalWeight = 0.7

// DefaultWeights returns the per-feature weights applied when the mood
// analysis does not provide its own.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"energy":           0.8,
		"valence":          0.8,
		"danceability":     0.6,
		"acousticness":     0.6,
		"instrumentalness": 0.5,
		"tempo":            0.4,
		"mode":             0.4,
		"loudness":         0.3,
		"speechiness":      0.3,
		"liveness":         0.2,
		"key":              0.2,
		"popularity":       0.1,
	}
}

// Matcher computes cohesion scores. The boost multiplier is shared across a
// workflow and raised by the improvement loop to tighten scoring; it never
// drops below 1 and is capped by the caller.
type Matcher struct {
	boost float64
}

// NewMatcher returns a Matcher with a neutral weight boost.
func NewMatcher() *Matcher {
	return &Matcher{boost: 1.0}
}

// Boost returns the current global weight multiplier.
func (m *Matcher) Boost() float64 {
	return m.boost
}

// SetBoost sets the global weight multiplier applied to violated features.
func (m *Matcher) SetBoost(b float64) {
	if b < 1.0 {
		b = 1.0
	}
	m.boost = b
}

// Score returns the weighted cohesion of the given feature values against the
// target ranges. Features absent from either map are skipped; a track with no
// scorable features gets a neutral 0.5 so missing audio features neither sink
// nor carry a candidate.
func (m *Matcher) Score(features map[string]float64, targets map[string]Range, weights map[string]float64, mode Mode) float64 {
	if len(targets) == 0 {
		return 0.5
	}

	tolerance := 1.0
	if mode == ModeStrict {
		tolerance = 0.5
	}

	var weightSum, scoreSum float64
	for name, target := range targets {
		value, ok := features[name]
		if !ok {
			continue
		}

		weight := weights[name]
		if weight <= 0 {
			weight = DefaultWeights()[name]
		}
		if weight <= 0 {
			continue
		}

		score := featureScore(name, value, target, tolerance)
		if score < 1.0 {
			// Violated features count more heavily as the boost rises,
			// so a stricter matcher can only lower a violating track.
			weight *= m.boost
		}

		weightSum += weight
		scoreSum += weight * score
	}

	if weightSum == 0 {
		return 0.5
	}

	return clamp01(scoreSum / weightSum)
}

// featureScore is 1.0 inside the range and decays linearly with the distance
// from the nearest bound, normalized by the feature's span.
func featureScore(name string, value float64, target Range, tolerance float64) float64 {
	if target.Contains(value) {
		return 1.0
	}

	span, ok := featureSpan[name]
	if !ok {
		span = 1.0
	}

	var dist float64
	if value < target.Min {
		dist = target.Min - value
	} else {
		dist = value - target.Max
	}

	// Out-of-range values lose score over half the feature span, scaled by
	// the mode tolerance.
	decay := dist / (span * 0.5 * tolerance)
	return clamp01(1.0 - decay)
}

// Violations returns the names of weighted features lying outside their
// target range, ordered by descending weighted distance. Only features whose
// weight reaches criticalWeight are considered critical.
func (m *Matcher) Violations(features map[string]float64, targets map[string]Range, weights map[string]float64) []string {
	type violation struct {
		name     string
		severity float64
	}

	var out []violation
	for name, target := range targets {
		value, ok := features[name]
		if !ok {
			continue
		}
		if target.Contains(value) {
			continue
		}

		weight := weights[name]
		if weight <= 0 {
			weight = DefaultWeights()[name]
		}

		span, spanOK := featureSpan[name]
		if !spanOK {
			span = 1.0
		}

		var dist float64
		if value < target.Min {
			dist = target.Min - value
		} else {
			dist = value - target.Max
		}

		out = append(out, violation{name: name, severity: weight * dist / span})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].severity > out[j].severity })

	names := make([]string, len(out))
	for i, v := range out {
		names[i] = v.name
	}
	return names
}

// IsCritical reports whether the named feature carries a critical weight in
// the given weight map.
func IsCritical(name string, weights map[string]float64) bool {
	weight := weights[name]
	if weight <= 0 {
		weight = DefaultWeights()[name]
	}
	return weight >= criticalWeight
}

// Distance returns the unweighted euclidean distance between a track's
// features and the target range midpoints, normalized per feature span.
// Used to rank seed candidates before LLM selection.
func Distance(features map[string]float64, targets map[string]Range) float64 {
	var sum float64
	var n int
	for name, target := range targets {
		value, ok := features[name]
		if !ok {
			continue
		}
		span, spanOK := featureSpan[name]
		if !spanOK {
			span = 1.0
		}
		d := (value - target.Mid()) / span
		sum += d * d
		n++
	}
	if n == 0 {
		return math.MaxFloat64
	}
	return math.Sqrt(sum / float64(n))
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

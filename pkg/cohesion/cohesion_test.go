package cohesion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorePerfectMatch(t *testing.T) {
	m := NewMatcher()

	features := map[string]float64{"energy": 0.8, "valence": 0.7}
	targets := map[string]Range{
		"energy":  {Min: 0.6, Max: 1.0},
		"valence": {Min: 0.5, Max: 0.9},
	}

	score := m.Score(features, targets, DefaultWeights(), ModeBase)
	assert.Equal(t, 1.0, score)
}

func TestScoreDecaysOutOfRange(t *testing.T) {
	m := NewMatcher()

	targets := map[string]Range{"energy": {Min: 0.6, Max: 1.0}}

	near := m.Score(map[string]float64{"energy": 0.55}, targets, DefaultWeights(), ModeBase)
	far := m.Score(map[string]float64{"energy": 0.2}, targets, DefaultWeights(), ModeBase)

	assert.Less(t, near, 1.0)
	assert.Less(t, far, near)
}

func TestScoreStrictModeLower(t *testing.T) {
	m := NewMatcher()

	features := map[string]float64{"energy": 0.4}
	targets := map[string]Range{"energy": {Min: 0.6, Max: 1.0}}

	base := m.Score(features, targets, DefaultWeights(), ModeBase)
	strict := m.Score(features, targets, DefaultWeights(), ModeStrict)

	assert.Less(t, strict, base)
}

func TestScoreMissingFeaturesNeutral(t *testing.T) {
	m := NewMatcher()

	targets := map[string]Range{"energy": {Min: 0.6, Max: 1.0}}
	score := m.Score(map[string]float64{}, targets, DefaultWeights(), ModeBase)

	assert.Equal(t, 0.5, score)
}

// Raising the weight of a violated critical feature must never raise the
// cohesion of a track violating that feature.
func TestScoreMonotoneUnderStricterWeights(t *testing.T) {
	features := map[string]float64{
		"energy":  0.2, // violates
		"valence": 0.7, // matches
	}
	targets := map[string]Range{
		"energy":  {Min: 0.6, Max: 1.0},
		"valence": {Min: 0.5, Max: 0.9},
	}

	weights := map[string]float64{"energy": 0.8, "valence": 0.8}
	stricter := map[string]float64{"energy": 2.4, "valence": 0.8}

	m := NewMatcher()
	base := m.Score(features, targets, weights, ModeBase)
	tightened := m.Score(features, targets, stricter, ModeBase)

	assert.LessOrEqual(t, tightened, base)

	// Same property through the global boost.
	m.SetBoost(3.0)
	boosted := m.Score(features, targets, weights, ModeBase)
	assert.LessOrEqual(t, boosted, base)
}

func TestViolationsOrderedBySeverity(t *testing.T) {
	m := NewMatcher()

	features := map[string]float64{
		"energy":       0.1, // far out, heavy weight
		"liveness":     0.5, // slightly out, light weight
		"danceability": 0.7, // in range
	}
	targets := map[string]Range{
		"energy":       {Min: 0.6, Max: 1.0},
		"liveness":     {Min: 0.0, Max: 0.4},
		"danceability": {Min: 0.5, Max: 1.0},
	}

	violations := m.Violations(features, targets, DefaultWeights())
	require.Len(t, violations, 2)
	assert.Equal(t, "energy", violations[0])
	assert.Equal(t, "liveness", violations[1])
}

func TestIsCritical(t *testing.T) {
	weights := map[string]float64{"energy": 0.8, "liveness": 0.2}
	assert.True(t, IsCritical("energy", weights))
	assert.False(t, IsCritical("liveness", weights))
}

func TestDistanceRanksCloserTracksFirst(t *testing.T) {
	targets := map[string]Range{
		"energy":  {Min: 0.6, Max: 1.0},
		"valence": {Min: 0.6, Max: 1.0},
	}

	close := Distance(map[string]float64{"energy": 0.8, "valence": 0.8}, targets)
	far := Distance(map[string]float64{"energy": 0.1, "valence": 0.1}, targets)

	assert.Less(t, close, far)
}

func TestKeyDistance(t *testing.T) {
	// C major vs C major
	assert.Equal(t, 0, KeyDistance(0, 1, 0, 1))
	// C major vs A minor: relative pair, both Camelot 8
	assert.Equal(t, 1, KeyDistance(0, 1, 9, 0))
	// C major (8B) vs G major (9B): one wheel step
	assert.Equal(t, 1, KeyDistance(0, 1, 7, 1))
	// C major (8B) vs E minor (9A): one step plus mode change
	assert.Equal(t, 3, KeyDistance(0, 1, 4, 0))
	// Unknown key
	assert.Equal(t, incompatibleKeyDistance, KeyDistance(-1, 1, 0, 1))
}

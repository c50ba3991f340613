package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/alertengine/pkg/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// series builds a window with one sample per minute starting at base+1m.
func series(vals ...float64) types.Window {
	w := make(types.Window, len(vals))
	for i, v := range vals {
		w[i] = types.Sample{Timestamp: base.Add(time.Duration(i+1) * time.Minute), Value: v}
	}
	return w
}

func threshold(op types.Operator, v float64, d time.Duration) types.Condition {
	return types.Condition{
		Kind:      types.ConditionThreshold,
		Threshold: &types.ThresholdCondition{Operator: op, Value: v, Duration: d},
	}
}

func TestThreshold_SustainedWindowMet(t *testing.T) {
	// error_rate > 0.05 sustained 5 minutes, five 1-minute samples at 0.08.
	res := Evaluate(threshold(types.OpGreater, 0.05, 5*time.Minute), series(0.08, 0.08, 0.08, 0.08, 0.08))

	require.True(t, res.Met, res.Evidence.Reason)
	assert.False(t, res.DataGap)
	assert.InDelta(t, 0.08, res.Observed, 1e-9)
	assert.Equal(t, 0.05, res.Threshold)
	assert.Equal(t, 5, res.Evidence.Samples)
}

func TestThreshold_AnySampleFailing(t *testing.T) {
	cond := threshold(types.OpGreater, 0.05, 5*time.Minute)
	for i := 0; i < 5; i++ {
		vals := []float64{0.08, 0.08, 0.08, 0.08, 0.08}
		vals[i] = 0.01
		res := Evaluate(cond, series(vals...))
		assert.Falsef(t, res.Met, "sample %d below threshold must prevent met", i)
		assert.False(t, res.DataGap)
	}
}

func TestThreshold_OnlyTrailingWindowConsidered(t *testing.T) {
	// The first sample is older than the 5m trailing window and is ignored.
	res := Evaluate(threshold(types.OpGreater, 0.05, 5*time.Minute), series(0.01, 0.08, 0.08, 0.08, 0.08, 0.08))
	assert.True(t, res.Met)
	assert.Equal(t, 5, res.Evidence.Samples)
}

func TestThreshold_InsufficientSamples(t *testing.T) {
	cond := threshold(types.OpGreater, 0.05, 5*time.Minute)

	res := Evaluate(cond, series(0.08, 0.08))
	assert.False(t, res.Met)
	assert.True(t, res.DataGap)

	res = Evaluate(cond, nil)
	assert.False(t, res.Met)
	assert.True(t, res.DataGap)

	res = Evaluate(cond, series(0.08))
	assert.True(t, res.DataGap, "single sample cannot cover a duration")
}

func TestThreshold_ZeroDurationUsesLatest(t *testing.T) {
	res := Evaluate(threshold(types.OpLessEqual, 10, 0), series(50, 3))
	assert.True(t, res.Met)
	assert.Equal(t, 3.0, res.Observed)
}

func TestCompare_Operators(t *testing.T) {
	tests := []struct {
		v    float64
		op   types.Operator
		th   float64
		want bool
	}{
		{1, types.OpGreater, 0, true},
		{0, types.OpGreater, 0, false},
		{0, types.OpGreaterEqual, 0, true},
		{-1, types.OpLess, 0, true},
		{0, types.OpLessEqual, 0, true},
		{0.1 + 0.2, types.OpEqual, 0.3, true},
		{0.1 + 0.2, types.OpNotEqual, 0.3, false},
		{1, types.OpNotEqual, 2, true},
		{1, types.Operator("=~"), 1, false},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, Compare(tt.v, tt.op, tt.th), "%v %s %v", tt.v, tt.op, tt.th)
	}
}

func change(mode types.ChangeMode, dir types.Direction, th float64) types.Condition {
	return types.Condition{
		Kind: types.ConditionChange,
		Change: &types.ChangeCondition{
			Mode:             mode,
			Direction:        dir,
			Threshold:        th,
			Window:           2 * time.Minute,
			ComparisonPeriod: 4 * time.Minute,
		},
	}
}

func TestChange_PercentIncrease(t *testing.T) {
	// minutes 1..6: baseline window (minutes 1-2) avg 10, current (5-6) avg 20.
	w := series(10, 10, 12, 15, 20, 20)
	res := Evaluate(change(types.ChangePercent, types.DirectionUp, 50), w)
	require.True(t, res.Met, res.Evidence.Reason)
	assert.InDelta(t, 100, res.Delta, 1e-9)
	assert.InDelta(t, 20, res.Observed, 1e-9)

	res = Evaluate(change(types.ChangePercent, types.DirectionDown, 50), w)
	assert.False(t, res.Met)
}

func TestChange_AbsoluteAnyDirection(t *testing.T) {
	w := series(100, 100, 90, 80, 70, 70)
	res := Evaluate(change(types.ChangeAbsolute, types.DirectionAny, 25), w)
	assert.True(t, res.Met)
	assert.InDelta(t, -30, res.Delta, 1e-9)
}

func TestChange_ZeroBaselineNotMet(t *testing.T) {
	w := series(0, 0, 5, 5, 9, 9)
	res := Evaluate(change(types.ChangePercent, types.DirectionUp, 10), w)
	assert.False(t, res.Met)
	assert.False(t, res.DataGap)
	assert.Contains(t, res.Evidence.Reason, "zero")
}

func TestChange_MissingComparisonWindow(t *testing.T) {
	res := Evaluate(change(types.ChangePercent, types.DirectionUp, 10), series(1, 2))
	assert.False(t, res.Met)
	assert.True(t, res.DataGap)
}

func anomaly(sens float64, minDev time.Duration) types.Condition {
	return types.Condition{
		Kind: types.ConditionAnomaly,
		Anomaly: &types.AnomalyCondition{
			Sensitivity:          sens,
			BaselineWindow:       10 * time.Minute,
			MinDeviationDuration: minDev,
		},
	}
}

func TestAnomaly_SpikeDetected(t *testing.T) {
	w := series(10, 11, 9, 10, 11, 9, 10, 40)
	res := Evaluate(anomaly(3, 0), w)
	require.True(t, res.Met, res.Evidence.Reason)
	assert.InDelta(t, 10, res.Threshold, 1e-9)
}

func TestAnomaly_RequiresSustainedDeviation(t *testing.T) {
	// Only the latest point deviates; two minutes of deviation are required.
	w := series(10, 11, 9, 10, 11, 9, 10, 40)
	res := Evaluate(anomaly(3, 2*time.Minute), w)
	assert.False(t, res.Met)

	w = series(10, 11, 9, 10, 11, 9, 40, 41)
	res = Evaluate(anomaly(3, 2*time.Minute), w)
	assert.True(t, res.Met, res.Evidence.Reason)
}

func TestAnomaly_ShortBaselineIsGap(t *testing.T) {
	res := Evaluate(anomaly(2, 0), series(10, 40))
	assert.True(t, res.DataGap)
	assert.False(t, res.Met)
}

func TestAnomaly_FlatBaseline(t *testing.T) {
	res := Evaluate(anomaly(3, 0), series(5, 5, 5, 5, 6))
	assert.True(t, res.Met, "any difference from a zero-variance baseline deviates")

	res = Evaluate(anomaly(3, 0), series(5, 5, 5, 5, 5))
	assert.False(t, res.Met)
}

func pattern(shape types.Shape, run, occ int) types.Condition {
	return types.Condition{
		Kind: types.ConditionPattern,
		Pattern: &types.PatternCondition{
			Shape:          shape,
			RunLength:      run,
			MinOccurrences: occ,
			Window:         30 * time.Minute,
			Magnitude:      5,
		},
	}
}

func TestPattern_MonotonicRuns(t *testing.T) {
	// Two non-overlapping increasing runs of 3 samples.
	w := series(1, 2, 3, 1, 2, 3, 0)
	res := Evaluate(pattern(types.ShapeIncreasing, 3, 2), w)
	require.True(t, res.Met, res.Evidence.Reason)
	assert.Equal(t, 2.0, res.Observed)

	res = Evaluate(pattern(types.ShapeIncreasing, 3, 3), w)
	assert.False(t, res.Met)

	// Runs do not share their boundary sample.
	res = Evaluate(pattern(types.ShapeIncreasing, 3, 1), series(1, 2, 3, 4, 5))
	assert.Equal(t, 1.0, res.Observed)
	res = Evaluate(pattern(types.ShapeIncreasing, 3, 1), series(1, 2, 3, 4, 5, 6))
	assert.Equal(t, 2.0, res.Observed)
	res = Evaluate(pattern(types.ShapeFlatline, 2, 1), series(7, 7, 7, 7, 7))
	assert.Equal(t, 2.0, res.Observed)
}

func TestPattern_FlatlineAndSpike(t *testing.T) {
	assert.True(t, Evaluate(pattern(types.ShapeFlatline, 4, 1), series(7, 7, 7, 7)).Met)
	assert.False(t, Evaluate(pattern(types.ShapeFlatline, 4, 1), series(7, 7, 8, 7)).Met)

	res := Evaluate(pattern(types.ShapeSpike, 0, 2), series(1, 10, 10, 2, 2))
	assert.True(t, res.Met)
	assert.Equal(t, 2.0, res.Observed)
}

func TestPattern_TooFewSamples(t *testing.T) {
	res := Evaluate(pattern(types.ShapeDecreasing, 5, 1), series(5, 4))
	assert.True(t, res.DataGap)
	assert.False(t, res.Met)
}

func TestEvaluate_MissingVariantIsGap(t *testing.T) {
	res := Evaluate(types.Condition{Kind: types.ConditionAnomaly}, series(1, 2, 3))
	assert.True(t, res.DataGap)
	res = Evaluate(types.Condition{Kind: "bogus"}, series(1))
	assert.True(t, res.DataGap)
}

func TestLookback(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Lookback(threshold(types.OpGreater, 1, 5*time.Minute)))
	assert.Equal(t, 6*time.Minute, Lookback(change(types.ChangeAbsolute, types.DirectionUp, 1)))
	assert.Equal(t, 12*time.Minute, Lookback(anomaly(2, 2*time.Minute)))
	assert.Equal(t, 30*time.Minute, Lookback(pattern(types.ShapeSpike, 0, 1)))
}

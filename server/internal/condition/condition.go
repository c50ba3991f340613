package condition

import (
	"fmt"
	"math"
	"time"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// epsilon is the tolerance for == and != on float samples.
const epsilon = 1e-9

// Result is the outcome of one evaluation.
type Result struct {
	Met       bool     `json:"met"`
	DataGap   bool     `json:"data_gap,omitempty"`
	Observed  float64  `json:"observed_value"`
	Threshold float64  `json:"threshold_value"`
	Delta     float64  `json:"delta"`
	Evidence  Evidence `json:"evidence"`
}

// Evidence explains a Result.
type Evidence struct {
	Reason  string             `json:"reason"`
	Samples int                `json:"samples"`
	From    time.Time          `json:"from,omitempty"`
	To      time.Time          `json:"to,omitempty"`
	Details map[string]float64 `json:"details,omitempty"`
}

// Evaluate runs the variant selected by c.Kind over w. w must be ordered
// oldest first. A nil variant for the tag is reported as a data gap; callers
// are expected to have validated the condition beforehand.
func Evaluate(c types.Condition, w types.Window) Result {
	switch c.Kind {
	case types.ConditionThreshold:
		if c.Threshold == nil {
			return gap("threshold spec missing", 0)
		}
		return evalThreshold(*c.Threshold, w)
	case types.ConditionChange:
		if c.Change == nil {
			return gap("change spec missing", 0)
		}
		return evalChange(*c.Change, w)
	case types.ConditionAnomaly:
		if c.Anomaly == nil {
			return gap("anomaly spec missing", 0)
		}
		return evalAnomaly(*c.Anomaly, w)
	case types.ConditionPattern:
		if c.Pattern == nil {
			return gap("pattern spec missing", 0)
		}
		return evalPattern(*c.Pattern, w)
	default:
		return gap(fmt.Sprintf("unknown condition type %q", c.Kind), 0)
	}
}

// Lookback returns how much history Evaluate needs for c.
func Lookback(c types.Condition) time.Duration {
	switch c.Kind {
	case types.ConditionThreshold:
		if c.Threshold != nil {
			return c.Threshold.Duration
		}
	case types.ConditionChange:
		if c.Change != nil {
			return c.Change.Window + c.Change.ComparisonPeriod
		}
	case types.ConditionAnomaly:
		if c.Anomaly != nil {
			return c.Anomaly.BaselineWindow + c.Anomaly.MinDeviationDuration
		}
	case types.ConditionPattern:
		if c.Pattern != nil {
			return c.Pattern.Window
		}
	}
	return 0
}

// Compare applies op to v and threshold. Unknown operators never match.
func Compare(v float64, op types.Operator, threshold float64) bool {
	switch op {
	case types.OpGreater:
		return v > threshold
	case types.OpGreaterEqual:
		return v >= threshold
	case types.OpLess:
		return v < threshold
	case types.OpLessEqual:
		return v <= threshold
	case types.OpEqual:
		return math.Abs(v-threshold) <= epsilon
	case types.OpNotEqual:
		return math.Abs(v-threshold) > epsilon
	default:
		return false
	}
}

func gap(reason string, n int) Result {
	return Result{DataGap: true, Evidence: Evidence{Reason: reason, Samples: n}}
}

// trailing returns the samples with ts > end-d. For d == 0 only the last
// sample is returned.
func trailing(w types.Window, end time.Time, d time.Duration) types.Window {
	if len(w) == 0 {
		return nil
	}
	if d <= 0 {
		return w[len(w)-1:]
	}
	start := end.Add(-d)
	i := len(w)
	for i > 0 && w[i-1].Timestamp.After(start) {
		i--
	}
	return w[i:]
}

// between returns the samples with from < ts <= to.
func between(w types.Window, from, to time.Time) types.Window {
	var out types.Window
	for _, s := range w {
		if s.Timestamp.After(from) && !s.Timestamp.After(to) {
			out = append(out, s)
		}
	}
	return out
}

// step is the smallest positive gap between consecutive samples.
func step(w types.Window) (time.Duration, bool) {
	var min time.Duration
	found := false
	for i := 1; i < len(w); i++ {
		d := w[i].Timestamp.Sub(w[i-1].Timestamp)
		if d <= 0 {
			continue
		}
		if !found || d < min {
			min, found = d, true
		}
	}
	return min, found
}

// covers reports whether seg spans duration d, allowing one sampling step
// for the interval before the first sample.
func covers(seg types.Window, d time.Duration) bool {
	if d <= 0 {
		return len(seg) > 0
	}
	st, ok := step(seg)
	if !ok {
		return false
	}
	span := seg[len(seg)-1].Timestamp.Sub(seg[0].Timestamp)
	return span+st >= d
}

func aggregate(seg types.Window, agg types.Aggregation) float64 {
	if len(seg) == 0 {
		return 0
	}
	switch agg {
	case types.AggSum:
		var s float64
		for _, x := range seg {
			s += x.Value
		}
		return s
	case types.AggMin:
		m := seg[0].Value
		for _, x := range seg[1:] {
			m = math.Min(m, x.Value)
		}
		return m
	case types.AggMax:
		m := seg[0].Value
		for _, x := range seg[1:] {
			m = math.Max(m, x.Value)
		}
		return m
	case types.AggLast:
		return seg[len(seg)-1].Value
	default:
		var s float64
		for _, x := range seg {
			s += x.Value
		}
		return s / float64(len(seg))
	}
}

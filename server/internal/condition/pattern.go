package condition

import (
	"fmt"
	"math"

	"github.com/obsidianstack/alertengine/pkg/types"
)

const defaultRunLength = 3

func evalPattern(c types.PatternCondition, w types.Window) Result {
	latest, ok := w.Latest()
	if !ok {
		return gap("no samples", 0)
	}
	seg := trailing(w, latest.Timestamp, c.Window)
	run := c.RunLength
	if run <= 0 {
		run = defaultRunLength
	}
	need := run
	if c.Shape == types.ShapeSpike {
		need = 2
	}
	if len(seg) < need {
		return gap(fmt.Sprintf("window has %d samples, need %d", len(seg), need), len(seg))
	}

	var n int
	if c.Shape == types.ShapeSpike {
		n = countSpikes(seg, c.Magnitude)
	} else {
		n = countRuns(seg, run, stepMatcher(c.Shape))
	}

	return Result{
		Met:       n >= c.MinOccurrences,
		Observed:  float64(n),
		Threshold: float64(c.MinOccurrences),
		Delta:     float64(n - c.MinOccurrences),
		Evidence: Evidence{
			Reason:  fmt.Sprintf("%s occurred %d times in %s (need %d)", c.Shape, n, c.Window, c.MinOccurrences),
			Samples: len(seg),
			From:    seg[0].Timestamp,
			To:      latest.Timestamp,
		},
	}
}

func stepMatcher(s types.Shape) func(prev, cur float64) bool {
	switch s {
	case types.ShapeIncreasing:
		return func(prev, cur float64) bool { return cur > prev }
	case types.ShapeDecreasing:
		return func(prev, cur float64) bool { return cur < prev }
	case types.ShapeFlatline:
		return func(prev, cur float64) bool { return math.Abs(cur-prev) <= epsilon }
	default:
		return func(float64, float64) bool { return false }
	}
}

// countRuns counts non-overlapping runs of `run` consecutive samples in which
// every adjacent pair satisfies ok. A completed run's last sample is not
// reused as the first sample of the next one.
func countRuns(seg types.Window, run int, ok func(prev, cur float64) bool) int {
	count, length := 0, 1
	for i := 1; i < len(seg); i++ {
		if ok(seg[i-1].Value, seg[i].Value) {
			length++
		} else {
			length = 1
		}
		if length >= run {
			count++
			i++
			length = 1
		}
	}
	return count
}

func countSpikes(seg types.Window, magnitude float64) int {
	n := 0
	for i := 1; i < len(seg); i++ {
		if math.Abs(seg[i].Value-seg[i-1].Value) > magnitude {
			n++
		}
	}
	return n
}

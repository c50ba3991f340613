package condition

import (
	"fmt"
	"math"

	"github.com/obsidianstack/alertengine/pkg/types"
)

func evalChange(c types.ChangeCondition, w types.Window) Result {
	latest, ok := w.Latest()
	if !ok {
		return gap("no samples", 0)
	}
	end := latest.Timestamp
	cur := between(w, end.Add(-c.Window), end)
	baseEnd := end.Add(-c.ComparisonPeriod)
	base := between(w, baseEnd.Add(-c.Window), baseEnd)
	if len(cur) == 0 || len(base) == 0 {
		return gap("no samples in current or comparison window", len(cur)+len(base))
	}

	agg := c.Aggregation
	if agg == "" {
		agg = types.AggAvg
	}
	now := aggregate(cur, agg)
	then := aggregate(base, agg)

	change := now - then
	if c.Mode == types.ChangePercent {
		if then == 0 {
			return Result{
				Observed:  now,
				Threshold: c.Threshold,
				Evidence:  Evidence{Reason: "comparison baseline is zero", Samples: len(cur) + len(base)},
			}
		}
		change = change / math.Abs(then) * 100
	}

	var met bool
	switch c.Direction {
	case types.DirectionUp:
		met = change >= c.Threshold
	case types.DirectionDown:
		met = -change >= c.Threshold
	default:
		met = math.Abs(change) >= c.Threshold
	}

	unit := ""
	if c.Mode == types.ChangePercent {
		unit = "%"
	}
	return Result{
		Met:       met,
		Observed:  now,
		Threshold: c.Threshold,
		Delta:     change,
		Evidence: Evidence{
			Reason:  fmt.Sprintf("%s changed %.4g%s vs %s ago (threshold %.4g%s)", agg, change, unit, c.ComparisonPeriod, c.Threshold, unit),
			Samples: len(cur) + len(base),
			From:    base[0].Timestamp,
			To:      end,
			Details: map[string]float64{"current": now, "baseline": then},
		},
	}
}

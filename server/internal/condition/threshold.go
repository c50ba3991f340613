package condition

import (
	"fmt"

	"github.com/obsidianstack/alertengine/pkg/types"
)

func evalThreshold(c types.ThresholdCondition, w types.Window) Result {
	latest, ok := w.Latest()
	if !ok {
		return gap("no samples", 0)
	}
	seg := trailing(w, latest.Timestamp, c.Duration)
	if !covers(seg, c.Duration) {
		return gap(fmt.Sprintf("samples cover less than %s", c.Duration), len(seg))
	}

	res := Result{
		Observed:  latest.Value,
		Threshold: c.Value,
		Delta:     latest.Value - c.Value,
		Evidence: Evidence{
			Samples: len(seg),
			From:    seg[0].Timestamp,
			To:      latest.Timestamp,
		},
	}
	for _, s := range seg {
		if !Compare(s.Value, c.Operator, c.Value) {
			res.Evidence.Reason = fmt.Sprintf("sample %.4g at %s fails %s %.4g",
				s.Value, s.Timestamp.Format("15:04:05"), c.Operator, c.Value)
			return res
		}
	}
	res.Met = true
	res.Evidence.Reason = fmt.Sprintf("all %d samples %s %.4g for %s", len(seg), c.Operator, c.Value, c.Duration)
	return res
}

package condition

import (
	"fmt"
	"math"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// minBaselineSamples is the smallest baseline a standard deviation is
// computed from.
const minBaselineSamples = 3

func evalAnomaly(c types.AnomalyCondition, w types.Window) Result {
	latest, ok := w.Latest()
	if !ok {
		return gap("no samples", 0)
	}
	end := latest.Timestamp
	recent := trailing(w, end, c.MinDeviationDuration)
	if !covers(recent, c.MinDeviationDuration) {
		return gap(fmt.Sprintf("samples cover less than %s", c.MinDeviationDuration), len(recent))
	}
	baseEnd := recent[0].Timestamp
	var baseline types.Window
	for _, s := range between(w, baseEnd.Add(-c.BaselineWindow), baseEnd) {
		if s.Timestamp.Before(baseEnd) {
			baseline = append(baseline, s)
		}
	}
	if len(baseline) < minBaselineSamples {
		return gap(fmt.Sprintf("baseline has %d samples, need %d", len(baseline), minBaselineSamples), len(baseline))
	}

	mean, std := meanStd(baseline)
	limit := c.Sensitivity * std
	res := Result{
		Observed:  latest.Value,
		Threshold: mean,
		Delta:     latest.Value - mean,
		Evidence: Evidence{
			Samples: len(baseline) + len(recent),
			From:    baseline[0].Timestamp,
			To:      end,
			Details: map[string]float64{"mean": mean, "stddev": std, "sensitivity": c.Sensitivity},
		},
	}
	for _, s := range recent {
		dev := math.Abs(s.Value - mean)
		if dev <= limit {
			res.Evidence.Reason = fmt.Sprintf("sample %.4g within %.4g stddev of mean %.4g", s.Value, c.Sensitivity, mean)
			return res
		}
	}
	res.Met = true
	if std > 0 {
		res.Evidence.Details["zscore"] = (latest.Value - mean) / std
	}
	res.Evidence.Reason = fmt.Sprintf("%d samples beyond %.4g stddev of mean %.4g", len(recent), c.Sensitivity, mean)
	return res
}

func meanStd(w types.Window) (float64, float64) {
	var sum float64
	for _, s := range w {
		sum += s.Value
	}
	mean := sum / float64(len(w))
	var sq float64
	for _, s := range w {
		d := s.Value - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(w)))
}

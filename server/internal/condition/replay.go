package condition

import (
	"time"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// Step is one point of a replay trace.
type Step struct {
	At     time.Time `json:"at"`
	Result Result    `json:"result"`
}

// Trace is the replay of a condition over a historical window.
type Trace struct {
	WouldTrigger bool   `json:"would_trigger"`
	FirstMet     *Step  `json:"first_met,omitempty"`
	Final        Result `json:"final"`
	Steps        []Step `json:"steps"`
}

// Replay evaluates c at every sample of w as if that sample were the newest,
// using only history within Lookback. It has no side effects.
func Replay(c types.Condition, w types.Window) Trace {
	var tr Trace
	lb := Lookback(c)
	for i := range w {
		end := w[i].Timestamp
		var prefix types.Window
		for _, s := range w[:i+1] {
			if lb <= 0 || !s.Timestamp.Before(end.Add(-lb)) {
				prefix = append(prefix, s)
			}
		}
		r := Evaluate(c, prefix)
		st := Step{At: end, Result: r}
		tr.Steps = append(tr.Steps, st)
		if r.Met && tr.FirstMet == nil {
			first := st
			tr.FirstMet = &first
			tr.WouldTrigger = true
		}
		tr.Final = r
	}
	if len(w) == 0 {
		tr.Final = gap("no samples", 0)
	}
	return tr
}

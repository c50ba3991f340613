package types

import "time"

// Sample is one metric observation.
type Sample struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}

// Window is an ordered (oldest first) sequence of samples.
type Window []Sample

// Latest returns the newest sample and false if the window is empty.
func (w Window) Latest() (Sample, bool) {
	if len(w) == 0 {
		return Sample{}, false
	}
	return w[len(w)-1], true
}

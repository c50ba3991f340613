// Package condition evaluates a rule's condition spec against a window of
// metric samples.
//
// Evaluate dispatches on the condition's tag to one function per variant:
//
//	threshold  every sample in the trailing duration satisfies the operator
//	change     latest window aggregate vs. the same window one comparison period ago
//	anomaly    recent samples deviate from the baseline mean by N standard deviations
//	pattern    a named shape occurs at least N times inside the window
//
// Evaluation is pure: no I/O, no clock. Too few samples yields Met=false with
// DataGap=true, never an error. Replay evaluates every prefix of a historical
// window to build a trace for rule authoring.
package condition

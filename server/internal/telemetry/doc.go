// Package telemetry exposes the engine's Prometheus metrics.
//
// Metrics owns its registry so tests and multiple engines in one process do
// not collide on the default registerer. It implements the observer hooks
// of the dispatch and lifecycle packages and is passed to the engine for
// evaluation and suppression counts.
package telemetry

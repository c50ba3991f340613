// Package keylock provides in-process advisory mutexes keyed by string.
// The engine uses one Map for per-rule evaluation and one for per-alert
// state mutation. Entries are reference counted and dropped when unused.
package keylock

// Package store defines the repositories the alert engine reads and writes
// (rules, escalation policies, alerts, suppression state, notification
// attempts) and provides a thread-safe in-memory implementation.
//
// The SQLite implementation in store/sqlite satisfies the same interfaces.
// Every method returns types.ErrNotFound for unknown IDs and
// types.ErrConflict for a duplicate rule name within a workspace. Values
// returned are copies; callers may modify them freely.
package store

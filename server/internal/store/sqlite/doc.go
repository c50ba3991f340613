// Package sqlite implements the store repositories on an embedded SQLite
// database (modernc.org/sqlite, no cgo). Schema changes are applied in order
// from the migrations list and tracked in schema_version.
package sqlite

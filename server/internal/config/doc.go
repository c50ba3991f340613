// Package config loads config.yaml for the alert engine server.
//
// Sections:
//   - server     HTTP port, API auth, storage driver and log level
//   - engine     tick interval, worker bound, default cooldown, delivery retry policy
//   - channels   named delivery endpoints; URLs and SMTP passwords come from *_env variables
//   - workspaces rules, escalation policies and suppression windows per tenant
//   - scrape     Prometheus endpoints feeding the in-memory sample buffer
//
// Load applies defaults before unmarshalling, then validates every rule,
// policy, window and channel and checks cross references. Watch reloads
// the file on change.
package config

// Package settings is the host key-value store for bridge state.
//
// The myQ client keeps its token state and account id here; the bridge
// also writes the myq_configured flag and the last configuration error
// for display. Values are opaque strings.
//
// Three backends implement Store:
//
//   - SQLiteStore: the settings table in the bridge database (default)
//   - RedisStore: plain Redis keys under a configurable prefix
//   - MemoryStore: process memory, for tests and ephemeral runs
//
// Use New to pick a backend from configuration.
package settings

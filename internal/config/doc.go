// Package config loads and validates the TOML configuration shared by the
// distill supervisor, store service, and api service. All three processes load
// the same file; the supervisor passes its resolved path to the children so a
// fleet never runs with mixed settings.
package config

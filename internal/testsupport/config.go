package testsupport

import (
	"path/filepath"
	"testing"

	"distill/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.IngestDir = filepath.Join(base, "ingest")
	cfg.Paths.OutputDir = filepath.Join(base, "outputs")
	cfg.Paths.ReportDir = filepath.Join(base, "reports")
	cfg.Store.Bind = "127.0.0.1:0"
	cfg.API.Bind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithStoreBind overrides the store service bind address on the test config.
func WithStoreBind(bind string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Store.Bind = bind
	}
}

// WithAPIToken sets the bearer token required by the request-facing service.
func WithAPIToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.API.Token = token
	}
}

package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate checks the configuration for values the services cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return fmt.Errorf("config: paths.data_dir is required")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return fmt.Errorf("config: paths.log_dir is required")
	}
	if err := validateBind("store.bind", c.Store.Bind); err != nil {
		return err
	}
	if err := validateBind("api.bind", c.API.Bind); err != nil {
		return err
	}
	if c.Store.RequestTimeout <= 0 {
		return fmt.Errorf("config: store.request_timeout must be positive")
	}
	if c.Pipeline.Stage1Timeout <= 0 || c.Pipeline.Stage2Timeout <= 0 {
		return fmt.Errorf("config: pipeline stage timeouts must be positive")
	}
	if c.Pipeline.StuckResetMinutes <= 0 {
		return fmt.Errorf("config: pipeline.stuck_reset_minutes must be positive")
	}
	if c.Supervisor.StartupTimeout <= 0 {
		return fmt.Errorf("config: supervisor.startup_timeout must be positive")
	}
	if c.Supervisor.ShutdownGrace <= 0 {
		return fmt.Errorf("config: supervisor.shutdown_grace must be positive")
	}
	return nil
}

func validateBind(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("config: %s is required", field)
	}
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("config: %s must be host:port: %w", field, err)
	}
	return nil
}

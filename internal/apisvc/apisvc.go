// Package apisvc is the run loop of the request-facing service process: the
// HTTP surface, the pipeline runner, and the push channel. All task state
// lives behind the store client; this process can restart without losing
// anything but in-flight handler executions.
package apisvc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"distill/internal/analysis"
	"distill/internal/apiserver"
	"distill/internal/config"
	"distill/internal/ipc"
	"distill/internal/logging"
	"distill/internal/pipeline"
	"distill/internal/pushhub"
)

// ReadyMarker is printed on stdout once the service accepts requests.
const ReadyMarker = "distill api service ready"

// Run serves the request-facing API until the context is canceled. storeAddr
// overrides the configured store endpoint when non-empty.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, storeAddr string) error {
	log := logging.WithComponent(logger, "apisvc")

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	addr := strings.TrimSpace(storeAddr)
	if addr == "" {
		addr = cfg.Store.Bind
	}
	client := ipc.NewClient(addr, time.Duration(cfg.Store.RequestTimeout)*time.Second)

	hub := pushhub.NewHub()
	runner := pipeline.NewRunner(cfg, client,
		analysis.NewFileResolver(cfg.Paths.IngestDir),
		analysis.NewExtractor(cfg.Analysis.ExtractorCommand, cfg.Paths.OutputDir),
		analysis.NewReporter(cfg.Analysis.ReporterCommand, cfg.Paths.OutputDir, cfg.Paths.ReportDir),
		hub, logger)
	defer runner.Stop()

	srv := apiserver.NewServer(cfg, runner, hub, logger)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Stop()

	pidPath := filepath.Join(cfg.Paths.LogDir, "distill-api.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	fmt.Printf("%s addr=%s\n", ReadyMarker, srv.Addr())
	log.Info("api service ready",
		logging.String("addr", srv.Addr()),
		logging.String("store_addr", addr),
		logging.String(logging.FieldEventType, "api_ready"))

	<-ctx.Done()
	log.Info("api service stopping", logging.String(logging.FieldEventType, "api_stopping"))
	return nil
}

// Package storesvc is the run loop of the store service process: it owns the
// task database and answers the action-dispatch protocol. It is the only
// process that writes the database.
package storesvc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"log/slog"

	"distill/internal/config"
	"distill/internal/ipc"
	"distill/internal/logging"
	"distill/internal/store"
)

// ReadyMarker is printed on stdout once the service accepts requests.
const ReadyMarker = "distill store service ready"

// Run serves the store until the context is canceled.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	log := logging.WithComponent(logger, "storesvc")

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	srv, err := ipc.NewServer(ctx, cfg.Store.Bind, st, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	pidPath := filepath.Join(cfg.Paths.LogDir, "distill-store.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	srv.Serve()
	fmt.Printf("%s addr=%s\n", ReadyMarker, srv.Addr())
	log.Info("store service ready",
		logging.String("addr", srv.Addr()),
		logging.String("db", st.Path()),
		logging.String(logging.FieldEventType, "store_ready"))

	<-ctx.Done()
	log.Info("store service stopping", logging.String(logging.FieldEventType, "store_stopping"))
	return nil
}

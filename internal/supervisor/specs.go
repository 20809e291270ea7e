package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"distill/internal/config"
	"distill/internal/ipc"
)

// DefaultSpecs builds the production fleet: the store service first, then the
// request-facing api service. Both children re-exec the given binary with a
// service subcommand and the resolved config path.
func DefaultSpecs(cfg *config.Config, configPath, executable string) []ChildSpec {
	storeClient := ipc.NewClient(cfg.Store.Bind, 2*time.Second)
	healthURL := fmt.Sprintf("http://%s/api/health", cfg.API.Bind)

	return []ChildSpec{
		{
			Name:    "store",
			Command: executable,
			Args:    []string{"store", "--config", configPath},
			Ready: func(ctx context.Context) error {
				_, err := storeClient.Ping()
				return err
			},
			StateAfterReady: StateStoreReady,
		},
		{
			Name:    "api",
			Command: executable,
			Args:    []string{"api", "--config", configPath, "--store-addr", cfg.Store.Bind},
			// The health endpoint answers 200 only when the store is
			// reachable, so api readiness implies the whole stack is up.
			Ready: func(ctx context.Context) error {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
				if err != nil {
					return err
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("health returned %d", resp.StatusCode)
				}
				return nil
			},
			StateAfterReady: StateServicesUp,
		},
	}
}

// Package main hosts the distilld entrypoint: the supervisor by default, or a
// single service process when invoked with the store or api subcommand. The
// supervisor re-executes this same binary with those subcommands, so one
// executable carries the whole fleet.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/spf13/cobra"

	"distill/internal/apisvc"
	"distill/internal/config"
	"distill/internal/logging"
	"distill/internal/storesvc"
	"distill/internal/supervisor"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "distilld",
		Short:         "Distill service supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(configFlag)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(&configFlag))
	rootCmd.AddCommand(newStoreCommand(&configFlag))
	rootCmd.AddCommand(newAPICommand(&configFlag))

	return rootCmd
}

func newRunCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor (same as bare distilld)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(*configFlag)
		},
	}
}

func newStoreCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "store",
		Short: "Run the store service process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(*configFlag, storesvc.Run)
		},
	}
}

func newAPICommand(configFlag *string) *cobra.Command {
	var storeAddr string

	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the request-facing api service process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(*configFlag, func(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
				return apisvc.Run(ctx, cfg, logger, storeAddr)
			})
		},
	}
	cmd.Flags().StringVar(&storeAddr, "store-addr", "", "Override the store service address")
	return cmd
}

func runService(configPath string, run func(context.Context, *config.Config, *slog.Logger) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return run(ctx, cfg, logger)
}

func runSupervisor(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolvedPath, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	specs := supervisor.DefaultSpecs(cfg, resolvedPath, executable)
	return supervisor.New(cfg, logger, specs).Run(ctx)
}

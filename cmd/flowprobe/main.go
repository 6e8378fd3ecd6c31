// Command flowprobe runs the API test orchestration server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowprobe/flowprobe/internal/catalog"
	"github.com/flowprobe/flowprobe/internal/config"
	"github.com/flowprobe/flowprobe/internal/engine"
	"github.com/flowprobe/flowprobe/internal/frontend"
	"github.com/flowprobe/flowprobe/internal/logger"
	"github.com/flowprobe/flowprobe/internal/schedule"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "flowprobe",
		Short:   "Orchestrate HTTP API test suites as dependency graphs",
		Version: version,
	}
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	var opts []logger.Option
	if cfg.LogLevel == "debug" {
		opts = append(opts, logger.WithDebug())
	}
	opts = append(opts, logger.WithFormat(cfg.LogFormat))
	ctx = logger.WithLogger(ctx, logger.NewLogger(opts...))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := catalog.NewMemory()
	coord := engine.New(store, cfg)

	if cfg.SchedulerEnabled {
		dispatcher := schedule.NewDispatcher(store, coord, cfg.SchedulerTick)
		go dispatcher.Start(ctx)
	}

	server := frontend.NewServer(cfg, store, coord)
	return server.Start(ctx)
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/stagehand/internal/logging"
	"github.com/syntrixbase/stagehand/internal/services"
)

const initTimeout = 2 * time.Minute

func newServeCmd(load loader) *cobra.Command {
	var noHTTP, noMQ bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer logging.Shutdown()

			opts := services.DefaultOptions(cfg)
			opts.RunHTTP = !noHTTP
			opts.RunMQ = opts.RunMQ && !noMQ

			slog.Info("Starting stagehand", "version", version, "http", opts.RunHTTP, "mq", opts.RunMQ)
			mgr := services.NewManager(cfg, opts)

			initCtx, cancel := context.WithTimeout(context.Background(), initTimeout)
			defer cancel()
			if err := mgr.Init(initCtx); err != nil {
				slog.Error("Failed to initialize services", "error", err)
				return err
			}
			if err := mgr.Start(context.Background()); err != nil {
				slog.Error("Failed to start services", "error", err)
				return err
			}

			failed := make(chan error, 1)
			go func() { failed <- mgr.Wait() }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			var runErr error
			select {
			case sig := <-quit:
				slog.Info("Shutting down services", "signal", sig.String())
			case runErr = <-failed:
				slog.Error("Service failed, shutting down", "error", runErr)
			}

			if err := mgr.Shutdown(context.Background()); err != nil {
				slog.Error("Shutdown incomplete", "error", err)
				if runErr == nil {
					runErr = err
				}
			}
			slog.Info("All services stopped")
			return runErr
		},
	}
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "Do not serve the HTTP transport")
	cmd.Flags().BoolVar(&noMQ, "no-mq", false, "Do not serve the message queue transport")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalhouse/signalhouse/internal/clickhouse"
	"github.com/signalhouse/signalhouse/internal/dataset"
	"github.com/signalhouse/signalhouse/internal/web"
)

func newAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the interactive query API",
		Long:  "Serves the HTTP query endpoint, health check and prometheus metrics.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			executor, err := clickhouse.NewExecutor(clickhouse.Options{
				Addr:     []string{cfg.ClickHouse.Addr},
				Database: cfg.ClickHouse.Database,
				Username: cfg.ClickHouse.Username,
				Password: cfg.ClickHouse.Password,
			}, logger)
			if err != nil {
				return err
			}
			defer executor.Close() //nolint:errcheck

			registry := dataset.DefaultRegistry()
			pipeline := web.NewPipeline(registry, executor.Run, logger)
			apiCfg := web.APIConfig{
				RateLimitRPS:   cfg.RateLimitRPS,
				RateLimitBurst: cfg.RateLimitBurst,
				AllowedOrigins: cfg.CORSAllowedOrigins,
			}
			api := web.NewAPI(registry, pipeline, apiCfg, logger)

			server := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           api.Router(apiCfg),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				logger.Info("query API listening", "addr", cfg.ListenAddr)
				errc <- server.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger.Info("shutting down query API")
			return server.Shutdown(shutdownCtx)
		},
	}
}

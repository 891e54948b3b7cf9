package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dexHistory/internal/api"
	"dexHistory/internal/config"
	"dexHistory/internal/metrics"
	"dexHistory/internal/storage/postgres"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PGDSN == "" {
		return fmt.Errorf("pg-dsn is required")
	}

	ctx, stop := signalContext()
	defer stop()

	// Registers the collectors so /metrics exposes them with zero values.
	metrics.New(prometheus.DefaultRegisterer, "dexhistory")

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	controller := api.NewController(store, api.Config{AdminKey: cfg.AdminKey, StateName: cfg.StateName}, logger)

	logger.Info("api start",
		zap.String("listen", cfg.Listen),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Bool("admin", cfg.AdminKey != ""),
	)

	return serveHTTP(ctx, cfg.Listen, controller.NewRouter(), logger)
}

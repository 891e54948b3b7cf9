package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dexHistory/internal/config"
	"dexHistory/internal/storage/postgres"
)

func runVerify(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadVerify(cfgFile, cmd.Flags())
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

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	submitter, err := newSubmitter(ctx, cfg.Verify, store, logger, nil)
	if err != nil {
		return err
	}
	defer submitter.Close()

	verified, err := submitter.VerifyAll(ctx)
	if err != nil {
		return err
	}
	logger.Info("verification complete", zap.Int("verified", verified))
	return nil
}

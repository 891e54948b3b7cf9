package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Uniswap V2 style DEX history indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Index factory and pair events into Postgres",
		RunE:  runIndexer,
	}

	runCmd.Flags().String("rpc", "", "chain RPC URL")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("factory", "", "factory contract address")
	runCmd.Flags().String("reference-token", "", "wrapped native token priced by the oracle")
	runCmd.Flags().Uint64("from", 0, "start block (inclusive), ignored when a checkpoint exists")
	runCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	runCmd.Flags().Bool("follow", false, "keep polling the chain head after catching up")
	runCmd.Flags().Duration("poll-interval", 6*time.Second, "chain head poll interval in follow mode")
	runCmd.Flags().Uint64("batch-size", 500, "blocks per fetch")
	runCmd.Flags().Int("concurrency", 8, "parallel header and sender requests")
	runCmd.Flags().Bool("resolve-signers", true, "resolve the sender of each transaction")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("recompute-from", "", "drop all rows at or above this height before resuming")
	runCmd.Flags().String("state-name", "pipeline", "checkpoint name")
	runCmd.Flags().String("oracle-url", "", "CoinGecko compatible API base URL")
	runCmd.Flags().String("oracle-coin", "", "CoinGecko id of the reference token")
	runCmd.Flags().String("oracle-currency", "usd", "quote currency")
	runCmd.Flags().String("oracle-api-key", "", "CoinGecko API key")
	runCmd.Flags().String("static-price", "", "fixed reference price, replaces the oracle")
	runCmd.Flags().String("redis-addr", "", "redis address for the shared price cache")
	runCmd.Flags().String("redis-password", "", "redis password")
	runCmd.Flags().Int("redis-db", 0, "redis database")
	runCmd.Flags().Duration("redis-ttl", 30*24*time.Hour, "price cache ttl")
	runCmd.Flags().String("verify-url", "", "contract verification service URL, empty disables verification")
	runCmd.Flags().String("verify-source", "", "pair contract source file")
	runCmd.Flags().String("verify-cron", "0 */10 * * * *", "re-verification schedule (with seconds)")
	runCmd.Flags().Int("verify-workers", 4, "parallel verification requests")
	runCmd.Flags().String("nats-url", "", "NATS URL for block summaries, empty disables publishing")
	runCmd.Flags().String("nats-prefix", "dexhistory", "NATS subject prefix")
	runCmd.Flags().String("metrics-addr", ":9102", "metrics and health listen address, empty disables")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pools, series and token moderation over HTTP",
		RunE:  runServe,
	}

	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	serveCmd.Flags().String("listen", ":8080", "listen address")
	serveCmd.Flags().String("admin-key", "", "bearer key of the admin routes, empty disables them")
	serveCmd.Flags().String("state-name", "pipeline", "checkpoint name")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs into typed events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("factory", "", "factory contract address")
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/typed_events.jsonl", "output typed events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Submit every unverified pool once",
		RunE:  runVerify,
	}

	verifyCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	verifyCmd.Flags().String("verify-url", "", "contract verification service URL")
	verifyCmd.Flags().String("verify-source", "", "pair contract source file")
	verifyCmd.Flags().Int("verify-workers", 4, "parallel verification requests")
	verifyCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(verifyCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dexHistory/internal/aggregate"
	"dexHistory/internal/api"
	"dexHistory/internal/chain"
	"dexHistory/internal/config"
	"dexHistory/internal/dex"
	"dexHistory/internal/indexer"
	"dexHistory/internal/metrics"
	"dexHistory/internal/oracle"
	"dexHistory/internal/publish"
	"dexHistory/internal/storage/postgres"
	"dexHistory/internal/verify"
)

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	factory, err := indexer.ParseAddress("factory", cfg.Factory)
	if err != nil {
		return err
	}
	reference, err := indexer.ParseAddress("reference token", cfg.ReferenceToken)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer, "dexhistory")

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	decoder, err := dex.NewDecoder(factory)
	if err != nil {
		return err
	}

	source := chain.NewSource(chainClient, chain.SourceConfig{
		Topics:      decoder.Topics(),
		Concurrency: cfg.Concurrency,
	}, logger)
	defer source.Close()

	priceOracle, err := newOracle(ctx, cfg, logger)
	if err != nil {
		return err
	}

	deps := indexer.Deps{
		Source:  source,
		Head:    chainClient,
		Store:   store,
		Decoder: decoder,
		Tokens:  dex.NewTokenFetcher(chainClient, logger),
		Oracle:  priceOracle,
		Logger:  logger,
		Metrics: m,
	}
	if cfg.ResolveSigners {
		deps.Signers = chainClient
	}

	if cfg.Verify.URL != "" {
		submitter, err := newSubmitter(ctx, cfg.Verify, store, logger, m)
		if err != nil {
			return err
		}
		defer submitter.Close()
		deps.Verifier = submitter

		scheduler, err := verify.NewScheduler(ctx, cfg.Verify.Cron, 0, submitter, logger)
		if err != nil {
			return fmt.Errorf("verification cron: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	} else {
		logger.Info("contract verification disabled")
	}

	if cfg.NATSURL != "" {
		publisher, err := publish.Connect(cfg.NATSURL, cfg.NATSPrefix, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		deps.Publisher = publisher
	}

	if cfg.MetricsAddr != "" {
		health := api.NewController(store, api.Config{StateName: cfg.StateName}, logger)
		r := mux.NewRouter()
		r.HandleFunc("/healthz", health.HandleHealth).Methods(http.MethodGet)
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
		go serveHTTP(ctx, cfg.MetricsAddr, r, logger)
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock:      cfg.FromBlock,
		ToBlock:        cfg.ToBlock,
		Follow:         cfg.Follow,
		PollInterval:   cfg.PollInterval,
		BatchSize:      cfg.BatchSize,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
		StateName:      cfg.StateName,
		ReferenceToken: strings.ToLower(reference.Hex()),
		RecomputeFrom:  cfg.RecomputeFrom,
	}, deps)

	logger.Info("indexer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("factory", factory.Hex()),
		zap.String("reference_token", reference.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Bool("follow", cfg.Follow),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Bool("resolve_signers", cfg.ResolveSigners),
		zap.Bool("verification", cfg.Verify.URL != ""),
		zap.Bool("publish", cfg.NATSURL != ""),
	)

	return runner.Run(ctx)
}

// newOracle prefers a static price, then CoinGecko with an optional redis
// day cache.
func newOracle(ctx context.Context, cfg config.Config, logger *zap.Logger) (aggregate.PriceOracle, error) {
	if cfg.Oracle.StaticPrice != "" {
		price, err := decimal.NewFromString(cfg.Oracle.StaticPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid static price %q: %w", cfg.Oracle.StaticPrice, err)
		}
		logger.Info("using static reference price", zap.String("price", price.String()))
		return oracle.NewStatic(price), nil
	}

	var shared oracle.DayCache
	if cfg.Oracle.RedisAddr != "" {
		rdb, err := oracle.NewRedisClient(ctx, cfg.Oracle.RedisAddr, cfg.Oracle.RedisPass, cfg.Oracle.RedisDB)
		if err != nil {
			return nil, err
		}
		shared = oracle.NewRedisCache(rdb, "", cfg.Oracle.RedisTTL)
	}
	return oracle.NewCoinGecko(oracle.Config{
		BaseURL:      cfg.Oracle.BaseURL,
		CoinID:       cfg.Oracle.CoinID,
		Currency:     cfg.Oracle.Currency,
		APIKey:       cfg.Oracle.APIKey,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, shared, logger)
}

func newSubmitter(ctx context.Context, cfg config.VerifyConfig, store verify.PoolStore, logger *zap.Logger, m *metrics.Metrics) (*verify.Submitter, error) {
	vcfg := verify.DefaultConfig()
	vcfg.URL = cfg.URL
	vcfg.Workers = cfg.Workers
	if cfg.SourceFile != "" {
		source, err := os.ReadFile(cfg.SourceFile)
		if err != nil {
			return nil, fmt.Errorf("read contract source: %w", err)
		}
		vcfg.Source = string(source)
	}
	return verify.NewSubmitter(ctx, vcfg, store, logger, m)
}

// serveHTTP runs handler until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("http listener start", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http listener failed", zap.String("addr", addr), zap.Error(err))
		return err
	}
	return nil
}

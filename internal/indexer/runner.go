package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dexHistory/internal/aggregate"
	"dexHistory/internal/dex"
	"dexHistory/internal/handler"
	"dexHistory/internal/metrics"
	"dexHistory/internal/model"
	"dexHistory/internal/registry"
	"dexHistory/internal/retry"
)

// DefaultStateName is the indexer state row the pipeline checkpoints to.
const DefaultStateName = "pipeline"

// BlockSource yields every block in [from, to] in height order.
type BlockSource interface {
	Blocks(ctx context.Context, from, to uint64) ([]model.Block, error)
}

// Head reports the chain tip. Required when ToBlock is 0.
type Head interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Store is the persistence the pipeline reads on startup and commits to once
// per block.
type Store interface {
	registry.Loader
	aggregate.StateLoader
	handler.SupplyReader

	LoadState(ctx context.Context, name string) (uint64, bool, error)
	CommitBlock(ctx context.Context, name string, w model.BlockWrite) error
	TruncateFrom(ctx context.Context, name string, height uint64) error
}

// TokenFetcher loads metadata for tokens seen for the first time.
type TokenFetcher interface {
	FetchToken(ctx context.Context, token common.Address, blockHeight uint64) (model.Token, error)
}

// Verifier receives pools created in a committed block.
type Verifier interface {
	Submit(pool model.Pool)
}

// SignerResolver recovers the account that signed a transaction.
type SignerResolver interface {
	TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error)
}

// Publisher receives every committed block.
type Publisher interface {
	Publish(ctx context.Context, w model.BlockWrite) error
}

// RunConfig holds runtime settings for the pipeline.
type RunConfig struct {
	FromBlock      uint64
	ToBlock        uint64
	Follow         bool
	PollInterval   time.Duration
	BatchSize      uint64
	MaxRetries     int
	RetryBackoff   time.Duration
	StateName      string
	ReferenceToken string
	// RecomputeFrom drops everything at or above the height before resuming.
	RecomputeFrom *uint64
}

// Deps are the collaborators of a Runner. Signers, Verifier and Publisher are
// optional. Without Signers only the signers already present on a block are
// recorded.
type Deps struct {
	Source    BlockSource
	Head      Head
	Store     Store
	Decoder   *dex.Decoder
	Tokens    TokenFetcher
	Oracle    aggregate.PriceOracle
	Signers   SignerResolver
	Verifier  Verifier
	Publisher Publisher
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Runner applies blocks one at a time: events are handled in log order, the
// aggregators flush once, and the block commits atomically with the
// checkpoint.
type Runner struct {
	cfg  RunConfig
	deps Deps

	registry *registry.Registry
	market   *aggregate.Market
	ledger   *handler.Ledger
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	if cfg.StateName == "" {
		cfg.StateName = DefaultStateName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	reg := registry.New()
	return &Runner{
		cfg:      cfg,
		deps:     deps,
		registry: reg,
		market:   aggregate.NewMarket(cfg.ReferenceToken, deps.Oracle, reg, logger, m),
		ledger:   handler.NewLedger(deps.Store),
		logger:   logger,
		metrics:  m,
	}
}

// Registry exposes the pools and tokens known to the pipeline.
func (r *Runner) Registry() *registry.Registry {
	return r.registry
}

func (r *Runner) validate() error {
	switch {
	case r.deps.Source == nil:
		return fmt.Errorf("block source is nil")
	case r.deps.Store == nil:
		return fmt.Errorf("store is nil")
	case r.deps.Decoder == nil:
		return fmt.Errorf("decoder is nil")
	case r.deps.Tokens == nil:
		return fmt.Errorf("token fetcher is nil")
	case r.deps.Oracle == nil:
		return fmt.Errorf("price oracle is nil")
	case r.cfg.BatchSize == 0:
		return fmt.Errorf("batch size must be greater than zero")
	case r.cfg.ReferenceToken == "":
		return fmt.Errorf("reference token is required")
	case r.cfg.ToBlock == 0 && r.deps.Head == nil:
		return fmt.Errorf("chain head is required without an end block")
	case r.cfg.Follow && r.cfg.ToBlock != 0:
		return fmt.Errorf("follow mode requires an open end block")
	}
	return nil
}

// Run executes the indexing loop. It returns nil once the end block is
// committed, or when ctx is cancelled in follow mode.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.validate(); err != nil {
		return err
	}
	store := r.deps.Store

	if r.cfg.RecomputeFrom != nil {
		height := *r.cfg.RecomputeFrom
		if err := store.TruncateFrom(ctx, r.cfg.StateName, height); err != nil {
			return fmt.Errorf("recompute from %d: %w", height, err)
		}
		r.logger.Info("dropped rows for recompute", zap.Uint64("from", height))
	}

	if err := r.registry.Load(ctx, store); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	r.metrics.PoolsInRegistry.Set(float64(len(r.registry.Pools())))

	last, resumed, err := store.LoadState(ctx, r.cfg.StateName)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	from := StartHeight(r.cfg.FromBlock, last, resumed)
	if from != r.cfg.FromBlock {
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
	}

	var restoreAt uint64
	if from > 0 {
		restoreAt = from - 1
	}
	if err := r.market.Init(ctx, store, restoreAt, resumed && from > 0); err != nil {
		return fmt.Errorf("restore market state: %w", err)
	}

	for {
		to, err := r.target(ctx)
		if err != nil {
			return err
		}

		if from <= to {
			next, err := r.sync(ctx, from, to)
			if err != nil {
				return err
			}
			from = next
		} else if !r.cfg.Follow {
			r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		}

		if !r.cfg.Follow {
			return nil
		}
		if err := retry.Sleep(ctx, r.cfg.PollInterval); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (r *Runner) target(ctx context.Context) (uint64, error) {
	if r.cfg.ToBlock != 0 {
		return r.cfg.ToBlock, nil
	}
	var latest uint64
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = r.deps.Head.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	return latest, nil
}

// sync processes [from, to] and returns the next height to process.
func (r *Runner) sync(ctx context.Context, from, to uint64) (uint64, error) {
	batches, err := Window{From: from, To: to}.Batches(r.cfg.BatchSize)
	if err != nil {
		return from, err
	}

	next := from
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return next, err
		}

		r.logger.Info("fetch blocks", zap.Uint64("from", batch.From), zap.Uint64("to", batch.To))
		blocks, err := r.blocksWithRetry(ctx, batch.From, batch.To)
		if err != nil {
			r.metrics.ErrorsTotal.WithLabelValues("fetch").Inc()
			return next, fmt.Errorf("fetch blocks: %w", err)
		}

		events := 0
		for _, block := range blocks {
			if block.Height < next {
				continue
			}
			n, err := r.processBlock(ctx, block)
			if err != nil {
				return next, fmt.Errorf("block %d: %w", block.Height, err)
			}
			events += n
			next = block.Height + 1
		}

		r.logger.Info("batch complete", zap.Int("events", events), zap.Uint64("from", batch.From), zap.Uint64("to", batch.To))
	}
	return next, nil
}

func (r *Runner) blocksWithRetry(ctx context.Context, from, to uint64) ([]model.Block, error) {
	var blocks []model.Block
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		blocks, err = r.deps.Source.Blocks(ctx, from, to)
		if err != nil {
			r.logger.Warn("fetch blocks failed", zap.Error(err), zap.Uint64("from", from), zap.Uint64("to", to))
		}
		return err
	})
	return blocks, err
}

// signer returns the sender of txHash, looking it up at most once per block.
// A failed lookup is logged and leaves the signer empty.
func (r *Runner) signer(ctx context.Context, signers map[string]string, height uint64, txHash string) (string, error) {
	key := model.NormalizeAddress(txHash)
	if signer, ok := signers[key]; ok || r.deps.Signers == nil {
		return signer, nil
	}
	sender, err := r.deps.Signers.TransactionSender(ctx, common.HexToHash(txHash))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Warn("resolve signer failed", zap.Uint64("block", height), zap.String("tx", txHash), zap.Error(err))
		signers[key] = ""
		return "", nil
	}
	signers[key] = model.NormalizeAddress(sender.Hex())
	return signers[key], nil
}

// processBlock applies one block and commits it. Any error leaves the store
// untouched for this block.
func (r *Runner) processBlock(ctx context.Context, block model.Block) (int, error) {
	started := time.Now()
	w := model.BlockWrite{Block: block}
	signers := block.Signers
	if signers == nil {
		signers = make(map[string]string)
	}

	for _, log := range block.Logs {
		switch kind := r.deps.Decoder.Classify(log); {
		case kind == dex.KindPairCreated:
			if err := r.createPool(ctx, block, log, &w); err != nil {
				return 0, err
			}

		case kind.IsPairEvent():
			pool, ok := r.registry.Pool(log.Address)
			if !ok {
				continue
			}
			event, err := r.deps.Decoder.Decode(log)
			if err != nil {
				r.metrics.ErrorsTotal.WithLabelValues("decode").Inc()
				return 0, err
			}
			signer, err := r.signer(ctx, signers, block.Height, log.TxHash)
			if err != nil {
				return 0, err
			}
			env := handler.Env{
				Pool:   pool,
				Block:  block,
				Index:  log.LogIndex,
				Signer: signer,
				Market: r.market,
				Ledger: r.ledger,
			}
			row, err := handler.Handle(ctx, env, event)
			if err != nil {
				r.metrics.ErrorsTotal.WithLabelValues("handle").Inc()
				return 0, fmt.Errorf("handle %s %s: %w", kind, log.EventID(), err)
			}
			if row != nil {
				w.Events = append(w.Events, *row)
			}
		}
	}

	if err := r.market.Flush(ctx, &w); err != nil {
		r.metrics.ErrorsTotal.WithLabelValues("flush").Inc()
		return 0, fmt.Errorf("flush aggregators: %w", err)
	}
	if err := r.deps.Store.CommitBlock(ctx, r.cfg.StateName, w); err != nil {
		r.metrics.ErrorsTotal.WithLabelValues("commit").Inc()
		return 0, fmt.Errorf("commit: %w", err)
	}

	r.afterCommit(ctx, w)
	r.metrics.BlockProcessingDur.Observe(time.Since(started).Seconds())
	return len(w.Events), nil
}

func (r *Runner) afterCommit(ctx context.Context, w model.BlockWrite) {
	r.metrics.LastProcessedBlock.Set(float64(w.Block.Height))
	r.metrics.BlocksProcessed.Inc()
	for _, event := range w.Events {
		r.metrics.EventsProcessed.WithLabelValues(string(event.Type)).Inc()
	}

	if len(w.Pools) > 0 {
		r.metrics.PoolsInRegistry.Set(float64(len(r.registry.Pools())))
		for _, pool := range w.Pools {
			r.logger.Info("pool created",
				zap.Uint64("block", w.Block.Height),
				zap.String("pool", pool.Address),
				zap.String("token1", pool.Token1),
				zap.String("token2", pool.Token2),
			)
			if r.deps.Verifier != nil {
				r.deps.Verifier.Submit(pool)
			}
		}
	}

	if r.deps.Publisher != nil {
		if err := r.deps.Publisher.Publish(ctx, w); err != nil {
			r.metrics.PublishFailures.Inc()
			r.logger.Warn("publish block failed", zap.Uint64("block", w.Block.Height), zap.Error(err))
		}
	}
}

// createPool registers the pool of a PairCreated log and its unseen tokens.
// A pair that is already registered is left as is.
func (r *Runner) createPool(ctx context.Context, block model.Block, log model.LogRecord, w *model.BlockWrite) error {
	event, err := r.deps.Decoder.Decode(log)
	if err != nil {
		r.metrics.ErrorsTotal.WithLabelValues("decode").Inc()
		return err
	}
	args, ok := event.Args.(dex.PairCreatedArgs)
	if !ok {
		return fmt.Errorf("pair created %s: unexpected args %T", log.EventID(), event.Args)
	}
	if _, ok := r.registry.Pool(args.Pair.Hex()); ok {
		r.logger.Debug("pool already registered", zap.String("pool", args.Pair.Hex()))
		return nil
	}

	for _, address := range []common.Address{args.Token1, args.Token2} {
		if _, ok := r.registry.Token(address.Hex()); ok {
			continue
		}
		var token model.Token
		err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			token, err = r.deps.Tokens.FetchToken(ctx, address, block.Height)
			return err
		})
		if err != nil {
			r.metrics.ErrorsTotal.WithLabelValues("token").Inc()
			return fmt.Errorf("fetch token %s: %w", address.Hex(), err)
		}
		token.Address = model.NormalizeAddress(address.Hex())
		token.BlockHeight = block.Height
		if r.registry.AddToken(token) {
			w.Tokens = append(w.Tokens, token)
		}
	}

	pool, err := r.registry.AddPool(model.Pool{
		Address:     args.Pair.Hex(),
		Token1:      args.Token1.Hex(),
		Token2:      args.Token2.Hex(),
		EventID:     log.EventID(),
		BlockHeight: block.Height,
	})
	if err != nil {
		return err
	}
	r.market.AddPool(pool)
	w.Pools = append(w.Pools, pool)
	return nil
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dexHistory/internal/aggregate"
	"dexHistory/internal/dex"
	"dexHistory/internal/model"
)

// ErrMissingReserves is returned for a Sync event without both reserves.
var ErrMissingReserves = errors.New("sync event without reserves")

// Env is what a handler sees of the block being processed.
type Env struct {
	Pool   model.Pool
	Block  model.Block
	Index  uint64
	Signer string

	Market *aggregate.Market
	Ledger *Ledger
}

// Handle turns one decoded pair event into a PoolEvent and applies its side
// effects to the running aggregators. A nil event with a nil error means the
// log produces no row.
func Handle(ctx context.Context, env Env, event dex.Event) (*model.PoolEvent, error) {
	if env.Market == nil || !env.Market.Ready() {
		return nil, aggregate.ErrNotInitialized
	}

	switch args := event.Args.(type) {
	case dex.MintArgs:
		row := env.newEvent(model.PoolEventMint)
		row.SenderAddress = addressPtr(args.Sender)
		row.Amount1 = args.Amount1
		row.Amount2 = args.Amount2
		return row, nil

	case dex.BurnArgs:
		row := env.newEvent(model.PoolEventBurn)
		row.SenderAddress = addressPtr(args.Sender)
		row.ToAddress = addressPtr(args.To)
		row.Amount1 = args.Amount1
		row.Amount2 = args.Amount2
		return row, nil

	case dex.SwapArgs:
		row := env.newEvent(model.PoolEventSwap)
		row.SenderAddress = addressPtr(args.Sender)
		row.ToAddress = addressPtr(args.To)
		row.AmountIn1 = args.AmountIn1
		row.AmountIn2 = args.AmountIn2
		row.Amount1 = args.AmountOut1
		row.Amount2 = args.AmountOut2
		env.Market.Volume.Update(env.Pool.Address, args.AmountOut1, args.AmountOut2)
		return row, nil

	case dex.SyncArgs:
		return env.sync(args)

	case dex.TransferArgs:
		return env.transfer(ctx, args)

	default:
		return nil, fmt.Errorf("no handler for %s event %s", event.Kind, event.Log.EventID())
	}
}

func (env Env) sync(args dex.SyncArgs) (*model.PoolEvent, error) {
	if args.Reserve1 == nil || args.Reserve2 == nil {
		return nil, fmt.Errorf("pool %s event %s: %w", env.Pool.Address, model.EventID(env.Block.Height, env.Index), ErrMissingReserves)
	}
	row := env.newEvent(model.PoolEventSync)
	row.Reserved1 = args.Reserve1
	row.Reserved2 = args.Reserve2

	pool := env.Pool
	adjusted1 := aggregate.Adjust(args.Reserve1, pool.Decimals1)
	adjusted2 := aggregate.Adjust(args.Reserve2, pool.Decimals2)
	priced := !adjusted1.IsZero() && !adjusted2.IsZero()

	if priced {
		env.Market.Prices.UpdateReserves(pool.Token1, pool.Token2, adjusted1, adjusted2)
	}
	env.Market.Reserves.Update(pool.Address, args.Reserve1, args.Reserve2, row.ID)
	if priced {
		env.Market.Candles.Update(pool.Address, pool.Token1, aggregate.Ratio(adjusted2, adjusted1))
		env.Market.Candles.Update(pool.Address, pool.Token2, aggregate.Ratio(adjusted1, adjusted2))
	}
	return row, nil
}

func (env Env) transfer(ctx context.Context, args dex.TransferArgs) (*model.PoolEvent, error) {
	fromZero := args.From == (common.Address{})
	toZero := args.To == (common.Address{})
	if fromZero == toZero {
		return nil, nil
	}
	if env.Ledger == nil {
		return nil, fmt.Errorf("transfer %s: no supply ledger", model.EventID(env.Block.Height, env.Index))
	}

	value := args.Value
	if value == nil {
		value = new(big.Int)
	}
	previous, err := env.Ledger.Total(ctx, env.Pool.Address)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	supply := new(big.Int).Set(value)
	if fromZero {
		total.Add(previous, value)
	} else {
		total.Sub(previous, value)
		supply.Neg(supply)
	}
	env.Ledger.Set(env.Pool.Address, total)

	row := env.newEvent(model.PoolEventTransfer)
	row.SenderAddress = addressPtr(args.From)
	row.ToAddress = addressPtr(args.To)
	row.Supply = supply
	row.TotalSupply = new(big.Int).Set(total)
	return row, nil
}

func (env Env) newEvent(kind model.PoolEventType) *model.PoolEvent {
	row := &model.PoolEvent{
		ID:           model.EventID(env.Block.Height, env.Index),
		PoolID:       env.Pool.Address,
		Type:         kind,
		BlockHeight:  env.Block.Height,
		IndexInBlock: env.Index,
		Timestamp:    env.Block.Timestamp,
	}
	if env.Signer != "" {
		signer := model.NormalizeAddress(env.Signer)
		row.SignerAddress = &signer
	}
	return row
}

func addressPtr(addr common.Address) *string {
	s := model.NormalizeAddress(addr.Hex())
	return &s
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"dexHistory/internal/model"
	"dexHistory/internal/storage"
)

const (
	poolColumns  = `address, token1, token2, decimals1, decimals2, event_id, block_height, verified`
	tokenColumns = `address, decimals, name, symbol, approved, icon_url, block_height`
	eventColumns = `id, pool_id, type, block_height, index_in_block, block_timestamp,
		sender_address, to_address, signer_address,
		amount1::text, amount2::text, amount_in1::text, amount_in2::text,
		reserved1::text, reserved2::text, supply::text, total_supply::text`
	volumeColumns      = `id, block_height, block_hash, pool_id, volume1::text, volume2::text, block_timestamp`
	reserveColumns     = `id, block_height, block_hash, event_id, pool_id, reserved1::text, reserved2::text, block_timestamp`
	priceColumns       = `id, block_height, token, price::text, block_timestamp`
	candlestickColumns = `id, block_height, block_hash, pool_id, token, open::text, high::text, low::text, close::text, block_timestamp`
)

// LoadPools returns every pool in creation order.
func (s *Store) LoadPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pool ORDER BY block_height, event_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPool)
}

// Pools is LoadPools for the query surface.
func (s *Store) Pools(ctx context.Context) ([]model.Pool, error) {
	return s.LoadPools(ctx)
}

func (s *Store) Pool(ctx context.Context, address string) (model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pool WHERE address=$1`, model.NormalizeAddress(address))
	if err != nil {
		return model.Pool{}, err
	}
	pool, err := pgx.CollectOneRow(rows, scanPool)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Pool{}, fmt.Errorf("%w: %s", storage.ErrPoolNotFound, address)
	}
	return pool, err
}

func (s *Store) UnverifiedPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pool WHERE NOT verified ORDER BY block_height, event_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPool)
}

func (s *Store) LoadTokens(ctx context.Context) ([]model.Token, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tokenColumns+` FROM token ORDER BY address`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanToken)
}

func (s *Store) Token(ctx context.Context, address string) (model.Token, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tokenColumns+` FROM token WHERE address=$1`, model.NormalizeAddress(address))
	if err != nil {
		return model.Token{}, err
	}
	token, err := pgx.CollectOneRow(rows, scanToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Token{}, fmt.Errorf("token %s: %w", address, storage.ErrNotFound)
	}
	return token, err
}

func (s *Store) LatestReserves(ctx context.Context, atOrBefore uint64) ([]model.ReservedRaw, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (pool_id) `+reserveColumns+`
		FROM reserved_raw
		WHERE block_height <= $1
		ORDER BY pool_id, block_height DESC, event_id DESC
	`, int64(atOrBefore))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanReserve)
}

func (s *Store) LatestTokenPrices(ctx context.Context, atOrBefore uint64) ([]model.TokenPrice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (token) `+priceColumns+`
		FROM token_price
		WHERE block_height <= $1
		ORDER BY token, block_height DESC
	`, int64(atOrBefore))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPrice)
}

func (s *Store) LatestCandlesticks(ctx context.Context, atOrBefore uint64) ([]model.Candlestick, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (pool_id, token) `+candlestickColumns+`
		FROM candlestick
		WHERE block_height <= $1
		ORDER BY pool_id, token, block_height DESC
	`, int64(atOrBefore))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanCandlestick)
}

func (s *Store) LatestTransfer(ctx context.Context, pool string) (model.PoolEvent, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM pool_event
		WHERE pool_id=$1 AND type=$2
		ORDER BY block_height DESC, index_in_block DESC
		LIMIT 1
	`, model.NormalizeAddress(pool), string(model.PoolEventTransfer))
	if err != nil {
		return model.PoolEvent{}, false, err
	}
	event, err := pgx.CollectOneRow(rows, scanEvent)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PoolEvent{}, false, nil
	}
	if err != nil {
		return model.PoolEvent{}, false, err
	}
	return event, true, nil
}

func (s *Store) PoolEvents(ctx context.Context, pool string, kind model.PoolEventType, r storage.TimeRange) ([]model.PoolEvent, error) {
	from, to := bounds(r)
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM pool_event
		WHERE pool_id=$1 AND type=$2 AND block_timestamp >= $3 AND block_timestamp < $4
		ORDER BY block_height, index_in_block
	`, model.NormalizeAddress(pool), string(kind), from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEvent)
}

// Position sums the LP transfers signed by signer and the token amounts of
// their mints less their burns.
func (s *Store) Position(ctx context.Context, pool, signer string) (model.Position, error) {
	pos := model.NewPosition(pool, signer)
	var supply, locked1, locked2 string
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN type='Transfer' THEN supply END), 0)::text,
			COALESCE(SUM(CASE type WHEN 'Mint' THEN amount1 WHEN 'Burn' THEN -amount1 END), 0)::text,
			COALESCE(SUM(CASE type WHEN 'Mint' THEN amount2 WHEN 'Burn' THEN -amount2 END), 0)::text
		FROM pool_event
		WHERE pool_id=$1 AND signer_address=$2 AND type IN ('Transfer', 'Mint', 'Burn')
	`, pos.Pool, pos.Signer).Scan(&supply, &locked1, &locked2)
	if err != nil {
		return model.Position{}, err
	}
	if pos.Supply, err = parseInt(supply); err != nil {
		return model.Position{}, err
	}
	if pos.Locked1, err = parseInt(locked1); err != nil {
		return model.Position{}, err
	}
	if pos.Locked2, err = parseInt(locked2); err != nil {
		return model.Position{}, err
	}
	return pos, nil
}

func (s *Store) VolumeRows(ctx context.Context, pool string, r storage.TimeRange) ([]model.VolumeRaw, error) {
	from, to := bounds(r)
	rows, err := s.pool.Query(ctx, `
		SELECT `+volumeColumns+`
		FROM volume_raw
		WHERE pool_id=$1 AND block_timestamp >= $2 AND block_timestamp < $3
		ORDER BY block_height
	`, model.NormalizeAddress(pool), from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanVolume)
}

func (s *Store) ReserveRows(ctx context.Context, pool string, r storage.TimeRange) ([]model.ReservedRaw, error) {
	from, to := bounds(r)
	rows, err := s.pool.Query(ctx, `
		SELECT `+reserveColumns+`
		FROM reserved_raw
		WHERE pool_id=$1 AND block_timestamp >= $2 AND block_timestamp < $3
		ORDER BY block_height, event_id
	`, model.NormalizeAddress(pool), from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanReserve)
}

func (s *Store) CandlestickRows(ctx context.Context, pool, token string, r storage.TimeRange) ([]model.Candlestick, error) {
	from, to := bounds(r)
	rows, err := s.pool.Query(ctx, `
		SELECT `+candlestickColumns+`
		FROM candlestick
		WHERE pool_id=$1 AND token=$2 AND block_timestamp >= $3 AND block_timestamp < $4
		ORDER BY block_height
	`, model.NormalizeAddress(pool), model.NormalizeAddress(token), from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanCandlestick)
}

func (s *Store) TokenPriceRows(ctx context.Context, token string, r storage.TimeRange) ([]model.TokenPrice, error) {
	from, to := bounds(r)
	rows, err := s.pool.Query(ctx, `
		SELECT `+priceColumns+`
		FROM token_price
		WHERE token=$1 AND block_timestamp >= $2 AND block_timestamp < $3
		ORDER BY block_height
	`, model.NormalizeAddress(token), from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPrice)
}

var (
	minTime = time.Unix(0, 0).UTC()
	maxTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

func bounds(r storage.TimeRange) (time.Time, time.Time) {
	from, to := r.From, r.To
	if from.IsZero() {
		from = minTime
	}
	if to.IsZero() {
		to = maxTime
	}
	return from, to
}

func scanPool(row pgx.CollectableRow) (model.Pool, error) {
	var (
		p      model.Pool
		d1, d2 int16
		height int64
	)
	if err := row.Scan(&p.Address, &p.Token1, &p.Token2, &d1, &d2, &p.EventID, &height, &p.Verified); err != nil {
		return model.Pool{}, err
	}
	p.Decimals1, p.Decimals2, p.BlockHeight = uint8(d1), uint8(d2), uint64(height)
	return p, nil
}

func scanToken(row pgx.CollectableRow) (model.Token, error) {
	var (
		t        model.Token
		decimals int16
		height   int64
	)
	if err := row.Scan(&t.Address, &decimals, &t.Name, &t.Symbol, &t.Approved, &t.IconURL, &height); err != nil {
		return model.Token{}, err
	}
	t.Decimals, t.BlockHeight = uint8(decimals), uint64(height)
	return t, nil
}

func scanEvent(row pgx.CollectableRow) (model.PoolEvent, error) {
	var (
		e             model.PoolEvent
		kind          string
		height, index int64
		nums          [8]*string
	)
	if err := row.Scan(
		&e.ID, &e.PoolID, &kind, &height, &index, &e.Timestamp,
		&e.SenderAddress, &e.ToAddress, &e.SignerAddress,
		&nums[0], &nums[1], &nums[2], &nums[3], &nums[4], &nums[5], &nums[6], &nums[7],
	); err != nil {
		return model.PoolEvent{}, err
	}
	e.Type = model.PoolEventType(kind)
	e.BlockHeight, e.IndexInBlock = uint64(height), uint64(index)
	e.Timestamp = e.Timestamp.UTC()

	targets := []**big.Int{&e.Amount1, &e.Amount2, &e.AmountIn1, &e.AmountIn2, &e.Reserved1, &e.Reserved2, &e.Supply, &e.TotalSupply}
	for i, target := range targets {
		v, err := parseOptionalInt(nums[i])
		if err != nil {
			return model.PoolEvent{}, fmt.Errorf("event %s: %w", e.ID, err)
		}
		*target = v
	}
	return e, nil
}

func scanVolume(row pgx.CollectableRow) (model.VolumeRaw, error) {
	var (
		v      model.VolumeRaw
		height int64
		v1, v2 string
	)
	if err := row.Scan(&v.ID, &height, &v.BlockHash, &v.PoolID, &v1, &v2, &v.Timestamp); err != nil {
		return model.VolumeRaw{}, err
	}
	var err error
	if v.Volume1, err = parseInt(v1); err != nil {
		return model.VolumeRaw{}, err
	}
	if v.Volume2, err = parseInt(v2); err != nil {
		return model.VolumeRaw{}, err
	}
	v.BlockHeight, v.Timestamp = uint64(height), v.Timestamp.UTC()
	return v, nil
}

func scanReserve(row pgx.CollectableRow) (model.ReservedRaw, error) {
	var (
		r      model.ReservedRaw
		height int64
		r1, r2 string
	)
	if err := row.Scan(&r.ID, &height, &r.BlockHash, &r.EventID, &r.PoolID, &r1, &r2, &r.Timestamp); err != nil {
		return model.ReservedRaw{}, err
	}
	var err error
	if r.Reserved1, err = parseInt(r1); err != nil {
		return model.ReservedRaw{}, err
	}
	if r.Reserved2, err = parseInt(r2); err != nil {
		return model.ReservedRaw{}, err
	}
	r.BlockHeight, r.Timestamp = uint64(height), r.Timestamp.UTC()
	return r, nil
}

func scanPrice(row pgx.CollectableRow) (model.TokenPrice, error) {
	var (
		p      model.TokenPrice
		height int64
		price  string
	)
	if err := row.Scan(&p.ID, &height, &p.Token, &price, &p.Timestamp); err != nil {
		return model.TokenPrice{}, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return model.TokenPrice{}, fmt.Errorf("token price %s: %w", p.ID, err)
	}
	p.BlockHeight, p.Timestamp = uint64(height), p.Timestamp.UTC()
	return p, nil
}

func scanCandlestick(row pgx.CollectableRow) (model.Candlestick, error) {
	var (
		c      model.Candlestick
		height int64
		ohlc   [4]string
	)
	if err := row.Scan(&c.ID, &height, &c.BlockHash, &c.PoolID, &c.Token, &ohlc[0], &ohlc[1], &ohlc[2], &ohlc[3], &c.Timestamp); err != nil {
		return model.Candlestick{}, err
	}
	targets := []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close}
	for i, target := range targets {
		v, err := decimal.NewFromString(ohlc[i])
		if err != nil {
			return model.Candlestick{}, fmt.Errorf("candlestick %s: %w", c.ID, err)
		}
		*target = v
	}
	c.BlockHeight, c.Timestamp = uint64(height), c.Timestamp.UTC()
	return c, nil
}

func numeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func numericOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse numeric %q", s)
	}
	return v, nil
}

func parseOptionalInt(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	return parseInt(*s)
}

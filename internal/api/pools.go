package api

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"dexHistory/internal/aggregate"
	"dexHistory/internal/model"
	"dexHistory/internal/rollup"
	"dexHistory/internal/storage"
)

type tokenView struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	IconURL  string `json:"icon_url,omitempty"`
	Approved *bool  `json:"approved"`
}

// PoolView is a pool with token metadata, latest reserves and value locked.
type PoolView struct {
	Address     string          `json:"address"`
	Token1      tokenView       `json:"token1"`
	Token2      tokenView       `json:"token2"`
	Verified    bool            `json:"verified"`
	BlockHeight uint64          `json:"block_height"`
	Reserved1   *big.Int        `json:"reserved1"`
	Reserved2   *big.Int        `json:"reserved2"`
	TVL         decimal.Decimal `json:"tvl"`

	DayVolume1     *big.Int         `json:"day_volume1,omitempty"`
	DayVolume2     *big.Int         `json:"day_volume2,omitempty"`
	PrevDayVolume1 *big.Int         `json:"prev_day_volume1,omitempty"`
	PrevDayVolume2 *big.Int         `json:"prev_day_volume2,omitempty"`
	VolumeChange1  *decimal.Decimal `json:"volume_change1,omitempty"`
	VolumeChange2  *decimal.Decimal `json:"volume_change2,omitempty"`

	// Set when the request names a signer.
	UserSupply  *big.Int `json:"user_supply,omitempty"`
	UserLocked1 *big.Int `json:"user_locked1,omitempty"`
	UserLocked2 *big.Int `json:"user_locked2,omitempty"`
}

// snapshot is the market state at the last committed block.
type snapshot struct {
	reserves map[string]model.ReservedRaw
	prices   map[string]decimal.Decimal
	tokens   map[string]model.Token
}

func (c *Controller) loadSnapshot(ctx context.Context) (snapshot, error) {
	snap := snapshot{
		reserves: map[string]model.ReservedRaw{},
		prices:   map[string]decimal.Decimal{},
		tokens:   map[string]model.Token{},
	}
	height, ok, err := c.reader.LoadState(ctx, c.cfg.StateName)
	if err != nil || !ok {
		return snap, err
	}
	reserves, err := c.reader.LatestReserves(ctx, height)
	if err != nil {
		return snap, err
	}
	for _, r := range reserves {
		snap.reserves[r.PoolID] = r
	}
	prices, err := c.reader.LatestTokenPrices(ctx, height)
	if err != nil {
		return snap, err
	}
	for _, p := range prices {
		snap.prices[p.Token] = p.Price
	}
	return snap, nil
}

func (c *Controller) token(ctx context.Context, snap snapshot, address string) (tokenView, error) {
	t, ok := snap.tokens[address]
	if !ok {
		var err error
		if t, err = c.reader.Token(ctx, address); err != nil {
			return tokenView{}, err
		}
		snap.tokens[address] = t
	}
	return tokenView{Address: t.Address, Symbol: t.Symbol, Name: t.Name, Decimals: t.Decimals, IconURL: t.IconURL, Approved: t.Approved}, nil
}

func (c *Controller) poolView(ctx context.Context, snap snapshot, pool model.Pool) (PoolView, error) {
	view := PoolView{Address: pool.Address, Verified: pool.Verified, BlockHeight: pool.BlockHeight, Reserved1: new(big.Int), Reserved2: new(big.Int)}
	var err error
	if view.Token1, err = c.token(ctx, snap, pool.Token1); err != nil {
		return view, err
	}
	if view.Token2, err = c.token(ctx, snap, pool.Token2); err != nil {
		return view, err
	}
	if r, ok := snap.reserves[pool.Address]; ok {
		view.Reserved1, view.Reserved2 = r.Reserved1, r.Reserved2
	}
	view.TVL = aggregate.PoolTVL(pool, view.Reserved1, view.Reserved2, snap.prices[pool.Token1], snap.prices[pool.Token2])
	return view, nil
}

// signerParam returns the normalized signer query parameter, or "" when the
// request names none.
func signerParam(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("signer")
	if raw == "" {
		return "", nil
	}
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("invalid signer %q", raw)
	}
	return model.NormalizeAddress(raw), nil
}

// withPosition adds what signer holds in the pool to view.
func (c *Controller) withPosition(ctx context.Context, view *PoolView, signer string) error {
	if signer == "" {
		return nil
	}
	pos, err := c.reader.Position(ctx, view.Address, signer)
	if err != nil {
		return err
	}
	view.UserSupply, view.UserLocked1, view.UserLocked2 = pos.Supply, pos.Locked1, pos.Locked2
	return nil
}

// HandlePools lists verified pools. verified=false lists every pool.
func (c *Controller) HandlePools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verifiedOnly := true
	if raw := r.URL.Query().Get("verified"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid verified %q", raw))
			return
		}
		verifiedOnly = v
	}
	signer, err := signerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pools, err := c.reader.Pools(ctx)
	if err != nil {
		c.fail(w, err)
		return
	}
	snap, err := c.loadSnapshot(ctx)
	if err != nil {
		c.fail(w, err)
		return
	}
	views := make([]PoolView, 0, len(pools))
	for _, pool := range pools {
		if verifiedOnly && !pool.Verified {
			continue
		}
		view, err := c.poolView(ctx, snap, pool)
		if err != nil {
			c.fail(w, err)
			return
		}
		if err := c.withPosition(ctx, &view, signer); err != nil {
			c.fail(w, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// HandlePool returns one pool with its current and previous day volume, and
// the position of the signer query parameter when given.
func (c *Controller) HandlePool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	signer, err := signerParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pool, err := c.reader.Pool(ctx, mux.Vars(r)["address"])
	if err != nil {
		c.fail(w, err)
		return
	}
	snap, err := c.loadSnapshot(ctx)
	if err != nil {
		c.fail(w, err)
		return
	}
	view, err := c.poolView(ctx, snap, pool)
	if err != nil {
		c.fail(w, err)
		return
	}

	today := rollup.Day.Truncate(c.now())
	yesterday := rollup.Day.Previous(today)
	rows, err := c.reader.VolumeRows(ctx, pool.Address, storage.TimeRange{From: yesterday})
	if err != nil {
		c.fail(w, err)
		return
	}
	view.DayVolume1, view.DayVolume2 = new(big.Int), new(big.Int)
	view.PrevDayVolume1, view.PrevDayVolume2 = new(big.Int), new(big.Int)
	for _, b := range rollup.Volume(rollup.Day, rows) {
		switch {
		case b.Start.Equal(today):
			view.DayVolume1, view.DayVolume2 = b.Volume1, b.Volume2
		case b.Start.Equal(yesterday):
			view.PrevDayVolume1, view.PrevDayVolume2 = b.Volume1, b.Volume2
		}
	}
	change1 := rollup.Change(asDecimal(view.DayVolume1), asDecimal(view.PrevDayVolume1))
	change2 := rollup.Change(asDecimal(view.DayVolume2), asDecimal(view.PrevDayVolume2))
	view.VolumeChange1, view.VolumeChange2 = &change1, &change2

	if err := c.withPosition(ctx, &view, signer); err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func asDecimal(v *big.Int) *decimal.Decimal {
	d := decimal.NewFromBigInt(v, 0)
	return &d
}

// series resolves the pool and query window shared by the rollup routes.
func (c *Controller) series(w http.ResponseWriter, r *http.Request) (model.Pool, seriesQuery, bool) {
	q, err := parseSeries(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.Pool{}, q, false
	}
	pool, err := c.reader.Pool(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		c.fail(w, err)
		return model.Pool{}, q, false
	}
	return pool, q, true
}

func (c *Controller) HandleVolume(w http.ResponseWriter, r *http.Request) {
	pool, q, ok := c.series(w, r)
	if !ok {
		return
	}
	rows, err := c.reader.VolumeRows(r.Context(), pool.Address, q.window)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup.Volume(q.duration, rows))
}

func (c *Controller) HandleFees(w http.ResponseWriter, r *http.Request) {
	pool, q, ok := c.series(w, r)
	if !ok {
		return
	}
	events, err := c.reader.PoolEvents(r.Context(), pool.Address, model.PoolEventSwap, q.window)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup.Fees(q.duration, events))
}

func (c *Controller) HandleReserves(w http.ResponseWriter, r *http.Request) {
	pool, q, ok := c.series(w, r)
	if !ok {
		return
	}
	rows, err := c.reader.ReserveRows(r.Context(), pool.Address, q.window)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup.Reserves(q.duration, rows))
}

func (c *Controller) HandleSupply(w http.ResponseWriter, r *http.Request) {
	pool, q, ok := c.series(w, r)
	if !ok {
		return
	}
	events, err := c.reader.PoolEvents(r.Context(), pool.Address, model.PoolEventTransfer, q.window)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup.Supply(q.duration, events))
}

// HandleCandlesticks serves OHLC of one of the pool's tokens, chosen with
// the token query parameter.
func (c *Controller) HandleCandlesticks(w http.ResponseWriter, r *http.Request) {
	pool, q, ok := c.series(w, r)
	if !ok {
		return
	}
	token := model.NormalizeAddress(r.URL.Query().Get("token"))
	if token == "" || !pool.HasToken(token) {
		writeError(w, http.StatusBadRequest, "token must be one of the pool tokens")
		return
	}
	rows, err := c.reader.CandlestickRows(r.Context(), pool.Address, token, q.window)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup.Candlesticks(q.duration, rows))
}

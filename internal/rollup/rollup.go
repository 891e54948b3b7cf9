// Package rollup buckets per-block market rows into minute, hour, day and
// week series. Within a bucket rows are ordered by (block height, index in
// block): "first" is the lowest and "last" the highest.
package rollup

import (
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dexHistory/internal/model"
)

// FeeRate is the pair fee charged on each non-zero swap input.
var FeeRate = decimal.RequireFromString("0.0003")

type VolumeBucket struct {
	PoolID  string    `json:"pool_id"`
	Start   time.Time `json:"timestamp"`
	Volume1 *big.Int  `json:"volume1"`
	Volume2 *big.Int  `json:"volume2"`
}

type FeeBucket struct {
	PoolID string          `json:"pool_id"`
	Start  time.Time       `json:"timestamp"`
	Fee1   decimal.Decimal `json:"fee1"`
	Fee2   decimal.Decimal `json:"fee2"`
}

type ReservesBucket struct {
	PoolID    string    `json:"pool_id"`
	Start     time.Time `json:"timestamp"`
	Reserved1 *big.Int  `json:"reserved1"`
	Reserved2 *big.Int  `json:"reserved2"`
}

type CandleBucket struct {
	PoolID string          `json:"pool_id"`
	Token  string          `json:"token"`
	Start  time.Time       `json:"timestamp"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
}

type SupplyBucket struct {
	PoolID      string    `json:"pool_id"`
	Start       time.Time `json:"timestamp"`
	TotalSupply *big.Int  `json:"total_supply"`
}

type PriceBucket struct {
	Token string          `json:"token"`
	Start time.Time       `json:"timestamp"`
	Price decimal.Decimal `json:"price"`
}

// Volume sums swap output volume per pool and bucket.
func Volume(d Duration, rows []model.VolumeRaw) []VolumeBucket {
	groups := groupRows(d, rows, func(r model.VolumeRaw) position {
		return position{key: r.PoolID, height: r.BlockHeight, at: r.Timestamp}
	})
	out := make([]VolumeBucket, 0, len(groups))
	for _, g := range groups {
		b := VolumeBucket{PoolID: g.rows[0].PoolID, Start: g.start, Volume1: new(big.Int), Volume2: new(big.Int)}
		for _, r := range g.rows {
			if r.Volume1 != nil {
				b.Volume1.Add(b.Volume1, r.Volume1)
			}
			if r.Volume2 != nil {
				b.Volume2.Add(b.Volume2, r.Volume2)
			}
		}
		out = append(out, b)
	}
	return out
}

// Fees sums the fees of swap events per pool and bucket. Rows of other types
// are ignored. Each input leg pays amountIn × FeeRate, a zero leg pays zero.
func Fees(d Duration, events []model.PoolEvent) []FeeBucket {
	swaps := make([]model.PoolEvent, 0, len(events))
	for _, e := range events {
		if e.Type == model.PoolEventSwap {
			swaps = append(swaps, e)
		}
	}
	groups := groupRows(d, swaps, eventPosition)
	out := make([]FeeBucket, 0, len(groups))
	for _, g := range groups {
		b := FeeBucket{PoolID: g.rows[0].PoolID, Start: g.start, Fee1: decimal.Zero, Fee2: decimal.Zero}
		for _, e := range g.rows {
			b.Fee1 = b.Fee1.Add(Fee(e.AmountIn1))
			b.Fee2 = b.Fee2.Add(Fee(e.AmountIn2))
		}
		out = append(out, b)
	}
	return out
}

// Fee is the fee paid on one swap input amount.
func Fee(amountIn *big.Int) decimal.Decimal {
	if amountIn == nil || amountIn.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amountIn, 0).Mul(FeeRate)
}

// Reserves keeps the last observed reserves per pool and bucket.
func Reserves(d Duration, rows []model.ReservedRaw) []ReservesBucket {
	groups := groupRows(d, rows, func(r model.ReservedRaw) position {
		return position{key: r.PoolID, height: r.BlockHeight, index: eventIndex(r.EventID), at: r.Timestamp}
	})
	out := make([]ReservesBucket, 0, len(groups))
	for _, g := range groups {
		last := g.rows[len(g.rows)-1]
		out = append(out, ReservesBucket{PoolID: last.PoolID, Start: g.start, Reserved1: last.Reserved1, Reserved2: last.Reserved2})
	}
	return out
}

// Candlesticks merges per-block candles per (pool, token) and bucket.
func Candlesticks(d Duration, rows []model.Candlestick) []CandleBucket {
	groups := groupRows(d, rows, func(r model.Candlestick) position {
		return position{key: r.PoolID + "/" + r.Token, height: r.BlockHeight, at: r.Timestamp}
	})
	out := make([]CandleBucket, 0, len(groups))
	for _, g := range groups {
		first, last := g.rows[0], g.rows[len(g.rows)-1]
		b := CandleBucket{
			PoolID: first.PoolID,
			Token:  first.Token,
			Start:  g.start,
			Open:   first.Open,
			High:   first.High,
			Low:    first.Low,
			Close:  last.Close,
		}
		for _, r := range g.rows[1:] {
			b.High = decimal.Max(b.High, r.High)
			b.Low = decimal.Min(b.Low, r.Low)
		}
		out = append(out, b)
	}
	return out
}

// Supply keeps the last running LP total per pool and bucket. Only Transfer
// events carry a total; rows of other types are ignored.
func Supply(d Duration, events []model.PoolEvent) []SupplyBucket {
	transfers := make([]model.PoolEvent, 0, len(events))
	for _, e := range events {
		if e.Type == model.PoolEventTransfer && e.TotalSupply != nil {
			transfers = append(transfers, e)
		}
	}
	groups := groupRows(d, transfers, eventPosition)
	out := make([]SupplyBucket, 0, len(groups))
	for _, g := range groups {
		last := g.rows[len(g.rows)-1]
		out = append(out, SupplyBucket{PoolID: last.PoolID, Start: g.start, TotalSupply: last.TotalSupply})
	}
	return out
}

// TokenPrices keeps the last price per token and bucket.
func TokenPrices(d Duration, rows []model.TokenPrice) []PriceBucket {
	groups := groupRows(d, rows, func(r model.TokenPrice) position {
		return position{key: r.Token, height: r.BlockHeight, at: r.Timestamp}
	})
	out := make([]PriceBucket, 0, len(groups))
	for _, g := range groups {
		last := g.rows[len(g.rows)-1]
		out = append(out, PriceBucket{Token: last.Token, Start: g.start, Price: last.Price})
	}
	return out
}

var hundred = decimal.NewFromInt(100)

// Change is the percentage change from previous to current. Missing values
// count as zero; growth from zero is reported as 100.
func Change(current, previous *decimal.Decimal) decimal.Decimal {
	cur, prev := decimal.Zero, decimal.Zero
	if current != nil {
		cur = *current
	}
	if previous != nil {
		prev = *previous
	}
	if prev.IsZero() {
		if cur.IsZero() {
			return decimal.Zero
		}
		return hundred
	}
	return cur.Sub(prev).DivRound(prev, 18).Mul(hundred)
}

type position struct {
	key    string
	height uint64
	index  uint64
	at     time.Time
}

type group[T any] struct {
	key   string
	start time.Time
	rows  []T
}

func eventPosition(e model.PoolEvent) position {
	return position{key: e.PoolID, height: e.BlockHeight, index: e.IndexInBlock, at: e.Timestamp}
}

// groupRows orders rows by (height, index), buckets them per key and returns
// the groups ordered by key and bucket start.
func groupRows[T any](d Duration, rows []T, pos func(T) position) []group[T] {
	type entry struct {
		row T
		pos position
	}
	entries := make([]entry, len(rows))
	for i, r := range rows {
		entries[i] = entry{row: r, pos: pos(r)}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].pos, entries[j].pos
		if a.height != b.height {
			return a.height < b.height
		}
		return a.index < b.index
	})

	type groupKey struct {
		key   string
		start int64
	}
	index := make(map[groupKey]int)
	var groups []group[T]
	for _, e := range entries {
		start := d.Truncate(e.pos.at)
		k := groupKey{key: e.pos.key, start: start.UnixNano()}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group[T]{key: e.pos.key, start: start})
		}
		groups[i].rows = append(groups[i].rows, e.row)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].key != groups[j].key {
			return groups[i].key < groups[j].key
		}
		return groups[i].start.Before(groups[j].start)
	})
	return groups
}

// eventIndex extracts the index in block from an event id of the form
// height-index.
func eventIndex(id string) uint64 {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseUint(id[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

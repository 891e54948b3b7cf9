package model

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Block is one chain block with the logs of interest in log-index order.
type Block struct {
	Height    uint64
	Hash      string
	Timestamp time.Time
	Logs      []LogRecord
	// Signers maps lower-cased tx hash to the recovered sender.
	Signers map[string]string
}

// VolumeRaw is the net swap output volume of a pool within one block.
type VolumeRaw struct {
	ID          string    `json:"id"`
	BlockHeight uint64    `json:"block_height"`
	BlockHash   string    `json:"block_hash"`
	PoolID      string    `json:"pool_id"`
	Volume1     *big.Int  `json:"volume1"`
	Volume2     *big.Int  `json:"volume2"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReservedRaw is the last observed reserves of a pool within one block.
type ReservedRaw struct {
	ID          string    `json:"id"`
	BlockHeight uint64    `json:"block_height"`
	BlockHash   string    `json:"block_hash"`
	EventID     string    `json:"event_id"`
	PoolID      string    `json:"pool_id"`
	Reserved1   *big.Int  `json:"reserved1"`
	Reserved2   *big.Int  `json:"reserved2"`
	Timestamp   time.Time `json:"timestamp"`
}

// TokenPrice is the estimated quote price of a token at one block.
type TokenPrice struct {
	ID          string          `json:"id"`
	BlockHeight uint64          `json:"block_height"`
	Token       string          `json:"token"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Candlestick is the OHLC of one token's price in one pool within one block.
type Candlestick struct {
	ID          string          `json:"id"`
	BlockHeight uint64          `json:"block_height"`
	BlockHash   string          `json:"block_hash"`
	PoolID      string          `json:"pool_id"`
	Token       string          `json:"token"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Timestamp   time.Time       `json:"timestamp"`
}

// BlockWrite is everything a processed block persists, committed atomically.
type BlockWrite struct {
	Block        Block
	Tokens       []Token
	Pools        []Pool
	Events       []PoolEvent
	Volumes      []VolumeRaw
	Reserves     []ReservedRaw
	Prices       []TokenPrice
	Candlesticks []Candlestick
}

// PoolRowID is the id of a per-block row keyed by pool.
func PoolRowID(height uint64, pool string) string {
	return fmt.Sprintf("%d-%s", height, pool)
}

// CandlestickID is the id of a per-block candlestick row.
func CandlestickID(height uint64, pool, token string) string {
	return fmt.Sprintf("%d-%s-%s", height, pool, token)
}

// TokenPriceID is the id of a per-block token price row.
func TokenPriceID(height uint64, token string) string {
	return fmt.Sprintf("%09d-%s", height, token)
}

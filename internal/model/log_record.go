package model

import "strings"

// LogRecord is the normalized representation of a chain log.
type LogRecord struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
	Timestamp   uint64   `json:"timestamp"`
}

// Topic0 returns the lower-cased first topic, or "" for anonymous logs.
func (lr LogRecord) Topic0() string {
	if len(lr.Topics) == 0 {
		return ""
	}
	return strings.ToLower(lr.Topics[0])
}

// EventID is the pool event id derived from the log coordinates.
func (lr LogRecord) EventID() string {
	return EventID(lr.BlockNumber, lr.LogIndex)
}

package model

import "time"

// DecodedLog is one factory or pair log with its decoded arguments. The
// decode command writes one per line.
type DecodedLog struct {
	EventID   string      `json:"event_id"`
	Height    uint64      `json:"block_height"`
	BlockHash string      `json:"block_hash"`
	TxHash    string      `json:"tx_hash"`
	Contract  string      `json:"contract"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Args      interface{} `json:"args"`
}

// FailedLog is an input line that could not be parsed or decoded.
type FailedLog struct {
	Line     int    `json:"line"`
	EventID  string `json:"event_id,omitempty"`
	TxHash   string `json:"tx_hash,omitempty"`
	Contract string `json:"contract,omitempty"`
	Topic0   string `json:"topic0,omitempty"`
	Event    string `json:"event,omitempty"`
	Error    string `json:"error"`
}

// Decoded pairs the log coordinates with its decoded arguments.
func (lr LogRecord) Decoded(event string, args interface{}) DecodedLog {
	return DecodedLog{
		EventID:   lr.EventID(),
		Height:    lr.BlockNumber,
		BlockHash: lr.BlockHash,
		TxHash:    lr.TxHash,
		Contract:  NormalizeAddress(lr.Address),
		Event:     event,
		Timestamp: time.Unix(int64(lr.Timestamp), 0).UTC(),
		Args:      args,
	}
}

// Failed records why the log on the given input line was rejected.
func (lr LogRecord) Failed(line int, event string, err error) FailedLog {
	return FailedLog{
		Line:     line,
		EventID:  lr.EventID(),
		TxHash:   lr.TxHash,
		Contract: NormalizeAddress(lr.Address),
		Topic0:   lr.Topic0(),
		Event:    event,
		Error:    err.Error(),
	}
}

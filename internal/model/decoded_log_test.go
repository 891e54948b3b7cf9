package model

import (
	"errors"
	"testing"
	"time"
)

func TestLogRecordDecoded(t *testing.T) {
	lr := LogRecord{
		BlockNumber: 12,
		BlockHash:   "0xb1",
		TxHash:      "0xt1",
		LogIndex:    3,
		Address:     "0xABCDEF0000000000000000000000000000000001",
		Timestamp:   1_700_000_000,
	}
	got := lr.Decoded("Sync", map[string]string{"reserve1": "1"})
	if got.EventID != "0000000012-000003" {
		t.Fatalf("event id = %q", got.EventID)
	}
	if got.Contract != "0xabcdef0000000000000000000000000000000001" {
		t.Fatalf("contract = %q", got.Contract)
	}
	if !got.Timestamp.Equal(time.Unix(1_700_000_000, 0)) || got.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp = %s", got.Timestamp)
	}
}

func TestLogRecordFailed(t *testing.T) {
	lr := LogRecord{BlockNumber: 1, Topics: []string{"0xDDF252AD"}}
	got := lr.Failed(7, "Transfer", errors.New("short data"))
	if got.Line != 7 || got.Topic0 != "0xddf252ad" || got.Error != "short data" || got.Event != "Transfer" {
		t.Fatalf("unexpected failure record: %+v", got)
	}
}

package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPoolNotFound is returned when a row references a pool that was never
	// created.
	ErrPoolNotFound = errors.New("pool not found")
)

// TimeRange selects rows by block timestamp. From is inclusive, To is
// exclusive; a zero bound is open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dexHistory/internal/rollup"
	"dexHistory/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps store errors to a status code.
func (c *Controller) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrPoolNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		c.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type seriesQuery struct {
	duration rollup.Duration
	window   storage.TimeRange
}

// parseSeries reads duration, from and to. Duration defaults to day; bounds
// accept RFC3339 or unix seconds.
func parseSeries(r *http.Request) (seriesQuery, error) {
	q := seriesQuery{duration: rollup.Day}
	values := r.URL.Query()
	if raw := values.Get("duration"); raw != "" {
		d, err := rollup.ParseDuration(raw)
		if err != nil {
			return q, err
		}
		q.duration = d
	}
	var err error
	if q.window.From, err = parseTime("from", values.Get("from")); err != nil {
		return q, err
	}
	if q.window.To, err = parseTime("to", values.Get("to")); err != nil {
		return q, err
	}
	if !q.window.From.IsZero() && !q.window.To.IsZero() && !q.window.From.Before(q.window.To) {
		return q, fmt.Errorf("from must be before to")
	}
	return q, nil
}

func parseTime(name, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return t.UTC(), nil
}

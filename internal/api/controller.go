// Package api serves pools, rollups and token moderation over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dexHistory/internal/metrics"
	"dexHistory/internal/model"
	"dexHistory/internal/storage"
)

// Reader is the read side of the store plus the single moderation write.
type Reader interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	Pools(ctx context.Context) ([]model.Pool, error)
	Pool(ctx context.Context, address string) (model.Pool, error)
	Token(ctx context.Context, address string) (model.Token, error)
	SetTokenApproved(ctx context.Context, address string, approved *bool) error

	LatestReserves(ctx context.Context, atOrBefore uint64) ([]model.ReservedRaw, error)
	LatestTokenPrices(ctx context.Context, atOrBefore uint64) ([]model.TokenPrice, error)

	PoolEvents(ctx context.Context, pool string, kind model.PoolEventType, r storage.TimeRange) ([]model.PoolEvent, error)
	Position(ctx context.Context, pool, signer string) (model.Position, error)
	VolumeRows(ctx context.Context, pool string, r storage.TimeRange) ([]model.VolumeRaw, error)
	ReserveRows(ctx context.Context, pool string, r storage.TimeRange) ([]model.ReservedRaw, error)
	CandlestickRows(ctx context.Context, pool, token string, r storage.TimeRange) ([]model.Candlestick, error)
	TokenPriceRows(ctx context.Context, token string, r storage.TimeRange) ([]model.TokenPrice, error)
}

// Config holds the server settings.
type Config struct {
	// AdminKey enables the approval endpoint when set.
	AdminKey  string
	StateName string
}

type Controller struct {
	reader Reader
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewController(reader Reader, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StateName == "" {
		cfg.StateName = "pipeline"
	}
	return &Controller{reader: reader, cfg: cfg, logger: logger, now: time.Now}
}

// NewRouter returns a router with every route of the query surface.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", c.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/pools", c.HandlePools).Methods(http.MethodGet)
	r.HandleFunc("/pools/{address}", c.HandlePool).Methods(http.MethodGet)
	r.HandleFunc("/pools/{address}/volume", c.HandleVolume).Methods(http.MethodGet)
	r.HandleFunc("/pools/{address}/fees", c.HandleFees).Methods(http.MethodGet)
	r.HandleFunc("/pools/{address}/reserves", c.HandleReserves).Methods(http.MethodGet)
	r.HandleFunc("/pools/{address}/supply", c.HandleSupply).Methods(http.MethodGet)
	r.HandleFunc("/pools/{address}/candlesticks", c.HandleCandlesticks).Methods(http.MethodGet)

	r.HandleFunc("/tokens/{address}", c.HandleToken).Methods(http.MethodGet)
	r.HandleFunc("/tokens/{address}/prices", c.HandleTokenPrices).Methods(http.MethodGet)
	r.Handle("/tokens/{address}/approved", c.RequireAdmin(http.HandlerFunc(c.HandleApprove))).Methods(http.MethodPut)

	return r
}

// HandleHealth reports the last committed block.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	height, ok, err := c.reader.LoadState(r.Context(), c.cfg.StateName)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "ok",
		"indexed":              ok,
		"last_processed_block": height,
	})
}

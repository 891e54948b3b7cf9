package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dexHistory/internal/rollup"
)

func (c *Controller) HandleToken(w http.ResponseWriter, r *http.Request) {
	token, err := c.reader.Token(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (c *Controller) HandleTokenPrices(w http.ResponseWriter, r *http.Request) {
	q, err := parseSeries(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := c.reader.Token(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		c.fail(w, err)
		return
	}
	rows, err := c.reader.TokenPriceRows(r.Context(), token.Address, q.window)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup.TokenPrices(q.duration, rows))
}

type approvalRequest struct {
	// Approved is kept raw so that an explicit null, which resets the
	// decision, differs from a missing field.
	Approved json.RawMessage `json:"approved"`
}

// HandleApprove sets or clears a token's moderation flag.
func (c *Controller) HandleApprove(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Approved) == 0 {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}
	var approved *bool
	if err := json.Unmarshal(req.Approved, &approved); err != nil {
		writeError(w, http.StatusBadRequest, "approved must be true, false or null")
		return
	}
	address := mux.Vars(r)["address"]
	if err := c.reader.SetTokenApproved(r.Context(), address, approved); err != nil {
		c.fail(w, err)
		return
	}
	token, err := c.reader.Token(r.Context(), address)
	if err != nil {
		c.fail(w, err)
		return
	}
	c.logger.Info("token approval updated", zap.String("token", token.Address), zap.Any("approved", token.Approved))
	writeJSON(w, http.StatusOK, token)
}

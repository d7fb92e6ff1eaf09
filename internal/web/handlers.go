package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/coincraze/internal/domain"
	"github.com/vadiminshakov/coincraze/internal/services/poller"
	"go.uber.org/zap"
)

// amountField accepts both "2.5" and 2.5.
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountField(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = amountField(n.String())
	return nil
}

type buyRequest struct {
	Amount amountField `json:"amount"`
}

type sellRequest struct {
	Amount  amountField `json:"amount"`
	Percent amountField `json:"percent"`
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

type tradeResponse struct {
	Trade    domain.Trade          `json:"trade"`
	Snapshot domain.LedgerSnapshot `json:"snapshot"`
}

type priceResponse struct {
	Price   string             `json:"price"`
	Origin  domain.PriceOrigin `json:"origin"`
	State   domain.OracleState `json:"state"`
	Trend   domain.PriceTrend  `json:"trend"`
	Sources []string           `json:"sources"`
}

type refreshResponse struct {
	Sample domain.PriceSample `json:"sample"`
	Error  string             `json:"error,omitempty"`
}

type signalResponse struct {
	Triggered bool `json:"triggered"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "coincraze"})
}

func (s *Server) handleLedger(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Ledger.Snapshot())
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := domain.ParseAmount(string(req.Amount))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	trade, err := s.deps.Ledger.Buy(r.Context(), amount)
	s.writeTrade(w, trade, err)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		trade domain.Trade
		err   error
	)
	switch {
	case req.Amount != "" && req.Percent != "":
		err = errors.Wrap(domain.ErrInvalidInput, "set either amount or percent, not both")
	case req.Percent != "":
		var pct decimal.Decimal
		if pct, err = domain.ParseAmount(string(req.Percent)); err == nil {
			trade, err = s.deps.Ledger.SellPercent(r.Context(), pct)
		}
	default:
		var qty decimal.Decimal
		if qty, err = domain.ParseAmount(string(req.Amount)); err == nil {
			trade, err = s.deps.Ledger.Sell(r.Context(), qty)
		}
	}
	s.writeTrade(w, trade, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	trade, err := s.deps.Ledger.Reset(r.Context())
	s.writeTrade(w, trade, err)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	trade, err := s.deps.Ledger.Verify(r.Context())
	s.writeTrade(w, trade, err)
}

func (s *Server) handlePortfolioValue(w http.ResponseWriter, r *http.Request) {
	show := true
	if v := r.URL.Query().Get("show"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, fmt.Sprintf("invalid show flag %q", v), http.StatusBadRequest)
			return
		}
		show = parsed
	}
	writeJSON(w, http.StatusOK, s.deps.Ledger.PortfolioValue(show))
}

func (s *Server) handlePrice(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Ledger.Snapshot()
	writeJSON(w, http.StatusOK, priceResponse{
		Price:   snap.Price,
		Origin:  snap.PriceOrigin,
		State:   s.deps.Oracle.State(),
		Trend:   s.deps.Oracle.Trend(),
		Sources: s.deps.Oracle.Sources(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sample, err := s.deps.Signals.RefreshNow(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, refreshResponse{Sample: sample})
	case errors.Is(err, domain.ErrRefreshInFlight):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrOracleUnavailable):
		// the fallback sample is still useful to the caller
		writeJSON(w, http.StatusServiceUnavailable, refreshResponse{Sample: sample, Error: err.Error()})
	case errors.Is(err, poller.ErrNotRunning):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("price refresh failed", zap.Error(err))
		writeError(w, "price refresh failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Visible == nil {
		writeError(w, "visible is required", http.StatusUnprocessableEntity)
		return
	}
	s.deps.Signals.SetVisible(*req.Visible)
	writeJSON(w, http.StatusOK, map[string]bool{"visible": *req.Visible})
}

func (s *Server) handleOnline(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, signalResponse{Triggered: s.deps.Signals.Online()})
}

func (s *Server) writeTrade(w http.ResponseWriter, trade domain.Trade, err error) {
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tradeResponse{Trade: trade, Snapshot: s.deps.Ledger.Snapshot()})
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	if domain.IsRejection(err) {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.logger.Error("ledger operation failed", zap.Error(err))
	writeError(w, "ledger operation failed", http.StatusInternalServerError)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

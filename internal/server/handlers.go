package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/registry"
)

// OHLCV is the price and volume part of a candle message.
type OHLCV struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// CandleMessage is the wire form of a candle, for both history and live deltas.
type CandleMessage struct {
	Timestamp int64 `json:"timestamp"` // bucket start, unix seconds
	Candle    OHLCV `json:"candle"`
	Final     bool  `json:"final"`
}

// NewCandleMessage converts a candle to its wire form.
func NewCandleMessage(c domain.Candle) CandleMessage {
	return CandleMessage{
		Timestamp: c.Bucket.Unix(),
		Candle: OHLCV{
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		},
		Final: c.Final,
	}
}

// ErrorResponse is returned by failing requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Stats  any    `json:"stats,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status: "running",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.status != nil {
		resp.Stats = s.status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTokens returns [[mint, {name, symbol, uri}], ...].
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	listings, err := s.tokens.List(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("failed to list tokens")
		writeError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}
	if listings == nil {
		listings = []registry.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

// handleCandles returns candles of a series in [from, to], unix seconds.
// Defaults to the most recent history window.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	res, err := domain.ParseResolution(chi.URLParam(r, "resolution"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	to := time.Now().UTC()
	if v := r.URL.Query().Get("to"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
		to = time.Unix(sec, 0).UTC()
	}
	from := res.Back(res.BucketStart(to), s.historyBuckets-1)
	if v := r.URL.Query().Get("from"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		from = time.Unix(sec, 0).UTC()
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from is after to")
		return
	}
	if to.Sub(from) > time.Duration(s.maxRange)*res.Duration() {
		writeError(w, http.StatusBadRequest, "range too large")
		return
	}

	candles, err := s.loadRange(r.Context(), token, res, from, to)
	if err != nil {
		s.logger.WithError(err).WithField("mint", token).Error("failed to read candles")
		writeError(w, http.StatusInternalServerError, "failed to read candles")
		return
	}

	out := make([]CandleMessage, 0, len(candles))
	for _, c := range candles {
		out = append(out, NewCandleMessage(c))
	}
	writeJSON(w, http.StatusOK, out)
}

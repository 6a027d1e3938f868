// Package server exposes the HTTP API and the live chart WebSocket.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/domain"
	"pumpfun-candles/internal/hub"
	"pumpfun-candles/internal/logging"
	"pumpfun-candles/internal/observability"
	"pumpfun-candles/internal/registry"
)

// CandleReader reads persisted candles.
type CandleReader interface {
	GetRange(ctx context.Context, token string, r domain.Resolution, from, to time.Time) ([]*domain.Candle, error)
}

// LiveCandles exposes the open bucket of a series.
type LiveCandles interface {
	Current(token string, r domain.Resolution) (domain.Candle, bool)
}

// TokenLister lists known tokens with display metadata.
type TokenLister interface {
	List(ctx context.Context) ([]registry.Listing, error)
}

// Subscriber registers viewers for candle deltas.
type Subscriber interface {
	Subscribe(token string, r domain.Resolution) *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
}

// Options configures a Server.
type Options struct {
	Candles CandleReader
	Live    LiveCandles // optional, merges the open bucket into history
	Tokens  TokenLister
	Hub     Subscriber
	// Status returns the body of GET /status.
	Status func() any

	HistoryBuckets int           // Default: 100
	MaxRange       int           // max buckets per /candles request, Default: 5000
	StaticDir      string        // optional viewer assets
	PingInterval   time.Duration // Default: 30s
	WriteTimeout   time.Duration // Default: 10s
	Logger         logrus.FieldLogger
}

// Server serves the candle API.
type Server struct {
	candles        CandleReader
	live           LiveCandles
	tokens         TokenLister
	hub            Subscriber
	status         func() any
	historyBuckets int
	maxRange       int
	staticDir      string
	pingInterval   time.Duration
	writeTimeout   time.Duration
	upgrader       websocket.Upgrader
	logger         logrus.FieldLogger
	started        time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	historyBuckets := opts.HistoryBuckets
	if historyBuckets <= 0 {
		historyBuckets = 100
	}
	maxRange := opts.MaxRange
	if maxRange <= 0 {
		maxRange = 5000
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &Server{
		candles:        opts.Candles,
		live:           opts.Live,
		tokens:         opts.Tokens,
		hub:            opts.Hub,
		status:         opts.Status,
		historyBuckets: historyBuckets,
		maxRange:       maxRange,
		staticDir:      opts.StaticDir,
		pingInterval:   pingInterval,
		writeTimeout:   writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Viewers are served from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logging.Component(opts.Logger, "server"),
		started: time.Now(),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", observability.Handler())
	r.Get("/status", s.handleStatus)
	r.Get("/tokens", s.handleTokens)
	r.Get("/candles/{token}/{resolution}", s.handleCandles)
	r.Get("/chart_data_ws/{token}/{resolution}", s.handleChartWS)

	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// Open chart sessions end with ctx.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

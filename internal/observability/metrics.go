// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsReceived  *prometheus.CounterVec
	TradesIngested  prometheus.Counter
	TradesRejected  *prometheus.CounterVec
	SourceReconnect *prometheus.CounterVec

	// Aggregation metrics
	LateTrades       *prometheus.CounterVec
	LateAmendments   *prometheus.CounterVec
	CandlesOpened    *prometheus.CounterVec
	CandlesFinalized *prometheus.CounterVec
	OpenSeries       prometheus.Gauge

	// Persistence metrics
	CandleWrites     *prometheus.CounterVec
	CandleWriteRetry prometheus.Counter
	CandlesDropped   *prometheus.CounterVec
	WriteQueueDepth  prometheus.Gauge

	// Distribution metrics
	Subscribers        prometheus.Gauge
	DeltasPublished    prometheus.Counter
	DeltasDropped      prometheus.Counter
	SubscribersEvicted prometheus.Counter
	SessionsTotal      prometheus.Counter
	SessionHistorySize prometheus.Histogram
	SessionSwitches    prometheus.Counter
	SessionWriteErrors prometheus.Counter

	// Registry metrics
	TokensObserved   prometheus.Counter
	MetadataLookups  *prometheus.CounterVec
	EnrichmentQueued prometheus.Gauge
	TokenWrites      *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency  *prometheus.HistogramVec
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastTradeTimestamp prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pumpfun_candles"
	}

	return &Metrics{
		// Ingestion metrics
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_received_total",
			Help:      "Total number of upstream events received by source and kind",
		}, []string{"source", "kind"}),
		TradesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_ingested_total",
			Help:      "Total number of trades folded into candles",
		}),
		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_rejected_total",
			Help:      "Total number of malformed trades rejected by reason",
		}, []string{"reason"}),
		SourceReconnect: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "source_reconnects_total",
			Help:      "Total number of upstream resubscriptions by source",
		}, []string{"source"}),

		// Aggregation metrics
		LateTrades: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "late_trades_total",
			Help:      "Total number of late trades dropped by resolution",
		}, []string{"resolution"}),
		LateAmendments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "late_amendments_total",
			Help:      "Total number of late trades folded into the previous bucket by resolution",
		}, []string{"resolution"}),
		CandlesOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "candles_opened_total",
			Help:      "Total number of buckets opened by resolution",
		}, []string{"resolution"}),
		CandlesFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "candles_finalized_total",
			Help:      "Total number of buckets finalized by resolution",
		}, []string{"resolution"}),
		OpenSeries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "open_series",
			Help:      "Number of (token, resolution) series with an open bucket",
		}),

		// Persistence metrics
		CandleWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "candle_writes_total",
			Help:      "Total number of candle upserts by operation and status",
		}, []string{"op", "status"}),
		CandleWriteRetry: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "candle_write_retries_total",
			Help:      "Total number of candle upsert retries",
		}),
		CandlesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "candles_dropped_total",
			Help:      "Total number of candle writes dropped by reason",
		}, []string{"reason"}),
		WriteQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "write_queue_depth",
			Help:      "Number of candle writes waiting to be persisted",
		}),

		// Distribution metrics
		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Current number of live subscribers",
		}),
		DeltasPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deltas_published_total",
			Help:      "Total number of candle deltas published",
		}),
		DeltasDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deltas_dropped_total",
			Help:      "Total number of deltas dropped from full subscriber queues",
		}),
		SubscribersEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "subscribers_evicted_total",
			Help:      "Total number of subscribers evicted for falling behind",
		}),
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "sessions_total",
			Help:      "Total number of chart websocket sessions accepted",
		}),
		SessionHistorySize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "session_history_candles",
			Help:      "Number of candles sent on session bootstrap",
			Buckets:   []float64{0, 1, 10, 25, 50, 75, 100},
		}),
		SessionSwitches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "session_switches_total",
			Help:      "Total number of in-session pair switches",
		}),
		SessionWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "session_write_errors_total",
			Help:      "Total number of websocket write failures",
		}),

		// Registry metrics
		TokensObserved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "tokens_observed_total",
			Help:      "Total number of tokens seen for the first time",
		}),
		MetadataLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "metadata_lookups_total",
			Help:      "Total number of metadata lookups by status",
		}, []string{"status"}),
		TokenWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "token_writes_total",
			Help:      "Total number of background token writes by status",
		}, []string{"status"}),
		EnrichmentQueued: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "enrichment_queue_depth",
			Help:      "Number of tokens waiting for metadata lookup",
		}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastTradeTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_trade_timestamp",
			Help:      "Unix timestamp of the newest trade ingested",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventReceived increments the upstream events counter.
func RecordEventReceived(source, kind string) {
	DefaultMetrics.EventsReceived.WithLabelValues(source, kind).Inc()
}

// RecordTradeIngested increments the ingested trades counter.
func RecordTradeIngested(unixSeconds int64) {
	DefaultMetrics.TradesIngested.Inc()
	DefaultMetrics.LastTradeTimestamp.Set(float64(unixSeconds))
}

// RecordTradeRejected records a malformed trade.
func RecordTradeRejected(reason string) {
	DefaultMetrics.TradesRejected.WithLabelValues(reason).Inc()
}

// RecordSourceReconnect records an upstream resubscription.
func RecordSourceReconnect(source string) {
	DefaultMetrics.SourceReconnect.WithLabelValues(source).Inc()
}

// RecordLateTrade records a late trade dropped for a resolution.
func RecordLateTrade(resolution string) {
	DefaultMetrics.LateTrades.WithLabelValues(resolution).Inc()
}

// RecordLateAmendment records a late trade folded into the previous bucket.
func RecordLateAmendment(resolution string) {
	DefaultMetrics.LateAmendments.WithLabelValues(resolution).Inc()
}

// RecordCandleOpened records a newly opened bucket.
func RecordCandleOpened(resolution string) {
	DefaultMetrics.CandlesOpened.WithLabelValues(resolution).Inc()
}

// RecordCandleFinalized records a finalized bucket.
func RecordCandleFinalized(resolution string) {
	DefaultMetrics.CandlesFinalized.WithLabelValues(resolution).Inc()
}

// UpdateOpenSeries sets the open series gauge.
func UpdateOpenSeries(n int) {
	DefaultMetrics.OpenSeries.Set(float64(n))
}

// RecordCandleWrite records a candle upsert outcome.
func RecordCandleWrite(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.CandleWrites.WithLabelValues(op, status).Inc()
}

// RecordCandleWriteRetry increments the upsert retry counter.
func RecordCandleWriteRetry() {
	DefaultMetrics.CandleWriteRetry.Inc()
}

// RecordCandleDropped records a candle write that was given up on.
func RecordCandleDropped(reason string) {
	DefaultMetrics.CandlesDropped.WithLabelValues(reason).Inc()
}

// UpdateWriteQueueDepth sets the persistence queue gauge.
func UpdateWriteQueueDepth(n int) {
	DefaultMetrics.WriteQueueDepth.Set(float64(n))
}

// UpdateSubscribers sets the live subscribers gauge.
func UpdateSubscribers(n int64) {
	DefaultMetrics.Subscribers.Set(float64(n))
}

// RecordDeltaPublished increments the published deltas counter.
func RecordDeltaPublished() {
	DefaultMetrics.DeltasPublished.Inc()
}

// RecordDeltaDropped increments the dropped deltas counter.
func RecordDeltaDropped() {
	DefaultMetrics.DeltasDropped.Inc()
}

// RecordSubscriberEvicted increments the evicted subscribers counter.
func RecordSubscriberEvicted() {
	DefaultMetrics.SubscribersEvicted.Inc()
}

// RecordSession records an accepted chart session and its bootstrap size.
func RecordSession(historyCandles int) {
	DefaultMetrics.SessionsTotal.Inc()
	DefaultMetrics.SessionHistorySize.Observe(float64(historyCandles))
}

// RecordSessionSwitch increments the pair switch counter.
func RecordSessionSwitch() {
	DefaultMetrics.SessionSwitches.Inc()
}

// RecordSessionWriteError increments the websocket write failure counter.
func RecordSessionWriteError() {
	DefaultMetrics.SessionWriteErrors.Inc()
}

// RecordTokenObserved increments the first-seen tokens counter.
func RecordTokenObserved() {
	DefaultMetrics.TokensObserved.Inc()
}

// RecordMetadataLookup records a metadata lookup outcome ("ok", "missing", "error").
func RecordMetadataLookup(status string) {
	DefaultMetrics.MetadataLookups.WithLabelValues(status).Inc()
}

// RecordTokenWrite records a background token write outcome ("ok", "error", "queue_full").
func RecordTokenWrite(status string) {
	DefaultMetrics.TokenWrites.WithLabelValues(status).Inc()
}

// UpdateEnrichmentQueue sets the enrichment queue gauge.
func UpdateEnrichmentQueue(n int) {
	DefaultMetrics.EnrichmentQueued.Set(float64(n))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pumpfun-candles/internal/logging"
)

// ErrClientClosed is returned by calls on a closed client.
var ErrClientClosed = errors.New("websocket client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// Commitment is the commitment level requested for notifications.
	Commitment string
	// BufferSize is the notification buffer per subscription.
	BufferSize int
	// OnReconnect is called after every successful reconnect.
	OnReconnect func()
	Logger      logrus.FieldLogger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		Commitment:        "confirmed",
		BufferSize:        10000,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
// Subscriptions are replayed after a reconnect; their channels stay open.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   logrus.FieldLogger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps the server subscription id to its channel and filter.
	subs   map[int64]*logSubscription
	subsMu sync.RWMutex

	// pendingSubs maps request id to the channel awaiting the subscription id.
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done         chan struct{}
	wg           sync.WaitGroup
	reconnecting atomic.Bool
}

type logSubscription struct {
	filter LogsFilter
	ch     chan LogNotification
}

// Compile-time interface check.
var _ WSClient = (*WSClientImpl)(nil)

// NewWSClient creates a new WebSocket client and connects to the endpoint.
// A nil config uses DefaultWSConfig.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = mergeWSConfig(cfg, *config)
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logging.Component(cfg.Logger, "solana-ws"),
		subs:        make(map[int64]*logSubscription),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// mergeWSConfig fills zero fields of cfg from defaults.
func mergeWSConfig(defaults, cfg WSClientConfig) WSClientConfig {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaults.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = defaults.MaxReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = defaults.SubscribeTimeout
	}
	if cfg.Commitment == "" {
		cfg.Commitment = defaults.Commitment
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	return cfg
}

func (c *WSClientImpl) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// SubscribeLogs subscribes to program logs matching the filter.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error) {
	subID, err := c.subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}

	sub := &logSubscription{
		filter: filter,
		ch:     make(chan LogNotification, c.config.BufferSize),
	}
	c.subsMu.Lock()
	c.subs[subID] = sub
	c.subsMu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"subscription": subID,
		"mentions":     filter.Mentions,
	}).Info("logs subscription active")
	return sub.ch, nil
}

// subscribe sends logsSubscribe and waits for the subscription id.
func (c *WSClientImpl) subscribe(ctx context.Context, filter LogsFilter) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}

	reqID := c.requestID.Add(1)

	mentions := map[string]any{}
	if len(filter.Mentions) > 0 {
		mentions["mentions"] = filter.Mentions
	} else {
		mentions["all"] = nil
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []any{
			mentions,
			map[string]string{"commitment": c.config.Commitment},
		},
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	if err := c.writeJSON(req); err != nil {
		c.dropPending(reqID)
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, ErrClientClosed
		}
		return subID, nil
	case <-timer.C:
		c.dropPending(reqID)
		return 0, fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, ErrClientClosed
	case <-ctx.Done():
		c.dropPending(reqID)
		return 0, ctx.Err()
	}
}

func (c *WSClientImpl) dropPending(reqID uint64) {
	c.pendingSubsMu.Lock()
	delete(c.pendingSubs, reqID)
	c.pendingSubsMu.Unlock()
}

func (c *WSClientImpl) writeJSON(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// Close closes the WebSocket connection and every subscription channel.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// Wait for the reader before closing channels it may send on.
	c.wg.Wait()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	return nil
}

// readLoop reads messages and dispatches them, reconnecting on read errors.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.sleep(100 * time.Millisecond) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.WithError(err).WithField("retry_in", reconnectDelay).Warn("websocket read failed, reconnecting")
				go c.reconnect(conn, reconnectDelay)
				reconnectDelay = min(reconnectDelay*2, c.config.MaxReconnectDelay)
			}

			if !c.sleep(100 * time.Millisecond) {
				return
			}
			continue
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// sleep waits d and reports false if the client closed meanwhile.
func (c *WSClientImpl) sleep(d time.Duration) bool {
	select {
	case <-c.done:
		return false
	case <-time.After(d):
		return true
	}
}

// reconnect replaces the broken connection and replays subscriptions.
func (c *WSClientImpl) reconnect(broken *websocket.Conn, delay time.Duration) {
	defer c.reconnecting.Store(false)

	if !c.sleep(delay) {
		return
	}

	c.connMu.Lock()
	if c.conn == broken {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// The reader keeps failing on a nil conn and schedules the next attempt.
		c.logger.WithError(err).Warn("reconnect failed")
		return
	}

	c.logger.Info("websocket reconnected")
	if c.config.OnReconnect != nil {
		c.config.OnReconnect()
	}
	go c.resubscribeAll()
}

// resubscribeAll replays every active subscription on the new connection.
// It runs off the reader goroutine, which must keep reading the confirmations.
func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	old := make(map[int64]*logSubscription, len(c.subs))
	for id, sub := range c.subs {
		old[id] = sub
	}
	c.subsMu.RUnlock()

	for oldID, sub := range old {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
		newID, err := c.subscribe(ctx, sub.filter)
		cancel()
		if err != nil {
			c.logger.WithError(err).WithField("subscription", oldID).Warn("resubscribe failed")
			continue
		}

		c.subsMu.Lock()
		delete(c.subs, oldID)
		c.subs[newID] = sub
		c.subsMu.Unlock()
	}
}

func (c *WSClientImpl) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.WithError(err).Debug("unparsable websocket message")
		return
	}

	switch {
	case env.Method == "logsNotification" && env.Params != nil:
		c.handleLogsNotification(env.Params)
	case env.Error != nil:
		c.logger.WithFields(logrus.Fields{
			"id":   env.ID,
			"code": env.Error.Code,
		}).Warn(env.Error.Message)
	case env.ID != 0 && len(env.Result) > 0:
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err == nil {
			c.handleSubscribeResponse(env.ID, subID)
		}
	}
}

func (c *WSClientImpl) handleSubscribeResponse(reqID uint64, subID int64) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[reqID]
	if ok {
		delete(c.pendingSubs, reqID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- subID:
		default:
		}
	}
}

// handleLogsNotification dispatches a notification, blocking while the
// subscriber's buffer is full so no event is lost.
func (c *WSClientImpl) handleLogsNotification(params *wsNotificationParams) {
	value := params.Result.Value
	notif := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}
	if params.Result.Context != nil {
		notif.Slot = params.Result.Context.Slot
	}

	c.subsMu.RLock()
	sub, ok := c.subs[params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	select {
	case sub.ch <- notif:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A failed ping surfaces as a read error in readLoop.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// wsEnvelope covers subscription responses, errors and notifications.
type wsEnvelope struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id"`
	Method  string                `json:"method"`
	Result  json.RawMessage       `json:"result"`
	Error   *RPCError             `json:"error"`
	Params  *wsNotificationParams `json:"params"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string   `json:"signature"`
	Logs      []string `json:"logs"`
	Err       any      `json:"err"`
}

package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// idleServer accepts connections and discards everything it reads.
func idleServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

// confirmSubscribe reads a logsSubscribe request and confirms it with subID.
func confirmSubscribe(t *testing.T, c *websocket.Conn, subID int64) bool {
	t.Helper()

	_, msg, err := c.ReadMessage()
	if err != nil {
		return false
	}
	var req wsRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		t.Errorf("unmarshal request: %v", err)
		return false
	}
	if req.Method != "logsSubscribe" {
		t.Errorf("expected logsSubscribe, got %s", req.Method)
	}
	return c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: subID}) == nil
}

func notification(subID int64, sig string, slot int64) wsNotification {
	return wsNotification{
		JSONRPC: "2.0",
		Method:  "logsNotification",
		Params: &wsNotificationParams{
			Subscription: subID,
			Result: wsNotificationResult{
				Context: &wsContext{Slot: slot},
				Value: wsLogsValue{
					Signature: sig,
					Logs:      []string{"Program log: Instruction: Buy"},
				},
			},
		},
	}
}

func TestWSClient_Connect(t *testing.T) {
	server := idleServer()
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		if !confirmSubscribe(t, c, 12345) {
			return
		}
		// Let the client register the subscription before notifying.
		time.Sleep(100 * time.Millisecond)
		if err := c.WriteJSON(notification(12345, "testsig", 100)); err != nil {
			t.Errorf("write notification: %v", err)
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"testprogram"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case notif := <-ch:
		if notif.Signature != "testsig" {
			t.Errorf("expected testsig, got %s", notif.Signature)
		}
		if len(notif.Logs) != 1 {
			t.Errorf("expected 1 log, got %d", len(notif.Logs))
		}
		if notif.Slot != 100 {
			t.Errorf("expected slot 100, got %d", notif.Slot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_ResubscribesAfterReconnect(t *testing.T) {
	var conns atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		n := conns.Add(1)
		if !confirmSubscribe(t, c, int64(n)) {
			return
		}
		if n == 1 {
			// Drop the first connection right after the subscription.
			return
		}
		time.Sleep(100 * time.Millisecond)
		if err := c.WriteJSON(notification(int64(n), "after-reconnect", 7)); err != nil {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	var reconnects atomic.Int32
	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), &WSClientConfig{
		ReconnectDelay: 10 * time.Millisecond,
		OnReconnect:    func() { reconnects.Add(1) },
	})
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"prog"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case notif := <-ch:
		if notif.Signature != "after-reconnect" {
			t.Errorf("unexpected signature %s", notif.Signature)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after reconnect")
	}
	if reconnects.Load() < 1 {
		t.Error("OnReconnect not called")
	}
}

func TestWSClient_Close(t *testing.T) {
	server := idleServer()
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed")
	}
	// Double close should be safe
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestWSClient_SubscribeAfterClose(t *testing.T) {
	server := idleServer()
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	client.Close()

	_, err = client.SubscribeLogs(ctx, LogsFilter{})
	if !errors.Is(err, ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
}

func TestWSClient_CustomConfig(t *testing.T) {
	server := idleServer()
	defer server.Close()

	config := &WSClientConfig{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 1 * time.Second,
		PingInterval:      5 * time.Second,
	}

	client, err := NewWSClient(context.Background(), wsURL(server), config)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.config.PingInterval != 5*time.Second {
		t.Errorf("expected PingInterval 5s, got %v", client.config.PingInterval)
	}
	if client.config.ReadTimeout != DefaultWSConfig().ReadTimeout {
		t.Errorf("expected default ReadTimeout, got %v", client.config.ReadTimeout)
	}
	if client.config.Commitment != "confirmed" {
		t.Errorf("expected confirmed commitment, got %s", client.config.Commitment)
	}
}

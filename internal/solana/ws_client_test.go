package solana

import (
	"context"
	"encoding/json"
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

// drain keeps the server side of the connection open until the client leaves.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func idleServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		drain(conn)
	}))
}

// confirmSubscription reads one subscribe request and answers it with subID.
func confirmSubscription(t *testing.T, conn *websocket.Conn, method string, subID int64) bool {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false
	}
	var req wsRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		t.Errorf("unmarshal request: %v", err)
		return false
	}
	if req.Method != method {
		t.Errorf("expected %s, got %s", method, req.Method)
	}
	if err := conn.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: subID}); err != nil {
		t.Errorf("write response: %v", err)
		return false
	}
	return true
}

func notification(method string, subID int64, slot uint64, value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params": map[string]interface{}{
			"subscription": subID,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": slot},
				"value":   value,
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

		if !confirmSubscription(t, c, "logsSubscribe", 12345) {
			return
		}

		time.Sleep(50 * time.Millisecond)
		notif := notification("logsNotification", 12345, 100, map[string]interface{}{
			"signature": "testsig",
			"logs":      []string{"Program log: Test"},
			"err":       nil,
		})
		if err := c.WriteJSON(notif); err != nil {
			t.Errorf("write notification: %v", err)
			return
		}
		drain(c)
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

func TestWSClient_SubscribeAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		if !confirmSubscription(t, c, "accountSubscribe", 77) {
			return
		}

		time.Sleep(50 * time.Millisecond)
		notif := notification("accountNotification", 77, 250, map[string]interface{}{
			"lamports": 5000000000,
			"owner":    "11111111111111111111111111111111",
			"data":     []string{"AQID", "base64"},
		})
		if err := c.WriteJSON(notif); err != nil {
			t.Errorf("write notification: %v", err)
			return
		}
		drain(c)
	}))
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeAccount(ctx, "WhaleWallet1111111111111111111111111111111")
	if err != nil {
		t.Fatalf("SubscribeAccount: %v", err)
	}

	select {
	case n := <-ch:
		if n.Pubkey != "WhaleWallet1111111111111111111111111111111" {
			t.Errorf("unexpected pubkey %s", n.Pubkey)
		}
		if n.Lamports != 5000000000 {
			t.Errorf("expected 5000000000 lamports, got %d", n.Lamports)
		}
		if n.Slot != 250 {
			t.Errorf("expected slot 250, got %d", n.Slot)
		}
		if len(n.Data) != 3 || n.Data[2] != 3 {
			t.Errorf("unexpected data %v", n.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_ReconnectResubscribes(t *testing.T) {
	var conns atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		n := conns.Add(1)
		subID := int64(n) * 10
		if !confirmSubscription(t, c, "logsSubscribe", subID) {
			return
		}
		if n == 1 {
			// drop the first connection shortly after subscribing
			time.Sleep(100 * time.Millisecond)
			return
		}

		time.Sleep(50 * time.Millisecond)
		_ = c.WriteJSON(notification("logsNotification", subID, 7, map[string]interface{}{
			"signature": "after-reconnect",
			"logs":      []string{},
		}))
		drain(c)
	}))
	defer server.Close()

	var reconnects atomic.Int32
	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.OnReconnect = func(err error) {
		if err == nil {
			reconnects.Add(1)
		}
	}

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), &cfg)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, LogsFilter{})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case n := <-ch:
		if n.Signature != "after-reconnect" {
			t.Errorf("expected after-reconnect, got %s", n.Signature)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for notification after reconnect")
	}

	if reconnects.Load() < 1 {
		t.Error("expected OnReconnect to observe a successful reconnect")
	}
	if client.Reconnects() < 1 {
		t.Errorf("expected reconnect counter >= 1, got %d", client.Reconnects())
	}
}

func TestWSClient_RetriesFailedResubscribe(t *testing.T) {
	var conns atomic.Int32
	var resubscribeRequests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		if conns.Add(1) == 1 {
			if confirmSubscription(t, c, "logsSubscribe", 10) {
				time.Sleep(50 * time.Millisecond)
			}
			return
		}

		// leave the first resubscribe unanswered so it times out
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		resubscribeRequests.Add(1)
		if !confirmSubscription(t, c, "logsSubscribe", 30) {
			return
		}
		resubscribeRequests.Add(1)
		_ = c.WriteJSON(notification("logsNotification", 30, 9, map[string]interface{}{
			"signature": "after-retry",
			"logs":      []string{},
		}))
		drain(c)
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.SubscribeTimeout = 200 * time.Millisecond

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), &cfg)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"prog"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case n := <-ch:
		if n.Signature != "after-retry" {
			t.Errorf("expected after-retry, got %s", n.Signature)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not renewed after a failed resubscribe")
	}

	if got := resubscribeRequests.Load(); got != 2 {
		t.Errorf("expected 2 resubscribe requests, got %d", got)
	}
	if conns.Load() != 2 {
		t.Errorf("expected a single reconnect, got %d connections", conns.Load())
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

	if _, err := client.SubscribeLogs(ctx, LogsFilter{}); err == nil {
		t.Error("expected error subscribing after close")
	}
	if _, err := client.SubscribeAccount(ctx, "x"); err == nil {
		t.Error("expected error subscribing after close")
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
	if client.config.SubscribeTimeout != 30*time.Second {
		t.Errorf("expected default SubscribeTimeout, got %v", client.config.SubscribeTimeout)
	}
	if client.config.Commitment != CommitmentConfirmed {
		t.Errorf("expected default commitment, got %s", client.config.Commitment)
	}
}

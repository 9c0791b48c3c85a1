package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReconnectMultiplier grows the delay after each failed attempt.
	ReconnectMultiplier float64
	// ReconnectJitter randomizes each delay by ±factor.
	ReconnectJitter float64
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription id.
	SubscribeTimeout time.Duration
	// Commitment attached to subscriptions.
	Commitment string

	// Logger receives connection lifecycle events.
	Logger zerolog.Logger
	// OnReconnect is called after each reconnect attempt.
	OnReconnect func(err error)
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:      1 * time.Second,
		MaxReconnectDelay:   30 * time.Second,
		ReconnectMultiplier: 1.5,
		ReconnectJitter:     0.5,
		PingInterval:        20 * time.Second,
		ReadTimeout:         60 * time.Second,
		WriteTimeout:        10 * time.Second,
		SubscribeTimeout:    30 * time.Second,
		Commitment:          CommitmentConfirmed,
		Logger:              zerolog.Nop(),
	}
}

// withDefaults fills zero fields from DefaultWSConfig.
func (c WSClientConfig) withDefaults() WSClientConfig {
	d := DefaultWSConfig()
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = d.ReconnectMultiplier
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter >= 1 {
		c.ReconnectJitter = d.ReconnectJitter
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = d.SubscribeTimeout
	}
	if c.Commitment == "" {
		c.Commitment = d.Commitment
	}
	return c
}

type subKind string

const (
	subLogs    subKind = "logs"
	subAccount subKind = "account"
)

// subscription is an active subscription kept for resubscription after reconnect.
type subscription struct {
	kind    subKind
	filter  LogsFilter
	account string
	logCh   chan LogNotification
	accCh   chan AccountNotification
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	log      zerolog.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps the server subscription ID to the local subscription
	subs   map[int64]*subscription
	subsMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
	backoff      *backoff.ExponentialBackOff
	reconnects   atomic.Int64

	// generation increments on every successful dial
	generation atomic.Uint64
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = config.withDefaults()
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		log:         cfg.Logger.With().Str("endpoint", endpoint).Logger(),
		subs:        make(map[int64]*subscription),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
		backoff:     newBackOff(cfg),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func newBackOff(cfg WSClientConfig) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectDelay
	bo.MaxInterval = cfg.MaxReconnectDelay
	bo.Multiplier = cfg.ReconnectMultiplier
	bo.RandomizationFactor = cfg.ReconnectJitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Reconnects returns the number of successful reconnects.
func (c *WSClientImpl) Reconnects() int64 {
	return c.reconnects.Load()
}

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	c.generation.Add(1)
	return nil
}

// SubscribeLogs subscribes to program logs matching the filter.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error) {
	sub := &subscription{kind: subLogs, filter: filter, logCh: make(chan LogNotification, 10000)}
	if err := c.register(ctx, sub); err != nil {
		return nil, err
	}
	return sub.logCh, nil
}

// SubscribeAccount subscribes to lamport and data changes of one account.
func (c *WSClientImpl) SubscribeAccount(ctx context.Context, pubkey string) (<-chan AccountNotification, error) {
	sub := &subscription{kind: subAccount, account: pubkey, accCh: make(chan AccountNotification, 1000)}
	if err := c.register(ctx, sub); err != nil {
		return nil, err
	}
	return sub.accCh, nil
}

func (c *WSClientImpl) register(ctx context.Context, sub *subscription) error {
	subID, err := c.subscribe(ctx, sub)
	if err != nil {
		return err
	}
	c.subsMu.Lock()
	c.subs[subID] = sub
	c.subsMu.Unlock()
	return nil
}

func (c *WSClientImpl) request(sub *subscription, reqID uint64) wsRequest {
	commitment := map[string]string{"commitment": c.config.Commitment}
	switch sub.kind {
	case subAccount:
		return wsRequest{
			JSONRPC: "2.0",
			ID:      reqID,
			Method:  "accountSubscribe",
			Params: []interface{}{
				sub.account,
				map[string]string{"encoding": "base64", "commitment": c.config.Commitment},
			},
		}
	default:
		mentionsFilter := make(map[string]interface{})
		if len(sub.filter.Mentions) > 0 {
			mentionsFilter["mentions"] = sub.filter.Mentions
		} else {
			mentionsFilter["all"] = nil
		}
		return wsRequest{
			JSONRPC: "2.0",
			ID:      reqID,
			Method:  "logsSubscribe",
			Params:  []interface{}{mentionsFilter, commitment},
		}
	}
}

// subscribe sends the subscription request and waits for its id.
func (c *WSClientImpl) subscribe(ctx context.Context, sub *subscription) (int64, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := c.request(sub, reqID)

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		dropPending()
		return 0, fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		dropPending()
		return 0, fmt.Errorf("write %s: %w", req.Method, err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, fmt.Errorf("client closed")
		}
		return subID, nil
	case <-timer.C:
		dropPending()
		return 0, fmt.Errorf("%s timeout after %s", req.Method, c.config.SubscribeTimeout)
	case <-c.done:
		return 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		dropPending()
		return 0, ctx.Err()
	}
}

// Close closes the WebSocket connection.
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

	c.wg.Wait()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		if sub.logCh != nil {
			close(sub.logCh)
		}
		if sub.accCh != nil {
			close(sub.accCh)
		}
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

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.log.Warn().Err(err).Msg("websocket read failed, reconnecting")
				c.wg.Add(1)
				go c.reconnect(conn)
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		c.handleMessage(message)
	}
}

// reconnect redials with exponential backoff and jitter until it succeeds
// or the client is closed, then resubscribes everything.
func (c *WSClientImpl) reconnect(broken *websocket.Conn) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	c.connMu.Lock()
	if c.conn == broken {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	for attempt := 1; ; attempt++ {
		wait := c.backoff.NextBackOff()
		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()

		if c.config.OnReconnect != nil {
			c.config.OnReconnect(err)
		}
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("waited", wait).Msg("websocket reconnect failed")
			continue
		}

		c.backoff.Reset()
		c.reconnects.Add(1)
		c.log.Info().Int("attempt", attempt).Msg("websocket reconnected")
		c.wg.Add(1)
		go c.resubscribeAll(c.generation.Load())
		return
	}
}

// resubscribeAll resubscribes to all active subscriptions after reconnect.
// Failed resubscribes are retried with backoff until they succeed, the
// client closes, or a newer connection replaces gen and resubscribes itself.
func (c *WSClientImpl) resubscribeAll(gen uint64) {
	defer c.wg.Done()

	c.subsMu.RLock()
	pending := make(map[int64]*subscription, len(c.subs))
	for id, sub := range c.subs {
		pending[id] = sub
	}
	c.subsMu.RUnlock()

	bo := newBackOff(c.config)
	for {
		for oldID, sub := range pending {
			if c.resubscribe(oldID, sub) {
				delete(pending, oldID)
			}
		}
		if len(pending) == 0 {
			return
		}

		wait := bo.NextBackOff()
		c.log.Warn().Int("pending", len(pending)).Dur("retry_in", wait).Msg("resubscribe incomplete")
		select {
		case <-c.done:
			return
		case <-time.After(wait):
		}
		if c.generation.Load() != gen {
			return
		}
	}
}

// resubscribe renews one subscription and rekeys it under its new id.
func (c *WSClientImpl) resubscribe(oldID int64, sub *subscription) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
	newID, err := c.subscribe(ctx, sub)
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Str("kind", string(sub.kind)).Int64("subscription", oldID).Msg("resubscribe failed")
		return false
	}

	c.subsMu.Lock()
	delete(c.subs, oldID)
	c.subs[newID] = sub
	c.subsMu.Unlock()
	return true
}

// handleMessage processes incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		c.handleSubscribeResponse(&resp)
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Params != nil {
		switch notif.Method {
		case "logsNotification":
			c.handleLogsNotification(&notif)
			return
		case "accountNotification":
			c.handleAccountNotification(&notif)
			return
		}
	}

	var errResp struct {
		ID    uint64 `json:"id"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		c.log.Warn().Int("code", errResp.Error.Code).Str("msg", errResp.Error.Message).Msg("websocket error response")
	}
}

// handleSubscribeResponse handles subscription confirmation.
func (c *WSClientImpl) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

func (c *WSClientImpl) lookup(subID int64) *subscription {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subs[subID]
}

// handleLogsNotification dispatches log notification to subscriber.
func (c *WSClientImpl) handleLogsNotification(notif *wsNotification) {
	sub := c.lookup(notif.Params.Subscription)
	if sub == nil || sub.logCh == nil {
		return
	}

	var value wsLogsValue
	if err := json.Unmarshal(notif.Params.Result.Value, &value); err != nil {
		return
	}

	n := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}
	if notif.Params.Result.Context != nil {
		n.Slot = notif.Params.Result.Context.Slot
	}

	select {
	case sub.logCh <- n:
	case <-c.done:
	}
}

// handleAccountNotification dispatches account notification to subscriber.
func (c *WSClientImpl) handleAccountNotification(notif *wsNotification) {
	sub := c.lookup(notif.Params.Subscription)
	if sub == nil || sub.accCh == nil {
		return
	}

	var value accountValue
	if err := json.Unmarshal(notif.Params.Result.Value, &value); err != nil {
		return
	}

	n := AccountNotification{
		Pubkey:   sub.account,
		Lamports: value.Lamports,
		Owner:    value.Owner,
	}
	if len(value.Data) > 0 && value.Data[0] != "" {
		if data, err := base64.StdEncoding.DecodeString(value.Data[0]); err == nil {
			n.Data = data
		}
	}
	if notif.Params.Result.Context != nil {
		n.Slot = notif.Params.Result.Context.Slot
	}

	select {
	case sub.accCh <- n:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
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
				// a failed ping surfaces as a read error
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
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
	Context *wsContext      `json:"context"`
	Value   json.RawMessage `json:"value"`
}

type wsContext struct {
	Slot uint64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}

var _ WSClient = (*WSClientImpl)(nil)

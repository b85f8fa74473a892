package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// errConnClosed aborts a reconnect attempt whose Conn was closed while
// the attempt was in flight.
var errConnClosed = errors.New("connection closed")

// Conn manages one WebSocket connection to one market endpoint. All
// lifecycle transitions happen through its own methods; the only
// background task is the receive loop, and there is never more than one
// of them per Conn.
type Conn struct {
	cfg    ConnConfig
	logger *slog.Logger

	buffer *msgRing

	// Write serialization for outbound frames.
	writeMu sync.Mutex

	mu                sync.Mutex
	state             ConnState
	ws                *websocket.Conn
	subs              map[string]struct{}
	handlers          []Handler
	lastErr           error
	reconnectAttempts int

	// Receive loop lifecycle. recvCancel/recvDone belong to the loop
	// currently running; both are awaited before a new loop starts.
	recvCancel context.CancelFunc
	recvDone   chan struct{}

	// closeCh unblocks a sleeping reconnect loop. Replaced on Connect
	// after an explicit Close.
	closeCh chan struct{}

	reconnecting atomic.Bool
}

// NewConn creates a connection for one market. It does not dial; call
// Connect to establish the stream.
func NewConn(cfg ConnConfig, logger *slog.Logger) *Conn {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		cfg:     cfg,
		logger:  logger.With("market", cfg.Market),
		buffer:  newMsgRing(cfg.BufferCapacity),
		state:   StateDisconnected,
		subs:    make(map[string]struct{}),
		closeCh: make(chan struct{}),
	}
}

// Market returns the market identifier this connection serves.
func (c *Conn) Market() string {
	return c.cfg.Market
}

// Connect dials the endpoint, authenticates, starts the receive loop and
// replays any prior subscriptions. It blocks until authentication
// succeeds or fails. A failure transitions the Conn to StateError and
// arms the reconnect loop before returning the error.
func (c *Conn) Connect(ctx context.Context) error {
	return c.connect(ctx, nil)
}

// connect is the shared implementation behind Connect and the reconnect
// loop. guard, when non-nil, is the closeCh the reconnect attempt was
// armed under: if Close swapped it out mid-attempt, the attempt aborts
// with errConnClosed instead of resurrecting a closed Conn.
func (c *Conn) connect(ctx context.Context, guard chan struct{}) error {
	// At most one receive loop per Conn: retire the previous one first.
	c.stopReceiveLoop()

	c.mu.Lock()
	if guard != nil && c.closeCh != guard {
		c.mu.Unlock()
		return errConnClosed
	}
	c.state = StateConnecting
	if c.closeCh == nil {
		c.closeCh = make(chan struct{})
	}
	c.mu.Unlock()

	c.logger.Info("connecting", "endpoint", c.cfg.Endpoint)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		err = fmt.Errorf("dial %s: %w", c.cfg.Endpoint, err)
		if c.closeSuperseded(guard) {
			return errConnClosed
		}
		c.connectFailed(err)
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateAuthenticating
	c.mu.Unlock()

	if err := c.authenticate(ws); err != nil {
		ws.Close()
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		if c.closeSuperseded(guard) {
			return errConnClosed
		}
		c.connectFailed(err)
		return err
	}

	c.mu.Lock()
	if guard != nil && c.closeCh != guard {
		c.ws = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		ws.Close()
		return errConnClosed
	}
	c.reconnectAttempts = 0
	c.state = StateConnected
	recvCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.recvCancel = cancel
	c.recvDone = done
	resub := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		resub = append(resub, ch)
	}
	c.mu.Unlock()

	go c.receiveLoop(recvCtx, ws, done)

	if len(resub) > 0 {
		sort.Strings(resub)
		if err := c.send(ws, request{Action: actionSubscribe, Params: strings.Join(resub, ",")}); err != nil {
			c.logger.Warn("resubscribe failed", "channels", len(resub), "error", err)
		} else {
			c.logger.Info("resubscribed", "channels", len(resub))
		}
	}

	c.logger.Info("connected", "endpoint", c.cfg.Endpoint)
	return nil
}

// authenticate sends the auth frame and waits for the server's verdict.
// The server may emit an unsolicited "connected" ack before the auth
// response, so reading continues past those within the attempt budget.
func (c *Conn) authenticate(ws *websocket.Conn) error {
	if err := c.send(ws, request{Action: actionAuth, Params: c.cfg.APIKey}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	for attempt := 0; attempt < c.cfg.AuthReadAttempts; attempt++ {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read auth response: %w", err)
		}

		msgs, err := parseFrame(frame)
		if err != nil {
			c.logger.Warn("dropping undecodable frame during auth", "error", err)
			continue
		}

		for _, msg := range msgs {
			if msg.Ev != eventStatus {
				continue
			}
			var st statusMessage
			if err := json.Unmarshal(msg.Raw, &st); err != nil {
				continue
			}
			switch st.Status {
			case statusAuthSuccess:
				return nil
			case statusAuthFailed:
				return fmt.Errorf("%w: %s", ErrAuthFailed, st.Message)
			case statusConnected:
				// handshake ack, keep waiting for the auth response
			}
		}
	}

	return ErrNoAuthResponse
}

// Subscribe sends one subscribe request for all given channels and records
// them. Requires StateConnected. Server-side acceptance is not awaited;
// rejections, if any, arrive later as status messages.
func (c *Conn) Subscribe(channels []string) error {
	ws, err := c.connectedSocket("subscribe")
	if err != nil {
		return err
	}

	if err := c.send(ws, request{Action: actionSubscribe, Params: strings.Join(channels, ",")}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.subs[ch] = struct{}{}
	}
	total := len(c.subs)
	c.mu.Unlock()

	c.logger.Info("subscribed", "channels", len(channels), "total", total)
	return nil
}

// Unsubscribe sends one unsubscribe request for all given channels and
// removes them from the subscription set. Requires StateConnected.
func (c *Conn) Unsubscribe(channels []string) error {
	ws, err := c.connectedSocket("unsubscribe")
	if err != nil {
		return err
	}

	if err := c.send(ws, request{Action: actionUnsubscribe, Params: strings.Join(channels, ",")}); err != nil {
		return fmt.Errorf("send unsubscribe: %w", err)
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subs, ch)
	}
	total := len(c.subs)
	c.mu.Unlock()

	c.logger.Info("unsubscribed", "channels", len(channels), "total", total)
	return nil
}

// AddHandler registers a callback for inbound data messages. Handlers are
// invoked in registration order, each awaited before the next.
func (c *Conn) AddHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Close clears the message buffer, stops the receive loop, closes the
// transport and returns the Conn to StateDisconnected. Closing an
// already-closed Conn is a no-op. Subscriptions and the lifetime message
// counter persist so a later Connect resubscribes automatically.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateDisconnected && c.ws == nil && c.recvDone == nil {
		c.mu.Unlock()
		return nil
	}
	if c.closeCh != nil {
		close(c.closeCh)
		c.closeCh = nil
	}
	cancel := c.recvCancel
	done := c.recvDone
	ws := c.ws
	c.recvCancel = nil
	c.recvDone = nil
	c.ws = nil
	c.state = StateDisconnected
	c.lastErr = nil
	c.mu.Unlock()

	c.buffer.Clear()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		ws.Close()
	}
	if done != nil {
		<-done
	}

	c.logger.Info("closed")
	return nil
}

// Status returns a snapshot of the connection.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		subs = append(subs, ch)
	}
	sort.Strings(subs)

	st := Status{
		Market:            c.cfg.Market,
		State:             c.state,
		Endpoint:          c.cfg.Endpoint,
		Subscriptions:     subs,
		SubscriptionCount: len(subs),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// RecentMessages returns up to limit of the most recently buffered data
// messages, oldest first.
func (c *Conn) RecentMessages(limit int) []Message {
	return c.buffer.Recent(limit)
}

// MessageStats returns lifetime and buffer counters.
func (c *Conn) MessageStats() MessageStats {
	return c.buffer.Stats()
}

// connectedSocket returns the socket iff the Conn is Connected.
func (c *Conn) connectedSocket(op string) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil, &InvalidStateError{Op: op, State: c.state}
	}
	return c.ws, nil
}

// send marshals and writes one outbound frame.
func (c *Conn) send(ws *websocket.Conn, req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// stopReceiveLoop cancels and awaits the running receive loop, if any.
// The socket is closed to unblock the pending read; the loop observes the
// canceled context and exits without arming a reconnect.
func (c *Conn) stopReceiveLoop() {
	c.mu.Lock()
	cancel := c.recvCancel
	done := c.recvDone
	ws := c.ws
	c.recvCancel = nil
	c.recvDone = nil
	c.ws = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close()
	}
	if done != nil {
		<-done
	}
}

// receiveLoop reads inbound frames until the transport closes or errors.
func (c *Conn) receiveLoop(ctx context.Context, ws *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// canceled by Close or a superseding Connect
				return
			}
			c.logger.Warn("stream closed", "error", err)
			c.transportError()
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		c.dispatchFrame(frame)
	}
}

// dispatchFrame routes every message of one inbound frame: status messages
// to handleStatus, data messages to the buffer and the handlers.
func (c *Conn) dispatchFrame(frame []byte) {
	msgs, err := parseFrame(frame)
	if err != nil {
		c.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	for _, msg := range msgs {
		if msg.Ev == eventStatus {
			var st statusMessage
			if err := json.Unmarshal(msg.Raw, &st); err != nil {
				c.logger.Warn("dropping malformed status message", "error", err)
				continue
			}
			c.handleStatus(st)
			continue
		}

		c.buffer.Push(msg)

		c.mu.Lock()
		handlers := c.handlers
		c.mu.Unlock()
		for _, h := range handlers {
			h(msg)
		}
	}
}

// handleStatus inspects protocol status messages. Entitlement rejections
// move the Conn to StateError without closing it or reconnecting: the
// caller may redirect to a delayed endpoint. Everything else is logged.
func (c *Conn) handleStatus(st statusMessage) {
	if isEntitlementMessage(st.Message) {
		err := &EntitlementError{Status: st.Status, Message: st.Message}
		c.mu.Lock()
		c.lastErr = err
		c.state = StateError
		c.mu.Unlock()
		c.logger.Warn("feed not entitled", "status", st.Status, "message", st.Message)
		return
	}
	c.logger.Info("stream status", "status", st.Status, "message", st.Message)
}

// connectFailed records a failed Connect and arms the reconnect loop.
func (c *Conn) connectFailed(err error) {
	c.mu.Lock()
	c.state = StateError
	c.mu.Unlock()
	c.logger.Error("connect failed", "error", err)
	c.triggerReconnect()
}

// transportError moves the Conn to StateError after a transport-level
// failure and arms the reconnect loop.
func (c *Conn) transportError() {
	c.mu.Lock()
	c.state = StateError
	c.mu.Unlock()
	c.triggerReconnect()
}

// triggerReconnect starts the reconnect loop unless one is already
// running.
func (c *Conn) triggerReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go c.reconnectLoop()
}

// releaseReconnect clears the reconnect guard after a successful
// reconnect. A transport error landing while the guard was still held
// finds its CompareAndSwap refused and would otherwise be lost, so the
// state is re-checked after the release and the loop re-armed if needed.
func (c *Conn) releaseReconnect() {
	c.reconnecting.Store(false)

	c.mu.Lock()
	errored := c.state == StateError && c.closeCh != nil
	c.mu.Unlock()
	if errored {
		c.triggerReconnect()
	}
}

// closeSuperseded reports whether Close ran after the reconnect attempt
// captured guard, restoring StateDisconnected when it has.
func (c *Conn) closeSuperseded(guard chan struct{}) bool {
	if guard == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCh == guard {
		return false
	}
	c.state = StateDisconnected
	c.ws = nil
	return true
}

// reconnectLoop retries connect with exponential backoff until it succeeds,
// the Conn is closed, or the optional attempt ceiling is reached. connect
// resets the attempt counter on success, so a later failure starts the
// backoff sequence over.
func (c *Conn) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.state == StateDisconnected {
			// explicitly closed
			c.mu.Unlock()
			c.reconnecting.Store(false)
			return
		}
		attempts := c.reconnectAttempts
		c.reconnectAttempts++
		closeCh := c.closeCh
		c.mu.Unlock()

		if closeCh == nil {
			c.reconnecting.Store(false)
			return
		}
		if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
			c.logger.Error("reconnect attempts exhausted", "attempts", attempts)
			c.reconnecting.Store(false)
			return
		}

		delay := backoffDelay(attempts, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)
		c.logger.Warn("reconnecting", "delay", delay, "attempt", attempts+1)

		select {
		case <-closeCh:
			c.reconnecting.Store(false)
			return
		case <-time.After(delay):
		}

		err := c.connect(context.Background(), closeCh)
		if err == nil {
			c.releaseReconnect()
			return
		}
		if errors.Is(err, errConnClosed) {
			c.reconnecting.Store(false)
			return
		}
		// connect failed and logged; retry with the incremented counter.
	}
}

// parseFrame decodes one inbound frame as an array of protocol messages.
// Frames that are not arrays (including single objects) are rejected.
func parseFrame(frame []byte) ([]Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("expected message array: %w", err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, r := range raw {
		var kind struct {
			Ev string `json:"ev"`
		}
		if err := json.Unmarshal(r, &kind); err != nil {
			return nil, fmt.Errorf("decode message envelope: %w", err)
		}
		msgs = append(msgs, Message{Ev: kind.Ev, Raw: r})
	}
	return msgs, nil
}

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnState is the lifecycle state of a Conn.
type ConnState string

const (
	StateDisconnected   ConnState = "disconnected"
	StateConnecting     ConnState = "connecting"
	StateAuthenticating ConnState = "authenticating"
	StateConnected      ConnState = "connected"
	StateError          ConnState = "error"
)

// Errors
var (
	ErrAuthFailed     = errors.New("authentication rejected")
	ErrNoAuthResponse = errors.New("no authentication response")
	ErrAPIKeyRequired = errors.New("api key required")
)

// InvalidStateError is returned when an operation requires a connection
// state the Conn is not in.
type InvalidStateError struct {
	Op    string
	State ConnState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: connection state is %s", e.Op, e.State)
}

// EntitlementError reports that the account's plan does not include access
// to the requested feed. Retrying the same endpoint will not help; callers
// should redirect to a delayed endpoint or upgrade the plan.
type EntitlementError struct {
	Status  string
	Message string
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("not entitled: %s: %s", e.Status, e.Message)
}

// entitlement phrasings observed in server status messages
func isEntitlementMessage(msg string) bool {
	return strings.Contains(msg, "NOT_AUTHORIZED") ||
		strings.Contains(strings.ToLower(msg), "not entitled") ||
		strings.Contains(strings.ToLower(msg), "your plan")
}

// request is an outbound protocol frame.
type request struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

const (
	actionAuth        = "auth"
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

// eventStatus marks protocol status messages; everything else is data.
const eventStatus = "status"

const (
	statusConnected   = "connected"
	statusAuthSuccess = "auth_success"
	statusAuthFailed  = "auth_failed"
)

// Message is one inbound data message. Raw holds the full JSON object as
// received; Ev is its event type ("T", "Q", "AM", ...).
type Message struct {
	Ev  string
	Raw json.RawMessage
}

// statusMessage is an inbound protocol status message.
type statusMessage struct {
	Ev      string `json:"ev"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Handler receives inbound data messages. Handlers on the same Conn are
// invoked sequentially in registration order; a slow handler delays
// delivery of subsequent messages.
type Handler func(msg Message)

// Status is a point-in-time snapshot of a Conn.
type Status struct {
	Market            string    `json:"market"`
	State             ConnState `json:"state"`
	Endpoint          string    `json:"endpoint"`
	Subscriptions     []string  `json:"subscriptions"`
	SubscriptionCount int       `json:"subscription_count"`
	LastError         string    `json:"last_error,omitempty"`
}

// MessageStats separates how much data has flowed from how much is
// retained: the buffer silently evicts old entries under sustained load.
type MessageStats struct {
	TotalReceived  int64 `json:"total_received"`
	Buffered       int   `json:"buffered"`
	BufferCapacity int   `json:"buffer_capacity"`
}

// ConnConfig configures a single streaming connection.
type ConnConfig struct {
	Market   string // e.g. "stocks", "crypto"
	Endpoint string // e.g. wss://socket.polygon.io/stocks
	APIKey   string

	DialTimeout          time.Duration // WebSocket handshake timeout
	WriteTimeout         time.Duration // write deadline for outbound frames
	AuthReadAttempts     int           // frames to read while waiting for the auth response
	BufferCapacity       int           // recent data message buffer size
	ReconnectBaseDelay   time.Duration // first reconnect delay; doubles each attempt
	ReconnectMaxDelay    time.Duration // backoff ceiling
	MaxReconnectAttempts int           // 0 = retry forever
}

// Default connection tuning.
const (
	DefaultDialTimeout        = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultAuthReadAttempts   = 5
	DefaultBufferCapacity     = 100
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
)

func (c *ConnConfig) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.AuthReadAttempts == 0 {
		c.AuthReadAttempts = DefaultAuthReadAttempts
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
}

// backoffDelay computes the reconnect delay for the given attempt count:
// base, 2*base, 4*base, ... capped at max. With the defaults this yields
// 1s, 2s, 4s, 8s, 16s, 30s, 30s, ...
func backoffDelay(attempts int, base, max time.Duration) time.Duration {
	if attempts > 30 {
		return max
	}
	d := base << uint(attempts)
	if d > max || d <= 0 {
		d = max
	}
	return d
}

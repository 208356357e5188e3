package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrConnectTimeout  = errors.New("connect timeout")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrManagerClosed   = errors.New("connection manager closed")
)

// State is the lifecycle state of a managed client connection.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the socket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Inbound is a raw message tagged with the client connection it arrived
// on. The bridge's dispatch loop consumes these.
type Inbound struct {
	ClientKey  string
	Data       []byte
	ReceivedAt time.Time
}

// CloseEvent reports an unexpected connection closure. Deliberate
// closes (idle close, shutdown) do not produce one.
type CloseEvent struct {
	ClientKey string
	Reason    error
}

// ClientConfig configures a single websocket client.
type ClientConfig struct {
	URL          string        // Full endpoint including the client key path
	APIKey       string        // Bearer token, empty for none
	PingTimeout  time.Duration // Max time without ping before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	WSURL             string // Base websocket URL; /ws/{clientKey} is appended
	APIKey            string
	ConnectTimeout    time.Duration // Ceiling for a single open attempt
	WriteTimeout      time.Duration
	PingTimeout       time.Duration
	BufferSize        int // Per-client message channel buffer
	InboundBufferSize int // Shared inbound channel buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectTimeout:    5 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingTimeout:       60 * time.Second,
		BufferSize:        1000,
		InboundBufferSize: 10000,
	}
}

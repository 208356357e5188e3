package connection

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Dial creates a client for an endpoint. Swapped for a fake in tests.
type Dial func(cfg ClientConfig, logger *slog.Logger) Client

// Manager owns one streaming connection per client key. Opens are
// single-flight per key: concurrent callers for the same key share the
// in-flight attempt instead of racing two socket dials.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
	dial   Dial

	// Shared output channels
	inbound chan Inbound
	closes  chan CloseEvent

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool

	wg sync.WaitGroup
}

// conn tracks one managed client connection.
type conn struct {
	key    string
	client Client
	state  State

	// ready resolves the in-flight open: closed once the dial attempt
	// finishes, with err carrying the outcome.
	ready chan struct{}
	err   error

	// deliberate marks closes initiated by the bridge (idle close,
	// shutdown) so the pump does not report them as unexpected.
	deliberate bool

	done chan struct{}
}

// NewManager creates a connection manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	return NewManagerWithDial(cfg, NewClient, logger)
}

// NewManagerWithDial creates a manager with a custom dial function.
func NewManagerWithDial(cfg ManagerConfig, dial Dial, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InboundBufferSize < 1 {
		cfg.InboundBufferSize = 10000
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		dial:    dial,
		inbound: make(chan Inbound, cfg.InboundBufferSize),
		closes:  make(chan CloseEvent, 64),
		conns:   make(map[string]*conn),
	}
}

// Messages returns the shared inbound channel. Per-connection order is
// preserved: each pump forwards its connection's messages in receive
// order.
func (m *Manager) Messages() <-chan Inbound {
	return m.inbound
}

// Closes returns the channel of unexpected connection closures.
func (m *Manager) Closes() <-chan CloseEvent {
	return m.closes
}

// endpoint builds the streaming URL for a client key.
func (m *Manager) endpoint(clientKey string) string {
	return strings.TrimRight(m.cfg.WSURL, "/") + "/ws/" + clientKey
}

// Open ensures an open connection exists for clientKey. An existing
// Open connection is reused; a Connecting one is awaited. A fresh open
// attempt is bounded by the configured connect timeout and fails with
// ErrConnectTimeout when it elapses.
func (m *Manager) Open(ctx context.Context, clientKey string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	if c, ok := m.conns[clientKey]; ok {
		switch c.state {
		case StateOpen:
			m.mu.Unlock()
			return nil
		case StateConnecting:
			ready := c.ready
			m.mu.Unlock()
			select {
			case <-ready:
				return c.err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// Closing/Closed entries are stale; replace them.
		delete(m.conns, clientKey)
	}

	c := &conn{
		key:   clientKey,
		state: StateConnecting,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	m.conns[clientKey] = c
	m.mu.Unlock()

	err := m.connect(ctx, c)

	m.mu.Lock()
	if err == nil && m.closed {
		// Shutdown raced the dial; the socket must not outlive it.
		err = ErrManagerClosed
		c.client.Close()
	}
	if err != nil {
		c.state = StateClosed
		c.err = err
		if m.conns[clientKey] == c {
			delete(m.conns, clientKey)
		}
	} else {
		c.state = StateOpen
	}
	m.mu.Unlock()
	close(c.ready)

	if err != nil {
		return err
	}

	m.wg.Add(1)
	go m.pump(c)

	m.logger.Info("client connection open", "client_key", clientKey)
	return nil
}

// connect dials the upstream endpoint for c under the connect timeout.
func (m *Manager) connect(ctx context.Context, c *conn) error {
	clientCfg := ClientConfig{
		URL:          m.endpoint(c.key),
		APIKey:       m.cfg.APIKey,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}
	c.client = m.dial(clientCfg, m.logger.With("client_key", c.key))

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	err := c.client.Connect(dialCtx)
	if err == context.DeadlineExceeded || dialCtx.Err() == context.DeadlineExceeded {
		return ErrConnectTimeout
	}
	return err
}

// Send writes a frame to the open connection for clientKey.
func (m *Manager) Send(clientKey string, data []byte) error {
	m.mu.Lock()
	c, ok := m.conns[clientKey]
	if !ok || c.state != StateOpen {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.mu.Unlock()

	return c.client.Send(data)
}

// IsOpen reports whether an Open connection exists for clientKey.
func (m *Manager) IsOpen(clientKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[clientKey]
	return ok && c.state == StateOpen
}

// OpenCount returns the number of Open connections.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.conns {
		if c.state == StateOpen {
			n++
		}
	}
	return n
}

// Close deliberately closes the connection for clientKey, if any. No
// CloseEvent is emitted.
func (m *Manager) Close(clientKey string) error {
	m.mu.Lock()
	c, ok := m.conns[clientKey]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	c.deliberate = true
	delete(m.conns, clientKey)
	m.mu.Unlock()

	close(c.done)
	var err error
	if c.client != nil {
		err = c.client.Close()
	}

	m.mu.Lock()
	c.state = StateClosed
	m.mu.Unlock()

	m.logger.Info("client connection closed", "client_key", clientKey)
	return err
}

// CloseAll closes every connection and waits for the pumps to drain,
// bounded by ctx. Used by bridge shutdown as a barrier.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]*conn, 0, len(m.conns))
	for key, c := range m.conns {
		c.deliberate = true
		if c.state == StateOpen {
			c.state = StateClosing
			conns = append(conns, c)
		}
		delete(m.conns, key)
	}
	m.mu.Unlock()

	for _, c := range conns {
		close(c.done)
		c.client.Close()
		m.mu.Lock()
		c.state = StateClosed
		m.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout waiting for connection pumps")
		return ctx.Err()
	}
	return nil
}

// pump forwards one connection's messages onto the shared inbound
// channel and reports unexpected closure.
func (m *Manager) pump(c *conn) {
	defer m.wg.Done()

	for {
		select {
		case <-c.done:
			return

		case err := <-c.client.Errors():
			reportable := m.dropConn(c)
			// A stale-connection error leaves the socket and its read
			// and heartbeat goroutines alive; Close is idempotent.
			c.client.Close()
			if reportable {
				m.logger.Warn("connection closed unexpectedly",
					"client_key", c.key,
					"reason", err,
				)
				select {
				case m.closes <- CloseEvent{ClientKey: c.key, Reason: err}:
				default:
					m.logger.Warn("close event channel full", "client_key", c.key)
				}
			}
			return

		case msg, ok := <-c.client.Messages():
			if !ok {
				return
			}
			select {
			case m.inbound <- Inbound{ClientKey: c.key, Data: msg.Data, ReceivedAt: msg.ReceivedAt}:
			case <-c.done:
				return
			default:
				m.logger.Warn("inbound buffer full, dropping message", "client_key", c.key)
			}
		}
	}
}

// dropConn marks c closed and removes it from the map if still
// current. Returns true when the closure was unexpected and should be
// reported.
func (m *Manager) dropConn(c *conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.state = StateClosed
	if cur, ok := m.conns[c.key]; ok && cur == c {
		delete(m.conns, c.key)
	}
	return !c.deliberate
}

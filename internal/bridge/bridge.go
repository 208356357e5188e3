// Package bridge is the facade over the market-data core: it owns the
// connection manager, subscription registry, reconnection supervisor,
// request router and event bus, and exposes the lifecycle plus the
// subscribe/unsubscribe/request operations consumed by the UI layer.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/XIIITrading/Alpha-V1/internal/cache"
	"github.com/XIIITrading/Alpha-V1/internal/config"
	"github.com/XIIITrading/Alpha-V1/internal/connection"
	"github.com/XIIITrading/Alpha-V1/internal/events"
	"github.com/XIIITrading/Alpha-V1/internal/health"
	"github.com/XIIITrading/Alpha-V1/internal/protocol"
	"github.com/XIIITrading/Alpha-V1/internal/registry"
	"github.com/XIIITrading/Alpha-V1/internal/request"
	"github.com/XIIITrading/Alpha-V1/internal/supervisor"
)

// Errors
var (
	ErrUpstreamUnreachable  = errors.New("upstream unreachable")
	ErrNotReady             = errors.New("bridge not ready")
	ErrAlreadyInitialized   = errors.New("bridge already initialized")
	ErrShuttingDown         = errors.New("bridge shutting down")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNoSymbols            = errors.New("at least one symbol is required")
)

// LifecycleState is the bridge's lifecycle phase.
type LifecycleState string

const (
	StateUninitialized LifecycleState = "uninitialized"
	StateInitializing  LifecycleState = "initializing"
	StateReady         LifecycleState = "ready"
	StateShuttingDown  LifecycleState = "shutting_down"
	StateShutdown      LifecycleState = "shutdown"
)

// SubscribeOptions carries optional per-subscription settings.
type SubscribeOptions struct {
	// ClientKey overrides the connection key derived from the window.
	// Empty means one connection per window, the default.
	ClientKey string
}

// Status is the GetStatus snapshot.
type Status struct {
	Initialized          bool     `json:"initialized"`
	State                string   `json:"state"`
	WebsocketConnections int      `json:"websocketConnections"`
	ActiveSubscriptions  int      `json:"activeSubscriptions"`
	PendingRequests      int      `json:"pendingRequests"`
	FailedClients        []string `json:"failedClients,omitempty"`
}

// Bridge multiplexes upstream market-data connections across subscriber
// windows. All registries are instance fields; two bridges never share
// state.
type Bridge struct {
	cfg    *config.BridgeConfig
	logger *slog.Logger

	bus      *events.Bus
	conns    *connection.Manager
	subs     *registry.Registry
	sup      *supervisor.Supervisor
	requests *request.Router
	monitor  *health.Monitor
	store    *cache.Cache // nil when no cache is configured

	stateMu sync.Mutex
	state   LifecycleState

	loopCtx    context.Context
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New wires a bridge from configuration. Nothing touches the network
// until Initialize.
func New(cfg *config.BridgeConfig, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(cfg.Events.BufferSize, logger),
		subs:   registry.New(),
		state:  StateUninitialized,
	}

	b.conns = connection.NewManager(connection.ManagerConfig{
		WSURL:             cfg.Upstream.WSURL,
		APIKey:            cfg.Upstream.APIKey,
		ConnectTimeout:    cfg.Streaming.ConnectTimeout,
		WriteTimeout:      cfg.Streaming.WriteTimeout,
		PingTimeout:       cfg.Streaming.PingTimeout,
		BufferSize:        cfg.Streaming.BufferSize,
		InboundBufferSize: cfg.Streaming.BufferSize * 10,
	}, logger)

	b.sup = supervisor.New(supervisor.Config{
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}, b.conns, b.subs, logger)

	return b
}

// Events returns the bridge's outbound event bus.
func (b *Bridge) Events() *events.Bus {
	return b.bus
}

// currentState reads the lifecycle state.
func (b *Bridge) currentState() LifecycleState {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.state
}

// transition moves from one lifecycle state to another.
func (b *Bridge) transition(from, to LifecycleState) error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.state != from {
		return fmt.Errorf("invalid transition %s to %s (current %s)", from, to, b.state)
	}
	b.state = to
	return nil
}

// Initialize probes the upstream and, on success, starts the dispatch
// loops and declares the bridge Ready. A failed probe is fatal: the
// bridge never enters a half-working state.
func (b *Bridge) Initialize(ctx context.Context) error {
	if err := b.transition(StateUninitialized, StateInitializing); err != nil {
		return ErrAlreadyInitialized
	}

	// Connect the optional cache first so the request router can serve
	// its cache-backed sources. Cache loss is not fatal.
	if b.cfg.Cache.Addr != "" && b.store == nil {
		store, err := cache.New(cache.Config{
			Addr:     b.cfg.Cache.Addr,
			Password: b.cfg.Cache.Password,
			DB:       b.cfg.Cache.DB,
			TTL:      b.cfg.Cache.TTL,
		}, b.logger)
		if err != nil {
			b.logger.Warn("cache unavailable, continuing without it", "error", err)
		} else {
			b.store = store
		}
	}

	var store request.LatestStore
	if b.store != nil {
		store = b.store
	}
	b.requests = request.NewRouter(request.Config{
		BaseURL: b.cfg.Upstream.RestURL,
		APIKey:  b.cfg.Upstream.APIKey,
		Timeout: b.cfg.Request.Timeout,
	}, store, b.logger)

	if err := b.requests.Health(ctx); err != nil {
		b.stateMu.Lock()
		if b.state == StateInitializing {
			// A racing Shutdown keeps its terminal state.
			b.state = StateUninitialized
		}
		b.stateMu.Unlock()
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}

	b.monitor = health.NewMonitor(health.Config{
		Interval:         b.cfg.Health.Interval,
		FailureThreshold: b.cfg.Health.FailureThreshold,
	}, b.requests.Health, b.logger)

	b.loopCtx, b.loopCancel = context.WithCancel(context.Background())

	b.wg.Add(3)
	go b.dispatchLoop()
	go b.closeLoop()
	go b.failureLoop()

	b.monitor.Start(b.loopCtx)
	b.wg.Add(1)
	go b.outageLoop()

	if err := b.transition(StateInitializing, StateReady); err != nil {
		// Shutdown raced initialization; tear down what we started so
		// nothing outlives the terminal state.
		b.monitor.Stop()
		b.loopCancel()
		b.wg.Wait()
		if b.store != nil {
			b.store.Close()
			b.store = nil
		}
		return ErrShuttingDown
	}

	b.logger.Info("bridge ready",
		"rest_url", b.cfg.Upstream.RestURL,
		"ws_url", b.cfg.Upstream.WSURL,
		"cache", b.store != nil,
	)
	b.bus.Emit(events.Event{Type: events.TypeReady})
	return nil
}

// clientKeyFor derives the connection key for a window. One connection
// per window unless the caller overrides it.
func clientKeyFor(windowID string, opts SubscribeOptions) string {
	if opts.ClientKey != "" {
		return opts.ClientKey
	}
	return windowID
}

// Subscribe opens (or reuses) the window's connection, sends the wire
// subscribe, and records the subscription. Returns the subscription ID.
func (b *Bridge) Subscribe(ctx context.Context, windowID string, stream protocol.Stream, symbols []string, opts SubscribeOptions) (string, error) {
	switch b.currentState() {
	case StateReady:
	case StateShuttingDown, StateShutdown:
		return "", ErrShuttingDown
	default:
		return "", ErrNotReady
	}

	if len(symbols) == 0 {
		return "", ErrNoSymbols
	}

	strict := !b.cfg.Streams.AllowFallback
	channels, err := protocol.Channels(stream, strict)
	if err != nil {
		return "", err
	}
	if !protocol.Known(stream) {
		b.logger.Warn("unknown stream, defaulting to trades channel", "stream", stream)
	}

	subID := uuid.NewString()
	clientKey := clientKeyFor(windowID, opts)

	// A fresh subscribe clears any Failed verdict for the key; the
	// user asked again, so we try again. A pending retry cycle is left
	// running so the key's surviving subscriptions still get replayed.
	b.sup.ClearFailed(clientKey)

	if err := b.conns.Open(ctx, clientKey); err != nil {
		b.emitSubscriptionError(subID, err)
		return "", err
	}

	frame, err := protocol.Subscribe(symbols, channels).Encode()
	if err != nil {
		b.emitSubscriptionError(subID, err)
		return "", err
	}
	if err := b.conns.Send(clientKey, frame); err != nil {
		b.emitSubscriptionError(subID, err)
		return "", err
	}

	sub := registry.NewSubscription(subID, clientKey, windowID, string(stream), symbols, channels)
	b.subs.Add(sub)

	b.logger.Info("subscription created",
		"subscription_id", subID,
		"window_id", windowID,
		"stream", stream,
		"symbols", symbols,
	)
	b.bus.Emit(events.Event{
		Type: events.TypeSubscriptionCreated,
		SubscriptionCreated: &events.SubscriptionCreated{
			SubscriptionID: subID,
			WindowID:       windowID,
			Symbols:        symbols,
		},
	})
	return subID, nil
}

// Unsubscribe removes a subscription. Draining a client key's last
// subscription cancels any pending reconnect and closes the socket; a
// connection is never kept open for zero subscribers.
func (b *Bridge) Unsubscribe(subscriptionID string) error {
	sub, ok := b.subs.Remove(subscriptionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}

	frame, err := protocol.Unsubscribe(sub.Symbols, sub.Channels).Encode()
	if err == nil {
		if err := b.conns.Send(sub.ClientKey, frame); err != nil {
			// Best effort: the connection may already be gone.
			b.logger.Debug("unsubscribe frame not sent",
				"subscription_id", subscriptionID,
				"error", err,
			)
		}
	}

	if b.subs.CountForKey(sub.ClientKey) == 0 {
		// Cancel before close so a scheduled retry cannot race the
		// deliberate teardown.
		b.sup.Cancel(sub.ClientKey)
		if err := b.conns.Close(sub.ClientKey); err != nil {
			b.logger.Warn("idle close failed", "client_key", sub.ClientKey, "error", err)
		}
	}

	b.logger.Info("subscription removed",
		"subscription_id", subscriptionID,
		"window_id", sub.WindowID,
	)
	return nil
}

// Request performs a one-shot fetch against the named source.
func (b *Bridge) Request(ctx context.Context, source string, params request.Params) ([]byte, error) {
	switch b.currentState() {
	case StateReady:
	case StateShuttingDown, StateShutdown:
		return nil, ErrShuttingDown
	default:
		return nil, ErrNotReady
	}
	return b.requests.Do(ctx, source, params)
}

// GetStatus returns a point-in-time snapshot for the UI.
func (b *Bridge) GetStatus() Status {
	st := b.currentState()
	status := Status{
		Initialized:         st == StateReady,
		State:               string(st),
		ActiveSubscriptions: b.subs.Count(),
	}
	status.WebsocketConnections = b.conns.OpenCount()
	if b.requests != nil {
		status.PendingRequests = b.requests.PendingCount()
	}
	status.FailedClients = b.sup.FailedKeys()
	return status
}

// Shutdown tears the bridge down: every connection closed, the registry
// cleared, all retry timers cancelled, and pending requests resolved
// with ErrShuttingDown. Errors are logged, never returned; shutdown
// always completes.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.stateMu.Lock()
	switch b.state {
	case StateShutdown, StateShuttingDown:
		b.stateMu.Unlock()
		return nil
	case StateUninitialized, StateInitializing:
		b.state = StateShutdown
		b.stateMu.Unlock()
		b.bus.Close()
		return nil
	}
	b.state = StateShuttingDown
	b.stateMu.Unlock()

	b.logger.Info("bridge shutting down")

	// Stop scheduling reconnects before tearing sockets down.
	b.sup.Shutdown()

	b.requests.Abort(ErrShuttingDown)
	if err := b.requests.Drain(ctx); err != nil {
		b.logger.Warn("pending requests did not drain", "error", err)
	}

	if err := b.conns.CloseAll(ctx); err != nil {
		b.logger.Warn("connection close barrier timed out", "error", err)
	}

	cleared := b.subs.Clear()
	if len(cleared) > 0 {
		b.logger.Info("cleared subscriptions", "count", len(cleared))
	}

	b.monitor.Stop()
	b.loopCancel()
	b.wg.Wait()

	if b.store != nil {
		if err := b.store.Close(); err != nil {
			b.logger.Warn("cache close failed", "error", err)
		}
	}

	b.bus.Close()

	b.stateMu.Lock()
	b.state = StateShutdown
	b.stateMu.Unlock()

	b.logger.Info("bridge shutdown complete")
	return nil
}

func (b *Bridge) emitSubscriptionError(subID string, err error) {
	b.bus.Emit(events.Event{
		Type: events.TypeSubscriptionError,
		SubscriptionError: &events.SubscriptionError{
			SubscriptionID: subID,
			Err:            err.Error(),
		},
	})
}

// dispatchLoop consumes inbound messages and fans market data out to
// matching subscriptions. Running on a single goroutine preserves
// per-connection inbound order through the fan-out step.
func (b *Bridge) dispatchLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.loopCtx.Done():
			return
		case in := <-b.conns.Messages():
			b.dispatch(in)
		}
	}
}

// dispatch routes a single inbound message.
func (b *Bridge) dispatch(in connection.Inbound) {
	env, err := protocol.ParseEnvelope(in.Data)
	if err != nil {
		b.logger.Warn("unparseable inbound message", "client_key", in.ClientKey, "error", err)
		return
	}

	switch env.Type {
	case protocol.TypeMarketData:
		b.fanOut(in.ClientKey, env)

	case protocol.TypeError:
		b.logger.Warn("upstream error frame",
			"client_key", in.ClientKey,
			"message", env.Message,
		)

	case protocol.TypeConnected, protocol.TypeSubscribed, protocol.TypePong:
		b.logger.Debug("upstream control frame",
			"client_key", in.ClientKey,
			"type", env.Type,
		)

	default:
		b.logger.Debug("skipping message type", "type", env.Type)
	}
}

// fanOut delivers one market_data message to every matching
// subscription on its connection, exactly once per subscription.
func (b *Bridge) fanOut(clientKey string, env protocol.Envelope) {
	symbols := protocol.Symbols(env.Data)
	if len(symbols) == 0 {
		return
	}

	for _, sub := range b.subs.Match(clientKey, symbols) {
		b.bus.Emit(events.Event{
			Type: events.TypeMarketData,
			MarketData: &events.MarketData{
				WindowID:       sub.WindowID,
				SubscriptionID: sub.ID,
				Stream:         sub.Stream,
				Data:           env.Data,
			},
		})
	}

	if b.store != nil {
		b.writeThrough(symbols, env)
	}
}

// writeThrough stores the latest payload per symbol. Best effort; a
// cache miss later is the only consequence of failure.
func (b *Bridge) writeThrough(symbols []string, env protocol.Envelope) {
	ctx, cancel := context.WithTimeout(b.loopCtx, time.Second)
	defer cancel()
	for _, sym := range symbols {
		if err := b.store.SetLatest(ctx, sym, env.Data); err != nil {
			b.logger.Debug("cache write-through failed", "symbol", sym, "error", err)
			return
		}
	}
}

// closeLoop forwards unexpected connection closures to the supervisor.
func (b *Bridge) closeLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.loopCtx.Done():
			return
		case ev := <-b.conns.Closes():
			b.sup.NotifyClosed(ev.ClientKey)
		}
	}
}

// failureLoop surfaces terminal reconnection failures to the UI.
func (b *Bridge) failureLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.loopCtx.Done():
			return
		case f := <-b.sup.Failed():
			b.bus.Emit(events.Event{
				Type: events.TypeReconnectionFailed,
				ReconnectionFailed: &events.ReconnectionFailed{
					ClientID: f.ClientKey,
					Attempts: f.Attempts,
				},
			})
		}
	}
}

// outageLoop surfaces upstream health loss as a server-exit event, the
// shell's signal that the data server died.
func (b *Bridge) outageLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.loopCtx.Done():
			return
		case o := <-b.monitor.Outages():
			b.bus.Emit(events.Event{
				Type: events.TypeServerExit,
				ServerExit: &events.ServerExit{
					Code:   o.Failures,
					Signal: "health-probe",
				},
			})
		}
	}
}

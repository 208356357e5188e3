// Package supervisor drives reconnection after unexpected connection
// loss. Each client key runs an explicit state machine, Stable to
// Retrying to (Stable | Failed), with linearly growing, bounded delays
// and cancellable timers. On a successful reopen every subscription
// that was live on the connection is replayed as a fresh subscribe
// frame.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/XIIITrading/Alpha-V1/internal/protocol"
	"github.com/XIIITrading/Alpha-V1/internal/registry"
)

// Conns is the slice of the connection manager the supervisor needs.
type Conns interface {
	Open(ctx context.Context, clientKey string) error
	Send(clientKey string, data []byte) error
	Close(clientKey string) error
}

// Subs exposes the subscription registry's per-key view.
type Subs interface {
	ForKey(clientKey string) []*registry.Subscription
	CountForKey(clientKey string) int
}

// Failure is the terminal give-up notice for a client key.
type Failure struct {
	ClientKey string
	Attempts  int
}

// Config tunes the retry schedule.
type Config struct {
	BaseDelay   time.Duration // delay(k) = min(BaseDelay * k, MaxDelay)
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultConfig returns the production schedule: 5s linear steps capped
// at 30s, ten attempts.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   5 * time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

type phase int

const (
	phaseRetrying phase = iota
	phaseFailed
)

// keyState is the authoritative per-key machine state. Absence from the
// map means Stable.
type keyState struct {
	phase    phase
	attempts int
	timer    *time.Timer

	// pendingClose records a close reported while an attempt was
	// mid-flight, so the success path does not go Stable on a socket
	// that already died again.
	pendingClose bool
}

// Supervisor owns the retry state for every client key. All fields are
// instance-scoped; the bridge facade injects its own registry and
// connection manager.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	conns Conns
	subs  Subs

	failed chan Failure

	mu     sync.Mutex
	keys   map[string]*keyState
	closed bool
}

// New creates a supervisor.
func New(cfg Config, conns Conns, subs Subs, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		conns:  conns,
		subs:   subs,
		failed: make(chan Failure, 16),
		keys:   make(map[string]*keyState),
	}
}

// Failed returns the channel of terminal reconnection failures.
func (s *Supervisor) Failed() <-chan Failure {
	return s.failed
}

// Delay returns the wait before attempt k (1-based).
func (s *Supervisor) Delay(k int) time.Duration {
	d := s.cfg.BaseDelay * time.Duration(k)
	if d > s.cfg.MaxDelay {
		d = s.cfg.MaxDelay
	}
	return d
}

// NotifyClosed reports an unexpected connection closure. A retry cycle
// starts only when at least one live subscription still references the
// key; an idle connection is left closed.
func (s *Supervisor) NotifyClosed(clientKey string) {
	if s.subs.CountForKey(clientKey) == 0 {
		s.logger.Debug("no subscribers, leaving connection closed", "client_key", clientKey)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if st, ok := s.keys[clientKey]; ok {
		// Already Retrying or Failed; a second close report does not
		// restart the schedule, but a close racing an in-flight attempt
		// must not be lost.
		if st.phase == phaseRetrying {
			st.pendingClose = true
		}
		s.logger.Debug("close reported while not stable", "client_key", clientKey, "phase", st.phase)
		return
	}

	st := &keyState{phase: phaseRetrying, attempts: 0}
	s.keys[clientKey] = st
	s.scheduleLocked(clientKey, st)
}

// scheduleLocked arms the timer for the next attempt. Caller holds mu.
func (s *Supervisor) scheduleLocked(clientKey string, st *keyState) {
	next := st.attempts + 1
	delay := s.Delay(next)
	s.logger.Info("scheduling reconnect",
		"client_key", clientKey,
		"attempt", next,
		"delay", delay,
	)
	st.timer = time.AfterFunc(delay, func() {
		s.attempt(clientKey)
	})
}

// attempt performs one reconnection attempt for clientKey.
func (s *Supervisor) attempt(clientKey string) {
	s.mu.Lock()
	st, ok := s.keys[clientKey]
	if !ok || st.phase != phaseRetrying || s.closed {
		s.mu.Unlock()
		return
	}
	st.attempts++
	attempts := st.attempts
	s.mu.Unlock()

	// The subscriber set may have drained while the timer was pending.
	if s.subs.CountForKey(clientKey) == 0 {
		s.logger.Info("subscriptions drained, abandoning reconnect", "client_key", clientKey)
		s.Cancel(clientKey)
		return
	}

	err := s.conns.Open(context.Background(), clientKey)
	if err == nil {
		if s.subs.CountForKey(clientKey) == 0 {
			// Unsubscribe raced the reopen; nobody needs the socket.
			s.conns.Close(clientKey)
			s.Cancel(clientKey)
			return
		}
		s.replay(clientKey)

		s.mu.Lock()
		if s.keys[clientKey] == st && !s.closed {
			if st.pendingClose {
				// The socket dropped again while we were replaying;
				// start a fresh cycle instead of going Stable with a
				// dead connection.
				st.pendingClose = false
				st.attempts = 0
				s.scheduleLocked(clientKey, st)
			} else {
				delete(s.keys, clientKey) // back to Stable, counter reset
			}
		}
		s.mu.Unlock()

		s.logger.Info("reconnected", "client_key", clientKey, "attempts", attempts)
		return
	}

	s.logger.Warn("reconnect attempt failed",
		"client_key", clientKey,
		"attempt", attempts,
		"error", err,
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[clientKey] != st || s.closed {
		return
	}

	if attempts >= s.cfg.MaxAttempts {
		st.phase = phaseFailed
		st.timer = nil
		s.logger.Error("reconnection exhausted",
			"client_key", clientKey,
			"attempts", attempts,
		)
		select {
		case s.failed <- Failure{ClientKey: clientKey, Attempts: attempts}:
		default:
			s.logger.Warn("failure channel full", "client_key", clientKey)
		}
		return
	}

	s.scheduleLocked(clientKey, st)
}

// replay re-sends a subscribe frame for every live subscription on the
// key. Wire subscriptions do not survive a reconnect; registry state
// does.
func (s *Supervisor) replay(clientKey string) {
	for _, sub := range s.subs.ForKey(clientKey) {
		frame := protocol.Subscribe(sub.Symbols, sub.Channels)
		data, err := frame.Encode()
		if err != nil {
			s.logger.Error("encode replay frame", "subscription_id", sub.ID, "error", err)
			continue
		}
		if err := s.conns.Send(clientKey, data); err != nil {
			s.logger.Warn("replay subscribe failed",
				"subscription_id", sub.ID,
				"client_key", clientKey,
				"error", err,
			)
			continue
		}
		s.logger.Debug("replayed subscription",
			"subscription_id", sub.ID,
			"symbols", sub.Symbols,
		)
	}
}

// ClearFailed forgets a Failed verdict for clientKey so a fresh
// subscribe can dial again. A pending Retrying cycle is left alone: its
// timer still owes the key a replay of the surviving subscriptions.
func (s *Supervisor) ClearFailed(clientKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.keys[clientKey]
	if !ok || st.phase != phaseFailed {
		return
	}
	delete(s.keys, clientKey)
}

// Cancel stops any pending retry cycle for clientKey and forgets its
// state. Called when an unsubscribe drains the key.
func (s *Supervisor) Cancel(clientKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.keys[clientKey]
	if !ok {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(s.keys, clientKey)
}

// FailedKeys returns the client keys in the Failed phase.
func (s *Supervisor) FailedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for key, st := range s.keys {
		if st.phase == phaseFailed {
			out = append(out, key)
		}
	}
	return out
}

// Retrying reports whether clientKey currently has a retry cycle.
func (s *Supervisor) Retrying(clientKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.keys[clientKey]
	return ok && st.phase == phaseRetrying
}

// Shutdown cancels every timer and refuses further retry cycles.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for key, st := range s.keys {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(s.keys, key)
	}
}

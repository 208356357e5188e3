package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/XIIITrading/Alpha-V1/internal/registry"
)

// fakeConns counts opens and records sent frames.
type fakeConns struct {
	sendHook func() // called at the top of Send when set

	mu       sync.Mutex
	opens    int
	failures int // first N opens fail
	sent     map[string][][]byte
	closed   []string
}

func newFakeConns(failures int) *fakeConns {
	return &fakeConns{failures: failures, sent: make(map[string][][]byte)}
}

func (f *fakeConns) Open(ctx context.Context, clientKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.opens <= f.failures {
		return errors.New("dial refused")
	}
	return nil
}

func (f *fakeConns) Send(clientKey string, data []byte) error {
	if f.sendHook != nil {
		f.sendHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[clientKey] = append(f.sent[clientKey], data)
	return nil
}

func (f *fakeConns) Close(clientKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, clientKey)
	return nil
}

func (f *fakeConns) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeConns) sentFor(key string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent[key]...)
}

func fastConfig(maxAttempts int) Config {
	return Config{
		BaseDelay:   2 * time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		MaxAttempts: maxAttempts,
	}
}

func newRegistryWith(subs ...*registry.Subscription) *registry.Registry {
	r := registry.New()
	for _, s := range subs {
		r.Add(s)
	}
	return r
}

func TestDelay_LinearBounded(t *testing.T) {
	s := New(DefaultConfig(), newFakeConns(0), registry.New(), nil)

	tests := []struct {
		k    int
		want time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{5, 25 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := s.Delay(tt.k); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.k, got, tt.want)
		}
	}
}

func TestSupervisor_ReconnectReplaysSubscriptions(t *testing.T) {
	subs := newRegistryWith(
		registry.NewSubscription("s1", "w1", "w1", "trades", []string{"AAPL"}, []string{"T"}),
		registry.NewSubscription("s2", "w1", "w1", "quotes", []string{"TSLA"}, []string{"Q"}),
	)
	conns := newFakeConns(0)
	s := New(fastConfig(10), conns, subs, nil)

	s.NotifyClosed("w1")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(conns.sentFor("w1")) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	frames := conns.sentFor("w1")
	if len(frames) != 2 {
		t.Fatalf("replayed %d frames, want 2", len(frames))
	}

	var first struct {
		Action  string   `json:"action"`
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(frames[0], &first); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if first.Action != "subscribe" || len(first.Symbols) != 1 || first.Symbols[0] != "AAPL" {
		t.Errorf("first replay frame = %s", frames[0])
	}

	if s.Retrying("w1") {
		t.Error("key should be Stable after successful reconnect")
	}
	if conns.openCount() != 1 {
		t.Errorf("opens = %d, want 1", conns.openCount())
	}
}

func TestSupervisor_ExhaustionEmitsFailureOnce(t *testing.T) {
	subs := newRegistryWith(
		registry.NewSubscription("s1", "w1", "w1", "trades", []string{"AAPL"}, []string{"T"}),
	)
	conns := newFakeConns(1000) // every attempt fails
	s := New(fastConfig(10), conns, subs, nil)

	s.NotifyClosed("w1")

	select {
	case f := <-s.Failed():
		if f.ClientKey != "w1" {
			t.Errorf("ClientKey = %s", f.ClientKey)
		}
		if f.Attempts != 10 {
			t.Errorf("Attempts = %d, want 10", f.Attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no failure emitted")
	}

	// No attempt 11 is ever scheduled.
	settled := conns.openCount()
	time.Sleep(50 * time.Millisecond)
	if got := conns.openCount(); got != settled || got != 10 {
		t.Errorf("opens = %d (was %d), want exactly 10", got, settled)
	}

	select {
	case f := <-s.Failed():
		t.Errorf("second failure emitted: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}

	keys := s.FailedKeys()
	if len(keys) != 1 || keys[0] != "w1" {
		t.Errorf("FailedKeys = %v", keys)
	}
}

func TestSupervisor_ClearFailedLeavesRetryCycle(t *testing.T) {
	subs := newRegistryWith(
		registry.NewSubscription("s1", "w1", "w1", "trades", []string{"AAPL"}, []string{"T"}),
	)
	conns := newFakeConns(1000)
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 10}
	s := New(cfg, conns, subs, nil)

	s.NotifyClosed("w1")
	if !s.Retrying("w1") {
		t.Fatal("expected retrying state")
	}

	// ClearFailed must not touch a pending Retrying cycle.
	s.ClearFailed("w1")
	if !s.Retrying("w1") {
		t.Error("ClearFailed cancelled a pending retry cycle")
	}
	s.Cancel("w1")

	// Drive a key to Failed, then clear the verdict.
	fast := New(fastConfig(2), newFakeConns(1000), subs, nil)
	fast.NotifyClosed("w1")
	select {
	case <-fast.Failed():
	case <-time.After(2 * time.Second):
		t.Fatal("no failure emitted")
	}
	if keys := fast.FailedKeys(); len(keys) != 1 {
		t.Fatalf("FailedKeys = %v", keys)
	}

	fast.ClearFailed("w1")
	if keys := fast.FailedKeys(); len(keys) != 0 {
		t.Errorf("FailedKeys = %v after ClearFailed, want none", keys)
	}
}

func TestSupervisor_CloseDuringReplayRestartsCycle(t *testing.T) {
	subs := newRegistryWith(
		registry.NewSubscription("s1", "w1", "w1", "trades", []string{"AAPL"}, []string{"T"}),
	)
	conns := newFakeConns(0)

	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	conns.sendHook = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	s := New(fastConfig(10), conns, subs, nil)
	s.NotifyClosed("w1")

	// The first attempt reopens and blocks inside the replay send. A
	// close reported now must not be lost when the attempt finishes.
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("replay send never started")
	}
	s.NotifyClosed("w1")
	close(release)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if conns.openCount() == 2 && !s.Retrying("w1") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := conns.openCount(); got != 2 {
		t.Errorf("opens = %d, want a second cycle after the raced close", got)
	}
	if s.Retrying("w1") {
		t.Error("key should be Stable after the second cycle succeeds")
	}
}

func TestSupervisor_NoSubscribersNoRetry(t *testing.T) {
	conns := newFakeConns(0)
	s := New(fastConfig(10), conns, registry.New(), nil)

	s.NotifyClosed("w1")
	time.Sleep(50 * time.Millisecond)

	if conns.openCount() != 0 {
		t.Errorf("opens = %d, want 0 for subscriber-less key", conns.openCount())
	}
	if s.Retrying("w1") {
		t.Error("idle key should not be retrying")
	}
}

func TestSupervisor_CancelStopsPendingRetry(t *testing.T) {
	subs := newRegistryWith(
		registry.NewSubscription("s1", "w1", "w1", "trades", []string{"AAPL"}, []string{"T"}),
	)
	conns := newFakeConns(0)
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 10}
	s := New(cfg, conns, subs, nil)

	s.NotifyClosed("w1")
	if !s.Retrying("w1") {
		t.Fatal("expected retrying state")
	}
	s.Cancel("w1")

	time.Sleep(250 * time.Millisecond)
	if conns.openCount() != 0 {
		t.Errorf("opens = %d after cancel, want 0", conns.openCount())
	}
	if s.Retrying("w1") {
		t.Error("cancelled key still retrying")
	}
}

func TestSupervisor_DrainedKeyAbandonsAttempt(t *testing.T) {
	subs := newRegistryWith(
		registry.NewSubscription("s1", "w1", "w1", "trades", []string{"AAPL"}, []string{"T"}),
	)
	conns := newFakeConns(0)
	cfg := Config{BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 10}
	s := New(cfg, conns, subs, nil)

	s.NotifyClosed("w1")
	subs.Remove("s1") // drain before the timer fires

	time.Sleep(150 * time.Millisecond)
	if conns.openCount() != 0 {
		t.Errorf("opens = %d for drained key, want 0", conns.openCount())
	}
}

func TestSupervisor_ShutdownCancelsTimers(t *testing.T) {
	subs := newRegistryWith(
		registry.NewSubscription("s1", "w1", "w1", "trades", []string{"AAPL"}, []string{"T"}),
	)
	conns := newFakeConns(0)
	cfg := Config{BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 10}
	s := New(cfg, conns, subs, nil)

	s.NotifyClosed("w1")
	s.Shutdown()

	time.Sleep(150 * time.Millisecond)
	if conns.openCount() != 0 {
		t.Errorf("opens = %d after shutdown, want 0", conns.openCount())
	}

	// New cycles are refused after shutdown.
	s.NotifyClosed("w1")
	if s.Retrying("w1") {
		t.Error("retry cycle started after shutdown")
	}
}

// Package health watches upstream reachability after the bridge is
// Ready. Consecutive probe failures past a threshold are reported once
// per outage; recovery re-arms the report.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe checks the upstream once. Non-nil means unreachable.
type Probe func(ctx context.Context) error

// Outage is emitted when the failure threshold is crossed.
type Outage struct {
	Failures int // consecutive failed probes at emission time
}

// Config tunes the monitor.
type Config struct {
	Interval         time.Duration
	FailureThreshold int
	ProbeTimeout     time.Duration
}

// Monitor runs the periodic probe loop.
type Monitor struct {
	cfg    Config
	probe  Probe
	logger *slog.Logger

	outages chan Outage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	failures int
	reported bool
}

// NewMonitor creates a monitor.
func NewMonitor(cfg Config, probe Probe, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Monitor{
		cfg:     cfg,
		probe:   probe,
		logger:  logger,
		outages: make(chan Outage, 4),
	}
}

// Outages returns the channel of threshold crossings.
func (m *Monitor) Outages() <-chan Outage {
	return m.outages
}

// Start begins probing in the background.
func (m *Monitor) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.loop()

	m.logger.Info("health monitor started",
		"interval", m.cfg.Interval,
		"failure_threshold", m.cfg.FailureThreshold,
	)
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Failures returns the current consecutive failure count.
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	probeCtx, cancel := context.WithTimeout(m.ctx, m.cfg.ProbeTimeout)
	err := m.probe(probeCtx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		if m.failures > 0 {
			m.logger.Info("upstream recovered", "after_failures", m.failures)
		}
		m.failures = 0
		m.reported = false
		return
	}

	m.failures++
	m.logger.Warn("health probe failed",
		"consecutive", m.failures,
		"error", err,
	)

	if m.failures >= m.cfg.FailureThreshold && !m.reported {
		m.reported = true
		select {
		case m.outages <- Outage{Failures: m.failures}:
		default:
			m.logger.Warn("outage channel full")
		}
	}
}

// Package connectivity watches backend reachability and turns it into
// edge-triggered bus events. It is the daemon's stand-in for a mobile
// platform's network-state callback.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sahasi-app/sahasi/internal/bus"
	"go.uber.org/zap"
)

// Probe answers "is the backend reachable right now".
type Probe interface {
	Check(ctx context.Context) bool
}

// HTTPProbe checks reachability with a HEAD request. Any HTTP response
// counts as reachable; only transport failures count as offline.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProbe) Check(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, "HEAD", p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Monitor polls a Probe and publishes connectivity.online /
// connectivity.offline on transitions only. Repeated identical
// observations never re-publish, so a flapping-free network cannot
// trigger redundant sync runs.
type Monitor struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc

	mu     sync.RWMutex
	known  bool
	online bool
}

// NewMonitor creates a monitor. interval is the probe period.
func NewMonitor(probe Probe, interval time.Duration, b *bus.Bus, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		timeout:  interval,
		bus:      b,
		logger:   logger,
	}
}

// Start probes immediately, then on every tick, until Stop or ctx.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Online returns the last known reachability. Before the first probe
// completes it reports false.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.known && m.online
}

func (m *Monitor) loop(ctx context.Context) {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	online := m.probe.Check(probeCtx)
	cancel()

	m.mu.Lock()
	first := !m.known
	changed := m.online != online
	m.known = true
	m.online = online
	m.mu.Unlock()

	switch {
	case first && online:
		// The initial observation counts as an edge only when online;
		// starting offline is not a transition anyone can act on.
		m.publish(true)
	case !first && changed:
		m.publish(online)
	}
}

func (m *Monitor) publish(online bool) {
	kind := "connectivity.offline"
	if online {
		kind = "connectivity.online"
	}
	m.logger.Info("connectivity changed", zap.Bool("online", online))
	if m.bus != nil {
		m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: online})
	}
}

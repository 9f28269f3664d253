// Package netmon observes hub reachability and emits online/offline
// transitions to subscribers. The probe is pluggable; the sync engine only
// consumes the event stream.
package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Probe checks whether the remote side is reachable right now.
type Probe interface {
	Check(ctx context.Context) error
}

// HTTPProbe checks reachability against the hub's public health endpoint.
type HTTPProbe struct {
	url    string
	client *http.Client
}

// NewHTTPProbe creates a probe for the hub at baseURL with a bounded
// per-check timeout.
func NewHTTPProbe(baseURL string, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProbe{
		url:    baseURL + "/api/v1/health",
		client: &http.Client{Timeout: timeout},
	}
}

// Check implements Probe.
func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

// subscriberBuffer bounds how many undelivered transitions a subscriber
// may accumulate before events are dropped for it.
const subscriberBuffer = 16

// Monitor polls the probe and publishes reachability transitions. Events
// are booleans: true for wentOnline, false for wentOffline. Delivery per
// subscriber is in transition order.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

// New creates a monitor that polls probe every interval. The initial state
// is offline until the first successful check.
func New(probe Probe, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		subs:     make(map[int]chan bool),
	}
}

// Online returns the current reachability.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers for transition events. The returned cancel func must
// be called to release the subscription.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, subscriberBuffer)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Run polls until ctx is cancelled. The first check happens immediately so
// a process started online does not wait a full interval to leave the
// offline state.
func (m *Monitor) Run(ctx context.Context) {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	err := m.probe.Check(ctx)
	if ctx.Err() != nil {
		return
	}
	m.setOnline(err == nil)
}

// setOnline records the state and publishes a transition when it changed.
// Exported behavior is transition-only: steady state emits nothing.
func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if online == m.online {
		return
	}
	m.online = online

	slog.Info("connectivity transition", "component", "netmon", "online", online)

	for id, ch := range m.subs {
		select {
		case ch <- online:
		default:
			slog.Warn("dropped connectivity event for slow subscriber",
				"component", "netmon",
				"subscriber", id,
			)
		}
	}
}

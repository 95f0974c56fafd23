package offline

import (
	"context"
	"sync"
	"time"
)

// ConnState is the monitor's view of backend reachability.
type ConnState string

const (
	StateOnline  ConnState = "online"
	StateOffline ConnState = "offline"
)

// Transition is emitted to subscribers on each debounced state change.
type Transition struct {
	From ConnState
	To   ConnState
	At   time.Time
}

// Prober checks backend reachability. An implementation typically pings the
// backing connection pool.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor tracks backend reachability with periodic probes. A configurable
// number of consecutive failures flips the state to offline and consecutive
// successes flip it back, so a single dropped probe never causes a flap.
type Monitor struct {
	prober Prober
	opts   MonitorOptions

	mu          sync.RWMutex
	state       ConnState
	consecutive int
	subscribers []chan Transition

	m *metrics
}

func NewMonitor(prober Prober, opts MonitorOptions) (*Monitor, error) {
	if prober == nil {
		return nil, invalidConfig("prober is required")
	}
	opts.setDefaults()
	if opts.Logger == nil {
		opts.Logger = logrusNop()
	}
	m := &Monitor{
		prober: prober,
		opts:   opts,
		state:  StateOnline,
		m:      getMetrics(),
	}
	m.m.online.Set(1)
	return m, nil
}

// Online reports the current debounced state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateOnline
}

// Subscribe returns a channel receiving every transition. The channel is
// buffered; a slow consumer loses older transitions rather than blocking
// the probe loop.
func (m *Monitor) Subscribe() <-chan Transition {
	ch := make(chan Transition, 4)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) Run(ctx context.Context) error {
	if ctx == nil {
		return invalidConfig("ctx is required")
	}

	// First probe decides the starting state without debounce so a client
	// booting without connectivity queues immediately.
	m.probeOnce(ctx, true)

	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		m.probeOnce(ctx, false)
	}
}

func (m *Monitor) probeOnce(ctx context.Context, immediate bool) {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	observed := StateOnline
	if err != nil {
		observed = StateOffline
	}

	m.mu.Lock()
	if observed == m.state {
		m.consecutive = 0
		m.mu.Unlock()
		return
	}

	m.consecutive++
	threshold := m.opts.OnlineThreshold
	if observed == StateOffline {
		threshold = m.opts.OfflineThreshold
	}
	if !immediate && m.consecutive < threshold {
		m.mu.Unlock()
		return
	}

	from := m.state
	m.state = observed
	m.consecutive = 0
	subscribers := make([]chan Transition, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	t := Transition{From: from, To: observed, At: time.Now()}
	if observed == StateOnline {
		m.m.online.Set(1)
	} else {
		m.m.online.Set(0)
	}
	m.m.transitionsTotal.WithLabelValues(string(observed)).Inc()

	entry := m.opts.Logger.WithFields(map[string]any{"from": from, "to": observed})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Info("offline: connectivity transition")

	for _, ch := range subscribers {
		select {
		case ch <- t:
		default:
		}
	}
}

package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/costaverde-offline/pkg/fetch"
)

// ErrNoTrigger is returned by Trigger for a tag nobody subscribed to.
var ErrNoTrigger = errors.New("no callback registered for tag")

// Prometheus metrics for connectivity tracking.
var (
	connectivityOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_connectivity_online",
		Help: "1 when the origin is considered reachable, 0 otherwise",
	})

	connectivityTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_connectivity_transitions_total",
		Help: "Total number of online/offline transitions",
	}, []string{"to"})

	connectivityProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_connectivity_probes_total",
		Help: "Total number of reachability probes by result",
	}, []string{"result"})
)

// Config holds the monitor configuration.
type Config struct {
	// FailureThreshold is the number of consecutive network failures
	// that flips the state to offline.
	FailureThreshold int

	// InitialOnline is the state assumed before anything is observed.
	InitialOnline bool

	// Store persists transitions (optional).
	Store StateStore
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		InitialOnline:    true,
	}
}

// Monitor tracks connectivity and dispatches replay triggers.
type Monitor struct {
	config Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	now       func() time.Time
	state     State
	reconnect []func(ctx context.Context)
	triggers  map[string][]func(ctx context.Context)
}

// NewMonitor creates a new connectivity monitor.
func NewMonitor(cfg Config, logger zerolog.Logger) *Monitor {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Monitor{
		config:   cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		triggers: make(map[string][]func(ctx context.Context)),
	}
	m.state = State{Online: cfg.InitialOnline}
	connectivityOnline.Set(gaugeValue(cfg.InitialOnline))
	return m
}

// SetClock replaces the time source (for testing).
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Restore loads the persisted state, if any. Callbacks are not fired.
func (m *Monitor) Restore(ctx context.Context) error {
	if m.config.Store == nil {
		return nil
	}
	state, ok, err := m.config.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load connectivity state: %w", err)
	}
	if !ok {
		m.logger.Debug().Msg("No connectivity state stored, keeping initial state")
		return nil
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	connectivityOnline.Set(gaugeValue(state.Online))
	m.logger.Info().Bool("online", state.Online).Time("changed_at", state.ChangedAt).Msg("Connectivity state restored")
	return nil
}

// OnReconnect registers fn to run on every offline to online transition.
func (m *Monitor) OnReconnect(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = append(m.reconnect, fn)
}

// OnExplicitTrigger registers fn to run when tag is triggered.
func (m *Monitor) OnExplicitTrigger(tag string, fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[tag] = append(m.triggers[tag], fn)
}

// Tags returns the tags that have at least one callback.
func (m *Monitor) Tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tags := make([]string, 0, len(m.triggers))
	for tag := range m.triggers {
		tags = append(tags, tag)
	}
	return tags
}

// Trigger runs the callbacks of tag synchronously.
func (m *Monitor) Trigger(ctx context.Context, tag string) error {
	m.mu.Lock()
	fns := append([]func(ctx context.Context){}, m.triggers[tag]...)
	m.mu.Unlock()

	if len(fns) == 0 {
		return fmt.Errorf("%w: %q", ErrNoTrigger, tag)
	}

	m.logger.Debug().Str("tag", tag).Msg("Explicit sync trigger")
	for _, fn := range fns {
		fn(ctx)
	}
	return nil
}

// Online reports whether the origin is considered reachable.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Online
}

// State returns a snapshot of the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetOnline records an authoritative connectivity signal, such as a
// platform online/offline event.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	m.state.LastObserved = m.now()
	if online {
		m.state.ConsecutiveFailures = 0
	}
	changed := m.transitionLocked(online)
	m.mu.Unlock()

	if changed {
		m.afterTransition(online)
	}
}

// ObserveFetch records the outcome of a request to the origin. Any
// response counts as reachable; network failures count towards the
// failure threshold. Cancelled requests say nothing about the network.
func (m *Monitor) ObserveFetch(err error) {
	if err != nil && fetch.Classify(err) == fetch.ErrorClassCancelled {
		return
	}

	m.mu.Lock()
	m.state.LastObserved = m.now()
	var changed bool
	if err == nil {
		m.state.ConsecutiveFailures = 0
		changed = m.transitionLocked(true)
	} else {
		m.state.ConsecutiveFailures++
		if m.state.ConsecutiveFailures >= m.config.FailureThreshold {
			changed = m.transitionLocked(false)
		}
	}
	online := m.state.Online
	failures := m.state.ConsecutiveFailures
	m.mu.Unlock()

	if err != nil && !changed {
		m.logger.Debug().Err(err).Int("consecutive_failures", failures).Msg("Fetch failed")
	}
	if changed {
		m.afterTransition(online)
	}
}

// Wrap returns a fetcher that reports every outcome of f to the monitor.
func (m *Monitor) Wrap(f fetch.Fetcher) fetch.Fetcher {
	return fetch.FetcherFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := f.Fetch(req)
		m.ObserveFetch(err)
		return resp, err
	})
}

// Probe checks reachability once.
type Probe func(ctx context.Context) error

// HTTPProbe returns a probe issuing HEAD requests to target through f.
// Any HTTP response counts as reachable.
func HTTPProbe(f fetch.Fetcher, target string) Probe {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return err
		}
		resp, err := f.Fetch(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// Run probes every interval until ctx is done. Probes are only issued
// while offline or when nothing was observed for a whole interval.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, probe Probe) {
	if interval <= 0 || probe == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", interval).Msg("Connectivity probe started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Connectivity probe stopped")
			return
		case <-ticker.C:
			state := m.State()
			if state.Online && !state.IsStale(interval) {
				continue
			}
			m.probeOnce(ctx, interval, probe)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context, timeout time.Duration, probe Probe) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := probe(probeCtx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		connectivityProbesTotal.WithLabelValues("failure").Inc()
	} else {
		connectivityProbesTotal.WithLabelValues("success").Inc()
	}
	m.ObserveFetch(err)
}

// Wait blocks until all reconnect callbacks started so far have returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Close cancels running reconnect callbacks and waits for them.
func (m *Monitor) Close() {
	m.cancel()
	m.wg.Wait()
}

// transitionLocked flips the state; it reports whether anything changed.
func (m *Monitor) transitionLocked(online bool) bool {
	if m.state.Online == online {
		return false
	}
	m.state.Online = online
	m.state.ChangedAt = m.state.LastObserved
	if m.state.ChangedAt.IsZero() {
		m.state.ChangedAt = m.now()
	}
	return true
}

func (m *Monitor) afterTransition(online bool) {
	state := m.State()
	connectivityOnline.Set(gaugeValue(online))

	if online {
		connectivityTransitionsTotal.WithLabelValues("online").Inc()
		m.logger.Info().Msg("Origin reachable again")
	} else {
		connectivityTransitionsTotal.WithLabelValues("offline").Inc()
		m.logger.Warn().Int("consecutive_failures", state.ConsecutiveFailures).Msg("Origin unreachable, serving offline")
	}

	if m.config.Store != nil {
		if err := m.config.Store.Save(m.ctx, state); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to persist connectivity state")
		}
	}

	if !online {
		return
	}

	m.mu.Lock()
	fns := append([]func(ctx context.Context){}, m.reconnect...)
	m.mu.Unlock()

	for _, fn := range fns {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			fn(m.ctx)
		}()
	}
}

func gaugeValue(online bool) float64 {
	if online {
		return 1
	}
	return 0
}

// Package errhandler implements the Integration Error Handler of §4.8:
// per-component sliding-window failure tracking, isolation once a
// component crosses its failure threshold, and re-integration after
// consecutive healthy probes. Grounded on the teacher's
// internal/adapter/health/circuit_breaker.go atomic sliding-state idiom,
// applied one level up (components, not endpoints) and broadcasting
// through pkg/eventbus instead of a bespoke emitter.
package errhandler

import (
	"sync"
	"time"

	"github.com/ogpool/rpcpool/internal/core/domain"
	"github.com/ogpool/rpcpool/internal/core/ports"
	"github.com/ogpool/rpcpool/pkg/eventbus"
)

const (
	defaultFailureThreshold  = 3
	defaultWindow            = 60 * time.Second
	defaultProbeInterval     = 30 * time.Second
	defaultHealthyProbesNeed = 3
)

// Config tunes the isolation/recovery thresholds.
type Config struct {
	FailureThreshold  int
	Window            time.Duration
	ProbeInterval     time.Duration
	HealthyProbesNeed int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}
	if c.HealthyProbesNeed <= 0 {
		c.HealthyProbesNeed = defaultHealthyProbesNeed
	}
	return c
}

type componentState struct {
	mu              sync.Mutex
	failureTimes    []time.Time
	isolated        bool
	healthyProbes   int
	lastProbeAt     time.Time
}

// Handler is the ports.ErrorHandler implementation, supervising a fixed
// set of components registered at construction.
type Handler struct {
	cfg Config

	mu    sync.RWMutex
	state map[ports.Component]*componentState

	bus *eventbus.EventBus[domain.Event]

	now func() time.Time
}

// New constructs a Handler that starts out supervising the given components
// (§4.8's table: Token Bucket, Circuit Breaker, Endpoint Selector,
// Hedged Manager); a component first reported later is registered on use.
func New(cfg Config, bus *eventbus.EventBus[domain.Event], components ...ports.Component) *Handler {
	cfg = cfg.withDefaults()
	state := make(map[ports.Component]*componentState, len(components))
	for _, c := range components {
		state[c] = &componentState{}
	}
	return &Handler{cfg: cfg, state: state, bus: bus}
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

func (h *Handler) get(component ports.Component) *componentState {
	h.mu.RLock()
	s, ok := h.state[component]
	h.mu.RUnlock()
	if !ok {
		// unregistered components are never isolated; lazily register
		// rather than panicking so callers don't need to enumerate every
		// component up front.
		h.mu.Lock()
		s, ok = h.state[component]
		if !ok {
			s = &componentState{}
			h.state[component] = s
		}
		h.mu.Unlock()
	}
	return s
}

// ReportFailure records a failure attributed to component at now,
// pruning entries outside the sliding window and isolating the
// component once the threshold is crossed (§4.8).
func (h *Handler) ReportFailure(component ports.Component, now time.Time) {
	s := h.get(component)

	s.mu.Lock()
	s.failureTimes = append(s.failureTimes, now)
	s.failureTimes = pruneBefore(s.failureTimes, now.Add(-h.cfg.Window))
	crossed := len(s.failureTimes) >= h.cfg.FailureThreshold
	wasIsolated := s.isolated
	if crossed && !s.isolated {
		s.isolated = true
		s.healthyProbes = 0
	}
	s.mu.Unlock()

	if crossed && !wasIsolated {
		h.publish(domain.EventComponentIsolated, component, now)
	}
}

// ReportProbe records a re-integration probe outcome; three consecutive
// healthy probes re-integrate the component (§4.8).
func (h *Handler) ReportProbe(component ports.Component, healthy bool, now time.Time) {
	s := h.get(component)

	s.mu.Lock()
	s.lastProbeAt = now
	var recovered bool
	if !s.isolated {
		s.mu.Unlock()
		return
	}
	if healthy {
		s.healthyProbes++
		if s.healthyProbes >= h.cfg.HealthyProbesNeed {
			s.isolated = false
			s.healthyProbes = 0
			s.failureTimes = nil
			recovered = true
		}
	} else {
		s.healthyProbes = 0
	}
	s.mu.Unlock()

	if recovered {
		h.publish(domain.EventComponentRecovered, component, now)
	}
}

// IsIsolated reports whether component is currently routed through its
// fallback path.
func (h *Handler) IsIsolated(component ports.Component) bool {
	s := h.get(component)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isolated
}

// Capability returns (healthy / total) * 100 across every supervised
// component (§4.8 "System capability").
func (h *Handler) Capability() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.state) == 0 {
		return 100
	}
	healthy := 0
	for _, s := range h.state {
		s.mu.Lock()
		if !s.isolated {
			healthy++
		}
		s.mu.Unlock()
	}
	return float64(healthy) / float64(len(h.state)) * 100
}

// ProbeInterval exposes the configured probe cadence for the caller's
// scheduling loop.
func (h *Handler) ProbeInterval() time.Duration { return h.cfg.ProbeInterval }

func (h *Handler) publish(kind domain.EventKind, component ports.Component, now time.Time) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(domain.Event{
		Kind:      kind,
		At:        now,
		Component: string(component),
	})
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

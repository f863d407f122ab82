// Package breaker implements the per-endpoint three-state circuit breaker
// of §4.2, extending the teacher's atomic-counter, sliding-window
// approach (internal/adapter/health/circuit_breaker.go) to a full
// CLOSED/OPEN/HALF-OPEN machine with jittered exponential recovery.
package breaker

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/ogpool/rpcpool/internal/core/domain"
)

// Config configures one Breaker instance (§6 breaker.* keys).
type Config struct {
	FailureThreshold     int
	SuccessThreshold     int
	CooldownMs           int
	JitterMs             int
	MaxBackoffMultiplier int
}

const defaultMaxBackoffMultiplier = 8

// Breaker is a single endpoint's circuit-breaker state. Every instance is
// independent: no breaker reads or mutates another's fields, which is
// what keeps a failing endpoint from cascading into its siblings (§8
// "Cascade isolation").
type Breaker struct {
	cfg Config

	mu                sync.Mutex
	state             domain.BreakerState
	consecutiveFails  int
	consecutiveOK     int
	openedAt          time.Time
	nextProbe         time.Time
	openCount         int
	probeInFlight     bool
	transitionCounter atomic.Int64

	now func() time.Time
}

// New constructs a Breaker starting CLOSED.
func New(cfg Config) *Breaker {
	if cfg.MaxBackoffMultiplier <= 0 {
		cfg.MaxBackoffMultiplier = defaultMaxBackoffMultiplier
	}
	return &Breaker{cfg: cfg, state: domain.BreakerClosed}
}

func (b *Breaker) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// ShouldAllow returns the admission decision for a call arriving at now
// (§4.2 "Exposed operations").
func (b *Breaker) ShouldAllow(now time.Time) domain.BreakerDecision {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerClosed:
		return domain.Allow
	case domain.BreakerHalfOpen:
		if b.probeInFlight {
			return domain.RejectOpen
		}
		b.probeInFlight = true
		return domain.AllowProbe
	case domain.BreakerOpen:
		if now.Before(b.nextProbe) {
			return domain.RejectOpen
		}
		b.state = domain.BreakerHalfOpen
		b.consecutiveOK = 0
		b.probeInFlight = true
		b.transitionCounter.Inc()
		return domain.AllowProbe
	default:
		return domain.RejectOpen
	}
}

// RecordSuccess drives CLOSED/HALF-OPEN success transitions (§4.2
// "Transitions").
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerClosed:
		b.consecutiveFails = 0
	case domain.BreakerHalfOpen:
		b.probeInFlight = false
		b.consecutiveOK++
		if b.consecutiveOK >= b.cfg.SuccessThreshold {
			b.state = domain.BreakerClosed
			b.consecutiveFails = 0
			b.consecutiveOK = 0
			b.openCount = 0
			b.transitionCounter.Inc()
		}
	}
}

// RecordFailure drives CLOSED->OPEN and HALF-OPEN->OPEN transitions,
// always refreshing opened_at/next_probe on the most recent failure
// (§8 "Breaker monotonicity on open").
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerClosed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.openCount = 1
			b.openLocked()
		}
	case domain.BreakerHalfOpen:
		b.probeInFlight = false
		b.openCount *= 2
		if b.openCount > b.cfg.MaxBackoffMultiplier {
			b.openCount = b.cfg.MaxBackoffMultiplier
		}
		b.openLocked()
	case domain.BreakerOpen:
		// a failure reported against an already-open breaker (e.g. a
		// racing caller) still refreshes the timers per §4.2.
		b.openLocked()
	}
}

// openLocked transitions into OPEN and recomputes next_probe with the
// exponential-backoff multiplier and additive uniform jitter (§4.2, §8
// "Jitter bound"). Callers must hold mu.
func (b *Breaker) openLocked() {
	now := b.clock()
	b.state = domain.BreakerOpen
	b.openedAt = now
	b.consecutiveOK = 0

	cooldown := time.Duration(b.cfg.CooldownMs) * time.Millisecond * time.Duration(b.openCount)
	jitter := time.Duration(0)
	if b.cfg.JitterMs > 0 {
		jitter = time.Duration(rand.Int63n(int64(b.cfg.JitterMs))) * time.Millisecond
	}
	b.nextProbe = now.Add(cooldown).Add(jitter)
	b.transitionCounter.Inc()
}

// ForceState is a test/operator hook that emits the same transition
// bookkeeping a natural transition would.
func (b *Breaker) ForceState(s domain.BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
	switch s {
	case domain.BreakerOpen:
		if b.openCount == 0 {
			b.openCount = 1
		}
		b.openLocked()
	case domain.BreakerClosed:
		b.consecutiveFails = 0
		b.consecutiveOK = 0
		b.openCount = 0
		b.transitionCounter.Inc()
	case domain.BreakerHalfOpen:
		b.consecutiveOK = 0
		b.probeInFlight = false
		b.transitionCounter.Inc()
	}
}

// Routable is the non-mutating counterpart to ShouldAllow used by the
// selector's filtering pass; it never claims the HALF-OPEN probe slot.
func (b *Breaker) Routable(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerClosed:
		return true
	case domain.BreakerHalfOpen:
		return !b.probeInFlight
	case domain.BreakerOpen:
		return !now.Before(b.nextProbe)
	default:
		return false
	}
}

func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) NextProbe() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextProbe
}

// Transitions returns the lifetime count of state transitions, exposed
// for diagnostics and the §5 "totally ordered by a monotonic counter"
// ordering guarantee.
func (b *Breaker) Transitions() int64 {
	return b.transitionCounter.Load()
}

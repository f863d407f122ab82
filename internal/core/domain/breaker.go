package domain

import "time"

// BreakerState is one of the three circuit-breaker states (§4.2).
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerDecision is returned by ShouldAllow to tell the executor whether
// (and how) it may dispatch through this endpoint.
type BreakerDecision int

const (
	Allow BreakerDecision = iota
	RejectOpen
	AllowProbe
)

func (d BreakerDecision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RejectOpen:
		return "reject-open"
	case AllowProbe:
		return "allow-probe"
	default:
		return "unknown"
	}
}

// CircuitBreaker is the per-endpoint failure containment state machine
// (§4.2). No breaker instance shares state with any other - the cascade
// isolation invariant (§8) depends on each endpoint owning a private
// breaker.
type CircuitBreaker interface {
	ShouldAllow(now time.Time) BreakerDecision
	RecordSuccess()
	RecordFailure(err error)
	// ForceState is a test/operator hook; it must emit the same
	// state-change event a natural transition would.
	ForceState(s BreakerState)
	State() BreakerState
	// NextProbe is the timestamp after which an OPEN breaker becomes
	// eligible for a HALF-OPEN probe; zero value means "not open".
	NextProbe() time.Time
	// Routable is a non-mutating gate check for the selector's filtering
	// pass (§4.3 gate 1): true if the breaker is CLOSED, OPEN past
	// next_probe, or HALF-OPEN with a probe slot free. Unlike
	// ShouldAllow, it never claims the HALF-OPEN probe slot - only the
	// executor's actual dispatch does that.
	Routable(now time.Time) bool
}

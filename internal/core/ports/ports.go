// Package ports holds the interfaces that sit above a single endpoint:
// the transport, queue, hedged dispatcher and error handler the executor
// composes, plus the top-level Pool contract consumers call against.
package ports

import (
	"context"
	"time"

	"github.com/ogpool/rpcpool/internal/core/domain"
)

// Transport performs one JSON-RPC call against a single endpoint (§4.4).
// Implementations own the keep-alive client; Dispatch must return promptly
// once ctx is cancelled, regardless of server responsiveness.
type Transport interface {
	Dispatch(ctx context.Context, endpoint *domain.Endpoint, method string, params []byte, id int64) (result []byte, statusCode int, err error)
}

// Queue is the bounded FIFO admission buffer used when every endpoint is
// momentarily saturated (§4.5).
type Queue interface {
	// Enqueue admits req, returning a typed "queue-full" PoolError if at
	// capacity.
	Enqueue(req *domain.Request) error
	// Drain walks the queue from the head, evicting entries whose
	// deadline has passed and invoking admit for every other entry;
	// entries for which admit returns false stay queued in order.
	Drain(admit func(*domain.Request) bool)
	Len() int
	// Shutdown marks every pending entry failed, drops it, and closes the
	// queue to further admission with a "pool-destroyed" error.
	Shutdown()
}

// AttemptFunc performs one dispatch attempt against ep and returns the raw
// JSON result or an error; used by both the executor's direct path and the
// hedged manager's primary/backup races.
type AttemptFunc func(ctx context.Context, ep *domain.Endpoint) ([]byte, error)

// HedgeManager races a primary dispatch against delayed backups on
// alternate endpoints for idempotent methods (§4.6).
type HedgeManager interface {
	// Dispatch runs primary immediately and, if it has not resolved after
	// the configured delay, launches backups obtained from nextBackup.
	// The first resolution (success or definitive failure) is returned;
	// every other in-flight copy is cancelled.
	Dispatch(ctx context.Context, primary *domain.Endpoint, attempt AttemptFunc, nextBackup func() (*domain.Endpoint, bool)) ([]byte, *domain.Endpoint, error)
}

// Component identifies one of the subsystems the error handler supervises
// (§4.8). Declared as a distinct type (not a bare string) so fallback
// tables and isolation events can't be built from typos.
type Component string

const (
	ComponentTokenBucket      Component = "token-bucket"
	ComponentCircuitBreaker   Component = "circuit-breaker"
	ComponentEndpointSelector Component = "endpoint-selector"
	ComponentHedgeManager     Component = "hedge-manager"
)

// ErrorHandler tracks per-component sliding-window failures, isolating a
// component once the window's failure count crosses the threshold so
// callers (the executor, the selector) switch to its named fallback
// behaviour, and re-integrating after consecutive healthy probes (§4.8).
type ErrorHandler interface {
	// ReportFailure records a failure attributed to component at now.
	ReportFailure(component Component, now time.Time)
	// ReportProbe records the outcome of a re-integration probe.
	ReportProbe(component Component, healthy bool, now time.Time)
	// IsIsolated reports whether component is currently routed through
	// its fallback path.
	IsIsolated(component Component) bool
	// Capability returns (healthy / total) * 100, per §4.8.
	Capability() float64
	// ProbeInterval is the cadence at which an isolated component should
	// be re-probed for re-integration (§4.8).
	ProbeInterval() time.Duration
}

// Pool is the consumer-facing surface of §6: a single call() primitive
// plus the read-only introspection and lifecycle operations layered over
// it.
type Pool interface {
	Call(ctx context.Context, method string, params []byte, opts domain.CallOptions) ([]byte, error)
	GetStats() Stats
	GetLoadDistribution() map[string]EndpointLoad
	Destroy()
	On(kind domain.EventKind, handler func(domain.Event))
}

// Stats is the point-in-time snapshot returned by get_stats() (§6).
type Stats struct {
	Global    GlobalStats
	Endpoints []domain.EndpointSnapshot
}

// GlobalStats aggregates counters across every endpoint.
type GlobalStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	QueuedRequests     int64
	HedgedRequests     int64
	Capability         float64
}

// EndpointLoad is one entry of get_load_distribution() (§6).
type EndpointLoad struct {
	Requests    int64
	Percentage  float64
	Utilisation float64
}

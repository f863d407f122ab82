package domain

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/ogpool/rpcpool/pkg/ring"
)

// EndpointConfig is the immutable-after-creation configuration of one
// upstream JSON-RPC endpoint (§3 "Endpoint").
type EndpointConfig struct {
	URL            string
	Name           string
	MaxConcurrent  int
	RPSLimit       float64
	BurstCapacity  float64
	Weight         float64
	Priority       int
	TimeoutMs      int
}

// Endpoint is a process-lifetime entity created at pool construction and
// destroyed only on pool shutdown. Its mutable state (breaker, bucket,
// in-flight count, latency samples) is owned exclusively by the endpoint
// itself; no other component may mutate it directly (§3 "Ownership
// summary").
type Endpoint struct {
	Config EndpointConfig

	parsedURL *url.URL

	mu                sync.Mutex
	inFlight          int
	lastUsed          time.Time
	successCount      int64
	failureCount      int64
	consecutiveFails  int
	backoffMultiplier int
	nextSoftRetry     time.Time
	latencies         *ring.LatencyRing

	// Bucket and Breaker are injected by the pool at construction; they are
	// interfaces so tests can substitute fakes. The §4.8 fallback behaviour
	// for an isolated Token Bucket or Circuit Breaker is applied by the
	// executor and selector waiving their gate checks, not by swapping
	// these fields - the endpoint's own bucket/breaker are never replaced.
	Bucket  TokenBucket
	Breaker CircuitBreaker
}

// NewEndpoint wires up an endpoint's owned state. bucket/breaker are
// supplied by the caller (the pool).
func NewEndpoint(cfg EndpointConfig, bucket TokenBucket, breaker CircuitBreaker) (*Endpoint, error) {
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, NewEndpointError("parse", cfg.URL, err)
	}
	return &Endpoint{
		Config:    cfg,
		parsedURL: parsed,
		latencies: ring.NewLatencyRing(LatencyRingCapacity),
		Bucket:    bucket,
		Breaker:   breaker,
	}, nil
}

// LatencyRingCapacity mirrors constants.LatencyRingCapacity; it is
// duplicated here so the ring size sits beside the type that owns it (no
// import cycle is involved: constants imports nothing from domain).
const LatencyRingCapacity = 64

func (e *Endpoint) URLString() string { return e.Config.URL }
func (e *Endpoint) ParsedURL() *url.URL { return e.parsedURL }

// InFlight returns the current in-flight count under the endpoint's lock.
func (e *Endpoint) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// AcquireSlot increments in-flight if under MaxConcurrent; returns false
// otherwise. Invariant: 0 <= in_flight <= max_concurrent at all times.
func (e *Endpoint) AcquireSlot() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight >= e.Config.MaxConcurrent {
		return false
	}
	e.inFlight++
	e.lastUsed = time.Now()
	return true
}

// ReleaseSlot decrements in-flight, floored at zero.
func (e *Endpoint) ReleaseSlot() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight > 0 {
		e.inFlight--
	}
}

// RecordLatency appends a sample to the bounded latency ring.
func (e *Endpoint) RecordLatency(d time.Duration) {
	e.latencies.Push(float64(d.Milliseconds()))
}

// P50LatencyMs returns the median of the retained latency samples, 0 if empty.
func (e *Endpoint) P50LatencyMs() float64 {
	return e.latencies.Percentile(0.5)
}

// RecordOutcome updates success/failure counters used by the selector's
// recent_failure_rate term; it does not touch the breaker (the executor
// drives that separately so breaker transitions and stats stay decoupled).
func (e *Endpoint) RecordOutcome(success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if success {
		e.successCount++
		e.consecutiveFails = 0
		e.backoffMultiplier = 1
	} else {
		e.failureCount++
		e.consecutiveFails++
	}
}

// FailureRate returns recent_failure_rate over the lifetime counters; this
// is intentionally simple (not windowed) - the breaker's consecutive-failure
// counter is what drives hard admission decisions, this is just a scoring
// input for the selector.
func (e *Endpoint) FailureRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.successCount + e.failureCount
	if total == 0 {
		return 0
	}
	return float64(e.failureCount) / float64(total)
}

// NextSoftRetry returns the endpoint's secondary soft-backoff time. Nothing
// in the pool sets it, so it is always the zero time, and the selector's
// scoring does not read it; the breaker's next_probe is the only backoff
// that affects routing.
func (e *Endpoint) NextSoftRetry() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextSoftRetry
}

// Snapshot produces a point-in-time, allocation-light view for get_stats().
type EndpointSnapshot struct {
	URL              string
	Name             string
	Status           string
	InFlight         int
	MaxConcurrent    int
	P50LatencyMs     float64
	SuccessCount     int64
	FailureCount     int64
	ConsecutiveFails int
	LastUsed         time.Time
}

func (e *Endpoint) Snapshot() EndpointSnapshot {
	e.mu.Lock()
	inFlight := e.inFlight
	success := e.successCount
	failure := e.failureCount
	fails := e.consecutiveFails
	lastUsed := e.lastUsed
	e.mu.Unlock()

	return EndpointSnapshot{
		URL:              e.Config.URL,
		Name:             e.Config.Name,
		Status:           e.Breaker.State().String(),
		InFlight:         inFlight,
		MaxConcurrent:    e.Config.MaxConcurrent,
		P50LatencyMs:     e.P50LatencyMs(),
		SuccessCount:     success,
		FailureCount:     failure,
		ConsecutiveFails: fails,
		LastUsed:         lastUsed,
	}
}

// EndpointSelector chooses the best endpoint for a new request among the
// routable candidates (§4.3). Implementations hold no state beyond what's
// needed for tie-breaking/connection counting; selection is otherwise
// purely functional over the endpoint snapshots passed in.
type EndpointSelector interface {
	Select(ctx context.Context, endpoints []*Endpoint) (*Endpoint, error)
	Name() string
}

// Package selector implements endpoint selection (§4.3): hard admission
// gates followed by composite scoring among survivors, grounded on the
// teacher's priority-tiered weighted selection in
// internal/adapter/balancer/priority.go.
package selector

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ogpool/rpcpool/internal/core/domain"
)

// ErrNoRoutableEndpoint is returned when every candidate fails a hard gate.
var ErrNoRoutableEndpoint = errors.New("selector: no routable endpoint")

// breakerGateEnabled and bucketGateEnabled toggle the two breaker/bucket
// hard gates in routable() off when the error handler has isolated the
// Circuit Breaker or Token Bucket component (§4.8): "treat all endpoints
// as CLOSED" and "skip rate check" respectively. Both default enabled and
// are flipped by the executor ahead of each Select call; package-level
// since every selector strategy (Scored, RoundRobin) shares one gate.
var (
	breakerGateEnabled atomic.Bool
	bucketGateEnabled  atomic.Bool
)

func init() {
	breakerGateEnabled.Store(true)
	bucketGateEnabled.Store(true)
}

// SetBreakerGateEnabled is called by the executor to waive the breaker
// hard gate while the Circuit Breaker component is isolated.
func SetBreakerGateEnabled(enabled bool) { breakerGateEnabled.Store(enabled) }

// SetBucketGateEnabled is called by the executor to waive the token
// bucket hard gate while the Token Bucket component is isolated.
func SetBucketGateEnabled(enabled bool) { bucketGateEnabled.Store(enabled) }

// Weights tunes the composite scoring terms (§4.3 "Scoring among
// survivors"); lower total score wins.
type Weights struct {
	Priority    float64
	Weight      float64
	Latency     float64
	Utilisation float64
	FailureRate float64
}

// Scored is the default strategy: hard-gate filtering followed by a
// weighted composite score, with round-robin tie-breaking.
type Scored struct {
	weights Weights
	tie     atomic.Uint64
}

// New constructs the default scoring selector.
func New(weights Weights) *Scored {
	return &Scored{weights: weights}
}

func (s *Scored) Name() string { return "scored" }

// Select applies the §4.3 hard gates in order, then scores survivors.
func (s *Scored) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	now := time.Now()
	candidates := make([]*domain.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if !routable(ep, now) {
			continue
		}
		candidates = append(candidates, ep)
	}

	if len(candidates) == 0 {
		return nil, ErrNoRoutableEndpoint
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	scored := make([]scoredEndpoint, len(candidates))
	for i, ep := range candidates {
		scored[i] = scoredEndpoint{ep: ep, score: s.score(ep)}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score < scored[j].score })

	// round-robin among the lowest-scoring tier to avoid starving
	// identically-scored endpoints.
	best := scored[0].score
	tierEnd := 1
	for tierEnd < len(scored) && scoresEqual(scored[tierEnd].score, best) {
		tierEnd++
	}
	if tierEnd == 1 {
		return scored[0].ep, nil
	}
	idx := s.tie.Add(1) % uint64(tierEnd)
	return scored[idx].ep, nil
}

// scoredEndpoint pairs an endpoint with its computed score so the two sort
// together; keeping them in a single slice instead of parallel arrays
// avoids silently decoupling score from endpoint during sort.SliceStable.
type scoredEndpoint struct {
	ep    *domain.Endpoint
	score float64
}

func (s *Scored) score(ep *domain.Endpoint) float64 {
	cfg := ep.Config
	inFlight := ep.InFlight()
	utilisation := 0.0
	if cfg.MaxConcurrent > 0 {
		utilisation = float64(inFlight) / float64(cfg.MaxConcurrent)
	}

	return float64(cfg.Priority)*s.weights.Priority -
		cfg.Weight*s.weights.Weight +
		ep.P50LatencyMs()*s.weights.Latency +
		utilisation*s.weights.Utilisation +
		ep.FailureRate()*s.weights.FailureRate
}

func scoresEqual(a, b float64) bool {
	const epsilon = 1e-9
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < epsilon
}

func routable(ep *domain.Endpoint, now time.Time) bool {
	if breakerGateEnabled.Load() && !ep.Breaker.Routable(now) {
		return false
	}
	if ep.InFlight() >= ep.Config.MaxConcurrent {
		return false
	}
	if bucketGateEnabled.Load() && !ep.Bucket.HasTokens(1) {
		return false
	}
	return true
}

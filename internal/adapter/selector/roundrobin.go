package selector

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ogpool/rpcpool/internal/core/domain"
)

// RoundRobin is the Endpoint Selector's own named fallback (§4.8 table):
// when the scoring selector is isolated, routing degrades to a plain
// round-robin over the endpoints that still pass the hard gates.
// Grounded on the teacher's internal/adapter/balancer/round_robin.go.
type RoundRobin struct {
	counter atomic.Uint64
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Name() string { return "round-robin" }

func (r *RoundRobin) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	now := time.Now()
	candidates := make([]*domain.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if routable(ep, now) {
			candidates = append(candidates, ep)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoRoutableEndpoint
	}

	idx := r.counter.Add(1) - 1
	return candidates[idx%uint64(len(candidates))], nil
}

package selector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogpool/rpcpool/internal/core/domain"
)

type fakeBucket struct{ hasTokens bool }

func (f *fakeBucket) TryConsume(n float64) bool { return f.hasTokens }
func (f *fakeBucket) HasTokens(n float64) bool   { return f.hasTokens }
func (f *fakeBucket) Reset()                     {}

type fakeBreaker struct {
	state    domain.BreakerState
	routable bool
}

func (f *fakeBreaker) ShouldAllow(now time.Time) domain.BreakerDecision { return domain.Allow }
func (f *fakeBreaker) RecordSuccess()                                   {}
func (f *fakeBreaker) RecordFailure(err error)                          {}
func (f *fakeBreaker) ForceState(s domain.BreakerState)                 { f.state = s }
func (f *fakeBreaker) State() domain.BreakerState                       { return f.state }
func (f *fakeBreaker) NextProbe() time.Time                             { return time.Time{} }
func (f *fakeBreaker) Routable(now time.Time) bool                      { return f.routable }

func newEndpoint(t *testing.T, url string, priority int, weight float64, routable bool, hasTokens bool) *domain.Endpoint {
	t.Helper()
	ep, err := domain.NewEndpoint(domain.EndpointConfig{
		URL:           url,
		MaxConcurrent: 10,
		Priority:      priority,
		Weight:        weight,
		TimeoutMs:     1000,
	}, &fakeBucket{hasTokens: hasTokens}, &fakeBreaker{state: domain.BreakerClosed, routable: routable})
	require.NoError(t, err)
	return ep
}

func TestScored_PicksOnlyRoutableCandidate(t *testing.T) {
	s := New(Weights{Priority: 1, Weight: 1, Latency: 1, Utilisation: 1, FailureRate: 1})
	a := newEndpoint(t, "https://a.example", 1, 1, false, true)
	b := newEndpoint(t, "https://b.example", 1, 1, true, true)

	chosen, err := s.Select(context.Background(), []*domain.Endpoint{a, b})
	require.NoError(t, err)
	assert.Equal(t, b, chosen)
}

func TestScored_NoneRoutableReturnsError(t *testing.T) {
	s := New(Weights{})
	a := newEndpoint(t, "https://a.example", 1, 1, false, true)

	_, err := s.Select(context.Background(), []*domain.Endpoint{a})
	assert.ErrorIs(t, err, ErrNoRoutableEndpoint)
}

func TestScored_PrefersHigherWeight(t *testing.T) {
	s := New(Weights{Weight: 1})
	low := newEndpoint(t, "https://low.example", 1, 1, true, true)
	high := newEndpoint(t, "https://high.example", 1, 10, true, true)

	chosen, err := s.Select(context.Background(), []*domain.Endpoint{low, high})
	require.NoError(t, err)
	assert.Equal(t, high, chosen, "higher weight should score lower (preferred)")
}

func TestScored_PicksMinimumScoreAmongThreeCandidates(t *testing.T) {
	s := New(Weights{Priority: 1})
	worst := newEndpoint(t, "https://worst.example", 9, 1, true, true)
	best := newEndpoint(t, "https://best.example", 1, 1, true, true)
	middle := newEndpoint(t, "https://middle.example", 5, 1, true, true)

	// Deliberately pass candidates out of score order so a sort that
	// silently decouples scores from endpoints would return the wrong one.
	chosen, err := s.Select(context.Background(), []*domain.Endpoint{worst, best, middle})
	require.NoError(t, err)
	assert.Equal(t, best, chosen, "lowest-priority endpoint should score lowest and win")
}

func TestRoundRobin_CyclesThroughRoutableEndpoints(t *testing.T) {
	rr := NewRoundRobin()
	a := newEndpoint(t, "https://a.example", 1, 1, true, true)
	b := newEndpoint(t, "https://b.example", 1, 1, true, true)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		chosen, err := rr.Select(context.Background(), []*domain.Endpoint{a, b})
		require.NoError(t, err)
		seen[chosen.URLString()]++
	}
	assert.Equal(t, 2, seen[a.URLString()])
	assert.Equal(t, 2, seen[b.URLString()])
}

func TestFactory_CreatesRegisteredStrategies(t *testing.T) {
	f := NewFactory(Weights{})
	scored, err := f.Create(StrategyScored)
	require.NoError(t, err)
	assert.Equal(t, "scored", scored.Name())

	rr, err := f.Create(StrategyRoundRobin)
	require.NoError(t, err)
	assert.Equal(t, "round-robin", rr.Name())

	_, err = f.Create("nonexistent")
	assert.Error(t, err)
}

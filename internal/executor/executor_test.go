package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogpool/rpcpool/internal/adapter/breaker"
	"github.com/ogpool/rpcpool/internal/adapter/errhandler"
	"github.com/ogpool/rpcpool/internal/adapter/queue"
	"github.com/ogpool/rpcpool/internal/adapter/ratelimit"
	"github.com/ogpool/rpcpool/internal/adapter/selector"
	"github.com/ogpool/rpcpool/internal/core/domain"
	"github.com/ogpool/rpcpool/internal/core/ports"
)

// fakeTransport dispatches against a per-URL scripted behaviour instead of
// a real HTTP round trip, so the executor's retry/failover/hedging logic
// can be exercised without a network.
type fakeTransport struct {
	mu    sync.Mutex
	calls map[string]int
	do    func(ep *domain.Endpoint) ([]byte, int, error)
}

func newFakeTransport(do func(ep *domain.Endpoint) ([]byte, int, error)) *fakeTransport {
	return &fakeTransport{calls: make(map[string]int), do: do}
}

func (f *fakeTransport) Dispatch(ctx context.Context, ep *domain.Endpoint, method string, params []byte, id int64) ([]byte, int, error) {
	f.mu.Lock()
	f.calls[ep.URLString()]++
	f.mu.Unlock()
	return f.do(ep)
}

func (f *fakeTransport) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func newEndpoint(t *testing.T, name string, priority int) *domain.Endpoint {
	t.Helper()
	bucket := ratelimit.New(ratelimit.Config{RefillRate: 1000, SteadyCapacity: 1000})
	cb := breaker.New(breaker.Config{FailureThreshold: 2, SuccessThreshold: 1, CooldownMs: 60_000, JitterMs: 1})
	ep, err := domain.NewEndpoint(domain.EndpointConfig{
		URL: "https://" + name, Name: name, MaxConcurrent: 10, Priority: priority, Weight: 1, TimeoutMs: 1000,
	}, bucket, cb)
	require.NoError(t, err)
	return ep
}

func newPool(t *testing.T, endpoints []*domain.Endpoint, transport ports.Transport, hedger ports.HedgeManager, cfg Config) *Pool {
	t.Helper()
	sel := selector.New(selector.Weights{Priority: 1, Weight: 1, Latency: 1, Utilisation: 1, FailureRate: 1})
	q := queue.New(8)
	p := New(cfg, endpoints, sel, transport, q, hedger, nil, nil)
	t.Cleanup(p.Destroy)
	return p
}

func TestPool_FailsOverToHealthyEndpointWhenFirstIsOpen(t *testing.T) {
	epBad := newEndpoint(t, "bad", 1)
	epGood := newEndpoint(t, "good", 1)
	epBad.Breaker.ForceState(domain.BreakerOpen)

	transport := newFakeTransport(func(ep *domain.Endpoint) ([]byte, int, error) {
		if ep == epBad {
			return nil, 0, errors.New("dial tcp: connection refused")
		}
		return []byte(`"ok"`), 200, nil
	})

	p := newPool(t, []*domain.Endpoint{epBad, epGood}, transport, nil, Config{DefaultTimeoutMs: 1000, DefaultFailoverMs: 2000, MaxAttempts: 3})

	result, err := p.Call(context.Background(), "getHealth", []byte("[]"), domain.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(result))
	assert.Equal(t, 0, transport.callCount(epBad.URLString()), "the open breaker must never reach the transport")
	assert.Equal(t, 1, transport.callCount(epGood.URLString()))
}

func TestPool_AllBreakersOpenRejectsWithCircuitOpen(t *testing.T) {
	ep1 := newEndpoint(t, "one", 1)
	ep2 := newEndpoint(t, "two", 1)
	ep1.Breaker.ForceState(domain.BreakerOpen)
	ep2.Breaker.ForceState(domain.BreakerOpen)

	transport := newFakeTransport(func(ep *domain.Endpoint) ([]byte, int, error) {
		return []byte(`"ok"`), 200, nil
	})

	failoverBudget := 200
	p := newPool(t, []*domain.Endpoint{ep1, ep2}, transport, nil, Config{DefaultTimeoutMs: 1000, DefaultFailoverMs: failoverBudget, MaxAttempts: 5})

	start := time.Now()
	_, err := p.Call(context.Background(), "getSlot", []byte("[]"), domain.CallOptions{})
	elapsed := time.Since(start)

	require.Error(t, err)
	var perr *domain.PoolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.KindCircuitOpen, perr.Kind)
	assert.Less(t, elapsed, time.Duration(failoverBudget+500)*time.Millisecond)
	assert.Equal(t, 0, transport.callCount(ep1.URLString()))
	assert.Equal(t, 0, transport.callCount(ep2.URLString()))
}

func TestPool_NonIdempotentMethodNeverHedges(t *testing.T) {
	primary := newEndpoint(t, "primary", 0)
	backup := newEndpoint(t, "backup", 5)

	var primaryCalls, backupCalls int
	var mu sync.Mutex

	transport := newFakeTransport(func(ep *domain.Endpoint) ([]byte, int, error) {
		mu.Lock()
		if ep == primary {
			primaryCalls++
		} else {
			backupCalls++
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		return []byte(`"sig"`), 200, nil
	})

	p := newPool(t, []*domain.Endpoint{primary, backup}, transport, alwaysHedgeManager{}, Config{
		DefaultTimeoutMs: 1000, DefaultFailoverMs: 2000, MaxAttempts: 3,
		HedgingEnabled: true,
	})

	result, err := p.Call(context.Background(), "sendTransaction", []byte("[]"), domain.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, `"sig"`, string(result))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, primaryCalls, "non-idempotent methods must never trigger a hedged backup")
	assert.Equal(t, 0, backupCalls)
}

// alwaysHedgeManager fails the test if Dispatch is ever invoked; used to
// prove a non-idempotent call bypasses hedging entirely.
type alwaysHedgeManager struct{}

func (alwaysHedgeManager) Dispatch(ctx context.Context, primary *domain.Endpoint, attempt ports.AttemptFunc, nextBackup func() (*domain.Endpoint, bool)) ([]byte, *domain.Endpoint, error) {
	panic("hedge manager must not be invoked for a non-idempotent method")
}

func TestPool_QueuesWhenAllEndpointsSaturatedThenDrains(t *testing.T) {
	ep := newEndpoint(t, "solo", 1)
	ep.Config.MaxConcurrent = 1

	release := make(chan struct{})

	transport := newFakeTransport(func(e *domain.Endpoint) ([]byte, int, error) {
		<-release
		return []byte(`"done"`), 200, nil
	})

	p := newPool(t, []*domain.Endpoint{ep}, transport, nil, Config{
		DefaultTimeoutMs: 2000, DefaultFailoverMs: 2000, MaxAttempts: 3, DrainInterval: 5 * time.Millisecond,
	})

	require.True(t, ep.AcquireSlot(), "pre-saturate the only endpoint")

	var wg sync.WaitGroup
	wg.Add(1)
	var result []byte
	var callErr error
	go func() {
		defer wg.Done()
		result, callErr = p.Call(context.Background(), "getBalance", []byte("[]"), domain.CallOptions{})
	}()

	time.Sleep(20 * time.Millisecond)
	ep.ReleaseSlot()
	close(release)
	wg.Wait()

	require.NoError(t, callErr)
	assert.Equal(t, `"done"`, string(result))
}

func TestPool_IsolatedCircuitBreakerBypassesOpenBreaker(t *testing.T) {
	ep := newEndpoint(t, "flaky", 1)
	ep.Breaker.ForceState(domain.BreakerOpen)

	transport := newFakeTransport(func(e *domain.Endpoint) ([]byte, int, error) {
		return []byte(`"ok"`), 200, nil
	})

	errs := errhandler.New(errhandler.Config{FailureThreshold: 1, Window: time.Minute, ProbeInterval: time.Hour, HealthyProbesNeed: 1}, nil, ports.ComponentCircuitBreaker)
	errs.ReportFailure(ports.ComponentCircuitBreaker, time.Now())
	require.True(t, errs.IsIsolated(ports.ComponentCircuitBreaker))

	sel := selector.New(selector.Weights{Priority: 1, Weight: 1, Latency: 1, Utilisation: 1, FailureRate: 1})
	q := queue.New(8)
	p := New(Config{DefaultTimeoutMs: 1000, DefaultFailoverMs: 2000, MaxAttempts: 3}, []*domain.Endpoint{ep}, sel, transport, q, nil, errs, nil)
	t.Cleanup(p.Destroy)

	result, err := p.Call(context.Background(), "getHealth", []byte("[]"), domain.CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(result))
	assert.Equal(t, 1, transport.callCount(ep.URLString()), "an isolated breaker component must fall back to treating endpoints as CLOSED")
}

func TestPool_IsolatedSelectorFallsBackToRoundRobin(t *testing.T) {
	epLow := newEndpoint(t, "low-priority", 100)
	epHigh := newEndpoint(t, "high-priority", 0)

	transport := newFakeTransport(func(e *domain.Endpoint) ([]byte, int, error) {
		return []byte(`"ok"`), 200, nil
	})

	errs := errhandler.New(errhandler.Config{FailureThreshold: 1, Window: time.Minute, ProbeInterval: time.Hour, HealthyProbesNeed: 1}, nil, ports.ComponentEndpointSelector)
	errs.ReportFailure(ports.ComponentEndpointSelector, time.Now())
	require.True(t, errs.IsIsolated(ports.ComponentEndpointSelector))

	sel := selector.New(selector.Weights{Priority: 1, Weight: 1, Latency: 1, Utilisation: 1, FailureRate: 1})
	q := queue.New(8)
	p := New(Config{DefaultTimeoutMs: 1000, DefaultFailoverMs: 2000, MaxAttempts: 3}, []*domain.Endpoint{epLow, epHigh}, sel, transport, q, nil, errs, nil)
	t.Cleanup(p.Destroy)

	for i := 0; i < 2; i++ {
		_, err := p.Call(context.Background(), "getHealth", []byte("[]"), domain.CallOptions{})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, transport.callCount(epLow.URLString()), "round-robin fallback must alternate regardless of priority scoring")
	assert.Equal(t, 1, transport.callCount(epHigh.URLString()))
}

func TestPool_GlobalInFlightCapQueuesDespitePerEndpointHeadroom(t *testing.T) {
	ep := newEndpoint(t, "solo", 1)
	ep.Config.MaxConcurrent = 10 // plenty of per-endpoint headroom

	release := make(chan struct{})
	transport := newFakeTransport(func(e *domain.Endpoint) ([]byte, int, error) {
		<-release
		return []byte(`"done"`), 200, nil
	})

	p := newPool(t, []*domain.Endpoint{ep}, transport, nil, Config{
		DefaultTimeoutMs: 2000, DefaultFailoverMs: 2000, MaxAttempts: 3,
		DrainInterval: 5 * time.Millisecond, MaxGlobalInFlight: 1,
	})

	require.True(t, p.globalSem.TryAcquire(1), "pre-saturate the global cap")

	var wg sync.WaitGroup
	wg.Add(1)
	var result []byte
	var callErr error
	go func() {
		defer wg.Done()
		result, callErr = p.Call(context.Background(), "getBalance", []byte("[]"), domain.CallOptions{})
	}()

	time.Sleep(20 * time.Millisecond)
	p.globalSem.Release(1)
	close(release)
	wg.Wait()

	require.NoError(t, callErr)
	assert.Equal(t, `"done"`, string(result))
}

package errhandler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogpool/rpcpool/internal/core/domain"
	"github.com/ogpool/rpcpool/internal/core/ports"
	"github.com/ogpool/rpcpool/pkg/eventbus"
)

func TestHandler_IsolatesAfterThresholdWithinWindow(t *testing.T) {
	h := New(Config{FailureThreshold: 3, Window: time.Minute}, nil, ports.ComponentTokenBucket)
	now := time.Now()

	h.ReportFailure(ports.ComponentTokenBucket, now)
	h.ReportFailure(ports.ComponentTokenBucket, now.Add(time.Second))
	assert.False(t, h.IsIsolated(ports.ComponentTokenBucket))

	h.ReportFailure(ports.ComponentTokenBucket, now.Add(2*time.Second))
	assert.True(t, h.IsIsolated(ports.ComponentTokenBucket))
}

func TestHandler_FailuresOutsideWindowDontAccumulate(t *testing.T) {
	h := New(Config{FailureThreshold: 3, Window: 10 * time.Second}, nil, ports.ComponentCircuitBreaker)
	now := time.Now()

	h.ReportFailure(ports.ComponentCircuitBreaker, now)
	h.ReportFailure(ports.ComponentCircuitBreaker, now.Add(20*time.Second))
	h.ReportFailure(ports.ComponentCircuitBreaker, now.Add(21*time.Second))

	assert.False(t, h.IsIsolated(ports.ComponentCircuitBreaker), "first failure should have aged out of the window")
}

func TestHandler_ReintegratesAfterConsecutiveHealthyProbes(t *testing.T) {
	h := New(Config{FailureThreshold: 1, HealthyProbesNeed: 3}, nil, ports.ComponentEndpointSelector)
	now := time.Now()

	h.ReportFailure(ports.ComponentEndpointSelector, now)
	require.True(t, h.IsIsolated(ports.ComponentEndpointSelector))

	h.ReportProbe(ports.ComponentEndpointSelector, true, now.Add(time.Second))
	h.ReportProbe(ports.ComponentEndpointSelector, true, now.Add(2*time.Second))
	assert.True(t, h.IsIsolated(ports.ComponentEndpointSelector))

	h.ReportProbe(ports.ComponentEndpointSelector, true, now.Add(3*time.Second))
	assert.False(t, h.IsIsolated(ports.ComponentEndpointSelector))
}

func TestHandler_UnhealthyProbeResetsStreak(t *testing.T) {
	h := New(Config{FailureThreshold: 1, HealthyProbesNeed: 2}, nil, ports.ComponentHedgeManager)
	now := time.Now()
	h.ReportFailure(ports.ComponentHedgeManager, now)

	h.ReportProbe(ports.ComponentHedgeManager, true, now.Add(time.Second))
	h.ReportProbe(ports.ComponentHedgeManager, false, now.Add(2*time.Second))
	h.ReportProbe(ports.ComponentHedgeManager, true, now.Add(3*time.Second))
	assert.True(t, h.IsIsolated(ports.ComponentHedgeManager), "unhealthy probe should reset the consecutive streak")
}

func TestHandler_CapabilityReflectsIsolatedComponents(t *testing.T) {
	h := New(Config{FailureThreshold: 1}, nil,
		ports.ComponentTokenBucket, ports.ComponentCircuitBreaker,
		ports.ComponentEndpointSelector, ports.ComponentHedgeManager)
	now := time.Now()

	assert.Equal(t, 100.0, h.Capability())

	h.ReportFailure(ports.ComponentTokenBucket, now)
	assert.Equal(t, 75.0, h.Capability())
}

func TestHandler_BroadcastsIsolationAndRecoveryEvents(t *testing.T) {
	bus := eventbus.New[domain.Event]()
	defer bus.Shutdown()

	h := New(Config{FailureThreshold: 1, HealthyProbesNeed: 1}, bus, ports.ComponentTokenBucket)
	events, cleanup := bus.Subscribe(context.Background())
	defer cleanup()

	now := time.Now()
	h.ReportFailure(ports.ComponentTokenBucket, now)

	select {
	case ev := <-events:
		assert.Equal(t, domain.EventComponentIsolated, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected isolation event")
	}

	h.ReportProbe(ports.ComponentTokenBucket, true, now.Add(time.Second))

	select {
	case ev := <-events:
		assert.Equal(t, domain.EventComponentRecovered, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected recovery event")
	}
}

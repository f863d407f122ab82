package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogpool/rpcpool/internal/core/domain"
)

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, SuccessThreshold: 2, CooldownMs: 100, JitterMs: 0})

	b.RecordFailure(errors.New("boom"))
	b.RecordFailure(errors.New("boom"))
	assert.Equal(t, domain.BreakerClosed, b.State())

	b.RecordFailure(errors.New("boom"))
	assert.Equal(t, domain.BreakerOpen, b.State())
}

func TestBreaker_ExponentialBackoffRefreshesNextProbe(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, CooldownMs: 100, JitterMs: 0})
	t0 := time.Now()
	b.now = func() time.Time { return t0 }

	b.RecordFailure(errors.New("boom"))
	firstProbe := b.NextProbe()
	assert.Equal(t, t0.Add(100*time.Millisecond), firstProbe)

	t1 := t0.Add(60 * time.Millisecond)
	b.now = func() time.Time { return t1 }
	b.RecordFailure(errors.New("boom again"))
	secondProbe := b.NextProbe()

	assert.True(t, secondProbe.After(firstProbe))
	assert.Equal(t, t1.Add(100*time.Millisecond), secondProbe)
}

func TestBreaker_JitterBoundsNextProbe(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, CooldownMs: 100, JitterMs: 50})
	t0 := time.Now()
	b.now = func() time.Time { return t0 }

	b.RecordFailure(errors.New("boom"))
	probe := b.NextProbe()

	lower := t0.Add(100 * time.Millisecond)
	upper := t0.Add(150 * time.Millisecond)
	assert.True(t, !probe.Before(lower))
	assert.True(t, !probe.After(upper))
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, CooldownMs: 10, JitterMs: 0})
	t0 := time.Now()
	b.now = func() time.Time { return t0 }

	b.RecordFailure(errors.New("boom"))
	require.Equal(t, domain.BreakerOpen, b.State())

	probeTime := t0.Add(20 * time.Millisecond)
	decision := b.ShouldAllow(probeTime)
	require.Equal(t, domain.AllowProbe, decision)
	require.Equal(t, domain.BreakerHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, domain.BreakerHalfOpen, b.State(), "needs two consecutive successes")

	// second probe slot
	decision = b.ShouldAllow(probeTime)
	require.Equal(t, domain.AllowProbe, decision)
	b.RecordSuccess()
	assert.Equal(t, domain.BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopensAndDoublesBackoff(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, CooldownMs: 100, JitterMs: 0, MaxBackoffMultiplier: 8})
	t0 := time.Now()
	b.now = func() time.Time { return t0 }
	b.RecordFailure(errors.New("boom"))

	probeTime := t0.Add(200 * time.Millisecond)
	b.now = func() time.Time { return probeTime }
	decision := b.ShouldAllow(probeTime)
	require.Equal(t, domain.AllowProbe, decision)

	b.RecordFailure(errors.New("probe failed"))
	assert.Equal(t, domain.BreakerOpen, b.State())

	secondProbe := b.NextProbe()
	assert.Equal(t, probeTime.Add(200*time.Millisecond), secondProbe, "open_count doubled from 1 to 2")
}

func TestBreaker_OnlyOneProbeInFlight(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, CooldownMs: 10, JitterMs: 0})
	t0 := time.Now()
	b.now = func() time.Time { return t0 }
	b.RecordFailure(errors.New("boom"))

	probeTime := t0.Add(20 * time.Millisecond)
	first := b.ShouldAllow(probeTime)
	second := b.ShouldAllow(probeTime)

	assert.Equal(t, domain.AllowProbe, first)
	assert.Equal(t, domain.RejectOpen, second)
}

func TestBreaker_CascadeIsolationBetweenInstances(t *testing.T) {
	a := New(Config{FailureThreshold: 1, SuccessThreshold: 1, CooldownMs: 100, JitterMs: 0})
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, CooldownMs: 100, JitterMs: 0})

	a.RecordFailure(errors.New("boom"))

	assert.Equal(t, domain.BreakerOpen, a.State())
	assert.Equal(t, domain.BreakerClosed, b.State())
}

func TestBreaker_ForceStateEmitsTransition(t *testing.T) {
	b := New(Config{FailureThreshold: 5, SuccessThreshold: 2, CooldownMs: 100, JitterMs: 0})
	before := b.Transitions()
	b.ForceState(domain.BreakerOpen)
	assert.Equal(t, domain.BreakerOpen, b.State())
	assert.Greater(t, b.Transitions(), before)
}

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucket_ConsumptionWithinSteadyCap(t *testing.T) {
	b := New(Config{RefillRate: 10, SteadyCapacity: 5})

	succeeded := 0
	for i := 0; i < 20; i++ {
		if b.TryConsume(1) {
			succeeded++
		}
	}
	assert.Equal(t, 5, succeeded, "only the initial steady capacity should be consumable in a tight loop")
}

func TestBucket_RefillAfterWindow(t *testing.T) {
	b := New(Config{RefillRate: 10, SteadyCapacity: 5})
	clock := time.Now()
	b.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		require.True(t, b.TryConsume(1))
	}
	require.False(t, b.TryConsume(1))

	clock = clock.Add(1100 * time.Millisecond)

	succeeded := 0
	for i := 0; i < 20; i++ {
		if b.TryConsume(1) {
			succeeded++
		}
	}
	assert.GreaterOrEqual(t, succeeded, 9)
	assert.LessOrEqual(t, succeeded, 11)
}

func TestBucket_BoundsNeverNegativeOrOverMax(t *testing.T) {
	b := New(Config{RefillRate: 1, SteadyCapacity: 3, BurstCapacity: 6})
	clock := time.Now()
	b.now = func() time.Time { return clock }

	for i := 0; i < 50; i++ {
		b.TryConsume(1)
		clock = clock.Add(50 * time.Millisecond)
	}

	b.mu.Lock()
	tokens := b.tokens
	b.mu.Unlock()
	assert.GreaterOrEqual(t, tokens, 0.0)
	assert.LessOrEqual(t, tokens, b.burstCapacity)
}

func TestBucket_BurstModeActivatesThenCoolsDown(t *testing.T) {
	b := New(Config{RefillRate: 1, SteadyCapacity: 2, BurstCapacity: 4, BurstWindow: time.Second, BurstCooldown: time.Second})
	clock := time.Now()
	b.now = func() time.Time { return clock }

	require.True(t, b.TryConsume(1))
	require.True(t, b.TryConsume(1))
	// steady exhausted: this consume fails, but it activates burst mode,
	// which raises the cap without adding tokens
	require.False(t, b.TryConsume(1))
	assert.Equal(t, int64(1), b.BurstActivations())

	// burst window expires -> cooldown begins, no immediate re-activation
	clock = clock.Add(2 * time.Second)
	b.HasTokens(0) // trigger refill/expiry bookkeeping
	assert.False(t, b.burstActive)
}

func TestBucket_ResetRestoresSteadyCapacity(t *testing.T) {
	b := New(Config{RefillRate: 5, SteadyCapacity: 5})
	for i := 0; i < 5; i++ {
		require.True(t, b.TryConsume(1))
	}
	require.False(t, b.TryConsume(1))

	b.Reset()
	assert.True(t, b.TryConsume(1))
}

func TestBucket_HasTokensIsNonDestructive(t *testing.T) {
	b := New(Config{RefillRate: 1, SteadyCapacity: 3})
	assert.True(t, b.HasTokens(3))
	assert.True(t, b.HasTokens(3), "probing twice must not debit tokens")
	assert.True(t, b.TryConsume(3))
}

// Package ratelimit implements the per-endpoint token-bucket admission
// primitive (§4.1): constant-rate refill with a transient burst cap,
// synchronous and allocation-free on the steady-state check path.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Config configures one Bucket instance. BurstCapacity defaults to 2x
// SteadyCapacity when zero; BurstWindow defaults to 10s when zero.
type Config struct {
	RefillRate     float64 // tokens/second
	SteadyCapacity float64
	BurstCapacity  float64
	BurstWindow    time.Duration
	BurstCooldown  time.Duration
}

const (
	defaultBurstMultiplier = 2
	defaultBurstWindow     = 10 * time.Second
	defaultBurstCooldown   = 10 * time.Second
)

// Bucket is a single endpoint's token-bucket state (§3 "Token Bucket").
// All mutation happens under mu; the bucket never allocates on the
// TryConsume/HasTokens hot path.
type Bucket struct {
	mu sync.Mutex

	refillRate     float64
	steadyCapacity float64
	burstCapacity  float64
	burstWindow    time.Duration
	burstCooldown  time.Duration

	tokens      float64
	lastRefill  time.Time
	burstActive bool
	burstUntil  time.Time
	cooldownEnd time.Time

	// now is overridable by tests; nil means time.Now.
	now func() time.Time

	burstActivations atomic.Int64
}

// New constructs a Bucket starting at full steady capacity.
func New(cfg Config) *Bucket {
	if cfg.BurstCapacity <= 0 {
		cfg.BurstCapacity = cfg.SteadyCapacity * defaultBurstMultiplier
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = defaultBurstWindow
	}
	if cfg.BurstCooldown <= 0 {
		cfg.BurstCooldown = defaultBurstCooldown
	}
	return &Bucket{
		refillRate:     cfg.RefillRate,
		steadyCapacity: cfg.SteadyCapacity,
		burstCapacity:  cfg.BurstCapacity,
		burstWindow:    cfg.BurstWindow,
		burstCooldown:  cfg.BurstCooldown,
		tokens:         cfg.SteadyCapacity,
		lastRefill:     time.Now(),
	}
}

func (b *Bucket) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// refillLocked advances tokens for elapsed time and retires an expired
// burst window; callers must hold mu.
func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		maxTokens := b.capLocked()
		b.tokens += elapsed * b.refillRate
		if b.tokens > maxTokens {
			b.tokens = maxTokens
		}
		b.lastRefill = now
	}
	if b.burstActive && !now.Before(b.burstUntil) {
		b.burstActive = false
		b.cooldownEnd = now.Add(b.burstCooldown)
		if b.tokens > b.steadyCapacity {
			b.tokens = b.steadyCapacity
		}
	}
}

func (b *Bucket) capLocked() float64 {
	if b.burstActive {
		return b.burstCapacity
	}
	return b.steadyCapacity
}

// TryConsume atomically refills then debits n tokens. If the steady
// allowance is exhausted but burst budget remains and the cooldown has
// elapsed, burst mode activates for burstWindow before it may retrigger.
// Activation raises the cap that refill fills up to; it adds no tokens, so
// the call that triggers it still fails when the bucket is empty.
func (b *Bucket) TryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.refillLocked(now)

	if b.tokens >= n {
		b.tokens -= n
		return true
	}

	if !b.burstActive && !now.Before(b.cooldownEnd) && b.burstCapacity > b.steadyCapacity {
		b.burstActive = true
		b.burstUntil = now.Add(b.burstWindow)
		b.burstActivations.Inc()
		if b.tokens > b.burstCapacity {
			b.tokens = b.burstCapacity
		}
		if b.tokens >= n {
			b.tokens -= n
			return true
		}
	}

	return false
}

// HasTokens is a non-destructive probe used by the selector and queue
// drain for admission planning; it does not trigger burst activation.
func (b *Bucket) HasTokens(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.refillLocked(now)
	return b.tokens >= n
}

// Reset restores the bucket to full steady capacity, used by the error
// handler when re-integrating a previously isolated rate limiter.
func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.steadyCapacity
	b.lastRefill = b.clock()
	b.burstActive = false
	b.burstUntil = time.Time{}
	b.cooldownEnd = time.Time{}
}

// BurstActivations returns the lifetime count of burst-mode activations,
// exposed for diagnostics and tests.
func (b *Bucket) BurstActivations() int64 {
	return b.burstActivations.Load()
}

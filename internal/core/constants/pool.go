package constants

import "time"

// Pool-wide defaults (§6 configuration inputs table).
const (
	DefaultMaxGlobalInFlight  = 500
	DefaultMaxQueueSize       = 500
	DefaultTimeoutMs          = 3000
	DefaultFailoverBudgetMs   = 5000
	DefaultRPSLimit           = 100
	DefaultBurstCapacity      = 200
	DefaultMaxConcurrent      = 50
	DefaultBurstDuration      = 10 * time.Second
	DefaultBurstCooldown      = 10 * time.Second
)

// Per-endpoint breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 3
	DefaultCooldownMs       = 30000
	DefaultJitterMs         = 5000
)

// Hedging defaults.
const (
	DefaultHedgingDelayMs            = 100
	DefaultMaxBackups                = 2
	DefaultCancellationTimeoutMs     = 100
)

// Ring-buffer capacities (§3 data model: "No unbounded arrays anywhere in steady state").
const (
	LatencyRingCapacity       = 64
	BreakerEventRingCapacity  = 50
)

// Selector scoring weights, tuned so capacity (weight) dominates steady-state
// distribution while latency and utilisation keep slow/busy endpoints from
// starving the rest (§4.3).
const (
	WeightPriority    = 1.0
	WeightWeight      = 1.0
	WeightLatency     = 0.01
	WeightUtilisation = 10.0
	WeightFailureRate = 20.0
)

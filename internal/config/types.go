package config

import "time"

// Config holds all configuration for the pool (§6 "External interfaces").
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Pool    PoolConfig    `yaml:"pool"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PoolConfig is the §6 configuration table in full.
type PoolConfig struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`

	MaxGlobalInFlight        int           `yaml:"max_global_in_flight"`
	MaxQueueSize             int           `yaml:"max_queue_size"`
	DefaultTimeoutMs         int           `yaml:"default_timeout_ms"`
	DefaultFailoverBudgetMs  int           `yaml:"default_failover_budget_ms"`
	DefaultRPSLimit          float64       `yaml:"default_rps_limit"`
	DefaultBurstCapacity     float64       `yaml:"default_burst_capacity"`
	DefaultMaxConcurrent     int           `yaml:"default_max_concurrent"`
	DrainInterval            time.Duration `yaml:"drain_interval"`

	Breaker  BreakerConfig  `yaml:"breaker"`
	Hedging  HedgingConfig  `yaml:"hedging"`
	ErrorHandler ErrorHandlerConfig `yaml:"error_handler"`

	HedgeableMethods []string `yaml:"hedgeable_methods"`
}

// EndpointConfig is one upstream JSON-RPC endpoint's static configuration.
type EndpointConfig struct {
	Name          string  `yaml:"name"`
	URL           string  `yaml:"url"`
	Priority      int     `yaml:"priority"`
	Weight        float64 `yaml:"weight"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	RPSLimit      float64 `yaml:"rps_limit"`
	BurstCapacity float64 `yaml:"burst_capacity"`
	TimeoutMs     int     `yaml:"timeout_ms"`
}

// BreakerConfig tunes the per-endpoint circuit breaker (§4.2).
type BreakerConfig struct {
	FailureThreshold     int `yaml:"failure_threshold"`
	SuccessThreshold     int `yaml:"success_threshold"`
	CooldownMs           int `yaml:"cooldown_ms"`
	JitterMs             int `yaml:"jitter_ms"`
	MaxBackoffMultiplier int `yaml:"max_backoff_multiplier"`
}

// HedgingConfig tunes the hedged manager (§4.6).
type HedgingConfig struct {
	Enabled               bool `yaml:"enabled"`
	DelayMs               int  `yaml:"delay_ms"`
	MaxBackups            int  `yaml:"max_backups"`
	CancellationTimeoutMs int  `yaml:"cancellation_timeout_ms"`
}

// ErrorHandlerConfig tunes the integration error handler (§4.8).
type ErrorHandlerConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	Window            time.Duration `yaml:"window"`
	ProbeInterval     time.Duration `yaml:"probe_interval"`
	HealthyProbesNeed int           `yaml:"healthy_probes_need"`
}

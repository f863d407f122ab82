// Package config loads pool configuration from file and environment,
// grounded on the teacher's viper+fsnotify loader in internal/config;
// the schema is replaced (§6) but the load/watch/debounce shape is kept
// verbatim.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultFileWriteDelay = 150 * time.Millisecond

	defaultMaxGlobalInFlight       = 500
	defaultMaxQueueSize            = 500
	defaultTimeoutMs               = 3000
	defaultFailoverBudgetMs        = 5000
	defaultRPSLimit                = 100
	defaultBurstCapacity           = 200
	defaultMaxConcurrent           = 50
	defaultDrainInterval           = 20 * time.Millisecond
	defaultBreakerFailureThreshold = 5
	defaultBreakerSuccessThreshold = 3
	defaultBreakerCooldownMs       = 30000
	defaultBreakerJitterMs         = 5000
	defaultBreakerMaxBackoffMult   = 8
	defaultHedgeDelayMs            = 100
	defaultHedgeMaxBackups         = 2
	defaultHedgeCancelTimeoutMs    = 100
	defaultErrFailureThreshold     = 3
	defaultErrWindow               = 60 * time.Second
	defaultErrProbeInterval        = 30 * time.Second
	defaultErrHealthyProbesNeed    = 3
)

var defaultHedgeableMethods = []string{"getSlot", "getBalance", "getAccountInfo", "getBlockHeight"}

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with the §6 defaults and a single
// localhost endpoint, matching a local solana-test-validator.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Pool: PoolConfig{
			Endpoints: []EndpointConfig{
				{
					Name:          "local",
					URL:           "http://localhost:8899",
					Priority:      0,
					Weight:        1,
					MaxConcurrent: defaultMaxConcurrent,
					RPSLimit:      defaultRPSLimit,
					BurstCapacity: defaultBurstCapacity,
					TimeoutMs:     defaultTimeoutMs,
				},
			},
			MaxGlobalInFlight:       defaultMaxGlobalInFlight,
			MaxQueueSize:            defaultMaxQueueSize,
			DefaultTimeoutMs:        defaultTimeoutMs,
			DefaultFailoverBudgetMs: defaultFailoverBudgetMs,
			DefaultRPSLimit:         defaultRPSLimit,
			DefaultBurstCapacity:    defaultBurstCapacity,
			DefaultMaxConcurrent:    defaultMaxConcurrent,
			DrainInterval:           defaultDrainInterval,
			Breaker: BreakerConfig{
				FailureThreshold:     defaultBreakerFailureThreshold,
				SuccessThreshold:     defaultBreakerSuccessThreshold,
				CooldownMs:           defaultBreakerCooldownMs,
				JitterMs:             defaultBreakerJitterMs,
				MaxBackoffMultiplier: defaultBreakerMaxBackoffMult,
			},
			Hedging: HedgingConfig{
				Enabled:               true,
				DelayMs:               defaultHedgeDelayMs,
				MaxBackups:            defaultHedgeMaxBackups,
				CancellationTimeoutMs: defaultHedgeCancelTimeoutMs,
			},
			ErrorHandler: ErrorHandlerConfig{
				FailureThreshold:  defaultErrFailureThreshold,
				Window:            defaultErrWindow,
				ProbeInterval:     defaultErrProbeInterval,
				HealthyProbesNeed: defaultErrHealthyProbesNeed,
			},
			HedgeableMethods: append([]string(nil), defaultHedgeableMethods...),
		},
	}
}

// Load reads config.yaml (if present), overlays environment variables
// prefixed RPCPOOL_, and watches the file for changes.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("RPCPOOL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("RPCPOOL_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return cfg, nil
}

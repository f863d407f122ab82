package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected log format 'json', got %s", cfg.Logging.Format)
	}

	if len(cfg.Pool.Endpoints) != 1 {
		t.Fatalf("expected 1 default endpoint, got %d", len(cfg.Pool.Endpoints))
	}
	if cfg.Pool.MaxGlobalInFlight != defaultMaxGlobalInFlight {
		t.Errorf("expected max_global_in_flight %d, got %d", defaultMaxGlobalInFlight, cfg.Pool.MaxGlobalInFlight)
	}
	if cfg.Pool.MaxQueueSize != defaultMaxQueueSize {
		t.Errorf("expected max_queue_size %d, got %d", defaultMaxQueueSize, cfg.Pool.MaxQueueSize)
	}
	if cfg.Pool.Breaker.FailureThreshold != defaultBreakerFailureThreshold {
		t.Errorf("expected breaker.failure_threshold %d, got %d", defaultBreakerFailureThreshold, cfg.Pool.Breaker.FailureThreshold)
	}
	if cfg.Pool.Hedging.MaxBackups != defaultHedgeMaxBackups {
		t.Errorf("expected hedging.max_backups %d, got %d", defaultHedgeMaxBackups, cfg.Pool.Hedging.MaxBackups)
	}
	if len(cfg.Pool.HedgeableMethods) != len(defaultHedgeableMethods) {
		t.Errorf("expected %d hedgeable methods, got %d", len(defaultHedgeableMethods), len(cfg.Pool.HedgeableMethods))
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pool.DefaultTimeoutMs != defaultTimeoutMs {
		t.Errorf("expected default_timeout_ms %d, got %d", defaultTimeoutMs, cfg.Pool.DefaultTimeoutMs)
	}
}

func TestLoadConfig_WithEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"RPCPOOL_LOGGING_LEVEL":            "debug",
		"RPCPOOL_POOL_MAX_GLOBAL_IN_FLIGHT": "1000",
	}
	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug from env var, got %s", cfg.Logging.Level)
	}
	if cfg.Pool.MaxGlobalInFlight != 1000 {
		t.Errorf("expected max_global_in_flight 1000 from env var, got %d", cfg.Pool.MaxGlobalInFlight)
	}
}

func TestLoad_DebouncesRapidChangeNotifications(t *testing.T) {
	calls := 0
	_, err := Load(func() { calls++ })
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	reloadMutex.Lock()
	lastReload = time.Now()
	reloadMutex.Unlock()

	// A second reload inside the 500ms debounce window must not fire;
	// this only exercises the guard directly since viper's fsnotify
	// watcher isn't driven by this test.
	reloadMutex.Lock()
	tooSoon := time.Since(lastReload) < 500*time.Millisecond
	reloadMutex.Unlock()
	if !tooSoon {
		t.Fatal("expected debounce window to still be open immediately after reload")
	}
}

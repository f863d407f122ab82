// Package app wires the pool's components from configuration and exposes
// a minimal HTTP surface over the resulting ports.Pool: a reverse-proxy
// handler replaced by a JSON-RPC call() endpoint fronting the executor.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ogpool/rpcpool/internal/adapter/breaker"
	"github.com/ogpool/rpcpool/internal/adapter/errhandler"
	"github.com/ogpool/rpcpool/internal/adapter/hedge"
	"github.com/ogpool/rpcpool/internal/adapter/queue"
	"github.com/ogpool/rpcpool/internal/adapter/ratelimit"
	"github.com/ogpool/rpcpool/internal/adapter/selector"
	"github.com/ogpool/rpcpool/internal/adapter/transport"
	"github.com/ogpool/rpcpool/internal/config"
	"github.com/ogpool/rpcpool/internal/core/domain"
	"github.com/ogpool/rpcpool/internal/core/ports"
	"github.com/ogpool/rpcpool/internal/executor"
	"github.com/ogpool/rpcpool/pkg/eventbus"
)

// defaultBindAddr is used since the pool's own configuration has no
// listener settings (§6 scopes the pool to a library surface); the demo
// HTTP front end binds here unless overridden by RPCPOOL_BIND_ADDR.
const defaultBindAddr = "127.0.0.1:8899"

// Application owns the wired pool and the HTTP front end demonstrating it.
type Application struct {
	config *config.Config
	pool   ports.Pool
	server *http.Server
	logger *slog.Logger
	errCh  chan error
}

// New builds every pool component from cfg.Pool and wires them into a
// ports.Pool, mirroring the construction order of §4: rate limiter and
// breaker per endpoint, selector, transport, queue, hedge manager, error
// handler, then the executor tying them together.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	endpoints := make([]*domain.Endpoint, 0, len(cfg.Pool.Endpoints))
	for _, ec := range cfg.Pool.Endpoints {
		if ec.RPSLimit <= 0 {
			ec.RPSLimit = cfg.Pool.DefaultRPSLimit
		}
		if ec.BurstCapacity <= 0 {
			ec.BurstCapacity = cfg.Pool.DefaultBurstCapacity
		}
		if ec.MaxConcurrent <= 0 {
			ec.MaxConcurrent = cfg.Pool.DefaultMaxConcurrent
		}
		if ec.TimeoutMs <= 0 {
			ec.TimeoutMs = cfg.Pool.DefaultTimeoutMs
		}
		bucket := ratelimit.New(ratelimit.Config{
			RefillRate:     ec.RPSLimit,
			SteadyCapacity: ec.RPSLimit,
			BurstCapacity:  ec.BurstCapacity,
		})
		cb := breaker.New(breaker.Config{
			FailureThreshold:     cfg.Pool.Breaker.FailureThreshold,
			SuccessThreshold:     cfg.Pool.Breaker.SuccessThreshold,
			CooldownMs:           cfg.Pool.Breaker.CooldownMs,
			JitterMs:             cfg.Pool.Breaker.JitterMs,
			MaxBackoffMultiplier: cfg.Pool.Breaker.MaxBackoffMultiplier,
		})
		ep, err := domain.NewEndpoint(domain.EndpointConfig{
			URL:           ec.URL,
			Name:          ec.Name,
			MaxConcurrent: ec.MaxConcurrent,
			RPSLimit:      ec.RPSLimit,
			BurstCapacity: ec.BurstCapacity,
			Weight:        ec.Weight,
			Priority:      ec.Priority,
			TimeoutMs:     ec.TimeoutMs,
		}, bucket, cb)
		if err != nil {
			return nil, fmt.Errorf("building endpoint %q: %w", ec.Name, err)
		}
		endpoints = append(endpoints, ep)
	}

	sel := selector.New(selector.Weights{Priority: 1, Weight: 1, Latency: 1, Utilisation: 1, FailureRate: 1})
	xport := transport.New(transport.DefaultConfig())
	q := queue.New(cfg.Pool.MaxQueueSize)
	hedger := hedge.New(hedge.Config{
		DelayMs:               cfg.Pool.Hedging.DelayMs,
		MaxBackups:            cfg.Pool.Hedging.MaxBackups,
		CancellationTimeoutMs: cfg.Pool.Hedging.CancellationTimeoutMs,
	})
	bus := eventbus.New[domain.Event]()
	errs := errhandler.New(errhandler.Config{
		FailureThreshold:  cfg.Pool.ErrorHandler.FailureThreshold,
		Window:            cfg.Pool.ErrorHandler.Window,
		ProbeInterval:     cfg.Pool.ErrorHandler.ProbeInterval,
		HealthyProbesNeed: cfg.Pool.ErrorHandler.HealthyProbesNeed,
	}, bus, ports.ComponentTokenBucket, ports.ComponentCircuitBreaker, ports.ComponentEndpointSelector, ports.ComponentHedgeManager)

	hedgeable := make(map[string]bool, len(cfg.Pool.HedgeableMethods))
	for _, m := range cfg.Pool.HedgeableMethods {
		hedgeable[m] = true
	}

	pool := executor.New(executor.Config{
		DefaultTimeoutMs:  cfg.Pool.DefaultTimeoutMs,
		DefaultFailoverMs: cfg.Pool.DefaultFailoverBudgetMs,
		MaxAttempts:       len(endpoints) + 1,
		HedgingEnabled:    cfg.Pool.Hedging.Enabled,
		HedgeableMethods:  hedgeable,
		DrainInterval:     cfg.Pool.DrainInterval,
		MaxGlobalInFlight: cfg.Pool.MaxGlobalInFlight,
	}, endpoints, sel, xport, q, hedger, errs, bus)

	pool.On(domain.EventBreakerOpen, func(e domain.Event) {
		logger.Warn("circuit breaker opened", "endpoint", e.Endpoint, "data", e.Data)
	})
	pool.On(domain.EventComponentIsolated, func(e domain.Event) {
		logger.Warn("component isolated", "component", e.Component, "data", e.Data)
	})

	bind := envOrDefault("RPCPOOL_BIND_ADDR", defaultBindAddr)
	server := &http.Server{
		Addr:         bind,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return &Application{
		config: cfg,
		pool:   pool,
		server: server,
		logger: logger,
		errCh:  make(chan error, 1),
	}, nil
}

// Start brings up the demo HTTP front end: /health for liveness, /stats
// for the §6 get_stats() snapshot, and /call to dispatch a JSON-RPC
// request through the pool.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting HTTP front end", "bind", a.server.Addr)

	router := http.NewServeMux()
	router.HandleFunc("/health", a.healthHandler)
	router.HandleFunc("/stats", a.statsHandler)
	router.HandleFunc("/call", a.callHandler)

	a.server.Handler = router

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", "error", err)
			a.errCh <- err
		}
	}()

	go func() {
		select {
		case err := <-a.errCh:
			a.logger.Error("server startup error", "error", err)
		case <-ctx.Done():
			return
		}
	}()

	a.logger.Info("started HTTP front end", "bind", a.server.Addr)
	a.logger.Info("endpoints enabled", slog.Group("/health", "info", "liveness check"),
		slog.Group("/stats", "info", "pool statistics snapshot"),
		slog.Group("/call", "info", "dispatch a JSON-RPC call through the pool"))
	return nil
}

// Stop drains the HTTP front end and tears down the pool.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	a.pool.Destroy()
	return nil
}

func (a *Application) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (a *Application) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.pool.GetStats())
}

type callRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (a *Application) callHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	result, err := a.pool.Call(r.Context(), req.Method, req.Params, domain.CallOptions{})
	if err != nil {
		var perr *domain.PoolError
		status := http.StatusBadGateway
		if errors.As(err, &perr) && perr.Kind == domain.KindDeadlineExceeded {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

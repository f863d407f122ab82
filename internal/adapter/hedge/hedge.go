// Package hedge implements the Hedged Manager of §4.6: a primary
// dispatch raced against delayed speculative backups, first response
// wins, losers cancelled within a cleanup budget. Grounded on the
// teacher's errgroup fan-out in internal/adapter/discovery/service.go,
// adapted from "wait for all" to "first wins, cancel the rest".
package hedge

import (
	"context"
	"sync"
	"time"

	"github.com/ogpool/rpcpool/internal/core/domain"
	"github.com/ogpool/rpcpool/internal/core/ports"
)

// Config tunes backup timing (§6 hedging.*).
type Config struct {
	DelayMs               int
	MaxBackups            int
	CancellationTimeoutMs int
}

// Manager is the ports.HedgeManager implementation.
type Manager struct {
	cfg Config

	leaked atomic64
}

type atomic64 struct {
	mu  sync.Mutex
	val int64
}

func (a *atomic64) add(n int64) {
	a.mu.Lock()
	a.val += n
	a.mu.Unlock()
}

func (a *atomic64) load() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.val
}

// New builds a hedge Manager.
func New(cfg Config) *Manager { return &Manager{cfg: cfg} }

// result carries one race participant's outcome back to the coordinator.
type result struct {
	body []byte
	ep   *domain.Endpoint
	err  error
}

// Dispatch races primary against up to MaxBackups delayed backups
// obtained from nextBackup; the first resolution wins and every other
// in-flight copy is cancelled within CancellationTimeoutMs (§4.6).
func (m *Manager) Dispatch(ctx context.Context, primary *domain.Endpoint, attempt ports.AttemptFunc, nextBackup func() (*domain.Endpoint, bool)) ([]byte, *domain.Endpoint, error) {
	raceCtx, cancelRace := context.WithCancel(ctx)
	defer cancelRace()

	results := make(chan result, 1+m.cfg.MaxBackups)
	var wg sync.WaitGroup

	launch := func(ep *domain.Endpoint) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := attempt(raceCtx, ep)
			select {
			case results <- result{body: body, ep: ep, err: err}:
			case <-raceCtx.Done():
			}
		}()
	}

	launch(primary)

	delay := time.Duration(m.cfg.DelayMs) * time.Millisecond
	backupsLaunched := 0
	timer := time.NewTimer(delay)
	defer timer.Stop()

	var winner result
	resolved := false

dispatchLoop:
	for backupsLaunched < m.cfg.MaxBackups && !resolved {
		select {
		case winner = <-results:
			resolved = true
			break dispatchLoop
		case <-timer.C:
			ep, ok := nextBackup()
			if !ok {
				break dispatchLoop
			}
			launch(ep)
			backupsLaunched++
			timer.Reset(delay)
		case <-ctx.Done():
			cancelRace()
			return nil, nil, ctx.Err()
		}
	}

	if !resolved {
		select {
		case winner = <-results:
		case <-ctx.Done():
			cancelRace()
			return nil, nil, ctx.Err()
		}
	}

	cancelRace()
	m.awaitCleanup(&wg)

	return winner.body, winner.ep, winner.err
}

// awaitCleanup waits for losing goroutines to observe cancellation,
// marking a "leaked cancellation" if cleanup overruns the configured
// budget (§4.6 "any copy still in-flight past that is marked as a
// leaked cancellation in stats").
func (m *Manager) awaitCleanup(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	budget := time.Duration(m.cfg.CancellationTimeoutMs) * time.Millisecond
	select {
	case <-done:
	case <-time.After(budget):
		m.leaked.add(1)
	}
}

// LeakedCancellations returns the lifetime count of cleanups that ran
// past the cancellation budget, exposed for diagnostics.
func (m *Manager) LeakedCancellations() int64 { return m.leaked.load() }

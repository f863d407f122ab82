// Package executor implements the Request Executor (§4.7): the pool
// itself, orchestrating the selector, bucket, breaker, transport, queue
// and hedged manager per call() with retry/failover budgets. Grounded
// on the teacher's retry-and-failover loop in
// internal/adapter/proxy/core/retry.go, generalised from HTTP-proxy
// retry to the full selector/breaker/bucket admission cycle.
package executor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	epselector "github.com/ogpool/rpcpool/internal/adapter/selector"
	"github.com/ogpool/rpcpool/internal/core/domain"
	"github.com/ogpool/rpcpool/internal/core/ports"
	"github.com/ogpool/rpcpool/internal/util"
	"github.com/ogpool/rpcpool/pkg/eventbus"
)

// Config holds the pool-wide defaults applied when a call doesn't
// override them (§6).
type Config struct {
	DefaultTimeoutMs  int
	DefaultFailoverMs int
	MaxAttempts       int
	HedgingEnabled    bool
	HedgeableMethods  map[string]bool
	MaxBackoffMs      int
	DrainInterval     time.Duration
	// MaxGlobalInFlight hard-caps in-flight dispatches across every
	// endpoint combined (§6 "max_global_in_flight"), independent of each
	// endpoint's own MaxConcurrent. Zero disables the cap.
	MaxGlobalInFlight int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.MaxBackoffMs <= 0 {
		c.MaxBackoffMs = 500
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = 20 * time.Millisecond
	}
	if c.HedgeableMethods == nil {
		c.HedgeableMethods = defaultHedgeableMethods()
	}
	return c
}

func defaultHedgeableMethods() map[string]bool {
	return map[string]bool{
		"getSlot":        true,
		"getBalance":     true,
		"getAccountInfo": true,
		"getBlockHeight": true,
	}
}

// callResult is delivered to a blocked Call() once its queued request is
// either dispatched by the drain loop or evicted past its deadline.
type callResult struct {
	body []byte
	err  error
}

// Pool is the ports.Pool implementation: the public call()/get_stats()/
// get_load_distribution()/destroy()/on() surface of §6.
type Pool struct {
	cfg              Config
	endpoints        []*domain.Endpoint
	selector         domain.EndpointSelector
	fallbackSelector domain.EndpointSelector
	transport        ports.Transport
	queue            ports.Queue
	hedger           ports.HedgeManager
	errs             ports.ErrorHandler

	bus *eventbus.EventBus[domain.Event]

	pendingMu sync.Mutex
	pending   map[int64]chan callResult

	destroyed atomic.Bool
	stopDrain chan struct{}
	drainWG   sync.WaitGroup

	stopProbe chan struct{}
	probeWG   sync.WaitGroup

	globalSem *semaphore.Weighted
}

// New wires a Pool from its already-constructed components; component
// construction (selector strategy, per-endpoint bucket/breaker, etc.) is
// the caller's responsibility so tests can substitute fakes freely. A
// background goroutine periodically drains the queue so requests parked
// there get dispatched as soon as an endpoint admits them.
func New(cfg Config, endpoints []*domain.Endpoint, selector domain.EndpointSelector, transport ports.Transport, queue ports.Queue, hedger ports.HedgeManager, errs ports.ErrorHandler, bus *eventbus.EventBus[domain.Event]) *Pool {
	c := cfg.withDefaults()
	p := &Pool{
		cfg:              c,
		endpoints:        endpoints,
		selector:         selector,
		fallbackSelector: epselector.NewRoundRobin(),
		transport:        transport,
		queue:            queue,
		hedger:           hedger,
		errs:             errs,
		bus:              bus,
		pending:          make(map[int64]chan callResult),
		stopDrain:        make(chan struct{}),
		stopProbe:        make(chan struct{}),
	}
	if c.MaxGlobalInFlight > 0 {
		p.globalSem = semaphore.NewWeighted(int64(c.MaxGlobalInFlight))
	}
	if queue != nil {
		p.drainWG.Add(1)
		go p.drainLoop()
	}
	if errs != nil {
		p.probeWG.Add(1)
		go p.probeLoop()
	}
	return p
}

func (p *Pool) drainLoop() {
	defer p.drainWG.Done()
	ticker := time.NewTicker(p.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopDrain:
			return
		case <-ticker.C:
			p.queue.Drain(p.tryAdmitQueued)
		}
	}
}

// tryAdmitQueued attempts one dispatch for a queued request; it is the
// admit callback handed to Queue.Drain (§4.5 "drain the queue head: if
// any endpoint now accepts it, dispatch").
func (p *Pool) tryAdmitQueued(req *domain.Request) bool {
	ep, err := p.selectEndpoint(context.Background(), req)
	if err != nil {
		return false
	}
	if !p.acquireEndpoint(ep) {
		return false
	}

	go func() {
		start := time.Now()
		result, dispatchErr := p.dispatchOnce(context.Background(), ep, req)
		p.releaseEndpoint(ep)
		p.recordOutcome(ep, dispatchErr, time.Since(start))
		p.deliver(req.ID, callResult{body: result, err: dispatchErr})
	}()
	return true
}

// probeLoop ticks at the error handler's configured cadence, re-testing
// every currently isolated component for re-integration (§4.8 "after N
// consecutive healthy probes").
func (p *Pool) probeLoop() {
	defer p.probeWG.Done()
	interval := p.errs.ProbeInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopProbe:
			return
		case <-ticker.C:
			p.runProbes()
		}
	}
}

func (p *Pool) runProbes() {
	now := time.Now()
	for _, component := range []ports.Component{
		ports.ComponentTokenBucket,
		ports.ComponentCircuitBreaker,
		ports.ComponentEndpointSelector,
		ports.ComponentHedgeManager,
	} {
		if !p.errs.IsIsolated(component) {
			continue
		}
		p.errs.ReportProbe(component, p.probeHealthy(component), now)
	}
}

// probeHealthy exercises component directly (bypassing its fallback) to
// decide whether it has recovered; a panic counts as still unhealthy.
func (p *Pool) probeHealthy(component ports.Component) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			healthy = false
		}
	}()
	switch component {
	case ports.ComponentTokenBucket:
		if len(p.endpoints) == 0 {
			return true
		}
		for _, ep := range p.endpoints {
			if ep.Bucket.HasTokens(0) {
				return true
			}
		}
		return false
	case ports.ComponentCircuitBreaker:
		if len(p.endpoints) == 0 {
			return true
		}
		now := time.Now()
		for _, ep := range p.endpoints {
			if ep.Breaker.Routable(now) {
				return true
			}
		}
		return false
	case ports.ComponentEndpointSelector:
		if len(p.endpoints) == 0 {
			return true
		}
		_, err := p.selector.Select(context.Background(), p.endpoints)
		return err == nil
	case ports.ComponentHedgeManager:
		return p.hedger != nil
	default:
		return false
	}
}

func (p *Pool) deliver(id int64, res callResult) {
	p.pendingMu.Lock()
	ch, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
	if ok {
		ch <- res
	}
}

// Call implements §4.7's orchestration loop.
func (p *Pool) Call(ctx context.Context, method string, params []byte, opts domain.CallOptions) ([]byte, error) {
	if p.destroyed.Load() {
		return nil, domain.NewPoolError(domain.KindPoolDestroyed, "call after destroy()", nil)
	}

	timeoutMs := firstPositive(opts.TimeoutMs, p.cfg.DefaultTimeoutMs)
	failoverMs := firstPositive(opts.FailoverBudgetMs, p.cfg.DefaultFailoverMs)
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.MaxAttempts
	}

	now := time.Now()
	deadline := earliest(now.Add(time.Duration(timeoutMs)*time.Millisecond), now.Add(time.Duration(failoverMs)*time.Millisecond))

	req := domain.NewRequest(method, json.RawMessage(params), opts, deadline)
	req.State = domain.StateDispatched

	hedgeable := p.isHedgeable(method, opts)

	attempts := 0
	var lastErr error

	for attempts < maxAttempts && time.Now().Before(deadline) {
		ep, selErr := p.selectEndpoint(ctx, req)
		if selErr != nil {
			// Every breaker being open is a hard, immediate failure - no
			// amount of queueing will make an open breaker routable.
			// Queueing only makes sense when the remaining candidates'
			// breakers are fine but capacity (in-flight slots or tokens)
			// is momentarily exhausted, and only before the first dispatch
			// attempt - once an attempt has been recorded, a request that
			// finds no admitting endpoint fails with no-capacity instead.
			if !p.anyBreakerRoutable(req) {
				req.State = domain.StateFailed
				return nil, domain.NewPoolError(domain.KindCircuitOpen, "every candidate endpoint's circuit breaker is open", selErr).WithAttempts(req.Attempts)
			}
			if len(req.Attempts) == 0 {
				return p.waitOnQueue(ctx, req, deadline)
			}
			req.State = domain.StateFailed
			return nil, domain.NewPoolError(domain.KindNoCapacity, "no endpoint admitted the request", selErr).WithAttempts(req.Attempts)
		}

		decision := p.guardBreakerDecision(ep)
		if decision == domain.RejectOpen {
			req.AddTabu(ep.URLString())
			continue
		}

		if !p.acquireEndpoint(ep) {
			if len(req.Attempts) == 0 {
				return p.waitOnQueue(ctx, req, deadline)
			}
			req.AddTabu(ep.URLString())
			continue
		}

		start := time.Now()
		var result []byte
		var err error
		resultEp := ep

		if hedgeable && p.hedgingEnabled(opts) && p.hedger != nil && !p.isolated(ports.ComponentHedgeManager) {
			backups := &acquiredBackups{}
			var winner *domain.Endpoint
			result, winner, err = p.guardHedgeDispatch(ctx, ep, req, backups)
			if winner != nil {
				resultEp = winner
			}
			// Release every acquired backup except the winner; the
			// winner's own slot is released below alongside the primary.
			for _, b := range backups.endpoints {
				if b != winner {
					p.releaseEndpoint(b)
				}
			}
			if winner != nil && winner != ep {
				p.releaseEndpoint(winner)
			}
		} else {
			result, err = p.dispatchOnce(ctx, ep, req)
		}

		duration := time.Since(start)
		attempts++
		p.releaseEndpoint(ep)

		req.RecordAttempt(domain.Attempt{EndpointURL: resultEp.URLString(), StartedAt: start, Duration: duration, Err: err, Hedged: resultEp != ep})

		if err == nil {
			p.recordOutcome(resultEp, nil, duration)
			req.State = domain.StateCompleted
			return result, nil
		}

		kind, perr := p.classify(err)
		lastErr = perr

		if kind == domain.KindCancelled {
			req.State = domain.StateCancelled
			return nil, perr
		}
		if !kind.Retryable() {
			p.recordOutcome(ep, err, duration)
			req.State = domain.StateFailed
			return nil, perr.WithAttempts(req.Attempts)
		}

		p.recordOutcome(ep, err, duration)
		req.AddTabu(ep.URLString())

		p.backoff(attempts)
	}

	req.State = domain.StateExpired
	return nil, domain.NewPoolError(domain.KindDeadlineExceeded, "failover budget exhausted", lastErr).WithAttempts(req.Attempts)
}

// waitOnQueue enqueues req and blocks until the drain loop dispatches it,
// the deadline passes, or ctx is cancelled (§4.5).
func (p *Pool) waitOnQueue(ctx context.Context, req *domain.Request, deadline time.Time) ([]byte, error) {
	if p.queue == nil {
		return nil, domain.NewPoolError(domain.KindNoCapacity, "no endpoint admitted the request", nil)
	}

	ch := make(chan callResult, 1)
	p.pendingMu.Lock()
	p.pending[req.ID] = ch
	p.pendingMu.Unlock()

	if err := p.queue.Enqueue(req); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, req.ID)
		p.pendingMu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			if pe, ok := res.err.(*domain.PoolError); ok && pe.Kind == domain.KindPoolDestroyed {
				req.State = domain.StateFailed
				return nil, pe
			}
			_, perr := p.classify(res.err)
			return nil, perr.WithAttempts(req.Attempts)
		}
		req.State = domain.StateCompleted
		return res.body, nil
	case <-timer.C:
		p.pendingMu.Lock()
		delete(p.pending, req.ID)
		p.pendingMu.Unlock()
		req.State = domain.StateExpired
		return nil, domain.NewPoolError(domain.KindDeadlineExceeded, "queued request exceeded its deadline", nil)
	case <-ctx.Done():
		p.pendingMu.Lock()
		delete(p.pending, req.ID)
		p.pendingMu.Unlock()
		req.State = domain.StateCancelled
		return nil, domain.NewPoolError(domain.KindCancelled, "caller cancelled", ctx.Err())
	}
}

func (p *Pool) classify(err error) (domain.ErrorKind, *domain.PoolError) {
	statusCode := 0
	if pe, ok := err.(*domain.PoolError); ok {
		statusCode = pe.StatusCode
		if pe.Err != nil {
			err = pe.Err
		}
	}
	kind := domain.ClassifyError(err, statusCode)
	return kind, domain.NewPoolError(kind, err.Error(), err)
}

func (p *Pool) recordOutcome(ep *domain.Endpoint, err error, duration time.Duration) {
	if err == nil {
		ep.RecordLatency(duration)
		ep.RecordOutcome(true)
		ep.Breaker.RecordSuccess()
		return
	}
	ep.RecordOutcome(false)
	ep.Breaker.RecordFailure(err)
}

// acquireEndpoint admits one in-flight dispatch against ep: it debits the
// endpoint's token bucket, takes one of its concurrency slots, and takes
// one unit of the pool-wide in-flight cap (§6 "max_global_in_flight").
// A failed cap acquisition releases the slot it took; a token already
// debited is not refunded.
func (p *Pool) acquireEndpoint(ep *domain.Endpoint) bool {
	if !p.guardBucket(ep) {
		return false
	}
	if !ep.AcquireSlot() {
		return false
	}
	if p.globalSem != nil && !p.globalSem.TryAcquire(1) {
		ep.ReleaseSlot()
		return false
	}
	return true
}

// isolated reports whether component is currently routed through its
// named fallback (§4.8); a nil error handler means every component is
// always healthy.
func (p *Pool) isolated(component ports.Component) bool {
	if p.errs == nil {
		return false
	}
	return p.errs.IsIsolated(component)
}

// reportFailure attributes a failure to component, a no-op without an
// error handler.
func (p *Pool) reportFailure(component ports.Component) {
	if p.errs == nil {
		return
	}
	p.errs.ReportFailure(component, time.Now())
}

// guardBucket applies the Token Bucket component's §4.8 fallback ("skip
// rate check, rely on max_concurrent only") whenever the bucket is
// isolated, and recovers a panicking bucket implementation the same way:
// treat the call as admitted and report the failure so the error handler
// can isolate it going forward.
func (p *Pool) guardBucket(ep *domain.Endpoint) (ok bool) {
	if p.isolated(ports.ComponentTokenBucket) {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			p.reportFailure(ports.ComponentTokenBucket)
			ok = true
		}
	}()
	ok = ep.Bucket.TryConsume(1)
	return
}

// guardBreakerDecision applies the Circuit Breaker component's §4.8
// fallback ("treat all endpoints as CLOSED, rely on transport errors")
// whenever the breaker is isolated or panics.
func (p *Pool) guardBreakerDecision(ep *domain.Endpoint) (decision domain.BreakerDecision) {
	if p.isolated(ports.ComponentCircuitBreaker) {
		return domain.Allow
	}
	defer func() {
		if r := recover(); r != nil {
			p.reportFailure(ports.ComponentCircuitBreaker)
			decision = domain.Allow
		}
	}()
	decision = ep.Breaker.ShouldAllow(time.Now())
	return
}

// selectFrom applies the Endpoint Selector component's §4.8 fallback
// ("round-robin over endpoints by index") whenever the selector is
// isolated or panics, and keeps the selector package's hard-gate toggles
// in sync with the Circuit Breaker and Token Bucket isolation state
// ahead of every selection.
func (p *Pool) selectFrom(ctx context.Context, candidates []*domain.Endpoint) (ep *domain.Endpoint, err error) {
	epselector.SetBreakerGateEnabled(!p.isolated(ports.ComponentCircuitBreaker))
	epselector.SetBucketGateEnabled(!p.isolated(ports.ComponentTokenBucket))

	sel := p.selector
	if p.isolated(ports.ComponentEndpointSelector) {
		sel = p.fallbackSelector
	}

	defer func() {
		if r := recover(); r != nil {
			p.reportFailure(ports.ComponentEndpointSelector)
			ep, err = p.fallbackSelector.Select(ctx, candidates)
		}
	}()
	ep, err = sel.Select(ctx, candidates)
	return
}

// guardHedgeDispatch applies the Hedged Manager component's §4.8
// fallback ("primary only, no backups") when the hedger panics; the
// isolated-skip case is handled by the caller so it never constructs an
// acquiredBackups or calls this at all.
func (p *Pool) guardHedgeDispatch(ctx context.Context, primary *domain.Endpoint, req *domain.Request, backups *acquiredBackups) (result []byte, resultEp *domain.Endpoint, err error) {
	resultEp = primary
	defer func() {
		if r := recover(); r != nil {
			p.reportFailure(ports.ComponentHedgeManager)
			result, err = p.dispatchOnce(ctx, primary, req)
			resultEp = primary
		}
	}()
	var winner *domain.Endpoint
	result, winner, err = p.hedger.Dispatch(ctx, primary, p.attemptFn(req), p.nextBackupFn(req, primary, backups))
	if winner != nil {
		resultEp = winner
	}
	return
}

// releaseEndpoint undoes one acquireEndpoint admission.
func (p *Pool) releaseEndpoint(ep *domain.Endpoint) {
	ep.ReleaseSlot()
	if p.globalSem != nil {
		p.globalSem.Release(1)
	}
}

func (p *Pool) dispatchOnce(ctx context.Context, ep *domain.Endpoint, req *domain.Request) ([]byte, error) {
	result, statusCode, err := p.transport.Dispatch(ctx, ep, req.Method, req.Params, req.ID)
	if err != nil {
		return nil, &domain.PoolError{Kind: domain.ClassifyError(err, statusCode), Message: err.Error(), Err: err, StatusCode: statusCode}
	}
	return result, nil
}

func (p *Pool) attemptFn(req *domain.Request) ports.AttemptFunc {
	return func(ctx context.Context, ep *domain.Endpoint) ([]byte, error) {
		return p.dispatchOnce(ctx, ep, req)
	}
}

// acquiredBackups records every endpoint a hedge dispatch pulled a slot
// for, so the caller can release the ones that lost the race once the
// hedger returns.
type acquiredBackups struct {
	endpoints []*domain.Endpoint
}

// nextBackupFn returns a backup-selection closure that acquires a fresh
// endpoint slot and debits its bucket before handing it to the hedger;
// the per-call tabu set and a running exclusion set keep backups from
// racing the primary or each other twice. Every endpoint it hands out is
// appended to acquired so the caller can release the losers once the
// race resolves.
func (p *Pool) nextBackupFn(req *domain.Request, primary *domain.Endpoint, acquired *acquiredBackups) func() (*domain.Endpoint, bool) {
	used := map[*domain.Endpoint]struct{}{primary: {}}
	return func() (*domain.Endpoint, bool) {
		candidates := make([]*domain.Endpoint, 0, len(p.endpoints))
		for _, ep := range p.endpoints {
			if _, seen := used[ep]; seen || req.Tabu(ep.URLString()) {
				continue
			}
			candidates = append(candidates, ep)
		}
		if len(candidates) == 0 {
			return nil, false
		}
		ep, err := p.selectFrom(context.Background(), candidates)
		if err != nil || ep == nil {
			return nil, false
		}
		if !p.acquireEndpoint(ep) {
			return nil, false
		}
		used[ep] = struct{}{}
		acquired.endpoints = append(acquired.endpoints, ep)
		return ep, true
	}
}

// anyBreakerRoutable reports whether at least one non-tabu endpoint's
// breaker would admit a call right now, independent of capacity. It
// distinguishes "every breaker is open" (a terminal circuit-open
// failure) from "breakers are fine but endpoints are momentarily
// saturated" (queueing can help).
func (p *Pool) anyBreakerRoutable(req *domain.Request) bool {
	now := time.Now()
	for _, ep := range p.endpoints {
		if req.Tabu(ep.URLString()) {
			continue
		}
		if ep.Breaker.Routable(now) {
			return true
		}
	}
	return false
}

func (p *Pool) selectEndpoint(ctx context.Context, req *domain.Request) (*domain.Endpoint, error) {
	candidates := make([]*domain.Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if req.Tabu(ep.URLString()) {
			continue
		}
		candidates = append(candidates, ep)
	}
	if len(candidates) == 0 {
		return nil, domain.NewPoolError(domain.KindCircuitOpen, "all candidate endpoints exhausted", nil)
	}
	return p.selectFrom(ctx, candidates)
}

func (p *Pool) isHedgeable(method string, opts domain.CallOptions) bool {
	if opts.Idempotent != nil {
		return *opts.Idempotent
	}
	return p.cfg.HedgeableMethods[method]
}

// hedgingEnabled applies the per-call override over the pool default
// (§6 "hedging: nil means use pool default").
func (p *Pool) hedgingEnabled(opts domain.CallOptions) bool {
	if opts.Hedging != nil {
		return *opts.Hedging
	}
	return p.cfg.HedgingEnabled
}

// backoff sleeps the exponential, jittered retry delay capped at
// MaxBackoffMs (§4.7 "continue to next attempt (with exponential backoff
// capped at 500 ms + jitter)").
func (p *Pool) backoff(attempt int) {
	delay := util.CalculateExponentialBackoff(attempt, 10*time.Millisecond, time.Duration(p.cfg.MaxBackoffMs)*time.Millisecond, 0.5)
	time.Sleep(delay)
}

func firstPositive(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// GetStats returns a point-in-time snapshot (§6 get_stats()).
func (p *Pool) GetStats() ports.Stats {
	snapshots := make([]domain.EndpointSnapshot, 0, len(p.endpoints))
	var success, failure int64
	for _, ep := range p.endpoints {
		snap := ep.Snapshot()
		snapshots = append(snapshots, snap)
		success += snap.SuccessCount
		failure += snap.FailureCount
	}

	capability := 100.0
	if p.errs != nil {
		capability = p.errs.Capability()
	}

	return ports.Stats{
		Global: ports.GlobalStats{
			TotalRequests:      success + failure,
			SuccessfulRequests: success,
			FailedRequests:     failure,
			QueuedRequests:     int64(p.queueLen()),
			Capability:         capability,
		},
		Endpoints: snapshots,
	}
}

func (p *Pool) queueLen() int {
	if p.queue == nil {
		return 0
	}
	return p.queue.Len()
}

// GetLoadDistribution returns per-endpoint share of traffic (§6).
func (p *Pool) GetLoadDistribution() map[string]ports.EndpointLoad {
	out := make(map[string]ports.EndpointLoad, len(p.endpoints))
	var total int64
	for _, ep := range p.endpoints {
		snap := ep.Snapshot()
		total += snap.SuccessCount + snap.FailureCount
	}
	for _, ep := range p.endpoints {
		snap := ep.Snapshot()
		requests := snap.SuccessCount + snap.FailureCount
		pct := 0.0
		if total > 0 {
			pct = float64(requests) / float64(total) * 100
		}
		util := 0.0
		if snap.MaxConcurrent > 0 {
			util = float64(snap.InFlight) / float64(snap.MaxConcurrent)
		}
		out[snap.URL] = ports.EndpointLoad{Requests: requests, Percentage: pct, Utilisation: util}
	}
	return out
}

// Destroy is idempotent: it stops the drain loop, rejects queued requests
// and prevents further calls (§6 destroy()). Keep-alive connections are
// released when the transport's underlying *http.Client is garbage
// collected since Dispatch holds no handles beyond the call's lifetime.
func (p *Pool) Destroy() {
	if !p.destroyed.CompareAndSwap(false, true) {
		return
	}
	close(p.stopDrain)
	p.drainWG.Wait()
	if p.errs != nil {
		close(p.stopProbe)
		p.probeWG.Wait()
	}
	if p.queue != nil {
		p.queue.Shutdown()
	}
	p.pendingMu.Lock()
	for id, ch := range p.pending {
		delete(p.pending, id)
		ch <- callResult{err: domain.NewPoolError(domain.KindPoolDestroyed, "pool destroyed", nil)}
	}
	p.pendingMu.Unlock()
}

// On registers handler for kind; delivery is via the shared event bus so
// a consumer registered at construction never misses a concurrent emit.
func (p *Pool) On(kind domain.EventKind, handler func(domain.Event)) {
	if p.bus == nil {
		return
	}
	ch, _ := p.bus.Subscribe(context.Background())
	go func() {
		for ev := range ch {
			if ev.Kind == kind {
				handler(ev)
			}
		}
	}()
}

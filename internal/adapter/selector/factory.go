package selector

import (
	"fmt"
	"sync"

	"github.com/ogpool/rpcpool/internal/core/domain"
)

const (
	StrategyScored     = "scored"
	StrategyRoundRobin = "round-robin"
)

// Factory builds a named selector strategy, grounded on the teacher's
// internal/adapter/balancer/factory.go registration pattern.
type Factory struct {
	mu       sync.RWMutex
	creators map[string]func() domain.EndpointSelector
}

// NewFactory registers the scored strategy (parameterised by weights) and
// the round-robin fallback used by the Integration Error Handler when the
// Endpoint Selector component is isolated.
func NewFactory(weights Weights) *Factory {
	f := &Factory{creators: make(map[string]func() domain.EndpointSelector)}
	f.Register(StrategyScored, func() domain.EndpointSelector { return New(weights) })
	f.Register(StrategyRoundRobin, func() domain.EndpointSelector { return NewRoundRobin() })
	return f
}

func (f *Factory) Register(name string, creator func() domain.EndpointSelector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[name] = creator
}

func (f *Factory) Create(name string) (domain.EndpointSelector, error) {
	f.mu.RLock()
	creator, ok := f.creators[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("selector: unknown strategy %q", name)
	}
	return creator(), nil
}

package payment

import (
	"context"
	"net/url"
	"sort"
	"sync"
)

// Adapter speaks one provider's protocol.
type Adapter interface {
	Provider() Provider
	BuildOutboundRequest(ctx context.Context, bill Bill, locale string) (*OutboundRequest, error)
	VerifyCallback(ctx context.Context, params url.Values) (*Outcome, error)
}

type Registry struct {
	mu       sync.RWMutex
	adapters map[Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

func (r *Registry) Get(p Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return a, nil
}

// Providers lists the registered provider keys, sorted.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package provider

import (
	"sort"
	"strings"
)

// Registry maps provider identifiers to adapters. It is the composition
// root for dispatch: every ConnectionRef resolves through it, and unknown
// identifiers resolve to a stub that fails every capability instead of
// crashing the caller.
//
// Register is meant for startup wiring and is not safe for concurrent use
// with Get.
type Registry struct {
	providers map[string]Provider
	fallback  Provider
}

// NewRegistry creates an empty registry with a stub fallback.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  NewStub("unknown"),
	}
}

// Register adds an adapter keyed by its capability id.
func (r *Registry) Register(p Provider) {
	id := strings.ToLower(strings.TrimSpace(p.Capabilities().ID))
	if id == "" {
		return
	}
	r.providers[id] = p
}

// Get resolves a provider id, falling back to the stub when no adapter is
// registered for it.
func (r *Registry) Get(id string) Provider {
	if p, ok := r.providers[strings.ToLower(strings.TrimSpace(id))]; ok {
		return p
	}
	return r.fallback
}

// Has reports whether a real adapter is registered for id.
func (r *Registry) Has(id string) bool {
	_, ok := r.providers[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// IDs lists registered provider identifiers in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Package providers keeps the set of payment provider adapters available to
// the settlement pipeline. Transactions record the provider by name in their
// gateway details; the registry turns that name back into a live adapter.
package providers

import (
	"strings"
	"sync"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// Registry maps provider names to adapters. Registration happens during
// startup wiring; lookups happen on every settlement operation, so reads
// take the cheap path.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]ports.Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]ports.Provider)}
}

// Register adds a provider under its own Name. Registering a second provider
// under an existing name is a wiring bug and fails loudly.
func (r *Registry) Register(provider ports.Provider) error {
	if provider == nil {
		return domain.NewMissingFieldError("provider")
	}

	name := strings.TrimSpace(provider.Name())
	if name == "" {
		return domain.NewMissingFieldError("provider name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return domain.NewDomainError(domain.ErrorCodeInternalError, "provider already registered").
			WithDetail("provider", name)
	}

	r.byName[name] = provider
	return nil
}

// Get resolves a provider by name. Unknown names return a
// NOT_FOUND_PROVIDER error carrying the requested name.
func (r *Registry) Get(name string) (ports.Provider, error) {
	r.mu.RLock()
	provider, ok := r.byName[name]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeProviderNotFound, "payment provider not registered").
			WithDetail("provider", name)
	}
	return provider, nil
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

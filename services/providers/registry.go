package providers

import (
	"errors"
	"sort"
	"sync"

	"github.com/normalman743/apiforward/services"
)

var (
	// ErrAdapterNotFound is returned when a provider is not registered
	ErrAdapterNotFound = errors.New("provider not registered")

	// ErrAdapterAlreadyRegistered is returned when trying to register a
	// duplicate provider
	ErrAdapterAlreadyRegistered = errors.New("provider already registered")
)

// Registry manages adapter instances and the configured provider priority
// order. Registration happens at startup; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter

	// priority is the configured provider order used when no hint is
	// given. Providers absent from the priority list sort last in
	// registration order.
	priority []string
}

// NewRegistry creates a registry with the given provider priority order.
func NewRegistry(priority []string) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		priority: priority,
	}
}

// Register adds an adapter instance.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter cannot be nil")
	}

	name := adapter.Name()
	if name == "" {
		return errors.New("adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return ErrAdapterAlreadyRegistered
	}

	r.adapters[name] = adapter
	return nil
}

// Get retrieves an adapter by provider name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[name]
	if !exists {
		return nil, ErrAdapterNotFound
	}
	return adapter, nil
}

// InPriorityOrder returns all registered adapters in the configured
// priority order, followed by any adapters not named in the priority list.
func (r *Registry) InPriorityOrder() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := make([]Adapter, 0, len(r.adapters))
	seen := make(map[string]bool, len(r.adapters))

	for _, name := range r.priority {
		if adapter, ok := r.adapters[name]; ok {
			ordered = append(ordered, adapter)
			seen[name] = true
		}
	}

	// Stable order for the remainder.
	var rest []string
	for name := range r.adapters {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		ordered = append(ordered, r.adapters[name])
	}

	return ordered
}

// SupportsModel reports whether any registered provider serves the model.
func (r *Registry) SupportsModel(model string) bool {
	for _, adapter := range r.InPriorityOrder() {
		if adapter.SupportsModel(model) {
			return true
		}
	}
	return false
}

// ModelInfo returns catalog information from the highest-priority provider
// serving the model.
func (r *Registry) ModelInfo(model string) (*ModelInfo, error) {
	for _, adapter := range r.InPriorityOrder() {
		if adapter.SupportsModel(model) {
			return adapter.ModelInfo(model)
		}
	}
	return nil, services.ErrModelNotFound
}

// ListModels returns all models across all providers, sorted, without
// duplicates.
func (r *Registry) ListModels() []string {
	seen := make(map[string]bool)
	var all []string

	for _, adapter := range r.InPriorityOrder() {
		for _, model := range adapter.Models() {
			if !seen[model] {
				seen[model] = true
				all = append(all, model)
			}
		}
	}

	sort.Strings(all)
	return all
}

// ListModelInfo returns catalog information for every model across all
// providers. A model served by multiple providers appears once per provider.
func (r *Registry) ListModelInfo() []*ModelInfo {
	var all []*ModelInfo
	for _, adapter := range r.InPriorityOrder() {
		for _, model := range adapter.Models() {
			info, err := adapter.ModelInfo(model)
			if err != nil {
				continue
			}
			all = append(all, info)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Provider != all[j].Provider {
			return all[i].Provider < all[j].Provider
		}
		return all[i].ID < all[j].ID
	})
	return all
}

// Names returns all registered provider names in priority order.
func (r *Registry) Names() []string {
	adapters := r.InPriorityOrder()
	names := make([]string, len(adapters))
	for i, adapter := range adapters {
		names[i] = adapter.Name()
	}
	return names
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

package executor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hoangson/trading-runtime/internal/types"
)

// Factory builds one executor from its validated common envelope and
// the raw type-specific fields. Factories must reject malformed raw
// config with types.ErrConfigInvalid before producing side effects.
type Factory func(cfg Config, host Host, logger *slog.Logger) (Executor, error)

// TypeRegistry is the closed mapping from type tag to factory. New
// executor kinds extend the registry rather than branching call sites.
type TypeRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewTypeRegistry creates an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{factories: make(map[string]Factory)}
}

// Register adds a factory for a type tag. Re-registering a tag
// replaces the previous factory.
func (r *TypeRegistry) Register(tag string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = factory
}

// Known reports whether a type tag is registered.
func (r *TypeRegistry) Known(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[tag]
	return ok
}

// Tags returns the registered type tags, sorted.
func (r *TypeRegistry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// New instantiates an executor for the tag in cfg.Type.
func (r *TypeRegistry) New(cfg Config, host Host, logger *slog.Logger) (Executor, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown executor type %q", types.ErrConfigInvalid, cfg.Type)
	}
	return factory(cfg, host, logger)
}

// Package registry is the single lookup surface over built-in and dynamic
// tools. Built-ins are registered once at process start and always shadow
// dynamic names on resolution; the store refuses registrations against
// reserved names, so a shadowing conflict cannot normally arise.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/artificer-ai/artificer/internal/observability"
	"github.com/artificer-ai/artificer/pkg/tool"
	"github.com/artificer-ai/artificer/pkg/toolstore"
)

// ErrUnknownTool is returned when a name resolves to neither variant.
var ErrUnknownTool = errors.New("unknown tool")

// Registry resolves tool names against built-ins first, then the store.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]*tool.Definition
	order    []string // builtin registration order, kept for listings
	store    *toolstore.Store
}

// New builds a registry backed by the given definition store.
func New(store *toolstore.Store) *Registry {
	return &Registry{
		builtins: map[string]*tool.Definition{},
		store:    store,
	}
}

// RegisterBuiltin adds a built-in tool. Registration happens during wiring;
// duplicates and invalid schemas are programming errors surfaced as errors,
// not panics.
func (r *Registry) RegisterBuiltin(schema tool.Schema, handler tool.Handler) error {
	if handler == nil {
		return fmt.Errorf("builtin %q has no handler", schema.Name)
	}
	if err := schema.Validate(); err != nil {
		return fmt.Errorf("builtin %q has invalid schema: %w", schema.Name, err)
	}
	compiled, err := schema.Compile()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builtins[schema.Name]; exists {
		return fmt.Errorf("builtin %q registered twice", schema.Name)
	}

	r.builtins[schema.Name] = &tool.Definition{
		Schema:   schema,
		Kind:     tool.KindBuiltin,
		Handler:  handler,
		Compiled: compiled,
	}
	r.order = append(r.order, schema.Name)

	log.Debug().Str("tool", schema.Name).Msg("Builtin tool registered")
	return nil
}

// SealBuiltins marks registration complete: the store learns the reserved
// names so dynamic tools can never claim them.
func (r *Registry) SealBuiltins() {
	r.store.SetReservedNames(r.BuiltinNames())
}

// BuiltinNames returns built-in names in registration order.
func (r *Registry) BuiltinNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Resolve returns the definition for name, built-ins taking precedence.
func (r *Registry) Resolve(ctx context.Context, name string) (*tool.Definition, error) {
	r.mu.RLock()
	def, ok := r.builtins[name]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}

	dyn, err := r.store.Get(ctx, name)
	if errors.Is(err, toolstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if err != nil {
		return nil, err
	}
	return dyn, nil
}

// ListAll returns every visible schema: built-ins in registration order,
// then dynamic tools in creation order. This is the set advertised to the
// model each round trip, so registration is visible immediately.
func (r *Registry) ListAll(ctx context.Context) ([]tool.Schema, error) {
	r.mu.RLock()
	schemas := make([]tool.Schema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.builtins[name].Schema)
	}
	r.mu.RUnlock()

	dynamic, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dynamic tools: %w", err)
	}
	observability.SetDynamicTools(len(dynamic))

	return append(schemas, dynamic...), nil
}

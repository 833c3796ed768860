package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// State is a persistable piece of runtime state. Kind identifies the
// concrete type in storage.
type State interface {
	Kind() string
}

// Factory produces an empty State ready for decoding.
type Factory func() State

// Registry maps state kinds to factories. It is populated explicitly
// during process startup; types never self-register.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a kind to its factory. Registering the same kind
// twice is a wiring mistake and fails.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("state kind must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for kind %q must not be nil", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("state kind %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// New instantiates an empty state value for the kind.
func (r *Registry) New(kind string) (State, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown state kind %q", kind)
	}
	return factory(), nil
}

// Decode instantiates and unmarshals a stored snapshot payload.
func (r *Registry) Decode(kind string, payload []byte) (State, error) {
	state, err := r.New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, state); err != nil {
		return nil, fmt.Errorf("decode state %q: %w", kind, err)
	}
	return state, nil
}

// Encode serializes a state value for storage.
func Encode(state State) ([]byte, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state %q: %w", state.Kind(), err)
	}
	return payload, nil
}

// Kinds lists registered kinds in stable order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

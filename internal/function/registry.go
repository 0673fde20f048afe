package function

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateLocation is returned when two definitions claim the same
// location id.
var ErrDuplicateLocation = errors.New("duplicate function location")

// Registry is the function metadata collaborator: read-all and
// lookup-by-id.
type Registry interface {
	All() []*Definition
	Lookup(location string) (*Definition, bool)
}

// StaticRegistry is an in-memory Registry populated once, at startup.
type StaticRegistry struct {
	defs  map[string]*Definition
	order []string
	mu    sync.RWMutex
}

// NewStaticRegistry builds a registry from the given definitions.
func NewStaticRegistry(defs ...*Definition) (*StaticRegistry, error) {
	r := &StaticRegistry{defs: make(map[string]*Definition)}
	for _, def := range defs {
		if err := r.add(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *StaticRegistry) add(def *Definition) error {
	if _, exists := r.defs[def.Location]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateLocation, def.Location)
	}
	r.defs[def.Location] = def
	r.order = append(r.order, def.Location)
	return nil
}

// All returns every definition in registration order.
func (r *StaticRegistry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.order))
	for _, loc := range r.order {
		out = append(out, r.defs[loc])
	}
	return out
}

// Lookup returns the definition registered at location.
func (r *StaticRegistry) Lookup(location string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[location]
	return def, ok
}

package platform

import "fmt"

// Registry holds the configured adapters, keyed by platform id.
type Registry struct {
	adapters map[ID]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[ID]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.ID()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(id ID) (Adapter, error) {
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", id)
	}
	return a, nil
}

func (r *Registry) Has(id ID) bool {
	_, ok := r.adapters[id]
	return ok
}

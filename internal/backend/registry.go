package backend

import "fmt"

// Registry maps backend ids to backends. It is built once at startup and is
// read-only afterwards, so it needs no locking.
type Registry struct {
	byID  map[string]Backend
	order []string
}

// NewRegistry registers backends in the given order. Duplicate or empty ids
// are rejected.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{byID: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		id := b.ID()
		if id == "" {
			return nil, fmt.Errorf("backend with empty id")
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("backend %q registered twice", id)
		}
		r.byID[id] = b
		r.order = append(r.order, id)
	}
	return r, nil
}

// Get returns the backend registered under id.
func (r *Registry) Get(id string) (Backend, error) {
	b, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}
	return b, nil
}

// Resolve maps an ordered list of ids to backends, keeping the order.
// Unknown ids fail the whole lookup.
func (r *Registry) Resolve(ids []string) ([]Backend, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty backend list")
	}
	out := make([]Backend, 0, len(ids))
	for _, id := range ids {
		b, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Available keeps only the ids that are registered, preserving order. Used
// when an optional backend (e.g. the cloud one without an API key) is absent.
func (r *Registry) Available(ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, ok := r.byID[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

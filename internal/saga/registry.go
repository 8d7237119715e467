package saga

import "fmt"

// Registry is the immutable set of saga definitions, built once at startup.
type Registry struct {
	defs map[string]Definition
}

func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.defs[d.Name]; exists {
			return nil, fmt.Errorf("duplicate saga definition %q", d.Name)
		}
		r.defs[d.Name] = d
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}

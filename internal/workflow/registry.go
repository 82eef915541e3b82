package workflow

import "fmt"

// Registry holds loaded workflow definitions keyed by name. A
// user-defined definition overrides a built-in one of the same name.
type Registry struct {
	defs map[string]*Definition
}

// LoadRegistry loads the built-in definitions plus any operator
// overrides found under home's workflows directory.
func LoadRegistry(home string) (*Registry, error) {
	builtin, err := LoadBuiltinWorkflows()
	if err != nil {
		return nil, fmt.Errorf("loading built-in workflows: %w", err)
	}
	user, err := LoadUserWorkflows(home)
	if err != nil {
		return nil, fmt.Errorf("loading user workflows: %w", err)
	}

	r := &Registry{defs: make(map[string]*Definition, len(builtin)+len(user))}
	for _, d := range builtin {
		r.defs[d.ID] = d
	}
	for _, d := range user {
		r.defs[d.ID] = d
	}
	return r, nil
}

// NewRegistry builds a registry directly from already-parsed definitions,
// for tests and for callers that manage their own sources.
func NewRegistry(defs []*Definition) *Registry {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		r.defs[d.ID] = d
	}
	return r
}

// Resolve looks up a definition by name and checks its version against
// version. A mismatch means the on-disk definition has moved on since
// the task recorded it — the caller should fall back to the default
// machine rather than apply stages that no longer mean what they meant
// when the task was created.
func (r *Registry) Resolve(name string, version int) (*Definition, bool) {
	d, ok := r.defs[name]
	if !ok || d.Version != version {
		return nil, false
	}
	return d, true
}

// All returns every loaded definition.
func (r *Registry) All() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

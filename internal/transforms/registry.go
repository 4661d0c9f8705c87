package transforms

import (
	"fmt"
	"sort"
	"sync"
)

type Registry struct {
	mu        sync.RWMutex
	instances map[string]Transform
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]Transform),
		factories: make(map[string]Factory),
	}
}

// Register adds a ready-made transform under an exact spec name.
func (r *Registry) Register(name string, t Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[name] = t
}

// RegisterFactory adds a custom transform that builds itself from "name:..." or
// "name(...)" specs as well as the bare name.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(name string) (Transform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.instances[name]
	if !ok {
		return nil, fmt.Errorf("transform not found: %s", name)
	}
	return t, nil
}

// List returns every resolvable transform name, custom and builtin, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.instances)+len(r.factories)+len(simpleBuiltins)+len(factoryBuiltins))
	for name := range r.instances {
		seen[name] = struct{}{}
	}
	for name := range r.factories {
		seen[name] = struct{}{}
	}
	for name := range simpleBuiltins {
		seen[name] = struct{}{}
	}
	for name := range factoryBuiltins {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns a spec string into a transform: registered instances first, then custom
// factories, then the builtin table.
func (r *Registry) Resolve(spec string) (Transform, error) {
	r.mu.RLock()
	inst, ok := r.instances[spec]
	r.mu.RUnlock()
	if ok {
		return inst, nil
	}

	p, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	custom, ok := r.factories[p.Name]
	r.mu.RUnlock()
	if ok {
		t, err := custom(p)
		if err != nil {
			return nil, fmt.Errorf("transform %q: %w", spec, err)
		}
		return t, nil
	}

	if fn, ok := simpleBuiltins[p.Name]; ok && !p.HasArgs() {
		return fn, nil
	}
	if f, ok := factoryBuiltins[p.Name]; ok {
		t, err := f(p)
		if err != nil {
			return nil, fmt.Errorf("transform %q: %w", spec, err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTransform, spec)
}

// RegisterPipeline registers name as shorthand for a sequence of specs. Every spec must
// resolve at registration time.
func (r *Registry) RegisterPipeline(name string, specs []string) error {
	if name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(specs) == 0 {
		return fmt.Errorf("pipeline %s: no transforms", name)
	}
	p := make(pipeline, 0, len(specs))
	for _, spec := range specs {
		t, err := r.Resolve(spec)
		if err != nil {
			return fmt.Errorf("pipeline %s: %w", name, err)
		}
		p = append(p, t)
	}
	r.Register(name, p)
	return nil
}

package transforms

import "sync"

// Engine applies transform pipelines, caching resolved specs across rows.
type Engine struct {
	registry *Registry

	mu    sync.RWMutex
	cache map[string]Transform
}

func NewEngine(registry *Registry) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{registry: registry, cache: make(map[string]Transform)}
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) resolve(spec string) (Transform, error) {
	e.mu.RLock()
	t, ok := e.cache[spec]
	e.mu.RUnlock()
	if ok {
		return t, nil
	}
	t, err := e.registry.Resolve(spec)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[spec] = t
	e.mu.Unlock()
	return t, nil
}

// Apply runs specs left to right. The first unresolvable spec stops the pipeline.
func (e *Engine) Apply(value any, specs []string, tc *Context) (any, error) {
	for _, spec := range specs {
		t, err := e.resolve(spec)
		if err != nil {
			return value, err
		}
		value = t.Apply(value, tc)
	}
	return value, nil
}

// Check resolves every spec without applying anything.
func (e *Engine) Check(specs []string) error {
	for _, spec := range specs {
		if _, err := e.resolve(spec); err != nil {
			return err
		}
	}
	return nil
}

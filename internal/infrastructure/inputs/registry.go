package inputs

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Registry maps input type names to their factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds factories by name. It panics when a name is taken, since
// that can only be a wiring mistake.
func (r *Registry) Register(factories ...Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range factories {
		if _, dup := r.factories[f.Name()]; dup {
			panic(fmt.Sprintf("inputs: factory %q registered twice", f.Name()))
		}
		r.factories[f.Name()] = f
	}
}

func (r *Registry) lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Create validates cfg and builds a MessageInput of type name. The input is
// not started.
func (r *Registry) Create(name string, cfg Config, buffer InputBuffer) (MessageInput, error) {
	factory, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown input type: %s", name)
	}
	if err := validate(factory, cfg); err != nil {
		return nil, err
	}
	return factory.Create(cfg, buffer)
}

// ValidateConfig checks required fields, then runs the factory's optional
// ValidateConfig. Unknown types are not an error here; Create reports them.
func (r *Registry) ValidateConfig(typeName string, cfg Config) error {
	factory, ok := r.lookup(typeName)
	if !ok {
		return nil
	}
	return validate(factory, cfg)
}

func validate(factory Factory, cfg Config) error {
	if missing := factory.ConfigSpec().Missing(cfg); len(missing) > 0 {
		return fmt.Errorf("%s input: missing %s", factory.Name(), strings.Join(missing, ", "))
	}
	if v, ok := factory.(interface{ ValidateConfig(Config) error }); ok {
		return v.ValidateConfig(cfg)
	}
	return nil
}

// ListRegistered returns the registered type names in lexical order.
func (r *Registry) ListRegistered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) GetTypeInfo(name string) (InputTypeInfo, bool) {
	factory, ok := r.lookup(name)
	if !ok {
		return InputTypeInfo{}, false
	}
	return factory.ConfigSpec(), true
}

// AllTypesInfo returns the config spec of every type, ordered by type name.
func (r *Registry) AllTypesInfo() []InputTypeInfo {
	names := r.ListRegistered()
	out := make([]InputTypeInfo, 0, len(names))
	for _, name := range names {
		if info, ok := r.GetTypeInfo(name); ok {
			out = append(out, info)
		}
	}
	return out
}

// StartAll creates and starts an input per spec. HTTP endpoint inputs without
// their own listen address are handed to mount. On error every input started
// so far is stopped again.
func (r *Registry) StartAll(specs []InputSpec, buffer InputBuffer, mount func(path string, h http.Handler)) ([]MessageInput, error) {
	started := make([]MessageInput, 0, len(specs))
	for _, spec := range specs {
		cfg := spec.Resolved()
		input, err := r.Create(spec.Type, cfg, buffer)
		if err == nil {
			err = input.Start()
		}
		if err != nil {
			for _, in := range started {
				_ = in.Stop()
			}
			return nil, fmt.Errorf("input %q: %w", spec.Title, err)
		}
		if ep, ok := input.(HTTPEndpointInput); ok && mount != nil && cfg.String("listen") == "" {
			mount(ep.Path(), ep.Handler())
		}
		started = append(started, input)
	}
	return started, nil
}

package schema

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry maps event names to compiled definitions and validates
// property bags against them. It fails closed: an unregistered name is a
// validation error.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Register compiles def and stores it under name. def.Event may be empty,
// in which case it is set to name; otherwise the two must match.
func (r *Registry) Register(name string, def *Definition) error {
	if name == "" {
		return fmt.Errorf("event name is required")
	}
	if def == nil {
		return fmt.Errorf("definition is required")
	}
	if def.Event == "" {
		def.Event = name
	}
	if def.Event != name {
		return fmt.Errorf("schema event %q does not match name %q", def.Event, name)
	}
	if err := def.Compile(); err != nil {
		return fmt.Errorf("invalid schema %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.defs[name]; ok {
		if existing.Fingerprint != "" && existing.Fingerprint == def.Fingerprint {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	r.defs[name] = def
	return nil
}

// RegisterYAML parses a YAML definition and registers it under its event name.
func (r *Registry) RegisterYAML(raw []byte) (*Definition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("definition is required")
	}

	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML schema: %w", err)
	}
	def.Fingerprint = ComputeFingerprint(raw)

	if err := r.Register(def.Event, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Get returns the definition registered for name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return def, nil
}

// Validate checks props against the schema for name and returns a deep
// copy of the accepted properties. A nil props map is treated as empty.
func (r *Registry) Validate(name string, props map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewNotFoundError(name)
	}

	if props == nil {
		props = map[string]interface{}{}
	}
	if err := def.validate(props); err != nil {
		return nil, err
	}
	return Clone(props), nil
}

// WantsAttribution reports whether events of this name carry touchpoint context.
func (r *Registry) WantsAttribution(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	return ok && def.Attribution
}

// Names returns all registered event names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

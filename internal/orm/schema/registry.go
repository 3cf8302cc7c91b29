package schema

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/conduit-lang/japi/internal/apierrors"
)

// Registry maps typenames to resource types. It is populated at startup
// and frozen before the first request; afterwards it is read-only.
type Registry struct {
	types  map[string]*ResourceType
	byGo   map[reflect.Type]string
	frozen bool
	mu     sync.RWMutex
}

// NewRegistry creates a new, empty registry
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*ResourceType),
		byGo:  make(map[reflect.Type]string),
	}
}

// Register adds a resource type
func (r *Registry) Register(rt *ResourceType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen, can not register %s", rt.Name)
	}
	if _, exists := r.types[rt.Name]; exists {
		return fmt.Errorf("resource %s is already registered", rt.Name)
	}
	if other, exists := r.byGo[rt.goType]; exists {
		return fmt.Errorf("go type %s is already registered as %s", rt.goType, other)
	}

	r.types[rt.Name] = rt
	r.byGo[rt.goType] = rt.Name
	return nil
}

// MustRegister registers every type and panics on the first error
func (r *Registry) MustRegister(types ...*ResourceType) {
	for _, rt := range types {
		if err := r.Register(rt); err != nil {
			panic(err)
		}
	}
}

// Freeze validates the registry and makes it read-only
func (r *Registry) Freeze() error {
	if err := r.ValidateAll(); err != nil {
		return err
	}
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
	return nil
}

// Frozen reports whether Freeze succeeded
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// ValidateAll checks cross-type references: parents of subtypes and
// relationship targets must be registered, and the type hierarchy must be
// acyclic.
func (r *Registry) ValidateAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	graph := NewTypeGraph(r.types)
	return graph.Validate()
}

// Get retrieves a resource type by name. Unknown names raise NotFound.
func (r *Registry) Get(name string) (*ResourceType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, exists := r.types[name]
	if !exists {
		return nil, apierrors.NotFound(fmt.Sprintf("The type '%s' does not exist.", name))
	}
	return rt, nil
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.types[name]
	return exists
}

// Names returns every registered typename in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.types)
}

// Count returns the number of registered types
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.types)
}

// ResolveTypename returns the typename of v. v may be an Identifier, a
// live resource or a reflect.Type. Resources implementing TypeNamer name
// themselves; all others are looked up by Go type.
func (r *Registry) ResolveTypename(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", fmt.Errorf("can not resolve the typename of nil")
	case Identifier:
		return x.Type, nil
	case *Identifier:
		return x.Type, nil
	case TypeNamer:
		return x.TypeName(), nil
	case reflect.Type:
		return r.lookupGoType(x)
	default:
		return r.lookupGoType(reflect.TypeOf(v))
	}
}

func (r *Registry) lookupGoType(t reflect.Type) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := r.byGo[t]; ok {
		return name, nil
	}
	return "", fmt.Errorf("go type %s is not registered", t)
}

// TypeOf returns the resource type of a live resource or Identifier
func (r *Registry) TypeOf(v any) (*ResourceType, error) {
	name, err := r.ResolveTypename(v)
	if err != nil {
		return nil, err
	}
	return r.Get(name)
}

// IdentifierOf normalizes v into an Identifier. v may be an Identifier,
// a pointer to one or a live resource.
func (r *Registry) IdentifierOf(v any) (Identifier, error) {
	switch x := v.(type) {
	case Identifier:
		return x, nil
	case *Identifier:
		return *x, nil
	}
	rt, err := r.TypeOf(v)
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{Type: rt.Name, ID: rt.ID(v)}, nil
}

// IdentifiersOf normalizes a list of relatives
func (r *Registry) IdentifiersOf(values []any) ([]Identifier, error) {
	ids := make([]Identifier, 0, len(values))
	for _, v := range values {
		id, err := r.IdentifierOf(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Subtypes returns every direct and indirect subtype of name in sorted
// order. name itself is not included.
func (r *Registry) Subtypes(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, other := range sortedKeys(r.types) {
		if other != name && r.isA(other, name) {
			out = append(out, other)
		}
	}
	return out
}

// Family returns name followed by all of its subtypes
func (r *Registry) Family(name string) []string {
	return append([]string{name}, r.Subtypes(name)...)
}

// IsA reports whether name equals ancestor or extends it
func (r *Registry) IsA(name, ancestor string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.isA(name, ancestor)
}

func (r *Registry) isA(name, ancestor string) bool {
	seen := make(map[string]bool)
	for name != "" && !seen[name] {
		if name == ancestor {
			return true
		}
		seen[name] = true
		rt, ok := r.types[name]
		if !ok {
			return false
		}
		name = rt.Extends
	}
	return false
}

// Types returns every registered type ordered by name
func (r *Registry) Types() []*ResourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ResourceType, 0, len(r.types))
	for _, rt := range r.types {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package schema

import (
	"errors"
	"fmt"
	"reflect"
)

// ToOneAccessors bundles the accessors of a to-one relationship. Get is
// required; a nil Set makes the relationship read-only.
type ToOneAccessors[T any] struct {
	Get   func(T) any
	Set   func(T, any) error
	Clear func(T) error
}

// ToManyAccessors bundles the accessors of a to-many relationship. Get is
// required; the mutators are optional.
type ToManyAccessors[T any] struct {
	Get    func(T) []any
	Set    func(T, []any) error
	Add    func(T, any) error
	Extend func(T, []any) error
	Clear  func(T) error
}

// Builder declares a resource type backed by the Go type T. Declaration
// errors are collected and reported by Build.
type Builder[T any] struct {
	rt     *ResourceType
	errors []error
}

// Define starts the declaration of the resource type name. newFn returns
// an empty T and is used by storage adapters and the default constructor.
func Define[T any](name string, newFn func() T) *Builder[T] {
	b := &Builder[T]{
		rt: newResourceType(name, reflect.TypeOf((*T)(nil)).Elem()),
	}
	if name == "" {
		b.errors = append(b.errors, errors.New("resource type name is required"))
	}
	if newFn == nil {
		b.errors = append(b.errors, fmt.Errorf("resource %s: constructor function is required", name))
	} else {
		b.rt.newFn = func() any { return newFn() }
	}
	return b
}

// ID declares the id accessors. Without a setter the backend can not
// assign ids to new resources.
func (b *Builder[T]) ID(get func(T) string, set func(T, string)) *Builder[T] {
	if get == nil {
		b.errors = append(b.errors, fmt.Errorf("resource %s: id getter is required", b.rt.Name))
		return b
	}
	name := b.rt.Name
	b.rt.id = func(r any) string { return get(cast[T](name, r)) }
	if set != nil {
		b.rt.setID = func(r any, id string) error {
			set(cast[T](name, r), id)
			return nil
		}
	}
	return b
}

// ClientGeneratedIDs lets clients choose the id of new resources. It
// requires an id setter.
func (b *Builder[T]) ClientGeneratedIDs() *Builder[T] {
	b.rt.clientIDs = true
	return b
}

// Extends marks the type as a subtype of parent
func (b *Builder[T]) Extends(parent string) *Builder[T] {
	b.rt.Extends = parent
	return b
}

// Constructor replaces the default constructor. fn receives the decoded
// attribute values and resolved relatives keyed by field name.
func (b *Builder[T]) Constructor(fn func(args map[string]any) (T, error)) *Builder[T] {
	b.rt.constructor = func(args map[string]any) (any, error) {
		return fn(args)
	}
	return b
}

// Attribute declares an attribute. A nil set makes it read-only.
func (b *Builder[T]) Attribute(name string, get func(T) any, set func(T, any) error) *Builder[T] {
	if !b.declare(name) {
		return b
	}
	if get == nil {
		b.errors = append(b.errors, fmt.Errorf("resource %s: attribute %s needs a getter", b.rt.Name, name))
		return b
	}
	owner := b.rt.Name
	attr := &Attribute{
		Name:  name,
		owner: owner,
		get:   func(r any) any { return get(cast[T](owner, r)) },
	}
	if set != nil {
		attr.set = func(r, v any) error { return set(cast[T](owner, r), v) }
	}
	b.rt.attributes[name] = attr
	return b
}

// ToOne declares a to-one relationship to resources of type target
func (b *Builder[T]) ToOne(name, target string, acc ToOneAccessors[T]) *Builder[T] {
	if !b.declare(name) {
		return b
	}
	if acc.Get == nil {
		b.errors = append(b.errors, fmt.Errorf("resource %s: relationship %s needs a getter", b.rt.Name, name))
		return b
	}
	owner := b.rt.Name
	rel := &Relationship{
		Name:        name,
		Cardinality: ToOne,
		Target:      target,
		owner:       owner,
		getOne:      func(r any) any { return acc.Get(cast[T](owner, r)) },
	}
	if acc.Set != nil {
		rel.setOne = func(r, v any) error { return acc.Set(cast[T](owner, r), v) }
	}
	if acc.Clear != nil {
		rel.clear = func(r any) error { return acc.Clear(cast[T](owner, r)) }
	}
	b.rt.relationships[name] = rel
	return b
}

// ToMany declares a to-many relationship to resources of type target
func (b *Builder[T]) ToMany(name, target string, acc ToManyAccessors[T]) *Builder[T] {
	if !b.declare(name) {
		return b
	}
	if acc.Get == nil {
		b.errors = append(b.errors, fmt.Errorf("resource %s: relationship %s needs a getter", b.rt.Name, name))
		return b
	}
	owner := b.rt.Name
	rel := &Relationship{
		Name:        name,
		Cardinality: ToMany,
		Target:      target,
		owner:       owner,
		getMany:     func(r any) []any { return acc.Get(cast[T](owner, r)) },
	}
	if acc.Set != nil {
		rel.setMany = func(r any, v []any) error { return acc.Set(cast[T](owner, r), v) }
	}
	if acc.Add != nil {
		rel.add = func(r, v any) error { return acc.Add(cast[T](owner, r), v) }
	}
	if acc.Extend != nil {
		rel.extend = func(r any, v []any) error { return acc.Extend(cast[T](owner, r), v) }
	}
	if acc.Clear != nil {
		rel.clear = func(r any) error { return acc.Clear(cast[T](owner, r)) }
	}
	b.rt.relationships[name] = rel
	return b
}

// Build validates the declaration and returns the resource type
func (b *Builder[T]) Build() (*ResourceType, error) {
	errs := b.errors
	if b.rt.id == nil {
		errs = append(errs, fmt.Errorf("resource %s: id accessor is required", b.rt.Name))
	}
	if b.rt.clientIDs && b.rt.setID == nil {
		errs = append(errs, fmt.Errorf("resource %s: client generated ids need an id setter", b.rt.Name))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return b.rt, nil
}

// MustBuild is like Build but panics on declaration errors
func (b *Builder[T]) MustBuild() *ResourceType {
	rt, err := b.Build()
	if err != nil {
		panic(err)
	}
	return rt
}

func (b *Builder[T]) declare(name string) bool {
	switch {
	case name == "":
		b.errors = append(b.errors, fmt.Errorf("resource %s: field name is required", b.rt.Name))
		return false
	case name == "id" || name == "type":
		b.errors = append(b.errors, fmt.Errorf("resource %s: %q is a reserved field name", b.rt.Name, name))
		return false
	case b.rt.HasField(name):
		b.errors = append(b.errors, fmt.Errorf("resource %s: field %s is declared twice", b.rt.Name, name))
		return false
	}
	return true
}

// cast asserts that a resource handed to an accessor has the declared Go
// type. A mismatch is a programming error.
func cast[T any](typename string, r any) T {
	v, ok := r.(T)
	if !ok {
		var zero T
		panic(fmt.Sprintf("schema: resource of type %s must be %T, got %T", typename, zero, r))
	}
	return v
}

// Package schema describes resource types: their identity, attributes and
// relationships, and the accessors used to read and write live resources.
package schema

import (
	"fmt"

	"github.com/conduit-lang/japi/internal/apierrors"
)

// Identifier is the (type, id) pair that identifies a resource. It is
// comparable and therefore usable as a map key.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String returns "type:id"
func (i Identifier) String() string {
	return i.Type + ":" + i.ID
}

// IsZero reports whether the identifier is empty
func (i Identifier) IsZero() bool {
	return i.Type == "" && i.ID == ""
}

// TypeNamer is implemented by resources that know their own typename.
// It takes precedence over the registry's Go type lookup.
type TypeNamer interface {
	TypeName() string
}

// Cardinality distinguishes to-one from to-many relationships
type Cardinality int

const (
	// ToOne relationships reference at most one resource
	ToOne Cardinality = iota
	// ToMany relationships reference an ordered list of resources
	ToMany
)

// String returns the string representation of the cardinality
func (c Cardinality) String() string {
	switch c {
	case ToOne:
		return "to-one"
	case ToMany:
		return "to-many"
	default:
		return "unknown"
	}
}

// Attribute is a named scalar field of a resource type. An attribute
// without a setter is read-only.
type Attribute struct {
	Name  string
	owner string
	get   func(any) any
	set   func(any, any) error
}

// Get reads the attribute from a resource
func (a *Attribute) Get(resource any) any {
	return a.get(resource)
}

// Writable reports whether the attribute has a setter
func (a *Attribute) Writable() bool {
	return a.set != nil
}

// Set writes the attribute. Read-only attributes raise ReadOnlyAttribute.
func (a *Attribute) Set(resource, value any) error {
	if a.set == nil {
		return apierrors.ReadOnlyAttribute(a.owner, a.Name)
	}
	return a.set(resource, value)
}

// Relationship is a named link from a resource type to other resources.
// Relatives are returned as Identifiers or live resources; callers
// normalize them with Registry.IdentifierOf.
type Relationship struct {
	Name        string
	Cardinality Cardinality
	// Target is the typename of the related resources. Empty for
	// polymorphic relationships.
	Target string

	owner   string
	getOne  func(any) any
	getMany func(any) []any
	setOne  func(any, any) error
	setMany func(any, []any) error
	add     func(any, any) error
	extend  func(any, []any) error
	clear   func(any) error
}

// IsToOne reports whether the relationship is to-one
func (r *Relationship) IsToOne() bool {
	return r.Cardinality == ToOne
}

// IsToMany reports whether the relationship is to-many
func (r *Relationship) IsToMany() bool {
	return r.Cardinality == ToMany
}

// Get returns the related resource (or nil) of a to-one relationship
func (r *Relationship) Get(resource any) any {
	if r.getOne == nil {
		return nil
	}
	return r.getOne(resource)
}

// GetMany returns the related resources of a to-many relationship
func (r *Relationship) GetMany(resource any) []any {
	if r.getMany == nil {
		return nil
	}
	return r.getMany(resource)
}

// Relatives returns the related resources as a list regardless of
// cardinality. An empty to-one relationship yields an empty list.
func (r *Relationship) Relatives(resource any) []any {
	if r.Cardinality == ToMany {
		return r.GetMany(resource)
	}
	if v := r.Get(resource); !isNil(v) {
		return []any{v}
	}
	return nil
}

// Set replaces a to-one relationship. nil clears it.
func (r *Relationship) Set(resource, relative any) error {
	if r.Cardinality != ToOne {
		return fmt.Errorf("relationship %s of %s is not to-one", r.Name, r.owner)
	}
	if r.setOne == nil {
		return apierrors.ReadOnlyRelationship(r.owner, r.Name)
	}
	return r.setOne(resource, relative)
}

// SetMany replaces a to-many relationship
func (r *Relationship) SetMany(resource any, relatives []any) error {
	if r.Cardinality != ToMany {
		return fmt.Errorf("relationship %s of %s is not to-many", r.Name, r.owner)
	}
	if r.setMany == nil {
		return apierrors.ReadOnlyRelationship(r.owner, r.Name)
	}
	return r.setMany(resource, relatives)
}

// Add appends a single resource to a to-many relationship
func (r *Relationship) Add(resource, relative any) error {
	return r.Extend(resource, []any{relative})
}

// Extend appends resources to a to-many relationship. Without an explicit
// extend accessor each relative is added one by one.
func (r *Relationship) Extend(resource any, relatives []any) error {
	if r.Cardinality != ToMany {
		return fmt.Errorf("relationship %s of %s is not to-many", r.Name, r.owner)
	}
	switch {
	case r.extend != nil:
		return r.extend(resource, relatives)
	case r.add != nil:
		for _, rel := range relatives {
			if err := r.add(resource, rel); err != nil {
				return err
			}
		}
		return nil
	default:
		return apierrors.ReadOnlyRelationship(r.owner, r.Name)
	}
}

// Clear empties the relationship. Without an explicit clear accessor the
// relationship is set to nil or to an empty list.
func (r *Relationship) Clear(resource any) error {
	switch {
	case r.clear != nil:
		return r.clear(resource)
	case r.Cardinality == ToOne && r.setOne != nil:
		return r.setOne(resource, nil)
	case r.Cardinality == ToMany && r.setMany != nil:
		return r.setMany(resource, []any{})
	default:
		return apierrors.ReadOnlyRelationship(r.owner, r.Name)
	}
}

// CanSet reports whether the relationship can be replaced
func (r *Relationship) CanSet() bool {
	if r.Cardinality == ToOne {
		return r.setOne != nil
	}
	return r.setMany != nil
}

// CanExtend reports whether resources can be added to the relationship
func (r *Relationship) CanExtend() bool {
	return r.Cardinality == ToMany && (r.extend != nil || r.add != nil)
}

// CanClear reports whether the relationship can be emptied
func (r *Relationship) CanClear() bool {
	return r.clear != nil || r.CanSet()
}

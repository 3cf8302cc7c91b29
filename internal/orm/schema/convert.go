package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/conduit-lang/japi/internal/apierrors"
)

// Convert coerces a decoded JSON value into V. Values that already have
// type V are returned as is; others take a JSON round trip. A failed
// conversion is reported as a BadRequest.
func Convert[V any](value any) (V, error) {
	var zero V
	if value == nil {
		return zero, nil
	}
	if v, ok := value.(V); ok {
		return v, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return zero, apierrors.BadRequest(fmt.Sprintf("The value %v can not be encoded.", value))
	}
	var out V
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, apierrors.BadRequest(fmt.Sprintf("The value %s is not a valid %T.", data, zero))
	}
	return out, nil
}

// Setter adapts a typed attribute setter to the untyped form used by
// Builder.Attribute.
func Setter[T, V any](fn func(T, V)) func(T, any) error {
	return func(r T, value any) error {
		v, err := Convert[V](value)
		if err != nil {
			return err
		}
		fn(r, v)
		return nil
	}
}

// Value adapts a typed getter to the untyped form used by the builder
func Value[T, V any](fn func(T) V) func(T) any {
	return func(r T) any { return fn(r) }
}

// SetOne adapts a typed to-one setter. The relative is either a live R or
// nil; any other value is a BadRequest.
func SetOne[T, R any](fn func(T, R)) func(T, any) error {
	return func(r T, relative any) error {
		var zero R
		if isNil(relative) {
			fn(r, zero)
			return nil
		}
		v, ok := relative.(R)
		if !ok {
			return apierrors.BadRequest(fmt.Sprintf("A resource of type %T can not be assigned here.", relative))
		}
		fn(r, v)
		return nil
	}
}

// SetMany adapts a typed to-many setter
func SetMany[T, R any](fn func(T, []R)) func(T, []any) error {
	return func(r T, relatives []any) error {
		typed := make([]R, 0, len(relatives))
		for _, relative := range relatives {
			v, ok := relative.(R)
			if !ok {
				return apierrors.BadRequest(fmt.Sprintf("A resource of type %T can not be assigned here.", relative))
			}
			typed = append(typed, v)
		}
		fn(r, typed)
		return nil
	}
}

// AddOne adapts a typed to-many add accessor
func AddOne[T, R any](fn func(T, R)) func(T, any) error {
	return func(r T, relative any) error {
		v, ok := relative.(R)
		if !ok {
			return apierrors.BadRequest(fmt.Sprintf("A resource of type %T can not be assigned here.", relative))
		}
		fn(r, v)
		return nil
	}
}

// Relatives converts a typed slice into the untyped form returned by
// to-many getters.
func Relatives[R any](items []R) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// Ref returns the Identifier for typename/id, or nil when id is empty.
// It lets getters expose stored foreign keys without loading the relative.
func Ref(typename, id string) any {
	if id == "" {
		return nil
	}
	return Identifier{Type: typename, ID: id}
}

// Refs returns the Identifiers for a list of ids
func Refs(typename string, ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = Identifier{Type: typename, ID: id}
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

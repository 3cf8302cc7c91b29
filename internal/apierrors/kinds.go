package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// BadRequest is raised when the request is malformed
func BadRequest(detail string) *Error {
	return New(KindBadRequest, http.StatusBadRequest, detail)
}

// Forbidden is raised when an operation is not permitted
func Forbidden(detail string) *Error {
	return New(KindForbidden, http.StatusForbidden, detail)
}

// NotFound is raised when an endpoint or resource type does not exist
func NotFound(detail string) *Error {
	return New(KindNotFound, http.StatusNotFound, detail)
}

// MethodNotAllowed is raised when an endpoint does not support a verb
func MethodNotAllowed(method string) *Error {
	return New(KindMethodNotAllowed, http.StatusMethodNotAllowed,
		fmt.Sprintf("The method '%s' is not allowed on this endpoint.", method))
}

// NotAcceptable is raised when the client cannot accept a JSON:API response
func NotAcceptable(detail string) *Error {
	return New(KindNotAcceptable, http.StatusNotAcceptable, detail)
}

// Conflict is raised on type or id mismatches between URL and body
func Conflict(detail string) *Error {
	return New(KindConflict, http.StatusConflict, detail)
}

// UnsupportedMediaType is raised when the request body is not JSON:API
func UnsupportedMediaType(detail string) *Error {
	return New(KindUnsupportedMediaType, http.StatusUnsupportedMediaType, detail)
}

// InternalServerError wraps an unexpected failure in debug renderings
func InternalServerError(detail string) *Error {
	return New(KindInternalServerError, http.StatusInternalServerError, detail)
}

// InvalidDocument is raised when a request document violates the JSON:API
// structure. pointer locates the offending member.
func InvalidDocument(detail, pointer string) *Error {
	return New(KindInvalidDocument, http.StatusBadRequest, detail).WithPointer(pointer)
}

// IncludePathNotFound is raised when an include path names an unknown
// relationship.
func IncludePathNotFound(path []string) *Error {
	joined := strings.Join(path, ".")
	return New(KindIncludePathNotFound, http.StatusBadRequest,
		fmt.Sprintf("The include path '%s' does not exist.", joined)).
		WithParameter("include").
		WithMeta("path", joined)
}

// UnresolvableIncludePath is an alias of IncludePathNotFound
var UnresolvableIncludePath = IncludePathNotFound

// ReadOnlyAttribute is raised when a client writes an attribute without a
// setter.
func ReadOnlyAttribute(typename, attribute string) *Error {
	return New(KindReadOnlyAttribute, http.StatusForbidden,
		fmt.Sprintf("The attribute '%s' of '%s' is read-only.", attribute, typename)).
		WithPointer("/data/attributes/" + EscapePointer(attribute))
}

// ReadOnlyRelationship is raised when a client modifies a relationship
// that does not support the operation.
func ReadOnlyRelationship(typename, relationship string) *Error {
	return New(KindReadOnlyRelationship, http.StatusForbidden,
		fmt.Sprintf("The relationship '%s' of '%s' is read-only.", relationship, typename)).
		WithPointer("/data/relationships/" + EscapePointer(relationship))
}

// UnsortableField is raised when a collection cannot be sorted by field
func UnsortableField(typename, field string) *Error {
	return New(KindUnsortableField, http.StatusBadRequest,
		fmt.Sprintf("The field '%s' of '%s' can not be used for sorting.", field, typename)).
		WithParameter("sort")
}

// UnfilterableField is raised when the field/operator combination is not
// supported by the storage backend.
func UnfilterableField(typename, operator, field string) *Error {
	return New(KindUnfilterableField, http.StatusBadRequest,
		fmt.Sprintf("The filter '%s' is not supported on the field '%s' of '%s'.", operator, field, typename)).
		WithParameter(fmt.Sprintf("filter[%s]", field))
}

// RelationshipNotFound is raised when a type has no relationship of the
// given name.
func RelationshipNotFound(typename, relationship string) *Error {
	return New(KindRelationshipNotFound, http.StatusNotFound,
		fmt.Sprintf("The type '%s' has no relationship '%s'.", typename, relationship))
}

// ResourceNotFound is raised when a referenced resource does not exist
func ResourceNotFound(typename, id string) *Error {
	return New(KindResourceNotFound, http.StatusNotFound,
		fmt.Sprintf("The resource (%s, %s) does not exist.", typename, id)).
		WithMeta("type", typename).
		WithMeta("id", id)
}

// EscapePointer escapes a reference token per RFC 6901
func EscapePointer(token string) string {
	// Order matters: escape ~ before /
	token = strings.ReplaceAll(token, "~", "~0")
	token = strings.ReplaceAll(token, "/", "~1")
	return token
}

// Locate sets pointer on every API error in err that has no source yet.
// Other errors are returned unchanged.
func Locate(err error, pointer string) error {
	var list *ErrorList
	if errors.As(err, &list) {
		for _, e := range list.Errors {
			locate(e, pointer)
		}
		return err
	}
	var single *Error
	if errors.As(err, &single) {
		locate(single, pointer)
	}
	return err
}

func locate(e *Error, pointer string) {
	if e.SourcePointer == "" && e.SourceParameter == "" {
		e.SourcePointer = pointer
	}
}

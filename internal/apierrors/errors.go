// Package apierrors defines the structured errors raised while handling a
// JSON:API request and renders them as JSON:API error documents.
package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/DataDog/jsonapi"
)

// MediaType is the JSON:API media type used for error documents.
const MediaType = "application/vnd.api+json"

// Kind names a class of API error. It is rendered as the error title.
type Kind string

const (
	KindInternalServerError     Kind = "InternalServerError"
	KindBadRequest              Kind = "BadRequest"
	KindForbidden               Kind = "Forbidden"
	KindNotFound                Kind = "NotFound"
	KindMethodNotAllowed        Kind = "MethodNotAllowed"
	KindNotAcceptable           Kind = "NotAcceptable"
	KindConflict                Kind = "Conflict"
	KindUnsupportedMediaType    Kind = "UnsupportedMediaType"
	KindInvalidDocument         Kind = "InvalidDocument"
	KindIncludePathNotFound     Kind = "IncludePathNotFound"
	KindReadOnlyAttribute       Kind = "ReadOnlyAttribute"
	KindReadOnlyRelationship    Kind = "ReadOnlyRelationship"
	KindUnsortableField         Kind = "UnsortableField"
	KindUnfilterableField       Kind = "UnfilterableField"
	KindRelationshipNotFound    Kind = "RelationshipNotFound"
	KindResourceNotFound        Kind = "ResourceNotFound"
	KindUnresolvableIncludePath      = KindIncludePathNotFound
)

// Error is a single JSON:API error. Every Error carries the HTTP status it
// maps to and enough structure for a client to locate the problem.
type Error struct {
	Kind            Kind
	Status          int
	ID              string
	Code            string
	About           string
	Detail          string
	SourcePointer   string
	SourceParameter string
	Meta            map[string]interface{}
}

// New creates an error of the given kind and status.
func New(kind Kind, status int, detail string) *Error {
	return &Error{
		Kind:   kind,
		Status: status,
		Code:   codeFromKind(kind),
		Detail: detail,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return string(e.Kind)
}

// WithPointer sets the JSON pointer into the request document
func (e *Error) WithPointer(pointer string) *Error {
	e.SourcePointer = pointer
	return e
}

// WithParameter sets the query parameter that caused the error
func (e *Error) WithParameter(parameter string) *Error {
	e.SourceParameter = parameter
	return e
}

// WithMeta attaches non-standard meta information
func (e *Error) WithMeta(key string, value interface{}) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]interface{})
	}
	e.Meta[key] = value
	return e
}

// WithID sets the occurrence id
func (e *Error) WithID(id string) *Error {
	e.ID = id
	return e
}

// Object converts the error into its wire representation.
func (e *Error) Object() *jsonapi.Error {
	status := e.Status
	obj := &jsonapi.Error{
		ID:     e.ID,
		Status: &status,
		Code:   e.Code,
		Title:  string(e.Kind),
		Detail: e.Detail,
	}
	if e.SourcePointer != "" || e.SourceParameter != "" {
		obj.Source = &jsonapi.ErrorSource{
			Pointer:   e.SourcePointer,
			Parameter: e.SourceParameter,
		}
	}
	meta := make(map[string]interface{}, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	if e.About != "" {
		meta["about"] = e.About
	}
	if len(meta) > 0 {
		obj.Meta = meta
	}
	return obj
}

// ErrorList aggregates the errors of one validation pass so the client
// receives every violation in a single response.
type ErrorList struct {
	Errors []*Error
}

// NewErrorList creates an empty list
func NewErrorList() *ErrorList {
	return &ErrorList{}
}

// Append adds errors to the list
func (l *ErrorList) Append(errs ...*Error) {
	l.Errors = append(l.Errors, errs...)
}

// Extend adds every error of other to the list
func (l *ErrorList) Extend(other *ErrorList) {
	if other == nil {
		return
	}
	l.Errors = append(l.Errors, other.Errors...)
}

// Add appends err if it is an *Error or an *ErrorList and reports whether it
// was absorbed. Any other error is left to the caller.
func (l *ErrorList) Add(err error) bool {
	var list *ErrorList
	if errors.As(err, &list) {
		l.Extend(list)
		return true
	}
	var single *Error
	if errors.As(err, &single) {
		l.Append(single)
		return true
	}
	return false
}

// Len returns the number of errors
func (l *ErrorList) Len() int {
	return len(l.Errors)
}

// Err returns nil for an empty list, the single error for a list of one and
// the list itself otherwise.
func (l *ErrorList) Err() error {
	switch len(l.Errors) {
	case 0:
		return nil
	case 1:
		return l.Errors[0]
	default:
		return l
	}
}

// Error implements the error interface
func (l *ErrorList) Error() string {
	parts := make([]string, len(l.Errors))
	for i, err := range l.Errors {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// Status returns the HTTP status shared by every error in the list. Mixed
// client errors collapse to 400, anything else to 500.
func (l *ErrorList) Status() int {
	if len(l.Errors) == 0 {
		return http.StatusInternalServerError
	}
	status := l.Errors[0].Status
	clientErrors := true
	for _, err := range l.Errors {
		if err.Status < 400 || err.Status >= 500 {
			clientErrors = false
		}
		if err.Status != status {
			status = 0
		}
	}
	switch {
	case status != 0:
		return status
	case clientErrors:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsAPIError reports whether err is (or wraps) an *Error or an *ErrorList.
func IsAPIError(err error) bool {
	var single *Error
	var list *ErrorList
	return errors.As(err, &single) || errors.As(err, &list)
}

// HasKind reports whether err is (or wraps) an *Error of the given kind, or
// an *ErrorList containing one.
func HasKind(err error, kind Kind) bool {
	var list *ErrorList
	if errors.As(err, &list) {
		for _, e := range list.Errors {
			if e.Kind == kind {
				return true
			}
		}
		return false
	}
	var single *Error
	return errors.As(err, &single) && single.Kind == kind
}

// StatusOf returns the HTTP status of an API error, or 500 for anything else.
func StatusOf(err error) int {
	var list *ErrorList
	if errors.As(err, &list) {
		return list.Status()
	}
	var single *Error
	if errors.As(err, &single) {
		return single.Status
	}
	return http.StatusInternalServerError
}

// Objects flattens an API error into its wire error objects. It returns nil
// when err is not an API error.
func Objects(err error) []*jsonapi.Error {
	var list *ErrorList
	if errors.As(err, &list) {
		objs := make([]*jsonapi.Error, 0, len(list.Errors))
		for _, e := range list.Errors {
			objs = append(objs, e.Object())
		}
		return objs
	}
	var single *Error
	if errors.As(err, &single) {
		return []*jsonapi.Error{single.Object()}
	}
	return nil
}

// Document renders err as a JSON:API error document. The second return
// value is the HTTP status. Non-API errors are rejected: they signal a
// defect and must not be disguised as a client-facing document.
func Document(err error, indent bool) ([]byte, int, error) {
	objs := Objects(err)
	if objs == nil {
		return nil, 0, fmt.Errorf("not an API error: %w", err)
	}

	doc := map[string][]*jsonapi.Error{"errors": objs}
	var (
		data    []byte
		marshal error
	)
	if indent {
		data, marshal = json.MarshalIndent(doc, "", " ")
	} else {
		data, marshal = json.Marshal(doc)
	}
	if marshal != nil {
		return nil, 0, fmt.Errorf("failed to marshal error document: %w", marshal)
	}
	return data, StatusOf(err), nil
}

// codeFromKind maps an error kind to its snake_case error code
func codeFromKind(kind Kind) string {
	var b strings.Builder
	for i, r := range string(kind) {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + 32)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

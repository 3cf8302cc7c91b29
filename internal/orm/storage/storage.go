// Package storage defines the contract between the API engine and the
// backends that persist resources, and the per-request Session that sits
// between them.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/japi/internal/orm/schema"
)

// Operator is a filter operator from the query string vocabulary
type Operator string

const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpIn          Operator = "in"
	OpNin         Operator = "nin"
	OpContains    Operator = "contains"
	OpIContains   Operator = "icontains"
	OpStartsWith  Operator = "startswith"
	OpIStartsWith Operator = "istartswith"
	OpEndsWith    Operator = "endswith"
	OpIEndsWith   Operator = "iendswith"
	OpIExact      Operator = "iexact"
	OpExists      Operator = "exists"
	OpMatch       Operator = "match"
	OpAll         Operator = "all"
	OpSize        Operator = "size"
)

// Operators lists the complete operator vocabulary
var Operators = []Operator{
	OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn, OpNin,
	OpContains, OpIContains, OpStartsWith, OpIStartsWith,
	OpEndsWith, OpIEndsWith, OpIExact, OpExists, OpMatch, OpAll, OpSize,
}

// ParseOperator validates an operator name
func ParseOperator(name string) (Operator, bool) {
	for _, op := range Operators {
		if string(op) == name {
			return op, true
		}
	}
	return "", false
}

// Filter restricts a query to resources whose Field satisfies Op against
// Value. Value is a decoded JSON value.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// String returns "field op value"
func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
}

// Sort orders a query by Field
type Sort struct {
	Field      string
	Descending bool
}

// String returns the query string form of the sort criterion
func (s Sort) String() string {
	if s.Descending {
		return "-" + s.Field
	}
	return "+" + s.Field
}

// ParseSort parses "field", "+field" or "-field"
func ParseSort(token string) Sort {
	switch {
	case strings.HasPrefix(token, "-"):
		return Sort{Field: token[1:], Descending: true}
	case strings.HasPrefix(token, "+"):
		return Sort{Field: token[1:]}
	default:
		return Sort{Field: token}
	}
}

// Query describes a collection query. A zero Limit means no limit.
type Query struct {
	Sort    []Sort
	Limit   int
	Offset  int
	Filters []Filter
}

// Adapter is a storage backend. Begin opens the transaction that serves
// exactly one request.
type Adapter interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a unit of work against a backend. Save and Delete are staged and
// become visible on Commit. Rollback discards staged changes and must be
// safe to call after Commit.
type Tx interface {
	// Query returns the resources of typename (including subtypes)
	// matching q. Unsupported filters raise UnfilterableField, unsupported
	// sort fields UnsortableField.
	Query(ctx context.Context, typename string, q Query) ([]any, error)

	// QuerySize returns the number of resources matching filters
	QuerySize(ctx context.Context, typename string, filters []Filter) (int, error)

	// GetMany loads every identified resource in one backend operation.
	// Missing resources are absent from the result.
	GetMany(ctx context.Context, ids []schema.Identifier) (map[schema.Identifier]any, error)

	// Save stages resources for insertion or update. Resources without
	// an id receive one on Commit.
	Save(ctx context.Context, resources ...any) error

	// Delete stages resources for removal
	Delete(ctx context.Context, resources ...any) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

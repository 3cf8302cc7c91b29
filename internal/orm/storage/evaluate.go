package storage

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/schema"
)

// Evaluator applies queries to live resources in memory. Backends without
// a query language of their own use it to implement Tx.Query.
type Evaluator struct {
	registry *schema.Registry
}

// NewEvaluator creates an evaluator for the types of registry
func NewEvaluator(registry *schema.Registry) *Evaluator {
	return &Evaluator{registry: registry}
}

// Apply filters, sorts and paginates resources
func (e *Evaluator) Apply(typename string, resources []any, q Query) ([]any, error) {
	matched, err := e.Filter(typename, resources, q.Filters)
	if err != nil {
		return nil, err
	}
	if err := e.Sort(typename, matched, q.Sort); err != nil {
		return nil, err
	}
	return Paginate(matched, q.Limit, q.Offset), nil
}

// Filter returns the resources satisfying every filter
func (e *Evaluator) Filter(typename string, resources []any, filters []Filter) ([]any, error) {
	if len(filters) == 0 {
		return resources, nil
	}

	matchers := make([]func(any) (bool, error), 0, len(filters))
	for _, f := range filters {
		m, err := e.compile(typename, f)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}

	out := make([]any, 0, len(resources))
next:
	for _, r := range resources {
		for _, m := range matchers {
			ok, err := m(r)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue next
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// Sort orders resources in place by the given criteria. Only "id" and
// attributes are sortable.
func (e *Evaluator) Sort(typename string, resources []any, criteria []Sort) error {
	if len(criteria) == 0 {
		return nil
	}

	getters := make([]func(any) any, len(criteria))
	for i, c := range criteria {
		get, ok := e.field(typename, c.Field)
		if !ok {
			return apierrors.UnsortableField(typename, c.Field)
		}
		getters[i] = get
	}

	sort.SliceStable(resources, func(i, j int) bool {
		for k, c := range criteria {
			cmp, ok := Compare(getters[k](resources[i]), getters[k](resources[j]))
			if !ok || cmp == 0 {
				continue
			}
			if c.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

// Paginate slices resources. A zero limit means no limit.
func Paginate(resources []any, limit, offset int) []any {
	if offset >= len(resources) {
		return []any{}
	}
	if offset > 0 {
		resources = resources[offset:]
	}
	if limit > 0 && limit < len(resources) {
		resources = resources[:limit]
	}
	return resources
}

// field returns a getter for "id" or an attribute. Resources of subtypes
// are read through their own type so subtype-only attributes resolve.
func (e *Evaluator) field(typename, name string) (func(any) any, bool) {
	rt, err := e.registry.Get(typename)
	if err != nil {
		return nil, false
	}
	if name == "id" {
		return func(r any) any { return e.typeOf(rt, r).ID(r) }, true
	}
	if _, ok := rt.Attribute(name); !ok {
		return nil, false
	}
	return func(r any) any {
		if attr, ok := e.typeOf(rt, r).Attribute(name); ok {
			return attr.Get(r)
		}
		return nil
	}, true
}

func (e *Evaluator) typeOf(fallback *schema.ResourceType, r any) *schema.ResourceType {
	if rt, err := e.registry.TypeOf(r); err == nil {
		return rt
	}
	return fallback
}

func (e *Evaluator) compile(typename string, f Filter) (func(any) (bool, error), error) {
	get, ok := e.field(typename, f.Field)
	if !ok {
		return nil, apierrors.UnfilterableField(typename, string(f.Op), f.Field)
	}
	bad := func(detail string) error {
		return apierrors.BadRequest(detail).WithParameter(fmt.Sprintf("filter[%s]", f.Field))
	}

	switch f.Op {
	case OpEq:
		return func(r any) (bool, error) { return Equal(get(r), f.Value), nil }, nil
	case OpNe:
		return func(r any) (bool, error) { return !Equal(get(r), f.Value), nil }, nil
	case OpLt, OpLte, OpGt, OpGte:
		return func(r any) (bool, error) {
			cmp, ok := Compare(get(r), f.Value)
			if !ok {
				return false, nil
			}
			switch f.Op {
			case OpLt:
				return cmp < 0, nil
			case OpLte:
				return cmp <= 0, nil
			case OpGt:
				return cmp > 0, nil
			default:
				return cmp >= 0, nil
			}
		}, nil
	case OpIn, OpNin:
		values, ok := f.Value.([]any)
		if !ok {
			return nil, bad(fmt.Sprintf("The '%s' filter expects an array.", f.Op))
		}
		return func(r any) (bool, error) {
			v := get(r)
			found := false
			for _, candidate := range values {
				if Equal(v, candidate) {
					found = true
					break
				}
			}
			return found == (f.Op == OpIn), nil
		}, nil
	case OpContains, OpIContains, OpStartsWith, OpIStartsWith, OpEndsWith, OpIEndsWith, OpIExact:
		needle, ok := f.Value.(string)
		if !ok {
			if f.Op == OpContains {
				return func(r any) (bool, error) { return containsElement(get(r), f.Value), nil }, nil
			}
			return nil, bad(fmt.Sprintf("The '%s' filter expects a string.", f.Op))
		}
		return func(r any) (bool, error) {
			v := get(r)
			s, ok := v.(string)
			if !ok {
				if f.Op == OpContains {
					return containsElement(v, needle), nil
				}
				return false, nil
			}
			return matchString(f.Op, s, needle), nil
		}, nil
	case OpExists:
		want, ok := f.Value.(bool)
		if !ok {
			return nil, bad("The 'exists' filter expects a boolean.")
		}
		return func(r any) (bool, error) { return !isEmpty(get(r)) == want, nil }, nil
	case OpMatch:
		pattern, ok := f.Value.(string)
		if !ok {
			return nil, bad("The 'match' filter expects a regular expression string.")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, bad(fmt.Sprintf("The pattern '%s' is not a valid regular expression.", pattern))
		}
		return func(r any) (bool, error) {
			s, ok := get(r).(string)
			return ok && re.MatchString(s), nil
		}, nil
	case OpAll:
		values, ok := f.Value.([]any)
		if !ok {
			return nil, bad("The 'all' filter expects an array.")
		}
		return func(r any) (bool, error) {
			v := get(r)
			for _, want := range values {
				if !containsElement(v, want) {
					return false, nil
				}
			}
			return true, nil
		}, nil
	case OpSize:
		want, ok := toFloat(f.Value)
		if !ok {
			return nil, bad("The 'size' filter expects a number.")
		}
		return func(r any) (bool, error) {
			n, ok := length(get(r))
			return ok && float64(n) == want, nil
		}, nil
	default:
		return nil, apierrors.UnfilterableField(typename, string(f.Op), f.Field)
	}
}

func matchString(op Operator, s, needle string) bool {
	switch op {
	case OpContains:
		return strings.Contains(s, needle)
	case OpIContains:
		return strings.Contains(strings.ToLower(s), strings.ToLower(needle))
	case OpStartsWith:
		return strings.HasPrefix(s, needle)
	case OpIStartsWith:
		return strings.HasPrefix(strings.ToLower(s), strings.ToLower(needle))
	case OpEndsWith:
		return strings.HasSuffix(s, needle)
	case OpIEndsWith:
		return strings.HasSuffix(strings.ToLower(s), strings.ToLower(needle))
	case OpIExact:
		return strings.EqualFold(s, needle)
	}
	return false
}

// Equal compares an attribute value with a decoded JSON value. Numbers
// compare by value regardless of their Go type.
func Equal(a, b any) bool {
	if cmp, ok := Compare(a, b); ok {
		return cmp == 0
	}
	if isEmpty(a) && b == nil {
		return true
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// Compare orders two scalar values. The second result is false when the
// values are not comparable.
func Compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), true
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), true
		}
		return 0, false
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0, true
			case !ba:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case string:
		t, err := time.Parse(time.RFC3339, x)
		return t, err == nil && !isNumeric(x)
	}
	return time.Time{}, false
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// normalize converts attribute values into their decoded JSON shape
func normalize(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func containsElement(collection, want any) bool {
	rv := reflect.ValueOf(collection)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if Equal(rv.Index(i).Interface(), want) {
			return true
		}
	}
	return false
}

func length(v any) (int, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return rv.Len(), true
	}
	return 0, false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/storage"
)

// fieldsPattern matches query parameters like fields[typename]
var fieldsPattern = regexp.MustCompile(`^fields\[([^\]]+)\]$`)

// filterPattern matches query parameters like filter[field]
var filterPattern = regexp.MustCompile(`^filter\[([^\]]+)\]$`)

// Include returns the include paths. Example: ?include=author,comments.author
// yields [["author"], ["comments", "author"]].
func (r *Request) Include() ([][]string, error) {
	if r.include != nil {
		return *r.include, nil
	}

	paths := [][]string{}
	for _, part := range strings.Split(r.Query().Get("include"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		path := strings.Split(part, ".")
		for _, name := range path {
			if name == "" {
				return nil, apierrors.BadRequest(
					fmt.Sprintf("The include path '%s' is malformed.", part)).WithParameter("include")
			}
		}
		paths = append(paths, path)
	}
	r.include = &paths
	return paths, nil
}

// Fields returns the sparse fieldsets keyed by typename.
// Example: ?fields[User]=name,email yields {"User": ["name", "email"]}.
// An empty value restricts the type to no fields at all.
func (r *Request) Fields() map[string][]string {
	if r.fieldsDone {
		return r.fields
	}

	result := make(map[string][]string)
	for key, values := range r.Query() {
		matches := fieldsPattern.FindStringSubmatch(key)
		if len(matches) != 2 {
			continue
		}

		fieldList := []string{}
		if len(values) > 0 {
			for _, field := range strings.Split(values[0], ",") {
				if trimmed := strings.TrimSpace(field); trimmed != "" {
					fieldList = append(fieldList, trimmed)
				}
			}
		}
		result[matches[1]] = fieldList
	}

	r.fields = result
	r.fieldsDone = true
	return result
}

// Sort returns the sort criteria. Example: ?sort=-views,title.
func (r *Request) Sort() []storage.Sort {
	if r.sort != nil {
		return *r.sort
	}

	criteria := []storage.Sort{}
	for _, part := range strings.Split(r.Query().Get("sort"), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			criteria = append(criteria, storage.ParseSort(trimmed))
		}
	}
	r.sort = &criteria
	return criteria
}

// Filters returns the filters in key order. Each value has the form
// <operator>:<json>, e.g. ?filter[name]=startswith:"Ho".
func (r *Request) Filters() ([]storage.Filter, error) {
	if r.filters != nil {
		return *r.filters, nil
	}

	keys := make([]string, 0)
	for key := range r.Query() {
		if filterPattern.MatchString(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	filters := make([]storage.Filter, 0, len(keys))
	for _, key := range keys {
		field := filterPattern.FindStringSubmatch(key)[1]
		f, err := parseFilter(field, r.Query().Get(key))
		if err != nil {
			return nil, err.WithParameter(key)
		}
		filters = append(filters, f)
	}

	r.filters = &filters
	return filters, nil
}

func parseFilter(field, raw string) (storage.Filter, *apierrors.Error) {
	name, value, found := strings.Cut(raw, ":")
	op, ok := storage.ParseOperator(name)
	if !found || !ok {
		return storage.Filter{}, apierrors.BadRequest(fmt.Sprintf("The filter '%s' does not exist.", name))
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(value)))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil || decoder.More() {
		return storage.Filter{}, apierrors.BadRequest(
			fmt.Sprintf("The value of the filter '%s' is not a JSON value.", name))
	}
	return storage.Filter{Field: field, Op: op, Value: decoded}, nil
}

// Page is a 1-based page of a collection
type Page struct {
	Number int
	Size   int
}

// Offset returns the index of the first resource on the page. Offsets
// past math.MaxInt saturate, which still selects an empty page.
func (p Page) Offset() int {
	if p.Number > 1 && p.Size > 0 && p.Number-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return p.Size * (p.Number - 1)
}

// Page returns the requested page, or nil when pagination is not active.
// Pagination requires both page[number] and page[size].
func (r *Request) Page() (*Page, error) {
	if r.pageDone {
		return r.page, nil
	}

	number, err := r.intParam("page[number]", 1)
	if err != nil {
		return nil, err
	}
	size, err := r.intParam("page[size]", 1)
	if err != nil {
		return nil, err
	}
	if size != nil && r.MaxPageSize > 0 && *size > r.MaxPageSize {
		return nil, apierrors.BadRequest(
			fmt.Sprintf("The 'page[size]' must be <= %d.", r.MaxPageSize)).WithParameter("page[size]")
	}

	if number != nil && size != nil {
		r.page = &Page{Number: *number, Size: *size}
	}
	r.pageDone = true
	return r.page, nil
}

type window struct {
	offset int
	limit  int
}

// Window returns the offset and limit of a collection query. The raw
// offset is relative to the start of the requested page and must stay
// inside it. A zero limit means unlimited.
func (r *Request) Window() (offset, limit int, err error) {
	if r.window != nil {
		return r.window.offset, r.window.limit, nil
	}

	page, err := r.Page()
	if err != nil {
		return 0, 0, err
	}

	rawOffset, err := r.intParam("offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if rawOffset != nil {
		offset = *rawOffset
		if page != nil && offset >= page.Size {
			return 0, 0, apierrors.BadRequest("The 'offset' must be less than the 'page[size]'.").
				WithParameter("offset")
		}
	}

	rawLimit, err := r.intParam("limit", 1)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case rawLimit != nil:
		limit = *rawLimit
	case page != nil:
		limit = page.Size
	}

	if page != nil {
		if start := page.Offset(); offset > math.MaxInt-start {
			offset = math.MaxInt
		} else {
			offset += start
		}
	}
	r.window = &window{offset: offset, limit: limit}
	return offset, limit, nil
}

// CollectionQuery assembles the collection query from the filter, sort and
// pagination directives
func (r *Request) CollectionQuery() (storage.Query, error) {
	filters, err := r.Filters()
	if err != nil {
		return storage.Query{}, err
	}
	offset, limit, err := r.Window()
	if err != nil {
		return storage.Query{}, err
	}
	return storage.Query{
		Sort:    r.Sort(),
		Filters: filters,
		Offset:  offset,
		Limit:   limit,
	}, nil
}

// intParam parses an optional integer parameter that must be >= min
func (r *Request) intParam(name string, min int) (*int, error) {
	values, ok := r.Query()[name]
	if !ok || len(values) == 0 {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		return nil, apierrors.BadRequest(fmt.Sprintf("The '%s' must be an integer.", name)).WithParameter(name)
	}
	if n < min {
		return nil, apierrors.BadRequest(fmt.Sprintf("The '%s' must be >= %d.", name, min)).WithParameter(name)
	}
	return &n, nil
}

// Package relationships resolves include paths and related resources
// through a storage Session
package relationships

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/japi/internal/orm/storage"
)

// DefaultMaxDepth is the longest include path a Resolver follows
const DefaultMaxDepth = 10

// Resolver walks relationship paths breadth-first. All relatives needed
// at one depth are fetched with a single Session.GetMany call, so the
// number of backend round trips is bounded by the longest path.
type Resolver struct {
	session  *storage.Session
	maxDepth int
	log      *zap.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMaxDepth limits the length of include paths. Zero disables the limit.
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) {
		r.maxDepth = depth
	}
}

// WithLogger sets the logger used for debug output
func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// NewResolver creates a resolver reading through session
func NewResolver(session *storage.Session, opts ...Option) *Resolver {
	r := &Resolver{
		session:  session,
		maxDepth: DefaultMaxDepth,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// includeTree merges include paths sharing a prefix. Each node holds the
// resources reached by following the path from the root to the node.
type includeTree struct {
	name     string
	path     []string
	children map[string]*includeTree
	current  []any
}

func newIncludeTree() *includeTree {
	return &includeTree{children: make(map[string]*includeTree)}
}

// insert adds a path to the tree
func (t *includeTree) insert(path []string) {
	node := t
	for i, name := range path {
		child, ok := node.children[name]
		if !ok {
			child = &includeTree{
				name:     name,
				path:     append([]string(nil), path[:i+1]...),
				children: make(map[string]*includeTree),
			}
			node.children[name] = child
		}
		node = child
	}
}

// sortedChildren returns the children ordered by name
func (t *includeTree) sortedChildren() []*includeTree {
	names := make([]string, 0, len(t.children))
	for name := range t.children {
		names = append(names, name)
	}
	sort.Strings(names)

	children := make([]*includeTree, len(names))
	for i, name := range names {
		children[i] = t.children[name]
	}
	return children
}

// String renders a path the way it appears in the include parameter
func pathString(path []string) string {
	return strings.Join(path, ".")
}

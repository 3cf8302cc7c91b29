package relationships

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/schema"
)

// Resolve follows every include path from roots and returns all resources
// touched on the way, keyed by their canonical Identifier. Paths sharing a
// prefix are walked once. Dangling references are skipped.
func (r *Resolver) Resolve(ctx context.Context, roots []any, paths [][]string) (map[schema.Identifier]any, error) {
	tree := newIncludeTree()
	for _, path := range paths {
		if len(path) == 0 {
			continue
		}
		if err := r.checkDepth(path); err != nil {
			return nil, err
		}
		tree.insert(path)
	}
	tree.current = roots

	registry := r.session.Registry()
	included := make(map[schema.Identifier]any)

	type step struct {
		node *includeTree
		ids  []schema.Identifier
	}

	level := []*includeTree{tree}
	for depth := 1; len(level) > 0; depth++ {
		var steps []step
		var union []schema.Identifier
		for _, parent := range level {
			for _, child := range parent.sortedChildren() {
				ids, err := r.relativeIDs(parent.current, child.name, child.path)
				if err != nil {
					return nil, err
				}
				steps = append(steps, step{node: child, ids: ids})
				union = append(union, ids...)
			}
		}
		if len(steps) == 0 {
			break
		}

		r.log.Debug("resolving includes", zap.Int("depth", depth), zap.Int("identifiers", len(union)))
		found, err := r.session.GetMany(ctx, union, false)
		if err != nil {
			return nil, err
		}

		level = level[:0]
		for _, s := range steps {
			s.node.current = make([]any, 0, len(s.ids))
			for _, id := range s.ids {
				resource, ok := found[id]
				if !ok {
					continue
				}
				s.node.current = append(s.node.current, resource)
				canonical, err := registry.IdentifierOf(resource)
				if err != nil {
					return nil, err
				}
				included[canonical] = resource
			}
			level = append(level, s.node)
		}
	}
	return included, nil
}

// relativeIDs collects the deduplicated identifiers related to resources
// through the relationship name. Every resource must define it.
func (r *Resolver) relativeIDs(resources []any, name string, path []string) ([]schema.Identifier, error) {
	registry := r.session.Registry()
	seen := make(map[schema.Identifier]bool)
	var ids []schema.Identifier
	for _, resource := range resources {
		rt, err := registry.TypeOf(resource)
		if err != nil {
			return nil, err
		}
		rel, ok := rt.Relationship(name)
		if !ok {
			return nil, apierrors.IncludePathNotFound(path)
		}
		relatives, err := registry.IdentifiersOf(rel.Relatives(resource))
		if err != nil {
			return nil, err
		}
		for _, id := range relatives {
			if id.ID == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Validate checks include paths against the declared relationship targets
// of typename without touching storage. A relationship counts as declared
// when the type or one of its subtypes defines it. Validation stops at a
// relationship without a fixed target.
func (r *Resolver) Validate(typename string, paths [][]string) error {
	registry := r.session.Registry()
	for _, path := range paths {
		if err := r.checkDepth(path); err != nil {
			return err
		}

		types := []string{typename}
		for i, name := range path {
			var next []string
			found, open := false, false
			for _, t := range types {
				for _, member := range registry.Family(t) {
					rt, err := registry.Get(member)
					if err != nil {
						return err
					}
					rel, ok := rt.Relationship(name)
					if !ok {
						continue
					}
					found = true
					if rel.Target == "" {
						open = true
						continue
					}
					next = append(next, rel.Target)
				}
			}
			if !found {
				return apierrors.IncludePathNotFound(path[:i+1])
			}
			if open {
				break
			}
			types = uniqueStrings(next)
		}
	}
	return nil
}

func (r *Resolver) checkDepth(path []string) error {
	if r.maxDepth > 0 && len(path) > r.maxDepth {
		return apierrors.BadRequest(fmt.Sprintf(
			"The include path '%s' exceeds the maximum depth of %d.", pathString(path), r.maxDepth,
		)).WithParameter("include")
	}
	return nil
}

// Related returns the resources linked to resource through the named
// relationship, in linkage order. Dangling references are skipped.
func (r *Resolver) Related(ctx context.Context, resource any, name string) ([]any, *schema.Relationship, error) {
	registry := r.session.Registry()
	rt, err := registry.TypeOf(resource)
	if err != nil {
		return nil, nil, err
	}
	rel, err := rt.MustRelationship(name)
	if err != nil {
		return nil, nil, err
	}

	ids, err := r.relativeIDs([]any{resource}, name, []string{name})
	if err != nil {
		return nil, nil, err
	}
	found, err := r.session.GetMany(ctx, ids, false)
	if err != nil {
		return nil, nil, err
	}

	related := make([]any, 0, len(ids))
	for _, id := range ids {
		if res, ok := found[id]; ok {
			related = append(related, res)
		}
	}
	return related, rel, nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

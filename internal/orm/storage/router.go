package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/conduit-lang/japi/internal/orm/schema"
)

// Router is an Adapter that dispatches each resource type to its own
// backend. Types without a route go to the fallback adapter.
type Router struct {
	registry *schema.Registry
	routes   map[string]Adapter
	fallback Adapter
}

// NewRouter creates a router. fallback may be nil, in which case every
// type must be routed explicitly.
func NewRouter(registry *schema.Registry, fallback Adapter) *Router {
	return &Router{
		registry: registry,
		routes:   make(map[string]Adapter),
		fallback: fallback,
	}
}

// Route sends typename and its subtypes to adapter
func (r *Router) Route(typename string, adapter Adapter) *Router {
	r.routes[typename] = adapter
	return r
}

// AdapterFor returns the backend serving typename. Subtypes inherit the
// route of their closest routed ancestor.
func (r *Router) AdapterFor(typename string) (Adapter, error) {
	for name := typename; name != ""; {
		if a, ok := r.routes[name]; ok {
			return a, nil
		}
		rt, err := r.registry.Get(name)
		if err != nil {
			break
		}
		name = rt.Extends
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("no storage adapter for type %s", typename)
	}
	return r.fallback, nil
}

// Begin opens a routed transaction. Backend transactions are opened
// lazily on first use.
func (r *Router) Begin(ctx context.Context) (Tx, error) {
	return &routerTx{
		router: r,
		txs:    make(map[Adapter]Tx),
	}, nil
}

type routerTx struct {
	router *Router
	txs    map[Adapter]Tx
	order  []Adapter
}

func (t *routerTx) txFor(ctx context.Context, typename string) (Tx, error) {
	adapter, err := t.router.AdapterFor(typename)
	if err != nil {
		return nil, err
	}
	if tx, ok := t.txs[adapter]; ok {
		return tx, nil
	}
	tx, err := adapter.Begin(ctx)
	if err != nil {
		return nil, err
	}
	t.txs[adapter] = tx
	t.order = append(t.order, adapter)
	return tx, nil
}

func (t *routerTx) Query(ctx context.Context, typename string, q Query) ([]any, error) {
	tx, err := t.txFor(ctx, typename)
	if err != nil {
		return nil, err
	}
	return tx.Query(ctx, typename, q)
}

func (t *routerTx) QuerySize(ctx context.Context, typename string, filters []Filter) (int, error) {
	tx, err := t.txFor(ctx, typename)
	if err != nil {
		return 0, err
	}
	return tx.QuerySize(ctx, typename, filters)
}

// GetMany issues one call per backend involved
func (t *routerTx) GetMany(ctx context.Context, ids []schema.Identifier) (map[schema.Identifier]any, error) {
	groups := make(map[Tx][]schema.Identifier)
	var order []Tx
	for _, id := range ids {
		tx, err := t.txFor(ctx, id.Type)
		if err != nil {
			return nil, err
		}
		if _, ok := groups[tx]; !ok {
			order = append(order, tx)
		}
		groups[tx] = append(groups[tx], id)
	}

	result := make(map[schema.Identifier]any, len(ids))
	for _, tx := range order {
		found, err := tx.GetMany(ctx, groups[tx])
		if err != nil {
			return nil, err
		}
		for id, r := range found {
			result[id] = r
		}
	}
	return result, nil
}

func (t *routerTx) Save(ctx context.Context, resources ...any) error {
	return t.each(ctx, resources, Tx.Save)
}

func (t *routerTx) Delete(ctx context.Context, resources ...any) error {
	return t.each(ctx, resources, Tx.Delete)
}

func (t *routerTx) each(ctx context.Context, resources []any, fn func(Tx, context.Context, ...any) error) error {
	for _, r := range resources {
		typename, err := t.router.registry.ResolveTypename(r)
		if err != nil {
			return err
		}
		tx, err := t.txFor(ctx, typename)
		if err != nil {
			return err
		}
		if err := fn(tx, ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Commit commits the backends in the order they were first used. A
// failure rolls back the backends that were not committed yet.
func (t *routerTx) Commit(ctx context.Context) error {
	for i, adapter := range t.order {
		if err := t.txs[adapter].Commit(ctx); err != nil {
			var errs []error
			errs = append(errs, err)
			for _, rest := range t.order[i+1:] {
				if rbErr := t.txs[rest].Rollback(ctx); rbErr != nil {
					errs = append(errs, rbErr)
				}
			}
			return errors.Join(errs...)
		}
	}
	return nil
}

func (t *routerTx) Rollback(ctx context.Context) error {
	var errs []error
	for _, adapter := range t.order {
		if err := t.txs[adapter].Rollback(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/japi/internal/apierrors"
	"github.com/conduit-lang/japi/internal/orm/schema"
)

// ErrSessionClosed is returned when a finished session is used
var ErrSessionClosed = errors.New("session already committed or rolled back")

// Stats counts the backend operations issued through a session
type Stats struct {
	Queries  int
	Counts   int
	Fetches  int
	Fetched  int
	CacheHit int
}

// Session wraps one backend transaction for the lifetime of a request. It
// keeps an identity cache so that every lookup of the same Identifier
// yields the same live resource, and batches lookups into GetMany calls.
type Session struct {
	registry *schema.Registry
	tx       Tx
	log      *zap.Logger
	cache    map[schema.Identifier]any
	saved    []any
	done     bool
	stats    Stats
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithLogger sets the logger used for debug output
func WithLogger(log *zap.Logger) SessionOption {
	return func(s *Session) {
		s.log = log
	}
}

// NewSession wraps an open transaction
func NewSession(registry *schema.Registry, tx Tx, opts ...SessionOption) *Session {
	s := &Session{
		registry: registry,
		tx:       tx,
		log:      zap.NewNop(),
		cache:    make(map[schema.Identifier]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open begins a transaction on adapter and wraps it in a Session
func Open(ctx context.Context, registry *schema.Registry, adapter Adapter, opts ...SessionOption) (*Session, error) {
	tx, err := adapter.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return NewSession(registry, tx, opts...), nil
}

// Registry returns the schema registry
func (s *Session) Registry() *schema.Registry {
	return s.registry
}

// Stats returns the operation counters
func (s *Session) Stats() Stats {
	return s.stats
}

// Cached returns the cached resource for id, if any
func (s *Session) Cached(id schema.Identifier) (any, bool) {
	r, ok := s.cache[id]
	return r, ok
}

// Adopt registers a live resource in the identity cache and returns the
// instance that now represents it.
func (s *Session) Adopt(resource any) (any, error) {
	id, err := s.registry.IdentifierOf(resource)
	if err != nil {
		return nil, err
	}
	return s.adopt(id, resource)
}

func (s *Session) adopt(requested schema.Identifier, resource any) (any, error) {
	canonical, err := s.registry.IdentifierOf(resource)
	if err != nil {
		return nil, err
	}
	if canonical.ID == "" {
		return resource, nil
	}
	if existing, ok := s.cache[canonical]; ok {
		resource = existing
	}
	s.cache[canonical] = resource
	s.cache[requested] = resource
	return resource, nil
}

// Query runs a collection query. Results go through the identity cache.
func (s *Session) Query(ctx context.Context, typename string, q Query) ([]any, error) {
	if s.done {
		return nil, ErrSessionClosed
	}
	s.stats.Queries++

	results, err := s.tx.Query(ctx, typename, q)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(results))
	for _, r := range results {
		adopted, err := s.Adopt(r)
		if err != nil {
			return nil, err
		}
		out = append(out, adopted)
	}
	return out, nil
}

// QuerySize counts the resources matching filters
func (s *Session) QuerySize(ctx context.Context, typename string, filters []Filter) (int, error) {
	if s.done {
		return 0, ErrSessionClosed
	}
	s.stats.Counts++
	return s.tx.QuerySize(ctx, typename, filters)
}

// Get loads a single resource. With required set a missing resource
// raises ResourceNotFound; otherwise it yields nil.
func (s *Session) Get(ctx context.Context, id schema.Identifier, required bool) (any, error) {
	found, err := s.GetMany(ctx, []schema.Identifier{id}, required)
	if err != nil {
		return nil, err
	}
	return found[id], nil
}

// GetMany loads every identified resource. Cached resources are served
// from the cache; the rest are fetched with a single backend call. With
// required set the first missing resource raises ResourceNotFound.
func (s *Session) GetMany(ctx context.Context, ids []schema.Identifier, required bool) (map[schema.Identifier]any, error) {
	if s.done {
		return nil, ErrSessionClosed
	}

	result := make(map[schema.Identifier]any, len(ids))
	var missing []schema.Identifier
	seen := make(map[schema.Identifier]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := s.cache[id]; ok {
			s.stats.CacheHit++
			result[id] = r
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		s.stats.Fetches++
		s.stats.Fetched += len(missing)
		s.log.Debug("fetching resources", zap.Int("count", len(missing)))

		fetched, err := s.tx.GetMany(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, id := range missing {
			r, ok := fetched[id]
			if !ok || r == nil {
				continue
			}
			adopted, err := s.adopt(id, r)
			if err != nil {
				return nil, err
			}
			result[id] = adopted
		}
	}

	if required {
		for _, id := range ids {
			if _, ok := result[id]; !ok {
				return nil, apierrors.ResourceNotFound(id.Type, id.ID)
			}
		}
	}
	return result, nil
}

// Save stages resources for persistence
func (s *Session) Save(ctx context.Context, resources ...any) error {
	if s.done {
		return ErrSessionClosed
	}
	if err := s.tx.Save(ctx, resources...); err != nil {
		return err
	}
	s.saved = append(s.saved, resources...)
	return nil
}

// Delete stages resources for removal and evicts them from the cache
func (s *Session) Delete(ctx context.Context, resources ...any) error {
	if s.done {
		return ErrSessionClosed
	}
	if err := s.tx.Delete(ctx, resources...); err != nil {
		return err
	}
	for _, r := range resources {
		if err := s.evict(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) evict(resource any) error {
	rt, err := s.registry.TypeOf(resource)
	if err != nil {
		return err
	}
	id := rt.ID(resource)
	for name := rt.Name; name != ""; {
		delete(s.cache, schema.Identifier{Type: name, ID: id})
		parent, err := s.registry.Get(name)
		if err != nil {
			break
		}
		name = parent.Extends
	}
	return nil
}

// Commit persists all staged changes. A cancelled context rolls the
// transaction back instead.
func (s *Session) Commit(ctx context.Context) error {
	if s.done {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		if rbErr := s.Rollback(ctx); rbErr != nil {
			s.log.Warn("rollback failed", zap.Error(rbErr))
		}
		return fmt.Errorf("commit aborted: %w", err)
	}

	s.done = true
	if err := s.tx.Commit(ctx); err != nil {
		return err
	}

	// Saved resources may only now have an id.
	for _, r := range s.saved {
		if _, err := s.Adopt(r); err != nil {
			return err
		}
	}
	s.saved = nil
	return nil
}

// Rollback discards the transaction. It is a no-op after Commit.
func (s *Session) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Rollback(context.WithoutCancel(ctx))
}

// Close releases the session, rolling back if it was not committed
func (s *Session) Close(ctx context.Context) {
	if err := s.Rollback(ctx); err != nil {
		s.log.Warn("rollback failed", zap.Error(err))
	}
}

// Done reports whether the session was committed or rolled back
func (s *Session) Done() bool {
	return s.done
}

// Package memory is the reference storage adapter. It keeps JSON
// snapshots of every resource in process memory, so each transaction works
// on its own live copies and staged changes stay invisible until Commit.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/orm/storage"
)

type record struct {
	seq  uint64
	data []byte
}

// Store is an in-memory storage.Adapter
type Store struct {
	registry  *schema.Registry
	evaluator *storage.Evaluator
	newID     func() string

	mu      sync.RWMutex
	records map[string]map[string]*record // typename -> id -> record
	seq     uint64
}

// Option configures a Store
type Option func(*Store)

// WithIDGenerator replaces the uuid generator used for new resources
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// New creates an empty store for the types of registry
func New(registry *schema.Registry, opts ...Option) *Store {
	s := &Store{
		registry:  registry,
		evaluator: storage.NewEvaluator(registry),
		newID:     func() string { return uuid.New().String() },
		records:   make(map[string]map[string]*record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin implements storage.Adapter
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	return &tx{store: s}, nil
}

// Len returns the number of stored resources of typename, excluding
// subtypes.
func (s *Store) Len(typename string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[typename])
}

// load materializes the stored resources of the given types, ordered by
// insertion.
func (s *Store) load(typenames []string) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		typename string
		rec      *record
	}
	var entries []entry
	for _, name := range typenames {
		for _, rec := range s.records[name] {
			entries = append(entries, entry{name, rec})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rec.seq < entries[j].rec.seq })

	out := make([]any, 0, len(entries))
	for _, e := range entries {
		r, err := s.materialize(e.typename, e.rec.data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) materialize(typename string, data []byte) (any, error) {
	rt, err := s.registry.Get(typename)
	if err != nil {
		return nil, err
	}
	r := rt.New()
	if reflect.ValueOf(r).Kind() != reflect.Ptr {
		return nil, fmt.Errorf("memory: resources of type %s must be pointers, got %T", typename, r)
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("memory: failed to decode %s: %w", typename, err)
	}
	return r, nil
}

type tx struct {
	store   *Store
	saves   []any
	deletes []any
	done    bool
}

func (t *tx) Query(ctx context.Context, typename string, q storage.Query) ([]any, error) {
	resources, err := t.store.load(t.store.registry.Family(typename))
	if err != nil {
		return nil, err
	}
	return t.store.evaluator.Apply(typename, resources, q)
}

func (t *tx) QuerySize(ctx context.Context, typename string, filters []storage.Filter) (int, error) {
	resources, err := t.store.load(t.store.registry.Family(typename))
	if err != nil {
		return 0, err
	}
	matched, err := t.store.evaluator.Filter(typename, resources, filters)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// GetMany looks each id up under its type and then under its subtypes
func (t *tx) GetMany(ctx context.Context, ids []schema.Identifier) (map[schema.Identifier]any, error) {
	s := t.store
	s.mu.RLock()
	type hit struct {
		typename string
		data     []byte
	}
	hits := make(map[schema.Identifier]hit, len(ids))
	for _, id := range ids {
		for _, name := range s.registry.Family(id.Type) {
			if rec, ok := s.records[name][id.ID]; ok {
				hits[id] = hit{name, rec.data}
				break
			}
		}
	}
	s.mu.RUnlock()

	result := make(map[schema.Identifier]any, len(hits))
	for id, h := range hits {
		r, err := s.materialize(h.typename, h.data)
		if err != nil {
			return nil, err
		}
		result[id] = r
	}
	return result, nil
}

func (t *tx) Save(ctx context.Context, resources ...any) error {
	if t.done {
		return storage.ErrSessionClosed
	}
	t.saves = append(t.saves, resources...)
	return nil
}

func (t *tx) Delete(ctx context.Context, resources ...any) error {
	if t.done {
		return storage.ErrSessionClosed
	}
	t.deletes = append(t.deletes, resources...)
	return nil
}

// Commit applies deletes, then saves, atomically with respect to other
// transactions.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return storage.ErrSessionClosed
	}
	t.done = true
	s := t.store

	type pending struct {
		typename string
		id       string
		data     []byte
	}
	saves := make([]pending, 0, len(t.saves))
	for _, r := range t.saves {
		rt, err := s.registry.TypeOf(r)
		if err != nil {
			return err
		}
		id := rt.ID(r)
		if id == "" {
			id = s.newID()
			if err := rt.SetID(r, id); err != nil {
				return err
			}
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("memory: failed to encode %s %s: %w", rt.Name, id, err)
		}
		saves = append(saves, pending{rt.Name, id, data})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range t.deletes {
		rt, err := s.registry.TypeOf(r)
		if err != nil {
			return err
		}
		delete(s.records[rt.Name], rt.ID(r))
	}
	for _, p := range saves {
		byID, ok := s.records[p.typename]
		if !ok {
			byID = make(map[string]*record)
			s.records[p.typename] = byID
		}
		if rec, ok := byID[p.id]; ok {
			rec.data = p.data
			continue
		}
		s.seq++
		byID[p.id] = &record{seq: s.seq, data: p.data}
	}

	t.saves, t.deletes = nil, nil
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	t.saves, t.deletes = nil, nil
	return nil
}

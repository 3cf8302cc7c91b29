// Package redisstore is a storage adapter that keeps resources as JSON
// values in Redis. Each type has a sorted set index ordered by insertion;
// queries are evaluated in process.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/orm/storage"
)

// Config holds Redis-specific configuration
type Config struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// DB is the Redis database number
	DB int
	// Prefix namespaces every key written by the store
	Prefix string
}

// DefaultConfig returns a default Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:   "localhost:6379",
		DB:     0,
		Prefix: "japi:",
	}
}

// Store is a Redis-backed storage.Adapter
type Store struct {
	client    *redis.Client
	registry  *schema.Registry
	evaluator *storage.Evaluator
	prefix    string
	newID     func() string
}

// New connects to Redis and verifies the connection
func New(registry *schema.Registry, config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: failed to connect to %s: %w", config.Addr, err)
	}

	return NewWithClient(registry, client, config.Prefix), nil
}

// NewWithClient creates a store on an existing client
func NewWithClient(registry *schema.Registry, client *redis.Client, prefix string) *Store {
	return &Store{
		client:    client,
		registry:  registry,
		evaluator: storage.NewEvaluator(registry),
		prefix:    prefix,
		newID:     func() string { return uuid.New().String() },
	}
}

// Close closes the client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(typename, id string) string {
	return s.prefix + typename + ":" + id
}

func (s *Store) indexKey(typename string) string {
	return s.prefix + typename + ":_index"
}

func (s *Store) seqKey() string {
	return s.prefix + "_seq"
}

// Begin implements storage.Adapter
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	return &tx{store: s}, nil
}

type located struct {
	typename string
	id       string
	score    float64
}

// scan lists the members of the type indexes of typenames
func (s *Store) scan(ctx context.Context, typenames []string) ([]located, error) {
	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, name := range typenames {
			pipe.ZRangeWithScores(ctx, s.indexKey(name), 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to scan indexes: %w", err)
	}

	var out []located
	for i, cmd := range cmds {
		members, err := cmd.(*redis.ZSliceCmd).Result()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			out = append(out, located{typename: typenames[i], id: fmt.Sprint(m.Member), score: m.Score})
		}
	}
	return out, nil
}

// fetch loads the JSON values of the located resources with one MGET and
// materializes them. Missing values yield nil entries.
func (s *Store) fetch(ctx context.Context, items []located) ([]any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = s.key(item.typename, item.id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to load resources: %w", err)
	}

	out := make([]any, len(items))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		r, err := s.materialize(items[i].typename, raw)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (s *Store) materialize(typename, raw string) (any, error) {
	rt, err := s.registry.Get(typename)
	if err != nil {
		return nil, err
	}
	r := rt.New()
	if reflect.ValueOf(r).Kind() != reflect.Ptr {
		return nil, fmt.Errorf("redis: resources of type %s must be pointers, got %T", typename, r)
	}
	if err := json.Unmarshal([]byte(raw), r); err != nil {
		return nil, fmt.Errorf("redis: failed to decode %s: %w", typename, err)
	}
	return r, nil
}

func (s *Store) load(ctx context.Context, typename string) ([]any, error) {
	items, err := s.scan(ctx, s.registry.Family(typename))
	if err != nil {
		return nil, err
	}
	sortByScore(items)
	resources, err := s.fetch(ctx, items)
	if err != nil {
		return nil, err
	}
	out := resources[:0]
	for _, r := range resources {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func sortByScore(items []located) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].score < items[j].score })
}

type tx struct {
	store   *Store
	saves   []any
	deletes []any
	done    bool
}

func (t *tx) Query(ctx context.Context, typename string, q storage.Query) ([]any, error) {
	resources, err := t.store.load(ctx, typename)
	if err != nil {
		return nil, err
	}
	return t.store.evaluator.Apply(typename, resources, q)
}

func (t *tx) QuerySize(ctx context.Context, typename string, filters []storage.Filter) (int, error) {
	s := t.store
	if len(filters) == 0 {
		cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, name := range s.registry.Family(typename) {
				pipe.ZCard(ctx, s.indexKey(name))
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("redis: failed to count %s: %w", typename, err)
		}
		total := 0
		for _, cmd := range cmds {
			total += int(cmd.(*redis.IntCmd).Val())
		}
		return total, nil
	}

	resources, err := s.load(ctx, typename)
	if err != nil {
		return 0, err
	}
	matched, err := s.evaluator.Filter(typename, resources, filters)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// GetMany probes every id under its type and its subtypes with a single
// MGET.
func (t *tx) GetMany(ctx context.Context, ids []schema.Identifier) (map[schema.Identifier]any, error) {
	s := t.store
	var (
		items  []located
		owners []schema.Identifier
	)
	for _, id := range ids {
		for _, name := range s.registry.Family(id.Type) {
			items = append(items, located{typename: name, id: id.ID})
			owners = append(owners, id)
		}
	}

	resources, err := s.fetch(ctx, items)
	if err != nil {
		return nil, err
	}

	result := make(map[schema.Identifier]any, len(ids))
	for i, r := range resources {
		if r == nil {
			continue
		}
		if _, taken := result[owners[i]]; !taken {
			result[owners[i]] = r
		}
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

// Commit writes all staged changes in one MULTI/EXEC block
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
			return fmt.Errorf("redis: failed to encode %s %s: %w", rt.Name, id, err)
		}
		saves = append(saves, pending{rt.Name, id, data})
	}

	var base int64
	if len(saves) > 0 {
		var err error
		base, err = s.client.IncrBy(ctx, s.seqKey(), int64(len(saves))).Result()
		if err != nil {
			return fmt.Errorf("redis: failed to allocate sequence: %w", err)
		}
		base -= int64(len(saves))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range t.deletes {
			rt, err := s.registry.TypeOf(r)
			if err != nil {
				return err
			}
			id := rt.ID(r)
			pipe.Del(ctx, s.key(rt.Name, id))
			pipe.ZRem(ctx, s.indexKey(rt.Name), id)
		}
		for i, p := range saves {
			pipe.Set(ctx, s.key(p.typename, p.id), p.data, 0)
			pipe.ZAddNX(ctx, s.indexKey(p.typename), redis.Z{
				Score:  float64(base + int64(i) + 1),
				Member: p.id,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: commit failed: %w", err)
	}

	t.saves, t.deletes = nil, nil
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	t.saves, t.deletes = nil, nil
	return nil
}

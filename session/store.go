// Package session holds the tab-scoped flag that keeps the beacon from
// firing more than once per browsing session.
package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Flag key and value written once a session has been tracked.
const (
	TrackedKey   = "tracked"
	TrackedValue = "1"
)

// Store is a minimal key-value capability. Get reports whether the key is
// present; an error means the store itself could not be read.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// MemoryStore keeps values in process memory. Entries expire after the TTL
// and the least recently used are evicted once the size bound is reached.
type MemoryStore struct {
	values *expirable.LRU[string, string]
}

// NewMemoryStore creates a store of at most size entries, each living for
// ttl. A zero size is unbounded and a zero ttl never expires.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{values: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := m.values.Get(key)
	return value, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.values.Add(key, value)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	return m.values.Len()
}

type scopedStore struct {
	store  Store
	prefix string
}

// Scoped returns a Store whose keys live under scope, so one backing store
// can hold the flags of many browsing sessions.
func Scoped(store Store, scope string) Store {
	return &scopedStore{store: store, prefix: scope + ":"}
}

func (s *scopedStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.store.Get(ctx, s.prefix+key)
}

func (s *scopedStore) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.prefix+key, value)
}

// Session is one browsing session's view of the flag store.
type Session struct {
	id    string
	store Store
}

// New binds id to a store. The store is used as given; callers sharing a
// backing store across sessions wrap it with Scoped.
func New(id string, store Store) *Session {
	return &Session{id: id, store: store}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Tracked reports whether the flag is present.
func (s *Session) Tracked(ctx context.Context) (bool, error) {
	_, ok, err := s.store.Get(ctx, TrackedKey)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// MarkTracked sets the flag.
func (s *Session) MarkTracked(ctx context.Context) error {
	return s.store.Set(ctx, TrackedKey, TrackedValue)
}

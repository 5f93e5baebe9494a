// Package docstore is the mock backend's document store: named collections
// of JSON records held in memory and written through to a persistence slot
// as one snapshot after every mutation.
package docstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"propmock/internal/domain/eventbus"
	"propmock/internal/domain/query"
	"propmock/internal/platform/logging"
	"propmock/internal/platform/storage"
)

var (
	ErrNotFound  = errors.New("docstore: record not found")
	ErrConflict  = errors.New("docstore: record id already exists")
	ErrInvalidID = errors.New("docstore: record id must be a non-empty string")
)

// DefaultKey is the slot key holding the serialized store.
const DefaultKey = "propmock:store"

// Record is a single JSON document. Every record has a string "id".
type Record = map[string]any

// Collection is an ordered list of records of one kind.
type Collection []Record

// Snapshot is the whole store keyed by collection name.
type Snapshot map[string]Collection

// Mutation is the result of add, update and remove: the affected record and
// the store state after the change.
type Mutation struct {
	Record Record
	State  Snapshot
}

type Options struct {
	Slot   storage.Slot
	Key    string
	Seed   Snapshot
	Logger logging.Interface
	Bus    *eventbus.Bus
	NewID  func() string
}

// Store is safe for concurrent use. Each operation runs atomically under one
// lock, persistence included, and the last write wins.
type Store struct {
	mu     sync.Mutex
	slot   storage.Slot
	key    string
	seed   Snapshot
	data   Snapshot
	loaded bool

	logger logging.Interface
	bus    *eventbus.Bus
	newID  func() string
}

func New(opts Options) *Store {
	s := &Store{
		slot:   opts.Slot,
		key:    opts.Key,
		seed:   opts.Seed,
		logger: opts.Logger,
		bus:    opts.Bus,
		newID:  opts.NewID,
	}
	if s.slot == nil {
		s.slot = storage.NewMemory()
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.seed == nil {
		s.seed = DefaultSeed()
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Load returns the store, reading the slot on first use. A missing or
// unreadable slot installs the seed dataset. Later calls return the cached
// state without touching the slot.
func (s *Store) Load(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)
	return s.data.clone()
}

// Reset overwrites memory and slot with the seed dataset.
func (s *Store) Reset(ctx context.Context) Snapshot {
	s.mu.Lock()
	s.data = s.seed.clone()
	s.loaded = true
	s.persist(ctx)
	out := s.data.clone()
	s.mu.Unlock()

	s.logger.Info("store reset to seed (%d collections)", len(out))
	s.bus.Publish(eventbus.TopicStoreReset, nil)
	return out
}

// Collection returns a copy of the named collection, empty when absent.
func (s *Store) Collection(ctx context.Context, name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)
	out := s.data[name].clone()
	if out == nil {
		out = Collection{}
	}
	return out
}

// Get returns a copy of the record with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, name, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)
	i := s.data[name].index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	return cloneRecord(s.data[name][i]), nil
}

// Query returns copies of the records in name that match filter, in
// collection order.
func (s *Store) Query(ctx context.Context, name string, filter query.Filter) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)
	matched := Collection(query.Apply(s.data[name], filter))
	out := matched.clone()
	if out == nil {
		out = Collection{}
	}
	return out
}

// Add appends rec to name, assigning a fresh id when rec has none.
func (s *Store) Add(ctx context.Context, name string, rec Record) (Mutation, error) {
	rec = cloneRecord(rec)
	if rec == nil {
		rec = Record{}
	}
	switch id := rec["id"].(type) {
	case nil:
		rec["id"] = s.newID()
	case string:
		if id == "" {
			rec["id"] = s.newID()
		}
	default:
		return Mutation{}, ErrInvalidID
	}
	id := rec["id"].(string)

	s.mu.Lock()
	s.ensureLoaded(ctx)
	if s.data[name].index(id) >= 0 {
		s.mu.Unlock()
		return Mutation{}, ErrConflict
	}
	s.data[name] = append(s.data[name], rec)
	m := s.commit(ctx, rec)
	s.mu.Unlock()

	s.changed(name, "add", id)
	return m, nil
}

// Update shallow-merges patch onto the record with id. The id itself never
// changes.
func (s *Store) Update(ctx context.Context, name, id string, patch Record) (Mutation, error) {
	patch = cloneRecord(patch)

	s.mu.Lock()
	s.ensureLoaded(ctx)
	coll := s.data[name]
	i := coll.index(id)
	if i < 0 {
		s.mu.Unlock()
		return Mutation{}, ErrNotFound
	}
	merged := cloneRecord(coll[i])
	for k, v := range patch {
		if k == "id" {
			continue
		}
		merged[k] = v
	}
	next := coll.clone()
	next[i] = merged
	s.data[name] = next
	m := s.commit(ctx, merged)
	s.mu.Unlock()

	s.changed(name, "update", id)
	return m, nil
}

// Remove deletes the record with id.
func (s *Store) Remove(ctx context.Context, name, id string) (Mutation, error) {
	s.mu.Lock()
	s.ensureLoaded(ctx)
	coll := s.data[name]
	i := coll.index(id)
	if i < 0 {
		s.mu.Unlock()
		return Mutation{}, ErrNotFound
	}
	removed := coll[i]
	next := make(Collection, 0, len(coll)-1)
	next = append(next, coll[:i]...)
	next = append(next, coll[i+1:]...)
	s.data[name] = next
	m := s.commit(ctx, removed)
	s.mu.Unlock()

	s.changed(name, "remove", id)
	return m, nil
}

// Collections lists collection names in sorted order.
func (s *Store) Collections(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the record count per collection.
func (s *Store) Stats(ctx context.Context) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)
	out := make(map[string]int, len(s.data))
	for name, coll := range s.data {
		out[name] = len(coll)
	}
	return out
}

// ensureLoaded must be called with mu held.
func (s *Store) ensureLoaded(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true

	raw, err := s.slot.Load(ctx, s.key)
	switch {
	case err == nil:
		snap, decodeErr := DecodeSnapshot(raw)
		if decodeErr == nil {
			s.data = snap
			return
		}
		s.logger.Warn("persisted store is corrupt, falling back to seed: %v", decodeErr)
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("no persisted store under %q, installing seed", s.key)
	default:
		s.logger.Warn("failed to read persisted store, falling back to seed: %v", err)
	}
	s.data = s.seed.clone()
	s.persist(ctx)
}

// persist must be called with mu held. Started writes are not cancelled by
// the caller's context.
func (s *Store) persist(ctx context.Context) {
	raw, err := EncodeSnapshot(s.data)
	if err != nil {
		s.logger.Error("failed to encode store: %v", err)
		return
	}
	if err := s.slot.Save(context.WithoutCancel(ctx), s.key, raw); err != nil {
		s.logger.Error("failed to persist store: %v", err)
	}
}

func (s *Store) commit(ctx context.Context, rec Record) Mutation {
	s.persist(ctx)
	return Mutation{Record: cloneRecord(rec), State: s.data.clone()}
}

func (s *Store) changed(collection, action, id string) {
	s.logger.Debug("%s %s/%s", action, collection, id)
	s.bus.Publish(eventbus.TopicStoreChanged, eventbus.StoreEventData{Collection: collection, Action: action, ID: id})
}

func (c Collection) index(id string) int {
	for i, rec := range c {
		if rid, ok := rec["id"].(string); ok && rid == id {
			return i
		}
	}
	return -1
}

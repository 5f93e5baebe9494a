package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propmock/internal/domain/eventbus"
	"propmock/internal/domain/query"
	"propmock/internal/platform/storage"
)

func testSeed() Snapshot {
	return Snapshot{
		"users": {
			{"id": "u1", "email": "demo@x.io", "role": "owner"},
			{"id": "u2", "email": "m@x.io", "role": "manager"},
		},
		"properties": {
			{"id": "p1", "city": "Austin", "rent": 1200.0, "ownerId": "u1"},
			{"id": "p2", "city": "Dallas", "rent": 2100.0, "ownerId": "u1"},
		},
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("gen-%d", n)
	}
}

func newStore(t *testing.T, slot storage.Slot) *Store {
	t.Helper()
	if slot == nil {
		slot = storage.NewMemory()
	}
	return New(Options{Slot: slot, Seed: testSeed(), NewID: sequentialIDs()})
}

type failingSlot struct {
	loadErr error
	saveErr error
	saves   int
}

func (f *failingSlot) Load(context.Context, string) ([]byte, error) { return nil, f.loadErr }
func (f *failingSlot) Save(context.Context, string, []byte) error {
	f.saves++
	return f.saveErr
}
func (f *failingSlot) Delete(context.Context, string) error { return nil }
func (f *failingSlot) Close(context.Context) error          { return nil }

func TestLoadInstallsAndPersistsSeed(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemory()
	s := newStore(t, slot)

	snap := s.Load(ctx)
	assert.Equal(t, testSeed(), snap)

	raw, err := slot.Load(ctx, DefaultKey)
	require.NoError(t, err)
	persisted, err := DecodeSnapshot(raw)
	require.NoError(t, err)
	assert.Equal(t, testSeed(), persisted)
}

func TestLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	slot := &countingSlot{Slot: storage.NewMemory()}
	s := newStore(t, slot)

	first, err := EncodeSnapshot(s.Load(ctx))
	require.NoError(t, err)
	second, err := EncodeSnapshot(s.Load(ctx))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, slot.loads)
}

type countingSlot struct {
	storage.Slot
	loads int
}

func (c *countingSlot) Load(ctx context.Context, key string) ([]byte, error) {
	c.loads++
	return c.Slot.Load(ctx, key)
}

func TestLoadReadsPersistedState(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemory()
	require.NoError(t, slot.Save(ctx, DefaultKey, []byte(`{"users":[{"id":"x9","role":"tenant"}],"empty":null}`)))

	s := newStore(t, slot)
	snap := s.Load(ctx)
	assert.Equal(t, Collection{{"id": "x9", "role": "tenant"}}, snap["users"])
	assert.Equal(t, Collection{}, snap["empty"])
}

func TestCorruptSlotFallsBackToSeed(t *testing.T) {
	ctx := context.Background()
	for name, payload := range map[string]string{
		"not json":   `{"users":[`,
		"null":       `null`,
		"missing id": `{"users":[{"email":"a"}]}`,
		"duplicate":  `{"users":[{"id":"u1"},{"id":"u1","email":"b"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			slot := storage.NewMemory()
			require.NoError(t, slot.Save(ctx, DefaultKey, []byte(payload)))
			s := newStore(t, slot)
			assert.Equal(t, testSeed(), s.Load(ctx))
		})
	}
}

func TestSlotFailuresAreNotSurfaced(t *testing.T) {
	ctx := context.Background()
	slot := &failingSlot{loadErr: errors.New("disk gone"), saveErr: errors.New("quota")}
	s := newStore(t, slot)

	assert.Equal(t, testSeed(), s.Load(ctx))
	m, err := s.Add(ctx, "users", Record{"email": "new@x.io"})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", m.Record["id"])
	assert.Equal(t, 2, slot.saves)
}

func TestResetRestoresSeed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	_, err := s.Add(ctx, "users", Record{"email": "x@x.io"})
	require.NoError(t, err)
	_, err = s.Remove(ctx, "properties", "p1")
	require.NoError(t, err)
	_, err = s.Add(ctx, "extra", Record{"id": "e1"})
	require.NoError(t, err)

	assert.Equal(t, testSeed(), s.Reset(ctx))
	for name, coll := range testSeed() {
		assert.Equal(t, coll, s.Query(ctx, name, nil))
	}
	assert.Equal(t, Collection{}, s.Collection(ctx, "extra"))
}

func TestCRUDRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	in := Record{"city": "Houston", "rent": 1500.0, "tags": []any{"pool"}}
	added, err := s.Add(ctx, "properties", in)
	require.NoError(t, err)
	id := added.Record["id"].(string)
	assert.Equal(t, "gen-1", id)
	assert.Len(t, added.State["properties"], 3)
	assert.NotContains(t, in, "id")

	got, err := s.Get(ctx, "properties", id)
	require.NoError(t, err)
	assert.Equal(t, Record{"id": id, "city": "Houston", "rent": 1500.0, "tags": []any{"pool"}}, got)

	updated, err := s.Update(ctx, "properties", id, Record{"rent": 1600.0, "id": "hijack", "status": "vacant"})
	require.NoError(t, err)
	assert.Equal(t, id, updated.Record["id"])

	got, err = s.Get(ctx, "properties", id)
	require.NoError(t, err)
	assert.Equal(t, Record{"id": id, "city": "Houston", "rent": 1600.0, "tags": []any{"pool"}, "status": "vacant"}, got)

	removed, err := s.Remove(ctx, "properties", id)
	require.NoError(t, err)
	assert.Len(t, removed.State["properties"], 2)

	_, err = s.Get(ctx, "properties", id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddKeepsCallerID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	m, err := s.Add(ctx, "properties", Record{"id": "p9"})
	require.NoError(t, err)
	assert.Equal(t, "p9", m.Record["id"])

	_, err = s.Add(ctx, "properties", Record{"id": "p9"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.Add(ctx, "properties", Record{"id": 12.0})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestAddUsesUUIDByDefault(t *testing.T) {
	s := New(Options{Seed: testSeed()})
	m, err := s.Add(context.Background(), "users", Record{})
	require.NoError(t, err)
	assert.Len(t, m.Record["id"], 36)
}

func TestMissingRecords(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	_, err := s.Get(ctx, "users", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update(ctx, "users", "nope", Record{"a": 1})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Remove(ctx, "nothing", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, Collection{}, s.Collection(ctx, "nothing"))
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New(Options{Seed: Snapshot{"props": {{"id": "a", "address": map[string]any{"city": "Austin"}}}}})

	coll := s.Collection(ctx, "props")
	coll[0]["address"].(map[string]any)["city"] = "Paris"
	coll[0]["extra"] = true

	got, err := s.Get(ctx, "props", "a")
	require.NoError(t, err)
	assert.Equal(t, Record{"id": "a", "address": map[string]any{"city": "Austin"}}, got)

	snap := s.Load(ctx)
	delete(snap, "props")
	assert.Len(t, s.Collection(ctx, "props"), 1)
}

func TestQueryDelegatesToFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, nil)

	got := s.Query(ctx, "properties", query.Filter{query.Gt("rent", 1500)})
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0]["id"])

	assert.Equal(t, Collection{}, s.Query(ctx, "properties", query.Filter{query.Eq("city", "Paris")}))
	assert.Len(t, s.Query(ctx, "properties", nil), 2)
}

func TestPersistenceAcrossInstances(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemory()

	first := newStore(t, slot)
	_, err := first.Add(ctx, "users", Record{"id": "u7", "role": "tenant"})
	require.NoError(t, err)

	second := newStore(t, slot)
	got, err := second.Get(ctx, "users", "u7")
	require.NoError(t, err)
	assert.Equal(t, "tenant", got["role"])
}

func TestCollectionsAndStats(t *testing.T) {
	s := newStore(t, nil)
	assert.Equal(t, []string{"properties", "users"}, s.Collections(context.Background()))
	assert.Equal(t, map[string]int{"properties": 2, "users": 2}, s.Stats(context.Background()))
}

func TestMutationsPublishEvents(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	var got []eventbus.Event
	require.NoError(t, bus.SubscribeAll(func(evt eventbus.Event) { got = append(got, evt) }))

	s := New(Options{Seed: testSeed(), Bus: bus, NewID: sequentialIDs()})
	_, err := s.Add(ctx, "users", Record{})
	require.NoError(t, err)
	_, err = s.Update(ctx, "users", "u1", Record{"name": "D"})
	require.NoError(t, err)
	_, err = s.Remove(ctx, "users", "u2")
	require.NoError(t, err)
	s.Reset(ctx)

	require.Len(t, got, 4)
	assert.Equal(t, eventbus.StoreEventData{Collection: "users", Action: "add", ID: "gen-1"}, got[0].Data)
	assert.Equal(t, eventbus.StoreEventData{Collection: "users", Action: "update", ID: "u1"}, got[1].Data)
	assert.Equal(t, eventbus.StoreEventData{Collection: "users", Action: "remove", ID: "u2"}, got[2].Data)
	assert.Equal(t, eventbus.TopicStoreReset, got[3].Topic)
}

func TestConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	s := New(Options{Seed: testSeed()})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Add(ctx, "messages", Record{"body": "hi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, s.Collection(ctx, "messages"), 50)
}

func TestDuplicateIDsAreRejected(t *testing.T) {
	ctx := context.Background()
	_, err := DecodeSnapshot([]byte(`{"units":[{"id":"a"},{"id":"b"},{"id":"a"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate id "a"`)

	// the same id may appear in different collections
	snap, err := DecodeSnapshot([]byte(`{"units":[{"id":"a"}],"leases":[{"id":"a"}]}`))
	require.NoError(t, err)
	assert.Len(t, snap, 2)

	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"users":[{"id":"u1"},{"id":"u1"}]}`), 0o644))
	_, err = LoadSeedFile(path)
	require.Error(t, err)

	// a slot holding duplicates is treated as corrupt, so remove then get
	// behaves as for a single record
	slot := storage.NewMemory()
	require.NoError(t, slot.Save(ctx, DefaultKey, []byte(`{"users":[{"id":"u1"},{"id":"u1"}]}`)))
	s := newStore(t, slot)
	_, err = s.Remove(ctx, "users", "u1")
	require.NoError(t, err)
	_, err = s.Get(ctx, "users", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDefaultSeed(t *testing.T) {
	seed := DefaultSeed()
	for _, name := range []string{"users", "properties", "leases", "payments", "maintenance", "messages", "notifications"} {
		assert.NotEmpty(t, seed[name], name)
	}
	assert.Equal(t, "demo@x.io", seed["users"][0]["email"])
	assert.Equal(t, "owner", seed["users"][0]["role"])
}

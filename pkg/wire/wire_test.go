package wire_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MgenGlder/docbind/pkg/bind"
	"github.com/MgenGlder/docbind/pkg/memstore"
	"github.com/MgenGlder/docbind/pkg/reactive"
	"github.com/MgenGlder/docbind/pkg/store"
	"github.com/MgenGlder/docbind/pkg/wire"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// startServer runs a wire server over a fresh store and returns a
// connected client.
func startServer(t *testing.T) (*memstore.Store, *wire.Client) {
	t.Helper()

	ms := memstore.New(nil)
	srv, err := wire.NewServer(&wire.ServerConfig{Store: ms})
	require.NoError(t, err)

	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	client, err := wire.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ms, client
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func TestNewServerValidation(t *testing.T) {
	srv, err := wire.NewServer(&wire.ServerConfig{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
	assert.Nil(t, srv)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := wire.Dial(ctx, "ws://127.0.0.1:1/v1/stream", nil)
	assert.Error(t, err)
}

func TestRemoteMutations(t *testing.T) {
	ms, client := startServer(t)
	col := client.Collection("notes")
	ctx := testCtx(t)

	t.Run("set then update", func(t *testing.T) {
		require.NoError(t, col.Set(ctx, "n1", map[string]any{"title": "first", "done": false}))
		require.NoError(t, col.Update(ctx, "n1", map[string]any{"done": true}))
	})

	t.Run("add returns server-generated id", func(t *testing.T) {
		id, err := col.Add(ctx, map[string]any{"title": "generated"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})

	t.Run("failed mutations report the store error", func(t *testing.T) {
		err := col.Update(ctx, "ghost", map[string]any{"x": 1})
		require.Error(t, err)
		assert.ErrorIs(t, err, wire.ErrRemote)
		assert.Contains(t, err.Error(), "not found")

		assert.ErrorIs(t, col.Delete(ctx, "ghost"), wire.ErrRemote)
	})

	t.Run("mutations land in the backing store", func(t *testing.T) {
		require.NoError(t, col.Delete(ctx, "n1"))
		assert.ErrorIs(t, ms.Collection("notes").Delete("n1"), memstore.ErrNotFound)
	})
}

func TestRemoteQuerySubscription(t *testing.T) {
	ms, client := startServer(t)
	backing := ms.Collection("tasks")

	require.NoError(t, backing.Set("t1", map[string]any{"pri": 1}))
	require.NoError(t, backing.Set("t2", map[string]any{"pri": 2}))

	var mu sync.Mutex
	var batches [][]store.Change
	batchCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(batches)
	}

	q := client.Collection("tasks").OrderBy("pri", true)
	unsub := q.Subscribe(
		func(changes []store.Change) {
			mu.Lock()
			batches = append(batches, changes)
			mu.Unlock()
		},
		func(err error) { t.Errorf("unexpected subscription error: %v", err) },
	)
	defer unsub()

	// Initial batch in server order.
	require.Eventually(t, func() bool { return batchCount() >= 1 }, waitFor, tick)
	mu.Lock()
	initial := batches[0]
	mu.Unlock()
	require.Len(t, initial, 2)
	assert.Equal(t, store.Added, initial[0].Kind)
	assert.Equal(t, "t2", initial[0].Doc.ID)
	assert.Equal(t, "t1", initial[1].Doc.ID)
	// JSON carries numbers as float64.
	assert.Equal(t, float64(2), initial[0].Doc.Data["pri"])

	// A backing-store mutation streams an incremental diff.
	require.NoError(t, backing.Set("t3", map[string]any{"pri": 3}))
	require.Eventually(t, func() bool { return batchCount() >= 2 }, waitFor, tick)
	mu.Lock()
	second := batches[1]
	mu.Unlock()
	require.Len(t, second, 1)
	assert.Equal(t, store.Added, second[0].Kind)
	assert.Equal(t, 0, second[0].NewIndex)
	assert.Equal(t, "t3", second[0].Doc.ID)

	// After unsubscribe nothing further arrives.
	unsub()
	require.NoError(t, backing.Set("t4", map[string]any{"pri": 4}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, batchCount())
}

func TestRemoteQueryFilterError(t *testing.T) {
	_, client := startServer(t)

	errs := make(chan error, 1)
	unsub := client.Collection("tasks").Where("pri", "~=", 1).Subscribe(
		func([]store.Change) { t.Error("unexpected change batch") },
		func(err error) { errs <- err },
	)
	defer unsub()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, wire.ErrRemote)
		assert.Contains(t, err.Error(), "unknown query operator")
	case <-time.After(waitFor):
		t.Fatal("no subscription error delivered")
	}
}

func TestRemoteDocSubscription(t *testing.T) {
	ms, client := startServer(t)
	backing := ms.Collection("profiles")
	require.NoError(t, backing.Set("p1", map[string]any{"name": "ada"}))

	var mu sync.Mutex
	var snaps []store.Snapshot
	snapCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps)
	}

	unsub := client.Collection("profiles").Doc("p1").Subscribe(
		func(snap store.Snapshot) {
			mu.Lock()
			snaps = append(snaps, snap)
			mu.Unlock()
		},
		func(err error) { t.Errorf("unexpected subscription error: %v", err) },
	)
	defer unsub()

	require.Eventually(t, func() bool { return snapCount() >= 1 }, waitFor, tick)
	mu.Lock()
	first := snaps[0]
	mu.Unlock()
	assert.True(t, first.Exists)
	assert.Equal(t, "ada", first.Data["name"])

	require.NoError(t, backing.Delete("p1"))
	require.Eventually(t, func() bool { return snapCount() >= 2 }, waitFor, tick)
	mu.Lock()
	last := snaps[len(snaps)-1]
	mu.Unlock()
	assert.False(t, last.Exists)
}

func TestCloseFailsSubscriptions(t *testing.T) {
	_, client := startServer(t)

	errs := make(chan error, 1)
	unsub := client.Collection("tasks").Query().Subscribe(
		func([]store.Change) {},
		func(err error) { errs <- err },
	)
	defer unsub()

	require.NoError(t, client.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, wire.ErrClosed)
	case <-time.After(waitFor):
		t.Fatal("no close error delivered")
	}

	_, err := client.Collection("tasks").Add(context.Background(), map[string]any{"n": 1})
	assert.ErrorIs(t, err, wire.ErrClosed)
}

// TestBinderOverWire drives the whole stack: a binding on the client
// side synced from the server's store across the websocket.
func TestBinderOverWire(t *testing.T) {
	ms, client := startServer(t)
	backing := ms.Collection("todos")

	require.NoError(t, backing.Set("t1", map[string]any{"title": "one", "pri": 1}))
	require.NoError(t, backing.Set("t2", map[string]any{"title": "two", "pri": 2}))

	registry := reactive.New()
	binder, err := bind.NewBinder(&bind.Config{Host: registry})
	require.NoError(t, err)
	defer binder.Close()

	q := client.Collection("todos").OrderBy("pri", false)
	bd, err := binder.Bind("todos", bind.QuerySource{Query: q})
	require.NoError(t, err)

	ctx := testCtx(t)
	val, err := bd.Await(ctx)
	require.NoError(t, err)
	seq := val.([]bind.Document)
	require.Len(t, seq, 2)
	assert.Equal(t, "t1", seq[0].ID)
	assert.Equal(t, "one", seq[0].Fields["title"])

	// A client-side mutation round-trips through the server and back
	// into the bound container.
	require.NoError(t, client.Collection("todos").Set(ctx, "t0", map[string]any{"title": "zero", "pri": 0}))
	require.Eventually(t, func() bool {
		v, ok := registry.Get("todos")
		if !ok {
			return false
		}
		cur := v.([]bind.Document)
		return len(cur) == 3 && cur[0].ID == "t0"
	}, waitFor, tick)
}

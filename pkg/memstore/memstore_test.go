package memstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MgenGlder/docbind/pkg/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// collector gathers asynchronous subscription callbacks.
type collector struct {
	mu      sync.Mutex
	batches [][]store.Change
	snaps   []store.Snapshot
	errs    []error
}

func (c *collector) onChanges(changes []store.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, changes)
}

func (c *collector) onSnapshot(snap store.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, snap)
}

func (c *collector) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *collector) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) snapCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func (c *collector) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func (c *collector) batch(i int) []store.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[i]
}

func (c *collector) lastSnap() store.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[len(c.snaps)-1]
}

func TestCollectionCRUD(t *testing.T) {
	s := New(nil)
	col := s.Collection("notes")

	t.Run("set and add", func(t *testing.T) {
		require.NoError(t, col.Set("n1", map[string]any{"title": "first"}))

		id, err := col.Add(map[string]any{"title": "generated"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})

	t.Run("update merges fields", func(t *testing.T) {
		require.NoError(t, col.Set("n2", map[string]any{"title": "a", "done": false}))
		require.NoError(t, col.Update("n2", map[string]any{"done": true}))

		c := &collector{}
		unsub := col.Doc("n2").Subscribe(c.onSnapshot, c.onError)
		defer unsub()

		require.Eventually(t, func() bool { return c.snapCount() >= 1 }, waitFor, tick)
		snap := c.lastSnap()
		assert.Equal(t, "a", snap.Data["title"])
		assert.Equal(t, true, snap.Data["done"])
	})

	t.Run("update absent document", func(t *testing.T) {
		err := col.Update("nope", map[string]any{"x": 1})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete absent document", func(t *testing.T) {
		assert.ErrorIs(t, col.Delete("nope"), ErrNotFound)
	})

	t.Run("empty names rejected", func(t *testing.T) {
		assert.ErrorIs(t, col.Set("", nil), ErrEmptyName)
		assert.ErrorIs(t, s.Collection("").Set("x", nil), ErrEmptyName)
		assert.ErrorIs(t, col.Update("", nil), ErrEmptyName)
		assert.ErrorIs(t, col.Delete(""), ErrEmptyName)
	})
}

func TestSetClonesData(t *testing.T) {
	s := New(nil)
	col := s.Collection("notes")

	data := map[string]any{"title": "original"}
	require.NoError(t, col.Set("n1", data))
	data["title"] = "mutated"

	c := &collector{}
	unsub := col.Doc("n1").Subscribe(c.onSnapshot, c.onError)
	defer unsub()

	require.Eventually(t, func() bool { return c.snapCount() >= 1 }, waitFor, tick)
	assert.Equal(t, "original", c.lastSnap().Data["title"])
}

func TestDocSubscribe(t *testing.T) {
	s := New(nil)
	col := s.Collection("notes")

	t.Run("absent document delivers exists false", func(t *testing.T) {
		c := &collector{}
		unsub := col.Doc("ghost").Subscribe(c.onSnapshot, c.onError)
		defer unsub()

		require.Eventually(t, func() bool { return c.snapCount() >= 1 }, waitFor, tick)
		snap := c.lastSnap()
		assert.Equal(t, "ghost", snap.ID)
		assert.False(t, snap.Exists)
	})

	t.Run("mutations stream snapshots in order", func(t *testing.T) {
		c := &collector{}
		unsub := col.Doc("n1").Subscribe(c.onSnapshot, c.onError)
		defer unsub()

		require.Eventually(t, func() bool { return c.snapCount() >= 1 }, waitFor, tick)

		require.NoError(t, col.Set("n1", map[string]any{"v": 1}))
		require.NoError(t, col.Set("n1", map[string]any{"v": 2}))
		require.NoError(t, col.Delete("n1"))

		require.Eventually(t, func() bool { return c.snapCount() >= 4 }, waitFor, tick)
		assert.False(t, c.lastSnap().Exists)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		c := &collector{}
		unsub := col.Doc("n2").Subscribe(c.onSnapshot, c.onError)

		require.Eventually(t, func() bool { return c.snapCount() >= 1 }, waitFor, tick)
		unsub()
		unsub() // second call is a no-op

		require.NoError(t, col.Set("n2", map[string]any{"v": 1}))
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, c.snapCount())
	})
}

func TestQuerySubscribe(t *testing.T) {
	s := New(nil)
	col := s.Collection("tasks")

	require.NoError(t, col.Set("t1", map[string]any{"pri": 1, "done": false}))
	require.NoError(t, col.Set("t2", map[string]any{"pri": 2, "done": false}))
	require.NoError(t, col.Set("t3", map[string]any{"pri": 3, "done": true}))

	t.Run("initial batch delivered even when empty", func(t *testing.T) {
		c := &collector{}
		unsub := col.Where("pri", OpGreater, 100).Subscribe(c.onChanges, c.onError)
		defer unsub()

		require.Eventually(t, func() bool { return c.batchCount() >= 1 }, waitFor, tick)
		assert.Empty(t, c.batch(0))
	})

	t.Run("initial batch lists matches as added in order", func(t *testing.T) {
		c := &collector{}
		unsub := col.Where("done", OpEqual, false).OrderBy("pri", true).Subscribe(c.onChanges, c.onError)
		defer unsub()

		require.Eventually(t, func() bool { return c.batchCount() >= 1 }, waitFor, tick)
		batch := c.batch(0)
		require.Len(t, batch, 2)
		assert.Equal(t, store.Added, batch[0].Kind)
		assert.Equal(t, "t2", batch[0].Doc.ID)
		assert.Equal(t, "t1", batch[1].Doc.ID)
	})

	t.Run("mutations produce incremental diffs", func(t *testing.T) {
		c := &collector{}
		unsub := col.Where("done", OpEqual, false).OrderBy("pri", false).Subscribe(c.onChanges, c.onError)
		defer unsub()

		require.Eventually(t, func() bool { return c.batchCount() >= 1 }, waitFor, tick)

		// Completing t1 drops it from the result set.
		require.NoError(t, col.Update("t1", map[string]any{"done": true}))
		require.Eventually(t, func() bool { return c.batchCount() >= 2 }, waitFor, tick)
		batch := c.batch(1)
		require.Len(t, batch, 1)
		assert.Equal(t, store.Removed, batch[0].Kind)
		assert.Equal(t, "t1", batch[0].Doc.ID)
		assert.Equal(t, 0, batch[0].OldIndex)

		// A new matching document arrives at its ordered position.
		require.NoError(t, col.Set("t0", map[string]any{"pri": 0, "done": false}))
		require.Eventually(t, func() bool { return c.batchCount() >= 3 }, waitFor, tick)
		batch = c.batch(2)
		require.Len(t, batch, 1)
		assert.Equal(t, store.Added, batch[0].Kind)
		assert.Equal(t, 0, batch[0].NewIndex)
	})

	t.Run("irrelevant mutations produce no batch", func(t *testing.T) {
		c := &collector{}
		unsub := col.Where("pri", OpGreaterEqual, 100).Subscribe(c.onChanges, c.onError)
		defer unsub()

		require.Eventually(t, func() bool { return c.batchCount() >= 1 }, waitFor, tick)
		require.NoError(t, col.Set("t9", map[string]any{"pri": 5, "done": false}))

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, c.batchCount())
	})

	t.Run("unknown operator surfaces through error callback", func(t *testing.T) {
		c := &collector{}
		unsub := col.Where("pri", "~=", 1).Subscribe(c.onChanges, c.onError)
		defer unsub()

		require.Eventually(t, func() bool { return c.errCount() >= 1 }, waitFor, tick)
		c.mu.Lock()
		defer c.mu.Unlock()
		assert.ErrorIs(t, c.errs[0], ErrUnknownOperator)
		assert.Empty(t, c.batches)
	})
}

func TestQueryOrderingAndLimit(t *testing.T) {
	s := New(nil)
	col := s.Collection("scores")

	require.NoError(t, col.Set("p1", map[string]any{"score": 30, "team": "red"}))
	require.NoError(t, col.Set("p2", map[string]any{"score": 10, "team": "blue"}))
	require.NoError(t, col.Set("p3", map[string]any{"score": 20, "team": "red"}))
	require.NoError(t, col.Set("p4", map[string]any{"score": 20, "team": "blue"}))

	subscribeOnce := func(t *testing.T, q *Query) []store.Change {
		t.Helper()
		c := &collector{}
		unsub := q.Subscribe(c.onChanges, c.onError)
		defer unsub()
		require.Eventually(t, func() bool { return c.batchCount() >= 1 }, waitFor, tick)
		return c.batch(0)
	}

	t.Run("default order is document id", func(t *testing.T) {
		batch := subscribeOnce(t, col.Query())
		ids := make([]string, len(batch))
		for i, ch := range batch {
			ids[i] = ch.Doc.ID
		}
		assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, ids)
	})

	t.Run("order by field with id tiebreaker", func(t *testing.T) {
		batch := subscribeOnce(t, col.OrderBy("score", false))
		ids := make([]string, len(batch))
		for i, ch := range batch {
			ids[i] = ch.Doc.ID
		}
		assert.Equal(t, []string{"p2", "p3", "p4", "p1"}, ids)
	})

	t.Run("descending with secondary key", func(t *testing.T) {
		batch := subscribeOnce(t, col.OrderBy("score", true).OrderBy("team", false))
		ids := make([]string, len(batch))
		for i, ch := range batch {
			ids[i] = ch.Doc.ID
		}
		assert.Equal(t, []string{"p1", "p4", "p3", "p2"}, ids)
	})

	t.Run("limit truncates", func(t *testing.T) {
		batch := subscribeOnce(t, col.OrderBy("score", true).Limit(2))
		require.Len(t, batch, 2)
		assert.Equal(t, "p1", batch[0].Doc.ID)
	})

	t.Run("filter composes with order", func(t *testing.T) {
		batch := subscribeOnce(t, col.Where("team", OpEqual, "red").OrderBy("score", false))
		require.Len(t, batch, 2)
		assert.Equal(t, "p3", batch[0].Doc.ID)
		assert.Equal(t, "p1", batch[1].Doc.ID)
	})

	t.Run("numeric comparison crosses int and float", func(t *testing.T) {
		batch := subscribeOnce(t, col.Where("score", OpGreater, 15.5))
		require.Len(t, batch, 3)
	})
}

func TestQueryBuilderValueSemantics(t *testing.T) {
	s := New(nil)
	col := s.Collection("tasks")
	require.NoError(t, col.Set("t1", map[string]any{"pri": 1}))
	require.NoError(t, col.Set("t2", map[string]any{"pri": 2}))

	base := col.OrderBy("pri", false)
	narrow := base.Where("pri", OpGreater, 1)

	c1, c2 := &collector{}, &collector{}
	u1 := base.Subscribe(c1.onChanges, c1.onError)
	defer u1()
	u2 := narrow.Subscribe(c2.onChanges, c2.onError)
	defer u2()

	require.Eventually(t, func() bool { return c1.batchCount() >= 1 && c2.batchCount() >= 1 }, waitFor, tick)
	assert.Len(t, c1.batch(0), 2)
	assert.Len(t, c2.batch(0), 1)
}

func TestAddGeneratesOrderedIDs(t *testing.T) {
	s := New(nil)
	col := s.Collection("events")

	first, err := col.Add(map[string]any{"n": 1})
	require.NoError(t, err)
	second, err := col.Add(map[string]any{"n": 2})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Less(t, first, second)
}

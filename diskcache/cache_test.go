package diskcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	added   []string
	removed []string
}

func (n *recordingNotifier) Added(key string)   { n.added = append(n.added, key) }
func (n *recordingNotifier) Removed(key string) { n.removed = append(n.removed, key) }

func newTestCache(t *testing.T, filesToEvict int, capacity int64) (*Cache, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	c, err := New(Options{
		Root:         t.TempDir(),
		FilesToEvict: filesToEvict,
		Capacity:     capacity,
	}, notifier)
	require.NoError(t, err)
	return c, notifier
}

// Scenario 1 from spec.md §8: local round-trip.
func TestLocalRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, 10, 100)

	require.NoError(t, c.Insert("hello", []byte("world")))

	f, err := c.Get("hello")
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Close()

	content, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "world", string(content))
	assert.EqualValues(t, 5, c.Size())
}

// Scenario 2 from spec.md §8: eviction ordering.
func TestEvictionOrdering(t *testing.T) {
	c, notifier := newTestCache(t, 3, 10)

	require.NoError(t, c.Insert("a", []byte("AAA")))
	require.NoError(t, c.Insert("b", []byte("BBB")))
	require.NoError(t, c.Insert("c", []byte("CCC")))

	c.Touch("a")

	require.NoError(t, c.Insert("d", []byte("DDDD")))

	_, err := os.Stat(c.path("a"))
	assert.NoError(t, err, "a should remain")
	_, err = os.Stat(c.path("d"))
	assert.NoError(t, err, "d should remain")
	_, err = os.Stat(c.path("b"))
	assert.True(t, os.IsNotExist(err), "b should have been evicted")
	_, err = os.Stat(c.path("c"))
	assert.True(t, os.IsNotExist(err), "c should have been evicted")

	assert.ElementsMatch(t, []string{"b", "c"}, notifier.removed)
	assert.Equal(t, []string{"a", "b", "c", "d"}, notifier.added)
}

// Scenario 6 from spec.md §8: idempotent re-add.
func TestIdempotentInsert(t *testing.T) {
	c, notifier := newTestCache(t, 10, 100)

	require.NoError(t, c.Insert("k", []byte("V1")))
	require.NoError(t, c.Insert("k", []byte("V2")))

	f, err := c.Get("k")
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Close()

	content, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "V1", string(content))
	assert.Equal(t, []string{"k"}, notifier.added, "second insert must not re-notify")
}

// Boundary: files_to_evict = 1 removes zero entries (1..1 is empty).
func TestFilesToEvictOneRemovesNothing(t *testing.T) {
	c, notifier := newTestCache(t, 2, 10)
	require.NoError(t, c.Insert("a", []byte("AAAAAAAAAA"))) // exactly at capacity

	c.filesToEvict = 1
	c.evict()

	assert.Empty(t, notifier.removed)
	assert.EqualValues(t, 10, c.Size())
}

// Boundary: an oversize blob is accepted after a single eviction pass,
// per spec.md §8's pinned capacity-bound choice.
func TestOversizeBlobAccepted(t *testing.T) {
	c, _ := newTestCache(t, 10, 10)
	require.NoError(t, c.Insert("big", make([]byte, 50)))
	assert.EqualValues(t, 50, c.Size())

	f, err := c.Get("big")
	require.NoError(t, err)
	require.NotNil(t, f)
	f.Close()
}

// Boundary: get on a key whose file was removed out-of-band returns
// absent, and the stale LRU entry lingers (spec.md §9 Open Question 2).
func TestGetAbsentAfterOutOfBandRemoval(t *testing.T) {
	c, _ := newTestCache(t, 10, 100)
	require.NoError(t, c.Insert("k", []byte("V")))
	require.NoError(t, os.Remove(c.path("k")))

	f, err := c.Get("k")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, c.lru.Contains("k"), "stale LRU entry should linger")
}

func TestGetAbsentKeyNeverInserted(t *testing.T) {
	c, _ := newTestCache(t, 10, 100)
	f, err := c.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestInsertRejectsInvalidKey(t *testing.T) {
	c, _ := newTestCache(t, 10, 100)
	assert.ErrorIs(t, c.Insert("", []byte("x")), ErrInvalidKey)
	assert.ErrorIs(t, c.Insert("a/b", []byte("x")), ErrInvalidKey)
}

func TestNewCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "cache")
	c, err := New(Options{Root: root, FilesToEvict: 2, Capacity: 10}, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	_, err = os.Stat(root)
	require.NoError(t, err)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Root: t.TempDir(), FilesToEvict: 1, Capacity: 10}, nil)
	assert.Error(t, err)
	_, err = New(Options{Root: t.TempDir(), FilesToEvict: 2, Capacity: 0}, nil)
	assert.Error(t, err)
}

// NotifierPanicSwallowed pins that a panicking notifier cannot surface as
// a cache error (spec.md §4.A: "notifier failures must not surface as
// cache errors").
type panickingNotifier struct{}

func (panickingNotifier) Added(string)   { panic("boom") }
func (panickingNotifier) Removed(string) { panic("boom") }

func TestNotifierPanicSwallowed(t *testing.T) {
	c, err := New(Options{Root: t.TempDir(), FilesToEvict: 2, Capacity: 100}, panickingNotifier{})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		require.NoError(t, c.Insert("k", []byte("v")))
	})
}

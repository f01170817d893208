package diskcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizedLRURecency(t *testing.T) {
	l := newSizedLRU()
	l.Insert("a", 1)
	l.Insert("b", 1)
	l.Insert("c", 1)

	l.Touch("a")

	key, _, ok := l.RemoveLRU()
	require.True(t, ok)
	assert.Equal(t, "b", key)

	key, _, ok = l.RemoveLRU()
	require.True(t, ok)
	assert.Equal(t, "c", key)

	key, _, ok = l.RemoveLRU()
	require.True(t, ok)
	assert.Equal(t, "a", key, "touched entry should be removed last")
}

func TestSizedLRUSizeAccounting(t *testing.T) {
	l := newSizedLRU()
	l.Insert("a", 3)
	l.Insert("b", 4)
	assert.EqualValues(t, 7, l.Size())

	l.RemoveLRU()
	assert.EqualValues(t, 4, l.Size())
}

func TestSizedLRUEmptyRemove(t *testing.T) {
	l := newSizedLRU()
	_, _, ok := l.RemoveLRU()
	assert.False(t, ok, "RemoveLRU on empty index should report ok=false")
}

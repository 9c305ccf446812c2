package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("one", 1))

	got, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = r.Get("two")
	assert.False(t, ok)
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("a", "x"))
	assert.Error(t, r.Register("a", "y"))
	assert.Error(t, r.Register("", "z"))

	got, _ := r.Get("a")
	assert.Equal(t, "x", got)
}

func TestReplaceSupersedes(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("a", "v1"))
	r.Replace("a", "v2")

	got, _ := r.Get("a")
	assert.Equal(t, "v2", got)
}

func TestNamesSorted(t *testing.T) {
	r := NewBaseRegistry[int]()
	for i, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(name, i))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
	assert.Equal(t, 3, r.Count())
}

func TestRemove(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Remove("a"))
	assert.Error(t, r.Remove("a"))
	assert.Equal(t, 0, r.Count())
}

func TestConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			r.Replace(string(rune('a'+n%26)), n)
		}(i)
		go func(n int) {
			defer wg.Done()
			r.Get(string(rune('a' + n%26)))
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, r.Count(), 26)
}

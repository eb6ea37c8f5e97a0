package coordinator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCoordinatorSharesInstancePerPath(t *testing.T) {
	path := "/t/" + t.Name()
	a := GetCoordinator(path)
	b := GetCoordinator(path)
	assert.Same(t, a, b)

	other := GetCoordinator(path + "-other")
	assert.NotSame(t, a, other)

	a.Release()
	b.Release()
	other.Release()
}

func TestCoordinatorRebornAfterLastRelease(t *testing.T) {
	path := "/t/" + t.Name()
	a := GetCoordinator(path)
	b := GetCoordinator(path)
	a.Release()
	b.Release()

	c := GetCoordinator(path)
	defer c.Release()
	assert.NotSame(t, a, c, "a released coordinator is never resurrected")
}

func TestConcurrentGetCoordinator(t *testing.T) {
	path := "/t/" + t.Name()
	const n = 16
	results := make([]*Coordinator, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = GetCoordinator(path)
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
	for _, c := range results {
		c.Release()
	}
}

func TestGetExistingCoordinator(t *testing.T) {
	path := "/t/" + t.Name()
	assert.Nil(t, GetExistingCoordinator(path))

	a := GetCoordinator(path)
	b := GetExistingCoordinator(path)
	require.NotNil(t, b)
	assert.Same(t, a, b)

	a.Release()
	b.Release()
	assert.Nil(t, GetExistingCoordinator(path))
}

func TestHandleKeepsCoordinatorAlive(t *testing.T) {
	path := "/t/" + t.Name()
	c := GetCoordinator(path)
	useNoopNotifier(c)

	h, err := c.GetHandle(memConfig(path))
	require.NoError(t, err)
	c.Release()

	// The handle's reference still pins the registry entry.
	existing := GetExistingCoordinator(path)
	require.NotNil(t, existing)
	assert.Same(t, c, existing)
	existing.Release()

	h.Close()
	assert.Nil(t, GetExistingCoordinator(path))
}

func TestClearCacheClosesCachedHandles(t *testing.T) {
	path := "/t/" + t.Name()
	c := GetCoordinator(path)
	useNoopNotifier(c)

	h, err := c.GetHandle(memConfig(path))
	require.NoError(t, err)
	c.Release()

	ClearCache()

	assert.True(t, h.closed.Load(), "cached handle closed by ClearCache")
	assert.Nil(t, GetExistingCoordinator(path), "registry emptied")

	// Closing again on the consumer thread stays safe.
	h.Close()

	// A later open constructs a fresh coordinator and handle.
	c2 := GetCoordinator(path)
	useNoopNotifier(c2)
	defer c2.Release()
	h2, err := c2.GetHandle(memConfig(path))
	require.NoError(t, err)
	defer h2.Close()
	assert.NotSame(t, h, h2)
}

func TestClearCacheWithLiveNotifier(t *testing.T) {
	path := "/t/" + t.Name()
	c := GetCoordinator(path)
	h, err := c.GetHandle(memConfig(path))
	require.NoError(t, err)
	c.Release()

	// Must not deadlock against the hub notifier's delivery goroutine.
	ClearCache()
	assert.True(t, h.closed.Load())
}

func TestOpenHandleConvenience(t *testing.T) {
	path := "/t/" + t.Name()
	h, err := OpenHandle(memConfig(path))
	require.NoError(t, err)

	existing := GetExistingCoordinator(path)
	require.NotNil(t, existing)
	existing.Release()

	h.Close()
	assert.Nil(t, GetExistingCoordinator(path))
}

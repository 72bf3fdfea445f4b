package core

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheIdentity(t *testing.T) {
	c := NewResultCache[int](8, time.Minute, false)

	var calls int32
	fn := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}

	v, err := c.GetOrCompute("k", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.GetOrCompute("k", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "hit must not re-invoke")
}

func TestCacheNeverStoresFailures(t *testing.T) {
	c := NewResultCache[int](8, time.Minute, false)

	var calls int32
	boom := errors.New("boom")
	_, err := c.GetOrCompute("k", func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, boom
	})
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrCompute("k", func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "a failure must not poison the key")
}

func TestCacheSingleFlight(t *testing.T) {
	c := NewResultCache[int](8, time.Minute, false)

	var calls int32
	release := make(chan struct{})
	fn := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrCompute("k", fn)
			assert.NoError(t, err)
			assert.Equal(t, 1, v)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a burst must collapse into one computation")
}

func TestCacheDisabled(t *testing.T) {
	c := NewResultCache[int](8, time.Minute, true)

	var calls int32
	fn := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 3, nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute("k", fn)
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCacheKeyCanonical(t *testing.T) {
	a, err := cacheKey(cacheKeyInput{EntityType: "dataset", EntityName: "d", UserIdentity: "u"})
	require.NoError(t, err)
	b, err := cacheKey(cacheKeyInput{EntityType: "dataset", EntityName: "d", UserIdentity: "u"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := cacheKey(cacheKeyInput{EntityType: "dataset", EntityName: "d", UserIdentity: "v"})
	require.NoError(t, err)
	assert.NotEqual(t, a, other, "user identity must separate keys")
}

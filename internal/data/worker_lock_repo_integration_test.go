package data

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirbydesk/simplify-engine/internal/testutil"
)

func TestWorkerLockRepo_Integration_SingleHolder(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewWorkerLockRepo(client)
	ctx := context.Background()

	ok, err := repo.Acquire(ctx, "holder-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second process cannot take the lock while it is held.
	ok, err = repo.Acquire(ctx, "holder-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Neither can it release or extend someone else's lock.
	released, err := repo.Release(ctx, "holder-b")
	require.NoError(t, err)
	assert.False(t, released)
	extended, err := repo.Extend(ctx, "holder-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)

	holder, err := repo.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "holder-a", holder)

	extended, err = repo.Extend(ctx, "holder-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	released, err = repo.Release(ctx, "holder-a")
	require.NoError(t, err)
	assert.True(t, released)

	// Once released, the lock is free for the next taker.
	ok, err = repo.Acquire(ctx, "holder-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorkerLockRepo_Integration_ConcurrentAcquireHasOneWinner(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := NewWorkerLockRepo(client)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := repo.Acquire(ctx, fmt.Sprintf("holder-%d", n), time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
}

package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/subflow/internal/subscription/infrastructure/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLock_TryLock(t *testing.T) {
	l := lock.NewMemoryLock()
	ctx := context.Background()

	ok, err := l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.TryLock(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLock_Unlock(t *testing.T) {
	l := lock.NewMemoryLock()
	ctx := context.Background()

	ok, err := l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Unlock(ctx, "sweep"))

	ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLock_ExpiresAfterTTL(t *testing.T) {
	l := lock.NewMemoryLock()
	ctx := context.Background()

	ok, err := l.TryLock(ctx, "sweep", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = l.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

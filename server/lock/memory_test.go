package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourneyrating/server/domain"
)

func TestMemory_SecondAcquireFailsWhileHeld(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	key := Key(domain.Global(), domain.Month{Year: 2026, Month: 8})

	held, release, err := l.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, held)
	require.NotNil(t, release)

	held2, release2, err := l.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, held2)
	assert.Nil(t, release2)

	require.NoError(t, release(ctx))

	held3, release3, err := l.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, held3, "lock is acquirable again after release")
	require.NoError(t, release3(ctx))
}

func TestKey_DistinctScopesDoNotCollide(t *testing.T) {
	period := domain.Month{Year: 2026, Month: 8}
	assert.NotEqual(t, Key(domain.Global(), period), Key(domain.Game(9), period))
}

package recompute

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourneyrating/server/contest"
	"tourneyrating/server/domain"
	"tourneyrating/server/ratingstore"
)

func twoPlayerContests() []contest.Contest {
	return []contest.Contest{
		{ID: 1, GameID: 0, Results: []contest.Placement{{PlayerID: 1, Placement: 1}, {PlayerID: 2, Placement: 2}}},
		{ID: 2, GameID: 0, Results: []contest.Placement{{PlayerID: 1, Placement: 1}, {PlayerID: 2, Placement: 2}}},
	}
}

func noSleep(time.Duration) {}

func TestRun_UpdatesAllActivePlayers(t *testing.T) {
	ctx := context.Background()
	params := domain.DefaultParams()
	reader := contest.NewMemoryReader(twoPlayerContests(), nil, params)
	store := ratingstore.NewMemory(1e-6)
	r := New(reader, store, params, DefaultConfig())
	r.sleep = noSleep

	period := domain.Month{Year: 2026, Month: 7}
	summary, err := r.Run(ctx, domain.Global(), period)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.PlayersProcessed)
	assert.Equal(t, 2, summary.PlayersUpdated)

	winner, err := store.GetLatest(ctx, 1, domain.Global())
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Greater(t, winner.RatingTuple.Rating, params.DefaultRating, "two wins should raise the winner's rating")
}

func TestRun_NoContestsReturnsSentinel(t *testing.T) {
	ctx := context.Background()
	params := domain.DefaultParams()
	reader := contest.NewMemoryReader(nil, nil, params)
	store := ratingstore.NewMemory(1e-6)
	r := New(reader, store, params, DefaultConfig())

	_, err := r.Run(ctx, domain.Global(), domain.Month{Year: 2026, Month: 7})
	assert.ErrorIs(t, err, domain.ErrNoContests)
}

func TestRun_ReplayingSamePeriodIsIdempotent(t *testing.T) {
	ctx := context.Background()
	params := domain.DefaultParams()
	reader := contest.NewMemoryReader(twoPlayerContests(), nil, params)
	store := ratingstore.NewMemory(1e-6)
	r := New(reader, store, params, DefaultConfig())
	r.sleep = noSleep
	period := domain.Month{Year: 2026, Month: 7}

	first, err := r.Run(ctx, domain.Global(), period)
	require.NoError(t, err)

	second, err := r.Run(ctx, domain.Global(), period)
	require.NoError(t, err, "recomputing the same period twice must not raise ErrInconsistent")
	assert.Equal(t, first.PlayersProcessed, second.PlayersProcessed)

	hist, err := store.ListHistory(ctx, 1, nil)
	require.NoError(t, err)
	assert.Len(t, hist, 1, "no duplicate history row from the replay")
}

func TestRun_BackfillEarlierPeriodDoesNotDisturbLater(t *testing.T) {
	ctx := context.Background()
	params := domain.DefaultParams()
	store := ratingstore.NewMemory(1e-6)

	laterReader := contest.NewMemoryReader(twoPlayerContests(), nil, params)
	laterPeriod := domain.Month{Year: 2026, Month: 8}
	r := New(laterReader, store, params, DefaultConfig())
	r.sleep = noSleep
	_, err := r.Run(ctx, domain.Global(), laterPeriod)
	require.NoError(t, err)

	laterLatest, err := store.GetLatest(ctx, 1, domain.Global())
	require.NoError(t, err)

	earlierReader := contest.NewMemoryReader(twoPlayerContests(), nil, params)
	earlierPeriod := domain.Month{Year: 2026, Month: 6}
	r2 := New(earlierReader, store, params, DefaultConfig())
	r2.sleep = noSleep
	_, err = r2.Run(ctx, domain.Global(), earlierPeriod)
	require.NoError(t, err)

	afterBackfill, err := store.GetLatest(ctx, 1, domain.Global())
	require.NoError(t, err)
	assert.Equal(t, laterLatest.RatingTuple.Rating, afterBackfill.RatingTuple.Rating, "backfilling an earlier period must not move rating_latest")
	assert.True(t, afterBackfill.LastPeriodEnd.Equal(laterLatest.LastPeriodEnd))
}

// flakyStore fails the first N UpsertPeriod calls with ErrStoreUnavailable,
// then delegates to an underlying Memory store.
type flakyStore struct {
	*ratingstore.Memory
	failuresLeft int
}

func (f *flakyStore) UpsertPeriod(ctx context.Context, scope domain.Scope, periodEnd time.Time, updates []ratingstore.PeriodUpdate) (ratingstore.Summary, error) {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return ratingstore.Summary{}, fmt.Errorf("connection reset: %w", domain.ErrStoreUnavailable)
	}
	return f.Memory.UpsertPeriod(ctx, scope, periodEnd, updates)
}

func TestRun_RetriesOnTransientStoreFailure(t *testing.T) {
	ctx := context.Background()
	params := domain.DefaultParams()
	reader := contest.NewMemoryReader(twoPlayerContests(), nil, params)
	store := &flakyStore{Memory: ratingstore.NewMemory(1e-6), failuresLeft: 2}
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	r := New(reader, store, params, cfg)
	r.sleep = noSleep

	summary, err := r.Run(ctx, domain.Global(), domain.Month{Year: 2026, Month: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.PlayersUpdated)
}

func TestRun_GivesUpAfterMaxRetryAttempts(t *testing.T) {
	ctx := context.Background()
	params := domain.DefaultParams()
	reader := contest.NewMemoryReader(twoPlayerContests(), nil, params)
	store := &flakyStore{Memory: ratingstore.NewMemory(1e-6), failuresLeft: 100}
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxAttempts = 3
	r := New(reader, store, params, cfg)
	r.sleep = noSleep

	_, err := r.Run(ctx, domain.Global(), domain.Month{Year: 2026, Month: 7})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestRun_CancelledContextStopsEarly(t *testing.T) {
	params := domain.DefaultParams()
	reader := contest.NewMemoryReader(twoPlayerContests(), nil, params)
	store := ratingstore.NewMemory(1e-6)
	r := New(reader, store, params, DefaultConfig())
	r.sleep = noSleep

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, domain.Global(), domain.Month{Year: 2026, Month: 7})
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

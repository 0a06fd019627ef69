package contest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourneyrating/server/domain"
)

func TestMemoryReader_PairwiseDecomposition_FourPlayerContest(t *testing.T) {
	period := domain.Month{Year: 2026, Month: 7}
	contests := []Contest{
		{
			ID:     1,
			GameID: 9,
			Results: []Placement{
				{PlayerID: 1, Placement: 1},
				{PlayerID: 2, Placement: 2},
				{PlayerID: 3, Placement: 3},
				{PlayerID: 4, Placement: 4},
			},
		},
	}
	priors := map[int64]domain.RatingTuple{
		2: {Rating: 1400, RD: 30, Volatility: 0.06},
		3: {Rating: 1550, RD: 100, Volatility: 0.06},
		4: {Rating: 1700, RD: 300, Volatility: 0.06},
	}
	reader := NewMemoryReader(contests, priors, domain.DefaultParams())

	snap, err := reader.Snapshot(context.Background(), domain.Game(9), period)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4}, snap.ActivePlayers())

	samples := snap.SamplesFor(1)
	require.Len(t, samples, 3, "player 1 gets one pairwise sample per co-participant")
	for _, s := range samples {
		assert.Equal(t, 1.0, s.Score, "placement 1 beats everyone else in the contest")
	}

	counts1 := snap.PeriodCounts(1)
	assert.Equal(t, domain.PeriodCounts{Games: 1, Wins: 1}, counts1)

	counts4 := snap.PeriodCounts(4)
	assert.Equal(t, domain.PeriodCounts{Games: 1, Losses: 1}, counts4)

	samples2 := snap.SamplesFor(2)
	require.Len(t, samples2, 3)
	var vsOne, vsThree float64
	for _, s := range samples2 {
		switch s.OpponentID {
		case 1:
			vsOne = s.Score
		case 3:
			vsThree = s.Score
		}
	}
	assert.Equal(t, 0.0, vsOne, "2nd place loses to 1st")
	assert.Equal(t, 1.0, vsThree, "2nd place beats 3rd")
}

func TestMemoryReader_TiedPlacementIsADraw(t *testing.T) {
	period := domain.Month{Year: 2026, Month: 7}
	contests := []Contest{
		{
			ID:     1,
			GameID: 9,
			Results: []Placement{
				{PlayerID: 1, Placement: 1},
				{PlayerID: 2, Placement: 1},
			},
		},
	}
	reader := NewMemoryReader(contests, nil, domain.DefaultParams())

	snap, err := reader.Snapshot(context.Background(), domain.Game(9), period)
	require.NoError(t, err)

	samples := snap.SamplesFor(1)
	require.Len(t, samples, 1)
	assert.Equal(t, 0.5, samples[0].Score)
	assert.Equal(t, domain.PeriodCounts{Games: 1, Draws: 1}, snap.PeriodCounts(1))
	assert.Equal(t, domain.PeriodCounts{Games: 1, Draws: 1}, snap.PeriodCounts(2))
}

func TestMemoryReader_MissingPriorFallsBackToDefault(t *testing.T) {
	period := domain.Month{Year: 2026, Month: 7}
	contests := []Contest{
		{ID: 1, GameID: 9, Results: []Placement{{PlayerID: 1, Placement: 1}, {PlayerID: 2, Placement: 2}}},
	}
	params := domain.DefaultParams()
	reader := NewMemoryReader(contests, nil, params)

	snap, err := reader.Snapshot(context.Background(), domain.Game(9), period)
	require.NoError(t, err)

	samples := snap.SamplesFor(1)
	require.Len(t, samples, 1)
	assert.Equal(t, params.DefaultRating, samples[0].OpponentRating)
	assert.Equal(t, params.DefaultRD, samples[0].OpponentRD)
}

func TestMemoryReader_ScopeFiltersOutOtherGames(t *testing.T) {
	period := domain.Month{Year: 2026, Month: 7}
	contests := []Contest{
		{ID: 1, GameID: 9, Results: []Placement{{PlayerID: 1, Placement: 1}, {PlayerID: 2, Placement: 2}}},
		{ID: 2, GameID: 10, Results: []Placement{{PlayerID: 1, Placement: 1}, {PlayerID: 3, Placement: 2}}},
	}
	reader := NewMemoryReader(contests, nil, domain.DefaultParams())

	snap, err := reader.Snapshot(context.Background(), domain.Game(9), period)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, snap.ActivePlayers())
}

func TestMemoryReader_SamplesSortedByOpponentID(t *testing.T) {
	period := domain.Month{Year: 2026, Month: 7}
	contests := []Contest{
		{
			ID:     1,
			GameID: 9,
			Results: []Placement{
				{PlayerID: 1, Placement: 2},
				{PlayerID: 5, Placement: 1},
				{PlayerID: 2, Placement: 3},
			},
		},
	}
	reader := NewMemoryReader(contests, nil, domain.DefaultParams())

	snap, err := reader.Snapshot(context.Background(), domain.Game(9), period)
	require.NoError(t, err)

	samples := snap.SamplesFor(1)
	require.Len(t, samples, 2)
	assert.Less(t, samples[0].OpponentID, samples[1].OpponentID)
}

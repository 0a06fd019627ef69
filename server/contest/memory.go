package contest

import (
	"context"

	"tourneyrating/server/domain"
)

// MemoryReader is a fixed fixture Reader, used the way
// _examples/haukened-rr-dns stubs its zone cache collaborator: tests
// populate Contests directly instead of standing up Postgres.
type MemoryReader struct {
	Contests []Contest
	Priors   map[int64]domain.RatingTuple
	Params   domain.Params
}

// NewMemoryReader returns a Reader over a fixed set of contests and
// prior ratings. Priors may be nil; any player absent from it falls
// back to domain.DefaultRating(params).
func NewMemoryReader(contests []Contest, priors map[int64]domain.RatingTuple, params domain.Params) *MemoryReader {
	if priors == nil {
		priors = make(map[int64]domain.RatingTuple)
	}
	return &MemoryReader{Contests: contests, Priors: priors, Params: params}
}

func (r *MemoryReader) Snapshot(_ context.Context, scope domain.Scope, period domain.Month) (*Snapshot, error) {
	var inScope []Contest
	for _, c := range r.Contests {
		if scope.Type == domain.ScopeGame && c.GameID != scope.GameID {
			continue
		}
		inScope = append(inScope, c)
	}

	priorOf := func(playerID int64) (float64, float64) {
		if t, ok := r.Priors[playerID]; ok {
			return t.Rating, t.RD
		}
		def := domain.DefaultRating(r.Params)
		return def.Rating, def.RD
	}

	return buildSnapshot(scope, period, inScope, priorOf), nil
}

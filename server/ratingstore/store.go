// Package ratingstore persists rating_latest and rating_history with the
// transactional and idempotency semantics spec.md §3 invariants and §4.2
// require. The teacher's server/store/store.go (a pgxpool.Pool wrapper
// with embedded-schema migration and hand-written upsert helpers) is the
// structural model; Postgres below is its direct descendant.
package ratingstore

import (
	"context"
	"time"

	"tourneyrating/server/domain"
)

// PeriodUpdate is one player's recomputed state for a (scope, period),
// ready to be written atomically alongside the rest of its batch.
type PeriodUpdate struct {
	PlayerID    int64
	RatingTuple domain.RatingTuple
	Counts      domain.PeriodCounts
}

// ListFilter narrows ListByScope for leaderboard-style queries.
type ListFilter struct {
	MinGames uint64
	Limit    int
}

// Summary reports what UpsertPeriod actually did, per spec.md §4.2.
type Summary struct {
	PlayersUpdated int
	HistoryWritten int
	HistorySkipped int
}

// Store is the Rating Store capability interface spec.md §4.2 describes.
// It is a capability over the Scope tagged variant, not an inheritance
// hierarchy (spec.md §9).
type Store interface {
	GetLatest(ctx context.Context, playerID int64, scope domain.Scope) (*domain.Rating, error)
	ListByScope(ctx context.Context, scope domain.Scope, filter ListFilter) ([]domain.Rating, error)
	ListHistory(ctx context.Context, playerID int64, scope *domain.Scope) ([]domain.RatingHistoryEntry, error)
	UpsertPeriod(ctx context.Context, scope domain.Scope, periodEnd time.Time, updates []PeriodUpdate) (Summary, error)
}

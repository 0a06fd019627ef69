package ratingstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tourneyrating/server/domain"
)

// Memory is an in-process Store used by tests that need the real
// idempotency/consistency semantics without a live Postgres instance,
// grounded on the stub-collaborator pattern used throughout
// _examples/haukened-rr-dns's tests (e.g. stubZoneCache).
type Memory struct {
	mu      sync.Mutex
	epsilon float64
	latest  map[latestKey]domain.Rating
	history map[historyKey]domain.RatingHistoryEntry
}

type latestKey struct {
	playerID int64
	scope    string
}

type historyKey struct {
	playerID  int64
	scope     string
	periodEnd int64
}

// NewMemory returns an empty Memory store.
func NewMemory(epsilon float64) *Memory {
	if epsilon <= 0 {
		epsilon = 1e-6
	}
	return &Memory{
		epsilon: epsilon,
		latest:  make(map[latestKey]domain.Rating),
		history: make(map[historyKey]domain.RatingHistoryEntry),
	}
}

func (m *Memory) GetLatest(_ context.Context, playerID int64, scope domain.Scope) (*domain.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.latest[latestKey{playerID, scope.Key()}]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (m *Memory) ListByScope(_ context.Context, scope domain.Scope, filter ListFilter) ([]domain.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Rating
	for k, r := range m.latest {
		if k.scope != scope.Key() {
			continue
		}
		if r.GamesPlayed < filter.MinGames {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RatingTuple.Rating > out[j].RatingTuple.Rating })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) ListHistory(_ context.Context, playerID int64, scope *domain.Scope) ([]domain.RatingHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RatingHistoryEntry
	for k, e := range m.history {
		if k.playerID != playerID {
			continue
		}
		if scope != nil && k.scope != scope.Key() {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodEnd.Before(out[j].PeriodEnd) })
	return out, nil
}

func (m *Memory) UpsertPeriod(_ context.Context, scope domain.Scope, periodEnd time.Time, updates []PeriodUpdate) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var summary Summary
	scopeKey := scope.Key()

	// Stage writes so a mid-batch Inconsistent error leaves the store
	// untouched, matching Postgres's single-transaction guarantee.
	type staged struct {
		hk     historyKey
		entry  domain.RatingHistoryEntry
		writes bool
		lk     latestKey
		rating domain.Rating
		update bool
	}
	var plan []staged

	for _, u := range updates {
		hk := historyKey{u.PlayerID, scopeKey, periodEnd.UnixNano()}
		writeHistory := true
		if existing, ok := m.history[hk]; ok {
			if !almostEqual(existing.RatingTuple.Rating, u.RatingTuple.Rating, m.epsilon) ||
				!almostEqual(existing.RatingTuple.RD, u.RatingTuple.RD, m.epsilon) ||
				!almostEqual(existing.RatingTuple.Volatility, u.RatingTuple.Volatility, m.epsilon) ||
				existing.Counts != u.Counts {
				return Summary{}, fmt.Errorf("player %d scope %s period %s: %w",
					u.PlayerID, scopeKey, periodEnd, domain.ErrInconsistent)
			}
			writeHistory = false
		}

		lk := latestKey{u.PlayerID, scopeKey}
		cur, hasLatest := m.latest[lk]
		updateLatest := !hasLatest || cur.LastPeriodEnd.Before(periodEnd)

		plan = append(plan, staged{
			hk: hk,
			entry: domain.RatingHistoryEntry{
				PlayerID: u.PlayerID, Scope: scope, PeriodEnd: periodEnd,
				RatingTuple: u.RatingTuple, Counts: u.Counts, CreatedAt: periodEnd,
			},
			writes: writeHistory,
			lk:     lk,
			rating: domain.Rating{
				PlayerID: u.PlayerID, Scope: scope, RatingTuple: u.RatingTuple,
				GamesPlayed: cur.GamesPlayed + uint64(u.Counts.Games), LastPeriodEnd: periodEnd, UpdatedAt: periodEnd,
			},
			update: updateLatest,
		})
	}

	for _, p := range plan {
		if p.writes {
			m.history[p.hk] = p.entry
			summary.HistoryWritten++
		} else {
			summary.HistorySkipped++
		}
		if p.update {
			m.latest[p.lk] = p.rating
			summary.PlayersUpdated++
		}
	}
	return summary, nil
}

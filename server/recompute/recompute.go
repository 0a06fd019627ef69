// Package recompute implements the Batch Recomputer (spec.md §4.4): for
// one (scope, period), run every active player's Glicko-2 update and
// persist the results with bounded memory and retry-on-transient-
// failure, grounded on the teacher's server/stats.go aggregation loop
// and the retry shape used throughout the _examples pack's batch
// runners (e.g. the Mercury-style scheduler in other_examples).
package recompute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tourneyrating/server/contest"
	"tourneyrating/server/domain"
	"tourneyrating/server/kernel"
	"tourneyrating/server/ratingstore"
)

// Config tunes batching and retry behavior.
type Config struct {
	BatchSize        int
	RetryBaseDelay   time.Duration
	RetryFactor      float64
	RetryMaxAttempts int
}

// DefaultConfig matches spec.md §4.4/§6's defaults: batch_size 512,
// retry base 200ms doubling to five attempts.
func DefaultConfig() Config {
	return Config{
		BatchSize:        512,
		RetryBaseDelay:   200 * time.Millisecond,
		RetryFactor:      2,
		RetryMaxAttempts: 5,
	}
}

// Summary reports what one Run accomplished.
type Summary struct {
	Scope            domain.Scope
	Period           domain.Month
	PlayersProcessed int
	PlayersUpdated   int
	NonConvergences  int
	Duration         time.Duration
}

// Recomputer orchestrates one scope/period recompute end to end.
type Recomputer struct {
	reader contest.Reader
	store  ratingstore.Store
	params domain.Params
	cfg    Config
	sleep  func(time.Duration)
}

// New wires a Recomputer from its collaborators.
func New(reader contest.Reader, store ratingstore.Store, params domain.Params, cfg Config) *Recomputer {
	return &Recomputer{reader: reader, store: store, params: params, cfg: cfg, sleep: time.Sleep}
}

// Run recomputes every active player in scope for period and writes the
// results in BatchSize-sized chunks. Players are processed, and their
// samples summed, in the deterministic order the Contest Reader's
// Snapshot already guarantees (spec.md §4.4).
func (r *Recomputer) Run(ctx context.Context, scope domain.Scope, period domain.Month) (Summary, error) {
	start := time.Now()
	snap, err := r.reader.Snapshot(ctx, scope, period)
	if err != nil {
		return Summary{}, fmt.Errorf("load contest snapshot: %w", err)
	}

	players := snap.ActivePlayers()
	if len(players) == 0 {
		return Summary{}, domain.ErrNoContests
	}

	periodEnd := period.End()
	summary := Summary{Scope: scope, Period: period}
	batch := make([]ratingstore.PeriodUpdate, 0, r.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		written, err := r.writeWithRetry(ctx, scope, periodEnd, batch)
		if err != nil {
			return err
		}
		summary.PlayersUpdated += written.PlayersUpdated
		batch = batch[:0]
		return nil
	}

	for _, playerID := range players {
		select {
		case <-ctx.Done():
			return Summary{}, fmt.Errorf("recompute cancelled: %w", domain.ErrCancelled)
		default:
		}

		priorTuple, err := r.priorFor(ctx, playerID, scope, periodEnd)
		if err != nil {
			return Summary{}, fmt.Errorf("load prior rating for player %d: %w", playerID, err)
		}

		updated, err := kernel.Update(priorTuple, snap.SamplesFor(playerID), r.params)
		if err != nil {
			if errors.Is(err, domain.ErrNoConvergence) {
				summary.NonConvergences++
			} else {
				return Summary{}, fmt.Errorf("update player %d: %w", playerID, err)
			}
		}

		batch = append(batch, ratingstore.PeriodUpdate{
			PlayerID:    playerID,
			RatingTuple: updated,
			Counts:      snap.PeriodCounts(playerID),
		})
		summary.PlayersProcessed++

		if len(batch) >= r.cfg.BatchSize {
			if err := flush(); err != nil {
				return Summary{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return Summary{}, err
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

// priorFor returns the rating a player carried into period, i.e. the
// most recent history entry strictly before periodEnd, falling back to
// domain.DefaultRating. Reading from history rather than rating_latest
// keeps a re-run of an already-computed period idempotent: rating_latest
// may already reflect this period's own prior result, but the periods
// strictly before it never change underneath a replay (spec.md §8
// properties 4 and 5).
func (r *Recomputer) priorFor(ctx context.Context, playerID int64, scope domain.Scope, periodEnd time.Time) (domain.RatingTuple, error) {
	hist, err := r.store.ListHistory(ctx, playerID, &scope)
	if err != nil {
		return domain.RatingTuple{}, err
	}
	best := domain.DefaultRating(r.params)
	var bestEnd time.Time
	found := false
	for _, e := range hist {
		if e.PeriodEnd.Before(periodEnd) && (!found || e.PeriodEnd.After(bestEnd)) {
			best = e.RatingTuple
			bestEnd = e.PeriodEnd
			found = true
		}
	}
	return best, nil
}

// writeWithRetry retries UpsertPeriod with exponential backoff only
// when the failure is domain.ErrStoreUnavailable — a transient
// condition. domain.ErrInconsistent and any other error fail fast:
// retrying a logic error can't fix it (spec.md §7).
func (r *Recomputer) writeWithRetry(ctx context.Context, scope domain.Scope, periodEnd time.Time, updates []ratingstore.PeriodUpdate) (ratingstore.Summary, error) {
	delay := r.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= r.cfg.RetryMaxAttempts; attempt++ {
		summary, err := r.store.UpsertPeriod(ctx, scope, periodEnd, updates)
		if err == nil {
			return summary, nil
		}
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return ratingstore.Summary{}, err
		}
		lastErr = err
		if attempt == r.cfg.RetryMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ratingstore.Summary{}, fmt.Errorf("recompute cancelled during retry: %w", domain.ErrCancelled)
		default:
			r.sleep(delay)
		}
		delay = time.Duration(float64(delay) * r.cfg.RetryFactor)
	}
	return ratingstore.Summary{}, fmt.Errorf("store unavailable after %d attempts: %w", r.cfg.RetryMaxAttempts, lastErr)
}

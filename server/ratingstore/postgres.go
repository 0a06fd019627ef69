package ratingstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tourneyrating/server/domain"
)

//go:embed schema.sql
var schemaFS embed.FS

// Postgres is the pgx-backed Store implementation, grounded on the
// teacher's server/store/store.go DB wrapper.
type Postgres struct {
	pool    *pgxpool.Pool
	epsilon float64
	timeout time.Duration
}

// Open connects a pgxpool.Pool to dsn, mirroring store.Open in the
// teacher.
func Open(ctx context.Context, dsn string, epsilon float64, timeout time.Duration) (*Postgres, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open rating store: %w", err)
	}
	if epsilon <= 0 {
		epsilon = 1e-6
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Postgres{pool: p, epsilon: epsilon, timeout: timeout}, nil
}

// Close releases the pool.
func (s *Postgres) Close() { s.pool.Close() }

// Pool exposes the underlying pgxpool.Pool so collaborators that read
// the same tables outside the Store interface (the Contest Reader) can
// share one connection pool with it.
func (s *Postgres) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies schema.sql, mirroring store.Migrate in the teacher.
func Migrate(ctx context.Context, s *Postgres) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, string(b))
	return err
}

func (s *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func scopeColumns(scope domain.Scope) (scopeType string, scopeID any) {
	if scope.Type == domain.ScopeGame {
		return "game", scope.GameID
	}
	return "global", nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// A response from a reachable server is a live SQL error, not
		// the transient/unreachable condition StoreUnavailable names.
		return err
	}
	return fmt.Errorf("%v: %w", err, domain.ErrStoreUnavailable)
}

func (s *Postgres) GetLatest(ctx context.Context, playerID int64, scope domain.Scope) (*domain.Rating, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	scopeType, scopeID := scopeColumns(scope)
	row := s.pool.QueryRow(ctx, `
		SELECT rating, rd, volatility, games_played, last_period_end, updated_at
		  FROM rating_latest
		 WHERE player_id = $1 AND scope_type = $2 AND scope_id IS NOT DISTINCT FROM $3
	`, playerID, scopeType, scopeID)

	var r domain.Rating
	r.PlayerID = playerID
	r.Scope = scope
	if err := row.Scan(&r.RatingTuple.Rating, &r.RatingTuple.RD, &r.RatingTuple.Volatility,
		&r.GamesPlayed, &r.LastPeriodEnd, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyErr(err)
	}
	return &r, nil
}

func (s *Postgres) ListByScope(ctx context.Context, scope domain.Scope, filter ListFilter) ([]domain.Rating, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	scopeType, scopeID := scopeColumns(scope)
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT player_id, rating, rd, volatility, games_played, last_period_end, updated_at
		  FROM rating_latest
		 WHERE scope_type = $1 AND scope_id IS NOT DISTINCT FROM $2 AND games_played >= $3
		 ORDER BY rating DESC
		 LIMIT $4
	`, scopeType, scopeID, filter.MinGames, limit)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []domain.Rating
	for rows.Next() {
		var r domain.Rating
		r.Scope = scope
		if err := rows.Scan(&r.PlayerID, &r.RatingTuple.Rating, &r.RatingTuple.RD, &r.RatingTuple.Volatility,
			&r.GamesPlayed, &r.LastPeriodEnd, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) ListHistory(ctx context.Context, playerID int64, scope *domain.Scope) ([]domain.RatingHistoryEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows pgx.Rows
	var err error
	if scope == nil {
		rows, err = s.pool.Query(ctx, `
			SELECT scope_type, scope_id, period_end, rating, rd, volatility, period_games, wins, losses, draws, created_at
			  FROM rating_history
			 WHERE player_id = $1
			 ORDER BY period_end ASC
		`, playerID)
	} else {
		scopeType, scopeID := scopeColumns(*scope)
		rows, err = s.pool.Query(ctx, `
			SELECT scope_type, scope_id, period_end, rating, rd, volatility, period_games, wins, losses, draws, created_at
			  FROM rating_history
			 WHERE player_id = $1 AND scope_type = $2 AND scope_id IS NOT DISTINCT FROM $3
			 ORDER BY period_end ASC
		`, playerID, scopeType, scopeID)
	}
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []domain.RatingHistoryEntry
	for rows.Next() {
		var e domain.RatingHistoryEntry
		var scopeType string
		var scopeID *int64
		e.PlayerID = playerID
		if err := rows.Scan(&scopeType, &scopeID, &e.PeriodEnd, &e.RatingTuple.Rating, &e.RatingTuple.RD,
			&e.RatingTuple.Volatility, &e.Counts.Games, &e.Counts.Wins, &e.Counts.Losses, &e.Counts.Draws, &e.CreatedAt); err != nil {
			return nil, err
		}
		if scopeType == "game" && scopeID != nil {
			e.Scope = domain.Game(*scopeID)
		} else {
			e.Scope = domain.Global()
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertPeriod implements spec.md §4.2: within one transaction, write
// each history entry (no-op if an identical one already exists, abort
// the whole call with domain.ErrInconsistent if a differing one exists),
// then upsert rating_latest iff period_end is newer than the stored
// last_period_end or the row is missing.
func (s *Postgres) UpsertPeriod(ctx context.Context, scope domain.Scope, periodEnd time.Time, updates []PeriodUpdate) (Summary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var summary Summary
	scopeType, scopeID := scopeColumns(scope)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return summary, classifyErr(err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	for _, u := range updates {
		wrote, err := upsertHistory(ctx, tx, scopeType, scopeID, u, periodEnd, s.epsilon)
		if err != nil {
			return Summary{}, err
		}
		if wrote {
			summary.HistoryWritten++
		} else {
			summary.HistorySkipped++
		}

		updatedLatest, err := upsertLatest(ctx, tx, scopeType, scopeID, u, periodEnd)
		if err != nil {
			return Summary{}, err
		}
		if updatedLatest {
			summary.PlayersUpdated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Summary{}, classifyErr(err)
	}
	return summary, nil
}

// upsertHistory returns true if a new row was written, false if an
// identical one already existed (idempotent no-op).
func upsertHistory(ctx context.Context, tx pgx.Tx, scopeType string, scopeID any, u PeriodUpdate, periodEnd time.Time, epsilon float64) (bool, error) {
	var existing domain.RatingTuple
	var counts domain.PeriodCounts
	err := tx.QueryRow(ctx, `
		SELECT rating, rd, volatility, period_games, wins, losses, draws
		  FROM rating_history
		 WHERE player_id = $1 AND scope_type = $2 AND scope_id IS NOT DISTINCT FROM $3 AND period_end = $4
	`, u.PlayerID, scopeType, scopeID, periodEnd).Scan(
		&existing.Rating, &existing.RD, &existing.Volatility,
		&counts.Games, &counts.Wins, &counts.Losses, &counts.Draws,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO rating_history
				(player_id, scope_type, scope_id, period_end, rating, rd, volatility, period_games, wins, losses, draws)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, u.PlayerID, scopeType, scopeID, periodEnd,
			u.RatingTuple.Rating, u.RatingTuple.RD, u.RatingTuple.Volatility,
			u.Counts.Games, u.Counts.Wins, u.Counts.Losses, u.Counts.Draws)
		if err != nil {
			return false, classifyErr(err)
		}
		return true, nil
	case err != nil:
		return false, classifyErr(err)
	}

	if !almostEqual(existing.Rating, u.RatingTuple.Rating, epsilon) ||
		!almostEqual(existing.RD, u.RatingTuple.RD, epsilon) ||
		!almostEqual(existing.Volatility, u.RatingTuple.Volatility, epsilon) ||
		counts != u.Counts {
		return false, fmt.Errorf("player %d scope %s period %s: stored %+v/%+v vs recomputed %+v/%+v: %w",
			u.PlayerID, scopeType, periodEnd, existing, counts, u.RatingTuple, u.Counts, domain.ErrInconsistent)
	}
	return false, nil
}

// upsertLatest returns true if rating_latest was written or updated.
func upsertLatest(ctx context.Context, tx pgx.Tx, scopeType string, scopeID any, u PeriodUpdate, periodEnd time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO rating_latest
			(player_id, scope_type, scope_id, rating, rd, volatility, games_played, last_period_end, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		ON CONFLICT (player_id, scope_type, scope_id) DO UPDATE SET
			rating = EXCLUDED.rating,
			rd = EXCLUDED.rd,
			volatility = EXCLUDED.volatility,
			games_played = rating_latest.games_played + EXCLUDED.games_played,
			last_period_end = EXCLUDED.last_period_end,
			updated_at = now()
		WHERE rating_latest.last_period_end < EXCLUDED.last_period_end
	`, u.PlayerID, scopeType, scopeID,
		u.RatingTuple.Rating, u.RatingTuple.RD, u.RatingTuple.Volatility,
		u.Counts.Games, periodEnd)
	if err != nil {
		return false, classifyErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

package contest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"tourneyrating/server/domain"
	"tourneyrating/server/ratingstore"
)

// PostgresReader builds Snapshots from the contests/contest_results
// tables, resolving opponent priors through a ratingstore.Store so the
// same rating_latest rows the Batch Recomputer will eventually write
// back to are the ones read here, grounded on the teacher's
// server/store/store.go query style.
type PostgresReader struct {
	pool   *pgxpool.Pool
	store  ratingstore.Store
	params domain.Params
}

// NewPostgresReader wires a contest Reader against pool for contest data
// and store for opponent priors.
func NewPostgresReader(pool *pgxpool.Pool, store ratingstore.Store, params domain.Params) *PostgresReader {
	return &PostgresReader{pool: pool, store: store, params: params}
}

func (r *PostgresReader) Snapshot(ctx context.Context, scope domain.Scope, period domain.Month) (*Snapshot, error) {
	var rows interface {
		Next() bool
		Scan(dest ...any) error
		Err() error
		Close()
	}

	var err error
	if scope.Type == domain.ScopeGame {
		rows, err = r.pool.Query(ctx, `
			SELECT c.id, c.game_id, cr.player_id, cr.placement
			  FROM contests c
			  JOIN contest_results cr ON cr.contest_id = c.id
			 WHERE c.game_id = $1 AND c.played_at >= $2 AND c.played_at < $3
			 ORDER BY c.id, cr.player_id
		`, scope.GameID, period.Start(), period.End())
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT c.id, c.game_id, cr.player_id, cr.placement
			  FROM contests c
			  JOIN contest_results cr ON cr.contest_id = c.id
			 WHERE c.played_at >= $1 AND c.played_at < $2
			 ORDER BY c.id, cr.player_id
		`, period.Start(), period.End())
	}
	if err != nil {
		return nil, fmt.Errorf("query contests: %w: %w", err, domain.ErrStoreUnavailable)
	}
	defer rows.Close()

	byContest := make(map[int64]*Contest)
	var order []int64
	for rows.Next() {
		var contestID, gameID, playerID int64
		var placement int
		if err := rows.Scan(&contestID, &gameID, &playerID, &placement); err != nil {
			return nil, err
		}
		c, ok := byContest[contestID]
		if !ok {
			c = &Contest{ID: contestID, GameID: gameID}
			byContest[contestID] = c
			order = append(order, contestID)
		}
		c.Results = append(c.Results, Placement{PlayerID: playerID, Placement: placement})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	contests := make([]Contest, 0, len(order))
	for _, id := range order {
		contests = append(contests, *byContest[id])
	}

	priorCache := make(map[int64][2]float64)
	priorOf := func(playerID int64) (float64, float64) {
		if v, ok := priorCache[playerID]; ok {
			return v[0], v[1]
		}
		def := domain.DefaultRating(r.params)
		rating, rd := def.Rating, def.RD
		if existing, err := r.store.GetLatest(ctx, playerID, scope); err == nil && existing != nil {
			rating, rd = existing.RatingTuple.Rating, existing.RatingTuple.RD
		}
		priorCache[playerID] = [2]float64{rating, rd}
		return rating, rd
	}

	return buildSnapshot(scope, period, contests, priorOf), nil
}

// ListGameIDs returns every distinct game id with at least one contest
// recorded, used by the Process Bootstrap to resolve ScopeSelector.All
// (spec.md §4.4) into a concrete scope list at startup.
func (r *PostgresReader) ListGameIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT game_id FROM contests ORDER BY game_id`)
	if err != nil {
		return nil, fmt.Errorf("list game ids: %w: %w", err, domain.ErrStoreUnavailable)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

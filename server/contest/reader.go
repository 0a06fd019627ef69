// Package contest provides the read-only projection of contests and
// per-contest player placements the Batch Recomputer needs to build
// Kernel samples (spec.md §4.3). Grounded on the teacher's
// server/store/store.go query style (parameterized pgx SQL) and on
// server/engine/types.go's notion of an ordered, multi-participant
// result set.
package contest

import (
	"context"
	"sort"

	"tourneyrating/server/domain"
)

// Contest is one recorded event with an ordered placement among its
// participants, supplemental to spec.md §3 (ContestResultSample is the
// transient Kernel-facing view derived from this).
type Contest struct {
	ID       int64
	GameID   int64
	Results  []Placement
}

// Placement is one player's finishing position in a Contest. Lower is
// better: 1 is first place. Ties share a placement value.
type Placement struct {
	PlayerID  int64
	Placement int
}

// Reader materializes a Snapshot for one (scope, period): the set of
// active players, their per-opponent samples, and their period tallies.
// Building a Snapshot once up front — rather than querying per call —
// is how this implementation satisfies spec.md §4.3's "must present a
// consistent snapshot for the duration of a batch run": concurrent
// writes to rating_latest during the batch cannot change what an
// in-flight recompute sees.
type Reader interface {
	Snapshot(ctx context.Context, scope domain.Scope, period domain.Month) (*Snapshot, error)
}

// Snapshot is the materialized, read-only view of one (scope, period)
// built by a Reader. All methods are pure lookups over already-loaded
// data — no I/O.
type Snapshot struct {
	scope   domain.Scope
	period  domain.Month
	samples map[int64][]domain.OpponentSample
	counts  map[int64]domain.PeriodCounts
	players []int64
}

// ActivePlayers returns the players with at least one contest in this
// scope and period, sorted by player id for deterministic enumeration
// (spec.md §4.4).
func (s *Snapshot) ActivePlayers() []int64 {
	out := make([]int64, len(s.players))
	copy(out, s.players)
	return out
}

// SamplesFor returns playerID's opponent samples, sorted by opponent id
// so repeated runs sum floating point terms in the same order
// (spec.md §4.4 determinism).
func (s *Snapshot) SamplesFor(playerID int64) []domain.OpponentSample {
	samples := s.samples[playerID]
	out := make([]domain.OpponentSample, len(samples))
	copy(out, samples)
	sort.Slice(out, func(i, j int) bool { return out[i].OpponentID < out[j].OpponentID })
	return out
}

// PeriodCounts returns playerID's contest tally for the period.
func (s *Snapshot) PeriodCounts(playerID int64) domain.PeriodCounts {
	return s.counts[playerID]
}

// buildSnapshot is the shared assembly logic for both the Postgres and
// in-memory Readers: turn a list of Contests plus a prior-rating lookup
// into per-player samples and counts via pairwise decomposition.
//
// Decision (spec.md §9 open question on multi-player score mapping):
// pairwise decomposition. Every ordered pair of co-participants in a
// contest yields one sample per side — P scores 1 against O if P's
// placement is numerically lower (better), 0 if higher, 0.5 if tied.
// Per-contest wins/losses/draws (for PeriodCounts, distinct from the
// pairwise samples fed to the Kernel) are derived from the player's
// placement relative to the best placement in that contest: a win if
// they alone hold the best placement, a draw if tied for it, a loss
// otherwise. This decision is recorded, not guessed — see DESIGN.md.
func buildSnapshot(scope domain.Scope, period domain.Month, contests []Contest, priorOf func(playerID int64) (float64, float64)) *Snapshot {
	samples := make(map[int64][]domain.OpponentSample)
	counts := make(map[int64]domain.PeriodCounts)
	playerSet := make(map[int64]struct{})

	for _, ct := range contests {
		if len(ct.Results) < 2 {
			continue
		}
		best := ct.Results[0].Placement
		bestCount := 0
		for _, r := range ct.Results {
			if r.Placement < best {
				best = r.Placement
			}
		}
		for _, r := range ct.Results {
			if r.Placement == best {
				bestCount++
			}
		}

		for _, p := range ct.Results {
			playerSet[p.PlayerID] = struct{}{}
			for _, o := range ct.Results {
				if o.PlayerID == p.PlayerID {
					continue
				}
				score := 0.5
				if p.Placement < o.Placement {
					score = 1
				} else if p.Placement > o.Placement {
					score = 0
				}
				oppR, oppRD := priorOf(o.PlayerID)
				samples[p.PlayerID] = append(samples[p.PlayerID], domain.OpponentSample{
					OpponentID:     o.PlayerID,
					OpponentRating: oppR,
					OpponentRD:     oppRD,
					Score:          score,
				})
			}

			pc := counts[p.PlayerID]
			pc.Games++
			switch {
			case p.Placement > best:
				pc.Losses++
			case bestCount == 1:
				pc.Wins++
			default:
				pc.Draws++
			}
			counts[p.PlayerID] = pc
		}
	}

	players := make([]int64, 0, len(playerSet))
	for id := range playerSet {
		players = append(players, id)
	}
	sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })

	return &Snapshot{scope: scope, period: period, samples: samples, counts: counts, players: players}
}

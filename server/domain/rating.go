package domain

import "time"

// RatingTuple is a Glicko-2 state on the display scale (rating around
// 1500), the unit the Kernel accepts and returns (spec.md §4.1).
type RatingTuple struct {
	Rating     float64
	RD         float64
	Volatility float64
}

// OpponentSample is one opponent-outcome record contributed to a focal
// player by one co-participant in one contest (spec.md glossary).
type OpponentSample struct {
	OpponentID     int64
	OpponentRating float64
	OpponentRD     float64
	Score          float64 // 0, 0.5, or 1
}

// PeriodCounts tallies a player's contest participation within one
// period and scope.
type PeriodCounts struct {
	Games  uint32
	Wins   uint32
	Losses uint32
	Draws  uint32
}

// Rating is the current ("latest") rating row for one (player, scope)
// pair, per spec.md §3.
type Rating struct {
	PlayerID      int64
	Scope         Scope
	RatingTuple   RatingTuple
	GamesPlayed   uint64
	LastPeriodEnd time.Time
	UpdatedAt     time.Time
}

// RatingHistoryEntry is an immutable, append-only snapshot of a player's
// rating at the end of one period (spec.md §3).
type RatingHistoryEntry struct {
	PlayerID    int64
	Scope       Scope
	PeriodEnd   time.Time
	RatingTuple RatingTuple
	Counts      PeriodCounts
	CreatedAt   time.Time
}

// DefaultRating returns the baseline RatingTuple a player with no prior
// rating in a scope is assigned (spec.md §4.3).
func DefaultRating(p Params) RatingTuple {
	return RatingTuple{Rating: p.DefaultRating, RD: p.DefaultRD, Volatility: p.DefaultVol}
}

// Params are the Kernel's configurable constants (spec.md §4.1, §6).
type Params struct {
	DefaultRating float64
	DefaultRD     float64
	DefaultVol    float64
	Tau           float64
	Epsilon       float64

	RDMin      float64
	RDMax      float64
	RatingMin  float64
	RatingMax  float64
	SigmaMin   float64
	SigmaMax   float64
}

// DefaultParams returns the spec.md §4.1/§6 defaults.
func DefaultParams() Params {
	return Params{
		DefaultRating: 1500.0,
		DefaultRD:     350.0,
		DefaultVol:    0.06,
		Tau:           0.5,
		Epsilon:       1e-6,
		RDMin:         30.0,
		RDMax:         350.0,
		RatingMin:     500.0,
		RatingMax:     4000.0,
		SigmaMin:      0.01,
		SigmaMax:      0.15,
	}
}

// Clamp enforces the invariant-1 bounds from spec.md §3.
func (p Params) Clamp(t RatingTuple) RatingTuple {
	t.RD = clamp(t.RD, p.RDMin, p.RDMax)
	t.Volatility = clamp(t.Volatility, p.SigmaMin, p.SigmaMax)
	t.Rating = clamp(t.Rating, p.RatingMin, p.RatingMax)
	return t
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package domain

import "errors"

// Sentinel error kinds named by spec.md §7. Components wrap these with
// fmt.Errorf("...: %w", ErrX) and callers discriminate with errors.Is.
var (
	// ErrStoreUnavailable marks a transient storage failure: timeout or
	// connection loss. Retried locally with bounded backoff.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInconsistent marks a history entry that disagrees with a
	// recomputed value for the same (player, scope, period_end) key.
	ErrInconsistent = errors.New("inconsistent history entry")

	// ErrAlreadyRunning marks a recompute request that lost a race for
	// the is_running flag or the per-(scope,period) advisory lock.
	ErrAlreadyRunning = errors.New("recomputation already running")

	// ErrCancelled marks a run that stopped because of an external
	// cancellation signal.
	ErrCancelled = errors.New("recomputation cancelled")

	// ErrNoConvergence marks a volatility solve that did not converge
	// within the iteration cap. Not fatal; the caller falls back to the
	// prior volatility and continues.
	ErrNoConvergence = errors.New("volatility solver did not converge")

	// ErrInvalidInput marks a score or prior state outside the domain
	// the Kernel accepts.
	ErrInvalidInput = errors.New("invalid rating input")

	// ErrNoContests marks an empty period for a scope: nothing to
	// recompute.
	ErrNoContests = errors.New("no contests in period")

	// ErrConflict marks a concurrent writer detected by the store during
	// an upsert (a second process holding the same lock key).
	ErrConflict = errors.New("concurrent writer conflict")
)

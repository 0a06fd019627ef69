// Package scheduler drives the monthly recomputation trigger
// (spec.md §4.5): an hourly tick loop that, once per calendar month at
// a configured hour, recomputes the just-completed month for every
// configured scope — guarded by an in-process mutex plus a
// cross-process advisory lock so at most one process, and at most one
// goroutine within it, ever runs a given period. Grounded on the
// teacher's server/main.go watchSignals/stopFlag/context.CancelFunc
// shutdown idiom and on _examples/haukened-rr-dns's Clock abstraction
// for virtual-time testing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tourneyrating/server/domain"
	"tourneyrating/server/lock"
	"tourneyrating/server/recompute"
	"tourneyrating/server/telemetry/metrics"
)

// RunFunc executes one scope's recompute for period.
type RunFunc func(ctx context.Context, scope domain.Scope, period domain.Month) (recompute.Summary, error)

// Status is a point-in-time snapshot of the scheduler's state.
type Status struct {
	Running     bool
	LastTick    time.Time
	LastRun     time.Time
	LastPeriod  domain.Month
	LastError   string
	LastSummary []recompute.Summary
}

// Healthy reports whether the tick loop is keeping up: degraded iff it
// has not ticked within 2 x the check interval (spec.md §6 Control API).
// A scheduler that has not ticked at all yet counts as healthy.
func (s Status) Healthy(checkInterval time.Duration, now time.Time) bool {
	if s.LastTick.IsZero() {
		return true
	}
	return now.Sub(s.LastTick) <= 2*checkInterval
}

// Scheduler owns the hourly tick loop and the in-process is_running
// guard; Scopes lists every (scope) to recompute on each due tick.
type Scheduler struct {
	clock         Clock
	checkInterval time.Duration
	runHour       int
	runDay        int
	lockTTL       time.Duration
	locker        lock.Lock
	scopes        []domain.Scope
	run           RunFunc

	mu                  sync.Mutex
	running             bool
	lastTick            time.Time
	lastRun             time.Time
	lastCompletedPeriod domain.Month
	hasCompleted        bool
	lastError           string
	lastSummary         []recompute.Summary
}

// Config tunes the tick loop. RunDay defaults to 1 (the 1st of the
// month) when left zero, matching spec.md §6's run_day_of_month
// default.
type Config struct {
	CheckInterval time.Duration
	RunHour       int
	RunDay        int
	LockTTL       time.Duration
}

// DefaultConfig checks hourly and runs at 02:00 UTC on the 1st,
// matching a typical low-traffic batch window.
func DefaultConfig() Config {
	return Config{CheckInterval: time.Hour, RunHour: 2, RunDay: 1, LockTTL: 30 * time.Minute}
}

// New wires a Scheduler from its collaborators.
func New(clock Clock, cfg Config, locker lock.Lock, scopes []domain.Scope, run RunFunc) *Scheduler {
	runDay := cfg.RunDay
	if runDay <= 0 {
		runDay = 1
	}
	return &Scheduler{
		clock:         clock,
		checkInterval: cfg.CheckInterval,
		runHour:       cfg.RunHour,
		runDay:        runDay,
		lockTTL:       cfg.LockTTL,
		locker:        locker,
		scopes:        scopes,
		run:           run,
	}
}

// targetPeriod is the month a tick at now would recompute: the month
// that just closed.
func targetPeriod(now time.Time) domain.Month {
	return domain.MonthOf(now).PreviousMonth()
}

// Start runs the tick loop until ctx is cancelled, mirroring the
// teacher's ctx/cancel lifecycle rather than a separate stop channel.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates whether a monthly run is due and, if so, runs it. Due
// means the scheduled instant for this calendar month (runDay at
// runHour, UTC) has passed and the target month hasn't been completed
// yet — not an exact hour match, so a missed run (process down across
// the scheduled instant) is picked up on the very next tick within the
// same calendar month, per spec.md §4.5's missed-run recovery and §8
// property 8. Safe to call directly from tests driven by a MockClock
// instead of waiting on Start's ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	metrics.SchedulerTick.Inc()
	now := s.clock.Now()
	period := targetPeriod(now)
	scheduledInstant := time.Date(now.Year(), now.Month(), s.runDay, s.runHour, 0, 0, 0, time.UTC)

	s.mu.Lock()
	s.lastTick = now
	monthNotDone := !s.hasCompleted || s.lastCompletedPeriod.Before(period)
	due := !s.running && monthNotDone && !now.Before(scheduledInstant)
	if !due {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.runPeriod(ctx, period, true)
}

// Trigger runs period (or, if nil, the current target period) right
// now, bypassing the hourly schedule. It returns domain.ErrAlreadyRunning
// if this process is already mid-run. A manual trigger of anything
// other than the current target period is a backfill replay: per
// spec.md §4.5, it must not move last_run or the scheduler's completion
// watermark, or a backfill of an older month would make the next tick
// think the current month is still outstanding and re-run it.
func (s *Scheduler) Trigger(ctx context.Context, period *domain.Month) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	p := targetPeriod(s.clock.Now())
	isScheduledPeriod := true
	if period != nil {
		isScheduledPeriod = *period == p
		p = *period
	}
	return s.runPeriod(ctx, p, isScheduledPeriod)
}

// TriggerAsync performs the same running-flag check and period
// classification as Trigger, but spawns the actual recompute in a
// detached goroutine (its own background context, outlasting any HTTP
// request that initiated it) and returns immediately. This is what the
// Control Surface's manual-trigger endpoint uses so a long batch never
// blocks the request goroutine (spec.md §4.5/§4.6).
func (s *Scheduler) TriggerAsync(period *domain.Month) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	p := targetPeriod(s.clock.Now())
	isScheduledPeriod := true
	if period != nil {
		isScheduledPeriod = *period == p
		p = *period
	}
	go func() {
		_ = s.runPeriod(context.Background(), p, isScheduledPeriod)
	}()
	return nil
}

func (s *Scheduler) runPeriod(ctx context.Context, period domain.Month, isScheduledPeriod bool) error {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var summaries []recompute.Summary
	var runErr error

	for _, scope := range s.scopes {
		key := lock.Key(scope, period)
		held, release, err := s.locker.TryAcquire(ctx, key, s.lockTTL)
		if err != nil {
			runErr = fmt.Errorf("acquire advisory lock for %s: %w", key, err)
			metrics.SchedulerRunFailed.WithLabelValues("lock").Inc()
			break
		}
		if !held {
			// Another process already owns this scope/period; not an error.
			continue
		}

		metrics.SchedulerRunStarted.WithLabelValues(scope.Key()).Inc()
		runStart := s.clock.Now()
		summary, err := s.run(ctx, scope, period)
		release(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNoContests) {
				continue
			}
			runErr = fmt.Errorf("recompute %s %s: %w", scope, period, err)
			metrics.SchedulerRunFailed.WithLabelValues(errorKind(err)).Inc()
			break
		}
		metrics.SchedulerRunCompleted.WithLabelValues(scope.Key()).Inc()
		metrics.SchedulerRunDuration.WithLabelValues(scope.Key()).Observe(s.clock.Now().Sub(runStart).Seconds())
		metrics.SchedulerRunPlayersUpdated.WithLabelValues(scope.Key()).Observe(float64(summary.PlayersUpdated))
		summaries = append(summaries, summary)
	}

	s.mu.Lock()
	s.lastSummary = summaries
	if runErr != nil {
		s.lastError = runErr.Error()
	} else {
		s.lastError = ""
		if isScheduledPeriod {
			s.lastRun = s.clock.Now()
			s.lastCompletedPeriod = period
			s.hasCompleted = true
		}
	}
	s.mu.Unlock()

	return runErr
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, domain.ErrInconsistent):
		return "inconsistent"
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled"
	default:
		return "other"
	}
}

// Status returns a snapshot of the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:     s.running,
		LastTick:    s.lastTick,
		LastRun:     s.lastRun,
		LastPeriod:  s.lastCompletedPeriod,
		LastError:   s.lastError,
		LastSummary: s.lastSummary,
	}
}

// CheckInterval exposes the configured tick period for health checks and
// next-scheduled-run estimates.
func (s *Scheduler) CheckInterval() time.Duration { return s.checkInterval }

// NextScheduledRun estimates the next scheduled instant (runDay at
// runHour, UTC) at or after now.
func (s *Scheduler) NextScheduledRun() time.Time {
	now := s.clock.Now()
	next := time.Date(now.Year(), now.Month(), s.runDay, s.runHour, 0, 0, 0, time.UTC)
	if !next.Before(now) {
		return next
	}
	return time.Date(now.Year(), now.Month(), 1, s.runHour, 0, 0, 0, time.UTC).AddDate(0, 1, 0).AddDate(0, 0, s.runDay-1)
}

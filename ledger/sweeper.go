/*
sweeper.go - Batch expiration of past-due credits

PURPOSE:
  Finds active credits whose expiration date has passed and transitions
  them to expired through the same engine path as every other state
  change - no shortcut mutation.

PARTIAL FAILURE:
  One bad credit does not stop the sweep. Failures are recorded per
  credit and reported in the result; the batch continues.

IDEMPOTENCE:
  Re-running a sweep expires nothing extra: already-expired credits are
  no longer active, so ListExpired skips them, and any race inside the
  batch resolves to ErrAlreadyTerminal, which counts as skipped rather
  than failed.

SEE ALSO:
  - engine.go: expire (the only caller of which is this sweeper)
  - api/scheduler.go: Timer that drives SweepExpired on an interval
*/
package ledger

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// SWEEPER
// =============================================================================

// Sweeper batch-expires past-due credits and emits expiring-soon events.
type Sweeper struct {
	store   CreditStore
	engine  *Engine
	hooks   *HookDispatcher
	metrics *Metrics
	log     *logrus.Entry
}

func NewSweeper(store CreditStore, engine *Engine, opts EngineOptions) *Sweeper {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Sweeper{
		store:   store,
		engine:  engine,
		hooks:   NewHookDispatcher(opts.Hook, log),
		metrics: opts.Metrics,
		log:     log.WithField("component", "sweeper"),
	}
}

// SweepFailure records one credit the sweep could not expire.
type SweepFailure struct {
	CreditID CreditID
	Err      error
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	ExpiredCount int
	SkippedCount int // Already terminal by the time the batch reached them
	Failures     []SweepFailure
}

// SweepExpired expires every active credit whose expiration date is at or
// before now. Per-credit failures are collected, not fatal; the returned
// error covers only the inability to list candidates.
func (s *Sweeper) SweepExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	candidates, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return result, err
	}

	for _, credit := range candidates {
		_, _, err := s.engine.expire(ctx, credit.ID, now)
		switch {
		case err == nil:
			result.ExpiredCount++
		case errors.Is(err, ErrAlreadyTerminal), errors.Is(err, ErrCreditNotActive):
			// Lost the race to a concurrent redeem/cancel/sweep. Fine.
			result.SkippedCount++
		default:
			result.Failures = append(result.Failures, SweepFailure{CreditID: credit.ID, Err: err})
			s.log.WithError(err).WithField("credit_id", credit.ID).Error("failed to expire credit")
		}
	}

	s.metrics.observeSweep(result.ExpiredCount, len(result.Failures), time.Now())
	s.log.WithFields(logrus.Fields{
		"expired": result.ExpiredCount,
		"skipped": result.SkippedCount,
		"failed":  len(result.Failures),
	}).Info("sweep completed")

	return result, nil
}

// NotifyExpiring fires OnExpiring for every active credit expiring within
// the window. Best-effort; returns how many notifications were dispatched.
func (s *Sweeper) NotifyExpiring(ctx context.Context, now time.Time, within time.Duration) (int, error) {
	candidates, err := s.store.ListExpiring(ctx, now, within)
	if err != nil {
		return 0, err
	}

	events := make([]Event, 0, len(candidates))
	for _, credit := range candidates {
		days := int(math.Ceil(credit.ExpirationDate.Sub(now).Hours() / 24))
		events = append(events, ExpiringEvent{CreditID: credit.ID, DaysUntil: days})
	}
	s.hooks.DispatchSync(events)
	return len(events), nil
}

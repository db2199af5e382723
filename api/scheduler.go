/*
scheduler.go - Automated expiration sweep scheduler

PURPOSE:
  Periodically runs the expiration sweep so credits past their
  expiration date move to EXPIRED without operator intervention, and
  fires expiring-soon notifications for credits inside the warning
  window.

DESIGN:
  - Runs a background goroutine with configurable sweep interval
  - Each tick expires due credits, then notifies about upcoming ones
  - A failed credit never aborts the batch; failures are logged and
    retried on the next tick

CONFIGURATION:
  - Interval:       How often to sweep (default: 1 hour)
  - ExpiringWindow: Look-ahead for expiring-soon notices (default: 7 days)
  - Enabled:        Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSweepScheduler(sweeper, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual trigger)
  - ledger/sweeper.go: Sweep implementation
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/credit-ledger/ledger"
)

// SweepScheduler runs the expiration sweep on a fixed interval.
type SweepScheduler struct {
	Sweeper        *ledger.Sweeper
	Interval       time.Duration
	ExpiringWindow time.Duration
	Enabled        bool

	log    *logrus.Entry
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a scheduler with default timing.
func NewSweepScheduler(sweeper *ledger.Sweeper, log *logrus.Entry) *SweepScheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &SweepScheduler{
		Sweeper:        sweeper,
		Interval:       1 * time.Hour,
		ExpiringWindow: 7 * 24 * time.Hour,
		Enabled:        true,
		log:            log.WithField("component", "sweep-scheduler"),
		stop:           make(chan bool),
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run()

	s.log.WithField("interval", s.Interval).Info("started")
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info("stopped")
	}
}

func (s *SweepScheduler) run() {
	defer s.wg.Done()

	// Sweep immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *SweepScheduler) sweep() {
	ctx := context.Background()
	now := time.Now()

	result, err := s.Sweeper.SweepExpired(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("sweep failed")
		return
	}
	if result.ExpiredCount > 0 || result.SkippedCount > 0 || len(result.Failures) > 0 {
		s.log.WithFields(logrus.Fields{
			"expired": result.ExpiredCount,
			"skipped": result.SkippedCount,
			"failed":  len(result.Failures),
		}).Info("sweep completed")
	}
	for _, f := range result.Failures {
		s.log.WithField("credit_id", f.CreditID).WithError(f.Err).Warn("credit not expired, will retry next tick")
	}

	if s.ExpiringWindow > 0 {
		if _, err := s.Sweeper.NotifyExpiring(ctx, now, s.ExpiringWindow); err != nil {
			s.log.WithError(err).Warn("expiring-soon notifications failed")
		}
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *SweepScheduler) RunNow() {
	s.sweep()
}

// NextRunTime returns when the next scheduled sweep will occur.
func (s *SweepScheduler) NextRunTime() time.Time {
	return time.Now().Add(s.Interval)
}

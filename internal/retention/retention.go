// Package retention deletes expired messages and heartbeats on a schedule.
// Each run is idempotent and best-effort: a failed deletion is logged and the
// sweep continues with the remaining entries.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"driftchat/pkg/config"
	"driftchat/pkg/history"
	"driftchat/pkg/logger"
	"driftchat/pkg/metrics"
	"driftchat/pkg/storage"
)

// Sweeper owns one retention schedule over the pull store and, optionally,
// the broker's durable history.
type Sweeper struct {
	store  *storage.Store
	hist   *history.History // may be nil
	period time.Duration
	cron   string
}

// New builds a sweeper. period is how long messages and heartbeats are kept.
func New(store *storage.Store, hist *history.History, period time.Duration, cron string) *Sweeper {
	if cron == "" {
		cron = config.DefaultRetentionCron
	}
	if period <= 0 {
		period = config.DefaultRetentionPeriod
	}
	return &Sweeper{store: store, hist: hist, period: period, cron: cron}
}

// Start starts the retention scheduler. Returns a cancel func; the scheduler
// goroutine exits on cancellation or when ctx is done.
func (s *Sweeper) Start(ctx context.Context) (context.CancelFunc, error) {
	if !gronx.IsValid(s.cron) {
		logger.Error("retention_invalid_cron", "cron", s.cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", s.cron)
	}
	logger.Info("retention_enabled", "cron", s.cron, "period", s.period.String())
	ctx2, cancel := context.WithCancel(ctx)
	go s.runScheduler(ctx2)
	return cancel, nil
}

// runScheduler computes the next tick for the configured cron expression via
// gronx and sleeps until that time. Full cron syntax is supported.
func (s *Sweeper) runScheduler(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(s.cron, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", s.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			s.runAndLog()
			// small sleep to avoid a tight loop on a due-now tick
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			s.runAndLog()
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

func (s *Sweeper) runAndLog() {
	if _, err := s.RunOnce(time.Now().UTC()); err != nil {
		metrics.SweepErrors.Inc()
		logger.Error("retention_run_error", "error", err)
	}
}

// RunOnce sweeps everything older than now-period and returns the number of
// deleted entries. Running it twice with the same cutoff deletes nothing
// extra the second time.
func (s *Sweeper) RunOnce(now time.Time) (int, error) {
	return s.SweepBefore(now.Add(-s.period))
}

// SweepBefore deletes entries older than cutoff from the pull store and the
// durable history. A history failure does not abort the store sweep, and
// vice versa.
func (s *Sweeper) SweepBefore(cutoff time.Time) (int, error) {
	start := time.Now()
	total := 0
	var firstErr error

	n, err := s.store.Sweep(cutoff)
	total += n
	if err != nil {
		firstErr = err
		logger.Error("store_sweep_failed", "error", err)
	}

	if s.hist != nil {
		hn, herr := s.hist.SweepBefore(cutoff)
		total += hn
		if herr != nil {
			if firstErr == nil {
				firstErr = herr
			}
			logger.Error("history_sweep_failed", "error", herr)
		}
	}

	metrics.SweepDeleted.Add(float64(total))
	logger.Info("retention_sweep_done",
		"cutoff", cutoff.UTC().Format(time.RFC3339),
		"deleted", total,
		"took", time.Since(start).String())
	return total, firstErr
}

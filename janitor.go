package scanguard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Janitor periodically evicts idle tracker entries and expired bans. Every
// sweep is idempotent, so stopping mid-run leaves no partial state.
type Janitor struct {
	guard   *Guard
	cfg     JanitorConfig
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewJanitor(guard *Guard, cfg JanitorConfig, logger *slog.Logger, metrics *Metrics) *Janitor {
	if cfg.TrackerInterval <= 0 {
		cfg.TrackerInterval = Duration(time.Minute)
	}
	if cfg.BanInterval <= 0 {
		cfg.BanInterval = Duration(time.Hour)
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = Duration(IdleEviction)
	}
	return &Janitor{
		guard:   guard,
		cfg:     cfg,
		metrics: metrics,
		logger:  componentLogger(logger, "janitor"),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately; the loop ends when
// ctx is cancelled or Stop is called.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return
	}
	j.started = true
	j.wg.Add(1)
	go j.loop(ctx)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	select {
	case <-j.stopCh:
	default:
		close(j.stopCh)
	}
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	initial := time.NewTimer(j.cfg.InitialDelay.Duration())
	defer initial.Stop()
	trackers := time.NewTicker(j.cfg.TrackerInterval.Duration())
	defer trackers.Stop()
	bans := time.NewTicker(j.cfg.BanInterval.Duration())
	defer bans.Stop()

	for {
		select {
		case <-initial.C:
			j.SweepTrackers()
			j.SweepBans(ctx)
		case <-trackers.C:
			j.SweepTrackers()
		case <-bans.C:
			j.SweepBans(ctx)
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		}
	}
}

// SweepTrackers drops idle rate-window and escalation entries.
func (j *Janitor) SweepTrackers() int {
	now := j.now()
	idle := j.cfg.IdleAfter.Duration()
	rate := j.guard.rate.Sweep(now, idle)
	esc := j.guard.escalation.Sweep(now, idle)

	j.metrics.AddSwept("rate_window", rate)
	j.metrics.AddSwept("escalation", esc)
	j.metrics.SetTracked("rate_window", j.guard.rate.Len())
	j.metrics.SetTracked("escalation", j.guard.escalation.Len())
	if rate+esc > 0 {
		j.logger.Debug("tracker_cleanup", "rate_window", rate, "escalation", esc)
	}
	return rate + esc
}

// SweepBans deletes expired bans from the store.
func (j *Janitor) SweepBans(ctx context.Context) (int, error) {
	removed, err := j.guard.store.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error("ban_cleanup_failed", "error", err)
		return removed, err
	}
	j.metrics.AddSwept("bans", removed)
	if removed > 0 {
		j.logger.Info("ban_cleanup", "removed", removed)
	}
	return removed, nil
}

package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vkchatbot/vkchatbot/internal/config"
)

// Pruner deletes message rows older than a cutoff.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff float64) (int64, error)
}

// Retention runs the scheduled retention job. With RetentionDays 0 the job is
// disabled and Start is a no-op.
type Retention struct {
	logger   *slog.Logger
	pruner   Pruner
	cron     *cron.Cron
	schedule string
	window   time.Duration
	now      func() time.Time
}

// NewRetention creates the retention job from config.
func NewRetention(log *slog.Logger, pruner Pruner, cfg config.MaintenanceConfig) *Retention {
	if log == nil {
		log = slog.Default()
	}
	return &Retention{
		logger:   log.With(slog.String("service", "maintenance")),
		pruner:   pruner,
		schedule: cfg.PruneSchedule,
		window:   time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

// Start registers and launches the cron schedule.
func (r *Retention) Start() error {
	if r.window <= 0 {
		r.logger.Info("message retention disabled")
		return nil
	}
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		r.Prune(ctx)
	}); err != nil {
		return fmt.Errorf("schedule retention job: %w", err)
	}
	r.cron.Start()
	r.logger.Info("message retention scheduled",
		slog.String("schedule", r.schedule),
		slog.Duration("window", r.window),
	)
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Retention) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Prune deletes rows older than the retention window. Failures are logged,
// never fatal.
func (r *Retention) Prune(ctx context.Context) {
	cutoff := float64(r.now().Add(-r.window).UnixNano()) / 1e9
	deleted, err := r.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention prune failed", slog.Any("error", err))
		return
	}
	if deleted > 0 {
		r.logger.Info("pruned old messages", slog.Int64("deleted", deleted))
	}
}

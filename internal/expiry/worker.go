package expiry

import (
	"context"
	"log/slog"
	"time"

	"slotwise/internal/storage"
)

// Worker cancels PENDING bookings the host never answered. Each batch runs
// under FOR UPDATE SKIP LOCKED so multiple replicas can tick concurrently.
type Worker struct {
	repo      *storage.Repository
	logger    *slog.Logger
	now       func() time.Time
	interval  time.Duration
	maxAge    time.Duration
	batchSize int
}

type Config struct {
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

func NewWorker(repo *storage.Repository, logger *slog.Logger, now func() time.Time, cfg Config) *Worker {
	if now == nil {
		now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 72 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		repo:      repo,
		logger:    logger,
		now:       now,
		interval:  cfg.Interval,
		maxAge:    cfg.MaxAge,
		batchSize: cfg.BatchSize,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("expiry batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	cutoff := w.now().UTC().Add(-w.maxAge)
	expired, err := w.repo.ExpireStalePending(ctx, cutoff, w.batchSize)
	if err != nil {
		return err
	}
	for _, b := range expired {
		w.logger.Info("expired stale pending booking",
			"booking_id", b.ID, "host_id", b.HostID, "created_at", b.CreatedAt)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const schedulerBatchSize = 100

// Scheduler periodically syncs active connections whose last sync is older than the interval.
// Connections that failed on rejected credentials wait for the user to reconnect.
type Scheduler struct {
	syncs       *SyncService
	interval    time.Duration
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewScheduler creates a scheduler; a non-positive interval disables it
func NewScheduler(syncs *SyncService, interval time.Duration, concurrency int, logger *zap.Logger) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		syncs:       syncs,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Enabled reports whether the scheduler has an interval
func (s *Scheduler) Enabled() bool {
	return s.interval > 0
}

// Run ticks until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	if !s.Enabled() {
		return
	}

	s.logger.Info("Sync scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync scheduler stopped")
			return
		case <-ticker.C:
			if n, err := s.Tick(ctx); err != nil {
				s.logger.Error("Scheduled sync round failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("Scheduled sync round finished", zap.Int("connections", n))
			}
		}
	}
}

// Tick syncs every due connection once and returns how many runs it started
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.syncs.Connections.ListDue(ctx, now.Add(-s.interval), now.Add(-s.syncs.settings.Timeout), schedulerBatchSize)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	started := 0
	for _, conn := range due {
		if gctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			// run failures are recorded on the connection by the run itself
			if _, err := s.syncs.SyncConnection(gctx, conn); errors.Is(err, domain.ErrAlreadySyncing) {
				s.logger.Debug("Connection already syncing", zap.String("connection_id", conn.ID))
			}
			return nil
		})
	}

	return started, g.Wait()
}

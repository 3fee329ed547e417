package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/sessiond/internal/auth/store"
)

// HousekeepingService periodically reclaims expired KV rows on backends
// without native expiry. Expired rows are already invisible to reads, the
// sweep only stops the table from growing.
type HousekeepingService struct {
	Sweeper  store.Sweeper
	Logger   *slog.Logger
	Interval time.Duration
	Timeout  time.Duration // per sweep, defaults to one minute

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(sweeper store.Sweeper, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Sweeper:  sweeper,
		Logger:   logger,
		Interval: interval,
		Timeout:  time.Minute,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.Cleanup()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs one sweep and returns how many rows went.
func (s *HousekeepingService) Cleanup() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	start := time.Now()
	n, err := s.Sweeper.DeleteExpired(ctx)
	if err != nil {
		s.Logger.Error("failed to delete expired session keys", "error", err)
		return 0
	}

	s.Logger.Info("housekeeping cleanup completed",
		"deleted", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return n
}

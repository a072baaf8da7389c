package service

import (
	"context"
	"time"

	"whatstopic/internal/constants"

	"github.com/sirupsen/logrus"
)

// MediaSweeper removes temp media files older than maxAge.
type MediaSweeper interface {
	CleanupOldFiles(maxAge time.Duration) (int, error)
}

// Scheduler periodically sweeps orphaned media from the cache directory.
type Scheduler struct {
	sweeper   MediaSweeper
	retention time.Duration
	interval  time.Duration
	logger    *logrus.Logger
	stopCh    chan struct{}
}

func NewScheduler(sweeper MediaSweeper, retentionHours, intervalMinutes int, logger *logrus.Logger) *Scheduler {
	if retentionHours <= 0 {
		retentionHours = constants.DefaultMediaRetentionHours
	}
	if intervalMinutes <= 0 {
		intervalMinutes = constants.DefaultMediaCleanupInterval
	}
	return &Scheduler{
		sweeper:   sweeper,
		retention: time.Duration(retentionHours) * time.Hour,
		interval:  time.Duration(intervalMinutes) * time.Minute,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("Starting media cleanup scheduler")

	s.runCleanup()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup() {
	removed, err := s.sweeper.CleanupOldFiles(s.retention)
	if err != nil {
		s.logger.WithError(err).Error("Failed to clean up media cache")
		return
	}
	if removed > 0 {
		s.logger.WithField(LogFieldCount, removed).Info("Removed orphaned media files")
	}
}

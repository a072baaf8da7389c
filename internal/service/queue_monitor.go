package service

import (
	"context"
	"time"

	"whatstopic/internal/metrics"

	"github.com/sirupsen/logrus"
)

// QueueStatsSource reports per-key queue state.
type QueueStatsSource interface {
	QueueStats() QueueStats
}

// QueueMonitor publishes queue gauges and warns about keys whose current item
// has been running longer than the stuck threshold.
type QueueMonitor struct {
	source         QueueStatsSource
	checkInterval  time.Duration
	stuckThreshold time.Duration
	logger         *logrus.Logger
	stopCh         chan struct{}
}

func NewQueueMonitor(source QueueStatsSource, checkInterval, stuckThreshold time.Duration, logger *logrus.Logger) *QueueMonitor {
	return &QueueMonitor{
		source:         source,
		checkInterval:  checkInterval,
		stuckThreshold: stuckThreshold,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

func (m *QueueMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"check_interval":  m.checkInterval,
		"stuck_threshold": m.stuckThreshold,
	}).Info("Starting queue monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *QueueMonitor) Stop() {
	close(m.stopCh)
}

func (m *QueueMonitor) check() {
	stats := m.source.QueueStats()
	metrics.SetGauge(metrics.QueueActiveKeys, float64(stats.ActiveKeys), nil, "Conversations with a live queue worker")
	metrics.SetGauge(metrics.QueueBacklog, float64(stats.Backlog), nil, "Items waiting across all queues")

	var oldest time.Duration
	for _, k := range stats.Keys {
		if k.BusyFor > oldest {
			oldest = k.BusyFor
		}
		if m.stuckThreshold > 0 && k.BusyFor > m.stuckThreshold {
			m.logger.WithFields(logrus.Fields{
				LogFieldQueueKey: k.Key,
				"depth":          k.Depth,
				"busy_for":       k.BusyFor.String(),
			}).Warn("Queue item running longer than expected")
		}
	}
	metrics.SetGauge(metrics.QueueOldestItemSec, oldest.Seconds(), nil, "Longest running item across queues")
}

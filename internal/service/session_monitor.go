package service

import (
	"context"
	"sync"
	"time"

	"whatstopic/internal/constants"
	"whatstopic/internal/metrics"
	"whatstopic/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// SessionStatusClient reports the WAHA session state.
type SessionStatusClient interface {
	GetSessionStatus(ctx context.Context) (*types.Session, error)
}

// SessionMonitor watches the WhatsApp session and warns when it stays out of
// WORKING for longer than the startup timeout.
type SessionMonitor struct {
	client         SessionStatusClient
	logger         *logrus.Logger
	checkInterval  time.Duration
	startupTimeout time.Duration

	mu          sync.Mutex
	lastStatus  types.SessionStatus
	statusSince time.Time
	warned      bool
	running     bool
	stopCh      chan struct{}
	now         func() time.Time
}

func NewSessionMonitor(client SessionStatusClient, logger *logrus.Logger, checkInterval, startupTimeout time.Duration) *SessionMonitor {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	if startupTimeout <= 0 {
		startupTimeout = 2 * time.Minute
	}
	return &SessionMonitor{
		client:         client,
		logger:         logger,
		checkInterval:  checkInterval,
		startupTimeout: startupTimeout,
		now:            time.Now,
	}
}

func (sm *SessionMonitor) Start(ctx context.Context) {
	sm.mu.Lock()
	if sm.running {
		sm.mu.Unlock()
		sm.logger.Warn("Session monitor is already running")
		return
	}
	sm.running = true
	sm.stopCh = make(chan struct{})
	stopCh := sm.stopCh
	sm.mu.Unlock()

	go sm.monitorLoop(ctx, stopCh)
	sm.logger.Info("Session monitor started")
}

func (sm *SessionMonitor) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.running {
		return
	}
	close(sm.stopCh)
	sm.running = false
	sm.logger.Info("Session monitor stopped")
}

func (sm *SessionMonitor) monitorLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(sm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			sm.check(ctx)
		}
	}
}

func (sm *SessionMonitor) check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultHTTPTimeoutSec)*time.Second)
	defer cancel()

	status := types.SessionStatus("UNREACHABLE")
	session, err := sm.client.GetSessionStatus(checkCtx)
	if err != nil {
		sm.logger.WithError(err).Debug("Failed to get session status")
	} else {
		status = session.Status
	}
	sm.observe(status)
}

// observe records a status sample and reports transitions.
func (sm *SessionMonitor) observe(status types.SessionStatus) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	healthy := status == types.SessionStatusWorking
	gauge := 0.0
	if healthy {
		gauge = 1
	}
	metrics.SetGauge("whatsapp_session_healthy", gauge, nil, "1 while the WhatsApp session is WORKING")

	if status != sm.lastStatus {
		sm.logger.WithFields(logrus.Fields{
			"from": string(sm.lastStatus),
			"to":   string(status),
		}).Info("WhatsApp session status changed")
		sm.lastStatus = status
		sm.statusSince = now
		sm.warned = false
		return
	}

	if !healthy && !sm.warned && now.Sub(sm.statusSince) > sm.startupTimeout {
		sm.warned = true
		sm.logger.WithFields(logrus.Fields{
			"status":   string(status),
			"duration": now.Sub(sm.statusSince).String(),
		}).Warn("WhatsApp session is not working; inbound messages are not arriving")
	}
}

// Status returns the last observed status and how long it has held.
func (sm *SessionMonitor) Status() (types.SessionStatus, time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.statusSince.IsZero() {
		return sm.lastStatus, 0
	}
	return sm.lastStatus, sm.now().Sub(sm.statusSince)
}

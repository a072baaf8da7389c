package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"whatstopic/internal/constants"
	"whatstopic/internal/models"
	"whatstopic/pkg/telegram"

	"github.com/sirupsen/logrus"
)

// UpdatesClient long-polls the Bot API.
type UpdatesClient interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]telegram.Update, error)
}

// UpdateHandler consumes one destination update.
type UpdateHandler interface {
	HandleDestinationUpdate(ctx context.Context, update *telegram.Update) error
}

// TelegramPoller feeds Telegram updates to the bridge.
type TelegramPoller struct {
	client      UpdatesClient
	handler     UpdateHandler
	config      models.TelegramConfig
	retryConfig models.RetryConfig
	logger      *logrus.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	offset      int64
	mu          sync.RWMutex
}

func NewTelegramPoller(client UpdatesClient, handler UpdateHandler, telegramConfig models.TelegramConfig, retryConfig models.RetryConfig, logger *logrus.Logger) *TelegramPoller {
	if telegramConfig.PollTimeoutSec <= 0 {
		telegramConfig.PollTimeoutSec = constants.DefaultTelegramPollTimeout
	}
	if retryConfig.InitialBackoffMs <= 0 {
		retryConfig.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if retryConfig.MaxBackoffMs <= 0 {
		retryConfig.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	return &TelegramPoller{
		client:      client,
		handler:     handler,
		config:      telegramConfig,
		retryConfig: retryConfig,
		logger:      logger,
	}
}

// Start begins long polling in the background.
func (tp *TelegramPoller) Start(ctx context.Context) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.running {
		return fmt.Errorf("telegram poller is already running")
	}

	if !tp.config.PollingEnabled {
		tp.logger.Info("Telegram polling is disabled in configuration")
		return nil
	}

	tp.ctx, tp.cancel = context.WithCancel(ctx)
	tp.running = true

	tp.wg.Add(1)
	go tp.pollLoop()

	tp.logger.WithField("poll_timeout_sec", tp.config.PollTimeoutSec).Info("Telegram poller started")
	return nil
}

// Stop cancels the pending long poll and waits for the loop to exit.
func (tp *TelegramPoller) Stop() {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if !tp.running {
		return
	}

	tp.logger.Info("Stopping Telegram poller...")
	tp.cancel()
	tp.wg.Wait()
	tp.running = false
	tp.logger.Info("Telegram poller stopped")
}

func (tp *TelegramPoller) IsRunning() bool {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return tp.running
}

func (tp *TelegramPoller) pollLoop() {
	defer tp.wg.Done()

	initial := time.Duration(tp.retryConfig.InitialBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(tp.retryConfig.MaxBackoffMs) * time.Millisecond
	backoff := initial

	for {
		if tp.ctx.Err() != nil {
			return
		}

		err := tp.pollOnce(tp.ctx)
		if err == nil {
			backoff = initial
			continue
		}
		if tp.ctx.Err() != nil {
			return
		}

		tp.logger.WithError(err).WithField("backoff", backoff.String()).Warn("Telegram polling failed, retrying")
		select {
		case <-tp.ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// pollOnce fetches one batch and hands every update to the bridge. The offset
// advances past each update whether or not it was accepted.
func (tp *TelegramPoller) pollOnce(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(tp.config.PollTimeoutSec+10)*time.Second)
	defer cancel()

	updates, err := tp.client.GetUpdates(pollCtx, tp.offset, tp.config.PollTimeoutSec)
	if err != nil {
		return err
	}

	for i := range updates {
		update := &updates[i]
		if update.UpdateID >= tp.offset {
			tp.offset = update.UpdateID + 1
		}
		if err := tp.handler.HandleDestinationUpdate(ctx, update); err != nil {
			tp.logger.WithError(err).WithField("update_id", update.UpdateID).Warn("Failed to accept Telegram update")
		}
	}
	return nil
}

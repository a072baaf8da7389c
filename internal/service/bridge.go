package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"whatstopic/internal/cache"
	"whatstopic/internal/constants"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/extension"
	"whatstopic/internal/metrics"
	"whatstopic/internal/models"
	"whatstopic/internal/retry"
	"whatstopic/internal/tracing"
	"whatstopic/pkg/telegram"
	"whatstopic/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ControllerConfig tunes a Controller
type ControllerConfig struct {
	GroupChatID      int64
	OperatorThreadID int64
	Enabled          bool
	Queue            QueueConfig
	Retry            models.RetryConfig
	Timeouts         models.TimeoutConfig
}

// ControllerDeps are the collaborators of a Controller. Extensions and
// Operator are optional.
type ControllerDeps struct {
	Store      MappingRepository
	Topics     *TopicManager
	Contacts   *ContactService
	Translator *Translator
	Notifier   *DeliveryNotifier
	Operator   *OperatorNotifier
	Replies    cache.ReplyIndex
	Dedup      cache.Deduper
	Extensions *extension.Registry
}

// Controller accepts events from both platforms and delivers each through a
// per-conversation queue.
type Controller struct {
	deps    ControllerDeps
	cfg     ControllerConfig
	queue   *KeyedQueue
	enabled atomic.Bool
	closing atomic.Bool
	logger  *logrus.Logger
	now     func() time.Time
}

func NewController(deps ControllerDeps, cfg ControllerConfig, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if cfg.Retry.InitialBackoffMs <= 0 {
		cfg.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if cfg.Retry.MaxBackoffMs <= 0 {
		cfg.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if cfg.Timeouts.SendSec <= 0 {
		cfg.Timeouts.SendSec = constants.DefaultSendTimeoutSec
	}
	if cfg.Timeouts.MediaSec <= 0 {
		cfg.Timeouts.MediaSec = constants.DefaultMediaTimeoutSec
	}
	if cfg.Timeouts.StoreSec <= 0 {
		cfg.Timeouts.StoreSec = constants.DefaultStoreTimeoutSec
	}

	c := &Controller{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	c.enabled.Store(cfg.Enabled)
	c.queue = NewKeyedQueue(cfg.Queue, c.process, logger)
	return c
}

// UseExtensions attaches a registry built with the controller as its host.
// Call it before events start flowing.
func (c *Controller) UseExtensions(reg *extension.Registry) {
	c.deps.Extensions = reg
}

// Logger and SendNotice make the controller an extension.Host.
func (c *Controller) Logger() *logrus.Logger { return c.logger }

func (c *Controller) SendNotice(ctx context.Context, topicID int64, text string) error {
	return c.deps.Translator.SendNotice(ctx, topicID, text)
}

// HandleSourceEvent accepts one WAHA event.
func (c *Controller) HandleSourceEvent(ctx context.Context, event *types.WebhookEvent) error {
	env, err := Normalize(event)
	if err != nil {
		return err
	}
	if env == nil {
		return nil
	}
	return c.Submit(ctx, env)
}

// HandleDestinationUpdate accepts one Telegram update from the forum group.
func (c *Controller) HandleDestinationUpdate(ctx context.Context, update *telegram.Update) error {
	env, err := NormalizeDestination(update, c.cfg.GroupChatID)
	if err != nil || env == nil {
		return err
	}

	if env.Kind == models.KindText && c.deps.Extensions != nil && extension.IsCommand(env.TextOrCaption) {
		c.runCommand(ctx, env)
		return nil
	}

	// Reactions carry no thread; find it through the message they target.
	if env.Kind == models.KindReaction && env.DestinationTopicID == 0 {
		if entry, err := c.deps.Replies.LookupByDestination(ctx, env.DestinationMessageID); err == nil && entry != nil {
			env.DestinationTopicID = entry.TopicID
			env.SourceChatID = entry.SourceChatID
		}
	}
	return c.Submit(ctx, env)
}

// Submit claims the event for dedup and queues it under its ordering key.
func (c *Controller) Submit(ctx context.Context, env *models.MessageEnvelope) error {
	item := models.NewPendingDelivery(env, c.cfg.Retry.MaxAttempts)
	if c.closing.Load() {
		LogOutcome(ctx, c.logger, item, models.OutcomeDropped, "shutdown", nil)
		return apperrors.ErrShuttingDown
	}
	if !c.IsEnabled() {
		c.finish(ctx, item, models.OutcomeFiltered, "bridge disabled", models.DeliveryResult{}, nil)
		return nil
	}

	claimed, err := c.deps.Dedup.Claim(ctx, env.DedupKey())
	if err != nil {
		c.logger.WithError(err).Warn("Dedup check failed, delivering anyway")
		claimed = true
	}
	if !claimed {
		c.finish(ctx, item, models.OutcomeDuplicate, "", models.DeliveryResult{}, nil)
		return nil
	}

	if err := c.queue.Submit(ctx, env.QueueKey(), item); err != nil {
		c.release(ctx, env)
		reason := "queue_full"
		if errors.Is(err, apperrors.ErrShuttingDown) {
			reason = "shutdown"
		}
		c.finish(ctx, item, models.OutcomeDropped, reason, models.DeliveryResult{}, err)
		return err
	}
	return nil
}

// process is the queue worker for one item.
func (c *Controller) process(ctx context.Context, item *models.PendingDelivery) {
	env := item.Envelope
	ctx = tracing.WithDeliveryID(ctx, item.ID)
	ctx, span := tracing.StartSpan(ctx, "bridge.deliver",
		attribute.String("direction", string(env.Direction)),
		attribute.String("kind", string(env.Kind)),
	)
	defer span.End()

	if c.deps.Extensions != nil {
		verdict, by, err := c.deps.Extensions.RunHooks(ctx, env)
		if err != nil {
			c.logger.WithError(err).WithField(LogFieldComponent, by).Warn("Extension hook failed, continuing")
		} else if verdict == extension.Drop {
			c.finish(ctx, item, models.OutcomeFiltered, by, models.DeliveryResult{}, nil)
			return
		}
	}

	var (
		result  models.DeliveryResult
		outcome models.Outcome
	)
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(c.cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(c.cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  item.MaxAttempts,
		Jitter:       true,
	}).OnRetry(func(attempt int, err error, delay time.Duration) {
		metrics.IncrementCounter(metrics.DeliveryAttempts, map[string]string{"direction": string(env.Direction)}, "Delivery retries")
		c.logger.WithFields(envelopeFields(ctx, item)).WithFields(logrus.Fields{
			LogFieldAttempt: attempt,
			"retry_in_ms":   delay.Milliseconds(),
		}).WithError(err).Info("Delivery failed, retrying")
	})

	err := backoff.RetryWithPredicate(ctx, func() error {
		item.Attempts++
		var attemptErr error
		result, outcome, attemptErr = c.attempt(ctx, item)
		return attemptErr
	}, apperrors.IsTransient)

	if err == nil {
		if outcome == "" {
			outcome = models.OutcomeDelivered
			if result.Notice {
				outcome = models.OutcomeNotice
			}
		}
		c.finish(ctx, item, outcome, "", result, nil)
		return
	}

	tracing.RecordError(ctx, err)
	switch class := apperrors.Classify(err); {
	case ctx.Err() != nil:
		c.finish(ctx, item, models.OutcomeDropped, "shutdown", result, err)
	case class == apperrors.ClassPermanentConfig:
		c.suspend(ctx, env, err)
		c.finish(ctx, item, models.OutcomeSuspended, string(class), result, err)
	case class == apperrors.ClassTransient:
		c.finish(ctx, item, models.OutcomeDropped, "retries exhausted", result, err)
	default:
		c.finish(ctx, item, models.OutcomeDropped, string(class), result, err)
	}
}

// attempt runs one delivery try. A panic becomes a non-retryable error.
func (c *Controller) attempt(ctx context.Context, item *models.PendingDelivery) (result models.DeliveryResult, outcome models.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(envelopeFields(ctx, item)).WithField("panic", r).Error("Recovered panic in delivery")
			err = apperrors.NewPanicError(r)
		}
	}()

	if item.Envelope.Direction == models.DirectionOutbound {
		return c.deliverOutbound(ctx, item)
	}
	return c.deliverInbound(ctx, item)
}

func (c *Controller) deliverInbound(ctx context.Context, item *models.PendingDelivery) (models.DeliveryResult, models.Outcome, error) {
	env := item.Envelope

	hint := c.topicHint(ctx, env)
	topicID, err := c.deps.Topics.GetOrCreateTopic(ctx, env.SourceChatID, hint)
	if err != nil {
		if errors.Is(err, apperrors.ErrConversationSuspended) {
			return models.DeliveryResult{}, models.OutcomeSuspended, nil
		}
		return models.DeliveryResult{}, "", err
	}

	sendCtx, cancel := c.sendContext(ctx, env)
	defer cancel()
	result, err := c.deps.Translator.Emit(sendCtx, item, topicID)
	if err != nil {
		return result, "", err
	}

	storeCtx, storeCancel := c.storeContext(ctx)
	defer storeCancel()
	if result.DestinationMessageID != 0 && env.Kind != models.KindReaction {
		if err := c.deps.Replies.Record(storeCtx, cache.ReplyEntry{
			OriginID:             env.OriginID,
			SourceChatID:         env.SourceChatID,
			TopicID:              topicID,
			DestinationMessageID: result.DestinationMessageID,
			RecordedAt:           c.now(),
		}); err != nil {
			c.logger.WithError(err).Warn("Failed to record reply index entry")
		}
	}
	if err := c.deps.Store.TouchChat(storeCtx, env.SourceChatID, c.now()); err != nil {
		c.logger.WithError(err).Debug("Failed to update conversation activity")
	}
	return result, "", nil
}

// topicHint resolves the display names used for the topic title and the
// sender prefix. The account's own name never becomes a topic title.
func (c *Controller) topicHint(ctx context.Context, env *models.MessageEnvelope) TopicHint {
	storeCtx, cancel := c.storeContext(ctx)
	defer cancel()

	if env.IsGroup {
		group := c.deps.Contacts.Resolve(storeCtx, env.SourceChatID, env.ChatDisplayName)
		if !env.FromSelf && env.SenderID != "" {
			if sender := c.deps.Contacts.Resolve(storeCtx, env.SenderID, env.SenderDisplayName); sender.DisplayName != "" {
				env.SenderDisplayName = sender.DisplayName
			}
		}
		return TopicHint{DisplayName: group.DisplayName, IsGroup: true}
	}

	pushName := env.SenderDisplayName
	if env.FromSelf {
		pushName = ""
	}
	// An unresolved name stays empty so the topic falls back to the handle
	// without renaming an existing one.
	contact := c.deps.Contacts.Resolve(storeCtx, env.SourceChatID, pushName)
	if !env.FromSelf && contact.DisplayName != "" {
		env.SenderDisplayName = contact.DisplayName
	}
	return TopicHint{DisplayName: contact.DisplayName}
}

func (c *Controller) deliverOutbound(ctx context.Context, item *models.PendingDelivery) (models.DeliveryResult, models.Outcome, error) {
	env := item.Envelope

	sourceChatID, outcome, err := c.route(ctx, env)
	if err != nil || outcome != "" {
		return models.DeliveryResult{}, outcome, err
	}
	env.SourceChatID = sourceChatID

	sendCtx, cancel := c.sendContext(ctx, env)
	defer cancel()
	result, err := c.deps.Translator.EmitToSource(sendCtx, item, sourceChatID)
	if err != nil {
		return result, "", err
	}

	storeCtx, storeCancel := c.storeContext(ctx)
	defer storeCancel()
	if result.SourceMessageID != "" && env.Kind != models.KindReaction {
		if err := c.deps.Replies.Record(storeCtx, cache.ReplyEntry{
			OriginID:             result.SourceMessageID,
			SourceChatID:         sourceChatID,
			TopicID:              env.DestinationTopicID,
			DestinationMessageID: env.DestinationMessageID,
			RecordedAt:           c.now(),
		}); err != nil {
			c.logger.WithError(err).Warn("Failed to record reply index entry")
		}
	}
	if err := c.deps.Store.TouchChat(storeCtx, sourceChatID, c.now()); err != nil {
		c.logger.WithError(err).Debug("Failed to update conversation activity")
	}
	return result, "", nil
}

// route finds the source conversation of an outbound envelope: by topic, then
// by the message it replies to, then by the user's last conversation.
func (c *Controller) route(ctx context.Context, env *models.MessageEnvelope) (string, models.Outcome, error) {
	storeCtx, cancel := c.storeContext(ctx)
	defer cancel()

	if env.DestinationTopicID != 0 {
		if env.DestinationTopicID == c.cfg.OperatorThreadID {
			return "", models.OutcomeUnroutable, nil
		}
		m, err := c.deps.Store.ChatByTopic(storeCtx, env.DestinationTopicID)
		if err != nil {
			return "", "", err
		}
		if m == nil {
			return "", models.OutcomeUnroutable, nil
		}
		if m.IsSuspended() {
			return "", models.OutcomeSuspended, nil
		}
		c.rememberUser(storeCtx, env.DestinationUserID, m.SourceChatID)
		return m.SourceChatID, "", nil
	}

	if env.ReplyToDestinationID != 0 {
		entry, err := c.deps.Replies.LookupByDestination(storeCtx, env.ReplyToDestinationID)
		if err != nil {
			return "", "", err
		}
		if entry != nil {
			c.rememberUser(storeCtx, env.DestinationUserID, entry.SourceChatID)
			return entry.SourceChatID, "", nil
		}
	}

	if env.DestinationUserID != 0 {
		u, err := c.deps.Store.GetUser(storeCtx, env.DestinationUserID)
		if err != nil {
			return "", "", err
		}
		if u != nil && u.SourceChatID != "" {
			return u.SourceChatID, "", nil
		}
	}
	return "", models.OutcomeUnroutable, nil
}

func (c *Controller) rememberUser(ctx context.Context, userID int64, sourceChatID string) {
	if userID == 0 {
		return
	}
	if err := c.deps.Store.SaveUser(ctx, models.UserMapping{
		DestinationUserID: userID,
		SourceChatID:      sourceChatID,
		UpdatedAt:         c.now(),
	}); err != nil {
		c.logger.WithError(err).Debug("Failed to save user mapping")
	}
}

func (c *Controller) runCommand(ctx context.Context, env *models.MessageEnvelope) {
	cc := extension.CommandContext{
		TopicID: env.DestinationTopicID,
		UserID:  env.DestinationUserID,
	}
	if env.DestinationTopicID != 0 {
		if m, err := c.deps.Store.ChatByTopic(ctx, env.DestinationTopicID); err == nil && m != nil {
			cc.SourceChatID = m.SourceChatID
		}
	}

	reply, err := c.deps.Extensions.Dispatch(ctx, cc, env.TextOrCaption)
	if err != nil {
		c.logger.WithError(err).WithField(LogFieldTopicID, env.DestinationTopicID).Debug("Command failed")
		reply = "⚠️ " + err.Error()
	}
	if reply == "" {
		return
	}
	if err := c.SendNotice(ctx, env.DestinationTopicID, reply); err != nil {
		c.logger.WithError(err).Warn("Failed to post command reply")
	}
}

// suspend pauses a conversation after a configuration failure and tells the
// operator.
func (c *Controller) suspend(ctx context.Context, env *models.MessageEnvelope, cause error) {
	chatID := env.SourceChatID
	if chatID == "" {
		return
	}
	reason := cause.Error()
	storeCtx, cancel := c.storeContext(context.WithoutCancel(ctx))
	defer cancel()

	if _, err := c.deps.Store.SetChatState(storeCtx, chatID, models.StateSuspended, reason); err != nil {
		c.logger.WithError(err).WithField(LogFieldChatID, ChatField(ctx, chatID)).Debug("Conversation not persisted, suspension not recorded")
	} else {
		metrics.IncrementCounter(metrics.ConversationsSuspend, nil, "Conversations suspended after configuration errors")
	}
	if c.deps.Operator != nil {
		c.deps.Operator.Report(chatID, apperrors.GetUserMessage(cause)+": "+reason)
	}
}

func (c *Controller) finish(ctx context.Context, item *models.PendingDelivery, outcome models.Outcome, reason string, result models.DeliveryResult, err error) {
	env := item.Envelope
	LogOutcome(ctx, c.logger, item, outcome, reason, err)
	metrics.IncrementCounter(metrics.DeliveriesTotal, map[string]string{
		"direction": string(env.Direction),
		"kind":      string(env.Kind),
		"outcome":   string(outcome),
	}, "Deliveries by terminal outcome")

	switch outcome {
	case models.OutcomeDelivered:
		metrics.RecordTimer(metrics.DeliveryLatency, time.Since(item.EnqueuedAt), map[string]string{"direction": string(env.Direction)}, "Time from intake to delivery")
		c.deps.Notifier.NotifySuccess(ctx, env)
	case models.OutcomeNotice, models.OutcomeSuspended, models.OutcomeUnroutable:
		c.deps.Notifier.NotifyFailure(ctx, env, err)
	case models.OutcomeDropped:
		if item.CompletedSteps == 0 && result.Artifacts == 0 {
			c.release(ctx, env)
		}
		c.deps.Notifier.NotifyFailure(ctx, env, err)
	}
}

// release forgets a dedup claim so a replay of the event can be delivered.
func (c *Controller) release(ctx context.Context, env *models.MessageEnvelope) {
	if err := c.deps.Dedup.Release(context.WithoutCancel(ctx), env.DedupKey()); err != nil {
		c.logger.WithError(err).Debug("Failed to release dedup claim")
	}
}

func (c *Controller) sendContext(ctx context.Context, env *models.MessageEnvelope) (context.Context, context.CancelFunc) {
	timeout := time.Duration(c.cfg.Timeouts.SendSec) * time.Second
	if env.Kind.IsMedia() {
		timeout = time.Duration(c.cfg.Timeouts.MediaSec) * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Controller) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(c.cfg.Timeouts.StoreSec)*time.Second)
}

// Enable resumes intake.
func (c *Controller) Enable() {
	c.enabled.Store(true)
	c.logger.Info("Bridge enabled")
}

// Disable stops intake. Items already queued are still delivered.
func (c *Controller) Disable() {
	c.enabled.Store(false)
	c.logger.Info("Bridge disabled")
}

func (c *Controller) IsEnabled() bool {
	return c.enabled.Load()
}

// Resync refetches the conversation's name, renames its topic and
// reactivates it.
func (c *Controller) Resync(ctx context.Context, sourceChatID string) (*models.ChatMapping, error) {
	hint := TopicHint{IsGroup: models.IsGroupChatID(sourceChatID)}
	contact, err := c.deps.Contacts.Refresh(ctx, sourceChatID)
	if err != nil {
		c.logger.WithError(err).WithField(LogFieldChatID, ChatField(ctx, sourceChatID)).Warn("Contact refresh failed, keeping cached name")
		contact = c.deps.Contacts.Resolve(ctx, sourceChatID, "")
	}
	hint.DisplayName = contact.DisplayName
	return c.deps.Topics.Resync(ctx, sourceChatID, hint)
}

func (c *Controller) Counts(ctx context.Context) (models.MappingCounts, error) {
	return c.deps.Store.Counts(ctx)
}

// Suspend pauses deliveries for one conversation.
func (c *Controller) Suspend(ctx context.Context, sourceChatID, reason string) (*models.ChatMapping, error) {
	m, err := c.deps.Store.SetChatState(ctx, sourceChatID, models.StateSuspended, reason)
	if err != nil {
		return nil, fmt.Errorf("suspend conversation: %w", err)
	}
	c.logger.WithField(LogFieldChatID, ChatField(ctx, sourceChatID)).WithField(LogFieldReason, reason).Info("Conversation suspended by operator")
	return m, nil
}

// Resume reactivates a suspended conversation.
func (c *Controller) Resume(ctx context.Context, sourceChatID string) (*models.ChatMapping, error) {
	m, err := c.deps.Store.SetChatState(ctx, sourceChatID, models.StateActive, "")
	if err != nil {
		return nil, fmt.Errorf("resume conversation: %w", err)
	}
	c.logger.WithField(LogFieldChatID, ChatField(ctx, sourceChatID)).Info("Conversation resumed")
	return m, nil
}

// Purge forgets a conversation. Its topic stays in the group; the next
// message creates a new one.
func (c *Controller) Purge(ctx context.Context, sourceChatID string) error {
	if err := c.deps.Store.PurgeChat(ctx, sourceChatID); err != nil {
		return fmt.Errorf("purge conversation: %w", err)
	}
	c.logger.WithField(LogFieldChatID, ChatField(ctx, sourceChatID)).Info("Conversation purged")
	return nil
}

// QueueStats exposes per-key queue depth for monitoring.
func (c *Controller) QueueStats() QueueStats {
	return c.queue.Stats()
}

// Shutdown stops intake and drains the queues. It reports whether every
// queued item finished within the grace period.
func (c *Controller) Shutdown(ctx context.Context) bool {
	c.closing.Store(true)
	drained := c.queue.Shutdown()
	if c.deps.Operator != nil {
		c.deps.Operator.Flush()
	}
	if c.deps.Extensions != nil {
		if err := c.deps.Extensions.Close(ctx); err != nil {
			c.logger.WithError(err).Warn("Failed to close extensions")
		}
	}
	return drained
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"whatstopic/internal/constants"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/metrics"
	"whatstopic/internal/models"
	"whatstopic/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// TopicHint carries what is known about a conversation when its topic is
// looked up.
type TopicHint struct {
	DisplayName string
	IsGroup     bool
}

// TopicManagerConfig configures a TopicManager
type TopicManagerConfig struct {
	GroupChatID int64
	GroupPrefix string
	Timeout     time.Duration
}

// TopicManager owns the chat to topic lifecycle. Concurrent first messages
// for one chat share a single topic creation.
type TopicManager struct {
	store  MappingRepository
	client TopicClient
	cfg    TopicManagerConfig
	flight singleflight.Group
	logger *logrus.Logger
	now    func() time.Time
}

func NewTopicManager(store MappingRepository, client TopicClient, cfg TopicManagerConfig, logger *logrus.Logger) *TopicManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(constants.DefaultTopicTimeoutSec) * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &TopicManager{
		store:  store,
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// GetOrCreateTopic returns the topic of sourceChatID, creating and persisting
// it on first use. A suspended conversation yields ErrConversationSuspended;
// any other failure is wrapped as ErrTopicUnavailable with the cause's class.
// A configuration failure on first use leaves a suspended mapping without a
// topic; once resumed, the next call creates the topic.
func (tm *TopicManager) GetOrCreateTopic(ctx context.Context, sourceChatID string, hint TopicHint) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "topic.get_or_create", attribute.Bool("group", hint.IsGroup))
	defer span.End()

	existing, err := tm.store.GetChat(ctx, sourceChatID)
	if err != nil {
		return 0, topicUnavailable(err, sourceChatID)
	}
	if existing != nil {
		if existing.IsSuspended() {
			return 0, apperrors.Wrap(apperrors.ErrConversationSuspended, apperrors.ErrCodeConversationSuspended, "conversation suspended").
				WithContext("reason", existing.SuspendedReason)
		}
		if existing.DestinationTopicID != 0 {
			tm.renameOnDrift(ctx, existing, hint)
			return existing.DestinationTopicID, nil
		}
	}

	// The creation outlives any one caller so waiters never see a half-done
	// topic because the first caller gave up.
	createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tm.cfg.Timeout)
	ch := tm.flight.DoChan(sourceChatID, func() (interface{}, error) {
		defer cancel()
		return tm.create(createCtx, sourceChatID, hint)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			tracing.RecordError(ctx, res.Err)
			return 0, res.Err
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, topicUnavailable(ctx.Err(), sourceChatID)
	}
}

func (tm *TopicManager) create(ctx context.Context, sourceChatID string, hint TopicHint) (int64, error) {
	// Another flight may have finished between our lookup and this one.
	existing, err := tm.store.GetChat(ctx, sourceChatID)
	if err == nil && existing != nil {
		if existing.IsSuspended() {
			return 0, apperrors.ErrConversationSuspended
		}
		if existing.DestinationTopicID != 0 {
			return existing.DestinationTopicID, nil
		}
	}

	chatType := models.ChatTypePrivate
	if hint.IsGroup {
		chatType = models.ChatTypeGroup
	}
	name := tm.TopicName(sourceChatID, hint)
	topic, err := tm.client.CreateForumTopic(ctx, tm.cfg.GroupChatID, name)
	if err != nil {
		if apperrors.Classify(err) == apperrors.ClassPermanentConfig && existing == nil {
			tm.persistPlaceholder(ctx, models.ChatMapping{
				SourceChatID:    sourceChatID,
				ChatType:        chatType,
				TopicName:       name,
				CreatedAt:       tm.now(),
				State:           models.StateSuspended,
				SuspendedReason: err.Error(),
			})
		}
		return 0, topicUnavailable(err, sourceChatID)
	}

	if existing != nil {
		return tm.attachTopic(ctx, sourceChatID, topic.MessageThreadID, name)
	}

	stored, inserted, err := tm.store.CreateChat(ctx, models.ChatMapping{
		SourceChatID:       sourceChatID,
		DestinationTopicID: topic.MessageThreadID,
		ChatType:           chatType,
		TopicName:          name,
		CreatedAt:          tm.now(),
	})
	if err != nil {
		tm.deleteTopic(ctx, topic.MessageThreadID, "mapping not persisted")
		return 0, topicUnavailable(err, sourceChatID)
	}

	if !inserted && stored.DestinationTopicID != 0 {
		metrics.IncrementCounter(metrics.TopicCreateConflicts, nil, "Topics created for an already mapped chat")
		tm.logger.WithFields(logrus.Fields{
			LogFieldChatID:     ChatField(ctx, sourceChatID),
			"kept_topic_id":    stored.DestinationTopicID,
			"dropped_topic_id": topic.MessageThreadID,
			LogFieldErrorClass: apperrors.ClassInvariantViolation,
		}).Error("Chat already mapped to another topic, keeping the earliest mapping")
		tm.deleteTopic(ctx, topic.MessageThreadID, "duplicate mapping")
		if stored.IsSuspended() {
			return 0, apperrors.ErrConversationSuspended
		}
		return stored.DestinationTopicID, nil
	}
	if !inserted {
		if stored.IsSuspended() {
			tm.deleteTopic(ctx, topic.MessageThreadID, "conversation suspended")
			return 0, apperrors.ErrConversationSuspended
		}
		return tm.attachTopic(ctx, sourceChatID, topic.MessageThreadID, name)
	}

	metrics.IncrementCounter(metrics.TopicsCreated, map[string]string{"chat_type": string(chatType)}, "Forum topics created")
	tm.logger.WithFields(logrus.Fields{
		LogFieldChatID:  ChatField(ctx, sourceChatID),
		LogFieldTopicID: topic.MessageThreadID,
	}).Info("Created topic for conversation")
	return topic.MessageThreadID, nil
}

// persistPlaceholder records a conversation whose topic could not be created
// for a configuration reason, so later messages are suspended instead of
// retrying the creation.
func (tm *TopicManager) persistPlaceholder(ctx context.Context, m models.ChatMapping) {
	if _, _, err := tm.store.CreateChat(ctx, m); err != nil {
		tm.logger.WithError(err).WithField(LogFieldChatID, ChatField(ctx, m.SourceChatID)).Warn("Failed to record suspended conversation")
	}
}

// attachTopic fills in the topic of a placeholder mapping after it was
// resumed.
func (tm *TopicManager) attachTopic(ctx context.Context, sourceChatID string, topicID int64, name string) (int64, error) {
	m, err := tm.store.UpdateChat(ctx, sourceChatID, func(cm *models.ChatMapping) error {
		cm.DestinationTopicID = topicID
		cm.TopicName = name
		return nil
	})
	if err != nil {
		tm.deleteTopic(ctx, topicID, "mapping not persisted")
		return 0, topicUnavailable(err, sourceChatID)
	}
	metrics.IncrementCounter(metrics.TopicsCreated, map[string]string{"chat_type": string(m.ChatType)}, "Forum topics created")
	tm.logger.WithFields(logrus.Fields{
		LogFieldChatID:  ChatField(ctx, sourceChatID),
		LogFieldTopicID: topicID,
	}).Info("Created topic for resumed conversation")
	return topicID, nil
}

// renameOnDrift edits the topic when the resolved name no longer matches.
// Failure is logged and otherwise ignored.
func (tm *TopicManager) renameOnDrift(ctx context.Context, m *models.ChatMapping, hint TopicHint) {
	if hint.DisplayName == "" {
		return
	}
	name := tm.TopicName(m.SourceChatID, hint)
	if name == m.TopicName {
		return
	}

	renameCtx, cancel := context.WithTimeout(ctx, tm.cfg.Timeout)
	defer cancel()
	if err := tm.client.EditForumTopic(renameCtx, tm.cfg.GroupChatID, m.DestinationTopicID, name); err != nil {
		tm.logger.WithError(err).WithField(LogFieldTopicID, m.DestinationTopicID).Warn("Failed to rename topic")
		return
	}
	if _, err := tm.store.UpdateChat(renameCtx, m.SourceChatID, func(cm *models.ChatMapping) error {
		cm.TopicName = name
		return nil
	}); err != nil {
		tm.logger.WithError(err).WithField(LogFieldTopicID, m.DestinationTopicID).Warn("Failed to store renamed topic")
		return
	}
	tm.logger.WithField(LogFieldTopicID, m.DestinationTopicID).Info("Renamed topic after display name change")
}

// Resync renames the topic of sourceChatID to name and reactivates it.
func (tm *TopicManager) Resync(ctx context.Context, sourceChatID string, hint TopicHint) (*models.ChatMapping, error) {
	existing, err := tm.store.GetChat(ctx, sourceChatID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperrors.NewNotFoundError("chat mapping", sourceChatID)
	}

	name := existing.TopicName
	if hint.DisplayName != "" {
		name = tm.TopicName(sourceChatID, hint)
	}
	if name != existing.TopicName && existing.DestinationTopicID != 0 {
		if err := tm.client.EditForumTopic(ctx, tm.cfg.GroupChatID, existing.DestinationTopicID, name); err != nil {
			return nil, fmt.Errorf("failed to rename topic: %w", err)
		}
	}

	return tm.store.UpdateChat(ctx, sourceChatID, func(cm *models.ChatMapping) error {
		cm.TopicName = name
		cm.State = models.StateActive
		cm.Active = true
		cm.SuspendedReason = ""
		return nil
	})
}

// TopicName builds the topic title: the display name with handle fallback,
// group prefix applied, cut to the forum limit.
func (tm *TopicManager) TopicName(sourceChatID string, hint TopicHint) string {
	name := strings.TrimSpace(hint.DisplayName)
	if name == "" {
		name = models.HandleFromChatID(sourceChatID)
	}
	if hint.IsGroup && tm.cfg.GroupPrefix != "" {
		name = tm.cfg.GroupPrefix + name
	}
	return truncateRunes(name, constants.MaxTopicNameLength)
}

func (tm *TopicManager) deleteTopic(ctx context.Context, topicID int64, reason string) {
	if err := tm.client.DeleteForumTopic(ctx, tm.cfg.GroupChatID, topicID); err != nil {
		tm.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldTopicID: topicID,
			LogFieldReason:  reason,
		}).Warn("Failed to delete orphan topic")
	}
}

func topicUnavailable(err error, sourceChatID string) error {
	return apperrors.Wrap(err, apperrors.ErrCodeTopicUnavailable, "topic unavailable").
		WithClass(apperrors.Classify(err)).
		WithContext("chat", models.HandleFromChatID(sourceChatID))
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

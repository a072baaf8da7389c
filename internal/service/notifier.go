package service

import (
	"context"
	"time"

	"whatstopic/internal/constants"
	"whatstopic/internal/models"

	"github.com/sirupsen/logrus"
)

// NotifierConfig selects the delivery markers
type NotifierConfig struct {
	GroupChatID     int64
	NotifySource    bool
	SuccessReaction string
	FailureReaction string
	Timeout         time.Duration
}

// DeliveryNotifier marks the originating message with a reaction once its
// delivery settles. Marker failures never fail the delivery.
type DeliveryNotifier struct {
	dest   DestinationClient
	src    SourceClient
	cfg    NotifierConfig
	logger *logrus.Logger
}

func NewDeliveryNotifier(dest DestinationClient, src SourceClient, cfg NotifierConfig, logger *logrus.Logger) *DeliveryNotifier {
	if cfg.SuccessReaction == "" {
		cfg.SuccessReaction = constants.DefaultSuccessReaction
	}
	if cfg.FailureReaction == "" {
		cfg.FailureReaction = constants.DefaultFailureReaction
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(constants.DefaultSendTimeoutSec) * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &DeliveryNotifier{dest: dest, src: src, cfg: cfg, logger: logger}
}

func (n *DeliveryNotifier) NotifySuccess(ctx context.Context, origin *models.MessageEnvelope) {
	n.mark(ctx, origin, n.cfg.SuccessReaction)
}

func (n *DeliveryNotifier) NotifyFailure(ctx context.Context, origin *models.MessageEnvelope, cause error) {
	n.logger.WithFields(logrus.Fields{
		LogFieldMessageID: MessageField(ctx, origin.OriginID),
		LogFieldDirection: string(origin.Direction),
	}).WithError(cause).Debug("Marking delivery as failed")
	n.mark(ctx, origin, n.cfg.FailureReaction)
}

func (n *DeliveryNotifier) mark(ctx context.Context, origin *models.MessageEnvelope, emoji string) {
	if origin == nil || origin.Kind == models.KindReaction {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.Timeout)
	defer cancel()

	var err error
	switch origin.Direction {
	case models.DirectionOutbound:
		if origin.DestinationMessageID == 0 {
			return
		}
		chatID := origin.DestinationChatID
		if chatID == 0 {
			chatID = n.cfg.GroupChatID
		}
		err = n.dest.SetMessageReaction(ctx, chatID, origin.DestinationMessageID, emoji)
	default:
		if !n.cfg.NotifySource || origin.OriginID == "" {
			return
		}
		_, err = n.src.SendReaction(ctx, origin.SourceChatID, origin.OriginID, emoji)
	}
	if err != nil {
		n.logger.WithError(err).WithField(LogFieldMessageID, MessageField(ctx, origin.OriginID)).
			Debug("Delivery marker not set")
	}
}

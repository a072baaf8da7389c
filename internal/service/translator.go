package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"whatstopic/internal/cache"
	"whatstopic/internal/constants"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/media"
	"whatstopic/internal/models"
	"whatstopic/internal/tracing"
	"whatstopic/pkg/telegram"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// TranslatorConfig configures a Translator
type TranslatorConfig struct {
	GroupChatID    int64
	SelfChatPrefix string
}

// Translator writes envelopes to the other side of the bridge, one artifact
// per step. Steps already recorded in PendingDelivery.CompletedSteps are
// skipped so a retry never repeats an artifact.
type Translator struct {
	dest    DestinationClient
	src     SourceClient
	media   MediaRunner
	replies cache.ReplyIndex
	cfg     TranslatorConfig
	logger  *logrus.Logger
}

func NewTranslator(dest DestinationClient, src SourceClient, mediaRunner MediaRunner, replies cache.ReplyIndex, cfg TranslatorConfig, logger *logrus.Logger) *Translator {
	if cfg.SelfChatPrefix == "" {
		cfg.SelfChatPrefix = constants.DefaultSelfChatPrefix
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Translator{
		dest:    dest,
		src:     src,
		media:   mediaRunner,
		replies: replies,
		cfg:     cfg,
		logger:  logger,
	}
}

// step emits one artifact. primary marks the artifact the reply index points at.
type step struct {
	name    string
	primary bool
	run     func(ctx context.Context) (models.DeliveryResult, error)
}

func (t *Translator) runSteps(ctx context.Context, item *models.PendingDelivery, steps []step) (models.DeliveryResult, error) {
	var result models.DeliveryResult
	for i := item.CompletedSteps; i < len(steps); i++ {
		res, err := steps[i].run(ctx)
		if err != nil {
			return result, fmt.Errorf("%s: %w", steps[i].name, err)
		}
		item.CompletedSteps = i + 1
		result.Artifacts += res.Artifacts
		result.Notice = result.Notice || res.Notice
		if steps[i].primary || result.DestinationMessageID == 0 {
			if res.DestinationMessageID != 0 {
				result.DestinationMessageID = res.DestinationMessageID
			}
		}
		if steps[i].primary || result.SourceMessageID == "" {
			if res.SourceMessageID != "" {
				result.SourceMessageID = res.SourceMessageID
			}
		}
	}
	return result, nil
}

// Emit mirrors an inbound envelope into topicID.
func (t *Translator) Emit(ctx context.Context, item *models.PendingDelivery, topicID int64) (models.DeliveryResult, error) {
	env := item.Envelope
	ctx, span := tracing.StartSpan(ctx, "translator.emit", attribute.String("kind", string(env.Kind)))
	defer span.End()

	opts := telegram.SendOptions{
		ChatID:    t.cfg.GroupChatID,
		ThreadID:  topicID,
		ParseMode: telegram.ParseModeHTML,
	}
	if env.ReplyToOriginID != "" {
		if entry, err := t.replies.LookupByOrigin(ctx, env.ReplyToOriginID); err == nil && entry != nil {
			opts.ReplyToMessageID = entry.DestinationMessageID
		}
	}

	label := t.senderLabel(env)
	steps := t.inboundSteps(env, opts, label)
	result, err := t.runSteps(ctx, item, steps)
	if err == nil {
		return result, nil
	}

	if apperrors.Classify(err) != apperrors.ClassPermanentContent {
		tracing.RecordError(ctx, err)
		return result, err
	}

	// Content the destination will never accept becomes one notice.
	notice := withLabel(label, "["+describeFailure(env.Kind, err)+"]")
	msg, noticeErr := t.dest.SendMessage(ctx, opts, notice)
	if noticeErr != nil {
		return result, noticeErr
	}
	item.CompletedSteps = len(steps)
	t.logger.WithError(err).WithField(LogFieldKind, string(env.Kind)).Info("Sent notice in place of rejected content")
	return models.DeliveryResult{DestinationMessageID: msg.MessageID, Artifacts: result.Artifacts + 1, Notice: true}, nil
}

// senderLabel is the bold name prefix, or empty for the account's own
// messages in a private chat.
func (t *Translator) senderLabel(env *models.MessageEnvelope) string {
	if env.FromSelf {
		if env.IsGroup {
			return t.cfg.SelfChatPrefix
		}
		return ""
	}
	if env.SenderDisplayName != "" {
		return env.SenderDisplayName
	}
	return models.HandleFromChatID(env.SenderID)
}

func (t *Translator) inboundSteps(env *models.MessageEnvelope, opts telegram.SendOptions, label string) []step {
	sendText := func(name, text string, primary bool) step {
		return step{name: name, primary: primary, run: func(ctx context.Context) (models.DeliveryResult, error) {
			msg, err := t.dest.SendMessage(ctx, opts, text)
			if err != nil {
				return models.DeliveryResult{}, err
			}
			return models.DeliveryResult{DestinationMessageID: msg.MessageID, Artifacts: 1}, nil
		}}
	}

	switch env.Kind {
	case models.KindText:
		chunks := splitText(env.TextOrCaption, constants.MaxMessageLength-utf8.RuneCountInString(label)-2)
		steps := make([]step, 0, len(chunks))
		for i, chunk := range chunks {
			steps = append(steps, sendText("send text", withLabel(label, html.EscapeString(chunk)), i == 0))
		}
		return steps

	case models.KindLocation:
		loc := env.Location
		steps := []step{{name: "send location", primary: true, run: func(ctx context.Context) (models.DeliveryResult, error) {
			plain := opts
			plain.ParseMode = ""
			msg, err := t.dest.SendLocation(ctx, plain, loc.Latitude, loc.Longitude)
			if err != nil {
				return models.DeliveryResult{}, err
			}
			return models.DeliveryResult{DestinationMessageID: msg.MessageID, Artifacts: 1}, nil
		}}}
		if attribution := locationAttribution(label, loc); attribution != "" {
			steps = append(steps, sendText("send location label", attribution, false))
		}
		return steps

	case models.KindContact:
		card := env.Contact
		if card.PhoneNumber == "" {
			name := card.DisplayName
			if name == "" {
				name = "unnamed contact"
			}
			return []step{sendText("send contact", withLabel(label, "👤 "+html.EscapeString(name)), true)}
		}
		steps := []step{{name: "send contact", primary: true, run: func(ctx context.Context) (models.DeliveryResult, error) {
			plain := opts
			plain.ParseMode = ""
			first, last := splitName(card.DisplayName, card.PhoneNumber)
			msg, err := t.dest.SendContact(ctx, plain, telegram.Contact{
				PhoneNumber: card.PhoneNumber,
				FirstName:   first,
				LastName:    last,
				VCard:       card.VCard,
			})
			if err != nil {
				return models.DeliveryResult{}, err
			}
			return models.DeliveryResult{DestinationMessageID: msg.MessageID, Artifacts: 1}, nil
		}}}
		if label != "" {
			steps = append(steps, sendText("send contact label", "<b>"+html.EscapeString(label)+"</b> shared a contact", false))
		}
		return steps

	case models.KindReaction:
		return []step{{name: "send reaction", primary: true, run: func(ctx context.Context) (models.DeliveryResult, error) {
			return t.emitReaction(ctx, env, opts, label)
		}}}

	case models.KindUnsupported:
		what := env.UnsupportedLabel
		if what == "" {
			what = "message"
		}
		return []step{sendText("send placeholder", withLabel(label, "[unsupported content: "+html.EscapeString(what)+"]"), true)}
	}

	if env.Kind.IsMedia() {
		return t.mediaSteps(env, opts, label, sendText)
	}
	return []step{sendText("send placeholder", withLabel(label, "[unsupported content]"), true)}
}

func (t *Translator) mediaSteps(env *models.MessageEnvelope, opts telegram.SendOptions, label string, sendText func(string, string, bool) step) []step {
	target := media.Target{
		Platform:         models.PlatformTelegram,
		ChatID:           opts.ChatID,
		TopicID:          opts.ThreadID,
		ReplyToMessageID: opts.ReplyToMessageID,
		ParseMode:        opts.ParseMode,
	}

	caption := withLabel(label, html.EscapeString(env.TextOrCaption))
	var overflow string
	// Captionless kinds and long captions travel as a follow-up message.
	captionless := env.Kind == models.KindSticker || env.VideoNote
	if captionless || utf8.RuneCountInString(env.TextOrCaption)+utf8.RuneCountInString(label)+2 > constants.MaxCaptionLength {
		if env.TextOrCaption != "" {
			overflow = env.TextOrCaption
		}
		caption = ""
		if label != "" {
			caption = "<b>" + html.EscapeString(label) + "</b>"
		}
	}

	steps := []step{}
	if captionless && label != "" {
		steps = append(steps, sendText("send media label", "<b>"+html.EscapeString(label)+"</b>:", false))
	}
	steps = append(steps, step{name: "send " + string(env.Kind), primary: true, run: func(ctx context.Context) (models.DeliveryResult, error) {
		return t.media.Run(ctx, env.MediaRef, env.Kind, target, caption, env.VideoNote)
	}})
	for _, chunk := range splitText(overflow, constants.MaxMessageLength) {
		steps = append(steps, sendText("send caption", html.EscapeString(chunk), false))
	}
	return steps
}

func (t *Translator) emitReaction(ctx context.Context, env *models.MessageEnvelope, opts telegram.SendOptions, label string) (models.DeliveryResult, error) {
	emoji := env.Reaction.Emoji
	who := label
	if who == "" {
		who = t.cfg.SelfChatPrefix
	}

	entry, err := t.replies.LookupByOrigin(ctx, env.Reaction.TargetOriginID)
	if err != nil {
		t.logger.WithError(err).Debug("Reply index lookup failed")
	}
	if entry != nil && entry.DestinationMessageID != 0 {
		err := t.dest.SetMessageReaction(ctx, t.cfg.GroupChatID, entry.DestinationMessageID, emoji)
		if err == nil {
			return models.DeliveryResult{DestinationMessageID: entry.DestinationMessageID, Artifacts: 1}, nil
		}
		if apperrors.Classify(err) != apperrors.ClassPermanentContent {
			return models.DeliveryResult{}, err
		}
		// The destination only accepts a fixed emoji set; say it in text.
		opts.ReplyToMessageID = entry.DestinationMessageID
	}

	text := "<b>" + html.EscapeString(who) + "</b> reacted " + html.EscapeString(emoji)
	if opts.ReplyToMessageID == 0 {
		text += " to an earlier message"
	}
	msg, err := t.dest.SendMessage(ctx, opts, text)
	if err != nil {
		return models.DeliveryResult{}, err
	}
	return models.DeliveryResult{DestinationMessageID: msg.MessageID, Artifacts: 1}, nil
}

// EmitToSource sends an outbound envelope into sourceChatID. Replies are sent
// as the account itself, without a name prefix.
func (t *Translator) EmitToSource(ctx context.Context, item *models.PendingDelivery, sourceChatID string) (models.DeliveryResult, error) {
	env := item.Envelope
	ctx, span := tracing.StartSpan(ctx, "translator.emit_to_source", attribute.String("kind", string(env.Kind)))
	defer span.End()

	replyTo := ""
	if env.ReplyToDestinationID != 0 {
		if entry, err := t.replies.LookupByDestination(ctx, env.ReplyToDestinationID); err == nil && entry != nil {
			replyTo = entry.OriginID
		}
	}

	sendText := func(name, text string) step {
		return step{name: name, primary: true, run: func(ctx context.Context) (models.DeliveryResult, error) {
			resp, err := t.src.SendText(ctx, sourceChatID, text, replyTo)
			if err != nil {
				return models.DeliveryResult{}, err
			}
			return models.DeliveryResult{SourceMessageID: resp.MessageID, Artifacts: 1}, nil
		}}
	}

	var steps []step
	switch env.Kind {
	case models.KindText:
		steps = []step{sendText("send text", env.TextOrCaption)}
	case models.KindLocation:
		steps = []step{sendText("send location", fmt.Sprintf("📍 https://maps.google.com/?q=%.6f,%.6f", env.Location.Latitude, env.Location.Longitude))}
	case models.KindContact:
		steps = []step{sendText("send contact", strings.TrimSpace("👤 "+env.Contact.DisplayName+" "+env.Contact.PhoneNumber))}
	case models.KindReaction:
		steps = []step{{name: "send reaction", primary: true, run: func(ctx context.Context) (models.DeliveryResult, error) {
			entry, err := t.replies.LookupByDestination(ctx, env.DestinationMessageID)
			if err != nil {
				return models.DeliveryResult{}, err
			}
			if entry == nil {
				return models.DeliveryResult{}, apperrors.NewUnsupportedContentError("reaction on a message that was not bridged")
			}
			if _, err := t.src.SendReaction(ctx, sourceChatID, entry.OriginID, env.Reaction.Emoji); err != nil {
				return models.DeliveryResult{}, err
			}
			return models.DeliveryResult{SourceMessageID: entry.OriginID, Artifacts: 1}, nil
		}}}
	case models.KindUnsupported:
		steps = []step{{name: "reject", run: func(ctx context.Context) (models.DeliveryResult, error) {
			return models.DeliveryResult{}, apperrors.NewUnsupportedContentError(env.UnsupportedLabel)
		}}}
	default:
		target := media.Target{
			Platform:        models.PlatformWhatsApp,
			SourceChatID:    sourceChatID,
			ReplyToOriginID: replyTo,
		}
		steps = []step{{name: "send " + string(env.Kind), primary: true, run: func(ctx context.Context) (models.DeliveryResult, error) {
			return t.media.Run(ctx, env.MediaRef, env.Kind, target, env.TextOrCaption, env.VideoNote)
		}}}
	}

	result, err := t.runSteps(ctx, item, steps)
	if err == nil || apperrors.Classify(err) != apperrors.ClassPermanentContent {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		return result, err
	}

	// Tell the operator in the topic, replying to the message that failed.
	opts := telegram.SendOptions{
		ChatID:           env.DestinationChatID,
		ThreadID:         env.DestinationTopicID,
		ReplyToMessageID: env.DestinationMessageID,
		ParseMode:        telegram.ParseModeHTML,
	}
	if opts.ChatID == 0 {
		opts.ChatID = t.cfg.GroupChatID
	}
	if _, noticeErr := t.dest.SendMessage(ctx, opts, "⚠️ Not delivered: "+html.EscapeString(describeFailure(env.Kind, err))); noticeErr != nil {
		return result, noticeErr
	}
	item.CompletedSteps = len(steps)
	return models.DeliveryResult{Notice: true}, nil
}

// SendNotice posts operator-facing text into a topic of the forum group.
func (t *Translator) SendNotice(ctx context.Context, topicID int64, text string) error {
	_, err := t.dest.SendMessage(ctx, telegram.SendOptions{
		ChatID:    t.cfg.GroupChatID,
		ThreadID:  topicID,
		ParseMode: telegram.ParseModeHTML,
	}, text)
	return err
}

func withLabel(label, body string) string {
	if label == "" {
		return body
	}
	if body == "" {
		return "<b>" + html.EscapeString(label) + "</b>"
	}
	return "<b>" + html.EscapeString(label) + "</b>: " + body
}

func locationAttribution(label string, loc *models.Location) string {
	desc := html.EscapeString(strings.TrimSpace(loc.Description))
	switch {
	case label == "" && desc == "":
		return ""
	case label == "":
		return "📍 " + desc
	case desc == "":
		return "<b>" + html.EscapeString(label) + "</b> shared a location"
	default:
		return "<b>" + html.EscapeString(label) + "</b> shared a location: " + desc
	}
}

func describeFailure(kind models.Kind, err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrCodeMediaTooLarge:
			return fmt.Sprintf("%s not delivered: %s", kind, apperrors.GetUserMessage(err))
		case apperrors.ErrCodeUnsupportedContent:
			if label, ok := appErr.Context["kind"].(string); ok && label != "" {
				return "unsupported content: " + label
			}
			return "unsupported content"
		}
	}
	return fmt.Sprintf("%s could not be delivered", kind)
}

// splitName puts the display name into first/last, falling back to the phone.
func splitName(displayName, phone string) (string, string) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return phone, ""
	}
	first, last, _ := strings.Cut(displayName, " ")
	return first, strings.TrimSpace(last)
}

// splitText cuts s into chunks of at most limit runes, preferring line
// breaks. An empty string yields no chunks.
func splitText(s string, limit int) []string {
	if s == "" {
		return nil
	}
	if limit <= 0 {
		limit = constants.MaxMessageLength
	}

	var chunks []string
	runes := []rune(s)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(chunks, string(runes))
}

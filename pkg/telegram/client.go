package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"whatstopic/internal/constants"
	apperrors "whatstopic/internal/errors"
	"whatstopic/internal/security"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// APIError is a Bot API failure with its flood-control hint.
type APIError struct {
	Method      string
	Code        int
	Description string
	Wait        time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// RetryAfter lets retry.Backoff honor flood-control waits.
func (e *APIError) RetryAfter() time.Duration {
	return e.Wait
}

// Config configures a Client.
type Config struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	HTTPClient      *http.Client
	Logger          *logrus.Logger
}

// Client is a Bot API client. Every call goes through one rate limiter and
// one circuit breaker.
type Client struct {
	bot   *gotgbot.Bot
	guard *guardedClient
	http  *http.Client
}

// NewClient builds the bot without a getMe round trip; the token only has to
// look like "<id>:<secret>".
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = constants.DefaultTelegramAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = constants.DefaultTelegramRatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = constants.DefaultTelegramRateBurst
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = constants.DefaultBreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Duration(constants.DefaultBreakerTimeoutSec) * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}

	logger := cfg.Logger
	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
		// Only outages trip the breaker; a rejected message is still a
		// healthy API.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.IsTransient(err)
		},
	})

	guard := &guardedClient{
		BotClient: &gotgbot.BaseBotClient{
			Client: *cfg.HTTPClient,
			DefaultRequestOpts: &gotgbot.RequestOpts{
				Timeout: cfg.Timeout,
				APIURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
			},
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: breaker,
		logger:  logger,
	}

	bot, err := gotgbot.NewBot(cfg.Token, &gotgbot.BotOpts{
		BotClient:         guard,
		DisableTokenCheck: true,
	})
	if err != nil {
		return nil, apperrors.NewConfigError("telegram.bot_token", scrubToken(err, cfg.Token).Error())
	}

	return &Client{
		bot:   bot,
		guard: guard,
		http:  cfg.HTTPClient,
	}, nil
}

// guardedClient puts the limiter and the breaker in front of every Bot API
// request and turns failures into classified AppErrors.
type guardedClient struct {
	gotgbot.BotClient
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

func (g *guardedClient) RequestWithContext(ctx context.Context, token, method string, params map[string]string, data map[string]gotgbot.FileReader, opts *gotgbot.RequestOpts) (json.RawMessage, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewAPIError("telegram", method, 0, err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		raw, err := g.BotClient.RequestWithContext(ctx, token, method, params, data, opts)
		if err != nil {
			return nil, g.classify(method, token, err)
		}
		return raw, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperrors.WrapRetryable(err, apperrors.ErrCodeTelegramAPI, "telegram circuit breaker open").
			WithContext("endpoint", method)
	}
	if err != nil {
		return nil, err
	}
	raw, _ := result.(json.RawMessage)
	return raw, nil
}

func (g *guardedClient) classify(method, token string, err error) error {
	var tgErr *gotgbot.TelegramError
	if !errors.As(err, &tgErr) {
		// No Bot API answer at all: a transport failure or a proxy page.
		return apperrors.NewAPIError("telegram", method, 0, scrubToken(err, token)).
			WithClass(apperrors.ClassTransient)
	}

	apiErr := &APIError{Method: method, Code: tgErr.Code, Description: tgErr.Description}
	if tgErr.ResponseParams != nil && tgErr.ResponseParams.RetryAfter > 0 {
		apiErr.Wait = time.Duration(tgErr.ResponseParams.RetryAfter) * time.Second
	}
	code := tgErr.Code
	if code == 0 {
		code = http.StatusBadRequest
	}
	g.logger.WithFields(logrus.Fields{
		"method":      method,
		"error_code":  code,
		"description": tgErr.Description,
	}).Debug("Telegram API returned error")
	return apperrors.NewAPIError("telegram", method, code, apiErr)
}

// BreakerState reports the breaker state for health checks.
func (c *Client) BreakerState() string {
	return c.guard.breaker.State().String()
}

// FileURL builds the download link for a path returned by getFile.
func (c *Client) FileURL(filePath string) string {
	return c.bot.FileURL(c.bot.Token, strings.TrimPrefix(filePath, "/"), nil)
}

// scrubToken keeps the bot token out of url.Error messages.
func scrubToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &scrubbedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), cause: err}
}

type scrubbedError struct {
	msg   string
	cause error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.cause }

func replyParameters(opts SendOptions) *gotgbot.ReplyParameters {
	if opts.ReplyToMessageID == 0 {
		return nil
	}
	return &gotgbot.ReplyParameters{MessageId: opts.ReplyToMessageID, AllowSendingWithoutReply: true}
}

// captionMode only sets a parse mode when there is a caption to parse.
func captionMode(opts SendOptions, caption string) string {
	if caption == "" {
		return ""
	}
	return opts.ParseMode
}

func fromMessage(m *gotgbot.Message) *Message {
	if m == nil {
		return nil
	}
	return &Message{
		MessageID:       m.MessageId,
		MessageThreadID: m.MessageThreadId,
		Chat: Chat{
			ID:      m.Chat.Id,
			Type:    m.Chat.Type,
			Title:   m.Chat.Title,
			IsForum: m.Chat.IsForum,
		},
		Date:           m.Date,
		IsTopicMessage: m.IsTopicMessage,
		Text:           m.Text,
		Caption:        m.Caption,
	}
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	u, err := c.bot.GetMeWithContext(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &User{ID: u.Id, IsBot: u.IsBot, FirstName: u.FirstName, LastName: u.LastName, Username: u.Username}, nil
}

func (c *Client) CreateForumTopic(ctx context.Context, chatID int64, name string) (*ForumTopic, error) {
	topic, err := c.bot.CreateForumTopicWithContext(ctx, chatID, name, nil)
	if err != nil {
		return nil, err
	}
	return &ForumTopic{MessageThreadID: topic.MessageThreadId, Name: topic.Name, IconColor: int(topic.IconColor)}, nil
}

func (c *Client) EditForumTopic(ctx context.Context, chatID, threadID int64, name string) error {
	_, err := c.bot.EditForumTopicWithContext(ctx, chatID, threadID, &gotgbot.EditForumTopicOpts{Name: name})
	return err
}

func (c *Client) DeleteForumTopic(ctx context.Context, chatID, threadID int64) error {
	_, err := c.bot.DeleteForumTopicWithContext(ctx, chatID, threadID, nil)
	return err
}

func (c *Client) SendMessage(ctx context.Context, opts SendOptions, text string) (*Message, error) {
	msg, err := c.bot.SendMessageWithContext(ctx, opts.ChatID, text, &gotgbot.SendMessageOpts{
		MessageThreadId:    opts.ThreadID,
		ParseMode:          opts.ParseMode,
		LinkPreviewOptions: &gotgbot.LinkPreviewOptions{IsDisabled: true},
		ReplyParameters:    replyParameters(opts),
	})
	if err != nil {
		return nil, err
	}
	return fromMessage(msg), nil
}

// withUpload opens a validated local file for the duration of one send.
func withUpload(file InputFile, send func(gotgbot.InputFile) (*gotgbot.Message, error)) (*Message, error) {
	if err := security.ValidateFilePath(file.Path); err != nil {
		return nil, fmt.Errorf("invalid upload path: %w", err)
	}
	fileName := file.FileName
	if fileName == "" {
		fileName = filepath.Base(file.Path)
	}

	f, err := os.Open(file.Path) // #nosec G304 - validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	msg, err := send(gotgbot.InputFileByReader(fileName, f))
	if err != nil {
		return nil, err
	}
	return fromMessage(msg), nil
}

func (c *Client) SendPhoto(ctx context.Context, opts SendOptions, file InputFile, caption string) (*Message, error) {
	return withUpload(file, func(in gotgbot.InputFile) (*gotgbot.Message, error) {
		return c.bot.SendPhotoWithContext(ctx, opts.ChatID, in, &gotgbot.SendPhotoOpts{
			MessageThreadId: opts.ThreadID,
			Caption:         caption,
			ParseMode:       captionMode(opts, caption),
			ReplyParameters: replyParameters(opts),
		})
	})
}

func (c *Client) SendVideo(ctx context.Context, opts SendOptions, file InputFile, caption string) (*Message, error) {
	return withUpload(file, func(in gotgbot.InputFile) (*gotgbot.Message, error) {
		return c.bot.SendVideoWithContext(ctx, opts.ChatID, in, &gotgbot.SendVideoOpts{
			MessageThreadId: opts.ThreadID,
			Caption:         caption,
			ParseMode:       captionMode(opts, caption),
			ReplyParameters: replyParameters(opts),
		})
	})
}

func (c *Client) SendVideoNote(ctx context.Context, opts SendOptions, file InputFile) (*Message, error) {
	return withUpload(file, func(in gotgbot.InputFile) (*gotgbot.Message, error) {
		return c.bot.SendVideoNoteWithContext(ctx, opts.ChatID, in, &gotgbot.SendVideoNoteOpts{
			MessageThreadId: opts.ThreadID,
			ReplyParameters: replyParameters(opts),
		})
	})
}

func (c *Client) SendAudio(ctx context.Context, opts SendOptions, file InputFile, caption string) (*Message, error) {
	return withUpload(file, func(in gotgbot.InputFile) (*gotgbot.Message, error) {
		return c.bot.SendAudioWithContext(ctx, opts.ChatID, in, &gotgbot.SendAudioOpts{
			MessageThreadId: opts.ThreadID,
			Caption:         caption,
			ParseMode:       captionMode(opts, caption),
			ReplyParameters: replyParameters(opts),
		})
	})
}

func (c *Client) SendVoice(ctx context.Context, opts SendOptions, file InputFile, caption string) (*Message, error) {
	return withUpload(file, func(in gotgbot.InputFile) (*gotgbot.Message, error) {
		return c.bot.SendVoiceWithContext(ctx, opts.ChatID, in, &gotgbot.SendVoiceOpts{
			MessageThreadId: opts.ThreadID,
			Caption:         caption,
			ParseMode:       captionMode(opts, caption),
			ReplyParameters: replyParameters(opts),
		})
	})
}

func (c *Client) SendDocument(ctx context.Context, opts SendOptions, file InputFile, caption string) (*Message, error) {
	return withUpload(file, func(in gotgbot.InputFile) (*gotgbot.Message, error) {
		return c.bot.SendDocumentWithContext(ctx, opts.ChatID, in, &gotgbot.SendDocumentOpts{
			MessageThreadId: opts.ThreadID,
			Caption:         caption,
			ParseMode:       captionMode(opts, caption),
			ReplyParameters: replyParameters(opts),
		})
	})
}

func (c *Client) SendSticker(ctx context.Context, opts SendOptions, file InputFile) (*Message, error) {
	return withUpload(file, func(in gotgbot.InputFile) (*gotgbot.Message, error) {
		return c.bot.SendStickerWithContext(ctx, opts.ChatID, in, &gotgbot.SendStickerOpts{
			MessageThreadId: opts.ThreadID,
			ReplyParameters: replyParameters(opts),
		})
	})
}

func (c *Client) SendLocation(ctx context.Context, opts SendOptions, latitude, longitude float64) (*Message, error) {
	msg, err := c.bot.SendLocationWithContext(ctx, opts.ChatID, latitude, longitude, &gotgbot.SendLocationOpts{
		MessageThreadId: opts.ThreadID,
		ReplyParameters: replyParameters(opts),
	})
	if err != nil {
		return nil, err
	}
	return fromMessage(msg), nil
}

func (c *Client) SendContact(ctx context.Context, opts SendOptions, contact Contact) (*Message, error) {
	msg, err := c.bot.SendContactWithContext(ctx, opts.ChatID, contact.PhoneNumber, contact.FirstName, &gotgbot.SendContactOpts{
		MessageThreadId: opts.ThreadID,
		LastName:        contact.LastName,
		Vcard:           contact.VCard,
		ReplyParameters: replyParameters(opts),
	})
	if err != nil {
		return nil, err
	}
	return fromMessage(msg), nil
}

// SetMessageReaction sets one emoji reaction, or clears reactions when emoji is empty.
func (c *Client) SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	reactions := []gotgbot.ReactionType{}
	if emoji != "" {
		reactions = append(reactions, gotgbot.ReactionTypeEmoji{Emoji: emoji})
	}
	_, err := c.bot.SetMessageReactionWithContext(ctx, chatID, messageID, &gotgbot.SetMessageReactionOpts{
		Reaction: reactions,
	})
	return err
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	file, err := c.bot.GetFileWithContext(ctx, fileID, nil)
	if err != nil {
		return nil, err
	}
	return &File{FileID: file.FileId, FileSize: file.FileSize, FilePath: file.FilePath}, nil
}

// DownloadFile resolves fileID and opens its content. size is -1 when unknown.
func (c *Client) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	file, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, 0, err
	}
	if file.FilePath == "" {
		return nil, 0, apperrors.NewAPIError("telegram", "getFile", http.StatusBadRequest, fmt.Errorf("file %s has no download path", fileID))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.FileURL(file.FilePath), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, apperrors.NewAPIError("telegram", "file", 0, scrubToken(err, c.bot.Token))
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, apperrors.NewAPIError("telegram", "file", resp.StatusCode, fmt.Errorf("download status %d", resp.StatusCode))
	}

	size := resp.ContentLength
	if size < 0 && file.FileSize > 0 {
		size = file.FileSize
	}
	return resp.Body, size, nil
}

// GetUpdates long-polls for new updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	raw, err := c.bot.GetUpdatesWithContext(ctx, &gotgbot.GetUpdatesOpts{
		Offset:         offset,
		Timeout:        int64(timeoutSec),
		AllowedUpdates: []string{"message", "message_reaction"},
	})
	if err != nil {
		return nil, err
	}

	// Re-decode into the trimmed update shape the bridge consumes.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode updates: %w", err)
	}
	var updates []Update
	if err := json.Unmarshal(encoded, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}
	return updates, nil
}

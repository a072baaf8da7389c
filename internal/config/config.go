package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"whatstopic/internal/constants"
	"whatstopic/internal/httputil"
	"whatstopic/internal/models"
	"whatstopic/internal/security"
	"whatstopic/internal/validation"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "WHATSTOPIC_"

var (
	ErrMissingWhatsAppURL = models.ConfigError{Message: "missing WhatsApp API URL"}
	ErrMissingBotToken    = models.ConfigError{Message: "missing Telegram bot token"}
	ErrMissingGroupChatID = models.ConfigError{Message: "missing Telegram forum group chat id"}
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingMongoURI    = models.ConfigError{Message: "missing MongoDB URI"}
	ErrMissingMediaDir    = models.ConfigError{Message: "missing media cache directory"}
)

// LoadConfig reads a JSON or YAML file, applies WHATSTOPIC_* environment
// overrides, fills defaults and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := decode(path, file, &config); err != nil {
		return nil, err
	}

	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func decode(path string, data []byte, config *models.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("parse json config: %w", err)
		}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func validate(c *models.Config) error {
	if c.WhatsApp.APIBaseURL == "" {
		return ErrMissingWhatsAppURL
	}
	if c.Telegram.BotToken == "" {
		return ErrMissingBotToken
	}
	if c.Telegram.GroupChatID == 0 {
		return ErrMissingGroupChatID
	}
	if c.Media.CacheDir == "" {
		return ErrMissingMediaDir
	}

	if c.Database.Driver == "" {
		c.Database.Driver = constants.DefaultDatabaseDriver
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return ErrMissingDBPath
		}
	case "mongo":
		if c.Database.MongoURI == "" {
			return ErrMissingMongoURI
		}
		if c.Database.MongoDatabase == "" {
			c.Database.MongoDatabase = constants.DefaultMongoDatabase
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown database driver %q", c.Database.Driver)}
	}

	switch c.WhatsApp.EventSource {
	case "":
		c.WhatsApp.EventSource = constants.DefaultWhatsAppEventSource
	case "websocket", "webhook":
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown WhatsApp event source %q", c.WhatsApp.EventSource)}
	}

	applyDefaults(c)
	return validateValues(c)
}

// validateValues checks the filled-in values that defaults cannot repair.
func validateValues(c *models.Config) error {
	checks := []error{
		validation.ValidateForumGroupID(c.Telegram.GroupChatID),
		validation.ValidateSessionName(c.WhatsApp.SessionName),
		validation.ValidateTimeout(c.WhatsApp.TimeoutSec, "whatsapp.timeout_sec"),
		validation.ValidateTimeout(c.Timeouts.SendSec, "timeouts.send_sec"),
		validation.ValidateTimeout(c.Timeouts.MediaSec, "timeouts.media_sec"),
		validation.ValidateTimeout(c.Timeouts.StoreSec, "timeouts.store_sec"),
		validation.ValidateTimeout(c.Timeouts.TopicSec, "timeouts.topic_sec"),
		validation.ValidateNumericRange(c.Telegram.PollTimeoutSec, "telegram.poll_timeout_sec", 1, 50),
		validation.ValidateNumericRange(c.Retry.MaxAttempts, "retry.max_attempts", 1, 20),
	}
	for _, err := range checks {
		if err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}
	if _, err := httputil.NewClientIP(c.Server.TrustedProxies); err != nil {
		return models.ConfigError{Message: "server.trusted_proxies: " + err.Error()}
	}
	return nil
}

func applyDefaults(c *models.Config) {
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}

	if c.WhatsApp.SessionName == "" {
		c.WhatsApp.SessionName = constants.DefaultWhatsAppSession
	}
	setInt(&c.WhatsApp.TimeoutSec, constants.DefaultWhatsAppTimeoutSec)
	setInt(&c.WhatsApp.ContactCacheHours, constants.DefaultContactCacheHours)

	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = constants.DefaultTelegramAPIBaseURL
	}
	setInt(&c.Telegram.PollTimeoutSec, constants.DefaultTelegramPollTimeout)
	if c.Telegram.RateLimitPerSec <= 0 {
		c.Telegram.RateLimitPerSec = constants.DefaultTelegramRatePerSec
	}
	setInt(&c.Telegram.RateBurst, constants.DefaultTelegramRateBurst)
	if c.Telegram.BreakerFailures == 0 {
		c.Telegram.BreakerFailures = constants.DefaultBreakerFailures
	}
	setInt(&c.Telegram.BreakerTimeoutSec, constants.DefaultBreakerTimeoutSec)

	if c.Media.FFmpegPath == "" {
		c.Media.FFmpegPath = constants.DefaultFFmpegPath
	}
	setInt(&c.Media.TranscodeTimeoutSec, constants.DefaultTranscodeTimeoutSec)
	setInt(&c.Media.RetentionHours, constants.DefaultMediaRetentionHours)
	setInt(&c.Media.MaxSizeMB.Image, constants.DefaultMaxImageSizeMB)
	setInt(&c.Media.MaxSizeMB.Video, constants.DefaultMaxVideoSizeMB)
	setInt(&c.Media.MaxSizeMB.Audio, constants.DefaultMaxAudioSizeMB)
	setInt(&c.Media.MaxSizeMB.Voice, constants.DefaultMaxVoiceSizeMB)
	setInt(&c.Media.MaxSizeMB.Document, constants.DefaultMaxDocumentSizeMB)
	setInt(&c.Media.MaxSizeMB.Sticker, constants.DefaultMaxStickerSizeMB)

	setInt(&c.Retry.InitialBackoffMs, constants.DefaultRetryBackoffMs)
	setInt(&c.Retry.MaxBackoffMs, constants.DefaultMaxBackoffMs)
	setInt(&c.Retry.MaxAttempts, constants.DefaultMaxAttempts)

	setInt(&c.Bridge.QueueSize, constants.DefaultQueueSize)
	setInt(&c.Bridge.IdleTimeoutSec, constants.DefaultIdleTimeoutSec)
	setInt(&c.Bridge.EnqueueTimeoutMs, constants.DefaultEnqueueTimeoutMs)
	setInt(&c.Bridge.DrainGraceSec, constants.DefaultDrainGraceSec)
	setInt(&c.Bridge.OperatorNoticeWindowSec, constants.DefaultOperatorNoticeWindowSec)
	if c.Bridge.SuccessReaction == "" {
		c.Bridge.SuccessReaction = constants.DefaultSuccessReaction
	}
	if c.Bridge.FailureReaction == "" {
		c.Bridge.FailureReaction = constants.DefaultFailureReaction
	}
	if c.Bridge.SelfChatPrefix == "" {
		c.Bridge.SelfChatPrefix = constants.DefaultSelfChatPrefix
	}

	setInt(&c.Cache.ReplyWindowHours, constants.DefaultReplyWindowHours)
	setInt(&c.Cache.ReplyCapacity, constants.DefaultReplyCapacity)
	setInt(&c.Cache.DedupWindowMinutes, constants.DefaultDedupWindowMinutes)
	setInt(&c.Cache.DedupCapacity, constants.DefaultDedupCapacity)

	setInt(&c.Timeouts.SendSec, constants.DefaultSendTimeoutSec)
	setInt(&c.Timeouts.MediaSec, constants.DefaultMediaTimeoutSec)
	setInt(&c.Timeouts.StoreSec, constants.DefaultStoreTimeoutSec)
	setInt(&c.Timeouts.TopicSec, constants.DefaultTopicTimeoutSec)

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = constants.DefaultListenAddr
	}
	setInt(&c.Server.ReadTimeoutSec, constants.DefaultServerReadTimeoutSec)
	setInt(&c.Server.WriteTimeoutSec, constants.DefaultServerWriteTimeoutSec)

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "whatstopic"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv(EnvPrefix+"ENV") == "production"

	if isProduction {
		if c.WhatsApp.EventSource == "webhook" && len(c.WhatsApp.WebhookSecret) < 32 {
			return models.ConfigError{Message: "WhatsApp webhook secret of at least 32 characters is required in production (set WHATSTOPIC_WHATSAPP_WEBHOOK_SECRET)"}
		}
		if c.Server.OperatorToken == "" {
			return models.ConfigError{Message: "operator token is required in production (set WHATSTOPIC_SERVER_OPERATOR_TOKEN)"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		return nil
	}

	if c.WhatsApp.EventSource == "webhook" && c.WhatsApp.WebhookSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: WhatsApp webhook secret not set. Set WHATSTOPIC_WHATSAPP_WEBHOOK_SECRET for security.\n")
	}
	return nil
}

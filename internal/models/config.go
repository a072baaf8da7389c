package models

// Config holds the application configuration
type Config struct {
	WhatsApp   WhatsAppConfig   `json:"whatsapp" yaml:"whatsapp" envPrefix:"WHATSAPP_"`
	Telegram   TelegramConfig   `json:"telegram" yaml:"telegram" envPrefix:"TELEGRAM_"`
	Database   DatabaseConfig   `json:"database" yaml:"database" envPrefix:"DB_"`
	Media      MediaConfig      `json:"media" yaml:"media" envPrefix:"MEDIA_"`
	Retry      RetryConfig      `json:"retry" yaml:"retry"`
	Bridge     BridgeConfig     `json:"bridge" yaml:"bridge" envPrefix:"BRIDGE_"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" envPrefix:"CACHE_"`
	Timeouts   TimeoutConfig    `json:"timeouts" yaml:"timeouts"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing" envPrefix:"TRACING_"`
	Server     ServerConfig     `json:"server" yaml:"server" envPrefix:"SERVER_"`
	Extensions ExtensionsConfig `json:"extensions" yaml:"extensions"`
	LogLevel   string           `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
}

// WhatsAppConfig holds WAHA connection settings
type WhatsAppConfig struct {
	APIBaseURL        string `json:"api_base_url" yaml:"api_base_url" env:"API_BASE_URL"`
	APIKey            string `json:"api_key" yaml:"api_key" env:"API_KEY"`
	SessionName       string `json:"session_name" yaml:"session_name" env:"SESSION_NAME"`
	TimeoutSec        int    `json:"timeout_sec" yaml:"timeout_sec"`
	WebhookSecret     string `json:"webhook_secret" yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	EventSource       string `json:"event_source" yaml:"event_source" env:"EVENT_SOURCE"` // "websocket" or "webhook"
	ContactCacheHours int    `json:"contact_cache_hours" yaml:"contact_cache_hours"`
}

// TelegramConfig holds Bot API and forum settings
type TelegramConfig struct {
	APIBaseURL        string  `json:"api_base_url" yaml:"api_base_url" env:"API_BASE_URL"`
	BotToken          string  `json:"bot_token" yaml:"bot_token" env:"BOT_TOKEN"`
	GroupChatID       int64   `json:"group_chat_id" yaml:"group_chat_id" env:"GROUP_CHAT_ID"`
	OperatorThreadID  int64   `json:"operator_thread_id" yaml:"operator_thread_id"`
	PollingEnabled    bool    `json:"polling_enabled" yaml:"polling_enabled"`
	PollTimeoutSec    int     `json:"poll_timeout_sec" yaml:"poll_timeout_sec"`
	RateLimitPerSec   float64 `json:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
	RateBurst         int     `json:"rate_burst" yaml:"rate_burst"`
	BreakerFailures   uint32  `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerTimeoutSec int     `json:"breaker_timeout_sec" yaml:"breaker_timeout_sec"`
	GroupTopicPrefix  string  `json:"group_topic_prefix" yaml:"group_topic_prefix"`
}

// DatabaseConfig selects and configures the document store backend
type DatabaseConfig struct {
	Driver           string `json:"driver" yaml:"driver" env:"DRIVER"` // "sqlite" or "mongo"
	Path             string `json:"path" yaml:"path" env:"PATH"`
	MongoURI         string `json:"mongo_uri" yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase    string `json:"mongo_database" yaml:"mongo_database" env:"MONGO_DATABASE"`
	EncryptionSecret string `json:"-" yaml:"-" env:"ENCRYPTION_SECRET"`
}

// MediaConfig holds media related configurations
type MediaConfig struct {
	CacheDir            string          `json:"cache_dir" yaml:"cache_dir" env:"CACHE_DIR"`
	FFmpegPath          string          `json:"ffmpeg_path" yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	TranscodeTimeoutSec int             `json:"transcode_timeout_sec" yaml:"transcode_timeout_sec"`
	RetentionHours      int             `json:"retention_hours" yaml:"retention_hours"`
	MaxSizeMB           MediaSizeLimits `json:"max_size_mb" yaml:"max_size_mb"`
}

// MediaSizeLimits defines size limits for different media kinds in MB
type MediaSizeLimits struct {
	Image    int `json:"image" yaml:"image"`
	Video    int `json:"video" yaml:"video"`
	Audio    int `json:"audio" yaml:"audio"`
	Voice    int `json:"voice" yaml:"voice"`
	Document int `json:"document" yaml:"document"`
	Sticker  int `json:"sticker" yaml:"sticker"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms" yaml:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts" yaml:"max_attempts"`
}

// BridgeConfig tunes the delivery engine
type BridgeConfig struct {
	Enabled                 *bool  `json:"enabled" yaml:"enabled" env:"ENABLED"`
	QueueSize               int    `json:"queue_size" yaml:"queue_size"`
	IdleTimeoutSec          int    `json:"idle_timeout_sec" yaml:"idle_timeout_sec"`
	EnqueueTimeoutMs        int    `json:"enqueue_timeout_ms" yaml:"enqueue_timeout_ms"`
	DrainGraceSec           int    `json:"drain_grace_sec" yaml:"drain_grace_sec"`
	NotifySource            bool   `json:"notify_source" yaml:"notify_source"`
	SuccessReaction         string `json:"success_reaction" yaml:"success_reaction"`
	FailureReaction         string `json:"failure_reaction" yaml:"failure_reaction"`
	SelfChatPrefix          string `json:"self_chat_prefix" yaml:"self_chat_prefix"`
	OperatorNoticeWindowSec int    `json:"operator_notice_window_sec" yaml:"operator_notice_window_sec"`
}

// IsEnabled treats an unset flag as enabled.
func (b BridgeConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// CacheConfig sizes the reply index and dedup window
type CacheConfig struct {
	ReplyWindowHours   int    `json:"reply_window_hours" yaml:"reply_window_hours"`
	ReplyCapacity      int    `json:"reply_capacity" yaml:"reply_capacity"`
	DedupWindowMinutes int    `json:"dedup_window_minutes" yaml:"dedup_window_minutes"`
	DedupCapacity      int    `json:"dedup_capacity" yaml:"dedup_capacity"`
	RedisURL           string `json:"redis_url" yaml:"redis_url" env:"REDIS_URL"`
}

// TimeoutConfig bounds each class of external call
type TimeoutConfig struct {
	SendSec  int `json:"send_sec" yaml:"send_sec"`
	MediaSec int `json:"media_sec" yaml:"media_sec"`
	StoreSec int `json:"store_sec" yaml:"store_sec"`
	TopicSec int `json:"topic_sec" yaml:"topic_sec"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled" env:"ENABLED"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment" env:"ENVIRONMENT"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" yaml:"use_stdout"`
}

// ServerConfig configures the webhook and operator HTTP listener
type ServerConfig struct {
	ListenAddr      string `json:"listen_addr" yaml:"listen_addr" env:"LISTEN_ADDR"`
	OperatorToken   string `json:"operator_token" yaml:"operator_token" env:"OPERATOR_TOKEN"`
	ReadTimeoutSec  int    `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `json:"write_timeout_sec" yaml:"write_timeout_sec"`
	// TrustedProxies lists addresses or CIDR ranges whose forwarding headers
	// are believed when identifying webhook callers.
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`
}

// ExtensionsConfig enables built-in extension modules
type ExtensionsConfig struct {
	KeywordFilter KeywordFilterConfig `json:"keyword_filter" yaml:"keyword_filter"`
}

// KeywordFilterConfig drops inbound messages containing any listed keyword
type KeywordFilterConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

package constants

// Retry and backoff
const (
	DefaultRetryBackoffMs = 1000
	DefaultMaxBackoffMs   = 60000
	DefaultMaxAttempts    = 5
)

// Bridge engine
const (
	DefaultQueueSize               = 64
	DefaultIdleTimeoutSec          = 300
	DefaultEnqueueTimeoutMs        = 2000
	DefaultDrainGraceSec           = 20
	DefaultSuccessReaction         = "✅"
	DefaultFailureReaction         = "❌"
	DefaultSelfChatPrefix          = "You"
	DefaultOperatorNoticeWindowSec = 30
	DefaultContactCacheHours       = 24
)

// Reply index and dedup
const (
	DefaultReplyWindowHours   = 72
	DefaultReplyCapacity      = 50000
	DefaultDedupWindowMinutes = 60
	DefaultDedupCapacity      = 20000
)

// Per-call timeouts
const (
	DefaultSendTimeoutSec  = 30
	DefaultMediaTimeoutSec = 120
	DefaultStoreTimeoutSec = 5
	DefaultTopicTimeoutSec = 15
)

// Telegram
const (
	DefaultTelegramAPIBaseURL   = "https://api.telegram.org"
	DefaultTelegramPollTimeout  = 30
	DefaultTelegramRatePerSec   = 20.0
	DefaultTelegramRateBurst    = 5
	DefaultBreakerFailures      = 5
	DefaultBreakerTimeoutSec    = 30
	MaxTopicNameLength          = 128
	MaxMessageLength            = 4096
	MaxCaptionLength            = 1024
	DefaultTelegramUpdateBuffer = 100
)

// WhatsApp
const (
	DefaultWhatsAppTimeoutSec  = 30
	DefaultWhatsAppEventSource = "websocket"
	DefaultWhatsAppSession     = "default"
)

// Default media configuration values
const (
	DefaultMaxImageSizeMB       = 10
	DefaultMaxVideoSizeMB       = 50
	DefaultMaxAudioSizeMB       = 50
	DefaultMaxVoiceSizeMB       = 16
	DefaultMaxDocumentSizeMB    = 50
	DefaultMaxStickerSizeMB     = 1
	DefaultTranscodeTimeoutSec  = 60
	DefaultMediaRetentionHours  = 6
	DefaultFFmpegPath           = "ffmpeg"
	BytesPerMegabyte            = 1024 * 1024
	MimeDetectionBufferSize     = 512
	DefaultMediaCleanupInterval = 30 // minutes
)

// Storage
const (
	DefaultDatabaseDriver        = "sqlite"
	DefaultDatabasePath          = "whatstopic.db"
	DefaultMongoDatabase         = "whatstopic"
	DefaultDatabaseRetryAttempts = 3
)

// HTTP server
const (
	DefaultListenAddr            = ":8082"
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultHTTPTimeoutSec        = 30
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

package constants

// Default circuit breaker configuration values
const (
	DefaultBreakerFailureRatePct  = 50
	DefaultBreakerMinSamples      = 5
	DefaultBreakerResetTimeoutSec = 30
	DefaultBreakerCallTimeoutSec  = 15
)

// Default retry queue configuration values
const (
	DefaultRetryMaxAttempts    = 3
	DefaultRetryInitialDelayMs = 1000
	DefaultRetryMaxDelayMs     = 10000
	DefaultRetryMultiplier     = 2.0
	DefaultQueueConcurrency    = 3
	DefaultQueueRatePerSec     = 5
	DefaultQueueBurst          = 5
)

// Default dead letter store configuration values
const (
	DefaultDeadLetterCap         = 100
	DefaultDeadLetterPath        = "dead_letters.json"
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
)

// Default server configuration values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
	DefaultMaxRequestBodyBytes   = 1 << 20
)

// Sanitizer configuration values
const (
	SanitizerMaxLength         = 3900
	SanitizerFallbackMaxLength = 100
	SanitizerHybridEmojiLimit  = 10
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)

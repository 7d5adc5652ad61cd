package constants

// Default timeout values used by client packages
const (
	DefaultHTTPTimeoutSec     = 30
	DefaultWhatsAppTimeoutMs  = 30000
	DefaultWhatsAppRetryCount = 3
)

// Validation and security constants used by packages
const (
	MaxMessageIDLength   = 256
	MaxDestinationLength = 64
	MinPhoneNumberLength = 10
	MinGroupIDLength     = 15
)

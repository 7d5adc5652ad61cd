package models

// Config holds the application configuration
type Config struct {
	WhatsApp   WhatsAppConfig   `json:"whatsapp"`
	Breaker    BreakerConfig    `json:"breaker"`
	Retry      RetryConfig      `json:"retry"`
	DeadLetter DeadLetterConfig `json:"deadLetter"`
	Sanitizer  SanitizerConfig  `json:"sanitizer"`
	Server     ServerConfig     `json:"server"`
	LogLevel   string           `json:"log_level"`
}

// WhatsAppConfig holds transport related configurations
type WhatsAppConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	SessionName string `json:"session_name"`
	TimeoutMs   int    `json:"timeout_ms"`
}

// BreakerConfig holds circuit breaker related configurations
type BreakerConfig struct {
	FailureRatePct  int `json:"failureRatePct"`
	MinSamples      int `json:"minSamples"`
	ResetTimeoutSec int `json:"resetTimeoutSec"`
	CallTimeoutSec  int `json:"callTimeoutSec"`
}

// RetryConfig holds retry queue related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
	Concurrency      int `json:"concurrency"`
	RatePerSec       int `json:"ratePerSec"`
}

// DeadLetterConfig holds dead letter store related configurations
type DeadLetterConfig struct {
	Backend string `json:"backend"` // "file" (default) or "sqlite"
	Path    string `json:"path"`
	Cap     int    `json:"cap"`
}

// SanitizerConfig holds payload sanitizer related configurations
type SanitizerConfig struct {
	Strategy string `json:"strategy"`
}

// ServerConfig holds HTTP server related configurations
type ServerConfig struct {
	Port int `json:"port"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"wadeliver/internal/constants"
	"wadeliver/internal/models"
	"wadeliver/internal/sanitizer"
	"wadeliver/internal/security"
)

var (
	ErrMissingTransportURL = models.ConfigError{Message: "missing transport API base URL"}
	ErrMissingDLQPath      = models.ConfigError{Message: "missing dead letter store path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Breaker.FailureRatePct == 0 {
		c.Breaker.FailureRatePct = constants.DefaultBreakerFailureRatePct
	}
	if c.Breaker.MinSamples == 0 {
		c.Breaker.MinSamples = constants.DefaultBreakerMinSamples
	}
	if c.Breaker.ResetTimeoutSec == 0 {
		c.Breaker.ResetTimeoutSec = constants.DefaultBreakerResetTimeoutSec
	}
	if c.Breaker.CallTimeoutSec == 0 {
		c.Breaker.CallTimeoutSec = constants.DefaultBreakerCallTimeoutSec
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = constants.DefaultRetryMaxAttempts
	}
	if c.Retry.InitialBackoffMs == 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryInitialDelayMs
	}
	if c.Retry.MaxBackoffMs == 0 {
		c.Retry.MaxBackoffMs = constants.DefaultRetryMaxDelayMs
	}
	if c.Retry.Concurrency == 0 {
		c.Retry.Concurrency = constants.DefaultQueueConcurrency
	}
	if c.Retry.RatePerSec == 0 {
		c.Retry.RatePerSec = constants.DefaultQueueRatePerSec
	}

	if c.DeadLetter.Backend == "" {
		c.DeadLetter.Backend = "file"
	}
	if c.DeadLetter.Path == "" {
		c.DeadLetter.Path = constants.DefaultDeadLetterPath
	}
	if c.DeadLetter.Cap == 0 {
		c.DeadLetter.Cap = constants.DefaultDeadLetterCap
	}

	if c.Sanitizer.Strategy == "" {
		c.Sanitizer.Strategy = "hybrid"
	}
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.WhatsApp.TimeoutMs == 0 {
		c.WhatsApp.TimeoutMs = 30000
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("WADELIVER_API_BASE_URL"); v != "" {
		c.WhatsApp.APIBaseURL = v
	}
	if v := os.Getenv("WADELIVER_SESSION_NAME"); v != "" {
		c.WhatsApp.SessionName = v
	}
	if v := os.Getenv("WADELIVER_DLQ_PATH"); v != "" {
		c.DeadLetter.Path = v
	}
	if v := os.Getenv("WADELIVER_DLQ_BACKEND"); v != "" {
		c.DeadLetter.Backend = v
	}
	if v := os.Getenv("WADELIVER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("WADELIVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}

func validate(c *models.Config) error {
	if c.WhatsApp.APIBaseURL == "" {
		return ErrMissingTransportURL
	}
	if c.DeadLetter.Path == "" {
		return ErrMissingDLQPath
	}

	if c.DeadLetter.Backend != "file" && c.DeadLetter.Backend != "sqlite" {
		return models.ConfigError{Message: fmt.Sprintf("unknown dead letter backend: %q", c.DeadLetter.Backend)}
	}
	if c.Breaker.FailureRatePct < 1 || c.Breaker.FailureRatePct > 100 {
		return models.ConfigError{Message: "breaker failure rate must be between 1 and 100"}
	}
	if c.Retry.MaxAttempts < 1 {
		return models.ConfigError{Message: "retry max attempts must be at least 1"}
	}
	if c.Retry.Concurrency < 1 {
		return models.ConfigError{Message: "retry concurrency must be at least 1"}
	}
	if _, err := sanitizer.ParseStrategy(c.Sanitizer.Strategy); err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	return nil
}

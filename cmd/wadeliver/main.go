package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wadeliver/internal/config"
	"wadeliver/internal/constants"
	"wadeliver/internal/deadletter"
	"wadeliver/internal/models"
	"wadeliver/internal/retry"
	"wadeliver/internal/sanitizer"
	"wadeliver/internal/service"
	"wadeliver/pkg/circuitbreaker"
	"wadeliver/pkg/whatsapp"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wadeliver %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wadeliver")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogLevel(logger, cfg)

	store, err := newDeadLetterStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dead letter store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("Failed to close dead letter store: %v", err)
		}
	}()

	transport := whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL:     cfg.WhatsApp.APIBaseURL,
		APIKey:      os.Getenv("WADELIVER_API_KEY"),
		SessionName: cfg.WhatsApp.SessionName,
		Timeout:     time.Duration(cfg.WhatsApp.TimeoutMs) * time.Millisecond,
	})

	breaker := circuitbreaker.New("whatsapp", circuitbreaker.Config{
		FailureRatePct: cfg.Breaker.FailureRatePct,
		MinSamples:     uint32(cfg.Breaker.MinSamples),
		ResetTimeout:   time.Duration(cfg.Breaker.ResetTimeoutSec) * time.Second,
		CallTimeout:    time.Duration(cfg.Breaker.CallTimeoutSec) * time.Second,
	}, logger)

	queue := retry.NewQueue(retry.QueueConfig{
		Concurrency: cfg.Retry.Concurrency,
		RatePerSec:  cfg.Retry.RatePerSec,
		Burst:       cfg.Retry.RatePerSec,
		Backoff: retry.BackoffConfig{
			InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
			Multiplier:   constants.DefaultRetryMultiplier,
			MaxAttempts:  cfg.Retry.MaxAttempts,
		},
	}, logger)

	strategy, err := sanitizer.ParseStrategy(cfg.Sanitizer.Strategy)
	if err != nil {
		return fmt.Errorf("invalid sanitizer strategy: %w", err)
	}

	confirm := func(destination, messageID string, status models.MessageStatus) {
		logger.WithFields(logrus.Fields{
			"destination": destination,
			"message_id":  messageID,
			"status":      status,
		}).Info("Delivery confirmation")
	}

	sender := service.NewSender(transport, breaker, queue, store, sanitizer.New(logger), strategy, confirm, logger)
	go sender.WatchBreakerEvents(ctx)

	server := NewServer(sender, store, cfg.Server.Port, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

func configureLogLevel(logger *logrus.Logger, cfg *models.Config) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if cfg.LogLevel == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	logger.SetLevel(level)
}

// newDeadLetterStore builds the configured backend, retrying transient
// startup failures with exponential backoff.
func newDeadLetterStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (deadletter.Store, error) {
	var store deadletter.Store

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err := backoff.Retry(ctx, func() error {
		var initErr error
		switch cfg.DeadLetter.Backend {
		case "sqlite":
			store, initErr = deadletter.NewSQLiteStore(cfg.DeadLetter.Path, cfg.DeadLetter.Cap, logger)
		default:
			store, initErr = deadletter.NewFileStore(cfg.DeadLetter.Path, cfg.DeadLetter.Cap, logger)
		}
		if initErr != nil {
			logger.Warnf("Failed to initialize dead letter store: %v", initErr)
		}
		return initErr
	})

	return store, err
}

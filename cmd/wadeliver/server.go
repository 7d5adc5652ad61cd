package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wadeliver/internal/constants"
	"wadeliver/internal/deadletter"
	apperrors "wadeliver/internal/errors"
	"wadeliver/internal/models"
	"wadeliver/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Server struct {
	router *mux.Router
	logger *logrus.Logger
	sender *service.Sender
	store  deadletter.Store
	server *http.Server
	port   int
}

func NewServer(sender *service.Sender, store deadletter.Store, port int, logger *logrus.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		sender: sender,
		store:  store,
		port:   port,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(rateLimitMiddleware(rate.NewLimiter(apiRatePerSec, apiBurst)))
	api.HandleFunc("/messages", s.handleSendMessage()).Methods(http.MethodPost)

	api.HandleFunc("/dlq", s.handleListDeadLetters()).Methods(http.MethodGet)
	api.HandleFunc("/dlq", s.handleClearDeadLetters()).Methods(http.MethodDelete)
	api.HandleFunc("/dlq/stats", s.handleDeadLetterStats()).Methods(http.MethodGet)
	api.HandleFunc("/dlq/{id}/retry", s.handleRetryDeadLetter()).Methods(http.MethodPost)

	api.HandleFunc("/queue/stats", s.handleQueueStats()).Methods(http.MethodGet)
	api.HandleFunc("/queue/pause", s.handlePauseQueue()).Methods(http.MethodPost)
	api.HandleFunc("/queue/start", s.handleStartQueue()).Methods(http.MethodPost)

	api.HandleFunc("/breaker", s.handleBreakerStats()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, constants.DefaultMaxRequestBodyBytes)

		var req models.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			appErr := apperrors.NewValidationError("body", "", "request body is not valid JSON")
			s.writeError(w, apperrors.HTTPStatusCode(appErr), appErr.UserMessage)
			return
		}

		result := s.sender.SendMessage(r.Context(), &req)
		s.writeJSON(w, statusFor(result), result)
	}
}

// statusFor maps a send outcome to its HTTP status.
func statusFor(result *models.SendResult) int {
	if result.Success {
		return http.StatusOK
	}
	return apperrors.HTTPStatusCode(result.Err)
}

func (s *Server) handleListDeadLetters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.store.GetFailedMessages(r.Context())
		if err != nil {
			s.storeError(w, "list", err)
			return
		}
		if entries == nil {
			entries = []models.DeadLetterEntry{}
		}
		s.writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) handleClearDeadLetters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Clear(r.Context()); err != nil {
			s.storeError(w, "clear", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeadLetterStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.store.Stats(r.Context())
		if err != nil {
			s.storeError(w, "stats", err)
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handleRetryDeadLetter() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		result := s.sender.RetryFailedMessage(r.Context(), id)
		s.writeJSON(w, statusFor(result), result)
	}
}

func (s *Server) handleQueueStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.sender.QueueStats())
	}
}

func (s *Server) handlePauseQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sender.PauseQueue()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleStartQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sender.StartQueue()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleBreakerStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.sender.BreakerStats())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// storeError reports a dead letter store failure with its mapped status.
func (s *Server) storeError(w http.ResponseWriter, operation string, err error) {
	appErr := apperrors.NewStoreError(operation, err)
	apperrors.WrapLogger(s.logger).LogError(appErr, "Dead letter store operation failed")
	s.writeError(w, apperrors.HTTPStatusCode(appErr), apperrors.GetUserMessage(appErr))
}

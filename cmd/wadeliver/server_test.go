package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"wadeliver/internal/deadletter"
	"wadeliver/internal/models"
	"wadeliver/internal/retry"
	"wadeliver/internal/sanitizer"
	"wadeliver/internal/service"
	"wadeliver/pkg/circuitbreaker"
	"wadeliver/pkg/whatsapp"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeTransport succeeds or fails according to the failing flag.
type fakeTransport struct {
	failing atomic.Bool
	calls   atomic.Int32
}

func (f *fakeTransport) SendText(ctx context.Context, chatID, text string) (*whatsapp.SendMessageResponse, error) {
	f.calls.Add(1)
	if f.failing.Load() {
		return nil, errors.New("transport down")
	}
	return &whatsapp.SendMessageResponse{MessageID: "wa-test", Status: "sent"}, nil
}

func (f *fakeTransport) SendMedia(ctx context.Context, chatID string, media *models.Attachment, caption string) (*whatsapp.SendMessageResponse, error) {
	return f.SendText(ctx, chatID, caption)
}

type serverFixture struct {
	server    *Server
	transport *fakeTransport
	store     deadletter.Store
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := deadletter.NewFileStore(filepath.Join(t.TempDir(), "dead_letters.json"), 100, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	breaker := circuitbreaker.New("transport", circuitbreaker.Config{
		FailureRatePct: 50,
		MinSamples:     5,
		ResetTimeout:   time.Hour,
		CallTimeout:    time.Second,
	}, logger)

	queue := retry.NewQueue(retry.QueueConfig{
		Concurrency: 3,
		RatePerSec:  1000,
		Burst:       1000,
		Backoff: retry.BackoffConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  3,
		},
	}, logger)

	transport := &fakeTransport{}
	sender := service.NewSender(
		transport,
		breaker,
		queue,
		store,
		sanitizer.New(logger),
		sanitizer.StrategyHybrid,
		nil,
		logger,
	)

	return &serverFixture{
		server:    NewServer(sender, store, 0, logger),
		transport: transport,
		store:     store,
	}
}

func (f *serverFixture) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Contains(t, snapshot, "uptime_seconds")
}

func TestSendMessageEndpointSuccess(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/messages", models.SendRequest{
		To:   "15551234567",
		Body: "hello",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var result models.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "wa-test", result.MessageID)
}

func TestSendMessageEndpointFailure(t *testing.T) {
	f := newServerFixture(t)
	f.transport.failing.Store(true)

	rec := f.request(t, http.MethodPost, "/api/v1/messages", models.SendRequest{
		To:   "15551234567",
		Body: "doomed",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var result models.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, "DEAD_LETTERED", result.Code)
	assert.NotEmpty(t, result.DLQID)
}

func TestSendMessageEndpointRejectsBadBody(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeadLetterEndpoints(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	// Empty store: list returns an empty array, not null.
	rec := f.request(t, http.MethodGet, "/api/v1/dlq", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	id, err := f.store.AddFailedMessage(ctx, models.Message{
		DestinationID:   "15551234567@c.us",
		Body:            "stuck",
		ClientMessageID: "cm-1",
		Attempts:        4,
	}, errors.New("transport down"))
	require.NoError(t, err)

	rec = f.request(t, http.MethodGet, "/api/v1/dlq", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.DeadLetterEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	rec = f.request(t, http.MethodGet, "/api/v1/dlq/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.DeadLetterStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)

	rec = f.request(t, http.MethodDelete, "/api/v1/dlq", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	remaining, err := f.store.GetFailedMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRetryDeadLetterEndpoint(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	id, err := f.store.AddFailedMessage(ctx, models.Message{
		DestinationID:   "15551234567@c.us",
		Body:            "replay me",
		ClientMessageID: "cm-1",
	}, errors.New("transport down"))
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/v1/dlq/"+id+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)

	remaining, err := f.store.GetFailedMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRetryDeadLetterEndpointUnknownID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/dlq/missing/retry", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	var result models.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, "NOT_FOUND", result.Code)
	assert.Equal(t, "missing", result.DLQID)
}

func TestRetryDeadLetterEndpointFailedReplay(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.transport.failing.Store(true)

	id, err := f.store.AddFailedMessage(ctx, models.Message{
		DestinationID:   "15551234567@c.us",
		Body:            "still stuck",
		ClientMessageID: "cm-1",
	}, errors.New("transport down"))
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/v1/dlq/"+id+"/retry", nil)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var result models.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, "RETRY_EXHAUSTED", result.Code)
	assert.Equal(t, id, result.DLQID)
}

func TestDeadLetterEndpointsStoreUnavailable(t *testing.T) {
	f := newServerFixture(t)
	require.NoError(t, f.store.Close())

	rec := f.request(t, http.MethodGet, "/api/v1/dlq", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/dlq/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueueEndpoints(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats retry.QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Concurrency)

	rec = f.request(t, http.MethodPost, "/api/v1/queue/pause", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/v1/queue/start", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBreakerEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/breaker", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats circuitbreaker.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "transport", stats.Name)
	assert.Equal(t, "CLOSED", stats.State)
}

func TestRateLimitMiddleware(t *testing.T) {
	limited := rateLimitMiddleware(rate.NewLimiter(1, 2))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}

	// Burst of 2 admitted, third rejected.
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newServerFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/messages", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

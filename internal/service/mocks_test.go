package service

import (
	"context"
	"sync"

	"wadeliver/internal/models"
	"wadeliver/pkg/whatsapp"

	"github.com/stretchr/testify/mock"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) SendText(ctx context.Context, chatID, text string) (*whatsapp.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, text)
	if resp := args.Get(0); resp != nil {
		return resp.(*whatsapp.SendMessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTransport) SendMedia(ctx context.Context, chatID string, media *models.Attachment, caption string) (*whatsapp.SendMessageResponse, error) {
	args := m.Called(ctx, chatID, media, caption)
	if resp := args.Get(0); resp != nil {
		return resp.(*whatsapp.SendMessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

// confirmation is a recorded callback invocation.
type confirmation struct {
	Destination string
	MessageID   string
	Status      models.MessageStatus
}

// confirmationRecorder collects callback invocations for assertion.
type confirmationRecorder struct {
	mu    sync.Mutex
	calls []confirmation
}

func (r *confirmationRecorder) fn() ConfirmationFunc {
	return func(destination, messageID string, status models.MessageStatus) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, confirmation{
			Destination: destination,
			MessageID:   messageID,
			Status:      status,
		})
	}
}

func (r *confirmationRecorder) all() []confirmation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]confirmation, len(r.calls))
	copy(out, r.calls)
	return out
}

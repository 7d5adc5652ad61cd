package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	apperrors "wadeliver/internal/errors"
	"wadeliver/internal/models"
	"wadeliver/pkg/constants"
)

// Transport is the single capability this subsystem depends on: deliver a
// payload to a destination, or fail. Session lifecycle and pairing live
// with the external client.
type Transport interface {
	SendText(ctx context.Context, chatID, text string) (*SendMessageResponse, error)
	SendMedia(ctx context.Context, chatID string, media *models.Attachment, caption string) (*SendMessageResponse, error)
}

// ClientConfig configures the HTTP transport client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	SessionName string
	Timeout     time.Duration
}

// Client posts to a WAHA-style HTTP API.
type Client struct {
	config ClientConfig
	client *http.Client
}

// SendMessageResponse is the transport's delivery acknowledgement.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// NewClient creates a transport client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = time.Duration(constants.DefaultWhatsAppTimeoutMs) * time.Millisecond
	}
	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (c *Client) SendText(ctx context.Context, chatID, text string) (*SendMessageResponse, error) {
	payload := map[string]interface{}{
		"chatId":  chatID,
		"text":    text,
		"session": c.config.SessionName,
	}

	return c.sendRequest(ctx, "/api/sendText", payload)
}

func (c *Client) SendMedia(ctx context.Context, chatID string, media *models.Attachment, caption string) (*SendMessageResponse, error) {
	if media == nil {
		return nil, fmt.Errorf("media attachment is required")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", media.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(media.Data); err != nil {
		return nil, fmt.Errorf("failed to write media content: %w", err)
	}

	_ = writer.WriteField("chatId", chatID)
	_ = writer.WriteField("session", c.config.SessionName)
	if media.MimeType != "" {
		_ = writer.WriteField("mimetype", media.MimeType)
	}
	if caption != "" {
		_ = writer.WriteField("caption", caption)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/sendMedia", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuth(req)

	return c.do(req)
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) (*SendMessageResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	return c.do(req)
}

func (c *Client) setAuth(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set("X-Api-Key", c.config.APIKey)
	}
}

func (c *Client) do(req *http.Request) (*SendMessageResponse, error) {
	endpoint := req.URL.Path

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewTimeoutError(endpoint, c.config.Timeout.String(), err)
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result SendMessageResponse
	if err := json.Unmarshal(data, &result); err != nil {
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return nil, apperrors.NewTransportError(endpoint, resp.StatusCode,
				fmt.Errorf("request failed with status %d", resp.StatusCode))
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &result, apperrors.NewTransportError(endpoint, resp.StatusCode,
			fmt.Errorf("request failed with status %d: %s", resp.StatusCode, result.Error))
	}

	return &result, nil
}

package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tierconf/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookNotifier posts critical change alerts to a configured endpoint
type WebhookNotifier struct {
	config *WebhookConfig
	logger *zap.Logger
	client *http.Client
}

// WebhookPayload is the webhook payload structure
type WebhookPayload struct {
	EventType string             `json:"event_type"`
	EventID   string             `json:"event_id"`
	Timestamp time.Time          `json:"timestamp"`
	Data      *types.ChangeEvent `json:"data"`
}

// NewWebhookNotifier creates new webhook notifier
func NewWebhookNotifier(cfg *WebhookConfig, logger *zap.Logger) (*WebhookNotifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("webhook notifier is disabled")
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &WebhookNotifier{
		config: cfg,
		logger: logger,
		client: client,
	}, nil
}

// NotifyCriticalChange sends a critical config change alert
func (w *WebhookNotifier) NotifyCriticalChange(ctx context.Context, event *types.ChangeEvent) error {
	payload := WebhookPayload{
		EventType: "config.critical_change",
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		Data:      event,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tierconf-webhook/1.0")
	req.Header.Set("X-Tierconf-Event", payload.EventType)
	req.Header.Set("X-Tierconf-Delivery", payload.EventID)

	if w.config.Secret != "" {
		req.Header.Set("X-Tierconf-Signature", signPayload(data, []byte(w.config.Secret)))
	}
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return nil
}

// Health verifies the webhook endpoint is configured
func (w *WebhookNotifier) Health(_ context.Context) error {
	if w.config.URL == "" {
		return fmt.Errorf("webhook URL is not configured")
	}
	return nil
}

// signPayload computes the HMAC-SHA256 payload signature
func signPayload(payload, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderEvent     = "X-AssetVault-Event"
	HeaderDelivery  = "X-AssetVault-Delivery"
	HeaderSignature = "X-AssetVault-Signature"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// delay returns the wait before attempt n+1
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// WebhookNotifier POSTs each notification as JSON to a single endpoint.
// When a secret is set the body is signed with HMAC-SHA256.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	retry  RetryConfig
}

// NewWebhookNotifier creates a webhook notifier. A nil client uses a 10s timeout client.
func NewWebhookNotifier(url, secret string, client *http.Client, retry RetryConfig) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.BackoffMultiplier <= 1.0 {
		retry.BackoffMultiplier = 2.0
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: client,
		retry:  retry,
	}
}

// Notify implements Notifier, retrying failed deliveries with exponential backoff
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	deliveryID := uuid.New().String()

	var lastErr error
	for attempt := 1; attempt <= w.retry.MaxAttempts; attempt++ {
		if lastErr = w.send(ctx, payload, n.Kind, deliveryID); lastErr == nil {
			return nil
		}
		if attempt == w.retry.MaxAttempts {
			break
		}

		timer := time.NewTimer(w.retry.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("webhook delivery %s abandoned: %w", deliveryID, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("webhook delivery %s failed after %d attempts: %w", deliveryID, w.retry.MaxAttempts, lastErr)
}

func (w *WebhookNotifier) send(ctx context.Context, payload []byte, kind Kind, deliveryID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(kind))
	req.Header.Set(HeaderDelivery, deliveryID)
	if w.secret != "" {
		req.Header.Set(HeaderSignature, generateSignature(payload, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// VerifySignature verifies the webhook signature
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

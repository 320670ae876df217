package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/renewly/renewly/internal/config"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
)

// Payload is the wire format of an outbound event notification
type Payload struct {
	EventID        string          `json:"event_id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Category       string          `json:"category"`
	Severity       string          `json:"severity"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Dispatcher delivers event notifications to the configured endpoint
type Dispatcher interface {
	Dispatch(ctx context.Context, payload *Payload) error
	Enabled() bool
}

type httpDispatcher struct {
	endpoint       string
	signingSecret  string
	client         *retryablehttp.Client
	maxElapsedTime time.Duration
	logger         *logger.Logger
}

// NewDispatcher builds a Dispatcher from config. When no endpoint is
// configured the dispatcher reports disabled and Dispatch is a no-op.
func NewDispatcher(cfg *config.Configuration, log *logger.Logger) Dispatcher {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Webhook.MaxRetries
	client.HTTPClient.Timeout = cfg.Webhook.RequestTimeout
	client.Logger = nil

	return &httpDispatcher{
		endpoint:       cfg.Webhook.Endpoint,
		signingSecret:  cfg.Webhook.SigningSecret,
		client:         client,
		maxElapsedTime: cfg.Webhook.MaxElapsedTime,
		logger:         log,
	}
}

func (d *httpDispatcher) Enabled() bool {
	return d.endpoint != ""
}

// Dispatch posts the payload with retries and exponential backoff. The
// total attempt window is bounded by the configured max elapsed time.
func (d *httpDispatcher) Dispatch(ctx context.Context, payload *Payload) error {
	if !d.Enabled() {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode webhook payload").
			Mark(ierr.ErrSystem)
	}

	operation := func() error {
		return d.post(ctx, body)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = d.maxElapsedTime

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return ierr.WithError(err).
			WithHint("Webhook delivery failed").
			WithReportableDetails(map[string]any{
				"event_id":   payload.EventID,
				"event_type": payload.EventType,
			}).
			Mark(ierr.ErrSystem)
	}

	d.logger.Debugw("webhook delivered",
		"event_id", payload.EventID,
		"event_type", payload.EventType,
	)
	return nil
}

func (d *httpDispatcher) post(ctx context.Context, body []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.signingSecret != "" {
		req.Header.Set("X-Renewly-Signature", sign(d.signingSecret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := ierr.NewError("webhook endpoint returned error status").
			WithReportableDetails(map[string]any{
				"status_code": resp.StatusCode,
			}).
			Mark(ierr.ErrSystem)
		// 4xx responses will not improve with retries
		if resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/JaySpiffy/void-reckoning-engine-sub002/pkg/types"
)

// Webhook delivery defaults.
const (
	webhookTimeout      = 5 * time.Second
	breakerOpenFor      = 30 * time.Second
	breakerTripFailures = 3
)

// WebhookPayload is the JSON body posted to webhook endpoints. Text is
// formatted for chat integrations.
type WebhookPayload struct {
	Text      string         `json:"text"`
	Severity  string         `json:"severity"`
	ID        string         `json:"id"`
	RuleName  string         `json:"rule_name"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

type endpoint struct {
	url     string
	breaker *gobreaker.CircuitBreaker
}

// WebhookSink posts alerts to one or more URLs. Each endpoint sits behind
// its own circuit breaker, so an unreachable endpoint is skipped for a while
// instead of costing a timeout on every alert.
type WebhookSink struct {
	endpoints []endpoint
	client    *http.Client
}

// NewWebhookSink creates a webhook sink. A nil client gets one with timeout
// (5s when zero).
func NewWebhookSink(urls []string, timeout time.Duration, client *http.Client) *WebhookSink {
	if timeout <= 0 {
		timeout = webhookTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	s := &WebhookSink{client: client}
	for _, u := range urls {
		s.endpoints = append(s.endpoints, endpoint{
			url: u,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    u,
				Timeout: breakerOpenFor,
				ReadyToTrip: func(c gobreaker.Counts) bool {
					return c.ConsecutiveFailures >= breakerTripFailures
				},
			}),
		})
	}
	return s
}

// Name returns the sink identifier.
func (s *WebhookSink) Name() string { return "webhook" }

// Send posts the alert to every endpoint. Failing endpoints do not stop the
// remaining ones; their errors are joined.
func (s *WebhookSink) Send(ctx context.Context, alert types.Alert) error {
	sev := alert.Severity.String()
	data, err := json.Marshal(WebhookPayload{
		Text:      fmt.Sprintf("*[%s]* %s\n%s", strings.ToUpper(sev), alert.RuleName, alert.Message),
		Severity:  sev,
		ID:        alert.ID,
		RuleName:  alert.RuleName,
		Message:   alert.Message,
		Timestamp: alert.Timestamp,
		Context:   alert.Context,
	})
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	var errs []error
	for _, ep := range s.endpoints {
		_, err := ep.breaker.Execute(func() (interface{}, error) {
			return nil, s.post(ctx, ep.url, data)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep.url, err))
		}
	}
	return errors.Join(errs...)
}

func (s *WebhookSink) post(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

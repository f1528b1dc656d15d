package outreach

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"accounthealth/internal/config"
	"accounthealth/internal/domain"
)

func testMessage() Message {
	return Message{
		OrganizationID: "org-1",
		Tier:           domain.TierGrowth,
		AlertID:        "a-1",
		AlertType:      domain.AlertTypePaymentIssue,
		Severity:       domain.SeverityCritical,
		HealthStatus:   domain.HealthStatusCritical,
		TemplateID:     "critical_alert",
		Channel:        domain.ChannelSMS,
		Subject:        "Urgent: Account Action Required",
		Body:           "Your account requires immediate attention.",
	}
}

func TestWebhookSenderPostsPayload(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("method=%s", r.Method)
		}
		if r.Header.Get("X-Test") != "1" {
			t.Fatalf("missing custom header")
		}
		var payload Message
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.OrganizationID != "org-1" || payload.TemplateID != "critical_alert" {
			t.Fatalf("unexpected payload %+v", payload)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookConfig{
		Enabled:    true,
		URL:        server.URL,
		Method:     http.MethodPut,
		TimeoutSec: 2,
		Headers:    map[string]string{"X-Test": "1"},
	}, nil)
	if err := sender.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("send failed: %v", err)
	}
}

func TestWebhookSenderRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookConfig{
		URL:        server.URL,
		TimeoutSec: 2,
		Retry: config.NotifyRetry{
			Enabled:     true,
			Backoff:     "exponential",
			InitialMS:   1,
			MaxMS:       10,
			MaxAttempts: 5,
		},
	}, nil)
	if err := sender.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("send failed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookSenderStopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookConfig{
		URL:        server.URL,
		TimeoutSec: 2,
		Retry: config.NotifyRetry{
			Enabled:     true,
			Backoff:     "exponential",
			InitialMS:   1,
			MaxMS:       5,
			MaxAttempts: 2,
		},
	}, nil)
	err := sender.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatalf("expected error after exhausted retries")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestWebhookSenderMarksClientErrorsPermanent(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookConfig{
		URL:        server.URL,
		TimeoutSec: 2,
		Retry: config.NotifyRetry{
			Enabled:     true,
			Backoff:     "exponential",
			InitialMS:   1,
			MaxMS:       5,
			MaxAttempts: 4,
		},
	}, nil)
	err := sender.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatalf("expected error for 4xx response")
	}
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", got)
	}
}

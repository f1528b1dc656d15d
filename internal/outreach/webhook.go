package outreach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"accounthealth/internal/config"
)

// WebhookSender posts rendered outreach messages to a configured HTTP endpoint.
// Params: endpoint URL, method, timeout, headers, and retry policy.
// Returns: HTTP delivery transport for the outreach pipeline.
type WebhookSender struct {
	cfg    config.WebhookConfig
	client *http.Client
	logger *slog.Logger
}

// NewWebhookSender creates webhook delivery transport.
// Params: webhook config and optional logger.
// Returns: initialized sender.
func NewWebhookSender(cfg config.WebhookConfig, logger *slog.Logger) *WebhookSender {
	return &WebhookSender{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		logger: logger,
	}
}

// Send delivers one message with the configured retry policy.
// Params: context and message payload.
// Returns: final error after retries; 4xx responses are marked permanent.
func (s *WebhookSender) Send(ctx context.Context, message Message) error {
	retry := s.cfg.Retry
	if !retry.Enabled {
		return s.post(ctx, message)
	}

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond
	var timer *time.Timer
	stopTimer := func() {
		if timer != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	for {
		attempt++
		err := s.post(ctx, message)
		if err == nil {
			stopTimer()
			if retry.LogEachAttempt && attempt > 1 && s.logger != nil {
				s.logger.Info("outreach webhook recovered after retries", "template_id", message.TemplateID, "attempt", attempt)
			}
			return nil
		}
		if IsPermanent(err) {
			stopTimer()
			return err
		}
		if retry.LogEachAttempt && s.logger != nil {
			s.logger.Warn("outreach webhook attempt failed", "template_id", message.TemplateID, "attempt", attempt, "error", err.Error())
		}

		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			stopTimer()
			return fmt.Errorf("webhook failed after %d attempts: %w", attempt, err)
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			stopTimer()
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			stopTimer()
			return ctx.Err()
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// post performs one webhook HTTP delivery attempt.
// Params: context and message payload.
// Returns: transport or HTTP status error.
func (s *WebhookSender) post(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return MarkPermanent(fmt.Errorf("encode outreach payload: %w", err))
	}

	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return MarkPermanent(fmt.Errorf("build outreach request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("outreach webhook send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	statusErr := unexpectedHTTPStatusError("outreach webhook", response)
	if response.StatusCode >= 400 && response.StatusCode < 500 {
		return MarkPermanent(statusErr)
	}
	return statusErr
}

// unexpectedHTTPStatusError formats non-2xx HTTP response with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	rawBody, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}

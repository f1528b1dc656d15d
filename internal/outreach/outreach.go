package outreach

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"accounthealth/internal/domain"
	"accounthealth/internal/permanent"
)

// Message is one rendered outreach payload bound for an external channel.
// Params: organization/alert context plus rendered subject and body.
// Returns: delivery unit consumed by senders and webhook receivers.
type Message struct {
	OrganizationID string                 `json:"organization_id"`
	Tier           domain.TierLevel       `json:"tier"`
	AlertID        string                 `json:"alert_id"`
	AlertType      domain.AlertType       `json:"alert_type"`
	Severity       domain.AlertSeverity   `json:"severity"`
	HealthStatus   domain.HealthStatus    `json:"health_status"`
	TemplateID     string                 `json:"template_id"`
	Channel        domain.OutreachChannel `json:"channel"`
	Subject        string                 `json:"subject,omitempty"`
	Body           string                 `json:"body"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Job is one outbound outreach task in the async delivery queue.
// Params: registry back-references and rendered message payload.
// Returns: queue unit consumed by delivery workers.
type Job struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	AttemptID   string    `json:"attempt_id"`
	Message     Message   `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// DLQReason identifies reason why outreach job was moved to dead-letter queue.
// Params: categorized failure reason.
// Returns: machine-readable DLQ classification.
type DLQReason string

const (
	// DLQReasonPermanentError marks non-retryable processing failures.
	DLQReasonPermanentError DLQReason = "permanent_error"
	// DLQReasonMaxDeliverExceeded marks retries exhausted by queue max deliver policy.
	DLQReasonMaxDeliverExceeded DLQReason = "max_deliver_exceeded"
)

// DLQEntry is dead-letter payload for outreach queue failures.
// Params: original job, failure metadata, and delivery counters.
// Returns: persisted DLQ record.
type DLQEntry struct {
	Job           Job       `json:"job"`
	Reason        DLQReason `json:"reason"`
	Error         string    `json:"error"`
	Attempts      uint64    `json:"attempts"`
	MaxDeliver    int       `json:"max_deliver"`
	Subject       string    `json:"subject"`
	FailedAt      time.Time `json:"failed_at"`
	OriginalMsgID string    `json:"original_msg_id,omitempty"`
}

// BuildJobID creates deterministic id for one outreach queue task.
// Params: alert fingerprint, template, attempt id, and message creation time.
// Returns: stable SHA1-based id string.
func BuildJobID(fingerprint, templateID, attemptID string, createdAt time.Time) string {
	raw := fmt.Sprintf(
		"%s|%s|%s|%d",
		fingerprint,
		templateID,
		attemptID,
		createdAt.UnixNano(),
	)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Producer enqueues outreach delivery jobs.
// Params: context and queue job payload.
// Returns: enqueue error.
type Producer interface {
	Enqueue(ctx context.Context, job Job) error
	Close() error
}

// Sender delivers one rendered outreach message to its transport.
// Params: context and message payload.
// Returns: delivery error; permanent errors must not be retried.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// PermanentError marks processing errors that must not be retried.
// Params: wrapped root cause error.
// Returns: error with permanent retry classification.
type PermanentError = permanent.Error

// MarkPermanent wraps error as permanent processing failure.
// Params: source error.
// Returns: wrapped permanent error (or nil when input is nil).
func MarkPermanent(err error) error {
	return permanent.Mark(err)
}

// IsPermanent reports whether error is marked as non-retryable.
// Params: processing error.
// Returns: true when worker must not retry.
func IsPermanent(err error) bool {
	return permanent.Is(err)
}

// Worker consumes queued jobs and acknowledges delivery status.
// Params: close hook for shutdown lifecycle.
// Returns: queue worker lifecycle.
type Worker interface {
	Close() error
}

package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"accounthealth/internal/config"
	"accounthealth/internal/domain"

	"github.com/nats-io/nats.go"
)

// Publisher emits one health report after each snapshot evaluation.
// Params: context and report payload.
// Returns: publish error.
type Publisher interface {
	Publish(ctx context.Context, report domain.HealthReport) error
	Close() error
}

// NATSPublisher publishes reports to per-organization NATS subjects.
// Params: NATS connection and configured subject prefix.
// Returns: report publisher implementation.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects and returns report publisher.
// Params: publish config with URL list and subject prefix.
// Returns: initialized publisher or connect error.
func NewNATSPublisher(cfg config.PublishConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect publish nats: %w", err)
	}
	return &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(cfg.SubjectPrefix, ".")}, nil
}

// Publish emits one report to "<prefix>.<organization_id>".
// Params: context and report payload.
// Returns: encode or publish error.
func (p *NATSPublisher) Publish(_ context.Context, report domain.HealthReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal health report: %w", err)
	}
	subject := p.prefix + "." + report.OrganizationID
	if err := p.nc.Publish(subject, body); err != nil {
		return fmt.Errorf("publish health report: %w", err)
	}
	return nil
}

// Close flushes and closes NATS connection.
// Params: none.
// Returns: nil after connection close.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	_ = p.nc.Flush()
	p.nc.Close()
	return nil
}

// NoopPublisher discards reports in single-instance mode.
// Params: none.
// Returns: publisher that performs no work.
type NoopPublisher struct{}

// Publish discards the report.
// Params: context and report payload.
// Returns: nil.
func (NoopPublisher) Publish(context.Context, domain.HealthReport) error {
	return nil
}

// Close is a no-op.
// Params: none.
// Returns: nil.
func (NoopPublisher) Close() error {
	return nil
}

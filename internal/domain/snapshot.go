package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PaymentStatus is billing state reported with one snapshot.
// Params: current/overdue/failed constants.
// Returns: payment state used by detection rules.
type PaymentStatus string

const (
	// PaymentCurrent marks subscription in good standing.
	PaymentCurrent PaymentStatus = "current"
	// PaymentOverdue marks missed subscription payment.
	PaymentOverdue PaymentStatus = "overdue"
	// PaymentFailed marks failed payment processing.
	PaymentFailed PaymentStatus = "failed"
)

// SnapshotMetrics are raw business signals collected for one organization.
// Params: usage/compliance/support/payment counters from the external collector.
// Returns: validated numeric inputs for scoring and detection.
type SnapshotMetrics struct {
	VerificationSuccess         float64       `json:"verification_success"`
	VerificationVolume          float64       `json:"verification_volume"`
	APIUsage                    float64       `json:"api_usage"`
	APILimit                    float64       `json:"api_limit"`
	StorageUsed                 float64       `json:"storage_used"`
	StorageLimit                float64       `json:"storage_limit"`
	LoginFrequency              float64       `json:"login_frequency"`
	LastLoginAt                 time.Time     `json:"last_login_at"`
	SupportTicketCount          int           `json:"support_ticket_count"`
	SupportTicketResolutionTime float64       `json:"support_ticket_resolution_time"`
	PaymentStatus               PaymentStatus `json:"payment_status"`
	DaysUntilPayment            float64       `json:"days_until_payment"`
	DocumentExpiryRisk          float64       `json:"document_expiry_risk"`
	ComplianceScore             float64       `json:"compliance_score"`
	TeamMembersActive           float64       `json:"team_members_active"`
}

// Snapshot is one organization health input produced by the external collector.
// Params: organization identity, subscription tier, and raw metrics.
// Returns: validated engine input; the engine performs no I/O to obtain it.
type Snapshot struct {
	OrganizationID string          `json:"organization_id"`
	Tier           TierLevel       `json:"tier"`
	Metrics        SnapshotMetrics `json:"metrics"`
}

// APIUsagePercent computes API consumption as percentage of limit.
// Params: none.
// Returns: usage percentage (validation guarantees positive limit).
func (s Snapshot) APIUsagePercent() float64 {
	return s.Metrics.APIUsage / s.Metrics.APILimit * 100
}

// StoragePercent computes storage consumption as percentage of limit.
// Params: none.
// Returns: storage percentage (validation guarantees positive limit).
func (s Snapshot) StoragePercent() float64 {
	return s.Metrics.StorageUsed / s.Metrics.StorageLimit * 100
}

// DaysSinceLogin computes whole days elapsed since last login.
// Params: reference time for the evaluation.
// Returns: floored day count (never negative).
func (s Snapshot) DaysSinceLogin(now time.Time) float64 {
	elapsed := now.Sub(s.Metrics.LastLoginAt)
	if elapsed < 0 {
		return 0
	}
	days := elapsed.Hours() / 24
	return float64(int64(days))
}

// DecodeSnapshot decodes and validates one snapshot payload.
// Params: JSON document bytes.
// Returns: validated snapshot or decode/validation error.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// DecodeSnapshotReader decodes and validates one snapshot payload from stream.
// Params: reader with one JSON object.
// Returns: validated snapshot or decode/validation error.
func DecodeSnapshotReader(reader *json.Decoder) (Snapshot, error) {
	var snapshot Snapshot
	if err := reader.Decode(&snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// DecodeSnapshotsReader decodes and validates one batch of snapshots from stream.
// Params: reader with one JSON array of snapshots.
// Returns: validated snapshot slice or decode/validation error.
func DecodeSnapshotsReader(reader *json.Decoder) ([]Snapshot, error) {
	var snapshots []Snapshot
	if err := reader.Decode(&snapshots); err != nil {
		return nil, fmt.Errorf("decode snapshot batch: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, errors.New("snapshot batch must contain at least one snapshot")
	}
	for i := range snapshots {
		if err := snapshots[i].Validate(); err != nil {
			return nil, fmt.Errorf("snapshot[%d]: %w", i, err)
		}
	}
	return snapshots, nil
}

// Validate validates one snapshot against the contract.
// Params: snapshot fields parsed from transport.
// Returns: validation error naming the offending field.
func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.OrganizationID) == "" {
		return errors.New("organization_id is required")
	}
	if !IsValidTier(s.Tier) {
		return fmt.Errorf("unsupported tier %q", s.Tier)
	}

	m := s.Metrics
	if m.VerificationSuccess < 0 || m.VerificationSuccess > 100 {
		return errors.New("metrics.verification_success must be within 0..100")
	}
	if m.VerificationVolume < 0 {
		return errors.New("metrics.verification_volume must be >=0")
	}
	if m.APIUsage < 0 {
		return errors.New("metrics.api_usage must be >=0")
	}
	if m.APILimit <= 0 {
		return errors.New("metrics.api_limit must be >0")
	}
	if m.StorageUsed < 0 {
		return errors.New("metrics.storage_used must be >=0")
	}
	if m.StorageLimit <= 0 {
		return errors.New("metrics.storage_limit must be >0")
	}
	if m.LoginFrequency < 0 {
		return errors.New("metrics.login_frequency must be >=0")
	}
	if m.LastLoginAt.IsZero() {
		return errors.New("metrics.last_login_at is required")
	}
	if m.SupportTicketCount < 0 {
		return errors.New("metrics.support_ticket_count must be >=0")
	}
	if m.SupportTicketResolutionTime < 0 {
		return errors.New("metrics.support_ticket_resolution_time must be >=0")
	}
	switch m.PaymentStatus {
	case PaymentCurrent, PaymentOverdue, PaymentFailed:
	default:
		return fmt.Errorf("unsupported metrics.payment_status %q", m.PaymentStatus)
	}
	if m.DocumentExpiryRisk < 0 || m.DocumentExpiryRisk > 100 {
		return errors.New("metrics.document_expiry_risk must be within 0..100")
	}
	if m.ComplianceScore < 0 || m.ComplianceScore > 100 {
		return errors.New("metrics.compliance_score must be within 0..100")
	}
	if m.TeamMembersActive < 0 {
		return errors.New("metrics.team_members_active must be >=0")
	}

	return nil
}

package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"accounthealth/internal/clock"
	"accounthealth/internal/config"
	"accounthealth/internal/domain"
	"accounthealth/internal/templatefmt"
)

// Detector applies the threshold rule table to raw snapshots.
// Params: detection thresholds and clock.
// Returns: pure rule evaluator; alert slice order follows the rule table.
type Detector struct {
	policy config.DetectPolicy
	clk    clock.Clock
}

// NewDetector constructs a detector over one policy snapshot.
// Params: detect policy thresholds and time source.
// Returns: initialized detector.
func NewDetector(policy config.DetectPolicy, clk clock.Clock) *Detector {
	return &Detector{policy: policy, clk: clk}
}

// Detect evaluates every rule against one snapshot independently of the score.
// Params: validated organization snapshot.
// Returns: zero or more active alerts; an empty slice is a normal outcome.
func (d *Detector) Detect(snapshot domain.Snapshot) []domain.HealthAlert {
	now := d.clk.Now()
	alerts := make([]domain.HealthAlert, 0, 4)

	metrics := snapshot.Metrics
	switch {
	case metrics.VerificationSuccess < d.policy.VerificationCriticalBelow:
		alerts = append(alerts, d.newAlert(snapshot, now,
			domain.AlertTypeVerificationFailure,
			domain.SeverityCritical,
			"Low Verification Success Rate",
			fmt.Sprintf("Your verification success rate has dropped to %s%%.", templatefmt.FormatNumber(metrics.VerificationSuccess)),
			"Review recent verification failures and check our documentation for common issues.",
			config.MetricVerificationSuccess,
		))
	case metrics.VerificationSuccess < d.policy.VerificationWarningBelow:
		alerts = append(alerts, d.newAlert(snapshot, now,
			domain.AlertTypeVerificationFailure,
			domain.SeverityWarning,
			"Verification Success Rate Declining",
			fmt.Sprintf("Your verification success rate is at %s%%.", templatefmt.FormatNumber(metrics.VerificationSuccess)),
			"Consider reviewing the verification guide to improve success rates.",
			config.MetricVerificationSuccess,
		))
	}

	apiUsagePercent := snapshot.APIUsagePercent()
	switch {
	case apiUsagePercent >= d.policy.APIUsageCriticalPct:
		alerts = append(alerts, d.newAlert(snapshot, now,
			domain.AlertTypeUsageSpike,
			domain.SeverityCritical,
			"API Usage Critical",
			fmt.Sprintf("API usage is at %s%% of your limit.", templatefmt.FormatNumber(apiUsagePercent)),
			"Consider upgrading your plan or optimizing API usage.",
			config.MetricAPIUsage,
		))
	case apiUsagePercent >= d.policy.APIUsageWarningPct:
		alerts = append(alerts, d.newAlert(snapshot, now,
			domain.AlertTypeUsageSpike,
			domain.SeverityWarning,
			"API Usage High",
			fmt.Sprintf("API usage is at %s%% of your limit.", templatefmt.FormatNumber(apiUsagePercent)),
			"Monitor your usage and consider upgrading soon.",
			config.MetricAPIUsage,
		))
	}

	if storagePercent := snapshot.StoragePercent(); storagePercent >= d.policy.StorageCriticalPct {
		alerts = append(alerts, d.newAlert(snapshot, now,
			domain.AlertTypeUsageSpike,
			domain.SeverityCritical,
			"Storage Critical",
			fmt.Sprintf("Storage usage is at %s%% of your limit.", templatefmt.FormatNumber(storagePercent)),
			"Delete old documents or upgrade your storage limit.",
			config.MetricStorageUsage,
		))
	}

	if daysSinceLogin := snapshot.DaysSinceLogin(now); daysSinceLogin > d.policy.InactivityDays {
		alerts = append(alerts, d.newAlert(snapshot, now,
			domain.AlertTypeInactivity,
			domain.SeverityWarning,
			"Account Inactivity",
			fmt.Sprintf("No login for %s days.", templatefmt.FormatNumber(daysSinceLogin)),
			"Log in to your account to stay connected and catch up on updates.",
			config.MetricLoginActivity,
		))
	}

	switch {
	case metrics.PaymentStatus == domain.PaymentOverdue:
		alerts = append(alerts, d.newAlert(snapshot, now,
			domain.AlertTypePaymentIssue,
			domain.SeverityCritical,
			"Payment Overdue",
			"Your subscription payment is overdue.",
			"Update your payment information to avoid service interruption.",
			config.MetricPaymentHealth,
		))
	case metrics.PaymentStatus == domain.PaymentCurrent && metrics.DaysUntilPayment <= d.policy.PaymentDueSoonDays:
		alerts = append(alerts, d.newAlert(snapshot, now,
			domain.AlertTypePaymentIssue,
			domain.SeverityInfo,
			"Upcoming Payment",
			fmt.Sprintf("Your subscription will renew in %s days.", templatefmt.FormatNumber(metrics.DaysUntilPayment)),
			"Ensure your payment method is up to date.",
			config.MetricPaymentHealth,
		))
	}

	if metrics.SupportTicketCount > d.policy.SupportTicketBacklog && metrics.SupportTicketResolutionTime > d.policy.SupportResolutionHours {
		alerts = append(alerts, d.newAlert(snapshot, now,
			domain.AlertTypeSupportEscalation,
			domain.SeverityWarning,
			"Support Ticket Backlog",
			fmt.Sprintf("You have %d open tickets with an average resolution time of %s hours.",
				metrics.SupportTicketCount, templatefmt.FormatNumber(metrics.SupportTicketResolutionTime)),
			"Consider reaching out directly for faster resolution.",
			config.MetricSupportHealth,
		))
	}

	if metrics.DocumentExpiryRisk > d.policy.DocumentExpiryRiskPct {
		alerts = append(alerts, d.newAlert(snapshot, now,
			domain.AlertTypeCompliance,
			domain.SeverityWarning,
			"Document Expiration Risk",
			fmt.Sprintf("%s%% of your documents are expiring soon.", templatefmt.FormatNumber(metrics.DocumentExpiryRisk)),
			"Review and update expiring documents to maintain compliance.",
			config.MetricComplianceScore,
		))
	}

	return alerts
}

// newAlert assembles one active alert with a fresh identity.
// Params: snapshot, detection time, and alert content fields.
// Returns: alert in active state with empty outreach history.
func (d *Detector) newAlert(
	snapshot domain.Snapshot,
	now time.Time,
	alertType domain.AlertType,
	severity domain.AlertSeverity,
	title, description, recommendation, metricID string,
) domain.HealthAlert {
	return domain.HealthAlert{
		ID:             uuid.New().String(),
		OrganizationID: snapshot.OrganizationID,
		Type:           alertType,
		Severity:       severity,
		Title:          title,
		Description:    description,
		Recommendation: recommendation,
		MetricID:       metricID,
		Status:         domain.AlertStatusActive,
		CreatedAt:      now,
		OutreachAttempts: []domain.OutreachAttempt{},
	}
}

package domain

import "time"

// AlertType classifies one detected account issue.
// Params: business issue type constants.
// Returns: type used by detection rules, templates, and predictions.
type AlertType string

const (
	// AlertTypeUsageSpike marks API or storage consumption near limits.
	AlertTypeUsageSpike AlertType = "usage_spike"
	// AlertTypeVerificationFailure marks degraded verification success rate.
	AlertTypeVerificationFailure AlertType = "verification_failure"
	// AlertTypePaymentIssue marks overdue or imminent subscription payment.
	AlertTypePaymentIssue AlertType = "payment_issue"
	// AlertTypeInactivity marks prolonged absence of account logins.
	AlertTypeInactivity AlertType = "inactivity"
	// AlertTypeSupportEscalation marks support ticket backlog with slow resolution.
	AlertTypeSupportEscalation AlertType = "support_escalation"
	// AlertTypeSecurity marks security-related findings.
	AlertTypeSecurity AlertType = "security"
	// AlertTypeCompliance marks compliance and document expiry risks.
	AlertTypeCompliance AlertType = "compliance"
)

// IsValidAlertType reports whether alert type value is known.
// Params: candidate alert type.
// Returns: true for one of the supported issue types.
func IsValidAlertType(alertType AlertType) bool {
	switch alertType {
	case AlertTypeUsageSpike, AlertTypeVerificationFailure, AlertTypePaymentIssue,
		AlertTypeInactivity, AlertTypeSupportEscalation, AlertTypeSecurity, AlertTypeCompliance:
		return true
	default:
		return false
	}
}

// AlertSeverity ranks urgency of one alert.
// Params: info/warning/critical constants.
// Returns: severity used by detection rules and template conditions.
type AlertSeverity string

const (
	// SeverityInfo marks informational notices.
	SeverityInfo AlertSeverity = "info"
	// SeverityWarning marks issues needing attention soon.
	SeverityWarning AlertSeverity = "warning"
	// SeverityCritical marks issues needing immediate action.
	SeverityCritical AlertSeverity = "critical"
)

// IsValidSeverity reports whether severity value is known.
// Params: candidate severity.
// Returns: true for info/warning/critical.
func IsValidSeverity(severity AlertSeverity) bool {
	switch severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// AlertStatus is lifecycle state of one alert.
// Params: active/acknowledged/resolved/dismissed constants.
// Returns: status driven externally after creation (engine only creates active alerts).
type AlertStatus string

const (
	// AlertStatusActive marks newly detected unhandled alert.
	AlertStatusActive AlertStatus = "active"
	// AlertStatusAcknowledged marks alert seen by an operator.
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	// AlertStatusResolved marks terminally closed alert.
	AlertStatusResolved AlertStatus = "resolved"
	// AlertStatusDismissed marks terminally discarded alert.
	AlertStatusDismissed AlertStatus = "dismissed"
)

// OutreachChannel identifies one external delivery transport.
// Params: channel constants owned by external senders.
// Returns: channel tag carried on templates and attempts.
type OutreachChannel string

const (
	// ChannelEmail routes outreach through the email sender.
	ChannelEmail OutreachChannel = "email"
	// ChannelSMS routes outreach through the SMS sender.
	ChannelSMS OutreachChannel = "sms"
	// ChannelInApp routes outreach into in-app notifications.
	ChannelInApp OutreachChannel = "in_app"
	// ChannelPhone routes outreach into a call task.
	ChannelPhone OutreachChannel = "phone"
	// ChannelAccountManager routes outreach to the assigned account manager.
	ChannelAccountManager OutreachChannel = "account_manager"
)

// IsValidChannel reports whether outreach channel value is known.
// Params: candidate channel.
// Returns: true for one of the supported delivery transports.
func IsValidChannel(channel OutreachChannel) bool {
	switch channel {
	case ChannelEmail, ChannelSMS, ChannelInApp, ChannelPhone, ChannelAccountManager:
		return true
	default:
		return false
	}
}

// AttemptStatus is delivery state of one outreach attempt.
// Params: pending/sent/delivered/failed constants.
// Returns: attempt status advanced by the external dispatcher only.
type AttemptStatus string

const (
	// AttemptStatusPending marks attempt enqueued but not yet handed off.
	AttemptStatusPending AttemptStatus = "pending"
	// AttemptStatusSent marks attempt accepted by the external sender.
	AttemptStatusSent AttemptStatus = "sent"
	// AttemptStatusDelivered marks confirmed delivery.
	AttemptStatusDelivered AttemptStatus = "delivered"
	// AttemptStatusFailed marks terminal delivery failure.
	AttemptStatusFailed AttemptStatus = "failed"
)

// OutreachAttempt records one notification hand-off for an alert.
// Params: attempt identity, channel, selected template, and delivery status.
// Returns: attempt entry appended to alert outreach history.
type OutreachAttempt struct {
	ID         string          `json:"id"`
	Channel    OutreachChannel `json:"channel"`
	TemplateID string          `json:"template_id"`
	SentAt     time.Time       `json:"sent_at"`
	Status     AttemptStatus   `json:"status"`
	Response   string          `json:"response,omitempty"`
}

// HealthAlert is one detected issue requiring attention or outreach.
// Params: identity, classification, human texts, optional metric back-reference, and lifecycle fields.
// Returns: alert payload created by the detector in active state.
type HealthAlert struct {
	ID               string            `json:"id"`
	OrganizationID   string            `json:"organization_id"`
	Type             AlertType         `json:"type"`
	Severity         AlertSeverity     `json:"severity"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Recommendation   string            `json:"recommendation"`
	MetricID         string            `json:"metric_id,omitempty"`
	Status           AlertStatus       `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	AcknowledgedAt   *time.Time        `json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
	OutreachAttempts []OutreachAttempt `json:"outreach_attempts"`
}

// Fingerprint builds stable dedup key for one alert condition.
// Params: none.
// Returns: org/type/metric key; identical firing conditions share one key.
func (a HealthAlert) Fingerprint() string {
	return AlertFingerprint(a.OrganizationID, a.Type, a.MetricID)
}

// AlertFingerprint builds dedup key from alert condition dimensions.
// Params: organization id, alert type, and optional metric back-reference.
// Returns: "org/<org>/<type>/<metric>" key used by the active-alert registry.
func AlertFingerprint(organizationID string, alertType AlertType, metricID string) string {
	if metricID == "" {
		metricID = "-"
	}
	return "org/" + organizationID + "/" + string(alertType) + "/" + metricID
}

// TierLevel is subscription tier of one organization.
// Params: tier name constants used by template conditions.
// Returns: tier tag supplied with each snapshot.
type TierLevel string

const (
	// TierStarter is the entry subscription tier.
	TierStarter TierLevel = "starter"
	// TierGrowth is the mid subscription tier.
	TierGrowth TierLevel = "growth"
	// TierScale is the high-volume subscription tier.
	TierScale TierLevel = "scale"
	// TierEnterprise is the contract subscription tier.
	TierEnterprise TierLevel = "enterprise"
)

// IsValidTier reports whether tier value is known.
// Params: candidate tier.
// Returns: true for starter/growth/scale/enterprise.
func IsValidTier(tier TierLevel) bool {
	switch tier {
	case TierStarter, TierGrowth, TierScale, TierEnterprise:
		return true
	default:
		return false
	}
}

// HoursWindow bounds elapsed hours since alert creation for template matching.
// Params: inclusive min/max bounds in hours.
// Returns: time-window condition payload.
type HoursWindow struct {
	Min float64 `json:"min" toml:"min"`
	Max float64 `json:"max" toml:"max"`
}

// TemplateConditions are optional filters on one outreach template.
// Params: each field absent means no constraint on that dimension.
// Returns: condition set evaluated as all-present-must-match.
type TemplateConditions struct {
	HealthStatus    []HealthStatus  `json:"health_status,omitempty" toml:"health_status"`
	AlertSeverity   []AlertSeverity `json:"alert_severity,omitempty" toml:"alert_severity"`
	TierLevel       []TierLevel     `json:"tier_level,omitempty" toml:"tier_level"`
	HoursSinceAlert *HoursWindow    `json:"hours_since_alert,omitempty" toml:"hours_since_alert"`
}

// OutreachTemplate is one static catalog entry for proactive outreach.
// Params: identity, alert type binding, channel, message bodies, conditions, and priority.
// Returns: catalog entry matched against alerts by the template matcher.
type OutreachTemplate struct {
	ID         string             `json:"id" toml:"id"`
	Name       string             `json:"name" toml:"name"`
	Type       AlertType          `json:"type" toml:"type"`
	Channel    OutreachChannel    `json:"channel" toml:"channel"`
	Subject    string             `json:"subject,omitempty" toml:"subject"`
	Content    string             `json:"content" toml:"content"`
	Conditions TemplateConditions `json:"conditions" toml:"conditions"`
	Priority   int                `json:"priority" toml:"priority"`
	Active     bool               `json:"active" toml:"active"`
}

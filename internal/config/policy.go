package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"accounthealth/internal/domain"
)

const (
	// MetricVerificationSuccess scores the verification success rate signal.
	MetricVerificationSuccess = "verification_success"
	// MetricAPIUsage scores API consumption against the plan limit.
	MetricAPIUsage = "api_usage"
	// MetricStorageUsage scores storage consumption against the plan limit.
	MetricStorageUsage = "storage_usage"
	// MetricLoginActivity scores days elapsed since last login.
	MetricLoginActivity = "login_activity"
	// MetricSupportHealth scores support ticket resolution hours.
	MetricSupportHealth = "support_health"
	// MetricPaymentHealth scores days remaining until payment is due.
	MetricPaymentHealth = "payment_health"
	// MetricComplianceScore scores the compliance percentage signal.
	MetricComplianceScore = "compliance_score"
	// MetricTeamEngagement scores active team member count.
	MetricTeamEngagement = "team_engagement"

	defaultDeclineRatePerDay = 5.0
)

// MetricOrder returns all scored metric ids in evaluation order.
// Params: none.
// Returns: deterministic id list used to assemble score snapshots.
func MetricOrder() []string {
	return []string{
		MetricVerificationSuccess,
		MetricAPIUsage,
		MetricStorageUsage,
		MetricLoginActivity,
		MetricSupportHealth,
		MetricPaymentHealth,
		MetricComplianceScore,
		MetricTeamEngagement,
	}
}

// MetricPolicy defines scoring metadata for one metric id.
// Params: display name, normalization denominator, weight, category, polarity, and trend cut points.
// Returns: policy entry consumed by the scorer.
type MetricPolicy struct {
	Name          string  `toml:"name"`
	MaxValue      float64 `toml:"max_value"`
	Weight        float64 `toml:"weight"`
	Category      string  `toml:"category"`
	LowerIsBetter bool    `toml:"lower_is_better"`
	TrendUp       float64 `toml:"trend_up"`
	TrendStable   float64 `toml:"trend_stable"`
	TrendStrict   bool    `toml:"trend_strict"`
}

// Trend derives metric trend from polarity and configured cut points.
// Params: raw metric value before normalization.
// Returns: up/stable/down tag; strict mode compares exclusively.
func (p MetricPolicy) Trend(value float64) domain.MetricTrend {
	if p.LowerIsBetter {
		if p.TrendStrict {
			switch {
			case value < p.TrendUp:
				return domain.TrendUp
			case value < p.TrendStable:
				return domain.TrendStable
			default:
				return domain.TrendDown
			}
		}
		switch {
		case value <= p.TrendUp:
			return domain.TrendUp
		case value <= p.TrendStable:
			return domain.TrendStable
		default:
			return domain.TrendDown
		}
	}
	if p.TrendStrict {
		switch {
		case value > p.TrendUp:
			return domain.TrendUp
		case value > p.TrendStable:
			return domain.TrendStable
		default:
			return domain.TrendDown
		}
	}
	switch {
	case value >= p.TrendUp:
		return domain.TrendUp
	case value >= p.TrendStable:
		return domain.TrendStable
	default:
		return domain.TrendDown
	}
}

// DetectPolicy holds business thresholds for the issue detection rule table.
// Params: per-rule boundary values.
// Returns: detection thresholds consumed by the detector.
type DetectPolicy struct {
	VerificationCriticalBelow float64 `toml:"verification_critical_below"`
	VerificationWarningBelow  float64 `toml:"verification_warning_below"`
	APIUsageCriticalPct       float64 `toml:"api_usage_critical_pct"`
	APIUsageWarningPct        float64 `toml:"api_usage_warning_pct"`
	StorageCriticalPct        float64 `toml:"storage_critical_pct"`
	InactivityDays            float64 `toml:"inactivity_days"`
	PaymentDueSoonDays        float64 `toml:"payment_due_soon_days"`
	SupportTicketBacklog      int     `toml:"support_ticket_backlog"`
	SupportResolutionHours    float64 `toml:"support_resolution_hours"`
	DocumentExpiryRiskPct     float64 `toml:"document_expiry_risk_pct"`
}

// ThresholdTriple groups excellent/good/fair boundaries for one metric.
// Params: three band boundaries on the metric's raw scale.
// Returns: threshold entry consumed by predictions and recommendations.
type ThresholdTriple struct {
	Excellent float64 `toml:"excellent"`
	Good      float64 `toml:"good"`
	Fair      float64 `toml:"fair"`
}

// Policy is the full externally-configurable scoring and outreach policy.
// Params: metric table, detection thresholds, prediction thresholds, decline rate, and template catalog.
// Returns: policy snapshot injected into engine constructors.
type Policy struct {
	DeclineRatePerDay float64                    `toml:"decline_rate_per_day"`
	Metric            map[string]MetricPolicy    `toml:"metric"`
	Detect            DetectPolicy               `toml:"detect"`
	Threshold         map[string]ThresholdTriple `toml:"threshold"`
	Template          []domain.OutreachTemplate  `toml:"template"`
}

// MetricIDs returns configured metric ids in stable order.
// Params: none.
// Returns: sorted id list for deterministic iteration.
func (p Policy) MetricIDs() []string {
	ids := make([]string, 0, len(p.Metric))
	for id := range p.Metric {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultMetricPolicies returns the reference metric table.
// Params: none.
// Returns: metric policy map matching documented scoring behavior.
func DefaultMetricPolicies() map[string]MetricPolicy {
	return map[string]MetricPolicy{
		MetricVerificationSuccess: {
			Name:        "Verification Success Rate",
			MaxValue:    100,
			Weight:      25,
			Category:    string(domain.CategoryCompliance),
			TrendUp:     95,
			TrendStable: 85,
		},
		MetricAPIUsage: {
			Name:          "API Usage",
			MaxValue:      100,
			Weight:        15,
			Category:      string(domain.CategoryUsage),
			LowerIsBetter: true,
			TrendUp:       30,
			TrendStable:   60,
			TrendStrict:   true,
		},
		MetricStorageUsage: {
			Name:          "Storage Usage",
			MaxValue:      100,
			Weight:        10,
			Category:      string(domain.CategoryUsage),
			LowerIsBetter: true,
			TrendUp:       30,
			TrendStable:   60,
			TrendStrict:   true,
		},
		MetricLoginActivity: {
			Name:          "Login Activity",
			MaxValue:      30,
			Weight:        10,
			Category:      string(domain.CategoryEngagement),
			LowerIsBetter: true,
			TrendUp:       1,
			TrendStable:   7,
		},
		MetricSupportHealth: {
			Name:          "Support Resolution Time",
			MaxValue:      168,
			Weight:        10,
			Category:      string(domain.CategorySupport),
			LowerIsBetter: true,
			TrendUp:       24,
			TrendStable:   48,
		},
		MetricPaymentHealth: {
			Name:        "Payment Status",
			MaxValue:    30,
			Weight:      10,
			Category:    string(domain.CategoryFinancial),
			TrendUp:     15,
			TrendStable: 7,
		},
		MetricComplianceScore: {
			Name:        "Compliance Score",
			MaxValue:    100,
			Weight:      10,
			Category:    string(domain.CategoryCompliance),
			TrendUp:     95,
			TrendStable: 85,
		},
		MetricTeamEngagement: {
			// Stable cut 0 keeps this metric from ever tagging down.
			Name:        "Active Team Members",
			MaxValue:    50,
			Weight:      10,
			Category:    string(domain.CategoryEngagement),
			TrendUp:     5,
			TrendStable: 0,
		},
	}
}

// DefaultDetectPolicy returns the reference detection rule thresholds.
// Params: none.
// Returns: detect policy matching the documented rule table.
func DefaultDetectPolicy() DetectPolicy {
	return DetectPolicy{
		VerificationCriticalBelow: 70,
		VerificationWarningBelow:  85,
		APIUsageCriticalPct:       90,
		APIUsageWarningPct:        75,
		StorageCriticalPct:        90,
		InactivityDays:            14,
		PaymentDueSoonDays:        3,
		SupportTicketBacklog:      5,
		SupportResolutionHours:    72,
		DocumentExpiryRiskPct:     50,
	}
}

// DefaultThresholds returns the reference prediction threshold triples.
// Params: none.
// Returns: threshold map keyed by metric id (team_engagement has no triple).
func DefaultThresholds() map[string]ThresholdTriple {
	return map[string]ThresholdTriple{
		MetricVerificationSuccess: {Excellent: 95, Good: 85, Fair: 70},
		MetricAPIUsage:            {Excellent: 30, Good: 60, Fair: 85},
		MetricStorageUsage:        {Excellent: 30, Good: 60, Fair: 85},
		MetricLoginActivity:       {Excellent: 7, Good: 3, Fair: 1},
		MetricSupportHealth:       {Excellent: 24, Good: 48, Fair: 72},
		MetricPaymentHealth:       {Excellent: 30, Good: 15, Fair: 7},
		MetricComplianceScore:     {Excellent: 95, Good: 85, Fair: 70},
	}
}

// DefaultTemplates returns the reference outreach template catalog.
// Params: none.
// Returns: catalog slice in priority-independent declaration order.
func DefaultTemplates() []domain.OutreachTemplate {
	return []domain.OutreachTemplate{
		{
			ID:      "welcome_onboarding",
			Name:    "Welcome & Onboarding",
			Type:    domain.AlertTypeInactivity,
			Channel: domain.ChannelEmail,
			Subject: "Welcome to Our Platform! Let's Get Started",
			Content: "Welcome aboard! We're excited to have you. Here are some resources to help you get started...",
			Conditions: domain.TemplateConditions{
				HoursSinceAlert: &domain.HoursWindow{Min: 0, Max: 24},
			},
			Priority: 10,
			Active:   true,
		},
		{
			ID:      "usage_insight",
			Name:    "Usage Insight",
			Type:    domain.AlertTypeUsageSpike,
			Channel: domain.ChannelEmail,
			Subject: "Your Usage Has Increased",
			Content: "We noticed a significant increase in your verification volume. Here are some tips to optimize...",
			Conditions: domain.TemplateConditions{
				AlertSeverity: []domain.AlertSeverity{domain.SeverityInfo},
			},
			Priority: 5,
			Active:   true,
		},
		{
			ID:      "upgrade_recommendation",
			Name:    "Upgrade Recommendation",
			Type:    domain.AlertTypeUsageSpike,
			Channel: domain.ChannelEmail,
			Subject: "You're Approaching Your Usage Limits",
			Content: "Great news! Your usage has been growing. Consider upgrading to the next tier for more capacity...",
			Conditions: domain.TemplateConditions{
				AlertSeverity: []domain.AlertSeverity{domain.SeverityWarning},
				TierLevel:     []domain.TierLevel{domain.TierStarter, domain.TierGrowth},
			},
			Priority: 8,
			Active:   true,
		},
		{
			ID:       "verification_help",
			Name:     "Verification Help",
			Type:     domain.AlertTypeVerificationFailure,
			Channel:  domain.ChannelEmail,
			Subject:  "We Can Help With Your Verification",
			Content:  "We noticed some verification challenges. Our team is here to help you resolve these issues...",
			Priority: 7,
			Active:   true,
		},
		{
			ID:      "payment_reminder",
			Name:    "Payment Reminder",
			Type:    domain.AlertTypePaymentIssue,
			Channel: domain.ChannelEmail,
			Subject: "Upcoming Payment Reminder",
			Content: "This is a friendly reminder that your subscription renewal is coming up...",
			Conditions: domain.TemplateConditions{
				HoursSinceAlert: &domain.HoursWindow{Min: 48, Max: 168},
			},
			Priority: 9,
			Active:   true,
		},
		{
			ID:      "critical_alert",
			Name:    "Critical Alert",
			Type:    domain.AlertTypePaymentIssue,
			Channel: domain.ChannelSMS,
			Subject: "Urgent: Account Action Required",
			Content: "Your account requires immediate attention. Please log in to resolve the issue...",
			Conditions: domain.TemplateConditions{
				AlertSeverity: []domain.AlertSeverity{domain.SeverityCritical},
				TierLevel:     []domain.TierLevel{domain.TierScale, domain.TierEnterprise},
			},
			Priority: 10,
			Active:   true,
		},
	}
}

// DefaultPolicy assembles the complete reference policy.
// Params: none.
// Returns: policy reproducing documented scoring/detection/outreach behavior.
func DefaultPolicy() Policy {
	return Policy{
		DeclineRatePerDay: defaultDeclineRatePerDay,
		Metric:            DefaultMetricPolicies(),
		Detect:            DefaultDetectPolicy(),
		Threshold:         DefaultThresholds(),
		Template:          DefaultTemplates(),
	}
}

// applyPolicyDefaults overlays reference policy under sparse user overrides.
// Params: policy pointer from decoded snapshot.
// Returns: defaults applied in place; user entries win per key.
func applyPolicyDefaults(policy *Policy) {
	if policy.DeclineRatePerDay == 0 {
		policy.DeclineRatePerDay = defaultDeclineRatePerDay
	}
	defaults := DefaultMetricPolicies()
	if policy.Metric == nil {
		policy.Metric = make(map[string]MetricPolicy, len(defaults))
	}
	for id, fallback := range defaults {
		if _, ok := policy.Metric[id]; !ok {
			policy.Metric[id] = fallback
		}
	}
	if policy.Threshold == nil {
		policy.Threshold = DefaultThresholds()
	}
	if (policy.Detect == DetectPolicy{}) {
		policy.Detect = DefaultDetectPolicy()
	}
	if len(policy.Template) == 0 {
		policy.Template = DefaultTemplates()
	}
}

// validatePolicy validates policy tables against engine requirements.
// Params: policy snapshot after defaults.
// Returns: validation error naming the offending entry.
func validatePolicy(policy Policy) error {
	if policy.DeclineRatePerDay < 0 {
		return errors.New("policy.decline_rate_per_day must be >=0")
	}

	known := make(map[string]struct{}, len(MetricOrder()))
	for _, id := range MetricOrder() {
		known[id] = struct{}{}
	}
	for _, id := range MetricOrder() {
		if _, ok := policy.Metric[id]; !ok {
			return fmt.Errorf("policy.metric.%s is required", id)
		}
	}
	for id, metric := range policy.Metric {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("policy.metric.%s is not a scored metric", id)
		}
		if strings.TrimSpace(metric.Name) == "" {
			return fmt.Errorf("policy.metric.%s.name is required", id)
		}
		if metric.MaxValue <= 0 {
			return fmt.Errorf("policy.metric.%s.max_value must be >0", id)
		}
		if metric.Weight <= 0 {
			return fmt.Errorf("policy.metric.%s.weight must be >0", id)
		}
		if !domain.IsValidCategory(domain.MetricCategory(metric.Category)) {
			return fmt.Errorf("policy.metric.%s.category has unsupported value %q", id, metric.Category)
		}
	}
	for id := range policy.Threshold {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("policy.threshold.%s is not a scored metric", id)
		}
	}

	if policy.Detect.VerificationCriticalBelow > policy.Detect.VerificationWarningBelow {
		return errors.New("policy.detect.verification_critical_below must not exceed verification_warning_below")
	}
	if policy.Detect.APIUsageWarningPct > policy.Detect.APIUsageCriticalPct {
		return errors.New("policy.detect.api_usage_warning_pct must not exceed api_usage_critical_pct")
	}

	seenTemplates := make(map[string]struct{}, len(policy.Template))
	for i, template := range policy.Template {
		if strings.TrimSpace(template.ID) == "" {
			return fmt.Errorf("policy.template[%d].id is required", i)
		}
		if _, exists := seenTemplates[template.ID]; exists {
			return fmt.Errorf("duplicate policy.template id %q", template.ID)
		}
		seenTemplates[template.ID] = struct{}{}
		if !domain.IsValidAlertType(template.Type) {
			return fmt.Errorf("policy.template %q has unsupported type %q", template.ID, template.Type)
		}
		if !domain.IsValidChannel(template.Channel) {
			return fmt.Errorf("policy.template %q has unsupported channel %q", template.ID, template.Channel)
		}
		if strings.TrimSpace(template.Content) == "" {
			return fmt.Errorf("policy.template %q content is required", template.ID)
		}
		for _, status := range template.Conditions.HealthStatus {
			if !domain.IsValidStatus(status) {
				return fmt.Errorf("policy.template %q has unsupported health_status %q", template.ID, status)
			}
		}
		for _, severity := range template.Conditions.AlertSeverity {
			if !domain.IsValidSeverity(severity) {
				return fmt.Errorf("policy.template %q has unsupported alert_severity %q", template.ID, severity)
			}
		}
		for _, tier := range template.Conditions.TierLevel {
			if !domain.IsValidTier(tier) {
				return fmt.Errorf("policy.template %q has unsupported tier_level %q", template.ID, tier)
			}
		}
		if window := template.Conditions.HoursSinceAlert; window != nil {
			if window.Min < 0 || window.Max < window.Min {
				return fmt.Errorf("policy.template %q hours_since_alert window is invalid", template.ID)
			}
		}
	}

	return nil
}

package engine

import (
	"fmt"

	"accounthealth/internal/config"
	"accounthealth/internal/domain"
)

const topIssueCutoff = 70.0

var statusMessages = map[domain.HealthStatus]string{
	domain.HealthStatusExcellent: "Your account is in excellent health! Keep up the great work.",
	domain.HealthStatusGood:      "Your account is in good shape. A few minor improvements can be made.",
	domain.HealthStatusFair:      "Your account health needs attention. Review the recommendations below.",
	domain.HealthStatusPoor:      "Your account has significant issues that need prompt attention.",
	domain.HealthStatusCritical:  "Your account requires immediate attention. Please review the alerts.",
}

var metricRecommendations = map[string]string{
	config.MetricVerificationSuccess: "Review our verification best practices guide to improve success rates",
	config.MetricAPIUsage:            "Consider upgrading your plan or optimizing API calls for better efficiency",
	config.MetricStorageUsage:        "Clean up old documents or upgrade your storage limit",
	config.MetricLoginActivity:       "Log in regularly to stay updated with new features and security updates",
	config.MetricSupportHealth:       "Check our documentation first - it may have answers to your questions",
	config.MetricPaymentHealth:       "Ensure your payment method is up to date to avoid service interruption",
	config.MetricComplianceScore:     "Review compliance requirements and update any outdated documents",
	config.MetricTeamEngagement:      "Invite more team members or check if they need access permissions",
}

// Summarizer produces dashboard digests and improvement advice from scores.
// Params: threshold triples used as the advice gate per metric.
// Returns: pure digest builder.
type Summarizer struct {
	policy config.Policy
}

// NewSummarizer constructs a summarizer over one policy snapshot.
// Params: policy with threshold table.
// Returns: initialized summarizer.
func NewSummarizer(policy config.Policy) *Summarizer {
	return &Summarizer{policy: policy}
}

// Recommendations lists improvement advice for metrics below their fair threshold.
// Params: score with the full metric set.
// Returns: advice strings in metric order; empty slice when all metrics are healthy.
func (s *Summarizer) Recommendations(score domain.HealthScore) []string {
	recommendations := make([]string, 0)
	for _, metric := range score.Metrics {
		threshold, ok := s.policy.Threshold[metric.ID]
		if !ok {
			continue
		}
		if !s.beyondFair(metric, threshold) {
			continue
		}
		recommendations = append(recommendations, recommendationForMetric(metric))
	}
	return recommendations
}

// beyondFair reports whether one metric sits past its fair boundary.
// Params: scored metric and its threshold triple.
// Returns: true when the raw ratio crossed fair on the metric's unhealthy side.
func (s *Summarizer) beyondFair(metric domain.HealthMetric, threshold config.ThresholdTriple) bool {
	normalized := metric.NormalizedValue()
	if s.policy.Metric[metric.ID].LowerIsBetter {
		return normalized > threshold.Fair
	}
	return normalized < threshold.Fair
}

// Summarize builds the dashboard digest for one score snapshot.
// Params: score with status and metric set.
// Returns: summary with status message, weak metric names, and recommendations.
func (s *Summarizer) Summarize(score domain.HealthScore) domain.HealthSummary {
	topIssues := make([]string, 0)
	for _, metric := range score.Metrics {
		// Same uninverted ratio the score aggregation uses.
		if metric.NormalizedValue() < topIssueCutoff {
			topIssues = append(topIssues, metric.Name)
		}
	}
	return domain.HealthSummary{
		Status:          score.Status,
		Summary:         statusMessages[score.Status],
		TopIssues:       topIssues,
		Recommendations: s.Recommendations(score),
	}
}

// recommendationForMetric resolves advice text for one weak metric.
// Params: weak metric entry.
// Returns: canned advice or generic fallback naming the metric.
func recommendationForMetric(metric domain.HealthMetric) string {
	if advice, ok := metricRecommendations[metric.ID]; ok {
		return advice
	}
	return fmt.Sprintf("Improve your %s metric", metric.Name)
}

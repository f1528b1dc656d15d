package engine

import (
	"fmt"
	"math"
	"sort"

	"accounthealth/internal/config"
	"accounthealth/internal/domain"
)

// Predictor forecasts future alerts from declining metrics.
// Params: threshold triples, decline rate, and metric→alert-type mapping.
// Returns: pure forecaster over one score's metric set.
type Predictor struct {
	policy config.Policy
}

// NewPredictor constructs a predictor over one policy snapshot.
// Params: policy with threshold table and decline rate.
// Returns: initialized predictor.
func NewPredictor(policy config.Policy) *Predictor {
	return &Predictor{policy: policy}
}

// Predict scans scored metrics for declining ones below their good threshold.
// Params: metric set from one health score.
// Returns: predictions sorted by likelihood descending; empty slice when none qualify.
func (p *Predictor) Predict(metrics []domain.HealthMetric) []domain.Prediction {
	predictions := make([]domain.Prediction, 0)
	for _, metric := range metrics {
		if metric.Trend != domain.TrendDown {
			continue
		}
		threshold, ok := p.policy.Threshold[metric.ID]
		if !ok {
			continue
		}
		normalized := metric.NormalizedValue()
		if normalized >= threshold.Good {
			continue
		}
		likelihood := int(math.Round(100 - normalized))
		if likelihood > 95 {
			likelihood = 95
		}
		predictions = append(predictions, domain.Prediction{
			Type:       alertTypeForMetric(metric.ID),
			Likelihood: likelihood,
			Timeframe:  p.timeframe(normalized),
		})
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Likelihood > predictions[j].Likelihood
	})
	return predictions
}

// timeframe buckets the estimated days until the metric crosses midpoint.
// Params: normalized metric value on 0-100 scale.
// Returns: human timeframe bucket; "Unknown" when decline rate is zero.
func (p *Predictor) timeframe(normalized float64) string {
	rate := p.policy.DeclineRatePerDay
	if rate == 0 {
		return "Unknown"
	}

	daysToThreshold := math.Max(0, (normalized-50)/rate)
	switch {
	case daysToThreshold <= 1:
		return "Within 24 hours"
	case daysToThreshold <= 7:
		return fmt.Sprintf("Within %d days", int(math.Ceil(daysToThreshold)))
	case daysToThreshold <= 30:
		return fmt.Sprintf("Within %d weeks", int(math.Ceil(daysToThreshold/7)))
	default:
		return fmt.Sprintf("Within %d months", int(math.Ceil(daysToThreshold/30)))
	}
}

// alertTypeForMetric maps one metric id onto the alert type it degrades into.
// Params: scored metric id.
// Returns: alert type; usage_spike for unknown ids.
func alertTypeForMetric(metricID string) domain.AlertType {
	switch metricID {
	case config.MetricVerificationSuccess:
		return domain.AlertTypeVerificationFailure
	case config.MetricAPIUsage, config.MetricStorageUsage:
		return domain.AlertTypeUsageSpike
	case config.MetricLoginActivity, config.MetricTeamEngagement:
		return domain.AlertTypeInactivity
	case config.MetricSupportHealth:
		return domain.AlertTypeSupportEscalation
	case config.MetricPaymentHealth:
		return domain.AlertTypePaymentIssue
	case config.MetricComplianceScore:
		return domain.AlertTypeCompliance
	default:
		return domain.AlertTypeUsageSpike
	}
}

package engine

import (
	"math"
	"time"

	"accounthealth/internal/clock"
	"accounthealth/internal/config"
	"accounthealth/internal/domain"
)

// Scorer computes weighted health scores from organization snapshots.
// Params: metric policy table and clock.
// Returns: pure calculator; every call produces a fresh score value.
type Scorer struct {
	policy config.Policy
	clk    clock.Clock
}

// NewScorer constructs a scorer over one policy snapshot.
// Params: policy tables and time source.
// Returns: initialized scorer.
func NewScorer(policy config.Policy, clk clock.Clock) *Scorer {
	return &Scorer{policy: policy, clk: clk}
}

// Calculate evaluates one snapshot into a complete health score.
// Params: validated organization snapshot.
// Returns: score with metrics, category breakdown, status band, and aggregate trend.
func (s *Scorer) Calculate(snapshot domain.Snapshot) domain.HealthScore {
	now := s.clk.Now()

	metrics := make([]domain.HealthMetric, 0, len(config.MetricOrder()))
	for _, id := range config.MetricOrder() {
		policy, ok := s.policy.Metric[id]
		if !ok {
			continue
		}
		value := metricValue(snapshot, id, now)
		metrics = append(metrics, domain.HealthMetric{
			ID:          id,
			Name:        policy.Name,
			Value:       round2(value),
			MaxValue:    policy.MaxValue,
			Weight:      policy.Weight,
			Category:    domain.MetricCategory(policy.Category),
			Trend:       policy.Trend(value),
			LastUpdated: now,
		})
	}

	overall := s.overallScore(metrics)
	return domain.HealthScore{
		OrganizationID: snapshot.OrganizationID,
		OverallScore:   overall,
		Status:         domain.StatusFromScore(overall),
		Metrics:        metrics,
		Breakdown:      s.breakdown(metrics),
		Trend:          aggregateTrend(metrics),
		LastCalculated: now,
	}
}

// overallScore aggregates weighted normalized metrics into 0-100 integer.
// Params: scored metric list.
// Returns: rounded weighted mean; 0 for empty input.
func (s *Scorer) overallScore(metrics []domain.HealthMetric) int {
	var weightedSum, weightTotal float64
	for _, metric := range metrics {
		// The raw value/max ratio feeds the mean uninverted regardless of
		// metric polarity; polarity only drives trend assignment.
		weightedSum += metric.NormalizedValue() * metric.Weight
		weightTotal += metric.Weight
	}
	if weightTotal == 0 {
		return 0
	}
	return int(math.Round(weightedSum / weightTotal))
}

// breakdown aggregates weighted normalized metrics per category.
// Params: scored metric list.
// Returns: rounded per-category 0-100 scores; absent categories stay 0.
func (s *Scorer) breakdown(metrics []domain.HealthMetric) domain.CategoryBreakdown {
	var breakdown domain.CategoryBreakdown
	for _, category := range domain.MetricCategories() {
		var weightedSum, weightTotal float64
		for _, metric := range metrics {
			if metric.Category != category {
				continue
			}
			weightedSum += metric.NormalizedValue() * metric.Weight
			weightTotal += metric.Weight
		}
		if weightTotal == 0 {
			continue
		}
		score := int(math.Round(weightedSum / weightTotal))
		switch category {
		case domain.CategoryUsage:
			breakdown.Usage = score
		case domain.CategoryEngagement:
			breakdown.Engagement = score
		case domain.CategoryCompliance:
			breakdown.Compliance = score
		case domain.CategorySupport:
			breakdown.Support = score
		case domain.CategoryFinancial:
			breakdown.Financial = score
		}
	}
	return breakdown
}

// aggregateTrend derives snapshot-level trend from per-metric trend counts.
// Params: scored metric list.
// Returns: improving/declining only when one direction leads by more than one metric.
func aggregateTrend(metrics []domain.HealthMetric) domain.ScoreTrend {
	var up, down int
	for _, metric := range metrics {
		switch metric.Trend {
		case domain.TrendUp:
			up++
		case domain.TrendDown:
			down++
		}
	}
	switch {
	case up > down+1:
		return domain.ScoreTrendImproving
	case down > up+1:
		return domain.ScoreTrendDeclining
	default:
		return domain.ScoreTrendStable
	}
}

// metricValue extracts the raw value feeding one scored metric.
// Params: snapshot, metric id, and evaluation time.
// Returns: raw value on the metric's native scale.
func metricValue(snapshot domain.Snapshot, id string, now time.Time) float64 {
	switch id {
	case config.MetricVerificationSuccess:
		return snapshot.Metrics.VerificationSuccess
	case config.MetricAPIUsage:
		return snapshot.APIUsagePercent()
	case config.MetricStorageUsage:
		return snapshot.StoragePercent()
	case config.MetricLoginActivity:
		return snapshot.DaysSinceLogin(now)
	case config.MetricSupportHealth:
		return snapshot.Metrics.SupportTicketResolutionTime
	case config.MetricPaymentHealth:
		return snapshot.Metrics.DaysUntilPayment
	case config.MetricComplianceScore:
		return snapshot.Metrics.ComplianceScore
	case config.MetricTeamEngagement:
		return snapshot.Metrics.TeamMembersActive
	default:
		return 0
	}
}

// round2 rounds value to two decimal places for stable report payloads.
// Params: raw float value.
// Returns: value rounded half away from zero.
func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

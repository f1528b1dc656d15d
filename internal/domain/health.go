package domain

import "time"

// HealthStatus is discrete account health band derived from overall score.
// Params: excellent..critical band constants.
// Returns: status used by reports and template conditions.
type HealthStatus string

const (
	// HealthStatusExcellent marks overall score >= 90.
	HealthStatusExcellent HealthStatus = "excellent"
	// HealthStatusGood marks overall score >= 75.
	HealthStatusGood HealthStatus = "good"
	// HealthStatusFair marks overall score >= 60.
	HealthStatusFair HealthStatus = "fair"
	// HealthStatusPoor marks overall score >= 40.
	HealthStatusPoor HealthStatus = "poor"
	// HealthStatusCritical marks overall score < 40.
	HealthStatusCritical HealthStatus = "critical"
)

// IsValidStatus reports whether status value is known.
// Params: candidate status value.
// Returns: true for one of the five health bands.
func IsValidStatus(status HealthStatus) bool {
	switch status {
	case HealthStatusExcellent, HealthStatusGood, HealthStatusFair, HealthStatusPoor, HealthStatusCritical:
		return true
	default:
		return false
	}
}

// MetricTrend is per-metric direction marker.
// Params: up/down/stable constants.
// Returns: trend tag assigned by scorer cut points.
type MetricTrend string

const (
	// TrendUp marks metric moving in healthy direction.
	TrendUp MetricTrend = "up"
	// TrendDown marks metric moving in unhealthy direction.
	TrendDown MetricTrend = "down"
	// TrendStable marks metric holding between cut points.
	TrendStable MetricTrend = "stable"
)

// ScoreTrend is aggregate direction of one health score snapshot.
// Params: improving/declining/stable constants.
// Returns: snapshot-level trend from per-metric trend counts.
type ScoreTrend string

const (
	// ScoreTrendImproving marks up-count exceeding down-count by more than one.
	ScoreTrendImproving ScoreTrend = "improving"
	// ScoreTrendDeclining marks down-count exceeding up-count by more than one.
	ScoreTrendDeclining ScoreTrend = "declining"
	// ScoreTrendStable marks balanced trend counts.
	ScoreTrendStable ScoreTrend = "stable"
)

// MetricCategory groups metrics for breakdown reporting.
// Params: usage/engagement/compliance/support/financial constants.
// Returns: category key for weighted breakdown scores.
type MetricCategory string

const (
	// CategoryUsage groups API and storage consumption metrics.
	CategoryUsage MetricCategory = "usage"
	// CategoryEngagement groups login and team activity metrics.
	CategoryEngagement MetricCategory = "engagement"
	// CategoryCompliance groups verification and compliance metrics.
	CategoryCompliance MetricCategory = "compliance"
	// CategorySupport groups support resolution metrics.
	CategorySupport MetricCategory = "support"
	// CategoryFinancial groups payment metrics.
	CategoryFinancial MetricCategory = "financial"
)

// MetricCategories returns all known categories in breakdown order.
// Params: none.
// Returns: deterministic category list.
func MetricCategories() []MetricCategory {
	return []MetricCategory{
		CategoryUsage,
		CategoryEngagement,
		CategoryCompliance,
		CategorySupport,
		CategoryFinancial,
	}
}

// IsValidCategory reports whether category value is known.
// Params: candidate category value.
// Returns: true for one of the five breakdown categories.
func IsValidCategory(category MetricCategory) bool {
	switch category {
	case CategoryUsage, CategoryEngagement, CategoryCompliance, CategorySupport, CategoryFinancial:
		return true
	default:
		return false
	}
}

// HealthMetric is one measured business signal inside a score snapshot.
// Params: identity, raw value with normalization denominator, weight, category, and trend tag.
// Returns: metric entry consumed by breakdown, predictions, and reports.
type HealthMetric struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Value       float64        `json:"value"`
	MaxValue    float64        `json:"max_value"`
	Weight      float64        `json:"weight"`
	Category    MetricCategory `json:"category"`
	Trend       MetricTrend    `json:"trend"`
	LastUpdated time.Time      `json:"last_updated"`
}

// NormalizedValue converts raw value into 0-100 scale clamped to bounds.
// Params: none.
// Returns: clamped percentage of max value (0 when max value is not positive).
func (m HealthMetric) NormalizedValue() float64 {
	if m.MaxValue <= 0 {
		return 0
	}
	normalized := m.Value / m.MaxValue * 100
	if normalized < 0 {
		return 0
	}
	if normalized > 100 {
		return 100
	}
	return normalized
}

// CategoryBreakdown holds one weighted 0-100 score per metric category.
// Params: rounded per-category weighted scores.
// Returns: breakdown section of health score.
type CategoryBreakdown struct {
	Usage      int `json:"usage"`
	Engagement int `json:"engagement"`
	Compliance int `json:"compliance"`
	Support    int `json:"support"`
	Financial  int `json:"financial"`
}

// HealthScore is one immutable evaluation result for an organization.
// Params: overall score, derived status, full metric set, breakdown, and trend.
// Returns: score snapshot; every evaluation produces a fresh value.
type HealthScore struct {
	OrganizationID string            `json:"organization_id"`
	OverallScore   int               `json:"overall_score"`
	Status         HealthStatus      `json:"status"`
	Metrics        []HealthMetric    `json:"metrics"`
	Breakdown      CategoryBreakdown `json:"breakdown"`
	Trend          ScoreTrend        `json:"trend"`
	LastCalculated time.Time         `json:"last_calculated"`
}

// StatusFromScore maps overall score into discrete health band.
// Params: overall score on 0-100 scale.
// Returns: status with inclusive lower band boundaries (90/75/60/40).
func StatusFromScore(score int) HealthStatus {
	switch {
	case score >= 90:
		return HealthStatusExcellent
	case score >= 75:
		return HealthStatusGood
	case score >= 60:
		return HealthStatusFair
	case score >= 40:
		return HealthStatusPoor
	default:
		return HealthStatusCritical
	}
}

// Prediction is one forward-looking issue estimate from declining metrics.
// Params: predicted alert type, 0-95 likelihood, and human timeframe bucket.
// Returns: dashboard prediction entry.
type Prediction struct {
	Type       AlertType `json:"type"`
	Likelihood int       `json:"likelihood"`
	Timeframe  string    `json:"timeframe"`
}

// HealthSummary is dashboard-facing digest of one score snapshot.
// Params: status, status message, weak metric names, and improvement advice.
// Returns: summary section of the evaluation report.
type HealthSummary struct {
	Status          HealthStatus `json:"status"`
	Summary         string       `json:"summary"`
	TopIssues       []string     `json:"top_issues"`
	Recommendations []string     `json:"recommendations"`
}

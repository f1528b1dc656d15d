package engine

import (
	"testing"
	"time"

	"accounthealth/internal/config"
	"accounthealth/internal/domain"
)

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time {
	return c.at
}

func healthySnapshot(now time.Time) domain.Snapshot {
	return domain.Snapshot{
		OrganizationID: "org-1",
		Tier:           domain.TierGrowth,
		Metrics: domain.SnapshotMetrics{
			VerificationSuccess:         99,
			VerificationVolume:          1200,
			APIUsage:                    500,
			APILimit:                    10000,
			StorageUsed:                 1e9,
			StorageLimit:                1e10,
			LoginFrequency:              20,
			LastLoginAt:                 now,
			SupportTicketCount:          0,
			SupportTicketResolutionTime: 10,
			PaymentStatus:               domain.PaymentCurrent,
			DaysUntilPayment:            25,
			DocumentExpiryRisk:          5,
			ComplianceScore:             96,
			TeamMembersActive:           8,
		},
	}
}

func TestScorerHealthySnapshotScore(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	scorer := NewScorer(config.DefaultPolicy(), fixedClock{at: now})

	score := scorer.Calculate(healthySnapshot(now))
	if score.OrganizationID != "org-1" {
		t.Fatalf("unexpected organization id %q", score.OrganizationID)
	}
	// Raw value/max ratios keep low-usage metrics cheap in the weighted
	// mean, so even a healthy account lands mid-band.
	if score.OverallScore != 47 {
		t.Fatalf("expected overall score 47, got %d", score.OverallScore)
	}
	if score.Status != domain.StatusFromScore(score.OverallScore) {
		t.Fatalf("status %q does not match score %d", score.Status, score.OverallScore)
	}
	if len(score.Metrics) != len(config.MetricOrder()) {
		t.Fatalf("expected %d metrics, got %d", len(config.MetricOrder()), len(score.Metrics))
	}
	if !score.LastCalculated.Equal(now) {
		t.Fatalf("expected calculation time %v, got %v", now, score.LastCalculated)
	}
}

func TestScorerBreakdownUsesRawRatios(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	scorer := NewScorer(config.DefaultPolicy(), fixedClock{at: now})

	snapshot := healthySnapshot(now)
	snapshot.Metrics.APIUsage = 9500
	snapshot.Metrics.StorageUsed = 9.5e9

	score := scorer.Calculate(snapshot)
	// Usage sitting at 95% of both limits reads as 95, not 5: the
	// aggregation never inverts lower-is-better metrics.
	if score.Breakdown.Usage != 95 {
		t.Fatalf("expected usage category 95, got %d", score.Breakdown.Usage)
	}
	// Support resolution of 10h out of a 168h scale reads as 6.
	if score.Breakdown.Support != 6 {
		t.Fatalf("expected support category 6, got %d", score.Breakdown.Support)
	}
	// Other categories stay untouched by usage metrics.
	if score.Breakdown.Compliance != 98 {
		t.Fatalf("expected compliance category 98, got %d", score.Breakdown.Compliance)
	}
}

func TestScorerPaymentMetricUsesDaysUntilPayment(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	scorer := NewScorer(config.DefaultPolicy(), fixedClock{at: now})

	snapshot := healthySnapshot(now)
	snapshot.Metrics.PaymentStatus = domain.PaymentOverdue
	snapshot.Metrics.DaysUntilPayment = 25

	score := scorer.Calculate(snapshot)
	for _, metric := range score.Metrics {
		if metric.ID != config.MetricPaymentHealth {
			continue
		}
		// The payment metric carries days-until-payment regardless of
		// payment status; overdue detection lives in the rule table.
		if metric.Value != 25 {
			t.Fatalf("expected payment metric value 25, got %v", metric.Value)
		}
		if metric.Trend != domain.TrendUp {
			t.Fatalf("expected payment trend up at 25 days, got %q", metric.Trend)
		}
		return
	}
	t.Fatalf("payment metric missing from score")
}

func TestScorerBreakdownBounds(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	scorer := NewScorer(config.DefaultPolicy(), fixedClock{at: now})

	snapshot := healthySnapshot(now)
	snapshot.Metrics.VerificationSuccess = 0
	snapshot.Metrics.ComplianceScore = 0
	snapshot.Metrics.APIUsage = 10000
	snapshot.Metrics.StorageUsed = 1e10
	snapshot.Metrics.LastLoginAt = now.Add(-40 * 24 * time.Hour)
	snapshot.Metrics.SupportTicketResolutionTime = 200
	snapshot.Metrics.PaymentStatus = domain.PaymentOverdue
	snapshot.Metrics.TeamMembersActive = 0

	score := scorer.Calculate(snapshot)
	for name, value := range map[string]int{
		"usage":      score.Breakdown.Usage,
		"engagement": score.Breakdown.Engagement,
		"compliance": score.Breakdown.Compliance,
		"support":    score.Breakdown.Support,
		"financial":  score.Breakdown.Financial,
	} {
		if value < 0 || value > 100 {
			t.Fatalf("%s breakdown out of bounds: %d", name, value)
		}
	}
	// Saturated usage ratios read as full categories in the raw formula.
	if score.Breakdown.Usage != 100 {
		t.Fatalf("expected saturated usage category, got %d", score.Breakdown.Usage)
	}
	if score.OverallScore != 53 {
		t.Fatalf("expected overall score 53, got %d", score.OverallScore)
	}
}

func TestScorerMetricTrends(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	scorer := NewScorer(config.DefaultPolicy(), fixedClock{at: now})

	snapshot := healthySnapshot(now)
	score := scorer.Calculate(snapshot)

	trends := make(map[string]domain.MetricTrend, len(score.Metrics))
	for _, metric := range score.Metrics {
		trends[metric.ID] = metric.Trend
	}
	if trends[config.MetricVerificationSuccess] != domain.TrendUp {
		t.Fatalf("expected verification trend up, got %q", trends[config.MetricVerificationSuccess])
	}
	if trends[config.MetricAPIUsage] != domain.TrendUp {
		t.Fatalf("expected api usage trend up at 5%%, got %q", trends[config.MetricAPIUsage])
	}
	if trends[config.MetricTeamEngagement] != domain.TrendUp {
		t.Fatalf("expected team trend up at 8 members, got %q", trends[config.MetricTeamEngagement])
	}
	if score.Trend != domain.ScoreTrendImproving {
		t.Fatalf("expected improving aggregate trend, got %q", score.Trend)
	}
}

func TestScorerAggregateTrendDeclining(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	scorer := NewScorer(config.DefaultPolicy(), fixedClock{at: now})

	snapshot := healthySnapshot(now)
	snapshot.Metrics.VerificationSuccess = 60
	snapshot.Metrics.APIUsage = 9500
	snapshot.Metrics.StorageUsed = 9.5e9
	snapshot.Metrics.LastLoginAt = now.Add(-20 * 24 * time.Hour)
	snapshot.Metrics.SupportTicketResolutionTime = 100
	snapshot.Metrics.ComplianceScore = 40
	snapshot.Metrics.PaymentStatus = domain.PaymentOverdue

	score := scorer.Calculate(snapshot)
	if score.Trend != domain.ScoreTrendDeclining {
		t.Fatalf("expected declining aggregate trend, got %q", score.Trend)
	}
}

func TestScorerTeamEngagementNeverTrendsDown(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	scorer := NewScorer(config.DefaultPolicy(), fixedClock{at: now})

	snapshot := healthySnapshot(now)
	snapshot.Metrics.TeamMembersActive = 0

	score := scorer.Calculate(snapshot)
	for _, metric := range score.Metrics {
		if metric.ID != config.MetricTeamEngagement {
			continue
		}
		if metric.Trend != domain.TrendStable {
			t.Fatalf("expected stable team trend at zero members, got %q", metric.Trend)
		}
		return
	}
	t.Fatalf("team engagement metric missing from score")
}

func TestScorerTrendCutBoundaries(t *testing.T) {
	t.Parallel()

	policy := config.DefaultMetricPolicies()

	// Inclusive cuts: verification 95 is up, 85 is stable, 84.9 is down.
	verification := policy[config.MetricVerificationSuccess]
	if got := verification.Trend(95); got != domain.TrendUp {
		t.Fatalf("verification 95: expected up, got %q", got)
	}
	if got := verification.Trend(85); got != domain.TrendStable {
		t.Fatalf("verification 85: expected stable, got %q", got)
	}
	if got := verification.Trend(84.9); got != domain.TrendDown {
		t.Fatalf("verification 84.9: expected down, got %q", got)
	}

	// Strict cuts: api usage 30 is already stable, 60 is already down.
	api := policy[config.MetricAPIUsage]
	if got := api.Trend(29.9); got != domain.TrendUp {
		t.Fatalf("api 29.9: expected up, got %q", got)
	}
	if got := api.Trend(30); got != domain.TrendStable {
		t.Fatalf("api 30: expected stable, got %q", got)
	}
	if got := api.Trend(60); got != domain.TrendDown {
		t.Fatalf("api 60: expected down, got %q", got)
	}
}

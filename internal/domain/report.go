package domain

import "time"

// HealthReport is the full evaluation result for one snapshot.
// Params: score, detected alerts, decline predictions, and natural-language summary.
// Returns: report payload published downstream after each evaluation.
type HealthReport struct {
	OrganizationID string        `json:"organization_id"`
	Tier           TierLevel     `json:"tier"`
	Score          HealthScore   `json:"score"`
	Alerts         []HealthAlert `json:"alerts"`
	Predictions    []Prediction  `json:"predictions"`
	Summary        HealthSummary `json:"summary"`
	EvaluatedAt    time.Time     `json:"evaluated_at"`
}

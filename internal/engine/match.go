package engine

import (
	"accounthealth/internal/domain"
)

// TemplateMatcher selects outreach templates for alerts from a static catalog.
// Params: template catalog in declaration order.
// Returns: pure selector; catalog order breaks priority ties deterministically.
type TemplateMatcher struct {
	catalog []domain.OutreachTemplate
}

// NewTemplateMatcher constructs a matcher over one catalog snapshot.
// Params: template catalog from policy config.
// Returns: initialized matcher with a detached catalog copy.
func NewTemplateMatcher(catalog []domain.OutreachTemplate) *TemplateMatcher {
	return &TemplateMatcher{catalog: append([]domain.OutreachTemplate(nil), catalog...)}
}

// Select returns the highest-priority eligible template for one alert.
// Params: alert, current org health status, tier, and hours elapsed since alert creation.
// Returns: template and true, or zero value and false when nothing matches.
func (m *TemplateMatcher) Select(
	alert domain.HealthAlert,
	status domain.HealthStatus,
	tier domain.TierLevel,
	hoursSinceAlert float64,
) (domain.OutreachTemplate, bool) {
	var best domain.OutreachTemplate
	found := false
	for _, template := range m.catalog {
		if !eligible(template, alert, status, tier, hoursSinceAlert) {
			continue
		}
		if !found || template.Priority > best.Priority {
			best = template
			found = true
		}
	}
	return best, found
}

// eligible checks one template against the alert and every present condition.
// Params: template, alert, current status, tier, and alert age in hours.
// Returns: true when the template is active, type-matched, and all conditions hold.
func eligible(
	template domain.OutreachTemplate,
	alert domain.HealthAlert,
	status domain.HealthStatus,
	tier domain.TierLevel,
	hoursSinceAlert float64,
) bool {
	if !template.Active {
		return false
	}
	if template.Type != alert.Type {
		return false
	}

	conditions := template.Conditions
	if len(conditions.HealthStatus) > 0 && !containsStatus(conditions.HealthStatus, status) {
		return false
	}
	if len(conditions.AlertSeverity) > 0 && !containsSeverity(conditions.AlertSeverity, alert.Severity) {
		return false
	}
	if len(conditions.TierLevel) > 0 && !containsTier(conditions.TierLevel, tier) {
		return false
	}
	if window := conditions.HoursSinceAlert; window != nil {
		if hoursSinceAlert < window.Min || hoursSinceAlert > window.Max {
			return false
		}
	}
	return true
}

func containsStatus(list []domain.HealthStatus, status domain.HealthStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}

func containsSeverity(list []domain.AlertSeverity, severity domain.AlertSeverity) bool {
	for _, candidate := range list {
		if candidate == severity {
			return true
		}
	}
	return false
}

func containsTier(list []domain.TierLevel, tier domain.TierLevel) bool {
	for _, candidate := range list {
		if candidate == tier {
			return true
		}
	}
	return false
}

package domain

import "testing"

func TestAlertFingerprintShape(t *testing.T) {
	t.Parallel()

	got := AlertFingerprint("org-42", AlertTypeVerificationFailure, "verification_success")
	want := "org/org-42/verification_failure/verification_success"
	if got != want {
		t.Fatalf("fingerprint = %q, want %q", got, want)
	}
}

func TestAlertFingerprintEmptyMetricPlaceholder(t *testing.T) {
	t.Parallel()

	got := AlertFingerprint("org-42", AlertTypePaymentIssue, "")
	want := "org/org-42/payment_issue/-"
	if got != want {
		t.Fatalf("fingerprint = %q, want %q", got, want)
	}
}

func TestFingerprintMatchesPackageFunction(t *testing.T) {
	t.Parallel()

	alert := HealthAlert{
		OrganizationID: "org-7",
		Type:           AlertTypeInactivity,
		MetricID:       "login_activity",
	}
	if alert.Fingerprint() != AlertFingerprint("org-7", AlertTypeInactivity, "login_activity") {
		t.Fatalf("method and package fingerprint diverge: %q", alert.Fingerprint())
	}
}

func TestIsValidAlertType(t *testing.T) {
	t.Parallel()

	valid := []AlertType{
		AlertTypeUsageSpike,
		AlertTypeVerificationFailure,
		AlertTypePaymentIssue,
		AlertTypeInactivity,
		AlertTypeSupportEscalation,
		AlertTypeSecurity,
		AlertTypeCompliance,
	}
	for _, alertType := range valid {
		if !IsValidAlertType(alertType) {
			t.Fatalf("IsValidAlertType(%q) = false, want true", alertType)
		}
	}
	if IsValidAlertType("billing") {
		t.Fatalf("IsValidAlertType accepted unknown type")
	}
	if IsValidAlertType("") {
		t.Fatalf("IsValidAlertType accepted empty type")
	}
}

func TestIsValidSeverity(t *testing.T) {
	t.Parallel()

	for _, severity := range []AlertSeverity{SeverityInfo, SeverityWarning, SeverityCritical} {
		if !IsValidSeverity(severity) {
			t.Fatalf("IsValidSeverity(%q) = false, want true", severity)
		}
	}
	if IsValidSeverity("fatal") {
		t.Fatalf("IsValidSeverity accepted unknown severity")
	}
}

func TestIsValidChannel(t *testing.T) {
	t.Parallel()

	valid := []OutreachChannel{ChannelEmail, ChannelSMS, ChannelInApp, ChannelPhone, ChannelAccountManager}
	for _, channel := range valid {
		if !IsValidChannel(channel) {
			t.Fatalf("IsValidChannel(%q) = false, want true", channel)
		}
	}
	if IsValidChannel("carrier_pigeon") {
		t.Fatalf("IsValidChannel accepted unknown channel")
	}
}

func TestIsValidTier(t *testing.T) {
	t.Parallel()

	for _, tier := range []TierLevel{TierStarter, TierGrowth, TierScale, TierEnterprise} {
		if !IsValidTier(tier) {
			t.Fatalf("IsValidTier(%q) = false, want true", tier)
		}
	}
	if IsValidTier("free") {
		t.Fatalf("IsValidTier accepted unknown tier")
	}
}

package e2e

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHotReloadAppliesTemplateCatalog(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	collector := &outreachCollector{}
	webhook := httptest.NewServer(http.HandlerFunc(collector.Handle))
	defer webhook.Close()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(reloadConfigTOML(port, webhook.URL, "usage_spike")), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	// The initial catalog has no verification template, so the critical
	// alert is registered without any outreach.
	sendSnapshot(t, baseURL, verificationFailureSnapshotJSON("org-reload"))
	time.Sleep(300 * time.Millisecond)
	if total := collector.Total(); total != 0 {
		t.Fatalf("expected no outreach before catalog update, got %d", total)
	}

	if err := os.WriteFile(configPath, []byte(reloadConfigTOML(port, webhook.URL, "verification_failure")), 0o644); err != nil {
		t.Fatalf("write reloaded config: %v", err)
	}

	waitFor(t, 6*time.Second, func() bool {
		sendSnapshot(t, baseURL, verificationFailureSnapshotJSON("org-reload"))
		return collector.Count("org-reload", "catalog_probe") >= 1
	})

	cancel()
	waitServiceStop(t, done)
}

func TestHotReloadKeepsPreviousSnapshotOnValidationError(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	collector := &outreachCollector{}
	webhook := httptest.NewServer(http.HandlerFunc(collector.Handle))
	defer webhook.Close()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(reloadConfigTOML(port, webhook.URL, "verification_failure")), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	sendSnapshot(t, baseURL, verificationFailureSnapshotJSON("org-stable-1"))
	waitFor(t, 4*time.Second, func() bool {
		return collector.Count("org-stable-1", "catalog_probe") >= 1
	})

	// Webhook without a URL fails validation; the previous snapshot must
	// keep serving outreach.
	if err := os.WriteFile(configPath, []byte(brokenWebhookConfigTOML(port)), 0o644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)

	sendSnapshot(t, baseURL, verificationFailureSnapshotJSON("org-stable-2"))
	waitFor(t, 4*time.Second, func() bool {
		return collector.Count("org-stable-2", "catalog_probe") >= 1
	})

	cancel()
	waitServiceStop(t, done)
}

// reloadConfigTOML builds a single-mode config with one catalog template bound to templateType.
// Params: HTTP port, webhook URL, and alert type for the probe template.
// Returns: TOML config body with hot reload enabled.
func reloadConfigTOML(port int, webhookURL, templateType string) string {
	return fmt.Sprintf(`
[service]
name = "accounthealth"
mode = "single"
reload_enabled = true
reload_interval_sec = 1
sweep_interval_sec = 60
alert_retention_hours = 72

[log.console]
enabled = true
level = "error"
format = "line"

[ingest.http]
enabled = true
listen = "127.0.0.1:%d"
health_path = "/healthz"
ready_path = "/readyz"
snapshot_path = "/snapshots"
max_body_bytes = 1048576

[outreach]
min_repeat_hours = 24

[outreach.webhook]
enabled = true
url = "%s"
method = "POST"
timeout_sec = 2

[outreach.webhook.retry]
enabled = false

[[policy.template]]
id = "catalog_probe"
name = "Catalog probe"
type = "%s"
channel = "email"
subject = "Account check-in for {{ .OrganizationID }}"
content = "{{ .AlertTitle }}: {{ .Recommendation }}"
priority = 5
active = true
`, port, webhookURL, templateType)
}

// brokenWebhookConfigTOML builds a config that fails validation on reload.
// Params: HTTP port.
// Returns: TOML config body with an enabled webhook missing its URL.
func brokenWebhookConfigTOML(port int) string {
	return fmt.Sprintf(`
[service]
name = "accounthealth"
mode = "single"
reload_enabled = true
reload_interval_sec = 1
sweep_interval_sec = 60

[log.console]
enabled = true
level = "error"
format = "line"

[ingest.http]
enabled = true
listen = "127.0.0.1:%d"
health_path = "/healthz"
ready_path = "/readyz"
snapshot_path = "/snapshots"
max_body_bytes = 1048576

[outreach.webhook]
enabled = true
url = ""
method = "POST"
timeout_sec = 2
`, port)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	ingestHTTPEnabled = `[ingest.http]
enabled = true`
	ingestHTTPListen = `[ingest.http]
enabled = true
listen = "127.0.0.1:18081"`
	ingestNATSEnabled = `[ingest.nats]
enabled = true
url = ["nats://127.0.0.1:14222"]`
)

func TestLoadSnapshotFromFile(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(
		serviceSection(""),
		ingestHTTPListen,
		`[outreach]
min_repeat_hours = 48`,
		`[outreach.webhook]
enabled = true
url = "https://hooks.example.com/outreach"`,
	))

	if cfg.Service.Name != "health-scorer" {
		t.Fatalf("unexpected service name %q", cfg.Service.Name)
	}
	if cfg.Service.Mode != ServiceModeNATS {
		t.Fatalf("default mode = %q, want %q", cfg.Service.Mode, ServiceModeNATS)
	}
	if cfg.Ingest.HTTP.Listen != "127.0.0.1:18081" {
		t.Fatalf("unexpected listen %q", cfg.Ingest.HTTP.Listen)
	}
	if cfg.Outreach.MinRepeatHours != 48 {
		t.Fatalf("min repeat hours = %v, want 48", cfg.Outreach.MinRepeatHours)
	}
	if !cfg.Outreach.Webhook.Enabled || cfg.Outreach.Webhook.URL != "https://hooks.example.com/outreach" {
		t.Fatalf("webhook section not decoded: %+v", cfg.Outreach.Webhook)
	}
}

func TestLoadSnapshotAppliesServiceDefaults(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(ingestHTTPEnabled))

	if cfg.Service.Name != "accounthealth" {
		t.Fatalf("default service name = %q", cfg.Service.Name)
	}
	if cfg.Service.ReloadIntervalSec != defaultReloadSeconds {
		t.Fatalf("reload interval = %d, want %d", cfg.Service.ReloadIntervalSec, defaultReloadSeconds)
	}
	if cfg.Service.SweepIntervalSec != defaultSweepSeconds {
		t.Fatalf("sweep interval = %d, want %d", cfg.Service.SweepIntervalSec, defaultSweepSeconds)
	}
	if cfg.Service.AlertRetentionHours != defaultRetentionHours {
		t.Fatalf("retention hours = %d, want %d", cfg.Service.AlertRetentionHours, defaultRetentionHours)
	}
	if SweepInterval(cfg.Service) != time.Duration(defaultSweepSeconds)*time.Second {
		t.Fatalf("unexpected sweep interval %v", SweepInterval(cfg.Service))
	}
	if AlertRetention(cfg.Service) != time.Duration(defaultRetentionHours)*time.Hour {
		t.Fatalf("unexpected retention %v", AlertRetention(cfg.Service))
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("console sink must be enabled when no sinks configured")
	}
	if cfg.Outreach.MinRepeatHours != defaultMinRepeatHours {
		t.Fatalf("min repeat hours = %v, want %v", cfg.Outreach.MinRepeatHours, defaultMinRepeatHours)
	}
	if cfg.Publish.SubjectPrefix != defaultPublishSubjectPrefix {
		t.Fatalf("publish subject prefix = %q", cfg.Publish.SubjectPrefix)
	}
}

func TestLoadSnapshotFixesNATSRoutingKeys(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(serviceSection("nats"), ingestNATSEnabled))

	if cfg.Ingest.NATS.Subject != defaultNATSSubject {
		t.Fatalf("subject = %q, want %q", cfg.Ingest.NATS.Subject, defaultNATSSubject)
	}
	if cfg.Ingest.NATS.Stream != defaultNATSIngestStream {
		t.Fatalf("stream = %q, want %q", cfg.Ingest.NATS.Stream, defaultNATSIngestStream)
	}
	if cfg.Ingest.NATS.ConsumerName != defaultNATSIngestConsumer {
		t.Fatalf("consumer = %q, want %q", cfg.Ingest.NATS.ConsumerName, defaultNATSIngestConsumer)
	}
	if cfg.Ingest.NATS.DeliverGroup != defaultNATSIngestGroup {
		t.Fatalf("deliver group = %q, want %q", cfg.Ingest.NATS.DeliverGroup, defaultNATSIngestGroup)
	}
}

func TestLoadSnapshotDerivesQueueAndPublishURLs(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(
		serviceSection("nats"),
		ingestNATSEnabled,
		`[outreach.queue]
enabled = true`,
		`[publish]
enabled = true`,
	))

	if len(cfg.Outreach.Queue.URL) != 1 || cfg.Outreach.Queue.URL[0] != "nats://127.0.0.1:14222" {
		t.Fatalf("queue url not derived from ingest: %v", cfg.Outreach.Queue.URL)
	}
	if len(cfg.Publish.URL) != 1 || cfg.Publish.URL[0] != "nats://127.0.0.1:14222" {
		t.Fatalf("publish url not derived from ingest: %v", cfg.Publish.URL)
	}

	state := DeriveStateNATSConfig(cfg)
	if len(state.URL) != 1 || state.URL[0] != "nats://127.0.0.1:14222" {
		t.Fatalf("registry url not derived from ingest: %v", state.URL)
	}
	if state.AlertBucket != "alerts" {
		t.Fatalf("alert bucket = %q, want alerts", state.AlertBucket)
	}
	if state.OutreachBucket != "outreach_marks" {
		t.Fatalf("outreach bucket = %q, want outreach_marks", state.OutreachBucket)
	}
}

func TestSingleModeDisablesNATSPaths(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(
		serviceSection("single"),
		ingestHTTPEnabled,
		`[outreach.queue]
enabled = true
dlq = true`,
		`[publish]
enabled = true`,
	))

	if cfg.Ingest.NATS.Enabled {
		t.Fatalf("single mode kept NATS ingest enabled")
	}
	if cfg.Outreach.Queue.Enabled || cfg.Outreach.Queue.DLQ {
		t.Fatalf("single mode kept outreach queue enabled: %+v", cfg.Outreach.Queue)
	}
	if cfg.Publish.Enabled {
		t.Fatalf("single mode kept report publishing enabled")
	}
	if cfg.Outreach.Queue.URL != nil || cfg.Publish.URL != nil {
		t.Fatalf("single mode derived NATS URLs")
	}
}

func TestSingleModeRequiresHTTPIngest(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(serviceSection("single"), `[ingest.http]
enabled = false`))
	if !strings.Contains(err.Error(), "ingest.http.enabled") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadSnapshotRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(serviceSection("cluster"), ingestHTTPEnabled))
	if !strings.Contains(err.Error(), "service.mode") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadSnapshotFromDirMergesFragments(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfigFile(t, filepath.Join(tmpDir, "10-service.toml"), joinSections(
		serviceSection("nats"),
		ingestHTTPListen,
	))
	writeConfigFile(t, filepath.Join(tmpDir, "20-outreach.toml"), joinSections(
		`[outreach]
min_repeat_hours = 12`,
		`[outreach.webhook]
enabled = true
url = "https://hooks.example.com/outreach"`,
	))

	cfg, err := LoadSnapshot(ConfigSource{Dir: tmpDir})
	if err != nil {
		t.Fatalf("load snapshot from dir: %v", err)
	}
	if cfg.Ingest.HTTP.Listen != "127.0.0.1:18081" {
		t.Fatalf("fragment one not merged: %q", cfg.Ingest.HTTP.Listen)
	}
	if cfg.Outreach.MinRepeatHours != 12 {
		t.Fatalf("fragment two not merged: %v", cfg.Outreach.MinRepeatHours)
	}
	if !cfg.Outreach.Webhook.Enabled {
		t.Fatalf("webhook fragment not merged")
	}
}

func TestLoadSnapshotFromDirLaterFragmentWinsExplicitBool(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfigFile(t, filepath.Join(tmpDir, "10-base.toml"), joinSections(
		serviceSection("nats"),
		ingestHTTPEnabled,
		`[outreach.webhook]
enabled = true
url = "https://hooks.example.com/outreach"`,
	))
	writeConfigFile(t, filepath.Join(tmpDir, "20-override.toml"), `[outreach.webhook]
enabled = false
`)

	cfg, err := LoadSnapshot(ConfigSource{Dir: tmpDir})
	if err != nil {
		t.Fatalf("load snapshot from dir: %v", err)
	}
	if cfg.Outreach.Webhook.Enabled {
		t.Fatalf("explicit enabled=false in later fragment was ignored")
	}
	if cfg.Outreach.Webhook.URL != "https://hooks.example.com/outreach" {
		t.Fatalf("non-bool webhook fields lost during merge: %q", cfg.Outreach.Webhook.URL)
	}
}

func TestLoadSnapshotMergesPolicyPerMetric(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfigFile(t, filepath.Join(tmpDir, "10-service.toml"), joinSections(serviceSection(""), ingestHTTPEnabled))
	writeConfigFile(t, filepath.Join(tmpDir, "20-policy.toml"), `[policy.metric.verification_success]
name = "Verification Success Rate"
max_value = 100
weight = 0.3
category = "compliance"
trend_up = 97
trend_stable = 90
`)

	cfg, err := LoadSnapshot(ConfigSource{Dir: tmpDir})
	if err != nil {
		t.Fatalf("load snapshot from dir: %v", err)
	}
	verification := cfg.Policy.Metric[MetricVerificationSuccess]
	if verification.Weight != 0.3 || verification.TrendUp != 97 {
		t.Fatalf("metric override lost: %+v", verification)
	}
	if _, ok := cfg.Policy.Metric[MetricAPIUsage]; !ok {
		t.Fatalf("untouched metrics must keep defaults")
	}
}

func TestLoadSnapshotRejectsLegacyMetricArray(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(ingestHTTPEnabled, `[[policy.metric]]
name = "Verification Success Rate"`))
	if !strings.Contains(err.Error(), "[[policy.metric]]") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadSnapshotRejectsStateSection(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(ingestHTTPEnabled, `[state.nats]
url = ["nats://127.0.0.1:4222"]`))
	if !strings.Contains(err.Error(), "state configuration is not supported") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadSnapshotRejectsFixedIngestKeys(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(serviceSection("nats"), `[ingest.nats]
enabled = true
subject = "custom.subject"`))
	if !strings.Contains(err.Error(), "fixed in runtime") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadSnapshotRejectsQueueURL(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(ingestHTTPEnabled, `[outreach.queue]
enabled = true
url = ["nats://127.0.0.1:4222"]`))
	if !strings.Contains(err.Error(), "outreach.queue.url is not supported") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadSnapshotRejectsQueueDLQTable(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(ingestHTTPEnabled, `[outreach.queue.dlq]
enabled = true`))
	if !strings.Contains(err.Error(), "[outreach.queue.dlq]") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadSnapshotRejectsWebhookWithoutURL(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(ingestHTTPEnabled, `[outreach.webhook]
enabled = true`))
	if !strings.Contains(err.Error(), "outreach.webhook.url") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadSnapshotRejectsDLQWithoutQueue(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(serviceSection("nats"), ingestNATSEnabled, `[outreach.queue]
enabled = false
dlq = true`))
	if !strings.Contains(err.Error(), "outreach.queue.dlq requires") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadSnapshotRejectsBadLogSink(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(ingestHTTPEnabled, `[log.console]
enabled = true
level = "verbose"`))
	if !strings.Contains(err.Error(), "log.console.level") {
		t.Fatalf("unexpected error %q", err)
	}

	err = loadSnapshotErr(t, joinSections(ingestHTTPEnabled, `[log.file]
enabled = true
level = "info"
format = "json"`))
	if !strings.Contains(err.Error(), "log.file.path") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestLoadSnapshotRejectsBrokenTemplateBody(t *testing.T) {
	t.Parallel()

	err := loadSnapshotErr(t, joinSections(ingestHTTPEnabled, `[[policy.template]]
id = "broken"
type = "payment_issue"
channel = "email"
subject = "Billing"
content = "Hello {{ .Organization"`))
	if !strings.Contains(err.Error(), "policy.template[0].content") {
		t.Fatalf("unexpected error %q", err)
	}
}

func TestFromCLIRequiresExactlyOneSource(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("FromCLI accepted empty source")
	}
	if _, err := FromCLI("a.toml", "confdir"); err == nil {
		t.Fatalf("FromCLI accepted both sources")
	}

	src, err := FromCLI(" a.toml ", "")
	if err != nil {
		t.Fatalf("FromCLI file source: %v", err)
	}
	if src.File != "a.toml" || src.Dir != "" {
		t.Fatalf("unexpected source %+v", src)
	}

	src, err = FromCLI("", "confdir")
	if err != nil {
		t.Fatalf("FromCLI dir source: %v", err)
	}
	if src.Dir != "confdir" || src.File != "" {
		t.Fatalf("unexpected source %+v", src)
	}
}

func TestNormalizeServiceMode(t *testing.T) {
	t.Parallel()

	if got := NormalizeServiceMode(""); got != ServiceModeNATS {
		t.Fatalf("empty mode normalized to %q", got)
	}
	if got := NormalizeServiceMode("  Single "); got != ServiceModeSingle {
		t.Fatalf("mode normalized to %q", got)
	}
	if IsSupportedServiceMode("cluster") {
		t.Fatalf("unsupported mode accepted")
	}
}

func serviceSection(mode string) string {
	if mode == "" {
		return `[service]
name = "health-scorer"`
	}
	return `[service]
name = "health-scorer"
mode = "` + mode + `"`
}

func mustLoadSnapshot(t *testing.T, content string) Config {
	t.Helper()
	cfg, err := loadSnapshotFromContent(t, content)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return cfg
}

func loadSnapshotErr(t *testing.T, content string) error {
	t.Helper()
	_, err := loadSnapshotFromContent(t, content)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	return err
}

func loadSnapshotFromContent(t *testing.T, content string) (Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfigFile(t, path, content)
	return LoadSnapshot(ConfigSource{File: path})
}

func joinSections(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		nonEmpty = append(nonEmpty, trimmed)
	}
	return strings.Join(nonEmpty, "\n\n") + "\n"
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

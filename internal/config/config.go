package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"accounthealth/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen           = ":8080"
	defaultHealthPath           = "/healthz"
	defaultReadyPath            = "/readyz"
	defaultSnapshotPath         = "/snapshots"
	defaultNATSSubject          = "health.snapshots"
	defaultNATSIngestStream     = "HEALTH_SNAPSHOTS"
	defaultNATSIngestConsumer   = "accounthealth-ingest"
	defaultNATSIngestGroup      = "accounthealth-workers"
	defaultNATSIngestWorkers    = 1
	defaultNATSAckWaitSec       = 30
	defaultNATSNackDelayMS      = 1000
	defaultNATSMaxDeliver       = -1
	defaultNATSMaxAckPending    = 2048
	defaultNATSURL              = "nats://127.0.0.1:4222"
	defaultReloadSeconds        = 5
	defaultSweepSeconds         = 3600
	defaultRetentionHours       = 720
	defaultMinRepeatHours       = 24.0
	defaultPublishSubjectPrefix = "health.reports"

	// ServiceModeNATS keeps NATS-backed state/ingest/queue settings.
	ServiceModeNATS = "nats"
	// ServiceModeSingle keeps single-instance mode without NATS dependencies.
	ServiceModeSingle = "single"
)

var (
	legacyMetricArrayPattern              = regexp.MustCompile(`(?m)^\s*\[\[\s*policy\.metric\s*\]\]`)
	unsupportedStatePattern               = regexp.MustCompile(`(?m)^\s*\[\[?\s*state(?:\.[^\]\s]+)*\s*\]\]?`)
	unsupportedIngestNATSFixedKeysPattern = regexp.MustCompile(`(?si)\[\s*ingest\.nats\s*\][^\[]*\b(?:subject|stream|consumer_name|deliver_group)\s*=`)
	unsupportedQueueURLPattern            = regexp.MustCompile(`(?si)\[\s*outreach\.queue\s*\][^\[]*\burl\s*=`)
	unsupportedQueueDLQTablePattern       = regexp.MustCompile(`(?mi)^\s*\[\s*outreach\.queue\.dlq\s*\]`)
)

// Config holds service runtime settings and health scoring policy.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Log      LogConfig      `toml:"log"`
	Ingest   IngestConfig   `toml:"ingest"`
	Outreach OutreachConfig `toml:"outreach"`
	Publish  PublishConfig  `toml:"publish"`
	Policy   Policy         `toml:"policy"`
}

// ServiceConfig contains process-level settings.
// Params: name, runtime mode, and reload/sweep/retention intervals.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name                string `toml:"name"`
	Mode                string `toml:"mode"`
	ReloadEnabled       bool   `toml:"reload_enabled"`
	ReloadIntervalSec   int    `toml:"reload_interval_sec"`
	SweepIntervalSec    int    `toml:"sweep_interval_sec"`
	AlertRetentionHours int    `toml:"alert_retention_hours"`
}

// IngestConfig defines inbound snapshot interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures HTTP snapshot ingestion endpoint.
// Params: enable flag, listen/endpoints, and optional body size limit.
// Returns: HTTP ingest behavior.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	SnapshotPath string `toml:"snapshot_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: connection + worker/ack/redelivery policy; stream routing keys are runtime-fixed.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"-"`
	Stream        string   `toml:"-"`
	ConsumerName  string   `toml:"-"`
	DeliverGroup  string   `toml:"-"`
	Workers       int      `toml:"workers"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// NATSStateConfig contains fixed JetStream KV controls for the alert registry backend.
// Params: URL and bucket names.
// Returns: NATS registry backend options.
type NATSStateConfig struct {
	URL                []string `toml:"url"`
	AlertBucket        string   `toml:"alert_bucket"`
	OutreachBucket     string   `toml:"outreach_bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// DeriveStateNATSConfig builds fixed registry-backend settings from runtime config.
// Params: full runtime configuration snapshot.
// Returns: non-user-overridable NATS registry settings.
func DeriveStateNATSConfig(cfg Config) NATSStateConfig {
	urls := normalizeNATSURLs(cfg.Ingest.NATS.URL)
	if len(urls) == 0 {
		urls = []string{defaultNATSURL}
	}
	return NATSStateConfig{
		URL:                urls,
		AlertBucket:        "alerts",
		OutreachBucket:     "outreach_marks",
		AllowCreateBuckets: true,
	}
}

// OutreachConfig defines outbound outreach behavior.
// Params: repeat window, async queue settings, and webhook transport.
// Returns: outreach controls.
type OutreachConfig struct {
	MinRepeatHours float64       `toml:"min_repeat_hours"`
	Queue          OutreachQueue `toml:"queue"`
	Webhook        WebhookConfig `toml:"webhook"`
}

// OutreachQueue defines asynchronous delivery queue settings.
// Params: enable flag, ack/redelivery policy, and optional fixed DLQ toggle.
// Returns: async outreach pipeline controls.
type OutreachQueue struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"-"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
	DLQ           bool     `toml:"dlq"`
}

// WebhookConfig defines the outbound delivery endpoint for rendered outreach messages.
// Params: URL, method, timeout, optional static headers, and retry policy.
// Returns: webhook sender configuration.
type WebhookConfig struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	TimeoutSec int               `toml:"timeout_sec"`
	Headers    map[string]string `toml:"headers"`
	Retry      NotifyRetry       `toml:"retry"`
}

// NotifyRetry configures outbound delivery retries.
// Params: retry toggle, backoff, attempt limits, and logging.
// Returns: retry policy for outreach deliveries.
type NotifyRetry struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// PublishConfig defines health report publishing over NATS.
// Params: enable flag and subject prefix; connection URL is derived from ingest.nats.url.
// Returns: report publisher configuration.
type PublishConfig struct {
	Enabled       bool     `toml:"enabled"`
	SubjectPrefix string   `toml:"subject_prefix"`
	URL           []string `toml:"-"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SweepInterval returns the outreach sweep period.
// Params: service section from runtime config.
// Returns: ticker duration for the re-match loop.
func SweepInterval(cfg ServiceConfig) time.Duration {
	return time.Duration(cfg.SweepIntervalSec) * time.Second
}

// AlertRetention returns the resolved-alert retention window.
// Params: service section from runtime config.
// Returns: duration after which settled alerts are evicted.
func AlertRetention(cfg ServiceConfig) time.Duration {
	return time.Duration(cfg.AlertRetentionHours) * time.Hour
}

// configMergeHints carries explicit bool-presence markers used for directory overlays.
// Params: sparse fields decoded from one TOML fragment.
// Returns: merge behavior hints for zero-value bool overrides.
type configMergeHints struct {
	Outreach outreachMergeHints `toml:"outreach"`
	Publish  publishMergeHints  `toml:"publish"`
}

// outreachMergeHints tracks explicit bool fields in outreach section.
// Params: sparse outreach values decoded from one TOML fragment.
// Returns: bool-presence markers for merge logic.
type outreachMergeHints struct {
	Queue   queueMergeHints   `toml:"queue"`
	Webhook channelMergeHints `toml:"webhook"`
}

// publishMergeHints tracks explicit bool fields in publish section.
// Params: sparse publish values decoded from one TOML fragment.
// Returns: bool-presence markers for merge logic.
type publishMergeHints struct {
	Enabled *bool `toml:"enabled"`
}

// queueMergeHints tracks explicit bool fields in outreach.queue section.
// Params: sparse queue fields decoded from one TOML fragment.
// Returns: bool-presence markers for queue merge logic.
type queueMergeHints struct {
	Enabled *bool `toml:"enabled"`
	DLQ     *bool `toml:"dlq"`
}

// channelMergeHints tracks explicit enabled flags in transport sections.
// Params: sparse transport fields decoded from one TOML fragment.
// Returns: bool-presence markers for merge logic.
type channelMergeHints struct {
	Enabled *bool `toml:"enabled"`
}

// hasExplicitBool reports whether outreach fragment contains explicit bool keys.
// Params: outreach merge hints from one TOML fragment.
// Returns: true when at least one bool was explicitly set.
func (h outreachMergeHints) hasExplicitBool() bool {
	return h.Queue.Enabled != nil ||
		h.Queue.DLQ != nil ||
		h.Webhook.Enabled != nil
}

// rejectUnsupportedSyntax checks deprecated/forbidden TOML syntax and returns explicit error.
// Params: raw TOML file body.
// Returns: error when unsupported syntax is detected.
func rejectUnsupportedSyntax(body []byte) error {
	if legacyMetricArrayPattern.Match(body) {
		return errors.New("array [[policy.metric]] format is not supported; use [policy.metric.<metric_id>] tables")
	}
	if unsupportedStatePattern.Match(body) {
		return errors.New("state configuration is not supported; registry backend settings are fixed and derived from ingest.nats.url")
	}
	if unsupportedIngestNATSFixedKeysPattern.Match(body) {
		return errors.New("ingest.nats.subject/stream/consumer_name/deliver_group are fixed in runtime and must not be configured")
	}
	if unsupportedQueueURLPattern.Match(body) {
		return errors.New("outreach.queue.url is not supported; outreach queue NATS URL is derived from ingest.nats.url")
	}
	if unsupportedQueueDLQTablePattern.Match(body) {
		return errors.New("[outreach.queue.dlq] section is not supported; use outreach.queue.dlq = true|false in [outreach.queue]")
	}
	return nil
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := rejectUnsupportedSyntax(body); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadFileForMerge reads one TOML file with merge hints.
// Params: file path to config fragment.
// Returns: decoded config plus explicit-bool hints for overlay merge.
func loadFileForMerge(path string) (Config, configMergeHints, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := rejectUnsupportedSyntax(body); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var hints configMergeHints
	if err := toml.Unmarshal(body, &hints); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode merge hints %q: %w", path, err)
	}
	return cfg, hints, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, hints, err := loadFileForMerge(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment, hints)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config, next fragment, and explicit-bool hints.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config, hints configMergeHints) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if hasIngestConfig(src.Ingest) {
		dst.Ingest = src.Ingest
	}
	if hasOutreachConfig(src.Outreach) || hints.Outreach.hasExplicitBool() {
		mergeOutreachConfig(&dst.Outreach, src.Outreach, hints.Outreach)
	}
	if hasPublishConfig(src.Publish) || hints.Publish.Enabled != nil {
		mergePublishConfig(&dst.Publish, src.Publish, hints.Publish)
	}
	mergePolicyConfig(&dst.Policy, src.Policy)
}

// mergeOutreachConfig overlays outreach fragment into destination preserving existing sibling fields.
// Params: destination outreach config and fragment from one source file.
// Returns: merged outreach configuration side-effect in dst.
func mergeOutreachConfig(dst *OutreachConfig, src OutreachConfig, hints outreachMergeHints) {
	if src.MinRepeatHours != 0 {
		dst.MinRepeatHours = src.MinRepeatHours
	}
	mergeOutreachQueue(&dst.Queue, src.Queue, hints.Queue)
	mergeWebhookConfig(&dst.Webhook, src.Webhook, hints.Webhook)
}

// mergeOutreachQueue overlays async queue config preserving other outreach fields.
// Params: destination queue config and source fragment.
// Returns: merged queue config side-effect in dst.
func mergeOutreachQueue(dst *OutreachQueue, src OutreachQueue, hints queueMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	if src.AckWaitSec != 0 {
		dst.AckWaitSec = src.AckWaitSec
	}
	if src.NackDelayMS != 0 {
		dst.NackDelayMS = src.NackDelayMS
	}
	if src.MaxDeliver != 0 {
		dst.MaxDeliver = src.MaxDeliver
	}
	if src.MaxAckPending != 0 {
		dst.MaxAckPending = src.MaxAckPending
	}
	applyBoolMerge(&dst.DLQ, src.DLQ, hints.DLQ)
}

// mergeWebhookConfig overlays webhook transport config preserving other outreach fields.
// Params: destination webhook config and source fragment.
// Returns: merged webhook configuration side-effect in dst.
func mergeWebhookConfig(dst *WebhookConfig, src WebhookConfig, hints channelMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	if strings.TrimSpace(src.URL) != "" {
		dst.URL = src.URL
	}
	if strings.TrimSpace(src.Method) != "" {
		dst.Method = src.Method
	}
	if src.TimeoutSec != 0 {
		dst.TimeoutSec = src.TimeoutSec
	}
	if len(src.Headers) > 0 {
		if dst.Headers == nil {
			dst.Headers = make(map[string]string, len(src.Headers))
		}
		for key, value := range src.Headers {
			dst.Headers[key] = value
		}
	}
	if src.Retry != (NotifyRetry{}) {
		dst.Retry = src.Retry
	}
}

// mergePublishConfig overlays publish fragment into destination.
// Params: destination publish config, source fragment, and explicit-bool hints.
// Returns: merged publish configuration side-effect in dst.
func mergePublishConfig(dst *PublishConfig, src PublishConfig, hints publishMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	if strings.TrimSpace(src.SubjectPrefix) != "" {
		dst.SubjectPrefix = src.SubjectPrefix
	}
}

// mergePolicyConfig overlays policy fragment into destination per policy key.
// Params: destination policy and source fragment.
// Returns: merged policy side-effect in dst.
func mergePolicyConfig(dst *Policy, src Policy) {
	if src.DeclineRatePerDay != 0 {
		dst.DeclineRatePerDay = src.DeclineRatePerDay
	}
	if len(src.Metric) > 0 {
		if dst.Metric == nil {
			dst.Metric = make(map[string]MetricPolicy, len(src.Metric))
		}
		for id, metric := range src.Metric {
			dst.Metric[id] = metric
		}
	}
	if src.Detect != (DetectPolicy{}) {
		dst.Detect = src.Detect
	}
	if len(src.Threshold) > 0 {
		if dst.Threshold == nil {
			dst.Threshold = make(map[string]ThresholdTriple, len(src.Threshold))
		}
		for id, triple := range src.Threshold {
			dst.Threshold[id] = triple
		}
	}
	if len(src.Template) > 0 {
		dst.Template = append(dst.Template, src.Template...)
	}
}

// applyBoolMerge merges bool with explicit-value awareness for directory overlays.
// Params: destination bool pointer, source decoded bool, and explicit source marker.
// Returns: merged bool side-effect in dst.
func applyBoolMerge(dst *bool, value bool, explicit *bool) {
	if explicit != nil {
		*dst = *explicit
		return
	}
	if value {
		*dst = true
	}
}

// hasOutreachConfig checks whether outreach section contains any explicit values.
// Params: outreach configuration fragment.
// Returns: true when section should be merged into destination snapshot.
func hasOutreachConfig(cfg OutreachConfig) bool {
	if cfg.MinRepeatHours != 0 {
		return true
	}
	if cfg.Queue.Enabled ||
		cfg.Queue.AckWaitSec != 0 ||
		cfg.Queue.NackDelayMS != 0 ||
		cfg.Queue.MaxDeliver != 0 ||
		cfg.Queue.MaxAckPending != 0 ||
		cfg.Queue.DLQ {
		return true
	}
	return cfg.Webhook.Enabled ||
		strings.TrimSpace(cfg.Webhook.URL) != "" ||
		strings.TrimSpace(cfg.Webhook.Method) != "" ||
		cfg.Webhook.TimeoutSec != 0 ||
		len(cfg.Webhook.Headers) > 0 ||
		cfg.Webhook.Retry != (NotifyRetry{})
}

// hasPublishConfig checks whether publish section contains explicit values.
// Params: publish configuration fragment.
// Returns: true when section should be merged.
func hasPublishConfig(cfg PublishConfig) bool {
	return cfg.Enabled || strings.TrimSpace(cfg.SubjectPrefix) != ""
}

// hasIngestConfig reports whether ingest section has explicit values.
// Params: ingest configuration fragment.
// Returns: true when section should be merged into destination snapshot.
func hasIngestConfig(cfg IngestConfig) bool {
	return hasHTTPIngestConfig(cfg.HTTP) || hasNATSIngestConfig(cfg.NATS)
}

// hasHTTPIngestConfig reports whether HTTP ingest section has explicit values.
// Params: HTTP ingest configuration fragment.
// Returns: true when section should be merged.
func hasHTTPIngestConfig(cfg HTTPIngestConfig) bool {
	return cfg.Enabled ||
		strings.TrimSpace(cfg.Listen) != "" ||
		strings.TrimSpace(cfg.HealthPath) != "" ||
		strings.TrimSpace(cfg.ReadyPath) != "" ||
		strings.TrimSpace(cfg.SnapshotPath) != "" ||
		cfg.MaxBodyBytes != 0
}

// hasNATSIngestConfig reports whether NATS ingest section has explicit values.
// Params: NATS ingest configuration fragment.
// Returns: true when section should be merged.
func hasNATSIngestConfig(cfg NATSIngestConfig) bool {
	return cfg.Enabled ||
		len(cfg.URL) > 0 ||
		cfg.Workers != 0 ||
		cfg.AckWaitSec != 0 ||
		cfg.NackDelayMS != 0 ||
		cfg.MaxDeliver != 0 ||
		cfg.MaxAckPending != 0
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = "accounthealth"
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)
	if cfg.Service.ReloadIntervalSec <= 0 {
		cfg.Service.ReloadIntervalSec = defaultReloadSeconds
	}
	if cfg.Service.SweepIntervalSec <= 0 {
		cfg.Service.SweepIntervalSec = defaultSweepSeconds
	}
	if cfg.Service.AlertRetentionHours <= 0 {
		cfg.Service.AlertRetentionHours = defaultRetentionHours
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.Ingest.HTTP.Listen) == "" {
		cfg.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.HealthPath) == "" {
		cfg.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.ReadyPath) == "" {
		cfg.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.SnapshotPath) == "" {
		cfg.Ingest.HTTP.SnapshotPath = defaultSnapshotPath
	}
	if cfg.Ingest.HTTP.MaxBodyBytes <= 0 {
		cfg.Ingest.HTTP.MaxBodyBytes = 2 << 20
	}
	if cfg.Service.Mode == ServiceModeSingle {
		// Single mode always disables NATS-dependent paths regardless of user flags.
		cfg.Ingest.NATS.Enabled = false
		cfg.Outreach.Queue.Enabled = false
		cfg.Outreach.Queue.DLQ = false
		cfg.Publish.Enabled = false
	} else {
		cfg.Ingest.NATS.URL = normalizeNATSURLs(cfg.Ingest.NATS.URL)
		if len(cfg.Ingest.NATS.URL) == 0 {
			cfg.Ingest.NATS.URL = []string{defaultNATSURL}
		}
		cfg.Ingest.NATS.Subject = defaultNATSSubject
		cfg.Ingest.NATS.Stream = defaultNATSIngestStream
		cfg.Ingest.NATS.ConsumerName = defaultNATSIngestConsumer
		cfg.Ingest.NATS.DeliverGroup = defaultNATSIngestGroup
		if cfg.Ingest.NATS.Workers == 0 {
			cfg.Ingest.NATS.Workers = defaultNATSIngestWorkers
		}
		if cfg.Ingest.NATS.AckWaitSec <= 0 {
			cfg.Ingest.NATS.AckWaitSec = defaultNATSAckWaitSec
		}
		if cfg.Ingest.NATS.NackDelayMS < 0 {
			cfg.Ingest.NATS.NackDelayMS = 0
		}
		if cfg.Ingest.NATS.NackDelayMS == 0 {
			cfg.Ingest.NATS.NackDelayMS = defaultNATSNackDelayMS
		}
		if cfg.Ingest.NATS.MaxDeliver == 0 {
			cfg.Ingest.NATS.MaxDeliver = defaultNATSMaxDeliver
		}
		if cfg.Ingest.NATS.MaxAckPending <= 0 {
			cfg.Ingest.NATS.MaxAckPending = defaultNATSMaxAckPending
		}
		if !cfg.Ingest.HTTP.Enabled && !cfg.Ingest.NATS.Enabled {
			cfg.Ingest.HTTP.Enabled = true
		}
	}

	if cfg.Outreach.MinRepeatHours <= 0 {
		cfg.Outreach.MinRepeatHours = defaultMinRepeatHours
	}
	if cfg.Service.Mode == ServiceModeNATS {
		// Queue and publisher use the same NATS URL list as ingest in multi-instance mode.
		cfg.Outreach.Queue.URL = append([]string(nil), cfg.Ingest.NATS.URL...)
		cfg.Publish.URL = append([]string(nil), cfg.Ingest.NATS.URL...)
		if cfg.Outreach.Queue.AckWaitSec <= 0 {
			cfg.Outreach.Queue.AckWaitSec = defaultNATSAckWaitSec
		}
		if cfg.Outreach.Queue.NackDelayMS < 0 {
			cfg.Outreach.Queue.NackDelayMS = 0
		}
		if cfg.Outreach.Queue.NackDelayMS == 0 {
			cfg.Outreach.Queue.NackDelayMS = defaultNATSNackDelayMS
		}
		if cfg.Outreach.Queue.MaxDeliver == 0 {
			cfg.Outreach.Queue.MaxDeliver = defaultNATSMaxDeliver
		}
		if cfg.Outreach.Queue.MaxAckPending <= 0 {
			cfg.Outreach.Queue.MaxAckPending = defaultNATSMaxAckPending
		}
	} else {
		cfg.Outreach.Queue.URL = nil
		cfg.Publish.URL = nil
	}
	if cfg.Outreach.Webhook.Method == "" {
		cfg.Outreach.Webhook.Method = "POST"
	}
	if cfg.Outreach.Webhook.TimeoutSec <= 0 {
		cfg.Outreach.Webhook.TimeoutSec = 10
	}
	fillNotifyRetryDefaults(&cfg.Outreach.Webhook.Retry)

	if strings.TrimSpace(cfg.Publish.SubjectPrefix) == "" {
		cfg.Publish.SubjectPrefix = defaultPublishSubjectPrefix
	}

	applyPolicyDefaults(&cfg.Policy)
}

// fillNotifyRetryDefaults normalizes retry policy fields for the webhook transport.
// Params: retry policy pointer.
// Returns: policy defaults applied in place.
func fillNotifyRetryDefaults(retry *NotifyRetry) {
	if retry == nil {
		return
	}
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 60000
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first validation error with field path.
func validateConfig(cfg Config) error {
	mode := NormalizeServiceMode(cfg.Service.Mode)
	if !IsSupportedServiceMode(mode) {
		return fmt.Errorf("service.mode has unsupported value %q", cfg.Service.Mode)
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.Listen) == "" {
		return errors.New("ingest.http.listen is required")
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.HealthPath) == "" {
		return errors.New("ingest.http.health_path is required")
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.ReadyPath) == "" {
		return errors.New("ingest.http.ready_path is required")
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.SnapshotPath) == "" {
		return errors.New("ingest.http.snapshot_path is required")
	}
	if mode == ServiceModeSingle {
		if !cfg.Ingest.HTTP.Enabled {
			return errors.New("ingest.http.enabled must be true when service.mode=single")
		}
	}
	if mode == ServiceModeNATS {
		if len(cfg.Ingest.NATS.URL) == 0 {
			return errors.New("ingest.nats.url is required")
		}
		for i, url := range cfg.Ingest.NATS.URL {
			if strings.TrimSpace(url) == "" {
				return fmt.Errorf("ingest.nats.url[%d] is empty", i)
			}
		}
		if cfg.Ingest.NATS.Enabled {
			if cfg.Ingest.NATS.Workers <= 0 {
				return errors.New("ingest.nats.workers must be >0 when ingest.nats.enabled=true")
			}
			if cfg.Ingest.NATS.AckWaitSec <= 0 {
				return errors.New("ingest.nats.ack_wait_sec must be >0 when ingest.nats.enabled=true")
			}
			if cfg.Ingest.NATS.NackDelayMS < 0 {
				return errors.New("ingest.nats.nack_delay_ms must be >=0")
			}
			if cfg.Ingest.NATS.MaxDeliver == 0 || cfg.Ingest.NATS.MaxDeliver < -1 {
				return errors.New("ingest.nats.max_deliver must be -1 or >0")
			}
			if cfg.Ingest.NATS.MaxAckPending <= 0 {
				return errors.New("ingest.nats.max_ack_pending must be >0 when ingest.nats.enabled=true")
			}
		}
	}

	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if cfg.Outreach.Webhook.Enabled && strings.TrimSpace(cfg.Outreach.Webhook.URL) == "" {
		return errors.New("outreach.webhook.url is required when outreach.webhook.enabled=true")
	}
	if cfg.Outreach.Queue.Enabled {
		if cfg.Outreach.Queue.AckWaitSec <= 0 {
			return errors.New("outreach.queue.ack_wait_sec must be >0 when outreach.queue.enabled=true")
		}
		if cfg.Outreach.Queue.NackDelayMS < 0 {
			return errors.New("outreach.queue.nack_delay_ms must be >=0")
		}
		if cfg.Outreach.Queue.MaxDeliver == 0 || cfg.Outreach.Queue.MaxDeliver < -1 {
			return errors.New("outreach.queue.max_deliver must be -1 or >0")
		}
		if cfg.Outreach.Queue.MaxAckPending <= 0 {
			return errors.New("outreach.queue.max_ack_pending must be >0 when outreach.queue.enabled=true")
		}
	}
	if cfg.Outreach.Queue.DLQ && !cfg.Outreach.Queue.Enabled {
		return errors.New("outreach.queue.dlq requires outreach.queue.enabled=true")
	}

	for i, template := range cfg.Policy.Template {
		if err := validateMessageTemplate(fmt.Sprintf("policy.template[%d].content", i), template.Content); err != nil {
			return err
		}
		if strings.TrimSpace(template.Subject) != "" {
			if err := validateMessageTemplate(fmt.Sprintf("policy.template[%d].subject", i), template.Subject); err != nil {
				return err
			}
		}
	}

	return validatePolicy(cfg.Policy)
}

// normalizeNATSURLs trims spaces around each configured NATS URL.
// Params: raw URL list from config.
// Returns: normalized URL list preserving element count for validation.
func normalizeNATSURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = strings.TrimSpace(urls[i])
	}
	return out
}

// NormalizeServiceMode canonicalizes service mode and applies default.
// Params: raw mode value from config.
// Returns: normalized mode (`nats` by default).
func NormalizeServiceMode(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return ServiceModeNATS
	}
	return normalized
}

// IsSupportedServiceMode reports whether mode value is supported.
// Params: normalized mode value.
// Returns: true for known modes.
func IsSupportedServiceMode(mode string) bool {
	switch NormalizeServiceMode(mode) {
	case ServiceModeNATS, ServiceModeSingle:
		return true
	default:
		return false
	}
}

// validateMessageTemplate parses one text template and checks it is non-empty.
// Params: field path and template body.
// Returns: parse/empty error.
func validateMessageTemplate(path, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("%s is required", path)
	}
	if _, err := templatefmt.ParseOutreachTemplate(path, trimmed); err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error", "panic":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"accounthealth/internal/clock"
	"accounthealth/internal/config"
	"accounthealth/internal/domain"
	"accounthealth/internal/engine"
	"accounthealth/internal/outreach"
	"accounthealth/internal/publish"
	"accounthealth/internal/state"
)

// Manager coordinates snapshot evaluation, alert registry, and outreach.
// Params: runtime config, scoring engines, state backend, outreach transports, and clock.
// Returns: snapshot sink and periodic sweep entrypoint.
type Manager struct {
	mu         sync.RWMutex
	cfg        config.Config
	logger     *slog.Logger
	store      state.Store
	scorer     *engine.Scorer
	detector   *engine.Detector
	matcher    *engine.TemplateMatcher
	predictor  *engine.Predictor
	summarizer *engine.Summarizer
	renderer   *outreach.Renderer
	producer   outreach.Producer
	sender     outreach.Sender
	publisher  publish.Publisher
	clock      clock.Clock

	orgMu     sync.Mutex
	orgLocks  map[string]*sync.Mutex
	orgStates map[string]orgRuntime
}

// orgRuntime caches the latest evaluation outcome needed by the sweep pass.
// Params: status/tier snapshot and evaluation time.
// Returns: sweep-side template matching context.
type orgRuntime struct {
	status      domain.HealthStatus
	tier        domain.TierLevel
	score       int
	evaluatedAt time.Time
}

// engineSet groups policy-derived evaluators swapped together on reload.
// Params: scorer, detector, matcher, predictor, summarizer, renderer.
// Returns: consistent engine snapshot for one evaluation.
type engineSet struct {
	scorer     *engine.Scorer
	detector   *engine.Detector
	matcher    *engine.TemplateMatcher
	predictor  *engine.Predictor
	summarizer *engine.Summarizer
	renderer   *outreach.Renderer
}

// NewManager creates manager with initial configuration.
// Params: initial config, logger, state store, report publisher, and clock.
// Returns: initialized manager.
func NewManager(cfg config.Config, logger *slog.Logger, store state.Store, publisher publish.Publisher, clk clock.Clock) *Manager {
	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		publisher: publisher,
		clock:     clk,
		orgLocks:  make(map[string]*sync.Mutex),
		orgStates: make(map[string]orgRuntime),
	}
	m.rebuildEnginesLocked(cfg)
	return m
}

// rebuildEnginesLocked replaces policy-derived evaluators from config snapshot.
// Params: validated config; caller must hold write lock or own the manager exclusively.
// Returns: engines swapped in place.
func (m *Manager) rebuildEnginesLocked(cfg config.Config) {
	m.scorer = engine.NewScorer(cfg.Policy, m.clock)
	m.detector = engine.NewDetector(cfg.Policy.Detect, m.clock)
	m.matcher = engine.NewTemplateMatcher(cfg.Policy.Template)
	m.predictor = engine.NewPredictor(cfg.Policy)
	m.summarizer = engine.NewSummarizer(cfg.Policy)
	m.renderer = outreach.NewRenderer(cfg.Policy.Template)
}

// Push processes one incoming snapshot from ingest interfaces.
// Params: validated organization snapshot.
// Returns: processing error when backend operation fails.
func (m *Manager) Push(snapshot domain.Snapshot) error {
	_, err := m.EvaluateSnapshot(context.Background(), snapshot)
	return err
}

// PushBatch processes batch of incoming snapshots from ingest interfaces.
// Params: validated snapshot slice.
// Returns: first processing error.
func (m *Manager) PushBatch(snapshots []domain.Snapshot) error {
	ctx := context.Background()
	for _, snapshot := range snapshots {
		if _, err := m.EvaluateSnapshot(ctx, snapshot); err != nil {
			return err
		}
	}
	return nil
}

// EvaluateSnapshot runs the full scoring/detection/outreach pipeline for one snapshot.
// Params: context and validated snapshot payload.
// Returns: assembled health report or first backend error.
func (m *Manager) EvaluateSnapshot(ctx context.Context, snapshot domain.Snapshot) (domain.HealthReport, error) {
	orgLock := m.lockOrganization(snapshot.OrganizationID)
	defer orgLock.Unlock()

	now := m.clock.Now()
	engines := m.engineSnapshot()

	score := engines.scorer.Calculate(snapshot)
	detected := engines.detector.Detect(snapshot)

	current, err := m.reconcileAlerts(ctx, snapshot.OrganizationID, detected, now)
	if err != nil {
		return domain.HealthReport{}, err
	}

	for i := range current {
		if current[i].Status != domain.AlertStatusActive {
			continue
		}
		hoursSince := now.Sub(current[i].CreatedAt).Hours()
		if err := m.attemptOutreach(ctx, engines, &current[i], score.Status, snapshot.Tier, score.OverallScore, hoursSince, now); err != nil {
			return domain.HealthReport{}, err
		}
	}

	report := domain.HealthReport{
		OrganizationID: snapshot.OrganizationID,
		Tier:           snapshot.Tier,
		Score:          score,
		Alerts:         current,
		Predictions:    engines.predictor.Predict(score.Metrics),
		Summary:        engines.summarizer.Summarize(score),
		EvaluatedAt:    now,
	}

	m.rememberOrganization(snapshot.OrganizationID, orgRuntime{
		status:      score.Status,
		tier:        snapshot.Tier,
		score:       score.OverallScore,
		evaluatedAt: now,
	})

	if publisher := m.publisherSnapshot(); publisher != nil {
		if err := publisher.Publish(ctx, report); err != nil {
			m.logger.Error("report publish failed", "organization_id", snapshot.OrganizationID, "error", err.Error())
		}
	}

	return report, nil
}

// reconcileAlerts merges detected alerts into the registry and resolves cleared ones.
// Params: organization id, freshly detected alerts, and evaluation time.
// Returns: current persisted alerts for the organization or backend error.
func (m *Manager) reconcileAlerts(ctx context.Context, organizationID string, detected []domain.HealthAlert, now time.Time) ([]domain.HealthAlert, error) {
	current := make([]domain.HealthAlert, 0, len(detected))
	detectedSet := make(map[string]struct{}, len(detected))

	for _, alert := range detected {
		fingerprint := alert.Fingerprint()
		detectedSet[fingerprint] = struct{}{}

		stored, revision, err := m.store.GetAlert(ctx, fingerprint)
		if err != nil {
			if !errors.Is(err, state.ErrNotFound) {
				return nil, fmt.Errorf("get alert %s: %w", fingerprint, err)
			}
			if _, putErr := m.store.PutAlert(ctx, fingerprint, alert); putErr != nil {
				return nil, fmt.Errorf("put alert %s: %w", fingerprint, putErr)
			}
			current = append(current, alert)
			continue
		}

		if stored.Status == domain.AlertStatusResolved || stored.Status == domain.AlertStatusDismissed {
			// Condition re-fired after a terminal state: start a fresh lifecycle.
			if _, updateErr := m.store.UpdateAlert(ctx, fingerprint, revision, alert); updateErr != nil {
				if !errors.Is(updateErr, state.ErrConflict) {
					return nil, fmt.Errorf("replace alert %s: %w", fingerprint, updateErr)
				}
				// Another instance won the replace; report its card.
				latest, _, getErr := m.store.GetAlert(ctx, fingerprint)
				if getErr != nil && !errors.Is(getErr, state.ErrNotFound) {
					return nil, fmt.Errorf("get alert %s: %w", fingerprint, getErr)
				}
				if getErr == nil {
					alert = latest
				}
			}
			current = append(current, alert)
			continue
		}

		stored.Severity = alert.Severity
		stored.Title = alert.Title
		stored.Description = alert.Description
		stored.Recommendation = alert.Recommendation
		if _, updateErr := m.store.UpdateAlert(ctx, fingerprint, revision, stored); updateErr != nil && !errors.Is(updateErr, state.ErrConflict) {
			return nil, fmt.Errorf("update alert %s: %w", fingerprint, updateErr)
		}
		current = append(current, stored)
	}

	fingerprints, err := m.store.ListFingerprintsByOrganization(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list alerts for %s: %w", organizationID, err)
	}
	for _, fingerprint := range fingerprints {
		if _, ok := detectedSet[fingerprint]; ok {
			continue
		}
		stored, revision, err := m.store.GetAlert(ctx, fingerprint)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get alert %s: %w", fingerprint, err)
		}
		if stored.Status != domain.AlertStatusActive && stored.Status != domain.AlertStatusAcknowledged {
			continue
		}
		resolvedAt := now
		stored.Status = domain.AlertStatusResolved
		stored.ResolvedAt = &resolvedAt
		if _, updateErr := m.store.UpdateAlert(ctx, fingerprint, revision, stored); updateErr != nil && !errors.Is(updateErr, state.ErrConflict) {
			return nil, fmt.Errorf("resolve alert %s: %w", fingerprint, updateErr)
		}
		m.logger.Info("alert resolved", "organization_id", organizationID, "fingerprint", fingerprint)
	}

	return current, nil
}

// attemptOutreach selects, renders, and dispatches outreach for one active alert.
// Params: engine snapshot, mutable alert, current status/tier, alert age in hours, and now.
// Returns: backend error; silent no-op when suppressed or no template matches.
func (m *Manager) attemptOutreach(
	ctx context.Context,
	engines engineSet,
	alert *domain.HealthAlert,
	status domain.HealthStatus,
	tier domain.TierLevel,
	overallScore int,
	hoursSinceAlert float64,
	now time.Time,
) error {
	producer := m.producerSnapshot()
	sender := m.senderSnapshot()
	if producer == nil && sender == nil {
		return nil
	}

	fingerprint := alert.Fingerprint()
	marked, err := m.store.HasOutreachMark(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("check outreach mark %s: %w", fingerprint, err)
	}
	if marked {
		return nil
	}

	template, ok := engines.matcher.Select(*alert, status, tier, hoursSinceAlert)
	if !ok {
		return nil
	}

	subject, body, err := engines.renderer.Render(template.ID, outreach.TemplateData{
		OrganizationID:   alert.OrganizationID,
		Tier:             string(tier),
		HealthStatus:     string(status),
		Score:            float64(overallScore),
		AlertTitle:       alert.Title,
		AlertDescription: alert.Description,
		Recommendation:   alert.Recommendation,
		Severity:         string(alert.Severity),
		MetricID:         alert.MetricID,
	})
	if err != nil {
		m.logger.Error("outreach render failed", "template_id", template.ID, "fingerprint", fingerprint, "error", err.Error())
		return nil
	}

	attempt := domain.OutreachAttempt{
		ID:         uuid.NewString(),
		Channel:    template.Channel,
		TemplateID: template.ID,
		SentAt:     now,
		Status:     domain.AttemptStatusPending,
	}
	message := outreach.Message{
		OrganizationID: alert.OrganizationID,
		Tier:           tier,
		AlertID:        alert.ID,
		AlertType:      alert.Type,
		Severity:       alert.Severity,
		HealthStatus:   status,
		TemplateID:     template.ID,
		Channel:        template.Channel,
		Subject:        subject,
		Body:           body,
		CreatedAt:      now,
	}

	if producer != nil {
		alert.OutreachAttempts = append(alert.OutreachAttempts, attempt)
		if err := m.persistAttempt(ctx, fingerprint, attempt); err != nil {
			return err
		}
		job := outreach.Job{
			ID:          outreach.BuildJobID(fingerprint, template.ID, attempt.ID, now),
			Fingerprint: fingerprint,
			AttemptID:   attempt.ID,
			Message:     message,
			CreatedAt:   now,
		}
		if err := producer.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue outreach %s: %w", fingerprint, err)
		}
		return m.markOutreach(ctx, fingerprint, now)
	}

	sendErr := sender.Send(ctx, message)
	switch {
	case sendErr == nil:
		attempt.Status = domain.AttemptStatusSent
	case outreach.IsPermanent(sendErr):
		attempt.Status = domain.AttemptStatusFailed
		attempt.Response = sendErr.Error()
		m.logger.Warn("outreach dropped on permanent error", "fingerprint", fingerprint, "error", sendErr.Error())
	default:
		return fmt.Errorf("send outreach %s: %w", fingerprint, sendErr)
	}
	alert.OutreachAttempts = append(alert.OutreachAttempts, attempt)
	if err := m.persistAttempt(ctx, fingerprint, attempt); err != nil {
		return err
	}
	return m.markOutreach(ctx, fingerprint, now)
}

// markOutreach records repeat-suppression mark scoped by configured window.
// Params: alert fingerprint and dispatch time.
// Returns: backend error.
func (m *Manager) markOutreach(ctx context.Context, fingerprint string, now time.Time) error {
	if err := m.store.MarkOutreach(ctx, fingerprint, now, m.minRepeat()); err != nil {
		return fmt.Errorf("mark outreach %s: %w", fingerprint, err)
	}
	return nil
}

// persistAttempt appends one outreach attempt to the stored alert with CAS retries.
// Params: alert fingerprint and attempt record.
// Returns: persistence error after conflict retries are exhausted.
func (m *Manager) persistAttempt(ctx context.Context, fingerprint string, attempt domain.OutreachAttempt) error {
	for retry := 0; retry < 3; retry++ {
		stored, revision, err := m.store.GetAlert(ctx, fingerprint)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return nil
			}
			return err
		}
		replaced := false
		for i := range stored.OutreachAttempts {
			if stored.OutreachAttempts[i].ID == attempt.ID {
				stored.OutreachAttempts[i] = attempt
				replaced = true
				break
			}
		}
		if !replaced {
			stored.OutreachAttempts = append(stored.OutreachAttempts, attempt)
		}
		if _, err := m.store.UpdateAlert(ctx, fingerprint, revision, stored); err != nil {
			if errors.Is(err, state.ErrConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("persist attempt conflict retries exceeded for %s", fingerprint)
}

// ProcessQueuedOutreach delivers one queued outreach job via configured sender.
// Params: queued delivery job produced by manager enqueue path.
// Returns: delivery error for worker NAK/redelivery.
func (m *Manager) ProcessQueuedOutreach(ctx context.Context, job outreach.Job) error {
	sender := m.senderSnapshot()
	if sender == nil {
		return outreach.MarkPermanent(errors.New("no outreach sender configured"))
	}
	if err := sender.Send(ctx, job.Message); err != nil {
		if outreach.IsPermanent(err) {
			m.finalizeAttempt(ctx, job.Fingerprint, job.AttemptID, domain.AttemptStatusFailed, err.Error())
		}
		return err
	}
	m.finalizeAttempt(ctx, job.Fingerprint, job.AttemptID, domain.AttemptStatusSent, "")
	return nil
}

// finalizeAttempt advances persisted attempt status after delivery outcome.
// Params: fingerprint, attempt id, terminal status, and optional response text.
// Returns: none; persistence failures are logged only.
func (m *Manager) finalizeAttempt(ctx context.Context, fingerprint, attemptID string, status domain.AttemptStatus, response string) {
	for retry := 0; retry < 3; retry++ {
		stored, revision, err := m.store.GetAlert(ctx, fingerprint)
		if err != nil {
			if !errors.Is(err, state.ErrNotFound) {
				m.logger.Warn("attempt status load failed", "fingerprint", fingerprint, "error", err.Error())
			}
			return
		}
		updated := false
		for i := range stored.OutreachAttempts {
			if stored.OutreachAttempts[i].ID != attemptID {
				continue
			}
			stored.OutreachAttempts[i].Status = status
			stored.OutreachAttempts[i].Response = response
			updated = true
			break
		}
		if !updated {
			return
		}
		if _, err := m.store.UpdateAlert(ctx, fingerprint, revision, stored); err != nil {
			if errors.Is(err, state.ErrConflict) {
				continue
			}
			m.logger.Warn("attempt status update failed", "fingerprint", fingerprint, "error", err.Error())
			return
		}
		return
	}
	m.logger.Warn("attempt status conflict retries exceeded", "fingerprint", fingerprint, "attempt_id", attemptID)
}

// Sweep evicts expired resolved alerts and retries delayed outreach windows.
// Params: context for backend operations.
// Returns: first backend error from registry scan.
func (m *Manager) Sweep(ctx context.Context) error {
	now := m.clock.Now()
	retention := config.AlertRetention(m.serviceConfig())
	engines := m.engineSnapshot()

	fingerprints, err := m.store.ListFingerprints(ctx)
	if err != nil {
		return fmt.Errorf("list fingerprints: %w", err)
	}

	for _, fingerprint := range fingerprints {
		alert, _, err := m.store.GetAlert(ctx, fingerprint)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				continue
			}
			return fmt.Errorf("get alert %s: %w", fingerprint, err)
		}

		switch alert.Status {
		case domain.AlertStatusResolved, domain.AlertStatusDismissed:
			if retention <= 0 {
				continue
			}
			closedAt := alert.CreatedAt
			if alert.ResolvedAt != nil {
				closedAt = *alert.ResolvedAt
			}
			if now.Sub(closedAt) < retention {
				continue
			}
			if err := m.store.DeleteAlert(ctx, fingerprint); err != nil {
				return fmt.Errorf("evict alert %s: %w", fingerprint, err)
			}
			m.logger.Info("resolved alert evicted", "fingerprint", fingerprint)
		case domain.AlertStatusActive:
			runtime, ok := m.organizationRuntime(alert.OrganizationID)
			if !ok {
				continue
			}
			orgLock := m.lockOrganization(alert.OrganizationID)
			hoursSince := now.Sub(alert.CreatedAt).Hours()
			err := m.attemptOutreach(ctx, engines, &alert, runtime.status, runtime.tier, runtime.score, hoursSince, now)
			orgLock.Unlock()
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// ApplyConfig atomically replaces active config and rebuilds policy engines.
// Params: validated new config snapshot.
// Returns: none; evaluation in flight keeps the previous engine snapshot.
func (m *Manager) ApplyConfig(cfg config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.rebuildEnginesLocked(cfg)
}

// SetQueueProducer replaces runtime outreach queue producer.
// Params: queue producer built from active outreach config.
// Returns: producer reference swapped atomically.
func (m *Manager) SetQueueProducer(producer outreach.Producer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.producer = producer
}

// SetSender replaces runtime outreach sender.
// Params: sender built from active webhook config.
// Returns: sender reference swapped atomically.
func (m *Manager) SetSender(sender outreach.Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sender = sender
}

// SetPublisher replaces runtime report publisher.
// Params: publisher built from active publish config.
// Returns: publisher reference swapped atomically.
func (m *Manager) SetPublisher(publisher publish.Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = publisher
}

// engineSnapshot returns consistent evaluator set under read lock.
// Params: none.
// Returns: current engine references.
func (m *Manager) engineSnapshot() engineSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return engineSet{
		scorer:     m.scorer,
		detector:   m.detector,
		matcher:    m.matcher,
		predictor:  m.predictor,
		summarizer: m.summarizer,
		renderer:   m.renderer,
	}
}

// producerSnapshot returns current queue producer pointer under read lock.
// Params: none.
// Returns: queue producer reference or nil.
func (m *Manager) producerSnapshot() outreach.Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.producer
}

// senderSnapshot returns current sender pointer under read lock.
// Params: none.
// Returns: sender reference or nil.
func (m *Manager) senderSnapshot() outreach.Sender {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sender
}

// publisherSnapshot returns current publisher pointer under read lock.
// Params: none.
// Returns: publisher reference or nil.
func (m *Manager) publisherSnapshot() publish.Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publisher
}

// serviceConfig returns active service section under read lock.
// Params: none.
// Returns: service config copy.
func (m *Manager) serviceConfig() config.ServiceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Service
}

// minRepeat resolves the outreach repeat-suppression window.
// Params: none.
// Returns: suppression duration from active config.
func (m *Manager) minRepeat() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.cfg.Outreach.MinRepeatHours * float64(time.Hour))
}

// lockOrganization acquires per-organization evaluation lock.
// Params: organization id.
// Returns: locked mutex; caller must unlock.
func (m *Manager) lockOrganization(organizationID string) *sync.Mutex {
	m.orgMu.Lock()
	lock, ok := m.orgLocks[organizationID]
	if !ok {
		lock = &sync.Mutex{}
		m.orgLocks[organizationID] = lock
	}
	m.orgMu.Unlock()
	lock.Lock()
	return lock
}

// rememberOrganization caches evaluation context for the sweep pass.
// Params: organization id and runtime snapshot.
// Returns: cache updated.
func (m *Manager) rememberOrganization(organizationID string, runtime orgRuntime) {
	m.orgMu.Lock()
	defer m.orgMu.Unlock()
	m.orgStates[organizationID] = runtime
}

// organizationRuntime reads cached evaluation context.
// Params: organization id.
// Returns: runtime snapshot and presence flag.
func (m *Manager) organizationRuntime(organizationID string) (orgRuntime, bool) {
	m.orgMu.Lock()
	defer m.orgMu.Unlock()
	runtime, ok := m.orgStates[organizationID]
	return runtime, ok
}

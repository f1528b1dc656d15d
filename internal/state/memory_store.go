package state

import (
	"context"
	"strings"
	"sync"
	"time"

	"accounthealth/internal/domain"
)

// MemoryStore keeps the alert registry in process memory for single-instance mode.
// Params: in-memory maps for alerts/marks and injected clock.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu     sync.RWMutex
	now    func() time.Time
	alerts map[string]memoryAlert
	marks  map[string]memoryMark
}

type memoryAlert struct {
	alert    domain.HealthAlert
	revision uint64
}

type memoryMark struct {
	expiresAt time.Time
}

// NewMemoryStore creates in-memory registry store.
// Params: now function (defaults to time.Now when nil).
// Returns: initialized in-memory store.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:    now,
		alerts: make(map[string]memoryAlert),
		marks:  make(map[string]memoryMark),
	}
}

// MarkOutreach records one outreach dispatch for repeat suppression.
// Params: alert fingerprint, send time, and suppression TTL.
// Returns: nil (in-memory update).
func (s *MemoryStore) MarkOutreach(_ context.Context, fingerprint string, sentAt time.Time, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = sentAt.Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[fingerprint] = memoryMark{expiresAt: expiresAt}
	return nil
}

// HasOutreachMark reports whether a non-expired outreach mark exists.
// Params: alert fingerprint key.
// Returns: true when mark is present and unexpired.
func (s *MemoryStore) HasOutreachMark(_ context.Context, fingerprint string) (bool, error) {
	s.mu.RLock()
	mark, ok := s.marks[fingerprint]
	if !ok {
		s.mu.RUnlock()
		return false, nil
	}
	expiresAt := mark.expiresAt
	if expiresAt.IsZero() || s.now().Before(expiresAt) {
		s.mu.RUnlock()
		return true, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	mark, ok = s.marks[fingerprint]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	expiresAt = mark.expiresAt
	if expiresAt.IsZero() || s.now().Before(expiresAt) {
		s.mu.Unlock()
		return true, nil
	}
	delete(s.marks, fingerprint)
	s.mu.Unlock()
	return false, nil
}

// GetAlert returns alert payload and revision.
// Params: alert fingerprint key.
// Returns: stored alert, revision, or ErrNotFound.
func (s *MemoryStore) GetAlert(_ context.Context, fingerprint string) (domain.HealthAlert, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.alerts[fingerprint]
	if !ok {
		return domain.HealthAlert{}, 0, ErrNotFound
	}
	return entry.alert, entry.revision, nil
}

// PutAlert writes alert payload unconditionally.
// Params: alert fingerprint key and alert payload.
// Returns: new revision.
func (s *MemoryStore) PutAlert(_ context.Context, fingerprint string, alert domain.HealthAlert) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.alerts[fingerprint].revision + 1
	s.alerts[fingerprint] = memoryAlert{alert: alert, revision: rev}
	return rev, nil
}

// UpdateAlert updates alert payload using expected revision CAS.
// Params: alert fingerprint key, expected revision, and replacement payload.
// Returns: new revision or ErrConflict.
func (s *MemoryStore) UpdateAlert(_ context.Context, fingerprint string, expectedRevision uint64, alert domain.HealthAlert) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.alerts[fingerprint]
	if !ok {
		return 0, ErrNotFound
	}
	if entry.revision != expectedRevision {
		return 0, ErrConflict
	}
	rev := expectedRevision + 1
	s.alerts[fingerprint] = memoryAlert{alert: alert, revision: rev}
	return rev, nil
}

// DeleteAlert deletes alert record and corresponding outreach mark.
// Params: alert fingerprint key.
// Returns: nil (in-memory delete).
func (s *MemoryStore) DeleteAlert(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alerts, fingerprint)
	delete(s.marks, fingerprint)
	return nil
}

// ListFingerprints lists every stored alert fingerprint.
// Params: none.
// Returns: fingerprint keys in arbitrary order.
func (s *MemoryStore) ListFingerprints(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fingerprints := make([]string, 0, len(s.alerts))
	for key := range s.alerts {
		fingerprints = append(fingerprints, key)
	}
	return fingerprints, nil
}

// ListFingerprintsByOrganization lists fingerprints by organization namespace prefix.
// Params: organization id namespace.
// Returns: matching fingerprints.
func (s *MemoryStore) ListFingerprintsByOrganization(_ context.Context, organizationID string) ([]string, error) {
	prefix := "org/" + strings.TrimSpace(organizationID) + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	fingerprints := make([]string, 0)
	for key := range s.alerts {
		if strings.HasPrefix(key, prefix) {
			fingerprints = append(fingerprints, key)
		}
	}
	return fingerprints, nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}

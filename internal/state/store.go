package state

import (
	"context"
	"errors"
	"time"

	"accounthealth/internal/domain"
)

var (
	// ErrNotFound indicates absent fingerprint key.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
)

// Store provides active-alert registry persistence keyed by alert fingerprint.
// Params: CRUD operations for alert records, outreach-repeat marks, and per-organization listing.
// Returns: backend persistence behavior.
type Store interface {
	MarkOutreach(ctx context.Context, fingerprint string, sentAt time.Time, ttl time.Duration) error
	HasOutreachMark(ctx context.Context, fingerprint string) (bool, error)
	GetAlert(ctx context.Context, fingerprint string) (domain.HealthAlert, uint64, error)
	PutAlert(ctx context.Context, fingerprint string, alert domain.HealthAlert) (uint64, error)
	UpdateAlert(ctx context.Context, fingerprint string, expectedRevision uint64, alert domain.HealthAlert) (uint64, error)
	DeleteAlert(ctx context.Context, fingerprint string) error
	ListFingerprints(ctx context.Context) ([]string, error)
	ListFingerprintsByOrganization(ctx context.Context, organizationID string) ([]string, error)
	Close() error
}

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"accounthealth/internal/config"
	"accounthealth/internal/domain"

	"github.com/nats-io/nats.go"
)

// NATSStore persists the alert registry in JetStream KV buckets.
// Params: NATS connection, JetStream context, and KV bucket handles.
// Returns: KV-backed registry store implementation.
type NATSStore struct {
	nc                *nats.Conn
	js                nats.JetStreamContext
	markKV            nats.KeyValue
	alertKV           nats.KeyValue
	settings          config.NATSStateConfig
	markSubjectPrefix string
}

// NewNATSStore creates KV buckets and returns NATS registry backend.
// Params: NATS/JetStream settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStateConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	markKV, err := js.KeyValue(settings.OutreachBucket)
	if err != nil {
		if !settings.AllowCreateBuckets {
			nc.Close()
			return nil, fmt.Errorf("open outreach bucket %q: %w", settings.OutreachBucket, err)
		}
		markKV, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: settings.OutreachBucket,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create outreach bucket %q: %w", settings.OutreachBucket, err)
		}
	}
	if err := enableBucketPerMessageTTL(js, settings.OutreachBucket); err != nil {
		nc.Close()
		return nil, fmt.Errorf("enable per-message ttl on outreach bucket: %w", err)
	}

	alertKV, err := js.KeyValue(settings.AlertBucket)
	if err != nil {
		if !settings.AllowCreateBuckets {
			nc.Close()
			return nil, fmt.Errorf("open alert bucket %q: %w", settings.AlertBucket, err)
		}
		alertKV, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: settings.AlertBucket,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create alert bucket %q: %w", settings.AlertBucket, err)
		}
	}

	return &NATSStore{
		nc:                nc,
		js:                js,
		markKV:            markKV,
		alertKV:           alertKV,
		settings:          settings,
		markSubjectPrefix: "$KV." + settings.OutreachBucket + ".",
	}, nil
}

// enableBucketPerMessageTTL ensures underlying KV stream allows Nats-TTL header.
// Params: JetStream context and KV bucket name.
// Returns: stream update error when config cannot be applied.
func enableBucketPerMessageTTL(js nats.JetStreamContext, bucket string) error {
	streamName := "KV_" + bucket
	info, err := js.StreamInfo(streamName)
	if err != nil {
		return err
	}
	if info.Config.AllowMsgTTL {
		return nil
	}
	cfg := info.Config
	cfg.AllowMsgTTL = true
	if cfg.SubjectDeleteMarkerTTL == 0 {
		cfg.SubjectDeleteMarkerTTL = 5 * time.Minute
	}
	_, err = js.UpdateStream(&cfg)
	return err
}

// MarkOutreach creates or refreshes outreach mark with expiry TTL.
// Params: alert fingerprint key, send timestamp, and suppression TTL.
// Returns: publish error.
func (s *NATSStore) MarkOutreach(_ context.Context, fingerprint string, sentAt time.Time, ttl time.Duration) error {
	ttlMS := ttl.Milliseconds()
	payload := buildMarkPayload(sentAt.UnixMilli(), ttlMS)
	msg := nats.NewMsg(s.markSubjectPrefix + fingerprint)
	msg.Data = payload
	if ttl > 0 {
		msg.Header = nats.Header{
			"Nats-TTL": []string{strconv.FormatInt(ttlMS, 10) + "ms"},
		}
	}
	if _, err := s.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish outreach mark: %w", err)
	}
	return nil
}

// buildMarkPayload encodes lightweight mark metadata without reflective map encoding.
// Params: outreach sent-at unix ms and ttl ms.
// Returns: compact JSON payload for KV value.
func buildMarkPayload(sentAtUnixMS, ttlMS int64) []byte {
	payload := make([]byte, 0, 64)
	payload = append(payload, `{"sent_at_unix_ms":`...)
	payload = strconv.AppendInt(payload, sentAtUnixMS, 10)
	payload = append(payload, `,"ttl_ms":`...)
	payload = strconv.AppendInt(payload, ttlMS, 10)
	payload = append(payload, '}')
	return payload
}

// HasOutreachMark checks whether mark key currently exists.
// Params: alert fingerprint key.
// Returns: true when mark key exists.
func (s *NATSStore) HasOutreachMark(_ context.Context, fingerprint string) (bool, error) {
	if _, err := s.markKV.Get(fingerprint); err != nil {
		if err == nats.ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetAlert reads one alert record and its KV revision.
// Params: alert fingerprint key.
// Returns: alert payload, revision, or ErrNotFound.
func (s *NATSStore) GetAlert(_ context.Context, fingerprint string) (domain.HealthAlert, uint64, error) {
	entry, err := s.alertKV.Get(fingerprint)
	if err != nil {
		if err == nats.ErrKeyNotFound {
			return domain.HealthAlert{}, 0, ErrNotFound
		}
		return domain.HealthAlert{}, 0, fmt.Errorf("get alert: %w", err)
	}

	var alert domain.HealthAlert
	if err := json.Unmarshal(entry.Value(), &alert); err != nil {
		return domain.HealthAlert{}, 0, fmt.Errorf("decode alert: %w", err)
	}
	return alert, entry.Revision(), nil
}

// PutAlert writes alert payload unconditionally.
// Params: alert fingerprint key and alert payload.
// Returns: new KV revision.
func (s *NATSStore) PutAlert(_ context.Context, fingerprint string, alert domain.HealthAlert) (uint64, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("encode alert: %w", err)
	}
	rev, err := s.alertKV.Put(fingerprint, body)
	if err != nil {
		return 0, fmt.Errorf("put alert: %w", err)
	}
	return rev, nil
}

// UpdateAlert updates alert payload using expected revision CAS.
// Params: alert fingerprint key, expected revision, and replacement payload.
// Returns: new KV revision or ErrConflict.
func (s *NATSStore) UpdateAlert(_ context.Context, fingerprint string, expectedRevision uint64, alert domain.HealthAlert) (uint64, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("encode alert: %w", err)
	}
	rev, err := s.alertKV.Update(fingerprint, body, expectedRevision)
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence") {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("update alert: %w", err)
	}
	return rev, nil
}

// DeleteAlert deletes alert record and corresponding outreach mark.
// Params: alert fingerprint key.
// Returns: delete error.
func (s *NATSStore) DeleteAlert(_ context.Context, fingerprint string) error {
	if err := s.alertKV.Delete(fingerprint); err != nil && err != nats.ErrKeyNotFound {
		return fmt.Errorf("delete alert: %w", err)
	}
	if err := s.markKV.Delete(fingerprint); err != nil && err != nats.ErrKeyNotFound {
		return fmt.Errorf("delete outreach mark: %w", err)
	}
	return nil
}

// ListFingerprints lists every key in the alert bucket.
// Params: none.
// Returns: fingerprint keys or empty slice when the bucket is empty.
func (s *NATSStore) ListFingerprints(_ context.Context) ([]string, error) {
	keys, err := s.alertKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// ListFingerprintsByOrganization lists keys by organization namespace prefix.
// Params: organization id namespace.
// Returns: matching fingerprints from alert bucket.
func (s *NATSStore) ListFingerprintsByOrganization(_ context.Context, organizationID string) ([]string, error) {
	keys, err := s.alertKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	prefix := "org/" + strings.TrimSpace(organizationID) + "/"
	fingerprints := make([]string, 0)
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			fingerprints = append(fingerprints, key)
		}
	}
	return fingerprints, nil
}

// Close closes underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

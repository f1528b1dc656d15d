package e2e

import (
	"errors"
	"strings"
	"testing"
	"time"

	"accounthealth/internal/config"
	"accounthealth/internal/state"
	"accounthealth/test/testutil"

	"github.com/nats-io/nats.go"
)

const (
	e2eSnapshotStream = "HEALTH_SNAPSHOTS"
	e2eSnapshotSubj   = "health.snapshots"
	e2eAlertBucket    = "alerts"
	e2eOutreachBucket = "outreach_marks"
)

// startLocalNATSServer starts a local JetStream NATS process for e2e tests.
// Params: testing handle for lifecycle/error reporting.
// Returns: server URL and stop callback.
func startLocalNATSServer(tb testing.TB) (string, func()) {
	return testutil.StartLocalNATSServer(tb)
}

// ensureSnapshotStream creates the JetStream ingest stream if missing.
// Params: test handle, server URL, stream name, and subject.
// Returns: stream exists with required subject.
func ensureSnapshotStream(tb testing.TB, url, streamName, subject string) {
	tb.Helper()

	nc, err := nats.Connect(url)
	if err != nil {
		tb.Fatalf("connect nats: %v", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		tb.Fatalf("jetstream init: %v", err)
	}

	if _, err := js.StreamInfo(streamName); err == nil {
		return
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		tb.Fatalf("stream info failed: %v", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		tb.Fatalf("add stream %q failed: %v", streamName, err)
	}
}

// ensureStateBuckets creates NATS KV buckets used by the alert registry.
// Params: test handle, server URL, alert bucket, and outreach mark bucket names.
// Returns: KV buckets are ready for registry/mark flow.
func ensureStateBuckets(tb testing.TB, url, alertBucket, outreachBucket string) {
	tb.Helper()

	store, err := state.NewNATSStore(config.NATSStateConfig{
		URL:                []string{url},
		AlertBucket:        alertBucket,
		OutreachBucket:     outreachBucket,
		AllowCreateBuckets: true,
	})
	if err != nil {
		tb.Fatalf("prepare state buckets: %v", err)
	}
	_ = store.Close()
}

// publishSnapshot publishes one snapshot payload onto the ingest stream.
// Params: server URL, subject, and snapshot JSON body.
// Returns: error when connect or publish fails.
func publishSnapshot(url, subject, body string) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(subject, []byte(body)); err != nil {
		return err
	}
	return nc.FlushTimeout(2 * time.Second)
}

// waitUntil polls check until it returns true or the timeout expires.
// Params: timeout and condition callback.
// Returns: true when condition held before the deadline.
func waitUntil(timeout time.Duration, check func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

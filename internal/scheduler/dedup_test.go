package scheduler

import (
	"testing"
	"time"
)

func TestTriggerDedupSuppressesInFlight(t *testing.T) {
	d := NewTriggerDedup(60 * time.Second)

	if !d.TryAcquire("automatic|0xpool") {
		t.Fatalf("first acquire should succeed")
	}
	if d.TryAcquire("automatic|0xpool") {
		t.Fatalf("second acquire while in flight should fail")
	}
	// A different key is independent.
	if !d.TryAcquire("automatic|0xother") {
		t.Fatalf("different key should not be suppressed")
	}
}

func TestTriggerDedupTTLAfterRelease(t *testing.T) {
	d := NewTriggerDedup(60 * time.Second)
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	if !d.TryAcquire("k") {
		t.Fatalf("first acquire should succeed")
	}
	d.Release("k")

	// Released but still inside the TTL window.
	now = now.Add(30 * time.Second)
	if d.TryAcquire("k") {
		t.Fatalf("acquire inside the TTL window should fail")
	}

	now = now.Add(31 * time.Second)
	if !d.TryAcquire("k") {
		t.Fatalf("acquire after the TTL window should succeed")
	}
}

// An in-flight key must never be evicted, no matter how long the workflow
// runs.
func TestTriggerDedupKeepsLongRunningInFlight(t *testing.T) {
	d := NewTriggerDedup(60 * time.Second)
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	if !d.TryAcquire("k") {
		t.Fatalf("first acquire should succeed")
	}

	now = now.Add(10 * time.Minute)
	if d.TryAcquire("k") {
		t.Fatalf("acquire of a still-running key should fail even past the TTL")
	}
}

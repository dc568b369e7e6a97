package scheduler

import (
	"sync"
	"time"
)

// TriggerDedup collapses duplicate inbound triggers to a single in-flight
// workflow per key. A second identical request while one is running, or
// within the TTL window after it finished, is dropped (acknowledged but not
// re-executed), never queued. Explicit process-scoped state with TTL
// eviction, injected into the controller.
type TriggerDedup struct {
	ttl time.Duration

	mu       sync.Mutex
	inflight map[string]bool
	lastSeen map[string]time.Time

	now func() time.Time // injectable clock
}

// NewTriggerDedup creates a dedup table with the given suppression window.
func NewTriggerDedup(ttl time.Duration) *TriggerDedup {
	return &TriggerDedup{
		ttl:      ttl,
		inflight: make(map[string]bool),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// TryAcquire reports whether a workflow for the key may start. On success the
// key is marked in flight and must be released when the workflow finishes.
func (d *TriggerDedup) TryAcquire(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictLocked()
	if d.inflight[key] {
		return false
	}
	if seen, ok := d.lastSeen[key]; ok && d.now().Sub(seen) < d.ttl {
		return false
	}
	d.inflight[key] = true
	d.lastSeen[key] = d.now()
	return true
}

// Release marks the key's workflow as finished. The TTL window still applies
// from the acquisition time.
func (d *TriggerDedup) Release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, key)
	d.lastSeen[key] = d.now()
}

func (d *TriggerDedup) evictLocked() {
	cutoff := d.now().Add(-d.ttl)
	for key, seen := range d.lastSeen {
		if !d.inflight[key] && seen.Before(cutoff) {
			delete(d.lastSeen, key)
		}
	}
}

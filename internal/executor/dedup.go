package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aeither/AptosDeFiHub/internal/dex"
	"github.com/aeither/AptosDeFiHub/internal/logger"
)

// ErrDuplicateSubmission is returned when an identical transaction was
// submitted inside the cooldown window. The caller already has (or will get)
// the effect of the first submission.
var ErrDuplicateSubmission = errors.New("identical transaction suppressed by dedup cooldown")

// DedupExecutor suppresses identical transactions submitted within a cooldown
// window, keyed by a signature over (sender, function, arguments). The table
// is explicit process-scoped state with TTL eviction, injected wherever an
// executor is needed rather than held as an ambient singleton.
type DedupExecutor struct {
	inner    dex.TxExecutor
	cooldown time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	lastSub map[string]time.Time

	now func() time.Time // injectable clock
}

// NewDedupExecutor wraps an executor with the cooldown window.
func NewDedupExecutor(inner dex.TxExecutor, cooldown time.Duration) *DedupExecutor {
	return &DedupExecutor{
		inner:    inner,
		cooldown: cooldown,
		logger:   logger.GetForComponent("tx_dedup"),
		lastSub:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Execute forwards to the wrapped executor unless an identical payload was
// submitted within the cooldown window.
func (d *DedupExecutor) Execute(ctx context.Context, payload dex.TxPayload, label string) (dex.TxResult, error) {
	sig := signature(payload)

	d.mu.Lock()
	d.evictLocked()
	if last, ok := d.lastSub[sig]; ok {
		remaining := d.cooldown - d.now().Sub(last)
		d.mu.Unlock()
		d.logger.Warn().
			Str("label", label).
			Str("function", payload.Function).
			Dur("cooldownRemaining", remaining).
			Msg("Suppressing duplicate transaction inside cooldown window")
		return dex.TxResult{}, ErrDuplicateSubmission
	}
	d.lastSub[sig] = d.now()
	d.mu.Unlock()

	result, err := d.inner.Execute(ctx, payload, label)
	if err != nil {
		// A failed submission should not block a corrected retry by the
		// caller, unless the failure happened after the tx may have landed.
		if !errors.Is(err, ErrConfirmationFailed) {
			d.mu.Lock()
			delete(d.lastSub, sig)
			d.mu.Unlock()
		}
		return dex.TxResult{}, err
	}
	return result, nil
}

func (d *DedupExecutor) evictLocked() {
	cutoff := d.now().Add(-d.cooldown)
	for sig, at := range d.lastSub {
		if at.Before(cutoff) {
			delete(d.lastSub, sig)
		}
	}
}

// signature derives the dedup key from everything that makes a transaction
// semantically identical.
func signature(payload dex.TxPayload) string {
	var b strings.Builder
	b.WriteString(payload.Sender)
	b.WriteByte('|')
	b.WriteString(payload.Function)
	for _, ta := range payload.TypeArgs {
		b.WriteByte('|')
		b.WriteString(ta)
	}
	for _, a := range payload.Args {
		b.WriteByte('|')
		b.WriteString(a)
	}
	return b.String()
}

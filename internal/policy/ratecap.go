package policy

import (
	"sync"
	"time"
)

// hourlyWindow tracks auto-approvals inside one sliding hour.
// Reset happens lazily on the first check after the window expires.
type hourlyWindow struct {
	count   int
	resetAt time.Time
}

// capTracker keeps one window per rule id. Counters are process-local
// and best-effort: this is deliberately not a cross-instance limiter.
type capTracker struct {
	mu      sync.Mutex
	windows map[string]*hourlyWindow
}

func newCapTracker() *capTracker {
	return &capTracker{windows: make(map[string]*hourlyWindow)}
}

// allow consumes one auto-approval slot for the rule. A max of zero
// means uncapped. Returns false when the cap for the current hour is
// already exhausted.
func (t *capTracker) allow(ruleID string, max int, now time.Time) bool {
	if max <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[ruleID]
	if !ok || now.After(w.resetAt) {
		w = &hourlyWindow{resetAt: now.Add(time.Hour)}
		t.windows[ruleID] = w
	}
	if w.count >= max {
		return false
	}
	w.count++
	return true
}

// refund returns a slot consumed by allow when the approval could not
// be persisted. A window that has already rolled over is left alone.
func (t *capTracker) refund(ruleID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[ruleID]
	if !ok || now.After(w.resetAt) || w.count == 0 {
		return
	}
	w.count--
}

package executor

import (
	"sync"
	"time"
)

// typeLimiter caps executions per action type inside a rolling hour.
// This is distinct from the policy engine's per-rule auto-approval
// cap: it counts every execution of the type no matter which rule or
// human approved it. Counters are process-local and best-effort.
type typeLimiter struct {
	mu      sync.Mutex
	windows map[string]*typeWindow
}

type typeWindow struct {
	count   int
	resetAt time.Time
}

func newTypeLimiter() *typeLimiter {
	return &typeLimiter{windows: make(map[string]*typeWindow)}
}

// check reports whether another execution fits the window without
// consuming a slot. secondsUntilReset is only meaningful when the
// limit is hit.
func (l *typeLimiter) check(actionType string, max int, now time.Time) (ok bool, secondsUntilReset int64) {
	if max <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[actionType]
	if !exists || now.After(w.resetAt) {
		return true, 0
	}
	if w.count < max {
		return true, 0
	}
	return false, int64(w.resetAt.Sub(now).Seconds()) + 1
}

// consume records one successful execution. Called only after the
// action actually ran, so guardrail vetoes and handler failures never
// eat into the budget.
func (l *typeLimiter) consume(actionType string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[actionType]
	if !exists || now.After(w.resetAt) {
		l.windows[actionType] = &typeWindow{count: 1, resetAt: now.Add(time.Hour)}
		return
	}
	w.count++
}

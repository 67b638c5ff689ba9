package orchestrator

import "sync"

// CleanupGuard wraps a cleanup action that must run at most once but
// on every exit path (normal completion, early abort, interruption).
type CleanupGuard struct {
	once sync.Once
	fn   func()
}

// NewCleanupGuard creates a guard around fn.
func NewCleanupGuard(fn func()) *CleanupGuard {
	return &CleanupGuard{fn: fn}
}

// Run executes the cleanup action if it has not run yet.
func (g *CleanupGuard) Run() {
	if g == nil || g.fn == nil {
		return
	}
	g.once.Do(g.fn)
}

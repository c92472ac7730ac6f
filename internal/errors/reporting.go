package errors

import (
	"sync"
	"sync/atomic"
)

// ErrorReporter receives built errors for out-of-band reporting (telemetry,
// event bus). Implementations must not block.
type ErrorReporter interface {
	ReportError(ee *EnhancedError)
}

var (
	hasActiveReporting atomic.Bool
	reporterMu         sync.RWMutex
	activeReporter     ErrorReporter
)

// SetReporter installs an error reporter. Passing nil disables reporting and
// restores the fast path in Build.
func SetReporter(r ErrorReporter) {
	reporterMu.Lock()
	activeReporter = r
	reporterMu.Unlock()
	hasActiveReporting.Store(r != nil)
}

func reportError(ee *EnhancedError) {
	reporterMu.RLock()
	r := activeReporter
	reporterMu.RUnlock()
	if r == nil || ee.IsReported() {
		return
	}
	r.ReportError(ee)
	ee.MarkReported()
}

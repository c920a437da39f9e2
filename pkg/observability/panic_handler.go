package observability

import (
	"runtime/debug"
)

// RecoverPanic logs a recovered panic with its stack. Call it deferred at the
// top of background goroutines:
//
//	go func() {
//		defer observability.RecoverPanic(logger, "grant cache refresh")
//		...
//	}()
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

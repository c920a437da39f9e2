package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type shutdownHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager stops the HTTP servers and then runs registered hooks in
// reverse registration order, so resources opened first are released last.
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	timeout time.Duration

	mu    sync.Mutex
	hooks []shutdownHook
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		servers: servers,
		timeout: timeout,
	}
}

// Register adds a named hook
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: fn})
}

// Wait blocks until ctx is done or SIGINT/SIGTERM arrives, then shuts down
func (sm *ShutdownManager) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)
	case <-ctx.Done():
		sm.logger.Info("Context cancelled, starting graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	return sm.Shutdown(shutdownCtx)
}

// Shutdown stops servers then runs hooks; every hook runs even if an earlier one fails
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	var errs []error

	for _, srv := range sm.servers {
		if err := srv.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).WithField("addr", srv.Addr).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("server %s: %w", srv.Addr, err))
		}
	}

	sm.mu.Lock()
	hooks := make([]shutdownHook, len(sm.hooks))
	copy(hooks, sm.hooks)
	sm.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("shutdown timeout reached before %s", hook.name))
			break
		}
		if err := hook.fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("hook", hook.name).Error("Shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))
			continue
		}
		sm.logger.WithField("hook", hook.name).Debug("Shutdown hook complete")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}

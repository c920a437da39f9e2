package notify

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/assetvault/pkg/async"
	"github.com/platinummonkey/assetvault/pkg/observability"
)

// DispatcherConfig bounds background delivery
type DispatcherConfig struct {
	Workers int
	Timeout time.Duration // per notification
}

// Dispatcher fans notifications out in the background. Delivery failures are
// logged and counted; they never reach the caller.
type Dispatcher struct {
	notifier Notifier
	workers  int
	timeout  time.Duration
	metrics  *observability.Metrics

	inflight sync.WaitGroup
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(notifier Notifier, cfg DispatcherConfig, metrics *observability.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Dispatcher{
		notifier: notifier,
		workers:  cfg.Workers,
		timeout:  cfg.Timeout,
		metrics:  metrics,
	}
}

// Dispatch delivers notes asynchronously and returns immediately
func (d *Dispatcher) Dispatch(ctx context.Context, notes ...Notification) {
	if d == nil || len(notes) == 0 {
		return
	}

	rounds := (len(notes) + d.workers - 1) / d.workers
	budget := time.Duration(rounds+1) * d.timeout

	d.inflight.Add(1)
	async.SafeGo(ctx, budget, "dispatch notifications", func(ctx context.Context) error {
		defer d.inflight.Done()

		logger := observability.FromContext(ctx)
		async.Batch(ctx, notes, d.workers, "notify", d.timeout, func(ctx context.Context, n Notification) error {
			err := d.notifier.Notify(ctx, n)
			d.metrics.RecordNotification(string(n.Kind), err)
			if err != nil {
				logger.WithError(err).WithFields(map[string]interface{}{
					"recipient_id": n.RecipientID,
					"kind":         string(n.Kind),
					"asset_id":     n.AssetID,
				}).Warn("notification delivery failed")
			}
			return err
		})
		return nil
	})
}

// Wait blocks until in-flight deliveries finish or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// Notifications are sent after a mutation commits and must never fail or slow the
// request that caused them. SafeGo detaches the task from the request's cancellation,
// enforces a timeout and recovers panics. Batch fans a task out over a bounded number
// of goroutines and collects the errors.
//
//	async.SafeGo(ctx, 10*time.Second, "notify", func(ctx context.Context) error {
//		errs := async.Batch(ctx, notes, 4, "notify", 5*time.Second, deliver)
//		return errors.Join(errs...)
//	})
//
// # Related Packages
//
//   - pkg/notify: uses both primitives for post-commit fan-out
//   - pkg/observability: panic and error logging
package async

package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/assetvault/pkg/observability"
)

// SafeGo runs fn in its own goroutine, detached from the caller's cancellation.
//
// The request that triggered the work may finish before fn does, so the task gets a
// fresh deadline of timeout while keeping the parent's values (logger, request ID).
// Panics are recovered and errors are logged; neither reaches the caller.
//
// Example:
//
//	SafeGo(r.Context(), 5*time.Second, "notify uploader", func(ctx context.Context) error {
//	    return notifier.Notify(ctx, n)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	logger := observability.FromContext(parentCtx).WithField("task", taskName)
	base := context.WithoutCancel(parentCtx)

	go func() {
		ctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
		}
	}()
}

// Batch runs fn over items with at most workers goroutines and returns every error.
// Each call gets its own timeout; a panic in one item is reported as that item's error.
//
// Example:
//
//	errs := Batch(ctx, recipients, 4, "notify", 5*time.Second, func(ctx context.Context, id string) error {
//	    return notifier.Notify(ctx, notify.Notification{RecipientID: id})
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if len(items) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	work := make(chan T)
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)

	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				if err := runOne(ctx, timeout, taskName, item, fn); err != nil {
					record(err)
				}
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case work <- item:
		case <-ctx.Done():
			record(fmt.Errorf("%s: %w", taskName, ctx.Err()))
			break feed
		}
	}
	close(work)
	wg.Wait()

	return errs
}

func runOne[T any](ctx context.Context, timeout time.Duration, taskName string, item T,
	fn func(context.Context, T) error) (err error) {

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", taskName, r)
		}
	}()

	return fn(ctx, item)
}

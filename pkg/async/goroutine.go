package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` for background loops. A zero
// timeout runs fn until the parent context ends.
//
// Example:
//
//	SafeGo(ctx, logger, 0, "db stats", func(ctx context.Context) error {
//	    return collectStats(ctx)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.GetLogger(parentCtx)
	}
	logger = logger.WithField("task", taskName)

	go func() {
		ctx, cancel := parentCtx, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(parentCtx, timeout)
		}
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithField("panic", fmt.Sprint(r)).
					WithField("stack", string(debug.Stack())).
					Error("background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).Error("background task failed")
		}
	}()
}

// Batch runs fn for every item on at most workers goroutines and returns
// every error encountered, in no particular order. A panic in fn is
// returned as an error. Each call gets its own timeout when timeout > 0.
//
// Example:
//
//	errs := Batch(ctx, projectIDs, 4, time.Minute, func(ctx context.Context, id int64) error {
//	    return upload(ctx, id)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers < 1 {
		workers = 1
	}

	work := make(chan T)
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				if err := runOne(ctx, timeout, item, fn); err != nil {
					collect(err)
				}
			}
		}()
	}

	var ctxErr error
feed:
	for _, item := range items {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		select {
		case work <- item:
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break feed
		}
	}
	close(work)
	wg.Wait()

	if ctxErr != nil {
		errs = append(errs, ctxErr)
	}
	return errs
}

func runOne[T any](ctx context.Context, timeout time.Duration, item T, fn func(context.Context, T) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, item)
}

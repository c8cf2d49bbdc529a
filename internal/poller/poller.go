// Package poller runs a function on a fixed interval until its handle is
// stopped.
package poller

import (
	"context"
	"sync"
	"time"
)

// Handle owns one polling goroutine
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start calls fn immediately and then every interval until the handle is
// stopped or ctx ends.
func Start(ctx context.Context, interval time.Duration, fn func(context.Context)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		fn(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	return h
}

// Stop cancels the loop and waits for it to exit. Safe to call more than once.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

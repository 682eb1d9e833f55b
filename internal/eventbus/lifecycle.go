package eventbus

import (
	"context"
	"sync"
)

// Closer is anything that ends a subscription.
type Closer interface {
	Close()
}

// Lifecycle owns the context, subscriptions and goroutines of a
// long-running component so they can be torn down in one call.
type Lifecycle struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	subs   []Closer
	wg     sync.WaitGroup
}

// Start derives the component context from parent.
func (l *Lifecycle) Start(parent context.Context) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctx, l.cancel = context.WithCancel(parent)
	return l.ctx
}

// Context returns the component context, or context.Background before Start.
func (l *Lifecycle) Context() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil {
		return context.Background()
	}
	return l.ctx
}

// Track registers subscriptions closed by Stop.
func (l *Lifecycle) Track(subs ...Closer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			l.subs = append(l.subs, sub)
		}
	}
}

// Go runs worker with the component context.
func (l *Lifecycle) Go(worker func(ctx context.Context)) {
	if worker == nil {
		return
	}
	ctx := l.Context()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		worker(ctx)
	}()
}

// Stop cancels the context and closes tracked subscriptions.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, sub := range subs {
		sub.Close()
	}
}

// Shutdown stops the component and waits for its workers or ctx.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.Stop()
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

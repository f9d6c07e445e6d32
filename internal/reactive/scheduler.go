package reactive

import (
	"context"
	"sync"
)

// Scheduler runs work on the goroutine that owns a Runtime.
type Scheduler interface {
	Post(fn func())
}

// Loop is a Scheduler backed by an unbounded FIFO queue. Post never blocks,
// so it is safe to call from the loop goroutine itself.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
}

// Ensure Loop implements Scheduler at compile time.
var _ Scheduler = (*Loop)(nil)

// NewLoop returns an idle loop. Call Run (or Drain) to execute posted work.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn. Work posted after the loop stopped is dropped.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled. It must be the only goroutine
// touching the runtime while it runs.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Drain()
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.queue = nil
			l.mu.Unlock()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Drain executes queued work on the caller's goroutine, including work posted
// while draining, and returns the number of functions run.
func (l *Loop) Drain() int {
	ran := 0
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

// Do posts fn and blocks until it has run on the loop or ctx is done.
// Calling Do from the loop goroutine deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports how many functions are queued.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

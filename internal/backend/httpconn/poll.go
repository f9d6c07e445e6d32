package httpconn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/five82/tether/internal/backend"
)

const maxBackoff = 30 * time.Second

// calculateBackoff doubles base for each consecutive failure, capped at
// maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Subscribe implements backend.Connection.
func (c *Conn) Subscribe(name string, args any, onData func(any), onError func(error)) func() {
	ctx, cancel := context.WithCancel(c.ctx)
	e := c.register(name)

	var last json.RawMessage
	fetch := func(ctx context.Context) error {
		raw, err := c.query(ctx, name, args)
		if err != nil {
			last = nil
			return err
		}
		if last != nil && bytes.Equal(raw, last) {
			return nil
		}
		last = raw
		c.remember(name, args, raw)
		c.deliver(ctx, func() { onData(raw) })
		return nil
	}

	c.spawn(func() { c.poll(ctx, name, e.wake, fetch, onError) })
	return c.stopper(e, cancel)
}

// pageSub holds the item target a paginated subscription polls for.
type pageSub struct {
	mu       sync.Mutex
	numItems int
	status   backend.PageStatus
	items    []any
	raw      []json.RawMessage
}

// SubscribePaginated implements backend.Connection. LoadMore raises the item
// target and wakes the poll goroutine.
func (c *Conn) SubscribePaginated(name string, args any, opts backend.PageOptions, onPage func(backend.Page), onError func(error)) func() {
	opts = opts.Normalize()
	ctx, cancel := context.WithCancel(c.ctx)
	e := c.register(name)
	sub := &pageSub{numItems: opts.InitialNumItems, status: backend.LoadingFirstPage}

	var loadMore func(int) bool
	loadMore = func(n int) bool {
		if n <= 0 || ctx.Err() != nil {
			return false
		}
		sub.mu.Lock()
		if sub.status != backend.CanLoadMore {
			sub.mu.Unlock()
			return false
		}
		sub.numItems += n
		sub.status = backend.LoadingMore
		current := append([]any(nil), sub.items...)
		sub.mu.Unlock()

		c.deliver(ctx, func() {
			onPage(backend.Page{Items: current, Status: backend.LoadingMore, LoadMore: loadMore})
		})
		wake(e.wake)
		return true
	}

	fetch := func(ctx context.Context) error {
		sub.mu.Lock()
		numItems := sub.numItems
		sub.mu.Unlock()

		resp, err := c.page(ctx, name, args, numItems)
		if err != nil {
			sub.mu.Lock()
			sub.raw = nil
			if sub.status == backend.LoadingMore {
				sub.status = backend.CanLoadMore
			}
			sub.mu.Unlock()
			return err
		}
		status := backend.CanLoadMore
		if resp.IsDone {
			status = backend.Exhausted
		}

		sub.mu.Lock()
		if sub.numItems != numItems {
			// LoadMore raised the target mid-request; the pending wake refetches.
			sub.mu.Unlock()
			return nil
		}
		if sub.status == status && sameItems(sub.raw, resp.Items) {
			sub.mu.Unlock()
			return nil
		}
		items := make([]any, len(resp.Items))
		for i, item := range resp.Items {
			items[i] = item
		}
		sub.status = status
		sub.raw = resp.Items
		sub.items = items
		sub.mu.Unlock()

		page := backend.Page{Items: items, Status: status, LoadMore: loadMore}
		c.deliver(ctx, func() { onPage(page) })
		return nil
	}

	c.spawn(func() { c.poll(ctx, name, e.wake, fetch, onError) })
	return c.stopper(e, cancel)
}

func sameItems(a, b []json.RawMessage) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// poll runs fetch until ctx is cancelled, waiting interval between runs and
// backing off after consecutive failures. A signal on wake skips the wait.
func (c *Conn) poll(ctx context.Context, name string, wakeCh <-chan struct{}, fetch func(context.Context) error, onError func(error)) {
	failures := 0
	for {
		wait := c.interval
		if err := fetch(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			wait = calculateBackoff(failures, c.interval)
			c.log.Warn().Err(err).Str("query", name).Int("failures", failures).Dur("retry_in", wait).Msg("poll failed")
			if errors.Is(err, ErrUnauthorized) {
				c.recheckAuth()
			}
			c.deliver(ctx, func() { onError(err) })
		} else {
			failures = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (c *Conn) register(name string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	e := &entry{name: name, wake: make(chan struct{}, 1)}
	c.subs[c.nextID] = e
	return e
}

func (c *Conn) stopper(e *entry, cancel context.CancelFunc) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			c.mu.Lock()
			for id, v := range c.subs {
				if v == e {
					delete(c.subs, id)
					break
				}
			}
			c.mu.Unlock()
		})
	}
}

// wakeAll makes every subscription to name poll now.
func (c *Conn) wakeAll(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.subs {
		if e.name == name {
			wake(e.wake)
		}
	}
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// deliver hands fn to the dispatcher. Work for a subscription that has been
// torn down by the time it runs is dropped.
func (c *Conn) deliver(ctx context.Context, fn func()) {
	if c.dispatch == nil {
		if ctx.Err() == nil {
			fn()
		}
		return
	}
	c.dispatch.Post(func() {
		if ctx.Err() == nil {
			fn()
		}
	})
}

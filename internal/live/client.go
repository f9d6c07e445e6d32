package live

import (
	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/reactive"
)

// Client bundles what every manager needs: the runtime that owns state, the
// backend connection and a logger.
//
// The connection must deliver callbacks on the runtime's goroutine. Build
// concrete connections with the runtime's scheduler as their dispatcher.
type Client struct {
	rt   *reactive.Runtime
	conn backend.Connection
	log  zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger attaches a logger; managers derive child loggers from it.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = logger }
}

// NewClient builds a Client.
func NewClient(rt *reactive.Runtime, conn backend.Connection, opts ...ClientOption) *Client {
	c := &Client{rt: rt, conn: conn, log: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Runtime returns the runtime managers are bound to.
func (c *Client) Runtime() *reactive.Runtime { return c.rt }

// Logger returns the client logger.
func (c *Client) Logger() zerolog.Logger { return c.log }

// Args is either a call argument or the skip sentinel. The zero value carries
// the zero A and is not skipped.
type Args[A any] struct {
	value A
	skip  bool
}

// With wraps a into Args.
func With[A any](a A) Args[A] { return Args[A]{value: a} }

// Skip returns the sentinel that suspends a subscription.
func Skip[A any]() Args[A] { return Args[A]{skip: true} }

// Skipped reports whether a is the skip sentinel.
func (a Args[A]) Skipped() bool { return a.skip }

// Value returns the wrapped argument.
func (a Args[A]) Value() A { return a.value }

// Disposer is implemented by every manager.
type Disposer interface {
	Dispose()
}

type optional[T any] struct {
	value T
	ok    bool
}

// commit applies callback writes as one batch. Reads made by user callbacks
// are not tracked by whichever effect happens to be running.
func (c *Client) commit(fn func()) {
	c.rt.Untracked(func() { c.rt.Batch(fn) })
}

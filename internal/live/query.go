package live

import (
	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/reactive"
)

// QueryState is a snapshot of a Query.
type QueryState[R any] struct {
	Data      R
	HasData   bool
	Err       error
	IsLoading bool
	IsSkipped bool
}

// Status derives the query status.
func (s QueryState[R]) Status() QueryStatus {
	return deriveQueryStatus(s.IsSkipped, s.IsLoading, s.Err)
}

// QueryOptions configures a Query.
type QueryOptions[R any] struct {
	// Enabled is read reactively; false behaves like the skip sentinel.
	Enabled func() bool
	// OnSuccess runs on every emission, not only the first.
	OnSuccess func(R)
	OnError   func(error)
}

// Query keeps at most one live subscription open for a query ref and
// re-subscribes whenever the reactive args change.
type Query[A, R any] struct {
	client *Client
	ref    backend.QueryRef[A, R]
	args   func() Args[A]
	opts   QueryOptions[R]
	log    zerolog.Logger

	data      *reactive.Cell[optional[R]]
	err       *reactive.Cell[error]
	loading   *reactive.Cell[bool]
	skipped   *reactive.Cell[bool]
	refetches *reactive.Cell[uint64]

	attempt uint64
	effect  *reactive.Effect
}

// NewQuery builds a Query and runs its first reaction immediately. It must be
// called on the runtime goroutine.
func NewQuery[A, R any](c *Client, ref backend.QueryRef[A, R], args func() Args[A], opts QueryOptions[R]) *Query[A, R] {
	rt := c.rt
	q := &Query[A, R]{
		client:    c,
		ref:       ref,
		args:      args,
		opts:      opts,
		log:       c.log.With().Str("query", ref.Name()).Logger(),
		data:      reactive.NewCell(rt, optional[R]{}),
		err:       reactive.NewCell[error](rt, nil),
		loading:   reactive.NewCell(rt, false),
		skipped:   reactive.NewCell(rt, false),
		refetches: reactive.NewCell[uint64](rt, 0),
	}
	q.effect = rt.Effect(q.react)
	return q
}

func (q *Query[A, R]) react(onCleanup func(func())) {
	q.refetches.Get()
	args := q.args()
	enabled := true
	if q.opts.Enabled != nil {
		enabled = q.opts.Enabled()
	}

	q.attempt++
	attempt := q.attempt

	if args.Skipped() || !enabled {
		q.data.Set(optional[R]{})
		q.err.Set(nil)
		q.loading.Set(false)
		q.skipped.Set(true)
		q.log.Debug().Uint64("attempt", attempt).Msg("skipped")
		return
	}

	q.skipped.Set(false)
	q.loading.Set(true)

	conn := q.client.conn
	name := q.ref.Name()
	if !q.data.Peek().ok {
		if cached, ok := conn.ReadCached(name, args.Value()); ok {
			if value, err := backend.Decode[R](cached); err == nil {
				q.data.Set(optional[R]{value: value, ok: true})
			}
		}
	}

	q.log.Debug().Uint64("attempt", attempt).Msg("subscribe")
	unsubscribe := conn.Subscribe(name, args.Value(),
		func(v any) { q.onData(attempt, v) },
		func(err error) { q.onError(attempt, err) },
	)
	onCleanup(func() {
		unsubscribe()
		q.log.Debug().Uint64("attempt", attempt).Msg("unsubscribe")
	})
}

func (q *Query[A, R]) onData(attempt uint64, v any) {
	if attempt != q.attempt {
		return
	}
	value, err := backend.Decode[R](v)
	if err != nil {
		q.onError(attempt, err)
		return
	}
	q.client.commit(func() {
		q.data.Set(optional[R]{value: value, ok: true})
		q.err.Set(nil)
		q.loading.Set(false)
		if q.opts.OnSuccess != nil {
			q.opts.OnSuccess(value)
		}
	})
}

func (q *Query[A, R]) onError(attempt uint64, err error) {
	if attempt != q.attempt {
		return
	}
	err = NormalizeError(err)
	q.log.Debug().Err(err).Uint64("attempt", attempt).Msg("subscription error")
	q.client.commit(func() {
		q.err.Set(err)
		q.loading.Set(false)
		if q.opts.OnError != nil {
			q.opts.OnError(err)
		}
	})
}

// Refetch re-runs the reaction with unchanged args. Existing data is kept
// until the new subscription emits.
func (q *Query[A, R]) Refetch() {
	q.refetches.Update(func(n uint64) uint64 { return n + 1 })
}

// Dispose tears down the live subscription. The state keeps its last values
// and callbacks already queued by the connection are dropped.
func (q *Query[A, R]) Dispose() {
	q.effect.Dispose()
	q.attempt++
}

// Data returns the latest result.
func (q *Query[A, R]) Data() (R, bool) {
	d := q.data.Get()
	return d.value, d.ok
}

// Err returns the latest subscription error.
func (q *Query[A, R]) Err() error { return q.err.Get() }

// IsLoading reports whether a subscription is waiting for its first result.
func (q *Query[A, R]) IsLoading() bool { return q.loading.Get() }

// IsSkipped reports whether the query is suspended.
func (q *Query[A, R]) IsSkipped() bool { return q.skipped.Get() }

// Status derives the query status.
func (q *Query[A, R]) Status() QueryStatus {
	return deriveQueryStatus(q.skipped.Get(), q.loading.Get(), q.err.Get())
}

// State returns a tracked snapshot.
func (q *Query[A, R]) State() QueryState[R] {
	d := q.data.Get()
	return QueryState[R]{
		Data:      d.value,
		HasData:   d.ok,
		Err:       q.err.Get(),
		IsLoading: q.loading.Get(),
		IsSkipped: q.skipped.Get(),
	}
}

package live

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/reactive"
)

// CallState is a snapshot of an Operation.
type CallState[T any] struct {
	Data         T
	HasData      bool
	Err          error
	IsLoading    bool
	HasCompleted bool
}

// Status derives the call status.
func (s CallState[T]) Status() CallStatus {
	return deriveCallStatus(s.IsLoading, s.Err, s.HasCompleted)
}

// CallOptions configures an Operation.
type CallOptions[T any] struct {
	OnSuccess func(T)
	OnError   func(error)
	// OnSettled runs after OnSuccess or OnError.
	OnSettled func()
	// LatestOnly drops state writes from calls superseded by a newer Execute
	// or Reset. The default keeps last-write-wins: whichever call settles last
	// writes state, even if it was started first.
	LatestOnly bool
}

// Operation wraps one asynchronous call at a time. Execute and Reset must be
// called on the runtime goroutine.
type Operation[T any] struct {
	rt        *reactive.Runtime
	opts      CallOptions[T]
	log       zerolog.Logger
	data      *reactive.Cell[optional[T]]
	err       *reactive.Cell[error]
	loading   *reactive.Cell[bool]
	completed *reactive.Cell[bool]
	attempt   uint64
}

// NewOperation builds an idle Operation.
func NewOperation[T any](c *Client, opts CallOptions[T]) *Operation[T] {
	return newOperation(c, opts, c.log)
}

func newOperation[T any](c *Client, opts CallOptions[T], log zerolog.Logger) *Operation[T] {
	return &Operation[T]{
		rt:        c.rt,
		opts:      opts,
		log:       log,
		data:      reactive.NewCell(c.rt, optional[T]{}),
		err:       reactive.NewCell[error](c.rt, nil),
		loading:   reactive.NewCell(c.rt, false),
		completed: reactive.NewCell(c.rt, false),
	}
}

// Execute clears the previous outcome, marks the operation pending and runs
// fn on its own goroutine. Observers see the pending state before fn starts.
// The outcome is written back through the runtime scheduler; the returned
// Pending resolves after that write.
func (o *Operation[T]) Execute(ctx context.Context, fn func(context.Context) (T, error)) *Pending[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	o.attempt++
	attempt := o.attempt

	o.rt.Batch(func() {
		o.data.Set(optional[T]{})
		o.err.Set(nil)
		o.completed.Set(false)
		o.loading.Set(true)
	})

	p := newPending[T]()
	go func() {
		value, err := invoke(ctx, fn)
		o.rt.Post(func() { o.settle(attempt, p, value, err) })
	}()
	return p
}

func invoke[T any](ctx context.Context, fn func(context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NormalizeError(r)
		}
	}()
	value, err = fn(ctx)
	return value, err
}

func (o *Operation[T]) settle(attempt uint64, p *Pending[T], value T, err error) {
	defer p.resolve(value, err)

	if o.opts.LatestOnly && attempt != o.attempt {
		o.log.Debug().Uint64("attempt", attempt).Msg("dropping superseded result")
		return
	}

	o.rt.Batch(func() {
		if err != nil {
			o.err.Set(err)
			o.completed.Set(true)
			o.log.Debug().Err(err).Uint64("attempt", attempt).Msg("call failed")
			if o.opts.OnError != nil {
				o.opts.OnError(err)
			}
		} else {
			o.data.Set(optional[T]{value: value, ok: true})
			o.completed.Set(true)
			if o.opts.OnSuccess != nil {
				o.opts.OnSuccess(value)
			}
		}
		o.loading.Set(false)
		if o.opts.OnSettled != nil {
			o.opts.OnSettled()
		}
	})
}

// Reset restores the idle state regardless of any call in flight.
func (o *Operation[T]) Reset() {
	o.attempt++
	o.rt.Batch(func() {
		o.data.Set(optional[T]{})
		o.err.Set(nil)
		o.loading.Set(false)
		o.completed.Set(false)
	})
}

// Data returns the last successful result.
func (o *Operation[T]) Data() (T, bool) {
	d := o.data.Get()
	return d.value, d.ok
}

// Err returns the last failure.
func (o *Operation[T]) Err() error { return o.err.Get() }

// IsLoading reports whether a call is pending.
func (o *Operation[T]) IsLoading() bool { return o.loading.Get() }

// HasCompleted reports whether the latest call settled.
func (o *Operation[T]) HasCompleted() bool { return o.completed.Get() }

// Status derives the call status.
func (o *Operation[T]) Status() CallStatus {
	return deriveCallStatus(o.loading.Get(), o.err.Get(), o.completed.Get())
}

// State returns a tracked snapshot.
func (o *Operation[T]) State() CallState[T] {
	d := o.data.Get()
	return CallState[T]{
		Data:         d.value,
		HasData:      d.ok,
		Err:          o.err.Get(),
		IsLoading:    o.loading.Get(),
		HasCompleted: o.completed.Get(),
	}
}

// Pending is the eventual outcome of one Execute call.
type Pending[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

func (p *Pending[T]) resolve(value T, err error) {
	p.value = value
	p.err = err
	close(p.done)
}

// Done is closed once the outcome has been written to state.
func (p *Pending[T]) Done() <-chan struct{} { return p.done }

// Wait blocks until the call settles or ctx is done. A failed call returns
// its error here as well as in state. Never Wait on the runtime goroutine:
// settlement is delivered there.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Mutation runs a backend mutation through an Operation.
type Mutation[A, R any] struct {
	*Operation[R]
	client *Client
	ref    backend.MutationRef[A, R]
	// Invalidates names a query the connection may refresh after success.
	Invalidates string
}

// NewMutation builds a Mutation bound to ref.
func NewMutation[A, R any](c *Client, ref backend.MutationRef[A, R], opts CallOptions[R]) *Mutation[A, R] {
	log := c.log.With().Str("mutation", ref.Name()).Logger()
	return &Mutation[A, R]{Operation: newOperation(c, opts, log), client: c, ref: ref}
}

// Mutate executes the mutation with args.
func (m *Mutation[A, R]) Mutate(ctx context.Context, args A) *Pending[R] {
	callOpts := backend.CallOptions{Kind: backend.KindMutation, OptimisticKey: m.Invalidates}
	return m.Execute(ctx, func(ctx context.Context) (R, error) {
		return callTyped[R](ctx, m.client.conn, m.ref.Name(), args, callOpts)
	})
}

// Action runs a backend action through an Operation.
type Action[A, R any] struct {
	*Operation[R]
	client *Client
	ref    backend.ActionRef[A, R]
}

// NewAction builds an Action bound to ref.
func NewAction[A, R any](c *Client, ref backend.ActionRef[A, R], opts CallOptions[R]) *Action[A, R] {
	log := c.log.With().Str("action", ref.Name()).Logger()
	return &Action[A, R]{Operation: newOperation(c, opts, log), client: c, ref: ref}
}

// Run executes the action with args.
func (a *Action[A, R]) Run(ctx context.Context, args A) *Pending[R] {
	callOpts := backend.CallOptions{Kind: backend.KindAction}
	return a.Execute(ctx, func(ctx context.Context) (R, error) {
		return callTyped[R](ctx, a.client.conn, a.ref.Name(), args, callOpts)
	})
}

func callTyped[R any](ctx context.Context, conn backend.Connection, name string, args any, opts backend.CallOptions) (R, error) {
	var zero R
	raw, err := conn.Call(ctx, name, args, opts)
	if err != nil {
		return zero, err
	}
	out, err := backend.Decode[R](raw)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", opts.Kind, name, err)
	}
	return out, nil
}

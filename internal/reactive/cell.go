package reactive

import "slices"

type source interface {
	subscribe(e *Effect)
	unsubscribe(e *Effect)
}

// Cell is a mutable observable value.
type Cell[T any] struct {
	rt    *Runtime
	value T
	equal func(a, b T) bool
	subs  []*Effect
}

// CellOption configures a Cell.
type CellOption[T any] func(*Cell[T])

// WithEqual replaces the default equality check used to suppress no-op writes.
func WithEqual[T any](equal func(a, b T) bool) CellOption[T] {
	return func(c *Cell[T]) {
		if equal != nil {
			c.equal = equal
		}
	}
}

// NewCell creates a cell holding initial.
func NewCell[T any](rt *Runtime, initial T, opts ...CellOption[T]) *Cell[T] {
	c := &Cell[T]{rt: rt, value: initial, equal: defaultEqual[T]}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the value and records the read against the running effect.
func (c *Cell[T]) Get() T {
	c.rt.track(c)
	return c.value
}

// Peek returns the value without tracking.
func (c *Cell[T]) Peek() T {
	return c.value
}

// Set stores v and re-runs dependent effects unless v equals the current
// value.
func (c *Cell[T]) Set(v T) {
	if c.equal(c.value, v) {
		return
	}
	c.value = v
	if len(c.subs) == 0 {
		return
	}
	c.rt.notify(slices.Clone(c.subs))
}

// Update applies fn to the current value and stores the result.
func (c *Cell[T]) Update(fn func(T) T) {
	c.Set(fn(c.value))
}

func (c *Cell[T]) subscribe(e *Effect) {
	c.subs = append(c.subs, e)
}

func (c *Cell[T]) unsubscribe(e *Effect) {
	if i := slices.Index(c.subs, e); i >= 0 {
		c.subs = slices.Delete(c.subs, i, i+1)
	}
}

// defaultEqual compares with == when the dynamic type allows it. Slices, maps
// and funcs are never equal, so every write to them notifies.
func defaultEqual[T any](a, b T) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return any(a) == any(b)
}

// Computed is a derived view. It is evaluated on every Get, so whichever
// effect reads it tracks the underlying cells directly.
type Computed[T any] struct {
	fn func() T
}

// NewComputed wraps fn as a derived view.
func NewComputed[T any](fn func() T) *Computed[T] {
	return &Computed[T]{fn: fn}
}

// Get evaluates the view.
func (c *Computed[T]) Get() T {
	return c.fn()
}

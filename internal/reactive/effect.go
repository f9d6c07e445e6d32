package reactive

// Effect is a reaction created by Runtime.Effect.
type Effect struct {
	rt       *Runtime
	fn       func(onCleanup func(func()))
	deps     map[source]struct{}
	cleanups []func()
	queued   bool
	disposed bool
}

// Dispose runs pending cleanups and detaches the effect from every cell. It
// is idempotent.
func (e *Effect) Dispose() {
	if e == nil || e.disposed {
		return
	}
	e.disposed = true
	e.rt.Batch(func() {
		e.runCleanups()
	})
	e.clearDeps()
}

// Disposed reports whether Dispose has been called.
func (e *Effect) Disposed() bool {
	return e.disposed
}

func (e *Effect) run() {
	rt := e.rt
	rt.batch++
	defer func() {
		rt.batch--
		if rt.batch == 0 {
			rt.flush()
		}
	}()

	e.runCleanups()
	e.clearDeps()

	prev := rt.observer
	rt.observer = e
	defer func() { rt.observer = prev }()

	e.fn(e.onCleanup)
}

func (e *Effect) onCleanup(fn func()) {
	if fn == nil {
		return
	}
	if e.disposed {
		// Registered after Dispose raced ahead of the body; release now.
		e.rt.Untracked(fn)
		return
	}
	e.cleanups = append(e.cleanups, fn)
}

func (e *Effect) runCleanups() {
	if len(e.cleanups) == 0 {
		return
	}
	fns := e.cleanups
	e.cleanups = nil
	e.rt.Untracked(func() {
		for _, fn := range fns {
			fn()
		}
	})
}

func (e *Effect) clearDeps() {
	for s := range e.deps {
		s.unsubscribe(e)
	}
	clear(e.deps)
}

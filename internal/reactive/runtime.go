package reactive

import "fmt"

// maxFlushRuns bounds effect executions in one flush so that an effect which
// writes a cell it also reads fails loudly instead of spinning.
const maxFlushRuns = 100_000

// Runtime tracks dependencies between cells and effects. It is not safe for
// concurrent use; see the package documentation.
type Runtime struct {
	sched    Scheduler
	observer *Effect
	queue    []*Effect
	batch    int
	flushing bool
}

// NewRuntime returns a runtime whose Post forwards to sched.
func NewRuntime(sched Scheduler) *Runtime {
	return &Runtime{sched: sched}
}

// Post hands fn to the scheduler. It is the only Runtime method that may be
// called from any goroutine.
func (rt *Runtime) Post(fn func()) {
	if rt.sched == nil {
		panic("reactive: runtime has no scheduler")
	}
	rt.sched.Post(fn)
}

// Batch runs fn and defers dependent effects until it returns.
func (rt *Runtime) Batch(fn func()) {
	rt.batch++
	defer func() {
		rt.batch--
		if rt.batch == 0 {
			rt.flush()
		}
	}()
	fn()
}

// Untracked runs fn without recording reads against the running effect.
func (rt *Runtime) Untracked(fn func()) {
	prev := rt.observer
	rt.observer = nil
	defer func() { rt.observer = prev }()
	fn()
}

// Effect creates a reaction, runs it once and returns it.
func (rt *Runtime) Effect(fn func(onCleanup func(func()))) *Effect {
	e := &Effect{rt: rt, fn: fn, deps: make(map[source]struct{})}
	e.run()
	return e
}

func (rt *Runtime) track(s source) {
	e := rt.observer
	if e == nil {
		return
	}
	if _, ok := e.deps[s]; ok {
		return
	}
	e.deps[s] = struct{}{}
	s.subscribe(e)
}

func (rt *Runtime) notify(subs []*Effect) {
	for _, e := range subs {
		if e.queued || e.disposed {
			continue
		}
		e.queued = true
		rt.queue = append(rt.queue, e)
	}
	if rt.batch == 0 {
		rt.flush()
	}
}

func (rt *Runtime) flush() {
	if rt.flushing {
		return
	}
	rt.flushing = true
	defer func() { rt.flushing = false }()

	runs := 0
	for len(rt.queue) > 0 {
		e := rt.queue[0]
		rt.queue[0] = nil
		rt.queue = rt.queue[1:]
		e.queued = false
		if e.disposed {
			continue
		}
		runs++
		if runs > maxFlushRuns {
			rt.queue = nil
			panic(fmt.Sprintf("reactive: more than %d effect runs in one flush", maxFlushRuns))
		}
		e.run()
	}
}

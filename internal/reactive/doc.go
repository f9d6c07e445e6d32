// Package reactive provides the observable substrate the live managers are
// built on.
//
// # Overview
//
// Three primitives cover everything tether needs:
//
//   - Cell: a mutable observable value. Reads inside an effect are tracked.
//   - Computed: a derived view over cells. It is re-evaluated on every read,
//     so its dependencies are tracked transitively by the reading effect.
//   - Effect: a reaction that runs once on creation and again, synchronously,
//     whenever a cell it read during its previous run changes.
//
// Effects receive an onCleanup hook. Registered cleanups run before the next
// run and on Dispose, which is how managers guarantee teardown-before-setup
// for backend subscriptions:
//
//	rt.Effect(func(onCleanup func(func())) {
//		unsubscribe := conn.Subscribe(name, args.Get(), onData, onError)
//		onCleanup(unsubscribe)
//	})
//
// # Scheduling
//
// A Runtime is confined to a single goroutine, the scheduler. Nothing in this
// package takes a lock. Work produced on other goroutines (network callbacks,
// settled calls) is handed back through Runtime.Post, which forwards to a
// Scheduler. Loop is the stock Scheduler: a queue drained by Run on one
// goroutine, or by Drain when a test wants to drive it by hand.
//
// Writes made while an effect body runs, or inside Batch, are applied to
// cells immediately but dependent effects are deferred until the outermost
// run or batch completes. Each effect runs at most once per flush for any
// number of writes queued before it starts.
package reactive

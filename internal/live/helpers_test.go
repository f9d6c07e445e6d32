package live

import (
	"context"
	"testing"
	"time"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/backend/memory"
	"github.com/five82/tether/internal/reactive"
)

// newTestClient returns a client whose memory backend delivers callbacks
// synchronously on the test goroutine. Work posted through the runtime lands
// on loop and runs on the next drain.
func newTestClient(t *testing.T, opts ...memory.Option) (*Client, *memory.Conn, *reactive.Loop) {
	t.Helper()
	return newClientOnLoop(t, reactive.NewLoop(), opts...)
}

// newDispatchedClient is newTestClient with every backend callback posted to
// the loop, for tests where the backend is driven from other goroutines.
func newDispatchedClient(t *testing.T, opts ...memory.Option) (*Client, *memory.Conn, *reactive.Loop) {
	t.Helper()
	loop := reactive.NewLoop()
	return newClientOnLoop(t, loop, append(opts, memory.WithDispatcher(loop))...)
}

func newClientOnLoop(t *testing.T, loop *reactive.Loop, opts ...memory.Option) (*Client, *memory.Conn, *reactive.Loop) {
	t.Helper()
	rt := reactive.NewRuntime(loop)
	conn := memory.New(opts...)
	t.Cleanup(conn.Close)
	return NewClient(rt, conn), conn, loop
}

// drainUntil drains loop on the test goroutine until done is closed.
func drainUntil(t *testing.T, loop *reactive.Loop, done <-chan struct{}) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		loop.Drain()
		select {
		case <-done:
			loop.Drain()
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for loop work")
		}
		time.Sleep(time.Millisecond)
	}
}

// recordingConn wraps a connection and checks that no two subscriptions are
// open at once while recording the subscribe/unsubscribe sequence.
type recordingConn struct {
	backend.Connection
	t      *testing.T
	open   int
	events []string
}

func (r *recordingConn) Subscribe(name string, args any, onData func(any), onError func(error)) func() {
	r.opened()
	unsub := r.Connection.Subscribe(name, args, onData, onError)
	return r.closer(unsub)
}

func (r *recordingConn) SubscribePaginated(name string, args any, opts backend.PageOptions, onPage func(backend.Page), onError func(error)) func() {
	r.opened()
	unsub := r.Connection.SubscribePaginated(name, args, opts, onPage, onError)
	return r.closer(unsub)
}

func (r *recordingConn) opened() {
	r.open++
	r.events = append(r.events, "sub")
	if r.open > 1 {
		r.t.Errorf("open subscriptions = %d, want at most 1", r.open)
	}
}

func (r *recordingConn) closer(unsub func()) func() {
	return func() {
		r.open--
		r.events = append(r.events, "unsub")
		unsub()
	}
}

// fakeAdapter is an identity adapter driven by cells.
type fakeAdapter struct {
	loading       *reactive.Cell[bool]
	authenticated *reactive.Cell[bool]
	token         string
	fetchErr      error
}

func newFakeAdapter(rt *reactive.Runtime, loading, authenticated bool) *fakeAdapter {
	return &fakeAdapter{
		loading:       reactive.NewCell(rt, loading),
		authenticated: reactive.NewCell(rt, authenticated),
		token:         "token",
	}
}

func (f *fakeAdapter) IsLoading() bool       { return f.loading.Get() }
func (f *fakeAdapter) IsAuthenticated() bool { return f.authenticated.Get() }

func (f *fakeAdapter) FetchAccessToken(context.Context, backend.FetchTokenArgs) (string, error) {
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	return f.token, nil
}

// eventually drains loop on the test goroutine until cond holds.
func eventually(t *testing.T, loop *reactive.Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		loop.Drain()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

package live

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/reactive"
)

var echoRef = backend.Query[string, string]("echo")

func TestQuery_SingleSubscriptionAcrossArgChanges(t *testing.T) {
	client, conn, _ := newTestClient(t)
	conn.HandleQuery("echo", func(args any) (any, error) { return strings.ToUpper(args.(string)), nil })

	rec := &recordingConn{Connection: conn, t: t}
	client = NewClient(client.Runtime(), rec)
	rt := client.Runtime()

	arg := reactive.NewCell(rt, "a")
	skip := reactive.NewCell(rt, false)
	q := NewQuery(client, echoRef, func() Args[string] {
		if skip.Get() {
			return Skip[string]()
		}
		return With(arg.Get())
	}, QueryOptions[string]{})

	arg.Set("b")
	arg.Set("c")
	skip.Set(true)
	arg.Set("d")
	skip.Set(false)

	if got, _ := q.Data(); got != "D" {
		t.Fatalf("Data = %q, want D", got)
	}
	q.Dispose()

	stats := conn.Stats()
	if stats.Subscribes != stats.Unsubscribes {
		t.Fatalf("subscribes = %d, unsubscribes = %d", stats.Subscribes, stats.Unsubscribes)
	}
	if stats.Subscribes != 4 {
		t.Fatalf("subscribes = %d, want 4", stats.Subscribes)
	}
	if stats.MaxActive != 1 {
		t.Fatalf("max active = %d, want 1", stats.MaxActive)
	}
	if rec.open != 0 {
		t.Fatalf("open = %d after Dispose, want 0", rec.open)
	}
}

func TestQuery_SkipToggleAlternates(t *testing.T) {
	client, conn, _ := newTestClient(t)
	rec := &recordingConn{Connection: conn, t: t}
	client = NewClient(client.Runtime(), rec)

	skip := reactive.NewCell(client.Runtime(), true)
	q := NewQuery(client, echoRef, func() Args[string] {
		if skip.Get() {
			return Skip[string]()
		}
		return With("x")
	}, QueryOptions[string]{})
	defer q.Dispose()

	const n = 3
	for i := 0; i < n; i++ {
		skip.Set(false)
		skip.Set(true)
	}

	var want []string
	for i := 0; i < n; i++ {
		want = append(want, "sub", "unsub")
	}
	if !reflect.DeepEqual(rec.events, want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
}

func TestQuery_SkipClearsState(t *testing.T) {
	client, conn, _ := newTestClient(t)
	skip := reactive.NewCell(client.Runtime(), false)
	q := NewQuery(client, echoRef, func() Args[string] {
		if skip.Get() {
			return Skip[string]()
		}
		return With("x")
	}, QueryOptions[string]{})
	defer q.Dispose()

	conn.Publish("echo", "X")
	conn.Fail("echo", errors.New("later failure"))
	if q.Err() == nil {
		t.Fatal("Err = nil before skip, want error")
	}

	skip.Set(true)
	state := q.State()
	if state.HasData || state.Err != nil || state.IsLoading || !state.IsSkipped {
		t.Fatalf("state = %+v, want cleared and skipped", state)
	}
	if got := q.Status(); got != QuerySkipped {
		t.Fatalf("Status = %v, want %v", got, QuerySkipped)
	}
}

func TestQuery_EnabledPredicate(t *testing.T) {
	client, conn, _ := newTestClient(t)
	conn.HandleQuery("echo", func(args any) (any, error) { return args, nil })

	enabled := reactive.NewCell(client.Runtime(), false)
	q := NewQuery(client, echoRef, func() Args[string] { return With("hi") }, QueryOptions[string]{
		Enabled: enabled.Get,
	})
	defer q.Dispose()

	if !q.IsSkipped() || conn.Stats().Subscribes != 0 {
		t.Fatalf("skipped=%v subscribes=%d, want true 0", q.IsSkipped(), conn.Stats().Subscribes)
	}
	enabled.Set(true)
	if got, ok := q.Data(); !ok || got != "hi" {
		t.Fatalf("Data = %q, %v, want hi, true", got, ok)
	}
	if got := q.Status(); got != QuerySuccess {
		t.Fatalf("Status = %v, want %v", got, QuerySuccess)
	}
}

func TestQuery_RefetchPreservesData(t *testing.T) {
	client, conn, _ := newTestClient(t)
	ref := backend.Query[struct{}, []string]("list")
	q := NewQuery(client, ref, func() Args[struct{}] { return With(struct{}{}) }, QueryOptions[[]string]{})
	defer q.Dispose()

	conn.Publish("list", []string{"X"})
	q.Refetch()

	got, ok := q.Data()
	if !ok || !reflect.DeepEqual(got, []string{"X"}) {
		t.Fatalf("Data = %v, %v, want [X], true", got, ok)
	}
	if !q.IsLoading() {
		t.Fatal("IsLoading = false after Refetch, want true")
	}
	if conn.Stats().Subscribes != 2 {
		t.Fatalf("subscribes = %d, want 2", conn.Stats().Subscribes)
	}

	conn.Publish("list", []string{"Y"})
	if got, _ := q.Data(); !reflect.DeepEqual(got, []string{"Y"}) {
		t.Fatalf("Data = %v, want [Y]", got)
	}
	if q.IsLoading() {
		t.Fatal("IsLoading = true after emission, want false")
	}
}

func TestQuery_HydratesFromCache(t *testing.T) {
	client, conn, _ := newTestClient(t)
	if err := conn.Seed("echo", "a", "cached"); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	q := NewQuery(client, echoRef, func() Args[string] { return With("a") }, QueryOptions[string]{})
	defer q.Dispose()

	if got, ok := q.Data(); !ok || got != "cached" {
		t.Fatalf("Data = %q, %v, want cached, true", got, ok)
	}
	if got := q.Status(); got != QueryPending {
		t.Fatalf("Status = %v, want %v", got, QueryPending)
	}
}

func TestQuery_ErrorPreservesDataAndEveryEmissionCallsOnSuccess(t *testing.T) {
	client, conn, _ := newTestClient(t)

	var successes []string
	var failures int
	q := NewQuery(client, echoRef, func() Args[string] { return With("a") }, QueryOptions[string]{
		OnSuccess: func(v string) { successes = append(successes, v) },
		OnError:   func(error) { failures++ },
	})
	defer q.Dispose()

	conn.Publish("echo", "one")
	conn.Publish("echo", "two")
	conn.Fail("echo", errors.New("offline"))

	if got, _ := q.Data(); got != "two" {
		t.Fatalf("Data = %q, want two", got)
	}
	if q.Err() == nil || q.Status() != QueryError {
		t.Fatalf("Err = %v status = %v, want error", q.Err(), q.Status())
	}
	if failures != 1 {
		t.Fatalf("OnError calls = %d, want 1", failures)
	}

	conn.Publish("echo", "three")
	if q.Err() != nil {
		t.Fatalf("Err = %v after emission, want nil", q.Err())
	}
	if want := []string{"one", "two", "three"}; !reflect.DeepEqual(successes, want) {
		t.Fatalf("successes = %v, want %v", successes, want)
	}
}

func TestQuery_DropsCallbacksFromSupersededSubscription(t *testing.T) {
	client, conn, loop := newDispatchedClient(t)
	conn.HandleQuery("echo", func(args any) (any, error) { return args, nil })

	var seen []string
	arg := reactive.NewCell(client.Runtime(), "a")
	q := NewQuery(client, echoRef, func() Args[string] { return With(arg.Get()) }, QueryOptions[string]{
		OnSuccess: func(v string) { seen = append(seen, v) },
	})
	defer q.Dispose()

	// Both emissions are queued; the first belongs to a torn-down subscription.
	arg.Set("b")
	loop.Drain()

	if want := []string{"b"}; !reflect.DeepEqual(seen, want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	if got, _ := q.Data(); got != "b" {
		t.Fatalf("Data = %q, want b", got)
	}
}

func TestQuery_DisposeDropsQueuedCallbacks(t *testing.T) {
	client, conn, loop := newDispatchedClient(t)
	conn.HandleQuery("echo", func(args any) (any, error) { return args, nil })

	successes := 0
	q := NewQuery(client, echoRef, func() Args[string] { return With("x") }, QueryOptions[string]{
		OnSuccess: func(string) { successes++ },
	})
	if loop.Pending() == 0 {
		t.Fatal("no callback queued before Dispose")
	}
	q.Dispose()
	loop.Drain()

	if _, ok := q.Data(); ok {
		t.Fatal("Data set after Dispose, want unset")
	}
	if successes != 0 {
		t.Fatalf("OnSuccess calls = %d, want 0", successes)
	}
	if stats := conn.Stats(); stats.Active != 0 {
		t.Fatalf("active = %d, want 0", stats.Active)
	}
}

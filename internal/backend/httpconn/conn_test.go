package httpconn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/five82/tether/internal/backend"
)

func TestParseBaseURL_DefaultsAndNormalizes(t *testing.T) {
	u, err := parseBaseURL("")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Scheme != "http" {
		t.Fatalf("scheme = %q, want http", u.Scheme)
	}
	if u.Host != defaultBaseURL {
		t.Fatalf("host = %q, want %q", u.Host, defaultBaseURL)
	}

	u, err = parseBaseURL("http://example.com:1234/path?x=1#frag")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		t.Fatalf("url not normalized: %q", u.String())
	}
}

func TestCalculateBackoff(t *testing.T) {
	baseInterval := 2 * time.Second

	tests := []struct {
		name     string
		failures int
		want     time.Duration
	}{
		{"zero failures", 0, 2 * time.Second},
		{"negative failures", -1, 2 * time.Second},
		{"one failure", 1, 4 * time.Second},
		{"two failures", 2, 8 * time.Second},
		{"three failures", 3, 16 * time.Second},
		{"four failures capped", 4, 30 * time.Second},
		{"many failures capped", 10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateBackoff(tt.failures, baseInterval)
			if got != tt.want {
				t.Errorf("calculateBackoff(%d, %v) = %v, want %v", tt.failures, baseInterval, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff_MaxCap(t *testing.T) {
	baseInterval := 2 * time.Second
	for failures := 0; failures <= 64; failures++ {
		got := calculateBackoff(failures, baseInterval)
		if got > maxBackoff {
			t.Errorf("calculateBackoff(%d, %v) = %v, exceeds maxBackoff %v", failures, baseInterval, got, maxBackoff)
		}
	}
}

func newTestConn(t *testing.T, handler http.Handler, cache Cache) *Conn {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Options{BaseURL: server.URL, PollInterval: 10 * time.Millisecond, Cache: cache})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func decodeRequest(t *testing.T, r *http.Request) queryRequest {
	t.Helper()
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Errorf("decode request: %v", err)
	}
	return req
}

func TestSubscribe_DeliversOnlyChangedResults(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/query" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		req := decodeRequest(t, r)
		if req.Name != "tasks:count" {
			t.Errorf("name = %q, want tasks:count", req.Name)
		}
		value := 1
		if polls.Add(1) > 3 {
			value = 2
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": value})
	})
	c := newTestConn(t, handler, nil)

	got := make(chan int, 8)
	unsub := c.Subscribe("tasks:count", map[string]any{"list": "inbox"}, func(v any) {
		n, err := backend.Decode[int](v)
		if err != nil {
			t.Errorf("Decode: %v", err)
		}
		got <- n
	}, func(err error) { t.Errorf("onError: %v", err) })

	for _, want := range []int{1, 2} {
		select {
		case n := <-got:
			if n != want {
				t.Fatalf("value = %d, want %d", n, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d", want)
		}
	}
	unsub()

	cached, ok := c.ReadCached("tasks:count", map[string]any{"list": "inbox"})
	if !ok {
		t.Fatal("ReadCached miss after delivery")
	}
	if n, _ := backend.Decode[int](cached); n != 2 {
		t.Fatalf("cached = %d, want 2", n)
	}
	select {
	case n := <-got:
		t.Fatalf("unexpected delivery %d", n)
	default:
	}
}

func TestSubscribe_ReportsErrorsAndRecovers(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "database offline", "data": map[string]any{"retry": true}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": "ok"})
	})
	c := newTestConn(t, handler, nil)

	errs := make(chan error, 4)
	values := make(chan string, 4)
	unsub := c.Subscribe("status", nil, func(v any) {
		s, _ := backend.Decode[string](v)
		values <- s
	}, func(err error) { errs <- err })
	defer unsub()

	select {
	case err := <-errs:
		var apiErr *backend.Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("error = %T %v, want *backend.Error", err, err)
		}
		if apiErr.Message != "database offline" || apiErr.Code != http.StatusInternalServerError || apiErr.Function != "status" {
			t.Fatalf("backend error = %+v", apiErr)
		}
		if apiErr.Data == nil {
			t.Fatal("backend error data missing")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}

	select {
	case v := <-values:
		if v != "ok" {
			t.Fatalf("value = %q, want ok", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recovery")
	}
}

func TestSubscribePaginated_LoadMoreRaisesTarget(t *testing.T) {
	t.Parallel()

	all := []string{"a", "b", "c", "d", "e"}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/query/page" {
			http.NotFound(w, r)
			return
		}
		req := decodeRequest(t, r)
		n := req.NumItems
		if n > len(all) {
			n = len(all)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": all[:n], "isDone": n == len(all)})
	})
	c := newTestConn(t, handler, nil)

	pages := make(chan backend.Page, 16)
	unsub := c.SubscribePaginated("letters", nil, backend.PageOptions{InitialNumItems: 2}, func(p backend.Page) {
		pages <- p
	}, func(err error) { t.Errorf("onError: %v", err) })
	defer unsub()

	next := func() backend.Page {
		t.Helper()
		select {
		case p := <-pages:
			return p
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for page")
			return backend.Page{}
		}
	}

	first := next()
	if first.Status != backend.CanLoadMore || len(first.Items) != 2 {
		t.Fatalf("first page = %v with %d items", first.Status, len(first.Items))
	}
	if !first.LoadMore(10) {
		t.Fatal("LoadMore = false, want true")
	}
	if p := next(); p.Status != backend.LoadingMore || len(p.Items) != 2 {
		t.Fatalf("loading page = %v with %d items", p.Status, len(p.Items))
	}
	last := next()
	if last.Status != backend.Exhausted || len(last.Items) != 5 {
		t.Fatalf("last page = %v with %d items", last.Status, len(last.Items))
	}
	items, err := backend.DecodeItems[string](last.Items)
	if err != nil || items[4] != "e" {
		t.Fatalf("items = %v, %v", items, err)
	}
	if last.LoadMore(1) {
		t.Fatal("LoadMore after exhaustion = true, want false")
	}
}

func TestCall_RoutesByKindAndSendsToken(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var paths, auths []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()

		switch r.URL.Path {
		case "/api/auth/check":
			_ = json.NewEncoder(w).Encode(map[string]any{"valid": r.Header.Get("Authorization") == "Bearer fresh"})
		case "/api/mutation", "/api/action":
			req := decodeRequest(t, r)
			_ = json.NewEncoder(w).Encode(map[string]any{"value": req.Name})
		default:
			http.NotFound(w, r)
		}
	})
	c := newTestConn(t, handler, nil)

	confirmed := make(chan bool, 1)
	c.SetAuthTokenProvider(func(_ context.Context, args backend.FetchTokenArgs) (string, error) {
		if args.ForceRefresh {
			return "fresh", nil
		}
		return "stale", nil
	}, func(ok bool) { confirmed <- ok })

	select {
	case ok := <-confirmed:
		if !ok {
			t.Fatal("confirmation = false, want true after forced refresh")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for confirmation")
	}
	if !c.HasActiveAuth() {
		t.Fatal("HasActiveAuth = false, want true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	v, err := c.Call(ctx, "tasks:add", map[string]any{"text": "x"}, backend.CallOptions{Kind: backend.KindMutation})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if name, _ := backend.Decode[string](v); name != "tasks:add" {
		t.Fatalf("result = %q, want tasks:add", name)
	}
	if _, err := c.Call(ctx, "mail:send", nil, backend.CallOptions{Kind: backend.KindAction}); err != nil {
		t.Fatalf("action Call returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/api/auth/check", "/api/auth/check", "/api/mutation", "/api/action"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("paths = %v, want %v", paths, want)
		}
	}
	if auths[2] != "Bearer fresh" || auths[3] != "Bearer fresh" {
		t.Fatalf("authorization headers = %v, want Bearer fresh on calls", auths)
	}

	c.ClearAuth()
	if c.HasActiveAuth() || c.currentToken() != "" {
		t.Fatal("ClearAuth left auth state behind")
	}
}

func TestCall_UnauthorizedIsSentinel(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := newTestConn(t, handler, nil)

	_, err := c.Call(context.Background(), "tasks:add", nil, backend.CallOptions{Kind: backend.KindMutation})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapCache) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func TestReadCached_FallsBackToPersistentCache(t *testing.T) {
	t.Parallel()

	store := &mapCache{data: map[string][]byte{}}
	key, err := backend.CacheKey("profile", "me")
	if err != nil {
		t.Fatalf("CacheKey: %v", err)
	}
	store.data[key] = []byte(`{"name":"Ada"}`)

	c := newTestConn(t, http.NotFoundHandler(), store)
	v, ok := c.ReadCached("profile", "me")
	if !ok {
		t.Fatal("ReadCached miss, want hit from persistent cache")
	}
	profile, err := backend.Decode[struct{ Name string }](v)
	if err != nil || profile.Name != "Ada" {
		t.Fatalf("profile = %+v, %v", profile, err)
	}
	if _, ok := c.ReadCached("profile", "other"); ok {
		t.Fatal("ReadCached hit for unknown args")
	}
}

func TestRecheckAuth_ClearAuthCancelsRequest(t *testing.T) {
	t.Parallel()

	var blocking atomic.Bool
	started := make(chan struct{}, 1)
	cancelled := make(chan struct{}, 1)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/check" {
			http.NotFound(w, r)
			return
		}
		if blocking.Load() {
			started <- struct{}{}
			<-r.Context().Done()
			cancelled <- struct{}{}
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": true})
	})
	c := newTestConn(t, handler, nil)

	confirmed := make(chan bool, 2)
	c.SetAuthTokenProvider(func(context.Context, backend.FetchTokenArgs) (string, error) {
		return "tok", nil
	}, func(ok bool) { confirmed <- ok })
	select {
	case <-confirmed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for confirmation")
	}

	blocking.Store(true)
	c.recheckAuth()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("recheck never reached the backend")
	}

	c.ClearAuth()
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("recheck request not cancelled by ClearAuth")
	}
	select {
	case ok := <-confirmed:
		t.Fatalf("confirmation %v delivered after ClearAuth", ok)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSpawn_RefusedAfterClose(t *testing.T) {
	t.Parallel()

	c, err := New(Options{BaseURL: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	c.Close()

	if c.spawn(func() { t.Error("spawned goroutine ran after Close") }) {
		t.Fatal("spawn = true after Close, want false")
	}
	// A recheck after Close has no registration and must not start work.
	c.recheckAuth()
}

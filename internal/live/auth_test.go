package live

import (
	"errors"
	"reflect"
	"testing"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/backend/memory"
)

// capturingConn keeps every confirmation callback handed to the backend so a
// test can fire stale ones.
type capturingConn struct {
	*memory.Conn
	confirms []func(bool)
}

func (c *capturingConn) SetAuthTokenProvider(fetch backend.TokenFetcher, onConfirmed func(bool)) {
	c.confirms = append(c.confirms, onConfirmed)
	c.Conn.SetAuthTokenProvider(fetch, onConfirmed)
}

func TestAuthSync_BackendOverridesAdapter(t *testing.T) {
	client, conn, _ := newTestClient(t)
	adapter := newFakeAdapter(client.Runtime(), false, true)

	auth := NewAuthSync(client, adapter)
	defer auth.Dispose()

	if auth.Confirmed() != ConfirmationTrue || !auth.IsAuthenticated() {
		t.Fatalf("confirmed = %v authenticated = %v, want optimistic true", auth.Confirmed(), auth.IsAuthenticated())
	}
	if !conn.HasActiveAuth() {
		t.Fatal("HasActiveAuth = false, want true")
	}

	conn.ConfirmAuth(false)
	if auth.IsAuthenticated() {
		t.Fatal("IsAuthenticated = true after backend rejection, want false")
	}
	if got := auth.Status(); got != AuthUnauthenticated {
		t.Fatalf("Status = %v, want %v", got, AuthUnauthenticated)
	}
}

func TestAuthSync_NoFlickerFromLoadingToAuthenticated(t *testing.T) {
	client, _, _ := newTestClient(t)
	rt := client.Runtime()
	adapter := newFakeAdapter(rt, true, false)

	auth := NewAuthSync(client, adapter)
	defer auth.Dispose()

	var seen []AuthStatus
	watcher := rt.Effect(func(func(func())) {
		status := auth.Status()
		if len(seen) == 0 || seen[len(seen)-1] != status {
			seen = append(seen, status)
		}
	})
	defer watcher.Dispose()

	rt.Batch(func() {
		adapter.loading.Set(false)
		adapter.authenticated.Set(true)
	})

	if want := []AuthStatus{AuthLoading, AuthAuthenticated}; !reflect.DeepEqual(seen, want) {
		t.Fatalf("statuses = %v, want %v", seen, want)
	}
}

func TestAuthSync_AdapterTransitionsClearBackend(t *testing.T) {
	client, conn, _ := newTestClient(t)
	adapter := newFakeAdapter(client.Runtime(), true, false)

	auth := NewAuthSync(client, adapter)
	defer auth.Dispose()

	if auth.Confirmed() != ConfirmationPending || !auth.IsLoading() {
		t.Fatalf("confirmed = %v loading = %v, want pending", auth.Confirmed(), auth.IsLoading())
	}
	if conn.HasActiveAuth() {
		t.Fatal("token provider registered while adapter is loading")
	}

	client.Runtime().Batch(func() {
		adapter.loading.Set(false)
		adapter.authenticated.Set(true)
	})
	if !conn.HasActiveAuth() {
		t.Fatal("HasActiveAuth = false after sign-in, want true")
	}

	adapter.authenticated.Set(false)
	if conn.HasActiveAuth() {
		t.Fatal("HasActiveAuth = true after sign-out, want false")
	}
	if auth.Confirmed() != ConfirmationFalse || auth.Status() != AuthUnauthenticated {
		t.Fatalf("confirmed = %v status = %v", auth.Confirmed(), auth.Status())
	}
	if stats := conn.Stats(); stats.AuthRegistrations != 1 || stats.AuthClears != 1 {
		t.Fatalf("stats = %+v, want 1 registration and 1 clear", stats)
	}
}

func TestAuthSync_IgnoresStaleConfirmation(t *testing.T) {
	client, conn, _ := newTestClient(t)
	capturing := &capturingConn{Conn: conn}
	client = NewClient(client.Runtime(), capturing)
	adapter := newFakeAdapter(client.Runtime(), false, true)

	auth := NewAuthSync(client, adapter)
	defer auth.Dispose()

	adapter.authenticated.Set(false)
	if len(capturing.confirms) != 1 {
		t.Fatalf("registrations = %d, want 1", len(capturing.confirms))
	}
	capturing.confirms[0](true)

	if auth.Confirmed() != ConfirmationFalse {
		t.Fatalf("confirmed = %v after stale callback, want false", auth.Confirmed())
	}
}

func TestAuthSync_ValidatesTokenThroughBackend(t *testing.T) {
	client, conn, loop := newDispatchedClient(t, memory.WithTokenValidator(func(token string) bool {
		return token == "token"
	}))
	adapter := newFakeAdapter(client.Runtime(), false, true)

	auth := NewAuthSync(client, adapter)
	defer auth.Dispose()

	eventually(t, loop, func() bool { return conn.Token() == "token" })
	if !auth.IsAuthenticated() {
		t.Fatal("IsAuthenticated = false, want true")
	}
}

func TestAuthSync_FetchFailureRecordsError(t *testing.T) {
	client, conn, loop := newDispatchedClient(t, memory.WithTokenValidator(func(string) bool { return true }))
	adapter := newFakeAdapter(client.Runtime(), false, true)
	adapter.fetchErr = errors.New("token expired")

	auth := NewAuthSync(client, adapter)
	defer auth.Dispose()

	eventually(t, loop, func() bool {
		return auth.Err() != nil && auth.Confirmed() == ConfirmationFalse
	})
	if got := auth.Err().Error(); got != "token expired" {
		t.Fatalf("Err = %q, want token expired", got)
	}
	if conn.Token() != "" {
		t.Fatalf("Token = %q, want empty", conn.Token())
	}
}

func TestRegistry_SharesBridgePerScope(t *testing.T) {
	client, conn, _ := newTestClient(t)
	registry := NewRegistry()
	scope := NewScope(client)
	other := NewScope(client)
	adapter := newFakeAdapter(client.Runtime(), false, true)

	first, err := registry.Auth(scope, adapter)
	if err != nil {
		t.Fatalf("Auth: %v", err)
	}
	second, err := registry.Auth(scope, adapter)
	if err != nil {
		t.Fatalf("Auth: %v", err)
	}
	if first != second {
		t.Fatal("Auth returned different bridges for one scope")
	}
	third, _ := registry.Auth(other, adapter)
	if third == first {
		t.Fatal("Auth shared a bridge across scopes")
	}
	if registry.Len() != 2 {
		t.Fatalf("Len = %d, want 2", registry.Len())
	}

	q := NewQuery(client, echoRef, func() Args[string] { return With("a") }, QueryOptions[string]{})
	scope.Own(q)

	scope.Dispose()
	if _, ok := registry.Lookup(scope); ok {
		t.Fatal("bridge still registered after scope disposal")
	}
	if registry.Len() != 1 {
		t.Fatalf("Len = %d, want 1", registry.Len())
	}
	if stats := conn.Stats(); stats.Active != 0 {
		t.Fatalf("active subscriptions = %d, want 0", stats.Active)
	}
	if _, err := registry.Auth(scope, adapter); !errors.Is(err, ErrScopeDisposed) {
		t.Fatalf("Auth on disposed scope error = %v, want ErrScopeDisposed", err)
	}
	other.Dispose()
	if conn.HasActiveAuth() {
		t.Fatal("HasActiveAuth = true after every scope disposed, want false")
	}
}

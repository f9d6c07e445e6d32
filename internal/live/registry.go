package live

import (
	"sync"

	"github.com/google/uuid"
)

// Scope groups managers that share one auth bridge, typically one screen or
// one session. Disposing it tears down everything it owns.
type Scope struct {
	id     uuid.UUID
	client *Client

	mu       sync.Mutex
	disposed bool
	onDone   []func()
}

// NewScope returns a live scope bound to c.
func NewScope(c *Client) *Scope {
	return &Scope{id: uuid.New(), client: c}
}

// ID identifies the scope in logs.
func (s *Scope) ID() uuid.UUID { return s.id }

// Client returns the client managers in this scope use.
func (s *Scope) Client() *Client { return s.client }

// OnDispose registers fn to run when the scope is disposed. If the scope is
// already disposed, fn runs immediately.
func (s *Scope) OnDispose(fn func()) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onDone = append(s.onDone, fn)
	s.mu.Unlock()
}

// Own disposes d together with the scope.
func (s *Scope) Own(d Disposer) {
	s.OnDispose(d.Dispose)
}

// Disposed reports whether Dispose has run.
func (s *Scope) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose runs registered teardowns in reverse order. It is idempotent.
func (s *Scope) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	fns := s.onDone
	s.onDone = nil
	s.mu.Unlock()

	s.client.log.Debug().Str("scope", s.id.String()).Int("teardowns", len(fns)).Msg("disposing scope")
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// Registry maps scopes to their auth bridge.
type Registry struct {
	mu      sync.Mutex
	bridges map[*Scope]*AuthSync
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bridges: make(map[*Scope]*AuthSync)}
}

// Auth returns the scope's bridge, building it with adapter on first use.
// Later calls return the same bridge and ignore adapter. The bridge is
// disposed and forgotten when the scope is disposed. Auth must be called on
// the runtime goroutine, since building a bridge starts an effect.
func (r *Registry) Auth(s *Scope, adapter IdentityAdapter) (*AuthSync, error) {
	if s.Disposed() {
		return nil, ErrScopeDisposed
	}
	if bridge, ok := r.Lookup(s); ok {
		return bridge, nil
	}

	built := NewAuthSync(s.client, adapter)

	r.mu.Lock()
	if existing, ok := r.bridges[s]; ok {
		r.mu.Unlock()
		built.Dispose()
		return existing, nil
	}
	r.bridges[s] = built
	r.mu.Unlock()

	s.OnDispose(func() {
		r.mu.Lock()
		delete(r.bridges, s)
		r.mu.Unlock()
		built.Dispose()
	})
	return built, nil
}

// Lookup returns the scope's bridge if one was built.
func (r *Registry) Lookup(s *Scope) (*AuthSync, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bridge, ok := r.bridges[s]
	return bridge, ok
}

// Len returns the number of live bridges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}

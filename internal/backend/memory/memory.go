// Package memory implements backend.Connection in process. It backs the
// terminal client's demo mode and the live package tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/backend"
)

// QueryHandler computes a live query result.
type QueryHandler func(args any) (any, error)

// ListHandler computes the full ordered result list of a paginated query.
type ListHandler func(args any) ([]any, error)

// CallHandler runs a mutation or action.
type CallHandler func(ctx context.Context, args any) (any, error)

// Stats counts subscription and auth traffic.
type Stats struct {
	Subscribes        int
	Unsubscribes      int
	Active            int
	MaxActive         int
	AuthRegistrations int
	AuthClears        int
	Calls             int
}

// Option configures a Conn.
type Option func(*Conn)

// WithDispatcher routes every callback through d instead of invoking it on
// the calling goroutine.
func WithDispatcher(d backend.Dispatcher) Option {
	return func(c *Conn) { c.dispatch = d }
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Conn) { c.log = logger }
}

// WithTokenValidator makes SetAuthTokenProvider fetch a token and confirm it
// asynchronously using valid. Without it, confirmation waits for ConfirmAuth.
func WithTokenValidator(valid func(token string) bool) Option {
	return func(c *Conn) { c.validate = valid }
}

type subscription struct {
	id        uuid.UUID
	name      string
	args      any
	key       string
	paginated bool
	numItems  int
	status    backend.PageStatus
	lastItems []any
	onData    func(any)
	onPage    func(backend.Page)
	onError   func(error)
}

type authState struct {
	generation  uint64
	fetch       backend.TokenFetcher
	onConfirmed func(bool)
	cancel      context.CancelFunc
}

// Conn is an in-memory backend.
type Conn struct {
	mu       sync.Mutex
	dispatch backend.Dispatcher
	validate func(string) bool
	log      zerolog.Logger

	queries map[string]QueryHandler
	lists   map[string]ListHandler
	calls   map[string]CallHandler
	subs    map[uuid.UUID]*subscription
	order   []uuid.UUID
	cache   map[string]any
	auth    authState
	token   string
	stats   Stats
	closed  bool
}

// Ensure Conn implements backend.Connection at compile time.
var _ backend.Connection = (*Conn)(nil)

// New returns an empty backend.
func New(opts ...Option) *Conn {
	c := &Conn{
		log:     zerolog.Nop(),
		queries: make(map[string]QueryHandler),
		lists:   make(map[string]ListHandler),
		calls:   make(map[string]CallHandler),
		subs:    make(map[uuid.UUID]*subscription),
		cache:   make(map[string]any),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// HandleQuery registers a live query. Subscriptions to it emit immediately
// and again on every Invalidate.
func (c *Conn) HandleQuery(name string, h QueryHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries[name] = h
}

// HandleList registers a paginated query over the list h returns.
func (c *Conn) HandleList(name string, h ListHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[name] = h
}

// HandleCall registers a mutation or action.
func (c *Conn) HandleCall(name string, h CallHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[name] = h
}

// Subscribe implements backend.Connection.
func (c *Conn) Subscribe(name string, args any, onData func(any), onError func(error)) func() {
	sub := &subscription{name: name, args: args, onData: onData, onError: onError}
	id, ok := c.add(sub)
	if !ok {
		c.deliver(func() { onError(backend.ErrClosed) })
		return func() {}
	}
	c.refresh(sub)
	return c.remover(id)
}

// SubscribePaginated implements backend.Connection.
func (c *Conn) SubscribePaginated(name string, args any, opts backend.PageOptions, onPage func(backend.Page), onError func(error)) func() {
	opts = opts.Normalize()
	sub := &subscription{
		name:      name,
		args:      args,
		paginated: true,
		numItems:  opts.InitialNumItems,
		status:    backend.LoadingFirstPage,
		onPage:    onPage,
		onError:   onError,
	}
	id, ok := c.add(sub)
	if !ok {
		c.deliver(func() { onError(backend.ErrClosed) })
		return func() {}
	}
	c.refresh(sub)
	return c.remover(id)
}

func (c *Conn) add(sub *subscription) (uuid.UUID, bool) {
	key, err := backend.CacheKey(sub.name, sub.args)
	if err != nil {
		key = sub.name
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return uuid.Nil, false
	}
	sub.id = uuid.New()
	sub.key = key
	c.subs[sub.id] = sub
	c.order = append(c.order, sub.id)
	c.stats.Subscribes++
	c.stats.Active++
	if c.stats.Active > c.stats.MaxActive {
		c.stats.MaxActive = c.stats.Active
	}
	c.log.Debug().Str("query", sub.name).Str("sub", sub.id.String()).Msg("subscribe")
	return sub.id, true
}

func (c *Conn) remover(id uuid.UUID) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; !ok {
				return
			}
			delete(c.subs, id)
			for i, v := range c.order {
				if v == id {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
			c.stats.Unsubscribes++
			c.stats.Active--
			c.log.Debug().Str("sub", id.String()).Msg("unsubscribe")
		})
	}
}

// refresh recomputes sub from its registered handler, if any.
func (c *Conn) refresh(sub *subscription) {
	c.mu.Lock()
	query := c.queries[sub.name]
	list := c.lists[sub.name]
	c.mu.Unlock()

	if sub.paginated {
		if list == nil {
			return
		}
		items, err := list(sub.args)
		if err != nil {
			c.failSub(sub, err)
			return
		}
		c.emitList(sub, items)
		return
	}

	if query == nil {
		return
	}
	value, err := query(sub.args)
	if err != nil {
		c.failSub(sub, err)
		return
	}
	c.emitValue(sub, value)
}

func (c *Conn) emitValue(sub *subscription, value any) {
	c.mu.Lock()
	if _, live := c.subs[sub.id]; !live {
		c.mu.Unlock()
		return
	}
	c.cache[sub.key] = value
	c.mu.Unlock()
	c.deliver(func() { sub.onData(value) })
}

func (c *Conn) emitList(sub *subscription, all []any) {
	c.mu.Lock()
	if _, live := c.subs[sub.id]; !live {
		c.mu.Unlock()
		return
	}
	n := sub.numItems
	status := backend.CanLoadMore
	if n >= len(all) {
		n = len(all)
		status = backend.Exhausted
	}
	sub.status = status
	items := append([]any(nil), all[:n]...)
	sub.lastItems = items
	c.mu.Unlock()

	c.emitPage(sub, items, status)
}

func (c *Conn) emitPage(sub *subscription, items []any, status backend.PageStatus) {
	page := backend.Page{Items: items, Status: status, LoadMore: c.loadMoreFor(sub.id)}
	c.deliver(func() { sub.onPage(page) })
}

func (c *Conn) failSub(sub *subscription, err error) {
	c.mu.Lock()
	_, live := c.subs[sub.id]
	c.mu.Unlock()
	if !live {
		return
	}
	c.deliver(func() { sub.onError(err) })
}

func (c *Conn) loadMoreFor(id uuid.UUID) func(int) bool {
	return func(n int) bool {
		if n <= 0 {
			return false
		}
		c.mu.Lock()
		sub, ok := c.subs[id]
		if !ok || sub.status != backend.CanLoadMore {
			c.mu.Unlock()
			return false
		}
		sub.numItems += n
		sub.status = backend.LoadingMore
		current := append([]any(nil), sub.lastItems...)
		c.mu.Unlock()

		c.emitPage(sub, current, backend.LoadingMore)
		c.refreshLoadingMore(sub)
		return true
	}
}

func (c *Conn) refreshLoadingMore(sub *subscription) {
	c.mu.Lock()
	list := c.lists[sub.name]
	c.mu.Unlock()
	if list == nil {
		return
	}
	items, err := list(sub.args)
	if err != nil {
		c.failSub(sub, err)
		return
	}
	c.emitList(sub, items)
}

// Invalidate re-runs the handlers of every live subscription to name.
func (c *Conn) Invalidate(name string) {
	for _, sub := range c.matching(name) {
		c.refresh(sub)
	}
}

// Publish delivers value to every live subscription to name, bypassing any
// handler.
func (c *Conn) Publish(name string, value any) {
	for _, sub := range c.matching(name) {
		if sub.paginated {
			continue
		}
		c.emitValue(sub, value)
	}
}

// PublishPage delivers a page with an explicit status tag to every live
// paginated subscription to name.
func (c *Conn) PublishPage(name string, items []any, status backend.PageStatus) {
	for _, sub := range c.matching(name) {
		if !sub.paginated {
			continue
		}
		page := append([]any(nil), items...)
		c.mu.Lock()
		sub.status = status
		sub.lastItems = page
		c.mu.Unlock()
		c.emitPage(sub, page, status)
	}
}

// Fail delivers err to every live subscription to name.
func (c *Conn) Fail(name string, err error) {
	for _, sub := range c.matching(name) {
		c.failSub(sub, err)
	}
}

func (c *Conn) matching(name string) []*subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*subscription
	for _, id := range c.order {
		if sub := c.subs[id]; sub != nil && sub.name == name {
			out = append(out, sub)
		}
	}
	return out
}

// Seed stores value in the local cache read by ReadCached.
func (c *Conn) Seed(name string, args any, value any) error {
	key, err := backend.CacheKey(name, args)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = value
	return nil
}

// ReadCached implements backend.Connection.
func (c *Conn) ReadCached(name string, args any) (any, bool) {
	key, err := backend.CacheKey(name, args)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache[key]
	return v, ok
}

// Call implements backend.Connection.
func (c *Conn) Call(ctx context.Context, name string, args any, opts backend.CallOptions) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, backend.ErrClosed
	}
	h := c.calls[name]
	c.stats.Calls++
	c.mu.Unlock()

	if h == nil {
		return nil, fmt.Errorf("%s %s: %w", opts.Kind, name, backend.ErrNoHandler)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := h(ctx, args)
	if err != nil {
		return nil, err
	}
	if opts.OptimisticKey != "" {
		c.Invalidate(opts.OptimisticKey)
	}
	return result, nil
}

// SetAuthTokenProvider implements backend.Connection.
func (c *Conn) SetAuthTokenProvider(fetch backend.TokenFetcher, onConfirmed func(bool)) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.auth.cancel != nil {
		c.auth.cancel()
	}
	c.auth.generation++
	c.auth.fetch = fetch
	c.auth.onConfirmed = onConfirmed
	c.auth.cancel = cancel
	c.stats.AuthRegistrations++
	gen := c.auth.generation
	validate := c.validate
	c.mu.Unlock()

	if validate == nil {
		return
	}
	go c.confirm(ctx, gen, fetch, validate)
}

func (c *Conn) confirm(ctx context.Context, gen uint64, fetch backend.TokenFetcher, validate func(string) bool) {
	ok := false
	for _, force := range []bool{false, true} {
		token, err := fetch(ctx, backend.FetchTokenArgs{ForceRefresh: force})
		if err != nil || token == "" {
			break
		}
		if validate(token) {
			c.mu.Lock()
			c.token = token
			c.mu.Unlock()
			ok = true
			break
		}
	}
	if ctx.Err() != nil {
		return
	}
	c.confirmGeneration(gen, ok)
}

// ConfirmAuth reports verdict to the current token provider, as the backend
// would after checking a token.
func (c *Conn) ConfirmAuth(verdict bool) {
	c.mu.Lock()
	gen := c.auth.generation
	c.mu.Unlock()
	c.confirmGeneration(gen, verdict)
}

func (c *Conn) confirmGeneration(gen uint64, verdict bool) {
	c.mu.Lock()
	if c.auth.onConfirmed == nil || c.auth.generation != gen {
		c.mu.Unlock()
		return
	}
	cb := c.auth.onConfirmed
	c.mu.Unlock()
	c.deliver(func() { cb(verdict) })
}

// ClearAuth implements backend.Connection.
func (c *Conn) ClearAuth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth.cancel != nil {
		c.auth.cancel()
	}
	c.auth = authState{generation: c.auth.generation + 1}
	c.token = ""
	c.stats.AuthClears++
}

// HasActiveAuth implements backend.Connection.
func (c *Conn) HasActiveAuth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth.fetch != nil
}

// Token returns the last token that passed validation.
func (c *Conn) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Stats returns a copy of the traffic counters.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close drops every subscription and rejects further calls.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stats.Unsubscribes += len(c.subs)
	c.stats.Active = 0
	c.subs = make(map[uuid.UUID]*subscription)
	c.order = nil
	if c.auth.cancel != nil {
		c.auth.cancel()
	}
}

func (c *Conn) deliver(fn func()) {
	if c.dispatch != nil {
		c.dispatch.Post(fn)
		return
	}
	fn()
}

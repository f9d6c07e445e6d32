package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/config"
	"github.com/five82/tether/internal/live"
	"github.com/five82/tether/internal/reactive"
	"github.com/five82/tether/internal/state"
	"github.com/five82/tether/internal/ui"
)

type jsonArgs = map[string]any

// Session owns the runtime side of the client: one manager per configured
// watch or call, the auth bridge for its scope and the effect that publishes
// views to the store. Every method except the ui.Controller ones must run on
// the loop goroutine.
type Session struct {
	ctx     context.Context
	sched   reactive.Scheduler
	client  *live.Client
	scope   *live.Scope
	auth    *live.AuthSync
	store   *state.Store
	signOut func()
	log     zerolog.Logger

	watches []*watch
	calls   []*call
}

// SessionOptions configure NewSession.
type SessionOptions struct {
	Watches   []config.Watch
	Mutations []config.Mutation
	Adapter   live.IdentityAdapter
	Registry  *live.Registry
	Store     *state.Store
	// SignOut runs on the loop when the user signs out. Nil disables it.
	SignOut func()
}

var _ ui.Controller = (*Session)(nil)

// NewSession builds every manager and starts publishing. It must run on the
// loop goroutine that sched feeds.
func NewSession(ctx context.Context, sched reactive.Scheduler, client *live.Client, opts SessionOptions) (*Session, error) {
	registry := opts.Registry
	if registry == nil {
		registry = live.NewRegistry()
	}
	scope := live.NewScope(client)
	auth, err := registry.Auth(scope, opts.Adapter)
	if err != nil {
		return nil, fmt.Errorf("auth bridge: %w", err)
	}

	s := &Session{
		ctx:     ctx,
		sched:   sched,
		client:  client,
		scope:   scope,
		auth:    auth,
		store:   opts.Store,
		signOut: opts.SignOut,
		log:     client.Logger().With().Str("component", "session").Str("scope", scope.ID().String()).Logger(),
	}
	for _, cfg := range opts.Watches {
		w := s.newWatch(cfg)
		s.watches = append(s.watches, w)
		scope.Own(w)
	}
	for _, cfg := range opts.Mutations {
		s.calls = append(s.calls, s.newCall(cfg))
	}
	if s.store != nil {
		scope.Own(client.Runtime().Effect(func(func(func())) { s.publish() }))
	}
	s.log.Info().Int("watches", len(s.watches)).Int("calls", len(s.calls)).Msg("session started")
	return s, nil
}

// Close disposes every manager and the auth bridge.
func (s *Session) Close() {
	s.scope.Dispose()
}

// Auth returns the scope's auth bridge.
func (s *Session) Auth() *live.AuthSync { return s.auth }

// predicateEnv exposes auth state to enabled expressions. Reads are tracked.
func (s *Session) predicateEnv() config.PredicateEnv {
	return config.PredicateEnv{
		Authenticated: s.auth.IsAuthenticated(),
		Loading:       s.auth.IsLoading(),
		Status:        string(s.auth.Status()),
	}
}

// Views renders the current state of every manager.
func (s *Session) Views() (state.Views, error) {
	views := state.Views{
		Auth: state.AuthView{
			Status:    string(s.auth.Status()),
			Confirmed: s.auth.Confirmed().String(),
			Err:       s.auth.Err(),
		},
	}
	var firstErr error
	for _, w := range s.watches {
		v := w.view()
		if firstErr == nil && v.Err != nil {
			firstErr = fmt.Errorf("%s: %w", v.Name, v.Err)
		}
		views.Watches = append(views.Watches, v)
	}
	for _, c := range s.calls {
		views.Calls = append(views.Calls, c.view())
	}
	return views, firstErr
}

func (s *Session) publish() {
	views, err := s.Views()
	s.store.Update(views, err)
}

func (s *Session) findWatch(name string) *watch {
	for _, w := range s.watches {
		if w.cfg.Name == name {
			return w
		}
	}
	return nil
}

func (s *Session) findCall(name string) *call {
	for _, c := range s.calls {
		if c.cfg.Name == name {
			return c
		}
	}
	return nil
}

// Refetch implements ui.Controller.
func (s *Session) Refetch(name string) {
	s.sched.Post(func() {
		if w := s.findWatch(name); w != nil {
			w.refetch()
		}
	})
}

// LoadMore implements ui.Controller.
func (s *Session) LoadMore(name string) {
	s.sched.Post(func() {
		if w := s.findWatch(name); w != nil && w.paginated != nil {
			if !w.paginated.LoadMore(w.pageSize()) {
				s.log.Debug().Str("watch", name).Msg("load more ignored")
			}
		}
	})
}

// Reset implements ui.Controller.
func (s *Session) Reset(name string) {
	s.sched.Post(func() {
		if w := s.findWatch(name); w != nil {
			w.reset()
		}
	})
}

// Run implements ui.Controller.
func (s *Session) Run(name string) {
	s.sched.Post(func() {
		if c := s.findCall(name); c != nil {
			c.run(s.ctx)
		}
	})
}

// ResetCall implements ui.Controller.
func (s *Session) ResetCall(name string) {
	s.sched.Post(func() {
		if c := s.findCall(name); c != nil {
			c.operation().Reset()
		}
	})
}

// SignOut implements ui.Controller.
func (s *Session) SignOut() {
	s.sched.Post(func() {
		if s.signOut == nil {
			s.log.Warn().Msg("sign out is not supported by this identity")
			return
		}
		s.signOut()
	})
}

// watch is one configured query or paginated query.
type watch struct {
	cfg       config.Watch
	query     *live.Query[jsonArgs, json.RawMessage]
	paginated *live.PaginatedQuery[jsonArgs, json.RawMessage]
	updates   int
	updatedAt time.Time
	predErr   error
}

func (s *Session) newWatch(cfg config.Watch) *watch {
	w := &watch{cfg: cfg}
	args := cfg.Args
	if args == nil {
		args = jsonArgs{}
	}
	enabled := func() bool {
		ok, err := cfg.Enabled.Eval(s.predicateEnv())
		if err != nil && w.predErr == nil {
			s.log.Warn().Err(err).Str("watch", cfg.Name).Str("enabled", cfg.Enabled.Source()).Msg("enabled predicate failed")
		}
		w.predErr = err
		return ok
	}
	touch := func() {
		w.updates++
		w.updatedAt = time.Now()
	}

	switch cfg.Kind {
	case backend.KindPaginatedQuery:
		w.paginated = live.NewPaginatedQuery(s.client,
			backend.PaginatedQuery[jsonArgs, json.RawMessage](cfg.Name),
			func() live.Args[jsonArgs] {
				if !enabled() {
					return live.Skip[jsonArgs]()
				}
				return live.With(args)
			},
			func() backend.PageOptions { return backend.PageOptions{InitialNumItems: cfg.PageSize} },
			live.PaginatedOptions[json.RawMessage]{
				OnSuccess: func([]json.RawMessage) { touch() },
			},
		)
	default:
		w.query = live.NewQuery(s.client,
			backend.Query[jsonArgs, json.RawMessage](cfg.Name),
			func() live.Args[jsonArgs] { return live.With(args) },
			live.QueryOptions[json.RawMessage]{
				Enabled:   enabled,
				OnSuccess: func(json.RawMessage) { touch() },
			},
		)
	}
	return w
}

func (w *watch) pageSize() int {
	return backend.PageOptions{InitialNumItems: w.cfg.PageSize}.Normalize().InitialNumItems
}

func (w *watch) refetch() {
	if w.query != nil {
		w.query.Refetch()
		return
	}
	w.paginated.Reset()
}

func (w *watch) reset() {
	if w.paginated != nil {
		w.paginated.Reset()
		return
	}
	w.query.Refetch()
}

// Dispose implements live.Disposer.
func (w *watch) Dispose() {
	if w.query != nil {
		w.query.Dispose()
	}
	if w.paginated != nil {
		w.paginated.Dispose()
	}
}

func (w *watch) view() state.WatchView {
	v := state.WatchView{
		Name:      w.cfg.Name,
		Kind:      w.cfg.Kind.String(),
		Updates:   w.updates,
		UpdatedAt: w.updatedAt,
	}
	if w.query != nil {
		st := w.query.State()
		v.Status = string(st.Status())
		v.Err = st.Err
		v.Loading = st.IsLoading
		if st.HasData {
			v.Data = formatJSON(st.Data, true)
		}
	} else {
		st := w.paginated.State()
		v.Status = string(st.Status())
		v.Err = st.Err
		v.Loading = st.IsLoadingFirstPage || st.IsLoadingMore
		v.CanLoadMore = st.CanLoadMore
		v.Exhausted = st.IsExhausted
		v.Items = make([]string, len(st.Results))
		for i, item := range st.Results {
			v.Items[i] = formatJSON(item, false)
		}
	}
	if v.Err == nil && w.predErr != nil {
		v.Err = w.predErr
	}
	return v
}

// call is one configured mutation or action.
type call struct {
	cfg      config.Mutation
	mutation *live.Mutation[jsonArgs, json.RawMessage]
	action   *live.Action[jsonArgs, json.RawMessage]
}

func (s *Session) newCall(cfg config.Mutation) *call {
	c := &call{cfg: cfg}
	logger := s.log.With().Str("call", cfg.Name).Logger()
	opts := live.CallOptions[json.RawMessage]{
		OnSuccess: func(json.RawMessage) { logger.Info().Msg("call succeeded") },
		OnError:   func(err error) { logger.Warn().Err(err).Msg("call failed") },
	}
	if cfg.Kind == backend.KindAction {
		c.action = live.NewAction(s.client, backend.Action[jsonArgs, json.RawMessage](cfg.Name), opts)
		return c
	}
	c.mutation = live.NewMutation(s.client, backend.Mutation[jsonArgs, json.RawMessage](cfg.Name), opts)
	c.mutation.Invalidates = cfg.Key
	return c
}

func (c *call) args() jsonArgs {
	if c.cfg.Args == nil {
		return jsonArgs{}
	}
	return c.cfg.Args
}

func (c *call) operation() *live.Operation[json.RawMessage] {
	if c.action != nil {
		return c.action.Operation
	}
	return c.mutation.Operation
}

func (c *call) run(ctx context.Context) *live.Pending[json.RawMessage] {
	if c.action != nil {
		return c.action.Run(ctx, c.args())
	}
	return c.mutation.Mutate(ctx, c.args())
}

func (c *call) view() state.CallView {
	st := c.operation().State()
	v := state.CallView{
		Name:   c.cfg.Name,
		Kind:   c.cfg.Kind.String(),
		Status: string(st.Status()),
		Err:    st.Err,
	}
	if st.HasData {
		v.Result = formatJSON(st.Data, false)
	}
	return v
}

// formatJSON renders raw for display. Invalid JSON is shown as text.
func formatJSON(raw json.RawMessage, indent bool) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	var err error
	if indent {
		err = json.Indent(&buf, raw, "", "  ")
	} else {
		err = json.Compact(&buf, raw)
	}
	if err != nil {
		return string(raw)
	}
	return buf.String()
}

package live

import (
	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/reactive"
)

// PaginatedState is a snapshot of a PaginatedQuery. Results is shared with
// the manager and must not be modified.
type PaginatedState[I any] struct {
	Results            []I
	Err                error
	IsLoadingFirstPage bool
	IsLoadingMore      bool
	CanLoadMore        bool
	IsExhausted        bool
	IsSkipped          bool
}

// Status derives the pagination status.
func (s PaginatedState[I]) Status() PaginatedStatus {
	return derivePaginatedStatus(s.IsSkipped, s.Err, pageFlags{
		loadingFirst: s.IsLoadingFirstPage,
		loadingMore:  s.IsLoadingMore,
		canLoadMore:  s.CanLoadMore,
		exhausted:    s.IsExhausted,
	})
}

// PaginatedOptions configures a PaginatedQuery.
type PaginatedOptions[I any] struct {
	// OnSuccess receives the full result list for every page callback except
	// LoadingFirstPage.
	OnSuccess func([]I)
	OnError   func(error)
}

type pageFlags struct {
	loadingFirst bool
	loadingMore  bool
	canLoadMore  bool
	exhausted    bool
}

func flagsFor(status backend.PageStatus) pageFlags {
	switch status {
	case backend.LoadingFirstPage:
		return pageFlags{loadingFirst: true}
	case backend.LoadingMore:
		return pageFlags{loadingMore: true}
	case backend.CanLoadMore:
		return pageFlags{canLoadMore: true}
	case backend.Exhausted:
		return pageFlags{exhausted: true}
	default:
		return pageFlags{}
	}
}

func derivePaginatedStatus(skipped bool, err error, f pageFlags) PaginatedStatus {
	switch {
	case skipped:
		return PaginatedSkipped
	case f.loadingFirst:
		return PaginatedLoadingFirstPage
	case f.loadingMore:
		return PaginatedLoadingMore
	case err != nil:
		return PaginatedError
	case f.exhausted:
		return PaginatedExhausted
	default:
		return PaginatedCanLoadMore
	}
}

// PaginatedQuery keeps at most one paginated subscription open and mirrors
// the backend's merged result list.
type PaginatedQuery[A, I any] struct {
	client   *Client
	ref      backend.PaginatedQueryRef[A, I]
	args     func() Args[A]
	pageOpts func() backend.PageOptions
	opts     PaginatedOptions[I]
	log      zerolog.Logger

	results *reactive.Cell[[]I]
	err     *reactive.Cell[error]
	flags   *reactive.Cell[pageFlags]
	skipped *reactive.Cell[bool]
	resets  *reactive.Cell[uint64]

	loadMore func(int) bool
	attempt  uint64
	effect   *reactive.Effect
}

// NewPaginatedQuery builds a PaginatedQuery and subscribes immediately unless
// args is skipped. pageOpts may be nil and is read reactively.
func NewPaginatedQuery[A, I any](c *Client, ref backend.PaginatedQueryRef[A, I], args func() Args[A], pageOpts func() backend.PageOptions, opts PaginatedOptions[I]) *PaginatedQuery[A, I] {
	rt := c.rt
	q := &PaginatedQuery[A, I]{
		client:   c,
		ref:      ref,
		args:     args,
		pageOpts: pageOpts,
		opts:     opts,
		log:      c.log.With().Str("query", ref.Name()).Logger(),
		results:  reactive.NewCell(rt, []I{}),
		err:      reactive.NewCell[error](rt, nil),
		flags:    reactive.NewCell(rt, pageFlags{}),
		skipped:  reactive.NewCell(rt, false),
		resets:   reactive.NewCell[uint64](rt, 0),
	}
	q.effect = rt.Effect(q.react)
	return q
}

func (q *PaginatedQuery[A, I]) react(onCleanup func(func())) {
	q.resets.Get()
	args := q.args()
	var pageOpts backend.PageOptions
	if q.pageOpts != nil {
		pageOpts = q.pageOpts()
	}

	q.attempt++
	attempt := q.attempt
	q.loadMore = nil

	if args.Skipped() {
		q.results.Set([]I{})
		q.err.Set(nil)
		q.flags.Set(pageFlags{})
		q.skipped.Set(true)
		q.log.Debug().Uint64("attempt", attempt).Msg("skipped")
		return
	}

	q.results.Set([]I{})
	q.err.Set(nil)
	q.flags.Set(pageFlags{loadingFirst: true})
	q.skipped.Set(false)

	q.log.Debug().Uint64("attempt", attempt).Int("initial", pageOpts.Normalize().InitialNumItems).Msg("subscribe")
	unsubscribe := q.client.conn.SubscribePaginated(q.ref.Name(), args.Value(), pageOpts,
		func(page backend.Page) { q.onPage(attempt, page) },
		func(err error) { q.onError(attempt, err) },
	)
	onCleanup(func() {
		unsubscribe()
		q.loadMore = nil
		q.log.Debug().Uint64("attempt", attempt).Msg("unsubscribe")
	})
}

func (q *PaginatedQuery[A, I]) onPage(attempt uint64, page backend.Page) {
	if attempt != q.attempt {
		return
	}
	items, err := backend.DecodeItems[I](page.Items)
	if err != nil {
		q.onError(attempt, err)
		return
	}
	q.loadMore = page.LoadMore
	q.client.commit(func() {
		q.results.Set(items)
		q.err.Set(nil)
		q.flags.Set(flagsFor(page.Status))
		if page.Status != backend.LoadingFirstPage && q.opts.OnSuccess != nil {
			q.opts.OnSuccess(items)
		}
	})
}

func (q *PaginatedQuery[A, I]) onError(attempt uint64, err error) {
	if attempt != q.attempt {
		return
	}
	err = NormalizeError(err)
	q.log.Debug().Err(err).Uint64("attempt", attempt).Msg("pagination error")
	q.client.commit(func() {
		q.err.Set(err)
		q.flags.Set(pageFlags{canLoadMore: true})
		if q.opts.OnError != nil {
			q.opts.OnError(err)
		}
	})
}

// LoadMore asks the backend for n more items through the loadMore bound by
// the latest page. It returns false when nothing is bound.
func (q *PaginatedQuery[A, I]) LoadMore(n int) bool {
	if q.loadMore == nil {
		return false
	}
	return q.loadMore(n)
}

// Reset wipes local state and resubscribes from the first page.
func (q *PaginatedQuery[A, I]) Reset() {
	q.resets.Update(func(n uint64) uint64 { return n + 1 })
}

// Dispose tears down the subscription. Pages already queued by the
// connection are dropped.
func (q *PaginatedQuery[A, I]) Dispose() {
	q.effect.Dispose()
	q.attempt++
	q.loadMore = nil
}

// Results returns the current result list.
func (q *PaginatedQuery[A, I]) Results() []I { return q.results.Get() }

// Err returns the latest subscription error.
func (q *PaginatedQuery[A, I]) Err() error { return q.err.Get() }

// IsLoadingFirstPage reports whether the first page is outstanding.
func (q *PaginatedQuery[A, I]) IsLoadingFirstPage() bool { return q.flags.Get().loadingFirst }

// IsLoadingMore reports whether a LoadMore is outstanding.
func (q *PaginatedQuery[A, I]) IsLoadingMore() bool { return q.flags.Get().loadingMore }

// CanLoadMore reports whether LoadMore may fetch more items.
func (q *PaginatedQuery[A, I]) CanLoadMore() bool { return q.flags.Get().canLoadMore }

// IsExhausted reports whether every item has been loaded.
func (q *PaginatedQuery[A, I]) IsExhausted() bool { return q.flags.Get().exhausted }

// IsSkipped reports whether the query is suspended.
func (q *PaginatedQuery[A, I]) IsSkipped() bool { return q.skipped.Get() }

// Status derives the pagination status.
func (q *PaginatedQuery[A, I]) Status() PaginatedStatus {
	return derivePaginatedStatus(q.skipped.Get(), q.err.Get(), q.flags.Get())
}

// State returns a tracked snapshot.
func (q *PaginatedQuery[A, I]) State() PaginatedState[I] {
	f := q.flags.Get()
	return PaginatedState[I]{
		Results:            q.results.Get(),
		Err:                q.err.Get(),
		IsLoadingFirstPage: f.loadingFirst,
		IsLoadingMore:      f.loadingMore,
		CanLoadMore:        f.canLoadMore,
		IsExhausted:        f.exhausted,
		IsSkipped:          q.skipped.Get(),
	}
}

package backend

import (
	"context"
	"fmt"
)

// Connection is the backend contract consumed by the live managers. The core
// never reimplements these primitives; concrete connections live in the
// memory and httpconn subpackages.
//
// Callbacks may be invoked from any goroutine unless the connection was built
// with a Dispatcher, in which case they arrive through it.
type Connection interface {
	// Subscribe opens a live query and returns its teardown.
	Subscribe(name string, args any, onData func(any), onError func(error)) (unsubscribe func())
	// SubscribePaginated opens a paginated query. Every onPage call carries
	// the full merged result set the backend currently holds.
	SubscribePaginated(name string, args any, opts PageOptions, onPage func(Page), onError func(error)) (unsubscribe func())
	// Call runs a one-shot mutation or action.
	Call(ctx context.Context, name string, args any, opts CallOptions) (any, error)
	// ReadCached returns a locally cached query result, if any.
	ReadCached(name string, args any) (any, bool)
	// SetAuthTokenProvider installs fetch and reports the backend's verdict
	// on the token through onConfirmed.
	SetAuthTokenProvider(fetch TokenFetcher, onConfirmed func(bool))
	// ClearAuth drops the installed token provider.
	ClearAuth()
	// HasActiveAuth reports whether a token provider is installed.
	HasActiveAuth() bool
}

// Dispatcher hands callbacks to the goroutine that owns UI state. A
// reactive.Loop satisfies it.
type Dispatcher interface {
	Post(fn func())
}

// PageStatus is the tag the backend attaches to every paginated callback.
type PageStatus int

const (
	LoadingFirstPage PageStatus = iota
	LoadingMore
	CanLoadMore
	Exhausted
)

func (s PageStatus) String() string {
	switch s {
	case LoadingFirstPage:
		return "LoadingFirstPage"
	case LoadingMore:
		return "LoadingMore"
	case CanLoadMore:
		return "CanLoadMore"
	case Exhausted:
		return "Exhausted"
	default:
		return fmt.Sprintf("PageStatus(%d)", int(s))
	}
}

// Page is one paginated callback payload. LoadMore is bound to the
// subscription that produced it and returns false once it can no longer
// request more items.
type Page struct {
	Items    []any
	Status   PageStatus
	LoadMore func(n int) bool
}

// PageOptions configures a paginated subscription.
type PageOptions struct {
	InitialNumItems int
}

// DefaultInitialNumItems applies when PageOptions.InitialNumItems is not
// positive.
const DefaultInitialNumItems = 10

// Normalize fills defaults.
func (o PageOptions) Normalize() PageOptions {
	if o.InitialNumItems <= 0 {
		o.InitialNumItems = DefaultInitialNumItems
	}
	return o
}

// CallOptions configures Connection.Call.
type CallOptions struct {
	Kind Kind
	// OptimisticKey names the query whose cached value a mutation touches.
	// Connections may use it to invalidate that query after the call.
	OptimisticKey string
}

// FetchTokenArgs mirrors the identity adapter's fetchAccessToken argument.
type FetchTokenArgs struct {
	ForceRefresh bool
}

// TokenFetcher returns a bearer token. An empty token with a nil error means
// no token is available.
type TokenFetcher func(ctx context.Context, args FetchTokenArgs) (string, error)

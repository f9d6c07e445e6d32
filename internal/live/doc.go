// Package live binds backend subscriptions and calls to reactive state.
//
// Four managers cover the surface: Operation (with Mutation and Action) for
// one-shot calls, Query for live queries, PaginatedQuery for paginated
// streams, and AuthSync for reconciling an identity adapter with the
// backend's token confirmation. Every manager owns its cells exclusively and
// is confined to the runtime goroutine. AuthSync is the exception in that many
// consumers read it; Registry hands out one per Scope.
//
// Pass Skip to suspend a subscription. A skipped manager holds no backend
// resources and reports a skipped status rather than an error.
package live

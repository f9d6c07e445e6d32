package live

import "fmt"

// CallStatus is derived from a CallState.
type CallStatus string

const (
	CallIdle    CallStatus = "idle"
	CallPending CallStatus = "pending"
	CallSuccess CallStatus = "success"
	CallError   CallStatus = "error"
)

func deriveCallStatus(loading bool, err error, completed bool) CallStatus {
	switch {
	case loading:
		return CallPending
	case err != nil:
		return CallError
	case completed:
		return CallSuccess
	default:
		return CallIdle
	}
}

// QueryStatus is derived from a QueryState.
type QueryStatus string

const (
	QueryPending QueryStatus = "pending"
	QuerySuccess QueryStatus = "success"
	QueryError   QueryStatus = "error"
	QuerySkipped QueryStatus = "skipped"
)

func deriveQueryStatus(skipped, loading bool, err error) QueryStatus {
	switch {
	case skipped:
		return QuerySkipped
	case loading:
		return QueryPending
	case err != nil:
		return QueryError
	default:
		return QuerySuccess
	}
}

// PaginatedStatus is derived from a PaginatedState.
type PaginatedStatus string

const (
	PaginatedSkipped          PaginatedStatus = "skipped"
	PaginatedLoadingFirstPage PaginatedStatus = "loading-first-page"
	PaginatedLoadingMore      PaginatedStatus = "loading-more"
	PaginatedError            PaginatedStatus = "error"
	PaginatedCanLoadMore      PaginatedStatus = "can-load-more"
	PaginatedExhausted        PaginatedStatus = "exhausted"
)

// AuthStatus is the single value route guards switch on.
type AuthStatus string

const (
	AuthLoading         AuthStatus = "loading"
	AuthAuthenticated   AuthStatus = "authenticated"
	AuthUnauthenticated AuthStatus = "unauthenticated"
)

func deriveAuthStatus(loading, authenticated bool) AuthStatus {
	switch {
	case loading:
		return AuthLoading
	case authenticated:
		return AuthAuthenticated
	default:
		return AuthUnauthenticated
	}
}

// Confirmation is the backend's tri-state verdict on the current token.
type Confirmation int

const (
	ConfirmationPending Confirmation = iota
	ConfirmationTrue
	ConfirmationFalse
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmationPending:
		return "pending"
	case ConfirmationTrue:
		return "true"
	case ConfirmationFalse:
		return "false"
	default:
		return fmt.Sprintf("Confirmation(%d)", int(c))
	}
}

func confirmationOf(ok bool) Confirmation {
	if ok {
		return ConfirmationTrue
	}
	return ConfirmationFalse
}

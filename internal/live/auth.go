package live

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/reactive"
)

// IdentityAdapter is the local identity provider the bridge reconciles with
// the backend. IsLoading and IsAuthenticated must be reactive reads.
// FetchAccessToken may be called from any goroutine.
type IdentityAdapter interface {
	IsLoading() bool
	IsAuthenticated() bool
	FetchAccessToken(ctx context.Context, args backend.FetchTokenArgs) (string, error)
}

// AuthSyncState is the state shared by every consumer of one scope.
type AuthSyncState struct {
	Confirmed Confirmation
	Err       error
}

// AuthSync keeps the backend's token provider in step with an identity
// adapter and tracks the backend's confirmation of the token.
type AuthSync struct {
	client  *Client
	adapter IdentityAdapter
	log     zerolog.Logger

	confirmed *reactive.Cell[Confirmation]
	err       *reactive.Cell[error]

	registration uint64
	effect       *reactive.Effect
}

// NewAuthSync builds a bridge and runs its first reconciliation. Prefer
// Registry.Auth, which shares one bridge per scope.
func NewAuthSync(c *Client, adapter IdentityAdapter) *AuthSync {
	a := &AuthSync{
		client:    c,
		adapter:   adapter,
		log:       c.log.With().Str("component", "auth").Logger(),
		confirmed: reactive.NewCell(c.rt, ConfirmationPending),
		err:       reactive.NewCell[error](c.rt, nil),
	}
	a.effect = c.rt.Effect(a.react)
	return a
}

func (a *AuthSync) react(onCleanup func(func())) {
	loading := a.adapter.IsLoading()
	authenticated := a.adapter.IsAuthenticated()

	a.registration++
	registration := a.registration
	conn := a.client.conn

	switch {
	case loading:
		a.clearBackend()
		a.confirmed.Set(ConfirmationPending)
		a.err.Set(nil)
		return
	case !authenticated:
		a.clearBackend()
		a.confirmed.Set(ConfirmationFalse)
		a.err.Set(nil)
		return
	}

	a.confirmed.Set(ConfirmationTrue)
	a.err.Set(nil)
	a.log.Debug().Uint64("registration", registration).Msg("registering token provider")
	conn.SetAuthTokenProvider(a.fetcher(registration), func(ok bool) {
		a.onConfirmed(registration, ok)
	})
	onCleanup(func() {
		// Later confirmations for this registration are stale.
		if a.registration == registration {
			a.registration++
		}
	})
}

func (a *AuthSync) clearBackend() {
	if a.client.conn.HasActiveAuth() {
		a.client.conn.ClearAuth()
		a.log.Debug().Msg("cleared backend auth")
	}
}

func (a *AuthSync) onConfirmed(registration uint64, ok bool) {
	if registration != a.registration {
		return
	}
	a.log.Debug().Bool("confirmed", ok).Uint64("registration", registration).Msg("backend confirmation")
	a.client.commit(func() {
		a.confirmed.Set(confirmationOf(ok))
		if ok {
			a.err.Set(nil)
		}
	})
}

// fetcher wraps the adapter so that a failed fetch is recorded in state and
// the backend sees no token instead of an error.
func (a *AuthSync) fetcher(registration uint64) backend.TokenFetcher {
	return func(ctx context.Context, args backend.FetchTokenArgs) (string, error) {
		token, err := a.adapter.FetchAccessToken(ctx, args)
		if err == nil {
			return token, nil
		}
		err = NormalizeError(err)
		a.client.rt.Post(func() {
			if registration != a.registration {
				return
			}
			a.log.Warn().Err(err).Msg("fetch access token")
			a.err.Set(err)
		})
		return "", nil
	}
}

// Dispose stops reconciling and clears backend auth.
func (a *AuthSync) Dispose() {
	if a.effect.Disposed() {
		return
	}
	a.effect.Dispose()
	a.clearBackend()
}

// Confirmed returns the backend verdict.
func (a *AuthSync) Confirmed() Confirmation { return a.confirmed.Get() }

// Err returns the last token fetch failure.
func (a *AuthSync) Err() error { return a.err.Get() }

// IsLoading reports whether either side is still undecided.
func (a *AuthSync) IsLoading() bool {
	return a.adapter.IsLoading() || a.confirmed.Get() == ConfirmationPending
}

// IsAuthenticated reports whether the adapter and the backend agree.
func (a *AuthSync) IsAuthenticated() bool {
	return a.adapter.IsAuthenticated() && a.confirmed.Get() == ConfirmationTrue
}

// Status is what route guards switch on.
func (a *AuthSync) Status() AuthStatus {
	return deriveAuthStatus(a.IsLoading(), a.IsAuthenticated())
}

// State returns a tracked snapshot of the shared state.
func (a *AuthSync) State() AuthSyncState {
	return AuthSyncState{Confirmed: a.confirmed.Get(), Err: a.err.Get()}
}

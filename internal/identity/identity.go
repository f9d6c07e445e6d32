// Package identity provides local identity adapters for the auth bridge.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/reactive"
)

// ErrNoToken is returned by FetchAccessToken when no token is available.
var ErrNoToken = errors.New("no access token")

// TokenFile reads a bearer token from a file. It starts loading, settles once
// the first read completes and re-reads the file on a forced refresh.
type TokenFile struct {
	rt   *reactive.Runtime
	path string
	log  zerolog.Logger

	loading       *reactive.Cell[bool]
	authenticated *reactive.Cell[bool]

	mu    sync.Mutex
	token string
}

// NewTokenFile returns an adapter in the loading state. Call Load to read the
// file.
func NewTokenFile(rt *reactive.Runtime, path string, logger zerolog.Logger) *TokenFile {
	return &TokenFile{
		rt:            rt,
		path:          path,
		log:           logger.With().Str("component", "identity").Logger(),
		loading:       reactive.NewCell(rt, true),
		authenticated: reactive.NewCell(rt, false),
	}
}

// Load reads the token file on a new goroutine and publishes the result on
// the runtime loop. Both cells change in one batch.
func (f *TokenFile) Load() {
	go func() {
		token, err := readToken(f.path)
		if err != nil {
			f.log.Warn().Err(err).Str("path", f.path).Msg("token read failed")
		}
		f.store(token)
		f.rt.Post(func() {
			f.rt.Batch(func() {
				f.loading.Set(false)
				f.authenticated.Set(token != "")
			})
		})
	}()
}

// SignOut forgets the token. It must run on the runtime loop.
func (f *TokenFile) SignOut() {
	f.store("")
	f.authenticated.Set(false)
}

// IsLoading implements live.IdentityAdapter.
func (f *TokenFile) IsLoading() bool { return f.loading.Get() }

// IsAuthenticated implements live.IdentityAdapter.
func (f *TokenFile) IsAuthenticated() bool { return f.authenticated.Get() }

// FetchAccessToken implements live.IdentityAdapter. A forced refresh re-reads
// the file; a token that disappeared signs the adapter out.
func (f *TokenFile) FetchAccessToken(ctx context.Context, args backend.FetchTokenArgs) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if args.ForceRefresh {
		token, err := readToken(f.path)
		if err != nil {
			return "", err
		}
		if f.store(token) && token == "" {
			f.rt.Post(func() { f.authenticated.Set(false) })
		}
	}
	f.mu.Lock()
	token := f.token
	f.mu.Unlock()
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// store records token and reports whether it changed.
func (f *TokenFile) store(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := f.token != token
	f.token = token
	return changed
}

func readToken(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Static is an adapter with a fixed token, used by the demo backend.
type Static struct {
	Token string
}

// IsLoading implements live.IdentityAdapter.
func (Static) IsLoading() bool { return false }

// IsAuthenticated implements live.IdentityAdapter.
func (s Static) IsAuthenticated() bool { return s.Token != "" }

// FetchAccessToken implements live.IdentityAdapter.
func (s Static) FetchAccessToken(context.Context, backend.FetchTokenArgs) (string, error) {
	if s.Token == "" {
		return "", ErrNoToken
	}
	return s.Token, nil
}

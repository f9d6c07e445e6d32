package httpconn

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/five82/tether/internal/backend"
)

type authState struct {
	generation  uint64
	fetch       backend.TokenFetcher
	onConfirmed func(bool)
	token       string
	checking    bool
	// ctx is cancelled when the provider is replaced or cleared, which also
	// stops any recheck running for it.
	ctx    context.Context
	cancel context.CancelFunc
}

// SetAuthTokenProvider implements backend.Connection. The token is checked
// against /api/auth/check on a background goroutine, retrying once with a
// forced refresh before reporting false.
func (c *Conn) SetAuthTokenProvider(fetch backend.TokenFetcher, onConfirmed func(bool)) {
	ctx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	if c.auth.cancel != nil {
		c.auth.cancel()
	}
	c.auth = authState{
		generation:  c.auth.generation + 1,
		fetch:       fetch,
		onConfirmed: onConfirmed,
		checking:    true,
		ctx:         ctx,
		cancel:      cancel,
	}
	gen := c.auth.generation
	c.mu.Unlock()

	c.spawn(func() { c.confirm(ctx, gen, fetch, false) })
}

// recheckAuth re-validates the installed provider with a forced refresh after
// the backend rejected a request.
func (c *Conn) recheckAuth() {
	c.mu.Lock()
	if c.auth.fetch == nil || c.auth.checking || c.auth.ctx == nil {
		c.mu.Unlock()
		return
	}
	c.auth.checking = true
	gen := c.auth.generation
	fetch := c.auth.fetch
	ctx := c.auth.ctx
	c.mu.Unlock()

	c.spawn(func() { c.confirm(ctx, gen, fetch, true) })
}

func (c *Conn) confirm(ctx context.Context, gen uint64, fetch backend.TokenFetcher, forceFirst bool) {
	attempts := []bool{false, true}
	if forceFirst {
		attempts = []bool{true}
	}

	valid := false
	var token string
	for _, force := range attempts {
		t, err := fetch(ctx, backend.FetchTokenArgs{ForceRefresh: force})
		if err != nil || t == "" {
			break
		}
		ok, err := c.checkToken(ctx, t)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("auth check failed")
			}
			break
		}
		if ok {
			valid, token = true, t
			break
		}
	}
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	if c.auth.generation != gen || c.auth.onConfirmed == nil {
		c.mu.Unlock()
		return
	}
	c.auth.checking = false
	c.auth.token = token
	cb := c.auth.onConfirmed
	c.mu.Unlock()

	c.log.Debug().Bool("valid", valid).Msg("auth confirmed")
	c.deliver(ctx, func() { cb(valid) })
}

func (c *Conn) checkToken(ctx context.Context, token string) (bool, error) {
	var payload authCheckResponse
	err := c.doURL(ctx, http.MethodPost, &url.URL{Path: "/api/auth/check"}, "auth", nil, token, &payload)
	if errors.Is(err, ErrUnauthorized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return payload.Valid, nil
}

func (c *Conn) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth.token
}

// ClearAuth implements backend.Connection.
func (c *Conn) ClearAuth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth.cancel != nil {
		c.auth.cancel()
	}
	c.auth = authState{generation: c.auth.generation + 1}
}

// HasActiveAuth implements backend.Connection.
func (c *Conn) HasActiveAuth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth.fetch != nil
}

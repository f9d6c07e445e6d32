// Package httpconn implements backend.Connection over a JSON HTTP API by
// polling. Each live subscription owns a goroutine that re-runs its query on
// a fixed cadence, backs off on failure and delivers only changed results.
package httpconn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/backend"
)

// ErrUnauthorized is returned when the backend rejects the bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// Cache persists raw query results between runs. *cache.Store implements it.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

// Options configure a Conn.
type Options struct {
	// BaseURL is host:port or a full URL. Empty uses 127.0.0.1:7488.
	BaseURL      string
	PollInterval time.Duration
	// Dispatcher receives every callback. Nil invokes callbacks on the poll
	// goroutine.
	Dispatcher backend.Dispatcher
	Cache      Cache
	Logger     *zerolog.Logger
	HTTPClient *http.Client
}

const (
	defaultBaseURL      = "127.0.0.1:7488"
	defaultUserAgent    = "tether/0.1"
	defaultPollInterval = 2 * time.Second
	requestTimeout      = 5 * time.Second
)

// Conn is a polling backend connection.
type Conn struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	interval  time.Duration
	dispatch  backend.Dispatcher
	cache     Cache
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	nextID uint64
	subs   map[uint64]*entry
	mem    map[string]json.RawMessage
	auth   authState
}

// entry is one live subscription as seen by Call's invalidation.
type entry struct {
	name string
	wake chan struct{}
}

// Ensure Conn implements backend.Connection at compile time.
var _ backend.Connection = (*Conn)(nil)

// New builds a Conn. Close stops every poll goroutine.
func New(opts Options) (*Conn, error) {
	base, err := parseBaseURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "httpconn").Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		baseURL:   base,
		http:      client,
		userAgent: defaultUserAgent,
		interval:  interval,
		dispatch:  opts.Dispatcher,
		cache:     opts.Cache,
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[uint64]*entry),
		mem:       make(map[string]json.RawMessage),
	}, nil
}

// Close stops all subscriptions and waits for their goroutines.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// spawn runs fn on a goroutine tracked by Close. It reports false once the
// connection is closed.
func (c *Conn) spawn(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

type queryRequest struct {
	Name     string `json:"name"`
	Args     any    `json:"args"`
	NumItems int    `json:"numItems,omitempty"`
}

type valueResponse struct {
	Value json.RawMessage `json:"value"`
}

type pageResponse struct {
	Items  []json.RawMessage `json:"items"`
	IsDone bool              `json:"isDone"`
}

type errorResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type authCheckResponse struct {
	Valid bool `json:"valid"`
}

func (c *Conn) query(ctx context.Context, name string, args any) (json.RawMessage, error) {
	var payload valueResponse
	if err := c.post(ctx, "/api/query", name, queryRequest{Name: name, Args: args}, &payload); err != nil {
		return nil, err
	}
	return payload.Value, nil
}

func (c *Conn) page(ctx context.Context, name string, args any, numItems int) (pageResponse, error) {
	var payload pageResponse
	req := queryRequest{Name: name, Args: args, NumItems: numItems}
	if err := c.post(ctx, "/api/query/page", name, req, &payload); err != nil {
		return pageResponse{}, err
	}
	return payload, nil
}

// Call implements backend.Connection.
func (c *Conn) Call(ctx context.Context, name string, args any, opts backend.CallOptions) (any, error) {
	path := "/api/mutation"
	if opts.Kind == backend.KindAction {
		path = "/api/action"
	}
	var payload valueResponse
	if err := c.post(ctx, path, name, queryRequest{Name: name, Args: args}, &payload); err != nil {
		return nil, fmt.Errorf("%s %s: %w", opts.Kind, name, err)
	}
	if opts.OptimisticKey != "" {
		c.wakeAll(opts.OptimisticKey)
	}
	return payload.Value, nil
}

func (c *Conn) post(ctx context.Context, path, function string, body any, dest any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.doURL(ctx, http.MethodPost, &url.URL{Path: path}, function, raw, c.currentToken(), dest)
}

func (c *Conn) doURL(ctx context.Context, method string, rel *url.URL, function string, body []byte, token string, dest any) error {
	reqURL := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("api %s: %w", rel.String(), ErrUnauthorized)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp, rel, function)
	}
	if dest == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error body into *backend.Error, falling back to the
// status code when the body is not the expected JSON.
func decodeError(resp *http.Response, rel *url.URL, function string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Message == "" {
		return fmt.Errorf("api %s returned status %d", rel.String(), resp.StatusCode)
	}
	code := payload.Code
	if code == 0 {
		code = resp.StatusCode
	}
	apiErr := &backend.Error{Function: function, Code: code, Message: payload.Message}
	if len(payload.Data) > 0 && string(payload.Data) != "null" {
		apiErr.Data = payload.Data
	}
	return apiErr
}

// ReadCached implements backend.Connection. Results seen by this process win
// over the persistent cache.
func (c *Conn) ReadCached(name string, args any) (any, bool) {
	key, err := backend.CacheKey(name, args)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	raw, ok := c.mem[key]
	c.mu.Unlock()
	if ok {
		return raw, true
	}
	if c.cache == nil {
		return nil, false
	}
	stored, ok, err := c.cache.Get(key)
	if err != nil {
		c.log.Warn().Err(err).Str("query", name).Msg("cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return json.RawMessage(stored), true
}

func (c *Conn) remember(name string, args any, raw json.RawMessage) {
	key, err := backend.CacheKey(name, args)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.mem[key] = raw
	c.mu.Unlock()
	if c.cache == nil {
		return
	}
	if err := c.cache.Put(key, raw); err != nil {
		c.log.Warn().Err(err).Str("query", name).Msg("cache write failed")
	}
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse backend_url %q: %w", raw, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

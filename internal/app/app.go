package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/five82/tether/internal/backend"
	"github.com/five82/tether/internal/backend/httpconn"
	"github.com/five82/tether/internal/backend/memory"
	"github.com/five82/tether/internal/cache"
	"github.com/five82/tether/internal/config"
	"github.com/five82/tether/internal/identity"
	"github.com/five82/tether/internal/live"
	"github.com/five82/tether/internal/logging"
	"github.com/five82/tether/internal/prefs"
	"github.com/five82/tether/internal/reactive"
	"github.com/five82/tether/internal/state"
	"github.com/five82/tether/internal/ui"
)

// Options configure the tether application.
type Options struct {
	ConfigPath string
	PrefsPath  string // empty uses default ~/.config/tether/prefs.toml
	// Demo serves a built-in data set from memory instead of the backend.
	Demo      bool
	PollEvery time.Duration // zero uses the configured interval
}

const shutdownTimeout = 3 * time.Second

// Run boots the runtime and the terminal client until the user quits or the
// context is cancelled.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.PollEvery > 0 {
		cfg.PollInterval = opts.PollEvery
	}

	logger, closeLog, err := logging.Configure(logging.Options{App: "tether", Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = closeLog() }()

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}
	userPrefs, err := prefs.Load(prefsPath)
	if err != nil {
		logger.Warn().Err(err).Msg("load prefs")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := reactive.NewLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(ctx)
	}()
	defer func() {
		cancel()
		<-loopDone
	}()
	rt := reactive.NewRuntime(loop)

	store := &state.Store{}
	var (
		session  *Session
		conn     *connection
		startErr error
	)
	err = loop.Do(ctx, func() {
		conn, startErr = connect(ctx, cfg, opts.Demo, loop, rt, logger)
		if startErr != nil {
			return
		}
		if opts.Demo {
			if cfg, startErr = demoConfig(cfg); startErr != nil {
				return
			}
		}
		client := live.NewClient(rt, conn.backend, live.WithLogger(logger))
		session, startErr = NewSession(ctx, loop, client, SessionOptions{
			Watches:   cfg.Watches,
			Mutations: cfg.Mutations,
			Adapter:   conn.adapter,
			Store:     store,
			SignOut:   conn.signOut,
		})
	})
	if err == nil {
		err = startErr
	}
	if err != nil {
		if conn != nil {
			conn.close()
		}
		return fmt.Errorf("start session: %w", err)
	}
	defer conn.close()

	logger.Info().
		Str("backend", cfg.BackendURL).
		Bool("demo", opts.Demo).
		Dur("poll_interval", cfg.PollInterval).
		Msg("tether started")

	uiErr := ui.Run(ui.Options{
		Context:    ctx,
		Store:      store,
		Controller: session,
		LogPath:    cfg.LogFile,
		ThemeName:  userPrefs.Theme,
		PrefsPath:  prefsPath,
		LastWatch:  userPrefs.LastWatch,
	})

	if ctx.Err() == nil {
		closeCtx, stop := context.WithTimeout(ctx, shutdownTimeout)
		if err := loop.Do(closeCtx, session.Close); err != nil {
			logger.Warn().Err(err).Msg("session close timed out")
		}
		stop()
	}
	logger.Info().Msg("tether stopped")
	return uiErr
}

// connection is the backend plus the identity adapter that signs into it.
type connection struct {
	backend backend.Connection
	adapter live.IdentityAdapter
	signOut func()
	close   func()
}

// connect builds the demo or HTTP backend. It runs on the loop goroutine.
func connect(ctx context.Context, cfg config.Config, demo bool, loop *reactive.Loop, rt *reactive.Runtime, logger zerolog.Logger) (*connection, error) {
	if demo {
		conn := memory.New(
			memory.WithDispatcher(loop),
			memory.WithLogger(logger),
			memory.WithTokenValidator(func(token string) bool { return token == demoToken }),
		)
		newDemoBackend().install(ctx, conn)
		return &connection{
			backend: conn,
			adapter: identity.Static{Token: demoToken},
			close:   conn.Close,
		}, nil
	}

	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.CachePath).Msg("result cache disabled")
		store = nil
	}
	opts := httpconn.Options{
		BaseURL:      cfg.BackendURL,
		PollInterval: cfg.PollInterval,
		Dispatcher:   loop,
		Logger:       &logger,
	}
	if store != nil {
		opts.Cache = store
	}
	conn, err := httpconn.New(opts)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	tokens := identity.NewTokenFile(rt, cfg.TokenFile, logger)
	tokens.Load()
	return &connection{
		backend: conn,
		adapter: tokens,
		signOut: func() {
			tokens.SignOut()
			if store == nil {
				return
			}
			if n, err := store.Delete(""); err != nil {
				logger.Warn().Err(err).Msg("clear result cache")
			} else {
				logger.Info().Int64("entries", n).Msg("result cache cleared")
			}
		},
		close: func() {
			conn.Close()
			if store != nil {
				if err := store.Close(); err != nil {
					logger.Warn().Err(err).Msg("close result cache")
				}
			}
		},
	}, nil
}

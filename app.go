package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	tea "charm.land/bubbletea/v2"
	"go.uber.org/zap"

	"github.com/go-authgate/meetgate/client"
	"github.com/go-authgate/meetgate/config"
	"github.com/go-authgate/meetgate/meet"
	"github.com/go-authgate/meetgate/obs"
	"github.com/go-authgate/meetgate/tokenstore"
	"github.com/go-authgate/meetgate/tui"
)

// app is everything one command needs, wired from the loaded config.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   tokenstore.Store
	tokens  *client.TokenService
	exec    *client.Executor
	meet    *meet.Client
	display tui.Displayer

	closeStore func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, d tui.Displayer) (*app, error) {
	store, closeStore, err := cfg.OpenStore(ctx, log)
	if err != nil {
		return nil, err
	}
	clients, err := cfg.NewClients(log)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	opts := []client.TokenOption{client.WithTokenLogger(log)}
	if cfg.SingleFlight {
		opts = append(opts, client.WithSingleFlight())
	}
	tokens := client.NewTokenService(client.Credentials{
		BaseURL:  cfg.BaseURL,
		Username: cfg.Username,
		Password: cfg.Password,
	}, store, clients.Identity, opts...)

	exec := client.NewExecutor(clients.Resource, store, tokens,
		client.WithObserver(d),
		client.WithLogger(log),
	)

	return &app{
		cfg:        cfg,
		log:        log,
		store:      store,
		tokens:     tokens,
		exec:       exec,
		meet:       meet.New(cfg.BaseURL, exec),
		display:    d,
		closeStore: closeStore,
	}, nil
}

func (a *app) Close() {
	if err := a.closeStore(); err != nil {
		a.log.Warn("failed to close token store", zap.Error(err))
	}
	_ = a.log.Sync()
}

// health reports store reachability for stores that can check it.
func (a *app) health(ctx context.Context) error {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
var isTTY = func() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// withDisplayer runs fn with a BubbleTea displayer on an interactive stderr
// and a plain one otherwise. In TUI mode the logger is silenced since the
// program owns the terminal.
func withDisplayer(cfg *config.Config, plain bool, errOut io.Writer, fn func(d tui.Displayer, log *zap.Logger) error) error {
	if !plain && isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		runErr := fn(tui.NewProgramDisplayer(p), zap.NewNop())
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		return runErr
	}

	log, err := obs.NewLogger(cfg.AsLogConfig())
	if err != nil {
		fmt.Fprintf(errOut, "Warning: logging disabled: %v\n", err)
		log = zap.NewNop()
	}
	return fn(tui.NewPlainDisplayer(errOut), log)
}

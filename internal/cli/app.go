package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/valetsync/internal/config"
	"github.com/roach88/valetsync/internal/dedup"
	"github.com/roach88/valetsync/internal/domain"
	"github.com/roach88/valetsync/internal/metrics"
	"github.com/roach88/valetsync/internal/notify"
	"github.com/roach88/valetsync/internal/push"
	"github.com/roach88/valetsync/internal/realtime"
	"github.com/roach88/valetsync/internal/session"
	"github.com/roach88/valetsync/internal/store"
)

const publishDrainTimeout = 2 * time.Second

// app holds the process-wide services a command runs against.
type app struct {
	cfg       config.Config
	store     *store.Store
	redis     *dedup.RedisBackend // shared connection, nil for memory dedup
	caches    []*dedup.Cache
	origin    string // this process's id on the Postgres change channel
	registry  *realtime.Registry
	transport push.Transport
	metrics   *metrics.Metrics
	logger    *slog.Logger

	closers []func() error
}

// setupLogging installs the process logger: text on stderr, debug when
// verbose.
func setupLogging(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads settings and applies the --db override.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to load settings", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// openStore opens the configured database without any session services.
func openStore(cmd *cobra.Command, opts *RootOptions) (*store.Store, config.Config, error) {
	setupLogging(opts, cmd.ErrOrStderr())
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, cfg, err
	}
	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, cfg, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, cfg, nil
}

// openApp opens the store plus the shared dedup connection, channel registry and push
// transport the settings select.
func openApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*app, error) {
	st, cfg, err := openStore(cmd, opts)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		store:    st,
		registry: realtime.NewRegistry(),
		metrics:  metrics.New(),
		logger:   slog.Default(),
	}
	a.closers = append(a.closers, st.Close)

	if cfg.Dedup.Backend == config.DedupRedis {
		a.redis, err = dedup.NewRedisBackend(ctx, cfg.Dedup.RedisAddr, cfg.Dedup.RedisPassword)
		if err != nil {
			a.close()
			return nil, WrapExitError(ExitCommandError, "failed to open dedup backend", err)
		}
		a.closers = append(a.closers, a.redis.Close)
	}

	if cfg.Postgres.DSN != "" {
		a.startChangePublisher()
	}

	a.transport, err = pushTransport(ctx, cfg, a.logger)
	if err != nil {
		a.close()
		return nil, WrapExitError(ExitCommandError, "failed to open push transport", err)
	}
	if c, ok := a.transport.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	return a, nil
}

// startChangePublisher relays this process's store changes to Postgres.
// Closing the app sends what is still queued, waiting at most
// publishDrainTimeout.
func (a *app) startChangePublisher() {
	a.origin = domain.UUIDv7Generator{}.NewID()
	pub := realtime.NewPGPublisher(a.cfg.Postgres.DSN, a.cfg.Postgres.Channel, a.origin, a.store.Hub(), a.logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("change publisher stopped", "error", err)
		}
	}()
	a.closers = append(a.closers, func() error {
		pub.Close()
		select {
		case <-done:
		case <-time.After(publishDrainTimeout):
			a.logger.Warn("change publisher did not drain in time")
		}
		cancel()
		<-done
		return nil
	})
}

// deviceCache creates the dedup cache of employeeID's device. Redis
// records are scoped to the employee so one recipient never suppresses
// another's copy of a broadcast.
func (a *app) deviceCache(employeeID string) (*dedup.Cache, error) {
	var backend dedup.Backend = dedup.NewMemoryBackend()
	if a.redis != nil {
		backend = a.redis.Scoped(employeeID)
	}
	c := dedup.New(dedup.Options{
		Backend:   backend,
		Window:    a.cfg.Dedup.Window,
		SweepSpec: a.cfg.Dedup.Sweep,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	if err := c.Init(); err != nil {
		return nil, err
	}
	a.caches = append(a.caches, c)
	return c, nil
}

func pushTransport(ctx context.Context, cfg config.Config, logger *slog.Logger) (push.Transport, error) {
	switch cfg.Push.Backend {
	case config.PushFCM:
		return push.NewFCMTransport(ctx, cfg.Push.FirebaseProject, cfg.Push.FirebaseCredentials, logger)
	case config.PushAMQP:
		return push.DialAMQP(cfg.Push.AMQPURL, cfg.Push.Exchange)
	case config.PushNone:
		return nil, nil
	default:
		return push.LogTransport{Logger: logger}, nil
	}
}

// producer writes notification rows and pushes them.
func (a *app) producer() *notify.Producer {
	return &notify.Producer{
		Outlet:    a.store,
		Transport: a.transport,
		IDs:       domain.UUIDv7Generator{},
		Logger:    a.logger,
		Metrics:   a.metrics,
	}
}

// signIn opens employeeID's session.
func (a *app) signIn(ctx context.Context, employeeID string) (*session.Session, error) {
	if employeeID == "" {
		return nil, NewExitError(ExitCommandError, "--as is required")
	}
	cache, err := a.deviceCache(employeeID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start dedup cache", err)
	}
	s, err := session.Open(ctx, session.Deps{
		Store:     a.store,
		Cache:     cache,
		Registry:  a.registry,
		Config:    a.cfg,
		Announcer: a.producer(),
		Device:    notify.LogDevice{Logger: a.logger},
		Metrics:   a.metrics,
		Logger:    a.logger,
	}, employeeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("unknown employee %s", employeeID), err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to sign in", err)
	}
	return s, nil
}

func (a *app) close() {
	a.registry.Close()
	for _, c := range a.caches {
		if err := c.Dispose(); err != nil {
			a.logger.Error("error disposing dedup cache", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("error closing resource", "error", err)
		}
	}
}

// parsePayments parses --pay values of the form
// AMOUNT:METHOD[:TERMINAL[:LAST4[:REFERENCE]]], e.g. "200:CARD:BBVA:4242".
func parsePayments(values []string) ([]domain.PaymentEntry, error) {
	entries := make([]domain.PaymentEntry, 0, len(values))
	for i, v := range values {
		parts := strings.Split(v, ":")
		if len(parts) < 2 || len(parts) > 5 {
			return nil, fmt.Errorf("payment %d %q: want AMOUNT:METHOD[:TERMINAL[:LAST4[:REFERENCE]]]", i+1, v)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("payment %d: invalid amount %q", i+1, parts[0])
		}
		method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(parts[1])))
		if !method.Valid() {
			return nil, fmt.Errorf("payment %d: unknown method %q", i+1, parts[1])
		}
		e := domain.PaymentEntry{
			ID:     fmt.Sprintf("line-%d", i+1),
			Amount: amount,
			Method: method,
		}
		if len(parts) > 2 {
			e.Terminal = strings.ToUpper(parts[2])
		}
		if len(parts) > 3 {
			e.CardLast4 = parts[3]
		}
		if len(parts) > 4 {
			e.Reference = parts[4]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// commandContext returns the command's context or a background one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// formatter returns the output formatter for cmd.
func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

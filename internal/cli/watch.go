package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/valetsync/internal/action"
	"github.com/roach88/valetsync/internal/bus"
	"github.com/roach88/valetsync/internal/notify"
	"github.com/roach88/valetsync/internal/realtime"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	As       string
	Token    string        // push token to register for this device
	Platform string        // platform of Token
	Duration time.Duration // stop after this long; zero waits for a signal
	NoServe  bool          // skip the metrics endpoint
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sign in as a valet and print live toasts and screen updates",
		Long: `Open a valet session and keep it running: screens re-fetch on change
events, notifications are routed into toasts, and metrics are served in the
Prometheus format on the configured address.

With postgres.dsn set, every command publishes its store changes with
pg_notify and watch LISTENs for them, so writes made by other processes on
the same database file are seen. Without it only this process's writes
are observed.

Example:
  valetsync watch --as valet-x
  valetsync watch --as valet-y --token fcm-abc --platform android`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.As, "as", "", "employee id to sign in as (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "push token to register")
	cmd.Flags().StringVar(&opts.Platform, "platform", "android", "platform of --token")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (default: until interrupted)")
	cmd.Flags().BoolVar(&opts.NoServe, "no-metrics", false, "do not serve metrics")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := openApp(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.signIn(ctx, opts.As)
	if err != nil {
		return err
	}
	defer s.Close()

	out := &lineWriter{w: cmd.OutOrStdout()}
	for _, topic := range []string{notify.TopicToastShown, notify.TopicToastDismissed, notify.TopicDeepLink, action.TopicConfirmation} {
		_, unsubscribe := s.Bus.Subscribe(topic, func(m bus.Message) { out.printEvent(m) })
		defer unsubscribe()
	}

	if opts.Token != "" {
		go func() {
			if err := <-s.RegisterPushToken(opts.Token, opts.Platform); err != nil {
				slog.Warn("push token not registered", "error", err)
			}
		}()
	}

	var wg sync.WaitGroup
	if a.cfg.Postgres.DSN != "" {
		listener := &realtime.PGListener{
			URL:     a.cfg.Postgres.DSN,
			Channel: a.cfg.Postgres.Channel,
			Hub:     a.store.Hub(),
			Logger:  a.logger,
			Origin:  a.origin,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				slog.Error("change feed listener stopped", "error", err)
			}
		}()
	}

	if !opts.NoServe && a.cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server stopped", "addr", srv.Addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("watching", "employee_id", s.Employee.ID, "db", a.cfg.Database)
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s). Press Ctrl-C to stop.\n", s.Employee.Name, s.Employee.ID)

	err = s.Loop.Run(ctx)
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "session loop error", err)
	}
	slog.Info("session closed")
	return nil
}

// lineWriter serializes event lines from bus handlers.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) printEvent(m bus.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch p := m.Payload.(type) {
	case notify.Toast:
		if m.Topic == notify.TopicToastShown {
			fmt.Fprintf(l.w, "toast    %s: %s [%s]\n", p.Title, p.Message, p.Payload.Type)
		} else {
			fmt.Fprintf(l.w, "dismiss  %s\n", p.Title)
		}
	case notify.DeepLink:
		fmt.Fprintf(l.w, "open     %s/%s/%s\n", p.Screen, p.Action, p.TargetID)
	case action.Confirmation:
		fmt.Fprintf(l.w, "%-8s %s: %s\n", p.Level, p.Title, p.Message)
	default:
		fmt.Fprintf(l.w, "%-8s %v\n", m.Topic, m.Payload)
	}
}

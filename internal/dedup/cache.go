package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/valetsync/internal/clock"
	"github.com/roach88/valetsync/internal/metrics"
)

// DefaultWindow is how long a key suppresses repeats.
const DefaultWindow = 20 * time.Second

// DefaultSweepSpec prunes memory records once a minute.
const DefaultSweepSpec = "@every 1m"

// Channel names the path an event arrived through.
type Channel string

const (
	ChannelRealtime Channel = "realtime"
	ChannelPush     Channel = "push"
)

// Options configures a Cache.
type Options struct {
	Backend Backend // defaults to a new MemoryBackend
	Window  time.Duration

	// SweepSpec is a cron spec for pruning a Sweeper backend. Empty
	// disables the background sweep.
	SweepSpec string

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type state int

const (
	stateNew state = iota
	stateReady
	stateDisposed
)

// Cache is the process-wide deduplication service.
//
// Lifecycle: Init starts the optional sweeper; Reset forgets every key;
// Dispose stops the sweeper and closes the backend. Allow on a new cache
// initializes it first. After Dispose, Allow admits everything.
//
// A backend error fails open: the event is allowed, because a missed alert
// costs more than a duplicate one.
//
// Thread-safety: All methods are safe for concurrent use.
type Cache struct {
	backend Backend
	window  time.Duration
	spec    string
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state state
	cron  *cron.Cron
}

// New creates a cache. Call Init before use, or let the first Allow do it.
func New(opts Options) *Cache {
	if opts.Backend == nil {
		opts.Backend = NewMemoryBackend()
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		backend: opts.Backend,
		window:  opts.Window,
		spec:    opts.SweepSpec,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Init prepares the cache. Idempotent; fails after Dispose.
func (c *Cache) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initLocked()
}

func (c *Cache) initLocked() error {
	switch c.state {
	case stateReady:
		return nil
	case stateDisposed:
		return fmt.Errorf("dedup cache disposed")
	}

	if sw, ok := c.backend.(Sweeper); ok && c.spec != "" {
		cr := cron.New()
		if _, err := cr.AddFunc(c.spec, func() { c.sweep(sw) }); err != nil {
			return fmt.Errorf("schedule dedup sweep %q: %w", c.spec, err)
		}
		cr.Start()
		c.cron = cr
	}
	c.state = stateReady
	return nil
}

// Reset forgets every key.
func (c *Cache) Reset(ctx context.Context) error {
	return c.backend.Reset(ctx)
}

// Dispose stops the sweeper and closes the backend. Idempotent.
func (c *Cache) Dispose() error {
	c.mu.Lock()
	if c.state == stateDisposed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateDisposed
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()

	if cr != nil {
		<-cr.Stop().Done()
	}
	return c.backend.Close()
}

// Allow reports whether an event with key should be surfaced, recording it
// if so. An empty key is always allowed.
func (c *Cache) Allow(ctx context.Context, key string, ch Channel) bool {
	c.mu.Lock()
	if c.state == stateNew {
		if err := c.initLocked(); err != nil {
			c.logger.Warn("dedup init failed", "error", err)
		}
	}
	disposed := c.state == stateDisposed
	c.mu.Unlock()

	if disposed || key == "" {
		c.metrics.ObserveDedup(string(ch), true)
		return true
	}

	ok, err := c.backend.Admit(ctx, key, c.clock.Now(), c.window)
	if err != nil {
		c.logger.Warn("dedup backend failed, allowing event", "key", key, "error", err)
		ok = true
	}
	if !ok {
		c.logger.Debug("duplicate event suppressed", "key", key, "channel", string(ch))
	}
	c.metrics.ObserveDedup(string(ch), ok)
	return ok
}

// Window returns the suppression window.
func (c *Cache) Window() time.Duration {
	return c.window
}

// SweepNow prunes a Sweeper backend immediately and returns the number of
// records removed.
func (c *Cache) SweepNow() int {
	sw, ok := c.backend.(Sweeper)
	if !ok {
		return 0
	}
	return c.sweep(sw)
}

func (c *Cache) sweep(sw Sweeper) int {
	n := sw.Sweep(c.clock.Now(), c.window)
	if n > 0 {
		c.logger.Debug("dedup records swept", "count", n)
	}
	return n
}

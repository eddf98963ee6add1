package session

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of loop work.
type Task func(ctx context.Context) error

// Loop is a single-consumer FIFO task loop.
//
// The queue is unbounded so a task may post follow-up tasks without
// blocking. Post is safe from any goroutine; Run must be called from
// exactly one.
type Loop struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	signal chan struct{} // buffered, size 1

	dev     bool
	logger  *slog.Logger
	onCrash func(*CrashError)
}

// NewLoop creates an idle loop. dev keeps stack traces in crash errors.
func NewLoop(dev bool, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tasks:  make([]Task, 0, 16),
		signal: make(chan struct{}, 1),
		dev:    dev,
		logger: logger,
	}
}

// OnCrash registers a handler for tasks that panicked.
func (l *Loop) OnCrash(fn func(*CrashError)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCrash = fn
}

// Post appends t. Returns false once the loop is stopped.
func (l *Loop) Post(t Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.tasks = append(l.tasks, t)
	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil, false
	}
	t := l.tasks[0]
	l.tasks[0] = nil
	if len(l.tasks) == 1 {
		l.tasks = l.tasks[:0]
	} else {
		l.tasks = l.tasks[1:]
	}
	return t, true
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Run executes tasks until ctx is cancelled or Stop is called and the
// queue has drained. A failing task is logged and the loop goes on.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if t, ok := l.next(); ok {
			l.exec(ctx, t)
			continue
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.signal:
			if l.stopped() && l.Len() == 0 {
				return nil
			}
		}
	}
}

// Drain runs every queued task on the caller's goroutine and returns how
// many ran. For tests and one-shot commands that never call Run.
func (l *Loop) Drain(ctx context.Context) int {
	n := 0
	for {
		t, ok := l.next()
		if !ok {
			return n
		}
		l.exec(ctx, t)
		n++
	}
}

func (l *Loop) exec(ctx context.Context, t Task) {
	err := Recover(l.dev, func() error { return t(ctx) })
	if err == nil {
		return
	}
	if crash, ok := AsCrash(err); ok {
		l.logger.Error("task crashed", "error", crash.Value, "stack", string(crash.Stack))
		l.mu.Lock()
		fn := l.onCrash
		l.mu.Unlock()
		if fn != nil {
			fn(crash)
		}
		return
	}
	l.logger.Warn("task failed", "error", err)
}

// Stop closes the loop to new tasks. Run returns once the queue drains.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.signal)
}

func (l *Loop) stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

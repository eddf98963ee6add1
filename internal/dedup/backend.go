package dedup

import (
	"context"
	"sync"
	"time"
)

// Backend stores the last-seen time per key.
type Backend interface {
	// Admit records now under key and returns true unless a record younger
	// than window exists. A suppressed call leaves the record untouched.
	Admit(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)

	// Reset forgets every key.
	Reset(ctx context.Context) error

	Close() error
}

// Sweeper is implemented by backends that need explicit pruning of expired
// records.
type Sweeper interface {
	Sweep(now time.Time, window time.Duration) int
}

// MemoryBackend keeps records in a process-local map.
//
// Thread-safety: All methods are safe for concurrent use.
type MemoryBackend struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{seen: make(map[string]time.Time)}
}

func (b *MemoryBackend) Admit(_ context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if last, ok := b.seen[key]; ok && now.Sub(last) < window {
		return false, nil
	}
	b.seen[key] = now
	return true, nil
}

func (b *MemoryBackend) Reset(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.seen)
	return nil
}

func (b *MemoryBackend) Close() error {
	return b.Reset(context.Background())
}

// Sweep drops records older than window and returns how many were removed.
func (b *MemoryBackend) Sweep(now time.Time, window time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for k, last := range b.seen {
		if now.Sub(last) >= window {
			delete(b.seen, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of live records.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}

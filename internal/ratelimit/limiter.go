package ratelimit

import (
	"sync"
	"time"
)

// Limiter answers whether a key may act now, using a fixed window of
// `capacity` actions per `window` for each key independently. It is
// process-local and concurrency-safe. Absent keys are treated as fresh,
// so the first action always succeeds.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	entries  map[string]*counter
	clock    func() time.Time
}

type counter struct {
	count     int
	windowEnd time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock injects a time source, used by tests to step through windows.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New constructs a Limiter allowing capacity actions per window.
func New(capacity int, window time.Duration, opts ...Option) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}

	l := &Limiter{
		capacity: capacity,
		window:   window,
		entries:  make(map[string]*counter),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether the key may act now and records the action if so.
// An action that lands after the key's window elapsed resets the counter.
func (l *Limiter) Allow(key string) bool {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.windowEnd) {
		entry = &counter{windowEnd: now.Add(l.window)}
		l.entries[key] = entry
	}

	if entry.count >= l.capacity {
		return false
	}

	entry.count++
	return true
}

// Forget drops all state for the key. Called when a connection goes away so
// the map does not grow with dead connection keys.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, key)
}

// Sweep evicts every expired window. The gateway runs this periodically as a
// belt-and-braces cleanup alongside Forget.
func (l *Limiter) Sweep() {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, entry := range l.entries {
		if now.After(entry.windowEnd) {
			delete(l.entries, key)
		}
	}
}

// Package idgen provides snowflake-style unique id generation for identities
// and messages. Ids are decimal strings ordered by creation time, composed of
// a millisecond timestamp, a worker number, and a per-millisecond sequence.
package idgen

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	// Epoch is the custom origin for the timestamp component (2024-01-01 UTC).
	Epoch = int64(1704067200000)

	workerBits   = 10
	sequenceBits = 12

	maxWorker   = int64(1)<<workerBits - 1
	maxSequence = int64(1)<<sequenceBits - 1

	timestampShift = workerBits + sequenceBits
)

// Generator issues unique, monotonically increasing ids. It is safe for
// concurrent use.
type Generator struct {
	mu       sync.Mutex
	worker   int64
	sequence int64
	last     int64
	clock    func() time.Time
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(g *Generator) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// New constructs a Generator for the given worker number.
func New(worker int64, opts ...Option) (*Generator, error) {
	if worker < 0 || worker > maxWorker {
		return nil, errors.New("idgen: worker must be in [0, 1023]")
	}

	g := &Generator{
		worker: worker,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Next returns a fresh id as a decimal string.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock().UnixMilli() - Epoch
	if now < g.last {
		// Clock moved backwards; keep issuing against the last observed
		// millisecond so ids stay monotonic.
		now = g.last
	}

	if now == g.last {
		g.sequence++
		if g.sequence > maxSequence {
			// Sequence exhausted for this millisecond; spill into the next.
			g.sequence = 0
			now++
		}
	} else {
		g.sequence = 0
	}
	g.last = now

	id := now<<timestampShift | g.worker<<sequenceBits | g.sequence
	return strconv.FormatInt(id, 10)
}

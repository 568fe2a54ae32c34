// Package pring implements a lock-free multi-producer, multi-consumer
// ring buffer over a fixed-size, power-of-two array of generation-tagged
// cells — the same cache-traffic-minimizing design as the teacher
// package's LMAX-disruptor-style `internal/disruptor` ring, generalized
// to multiple producers, multiple consumers with dependency chains, and
// read-only snoopers.
//
// Producers never touch a consumer's cursor except through a cached
// lower-bound snapshot; consumers never touch the producer's cursor.
// Every cell carries the sequence number ("generation") of the value
// currently stored in it, which is how consumers detect an empty slot
// (generation behind the cursor they're trying to read) versus a reused
// one (generation ahead, meaning they fell too far behind and the
// producer already overwrote it).
//
// Sequence numbers start at 1; 0 is reserved to mean "this slot has
// never been written," matching every cell's zero-initialized state —
// exactly the convention `disruptor.RingBuffer` uses (`consumerCursor`
// starts at 1, `cursor` at 0).
package pring

import (
	"errors"

	"github.com/rishav/lockfree/internal/atom"
)

// ErrFull is the error value for a ring with no free slot within the
// producer's backpressure window. The enqueue methods themselves do not
// return it; they report a full ring as a false result.
var ErrFull = errors.New("pring: ring buffer is full")

// ErrEmpty is the error value for a ring with nothing to read. The
// dequeue/read methods themselves do not return it; they report an
// empty ring as a zero value/false pair.
var ErrEmpty = errors.New("pring: ring buffer is empty")

// ErrBadCapacity is returned by New when capacity is not a power of two.
var ErrBadCapacity = errors.New("pring: capacity must be a power of two")

// cellData is the immutable record published into a slot. Bundling
// generation and value into one struct, swapped atomically as a unit
// via atom.DoubleWord, is this module's emulation of the original's
// double-wide CAS on a {generation, value} pair (see DESIGN.md).
type cellData[T any] struct {
	generation uint64
	value      T
}

// cell is one ring slot. Real cache-line alignment is left to the Go
// runtime's allocator; the struct itself carries no manual padding,
// since Go offers no portable alignment directive the way the original
// C cache-line macros do.
type cell[T any] struct {
	word atom.DoubleWord[cellData[T]]
}

// Ring is a fixed-capacity, power-of-two lock-free MPMC ring buffer.
// The zero value is not usable; construct with New.
type Ring[T any] struct {
	cells    []cell[T]
	capacity uint64
	mask     uint64

	// prodCursor is the highest sequence number any producer has
	// successfully claimed and published so far.
	prodCursor uint64

	// consumerSnap is a cached lower bound on the oldest consumer
	// cursor, refreshed on demand when producers run low on room.
	consumerSnap uint64

	consumers []*Consumer[T]
}

// Config configures a new Ring.
type Config struct {
	// Capacity is the number of slots in the ring. Must be a power of
	// two (e.g. 1024, 4096, 8192).
	Capacity uint64
}

// DefaultConfig returns a reasonable default capacity, matching the
// teacher ring buffer's default.
func DefaultConfig() Config {
	return Config{Capacity: 8192}
}

// New creates a ring buffer with the given configuration.
func New[T any](cfg Config) (*Ring[T], error) {
	if cfg.Capacity == 0 || cfg.Capacity&(cfg.Capacity-1) != 0 {
		return nil, ErrBadCapacity
	}
	r := &Ring[T]{
		cells:    make([]cell[T], cfg.Capacity),
		capacity: cfg.Capacity,
		mask:     cfg.Capacity - 1,
	}
	for i := range r.cells {
		r.cells[i].word.Store(&cellData[T]{})
	}
	return r, nil
}

// Destroy releases the ring's backing storage. Go's garbage collector
// does the actual reclamation; Destroy exists for API parity with the
// library surface in spec.md §6.3 and to make caller intent explicit —
// after calling it, the ring must not be used again.
func (r *Ring[T]) Destroy() {
	r.cells = nil
	r.consumers = nil
}

// Size returns the ring's fixed capacity.
func (r *Ring[T]) Size() uint64 { return r.capacity }

// Buffer returns a best-effort snapshot of the values currently resident
// in the ring, indexed by slot (not by sequence order). It is meant for
// debugging and tests, not the hot path: it takes no locks and may
// observe a torn mix of old and new values under concurrent writers.
func (r *Ring[T]) Buffer() []T {
	out := make([]T, len(r.cells))
	for i := range r.cells {
		out[i] = r.cells[i].word.Load().value
	}
	return out
}

func (r *Ring[T]) index(seq uint64) uint64 { return seq & r.mask }

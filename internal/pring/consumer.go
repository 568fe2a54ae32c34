package pring

import (
	"errors"
	"sync/atomic"

	"github.com/rishav/lockfree/internal/atom"
)

// ErrTooManyDeps is returned by NewDependentConsumer when a dependency
// range is malformed or references a consumer that has not been
// registered yet.
var ErrTooManyDeps = errors.New("pring: dependency range out of bounds")

// Consumer is one registered reader of a Ring. Consumers are set up
// once, before production/consumption begins: NewConsumer appends to
// the ring's consumer list and assigns this consumer the next id, so
// a consumer can only depend on consumers created earlier.
type Consumer[T any] struct {
	ring *Ring[T]
	id   int

	// cursor is the next sequence number this consumer will read.
	cursor uint64

	// readLimit is the exclusive upper bound on readable sequences,
	// refreshed from the dependency range (or from the ring's producer
	// cursor, for a consumer with no parents).
	readLimit uint64

	depBegin, depEnd int
}

// NewConsumer registers a new consumer on the ring with no dependencies
// — it may read anything the producer has published, bounded only by
// the ring itself.
func (r *Ring[T]) NewConsumer() *Consumer[T] {
	c := &Consumer[T]{ring: r, id: len(r.consumers), cursor: 1}
	r.consumers = append(r.consumers, c)
	return c
}

// NewDependentConsumer registers a new consumer whose read limit is
// bounded by the minimum cursor of consumers [depBegin, depEnd) —
// already-registered consumers this one must not race ahead of.
func (r *Ring[T]) NewDependentConsumer(depBegin, depEnd int) (*Consumer[T], error) {
	if depBegin < 0 || depEnd > len(r.consumers) || depBegin > depEnd {
		return nil, ErrTooManyDeps
	}
	c := &Consumer[T]{
		ring:     r,
		id:       len(r.consumers),
		cursor:   1,
		depBegin: depBegin,
		depEnd:   depEnd,
	}
	r.consumers = append(r.consumers, c)
	return c, nil
}

// ID returns this consumer's index within its ring's consumer list —
// the value a later dependent consumer would reference.
func (c *Consumer[T]) ID() int { return c.id }

// Cursor returns the next sequence number this consumer will read.
func (c *Consumer[T]) Cursor() uint64 { return atomic.LoadUint64(&c.cursor) }

// refresh recomputes readLimit. A consumer with no parents is bounded
// only by what the producer has published so far (prodCursor represents
// the last claimed sequence, so the exclusive bound is prodCursor+1). A
// consumer with parents takes the minimum of its parents' cursors,
// walking backward and skipping any sub-range a parent already covers
// via its own dependency range — the same skip spec.md §4.2.5 describes.
func (c *Consumer[T]) refresh() uint64 {
	if c.depBegin == c.depEnd {
		limit := atomic.LoadUint64(&c.ring.prodCursor) + 1
		atomic.StoreUint64(&c.readLimit, limit)
		return limit
	}

	min := ^uint64(0)
	i := c.depEnd - 1
	for i >= c.depBegin {
		parent := c.ring.consumers[i]
		if v := atomic.LoadUint64(&parent.cursor); v < min {
			min = v
		}
		if parent.depBegin < parent.depEnd && parent.depEnd == i {
			// parent's own dependency range covers [parent.depBegin, i);
			// every consumer in that range already bounds parent's
			// cursor (parent can never read past its own parents), so
			// their cursors can't pull min below what we already have.
			i = parent.depBegin - 1
			continue
		}
		i--
	}
	atomic.StoreUint64(&c.readLimit, min)
	return min
}

// peek returns the value and generation currently stored in the slot
// for sequence cur, whether or not it is ready. Callers compare gen
// against cur: equal means populated, gen < cur means empty, and
// gen > cur means stale (this consumer fell behind and the producer
// already reused the slot).
func (r *Ring[T]) peek(cur uint64) (v T, gen uint64) {
	idx := r.index(cur)
	d := r.cells[idx].word.Load()
	return d.value, d.generation
}

// SDequeue removes and returns the next value for a single consumer.
// Concurrent calls to SDequeue/SRead/SConsume on the same Consumer from
// more than one goroutine are undefined, same as the original's
// single-consumer path.
func (c *Consumer[T]) SDequeue() (T, bool) {
	cur := atomic.LoadUint64(&c.cursor)
	limit := atomic.LoadUint64(&c.readLimit)
	if cur >= limit {
		limit = c.refresh()
		if cur >= limit {
			var zero T
			return zero, false
		}
	}
	v, gen := c.ring.peek(cur)
	if gen != cur {
		var zero T
		return zero, false
	}
	atomic.StoreUint64(&c.cursor, cur+1)
	return v, true
}

// SRead is SDequeue without advancing the cursor: the value stays
// available for a subsequent SDequeue/SRead.
func (c *Consumer[T]) SRead() (T, bool) {
	cur := atomic.LoadUint64(&c.cursor)
	limit := atomic.LoadUint64(&c.readLimit)
	if cur >= limit {
		limit = c.refresh()
		if cur >= limit {
			var zero T
			return zero, false
		}
	}
	v, gen := c.ring.peek(cur)
	if gen != cur {
		var zero T
		return zero, false
	}
	return v, true
}

// SConsume advances the cursor past the value last returned by SRead,
// without re-reading it. It is the second half of a read-then-commit
// pair: call SRead, decide whether to keep the value, then SConsume.
func (c *Consumer[T]) SConsume() {
	atomic.AddUint64(&c.cursor, 1)
}

// MDequeue removes and returns the next value, safe for any number of
// concurrent consumers sharing this Consumer handle (the multi-consumer
// path CAS-advances the shared cursor).
func (c *Consumer[T]) MDequeue() (T, bool) {
	for {
		cur := atomic.LoadUint64(&c.cursor)
		limit := atomic.LoadUint64(&c.readLimit)
		if cur >= limit {
			limit = c.refresh()
			if cur >= limit {
				var zero T
				return zero, false
			}
		}
		v, gen := c.ring.peek(cur)
		if gen != cur {
			var zero T
			return zero, false
		}
		if atomic.CompareAndSwapUint64(&c.cursor, cur, cur+1) {
			return v, true
		}
		atom.Pause()
	}
}

// MRead is the non-advancing counterpart to MDequeue.
func (c *Consumer[T]) MRead() (T, bool) {
	cur := atomic.LoadUint64(&c.cursor)
	limit := atomic.LoadUint64(&c.readLimit)
	if cur >= limit {
		limit = c.refresh()
		if cur >= limit {
			var zero T
			return zero, false
		}
	}
	v, gen := c.ring.peek(cur)
	if gen != cur {
		var zero T
		return zero, false
	}
	return v, true
}

// MDequeueN drains up to n values in one pass, confirmed by a single CAS
// over the whole batch; on a lost race it halves the batch and retries,
// matching the original's batched multi-consumer dequeue.
func (c *Consumer[T]) MDequeueN(n int) []T {
	if n <= 0 {
		return nil
	}
	for batch := n; batch > 0; batch /= 2 {
		cur := atomic.LoadUint64(&c.cursor)
		limit := atomic.LoadUint64(&c.readLimit)
		if cur+uint64(batch) > limit {
			limit = c.refresh()
		}
		avail := limit - cur
		if avail == 0 {
			return nil
		}
		if uint64(batch) > avail {
			batch = int(avail)
		}
		out := make([]T, 0, batch)
		ok := true
		for i := 0; i < batch; i++ {
			v, gen := c.ring.peek(cur + uint64(i))
			if gen != cur+uint64(i) {
				ok = false
				break
			}
			out = append(out, v)
		}
		if !ok {
			continue
		}
		if atomic.CompareAndSwapUint64(&c.cursor, cur, cur+uint64(batch)) {
			return out
		}
		atom.Pause()
	}
	return nil
}

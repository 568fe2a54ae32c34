package pring

import (
	"sync/atomic"

	"github.com/rishav/lockfree/internal/atom"
)

// refreshConsumerSnap recomputes the cached lower bound on every
// registered consumer's cursor and stores it. With no consumers
// registered, the ring has no backpressure source and the snapshot
// sits one past the producer cursor, as if everything published had
// already been consumed (every slot is immediately considered safe to
// reuse) — a deliberate degenerate case for rings used purely for
// fan-out to snoopers, which never gate production.
func (r *Ring[T]) refreshConsumerSnap() uint64 {
	if len(r.consumers) == 0 {
		snap := atomic.LoadUint64(&r.prodCursor) + 1
		atomic.StoreUint64(&r.consumerSnap, snap)
		return snap
	}
	min := atomic.LoadUint64(&r.consumers[0].cursor)
	for _, c := range r.consumers[1:] {
		if v := atomic.LoadUint64(&c.cursor); v < min {
			min = v
		}
	}
	atomic.StoreUint64(&r.consumerSnap, min)
	return min
}

// SEnqueue publishes v for a single producer. Callers must guarantee no
// other goroutine calls SEnqueue or MEnqueue concurrently on this ring;
// mixing single- and multi-producer calls on the same ring is undefined,
// same as in the original.
func (r *Ring[T]) SEnqueue(v T) bool {
	_, ok := r.SEnqueueVal(v)
	return ok
}

// SEnqueueVal is SEnqueue but also reports the value previously resident
// in the claimed slot (the oldest entry being overwritten), mirroring
// `senqueue_val`.
func (r *Ring[T]) SEnqueueVal(v T) (old T, ok bool) {
	cur := atomic.LoadUint64(&r.prodCursor)
	next := cur + 1
	snap := atomic.LoadUint64(&r.consumerSnap)
	if next-snap > r.mask {
		snap = r.refreshConsumerSnap()
		if next-snap > r.mask {
			var zero T
			return zero, false
		}
	}

	idx := r.index(next)
	slot := &r.cells[idx].word
	prev := slot.Load()
	slot.Store(&cellData[T]{generation: next, value: v})
	atomic.StoreUint64(&r.prodCursor, next)
	return prev.value, true
}

// MEnqueue publishes v from one of potentially many concurrent
// producers, using the cell's generation as a CAS gate.
func (r *Ring[T]) MEnqueue(v T) bool {
	_, ok := r.MEnqueueVal(v)
	return ok
}

// MEnqueueVal is MEnqueue but also reports the value the claimed slot
// held before this publish.
func (r *Ring[T]) MEnqueueVal(v T) (old T, ok bool) {
	hint := atomic.LoadUint64(&r.prodCursor)

	for {
		next := hint + 1
		snap := atomic.LoadUint64(&r.consumerSnap)
		available := snap + r.mask
		if next > available {
			refreshed := r.refreshConsumerSnap()
			if next > refreshed+r.mask {
				var zero T
				return zero, false
			}
		}

		idx := r.index(next)
		slot := &r.cells[idx].word
		observed := slot.Load()
		if observed.generation >= next {
			// Another producer already claimed this sequence (or a
			// later one); advance the hint past what we observed and
			// retry from a fresh sequence.
			hint = observed.generation
			atom.Pause()
			continue
		}

		replacement := &cellData[T]{generation: next, value: v}
		if !slot.CAS(observed, replacement) {
			// Lost the CAS race; reload and retry with the same hint.
			atom.Pause()
			continue
		}

		// Opportunistically bump the shared cursor. It is a hint for the
		// next producer's search, but consumers without parents also
		// take their read limit from it, so it is only ever raised: the
		// CAS loop keeps a slower producer from storing a smaller value
		// over a larger one.
		for {
			cursor := atomic.LoadUint64(&r.prodCursor)
			if cursor >= next {
				break
			}
			if atomic.CompareAndSwapUint64(&r.prodCursor, cursor, next) {
				break
			}
		}

		return observed.value, true
	}
}

package rhset

import "sync/atomic"

// Get reports whether a value equal to v (per the set's equal function)
// is present, returning the stored copy.
//
// The scan takes a generation snapshot before probing and compares it
// again afterward; if the writer touched this hash's ideal bucket while
// the scan was in flight, the counts won't match and Get restarts from
// scratch against the table pointer current at that moment. This is the
// same optimistic-retry discipline spec.md's RHS module describes for
// readers racing a single writer, applied to an in-process struct
// rather than a shared-memory segment.
func (s *Set[T]) Get(v T) (T, bool) {
	h := s.hash(v)
	slot := s.generationSlot(h)
	for {
		genBefore := atomic.LoadUint32(slot)
		t := s.tbl.Load()

		result, found := scanFor(t, h, v, s.equal, s.probeBoundForRead(t, h))

		if atomic.LoadUint32(slot) != genBefore {
			continue
		}
		return result, found
	}
}

// probeBoundForRead returns how many probe steps Get should try before
// giving up: the per-bucket high-water mark if the table has one
// recorded, otherwise the global maximum observed across the whole set.
func (s *Set[T]) probeBoundForRead(t *table[T], h uint64) uint32 {
	return t.probeBoundFor(h, atomic.LoadUint32(&s.probeMaximum))
}

// scanFor walks the probe sequence for hash h up to bound steps
// (inclusive), looking for a descriptor equal to v. A descriptor mid
// Robin-Hood rotation (inRH) is treated as an unoccupied continuation
// slot: the real occupant, if any, is either already relocated or about
// to be, and the generation check in Get catches the race either way.
func scanFor[T any](t *table[T], h uint64, v T, equal func(a, b T) bool, bound uint32) (T, bool) {
	next := probeIndex(h, t.mask)
	for step := uint32(0); step <= bound; step++ {
		idx := next(uint64(step))
		d := &t.descriptors[idx]
		if d.inRH {
			continue
		}
		if !d.occupied {
			break
		}
		if equal(d.value, v) {
			return d.value, true
		}
	}
	var zero T
	return zero, false
}

// writerFind is the writer-side counterpart to scanFor: the writer never
// races itself, so it needs no generation retry and can report the slot
// index it found (or the first open slot along the probe sequence, for
// callers that want to know where an insert would land).
func writerFind[T any](t *table[T], h uint64, v T, equal func(a, b T) bool) (idx uint64, found bool) {
	next := probeIndex(h, t.mask)
	for step := uint64(0); step < t.capacity(); step++ {
		i := next(step)
		d := &t.descriptors[i]
		if !d.occupied {
			return i, false
		}
		if !d.inRH && equal(d.value, v) {
			return i, true
		}
	}
	return 0, false
}

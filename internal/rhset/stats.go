package rhset

import "sync/atomic"

// Stats is a point-in-time snapshot of a set's occupancy and probing
// behavior, mirroring the fields the original's ck_hs_stat exposes.
type Stats struct {
	Entries      uint64
	Capacity     uint64
	ProbeMaximum uint32

	// Tombstones is always 0: backward-shift deletion never leaves one.
	// The field exists so callers porting code written against a
	// tombstone-based hash table compile unchanged against this one.
	Tombstones uint64
}

// Stat returns the set's current statistics.
func (s *Set[T]) Stat() Stats {
	t := s.tbl.Load()
	return Stats{
		Entries:      atomic.LoadUint64(&s.size),
		Capacity:     t.capacity(),
		ProbeMaximum: atomic.LoadUint32(&s.probeMaximum),
	}
}

// GC tightens every per-bucket probe bound down to the true high-water
// mark still present in the table, undoing slack left behind by
// Remove's backward shifts (a removal can shorten every remaining probe
// distance in a chain but never lowers the recorded bound, since
// lowering it is only ever safe, never required — a reader using a
// stale, larger bound just probes a few extra, always-empty slots). GC
// requires no generation bump: a reader observing a too-large bound
// mid-shrink just does harmless extra work, never a wrong answer.
func (s *Set[T]) GC() {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	t := s.tbl.Load()
	tightened := make([]uint32, len(t.probeBound))
	for i := range t.descriptors {
		d := &t.descriptors[i]
		if !d.occupied || d.inRH {
			continue
		}
		bucket := idealBucket(s.hash(d.value), t.mask)
		if d.probes > tightened[bucket] {
			tightened[bucket] = d.probes
		}
	}
	var max uint32
	for i, v := range tightened {
		atomic.StoreUint32(&t.probeBound[i], v)
		if v > max {
			max = v
		}
	}
	atomic.StoreUint32(&s.probeMaximum, max)
}

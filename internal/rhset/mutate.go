package rhset

import "sync/atomic"

// loadFactor is the fraction of a table's capacity that triggers a grow
// before the next insert. spec.md requires n_entries*2 < capacity after
// every successful insertion, so this must stay at (or under) 0.5 —
// kept low relative to a plain linear-probing table because probe
// variance rises faster as occupancy nears capacity.
const loadFactor = 0.5

// carry is the entry currently being placed during Robin-Hood insertion
// — either the caller's new value, or a previous occupant displaced
// because it had probed less far than the value taking its slot.
type carry[T any] struct {
	hash   uint64
	value  T
	probes uint32
}

// insertEntry places v (hashing to h) into t via Robin-Hood displacement,
// assuming the caller has already confirmed v is not a duplicate (or
// does not care). It never grows the table itself — callers must ensure
// t has room, since insertEntry probing an already-full table walks off
// into an infinite loop the same way the original's does.
func (s *Set[T]) insertEntry(t *table[T], h uint64, v T) {
	c := carry[T]{hash: h, value: v, probes: 0}
	seq := probeIndex(c.hash, t.mask)

	for {
		idx := seq(uint64(c.probes))
		d := &t.descriptors[idx]

		if !d.occupied {
			d.value = c.value
			d.probes = c.probes
			d.occupied = true
			d.inRH = false
			t.growProbeBound(idealBucket(c.hash, t.mask), c.probes)
			s.growProbeMaximum(c.probes)
			s.bumpGeneration(c.hash)
			return
		}

		if d.probes < c.probes {
			d.inRH = true
			evictedValue, evictedProbes := d.value, d.probes
			d.value = c.value
			d.probes = c.probes
			d.inRH = false
			t.growProbeBound(idealBucket(c.hash, t.mask), c.probes)
			s.growProbeMaximum(c.probes)
			s.bumpGeneration(c.hash)

			evictedHash := s.hash(evictedValue)
			s.bumpGeneration(evictedHash)
			c = carry[T]{hash: evictedHash, value: evictedValue, probes: evictedProbes}
			seq = probeIndex(c.hash, t.mask)
		}

		c.probes++
	}
}

// growProbeMaximum raises the set-wide probe high-water mark used as
// Get's fallback bound when a bucket has no per-bucket bound recorded
// yet (see table.probeBoundFor).
func (s *Set[T]) growProbeMaximum(probes uint32) {
	for {
		cur := atomic.LoadUint32(&s.probeMaximum)
		if probes <= cur {
			return
		}
		if atomic.CompareAndSwapUint32(&s.probeMaximum, cur, probes) {
			return
		}
	}
}

func (t *table[T]) growProbeBound(bucket uint64, probes uint32) {
	for {
		cur := atomic.LoadUint32(&t.probeBound[bucket])
		if probes <= cur {
			return
		}
		if atomic.CompareAndSwapUint32(&t.probeBound[bucket], cur, probes) {
			return
		}
	}
}

// ensureRoom grows the table ahead of an insert if occupancy would cross
// loadFactor, so insertEntry never has to probe a full table.
func (s *Set[T]) ensureRoom() {
	t := s.tbl.Load()
	if (s.size+1)*2 < t.capacity() {
		return
	}
	s.growLocked(t.capacity() * 2)
}

// Put inserts v if no equal value is already present. It reports false
// without modifying the set if v is a duplicate — the caller pays for
// a lookup it would otherwise have done anyway.
func (s *Set[T]) Put(v T) bool {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	h := s.hash(v)
	t := s.tbl.Load()
	if _, found := writerFind(t, h, v, s.equal); found {
		return false
	}
	s.ensureRoom()
	t = s.tbl.Load()
	s.insertEntry(t, h, v)
	atomic.AddUint64(&s.size, 1)
	return true
}

// PutUnique inserts v without checking for a duplicate first — for
// callers that already know, by construction, that v cannot already be
// present (e.g. restoring from a source known to hold distinct keys).
// Passing a duplicate leaves the set with two entries that compare
// equal, which Get will resolve to whichever one probing reaches first.
func (s *Set[T]) PutUnique(v T) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	s.ensureRoom()
	t := s.tbl.Load()
	s.insertEntry(t, s.hash(v), v)
	atomic.AddUint64(&s.size, 1)
}

// Set inserts v, replacing any existing equal value, and reports the
// value it replaced (if any).
func (s *Set[T]) Set(v T) (old T, replaced bool) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	h := s.hash(v)
	t := s.tbl.Load()
	if idx, found := writerFind(t, h, v, s.equal); found {
		d := &t.descriptors[idx]
		old = d.value
		d.value = v
		s.bumpGeneration(h)
		return old, true
	}
	s.ensureRoom()
	t = s.tbl.Load()
	s.insertEntry(t, h, v)
	atomic.AddUint64(&s.size, 1)
	var zero T
	return zero, false
}

// FAS (fetch-and-set) replaces an existing equal value with v and
// returns the value it replaced, but does nothing and reports false if
// no equal value is present — unlike Set, it never inserts.
func (s *Set[T]) FAS(v T) (old T, ok bool) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	h := s.hash(v)
	t := s.tbl.Load()
	idx, found := writerFind(t, h, v, s.equal)
	if !found {
		var zero T
		return zero, false
	}
	d := &t.descriptors[idx]
	old = d.value
	d.value = v
	s.bumpGeneration(h)
	return old, true
}

// Remove deletes an equal value if present, backward-shifting later
// probe-chain entries into the gap instead of leaving a tombstone: each
// descriptor following the removed slot, along its own probe sequence,
// that could shorten its distance by moving back into the hole is
// pulled back, and the hole "follows" it, repeating until a slot is
// reached that is empty or already at its own ideal bucket (probes==0).
//
// It reports the removed value itself (not just whether one existed),
// matching spec.md §4.3's "Delete returns the removed pointer or NULL":
// in identity-hashed sets the caller already holds an equal value, but
// in byte-string or composite-key modes the stored value may carry
// fields the probe key didn't.
func (s *Set[T]) Remove(v T) (T, bool) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	h := s.hash(v)
	t := s.tbl.Load()
	idx, found := writerFind(t, h, v, s.equal)
	if !found {
		var zero T
		return zero, false
	}
	removed := t.descriptors[idx].value
	s.bumpGeneration(h)
	s.removeAt(t, h, idx)
	return removed, true
}

// Apply runs fn with the current value stored for a key equal to v (and
// whether it was found), then stores fn's returned value if fn asks to,
// or removes the entry if fn asks to store nothing for a key that
// existed. It is the read-modify-write primitive the plain Put/Set API
// can't express atomically against concurrent readers: the whole
// sequence happens under the writer lock, and every entry it changes or
// moves has its generation bumped before readers can observe the change.
func (s *Set[T]) Apply(v T, fn func(cur T, found bool) (next T, store bool)) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	h := s.hash(v)
	t := s.tbl.Load()
	idx, found := writerFind(t, h, v, s.equal)

	var cur T
	if found {
		cur = t.descriptors[idx].value
	}
	next, store := fn(cur, found)

	switch {
	case found && store:
		t.descriptors[idx].value = next
		s.bumpGeneration(h)
	case found && !store:
		s.bumpGeneration(h)
		s.removeAt(t, h, idx)
	case !found && store:
		s.ensureRoom()
		t = s.tbl.Load()
		s.insertEntry(t, s.hash(next), next)
		atomic.AddUint64(&s.size, 1)
	}
}

// removeAt is Remove's backward-shift body, factored out for Apply's
// found-but-should-delete branch. Callers must already hold writerMu and
// have bumped the generation for h.
func (s *Set[T]) removeAt(t *table[T], h uint64, idx uint64) {
	seq := probeIndex(h, t.mask)
	hole := idx
	step := uint64(t.descriptors[idx].probes) + 1
	for {
		next := seq(step)
		nd := &t.descriptors[next]
		if !nd.occupied || nd.probes == 0 {
			t.descriptors[hole] = descriptor[T]{}
			break
		}
		s.bumpGeneration(s.hash(nd.value))
		t.descriptors[hole] = descriptor[T]{
			value:    nd.value,
			occupied: true,
			probes:   nd.probes - 1,
		}
		*nd = descriptor[T]{}
		hole = next
		step++
	}
	atomic.AddUint64(&s.size, ^uint64(0))
}

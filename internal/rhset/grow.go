package rhset

import (
	"sync/atomic"
	"unsafe"

	"github.com/rishav/lockfree/internal/epoch"
)

// publish atomically swaps in newTbl and arranges for the superseded
// table to be freed. With an epoch configured, the free is deferred via
// Call so a reader still mid-scan against the old table (which Get can
// legitimately be, since it holds a *table[T] it loaded before the
// swap) keeps reading valid memory until a grace period confirms no one
// can still be looking at it; Go's garbage collector would eventually
// reclaim the old table anyway; the epoch handoff only matters if the
// caller also wants deferred side effects (e.g. metrics) tied to the
// same grace period. Without an epoch configured, publish just drops
// the old table and lets the collector do the rest.
func (s *Set[T]) publish(newTbl *table[T]) {
	old := s.tbl.Swap(newTbl)
	if s.epochGlobal == nil || s.epochRecord == nil || old == nil {
		return
	}
	captured := old
	entry := &epoch.Entry{}
	s.epochGlobal.Call(s.epochRecord, entry, func(*epoch.Entry) {
		captured.descriptors = nil
	})
}

// rehash builds a fresh table of the given capacity holding every
// occupied entry from the current table, recomputing probe distances
// from scratch (insertion order into the new table does not matter:
// Robin-Hood displacement converges to the same arrangement regardless
// of the order entries arrive in).
func (s *Set[T]) rehash(capacity uint64) *table[T] {
	old := s.tbl.Load()
	nt := newTable[T](capacity)
	for i := range old.descriptors {
		d := &old.descriptors[i]
		if d.occupied && !d.inRH {
			s.insertEntry(nt, s.hash(d.value), d.value)
		}
	}
	return nt
}

// growLocked is ensureRoom's and Grow's shared body. Callers must
// already hold writerMu.
func (s *Set[T]) growLocked(capacity uint64) error {
	if capacity == 0 || capacity&(capacity-1) != 0 || capacity < cacheLineBuckets {
		return ErrBadCapacity
	}
	nt := s.rehash(capacity)
	s.publish(nt)
	return nil
}

// Grow resizes the set's backing table to capacity, which must be a
// power of two no smaller than the current entry count warrants.
// Existing readers holding the old table pointer keep working against
// a frozen snapshot until their next Get re-loads the table.
func (s *Set[T]) Grow(capacity uint64) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	return s.growLocked(capacity)
}

// Rebuild reinserts every entry into a same-capacity table, which
// shortens probe chains built up by a long history of Remove-induced
// backward shifts interleaved with inserts into different buckets. It
// is the one maintenance operation worth exposing even though
// backward-shift deletion already avoids tombstone buildup, since
// repeated insert/remove cycling can still leave probe distances longer
// than a from-scratch layout would produce.
func (s *Set[T]) Rebuild() {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	t := s.tbl.Load()
	_ = s.growLocked(t.capacity())
}

// Reset empties the set, keeping its current capacity.
func (s *Set[T]) Reset() {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	t := s.tbl.Load()
	s.publish(newTable[T](t.capacity()))
	atomic.StoreUint64(&s.size, 0)
	atomic.StoreUint32(&s.probeMaximum, 0)
}

// ResetSize empties the set and resizes its backing table to capacity.
func (s *Set[T]) ResetSize(capacity uint64) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()
	if capacity == 0 || capacity&(capacity-1) != 0 || capacity < cacheLineBuckets {
		return ErrBadCapacity
	}
	s.publish(newTable[T](capacity))
	atomic.StoreUint64(&s.size, 0)
	atomic.StoreUint32(&s.probeMaximum, 0)
	return nil
}

// Move transfers every entry from src into s, emptying src, without
// individually reinserting each one — it just takes over src's table
// directly, matching the original's ck_hs_move, which exists precisely
// to avoid the cost of a full rehash when relocating an entire table's
// contents into a freshly constructed set.
//
// Locks are acquired in address order regardless of which set is the
// receiver, so two goroutines calling Move with the two sets reversed
// cannot deadlock against each other.
func (s *Set[T]) Move(src *Set[T]) {
	if s == src {
		return
	}
	first, second := s, src
	if uintptr(unsafe.Pointer(src)) < uintptr(unsafe.Pointer(s)) {
		first, second = src, s
	}
	first.writerMu.Lock()
	defer first.writerMu.Unlock()
	second.writerMu.Lock()
	defer second.writerMu.Unlock()

	moved := src.tbl.Load()
	s.publish(moved)
	atomic.StoreUint64(&s.size, atomic.LoadUint64(&src.size))
	atomic.StoreUint32(&s.probeMaximum, atomic.LoadUint32(&src.probeMaximum))

	// Not publish: the table src gives up is now s's live table, so it
	// must not be handed to src's epoch for deferred freeing.
	src.tbl.Store(newTable[T](moved.capacity()))
	atomic.StoreUint64(&src.size, 0)
	atomic.StoreUint32(&src.probeMaximum, 0)
}

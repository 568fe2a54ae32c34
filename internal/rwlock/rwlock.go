// Package rwlock implements reader/writer coordination primitives with
// no blocking syscalls: every wait is a bounded-contention busy-wait
// spin issuing a CPU pause hint every iteration, the same discipline
// `internal/epoch` and `internal/pring` use for their own stall loops.
// It trades fairness for latency under the light contention these
// primitives are meant for — a goroutine that blocks behind a lock here
// is expected to hold it only briefly.
//
// RWLock is a plain writer-priority lock: once a writer announces
// intent, no new reader can acquire until it releases, so a steady
// stream of readers cannot starve a writer the way a naive reader-
// preferring lock would. ByteLock (bytelock.go) is the cache-friendlier
// variant that gives a bounded number of known readers their own flag
// word in a small array instead of sharing one contended counter.
package rwlock

import "github.com/rishav/lockfree/internal/atom"

// readerHalf is the number of bits n_readers reserves for the active
// reader count; the remaining high bits hold the latch generation.
const readerHalf = 32

const readerMask = uint64(1)<<readerHalf - 1

// RWLock is a writer-priority reader/writer lock. The zero value is a
// valid, unlocked lock.
type RWLock struct {
	writer   uint32
	nReaders uint64
}

// Lock acquires the lock for writing, spinning until no reader and no
// other writer holds it. Once this call's CAS claims the writer flag,
// later readers see writer != 0 and stop acquiring, so the spin for
// existing readers to drain is bounded by however long they were
// already in their section when Lock was called.
func (l *RWLock) Lock() {
	for !atom.CAS32(&l.writer, 0, 1) {
		atom.Pause()
	}
	for atomic32Low(&l.nReaders) != 0 {
		atom.Pause()
	}
	atom.FenceAcquire()
}

// TryLock attempts to acquire the write lock without spinning,
// reporting whether it succeeded.
func (l *RWLock) TryLock() bool {
	if !atom.CAS32(&l.writer, 0, 1) {
		return false
	}
	if atomic32Low(&l.nReaders) != 0 {
		l.writer = 0
		return false
	}
	atom.FenceAcquire()
	return true
}

// Unlock releases a write lock acquired via Lock/TryLock.
func (l *RWLock) Unlock() {
	atom.FenceRelease()
	atom.Store32(&l.writer, 0)
}

// Downgrade converts a held write lock directly into a read lock
// without a window where neither is held — a reader count is published
// before the writer flag clears, so a concurrent Lock can never slip in
// between.
func (l *RWLock) Downgrade() {
	addReaders(&l.nReaders, 1)
	atom.FenceStoreLoad()
	atom.Store32(&l.writer, 0)
}

// Latch acquires the write lock exactly like Lock, additionally
// advancing the lock's latch generation so a concurrent Read callers
// that captured a generation via RLatchLock can tell a writer passed
// through while they weren't looking, without needing to block on this
// writer at all.
func (l *RWLock) Latch() {
	l.Lock()
	addGeneration(&l.nReaders, 1)
}

// Unlatch releases a lock held via Latch. It is identical to Unlock;
// the distinction exists only so call sites read as a matched
// Latch/Unlatch pair instead of a Lock/Unlock pair acquired via Latch.
func (l *RWLock) Unlatch() {
	l.Unlock()
}

// RLock acquires a read lock, spinning while a writer holds or is
// waiting for the lock. The acquire-then-recheck sequence (increment,
// fence, recheck writer) is what keeps a writer from slipping in
// between a reader's "writer looked clear" check and its count
// increment: if a writer wins that race, this reader backs its count
// out and retries rather than proceeding alongside it.
func (l *RWLock) RLock() {
	for {
		for atom.Load32(&l.writer) != 0 {
			atom.Pause()
		}
		addReaders(&l.nReaders, 1)
		atom.FenceAtomicLoad()
		if atom.Load32(&l.writer) == 0 {
			atom.FenceAcquire()
			return
		}
		addReaders(&l.nReaders, ^uint64(0))
		atom.Pause()
	}
}

// TryRLock attempts to acquire a read lock without spinning.
func (l *RWLock) TryRLock() bool {
	if atom.Load32(&l.writer) != 0 {
		return false
	}
	addReaders(&l.nReaders, 1)
	if atom.Load32(&l.writer) != 0 {
		addReaders(&l.nReaders, ^uint64(0))
		return false
	}
	atom.FenceAcquire()
	return true
}

// RUnlock releases a read lock acquired via RLock/TryRLock/RLatchLock.
func (l *RWLock) RUnlock() {
	atom.FenceRelease()
	addReaders(&l.nReaders, ^uint64(0))
}

// RLatchLock acquires a read lock the same way RLock does and returns
// the latch generation observed at acquisition time. A caller that
// later wants to know whether a Latch/Unlatch writer has run since can
// compare this value against a fresh Generation() call instead of
// holding the read lock the whole time.
func (l *RWLock) RLatchLock() uint32 {
	l.RLock()
	return l.Generation()
}

// Generation returns the lock's current latch generation.
func (l *RWLock) Generation() uint32 {
	return uint32(atom.Load64(&l.nReaders) >> readerHalf)
}

// Locked reports whether any reader or writer currently holds the lock.
func (l *RWLock) Locked() bool {
	return l.LockedWriter() || l.LockedReader()
}

// LockedReader reports whether at least one reader currently holds the
// lock.
func (l *RWLock) LockedReader() bool {
	return atomic32Low(&l.nReaders) != 0
}

// LockedWriter reports whether a writer currently holds the lock.
func (l *RWLock) LockedWriter() bool {
	return atom.Load32(&l.writer) != 0
}

func atomic32Low(n *uint64) uint32 {
	return uint32(atom.Load64(n) & readerMask)
}

// addReaders adds delta (possibly the two's-complement encoding of a
// negative step) to the low reader-count half of n without disturbing
// the high latch-generation half.
func addReaders(n *uint64, delta uint64) {
	atom.FAA64(n, delta)
}

// addGeneration adds delta latch generations, encoded in the high half.
func addGeneration(n *uint64, delta uint64) {
	atom.FAA64(n, delta<<readerHalf)
}

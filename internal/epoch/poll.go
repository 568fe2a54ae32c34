package epoch

import (
	"sync/atomic"

	"github.com/rishav/lockfree/internal/atom"
)

// dispatchList drains deferral list idx on r, running every queued
// destructor, and updates the record's pending/dispatched counters.
func (r *Record) dispatchList(idx int) int {
	n := r.lists[idx].drain()
	if n > 0 {
		atomic.AddUint64(&r.dispatched, uint64(n))
		// pending only ever decreases here; Call is the only writer that
		// increases it, and Call/dispatch never run concurrently for the
		// same record (both are driven by the record's owning goroutine).
		atomic.AddUint64(&r.pending, ^uint64(n-1))
	}
	return n
}

// dispatchAll drains every deferral list on r.
func (r *Record) dispatchAll() int {
	total := 0
	for i := range r.lists {
		total += r.dispatchList(i)
	}
	return total
}

// Reclaim unconditionally dispatches every deferral list on r, without
// checking for a grace period. Used at shutdown, or after Synchronize
// has already established one (see Barrier).
func (r *Record) Reclaim() int {
	return r.dispatchAll()
}

// scan walks the registry once, reporting whether any used/active
// record (the caller's own included) is lagging behind the current
// epoch, and whether any used record is active at all.
func (g *Global) scan() (lagging, anyActive bool) {
	current := atomic.LoadUint64(&g.epoch)
	for cur := g.registry.Load(); cur != nil; cur = cur.next {
		if atomic.LoadUint32(&cur.state) != stateUsed {
			continue
		}
		if atomic.LoadUint32(&cur.active) == 0 {
			continue
		}
		anyActive = true
		if atomic.LoadUint64(&cur.epochLocal) != current {
			lagging = true
		}
	}
	return lagging, anyActive
}

// safeListIndex returns the deferral-list index Call would have used at
// newEpoch, matching ck_epoch_dispatch(record, epoch + 1) in the
// original: the scan just preceding this call already guarantees every
// active record had caught up to the epoch before newEpoch, and the
// entries still filed under this index were deferred DefaultDeferralLists
// (or a multiple of it) epochs before newEpoch, so nothing can still
// hold a reference to them.
func safeListIndex(newEpoch uint64) int {
	const l = uint64(DefaultDeferralLists)
	return int(newEpoch % l)
}

// Poll makes one attempt at progress: if a used, active record is
// lagging behind the current epoch, it records the caller's own record
// as caught up to the current epoch (so the caller itself doesn't
// immediately look lagging on the next poll) and reports no progress.
// If every used record is inactive, it dispatches every deferral list
// on r (full quiescence). Otherwise it advances the global epoch by one
// and dispatches the one list indexed by the new epoch, whose entries
// were deferred at least DefaultDeferralLists epochs earlier.
func (g *Global) Poll(r *Record) bool {
	lagging, anyActive := g.scan()
	if lagging {
		atomic.StoreUint64(&r.epochLocal, atomic.LoadUint64(&g.epoch))
		return false
	}
	if !anyActive {
		r.dispatchAll()
		return true
	}
	old := atomic.LoadUint64(&g.epoch)
	if !atomic.CompareAndSwapUint64(&g.epoch, old, old+1) {
		return false
	}
	r.dispatchList(safeListIndex(old + 1))
	return true
}

// Synchronize blocks until a grace period has been established, looping
// the same scan Poll performs: a lagging active record causes a stall
// and retry; once every used record is inactive it stops; otherwise it
// CAS-advances the epoch and continues. It gives up after Grace
// successful advances even if some record never goes inactive, per
// spec — a pathologically long-lived reader can't wedge Synchronize
// forever, but its deferred objects simply won't be reclaimed yet.
func (g *Global) Synchronize(r *Record) {
	for advances := 0; advances < Grace; {
		lagging, anyActive := g.scan()
		if lagging {
			for {
				atom.Pause()
				lagging, anyActive = g.scan()
				if !lagging {
					break
				}
			}
		}
		if !anyActive {
			return
		}
		old := atomic.LoadUint64(&g.epoch)
		if atomic.CompareAndSwapUint64(&g.epoch, old, old+1) {
			advances++
		}
	}
}

// Barrier synchronizes and then unconditionally reclaims every
// deferral list on r, guaranteeing every callback deferred before the
// call has run by the time Barrier returns.
func (g *Global) Barrier(r *Record) {
	g.Synchronize(r)
	r.Reclaim()
}

// Package epoch implements quiescent-state-based reclamation: writers
// enqueue destructors for objects they remove from a shared structure,
// and those destructors run once every reader that might still hold a
// reference has been observed to have left its read-side section.
//
// There is no garbage collector cooperation here — readers announce a
// critical section with Begin/End, and writers periodically Poll (or
// block on Synchronize) to detect a grace period. This mirrors the
// epoch design used by ck_epoch.c: a single shared Global owns a
// monotonic epoch counter and an append-only registry of per-thread
// Records; Records are allocated by the caller (one per participating
// goroutine) and stay linked into the registry for the program's life.
package epoch

import "sync/atomic"

// DefaultDeferralLists is the number of deferral lists kept per record
// (spec default: a fixed power of two, L=4). Index e mod L holds
// callbacks deferred while the global epoch was e; a record that wraps
// around the array must have observed L-1 intervening grace periods,
// which the epoch-advancement rule guarantees.
const DefaultDeferralLists = 4

// Grace is the number of successful epoch advances Synchronize performs
// before giving up on further progress even if some record hasn't gone
// inactive. Two distinct epochs (e, e+1) may be observed concurrently by
// live readers; a third advance guarantees any object deferred at e has
// no surviving reference, and that the deferral array may safely wrap.
const Grace = 3

const (
	stateFree uint32 = iota
	stateUsed
)

// Global is the shared epoch-reclamation state. It is owned by the
// caller — there is no package-level global — and must outlive every
// Record registered against it.
type Global struct {
	epoch    uint64
	registry atomic.Pointer[Record]
	nFree    uint64
}

// NewGlobal returns a ready-to-use Global with its epoch counter
// initialized to 1 (0 is reserved as "never observed").
func NewGlobal() *Global {
	return &Global{epoch: 1}
}

// Epoch returns the current global epoch. It is a snapshot; by the time
// the caller inspects the result it may already be stale.
func (g *Global) Epoch() uint64 {
	return atomic.LoadUint64(&g.epoch)
}

// Register links a caller-allocated Record into the registry and marks
// it used/inactive. The record must not already be registered. Register
// publishes the record with a release store (via the registry's CAS
// push) so any other goroutine that later walks the registry observes a
// fully initialized record.
func (g *Global) Register(r *Record) {
	*r = Record{}
	atomic.StoreUint32(&r.state, stateUsed)
	for {
		head := g.registry.Load()
		r.next = head
		if g.registry.CompareAndSwap(head, r) {
			return
		}
	}
}

// Unregister marks a record free. The slot is not unlinked — recycle
// may later claim it for a new participant — so unregistering a record
// that still has pending deferred callbacks would leak them; callers
// should Barrier first if that matters.
func (g *Global) Unregister(r *Record) {
	atomic.StoreUint64(&r.epochLocal, 0)
	atomic.StoreUint32(&r.active, 0)
	atomic.StoreUint32(&r.state, stateFree)
	atomic.AddUint64(&g.nFree, 1)
}

// Recycle scans the registry for a free record and claims it atomically,
// returning nil if none is free. Callers use this to reuse a slot left
// behind by a goroutine that unregistered instead of allocating a fresh
// Record.
func (g *Global) Recycle() *Record {
	if atomic.LoadUint64(&g.nFree) == 0 {
		return nil
	}
	for cur := g.registry.Load(); cur != nil; cur = cur.next {
		if atomic.CompareAndSwapUint32(&cur.state, stateFree, stateUsed) {
			atomic.AddUint64(&g.nFree, ^uint64(0))
			return cur
		}
	}
	return nil
}

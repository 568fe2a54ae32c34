package epoch

import (
	"sync/atomic"

	"github.com/rishav/lockfree/internal/atom"
)

// Entry is a deferral-list node. Callers embed one in the object they
// want destroyed once a grace period passes — an intrusive list node,
// same as the original, so deferring a destructor costs no allocation
// beyond the object already being freed.
type Entry struct {
	fn   func(*Entry)
	next *Entry
}

// list is one of a record's L deferral lists: a lock-free singly linked
// stack of Entry nodes pushed by Call and drained wholesale by dispatch.
type list struct {
	head atomic.Pointer[Entry]
}

func (l *list) push(e *Entry) {
	for {
		head := l.head.Load()
		e.next = head
		if l.head.CompareAndSwap(head, e) {
			return
		}
	}
}

// drain pops every entry currently on the list and runs its destructor.
// It is only ever called by the record's own owning goroutine (via
// Poll/Synchronize/Barrier/Reclaim on that record), so there is no
// concurrent drain to race against — only concurrent pushes from Call.
func (l *list) drain() int {
	head := l.head.Swap(nil)
	n := 0
	for e := head; e != nil; {
		next := e.next
		fn := e.fn
		e.fn = nil
		e.next = nil
		if fn != nil {
			fn(e)
		}
		n++
		e = next
	}
	return n
}

// Record is one participant's epoch-reclamation state: a recursion-
// capable active flag, the local epoch snapshot taken on section entry,
// and this participant's own deferral lists. Records are allocated by
// the caller and registered for the life of the program; Unregister only
// flips the state tag so a later Recycle can reclaim the slot.
type Record struct {
	state      uint32
	epochLocal uint64
	active     uint32
	lists      [DefaultDeferralLists]list

	pending    uint64
	peak       uint64
	dispatched uint64

	next *Record // registry stack link, set once by Register
}

// Stats is a snapshot of a record's deferral bookkeeping.
type Stats struct {
	Pending    uint64
	Peak       uint64
	Dispatched uint64
}

// Stats returns the record's current pending/peak/dispatched counters.
func (r *Record) Stats() Stats {
	return Stats{
		Pending:    atomic.LoadUint64(&r.pending),
		Peak:       atomic.LoadUint64(&r.peak),
		Dispatched: atomic.LoadUint64(&r.dispatched),
	}
}

// Active reports whether the record is currently inside a read-side
// section (recursion depth greater than zero).
func (r *Record) Active() bool {
	return atomic.LoadUint32(&r.active) != 0
}

// Begin announces entry into a read-side critical section. Recursive
// calls increment a depth counter instead of re-snapshotting the epoch;
// only the outermost Begin takes a new snapshot of the global epoch.
//
// The store of active=1 is ordered after the epoch snapshot and before
// any load the caller performs inside the section: on a weakly ordered
// target this needs a store→load fence, which atom.FenceStoreLoad marks
// explicitly even though Go's atomic stores already prevent reordering
// with subsequent atomic loads in this implementation.
func (g *Global) Begin(r *Record) {
	if atomic.LoadUint32(&r.active) == 0 {
		snapshot := atomic.LoadUint64(&g.epoch)
		atomic.StoreUint64(&r.epochLocal, snapshot)
		atomic.StoreUint32(&r.active, 1)
		atom.FenceStoreLoad()
		return
	}
	atomic.AddUint32(&r.active, 1)
}

// End leaves one level of a read-side critical section. A release fence
// precedes the decrement so writes performed inside the section are
// visible to a writer that later observes active==0 for this record.
func (g *Global) End(r *Record) {
	atom.FenceRelease()
	atomic.AddUint32(&r.active, ^uint32(0))
}

// Call defers fn to run no earlier than two grace periods after the
// epoch observed right now. entry is the intrusive node fn is invoked
// with; it must not already be queued. Destructors must not call Begin,
// End, or Call themselves — reentrant deferral during dispatch is
// undefined, per spec.
func (g *Global) Call(r *Record, entry *Entry, fn func(*Entry)) {
	entry.fn = fn
	idx := atomic.LoadUint64(&g.epoch) % DefaultDeferralLists
	r.lists[idx].push(entry)

	pending := atomic.AddUint64(&r.pending, 1)
	for {
		peak := atomic.LoadUint64(&r.peak)
		if pending <= peak || atomic.CompareAndSwapUint64(&r.peak, peak, pending) {
			break
		}
	}
}

// Package registry wires three of this module's four core engines
// together into one concurrent data structure: a session directory
// backed by `rhset` (the single-writer, multi-reader hash set), with
// evicted sessions reclaimed through `epoch` instead of relying solely
// on the garbage collector's notion of reachability, and an aggregate
// stats snapshot guarded by `rwlock` so a burst of concurrent readers
// never observes a torn mix of counters.
//
// It plays the role the teacher repo's `matching`/`orderbook` packages
// played for the order book: the thing `cmd/server` wires up and
// `cmd/client` drives, except here the payload is a session directory
// instead of a price-time-priority book, because that is what this
// module's spec is actually a library for.
package registry

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/rishav/lockfree/internal/epoch"
	"github.com/rishav/lockfree/internal/rhset"
	"github.com/rishav/lockfree/internal/rwlock"
)

// ErrClosed is returned by Join once Shutdown has run. Leave reports
// not-found after Shutdown instead, and Lookup does not check for it.
var ErrClosed = errors.New("registry: closed")

// ErrDuplicate is returned by Join when a session with the same ID is
// already registered.
var ErrDuplicate = errors.New("registry: session already joined")

// Session is one registered participant. Registry never mutates a
// Session in place after Join publishes it — Leave retires the pointer
// entirely rather than editing it, so a reader that obtained a *Session
// from Lookup may keep reading its fields after a concurrent Leave
// without additional synchronization, right up until the epoch grace
// period reclaims it (see Closed).
type Session struct {
	ID       uint64
	Name     string
	JoinedAt int64

	// closed is set by the deferred destructor Leave schedules through
	// epoch.Call, strictly after every reader that could have observed
	// this Session via Lookup has left its read-side section. It exists
	// so tests can assert a Session is never marked closed while a
	// concurrent reader still holds it (spec.md §8.1 EPOCH safety).
	closed int32
}

// Closed reports whether this session's deferred cleanup has run.
func (s *Session) Closed() bool { return atomic.LoadInt32(&s.closed) != 0 }

// Stats is a point-in-time snapshot of registry activity counters.
type Stats struct {
	Joins  uint64
	Leaves uint64
	Active uint64
}

// Config configures a new Registry.
type Config struct {
	// Capacity is the initial session-set capacity (must be a power of
	// two); the set doubles on its own once load factor crosses 0.5.
	Capacity uint64
}

// DefaultConfig returns reasonable defaults for a small deployment.
func DefaultConfig() Config {
	return Config{Capacity: 64}
}

// Registry is a concurrent session directory. The zero value is not
// usable; construct with New.
type Registry struct {
	sessions *rhset.Set[*Session]

	epochGlobal *epoch.Global
	writerRec   *epoch.Record
	readers     readerPool

	statsLock statsGuard
	joins     uint64
	leaves    uint64

	closed int32
}

// New creates a ready-to-use Registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Capacity == 0 {
		cfg = DefaultConfig()
	}
	g := epoch.NewGlobal()
	writerRec := &epoch.Record{}
	g.Register(writerRec)

	sessions, err := rhset.New(rhset.Config{
		Capacity: cfg.Capacity,
		Epoch:    g,
		Record:   writerRec,
	}, sessionHash, sessionEqual)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		sessions:    sessions,
		epochGlobal: g,
		writerRec:   writerRec,
	}
	reg.readers.global = g
	return reg, nil
}

func sessionHash(s *Session) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], s.ID)
	return xxhash.Sum64(buf[:])
}

func sessionEqual(a, b *Session) bool { return a.ID == b.ID }

// lookupKey builds a throwaway Session carrying only the ID, the form
// rhset's identity-mode Get/Put/Remove need to probe for an existing
// entry without allocating a full record.
func lookupKey(id uint64) *Session { return &Session{ID: id} }

// Join registers a new session. It reports ErrDuplicate if a session
// with the same ID is already present, or ErrClosed if Shutdown has
// already run.
func (r *Registry) Join(s *Session) error {
	if atomic.LoadInt32(&r.closed) != 0 {
		return ErrClosed
	}
	if !r.sessions.Put(s) {
		return ErrDuplicate
	}
	atomic.AddUint64(&r.joins, 1)
	r.publishStats()
	return nil
}

// Leave removes the session with the given ID, if present, and reports
// whether it was found. The Session's backing memory is not reused or
// mutated until every concurrent reader that might still be holding a
// pointer to it (via Lookup) has left its read-side section: Leave
// defers the actual close to epoch.Call and lets Poll/Synchronize/
// Barrier dispatch it once that grace period has passed.
func (r *Registry) Leave(id uint64) (*Session, bool) {
	if atomic.LoadInt32(&r.closed) != 0 {
		return nil, false
	}
	removed, ok := r.sessions.Remove(lookupKey(id))
	if !ok {
		return nil, false
	}
	atomic.AddUint64(&r.leaves, 1)
	r.publishStats()

	entry := &epoch.Entry{}
	session := removed
	r.epochGlobal.Call(r.writerRec, entry, func(*epoch.Entry) {
		atomic.StoreInt32(&session.closed, 1)
	})
	// Make an opportunistic attempt at reclaiming; callers that need a
	// guaranteed dispatch (e.g. before process exit) should call Barrier.
	r.epochGlobal.Poll(r.writerRec)
	return removed, true
}

// Lookup returns the session registered under id, if any. It is safe to
// call concurrently with any number of other Lookups and with at most
// one concurrent Join/Leave, per rhset's SPMC contract. Internally it
// borrows a pooled epoch.Record to announce the read-side section
// (Register/Recycle, spec.md §4.1) for the duration of the probe.
func (r *Registry) Lookup(id uint64) (*Session, bool) {
	rec := r.readers.acquire()
	defer r.readers.release(rec)

	r.epochGlobal.Begin(rec)
	defer r.epochGlobal.End(rec)

	return r.sessions.Get(lookupKey(id))
}

// ReaderToken is a read-side critical section held open across more
// than one operation, for a caller that wants to pin a Session pointer
// (or issue several Lookups) without the epoch section closing between
// them — e.g. a long-lived read transaction, or a test that needs to
// prove a concurrent Leave can't finalize a Session's destructor while
// a reader is still "in".
type ReaderToken struct {
	rec *epoch.Record
}

// AcquireReader opens a read-side critical section and returns a token
// identifying it. The token must be released with ReleaseReader exactly
// once; holding one open indefinitely delays reclamation of anything
// Leave defers in the meantime, the same as a slow reader would on any
// epoch-guarded structure.
func (r *Registry) AcquireReader() *ReaderToken {
	rec := r.readers.acquire()
	r.epochGlobal.Begin(rec)
	return &ReaderToken{rec: rec}
}

// ReleaseReader closes the critical section opened by AcquireReader.
func (r *Registry) ReleaseReader(tok *ReaderToken) {
	r.epochGlobal.End(tok.rec)
	r.readers.release(tok.rec)
}

// LookupWith looks up id using an already-held ReaderToken instead of
// borrowing a pooled record for the duration of just this call — for
// probing the registry more than once inside one critical section.
func (r *Registry) LookupWith(tok *ReaderToken, id uint64) (*Session, bool) {
	return r.sessions.Get(lookupKey(id))
}

// Count returns the number of sessions currently joined.
func (r *Registry) Count() uint64 { return r.sessions.Count() }

// Barrier blocks until every Leave deferred so far has run its
// destructor, regardless of reader activity. Useful at shutdown or in
// tests that need to observe Session.Closed() deterministically.
func (r *Registry) Barrier() {
	r.epochGlobal.Barrier(r.writerRec)
}

// Shutdown flushes all pending deferred destructors and releases the
// registry's pooled reader records. The Registry must not be used
// afterward.
func (r *Registry) Shutdown() {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return
	}
	r.Barrier()
	r.readers.drain()
}

// publishStats recomputes the cached snapshot under the write lock so
// concurrent Stats() callers never observe a torn read across the three
// counters.
func (r *Registry) publishStats() {
	snap := Stats{
		Joins:  atomic.LoadUint64(&r.joins),
		Leaves: atomic.LoadUint64(&r.leaves),
		Active: r.sessions.Count(),
	}
	r.statsLock.store(snap)
}

// Stats returns the most recently published activity snapshot.
func (r *Registry) Stats() Stats {
	return r.statsLock.load()
}

// statsGuard publishes Stats under rwlock.RWLock instead of atomics, so
// a burst of concurrent Stats() readers never sees a torn mix of old
// and new counters the way three independent atomic loads could: every
// read and every publish takes the lock, and RWLock lets any number of
// concurrent Stats() callers proceed together while a publish briefly
// excludes them all.
type statsGuard struct {
	lock rwlock.RWLock
	snap Stats
}

func (g *statsGuard) store(s Stats) {
	g.lock.Lock()
	g.snap = s
	g.lock.Unlock()
}

func (g *statsGuard) load() Stats {
	g.lock.RLock()
	s := g.snap
	g.lock.RUnlock()
	return s
}

// readerPool hands out epoch.Records for Lookup's read-side sections,
// preferring a previously unregistered (but not yet recycled) record
// over allocating a new one — exercising epoch's Register/Recycle/
// Unregister trio the way a long-running server would, instead of
// registering one record per request forever.
type readerPool struct {
	global *epoch.Global
	mu     sync.Mutex
	free   []*epoch.Record
}

func (p *readerPool) acquire() *epoch.Record {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		rec := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return rec
	}
	p.mu.Unlock()

	if rec := p.global.Recycle(); rec != nil {
		return rec
	}
	rec := &epoch.Record{}
	p.global.Register(rec)
	return rec
}

func (p *readerPool) release(rec *epoch.Record) {
	p.mu.Lock()
	p.free = append(p.free, rec)
	p.mu.Unlock()
}

// drain unregisters every currently idle pooled record, so Shutdown
// leaves nothing holding the epoch active unnecessarily.
func (p *readerPool) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range p.free {
		p.global.Unregister(rec)
	}
	p.free = nil
}

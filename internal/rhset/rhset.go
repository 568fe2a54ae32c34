// Package rhset implements an open-addressed, Robin-Hood-displacement
// hash set for single-writer, multi-reader (SPMC) use: any number of
// readers run Get concurrently with the one active writer, and readers
// never block or take a lock.
//
// Robin-Hood insertion keeps probe-chain variance low by displacing
// whichever occupant has probed less far than the entry being inserted;
// backward-shift deletion fills the resulting gap by walking the chain
// forward and shifting displaced entries back toward their ideal
// bucket, so no tombstone is ever needed. A small fixed-size generation
// array signals in-flight readers to reprobe when a mutation could have
// moved the entry they were chasing.
//
// There is no teacher analogue for this data structure (the retrieval
// pack's closest relative is the teacher's own hand-rolled red-black
// tree in `internal/orderbook/rbtree.go`); the probing and displacement
// bookkeeping follow the original C reference implementation's
// structure directly (see DESIGN.md).
package rhset

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/rishav/lockfree/internal/atom"
	"github.com/rishav/lockfree/internal/epoch"
)

// DefaultGenerations is the size of the generation-counter array
// (spec.md's default of 1024).
const DefaultGenerations = 1024

// ErrGrowFailed is returned when growth cannot allocate a new table.
// In a Go program this only happens if the caller supplies an
// unreasonable capacity; Go's allocator does not return nil the way a
// C malloc might, so this exists for API parity with the original.
var ErrGrowFailed = errors.New("rhset: grow failed")

// ErrBadCapacity is returned by New/Grow/ResetSize for a non-power-of-two
// or too-small capacity.
var ErrBadCapacity = errors.New("rhset: capacity must be a power of two, at least the cache-line probe width")

// Set is a Robin-Hood open-addressed hash set over values of type T.
type Set[T any] struct {
	hash  func(T) uint64
	equal func(a, b T) bool

	tbl atomic.Pointer[table[T]]

	generations  []uint32
	probeMaximum uint32
	size         uint64

	// epochGlobal/epochRecord, if set, let Grow/Rebuild/Reset defer
	// freeing a superseded table until readers that might still be
	// walking it have quiesced, instead of relying solely on the Go
	// garbage collector's own (much coarser) notion of reachability.
	epochGlobal *epoch.Global
	epochRecord *epoch.Record

	// writerMu serializes writer-side operations. spec.md assumes
	// exactly one writer is ever active; this mutex is a safety net
	// against accidental concurrent-writer misuse, not part of the
	// core algorithm — it never blocks a reader.
	writerMu sync.Mutex
}

// Config configures a new Set.
type Config struct {
	// Capacity is the initial table size. Must be a power of two and
	// at least cacheLineBuckets.
	Capacity uint64

	// Generations overrides the generation-array size (default 1024).
	Generations int

	// Epoch, if non-nil, is used to defer freeing a superseded table
	// until a grace period has passed, via Epoch.Call on Record.
	Epoch  *epoch.Global
	Record *epoch.Record
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{Capacity: 16, Generations: DefaultGenerations}
}

// New creates a Set with caller-supplied hash and equality functions —
// identity mode: hash typically derives from a pointer's identity or a
// struct field, equal compares identity or value equality as the caller
// needs.
func New[T any](cfg Config, hash func(T) uint64, equal func(a, b T) bool) (*Set[T], error) {
	if cfg.Capacity == 0 || cfg.Capacity&(cfg.Capacity-1) != 0 || cfg.Capacity < cacheLineBuckets {
		return nil, ErrBadCapacity
	}
	gens := cfg.Generations
	if gens <= 0 {
		gens = DefaultGenerations
	}
	s := &Set[T]{
		hash:        hash,
		equal:       equal,
		generations: make([]uint32, gens),
		epochGlobal: cfg.Epoch,
		epochRecord: cfg.Record,
	}
	s.tbl.Store(newTable[T](cfg.Capacity))
	return s, nil
}

// NewBytes creates a Set in byte-string mode: keyOf extracts the bytes
// identifying a value, hashed with xxhash (the same fast, non-
// cryptographic hash the rest of the retrieval pack already reaches
// for) and compared byte for byte.
func NewBytes[T any](cfg Config, keyOf func(T) []byte) (*Set[T], error) {
	return New(cfg, func(v T) uint64 {
		return xxhash.Sum64(keyOf(v))
	}, func(a, b T) bool {
		return bytesEqual(keyOf(a), keyOf(b))
	})
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Count returns the number of entries currently stored.
func (s *Set[T]) Count() uint64 {
	return atomic.LoadUint64(&s.size)
}

// generationSlot returns a pointer to the generation counter guarding
// hash h's ideal bucket.
func (s *Set[T]) generationSlot(h uint64) *uint32 {
	return &s.generations[h%uint64(len(s.generations))]
}

func (s *Set[T]) bumpGeneration(h uint64) {
	atom.Inc32(s.generationSlot(h))
}

// probeBoundFor returns the upper bound on probe length a reader should
// use for hash h: the per-bucket bound if set, otherwise the coarser
// global probeMaximum fallback.
func (t *table[T]) probeBoundFor(h uint64, fallback uint32) uint32 {
	b := atomic.LoadUint32(&t.probeBound[idealBucket(h, t.mask)])
	if b == 0 {
		return fallback
	}
	return b
}

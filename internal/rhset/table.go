package rhset

// cacheLineBuckets is the number of contiguous slots probed within one
// "cache line" run before jumping to another line (spec.md's
// CK_HS_PROBE_L1, default 8).
const cacheLineBuckets = 8

// descriptor is one slot in the open-addressed table.
type descriptor[T any] struct {
	value    T
	occupied bool

	// probes is how far this entry sits from its ideal bucket, in
	// probe-sequence steps (0 means it occupies its own ideal slot).
	// Backward-shift deletion uses it directly: a removal's ripple
	// stops the moment it reaches a slot with probes==0, since such an
	// entry is already in its own ideal bucket and has nowhere shorter
	// to move.
	probes uint32

	// inRH marks a descriptor mid-rotation during a Robin-Hood
	// displacement: readers that land on it treat it as an unoccupied
	// probe-continuation slot rather than a candidate match.
	inRH bool
}

// table is one generation of the descriptor array. Grow/Rebuild/Reset
// build a new table and publish it atomically; a table, once published,
// is never mutated except by in-place writer operations (Put/Remove/
// Apply) that the single-writer discipline makes safe.
type table[T any] struct {
	descriptors []descriptor[T]
	mask        uint64
	probeBound  []uint32 // per ideal-bucket probe high-water mark
}

func newTable[T any](capacity uint64) *table[T] {
	return &table[T]{
		descriptors: make([]descriptor[T], capacity),
		mask:        capacity - 1,
		probeBound:  make([]uint32, capacity),
	}
}

func (t *table[T]) capacity() uint64 { return t.mask + 1 }

// probeIndex returns the bucket index visited at probe step `step`
// (0-indexed) for hash h. Probing walks the cacheLineBuckets-sized
// aligned run containing h&mask in wrap-around order, then jumps to
// another line using an odd, hash-derived stride: since the number of
// lines is always a power of two (capacity and cacheLineBuckets both
// are), an odd stride is coprime to it and is guaranteed to visit every
// line exactly once before repeating.
func probeIndex(h, mask uint64) func(step uint64) uint64 {
	const l1 = cacheLineBuckets
	numLines := (mask + 1) / l1
	if numLines == 0 {
		numLines = 1
	}
	startLine := (h & mask) / l1
	startOffset := (h & mask) % l1
	stride := (h | 1) % numLines
	if stride == 0 {
		stride = 1
	}
	return func(step uint64) uint64 {
		lineStep := step / l1
		offsetStep := step % l1
		line := (startLine + lineStep*stride) % numLines
		offset := (startOffset + offsetStep) % l1
		return line*l1 + offset
	}
}

// idealBucket is the bucket a hash would land on with zero probes —
// the index probe_bound and the generation array are keyed by.
func idealBucket(h, mask uint64) uint64 { return h & mask }

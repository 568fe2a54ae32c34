package pring

// Snooper reads a ring without ever advancing a cursor the producer can
// see — producers ignore it entirely for backpressure purposes. A
// snooper may fall arbitrarily far behind; Resync jumps it to the
// freshest available value instead of replaying history it no longer
// has slots for.
type Snooper[T any] struct {
	ring   *Ring[T]
	cursor uint64
}

// NewSnooper creates a snooper starting at sequence 1 (the oldest
// sequence number the ring can ever produce).
func (r *Ring[T]) NewSnooper() *Snooper[T] {
	return &Snooper[T]{ring: r, cursor: 1}
}

// Snoop attempts to read the value at the snooper's current cursor
// without advancing it, reporting whether the slot still holds that
// exact sequence. Because a cell publishes generation and value as one
// immutable record (see cellData), a single load already rules out a
// torn read between the two fields; Snoop re-checks the generation
// after use anyway, matching the original's read-generation-twice
// discipline for callers porting algorithms from that model.
func (s *Snooper[T]) Snoop() (T, bool) {
	cur := s.cursor
	v, gen := s.ring.peek(cur)
	if gen != cur {
		var zero T
		return zero, false
	}
	_, gen2 := s.ring.peek(cur)
	if gen2 != cur {
		var zero T
		return zero, false
	}
	return v, true
}

// Advance moves the snooper's cursor forward by one after a successful
// Snoop, so the next call observes the following sequence.
func (s *Snooper[T]) Advance() {
	s.cursor++
}

// SnoopN reads up to n consecutive ready values starting at the
// snooper's cursor without advancing it, stopping at the first gap.
func (s *Snooper[T]) SnoopN(n int) []T {
	out := make([]T, 0, n)
	cur := s.cursor
	for i := 0; i < n; i++ {
		v, gen := s.ring.peek(cur + uint64(i))
		if gen != cur+uint64(i) {
			break
		}
		out = append(out, v)
	}
	return out
}

// Resync jumps the snooper forward to whatever sequence now occupies
// the slot its old cursor would have read, which is less than one lap
// behind the newest published value but not necessarily that value
// itself — the behavior spec.md §4.2.6
// prescribes for a snooper that has fallen too far behind to catch up
// by stepping one sequence at a time.
func (s *Snooper[T]) Resync() {
	idx := s.ring.index(s.cursor)
	d := s.ring.cells[idx].word.Load()
	if d.generation > s.cursor {
		s.cursor = d.generation
	}
}

package rhset

// Iterator walks every occupied slot of a single table snapshot in
// bucket order. It is explicitly not safe to use while a writer may be
// mutating the set: unlike Get, it performs no generation check and
// does not restart on conflict, matching the original's documented
// stance that iteration is a maintenance-time operation, not a
// concurrent one.
type Iterator[T any] struct {
	t   *table[T]
	pos uint64
}

// Iterator returns a snapshot iterator over the set's table as it
// stands right now. Mutating the set after obtaining an iterator but
// before exhausting it is undefined: Grow/Reset/Move replace the table
// wholesale, so the iterator simply keeps walking its now-detached
// snapshot, and in-place ops (Put/Set/Remove/Apply) mutate descriptors
// the iterator may or may not have reached yet.
func (s *Set[T]) Iterator() *Iterator[T] {
	return &Iterator[T]{t: s.tbl.Load()}
}

// Next returns the next entry and true, or the zero value and false
// once every slot has been visited.
func (it *Iterator[T]) Next() (T, bool) {
	for it.pos < uint64(len(it.t.descriptors)) {
		d := &it.t.descriptors[it.pos]
		it.pos++
		if d.occupied && !d.inRH {
			return d.value, true
		}
	}
	var zero T
	return zero, false
}

package epoch

import (
	"sync"
	"sync/atomic"
	"testing"
)

// TestBasicReclaim exercises spec scenario 8.3.1: one writer registers,
// enqueues three callbacks that each increment a shared counter, calls
// Barrier, and expects the counter at 3 afterward.
func TestBasicReclaim(t *testing.T) {
	g := NewGlobal()
	var w Record
	g.Register(&w)

	var count int32
	entries := make([]Entry, 3)
	for i := range entries {
		g.Call(&w, &entries[i], func(*Entry) {
			atomic.AddInt32(&count, 1)
		})
	}

	g.Barrier(&w)

	if got := atomic.LoadInt32(&count); got != 3 {
		t.Fatalf("expected count == 3 after barrier, got %d", got)
	}
}

// TestBasicReclaimWithActiveReader repeats the above with an active
// reader recorded via Begin/End sandwiching the Barrier; the callbacks
// must still run once the reader leaves its section.
func TestBasicReclaimWithActiveReader(t *testing.T) {
	g := NewGlobal()
	var w, reader Record
	g.Register(&w)
	g.Register(&reader)

	var count int32
	entries := make([]Entry, 3)
	for i := range entries {
		g.Call(&w, &entries[i], func(*Entry) {
			atomic.AddInt32(&count, 1)
		})
	}

	g.Begin(&reader)

	done := make(chan struct{})
	go func() {
		g.Barrier(&w)
		close(done)
	}()

	// Give Barrier a chance to spin against the still-active reader.
	for i := 0; i < 3; i++ {
		g.Poll(&w)
	}
	g.End(&reader)

	<-done

	if got := atomic.LoadInt32(&count); got != 3 {
		t.Fatalf("expected count == 3 after barrier, got %d", got)
	}
}

func TestRegisterUnregisterRecycle(t *testing.T) {
	g := NewGlobal()
	var r Record
	g.Register(&r)

	if r.state != stateUsed {
		t.Fatalf("expected registered record to be used")
	}

	g.Unregister(&r)
	if atomic.LoadUint64(&g.nFree) != 1 {
		t.Fatalf("expected one free record")
	}

	recycled := g.Recycle()
	if recycled != &r {
		t.Fatalf("expected recycle to return the unregistered record")
	}
	if atomic.LoadUint64(&g.nFree) != 0 {
		t.Fatalf("expected no free records after recycle")
	}
	if g.Recycle() != nil {
		t.Fatalf("expected no further free records")
	}
}

func TestBeginEndRecursion(t *testing.T) {
	g := NewGlobal()
	var r Record
	g.Register(&r)

	g.Begin(&r)
	g.Begin(&r)
	if !r.Active() {
		t.Fatalf("expected record to be active after nested Begin")
	}
	g.End(&r)
	if !r.Active() {
		t.Fatalf("expected record to remain active after one End of two Begins")
	}
	g.End(&r)
	if r.Active() {
		t.Fatalf("expected record to be inactive after matching End calls")
	}
}

// TestReclamationSafety runs a writer that repeatedly publishes and
// retires pointers while readers walk a snapshot under Begin/End,
// asserting no reader ever observes a value after it was freed
// (spec 8.1 EPOCH safety).
func TestReclamationSafety(t *testing.T) {
	g := NewGlobal()
	var writer Record
	g.Register(&writer)

	const readers = 8
	const iterations = 2000

	type node struct {
		entry Entry
		freed int32
		value int
	}

	var current atomic.Pointer[node]
	first := &node{value: 0}
	current.Store(first)

	readerRecords := make([]Record, readers)
	for i := range readerRecords {
		g.Register(&readerRecords[i])
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < readers; i++ {
		wg.Add(1)
		r := &readerRecords[i]
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				g.Begin(r)
				n := current.Load()
				if atomic.LoadInt32(&n.freed) != 0 {
					panic("reader observed a freed node")
				}
				_ = n.value
				g.End(r)
			}
		}()
	}

	for i := 0; i < iterations; i++ {
		next := &node{value: i + 1}
		old := current.Swap(next)
		g.Call(&writer, &old.entry, func(*Entry) {
			atomic.StoreInt32(&old.freed, 1)
		})
		g.Poll(&writer)
	}

	g.Barrier(&writer)
	close(stop)
	wg.Wait()
}

package atom

import "testing"

func TestCAS64(t *testing.T) {
	var v uint64 = 5
	if !CAS64(&v, 5, 6) {
		t.Fatalf("expected CAS to succeed")
	}
	if v != 6 {
		t.Fatalf("expected v == 6, got %d", v)
	}
	if CAS64(&v, 5, 7) {
		t.Fatalf("expected stale CAS to fail")
	}
}

func TestFAA64(t *testing.T) {
	var v uint64 = 10
	old := FAA64(&v, 3)
	if old != 10 || v != 13 {
		t.Fatalf("expected old=10 v=13, got old=%d v=%d", old, v)
	}
}

func TestDecIsZero64(t *testing.T) {
	var v uint64 = 1
	if !DecIsZero64(&v) {
		t.Fatalf("expected decrement to reach zero")
	}
	v = 2
	if DecIsZero64(&v) {
		t.Fatalf("did not expect zero")
	}
}

func TestBitOps32(t *testing.T) {
	var v uint32
	if Bts32(&v, 3) {
		t.Fatalf("expected prior bit to be unset")
	}
	if v != 1<<3 {
		t.Fatalf("expected bit 3 set, got %b", v)
	}
	if !Btr32(&v, 3) {
		t.Fatalf("expected prior bit to be set")
	}
	if v != 0 {
		t.Fatalf("expected cleared, got %b", v)
	}
}

func TestDoubleWordCAS(t *testing.T) {
	type cell struct{ n int }
	var dw DoubleWord[cell]
	a := &cell{n: 1}
	dw.Store(a)

	b := &cell{n: 2}
	if !dw.CAS(a, b) {
		t.Fatalf("expected CAS from a to b to succeed")
	}
	if dw.Load() != b {
		t.Fatalf("expected loaded record to be b")
	}
	if dw.CAS(a, b) {
		t.Fatalf("expected stale CAS against a to fail")
	}
}

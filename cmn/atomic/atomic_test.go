package atomic

import "testing"

func TestBool(t *testing.T) {
	var b Bool
	if b.Load() {
		t.Fatalf("zero-value Bool.Load() = true, want false")
	}
	b.Store(true)
	if !b.Load() {
		t.Fatalf("Load() after Store(true) = false")
	}
	if !b.CAS(true, false) {
		t.Fatalf("CAS(true, false) failed when current value is true")
	}
	if b.Load() {
		t.Fatalf("Load() after successful CAS = true, want false")
	}
	if b.CAS(true, false) {
		t.Fatalf("CAS(true, false) succeeded when current value is already false")
	}
}

func TestInt64IncDecCAS(t *testing.T) {
	var i Int64
	i.Store(10)
	if i.Inc(); i.Load() != 11 {
		t.Fatalf("after Inc, Load() = %d, want 11", i.Load())
	}
	if i.Dec(); i.Load() != 10 {
		t.Fatalf("after Dec, Load() = %d, want 10", i.Load())
	}
	if !i.CAS(10, 20) {
		t.Fatalf("CAS(10, 20) failed when current value is 10")
	}
	if i.Load() != 20 {
		t.Fatalf("Load() after CAS = %d, want 20", i.Load())
	}
}

func TestUint64Sub(t *testing.T) {
	var u Uint64
	u.Store(100)
	if got := u.Sub(30); got != 70 {
		t.Fatalf("Sub(30) = %d, want 70", got)
	}
}

func TestPointer(t *testing.T) {
	var p Pointer
	type payload struct{ n int }
	p.Store(&payload{n: 5})
	got := p.Load().(*payload)
	if got.n != 5 {
		t.Fatalf("Load() = %+v, want n=5", got)
	}
}

package latch

import "testing"

func TestTickPurity(t *testing.T) {
	r := New(false)
	r.Load(42)
	if r.Get() != 0 {
		t.Fatalf("Get before Tick = %d, want 0", r.Get())
	}
	r.Tick()
	if r.Get() != 42 {
		t.Fatalf("Get after Tick = %d, want 42", r.Get())
	}

	r.Load(7)
	if r.Get() != 42 {
		t.Fatalf("Get before second Tick = %d, want 42 (out(t) == in(t-1))", r.Get())
	}
	r.Tick()
	if r.Get() != 7 {
		t.Fatalf("Get after second Tick = %d, want 7", r.Get())
	}
}

func TestPeekSeesInBeforeTick(t *testing.T) {
	r := New(false)
	r.Load(99)
	if r.Peek() != 99 {
		t.Fatalf("Peek = %d, want 99", r.Peek())
	}
	if r.Get() != 0 {
		t.Fatalf("Get = %d, want 0 (unticked)", r.Get())
	}
}

func TestReset(t *testing.T) {
	r := New(true)
	r.Load(5)
	r.Tick()
	r.Reset()
	if r.Get() != 0 || r.Peek() != 0 {
		t.Fatalf("Reset did not clear both sides: out=%d in=%d", r.Get(), r.Peek())
	}
	if !r.Privileged() {
		t.Fatalf("Reset cleared privileged flag")
	}
}

func TestPrivilegedFlag(t *testing.T) {
	r := New(true)
	if !r.Privileged() {
		t.Fatalf("Privileged() = false, want true")
	}
	u := New(false)
	if u.Privileged() {
		t.Fatalf("Privileged() = true, want false")
	}
}

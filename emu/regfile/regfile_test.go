package regfile

import (
	"errors"
	"testing"

	Dv "github.com/hff-git/vcpu32/emu/device"
)

func TestResetStartsPrivileged(t *testing.T) {
	f := New()
	f.Reset()
	if !f.Privileged() {
		t.Fatalf("Privileged() after Reset = false, want true")
	}
	for i := 0; i < NumGeneral; i++ {
		if v := f.Read(Dv.General, i); v != 0 {
			t.Fatalf("general[%d] = %d after Reset, want 0", i, v)
		}
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	f := New()
	f.Reset()
	if err := f.Write(Dv.General, 3, 0xdeadbeef); err != nil {
		t.Fatalf("Write general[3]: %v", err)
	}
	if v := f.Read(Dv.General, 3); v != 0 {
		t.Fatalf("Read before Tick = %#x, want 0 (not yet latched)", v)
	}
	f.Tick()
	if v := f.Read(Dv.General, 3); v != 0xdeadbeef {
		t.Fatalf("Read after Tick = %#x, want 0xdeadbeef", v)
	}
}

func TestR0IsOrdinaryRegister(t *testing.T) {
	f := New()
	f.Reset()
	if err := f.Write(Dv.General, 0, 123); err != nil {
		t.Fatalf("Write general[0]: %v", err)
	}
	f.Tick()
	if v := f.Read(Dv.General, 0); v != 123 {
		t.Fatalf("R0 = %d, want 123: R0 is not hardwired to zero on this architecture", v)
	}
}

func TestControlWriteRefusedInUserMode(t *testing.T) {
	f := New()
	f.Reset()
	f.SetPrivileged(false)
	err := f.Write(Dv.Control, 5, 0x1234)
	if !errors.Is(err, ErrPrivilege) {
		t.Fatalf("Write control[5] in user mode: err = %v, want ErrPrivilege", err)
	}
	f.Tick()
	if v := f.Read(Dv.Control, 5); v != 0 {
		t.Fatalf("control[5] = %#x after refused write, want 0 unchanged", v)
	}
}

func TestControlWriteAllowedInKernelMode(t *testing.T) {
	f := New()
	f.Reset()
	if err := f.Write(Dv.Control, 5, 0x1234); err != nil {
		t.Fatalf("Write control[5] in kernel mode: %v", err)
	}
	f.Tick()
	if v := f.Read(Dv.Control, 5); v != 0x1234 {
		t.Fatalf("control[5] = %#x, want 0x1234", v)
	}
}

func TestSegmentWritesNeverPrivileged(t *testing.T) {
	f := New()
	f.Reset()
	f.SetPrivileged(false)
	if err := f.Write(Dv.Segment, 2, 7); err != nil {
		t.Fatalf("Write segment[2] in user mode: %v", err)
	}
	f.Tick()
	if v := f.Read(Dv.Segment, 2); v != 7 {
		t.Fatalf("segment[2] = %d, want 7", v)
	}
}

func TestOutOfRangeIndexPanics(t *testing.T) {
	f := New()
	f.Reset()
	defer func() {
		if recover() == nil {
			t.Fatalf("Read(General, 16) did not panic on out-of-range index")
		}
	}()
	f.Read(Dv.General, NumGeneral)
}

func TestSetIATakesEffectImmediately(t *testing.T) {
	f := New()
	f.Reset()
	f.SetIA(1, 0x400)
	if f.IASeg() != 1 || f.IAOfs() != 0x400 {
		t.Fatalf("IA = (%d,%#x), want (1,0x400) without needing a Tick", f.IASeg(), f.IAOfs())
	}
}

func TestGetSetClassRoundTrip(t *testing.T) {
	f := New()
	f.Reset()
	want := make([]uint32, NumControl)
	for i := range want {
		want[i] = uint32(i) * 11
	}
	f.SetClass(Dv.Control, want)
	got := f.GetClass(Dv.Control)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("control[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

/*
   Pipeline stage-register bundle: the latched values carried from one
   stage to the next, per spec.md §3.7.

   Copyright (c) 2026, VCPU-32 Project Contributors

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   THE AUTHORS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/
package pipeline

import "github.com/hff-git/vcpu32/emu/latch"

// Bundle is the stage-register content passed FD->MA and MA->EX
// (spec.md §3.7). Every field is a latch.Register; reset clears all of
// them, each stage writes only the in side, and the global tick
// advances in->out uniformly with every other latch in the machine.
type Bundle struct {
	Psw0 latch.Register // IA-segment of the instruction in flight
	Psw1 latch.Register // IA-offset of the instruction in flight
	Instr latch.Register
	ValA  latch.Register
	ValB  latch.Register
	ValX  latch.Register
	ValS  latch.Register
	ValST latch.Register

	Stalled latch.Register // 0/1
	Bubble  latch.Register // 0/1: true means this slot carries no instruction
}

// NewBundle builds a zeroed bundle.
func NewBundle() *Bundle {
	return &Bundle{
		Psw0: latch.New(false), Psw1: latch.New(false),
		Instr: latch.New(false),
		ValA:  latch.New(false), ValB: latch.New(false), ValX: latch.New(false),
		ValS: latch.New(false), ValST: latch.New(false),
		Stalled: latch.New(false), Bubble: latch.New(false),
	}
}

// Reset clears every field in the bundle (spec.md §3.7 lifecycle).
func (b *Bundle) Reset() {
	b.Psw0.Reset()
	b.Psw1.Reset()
	b.Instr.Reset()
	b.ValA.Reset()
	b.ValB.Reset()
	b.ValX.Reset()
	b.ValS.Reset()
	b.ValST.Reset()
	b.Stalled.Reset()
	b.Bubble.Load(1)
	b.Bubble.Tick()
}

// Tick advances every field of the bundle by one clock.
func (b *Bundle) Tick() {
	b.Psw0.Tick()
	b.Psw1.Tick()
	b.Instr.Tick()
	b.ValA.Tick()
	b.ValB.Tick()
	b.ValX.Tick()
	b.ValS.Tick()
	b.ValST.Tick()
	b.Stalled.Tick()
	b.Bubble.Tick()
}

// Hold re-latches the current out-side values back into the in-side of
// every field, implementing the stall contract of spec.md §4.5:
// "a stalled cycle advances no in->out for this stage's bundle except
// the stall bit."
func (b *Bundle) Hold() {
	b.Psw0.Load(b.Psw0.Get())
	b.Psw1.Load(b.Psw1.Get())
	b.Instr.Load(b.Instr.Get())
	b.ValA.Load(b.ValA.Get())
	b.ValB.Load(b.ValB.Get())
	b.ValX.Load(b.ValX.Get())
	b.ValS.Load(b.ValS.Get())
	b.ValST.Load(b.ValST.Get())
}

// InjectBubble loads a no-op marker into the in side, used by the trap
// controller to flush a stage's output (spec.md §4.8).
func (b *Bundle) InjectBubble() {
	b.Psw0.Load(0)
	b.Psw1.Load(0)
	b.Instr.Load(0) // BRK 0,0 = NOP; also the bubble's instruction word
	b.ValA.Load(0)
	b.ValB.Load(0)
	b.ValX.Load(0)
	b.ValS.Load(0)
	b.ValST.Load(0)
	b.Bubble.Load(1)
}

func (b *Bundle) IsBubble() bool  { return b.Bubble.Get() == 1 }
func (b *Bundle) IsStalled() bool { return b.Stalled.Get() == 1 }

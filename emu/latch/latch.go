/*
   Latched register: the two-cell (in, out) building block shared by
   every pipeline bundle and architectural register.

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
package latch

// Register is the (in, out) pair described in spec.md §3.1: a value
// observed by consumers in cycle t equals the value producers wrote in
// cycle t-1. Every pipeline bundle field and architectural register in
// this simulator is built from one of these; nothing shadows latching
// with an ad-hoc local variable, so that the clocking discipline in
// §4.1 stays uniform across components.
type Register struct {
	privileged bool
	in         uint32
	out        uint32
}

// New creates a latch, optionally marked privileged (spec.md §3.2).
func New(privileged bool) Register {
	return Register{privileged: privileged}
}

// Load sets the in side. Visible to consumers of Get only after the
// next Tick.
func (r *Register) Load(val uint32) {
	r.in = val
}

// Get returns the out side: the value as of the last Tick.
func (r *Register) Get() uint32 {
	return r.out
}

// GetLatched is an alias for Get, named to match call sites where the
// "this is the post-tick value" distinction is worth spelling out
// (e.g. a stage reading another stage's bundle).
func (r *Register) GetLatched() uint32 {
	return r.out
}

// Peek returns the in side without waiting for a tick. Used sparingly,
// by components that must read back a value they just Loaded within
// the same process() pass (e.g. read-modify-write register sequences
// within one instruction).
func (r *Register) Peek() uint32 {
	return r.in
}

// Tick copies in to out. The global clock calls this on every latch in
// the system before any stage's process() runs again.
func (r *Register) Tick() {
	r.out = r.in
}

// Reset clears both sides.
func (r *Register) Reset() {
	r.in = 0
	r.out = 0
}

// Privileged reports whether writes to this register require kernel
// privilege (spec.md §3.2, §4.2).
func (r *Register) Privileged() bool {
	return r.privileged
}

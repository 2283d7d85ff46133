// Package cpu models the register file shared by the scheduler and the
// interpreter: a small bank of general-purpose registers plus the flags
// and instruction pointer the interpreter mutates one opcode at a time.
//
// Unlike biscuit, which models its accounting state as process-wide
// globals, State is an explicit value the scheduler owns and hands to
// the interpreter for the duration of a single dispatch; nothing here
// is global.
package cpu

import "sync/atomic"

// NumRegisters is the size of the register file, 1-indexed: R1..R9 are
// general purpose, R10 is the stack pointer, R11 is the instruction
// pointer. Index 0 is unused so register numbers from decoded operands
// can index directly.
const NumRegisters = 12

// IPRegister and SPRegister name the two special-purpose registers.
const (
	IPRegister = 11
	SPRegister = 10
)

// State is the register file belonging to whichever process is currently
// dispatched. The scheduler copies a PCB's saved registers in before
// running it and copies them back out afterward.
type State struct {
	Registers [NumRegisters]uint32
	SignFlag  bool
	ZeroFlag  bool
}

// Reset zeroes the register file and flags, leaving State ready to be
// handed to the next process a dispatch loads.
func (s *State) Reset() {
	*s = State{}
}

// IP returns the instruction pointer (R11).
func (s *State) IP() uint32 { return s.Registers[IPRegister] }

// SetIP sets the instruction pointer.
func (s *State) SetIP(v uint32) { s.Registers[IPRegister] = v }

// SP returns the stack pointer (R10).
func (s *State) SP() uint32 { return s.Registers[SPRegister] }

// SetSP sets the stack pointer.
func (s *State) SetSP(v uint32) { s.Registers[SPRegister] = v }

// Cmp sets ZeroFlag to a == b and SignFlag to a < b.
func (s *State) Cmp(a, b int32) {
	s.ZeroFlag = a == b
	s.SignFlag = a < b
}

// MonotonicClock is a logical tick counter rather than wall-clock time:
// paging's LRU victim selection only needs a strict ordering of
// accesses, and a logical clock makes that ordering deterministic and
// reproducible in tests, which wall-clock time is not. See DESIGN.md
// for this design decision.
type MonotonicClock struct {
	ticks int64
}

// Tick advances the clock by one and returns the new value. Every
// memory access that stamps a page's LastAccessed calls this once.
func (c *MonotonicClock) Tick() int64 {
	return atomic.AddInt64(&c.ticks, 1)
}

// Now returns the current tick without advancing it.
func (c *MonotonicClock) Now() int64 {
	return atomic.LoadInt64(&c.ticks)
}

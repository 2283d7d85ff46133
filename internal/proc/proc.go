// Package proc defines the process control block the scheduler
// dispatches and the interpreter mutates, and the lifecycle states a
// process moves through from creation to reaping.
package proc

import (
	"github.com/virtos/virtos/internal/cpu"
	"github.com/virtos/virtos/internal/mem"
)

// State is one of a process's lifecycle states.
type State int

const (
	NewProcess State = iota
	Ready
	Running
	WaitingAsleep
	WaitingOnLock
	WaitingOnEvent
	Terminated
)

func (s State) String() string {
	switch s {
	case NewProcess:
		return "new"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case WaitingAsleep:
		return "waiting-asleep"
	case WaitingOnLock:
		return "waiting-on-lock"
	case WaitingOnEvent:
		return "waiting-on-event"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TimeQuantum is the fixed number of opcodes a process may run per
// dispatch before yielding.
const TimeQuantum = 5

// MinPriority and MaxPriority bound SetPriority's clamp range.
const (
	MinPriority     = 0
	MaxPriority     = 31
	DefaultPriority = 1
)

// PCB is the process control block.
type PCB struct {
	Pid               int
	ProcessMemorySize int

	Registers [cpu.NumRegisters]uint32
	SignFlag  bool
	ZeroFlag  bool

	State    State
	Priority int

	ClockCycles     int
	ContextSwitches int
	SleepCounter    int
	WaitingLock     int
	WaitingEvent    int

	HeapPageTable []*mem.Page

	CodeSize  int
	DataSize  int
	StackSize int
	HeapStart int
	HeapEnd   int
}

// IP returns the saved instruction pointer (R11).
func (p *PCB) IP() uint32 { return p.Registers[cpu.IPRegister] }

// SetIP sets the saved instruction pointer.
func (p *PCB) SetIP(v uint32) { p.Registers[cpu.IPRegister] = v }

// SP returns the saved stack pointer (R10).
func (p *PCB) SP() uint32 { return p.Registers[cpu.SPRegister] }

// SetSP sets the saved stack pointer.
func (p *PCB) SetSP(v uint32) { p.Registers[cpu.SPRegister] = v }

// LoadInto copies this PCB's saved registers and flags into a Cpu
// state for dispatch.
func (p *PCB) LoadInto(c *cpu.State) {
	c.Registers = p.Registers
	c.SignFlag = p.SignFlag
	c.ZeroFlag = p.ZeroFlag
}

// SaveFrom copies a Cpu state back into this PCB after a dispatch ends.
func (p *PCB) SaveFrom(c *cpu.State) {
	p.Registers = c.Registers
	p.SignFlag = c.SignFlag
	p.ZeroFlag = c.ZeroFlag
}

// SetPriority clamps v to [MinPriority, MaxPriority] and assigns it.
func (p *PCB) SetPriority(v int) {
	if v < MinPriority {
		v = MinPriority
	}
	if v > MaxPriority {
		v = MaxPriority
	}
	p.Priority = v
}

package interp

import (
	"github.com/virtos/virtos/internal/cpu"
	"github.com/virtos/virtos/internal/mem"
	"github.com/virtos/virtos/internal/proc"
)

// stackFloor is the lowest address SP may point at: the stack grows
// down from processMemorySize-1 and may occupy at most StackSize bytes.
func stackFloor(pcb *proc.PCB) int {
	return pcb.ProcessMemorySize - 1 - pcb.StackSize
}

// push decrements SP by 4 and stores val there, raising StackException
// if the decremented SP would fall below the process's stack floor. SP
// is only updated on success, so a failed push leaves the stack
// pointer where a caller inspecting a terminated process would expect
// to find it.
func push(pcb *proc.PCB, c *cpu.State, mm *mem.Manager, val uint32) error {
	newSP := int(c.SP()) - 4
	floor := stackFloor(pcb)
	if newSP < floor {
		return mem.StackException(pcb.Pid, floor-newSP)
	}
	if err := mm.WriteU32(pcb.Pid, newSP, val); err != nil {
		return err
	}
	c.SetSP(uint32(newSP))
	return nil
}

// pop loads the word at SP, zeroes it, and advances SP by 4.
func pop(pcb *proc.PCB, c *cpu.State, mm *mem.Manager) (uint32, error) {
	sp := int(c.SP())
	v, err := mm.ReadU32(pcb.Pid, sp)
	if err != nil {
		return 0, err
	}
	if err := mm.SetRange(pcb.Pid, sp, 4, 0); err != nil {
		return 0, err
	}
	c.SetSP(uint32(sp + 4))
	return v, nil
}

package proc

import (
	"github.com/virtos/virtos/internal/mem"
	"github.com/virtos/virtos/internal/vmutil"
)

// Layout carries the boot-time configuration Create needs to lay out a
// new process's address space: its page size and the fixed data and
// stack segment sizes every process reserves regardless of program
// size.
type Layout struct {
	PageSize  int
	DataSize  int
	StackSize int
}

// Create maps memorySize bytes for a new process, copies program into
// the bottom of that space, and returns a PCB positioned at entry with
// SP at the top of its stack. The returned PCB's HeapPageTable holds,
// in ascending process-virtual order, exactly the pages that fall
// between the data segment and the stack segment, ready for
// HeapAlloc/HeapFree to claim from.
func Create(mm *mem.Manager, pid int, program []byte, memorySize int, layout Layout) (*PCB, error) {
	pages, err := mm.MapProcess(pid, memorySize)
	if err != nil {
		return nil, err
	}
	if err := mm.CopyIn(pid, program); err != nil {
		return nil, err
	}

	codeSize := vmutil.Roundup(len(program), layout.PageSize)
	heapStart := codeSize + layout.DataSize
	heapEnd := memorySize - layout.StackSize

	pcb := &PCB{
		Pid:               pid,
		ProcessMemorySize: memorySize,
		State:             NewProcess,
		Priority:          DefaultPriority,
		CodeSize:          codeSize,
		DataSize:          layout.DataSize,
		StackSize:         layout.StackSize,
		HeapStart:         heapStart,
		HeapEnd:           heapEnd,
	}
	pcb.SetIP(0)
	pcb.SetSP(uint32(memorySize - 1))
	// R9 starts every process pointed at its data segment, a convenience
	// for programs that address their own globals relative to it.
	pcb.Registers[9] = uint32(codeSize)

	for _, pg := range pages {
		if pg.ProcessVirtualIndex >= heapStart && pg.ProcessVirtualIndex < heapEnd {
			pcb.HeapPageTable = append(pcb.HeapPageTable, pg)
		}
	}
	return pcb, nil
}

// Package diag renders the scheduler's and memory manager's internal
// state for debugging: register and process tables, physical memory
// and page table dumps, a scheduling profile, and a rolling trace of
// lock/event activity.
//
// Grounded on arctir-proctor's cmd package for building tabular
// process listings with tablewriter, and on the convention (seen
// across the pack wherever a deeply nested struct needs a human to
// read it, e.g. cri-resource-manager's test fixtures) of reaching for
// go-spew rather than hand-rolling a recursive printer.
package diag

import (
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/virtos/virtos/internal/interp"
	"github.com/virtos/virtos/internal/mem"
	"github.com/virtos/virtos/internal/proc"
)

var numberPrinter = message.NewPrinter(language.English)

// FormatCount renders n with thousands separators, for dumps that
// report byte counts or cycle counts large enough to be hard to read
// raw.
func FormatCount(n int) string {
	return numberPrinter.Sprintf("%d", n)
}

// DumpProcessTable writes one row per process: pid, state, priority,
// clock cycles, context switches, and page faults charged against it.
func DumpProcessTable(w io.Writer, processes []*proc.PCB, mm *mem.Manager) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PID", "STATE", "PRIORITY", "CYCLES", "SWITCHES", "FAULTS"})
	for _, p := range processes {
		table.Append([]string{
			fmt.Sprintf("%d", p.Pid),
			p.State.String(),
			fmt.Sprintf("%d", p.Priority),
			FormatCount(p.ClockCycles),
			fmt.Sprintf("%d", p.ContextSwitches),
			fmt.Sprintf("%d", mm.PageFaultsForProcess(p.Pid)),
		})
	}
	table.Render()
}

// DumpRegisters writes one row per general-purpose register plus IP
// and SP for a single process. Registers are 1-indexed (R1..R11);
// index 0 of the underlying array is unused and skipped.
func DumpRegisters(w io.Writer, p *proc.PCB) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"REGISTER", "VALUE"})
	for i, v := range p.Registers {
		if i == 0 {
			continue
		}
		name := fmt.Sprintf("R%d", i)
		table.Append([]string{name, fmt.Sprintf("%d", int32(v))})
	}
	table.Render()
}

// DumpPageTable pretty-prints the full page table with go-spew, for
// when a register/process table summary isn't enough detail.
func DumpPageTable(w io.Writer, pt *mem.PageTable) {
	spew.Fdump(w, pt)
}

// DumpPhysicalMemory pretty-prints length bytes of physical memory
// starting at addr.
func DumpPhysicalMemory(w io.Writer, phys *mem.PhysicalStore, addr, length int) {
	spew.Fdump(w, phys.ReadFrame(addr, length))
}

// DumpInstruction writes the mnemonic and operand count of the opcode
// byte at ip, for single-step tracing.
func DumpInstruction(w io.Writer, op interp.Op) {
	fmt.Fprintf(w, "%s (%d operand(s))\n", op.Mnemonic(), op.NumOperands())
}

// DumpProgram disassembles an entire program image, one instruction
// per line, stopping at the first unrecognized opcode byte (the image
// may be shorter than a page and padded, so running off the end of
// real instructions is expected, not an error).
func DumpProgram(w io.Writer, image []byte) {
	for ip := 0; ip < len(image); {
		op := interp.Op(image[ip])
		if !op.Valid() {
			return
		}
		n := op.NumOperands()
		if ip+1+n*4 > len(image) {
			return
		}
		fmt.Fprintf(w, "%04d  %s", ip, op.Mnemonic())
		for i := 0; i < n; i++ {
			off := ip + 1 + i*4
			v := uint32(image[off]) | uint32(image[off+1])<<8 | uint32(image[off+2])<<16 | uint32(image[off+3])<<24
			fmt.Fprintf(w, " %d", int32(v))
		}
		fmt.Fprintln(w)
		ip += 1 + n*4
	}
}

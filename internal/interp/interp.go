package interp

import (
	"fmt"

	"github.com/virtos/virtos/internal/cpu"
	"github.com/virtos/virtos/internal/mem"
	"github.com/virtos/virtos/internal/proc"
)

// Interpreter decodes and executes one instruction per Step call. It is
// stateless: all mutable state lives in the Cpu and PCB the caller
// passes in, so one Interpreter value is shared across every process a
// scheduler runs.
type Interpreter struct{}

// New returns a ready-to-use Interpreter.
func New() *Interpreter { return &Interpreter{} }

// Step fetches, decodes, and executes the instruction at c.IP() in
// pid's address space. It returns a *mem.Fault when the instruction
// raises a process-fatal memory, stack, or heap fault; any other
// non-nil error comes from swap file I/O during a page fault. The
// scheduler (internal/osx) terminates the process on either kind.
// Opcodes that change process state other than registers (Exit, Sleep,
// AcquireLock blocking, WaitEvent, SetPriority) mutate pcb directly:
// Step itself sets pcb.State to Terminated, WaitingAsleep,
// WaitingOnLock, or WaitingOnEvent, and the caller reads the new state
// once Step returns.
func (it *Interpreter) Step(pcb *proc.PCB, c *cpu.State, mm *mem.Manager, k Kernel) error {
	pid := pcb.Pid

	ip := int(c.IP())
	opByte, err := mm.ReadByte(pid, ip)
	if err != nil {
		return err
	}
	ip++

	op := Op(opByte)
	if !op.Valid() {
		return mem.MemoryException(pid, ip-1)
	}

	var operands [2]uint32
	for i := 0; i < op.NumOperands(); i++ {
		v, err := mm.ReadU32(pid, ip)
		if err != nil {
			return err
		}
		operands[i] = v
		ip += 4
	}
	// IP now points past the instruction's operands; relative jumps
	// below add to this already-advanced value.
	c.SetIP(uint32(ip))

	switch op {
	case Noop:

	case Incr:
		c.Registers[operands[0]]++

	case Addi:
		c.Registers[operands[0]] += operands[1]

	case Addr:
		c.Registers[operands[0]] += c.Registers[operands[1]]

	case Pushr:
		return push(pcb, c, mm, c.Registers[operands[0]])

	case Pushi:
		return push(pcb, c, mm, operands[0])

	case Popr:
		v, err := pop(pcb, c, mm)
		if err != nil {
			return err
		}
		c.Registers[operands[0]] = v

	case Popm:
		v, err := pop(pcb, c, mm)
		if err != nil {
			return err
		}
		return mm.WriteU32(pid, int(c.Registers[operands[0]]), v)

	case Movi:
		c.Registers[operands[0]] = operands[1]

	case Movr:
		c.Registers[operands[0]] = c.Registers[operands[1]]

	case Movmr:
		v, err := mm.ReadU32(pid, int(c.Registers[operands[1]]))
		if err != nil {
			return err
		}
		c.Registers[operands[0]] = v

	case Movrm:
		return mm.WriteU32(pid, int(c.Registers[operands[0]]), c.Registers[operands[1]])

	case Movmm:
		v, err := mm.ReadU32(pid, int(c.Registers[operands[1]]))
		if err != nil {
			return err
		}
		return mm.WriteU32(pid, int(c.Registers[operands[0]]), v)

	case Printr:
		k.Emit(fmt.Sprintf("%d", int32(c.Registers[operands[0]])))

	case Printm:
		b, err := mm.ReadByte(pid, int(c.Registers[operands[0]]))
		if err != nil {
			return err
		}
		k.Emit(fmt.Sprintf("%c", b))

	case Jmp:
		jumpRelative(c, int32(c.Registers[operands[0]]))

	case Cmpi:
		c.Cmp(int32(c.Registers[operands[0]]), int32(operands[1]))

	case Cmpr:
		c.Cmp(int32(c.Registers[operands[0]]), int32(c.Registers[operands[1]]))

	case Jlt:
		if c.SignFlag {
			jumpRelative(c, int32(c.Registers[operands[0]]))
		}

	case Jgt:
		if !c.SignFlag {
			jumpRelative(c, int32(c.Registers[operands[0]]))
		}

	case Je:
		if c.ZeroFlag {
			jumpRelative(c, int32(c.Registers[operands[0]]))
		}

	case Call:
		if err := push(pcb, c, mm, c.IP()); err != nil {
			return err
		}
		jumpRelative(c, int32(c.Registers[operands[0]]))

	case Callm:
		b, err := mm.ReadByte(pid, int(c.Registers[operands[0]]))
		if err != nil {
			return err
		}
		if err := push(pcb, c, mm, c.IP()); err != nil {
			return err
		}
		jumpRelative(c, int32(int8(b)))

	case Ret:
		addr, err := pop(pcb, c, mm)
		if err != nil {
			return err
		}
		c.SetIP(addr)

	case Alloc:
		addr, err := mm.HeapAlloc(pid, pcb.HeapPageTable, int(c.Registers[operands[0]]))
		if err != nil {
			return err
		}
		c.Registers[operands[1]] = uint32(addr)

	case FreeMemory:
		mm.HeapFree(pcb.HeapPageTable, int(c.Registers[operands[0]]))

	case MemoryClear:
		return mm.SetRange(pid, int(c.Registers[operands[0]]), int(c.Registers[operands[1]]), 0)

	case MapSharedMem:
		if id := int32(c.Registers[operands[0]]); isLockOrEventID(id) {
			addr, err := mm.MapSharedToProcess(pid, int(id))
			if err != nil {
				break
			}
			c.Registers[operands[1]] = uint32(addr)
		}

	case AcquireLock:
		if id := int32(c.Registers[operands[0]]); isLockOrEventID(id) {
			if !k.AcquireLock(pid, int(id)) {
				pcb.WaitingLock = int(id)
				pcb.State = proc.WaitingOnLock
			}
		}

	case ReleaseLock:
		if id := int32(c.Registers[operands[0]]); isLockOrEventID(id) {
			k.ReleaseLock(pid, int(id))
		}

	case SignalEvent:
		if id := int32(c.Registers[operands[0]]); isLockOrEventID(id) {
			k.SignalEvent(int(id))
		}

	case WaitEvent:
		if id := int32(c.Registers[operands[0]]); isLockOrEventID(id) {
			pcb.WaitingEvent = int(id)
			pcb.State = proc.WaitingOnEvent
		}

	case Sleep:
		pcb.SleepCounter = int(c.Registers[operands[0]])
		pcb.State = proc.WaitingAsleep

	case SetPriority:
		pcb.SetPriority(int(c.Registers[operands[0]]))

	case Exit:
		pcb.State = proc.Terminated

	case TerminateProcess:
		k.TerminateProcess(int(c.Registers[operands[0]]))

	case Input:
		v, err := k.ReadInput()
		if err != nil {
			v = 0
		}
		c.Registers[operands[0]] = v

	default:
		return mem.MemoryException(pid, ip-1)
	}

	return nil
}

// jumpRelative adds delta to the current IP. Every jump and call
// opcode is relative to the IP already advanced past its own operand
// bytes, never to the instruction's own starting address.
func jumpRelative(c *cpu.State, delta int32) {
	c.SetIP(uint32(int32(c.IP()) + delta))
}

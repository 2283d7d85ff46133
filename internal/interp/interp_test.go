package interp

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtos/virtos/internal/cpu"
	"github.com/virtos/virtos/internal/mem"
	"github.com/virtos/virtos/internal/proc"
)

// fakeKernel is a hand-written test double for Kernel: the scheduler's
// real implementation (internal/osx.OS) pulls in the whole process
// table, more than these opcode-level tests need.
type fakeKernel struct {
	emitted    []string
	locked     map[int]int
	signaled   []int
	terminated []int
	inputs     []uint32
	inputErr   error
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{locked: map[int]int{}}
}

func (k *fakeKernel) AcquireLock(pid, idx int) bool {
	if k.locked[idx] == 0 || k.locked[idx] == pid {
		k.locked[idx] = pid
		return true
	}
	return false
}

func (k *fakeKernel) ReleaseLock(pid, idx int) {
	if k.locked[idx] == pid {
		delete(k.locked, idx)
	}
}

func (k *fakeKernel) SignalEvent(idx int)      { k.signaled = append(k.signaled, idx) }
func (k *fakeKernel) TerminateProcess(pid int) { k.terminated = append(k.terminated, pid) }

func (k *fakeKernel) ReadInput() (uint32, error) {
	if k.inputErr != nil {
		return 0, k.inputErr
	}
	if len(k.inputs) == 0 {
		return 0, errors.New("no input queued")
	}
	v := k.inputs[0]
	k.inputs = k.inputs[1:]
	return v, nil
}

func (k *fakeKernel) Emit(line string) { k.emitted = append(k.emitted, line) }

func encode(op Op, operands ...uint32) []byte {
	b := []byte{byte(op)}
	for _, v := range operands {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func join(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func newHarness(t *testing.T, program []byte) (*proc.PCB, *cpu.State, *mem.Manager) {
	t.Helper()
	mm, err := mem.NewManager(mem.Config{
		VirtualSize:  1024,
		PhysicalSize: 1024,
		PageSize:     64,
		SwapDir:      t.TempDir(),
	}, &cpu.MonotonicClock{})
	require.NoError(t, err)

	pcb, err := proc.Create(mm, 1, program, 512, proc.Layout{PageSize: 64, DataSize: 64, StackSize: 64})
	require.NoError(t, err)

	var c cpu.State
	pcb.LoadInto(&c)
	return pcb, &c, mm
}

func TestStepAdvancesIPPastOperands(t *testing.T) {
	pcb, c, mm := newHarness(t, encode(Addi, 1, 5))
	it := New()
	require.NoError(t, it.Step(pcb, c, mm, newFakeKernel()))
	assert.EqualValues(t, 9, c.IP()) // 1 opcode byte + 2 operands
	assert.EqualValues(t, 5, c.Registers[1])
}

func TestMoviAndAddr(t *testing.T) {
	pcb, c, mm := newHarness(t, join(encode(Movi, 1, 10), encode(Addr, 1, 2)))
	it := New()
	require.NoError(t, it.Step(pcb, c, mm, newFakeKernel()))
	c.Registers[2] = 3
	require.NoError(t, it.Step(pcb, c, mm, newFakeKernel()))
	assert.EqualValues(t, 13, c.Registers[1])
}

func TestPushrPoprRoundTrip(t *testing.T) {
	pcb, c, mm := newHarness(t, join(encode(Movi, 1, 0xFEED), encode(Pushr, 1), encode(Popr, 2)))
	it := New()
	k := newFakeKernel()
	sp0 := c.SP()
	require.NoError(t, it.Step(pcb, c, mm, k)) // movi
	require.NoError(t, it.Step(pcb, c, mm, k)) // pushr
	assert.EqualValues(t, sp0-4, c.SP())
	require.NoError(t, it.Step(pcb, c, mm, k)) // popr
	assert.EqualValues(t, sp0, c.SP())
	assert.EqualValues(t, 0xFEED, c.Registers[2])
}

func TestPushOverflowRaisesStackFault(t *testing.T) {
	program := encode(Pushi, 1)
	pcb, c, mm := newHarness(t, program)
	// Drive SP right up against the stack floor so one more push overflows.
	c.SetSP(uint32(pcb.ProcessMemorySize - 1 - pcb.StackSize + 3))
	it := New()
	err := it.Step(pcb, c, mm, newFakeKernel())
	var f *mem.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, mem.StackFault, f.Kind)
}

func TestMoviAndMovr(t *testing.T) {
	pcb, c, mm := newHarness(t, join(encode(Movi, 1, 7), encode(Movr, 2, 1)))
	it := New()
	k := newFakeKernel()
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.EqualValues(t, 7, c.Registers[1])
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.EqualValues(t, 7, c.Registers[2])
}

func TestMovmrAndMovrmRoundTrip(t *testing.T) {
	pcb, c, mm := newHarness(t, join(
		encode(Movi, 1, 300), // r1 = address
		encode(Movi, 2, 99),  // r2 = value
		encode(Movrm, 1, 2),  // mem[r1] = r2
		encode(Movmr, 3, 1),  // r3 = mem[r1]
	))
	it := New()
	k := newFakeKernel()
	for i := 0; i < 4; i++ {
		require.NoError(t, it.Step(pcb, c, mm, k))
	}
	assert.EqualValues(t, 99, c.Registers[3])
}

func TestPrintrEmitsSignedDecimal(t *testing.T) {
	pcb, c, mm := newHarness(t, join(encode(Movi, 1, uint32(int32(-5))), encode(Printr, 1)))
	it := New()
	k := newFakeKernel()
	require.NoError(t, it.Step(pcb, c, mm, k))
	require.NoError(t, it.Step(pcb, c, mm, k))
	require.Len(t, k.emitted, 1)
	assert.Equal(t, "-5", k.emitted[0])
}

func TestPrintmEmitsCharacter(t *testing.T) {
	pcb, c, mm := newHarness(t, join(
		encode(Movi, 1, 300),
		encode(Movi, 2, uint32('A')),
		encode(Movrm, 1, 2),
		encode(Printm, 1),
	))
	it := New()
	k := newFakeKernel()
	for i := 0; i < 4; i++ {
		require.NoError(t, it.Step(pcb, c, mm, k))
	}
	require.Len(t, k.emitted, 1)
	assert.Equal(t, "A", k.emitted[0])
}

func TestJmpIsRelativeToPostOperandIP(t *testing.T) {
	// jmp r1 sits at offset 9, right after the 9-byte movi, and occupies
	// 5 bytes; r1 holds +10, so the landing address is 14 + 10 = 24, not
	// 9 + 10.
	pcb, c, mm := newHarness(t, join(encode(Movi, 1, 10), encode(Jmp, 1)))
	it := New()
	k := newFakeKernel()
	require.NoError(t, it.Step(pcb, c, mm, k)) // movi, IP -> 9
	require.NoError(t, it.Step(pcb, c, mm, k)) // jmp, lands at 9+5+10
	assert.EqualValues(t, 9+5+10, c.IP())
}

func TestCmpiAndConditionalJumps(t *testing.T) {
	cases := []struct {
		name  string
		a, b  int32
		jump  Op
		taken bool
	}{
		{"lt taken", 1, 3, Jlt, true},
		{"lt not taken", 3, 1, Jlt, false},
		{"gt taken", 3, 1, Jgt, true},
		{"gt not taken", 1, 3, Jgt, false},
		{"gt taken on equal operands", 3, 3, Jgt, true},
		{"eq taken", 3, 3, Je, true},
		{"eq not taken", 3, 1, Je, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			program := join(
				encode(Movi, 1, uint32(tc.a)),
				encode(Cmpi, 1, uint32(tc.b)),
				encode(Movi, 2, 100), // delta for the jump
				encode(tc.jump, 2),
			)
			pcb, c, mm := newHarness(t, program)
			it := New()
			k := newFakeKernel()
			require.NoError(t, it.Step(pcb, c, mm, k))
			require.NoError(t, it.Step(pcb, c, mm, k))
			require.NoError(t, it.Step(pcb, c, mm, k))
			ipBeforeJump := c.IP()
			require.NoError(t, it.Step(pcb, c, mm, k))
			if tc.taken {
				assert.EqualValues(t, ipBeforeJump+5+100, c.IP())
			} else {
				assert.EqualValues(t, ipBeforeJump+5, c.IP())
			}
		})
	}
}

func TestCallAndRet(t *testing.T) {
	program := join(
		encode(Movi, 1, 10), // offset 0..8
		encode(Call, 1),     // offset 9..13, call lands at 14+10=24
	)
	pcb, c, mm := newHarness(t, program)
	it := New()
	k := newFakeKernel()
	require.NoError(t, it.Step(pcb, c, mm, k))
	returnIP := c.IP() + 5 // IP after call's own operand is consumed
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.EqualValues(t, 24, c.IP())

	// A ret anywhere pops the saved return address.
	require.NoError(t, mm.WriteByte(pcb.Pid, int(c.IP()), byte(Ret)))
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.EqualValues(t, returnIP, c.IP())
}

func TestCallmUsesSignedByteDisplacement(t *testing.T) {
	// mem[r1] holds a byte encoding -10 as int8; callm jumps IP-10 from
	// the post-operand address.
	program := join(
		encode(Movi, 1, 300), // r1 = address holding the displacement byte
		encode(Callm, 1),
	)
	pcb, c, mm := newHarness(t, program)
	require.NoError(t, mm.WriteByte(pcb.Pid, 300, byte(int8(-10))))
	it := New()
	k := newFakeKernel()
	require.NoError(t, it.Step(pcb, c, mm, k))
	postOperandIP := c.IP() + 5
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.EqualValues(t, postOperandIP-10, c.IP())
}

func TestAllocAndFreeMemory(t *testing.T) {
	program := join(
		encode(Movi, 1, 100), // bytes requested
		encode(Alloc, 1, 2),  // r2 = returned address
		encode(FreeMemory, 2),
	)
	pcb, c, mm := newHarness(t, program)
	it := New()
	k := newFakeKernel()
	require.NoError(t, it.Step(pcb, c, mm, k))
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.Equal(t, pcb.HeapStart, int(c.Registers[2]))
	require.NoError(t, it.Step(pcb, c, mm, k))
	for _, pg := range pcb.HeapPageTable {
		assert.Zero(t, pg.HeapAllocationStart)
	}
}

func TestMemoryClearZeroesRange(t *testing.T) {
	program := join(
		encode(Movi, 1, 300),
		encode(Movi, 2, 8),
		encode(MemoryClear, 1, 2),
	)
	pcb, c, mm := newHarness(t, program)
	require.NoError(t, mm.SetRange(pcb.Pid, 300, 8, 0xFF))
	it := New()
	k := newFakeKernel()
	for i := 0; i < 3; i++ {
		require.NoError(t, it.Step(pcb, c, mm, k))
	}
	for i := 0; i < 8; i++ {
		b, err := mm.ReadByte(pcb.Pid, 300+i)
		require.NoError(t, err)
		assert.Zero(t, b)
	}
}

func TestMapSharedMemOutOfRangeIDIsNoop(t *testing.T) {
	program := join(encode(Movi, 1, 99), encode(MapSharedMem, 1, 2))
	pcb, c, mm := newHarness(t, program)
	c.Registers[2] = 123 // sentinel: must be left untouched, like the sibling lock/event opcodes
	it := New()
	k := newFakeKernel()
	require.NoError(t, it.Step(pcb, c, mm, k))
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.EqualValues(t, 123, c.Registers[2])
}

func TestMapSharedMemUnreservedInRangeRegionLeavesDestRegisterUntouched(t *testing.T) {
	program := join(encode(Movi, 1, 4), encode(MapSharedMem, 1, 2))
	pcb, c, mm := newHarness(t, program)
	c.Registers[2] = 123 // sentinel: region 4 was never reserved, so MapSharedToProcess fails
	it := New()
	k := newFakeKernel()
	require.NoError(t, it.Step(pcb, c, mm, k))
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.EqualValues(t, 123, c.Registers[2])
}

func TestAcquireLockBlocksWhenHeld(t *testing.T) {
	program := encode(AcquireLock, 1)
	pcb, c, mm := newHarness(t, program)
	c.Registers[1] = 3
	it := New()
	k := newFakeKernel()
	k.locked[3] = 42 // some other pid already holds it

	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.Equal(t, proc.WaitingOnLock, pcb.State)
	assert.Equal(t, 3, pcb.WaitingLock)
}

func TestAcquireLockSucceedsWhenFree(t *testing.T) {
	program := encode(AcquireLock, 1)
	pcb, c, mm := newHarness(t, program)
	c.Registers[1] = 3
	it := New()
	k := newFakeKernel()

	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.NotEqual(t, proc.WaitingOnLock, pcb.State)
	assert.Equal(t, pcb.Pid, k.locked[3])
}

func TestReleaseLockAndSignalEventDelegateToKernel(t *testing.T) {
	program := join(encode(ReleaseLock, 1), encode(SignalEvent, 2))
	pcb, c, mm := newHarness(t, program)
	c.Registers[1] = 5
	c.Registers[2] = 6
	it := New()
	k := newFakeKernel()
	k.locked[5] = pcb.Pid

	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.NotContains(t, k.locked, 5)
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.Contains(t, k.signaled, 6)
}

func TestWaitEventSetsWaitingState(t *testing.T) {
	program := encode(WaitEvent, 1)
	pcb, c, mm := newHarness(t, program)
	c.Registers[1] = 4
	it := New()
	require.NoError(t, it.Step(pcb, c, mm, newFakeKernel()))
	assert.Equal(t, proc.WaitingOnEvent, pcb.State)
	assert.Equal(t, 4, pcb.WaitingEvent)
}

func TestSleepSetsCounterAndWaitingState(t *testing.T) {
	program := encode(Sleep, 1)
	pcb, c, mm := newHarness(t, program)
	c.Registers[1] = 3
	it := New()
	require.NoError(t, it.Step(pcb, c, mm, newFakeKernel()))
	assert.Equal(t, proc.WaitingAsleep, pcb.State)
	assert.Equal(t, 3, pcb.SleepCounter)
}

func TestSetPriorityClampsThroughPCB(t *testing.T) {
	program := encode(SetPriority, 1)
	pcb, c, mm := newHarness(t, program)
	c.Registers[1] = 999
	it := New()
	require.NoError(t, it.Step(pcb, c, mm, newFakeKernel()))
	assert.Equal(t, proc.MaxPriority, pcb.Priority)
}

func TestExitTerminatesProcess(t *testing.T) {
	pcb, c, mm := newHarness(t, encode(Exit))
	it := New()
	require.NoError(t, it.Step(pcb, c, mm, newFakeKernel()))
	assert.Equal(t, proc.Terminated, pcb.State)
}

func TestTerminateProcessDelegatesToKernel(t *testing.T) {
	program := encode(TerminateProcess, 1)
	pcb, c, mm := newHarness(t, program)
	c.Registers[1] = 77
	it := New()
	k := newFakeKernel()
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.Contains(t, k.terminated, 77)
}

func TestInputReadsFromKernel(t *testing.T) {
	program := encode(Input, 1)
	pcb, c, mm := newHarness(t, program)
	it := New()
	k := newFakeKernel()
	k.inputs = []uint32{42}
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.EqualValues(t, 42, c.Registers[1])
}

func TestInputDefaultsToZeroOnError(t *testing.T) {
	program := encode(Input, 1)
	pcb, c, mm := newHarness(t, program)
	c.Registers[1] = 999
	it := New()
	k := newFakeKernel()
	k.inputErr = errors.New("eof")
	require.NoError(t, it.Step(pcb, c, mm, k))
	assert.EqualValues(t, 0, c.Registers[1])
}

func TestInvalidOpcodeRaisesMemoryFault(t *testing.T) {
	pcb, c, mm := newHarness(t, []byte{255})
	it := New()
	err := it.Step(pcb, c, mm, newFakeKernel())
	var f *mem.Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, mem.MemoryFault, f.Kind)
}

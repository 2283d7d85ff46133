// Package osx is the scheduler: it owns the process table, the ten
// locks, the ten events, and the dispatch loop that drives
// internal/interp over whichever process is next to run. Named osx
// rather than os to stay out of the standard library's package name.
//
// Grounded on biscuit's kernel/sched.go for the run-queue shape
// (priority-ordered ready list, a dispatch call per scheduling
// decision) and on proc/proc.go for how a PCB's saved register file is
// loaded into and saved back out of the Cpu around a dispatch. Unlike
// biscuit, there are no interrupts or real timers here: a dispatch
// pass runs up to TimeQuantum instructions, checking after each one
// whether a sleep, lock, or event wakeup should preempt it early,
// rather than asynchronously.
package osx

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/virtos/virtos/internal/cpu"
	"github.com/virtos/virtos/internal/interp"
	"github.com/virtos/virtos/internal/mem"
	"github.com/virtos/virtos/internal/proc"
)

// Config is the per-process layout the scheduler hands every new
// process, alongside the memory manager's own Config.
type Config struct {
	DataSize  int
	StackSize int
}

// OS is one running instance of the scheduler: one memory manager, one
// process table, one console.
type OS struct {
	mm  *mem.Manager
	it  *interp.Interpreter
	cfg Config

	nextPid   int
	processes []*proc.PCB

	locks  [11]int  // locks[1..10]: 0 free, else holder pid.
	events [11]bool // events[1..10]: true while signalled and unconsumed.

	in  *bufio.Reader
	out io.Writer

	// OnDispatch, if set, is called after every dispatch with the
	// dispatched pid and how many instructions it ran. cmd/virtos wires
	// this to a diag.SwitchProfile to record a scheduling profile.
	OnDispatch func(pid, instructionCount int)
}

// New builds a scheduler bound to mm, reading console input from in
// and writing program output to out.
func New(mm *mem.Manager, cfg Config, in io.Reader, out io.Writer) *OS {
	return &OS{
		mm:  mm,
		it:  interp.New(),
		cfg: cfg,
		in:  bufio.NewReader(in),
		out: out,
	}
}

// CreateProcess loads program into a freshly mapped memorySize-byte
// address space and enqueues it Ready, implementing the createProcess
// step of process creation.
func (o *OS) CreateProcess(program []byte, memorySize int) (*proc.PCB, error) {
	pid := o.nextPid + 1
	layout := proc.Layout{
		PageSize:  o.mm.Table.PageSize,
		DataSize:  o.cfg.DataSize,
		StackSize: o.cfg.StackSize,
	}
	pcb, err := proc.Create(o.mm, pid, program, memorySize, layout)
	if err != nil {
		if _, ok := err.(*mem.OutOfMemory); ok {
			return nil, errors.Wrapf(err, "osx: creating process for %d bytes", memorySize)
		}
		return nil, err
	}
	o.nextPid = pid
	pcb.State = proc.Ready
	o.processes = append(o.processes, pcb)
	return pcb, nil
}

// Processes returns the live (not yet reaped) process table, in
// scheduling order as of the last Run pass.
func (o *OS) Processes() []*proc.PCB { return o.processes }

// Run drives the scheduler to completion: it dispatches Ready
// processes, applies wakeups, and reaps Terminated ones until none
// remain.
func (o *OS) Run() error {
	for {
		o.reap()
		if len(o.processes) == 0 {
			return nil
		}
		o.wake()
		o.sortReady()

		next := o.nextReady()
		if next == nil {
			// Nobody runnable this pass: everyone left is asleep or
			// blocked. Keep looping so sleep counters and lock/event
			// waits keep making progress via wake() above.
			continue
		}
		o.dispatch(next)
	}
}

// sortReady orders the process table by descending priority, breaking
// ties by ascending ClockCycles so a process starved across many
// passes rises to the front of its priority band.
func (o *OS) sortReady() {
	sort.SliceStable(o.processes, func(i, j int) bool {
		pi, pj := o.processes[i], o.processes[j]
		if pi.Priority != pj.Priority {
			return pi.Priority > pj.Priority
		}
		return pi.ClockCycles < pj.ClockCycles
	})
}

func (o *OS) nextReady() *proc.PCB {
	for _, pcb := range o.processes {
		if pcb.State == proc.Ready {
			return pcb
		}
	}
	return nil
}

// wake resolves every pending sleep, lock, and event wait by one step:
// sleeping processes count down (Sleep 0 means sleep forever and never
// counts down, woken only by TerminateProcess), lock waiters grab
// their lock the instant it's free, and event waiters are woken one at
// a time as their event's signal is consumed. It reports whether any
// process actually transitioned to Ready, so a dispatch loop calling
// it mid-quantum knows whether to preempt.
func (o *OS) wake() bool {
	woke := false
	for _, pcb := range o.processes {
		switch pcb.State {
		case proc.WaitingAsleep:
			if pcb.SleepCounter != 0 {
				pcb.SleepCounter--
				if pcb.SleepCounter == 0 {
					pcb.State = proc.Ready
					woke = true
				}
			}
		case proc.WaitingOnLock:
			if o.AcquireLock(pcb.Pid, pcb.WaitingLock) {
				pcb.State = proc.Ready
				woke = true
			}
		case proc.WaitingOnEvent:
			if o.events[pcb.WaitingEvent] {
				o.events[pcb.WaitingEvent] = false
				pcb.State = proc.Ready
				woke = true
			}
		}
	}
	return woke
}

// reap removes every Terminated process from the table and releases
// its memory back to the manager.
func (o *OS) reap() {
	live := o.processes[:0]
	for _, pcb := range o.processes {
		if pcb.State == proc.Terminated {
			o.mm.ReleaseProcess(pcb.Pid)
			continue
		}
		live = append(live, pcb)
	}
	o.processes = live
}

// dispatch loads pcb's saved registers into a fresh Cpu state and
// steps the interpreter until pcb stops being Running, its quantum
// runs out, or a wake pass (run after every instruction) wakes another
// process and preempts it mid-quantum.
func (o *OS) dispatch(pcb *proc.PCB) {
	pcb.State = proc.Running
	pcb.ContextSwitches++

	var c cpu.State
	pcb.LoadInto(&c)

	ran := 0
	for {
		err := o.it.Step(pcb, &c, o.mm, o)
		pcb.ClockCycles++
		ran++
		if err != nil {
			pcb.State = proc.Terminated
			break
		}
		if pcb.State != proc.Running {
			break
		}
		if o.wake() {
			// Something else just became Ready (a sleep timer hit
			// zero, a lock freed up, an event fired): cut this
			// quantum short so the scheduler reconsiders who runs
			// next instead of burning the rest of it regardless.
			break
		}
		if pcb.ClockCycles != 0 && pcb.ClockCycles%proc.TimeQuantum == 0 {
			break
		}
	}
	if pcb.State == proc.Running {
		pcb.State = proc.Ready
	}
	pcb.SaveFrom(&c)

	if o.OnDispatch != nil {
		o.OnDispatch(pcb.Pid, ran)
	}
}

// AcquireLock implements interp.Kernel.
func (o *OS) AcquireLock(pid, idx int) bool {
	if o.locks[idx] == 0 || o.locks[idx] == pid {
		o.locks[idx] = pid
		return true
	}
	return false
}

// ReleaseLock implements interp.Kernel.
func (o *OS) ReleaseLock(pid, idx int) {
	if o.locks[idx] == pid {
		o.locks[idx] = 0
	}
}

// SignalEvent implements interp.Kernel.
func (o *OS) SignalEvent(idx int) {
	o.events[idx] = true
}

// TerminateProcess implements interp.Kernel. It is a no-op if pid
// names no live process.
func (o *OS) TerminateProcess(pid int) {
	for _, pcb := range o.processes {
		if pcb.Pid == pid {
			pcb.State = proc.Terminated
			return
		}
	}
}

// ReadInput implements interp.Kernel, parsing one whitespace-trimmed
// line of console input as a signed base-10 integer.
func (o *OS) ReadInput() (uint32, error) {
	line, err := o.in.ReadString('\n')
	if err != nil && line == "" {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(line), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(int32(v)), nil
}

// Emit implements interp.Kernel.
func (o *OS) Emit(line string) {
	fmt.Fprintln(o.out, line)
}

// Package proc implements the process and thread model: creation,
// lifecycle state machines, and the handle table each process owns.
// Grounded on original_source/kernel/src/process.rs.
package proc

import (
	"sync/atomic"

	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/caps"
	"nucleus/kernel/handle"
	"nucleus/kernel/image"
	"nucleus/kernel/klog"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/sched"
	"nucleus/kernel/sync"
)

var log = klog.For("proc")

// State is a process's lifecycle state, matching the state machine
// described in spec.md §3.
type State int

const (
	Created State = iota
	CreatedAttached
	Started
	StartedAttached
	Crashed
	DebugSuspended
	Exiting
	Exited
)

var nextPID uint64 = 1

// Process is a running (or not-yet-started) process: an address space, a
// handle table, a capability set, and the lifecycle state machine that
// governs what may be done to it.
type Process struct {
	PID          uint64
	name         string
	Memory       vmm.AddressSpace
	Handles      *handle.Table
	Capabilities caps.Set
	entrypoint   mem.VirtualAddress

	stateLock      sync.Spinlock
	state          State
	signaled       bool
	waitingThreads []*sched.ParkToken

	threadsLock sync.Spinlock
	threads     []*Thread
	maternity   []*Thread
}

// Kind implements handle.Object.
func (p *Process) Kind() handle.Kind { return handle.KindProcess }

// Name returns the process's image name.
func (p *Process) Name() string { return p.name }

var processListLock sync.Spinlock
var processList []*Process

// New creates a process in the Created state from a decoded ProcessImage.
// It does not start any thread; call Start for that.
func New(img image.ProcessImage, addrSpace vmm.AddressSpace) (*Process, *kernelerror.Error) {
	capSet := caps.Default()
	if raw := img.KernelCaps(); raw != nil {
		parsed, err := caps.Parse(raw)
		if err != nil {
			return nil, err
		}
		capSet = parsed
	}

	pid := atomic.AddUint64(&nextPID, 1) - 1

	p := &Process{
		PID:          pid,
		name:         img.Name(),
		Memory:       addrSpace,
		Handles:      handle.NewTable(capSet.HandleTableSize),
		Capabilities: capSet,
		entrypoint:   img.Entrypoint(),
		state:        Created,
	}

	processListLock.Acquire()
	processList = append(processList, p)
	processListLock.Release()

	log.WithField("pid", pid).WithField("name", p.name).Info("process created")
	return p, nil
}

// Snapshot returns the current process list, for diagnostics and tests.
func Snapshot() []*Process {
	processListLock.Acquire()
	defer processListLock.Release()
	out := make([]*Process, len(processList))
	copy(out, processList)
	return out
}

// State returns the process's current lifecycle state.
func (p *Process) State() State {
	p.stateLock.Acquire()
	defer p.stateLock.Release()
	return p.state
}

// setStateLocked transitions the state and signals any waiters, matching
// the original's set_state (which always implies a signal()).
func (p *Process) setStateLocked(s State) {
	p.state = s
	p.signalLocked()
}

func (p *Process) signalLocked() {
	p.signaled = true
	for _, w := range p.waitingThreads {
		w.Wake()
	}
	p.waitingThreads = nil
}

// IsSignaled implements sched.Waitable.
func (p *Process) IsSignaled() bool {
	p.stateLock.Acquire()
	defer p.stateLock.Release()
	return p.signaled
}

// Wait registers tok to be woken when the process is next signaled.
func (p *Process) Wait(tok *sched.ParkToken) {
	p.stateLock.Acquire()
	if p.signaled {
		p.stateLock.Release()
		tok.Wake()
		return
	}
	p.waitingThreads = append(p.waitingThreads, tok)
	p.stateLock.Release()
}

// ClearSignal clears the signaled bit. Fails with InvalidState if the
// process isn't currently signaled, or if it has already exited — a dead
// process's signal can never be meaningfully cleared.
func (p *Process) ClearSignal() *kernelerror.Error {
	p.stateLock.Acquire()
	defer p.stateLock.Release()
	if !p.signaled || p.state == Exited {
		return kernelerror.New(kernelerror.InvalidState, "process %d is not signaled", p.PID)
	}
	p.signaled = false
	return nil
}

// Start allocates a stack and creates+starts the process's main thread,
// transitioning Created/CreatedAttached to Started/StartedAttached.
func (p *Process) Start(stackPageCount uint32, priority uint8) *kernelerror.Error {
	p.stateLock.Acquire()
	oldState := p.state
	if oldState != Created && oldState != CreatedAttached {
		p.stateLock.Release()
		return kernelerror.New(kernelerror.InvalidState, "cannot start process %d from state %v", p.PID, oldState)
	}

	if stackPageCount == 0 {
		stackPageCount = 16
	}
	stackAddr, err := p.Memory.FindAvailableSpace(stackPageCount)
	if err != nil {
		p.stateLock.Release()
		return err
	}
	if err := p.Memory.CreateRegularMapping(stackAddr, stackPageCount, vmm.Read|vmm.Write); err != nil {
		p.stateLock.Release()
		return err
	}
	stackTop := stackAddr + mem.VirtualAddress(mem.Size(stackPageCount)*mem.PageSize)

	thread, err := p.newThreadLocked(p.entrypoint, stackTop, priority, true)
	if err != nil {
		p.stateLock.Release()
		// Deliberately not rolling back the stack allocation: the
		// original doesn't either.
		return err
	}

	newState := Started
	if oldState == CreatedAttached {
		newState = StartedAttached
	}
	p.setStateLocked(newState)
	p.stateLock.Release()

	if err := p.startThread(thread); err != nil {
		p.stateLock.Acquire()
		p.setStateLocked(oldState)
		p.stateLock.Release()
		return err
	}
	return nil
}

// CreateThread creates an additional (non-main) thread in a running
// process, leaving it Paused in the maternity list until StartThread is
// called.
func (p *Process) CreateThread(entry, stackTop mem.VirtualAddress, priority uint8) (*Thread, *kernelerror.Error) {
	p.stateLock.Acquire()
	defer p.stateLock.Release()
	if p.state != Started && p.state != StartedAttached {
		return nil, kernelerror.New(kernelerror.InvalidState, "process %d is not running", p.PID)
	}
	return p.newThreadLocked(entry, stackTop, priority, false)
}

// StartThread makes a previously created, still-Paused thread runnable.
func (p *Process) StartThread(t *Thread) *kernelerror.Error {
	return p.startThread(t)
}

// Terminate is the non-panicking, any-caller-safe counterpart to killing a
// process: valid from Started/StartedAttached/Crashed/DebugSuspended,
// idempotent on Exiting/Exited, and InvalidState on Created/CreatedAttached
// (a process that never ran cannot be terminated).
func (p *Process) Terminate() *kernelerror.Error {
	p.stateLock.Acquire()
	switch p.state {
	case Exiting, Exited:
		p.stateLock.Release()
		return nil
	case Created, CreatedAttached:
		p.stateLock.Release()
		return kernelerror.New(kernelerror.InvalidState, "process %d was never started", p.PID)
	}
	p.killLocked()
	p.stateLock.Release()
	return nil
}

// killLocked runs with stateLock held: transitions to Exiting, drops
// never-started threads from the maternity list, exits every live thread,
// then transitions to Exited.
func (p *Process) killLocked() {
	p.setStateLocked(Exiting)

	p.threadsLock.Acquire()
	p.maternity = nil
	liveThreads := make([]*Thread, len(p.threads))
	copy(liveThreads, p.threads)
	p.threadsLock.Release()

	for _, t := range liveThreads {
		t.Exit()
	}

	p.setStateLocked(Exited)
	log.WithField("pid", p.PID).Info("process exited")
}

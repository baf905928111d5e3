package proc

import (
	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/handle"
	"nucleus/kernel/mem"
	"nucleus/kernel/sched"
	"nucleus/kernel/sync"
)

// ThreadState is a thread's lifecycle state.
type ThreadState int

const (
	// Paused is the state of a freshly created, not-yet-started thread:
	// it sits in its owning process's maternity list.
	Paused ThreadState = iota
	// Scheduled means the thread has been handed to the scheduler and
	// will run.
	Scheduled
	// Running means the thread is the one currently executing.
	Running
	// TerminationPending means the thread has been asked to exit and
	// will be torn down at its next kernel-boundary crossing.
	TerminationPending
)

// Thread is a single thread of execution within a Process. Real
// architecture-specific context switching is out of scope; Thread tracks
// only the bookkeeping the kernel core itself needs (lifecycle state, the
// park token used to block/wake it, and which process owns it).
type Thread struct {
	Owner    *Process
	StackTop mem.VirtualAddress
	Priority uint8

	park *sched.ParkToken

	stateLock sync.Spinlock
	state     ThreadState

	// handleValue is the handle the main thread holds to itself, passed
	// as its start argument — mirrors the original's self-handle trick
	// for letting a process's first thread identify itself.
	handleValue uint32
}

// Kind implements handle.Object.
func (t *Thread) Kind() handle.Kind { return handle.KindThread }

// Park returns the thread's scheduling token, for IPC code that needs to
// block the calling thread and have another thread wake it later.
func (t *Thread) Park() *sched.ParkToken { return t.park }

// State returns the thread's current lifecycle state.
func (t *Thread) State() ThreadState {
	t.stateLock.Acquire()
	defer t.stateLock.Release()
	return t.state
}

// IsSignaled implements sched.Waitable: a thread is "signaled" (observable
// by a waiter) once it has started exiting. This also stands in for the
// original's `Waitable for Weak<ThreadStruct>`, whose is_signaled treats a
// dead (upgrade-failed) weak reference the same as TerminationPending —
// Go's garbage collector keeps Thread alive as long as anything holds a
// reference to it, so there is no separate "upgrade failed" case to model.
func (t *Thread) IsSignaled() bool {
	return t.State() == TerminationPending
}

// Exit marks the thread for termination and wakes it if it was parked.
// Idempotent: exiting an already-exiting thread does nothing.
func (t *Thread) Exit() {
	t.stateLock.Acquire()
	if t.state == TerminationPending {
		t.stateLock.Release()
		return
	}
	t.state = TerminationPending
	t.stateLock.Release()
	t.park.Wake()
}

// newThreadLocked creates a new thread owned by p and registers it in the
// maternity list. Runs with p.stateLock held by the caller. If the process
// has already reached Exited while this call was waiting for the lock, the
// thread is discarded and ProcessKilled is returned, matching the
// original's behavior for a creation racing a kill.
func (p *Process) newThreadLocked(entry mem.VirtualAddress, stackTop mem.VirtualAddress, priority uint8, isMain bool) (*Thread, *kernelerror.Error) {
	if p.state == Exited {
		return nil, kernelerror.New(kernelerror.ProcessKilled, "process %d was killed before thread creation completed", p.PID)
	}

	t := &Thread{
		Owner:    p,
		StackTop: stackTop,
		Priority: priority,
		park:     sched.NewParkToken(),
		state:    Paused,
	}

	if isMain {
		hv, err := p.Handles.Add(t)
		if err != nil {
			return nil, err
		}
		t.handleValue = hv
	}

	p.threadsLock.Acquire()
	p.threads = append(p.threads, t)
	p.maternity = append(p.maternity, t)
	p.threadsLock.Release()

	return t, nil
}

// startThread removes t from the maternity list and makes it runnable.
// Fails with InvalidState if t is not in the maternity list — either it
// was already started, or the owning process was killed first and cleared
// the list out from under it.
func (p *Process) startThread(t *Thread) *kernelerror.Error {
	p.threadsLock.Acquire()
	idx := -1
	for i, m := range p.maternity {
		if m == t {
			idx = i
			break
		}
	}
	if idx == -1 {
		p.threadsLock.Release()
		return kernelerror.New(kernelerror.InvalidState, "thread is not awaiting start")
	}
	p.maternity = append(p.maternity[:idx], p.maternity[idx+1:]...)
	p.threadsLock.Release()

	t.stateLock.Acquire()
	t.state = Scheduled
	t.stateLock.Release()
	t.park.Wake()
	return nil
}

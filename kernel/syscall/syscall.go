// Package syscall is the ABI surface spec.md §6 describes: one thin Go
// method per syscall, each performing the same four-step sequence spec.md
// §2 names — capability check, handle resolution, privileged operation,
// error mapping — so the capability bitmap §4.3 decodes has something
// real to gate. Grounded on original_source/kernel/src/syscalls.rs's
// dispatch shape (check caps, resolve handles via the caller's table,
// delegate to process/ipc, convert the result) without carrying over its
// raw-register calling convention, which has no Go analogue.
package syscall

import (
	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/handle"
	"nucleus/kernel/ipc/port"
	"nucleus/kernel/ipc/session"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/proc"
)

// Number identifies one syscall ABI entry, in the order spec.md §6 lists
// them. A process's .kernel_caps syscall-mask descriptors (kernel/caps)
// grant or withhold syscalls by this bit position.
type Number int

const (
	SetHeapSize Number = iota
	QueryMemory
	ExitProcess
	CreateThread
	StartThread
	ExitThread
	MapSharedMemory
	UnmapSharedMemory
	CloseHandle
	WaitSynchronization
	ConnectToNamedPort
	SendSyncRequestWithUserBuffer
	CreateSharedMemory
	CreateInterruptEvent
	SleepThread
	ReplyAndReceiveWithUserBuffer
	AcceptSession
	ConnectToPort
	ManageNamedPort
	GetProcessInfo
	GetProcessID
	ResetSignal
	ClearEvent
	SignalEvent
	StartProcess
)

var numberNames = [...]string{
	"set_heap_size", "query_memory", "exit_process", "create_thread",
	"start_thread", "exit_thread", "map_shared_memory", "unmap_shared_memory",
	"close_handle", "wait_synchronization", "connect_to_named_port",
	"send_sync_request_with_user_buffer", "create_shared_memory",
	"create_interrupt_event", "sleep_thread", "reply_and_receive_with_user_buffer",
	"accept_session", "connect_to_port", "manage_named_port", "get_process_info",
	"get_process_id", "reset_signal", "clear_event", "signal_event", "start_process",
}

func (n Number) String() string {
	if int(n) >= 0 && int(n) < len(numberNames) {
		return numberNames[n]
	}
	return "unknown_syscall"
}

// Caller is the per-invocation context every syscall method runs against:
// the process a capability check and handle lookups resolve against, and
// the thread that trapped into the kernel, for thread-scoped operations
// like exit_thread.
type Caller struct {
	Process *proc.Process
	Thread  *proc.Thread
}

// check enforces spec.md §4.3: every syscall entry checks the capability
// bitmap before doing anything else, failing unauthorized calls with a
// permission error. error.go's Kind table (lifted from the original) has
// no dedicated "forbidden by capability set" kind, so this follows the
// original's own precedent of folding a less common failure into an
// existing one — WrongMappingFramesForTy maps to InvalidCombination the
// same way — and reports InvalidCombination: the capability set makes the
// requested operation invalid for this caller.
func (c *Caller) check(n Number) *kernelerror.Error {
	if !c.Process.Capabilities.AllowsSyscall(int(n)) {
		return kernelerror.New(kernelerror.InvalidCombination, "pid %d: %s forbidden by capability set", c.Process.PID, n)
	}
	return nil
}

// resolveHandle looks hv up in the caller's own handle table, resolving
// the two meta-handle values (current thread/process) without a table
// lookup, matching handle.MetaCurrentThread/MetaCurrentProcess.
func (c *Caller) resolveHandle(hv uint32) (handle.Object, *kernelerror.Error) {
	switch hv {
	case handle.MetaCurrentThread:
		return c.Thread, nil
	case handle.MetaCurrentProcess:
		return c.Process, nil
	default:
		return c.Process.Handles.Get(hv)
	}
}

func (c *Caller) endpoint() session.Endpoint {
	return session.Endpoint{Space: c.Process.Memory, Handles: c.Process.Handles, PID: c.Process.PID}
}

// QueryMemory returns the mapping covering addr in the caller's own
// address space.
func (c *Caller) QueryMemory(addr mem.VirtualAddress) (vmm.Mapping, *kernelerror.Error) {
	if err := c.check(QueryMemory); err != nil {
		return vmm.Mapping{}, err
	}
	m, found := c.Process.Memory.QueryMemory(addr)
	if !found {
		return vmm.Mapping{}, kernelerror.New(kernelerror.InvalidAddress, "address %#x not mapped", uintptr(addr))
	}
	return m, nil
}

// ExitProcess terminates the caller's own process.
func (c *Caller) ExitProcess() *kernelerror.Error {
	if err := c.check(ExitProcess); err != nil {
		return err
	}
	return c.Process.Terminate()
}

// CreateThread creates a new, not-yet-started thread in the caller's
// process and hands back a handle the caller can later pass to
// StartThread.
func (c *Caller) CreateThread(entry, stackTop mem.VirtualAddress, priority uint8) (uint32, *kernelerror.Error) {
	if err := c.check(CreateThread); err != nil {
		return 0, err
	}
	t, err := c.Process.CreateThread(entry, stackTop, priority)
	if err != nil {
		return 0, err
	}
	return c.Process.Handles.Add(t)
}

// StartThread makes a previously created, still-paused thread runnable.
func (c *Caller) StartThread(hv uint32) *kernelerror.Error {
	if err := c.check(StartThread); err != nil {
		return err
	}
	obj, err := c.resolveHandle(hv)
	if err != nil {
		return err
	}
	t, err := proc.AsThread(obj)
	if err != nil {
		return err
	}
	return c.Process.StartThread(t)
}

// ExitThread terminates the calling thread.
func (c *Caller) ExitThread() *kernelerror.Error {
	if err := c.check(ExitThread); err != nil {
		return err
	}
	c.Thread.Exit()
	return nil
}

// CloseHandle removes hv from the caller's handle table.
func (c *Caller) CloseHandle(hv uint32) *kernelerror.Error {
	if err := c.check(CloseHandle); err != nil {
		return err
	}
	_, err := c.Process.Handles.Delete(hv)
	return err
}

// GetProcessID returns the caller's own PID — spec.md names no
// cross-process variant of this syscall.
func (c *Caller) GetProcessID() (uint64, *kernelerror.Error) {
	if err := c.check(GetProcessID); err != nil {
		return 0, err
	}
	return c.Process.PID, nil
}

// ResetSignal clears the signaled bit of a process handle.
func (c *Caller) ResetSignal(hv uint32) *kernelerror.Error {
	if err := c.check(ResetSignal); err != nil {
		return err
	}
	obj, err := c.resolveHandle(hv)
	if err != nil {
		return err
	}
	p, err := proc.AsProcess(obj)
	if err != nil {
		return err
	}
	return p.ClearSignal()
}

// ConnectToPort connects to a client port handle, adding the resulting
// client session to the caller's handle table.
func (c *Caller) ConnectToPort(hv uint32) (uint32, *kernelerror.Error) {
	if err := c.check(ConnectToPort); err != nil {
		return 0, err
	}
	obj, err := c.resolveHandle(hv)
	if err != nil {
		return 0, err
	}
	cp, err := port.AsClientPort(obj)
	if err != nil {
		return 0, err
	}
	cs, err := cp.Connect()
	if err != nil {
		return 0, err
	}
	return c.Process.Handles.Add(cs)
}

// AcceptSession accepts a pending connection on a server port handle,
// adding the resulting server session to the caller's handle table.
func (c *Caller) AcceptSession(hv uint32) (uint32, *kernelerror.Error) {
	if err := c.check(AcceptSession); err != nil {
		return 0, err
	}
	obj, err := c.resolveHandle(hv)
	if err != nil {
		return 0, err
	}
	sp, err := port.AsServerPort(obj)
	if err != nil {
		return 0, err
	}
	ss, err := sp.Accept()
	if err != nil {
		return 0, err
	}
	return c.Process.Handles.Add(ss)
}

// SendSyncRequestWithUserBuffer sends msg over the client session handle
// hv and blocks until the server replies.
func (c *Caller) SendSyncRequestWithUserBuffer(hv uint32, msg session.Message) (session.Result, *kernelerror.Error) {
	if err := c.check(SendSyncRequestWithUserBuffer); err != nil {
		return session.Result{}, err
	}
	obj, err := c.resolveHandle(hv)
	if err != nil {
		return session.Result{}, err
	}
	cs, err := session.AsClientSession(obj)
	if err != nil {
		return session.Result{}, err
	}
	return cs.SendRequest(c.endpoint(), msg)
}

// ReplyAndReceiveWithUserBuffer answers prev (if non-nil) and then blocks
// for the session's next request, mirroring the original syscall doing
// both in a single trap.
func (c *Caller) ReplyAndReceiveWithUserBuffer(hv uint32, prev *session.Request, reply session.Message) (*session.Request, session.Result, *kernelerror.Error) {
	if err := c.check(ReplyAndReceiveWithUserBuffer); err != nil {
		return nil, session.Result{}, err
	}
	obj, err := c.resolveHandle(hv)
	if err != nil {
		return nil, session.Result{}, err
	}
	ss, err := session.AsServerSession(obj)
	if err != nil {
		return nil, session.Result{}, err
	}
	if prev != nil {
		if err := ss.Reply(c.endpoint(), prev, reply); err != nil {
			return nil, session.Result{}, err
		}
	}
	return ss.Receive(c.endpoint(), session.NoCBuf())
}

// stub is for syscalls spec.md §6 lists that have nothing in this
// repository to back them yet. The capability bitmap is still consulted
// first — declaring or withholding the bit has an observable effect — but
// the call itself reports NotImplemented, the same conversion spec.md §9
// applies to the inlined-C-descriptor stub.
func (c *Caller) stub(n Number) *kernelerror.Error {
	if err := c.check(n); err != nil {
		return err
	}
	return kernelerror.New(kernelerror.NotImplemented, "%s has no backing implementation", n)
}

// SetHeapSize has no backing implementation: nothing in this repository
// models a resizable per-process heap region distinct from a regular
// mapping.
func (c *Caller) SetHeapSize(mem.Size) *kernelerror.Error { return c.stub(SetHeapSize) }

// MapSharedMemory has no backing implementation: there is no
// handle.KindSharedMemory object type to resolve a shared-memory handle
// against.
func (c *Caller) MapSharedMemory(uint32, mem.VirtualAddress, vmm.Rights) *kernelerror.Error {
	return c.stub(MapSharedMemory)
}

// UnmapSharedMemory: see MapSharedMemory.
func (c *Caller) UnmapSharedMemory(uint32) *kernelerror.Error { return c.stub(UnmapSharedMemory) }

// WaitSynchronization has no backing implementation for arbitrary handle
// kinds: sched.Waitable's Wait side is only implemented by *proc.Process
// in this tree — port/session readiness is instead observed by blocking
// inside Accept/Receive themselves — so a generic "wait on any handle"
// syscall would silently misbehave for the handle kinds that matter most.
func (c *Caller) WaitSynchronization([]uint32) *kernelerror.Error {
	return c.stub(WaitSynchronization)
}

// ConnectToNamedPort has no backing implementation: there is no named
// port registry (manage_named_port's counterpart) in this tree.
func (c *Caller) ConnectToNamedPort(string) (uint32, *kernelerror.Error) {
	return 0, c.stub(ConnectToNamedPort)
}

// CreateSharedMemory: see MapSharedMemory.
func (c *Caller) CreateSharedMemory(mem.Size, vmm.Rights, vmm.Rights) (uint32, *kernelerror.Error) {
	return 0, c.stub(CreateSharedMemory)
}

// CreateInterruptEvent has no backing implementation: there is no
// interrupt controller simulation in this tree (handle.KindInterruptEvent
// is declared but nothing produces one).
func (c *Caller) CreateInterruptEvent(uint16) (uint32, *kernelerror.Error) {
	return 0, c.stub(CreateInterruptEvent)
}

// SleepThread has no backing implementation: there is no timer/deadline
// scheduler in this tree, only the rendezvous-driven ParkToken.
func (c *Caller) SleepThread(int64) *kernelerror.Error { return c.stub(SleepThread) }

// ManageNamedPort: see ConnectToNamedPort.
func (c *Caller) ManageNamedPort(string, uint32) (uint32, *kernelerror.Error) {
	return 0, c.stub(ManageNamedPort)
}

// GetProcessInfo has no backing implementation: Process does not expose
// the extended info block (memory usage, random seed, ...) the original
// returns; PID/State/Snapshot already cover this repository's diagnostic
// needs.
func (c *Caller) GetProcessInfo(uint32) *kernelerror.Error { return c.stub(GetProcessInfo) }

// ClearEvent: see CreateInterruptEvent.
func (c *Caller) ClearEvent(uint32) *kernelerror.Error { return c.stub(ClearEvent) }

// SignalEvent: see CreateInterruptEvent.
func (c *Caller) SignalEvent(uint32) *kernelerror.Error { return c.stub(SignalEvent) }

// StartProcess has no backing implementation: spawning a new process from
// inside a syscall needs an ELF loader invocation the image package
// doesn't expose as a callable-from-kernel operation — image decoding
// happens once, up front, in the demo harness.
func (c *Caller) StartProcess(uint32, uint32, uint8) *kernelerror.Error { return c.stub(StartProcess) }

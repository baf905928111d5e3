package syscall

import (
	"testing"

	"nucleus/kernel/caps"
	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/ipc/port"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/proc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImage struct {
	name string
	caps []uint32
}

func (f fakeImage) Name() string                   { return f.name }
func (f fakeImage) Entrypoint() mem.VirtualAddress { return 0x400000 }
func (f fakeImage) KernelCaps() []uint32           { return f.caps }
func (f fakeImage) StackPageCount() uint32         { return 4 }

// newTestCaller builds a started process whose capability set allows only
// the syscalls named in allowed, and returns a Caller bound to a second,
// not-yet-started thread of that process.
func newTestCaller(t *testing.T, allowed ...Number) *Caller {
	t.Helper()
	arena, err := vmm.NewArena(64 * mem.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	svcs := make([]int, len(allowed))
	for i, n := range allowed {
		svcs[i] = int(n)
	}
	raw := []uint32{
		caps.EncodeSyscallMaskBank(0, svcs),
	}

	as := vmm.NewSimpleAddressSpace(arena, 0x1000_0000)
	p, kerr := proc.New(fakeImage{name: "test-proc", caps: raw}, as)
	require.Nil(t, kerr)
	require.Nil(t, p.Start(4, 0))

	// p.Start already created and scheduled the main thread; a second,
	// paused thread gives tests an uncontended *proc.Thread for
	// ExitThread/StartThread without reaching into proc's unexported
	// thread list.
	th, kerr := p.CreateThread(0x401000, 0, 0)
	require.Nil(t, kerr)
	return &Caller{Process: p, Thread: th}
}

func TestCapabilityCheckRejectsUnauthorizedSyscall(t *testing.T) {
	c := newTestCaller(t, QueryMemory)

	_, kerr := c.GetProcessID()
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.InvalidCombination, kerr.Kind)
}

func TestCapabilityCheckAllowsGrantedSyscall(t *testing.T) {
	c := newTestCaller(t, GetProcessID)

	pid, kerr := c.GetProcessID()
	require.Nil(t, kerr)
	assert.Equal(t, c.Process.PID, pid)
}

func TestQueryMemoryReflectsCallerAddressSpace(t *testing.T) {
	c := newTestCaller(t, QueryMemory)

	addr, kerr := c.Process.Memory.FindAvailableSpace(1)
	require.Nil(t, kerr)
	require.Nil(t, c.Process.Memory.CreateRegularMapping(addr, 1, vmm.Read|vmm.Write))

	m, kerr := c.QueryMemory(addr)
	require.Nil(t, kerr)
	assert.Equal(t, addr, m.Addr)
}

func TestCloseHandleRemovesEntry(t *testing.T) {
	c := newTestCaller(t, CloseHandle, CreateThread)

	hv, kerr := c.CreateThread(0x401000, 0, 0)
	require.Nil(t, kerr)

	require.Nil(t, c.CloseHandle(hv))
	_, kerr = c.Process.Handles.Get(hv)
	assert.NotNil(t, kerr)
}

func TestExitProcessHonorsCapabilityCheck(t *testing.T) {
	c := newTestCaller(t) // no syscalls granted

	kerr := c.ExitProcess()
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.InvalidCombination, kerr.Kind)
	assert.Equal(t, proc.Started, c.Process.State())
}

func TestExitProcessTerminatesWhenAuthorized(t *testing.T) {
	c := newTestCaller(t, ExitProcess)

	require.Nil(t, c.ExitProcess())
	assert.Equal(t, proc.Exited, c.Process.State())
}

func TestConnectToPortAndAcceptSessionRoundTrip(t *testing.T) {
	client := newTestCaller(t, ConnectToPort)
	server := newTestCaller(t, AcceptSession)

	sp, cp := port.NewPair()
	spHv, kerr := server.Process.Handles.Add(sp)
	require.Nil(t, kerr)
	cpHv, kerr := client.Process.Handles.Add(cp)
	require.Nil(t, kerr)

	done := make(chan uint32, 1)
	go func() {
		hv, kerr := client.ConnectToPort(cpHv)
		require.Nil(t, kerr)
		done <- hv
	}()

	ssHv, kerr := server.AcceptSession(spHv)
	require.Nil(t, kerr)
	assert.NotZero(t, ssHv)
	assert.NotZero(t, <-done)
}

func TestStubSyscallsReportNotImplementedOnceAuthorized(t *testing.T) {
	c := newTestCaller(t, SetHeapSize, SleepThread)

	kerr := c.SetHeapSize(mem.PageSize)
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.NotImplemented, kerr.Kind)

	kerr = c.SleepThread(1000)
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.NotImplemented, kerr.Kind)
}

func TestStubSyscallsStillEnforceCapabilityCheck(t *testing.T) {
	c := newTestCaller(t) // nothing granted

	kerr := c.SetHeapSize(mem.PageSize)
	require.NotNil(t, kerr)
	assert.Equal(t, kernelerror.InvalidCombination, kerr.Kind)
}

// Command nucleus-demo boots a minimal two-process scenario on top of the
// kernel core: a bitmap-backed physical memory region, two address spaces,
// a server process that publishes a port, and a client process that
// connects, sends a request, and receives a reply. It stands in for the
// teacher's Kmain, which wires the same kind of subsystems together at
// boot but against real hardware instead of a simulated arena.
package main

import (
	"fmt"
	"os"

	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/caps"
	"nucleus/kernel/image"
	"nucleus/kernel/ipc/port"
	"nucleus/kernel/ipc/session"
	"nucleus/kernel/klog"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/proc"
	"nucleus/kernel/syscall"

	"github.com/sirupsen/logrus"
)

var log = klog.For("demo")

type staticImage struct {
	name  string
	entry mem.VirtualAddress
	caps  []uint32
}

func (s staticImage) Name() string                  { return s.name }
func (s staticImage) Entrypoint() mem.VirtualAddress { return s.entry }
func (s staticImage) KernelCaps() []uint32           { return s.caps }
func (s staticImage) StackPageCount() uint32         { return 8 }

var _ image.ProcessImage = staticImage{}

// newCaller wires a syscall.Caller around a fresh, caller-owned worker
// thread created and started through the syscall surface itself, so every
// privileged step this demo drives — not just the ones it narrates — goes
// through the capability check.
func newCaller(p *proc.Process) *syscall.Caller {
	c := &syscall.Caller{Process: p}
	hv, kerr := c.CreateThread(0x401000, 0, 0)
	mustK(kerr)
	mustK(c.StartThread(hv))
	obj, kerr := p.Handles.Get(hv)
	mustK(kerr)
	th, kerr := proc.AsThread(obj)
	mustK(kerr)
	c.Thread = th
	return c
}

// grants encodes a bank-0 syscall mask allowing exactly the named syscalls
// — the .kernel_caps section a loader would build from a binary's
// declared capabilities (kernel/caps.Encode*), here assembled by hand
// since this demo has no ELF image to parse it out of.
func grants(svcs ...syscall.Number) []uint32 {
	nums := make([]int, len(svcs))
	for i, n := range svcs {
		nums[i] = int(n)
	}
	return []uint32{caps.EncodeSyscallMaskBank(0, nums)}
}

func main() {
	klog.Log.SetLevel(logrus.DebugLevel)

	const arenaSize = 16 * mem.Mb
	arena, err := vmm.NewArena(arenaSize)
	if err != nil {
		fatal(err)
	}
	defer arena.Close()
	log.WithField("bytes", uint64(arenaSize)).WithField("mb", uint64(arenaSize/mem.Mb)).
		WithField("gb", float64(arenaSize)/float64(mem.Gb)).
		Debug("simulated physical arena allocated")

	serverSpace := vmm.NewSimpleAddressSpace(arena, 0x4000_0000)
	clientSpace := vmm.NewSimpleAddressSpace(arena, 0x8000_0000)

	serverCaps := grants(syscall.CreateThread, syscall.StartThread, syscall.AcceptSession,
		syscall.ReplyAndReceiveWithUserBuffer, syscall.ExitThread, syscall.ExitProcess)
	clientCaps := grants(syscall.CreateThread, syscall.StartThread, syscall.ConnectToPort,
		syscall.SendSyncRequestWithUserBuffer, syscall.ExitThread, syscall.ExitProcess)

	serverProc, kerr := proc.New(staticImage{name: "echo-server", entry: 0x401000, caps: serverCaps}, serverSpace)
	mustK(kerr)
	clientProc, kerr := proc.New(staticImage{name: "echo-client", entry: 0x401000, caps: clientCaps}, clientSpace)
	mustK(kerr)

	const mainStackPages = 8
	mustK(serverProc.Start(mainStackPages, 0))
	mustK(clientProc.Start(mainStackPages, 0))

	log.WithField("server_pid", serverProc.PID).WithField("client_pid", clientProc.PID).
		WithField("stack_kb", uint64(mainStackPages*mem.PageSize/mem.Kb)).
		Info("processes started")
	log.WithField("caps", fmt.Sprintf("%+v", caps.Default())).Debug("default capability set")

	serverCaller := newCaller(serverProc)
	clientCaller := newCaller(clientProc)

	serverPort, clientPort := port.NewPair()
	defer serverPort.Close()

	spHv, kerr := serverProc.Handles.Add(serverPort)
	mustK(kerr)
	cpHv, kerr := clientProc.Handles.Add(clientPort)
	mustK(kerr)

	acceptedCh := make(chan uint32, 1)
	go func() {
		ssHv, kerr := serverCaller.AcceptSession(spHv)
		mustK(kerr)
		acceptedCh <- ssHv
	}()

	csHv, kerr := clientCaller.ConnectToPort(cpHv)
	mustK(kerr)
	ssHv := <-acceptedCh

	replyCh := make(chan struct{})
	go func() {
		req, result, kerr := serverCaller.ReplyAndReceiveWithUserBuffer(ssHv, nil, session.Message{})
		mustK(kerr)
		log.WithField("request", string(result.RawData)).Info("server received request")
		close(replyCh)

		// Answering a request also re-arms the session for a next one, the
		// real ABI's reply_and_receive always doing both in a single trap.
		// This demo never sends a second request, so this call blocks for
		// the remaining life of the process; that's fine, main's return
		// tears it down along with everything else.
		_, _, _ = serverCaller.ReplyAndReceiveWithUserBuffer(ssHv, req, session.Message{
			Type:    1,
			RawData: []byte("pong"),
		})
	}()

	result, kerr := clientCaller.SendSyncRequestWithUserBuffer(csHv, session.Message{
		Type:    1,
		RawData: []byte("ping"),
		SendPID: true,
	})
	mustK(kerr)
	<-replyCh

	log.WithField("reply", string(result.RawData)).WithField("from_pid", result.SenderPID).
		Info("client received reply")

	unauthorized := &syscall.Caller{Process: clientProc, Thread: clientCaller.Thread}
	if _, kerr := unauthorized.AcceptSession(spHv); kerr == nil {
		fatal(fmt.Errorf("client process should not be able to accept sessions, but the capability check let it through"))
	} else {
		log.WithField("kind", kerr.Kind.String()).Info("capability check rejected an unauthorized syscall, as expected")
	}

	mustK(clientCaller.ExitThread())
	mustK(serverCaller.ExitThread())
	mustK(clientCaller.ExitProcess())
	mustK(serverCaller.ExitProcess())
}

func mustK(err *kernelerror.Error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	log.WithError(err).Error("demo failed")
	os.Exit(1)
}

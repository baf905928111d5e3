// Package sched implements the kernel core's scheduler primitives:
// add_to_schedule_queue and unschedule, the two operations spec.md §5
// names as the only two-phase lock-then-wake sequence every IPC rendezvous
// routes through. The original runs on one real CPU with cooperative,
// explicitly-triggered context switches; this hosted simulation has real
// OS threads available, so "a thread blocks" is realized by parking the
// calling goroutine on a channel rather than by a hand-rolled context
// switch — the operation names and call sites are kept faithful to the
// original even though the underlying mechanism differs.
package sched

import "sync"

// Waitable is anything a thread can block waiting for — a port's incoming
// connection queue, a session's request queue, a process's signal state.
// Mirrors original_source's Waitable trait.
type Waitable interface {
	IsSignaled() bool
}

// ParkToken is the per-thread primitive used to block ("unschedule") and
// be woken ("add_to_schedule_queue") by another thread.
type ParkToken struct {
	mu     sync.Mutex
	woken  bool
	wakeCh chan struct{}
}

// NewParkToken returns a token ready to be parked on.
func NewParkToken() *ParkToken {
	return &ParkToken{wakeCh: make(chan struct{})}
}

// Unschedule blocks the calling goroutine until Wake is called. It is the
// direct analogue of scheduler::unschedule: the thread is removed from the
// run queue (here: the goroutine stops running) until another thread
// re-adds it (here: closes the wake channel).
func (p *ParkToken) Unschedule() {
	p.mu.Lock()
	woken := p.woken
	ch := p.wakeCh
	p.mu.Unlock()
	if woken {
		return
	}
	<-ch
}

// Wake is the analogue of add_to_schedule_queue: it makes the parked
// thread runnable again. Safe to call multiple times or before Unschedule
// — a wake that arrives first is not lost, matching the original's
// requirement that callers hold the relevant lock across both the state
// change and the wakeup to avoid missing it.
func (p *ParkToken) Wake() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.woken {
		return
	}
	p.woken = true
	close(p.wakeCh)
}

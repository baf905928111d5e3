package session

import (
	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/handle"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"
)

// BufSpec names a sender-side buffer by address and size, the shape an X,
// A, B or W descriptor carries on the wire. Counter is only meaningful for
// X descriptors: it selects which of the receiver's C buffer targets this
// one resolves against.
type BufSpec struct {
	Addr    mem.VirtualAddress
	Size    mem.Size
	Counter uint8
}

// MappedBuffer is where a BufSpec ended up landing on the receiving side.
type MappedBuffer struct {
	Addr mem.VirtualAddress
	Size mem.Size
}

// Message is everything one side of pass_message can send: a request, or
// a reply. CopyHandles/MoveHandles are handle values resolved against the
// sender's own handle table.
type Message struct {
	Type        uint16
	RawData     []byte
	SendPID     bool
	CopyHandles []uint32
	MoveHandles []uint32
	X           []BufSpec
	A           []BufSpec
	B           []BufSpec
	W           []BufSpec
}

// Result is what the receiving side of pass_message ends up with.
type Result struct {
	Type      uint16
	RawData   []byte
	SenderPID uint64
	Handles   []uint32
	X         []MappedBuffer
	A         []MappedBuffer
	B         []MappedBuffer
	W         []MappedBuffer
}

// endpoint bundles the address space, handle table and identity an
// address space operates under, everything pass_message needs from one
// side of the exchange.
type endpoint struct {
	Space   vmm.AddressSpace
	Handles *handle.Table
	PID     uint64
}

// passMessage is the core message-pass engine, grounded on
// original_source/kernel/src/ipc/session.rs's pass_message. It moves raw
// data, handles and buffers from `from` to `to`. isReply controls which
// buffer directions are legal: A/B/W descriptors are only accepted on a
// request (they map the sender's buffers into the receiver); a reply
// carrying any is rejected, and ServerSession.Reply instead unmaps the
// buffers the matching request had mapped, via bufUnmap.
func passMessage(from, to endpoint, msg Message, isReply bool, cb cBufBehavior) (Result, []Buffer, *kernelerror.Error) {
	if sameAddressSpace(from.Space, to.Space) {
		return Result{}, nil, kernelerror.New(kernelerror.InvalidCombination, "sender and receiver share an address space")
	}
	if isReply && (len(msg.A) > 0 || len(msg.B) > 0 || len(msg.W) > 0) {
		return Result{}, nil, kernelerror.New(kernelerror.InvalidCombination, "A/B/W descriptors are not valid on a reply")
	}

	result := Result{Type: msg.Type, RawData: append([]byte(nil), msg.RawData...)}

	if msg.SendPID {
		result.SenderPID = from.PID
	}

	for _, hv := range msg.CopyHandles {
		obj, err := from.Handles.Get(hv)
		if err != nil {
			return Result{}, nil, err
		}
		newHv, err := to.Handles.Add(obj)
		if err != nil {
			return Result{}, nil, err
		}
		result.Handles = append(result.Handles, newHv)
	}
	for _, hv := range msg.MoveHandles {
		obj, err := from.Handles.Delete(hv)
		if err != nil {
			return Result{}, nil, err
		}
		newHv, err := to.Handles.Add(obj)
		if err != nil {
			return Result{}, nil, err
		}
		result.Handles = append(result.Handles, newHv)
	}

	for _, x := range msg.X {
		target, err := cb.resolve(x.Counter)
		if err != nil {
			return Result{}, nil, err
		}
		mapped, err := copyXBufferTo(from.Space, to.Space, x, target)
		if err != nil {
			return Result{}, nil, err
		}
		result.X = append(result.X, mapped)
	}

	var buffers []Buffer
	mapAll := func(specs []BufSpec, writable bool) ([]MappedBuffer, *kernelerror.Error) {
		var out []MappedBuffer
		for _, spec := range specs {
			b, err := bufMap(to.Space, from.Space, spec.Addr, spec.Size, writable)
			if err != nil {
				for _, done := range buffers {
					_ = bufUnmap(done)
				}
				return nil, err
			}
			if spec.Addr != 0 {
				buffers = append(buffers, b)
			}
			out = append(out, MappedBuffer{Addr: b.DestAddr, Size: spec.Size})
		}
		return out, nil
	}

	aOut, err := mapAll(msg.A, false)
	if err != nil {
		return Result{}, nil, err
	}
	result.A = aOut

	bOut, err := mapAll(msg.B, true)
	if err != nil {
		return Result{}, nil, err
	}
	result.B = bOut

	wOut, err := mapAll(msg.W, true)
	if err != nil {
		return Result{}, nil, err
	}
	result.W = wOut

	return result, buffers, nil
}

// copyXBufferTo copies a sender-declared X buffer directly into the
// receiver's address space at the given C buffer target, truncating to
// whichever of the two sizes is smaller, exactly as the original's
// find_c_descriptors path does.
func copyXBufferTo(from, to vmm.AddressSpace, x BufSpec, target cBufTarget) (MappedBuffer, *kernelerror.Error) {
	size := uint64(x.Size)
	if uint64(target.Size) < size {
		size = uint64(target.Size)
	}
	buf := make([]byte, size)
	if err := from.Read(x.Addr, buf); err != nil {
		return MappedBuffer{}, err
	}
	if err := to.Write(mem.VirtualAddress(target.Addr), buf); err != nil {
		return MappedBuffer{}, err
	}
	return MappedBuffer{Addr: mem.VirtualAddress(target.Addr), Size: mem.Size(size)}, nil
}

func sameAddressSpace(a, b vmm.AddressSpace) bool {
	return a == b
}

package session

import kernelerror "nucleus/kernel/error"

// cBufBehaviorKind is the c_descriptor_flags field of the receiver's
// header, selecting how X (send-buffer) descriptors get resolved into
// destination addresses on the receiver's side.
type cBufBehaviorKind uint8

const (
	cBufDisabled cBufBehaviorKind = 0
	cBufInlined  cBufBehaviorKind = 1
	cBufSingle   cBufBehaviorKind = 2
	// Any flag value >= cBufNumberedBase selects "numbered" behavior,
	// matching the original's `_ => Numbered`.
	cBufNumberedBase cBufBehaviorKind = 3
)

const maxNumberedCBuffers = 13

// cBufTarget is one destination slot an X descriptor's counter field can
// select.
type cBufTarget struct {
	Addr uint64
	Size uint16
}

// cBufBehavior is the decoded destination policy for this message's X
// descriptors.
type cBufBehavior struct {
	kind    cBufBehaviorKind
	single  cBufTarget
	numbered [maxNumberedCBuffers]cBufTarget
	count    uint8
}

// NoCBuf returns the behavior for a receiver that has not configured any C
// buffer: any X descriptor in an incoming message fails with IPCError.
func NoCBuf() cBufBehavior {
	return cBufBehavior{kind: cBufDisabled}
}

// SingleCBuf returns the behavior for a receiver that wants every X
// descriptor routed into one fixed destination buffer.
func SingleCBuf(addr uint64, size uint16) cBufBehavior {
	return cBufBehavior{kind: cBufSingle, single: cBufTarget{Addr: addr, Size: size}}
}

// resolve returns the destination slot for the given X descriptor
// counter, or an error if none applies.
func (b cBufBehavior) resolve(counter uint8) (cBufTarget, *kernelerror.Error) {
	switch {
	case b.kind == cBufDisabled:
		return cBufTarget{}, kernelerror.New(kernelerror.IPCError, "peer has no C buffer configured for an X descriptor")
	case b.kind == cBufInlined:
		return cBufTarget{}, kernelerror.New(kernelerror.NotImplemented, "inline C descriptors are not implemented")
	case b.kind == cBufSingle:
		return b.single, nil
	default:
		if counter >= b.count {
			return cBufTarget{}, kernelerror.New(kernelerror.InvalidCombination, "C buffer counter %d out of range (have %d)", counter, b.count)
		}
		return b.numbered[counter], nil
	}
}

// decodeCBufBehavior builds a cBufBehavior from the flags field and a
// receiver-supplied raw target list. Callers that already know their
// single/numbered targets (most tests, and any syscall surface that hands
// the kernel pre-parsed buffers rather than raw bytes) construct these
// directly; this helper exists for the byte-oriented wire path.
func decodeCBufBehavior(flags uint8, targets []cBufTarget) cBufBehavior {
	kind := cBufBehaviorKind(flags)
	switch kind {
	case cBufDisabled, cBufInlined:
		return cBufBehavior{kind: kind}
	case cBufSingle:
		var t cBufTarget
		if len(targets) > 0 {
			t = targets[0]
		}
		return cBufBehavior{kind: kind, single: t}
	default:
		b := cBufBehavior{kind: cBufNumberedBase}
		n := len(targets)
		if n > maxNumberedCBuffers {
			n = maxNumberedCBuffers
		}
		copy(b.numbered[:], targets[:n])
		b.count = uint8(n)
		return b
	}
}

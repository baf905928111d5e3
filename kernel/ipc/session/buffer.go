package session

import (
	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"
)

// Buffer records one A/B/W mapping created by bufMap, kept on the Request
// so reply-time bufUnmap can reverse it.
type Buffer struct {
	Writable   bool
	DestAddr   mem.VirtualAddress
	DestPages  uint32
	SrcAddr    mem.VirtualAddress
	SrcSpace   vmm.AddressSpace
	DestSpace  vmm.AddressSpace
}

// bufMap maps size bytes of the sender's memory starting at srcAddr into
// the receiver's address space and returns the address at which the
// receiver can see it. A null srcAddr (0) means "no buffer"; bufMap
// returns a zero Buffer and no error in that case.
//
// Unlike the original, which must splice together a head partial page
// (copy), zero or more whole shared pages (alias), and a tail partial page
// (copy) because real hardware page tables only alias whole pages, this
// repository's AddressSpace can alias an arbitrary list of frames
// directly. bufMap therefore maps the whole enclosing page range as one
// shared region; the sub-page offset is preserved so the receiver sees
// the exact same bytes at the equivalent offset.
func bufMap(dest vmm.AddressSpace, src vmm.AddressSpace, srcAddr mem.VirtualAddress, size mem.Size, writable bool) (Buffer, *kernelerror.Error) {
	if srcAddr == 0 {
		return Buffer{}, nil
	}

	pageStart := srcAddr.Floor()
	pageEnd := (srcAddr + mem.VirtualAddress(size)).Ceil()
	numPages := uint32((pageEnd - pageStart) / mem.VirtualAddress(mem.PageSize))
	if numPages == 0 {
		numPages = 1
	}

	rights := vmm.Read
	if writable {
		rights |= vmm.Write
	}

	destBase, err := dest.FindAvailableSpace(numPages)
	if err != nil {
		return Buffer{}, err
	}
	if err := dest.MapPartialShared(destBase, src, pageStart, numPages, rights); err != nil {
		return Buffer{}, err
	}

	offset := srcAddr - pageStart
	destAddr := destBase + offset

	return Buffer{
		Writable:  writable,
		DestAddr:  destAddr,
		DestPages: numPages,
		SrcAddr:   srcAddr,
		SrcSpace:  src,
		DestSpace: dest,
	}, nil
}

// bufUnmap reverses a bufMap. Because the mapping is a direct frame alias
// rather than a copy, there is no data to flush back to the sender — the
// sender's writes (or the receiver's, for a writable buffer) are already
// visible on both sides. Only the receiver-side mapping is torn down; the
// underlying frames, owned by the sender, are left alone.
func bufUnmap(b Buffer) *kernelerror.Error {
	if b.DestSpace == nil {
		return nil
	}
	return b.DestSpace.Unmap(b.DestAddr.Floor(), b.DestPages, nil)
}

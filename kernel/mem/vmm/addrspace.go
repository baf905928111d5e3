// Package vmm defines the abstract virtual-address-space surface the
// kernel core needs (map, unmap, mirror, query) without ever touching a
// real MMU or page table — architecture-specific paging is explicitly out
// of scope, consumed only through this interface. SimpleAddressSpace, the
// implementation used by this repository, backs every process's address
// space with a shared slice of simulated physical RAM.
package vmm

import (
	"sort"

	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/mem/pmm/allocator"
	"nucleus/kernel/sync"
)

// Rights is a bitmask of access permissions for a mapping.
type Rights uint8

const (
	Read Rights = 1 << iota
	Write
	Execute
)

// Has reports whether all bits in want are set in r.
func (r Rights) Has(want Rights) bool { return r&want == want }

// FrameOwnership distinguishes mappings that own their backing frames
// (freed on Unmap) from ones that merely alias frames owned by another
// address space (left alone on Unmap), matching the original's
// MappingFrames::{Owned,Shared} distinction.
type FrameOwnership int

const (
	Owned FrameOwnership = iota
	Shared
)

// Mapping describes one mapped virtual region.
type Mapping struct {
	Addr      mem.VirtualAddress
	NumPages  uint32
	Frames    []pmm.Frame
	Rights    Rights
	Ownership FrameOwnership
}

func (m Mapping) size() mem.Size { return mem.Size(m.NumPages) * mem.PageSize }
func (m Mapping) end() mem.VirtualAddress {
	return m.Addr + mem.VirtualAddress(m.size())
}

// AddressSpace is the abstract per-process virtual memory surface the IPC
// message-pass engine and syscalls operate against.
type AddressSpace interface {
	// FindAvailableSpace locates numPages contiguous unmapped pages and
	// returns their base address, without mapping anything yet.
	FindAvailableSpace(numPages uint32) (mem.VirtualAddress, *kernelerror.Error)
	// CreateRegularMapping allocates fresh physical frames and maps them
	// at addr with the given rights.
	CreateRegularMapping(addr mem.VirtualAddress, numPages uint32, rights Rights) *kernelerror.Error
	// MapPartialShared aliases numPages of another address space's frames
	// (starting at srcAddr) into this space at addr, without copying.
	MapPartialShared(addr mem.VirtualAddress, src AddressSpace, srcAddr mem.VirtualAddress, numPages uint32, rights Rights) *kernelerror.Error
	// Unmap removes the mapping covering [addr, addr+numPages*PageSize).
	// Owned frames are returned to alloc; Shared frames are left alone.
	Unmap(addr mem.VirtualAddress, numPages uint32, alloc *allocator.Bitmap) *kernelerror.Error
	// QueryMemory returns the mapping covering addr, if any.
	QueryMemory(addr mem.VirtualAddress) (Mapping, bool)
	// Read copies len(buf) bytes starting at addr into buf.
	Read(addr mem.VirtualAddress, buf []byte) *kernelerror.Error
	// Write copies buf into the space starting at addr.
	Write(addr mem.VirtualAddress, buf []byte) *kernelerror.Error
}

// SimpleAddressSpace implements AddressSpace over a shared arena of
// simulated physical RAM (see Arena). It keeps an ordered list of mappings
// and performs address translation itself rather than programming a real
// page table, which is exactly the kind of arch-specific work spec.md
// keeps behind this interface.
type SimpleAddressSpace struct {
	lock     sync.Spinlock
	arena    *Arena
	mappings []Mapping
	// nextFree is a simple bump cursor used by FindAvailableSpace; real
	// address spaces would reuse holes left by Unmap, but nothing in this
	// repository's test scenarios requires that sophistication.
	nextFree mem.VirtualAddress
}

// NewSimpleAddressSpace creates an address space backed by arena, with its
// mappable range starting at base.
func NewSimpleAddressSpace(arena *Arena, base mem.VirtualAddress) *SimpleAddressSpace {
	return &SimpleAddressSpace{arena: arena, nextFree: base}
}

func (s *SimpleAddressSpace) findLocked(addr mem.VirtualAddress) (int, bool) {
	i := sort.Search(len(s.mappings), func(i int) bool { return s.mappings[i].end() > addr })
	if i < len(s.mappings) && s.mappings[i].Addr <= addr {
		return i, true
	}
	return i, false
}

func (s *SimpleAddressSpace) insertLocked(m Mapping) {
	i := sort.Search(len(s.mappings), func(i int) bool { return s.mappings[i].Addr >= m.Addr })
	s.mappings = append(s.mappings, Mapping{})
	copy(s.mappings[i+1:], s.mappings[i:])
	s.mappings[i] = m
}

// FindAvailableSpace implements AddressSpace.
func (s *SimpleAddressSpace) FindAvailableSpace(numPages uint32) (mem.VirtualAddress, *kernelerror.Error) {
	s.lock.Acquire()
	defer s.lock.Release()

	addr := s.nextFree
	s.nextFree += mem.VirtualAddress(mem.Size(numPages) * mem.PageSize)
	return addr, nil
}

// CreateRegularMapping implements AddressSpace.
func (s *SimpleAddressSpace) CreateRegularMapping(addr mem.VirtualAddress, numPages uint32, rights Rights) *kernelerror.Error {
	frames := make([]pmm.Frame, numPages)
	for i := range frames {
		r, err := s.arena.Allocator.AllocateRegion(mem.PageSize)
		if err != nil {
			for j := 0; j < i; j++ {
				s.arena.Allocator.FreeRegion(pmm.Region{Base: frames[j], FrameCount: 1})
			}
			return err
		}
		frames[i] = r.Base
	}

	s.lock.Acquire()
	defer s.lock.Release()
	s.insertLocked(Mapping{Addr: addr, NumPages: numPages, Frames: frames, Rights: rights, Ownership: Owned})
	return nil
}

// MapPartialShared implements AddressSpace.
func (s *SimpleAddressSpace) MapPartialShared(addr mem.VirtualAddress, src AddressSpace, srcAddr mem.VirtualAddress, numPages uint32, rights Rights) *kernelerror.Error {
	srcSimple, ok := src.(*SimpleAddressSpace)
	if !ok {
		return kernelerror.New(kernelerror.WrongMappingFramesForType, "MapPartialShared requires a SimpleAddressSpace source")
	}

	srcSimple.lock.Acquire()
	srcMapping, found := srcSimple.queryLocked(srcAddr)
	srcSimple.lock.Release()
	if !found {
		return kernelerror.New(kernelerror.InvalidAddress, "source address %#x not mapped", uintptr(srcAddr))
	}
	if !srcMapping.Rights.Has(Read) {
		return kernelerror.New(kernelerror.InvalidMemState, "source mapping at %#x is not readable", uintptr(srcAddr))
	}
	if rights.Has(Write) && !srcMapping.Rights.Has(Write) {
		return kernelerror.New(kernelerror.InvalidMemState, "source mapping at %#x is not writable", uintptr(srcAddr))
	}

	startPage := uint32((srcAddr - srcMapping.Addr) / mem.VirtualAddress(mem.PageSize))
	if startPage+numPages > srcMapping.NumPages {
		return kernelerror.New(kernelerror.InvalidSize, "shared range exceeds source mapping")
	}
	frames := append([]pmm.Frame(nil), srcMapping.Frames[startPage:startPage+numPages]...)

	s.lock.Acquire()
	defer s.lock.Release()
	s.insertLocked(Mapping{Addr: addr, NumPages: numPages, Frames: frames, Rights: rights, Ownership: Shared})
	return nil
}

// Unmap implements AddressSpace.
func (s *SimpleAddressSpace) Unmap(addr mem.VirtualAddress, numPages uint32, alloc *allocator.Bitmap) *kernelerror.Error {
	s.lock.Acquire()
	idx, found := s.findLocked(addr)
	if !found {
		s.lock.Release()
		return kernelerror.New(kernelerror.InvalidAddress, "unmap: %#x not mapped", uintptr(addr))
	}
	m := s.mappings[idx]
	s.mappings = append(s.mappings[:idx], s.mappings[idx+1:]...)
	s.lock.Release()

	if m.Ownership == Owned && alloc != nil {
		for _, f := range m.Frames {
			alloc.FreeRegion(pmm.Region{Base: f, FrameCount: 1})
		}
	}
	return nil
}

func (s *SimpleAddressSpace) queryLocked(addr mem.VirtualAddress) (Mapping, bool) {
	idx, found := s.findLocked(addr)
	if !found {
		return Mapping{}, false
	}
	return s.mappings[idx], true
}

// QueryMemory implements AddressSpace.
func (s *SimpleAddressSpace) QueryMemory(addr mem.VirtualAddress) (Mapping, bool) {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.queryLocked(addr)
}

// translate resolves addr to a byte offset into the shared arena.
func (s *SimpleAddressSpace) translate(addr mem.VirtualAddress) (int, Mapping, *kernelerror.Error) {
	m, found := s.QueryMemory(addr)
	if !found {
		return 0, Mapping{}, kernelerror.New(kernelerror.InvalidAddress, "address %#x not mapped", uintptr(addr))
	}
	pageIdx := uint32((addr - m.Addr) / mem.VirtualAddress(mem.PageSize))
	pageOff := uintptr(addr-m.Addr) % uintptr(mem.PageSize)
	frame := m.Frames[pageIdx]
	return int(frame.Address() + pageOff), m, nil
}

// Read implements AddressSpace. Reads may cross page boundaries but must
// stay within a single contiguous mapping.
func (s *SimpleAddressSpace) Read(addr mem.VirtualAddress, buf []byte) *kernelerror.Error {
	return s.copyArena(addr, buf, false)
}

// Write implements AddressSpace.
func (s *SimpleAddressSpace) Write(addr mem.VirtualAddress, buf []byte) *kernelerror.Error {
	return s.copyArena(addr, buf, true)
}

func (s *SimpleAddressSpace) copyArena(addr mem.VirtualAddress, buf []byte, write bool) *kernelerror.Error {
	remaining := buf
	cur := addr
	for len(remaining) > 0 {
		off, m, err := s.translate(cur)
		if err != nil {
			return err
		}
		if write && !m.Rights.Has(Write) {
			return kernelerror.New(kernelerror.InvalidMemState, "mapping at %#x is not writable", uintptr(cur))
		}
		if !write && !m.Rights.Has(Read) {
			return kernelerror.New(kernelerror.InvalidMemState, "mapping at %#x is not readable", uintptr(cur))
		}
		pageOff := uintptr(cur-m.Addr) % uintptr(mem.PageSize)
		chunk := int(uintptr(mem.PageSize) - pageOff)
		if chunk > len(remaining) {
			chunk = len(remaining)
		}
		if write {
			copy(s.arena.bytes[off:off+chunk], remaining[:chunk])
		} else {
			copy(remaining[:chunk], s.arena.bytes[off:off+chunk])
		}
		remaining = remaining[chunk:]
		cur += mem.VirtualAddress(chunk)
	}
	return nil
}

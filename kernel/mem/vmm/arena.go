package vmm

import (
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm/allocator"

	"golang.org/x/sys/unix"
)

// Arena is the kernel core's stand-in for physical RAM: a single
// anonymous mmap region whose pages are handed out by Allocator. Every
// SimpleAddressSpace in the system shares one Arena, so a shared mapping
// between two address spaces is simply two Mapping entries pointing at the
// same frame.
type Arena struct {
	bytes     []byte
	Allocator *allocator.Bitmap
}

// NewArena reserves size bytes of anonymous memory via mmap and builds a
// frame allocator over it, covering the whole range as RegionAvailable.
func NewArena(size mem.Size) (*Arena, error) {
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}

	bootMap := mem.Map{{PhysAddress: 0, Length: size, Type: mem.RegionAvailable}}
	return &Arena{
		bytes:     buf,
		Allocator: allocator.Init(bootMap),
	}, nil
}

// Close releases the underlying mmap region.
func (a *Arena) Close() error {
	return unix.Munmap(a.bytes)
}

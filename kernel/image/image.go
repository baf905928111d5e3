// Package image defines the boundary between the kernel core and the
// ELF-loader/bootloader collaborator spec.md §1 excludes: everything the
// core needs to create a process, already decoded.
package image

import "nucleus/kernel/mem"

// ProcessImage is the decoded shape of a loaded ELF executable. The kernel
// core never parses ELF itself; it only consumes this interface.
type ProcessImage interface {
	Name() string
	Entrypoint() mem.VirtualAddress
	// KernelCaps returns the raw .kernel_caps section contents, or nil if
	// the image carries none (the process then gets caps.Default()).
	KernelCaps() []uint32
	StackPageCount() uint32
}

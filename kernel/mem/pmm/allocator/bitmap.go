// Package allocator implements the kernel's physical frame allocator: a
// bitmap tracking every physical page as free or occupied, grounded on
// original_source/kernel/src/frame_allocator/i386.rs.
package allocator

import (
	"fmt"

	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/klog"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/sync"
)

var log = klog.For("frame_allocator")

// Bitmap tracks frame reservations across the whole physical address space
// with one bit per frame. Following the original Rust allocator, a set bit
// means the frame is FREE, a cleared bit means it is OCCUPIED — the zero
// value of the backing slice therefore means "everything reserved", which
// is exactly the safe default before Init runs.
type Bitmap struct {
	lock   sync.Spinlock
	words  []uint64
	frames uint32
}

// wordAndMask returns the word index and bitmask for the given frame,
// using the teacher's big-endian bit convention (bit 63 is frame 0 of the
// word).
func wordAndMask(frame pmm.Frame) (int, uint64) {
	word := int(frame >> 6)
	bit := uint(frame) & 63
	return word, uint64(1) << (63 - bit)
}

// Init builds a Bitmap sized to cover every region in bootMap and marks
// RegionAvailable ranges free. Everything else — including the tail of the
// last region rounded up to a whole uint64 word — starts out occupied.
func Init(bootMap mem.Map) *Bitmap {
	var highestFrame pmm.Frame
	for _, r := range bootMap {
		end := pmm.FrameFromAddress(r.PhysAddress + uintptr(r.Length))
		if end > highestFrame {
			highestFrame = end
		}
	}

	frameCount := uint32(highestFrame) + 1
	wordCount := (frameCount + 63) / 64

	b := &Bitmap{
		words:  make([]uint64, wordCount),
		frames: frameCount,
	}

	bootMap.VisitAvailable(func(r mem.Region) bool {
		// Round the start up and the end down: a partially-covered
		// boundary frame is left untouched (occupied) rather than
		// guessed into availability.
		startAddr := (r.PhysAddress + uintptr(mem.PageSize) - 1) &^ uintptr(mem.PageSize-1)
		endAddr := (r.PhysAddress + uintptr(r.Length)) &^ uintptr(mem.PageSize-1)
		start := pmm.FrameFromAddress(startAddr)
		end := pmm.FrameFromAddress(endAddr)
		for f := start; f < end; f++ {
			b.markFree(f)
		}
		return true
	})

	reserved := frameCount - b.freeCountLocked()
	log.WithField("total_frames", frameCount).WithField("reserved_frames", reserved).Info("frame allocator initialized")
	return b
}

func (b *Bitmap) freeCountLocked() uint32 {
	var free uint32
	for _, w := range b.words {
		free += uint32(popcount(w))
	}
	return free
}

func popcount(w uint64) int {
	count := 0
	for w != 0 {
		w &= w - 1
		count++
	}
	return count
}

func (b *Bitmap) isFree(f pmm.Frame) bool {
	word, mask := wordAndMask(f)
	return b.words[word]&mask != 0
}

func (b *Bitmap) markFree(f pmm.Frame) {
	word, mask := wordAndMask(f)
	b.words[word] |= mask
}

func (b *Bitmap) markOccupied(f pmm.Frame) {
	word, mask := wordAndMask(f)
	b.words[word] &^= mask
}

// TotalFrames returns the number of frames tracked by the bitmap.
func (b *Bitmap) TotalFrames() uint32 {
	return b.frames
}

// FreeFrames returns the number of currently free frames.
func (b *Bitmap) FreeFrames() uint32 {
	b.lock.Acquire()
	defer b.lock.Release()
	return b.freeCountLocked()
}

// AllocateRegion allocates a single contiguous run of frames able to hold
// length bytes. It fails with PhysicalMemoryExhaustion if no hole of that
// size exists, without allocating anything partial.
func (b *Bitmap) AllocateRegion(length mem.Size) (pmm.Region, *kernelerror.Error) {
	needed := uint32((length + mem.PageSize - 1) / mem.PageSize)
	if needed == 0 {
		needed = 1
	}

	b.lock.Acquire()
	defer b.lock.Release()

	var runStart pmm.Frame
	runLen := uint32(0)
	for f := pmm.Frame(0); uint32(f) < b.frames; f++ {
		if !b.isFree(f) {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = f
		}
		runLen++
		if runLen == needed {
			for i := uint32(0); i < needed; i++ {
				b.markOccupied(runStart + pmm.Frame(i))
			}
			return pmm.Region{Base: runStart, FrameCount: needed}, nil
		}
	}

	return pmm.Region{}, kernelerror.New(kernelerror.PhysicalMemoryExhaustion,
		"no contiguous region of %d frames available", needed)
}

// AllocateFramesFragmented allocates length bytes worth of frames, possibly
// split across multiple non-contiguous runs. It mirrors the original's
// two-phase approach: frames are marked occupied as they're found (so
// concurrent allocations never double-claim them), and the lock is
// released while appending a finished run to the result so that unrelated
// allocations — including ones needed to grow the very data structure
// collecting these regions — can still make progress. On failure every
// frame already marked occupied by this call is freed before returning.
func (b *Bitmap) AllocateFramesFragmented(length mem.Size) ([]pmm.Region, *kernelerror.Error) {
	needed := uint32((length + mem.PageSize - 1) / mem.PageSize)
	if needed == 0 {
		needed = 1
	}

	var collected []pmm.Region
	remaining := needed

	b.lock.Acquire()

	var runStart pmm.Frame
	runLen := uint32(0)
	f := pmm.Frame(0)
	commitRun := func() {
		if runLen == 0 {
			return
		}
		region := pmm.Region{Base: runStart, FrameCount: runLen}
		remaining -= runLen
		runLen = 0

		b.lock.Release()
		collected = append(collected, region)
		b.lock.Acquire()
	}

	for uint32(f) < b.frames && remaining > 0 {
		if !b.isFree(f) {
			commitRun()
			f++
			continue
		}
		if runLen == 0 {
			runStart = f
		}
		b.markOccupied(f)
		runLen++
		if runLen == remaining {
			break
		}
		f++
	}
	commitRun()
	b.lock.Release()

	if remaining > 0 {
		for _, r := range collected {
			b.FreeRegion(r)
		}
		return nil, kernelerror.New(kernelerror.PhysicalMemoryExhaustion,
			"only found %d/%d frames across all holes", needed-remaining, needed)
	}

	return collected, nil
}

// FreeRegion releases every frame in r back to the free pool. It panics if
// any frame in r is not currently marked occupied — a double-free, like the
// original's check_is_allocated assert in free_region, is a kernel
// invariant violation, not a recoverable error (spec.md §7).
func (b *Bitmap) FreeRegion(r pmm.Region) {
	b.lock.Acquire()
	defer b.lock.Release()

	addr := r.Base.Address()
	length := mem.Size(r.FrameCount) * mem.PageSize
	if !b.checkIsAllocatedLocked(addr, length) {
		panic(fmt.Sprintf("FreeRegion: region (base=%d, frames=%d) being freed was not allocated", r.Base, r.FrameCount))
	}

	for i := uint32(0); i < r.FrameCount; i++ {
		b.markFree(r.Base + pmm.Frame(i))
	}
}

// CheckIsAllocated reports whether every frame covering [addr, addr+length)
// is currently occupied. The range is rounded out to whole pages first,
// matching the original's check_is_allocated.
func (b *Bitmap) CheckIsAllocated(addr uintptr, length mem.Size) bool {
	b.lock.Acquire()
	defer b.lock.Release()
	return b.checkIsAllocatedLocked(addr, length)
}

func (b *Bitmap) checkIsAllocatedLocked(addr uintptr, length mem.Size) bool {
	start := pmm.FrameFromAddress(mem.VirtualAddress(addr).Floor())
	end := pmm.FrameFromAddress(mem.VirtualAddress(addr + uintptr(length)).Ceil())

	for f := start; f < end; f++ {
		if uint32(f) >= b.frames || b.isFree(f) {
			return false
		}
	}
	return true
}

// CheckIsReserved is an alias of CheckIsAllocated: the bitmap carries only
// one bit per frame and has no way to distinguish "allocated" from
// "reserved", exactly as the original implementation notes.
func (b *Bitmap) CheckIsReserved(addr uintptr, length mem.Size) bool {
	return b.CheckIsAllocated(addr, length)
}

// MarkFrameBootstrapAllocated punches a single frame out of the free pool
// on behalf of an external bootstrap step (e.g. frames already committed
// to by the process loader before the allocator took over). It panics if
// the frame was not free, the same invariant violation the original
// enforces with an assert.
func (b *Bitmap) MarkFrameBootstrapAllocated(f pmm.Frame) {
	b.lock.Acquire()
	defer b.lock.Release()
	if !b.isFree(f) {
		panic("MarkFrameBootstrapAllocated: frame already occupied")
	}
	b.markOccupied(f)
}

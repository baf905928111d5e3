package pmm

// Region is a contiguous run of physical frames, the unit returned by a
// fragmented allocation (spec.md §3's PhysicalRegion).
type Region struct {
	Base       Frame
	FrameCount uint32
}

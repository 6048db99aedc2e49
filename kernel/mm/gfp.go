package mm

// GfpMask describes the constraints attached to an allocation request:
// which zone the pages must come from and whether the allocator may refill
// its caches on a miss.
type GfpMask uint32

const (
	// GfpKernel is the standard mask for kernel-internal allocations
	// from the Normal (direct-mapped) zone.
	GfpKernel GfpMask = 1 << iota

	// GfpAtomic requests Normal zone pages but forbids the allocator
	// from refilling slab caches; it must fail rather than wait.
	GfpAtomic

	// GfpNofs requests Normal zone pages for filesystem paths that must
	// not recurse into the filesystem layer.
	GfpNofs

	// GfpNoio requests Normal zone pages without starting I/O.
	GfpNoio

	// GfpNowait requests Normal zone pages without blocking.
	GfpNowait

	// GfpHighuser requests pages from the HighMem zone.
	GfpHighuser

	// GfpDma requests pages suitable for legacy DMA. On this target the
	// mask resolves to the Normal zone.
	GfpDma

	// gfpKnown is the set of all recognized mask bits.
	gfpKnown = GfpKernel | GfpAtomic | GfpNofs | GfpNoio | GfpNowait | GfpHighuser | GfpDma
)

// IsAtomic returns true if the mask forbids the allocator from blocking or
// refilling caches to satisfy the request.
func (m GfpMask) IsAtomic() bool {
	return m&GfpAtomic != 0
}

// IsRecognized returns true if the mask is non-empty and contains only
// known flag bits.
func (m GfpMask) IsRecognized() bool {
	return m != 0 && m & ^gfpKnown == 0
}

// WantsHighMem returns true if the mask selects the HighMem zone.
func (m GfpMask) WantsHighMem() bool {
	return m&GfpHighuser != 0
}

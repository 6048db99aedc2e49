package pmm

import (
	"mentos/kernel"
	"mentos/kernel/mm"
)

var (
	// ErrUnknownGfpMask is returned when an allocation request carries
	// an empty mask or one with unrecognized flag bits.
	ErrUnknownGfpMask = &kernel.Error{Module: "pmm", Message: "unrecognized GFP mask"}

	// ErrNilPage is returned when a free operation receives a nil page.
	ErrNilPage = &kernel.Error{Module: "pmm", Message: "nil page"}

	// ErrPageNotManaged is returned when a page does not belong to any
	// zone of this node.
	ErrPageNotManaged = &kernel.Error{Module: "pmm", Message: "page does not belong to any zone"}

	// ErrNotLowMem is returned when a low-memory operation is invoked
	// with a mask that does not resolve to the Normal zone.
	ErrNotLowMem = &kernel.Error{Module: "pmm", Message: "mask does not resolve to the low memory zone"}
)

// AllocPages reserves a contiguous block of 2^order pages from the zone
// selected by the GFP mask and returns its head page. Every page in the
// block has its reference count set to 1.
func (n *MemoryNode) AllocPages(mask mm.GfpMask, order mm.PageOrder) (*mm.Page, *kernel.Error) {
	zone, err := n.zoneForMask(mask)
	if err != nil {
		return nil, err
	}

	page, err := zone.buddy.Alloc(order)
	if err != nil {
		return nil, err
	}

	zone.freePages = zone.buddy.FreePages()
	return page, nil
}

// FreePages returns the block headed by the given page to its owning
// zone. The owning zone is located by searching the zone descriptor
// ranges; pages outside every zone are rejected.
func (n *MemoryNode) FreePages(page *mm.Page) *kernel.Error {
	if page == nil {
		return ErrNilPage
	}

	zone := n.zoneForPage(page)
	if zone == nil {
		return ErrPageNotManaged
	}

	if err := zone.buddy.Free(page); err != nil {
		return err
	}

	zone.freePages = zone.buddy.FreePages()
	return nil
}

// AllocPagesLowmem reserves a block of 2^order pages from the Normal zone
// and returns the kernel virtual address of its first byte. Masks that do
// not resolve to the low memory zone are rejected.
func (n *MemoryNode) AllocPagesLowmem(mask mm.GfpMask, order mm.PageOrder) (uintptr, *kernel.Error) {
	zone, err := n.zoneForMask(mask)
	if err != nil {
		return 0, err
	}
	if zone != &n.zones[ZoneNormal] {
		return 0, ErrNotLowMem
	}

	page, err := zone.buddy.Alloc(order)
	if err != nil {
		return 0, err
	}
	zone.freePages = zone.buddy.FreePages()

	return n.PageToVirt(page)
}

// FreePagesLowmem resolves the page backing the given low memory virtual
// address and returns its block to the Normal zone.
func (n *MemoryNode) FreePagesLowmem(virtAddr uintptr) *kernel.Error {
	page, err := n.VirtToPage(virtAddr)
	if err != nil {
		return err
	}

	return n.FreePages(page)
}

// AllocPageCached reserves a single page from the zone selected by the
// mask using the buddy's single-page cache fast path.
func (n *MemoryNode) AllocPageCached(mask mm.GfpMask) (*mm.Page, *kernel.Error) {
	zone, err := n.zoneForMask(mask)
	if err != nil {
		return nil, err
	}

	page, err := zone.buddy.AllocCached()
	if err != nil {
		return nil, err
	}

	zone.freePages = zone.buddy.FreePages()
	return page, nil
}

// FreePageCached returns a single page to its owning zone's page cache.
func (n *MemoryNode) FreePageCached(page *mm.Page) *kernel.Error {
	if page == nil {
		return ErrNilPage
	}

	zone := n.zoneForPage(page)
	if zone == nil {
		return ErrPageNotManaged
	}

	if err := zone.buddy.FreeCached(page); err != nil {
		return err
	}

	zone.freePages = zone.buddy.FreePages()
	return nil
}

// ZoneTotalSpace returns the total byte size of the zone selected by the
// given mask.
func (n *MemoryNode) ZoneTotalSpace(mask mm.GfpMask) (mm.Size, *kernel.Error) {
	zone, err := n.zoneForMask(mask)
	if err != nil {
		return 0, err
	}

	return zone.size, nil
}

// ZoneFreeSpace returns the number of free bytes in the zone selected by
// the given mask.
func (n *MemoryNode) ZoneFreeSpace(mask mm.GfpMask) (mm.Size, *kernel.Error) {
	zone, err := n.zoneForMask(mask)
	if err != nil {
		return 0, err
	}

	return mm.Size(zone.buddy.FreePages()) * mm.PageSize, nil
}

// ZoneCachedSpace returns the number of bytes parked in the single-page
// cache of the zone selected by the given mask.
func (n *MemoryNode) ZoneCachedSpace(mask mm.GfpMask) (mm.Size, *kernel.Error) {
	zone, err := n.zoneForMask(mask)
	if err != nil {
		return 0, err
	}

	return mm.Size(zone.buddy.CachedPages()) * mm.PageSize, nil
}

// FormatZoneStatus writes a human-readable description of the selected
// zone's free block counts into buf, bounded by len(buf), and returns the
// number of bytes written.
func (n *MemoryNode) FormatZoneStatus(buf []byte, mask mm.GfpMask) (int, *kernel.Error) {
	zone, err := n.zoneForMask(mask)
	if err != nil {
		return 0, err
	}

	written := copy(buf, "zone "+zone.name+"\n")
	if written < len(buf) {
		written += zone.buddy.DumpFreeAreas(buf[written:])
	}

	return written, nil
}

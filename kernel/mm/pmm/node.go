// Package pmm implements the zone-partitioned physical memory allocator:
// it constructs the page descriptor table (mem_map) from the boot-supplied
// physical memory ranges, carves the managed RAM into zones, each governed
// by a buddy system instance, and provides the alloc_pages/free_pages API
// together with virtual/physical address translation for the kernel
// direct-mapped low memory region.
package pmm

import (
	"unsafe"

	"mentos/kernel"
	"mentos/kernel/kfmt"
	"mentos/kernel/mm"
)

var (
	errBadBootInfo  = &kernel.Error{Module: "pmm", Message: "boot info describes an invalid memory layout"}
	errZoneTooSmall = &kernel.Error{Module: "pmm", Message: "zone too small to hold a maximum-order block"}
	errSelfTest     = &kernel.Error{Module: "pmm", Message: "boot self-test failed to restore zone free space"}

	// bootLog tags all allocator boot output with the subsystem prefix.
	bootLog = &kfmt.PrefixWriter{Sink: kfmt.Output, Prefix: []byte("[pmm] ")}
)

// BootInfo carries the physical memory layout handed over by the boot
// stage: the low (direct-mapped) and high physical RAM ranges and the
// kernel virtual address at which low memory is mapped.
type BootInfo struct {
	LowMemStart uint64
	LowMemEnd   uint64

	HighMemStart uint64
	HighMemEnd   uint64

	// VirtStart is the kernel virtual address of the first byte of low
	// memory. It must keep the same offset from a maximum-order block
	// boundary as LowMemStart so that physically aligned blocks stay
	// aligned in the direct mapping.
	VirtStart uint64
}

// MemoryNode owns the page descriptor table and the fixed set of zones
// carved out of the managed physical RAM. A single node instance is
// constructed by Init at boot; extra instances are only created by tests.
type MemoryNode struct {
	// memMap is the flat page descriptor table, one descriptor per
	// physical frame in [baseFrame, baseFrame+len(memMap)).
	memMap    []mm.Page
	baseFrame mm.Frame

	zones [zoneCount]Zone

	// Page-aligned physical bounds of the direct-mapped low region and
	// of the high region.
	lowStart, lowEnd   uint64
	highStart, highEnd uint64

	// virtStart maps lowStart; the high mapping window follows the low
	// one and is used only for virtual address validation.
	virtStart              uintptr
	highMapStart, highMapEnd uintptr

	// arena backs the direct-mapped low region so that object memory
	// handed out by the allocators can actually be read and written.
	arena []byte

	reservedPages uint32
}

// NewNode constructs a memory node for the RAM layout described by the
// boot info: it places the descriptor table accounting at the start of low
// memory, computes page- and order-aligned zone boundaries, initializes
// each zone's buddy system and verifies the result with a self-test.
func NewNode(bootInfo BootInfo) (*MemoryNode, *kernel.Error) {
	if err := validateBootInfo(bootInfo); err != nil {
		return nil, err
	}

	var (
		node     = &MemoryNode{}
		pageSize = uint64(mm.PageSize)
	)

	// Round the reported ranges inward to page boundaries.
	node.lowStart = alignUp(bootInfo.LowMemStart, pageSize)
	node.lowEnd = alignDown(bootInfo.LowMemEnd, pageSize)
	node.highStart = alignUp(bootInfo.HighMemStart, pageSize)
	node.highEnd = alignDown(bootInfo.HighMemEnd, pageSize)
	node.virtStart = uintptr(bootInfo.VirtStart)
	if node.lowStart >= node.lowEnd || node.highStart < node.lowEnd || node.highEnd < node.highStart {
		return nil, errBadBootInfo
	}

	managedEnd := node.highEnd
	if managedEnd == node.highStart {
		managedEnd = node.lowEnd
	}

	node.baseFrame = mm.Frame(node.lowStart >> mm.PageShift)
	totalFrames := (managedEnd - node.lowStart) >> mm.PageShift
	node.memMap = make([]mm.Page, totalFrames)
	for i := range node.memMap {
		node.memMap[i].Describe(node.baseFrame+mm.Frame(i), ZoneNone)
	}

	// mem_map and the node descriptor occupy the start of low memory;
	// the frames backing them are permanently reserved.
	reservedBytes := totalFrames*uint64(unsafe.Sizeof(mm.Page{})) + uint64(unsafe.Sizeof(MemoryNode{}))
	reservedEnd := alignUp(node.lowStart+reservedBytes, pageSize)
	if reservedEnd >= node.lowEnd {
		return nil, errZoneTooSmall
	}

	// The Normal zone covers low memory above the reserved run; the
	// HighMem zone covers the high range. Both are rounded inward to
	// maximum-order block boundaries.
	orderAlign := uint64(mm.MaxOrderAlign)
	normalStart := alignUp(reservedEnd, orderAlign)
	normalEnd := alignDown(node.lowEnd, orderAlign)
	if normalStart >= normalEnd {
		return nil, errZoneTooSmall
	}

	node.zones[ZoneNormal].init(
		"Normal",
		mm.Frame(normalStart>>mm.PageShift),
		node.sliceFor(normalStart, normalEnd),
		ZoneNormal,
	)

	// A machine without high memory still gets an initialized (empty)
	// HighMem zone so that allocations against it fail cleanly.
	highZoneStart := alignUp(node.highStart, orderAlign)
	highZoneEnd := alignDown(node.highEnd, orderAlign)
	if highZoneStart > highZoneEnd {
		highZoneStart = highZoneEnd
	}
	node.zones[ZoneHighMem].init(
		"HighMem",
		mm.Frame(highZoneStart>>mm.PageShift),
		node.sliceFor(highZoneStart, highZoneEnd),
		ZoneHighMem,
	)

	// Everything not governed by a zone stays out of allocator control.
	for i := range node.memMap {
		if node.memMap[i].ZoneID() == ZoneNone {
			node.memMap[i].MarkReserved()
			node.reservedPages++
		}
	}

	node.arena = make([]byte, node.lowEnd-node.lowStart)
	node.highMapStart = node.virtStart + uintptr(node.lowEnd-node.lowStart)
	node.highMapEnd = node.highMapStart + uintptr(node.highEnd-node.highStart)

	node.printMemoryMap()

	if err := node.selfTest(); err != nil {
		return nil, err
	}

	return node, nil
}

func validateBootInfo(bootInfo BootInfo) *kernel.Error {
	pageSize := uint64(mm.PageSize)
	if bootInfo.VirtStart == 0 || bootInfo.VirtStart%pageSize != 0 {
		return errBadBootInfo
	}
	if (bootInfo.VirtStart-alignUp(bootInfo.LowMemStart, pageSize))%uint64(mm.MaxOrderAlign) != 0 {
		return errBadBootInfo
	}
	if bootInfo.LowMemEnd <= bootInfo.LowMemStart {
		return errBadBootInfo
	}
	if bootInfo.HighMemEnd < bootInfo.HighMemStart || bootInfo.HighMemStart < bootInfo.LowMemEnd {
		return errBadBootInfo
	}

	return nil
}

// sliceFor returns the mem_map slice covering the physical range
// [startAddr, endAddr).
func (n *MemoryNode) sliceFor(startAddr, endAddr uint64) []mm.Page {
	startIdx := mm.Frame(startAddr>>mm.PageShift) - n.baseFrame
	endIdx := mm.Frame(endAddr>>mm.PageShift) - n.baseFrame
	return n.memMap[startIdx:endIdx]
}

// zoneForMask resolves a GFP mask to the zone it selects.
func (n *MemoryNode) zoneForMask(mask mm.GfpMask) (*Zone, *kernel.Error) {
	switch {
	case !mask.IsRecognized():
		return nil, ErrUnknownGfpMask
	case mask.WantsHighMem():
		return &n.zones[ZoneHighMem], nil
	default:
		return &n.zones[ZoneNormal], nil
	}
}

// zoneForPage locates the zone whose descriptor range contains the page.
func (n *MemoryNode) zoneForPage(page *mm.Page) *Zone {
	frame := page.Frame()
	for zoneID := 0; zoneID < int(zoneCount); zoneID++ {
		if zone := &n.zones[zoneID]; zone.contains(frame) {
			return zone
		}
	}

	return nil
}

// printMemoryMap logs the final physical memory layout.
func (n *MemoryNode) printMemoryMap() {
	kfmt.Fprintf(bootLog, "physical memory map:\n")
	kfmt.Fprintf(bootLog, "  low  [0x%08x - 0x%08x] mapped at 0x%08x\n", n.lowStart, n.lowEnd, uint64(n.virtStart))
	kfmt.Fprintf(bootLog, "  high [0x%08x - 0x%08x]\n", n.highStart, n.highEnd)
	for zoneID := 0; zoneID < int(zoneCount); zoneID++ {
		zone := &n.zones[zoneID]
		kfmt.Fprintf(bootLog, "zone %s: %d pages starting at frame %d\n", zone.name, zone.pageCount, uint64(zone.startFrame))
	}
	kfmt.Fprintf(bootLog, "reserved %d boot pages\n", n.reservedPages)
}

// selfTest allocates and frees blocks at several orders in every zone and
// verifies that the zone free space is fully restored.
func (n *MemoryNode) selfTest() *kernel.Error {
	for zoneID := 0; zoneID < int(zoneCount); zoneID++ {
		zone := &n.zones[zoneID]
		if zone.pageCount == 0 {
			continue
		}

		for _, order := range []mm.PageOrder{0, 1, 2, 5} {
			freeBefore := zone.buddy.FreePages()

			page, err := zone.buddy.Alloc(order)
			if err != nil {
				return err
			}
			if err = zone.buddy.Free(page); err != nil {
				return err
			}

			if zone.buddy.FreePages() != freeBefore {
				kfmt.Fprintf(bootLog, "self-test: zone %s order %d leaked pages\n", zone.name, order)
				return errSelfTest
			}
		}

		kfmt.Fprintf(bootLog, "self-test passed for zone %s\n", zone.name)
	}

	return nil
}

func alignUp(v, boundary uint64) uint64 {
	return (v + boundary - 1) & ^(boundary - 1)
}

func alignDown(v, boundary uint64) uint64 {
	return v & ^(boundary - 1)
}

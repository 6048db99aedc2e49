package pmm

import (
	"mentos/kernel"
	"mentos/kernel/mm"
)

var (
	// ErrNotDirectMapped is returned when a virtual address translation
	// is requested for a page outside the direct-mapped low region.
	ErrNotDirectMapped = &kernel.Error{Module: "pmm", Message: "page is not direct-mapped"}

	// ErrBadVirtualAddress is returned when a virtual address falls
	// outside the kernel mapping windows.
	ErrBadVirtualAddress = &kernel.Error{Module: "pmm", Message: "virtual address outside the kernel mapping"}

	// ErrBadPhysicalAddress is returned when a physical address falls
	// outside the managed RAM range.
	ErrBadPhysicalAddress = &kernel.Error{Module: "pmm", Message: "physical address outside managed memory"}
)

// PageToPhys returns the physical address of the first byte of the frame
// described by the given page.
func (n *MemoryNode) PageToPhys(page *mm.Page) (uint64, *kernel.Error) {
	if page == nil {
		return 0, ErrNilPage
	}
	if !n.ownsPage(page) {
		return 0, ErrPageNotManaged
	}

	return uint64(page.Frame().Address()), nil
}

// PhysToPage returns the descriptor of the frame starting at the given
// physical address. The address must be page-aligned.
func (n *MemoryNode) PhysToPage(physAddr uint64) (*mm.Page, *kernel.Error) {
	if physAddr%uint64(mm.PageSize) != 0 {
		return nil, ErrBadPhysicalAddress
	}
	if physAddr < n.lowStart || physAddr >= n.highEnd {
		return nil, ErrBadPhysicalAddress
	}
	if physAddr >= n.lowEnd && physAddr < n.highStart {
		return nil, ErrBadPhysicalAddress
	}

	return &n.memMap[(physAddr-n.lowStart)>>mm.PageShift], nil
}

// PageToVirt returns the kernel virtual address at which the page's frame
// is direct-mapped. Only low memory pages have such a mapping.
func (n *MemoryNode) PageToVirt(page *mm.Page) (uintptr, *kernel.Error) {
	if page == nil {
		return 0, ErrNilPage
	}

	physAddr := uint64(page.Frame().Address())
	if physAddr < n.lowStart || physAddr >= n.lowEnd {
		return 0, ErrNotDirectMapped
	}

	return n.virtStart + uintptr(physAddr-n.lowStart), nil
}

// VirtToPage returns the descriptor of the low memory frame backing the
// given kernel virtual address.
func (n *MemoryNode) VirtToPage(virtAddr uintptr) (*mm.Page, *kernel.Error) {
	lowMapEnd := n.virtStart + uintptr(n.lowEnd-n.lowStart)
	if virtAddr < n.virtStart || virtAddr >= lowMapEnd {
		return nil, ErrBadVirtualAddress
	}

	return &n.memMap[uint64(virtAddr-n.virtStart)>>mm.PageShift], nil
}

// IsValidVirtualAddress reports whether the given address falls inside
// one of the kernel mapping windows.
func (n *MemoryNode) IsValidVirtualAddress(virtAddr uintptr) bool {
	lowMapEnd := n.virtStart + uintptr(n.lowEnd-n.lowStart)
	if virtAddr >= n.virtStart && virtAddr < lowMapEnd {
		return true
	}

	return virtAddr >= n.highMapStart && virtAddr < n.highMapEnd
}

// Slice exposes the memory behind a direct-mapped virtual address range
// as a byte slice.
func (n *MemoryNode) Slice(virtAddr uintptr, size mm.Size) ([]byte, *kernel.Error) {
	lowMapEnd := n.virtStart + uintptr(n.lowEnd-n.lowStart)
	if virtAddr < n.virtStart || virtAddr+uintptr(size) > lowMapEnd {
		return nil, ErrBadVirtualAddress
	}

	offset := virtAddr - n.virtStart
	return n.arena[offset : offset+uintptr(size)], nil
}

// ownsPage reports whether the page descriptor belongs to this node's
// mem_map, zone-governed or not.
func (n *MemoryNode) ownsPage(page *mm.Page) bool {
	frame := page.Frame()
	if frame < n.baseFrame || frame >= n.baseFrame+mm.Frame(len(n.memMap)) {
		return false
	}

	return &n.memMap[frame-n.baseFrame] == page
}

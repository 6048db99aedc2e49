package pmm

import (
	"mentos/kernel"
	"mentos/kernel/mm"
)

var (
	errAlreadyInitialized = &kernel.Error{Module: "pmm", Message: "allocator already initialized"}
	errNotInitialized     = &kernel.Error{Module: "pmm", Message: "allocator not initialized"}

	// activeNode is the memory node constructed at boot. All package
	// level calls operate on it.
	activeNode *MemoryNode
)

// Init constructs the boot memory node from the supplied physical memory
// layout and installs it as the active node. It must be called exactly
// once; a failed call leaves the package uninitialized so it can be
// retried with corrected boot info.
func Init(bootInfo BootInfo) *kernel.Error {
	if activeNode != nil {
		return errAlreadyInitialized
	}

	node, err := NewNode(bootInfo)
	if err != nil {
		return err
	}

	activeNode = node
	return nil
}

// Node returns the active memory node.
func Node() (*MemoryNode, *kernel.Error) {
	if activeNode == nil {
		return nil, errNotInitialized
	}

	return activeNode, nil
}

// AllocPages reserves a block of 2^order pages from the active node.
func AllocPages(mask mm.GfpMask, order mm.PageOrder) (*mm.Page, *kernel.Error) {
	if activeNode == nil {
		return nil, errNotInitialized
	}

	return activeNode.AllocPages(mask, order)
}

// FreePages returns a block to the active node.
func FreePages(page *mm.Page) *kernel.Error {
	if activeNode == nil {
		return errNotInitialized
	}

	return activeNode.FreePages(page)
}

// AllocPagesLowmem reserves a low memory block on the active node and
// returns its kernel virtual address.
func AllocPagesLowmem(mask mm.GfpMask, order mm.PageOrder) (uintptr, *kernel.Error) {
	if activeNode == nil {
		return 0, errNotInitialized
	}

	return activeNode.AllocPagesLowmem(mask, order)
}

// FreePagesLowmem returns the low memory block at the given kernel
// virtual address to the active node.
func FreePagesLowmem(virtAddr uintptr) *kernel.Error {
	if activeNode == nil {
		return errNotInitialized
	}

	return activeNode.FreePagesLowmem(virtAddr)
}

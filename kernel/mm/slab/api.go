package slab

import (
	"mentos/kernel"
	"mentos/kernel/mm"
	"mentos/kernel/mm/pmm"
)

var (
	errNotInitialized     = &kernel.Error{Module: "slab", Message: "heap not initialized"}
	errAlreadyInitialized = &kernel.Error{Module: "slab", Message: "heap already initialized"}

	// activeHeap is the heap constructed at boot. All package level
	// calls operate on it.
	activeHeap *Heap
)

// Init constructs the boot heap over the given memory node and installs
// it as the active heap. It must be called exactly once, after the
// physical memory allocator is up; a failed call leaves the package
// uninitialized.
func Init(node *pmm.MemoryNode) *kernel.Error {
	if activeHeap != nil {
		return errAlreadyInitialized
	}

	heap, err := NewHeap(node)
	if err != nil {
		return err
	}

	activeHeap = heap
	return nil
}

// CacheCreate builds an object cache on the active heap.
func CacheCreate(name string, size, align mm.Size, mask mm.GfpMask, ctor, dtor func([]byte)) (*Cache, *kernel.Error) {
	if activeHeap == nil {
		return nil, errNotInitialized
	}

	return activeHeap.CacheCreate(name, size, align, mask, ctor, dtor)
}

// CacheDestroy tears down a cache created on the active heap.
func CacheDestroy(c *Cache) *kernel.Error {
	if activeHeap == nil {
		return errNotInitialized
	}

	return activeHeap.CacheDestroy(c)
}

// CacheAlloc pops one object off a cache of the active heap.
func CacheAlloc(c *Cache, mask mm.GfpMask) (uintptr, *kernel.Error) {
	if activeHeap == nil {
		return 0, errNotInitialized
	}

	return activeHeap.CacheAlloc(c, mask)
}

// CacheFree returns an object to its owning cache on the active heap.
func CacheFree(objAddr uintptr) *kernel.Error {
	if activeHeap == nil {
		return errNotInitialized
	}

	return activeHeap.CacheFree(objAddr)
}

// Kmalloc reserves kernel memory from the active heap.
func Kmalloc(size mm.Size) (uintptr, *kernel.Error) {
	if activeHeap == nil {
		return 0, errNotInitialized
	}

	return activeHeap.Kmalloc(size)
}

// Kfree releases memory previously returned by Kmalloc.
func Kfree(objAddr uintptr) *kernel.Error {
	if activeHeap == nil {
		return errNotInitialized
	}

	return activeHeap.Kfree(objAddr)
}

package slab

import (
	"fmt"
	"math/bits"

	"mentos/kernel"
	"mentos/kernel/mm"
)

// maxKmallocOrder bounds the power-of-two kmalloc caches: sizes up to
// 2^(maxKmallocOrder-1) bytes are served from caches, anything larger
// falls back to raw page runs.
const maxKmallocOrder = 13

// kmallocOrder returns the index of the smallest power-of-two size class
// that holds size bytes.
func kmallocOrder(size mm.Size) uint {
	return uint(bits.Len64(uint64(size - 1)))
}

func (h *Heap) initKmallocCaches() *kernel.Error {
	for order := 0; order < maxKmallocOrder; order++ {
		objSize := mm.Size(1) << order

		// Power-of-two classes align objects to their own size so that
		// kmalloc returns naturally aligned memory.
		align := objSize
		if align < minObjectAlign {
			align = minObjectAlign
		}

		c, err := h.CacheCreate(fmt.Sprintf("kmalloc-%d", objSize), objSize, align, mm.GfpKernel, nil, nil)
		if err != nil {
			return err
		}
		h.malloc[order] = c
	}

	return nil
}

// Kmalloc reserves size bytes of kernel memory and returns their virtual
// address. Sizes up to the largest kmalloc size class come out of the
// power-of-two caches; larger requests fall back to raw page runs from
// the low memory zone. Power-of-two sizes are naturally aligned.
func (h *Heap) Kmalloc(size mm.Size) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, ErrBadObjectSize
	}

	if order := kmallocOrder(size); order < maxKmallocOrder {
		return h.CacheAlloc(h.malloc[order], mm.GfpKernel)
	}

	return h.node.AllocPagesLowmem(mm.GfpKernel, size.Order())
}

// Kfree releases memory previously returned by Kmalloc. Slab-backed
// objects go back to their cache, raw page runs back to the zone
// allocator.
func (h *Heap) Kfree(objAddr uintptr) *kernel.Error {
	page, err := h.node.VirtToPage(objAddr)
	if err != nil {
		return err
	}

	if page.SlabHead().IsValid() {
		return h.CacheFree(objAddr)
	}

	return h.node.FreePagesLowmem(objAddr)
}


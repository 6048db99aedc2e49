// Package buddy implements the buddy system that manages 2^k-sized page
// blocks for a single zone. Free blocks are kept on per-order lists that
// are threaded through the page descriptor indices; allocation splits
// larger blocks downward and freeing coalesces adjacent buddies upward.
package buddy

import (
	"fmt"

	"mentos/kernel"
	"mentos/kernel/mm"
)

// Errors returned by the buddy system.
var (
	ErrInvalidOrder = &kernel.Error{Module: "buddy", Message: "requested order exceeds the maximum page order"}
	ErrOutOfMemory  = &kernel.Error{Module: "buddy", Message: "out of memory"}
	ErrNilPage      = &kernel.Error{Module: "buddy", Message: "nil page"}
	ErrNotManaged   = &kernel.Error{Module: "buddy", Message: "page is not managed by this buddy instance"}
	ErrDoubleFree   = &kernel.Error{Module: "buddy", Message: "page block is already free"}
)

const (
	// noIndex terminates the intrusive free-list linkage.
	noIndex = int32(-1)

	// pageCacheSize bounds the single-page cache used by the order-0
	// fast path. Frees beyond the bound spill into the regular free
	// path.
	pageCacheSize = 16
)

// System implements a buddy allocator over a contiguous run of page
// descriptors starting at a base frame. The descriptor slice is owned by
// the zone; the System only tracks linkage and free counts for it.
type System struct {
	base  mm.Frame
	pages []mm.Page

	// freeLists holds the head descriptor index for every allocation
	// order; freeCount tracks the number of free blocks per order so
	// that fully empty orders can be skipped without walking lists.
	freeLists [mm.MaxPageOrder]int32
	freeCount [mm.MaxPageOrder]uint32

	// next/prev thread the per-order free lists through local
	// descriptor indices; onList discriminates listed pages from free
	// pages that sit in the single-page cache.
	next, prev []int32
	onList     []bool

	// cache is a bounded LIFO of single free pages.
	cache []mm.Frame

	freePages uint32
}

// Init takes ownership of the given descriptor run, marks every page free
// and seeds the free lists with the largest aligned blocks that fit.
func (s *System) Init(base mm.Frame, pages []mm.Page) {
	n := len(pages)

	s.base = base
	s.pages = pages
	s.next = make([]int32, n)
	s.prev = make([]int32, n)
	s.onList = make([]bool, n)
	s.cache = make([]mm.Frame, 0, pageCacheSize)
	s.freePages = uint32(n)

	for order := range s.freeLists {
		s.freeLists[order] = noIndex
		s.freeCount[order] = 0
	}

	for i := 0; i < n; i++ {
		pages[i].SetState(mm.PageFree)
		pages[i].SetCount(0)
		s.next[i] = noIndex
		s.prev[i] = noIndex
	}

	for idx := int32(0); idx < int32(n); {
		order := s.largestFit(idx, int32(n)-idx)
		s.pages[idx].SetOrder(order)
		s.push(order, idx)
		idx += int32(1) << order
	}
}

// largestFit returns the highest order whose block both fits in the
// remaining page count and starts at an index aligned to its own size.
func (s *System) largestFit(idx, remaining int32) mm.PageOrder {
	order := mm.MaxPageOrder - 1
	for order > 0 {
		blockPages := int32(1) << order
		if blockPages <= remaining && idx&(blockPages-1) == 0 {
			break
		}
		order--
	}

	return order
}

// Alloc reserves a free block of 2^order pages and returns its head page.
// Every page in the returned block has its reference count set to 1.
func (s *System) Alloc(order mm.PageOrder) (*mm.Page, *kernel.Error) {
	if order >= mm.MaxPageOrder {
		return nil, ErrInvalidOrder
	}

	// Find the smallest order with a free block available.
	k := order
	for ; k < mm.MaxPageOrder && s.freeLists[k] == noIndex; k++ {
	}
	if k == mm.MaxPageOrder {
		return nil, ErrOutOfMemory
	}

	idx := s.popHead(k)

	// Split the block downward, keeping the right half of each split on
	// the free list of the next lower order.
	for k > order {
		k--
		buddyIdx := idx + int32(1)<<k
		s.pages[buddyIdx].SetOrder(k)
		s.push(k, buddyIdx)
	}

	blockPages := int32(1) << order
	for i := idx; i < idx+blockPages; i++ {
		s.pages[i].SetState(mm.PageRaw)
		s.pages[i].SetCount(1)
	}

	head := &s.pages[idx]
	head.SetOrder(order)
	s.freePages -= uint32(blockPages)

	return head, nil
}

// Free returns the block headed by the given page to the free lists,
// coalescing it with its buddy at successively higher orders for as long
// as the buddy is also free at the same order.
//
// The order stored in the head page descriptor is authoritative.
func (s *System) Free(head *mm.Page) *kernel.Error {
	if head == nil {
		return ErrNilPage
	}

	idx, err := s.indexOf(head)
	if err != nil {
		return err
	}

	order := head.Order()
	blockPages := int32(1) << order
	if order >= mm.MaxPageOrder || idx+blockPages > int32(len(s.pages)) {
		return ErrNotManaged
	}

	if s.onList[idx] || head.State() == mm.PageFree {
		return ErrDoubleFree
	}

	for i := idx; i < idx+blockPages; i++ {
		s.pages[i].SetState(mm.PageFree)
		s.pages[i].SetCount(0)
	}

	// Coalesce: the buddy of a block at index i and order k lives at
	// i XOR (1<<k). Merging is only possible while the buddy is itself
	// a free block of the same order within this instance.
	k := order
	for k < mm.MaxPageOrder-1 {
		buddyIdx := idx ^ (int32(1) << k)
		if buddyIdx+int32(1)<<k > int32(len(s.pages)) {
			break
		}
		if !s.onList[buddyIdx] || s.pages[buddyIdx].Order() != k {
			break
		}

		s.unlink(k, buddyIdx)
		if buddyIdx < idx {
			idx = buddyIdx
		}
		k++
	}

	s.pages[idx].SetOrder(k)
	s.push(k, idx)
	s.freePages += uint32(blockPages)

	return nil
}

// AllocCached reserves a single page, preferring the page cache over the
// regular order-0 allocation path.
func (s *System) AllocCached() (*mm.Page, *kernel.Error) {
	if n := len(s.cache); n > 0 {
		frame := s.cache[n-1]
		s.cache = s.cache[:n-1]

		page := &s.pages[frame-s.base]
		page.SetOrder(0)
		page.SetState(mm.PageRaw)
		page.SetCount(1)
		return page, nil
	}

	return s.Alloc(0)
}

// FreeCached returns a single page to the page cache. Once the cache is
// full, or if the page heads a multi-page block, the page takes the
// regular free path instead.
func (s *System) FreeCached(page *mm.Page) *kernel.Error {
	if page == nil {
		return ErrNilPage
	}

	idx, err := s.indexOf(page)
	if err != nil {
		return err
	}

	if page.Order() != 0 || len(s.cache) == pageCacheSize {
		return s.Free(page)
	}

	if s.onList[idx] || page.State() == mm.PageFree {
		return ErrDoubleFree
	}

	page.SetState(mm.PageFree)
	page.SetCount(0)
	s.cache = append(s.cache, page.Frame())

	return nil
}

// TotalPages returns the number of pages governed by this instance.
func (s *System) TotalPages() uint32 { return uint32(len(s.pages)) }

// FreePages returns the number of pages currently on the free lists.
// Pages parked in the single-page cache are not included.
func (s *System) FreePages() uint32 { return s.freePages }

// CachedPages returns the number of pages in the single-page cache.
func (s *System) CachedPages() uint32 { return uint32(len(s.cache)) }

// FreeBlocks returns the number of free blocks at the given order.
func (s *System) FreeBlocks(order mm.PageOrder) uint32 {
	if order >= mm.MaxPageOrder {
		return 0
	}
	return s.freeCount[order]
}

// DumpFreeAreas writes a human-readable summary of the per-order free
// block counts into buf and returns the number of bytes written. Output
// that does not fit in buf is truncated.
func (s *System) DumpFreeAreas(buf []byte) int {
	out := fmt.Appendf(nil, "free: %d/%d pages, cached: %d\n", s.freePages, len(s.pages), len(s.cache))
	for order := mm.PageOrder(0); order < mm.MaxPageOrder; order++ {
		out = fmt.Appendf(out, "  order %2d: %4d blocks\n", order, s.freeCount[order])
	}

	return copy(buf, out)
}

// indexOf converts a descriptor pointer into a local index, validating
// that the descriptor really belongs to this instance.
func (s *System) indexOf(page *mm.Page) (int32, *kernel.Error) {
	frame := page.Frame()
	if frame < s.base || frame >= s.base+mm.Frame(len(s.pages)) {
		return 0, ErrNotManaged
	}

	idx := int32(frame - s.base)
	if page != &s.pages[idx] {
		return 0, ErrNotManaged
	}

	return idx, nil
}

func (s *System) push(order mm.PageOrder, idx int32) {
	oldHead := s.freeLists[order]
	s.next[idx] = oldHead
	s.prev[idx] = noIndex
	if oldHead != noIndex {
		s.prev[oldHead] = idx
	}
	s.freeLists[order] = idx
	s.onList[idx] = true
	s.freeCount[order]++
}

func (s *System) popHead(order mm.PageOrder) int32 {
	idx := s.freeLists[order]
	s.unlink(order, idx)
	return idx
}

func (s *System) unlink(order mm.PageOrder, idx int32) {
	if s.prev[idx] != noIndex {
		s.next[s.prev[idx]] = s.next[idx]
	} else {
		s.freeLists[order] = s.next[idx]
	}
	if s.next[idx] != noIndex {
		s.prev[s.next[idx]] = s.prev[idx]
	}

	s.next[idx] = noIndex
	s.prev[idx] = noIndex
	s.onList[idx] = false
	s.freeCount[order]--
}

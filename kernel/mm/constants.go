// Package mm provides the page-frame types shared by the physical memory
// allocators: sizes and orders, frame numbers, GFP masks and the page
// descriptors that make up mem_map.
package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page frame number
	// (shift right by PageShift) and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// MaxPageOrder defines the number of allocation orders supported by
	// the buddy system. Valid orders are 0 to MaxPageOrder-1 so the
	// largest block spans 1<<(MaxPageOrder-1) pages.
	MaxPageOrder = PageOrder(14)

	// MaxOrderAlign is the byte size of a maximum-order buddy block.
	// Zone boundaries are always aligned to this value so that buddy
	// construction sees an integer number of maximum-order blocks.
	MaxOrderAlign = PageSize << (MaxPageOrder - 1)
)

// PageOrder represents a power-of-two multiple of the base page size
// (PageSize) and is used as an argument to page-based memory allocators.
//
// PageOrder(0) refers to a block with size PageSize
// PageOrder(1) refers to a block with size PageSize * 2
// ...
// PageOrder(MaxPageOrder-1) refers to a block with size PageSize * 2^(MaxPageOrder-1)
type PageOrder uint8

package mm

import "sync/atomic"

// PageState describes what a page descriptor currently represents. It is
// the discriminator that disambiguates the slab back-references: only a
// slab head page carries slab metadata while the remaining pages of the
// same slab store the frame of their head page.
type PageState uint8

const (
	// PageFree marks a page that belongs to a buddy free list or to a
	// buddy single-page cache.
	PageFree PageState = iota

	// PageRaw marks a page handed out by the buddy system that is not
	// managed by the slab layer.
	PageRaw

	// PageSlabHead marks the first page of a slab.
	PageSlabHead

	// PageSlabMember marks a non-head page of a multi-page slab. The
	// descriptor stores the frame of the slab's head page.
	PageSlabMember

	// PageIoBuffer marks a page reserved for device I/O.
	PageIoBuffer
)

// String implements fmt.Stringer for PageState.
func (s PageState) String() string {
	switch s {
	case PageFree:
		return "free"
	case PageRaw:
		return "raw"
	case PageSlabHead:
		return "slab-head"
	case PageSlabMember:
		return "slab-member"
	case PageIoBuffer:
		return "io-buffer"
	default:
		return "unknown"
	}
}

// Page is the descriptor for a single physical page frame. One descriptor
// exists per managed frame; descriptors are created once at boot and live
// in the node's mem_map for the lifetime of the kernel.
type Page struct {
	frame    Frame
	zoneID   uint8
	reserved bool
	state    PageState

	// order is the buddy block order stored at the head page of a block.
	// It is authoritative when the block is freed.
	order PageOrder

	// slabHead is the back-reference to the slab head frame. It is only
	// meaningful while state == PageSlabMember.
	slabHead Frame

	// count is the page reference count: 0 = free, 1 = in use, >= 2 =
	// shared. It is manipulated atomically because interrupt handlers
	// (e.g. copy-on-write fault paths) also touch refcounts.
	count int32
}

// Describe stamps the descriptor with its frame number and owning zone.
// It is invoked exactly once per descriptor during boot-time construction.
func (p *Page) Describe(frame Frame, zoneID uint8) {
	p.frame = frame
	p.zoneID = zoneID
	p.state = PageFree
	p.slabHead = InvalidFrame
	p.count = 0
}

// Frame returns the page frame number of this descriptor.
func (p *Page) Frame() Frame { return p.frame }

// ZoneID returns the id of the zone this page belongs to.
func (p *Page) ZoneID() uint8 { return p.zoneID }

// State returns the current descriptor state.
func (p *Page) State() PageState { return p.state }

// SetState updates the descriptor state.
func (p *Page) SetState(s PageState) { p.state = s }

// Order returns the buddy order stored in this descriptor.
func (p *Page) Order() PageOrder { return p.order }

// SetOrder stores the buddy order for the block headed by this page.
func (p *Page) SetOrder(order PageOrder) { p.order = order }

// Reserved returns true for pages that were removed from allocator control
// at boot (e.g. the pages backing mem_map itself).
func (p *Page) Reserved() bool { return p.reserved }

// MarkReserved flags the page as permanently unavailable to the allocators.
func (p *Page) MarkReserved() {
	p.reserved = true
	p.state = PageRaw
	p.SetCount(1)
}

// SetSlabHead marks this page as the head page of a slab.
func (p *Page) SetSlabHead() {
	p.state = PageSlabHead
	p.slabHead = p.frame
}

// SetSlabMember marks this page as a non-head member of the slab headed by
// the given frame.
func (p *Page) SetSlabMember(head Frame) {
	p.state = PageSlabMember
	p.slabHead = head
}

// SlabHead resolves the head frame of the slab this page belongs to. It
// returns InvalidFrame if the page is not part of a slab.
func (p *Page) SlabHead() Frame {
	switch p.state {
	case PageSlabHead, PageSlabMember:
		return p.slabHead
	default:
		return InvalidFrame
	}
}

// Count atomically loads the page reference count.
func (p *Page) Count() int32 {
	return atomic.LoadInt32(&p.count)
}

// SetCount atomically stores the page reference count.
func (p *Page) SetCount(v int32) {
	atomic.StoreInt32(&p.count, v)
}

// SwapCount atomically stores v and returns the previous reference count.
func (p *Page) SwapCount(v int32) int32 {
	return atomic.SwapInt32(&p.count, v)
}

// IncCount atomically increments the reference count and returns the new
// value.
func (p *Page) IncCount() int32 {
	return atomic.AddInt32(&p.count, 1)
}

// DecCount atomically decrements the reference count and returns the new
// value.
func (p *Page) DecCount() int32 {
	return atomic.AddInt32(&p.count, -1)
}

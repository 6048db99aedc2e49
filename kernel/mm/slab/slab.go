// Package slab implements the object cache allocator layered on top of the
// physical memory allocator. Caches hand out fixed-size objects carved out
// of slabs, page runs obtained from the low memory zone. Free objects
// inside a slab are threaded onto an intra-slab freelist stored in the
// first bytes of each free object.
package slab

import (
	"encoding/binary"

	"mentos/kernel"
	"mentos/kernel/kfmt"
	"mentos/kernel/mm"
	"mentos/kernel/mm/pmm"
)

// Errors returned by the slab allocator.
var (
	ErrNilCache        = &kernel.Error{Module: "slab", Message: "nil cache"}
	ErrBadObjectSize   = &kernel.Error{Module: "slab", Message: "invalid object size"}
	ErrObjectTooLarge  = &kernel.Error{Module: "slab", Message: "object does not fit in a maximum-order block"}
	ErrHighMemCache    = &kernel.Error{Module: "slab", Message: "caches must allocate from the low memory zone"}
	ErrAtomicRefill    = &kernel.Error{Module: "slab", Message: "atomic allocation would require a cache refill"}
	ErrNotSlabMemory   = &kernel.Error{Module: "slab", Message: "address does not resolve to a slab object"}
	ErrBadObjectOffset = &kernel.Error{Module: "slab", Message: "address is not on an object boundary"}
	ErrObjectNotInUse  = &kernel.Error{Module: "slab", Message: "object is already free"}
)

// slabLog tags allocator diagnostics with the subsystem prefix.
var slabLog = &kfmt.PrefixWriter{Sink: kfmt.Output, Prefix: []byte("[slab] ")}

const (
	// freelistEnd terminates the intra-slab freelist.
	freelistEnd = ^uint32(0)

	// linkSize is the per-object overhead: the first bytes of every free
	// object hold the freelist link to the next free object's index.
	linkSize = 4

	// minObjectAlign is the smallest alignment a cache will honor.
	minObjectAlign = mm.Size(8)

	// refillObjects caps the number of objects a single refill may add.
	refillObjects = 64

	// prepopulateObjects is the free object target a new cache grows to.
	prepopulateObjects = 8
)

// slab tracks one page run carved into objects. The descriptor lives on
// the heap's slab index, keyed by the run's head frame; the head and
// member page descriptors carry the back-references that let a raw address
// be resolved to its slab.
type slab struct {
	cache      *Cache
	next, prev *slab

	headFrame mm.Frame
	virtAddr  uintptr

	capacity uint32
	inUse    uint32

	// freeHead indexes the first free object, freelistEnd when full.
	freeHead uint32
}

// slabList is a doubly-linked list of slabs within one cache.
type slabList struct {
	head  *slab
	count uint32
}

func (l *slabList) insert(s *slab) {
	s.prev = nil
	s.next = l.head
	if l.head != nil {
		l.head.prev = s
	}
	l.head = s
	l.count++
}

func (l *slabList) remove(s *slab) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	s.next, s.prev = nil, nil
	l.count--
}

// Cache hands out fixed-size objects. Slabs migrate between the three
// lists as their free object counts change: a slab is always on exactly
// one of slabsFull, slabsPartial or slabsFree.
type Cache struct {
	name string

	// objSize is the caller-requested size; slotSize is the aligned
	// per-object slot actually carved out of slabs.
	objSize  mm.Size
	slotSize mm.Size

	mask     mm.GfpMask
	gfpOrder mm.PageOrder
	perSlab  uint32

	ctor, dtor func([]byte)

	slabsFull    slabList
	slabsPartial slabList
	slabsFree    slabList

	// free and total count objects across all slabs of this cache.
	free  uint32
	total uint32

	next, prev *Cache
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// ObjectSize returns the caller-requested object size.
func (c *Cache) ObjectSize() mm.Size { return c.objSize }

// SlotSize returns the aligned per-object slot size.
func (c *Cache) SlotSize() mm.Size { return c.slotSize }

// FreeObjects returns the number of free objects across all slabs.
func (c *Cache) FreeObjects() uint32 { return c.free }

// TotalObjects returns the number of objects across all slabs.
func (c *Cache) TotalObjects() uint32 { return c.total }

// Heap owns the object caches built on top of one memory node: the global
// cache list, the slab index keyed by head frame and the power-of-two
// kmalloc caches.
type Heap struct {
	node *pmm.MemoryNode

	// caches is the global cache list; slabs resolves a slab head frame
	// to its slab descriptor.
	caches *Cache
	slabs  map[mm.Frame]*slab

	malloc [maxKmallocOrder]*Cache
}

// NewHeap constructs an object cache heap over the given memory node and
// creates the power-of-two kmalloc caches.
func NewHeap(node *pmm.MemoryNode) (*Heap, *kernel.Error) {
	h := &Heap{
		node:  node,
		slabs: make(map[mm.Frame]*slab),
	}

	if err := h.initKmallocCaches(); err != nil {
		return nil, err
	}

	return h, nil
}

// CacheCreate builds a cache of fixed-size objects and installs it on the
// global cache list. The object size is padded to the freelist link size
// and rounded up to the requested alignment. The optional constructor runs
// on every object handed out and the destructor on every object freed.
func (h *Heap) CacheCreate(name string, size, align mm.Size, mask mm.GfpMask, ctor, dtor func([]byte)) (*Cache, *kernel.Error) {
	if size == 0 {
		return nil, ErrBadObjectSize
	}
	if mask == 0 {
		mask = mm.GfpKernel
	}
	if !mask.IsRecognized() {
		return nil, pmm.ErrUnknownGfpMask
	}
	if mask.WantsHighMem() {
		return nil, ErrHighMemCache
	}

	if align < minObjectAlign {
		align = minObjectAlign
	}
	slotSize := size
	if slotSize < linkSize {
		slotSize = linkSize
	}
	slotSize = (slotSize + align - 1) &^ (align - 1)

	// The smallest page run whose payload holds at least one object.
	gfpOrder := slotSize.Order()
	if gfpOrder >= mm.MaxPageOrder {
		return nil, ErrObjectTooLarge
	}

	perSlab := uint32((mm.PageSize << gfpOrder) / slotSize)
	if perSlab > refillObjects {
		perSlab = refillObjects
	}

	c := &Cache{
		name:     name,
		objSize:  size,
		slotSize: slotSize,
		mask:     mask,
		gfpOrder: gfpOrder,
		perSlab:  perSlab,
		ctor:     ctor,
		dtor:     dtor,
	}

	for c.free < prepopulateObjects {
		if err := h.grow(c, mask); err != nil {
			h.releaseSlabs(c)
			return nil, err
		}
	}

	c.next = h.caches
	if h.caches != nil {
		h.caches.prev = c
	}
	h.caches = c

	return c, nil
}

// CacheDestroy returns every slab of the cache to the zone allocator and
// unlinks the cache from the global cache list. Objects still in use are
// torn down with the rest of their slabs.
func (h *Heap) CacheDestroy(c *Cache) *kernel.Error {
	if c == nil {
		return ErrNilCache
	}

	if c.slabsFull.count != 0 || c.slabsPartial.count != 0 {
		kfmt.Fprintf(slabLog, "destroying cache %s with %d objects still in use\n", c.name, c.total-c.free)
	}

	if err := h.releaseSlabs(c); err != nil {
		return err
	}

	if c.prev != nil {
		c.prev.next = c.next
	} else if h.caches == c {
		h.caches = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	}
	c.next, c.prev = nil, nil

	return nil
}

// CacheAlloc pops one object off the cache and returns its kernel virtual
// address. A zero mask falls back to the mask the cache was created with.
// Atomic requests never refill; they fail once the cache runs dry.
func (h *Heap) CacheAlloc(c *Cache, mask mm.GfpMask) (uintptr, *kernel.Error) {
	if c == nil {
		return 0, ErrNilCache
	}
	if mask == 0 {
		mask = c.mask
	}
	if !mask.IsRecognized() {
		return 0, pmm.ErrUnknownGfpMask
	}

	if c.slabsPartial.head == nil {
		if c.slabsFree.head == nil {
			if mask.IsAtomic() {
				return 0, ErrAtomicRefill
			}
			if err := h.grow(c, mask); err != nil {
				return 0, err
			}
		}

		s := c.slabsFree.head
		c.slabsFree.remove(s)
		c.slabsPartial.insert(s)
	}

	s := c.slabsPartial.head
	objIndex := s.freeHead

	buf, err := h.objectSlot(s, objIndex)
	if err != nil {
		return 0, err
	}

	s.freeHead = binary.LittleEndian.Uint32(buf)
	s.inUse++
	c.free--

	if s.inUse == s.capacity {
		c.slabsPartial.remove(s)
		c.slabsFull.insert(s)
	}

	if c.ctor != nil {
		c.ctor(buf[:c.objSize])
	}

	return s.virtAddr + uintptr(objIndex)*uintptr(c.slotSize), nil
}

// CacheFree returns the object at the given address to its owning cache.
// The owning slab is recovered from the page descriptors backing the
// address: the head page resolves directly, member pages through their
// head back-reference.
func (h *Heap) CacheFree(objAddr uintptr) *kernel.Error {
	s, err := h.slabFor(objAddr)
	if err != nil {
		return err
	}

	offset := objAddr - s.virtAddr
	if offset%uintptr(s.cache.slotSize) != 0 {
		return ErrBadObjectOffset
	}
	objIndex := uint32(offset / uintptr(s.cache.slotSize))
	if objIndex >= s.capacity {
		return ErrBadObjectOffset
	}

	// A double free would thread the object onto the freelist twice and
	// push the counters past their bounds. The freelist holds at most
	// refillObjects entries, so walking it is cheap.
	if s.inUse == 0 {
		return ErrObjectNotInUse
	}
	for cur := s.freeHead; cur != freelistEnd; {
		if cur == objIndex {
			return ErrObjectNotInUse
		}

		slot, err := h.objectSlot(s, cur)
		if err != nil {
			return err
		}
		cur = binary.LittleEndian.Uint32(slot)
	}

	buf, err := h.objectSlot(s, objIndex)
	if err != nil {
		return err
	}

	c := s.cache
	if c.dtor != nil {
		c.dtor(buf[:c.objSize])
	}

	wasFull := s.inUse == s.capacity

	binary.LittleEndian.PutUint32(buf, s.freeHead)
	s.freeHead = objIndex
	s.inUse--
	c.free++

	switch {
	case wasFull && s.inUse == 0:
		c.slabsFull.remove(s)
		c.slabsFree.insert(s)
	case wasFull:
		c.slabsFull.remove(s)
		c.slabsPartial.insert(s)
	case s.inUse == 0:
		c.slabsPartial.remove(s)
		c.slabsFree.insert(s)
	}

	return nil
}

// grow adds one slab to the cache: it reserves a page run from the low
// memory zone, stamps the backing page descriptors with the slab head
// back-references and threads every object onto the slab freelist.
func (h *Heap) grow(c *Cache, mask mm.GfpMask) *kernel.Error {
	virtAddr, err := h.node.AllocPagesLowmem(mask, c.gfpOrder)
	if err != nil {
		return err
	}

	head, err := h.node.VirtToPage(virtAddr)
	if err != nil {
		return err
	}

	head.SetSlabHead()
	blockPages := uint32(1) << c.gfpOrder
	for i := uint32(1); i < blockPages; i++ {
		member, err := h.node.VirtToPage(virtAddr + uintptr(i)*uintptr(mm.PageSize))
		if err != nil {
			return err
		}
		member.SetSlabMember(head.Frame())
	}

	s := &slab{
		cache:     c,
		headFrame: head.Frame(),
		virtAddr:  virtAddr,
		capacity:  c.perSlab,
		freeHead:  0,
	}

	buf, err := h.node.Slice(virtAddr, mm.Size(s.capacity)*c.slotSize)
	if err != nil {
		return err
	}
	for i := uint32(0); i < s.capacity; i++ {
		next := i + 1
		if next == s.capacity {
			next = freelistEnd
		}
		binary.LittleEndian.PutUint32(buf[mm.Size(i)*c.slotSize:], next)
	}

	h.slabs[s.headFrame] = s
	c.slabsFree.insert(s)
	c.free += s.capacity
	c.total += s.capacity

	return nil
}

// releaseSlabs returns every slab of the cache to the zone allocator.
func (h *Heap) releaseSlabs(c *Cache) *kernel.Error {
	for _, l := range []*slabList{&c.slabsFree, &c.slabsPartial, &c.slabsFull} {
		for l.head != nil {
			s := l.head
			l.remove(s)
			delete(h.slabs, s.headFrame)

			if err := h.node.FreePagesLowmem(s.virtAddr); err != nil {
				return err
			}
		}
	}

	c.free, c.total = 0, 0
	return nil
}

// slabFor resolves the slab that owns the given object address.
func (h *Heap) slabFor(objAddr uintptr) (*slab, *kernel.Error) {
	page, err := h.node.VirtToPage(objAddr)
	if err != nil {
		return nil, err
	}

	headFrame := page.SlabHead()
	if !headFrame.IsValid() {
		return nil, ErrNotSlabMemory
	}

	s := h.slabs[headFrame]
	if s == nil {
		return nil, ErrNotSlabMemory
	}

	return s, nil
}

// objectSlot exposes the memory behind one object slot.
func (h *Heap) objectSlot(s *slab, objIndex uint32) ([]byte, *kernel.Error) {
	return h.node.Slice(s.virtAddr+uintptr(objIndex)*uintptr(s.cache.slotSize), s.cache.slotSize)
}

package pmm

import (
	"mentos/kernel/mm"
	"mentos/kernel/mm/buddy"
)

// Zone ids. Each managed page descriptor is stamped with the id of the
// zone that governs it; ZoneNone marks descriptors outside allocator
// control (reserved boot structures and alignment slack).
const (
	ZoneNormal uint8 = iota
	ZoneHighMem
	zoneCount

	ZoneNone = uint8(0xff)
)

// Zone describes a named, contiguous range of physical pages governed by
// its own buddy system instance. Zones never overlap.
type Zone struct {
	name       string
	startFrame mm.Frame
	pageCount  uint32
	size       mm.Size

	// pages is the slice of the node's mem_map governed by this zone.
	pages []mm.Page

	// freePages mirrors the buddy instance's free page count after
	// every allocation and free.
	freePages uint32

	buddy buddy.System
}

func (z *Zone) init(name string, startFrame mm.Frame, pages []mm.Page, zoneID uint8) {
	z.name = name
	z.startFrame = startFrame
	z.pageCount = uint32(len(pages))
	z.size = mm.Size(len(pages)) * mm.PageSize
	z.pages = pages

	for i := range pages {
		pages[i].Describe(startFrame+mm.Frame(i), zoneID)
	}

	z.buddy.Init(startFrame, pages)
	z.freePages = z.buddy.FreePages()
}

// Name returns the zone name.
func (z *Zone) Name() string { return z.name }

// StartFrame returns the first frame governed by this zone.
func (z *Zone) StartFrame() mm.Frame { return z.startFrame }

// PageCount returns the number of frames governed by this zone.
func (z *Zone) PageCount() uint32 { return z.pageCount }

// FreePages returns the zone's running free page count.
func (z *Zone) FreePages() uint32 { return z.freePages }

// contains reports whether the given frame belongs to this zone's
// descriptor range.
func (z *Zone) contains(frame mm.Frame) bool {
	return frame >= z.startFrame && frame < z.startFrame+mm.Frame(z.pageCount)
}

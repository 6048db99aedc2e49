package buddy

import (
	"bytes"
	"math/rand"
	"testing"

	"mentos/kernel/mm"
)

// newTestSystem builds a buddy instance over a fresh descriptor run of
// pageCount pages starting at the given base frame.
func newTestSystem(base mm.Frame, pageCount int) (*System, []mm.Page) {
	pages := make([]mm.Page, pageCount)
	for i := range pages {
		pages[i].Describe(base+mm.Frame(i), 0)
	}

	var sys System
	sys.Init(base, pages)
	return &sys, pages
}

func TestInitSeedsLargestAlignedBlocks(t *testing.T) {
	specs := []struct {
		pageCount    int
		expFreeCount map[mm.PageOrder]uint32
	}{
		// A single maximum-order block.
		{8192, map[mm.PageOrder]uint32{13: 1}},
		// Two maximum-order blocks.
		{16384, map[mm.PageOrder]uint32{13: 2}},
		// 12 pages seed one order-3 and one order-2 block.
		{12, map[mm.PageOrder]uint32{3: 1, 2: 1}},
	}

	for specIndex, spec := range specs {
		sys, _ := newTestSystem(0, spec.pageCount)

		if got := sys.FreePages(); got != uint32(spec.pageCount) {
			t.Errorf("[spec %d] expected %d free pages after init; got %d", specIndex, spec.pageCount, got)
		}

		for order := mm.PageOrder(0); order < mm.MaxPageOrder; order++ {
			if exp, got := spec.expFreeCount[order], sys.FreeBlocks(order); got != exp {
				t.Errorf("[spec %d] expected %d free blocks at order %d; got %d", specIndex, exp, order, got)
			}
		}
	}
}

func TestAllocSplitsDownward(t *testing.T) {
	sys, pages := newTestSystem(0x8000, 8192)

	head, err := sys.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}

	// Splitting the single maximum-order block down to order 0 leaves
	// one free block on every order below the maximum.
	if head != &pages[0] {
		t.Fatal("expected the first allocation to return the lowest-indexed page")
	}

	for order := mm.PageOrder(0); order < mm.MaxPageOrder-1; order++ {
		if got := sys.FreeBlocks(order); got != 1 {
			t.Errorf("expected 1 free block at order %d after the split; got %d", order, got)
		}
	}

	if got := sys.FreePages(); got != 8191 {
		t.Fatalf("expected 8191 free pages; got %d", got)
	}

	if got := head.Count(); got != 1 {
		t.Fatalf("expected the allocated page refcount to be 1; got %d", got)
	}
}

func TestAllocSetsRefcountForEveryPageInBlock(t *testing.T) {
	sys, pages := newTestSystem(0, 8192)

	head, err := sys.Alloc(3)
	if err != nil {
		t.Fatal(err)
	}

	idx := int(head.Frame())
	if idx%8 != 0 {
		t.Fatalf("expected an order-3 block to start at an 8-page aligned index; got %d", idx)
	}

	for i := 0; i < 8; i++ {
		if got := pages[idx+i].Count(); got != 1 {
			t.Errorf("expected page %d of the block to have refcount 1; got %d", i, got)
		}
		if got := pages[idx+i].State(); got != mm.PageRaw {
			t.Errorf("expected page %d of the block to be %s; got %s", i, mm.PageRaw, got)
		}
	}
}

func TestFreeCoalescesBackToMaxOrder(t *testing.T) {
	sys, _ := newTestSystem(0, 8192)

	var heads []*mm.Page
	for i := 0; i < 8; i++ {
		head, err := sys.Alloc(0)
		if err != nil {
			t.Fatal(err)
		}
		heads = append(heads, head)
	}

	rand.Shuffle(len(heads), func(i, j int) { heads[i], heads[j] = heads[j], heads[i] })
	for _, head := range heads {
		if err := sys.Free(head); err != nil {
			t.Fatal(err)
		}
	}

	if got := sys.FreePages(); got != 8192 {
		t.Fatalf("expected all pages to be free again; got %d", got)
	}

	if got := sys.FreeBlocks(mm.MaxPageOrder - 1); got != 1 {
		t.Fatalf("expected the freed pages to coalesce into a single maximum-order block; got %d blocks", got)
	}

	for _, head := range heads {
		if got := head.Count(); got != 0 {
			t.Fatalf("expected freed page refcount to be 0; got %d", got)
		}
	}
}

func TestFreeUsesStoredOrder(t *testing.T) {
	sys, _ := newTestSystem(0, 8192)

	head, err := sys.Alloc(2)
	if err != nil {
		t.Fatal(err)
	}

	before := sys.FreePages()
	if err := sys.Free(head); err != nil {
		t.Fatal(err)
	}

	if got := sys.FreePages(); got != before+4 {
		t.Fatalf("expected the free to restore 1<<2 pages; got delta %d", got-before)
	}
}

func TestFreeErrors(t *testing.T) {
	sys, _ := newTestSystem(0, 64)

	t.Run("nil page", func(t *testing.T) {
		if err := sys.Free(nil); err != ErrNilPage {
			t.Fatalf("expected ErrNilPage; got %v", err)
		}
	})

	t.Run("foreign page", func(t *testing.T) {
		var foreign mm.Page
		foreign.Describe(mm.Frame(4096), 0)

		if err := sys.Free(&foreign); err != ErrNotManaged {
			t.Fatalf("expected ErrNotManaged; got %v", err)
		}
	})

	t.Run("double free keeps counters consistent", func(t *testing.T) {
		head, err := sys.Alloc(1)
		if err != nil {
			t.Fatal(err)
		}

		if err = sys.Free(head); err != nil {
			t.Fatal(err)
		}
		before := sys.FreePages()

		if err = sys.Free(head); err != ErrDoubleFree {
			t.Fatalf("expected ErrDoubleFree; got %v", err)
		}

		if got := sys.FreePages(); got < before {
			t.Fatalf("expected free pages after a rejected double free to be >= %d; got %d", before, got)
		}
	})
}

func TestAllocFailures(t *testing.T) {
	sys, _ := newTestSystem(0, 4)

	if _, err := sys.Alloc(mm.MaxPageOrder); err != ErrInvalidOrder {
		t.Fatalf("expected ErrInvalidOrder for order %d; got %v", mm.MaxPageOrder, err)
	}

	// Only an order-2 block exists; anything larger must fail without
	// touching the free lists.
	before := sys.FreePages()
	if _, err := sys.Alloc(3); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory for an uncoalescible order; got %v", err)
	}
	if got := sys.FreePages(); got != before {
		t.Fatalf("expected free pages to be unchanged after a failed alloc; got %d, want %d", got, before)
	}

	if _, err := sys.Alloc(2); err != nil {
		t.Fatal(err)
	}
	if _, err := sys.Alloc(0); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory once all pages are allocated; got %v", err)
	}
}

func TestSinglePageCache(t *testing.T) {
	sys, _ := newTestSystem(0, 64)

	var heads []*mm.Page
	for i := 0; i < pageCacheSize+1; i++ {
		head, err := sys.AllocCached()
		if err != nil {
			t.Fatal(err)
		}
		heads = append(heads, head)
	}

	freeAfterAllocs := sys.FreePages()

	for _, head := range heads {
		if err := sys.FreeCached(head); err != nil {
			t.Fatal(err)
		}
	}

	if got := sys.CachedPages(); got != pageCacheSize {
		t.Fatalf("expected the page cache to hold %d pages; got %d", pageCacheSize, got)
	}

	// Exactly one page spilled past the cache bound into the free path.
	if got := sys.FreePages(); got != freeAfterAllocs+1 {
		t.Fatalf("expected one page to spill to the free lists; got %d free pages, want %d", got, freeAfterAllocs+1)
	}

	// Cached pages are reused before new blocks are split.
	head, err := sys.AllocCached()
	if err != nil {
		t.Fatal(err)
	}
	if got := sys.CachedPages(); got != pageCacheSize-1 {
		t.Fatalf("expected AllocCached to pop the cache; got %d cached pages", got)
	}
	if got := head.Count(); got != 1 {
		t.Fatalf("expected the cached allocation refcount to be 1; got %d", got)
	}

	t.Run("double free of a cached page", func(t *testing.T) {
		if err := sys.FreeCached(head); err != nil {
			t.Fatal(err)
		}
		if err := sys.FreeCached(head); err != ErrDoubleFree {
			t.Fatalf("expected ErrDoubleFree; got %v", err)
		}
	})
}

func TestCachedPageBlocksStayOutOfCoalescing(t *testing.T) {
	sys, _ := newTestSystem(0, 64)

	// Allocate two order-0 buddies, park one in the cache, free the
	// other. The freed page cannot merge with its cached buddy.
	a, err := sys.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := sys.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}

	if err = sys.FreeCached(a); err != nil {
		t.Fatal(err)
	}
	if err = sys.Free(b); err != nil {
		t.Fatal(err)
	}

	if got := sys.FreeBlocks(1); got != 0 {
		t.Fatalf("expected no order-1 block to form while the buddy is cached; got %d", got)
	}
}

func TestDumpFreeAreas(t *testing.T) {
	sys, _ := newTestSystem(0, 8192)

	var buf [512]byte
	n := sys.DumpFreeAreas(buf[:])
	if n == 0 {
		t.Fatal("expected DumpFreeAreas to produce output")
	}

	if !bytes.Contains(buf[:n], []byte("free: 8192/8192 pages")) {
		t.Fatalf("expected the dump to contain the free page summary; got %q", buf[:n])
	}

	// A short buffer bounds the output.
	var short [8]byte
	if n = sys.DumpFreeAreas(short[:]); n != len(short) {
		t.Fatalf("expected a short buffer to truncate the dump to %d bytes; got %d", len(short), n)
	}
}

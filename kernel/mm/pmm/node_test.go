package pmm

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"mentos/kernel/kfmt"
	"mentos/kernel/mm"
)

func testBootInfo() BootInfo {
	return BootInfo{
		LowMemStart:  0,
		LowMemEnd:    uint64(128 * mm.Mb),
		HighMemStart: uint64(128 * mm.Mb),
		HighMemEnd:   uint64(192 * mm.Mb),
		VirtStart:    0xC0000000,
	}
}

func newTestNode(t *testing.T) *MemoryNode {
	t.Helper()

	node, err := NewNode(testBootInfo())
	if err != nil {
		t.Fatalf("NewNode returned error: %v", err)
	}

	return node
}

func TestNodeBootLayout(t *testing.T) {
	node := newTestNode(t)

	// 192M of managed RAM with low memory below 128M. The descriptor
	// table reservation pushes the Normal zone start up to the next
	// maximum-order boundary.
	specs := []struct {
		zoneID     uint8
		name       string
		startFrame mm.Frame
		pageCount  uint32
	}{
		{ZoneNormal, "Normal", mm.Frame(uint64(32*mm.Mb) >> mm.PageShift), uint32(uint64(96*mm.Mb) >> mm.PageShift)},
		{ZoneHighMem, "HighMem", mm.Frame(uint64(128*mm.Mb) >> mm.PageShift), uint32(uint64(64*mm.Mb) >> mm.PageShift)},
	}

	for specIndex, spec := range specs {
		zone := &node.zones[spec.zoneID]
		if zone.Name() != spec.name {
			t.Errorf("[spec %d] expected zone name %q; got %q", specIndex, spec.name, zone.Name())
		}
		if zone.StartFrame() != spec.startFrame {
			t.Errorf("[spec %d] expected zone start frame %d; got %d", specIndex, spec.startFrame, zone.StartFrame())
		}
		if zone.PageCount() != spec.pageCount {
			t.Errorf("[spec %d] expected zone page count %d; got %d", specIndex, spec.pageCount, zone.PageCount())
		}
		if zone.FreePages() != spec.pageCount {
			t.Errorf("[spec %d] expected a fully free zone (%d pages); got %d", specIndex, spec.pageCount, zone.FreePages())
		}
	}

	normal, high := &node.zones[ZoneNormal], &node.zones[ZoneHighMem]
	if end := normal.StartFrame() + mm.Frame(normal.PageCount()); end > high.StartFrame() {
		t.Errorf("expected zones to be disjoint; Normal ends at frame %d, HighMem starts at frame %d", end, high.StartFrame())
	}

	expReserved := uint32(len(node.memMap)) - normal.PageCount() - high.PageCount()
	if node.reservedPages != expReserved {
		t.Errorf("expected %d reserved pages; got %d", expReserved, node.reservedPages)
	}

	for i := range node.memMap {
		page := &node.memMap[i]
		if page.ZoneID() != ZoneNone {
			continue
		}
		if !page.Reserved() {
			t.Errorf("expected page for frame %d outside all zones to be reserved", page.Frame())
		}
		if page.Count() == 0 {
			t.Errorf("expected reserved page for frame %d to hold a reference", page.Frame())
		}
	}
}

func TestNodeBootInfoValidation(t *testing.T) {
	specs := []struct {
		descr    string
		mutate   func(*BootInfo)
		expError error
	}{
		{
			"zero virtual start",
			func(bi *BootInfo) { bi.VirtStart = 0 },
			errBadBootInfo,
		},
		{
			"unaligned virtual start",
			func(bi *BootInfo) { bi.VirtStart = 0xC0000123 },
			errBadBootInfo,
		},
		{
			"virtual start off a maximum-order block boundary",
			func(bi *BootInfo) { bi.VirtStart = 0xC0001000 },
			errBadBootInfo,
		},
		{
			"empty low memory range",
			func(bi *BootInfo) { bi.LowMemEnd = bi.LowMemStart },
			errBadBootInfo,
		},
		{
			"high memory overlapping low memory",
			func(bi *BootInfo) { bi.HighMemStart = bi.LowMemEnd - uint64(mm.PageSize) },
			errBadBootInfo,
		},
		{
			"inverted high memory range",
			func(bi *BootInfo) { bi.HighMemEnd = bi.HighMemStart - uint64(mm.PageSize) },
			errBadBootInfo,
		},
		{
			"low memory too small for a zone",
			func(bi *BootInfo) {
				bi.LowMemEnd = uint64(16 * mm.Mb)
				bi.HighMemStart = bi.LowMemEnd
				bi.HighMemEnd = bi.LowMemEnd
			},
			errZoneTooSmall,
		},
	}

	for specIndex, spec := range specs {
		bootInfo := testBootInfo()
		spec.mutate(&bootInfo)

		if _, err := NewNode(bootInfo); err != spec.expError {
			t.Errorf("[spec %d] %s: expected error %v; got %v", specIndex, spec.descr, spec.expError, err)
		}
	}
}

func TestNodeBootLogPrefix(t *testing.T) {
	// Drain any output buffered by earlier tests before capturing.
	kfmt.SetOutputSink(io.Discard)

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	newTestNode(t)

	output := buf.String()
	if !strings.Contains(output, "[pmm] physical memory map:") {
		t.Fatalf("expected boot output to contain the memory map header; got:\n%s", output)
	}

	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if !strings.HasPrefix(line, "[pmm] ") {
			t.Errorf("expected boot output line to carry the subsystem prefix; got %q", line)
		}
	}
}

func TestNodeWithoutHighMemory(t *testing.T) {
	bootInfo := testBootInfo()
	bootInfo.HighMemStart = bootInfo.LowMemEnd
	bootInfo.HighMemEnd = bootInfo.LowMemEnd

	node, err := NewNode(bootInfo)
	if err != nil {
		t.Fatalf("NewNode returned error: %v", err)
	}

	high := &node.zones[ZoneHighMem]
	if high.Name() != "HighMem" || high.PageCount() != 0 {
		t.Fatalf("expected an empty HighMem zone; got %q with %d pages", high.Name(), high.PageCount())
	}

	if _, err = node.AllocPages(mm.GfpHighuser, 0); err == nil {
		t.Fatal("expected an allocation from an empty zone to fail")
	}
}

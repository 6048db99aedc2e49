// Package multiboot provides access to the multiboot2 information block
// handed over by the bootloader and derives the physical memory layout
// that seeds the memory allocator.
package multiboot

import (
	"encoding/binary"
	"strings"

	"mentos/kernel"
	"mentos/kernel/mm/pmm"
)

var (
	// ErrNoMemoryMap is returned when the bootloader supplied no memory
	// map tag.
	ErrNoMemoryMap = &kernel.Error{Module: "multiboot", Message: "boot info carries no memory map"}

	// ErrNoUsableMemory is returned when the memory map contains no
	// available RAM region.
	ErrNoUsableMemory = &kernel.Error{Module: "multiboot", Message: "memory map lists no available RAM"}
)

var (
	infoData  []byte
	cmdLineKV map[string]string
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// SetInfo installs the multiboot information block to be scanned by the
// other functions of this package. It must be invoked before any of them.
func SetInfo(data []byte) {
	infoData = data
	cmdLineKV = nil
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical
// address, its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(MemoryMapEntry) bool

// VisitMemRegions will invoke the supplied visitor for each memory region
// that is defined by the multiboot info data that we received from the
// bootloader.
func VisitMemRegions(visitor MemRegionVisitor) {
	tag := findTagByType(tagMemoryMap)
	if len(tag) < 8 {
		return
	}

	// The tag content starts with the memory map header (2 dwords long)
	// followed by entrySize-byte entries.
	entrySize := binary.LittleEndian.Uint32(tag)
	if entrySize < 20 {
		return
	}

	for cur := uint32(8); cur+entrySize <= uint32(len(tag)); cur += entrySize {
		entry := MemoryMapEntry{
			PhysAddress: binary.LittleEndian.Uint64(tag[cur:]),
			Length:      binary.LittleEndian.Uint64(tag[cur+8:]),
			Type:        MemoryEntryType(binary.LittleEndian.Uint32(tag[cur+16:])),
		}

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// BasicMemoryInfo returns the amount of lower and upper memory (in KiB)
// reported by the bootloader. The second return value is false when the
// boot info carries no basic memory info tag.
func BasicMemoryInfo() (lowerKB, upperKB uint32, ok bool) {
	tag := findTagByType(tagBasicMemoryInfo)
	if len(tag) < 8 {
		return 0, 0, false
	}

	return binary.LittleEndian.Uint32(tag), binary.LittleEndian.Uint32(tag[4:]), true
}

// GetBootCmdLine returns the command line key-value pairs passed to the
// kernel.
func GetBootCmdLine() map[string]string {
	if cmdLineKV != nil {
		return cmdLineKV
	}

	cmdLineKV = make(map[string]string)

	tag := findTagByType(tagBootCmdLine)
	if len(tag) != 0 {
		// The command line is a C-style NULL-terminated string
		cmdLine := strings.TrimRight(string(tag), "\x00")
		for _, pair := range strings.Fields(cmdLine) {
			kv := strings.Split(pair, "=")
			switch len(kv) {
			case 2: // foo=bar
				cmdLineKV[kv[0]] = kv[1]
			case 1: // nofoo
				cmdLineKV[kv[0]] = kv[0]
			}
		}
	}

	return cmdLineKV
}

// BootInfo derives the physical memory layout for the memory allocator
// from the bootloader memory map: the available RAM below lowMemMax forms
// the direct-mapped low region and anything above it the high region.
// VirtStart is the kernel virtual address at which low memory is mapped.
func BootInfo(virtStart, lowMemMax uint64) (pmm.BootInfo, *kernel.Error) {
	if len(findTagByType(tagMemoryMap)) == 0 {
		return pmm.BootInfo{}, ErrNoMemoryMap
	}

	var availStart, availEnd uint64
	var found bool
	VisitMemRegions(func(entry MemoryMapEntry) bool {
		if entry.Type != MemAvailable || entry.Length == 0 {
			return true
		}

		if !found || entry.PhysAddress < availStart {
			availStart = entry.PhysAddress
		}
		if end := entry.PhysAddress + entry.Length; end > availEnd {
			availEnd = end
		}
		found = true
		return true
	})

	if !found || availStart >= lowMemMax {
		return pmm.BootInfo{}, ErrNoUsableMemory
	}

	lowEnd := availEnd
	if lowEnd > lowMemMax {
		lowEnd = lowMemMax
	}

	highEnd := availEnd
	if highEnd < lowEnd {
		highEnd = lowEnd
	}

	return pmm.BootInfo{
		LowMemStart:  availStart,
		LowMemEnd:    lowEnd,
		HighMemStart: lowEnd,
		HighMemEnd:   highEnd,
		VirtStart:    virtStart,
	}, nil
}

// findTagByType scans the multiboot info data looking for the start of
// the specified tag. It returns the tag contents excluding the tag
// header, or nil if the tag is not present.
func findTagByType(wanted tagType) []byte {
	// The info block starts with its total size and a reserved dword;
	// tags follow at 8-byte aligned offsets.
	if len(infoData) < 8 {
		return nil
	}

	for cur := uint32(8); cur+8 <= uint32(len(infoData)); {
		tag := tagType(binary.LittleEndian.Uint32(infoData[cur:]))
		size := binary.LittleEndian.Uint32(infoData[cur+4:])
		if tag == tagMbSectionEnd || size < 8 || cur+size > uint32(len(infoData)) {
			return nil
		}

		if tag == wanted {
			return infoData[cur+8 : cur+size]
		}

		// Tags are aligned at 8-byte aligned addresses
		cur += (size + 7) &^ 7
	}

	return nil
}

package memory

import "fmt"

const (
	KiB = 1 << 10
	MiB = 1 << 20
)

// Region identifies one of the four address-space regions.
type Region int

const (
	RegionNone Region = iota
	RegionROM
	RegionRAM
	RegionMMIO
	RegionFramebuffer
)

func (r Region) String() string {
	switch r {
	case RegionROM:
		return "rom"
	case RegionRAM:
		return "ram"
	case RegionMMIO:
		return "mmio"
	case RegionFramebuffer:
		return "framebuffer"
	}
	return "none"
}

// Layout describes where each region lives. Regions are contiguous and appear
// in the order ROM, RAM, MMIO, framebuffer.
type Layout struct {
	ROMBase  uint64
	ROMSize  uint64
	RAMBase  uint64
	RAMSize  uint64
	MMIOBase uint64
	MMIOSize uint64
	FBBase   uint64
	FBSize   uint64

	// Offsets inside RAM.
	GlobalsOffset uint64
	HeapOffset    uint64
	HeapSize      uint64
}

// DefaultLayout is the standard Triton-64 memory map.
func DefaultLayout() Layout {
	l := Layout{
		ROMBase:       0,
		ROMSize:       128 * KiB,
		RAMSize:       512 * MiB,
		MMIOSize:      2 * MiB,
		FBSize:        16 * MiB,
		GlobalsOffset: 64 * MiB,
		HeapOffset:    256 * MiB,
		HeapSize:      128 * MiB,
	}
	l.RAMBase = l.ROMBase + l.ROMSize
	l.MMIOBase = l.RAMBase + l.RAMSize
	l.FBBase = l.MMIOBase + l.MMIOSize
	return l
}

func (l Layout) Total() uint64      { return l.FBBase + l.FBSize }
func (l Layout) CodeBase() uint64   { return l.RAMBase }
func (l Layout) GlobalBase() uint64 { return l.RAMBase + l.GlobalsOffset }
func (l Layout) HeapBase() uint64   { return l.RAMBase + l.HeapOffset }
func (l Layout) StackTop() uint64   { return l.RAMBase + l.RAMSize }

// RegionOf reports which region addr falls in.
func (l Layout) RegionOf(addr uint64) Region {
	switch {
	case addr >= l.ROMBase && addr < l.ROMBase+l.ROMSize:
		return RegionROM
	case addr >= l.RAMBase && addr < l.RAMBase+l.RAMSize:
		return RegionRAM
	case addr >= l.MMIOBase && addr < l.MMIOBase+l.MMIOSize:
		return RegionMMIO
	case addr >= l.FBBase && addr < l.FBBase+l.FBSize:
		return RegionFramebuffer
	}
	return RegionNone
}

// Validate checks that the regions are contiguous and the RAM sub-areas fit.
func (l Layout) Validate() error {
	if l.ROMBase != 0 {
		return fmt.Errorf("rom must start at address 0, got %#x", l.ROMBase)
	}
	if l.ROMSize == 0 || l.RAMSize == 0 || l.MMIOSize == 0 || l.FBSize == 0 {
		return fmt.Errorf("all regions need a non-zero size")
	}
	if l.RAMBase != l.ROMBase+l.ROMSize ||
		l.MMIOBase != l.RAMBase+l.RAMSize ||
		l.FBBase != l.MMIOBase+l.MMIOSize {
		return fmt.Errorf("regions are not contiguous")
	}
	if l.GlobalsOffset >= l.RAMSize {
		return fmt.Errorf("globals offset %#x outside ram", l.GlobalsOffset)
	}
	if l.HeapOffset+l.HeapSize > l.RAMSize {
		return fmt.Errorf("heap window [%#x, %#x) outside ram", l.HeapOffset, l.HeapOffset+l.HeapSize)
	}
	if l.RAMSize%8 != 0 {
		return fmt.Errorf("ram size must be a multiple of 8")
	}
	return nil
}

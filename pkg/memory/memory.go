// Package memory implements the Triton-64 address space: ROM, RAM, the MMIO
// window and the framebuffer, plus the device registry behind MMIO.
package memory

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrOutOfBounds = errors.New("address out of bounds")
	ErrROMWrite    = errors.New("write to rom")
)

const (
	pageShift = 16
	pageSize  = 1 << pageShift
	pageMask  = pageSize - 1
)

type page [pageSize]byte

// Memory is the machine's byte-addressable store. Pages are allocated on
// first write; unwritten memory reads as zero.
//
// A single mutex guards the whole image. Each exported access, including the
// 4- and 8-byte composites, holds it for the entire operation.
type Memory struct {
	mu       sync.Mutex
	layout   Layout
	pages    []*page
	registry *Registry
}

// New builds a memory image for layout. MMIO accesses are routed to registry;
// a nil registry gets an empty one covering the MMIO window.
func New(layout Layout, registry *Registry) (*Memory, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("memory layout: %w", err)
	}
	if registry == nil {
		registry = NewRegistry(layout.MMIOBase, layout.MMIOSize)
	}
	total := layout.Total()
	return &Memory{
		layout:   layout,
		pages:    make([]*page, (total+pageSize-1)/pageSize),
		registry: registry,
	}, nil
}

func (m *Memory) Layout() Layout      { return m.layout }
func (m *Memory) Registry() *Registry { return m.registry }
func (m *Memory) Size() uint64        { return m.layout.Total() }

// check validates an access of width bytes at addr and returns its region.
// Accesses may not straddle two regions.
func (m *Memory) check(addr uint64, width int) (Region, error) {
	end := addr + uint64(width)
	if end < addr || end > m.layout.Total() {
		return RegionNone, fmt.Errorf("%d-byte access at %#x: %w", width, addr, ErrOutOfBounds)
	}
	r := m.layout.RegionOf(addr)
	if width > 1 && m.layout.RegionOf(end-1) != r {
		return RegionNone, fmt.Errorf("%d-byte access at %#x crosses %s boundary: %w", width, addr, r, ErrOutOfBounds)
	}
	return r, nil
}

func (m *Memory) rawByte(addr uint64) byte {
	p := m.pages[addr>>pageShift]
	if p == nil {
		return 0
	}
	return p[addr&pageMask]
}

func (m *Memory) setRawByte(addr uint64, v byte) {
	idx := addr >> pageShift
	p := m.pages[idx]
	if p == nil {
		if v == 0 {
			return
		}
		p = new(page)
		m.pages[idx] = p
	}
	p[addr&pageMask] = v
}

func (m *Memory) deviceRead(addr uint64, width int) uint64 {
	dev, ok := m.registry.Lookup(addr)
	if !ok {
		return 0
	}
	return dev.Read(addr-dev.Base(), width)
}

func (m *Memory) deviceWrite(addr uint64, width int, v uint64) {
	if dev, ok := m.registry.Lookup(addr); ok {
		dev.Write(addr-dev.Base(), width, v)
	}
}

func (m *Memory) readByte(addr uint64) (byte, error) {
	r, err := m.check(addr, 1)
	if err != nil {
		return 0, err
	}
	if r == RegionMMIO {
		return byte(m.deviceRead(addr, 1)), nil
	}
	return m.rawByte(addr), nil
}

func (m *Memory) readInt(addr uint64) (uint32, error) {
	r, err := m.check(addr, 4)
	if err != nil {
		return 0, err
	}
	if r == RegionMMIO {
		return uint32(m.deviceRead(addr, 4)), nil
	}
	var v uint32
	for i := uint64(0); i < 4; i++ {
		b, err := m.readByte(addr + i)
		if err != nil {
			return 0, err
		}
		v |= uint32(b) << (8 * i)
	}
	return v, nil
}

func (m *Memory) readLong(addr uint64) (uint64, error) {
	r, err := m.check(addr, 8)
	if err != nil {
		return 0, err
	}
	if r == RegionMMIO {
		return m.deviceRead(addr, 8), nil
	}
	lo, err := m.readInt(addr)
	if err != nil {
		return 0, err
	}
	hi, err := m.readInt(addr + 4)
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

func (m *Memory) writeByte(addr uint64, v byte) error {
	r, err := m.check(addr, 1)
	if err != nil {
		return err
	}
	switch r {
	case RegionROM:
		return fmt.Errorf("write at %#x: %w", addr, ErrROMWrite)
	case RegionMMIO:
		m.deviceWrite(addr, 1, uint64(v))
		return nil
	}
	m.setRawByte(addr, v)
	return nil
}

func (m *Memory) writeInt(addr uint64, v uint32) error {
	r, err := m.check(addr, 4)
	if err != nil {
		return err
	}
	switch r {
	case RegionROM:
		return fmt.Errorf("write at %#x: %w", addr, ErrROMWrite)
	case RegionMMIO:
		m.deviceWrite(addr, 4, uint64(v))
		return nil
	}
	for i := uint64(0); i < 4; i++ {
		if err := m.writeByte(addr+i, byte(v>>(8*i))); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) writeLong(addr uint64, v uint64) error {
	r, err := m.check(addr, 8)
	if err != nil {
		return err
	}
	switch r {
	case RegionROM:
		return fmt.Errorf("write at %#x: %w", addr, ErrROMWrite)
	case RegionMMIO:
		m.deviceWrite(addr, 8, v)
		return nil
	}
	if err := m.writeInt(addr, uint32(v)); err != nil {
		return err
	}
	return m.writeInt(addr+4, uint32(v>>32))
}

func (m *Memory) ReadByte(addr uint64) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readByte(addr)
}

func (m *Memory) ReadInt(addr uint64) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readInt(addr)
}

func (m *Memory) ReadLong(addr uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLong(addr)
}

func (m *Memory) WriteByte(addr uint64, v byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeByte(addr, v)
}

func (m *Memory) WriteInt(addr uint64, v uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeInt(addr, v)
}

func (m *Memory) WriteLong(addr uint64, v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLong(addr, v)
}

// ReadBlock copies n bytes starting at addr.
func (m *Memory) ReadBlock(addr uint64, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]byte, n)
	for i := range out {
		b, err := m.readByte(addr + uint64(i))
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// WriteBlock stores data at addr. The same rules as WriteByte apply to every byte.
func (m *Memory) WriteBlock(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, b := range data {
		if err := m.writeByte(addr+uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}

// LoadROM initialises ROM contents starting at addr. It is the only way to
// change ROM.
func (m *Memory) LoadROM(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := addr + uint64(len(data))
	if addr < m.layout.ROMBase || end > m.layout.ROMBase+m.layout.ROMSize || end < addr {
		return fmt.Errorf("rom image of %d bytes at %#x: %w", len(data), addr, ErrOutOfBounds)
	}
	for i, b := range data {
		m.setRawByte(addr+uint64(i), b)
	}
	return nil
}

// Pages calls fn for every allocated page in address order. data is a copy.
func (m *Memory) Pages(fn func(addr uint64, data []byte) error) error {
	m.mu.Lock()
	type snap struct {
		addr uint64
		data []byte
	}
	var pages []snap
	for i, p := range m.pages {
		if p == nil {
			continue
		}
		cp := make([]byte, pageSize)
		copy(cp, p[:])
		pages = append(pages, snap{uint64(i) << pageShift, cp})
	}
	m.mu.Unlock()

	for _, p := range pages {
		if err := fn(p.addr, p.data); err != nil {
			return err
		}
	}
	return nil
}

// RestorePage overwrites a whole page, ROM included. Used by snapshot restore.
func (m *Memory) RestorePage(addr uint64, data []byte) error {
	if addr&pageMask != 0 || len(data) != pageSize {
		return fmt.Errorf("restore page %#x: need an aligned %d-byte page", addr, pageSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := addr >> pageShift
	if idx >= uint64(len(m.pages)) {
		return fmt.Errorf("restore page %#x: %w", addr, ErrOutOfBounds)
	}
	p := new(page)
	copy(p[:], data)
	m.pages[idx] = p
	return nil
}

// PageSize is the granularity of Pages and RestorePage.
func PageSize() int { return pageSize }

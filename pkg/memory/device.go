package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrDeviceOverlap  = errors.New("device address range overlaps")
	ErrDeviceOutside  = errors.New("device outside mmio window")
	ErrDeviceZeroSize = errors.New("device has zero size")
)

// Device is a memory-mapped peripheral. Offsets passed to Read and Write are
// relative to Base. Width is 1, 4 or 8 bytes.
//
// Devices are called with the memory lock held and must not access Memory.
type Device interface {
	Name() string
	Base() uint64
	Size() uint64
	Read(offset uint64, width int) uint64
	Write(offset uint64, width int, value uint64)
}

// Registry owns the devices mapped into the MMIO window.
type Registry struct {
	mu      sync.RWMutex
	base    uint64
	size    uint64
	devices []Device // sorted by Base
}

// NewRegistry creates a registry for the window [base, base+size).
func NewRegistry(base, size uint64) *Registry {
	return &Registry{base: base, size: size}
}

// Register maps dev into the window. Ranges are half-open and may not overlap.
func (r *Registry) Register(dev Device) error {
	b, s := dev.Base(), dev.Size()
	if s == 0 {
		return fmt.Errorf("register %s: %w", dev.Name(), ErrDeviceZeroSize)
	}
	if b < r.base || b+s > r.base+r.size || b+s < b {
		return fmt.Errorf("register %s at [%#x, %#x): %w", dev.Name(), b, b+s, ErrDeviceOutside)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.devices), func(i int) bool { return r.devices[i].Base() >= b })
	if i > 0 {
		prev := r.devices[i-1]
		if prev.Base()+prev.Size() > b {
			return fmt.Errorf("register %s at [%#x, %#x) conflicts with %s: %w", dev.Name(), b, b+s, prev.Name(), ErrDeviceOverlap)
		}
	}
	if i < len(r.devices) {
		next := r.devices[i]
		if b+s > next.Base() {
			return fmt.Errorf("register %s at [%#x, %#x) conflicts with %s: %w", dev.Name(), b, b+s, next.Name(), ErrDeviceOverlap)
		}
	}

	r.devices = append(r.devices, nil)
	copy(r.devices[i+1:], r.devices[i:])
	r.devices[i] = dev
	return nil
}

// Lookup finds the device whose range contains addr.
func (r *Registry) Lookup(addr uint64) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// First device starting after addr; the candidate is the one before it.
	i := sort.Search(len(r.devices), func(i int) bool { return r.devices[i].Base() > addr })
	if i == 0 {
		return nil, false
	}
	d := r.devices[i-1]
	if addr < d.Base()+d.Size() {
		return d, true
	}
	return nil, false
}

// Devices returns the registered devices in address order.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

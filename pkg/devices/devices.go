// Package devices holds the memory-mapped peripherals of the Triton-64
// machine. Each device owns a Size-byte window and exposes 8-byte
// registers at 8-byte offsets.
package devices

import (
	"triton/pkg/memory"
)

// Size is the window reserved for every device.
const Size = 0x100

// Default window offsets from the MMIO base.
const (
	ConsoleOffset  = 0x000
	KeyboardOffset = 0x100
	TimerOffset    = 0x200
	DiskOffset     = 0x300
)

type window struct {
	name string
	base uint64
}

func (w window) Name() string { return w.name }
func (w window) Base() uint64 { return w.base }
func (w window) Size() uint64 { return Size }

// Set is the standard device complement.
type Set struct {
	Console  *Console
	Keyboard *Keyboard
	Timer    *Timer
	Disk     *Disk
}

// Register maps every non-nil device of s into reg.
func (s Set) Register(reg *memory.Registry) error {
	for _, d := range s.list() {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (s Set) list() []memory.Device {
	var out []memory.Device
	if s.Console != nil {
		out = append(out, s.Console)
	}
	if s.Keyboard != nil {
		out = append(out, s.Keyboard)
	}
	if s.Timer != nil {
		out = append(out, s.Timer)
	}
	if s.Disk != nil {
		out = append(out, s.Disk)
	}
	return out
}

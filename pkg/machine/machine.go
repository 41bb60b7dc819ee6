// Package machine wires memory, devices and the CPU into a bootable
// Triton-64 system.
package machine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"triton/pkg/asm"
	"triton/pkg/cpu"
	"triton/pkg/devices"
	"triton/pkg/isa"
	"triton/pkg/memory"
	"triton/pkg/vfs"
)

// Config selects the hardware a Machine is built with.
type Config struct {
	Layout memory.Layout
	CPU    cpu.Options

	// Console receives program output; nil discards it.
	Console io.Writer
	// Disk backs the disk device; nil means an empty disk.
	Disk *vfs.Disk
	// TickInterval is the timer period.
	TickInterval time.Duration

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Layout:       memory.DefaultLayout(),
		CPU:          cpu.DefaultOptions(),
		TickInterval: time.Millisecond,
	}
}

// Machine is a booted system. Reset starts execution in the boot ROM, which
// sets sp, gp and hp from the layout and jumps to the loaded program.
type Machine struct {
	Mem     *memory.Memory
	CPU     *cpu.CPU
	Devices devices.Set

	layout memory.Layout
	entry  uint64
	log    *slog.Logger
}

// New builds the memory map, registers the standard devices and installs the
// boot ROM for entry at the start of RAM.
func New(cfg Config) (*Machine, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	l := cfg.Layout
	disk := cfg.Disk
	if disk == nil {
		disk = vfs.New(0)
	}

	set := devices.Set{
		Console:  devices.NewConsole(l.MMIOBase+devices.ConsoleOffset, cfg.Console),
		Keyboard: devices.NewKeyboard(l.MMIOBase + devices.KeyboardOffset),
		Timer:    devices.NewTimer(l.MMIOBase+devices.TimerOffset, cfg.TickInterval),
		Disk:     devices.NewDisk(l.MMIOBase+devices.DiskOffset, disk),
	}
	return NewWithDevices(cfg, set, log)
}

// NewWithDevices is New with a caller-chosen device set. Registration
// errors, such as overlapping windows, are reported before anything runs.
func NewWithDevices(cfg Config, set devices.Set, log *slog.Logger) (*Machine, error) {
	if log == nil {
		log = slog.Default()
	}
	l := cfg.Layout
	reg := memory.NewRegistry(l.MMIOBase, l.MMIOSize)
	if err := set.Register(reg); err != nil {
		return nil, fmt.Errorf("register devices: %w", err)
	}
	mem, err := memory.New(l, reg)
	if err != nil {
		return nil, err
	}
	m := &Machine{
		Mem:     mem,
		CPU:     cpu.New(mem, cfg.CPU),
		Devices: set,
		layout:  l,
		log:     log,
	}
	if err := m.installBootROM(l.CodeBase()); err != nil {
		return nil, err
	}
	log.Debug("machine ready", "ram", l.RAMSize, "mmio", fmt.Sprintf("%#x", l.MMIOBase))
	return m, nil
}

// bootROM loads the ABI registers and jumps to entry. LDIU is used because
// the stack is not valid until sp is set.
func bootROM(l memory.Layout, entry uint64) string {
	return fmt.Sprintf(`
boot:
    LDIU sp, %d
    LDIU gp, %d
    LDIU hp, %d
    LDIU t0, %d
    JMP t0
`, l.StackTop(), l.GlobalBase(), l.HeapBase(), entry)
}

func (m *Machine) installBootROM(entry uint64) error {
	rom, err := asm.New(asm.Options{Origin: m.layout.ROMBase}).Assemble(bootROM(m.layout, entry))
	if err != nil {
		return fmt.Errorf("boot rom: %w", err)
	}
	if err := m.Mem.LoadROM(m.layout.ROMBase, rom.Bytes()); err != nil {
		return fmt.Errorf("boot rom: %w", err)
	}
	m.entry = entry
	return nil
}

// Load copies a program into RAM and points the boot ROM at its origin.
func (m *Machine) Load(p *asm.Program) error {
	return m.LoadWords(p.Origin, p.Words)
}

// LoadWords copies raw instruction words to origin.
func (m *Machine) LoadWords(origin uint64, words []uint32) error {
	if m.layout.RegionOf(origin) != memory.RegionRAM {
		return fmt.Errorf("load at %#x: origin is not in ram", origin)
	}
	p := &asm.Program{Origin: origin, Words: words}
	if err := m.Mem.WriteBlock(origin, p.Bytes()); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if origin != m.entry {
		if err := m.installBootROM(origin); err != nil {
			return err
		}
	}
	m.log.Debug("program loaded", "origin", fmt.Sprintf("%#x", origin), "words", len(words))
	m.Reset()
	return nil
}

// Reset restarts the CPU at the boot ROM.
func (m *Machine) Reset() {
	m.CPU.Reset(m.layout.ROMBase)
}

// Start runs the background devices until ctx is done.
func (m *Machine) Start(ctx context.Context) {
	if m.Devices.Timer != nil {
		m.Devices.Timer.Start(ctx)
	}
}

// Run executes until the CPU stops or ctx is cancelled. The terminal state
// is returned alongside any fault.
func (m *Machine) Run(ctx context.Context) (cpu.State, error) {
	start := time.Now()
	err := m.CPU.Run(ctx)
	state := m.CPU.State()
	attrs := []any{"state", state, "steps", m.CPU.Steps(), "elapsed", time.Since(start)}
	switch {
	case err != nil:
		m.log.Info("cpu stopped", append(attrs, "err", err)...)
	default:
		m.log.Info("cpu stopped", attrs...)
	}
	return state, err
}

// Result is the value main returned, read from a0.
func (m *Machine) Result() int64 {
	return int64(m.CPU.Regs[isa.RegA0])
}

func (m *Machine) Layout() memory.Layout { return m.layout }

package machine

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"triton/pkg/asm"
	"triton/pkg/cpu"
	"triton/pkg/devices"
	"triton/pkg/isa"
	"triton/pkg/memory"
	"triton/pkg/vfs"
)

func boot(t *testing.T, src string, console *bytes.Buffer) *Machine {
	t.Helper()
	cfg := DefaultConfig()
	if console != nil {
		cfg.Console = console
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prog, err := asm.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := m.Load(prog); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func TestBootSetsABIRegisters(t *testing.T) {
	m := boot(t, "LDI a0, 7\nHLT", nil)
	state, err := m.Run(context.Background())
	if err != nil || state != cpu.Halted {
		t.Fatalf("Run = %v, %v", state, err)
	}
	l := m.Layout()
	if m.Result() != 7 {
		t.Errorf("a0 = %d", m.Result())
	}
	checks := map[int]uint64{
		isa.RegSP: l.StackTop(),
		isa.RegGP: l.GlobalBase(),
		isa.RegHP: l.HeapBase(),
	}
	for r, want := range checks {
		if got := m.CPU.Regs[r]; got != want {
			t.Errorf("%s = %#x, want %#x", isa.RegisterName(r), got, want)
		}
	}
}

func TestConsoleOutput(t *testing.T) {
	var out bytes.Buffer
	src := `
    LDIU t1, 0x20020000
    LDI t0, 79
    ST [t1], t0
    LDI t0, 75
    ST [t1], t0
    LDI t0, -3
    ST [t1+8], t0
    HLT
`
	m := boot(t, src, &out)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if out.String() != "OK-3" {
		t.Errorf("console = %q", out.String())
	}
}

func TestRunawayIsReported(t *testing.T) {
	m := boot(t, "LDI a0, 1", nil)
	state, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state != cpu.RunawayDetected {
		t.Errorf("state = %v, want runaway", state)
	}
}

func TestLoadOutsideRAM(t *testing.T) {
	m, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.LoadWords(0, []uint32{0}); err == nil {
		t.Error("loading into rom should fail")
	}
}

func TestOverlappingDevicesFailBeforeExecution(t *testing.T) {
	l := memory.DefaultLayout()
	set := devices.Set{
		Console:  devices.NewConsole(l.MMIOBase, nil),
		Keyboard: devices.NewKeyboard(l.MMIOBase + 0x80),
	}
	_, err := NewWithDevices(DefaultConfig(), set, nil)
	if !errors.Is(err, memory.ErrDeviceOverlap) {
		t.Fatalf("expected overlap error, got %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := `
    LDI t0, 123
    ST [gp], t0
    LDI s3, 99
    HLT
`
	disk := vfs.New(0)
	if err := disk.Write("note.txt", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Disk = disk
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	prog, err := asm.Assemble(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Load(prog); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := fresh.Restore(buf.Bytes()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if fresh.CPU.State() != cpu.Halted {
		t.Errorf("state = %v", fresh.CPU.State())
	}
	if fresh.CPU.Regs[isa.RegS0+3] != 99 || fresh.CPU.PC != m.CPU.PC {
		t.Errorf("registers not restored: s3=%d pc=%#x", fresh.CPU.Regs[isa.RegS0+3], fresh.CPU.PC)
	}
	v, err := fresh.Mem.ReadLong(fresh.Layout().GlobalBase())
	if err != nil || v != 123 {
		t.Errorf("global cell = %d, %v", v, err)
	}
	if got, err := fresh.Devices.Disk.FS().Read("note.txt"); err != nil || string(got) != "hello" {
		t.Errorf("disk file = %q, %v", got, err)
	}
}

func TestRestoreRejectsOtherLayout(t *testing.T) {
	m := boot(t, "HLT", nil)
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Layout.HeapSize /= 2
	other, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Restore(buf.Bytes()); !errors.Is(err, ErrSnapshotLayout) {
		t.Errorf("expected layout error, got %v", err)
	}
}

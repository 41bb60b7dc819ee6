package cpu

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"triton/pkg/isa"
	"triton/pkg/memory"
)

func enc(op isa.Opcode, dest, src1, src2 int, imm int32) uint32 {
	return isa.Encode(isa.Instruction{Op: op, Dest: uint8(dest), Src1: uint8(src1), Src2: uint8(src2), Imm: imm})
}

// loadProgram places words at the start of RAM and points the CPU at them.
func loadProgram(t *testing.T, words ...uint32) (*CPU, *memory.Memory) {
	t.Helper()
	mem, err := memory.New(memory.DefaultLayout(), nil)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	base := mem.Layout().RAMBase
	for i, w := range words {
		if err := mem.WriteInt(base+uint64(4*i), w); err != nil {
			t.Fatalf("WriteInt: %v", err)
		}
	}
	c := New(mem, DefaultOptions())
	c.Reset(base)
	return c, mem
}

func run(t *testing.T, c *CPU) {
	t.Helper()
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

const (
	t0 = isa.RegT0
	t1 = isa.RegT0 + 1
	t2 = isa.RegT0 + 2
	a0 = isa.RegA0
	ra = isa.RegRA
	sp = isa.RegSP
)

func TestLDIAndHalt(t *testing.T) {
	c, _ := loadProgram(t,
		enc(isa.OpLDI, t0, 0, 0, 5),
		enc(isa.OpLDI, t1, 0, 0, -7),
		enc(isa.OpHLT, 0, 0, 0, 0),
	)
	run(t, c)
	if c.State() != Halted {
		t.Fatalf("state = %v, want halted", c.State())
	}
	if c.Regs[t0] != 5 || int64(c.Regs[t1]) != -7 {
		t.Errorf("t0=%d t1=%d", c.Regs[t0], int64(c.Regs[t1]))
	}
	if c.Steps() != 3 {
		t.Errorf("steps = %d", c.Steps())
	}
}

func TestALU(t *testing.T) {
	tests := []struct {
		name string
		op   isa.Opcode
		a, b int64
		want int64
	}{
		{"add", isa.OpADD, 10, 20, 30},
		{"sub negative", isa.OpSUB, 10, 25, -15},
		{"mul", isa.OpMUL, -6, 7, -42},
		{"div signed", isa.OpDIV, -21, 4, -5},
		{"mod signed", isa.OpMOD, -21, 4, -1},
		{"and", isa.OpAND, 0xFF, 0x0F0F, 0x0F},
		{"or", isa.OpOR, 0xF0, 0x0F, 0xFF},
		{"xor", isa.OpXOR, 0xFF, 0x0F, 0xF0},
		{"shl", isa.OpSHL, 1, 40, 1 << 40},
		{"shl masks amount", isa.OpSHL, 1, 65, 2},
		{"shr logical", isa.OpSHR, -1, 60, 0xF},
		{"sar arithmetic", isa.OpSAR, -256, 4, -16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := loadProgram(t,
				enc(tt.op, t2, t0, t1, 0),
				enc(isa.OpHLT, 0, 0, 0, 0),
			)
			c.Regs[t0] = uint64(tt.a)
			c.Regs[t1] = uint64(tt.b)
			run(t, c)
			if got := int64(c.Regs[t2]); got != tt.want {
				t.Errorf("%s(%d, %d) = %d, want %d", tt.op, tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestUnaryOps(t *testing.T) {
	c, _ := loadProgram(t,
		enc(isa.OpLDI, t0, 0, 0, 9),
		enc(isa.OpMOV, t1, t0, 0, 0),
		enc(isa.OpNEG, t2, t0, 0, 0),
		enc(isa.OpNOT, a0, t0, 0, 0),
		enc(isa.OpHLT, 0, 0, 0, 0),
	)
	run(t, c)
	if c.Regs[t1] != 9 || int64(c.Regs[t2]) != -9 || c.Regs[a0] != ^uint64(9) {
		t.Errorf("mov=%d neg=%d not=%#x", c.Regs[t1], int64(c.Regs[t2]), c.Regs[a0])
	}
}

func TestConditionalJumps(t *testing.T) {
	tests := []struct {
		op    isa.Opcode
		test  int64
		taken bool
	}{
		{isa.OpJZ, 0, true}, {isa.OpJZ, 3, false},
		{isa.OpJNZ, 3, true}, {isa.OpJNZ, 0, false},
		{isa.OpJP, 1, true}, {isa.OpJP, 0, false}, {isa.OpJP, -1, false},
		{isa.OpJN, -1, true}, {isa.OpJN, 0, false}, {isa.OpJN, 1, false},
	}
	for _, tt := range tests {
		c, mem := loadProgram(t,
			enc(tt.op, 0, t0, t1, 0), // jump to t0 when t1 passes
			enc(isa.OpLDI, a0, 0, 0, 1),
			enc(isa.OpHLT, 0, 0, 0, 0),
			enc(isa.OpLDI, a0, 0, 0, 2),
			enc(isa.OpHLT, 0, 0, 0, 0),
		)
		c.Regs[t0] = mem.Layout().RAMBase + 12
		c.Regs[t1] = uint64(tt.test)
		run(t, c)
		want := uint64(1)
		if tt.taken {
			want = 2
		}
		if c.Regs[a0] != want {
			t.Errorf("%s with test %d: taken=%v", tt.op, tt.test, c.Regs[a0] == 2)
		}
	}
}

func TestJALLinksAdvancedPC(t *testing.T) {
	c, mem := loadProgram(t,
		enc(isa.OpJAL, ra, t0, 0, 0),
		enc(isa.OpHLT, 0, 0, 0, 0),
		enc(isa.OpLDI, a0, 0, 0, 42),
		enc(isa.OpJMP, 0, ra, 0, 0),
	)
	base := mem.Layout().RAMBase
	c.Regs[t0] = base + 8
	run(t, c)
	if c.Regs[ra] != base+4 {
		t.Errorf("ra = %#x, want %#x", c.Regs[ra], base+4)
	}
	if c.Regs[a0] != 42 || c.PC != base+8 {
		t.Errorf("a0=%d pc=%#x", c.Regs[a0], c.PC)
	}
}

func TestLoadStore(t *testing.T) {
	c, mem := loadProgram(t,
		enc(isa.OpST, 0, sp, t1, -8),
		enc(isa.OpLD, a0, sp, 0, -8),
		enc(isa.OpHLT, 0, 0, 0, 0),
	)
	c.Regs[sp] = mem.Layout().StackTop()
	c.Regs[t1] = 0x0123456789ABCDEF
	run(t, c)
	if c.Regs[a0] != 0x0123456789ABCDEF {
		t.Errorf("a0 = %#x", c.Regs[a0])
	}
	v, _ := mem.ReadLong(mem.Layout().StackTop() - 8)
	if v != 0x0123456789ABCDEF {
		t.Errorf("memory = %#x", v)
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name  string
		words []uint32
		setup func(c *CPU)
		want  error
	}{
		{
			name:  "divide by zero",
			words: []uint32{enc(isa.OpDIV, t0, t1, t2, 0)},
			want:  ErrDivideByZero,
		},
		{
			name:  "mod by zero",
			words: []uint32{enc(isa.OpMOD, t0, t1, t2, 0)},
			want:  ErrDivideByZero,
		},
		{
			name:  "unknown opcode",
			words: []uint32{enc(isa.Opcode(0x7E), 0, 0, 0, 0)},
			want:  ErrUnknownOpcode,
		},
		{
			name:  "store to rom",
			words: []uint32{enc(isa.OpST, 0, t0, t1, 0)},
			want:  memory.ErrROMWrite,
		},
		{
			name:  "load out of bounds",
			words: []uint32{enc(isa.OpLD, t0, t1, 0, 0)},
			setup: func(c *CPU) { c.Regs[t1] = 1 << 40 },
			want:  memory.ErrOutOfBounds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := loadProgram(t, tt.words...)
			if tt.setup != nil {
				tt.setup(c)
			}
			err := c.Run(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var f *Fault
			if !errors.As(err, &f) || f.Word != tt.words[0] {
				t.Errorf("fault detail = %+v", f)
			}
			if c.State() != Faulted || c.LastFault() == nil {
				t.Errorf("state = %v", c.State())
			}
		})
	}
}

func TestRunawayDetection(t *testing.T) {
	c, mem := loadProgram(t, enc(isa.OpLDI, a0, 0, 0, 1))
	run(t, c)
	if c.State() != RunawayDetected {
		t.Fatalf("state = %v, want runaway", c.State())
	}
	limit := uint64(DefaultOptions().NopLimit)
	if c.PC != mem.Layout().RAMBase+4*(1+limit) {
		t.Errorf("stopped at pc %#x after %d nops", c.PC, limit)
	}
}

func TestNopGuardResetsOnRealInstruction(t *testing.T) {
	words := make([]uint32, 0, 10)
	for i := 0; i < 3; i++ {
		words = append(words, 0, 0, enc(isa.OpLDI, a0, 0, 0, int32(i)))
	}
	words = append(words, enc(isa.OpHLT, 0, 0, 0, 0))
	mem, _ := memory.New(memory.DefaultLayout(), nil)
	for i, w := range words {
		mem.WriteInt(mem.Layout().RAMBase+uint64(4*i), w)
	}
	c := New(mem, Options{NopLimit: 3})
	c.Reset(mem.Layout().RAMBase)
	run(t, c)
	if c.State() != Halted {
		t.Fatalf("state = %v, want halted", c.State())
	}
}

func TestRunHonoursContext(t *testing.T) {
	// JMP t0 with t0 pointing at itself never terminates.
	c, mem := loadProgram(t, enc(isa.OpJMP, 0, t0, 0, 0))
	c.Regs[t0] = mem.Layout().RAMBase
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if c.State() != Running {
		t.Errorf("cancelled run changed state to %v", c.State())
	}
}

func TestStepAfterHaltIsNoop(t *testing.T) {
	c, _ := loadProgram(t, enc(isa.OpHLT, 0, 0, 0, 0))
	run(t, c)
	pc := c.PC
	if err := c.Step(); err != nil || c.PC != pc {
		t.Fatalf("Step after halt: err=%v pc moved=%v", err, c.PC != pc)
	}
}

func TestSnapshotRestore(t *testing.T) {
	c, _ := loadProgram(t, enc(isa.OpLDI, t0, 0, 0, 5), enc(isa.OpHLT, 0, 0, 0, 0))
	run(t, c)
	snap := c.Snapshot()

	other, _ := loadProgram(t)
	other.Restore(snap)
	if other.Regs[t0] != 5 || other.State() != Halted || other.PC != c.PC {
		t.Errorf("restore mismatch: %+v", other.Snapshot())
	}
}

func TestDumpRegisters(t *testing.T) {
	c, _ := loadProgram(t, enc(isa.OpLDI, t0, 0, 0, -2), enc(isa.OpHLT, 0, 0, 0, 0))
	run(t, c)
	var buf bytes.Buffer
	if err := c.DumpRegisters(&buf, 4); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 9 {
		t.Fatalf("dump has %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(out, "t0  fffffffffffffffe -2") {
		t.Errorf("t0 row missing:\n%s", out)
	}
	if !strings.Contains(lines[8], "state=halted") {
		t.Errorf("last line = %q", lines[8])
	}
	if DumpColumns(200) != 4 || DumpColumns(10) != 1 {
		t.Errorf("DumpColumns out of range")
	}
}

package asm

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"triton/pkg/cpu"
	"triton/pkg/isa"
	"triton/pkg/memory"
)

// runSource assembles src at the RAM base and runs it with a valid stack.
func runSource(t *testing.T, src string) (*cpu.CPU, *Program) {
	t.Helper()
	prog, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	mem, err := memory.New(memory.DefaultLayout(), nil)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if err := mem.WriteBlock(prog.Origin, prog.Bytes()); err != nil {
		t.Fatalf("load: %v", err)
	}
	c := cpu.New(mem, cpu.DefaultOptions())
	c.Reset(prog.Origin)
	c.Regs[isa.RegSP] = mem.Layout().StackTop()
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return c, prog
}

func regVal(t *testing.T, c *cpu.CPU, name string) int64 {
	t.Helper()
	r, ok := isa.Register(name)
	if !ok {
		t.Fatalf("bad register %q", name)
	}
	return int64(c.Regs[r])
}

func TestPreprocess(t *testing.T) {
	src := `
; full line comment
start:   LDI   t0,   5   ; trailing
# hash comment

loop:
	ADD t0, t0, t1 # other style
a: b: HLT
`
	got, err := Preprocess(src)
	if err != nil {
		t.Fatal(err)
	}
	want := []Line{
		{Num: 3, Label: "start"},
		{Num: 3, Text: "LDI t0, 5"},
		{Num: 6, Label: "loop"},
		{Num: 7, Text: "ADD t0, t0, t1"},
		{Num: 8, Label: "a"},
		{Num: 8, Label: "b"},
		{Num: 8, Text: "HLT"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Preprocess mismatch (-want +got):\n%s", diff)
	}

	if _, err := Preprocess("1bad: HLT"); err == nil {
		t.Errorf("expected invalid label error")
	}
}

func TestParseOperand(t *testing.T) {
	tests := []struct {
		in   string
		want Operand
	}{
		{"t0", Operand{Kind: KindRegister, Reg: 22}},
		{"SP", Operand{Kind: KindRegister, Reg: 1}},
		{"r17", Operand{Kind: KindRegister, Reg: 17}},
		{"42", Operand{Kind: KindImmediate, Value: 42}},
		{"-512", Operand{Kind: KindImmediate, Value: -512}},
		{"0x1F", Operand{Kind: KindImmediate, Value: 31}},
		{"0b101", Operand{Kind: KindImmediate, Value: 5}},
		{"-0x10", Operand{Kind: KindImmediate, Value: -16}},
		{"0xFFFFFFFFFFFFFFFF", Operand{Kind: KindImmediate, Value: -1}},
		{"main", Operand{Kind: KindLabel, Label: "main"}},
		{"__L12", Operand{Kind: KindLabel, Label: "__L12"}},
		{"[sp]", Operand{Kind: KindMemory, Reg: 1}},
		{"[fp-16]", Operand{Kind: KindMemory, Reg: 5, Value: -16}},
		{"[gp + 0x20]", Operand{Kind: KindMemory, Reg: 3, Value: 32}},
	}
	for _, tt := range tests {
		got, err := ParseOperand(tt.in)
		if err != nil {
			t.Errorf("ParseOperand(%q): %v", tt.in, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseOperand(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
	for _, bad := range []string{"", "[sp", "[foo]", "[sp+q]", "12abc", "a-b"} {
		if _, err := ParseOperand(bad); err == nil {
			t.Errorf("ParseOperand(%q) should fail", bad)
		}
	}
}

func TestScenarioLoadImmediateAndHalt(t *testing.T) {
	c, prog := runSource(t, "LDI t0, 5\nHLT")
	if len(prog.Words) != 2 {
		t.Fatalf("assembled %d words, want 2", len(prog.Words))
	}
	if regVal(t, c, "t0") != 5 {
		t.Errorf("t0 = %d, want 5", regVal(t, c, "t0"))
	}
	if c.State() != cpu.Halted {
		t.Errorf("state = %v, want halted", c.State())
	}
}

func TestScenarioWideLoadWithoutHalt(t *testing.T) {
	c, prog := runSource(t, "LDI a0, 1000\nADD a0, a0, a0")
	if len(prog.Words) != safeWideWords+1 {
		t.Fatalf("assembled %d words, want %d", len(prog.Words), safeWideWords+1)
	}
	if regVal(t, c, "a0") != 2000 {
		t.Errorf("a0 = %d, want 2000", regVal(t, c, "a0"))
	}
	if c.State() != cpu.RunawayDetected {
		t.Errorf("state = %v, want runaway", c.State())
	}
}

func TestWideLoadValues(t *testing.T) {
	values := []int64{512, -513, 1000, -1000, 0x7FFFFFFF, -0x80000000, 0x123456789ABCDEF0, -1 << 63, 1<<63 - 1}
	for _, v := range values {
		src := "LDI t1, 111\nLDI t2, 222\nLDI t0, " + formatInt(v) + "\nHLT"
		c, _ := runSource(t, src)
		if got := regVal(t, c, "t0"); got != v {
			t.Errorf("LDI t0, %d loaded %d", v, got)
		}
		if regVal(t, c, "t1") != 111 || regVal(t, c, "t2") != 222 {
			t.Errorf("LDI %d clobbered t1/t2: %d %d", v, regVal(t, c, "t1"), regVal(t, c, "t2"))
		}
		if uint64(regVal(t, c, "sp")) != memory.DefaultLayout().StackTop() {
			t.Errorf("LDI %d left sp unbalanced", v)
		}
	}
}

func formatInt(v int64) string {
	return Operand{Kind: KindImmediate, Value: v}.String()
}

func TestLDIUIsUnsafeButShort(t *testing.T) {
	c, prog := runSource(t, "LDIU sp, 0x20000000\nLDIU t3, -7\nHLT")
	if len(prog.Words) != wideBodyWords+1+1 {
		t.Fatalf("words = %d", len(prog.Words))
	}
	if regVal(t, c, "sp") != 0x20000000 || regVal(t, c, "t3") != -7 {
		t.Errorf("sp=%#x t3=%d", regVal(t, c, "sp"), regVal(t, c, "t3"))
	}
}

func TestPredictionMatchesExpansion(t *testing.T) {
	sources := []string{
		"NOP", "HLT", "MOV t0, t1", "NEG a0, a1", "ADD t0, t1, t2",
		"LDI t0, 0", "LDI t0, 511", "LDI t0, -512", "LDI t0, 512", "LDI t0, -513",
		"LDI t0, target", "LDI a0, 0x7FFFFFFFFFFFFFFF", "LDIU t0, 99", "LDIU t0, 100000", "LDIU sp, target",
		"JMP t0", "JMP target", "JMP 64", "JZ target, t0", "JNZ t3, a0", "JP 1000, t1", "JN target, t8",
		"JAL target", "JAL t0", "JAL a1, target", "JAL ra, t2", "CALL target", "CALL t1", "RET",
		"PUSH t0", "PUSH ra, fp", "PUSH s1, s2, s3, s4", "POP t0", "POP ra, fp",
		"ADD t0, t1, 5", "SUB sp, sp, 16", "MUL a0, a0, 100000", "SHL t0, t0, target", "AND t8, t7, -1",
		"LD t0, [sp]", "LD t0, sp", "LD t0, [fp-16]", "ST [sp+8], t1", "ST sp, t1",
	}
	syms := NewSymbolTable()
	if err := syms.Define("target", 0x20040, 1); err != nil {
		t.Fatal(err)
	}
	x := NewExpander(syms)
	for _, src := range sources {
		in, err := ParseInstr(src, 1, false)
		if err != nil {
			t.Errorf("ParseInstr(%q): %v", src, err)
			continue
		}
		want, err := PredictSize(in)
		if err != nil {
			t.Errorf("PredictSize(%q): %v", src, err)
			continue
		}
		got, err := x.Expand(in)
		if err != nil {
			t.Errorf("Expand(%q): %v", src, err)
			continue
		}
		if len(got) != want {
			t.Errorf("%q: predicted %d, expanded %d", src, want, len(got))
		}
	}
}

func TestLDIRangeSelectsForm(t *testing.T) {
	tests := []struct {
		src  string
		want int
	}{
		{"LDI t0, 511", 1},
		{"LDI t0, -512", 1},
		{"LDI t0, 512", safeWideWords},
		{"LDI t0, -513", safeWideWords},
		{"LDI t0, here", safeWideWords},
	}
	for _, tt := range tests {
		in, _ := ParseInstr(tt.src, 1, false)
		got, err := PredictSize(in)
		if err != nil || got != tt.want {
			t.Errorf("PredictSize(%q) = %d, %v; want %d", tt.src, got, err, tt.want)
		}
	}
}

func TestLabelAddressesMatchExpandedLayout(t *testing.T) {
	src := `
start: LDI t0, 1000
       JMP done
mid:   PUSH t0, t1
       ADD t0, t0, 70000
       POP t0, t1
loop:  SUB t0, t0, 1
       JNZ loop, t0
done:  HLT
`
	prog, err := Assemble(src)
	if err != nil {
		t.Fatal(err)
	}
	labelLines := map[string]int{"start": 2, "mid": 4, "loop": 7, "done": 9}
	for name, line := range labelLines {
		addr, ok := prog.Symbols[name]
		if !ok {
			t.Fatalf("label %s missing", name)
		}
		idx := -1
		for i, n := range prog.Listing {
			if n.Line == line {
				idx = i
				break
			}
		}
		if idx < 0 {
			t.Fatalf("no code for line %d", line)
		}
		if want := prog.Origin + uint64(4*idx); addr != want || prog.Listing[idx].Addr != want {
			t.Errorf("label %s at %#x, first expanded word at %#x", name, addr, want)
		}
	}
}

func TestJumpsAndCallsToLabels(t *testing.T) {
	src := `
        LDI a0, 0
        LDI s1, 3
loop:   CALL bump
        SUB s1, s1, 1
        JNZ loop, s1
        JMP finish
        LDI a0, -1
finish: HLT
bump:   ADD a0, a0, 10
        RET
`
	c, _ := runSource(t, src)
	if regVal(t, c, "a0") != 30 {
		t.Errorf("a0 = %d, want 30", regVal(t, c, "a0"))
	}
	if c.State() != cpu.Halted {
		t.Errorf("state = %v", c.State())
	}
}

func TestPushPopOrder(t *testing.T) {
	src := `
        LDI t0, 1
        LDI t1, 2
        LDI t2, 3
        PUSH t0, t1, t2
        LDI t0, 0
        LDI t1, 0
        LDI t2, 0
        LD a0, [sp]
        LD a1, [sp+16]
        POP t0, t1, t2
        HLT
`
	c, _ := runSource(t, src)
	if regVal(t, c, "a0") != 3 || regVal(t, c, "a1") != 1 {
		t.Errorf("stack top %d, bottom %d", regVal(t, c, "a0"), regVal(t, c, "a1"))
	}
	for i, name := range []string{"t0", "t1", "t2"} {
		if regVal(t, c, name) != int64(i+1) {
			t.Errorf("%s = %d after POP", name, regVal(t, c, name))
		}
	}
	if uint64(regVal(t, c, "sp")) != memory.DefaultLayout().StackTop() {
		t.Errorf("sp not restored")
	}
}

func TestJumpTempSkipsOperands(t *testing.T) {
	in, _ := ParseInstr("JZ target, t0", 1, false)
	syms := NewSymbolTable()
	syms.Define("target", 0x30000, 1)
	out, err := NewExpander(syms).Expand(in)
	if err != nil {
		t.Fatal(err)
	}
	last := out[len(out)-1]
	if last.Mnemonic != "JZ" || last.Operands[0].Reg == isa.RegT0 || last.Operands[1].Reg != isa.RegT0 {
		t.Errorf("jump rewritten as %s", last)
	}
	for _, n := range out {
		for _, op := range n.Operands {
			if op.Kind == KindRegister && op.Reg == isa.RegT0 && n.Mnemonic != "JZ" {
				t.Errorf("expansion clobbers operand register: %s", n)
			}
		}
	}
}

func TestTempPoolExhaustion(t *testing.T) {
	var p tempPool
	for i := 0; i < isa.NumTemps; i++ {
		if _, err := p.take(); err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
	}
	if _, err := p.take(); !errors.Is(err, ErrTempsExhausted) {
		t.Fatalf("10th take err = %v", err)
	}

	skip := tempPool{taken: []int{isa.Temp(0), isa.Temp(1)}}
	if r, _ := skip.take(); r != isa.Temp(2) {
		t.Errorf("take skipped to %s", isa.RegisterName(r))
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"duplicate label", "a: NOP\na: HLT", ErrDuplicateLabel},
		{"undefined label", "JMP nowhere", ErrUndefinedLabel},
		{"scratch in source", "MOV x, t0", ErrScratchRegister},
		{"displacement range", "LD t0, [sp+1000]", ErrImmediateRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.src)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	for _, src := range []string{
		"FOO t0", "ADD t0, t1", "MOV t0, 5", "LDI 5, t0", "PUSH", "PUSH 3",
		"LDI sp, 100000", "JZ target", "RET t0", "sp: HLT", "LD t0, label",
	} {
		if _, err := Assemble(src + "\ntarget: HLT\nlabel: HLT"); err == nil {
			t.Errorf("Assemble(%q) should fail", src)
		}
	}
}

func TestEncodeRejectsWideImmediate(t *testing.T) {
	in, _ := ParseInstr("LDI t0, 600", 3, true)
	if _, err := encodeNative(in); !errors.Is(err, ErrImmediateRange) {
		t.Fatalf("err = %v", err)
	}
}

func TestListingDisassemblesToSameText(t *testing.T) {
	prog, err := Assemble(`
main: LDI t0, 1000
      ST [sp-8], t0
      LD a0, [sp-8]
      JAL ra, t0
      CALL main
      HLT
`)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range prog.Listing {
		if got := Disassemble(n.Word); got != n.Text {
			t.Errorf("Disassemble(%#08x) = %q, listing says %q", n.Word, got, n.Text)
		}
	}
	if prog.SourceMap[prog.Origin] != 2 {
		t.Errorf("source map for origin = %d", prog.SourceMap[prog.Origin])
	}
	if prog.End() != prog.Origin+uint64(4*len(prog.Words)) {
		t.Errorf("End mismatch")
	}
}

func TestCustomOrigin(t *testing.T) {
	prog, err := New(Options{Origin: 0}).Assemble("here: LDIU t0, here\nJMP t0")
	if err != nil {
		t.Fatal(err)
	}
	if prog.Symbols["here"] != 0 || prog.Listing[0].Addr != 0 {
		t.Errorf("origin not honoured: %+v", prog.Symbols)
	}
	if len(prog.Words) != wideBodyWords+1 {
		t.Errorf("label load should always be wide, got %d words", len(prog.Words))
	}
}

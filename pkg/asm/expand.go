package asm

import (
	"fmt"

	"github.com/samber/lo"

	"triton/pkg/isa"
)

// Expansion sizes in words. PredictSize and Expand must agree on these.
const (
	pushWords     = 3
	wideBodyWords = 29
	safeWideWords = 2*pushWords + wideBodyWords + 2*pushWords
)

var aluOps = map[string]bool{
	"ADD": true, "SUB": true, "MUL": true, "DIV": true, "MOD": true,
	"AND": true, "OR": true, "XOR": true, "SHL": true, "SHR": true, "SAR": true,
}

var branchOps = map[string]bool{"JZ": true, "JNZ": true, "JP": true, "JN": true}

// isWide reports whether loading op needs the multi-chunk sequence. Labels
// always do, whatever their final value.
func isWide(op Operand) bool {
	return op.Kind == KindLabel || !isa.FitsImm(op.Value)
}

func loadWords(op Operand, safe bool) int {
	switch {
	case !isWide(op):
		return 1
	case safe:
		return safeWideWords
	default:
		return wideBodyWords
	}
}

func isValue(op Operand) bool {
	return op.Kind == KindImmediate || op.Kind == KindLabel
}

func wantCount(in Instr, counts ...int) error {
	if lo.Contains(counts, len(in.Operands)) {
		return nil
	}
	if len(counts) == 1 {
		return fmt.Errorf("%s expects %d operands on line %d", in.Mnemonic, counts[0], in.Line)
	}
	return fmt.Errorf("%s expects %d or %d operands on line %d", in.Mnemonic, counts[0], counts[1], in.Line)
}

func wantRegister(in Instr, i int) error {
	if in.Operands[i].Kind != KindRegister {
		return fmt.Errorf("%s operand %d must be a register, got %s on line %d", in.Mnemonic, i+1, in.Operands[i].Kind, in.Line)
	}
	return nil
}

func wantRegisters(in Instr, idx ...int) error {
	for _, i := range idx {
		if err := wantRegister(in, i); err != nil {
			return err
		}
	}
	return nil
}

// jumpTargetWords sizes a jump whose target is operand t.
func jumpTargetWords(in Instr, t int) (int, error) {
	op := in.Operands[t]
	switch {
	case op.Kind == KindRegister:
		return 1, nil
	case isValue(op):
		return loadWords(op, true) + 1, nil
	}
	return 0, fmt.Errorf("%s target must be a register or label on line %d", in.Mnemonic, in.Line)
}

// PredictSize returns how many native words in expands to. It depends only on
// the mnemonic and the syntax of the operands, never on label values, and it
// validates the operands as a side effect.
func PredictSize(in Instr) (int, error) {
	switch m := in.Mnemonic; {
	case m == "LDI" || m == "LDIU":
		if err := wantCount(in, 2); err != nil {
			return 0, err
		}
		if err := wantRegister(in, 0); err != nil {
			return 0, err
		}
		if !isValue(in.Operands[1]) {
			return 0, fmt.Errorf("%s needs an immediate or label on line %d", m, in.Line)
		}
		safe := m == "LDI"
		if safe && isWide(in.Operands[1]) && in.Operands[0].Reg == isa.RegSP {
			return 0, fmt.Errorf("wide LDI into sp on line %d saves temporaries on the stack; use LDIU", in.Line)
		}
		return loadWords(in.Operands[1], safe), nil

	case m == "JMP" || m == "CALL":
		if err := wantCount(in, 1); err != nil {
			return 0, err
		}
		return jumpTargetWords(in, 0)

	case branchOps[m]:
		if err := wantCount(in, 2); err != nil {
			return 0, err
		}
		if err := wantRegister(in, 1); err != nil {
			return 0, err
		}
		return jumpTargetWords(in, 0)

	case m == "JAL":
		if err := wantCount(in, 1, 2); err != nil {
			return 0, err
		}
		if len(in.Operands) == 2 {
			if err := wantRegister(in, 0); err != nil {
				return 0, err
			}
		}
		return jumpTargetWords(in, len(in.Operands)-1)

	case m == "RET":
		return 1, wantCount(in, 0)

	case m == "PUSH" || m == "POP":
		if len(in.Operands) == 0 {
			return 0, fmt.Errorf("%s needs at least one register on line %d", m, in.Line)
		}
		for i := range in.Operands {
			if err := wantRegister(in, i); err != nil {
				return 0, err
			}
		}
		return pushWords * len(in.Operands), nil

	case aluOps[m]:
		if err := wantCount(in, 3); err != nil {
			return 0, err
		}
		if err := wantRegisters(in, 0, 1); err != nil {
			return 0, err
		}
		third := in.Operands[2]
		if third.Kind == KindRegister {
			return 1, nil
		}
		if !isValue(third) {
			return 0, fmt.Errorf("%s third operand must be a register, immediate or label on line %d", m, in.Line)
		}
		return loadWords(third, true) + 1, nil
	}

	op, ok := isa.LookupOpcode(in.Mnemonic)
	if !ok {
		return 0, fmt.Errorf("unknown instruction on line %d: %s", in.Line, in.Mnemonic)
	}
	if _, err := normalizeNative(op, in); err != nil {
		return 0, err
	}
	return 1, nil
}

// normalizeNative checks the operands of a native instruction against its
// format and rewrites bare registers in LD/ST address position to [reg].
func normalizeNative(op isa.Opcode, in Instr) (Instr, error) {
	switch op.Format() {
	case isa.FormatNone:
		return in, wantCount(in, 0)
	case isa.FormatRR:
		if err := wantCount(in, 2); err != nil {
			return in, err
		}
		return in, wantRegisters(in, 0, 1)
	case isa.FormatRRR:
		if err := wantCount(in, 3); err != nil {
			return in, err
		}
		return in, wantRegisters(in, 0, 1, 2)
	case isa.FormatJump:
		if err := wantCount(in, 1); err != nil {
			return in, err
		}
		return in, wantRegister(in, 0)
	case isa.FormatBranch, isa.FormatLink:
		if err := wantCount(in, 2); err != nil {
			return in, err
		}
		return in, wantRegisters(in, 0, 1)
	case isa.FormatImm:
		if err := wantCount(in, 2); err != nil {
			return in, err
		}
		if err := wantRegister(in, 0); err != nil {
			return in, err
		}
		v := in.Operands[1]
		if v.Kind != KindImmediate {
			return in, fmt.Errorf("%s needs an immediate on line %d", in.Mnemonic, in.Line)
		}
		if !isa.FitsImm(v.Value) {
			return in, fmt.Errorf("%w: %d on line %d", ErrImmediateRange, v.Value, in.Line)
		}
		return in, nil
	case isa.FormatLoad, isa.FormatStore:
		if err := wantCount(in, 2); err != nil {
			return in, err
		}
		addr, val := 1, 0
		if op.Format() == isa.FormatStore {
			addr, val = 0, 1
		}
		if err := wantRegister(in, val); err != nil {
			return in, err
		}
		ops := append([]Operand(nil), in.Operands...)
		switch ops[addr].Kind {
		case KindRegister:
			ops[addr] = mem(ops[addr].Reg, 0)
		case KindMemory:
			if !isa.FitsImm(ops[addr].Value) {
				return in, fmt.Errorf("%w: displacement %d on line %d", ErrImmediateRange, ops[addr].Value, in.Line)
			}
		default:
			return in, fmt.Errorf("%s needs a memory operand on line %d", in.Mnemonic, in.Line)
		}
		in.Operands = ops
		return in, nil
	}
	return in, fmt.Errorf("unknown instruction on line %d: %s", in.Line, in.Mnemonic)
}

// tempPool hands out t0..t8, skipping registers the instruction itself uses.
type tempPool struct {
	taken []int
}

func (p *tempPool) take() (int, error) {
	for i := 0; i < isa.NumTemps; i++ {
		r := isa.Temp(i)
		if !lo.Contains(p.taken, r) {
			p.taken = append(p.taken, r)
			return r, nil
		}
	}
	return 0, ErrTempsExhausted
}

// emitter collects the native instructions for one source instruction.
type emitter struct {
	line int
	pool tempPool
	out  []Instr
}

func (e *emitter) op(mnemonic string, ops ...Operand) {
	e.out = append(e.out, Instr{Line: e.line, Mnemonic: mnemonic, Operands: ops})
}

func (e *emitter) push(r int) {
	e.op("LDI", reg(isa.RegX), imm(8))
	e.op("SUB", reg(isa.RegSP), reg(isa.RegSP), reg(isa.RegX))
	e.op("ST", mem(isa.RegSP, 0), reg(r))
}

func (e *emitter) pop(r int) {
	e.op("LD", reg(r), mem(isa.RegSP, 0))
	e.op("LDI", reg(isa.RegX), imm(8))
	e.op("ADD", reg(isa.RegSP), reg(isa.RegSP), reg(isa.RegX))
}

// load puts v into rd. Wide values are built from seven chunks: 4 bits, then
// six 10-bit chunks, using a 0x3FF mask in m and the shift amount in s.
func (e *emitter) load(rd int, v int64, wide, safe bool) error {
	if !wide {
		e.op("LDI", reg(rd), imm(v))
		return nil
	}
	if safe && rd == isa.RegSP {
		return fmt.Errorf("wide LDI into sp on line %d saves temporaries on the stack; use LDIU", e.line)
	}
	m, err := e.pool.take()
	if err != nil {
		return fmt.Errorf("%w on line %d", err, e.line)
	}
	s, err := e.pool.take()
	if err != nil {
		return fmt.Errorf("%w on line %d", err, e.line)
	}

	if safe {
		e.push(m)
		e.push(s)
	}
	u := uint64(v)
	e.op("LDI", reg(m), imm(-1))
	e.op("LDI", reg(s), imm(54))
	e.op("SHR", reg(m), reg(m), reg(s))
	e.op("LDI", reg(s), imm(10))
	e.op("LDI", reg(rd), imm(int64(u>>60)))
	for i := 5; i >= 0; i-- {
		chunk := uint32(u>>(10*uint(i))) & 0x3FF
		e.op("SHL", reg(rd), reg(rd), reg(s))
		e.op("LDI", reg(isa.RegX), imm(int64(isa.SignExtend10(chunk))))
		e.op("AND", reg(isa.RegX), reg(isa.RegX), reg(m))
		e.op("OR", reg(rd), reg(rd), reg(isa.RegX))
	}
	if safe {
		e.pop(s)
		e.pop(m)
	}
	return nil
}

// Expander rewrites pseudo-instructions into native ones, resolving labels
// through the symbol table filled by pass 1.
type Expander struct {
	symbols *SymbolTable
}

func NewExpander(symbols *SymbolTable) *Expander {
	return &Expander{symbols: symbols}
}

func (x *Expander) value(op Operand, line int) (int64, error) {
	if op.Kind == KindLabel {
		addr, err := x.symbols.Resolve(op.Label, line)
		return int64(addr), err
	}
	return op.Value, nil
}

// jump emits a jump whose target is operand t; other operands pass through.
func (x *Expander) jump(e *emitter, in Instr, t int) error {
	target := in.Operands[t]
	if target.Kind == KindRegister {
		e.op(in.Mnemonic, in.Operands...)
		return nil
	}
	v, err := x.value(target, in.Line)
	if err != nil {
		return err
	}
	tmp, err := e.pool.take()
	if err != nil {
		return fmt.Errorf("%w on line %d", err, in.Line)
	}
	if err := e.load(tmp, v, isWide(target), true); err != nil {
		return err
	}
	ops := append([]Operand(nil), in.Operands...)
	ops[t] = reg(tmp)
	e.op(in.Mnemonic, ops...)
	return nil
}

// Expand returns the native instructions for in. The operands must already
// have been validated by PredictSize.
func (x *Expander) Expand(in Instr) ([]Instr, error) {
	e := &emitter{line: in.Line, pool: tempPool{taken: in.registers()}}

	switch m := in.Mnemonic; {
	case m == "LDI" || m == "LDIU":
		v, err := x.value(in.Operands[1], in.Line)
		if err != nil {
			return nil, err
		}
		if err := e.load(in.Operands[0].Reg, v, isWide(in.Operands[1]), m == "LDI"); err != nil {
			return nil, err
		}

	case m == "JMP" || branchOps[m]:
		if err := x.jump(e, in, 0); err != nil {
			return nil, err
		}

	case m == "JAL" || m == "CALL":
		link := Instr{Line: in.Line, Mnemonic: "JAL", Operands: []Operand{reg(isa.RegRA), in.Operands[len(in.Operands)-1]}}
		if m == "JAL" && len(in.Operands) == 2 {
			link.Operands[0] = in.Operands[0]
		}
		if err := x.jump(e, link, 1); err != nil {
			return nil, err
		}

	case m == "RET":
		e.op("JMP", reg(isa.RegRA))

	case m == "PUSH":
		for _, op := range in.Operands {
			e.push(op.Reg)
		}

	case m == "POP":
		for i := len(in.Operands) - 1; i >= 0; i-- {
			e.pop(in.Operands[i].Reg)
		}

	case aluOps[m] && in.Operands[2].Kind != KindRegister:
		third := in.Operands[2]
		v, err := x.value(third, in.Line)
		if err != nil {
			return nil, err
		}
		tmp, err := e.pool.take()
		if err != nil {
			return nil, fmt.Errorf("%w on line %d", err, in.Line)
		}
		if err := e.load(tmp, v, isWide(third), true); err != nil {
			return nil, err
		}
		e.op(m, in.Operands[0], in.Operands[1], reg(tmp))

	default:
		op, ok := isa.LookupOpcode(m)
		if !ok {
			return nil, fmt.Errorf("unknown instruction on line %d: %s", in.Line, m)
		}
		native, err := normalizeNative(op, in)
		if err != nil {
			return nil, err
		}
		e.out = append(e.out, native)
	}
	return e.out, nil
}

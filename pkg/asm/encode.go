package asm

import (
	"fmt"
	"strings"

	"triton/pkg/isa"
)

// encodeNative turns a fully native instruction into a machine word.
func encodeNative(in Instr) (uint32, error) {
	op, ok := isa.LookupOpcode(in.Mnemonic)
	if !ok {
		return 0, fmt.Errorf("unknown instruction on line %d: %s", in.Line, in.Mnemonic)
	}
	in, err := normalizeNative(op, in)
	if err != nil {
		return 0, err
	}

	word := isa.Instruction{Op: op}
	ops := in.Operands
	switch op.Format() {
	case isa.FormatRR:
		word.Dest, word.Src1 = uint8(ops[0].Reg), uint8(ops[1].Reg)
	case isa.FormatRRR:
		word.Dest, word.Src1, word.Src2 = uint8(ops[0].Reg), uint8(ops[1].Reg), uint8(ops[2].Reg)
	case isa.FormatJump:
		word.Src1 = uint8(ops[0].Reg)
	case isa.FormatBranch:
		word.Src1, word.Src2 = uint8(ops[0].Reg), uint8(ops[1].Reg)
	case isa.FormatLink:
		word.Dest, word.Src1 = uint8(ops[0].Reg), uint8(ops[1].Reg)
	case isa.FormatLoad:
		word.Dest, word.Src1, word.Imm = uint8(ops[0].Reg), uint8(ops[1].Reg), int32(ops[1].Value)
	case isa.FormatStore:
		word.Src1, word.Src2, word.Imm = uint8(ops[0].Reg), uint8(ops[1].Reg), int32(ops[0].Value)
	case isa.FormatImm:
		word.Dest, word.Imm = uint8(ops[0].Reg), int32(ops[1].Value)
	}
	return isa.Encode(word), nil
}

// Disassemble renders a machine word in assembler syntax.
func Disassemble(word uint32) string {
	in := isa.Decode(word)
	if !in.Op.Valid() {
		return fmt.Sprintf(".word %#08x", word)
	}
	r := func(i uint8) string { return isa.RegisterName(int(i)) }
	m := func(base uint8, off int32) string { return mem(int(base), int64(off)).String() }

	var ops []string
	switch in.Op.Format() {
	case isa.FormatRR:
		ops = []string{r(in.Dest), r(in.Src1)}
	case isa.FormatRRR:
		ops = []string{r(in.Dest), r(in.Src1), r(in.Src2)}
	case isa.FormatJump:
		ops = []string{r(in.Src1)}
	case isa.FormatBranch:
		ops = []string{r(in.Src1), r(in.Src2)}
	case isa.FormatLink:
		ops = []string{r(in.Dest), r(in.Src1)}
	case isa.FormatLoad:
		ops = []string{r(in.Dest), m(in.Src1, in.Imm)}
	case isa.FormatStore:
		ops = []string{m(in.Src1, in.Imm), r(in.Src2)}
	case isa.FormatImm:
		ops = []string{r(in.Dest), fmt.Sprint(in.Imm)}
	}
	if len(ops) == 0 {
		return in.Op.String()
	}
	return in.Op.String() + " " + strings.Join(ops, ", ")
}

package asm

import (
	"fmt"
	"strconv"
	"strings"

	"triton/pkg/isa"
)

type OperandKind int

const (
	KindRegister OperandKind = iota
	KindImmediate
	KindLabel
	KindMemory
)

func (k OperandKind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindImmediate:
		return "immediate"
	case KindLabel:
		return "label"
	case KindMemory:
		return "memory"
	}
	return "operand"
}

// Operand is one parsed instruction operand. Memory operands carry the base
// register in Reg and the displacement in Value.
type Operand struct {
	Kind  OperandKind
	Reg   int
	Value int64
	Label string
}

func (o Operand) String() string {
	switch o.Kind {
	case KindRegister:
		return isa.RegisterName(o.Reg)
	case KindImmediate:
		return strconv.FormatInt(o.Value, 10)
	case KindLabel:
		return o.Label
	case KindMemory:
		switch {
		case o.Value == 0:
			return "[" + isa.RegisterName(o.Reg) + "]"
		case o.Value > 0:
			return fmt.Sprintf("[%s+%d]", isa.RegisterName(o.Reg), o.Value)
		default:
			return fmt.Sprintf("[%s%d]", isa.RegisterName(o.Reg), o.Value)
		}
	}
	return "?"
}

func reg(r int) Operand   { return Operand{Kind: KindRegister, Reg: r} }
func imm(v int64) Operand { return Operand{Kind: KindImmediate, Value: v} }
func mem(r int, off int64) Operand {
	return Operand{Kind: KindMemory, Reg: r, Value: off}
}

// Instr is a parsed instruction line.
type Instr struct {
	Line     int
	Mnemonic string
	Operands []Operand
}

func (in Instr) String() string {
	if len(in.Operands) == 0 {
		return in.Mnemonic
	}
	parts := make([]string, len(in.Operands))
	for i, op := range in.Operands {
		parts[i] = op.String()
	}
	return in.Mnemonic + " " + strings.Join(parts, ", ")
}

// registers lists every register the instruction names.
func (in Instr) registers() []int {
	var regs []int
	for _, op := range in.Operands {
		if op.Kind == KindRegister || op.Kind == KindMemory {
			regs = append(regs, op.Reg)
		}
	}
	return regs
}

// ParseInstr splits an instruction line into mnemonic and operands. The
// scratch register is only accepted when allowScratch is set.
func ParseInstr(text string, line int, allowScratch bool) (Instr, error) {
	in := Instr{Line: line}
	mnemonic, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	in.Mnemonic = strings.ToUpper(mnemonic)
	if in.Mnemonic == "" {
		return in, fmt.Errorf("missing mnemonic on line %d", line)
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return in, nil
	}
	for _, field := range strings.Split(rest, ",") {
		op, err := ParseOperand(strings.TrimSpace(field))
		if err != nil {
			return in, fmt.Errorf("%v on line %d", err, line)
		}
		if !allowScratch && (op.Kind == KindRegister || op.Kind == KindMemory) && op.Reg == isa.RegX {
			return in, fmt.Errorf("%w on line %d", ErrScratchRegister, line)
		}
		in.Operands = append(in.Operands, op)
	}
	return in, nil
}

// ParseOperand recognizes registers, integers (decimal, 0x, 0b), memory
// operands and, failing those, label references.
func ParseOperand(text string) (Operand, error) {
	if text == "" {
		return Operand{}, fmt.Errorf("empty operand")
	}

	if strings.HasPrefix(text, "[") {
		if !strings.HasSuffix(text, "]") {
			return Operand{}, fmt.Errorf("unterminated memory operand '%s'", text)
		}
		return parseMemory(strings.ReplaceAll(text[1:len(text)-1], " ", ""))
	}

	if r, ok := isa.Register(text); ok {
		return reg(r), nil
	}
	if v, ok := parseInt(text); ok {
		return imm(v), nil
	}
	if isIdentifier(text) {
		return Operand{Kind: KindLabel, Label: text}, nil
	}
	return Operand{}, fmt.Errorf("invalid operand '%s'", text)
}

func parseMemory(inner string) (Operand, error) {
	base, off := inner, ""
	if i := strings.IndexAny(inner, "+-"); i > 0 {
		base, off = inner[:i], inner[i:]
	}
	r, ok := isa.Register(base)
	if !ok {
		return Operand{}, fmt.Errorf("invalid base register '%s'", base)
	}
	if off == "" {
		return mem(r, 0), nil
	}
	v, ok := parseInt(off)
	if !ok {
		return Operand{}, fmt.Errorf("invalid displacement '%s'", off)
	}
	return mem(r, v), nil
}

// parseInt accepts an optional sign followed by a decimal, 0x or 0b literal.
// Values up to 2^64-1 wrap into the signed range.
func parseInt(s string) (int64, bool) {
	neg := false
	body := s
	switch {
	case strings.HasPrefix(body, "-"):
		neg, body = true, body[1:]
	case strings.HasPrefix(body, "+"):
		body = body[1:]
	}
	if body == "" || body[0] < '0' || body[0] > '9' {
		return 0, false
	}

	base := 10
	lower := strings.ToLower(body)
	switch {
	case strings.HasPrefix(lower, "0x"):
		base, body = 16, body[2:]
	case strings.HasPrefix(lower, "0b"):
		base, body = 2, body[2:]
	}
	u, err := strconv.ParseUint(body, base, 64)
	if err != nil {
		return 0, false
	}
	v := int64(u)
	if neg {
		v = -v
	}
	return v, true
}

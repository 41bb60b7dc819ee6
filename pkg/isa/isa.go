// Package isa defines the Triton-64 instruction word and opcode catalog.
package isa

import "strings"

type Opcode uint8

const (
	OpNOP Opcode = 0x00
	OpHLT Opcode = 0x01
	OpMOV Opcode = 0x02
	OpNOT Opcode = 0x03
	OpNEG Opcode = 0x04
	OpADD Opcode = 0x05
	OpSUB Opcode = 0x06
	OpMUL Opcode = 0x07
	OpDIV Opcode = 0x08
	OpMOD Opcode = 0x09
	OpAND Opcode = 0x0A
	OpOR  Opcode = 0x0B
	OpXOR Opcode = 0x0C
	OpSHL Opcode = 0x0D
	OpSHR Opcode = 0x0E
	OpSAR Opcode = 0x0F
	OpJMP Opcode = 0x10
	OpJZ  Opcode = 0x11
	OpJNZ Opcode = 0x12
	OpJP  Opcode = 0x13
	OpJN  Opcode = 0x14
	OpJAL Opcode = 0x15
	OpLD  Opcode = 0x16
	OpST  Opcode = 0x17
	OpLDI Opcode = 0x18
)

// Field widths and positions of the 32-bit instruction word.
const (
	opcodeShift = 25
	destShift   = 20
	src1Shift   = 15
	src2Shift   = 10

	opcodeMask = 0x7F
	regMask    = 0x1F
	immMask    = 0x3FF
	immSign    = 0x200

	ImmMin = -512
	ImmMax = 511

	WordSize = 4
)

// Format tells the assembler which operands a native instruction takes.
type Format int

const (
	FormatNone   Format = iota // NOP, HLT
	FormatRR                   // MOV rd, rs
	FormatRRR                  // ADD rd, rs1, rs2
	FormatJump                 // JMP target
	FormatBranch               // JZ target, test
	FormatLink                 // JAL link, target
	FormatLoad                 // LD rd, [rs+imm]
	FormatStore                // ST [rs+imm], rv
	FormatImm                  // LDI rd, imm
)

type opInfo struct {
	name   string
	format Format
}

var opTable = map[Opcode]opInfo{
	OpNOP: {"NOP", FormatNone},
	OpHLT: {"HLT", FormatNone},
	OpMOV: {"MOV", FormatRR},
	OpNOT: {"NOT", FormatRR},
	OpNEG: {"NEG", FormatRR},
	OpADD: {"ADD", FormatRRR},
	OpSUB: {"SUB", FormatRRR},
	OpMUL: {"MUL", FormatRRR},
	OpDIV: {"DIV", FormatRRR},
	OpMOD: {"MOD", FormatRRR},
	OpAND: {"AND", FormatRRR},
	OpOR:  {"OR", FormatRRR},
	OpXOR: {"XOR", FormatRRR},
	OpSHL: {"SHL", FormatRRR},
	OpSHR: {"SHR", FormatRRR},
	OpSAR: {"SAR", FormatRRR},
	OpJMP: {"JMP", FormatJump},
	OpJZ:  {"JZ", FormatBranch},
	OpJNZ: {"JNZ", FormatBranch},
	OpJP:  {"JP", FormatBranch},
	OpJN:  {"JN", FormatBranch},
	OpJAL: {"JAL", FormatLink},
	OpLD:  {"LD", FormatLoad},
	OpST:  {"ST", FormatStore},
	OpLDI: {"LDI", FormatImm},
}

var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opTable))
	for op, info := range opTable {
		m[info.name] = op
	}
	return m
}()

func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return "OP?"
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opTable[op]
	return ok
}

func (op Opcode) Format() Format {
	return opTable[op].format
}

// LookupOpcode resolves a native mnemonic (case-insensitive).
func LookupOpcode(mnemonic string) (Opcode, bool) {
	op, ok := mnemonics[strings.ToUpper(mnemonic)]
	return op, ok
}

// Instruction is a decoded instruction word.
type Instruction struct {
	Op   Opcode
	Dest uint8
	Src1 uint8
	Src2 uint8
	Imm  int32
}

// Encode packs an instruction into one machine word. Every field is masked to
// its width, so out-of-range values are truncated rather than rejected.
func Encode(in Instruction) uint32 {
	return uint32(in.Op&opcodeMask)<<opcodeShift |
		uint32(in.Dest&regMask)<<destShift |
		uint32(in.Src1&regMask)<<src1Shift |
		uint32(in.Src2&regMask)<<src2Shift |
		uint32(in.Imm)&immMask
}

// Decode unpacks a machine word. The immediate is sign-extended.
func Decode(word uint32) Instruction {
	return Instruction{
		Op:   Opcode(word >> opcodeShift & opcodeMask),
		Dest: uint8(word >> destShift & regMask),
		Src1: uint8(word >> src1Shift & regMask),
		Src2: uint8(word >> src2Shift & regMask),
		Imm:  SignExtend10(word & immMask),
	}
}

// SignExtend10 interprets the low 10 bits of v as a two's complement value.
func SignExtend10(v uint32) int32 {
	v &= immMask
	return int32(v^immSign) - immSign
}

// FitsImm reports whether v can be carried in the immediate field.
func FitsImm(v int64) bool {
	return v >= ImmMin && v <= ImmMax
}

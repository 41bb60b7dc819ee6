// Package asm is the Triton-64 two-pass assembler.
//
// Pass 1 assigns an address to every label, advancing by the predicted
// expansion size of each instruction. Expansion then rewrites pseudo
// instructions into native ones, and pass 2 re-parses and encodes the native
// stream. Because label values are baked into expansions, the prediction must
// match the expansion exactly; Assemble checks this for every instruction.
package asm

import (
	"encoding/binary"
	"fmt"
	"io"

	"triton/pkg/isa"
	"triton/pkg/memory"
)

type Options struct {
	// Origin is the address of the first instruction.
	Origin uint64
}

func DefaultOptions() Options {
	return Options{Origin: memory.DefaultLayout().CodeBase()}
}

// Native is one instruction of the expanded program.
type Native struct {
	Addr uint64
	Line int
	Text string
	Word uint32
}

// Program is the result of assembly.
type Program struct {
	Origin    uint64
	Words     []uint32
	Symbols   map[string]uint64
	SourceMap map[uint64]int
	Listing   []Native
}

// Bytes returns the words in little-endian order.
func (p *Program) Bytes() []byte {
	out := make([]byte, 4*len(p.Words))
	for i, w := range p.Words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

// End is the address just past the last word.
func (p *Program) End() uint64 {
	return p.Origin + uint64(isa.WordSize*len(p.Words))
}

// WriteListing prints address, word and text for every instruction, with
// labels on their own lines.
func (p *Program) WriteListing(w io.Writer) error {
	labels := make(map[uint64][]string)
	for name, addr := range p.Symbols {
		labels[addr] = append(labels[addr], name)
	}
	for _, n := range p.Listing {
		for _, l := range labels[n.Addr] {
			if _, err := fmt.Fprintf(w, "%s:\n", l); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "  %08x  %08x  %-24s ; line %d\n", n.Addr, n.Word, n.Text, n.Line); err != nil {
			return err
		}
	}
	return nil
}

type Assembler struct {
	opts    Options
	symbols *SymbolTable
}

type planned struct {
	instr Instr
	addr  uint64
	size  int
}

func New(opts Options) *Assembler {
	return &Assembler{opts: opts, symbols: NewSymbolTable()}
}

// Assemble assembles src at the default origin (the RAM base).
func Assemble(src string) (*Program, error) {
	return New(DefaultOptions()).Assemble(src)
}

func (a *Assembler) Symbols() *SymbolTable { return a.symbols }

func (a *Assembler) Assemble(src string) (*Program, error) {
	a.symbols = NewSymbolTable()
	lines, err := Preprocess(src)
	if err != nil {
		return nil, err
	}
	plan, err := a.pass1(lines)
	if err != nil {
		return nil, err
	}
	native, err := a.expand(plan)
	if err != nil {
		return nil, err
	}
	return a.pass2(native)
}

func (a *Assembler) pass1(lines []Line) ([]planned, error) {
	addr := a.opts.Origin
	var plan []planned
	for _, l := range lines {
		if l.IsLabel() {
			if err := a.symbols.Define(l.Label, addr, l.Num); err != nil {
				return nil, err
			}
			continue
		}
		in, err := ParseInstr(l.Text, l.Num, false)
		if err != nil {
			return nil, err
		}
		size, err := PredictSize(in)
		if err != nil {
			return nil, err
		}
		plan = append(plan, planned{instr: in, addr: addr, size: size})
		addr += uint64(isa.WordSize * size)
	}
	return plan, nil
}

func (a *Assembler) expand(plan []planned) ([]Native, error) {
	x := NewExpander(a.symbols)
	var out []Native
	for _, p := range plan {
		expanded, err := x.Expand(p.instr)
		if err != nil {
			return nil, err
		}
		if len(expanded) != p.size {
			return nil, fmt.Errorf("internal error: %s on line %d expanded to %d words, predicted %d",
				p.instr.Mnemonic, p.instr.Line, len(expanded), p.size)
		}
		for i, n := range expanded {
			out = append(out, Native{
				Addr: p.addr + uint64(isa.WordSize*i),
				Line: p.instr.Line,
				Text: n.String(),
			})
		}
	}
	return out, nil
}

func (a *Assembler) pass2(native []Native) (*Program, error) {
	prog := &Program{
		Origin:    a.opts.Origin,
		Words:     make([]uint32, 0, len(native)),
		Symbols:   a.symbols.Map(),
		SourceMap: make(map[uint64]int, len(native)),
		Listing:   native,
	}
	for i := range native {
		n := &native[i]
		in, err := ParseInstr(n.Text, n.Line, true)
		if err != nil {
			return nil, err
		}
		word, err := encodeNative(in)
		if err != nil {
			return nil, err
		}
		n.Word = word
		prog.Words = append(prog.Words, word)
		prog.SourceMap[n.Addr] = n.Line
	}
	return prog, nil
}

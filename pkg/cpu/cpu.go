// Package cpu is the Triton-64 interpreter.
package cpu

import (
	"context"
	"errors"
	"fmt"

	"triton/pkg/isa"
)

var (
	ErrDivideByZero  = errors.New("division by zero")
	ErrUnknownOpcode = errors.New("unknown opcode")
)

// State is the interpreter's run state. Every state except Running is terminal.
type State int

const (
	Running State = iota
	Halted
	RunawayDetected
	Faulted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Halted:
		return "halted"
	case RunawayDetected:
		return "runaway"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Bus is the memory the CPU executes against.
type Bus interface {
	ReadInt(addr uint64) (uint32, error)
	ReadLong(addr uint64) (uint64, error)
	WriteLong(addr uint64, v uint64) error
}

// Fault is a fatal runtime error. Err is one of ErrDivideByZero,
// ErrUnknownOpcode or a memory error.
type Fault struct {
	PC   uint64
	Word uint32
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at pc=%#x (word %#08x): %v", f.PC, f.Word, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

type Options struct {
	// NopLimit is the number of consecutive NOPs after which execution is
	// treated as having run off the end of the program. 0 disables the guard.
	NopLimit int
	// CheckEvery is how many steps Run executes between context checks.
	CheckEvery int
	// Trace, if set, is called before each instruction executes.
	Trace func(pc uint64, in isa.Instruction)
}

func DefaultOptions() Options {
	return Options{NopLimit: 64, CheckEvery: 4096}
}

type CPU struct {
	Regs [isa.NumRegisters]uint64
	PC   uint64

	bus   Bus
	opts  Options
	state State
	nops  int
	steps uint64
	fault *Fault
}

func New(bus Bus, opts Options) *CPU {
	if opts.CheckEvery <= 0 {
		opts.CheckEvery = 1
	}
	return &CPU{bus: bus, opts: opts}
}

// Reset clears all registers and restarts execution at pc.
func (c *CPU) Reset(pc uint64) {
	c.Regs = [isa.NumRegisters]uint64{}
	c.PC = pc
	c.state = Running
	c.nops = 0
	c.steps = 0
	c.fault = nil
}

func (c *CPU) State() State      { return c.state }
func (c *CPU) Steps() uint64     { return c.steps }
func (c *CPU) LastFault() *Fault { return c.fault }
func (c *CPU) Stopped() bool     { return c.state != Running }

func (c *CPU) fail(pc uint64, word uint32, err error) error {
	c.state = Faulted
	c.fault = &Fault{PC: pc, Word: word, Err: err}
	return c.fault
}

// Step executes one instruction. It does nothing once the CPU has stopped.
func (c *CPU) Step() error {
	if c.state != Running {
		return nil
	}

	pc := c.PC
	word, err := c.bus.ReadInt(pc)
	if err != nil {
		return c.fail(pc, 0, err)
	}
	c.PC = pc + isa.WordSize
	c.steps++

	in := isa.Decode(word)
	if c.opts.Trace != nil {
		c.opts.Trace(pc, in)
	}

	if in.Op == isa.OpNOP {
		c.nops++
		if c.opts.NopLimit > 0 && c.nops >= c.opts.NopLimit {
			c.state = RunawayDetected
		}
		return nil
	}
	c.nops = 0

	r := &c.Regs
	s1 := r[in.Src1]
	s2 := r[in.Src2]
	imm := uint64(int64(in.Imm))

	switch in.Op {
	case isa.OpHLT:
		c.state = Halted

	case isa.OpMOV:
		r[in.Dest] = s1
	case isa.OpNOT:
		r[in.Dest] = ^s1
	case isa.OpNEG:
		r[in.Dest] = -s1

	case isa.OpADD:
		r[in.Dest] = s1 + s2
	case isa.OpSUB:
		r[in.Dest] = s1 - s2
	case isa.OpMUL:
		r[in.Dest] = s1 * s2
	case isa.OpDIV:
		if s2 == 0 {
			return c.fail(pc, word, ErrDivideByZero)
		}
		r[in.Dest] = uint64(int64(s1) / int64(s2))
	case isa.OpMOD:
		if s2 == 0 {
			return c.fail(pc, word, ErrDivideByZero)
		}
		r[in.Dest] = uint64(int64(s1) % int64(s2))
	case isa.OpAND:
		r[in.Dest] = s1 & s2
	case isa.OpOR:
		r[in.Dest] = s1 | s2
	case isa.OpXOR:
		r[in.Dest] = s1 ^ s2
	case isa.OpSHL:
		r[in.Dest] = s1 << (s2 & 63)
	case isa.OpSHR:
		r[in.Dest] = s1 >> (s2 & 63)
	case isa.OpSAR:
		r[in.Dest] = uint64(int64(s1) >> (s2 & 63))

	case isa.OpJMP:
		c.PC = s1
	case isa.OpJZ:
		if s2 == 0 {
			c.PC = s1
		}
	case isa.OpJNZ:
		if s2 != 0 {
			c.PC = s1
		}
	case isa.OpJP:
		if int64(s2) > 0 {
			c.PC = s1
		}
	case isa.OpJN:
		if int64(s2) < 0 {
			c.PC = s1
		}
	case isa.OpJAL:
		// s1 was read before the link write, so JAL ra, ra works.
		r[in.Dest] = c.PC
		c.PC = s1

	case isa.OpLD:
		v, err := c.bus.ReadLong(s1 + imm)
		if err != nil {
			return c.fail(pc, word, err)
		}
		r[in.Dest] = v
	case isa.OpST:
		if err := c.bus.WriteLong(s1+imm, s2); err != nil {
			return c.fail(pc, word, err)
		}
	case isa.OpLDI:
		r[in.Dest] = imm

	default:
		return c.fail(pc, word, fmt.Errorf("%w %#02x", ErrUnknownOpcode, uint8(in.Op)))
	}
	return nil
}

// Run steps until the CPU halts, detects runaway execution or faults. The
// context is polled every Options.CheckEvery steps.
func (c *CPU) Run(ctx context.Context) error {
	for n := 0; c.state == Running; n++ {
		if n%c.opts.CheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// RunSteps executes at most limit instructions and reports how many ran.
func (c *CPU) RunSteps(limit int) (int, error) {
	n := 0
	for ; n < limit && c.state == Running; n++ {
		if err := c.Step(); err != nil {
			return n + 1, err
		}
	}
	return n, nil
}

// Snapshot is a copy of the architectural state.
type Snapshot struct {
	Regs  [isa.NumRegisters]uint64
	PC    uint64
	State State
	Steps uint64
}

func (c *CPU) Snapshot() Snapshot {
	return Snapshot{Regs: c.Regs, PC: c.PC, State: c.state, Steps: c.steps}
}

// Restore loads a snapshot taken earlier. A faulted snapshot restores as
// stopped without its fault detail.
func (c *CPU) Restore(s Snapshot) {
	c.Regs = s.Regs
	c.PC = s.PC
	c.state = s.State
	c.steps = s.Steps
	c.nops = 0
	c.fault = nil
}

package compiler

import (
	"errors"
	"fmt"
	"strings"

	"triton/pkg/isa"
)

// CodeGen walks a checked AST and emits Triton-64 assembly text.
//
// Every value lives in a temporary from the RegisterManager. Generation
// never relies on the assembler's ALU-immediate or jump-to-label forms,
// since those clobber an unnamed temporary the manager knows nothing about;
// constants and labels are always loaded into a managed register first.
type CodeGen struct {
	out       strings.Builder
	nextLabel int
	regs      RegisterManager
	frame     StackManager
	globals   *GlobalManager
	saved     [][]int // temporaries pushed around each call in progress
	loops     []LoopLabel
	retLabel  string
	result    *Type // result type of the function being generated
	lines     []string
}

// LoopLabel holds the branch targets of the innermost loop.
type LoopLabel struct {
	Start string // continue target
	End   string // break target
}

func newCodeGen(lines []string) *CodeGen {
	return &CodeGen{globals: NewGlobalManager(), lines: lines}
}

// Generate emits the whole program: _start first, then every function.
func Generate(prog *Program, lines []string) (string, error) {
	cg := newCodeGen(lines)

	for _, g := range prog.Globals() {
		cg.globals.Declare(g.Sym.Slot, g.Sym.Type)
	}

	// Global initializers run inside _start, before main.
	if err := cg.genGlobalInits(prog.Globals()); err != nil {
		return "", err
	}
	initCode := cg.take()

	for _, f := range prog.Funcs() {
		if err := cg.genFunc(f); err != nil {
			return "", err
		}
	}
	funcCode := cg.take()

	// Strings are only known once every function has been generated.
	cg.label("_start")
	if err := cg.genStringInits(); err != nil {
		return "", err
	}
	cg.out.WriteString(initCode)
	cg.comment("enter main")
	if err := cg.call("main"); err != nil {
		return "", err
	}
	cg.line("HLT")
	cg.out.WriteString(funcCode)
	return cg.out.String(), nil
}

// take returns and clears the text emitted so far.
func (cg *CodeGen) take() string {
	s := cg.out.String()
	cg.out.Reset()
	return s
}

func (cg *CodeGen) newLabel() string {
	l := fmt.Sprintf("__L%d", cg.nextLabel)
	cg.nextLabel++
	return l
}

func (cg *CodeGen) line(format string, args ...any) {
	cg.out.WriteString("    ")
	fmt.Fprintf(&cg.out, format, args...)
	cg.out.WriteByte('\n')
}

func (cg *CodeGen) label(name string) {
	cg.out.WriteString(name)
	cg.out.WriteString(":\n")
}

func (cg *CodeGen) comment(format string, args ...any) {
	cg.line("; "+format, args...)
}

// wrap attaches a source line to errors that do not carry one yet.
func (cg *CodeGen) wrap(line int, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return errorf(StageCodegen, cg.lines, line, "%v", err)
}

func reg(r int) string { return isa.RegisterName(r) }

func memOp(base int, off int) string {
	switch {
	case off == 0:
		return fmt.Sprintf("[%s]", reg(base))
	case off < 0:
		return fmt.Sprintf("[%s-%d]", reg(base), -off)
	}
	return fmt.Sprintf("[%s+%d]", reg(base), off)
}

func (cg *CodeGen) alloc() (int, error) { return cg.regs.Alloc() }

func (cg *CodeGen) free(rs ...int) {
	for _, r := range rs {
		cg.regs.Free(r)
	}
}

func (cg *CodeGen) ldi(r int, v int64) { cg.line("LDI %s, %d", reg(r), v) }

func (cg *CodeGen) op3(op string, d, a, b int) {
	cg.line("%s %s, %s, %s", op, reg(d), reg(a), reg(b))
}

// applyImm computes r = r op v through a scratch temporary.
func (cg *CodeGen) applyImm(op string, r int, v int64) error {
	t, err := cg.alloc()
	if err != nil {
		return err
	}
	cg.ldi(t, v)
	cg.op3(op, r, r, t)
	cg.free(t)
	return nil
}

// jump emits an unconditional jump to label.
func (cg *CodeGen) jump(label string) error {
	t, err := cg.alloc()
	if err != nil {
		return err
	}
	cg.line("LDI %s, %s", reg(t), label)
	cg.line("JMP %s", reg(t))
	cg.free(t)
	return nil
}

// branch emits a conditional jump (JZ, JNZ, JP, JN) on test to label.
func (cg *CodeGen) branch(op, label string, test int) error {
	t, err := cg.alloc()
	if err != nil {
		return err
	}
	cg.line("LDI %s, %s", reg(t), label)
	cg.line("%s %s, %s", op, reg(t), reg(test))
	cg.free(t)
	return nil
}

// withAddress hands fn a memory operand for base+off, materializing the
// address in a temporary when off does not fit a displacement.
func (cg *CodeGen) withAddress(base, off int, fn func(mem string)) error {
	if isa.FitsImm(int64(off)) {
		fn(memOp(base, off))
		return nil
	}
	t, err := cg.alloc()
	if err != nil {
		return err
	}
	cg.ldi(t, int64(off))
	cg.op3("ADD", t, base, t)
	fn(memOp(t, 0))
	cg.free(t)
	return nil
}

// cell returns the base register and offset of a variable's storage.
func (cg *CodeGen) cell(sym *Symbol) (int, int, error) {
	if sym.Kind == SymGlobal {
		off, ok := cg.globals.Offset(sym.Slot)
		if !ok {
			return 0, 0, fmt.Errorf("global %s has no storage", sym.Name)
		}
		return isa.RegGP, off, nil
	}
	if !cg.frame.active {
		return 0, 0, fmt.Errorf("%w: %s", ErrNoFrame, sym.Name)
	}
	off, ok := cg.frame.Offset(sym.Slot)
	if !ok {
		return 0, 0, fmt.Errorf("variable %s has no storage", sym.Name)
	}
	return isa.RegFP, off, nil
}

//  Program setup

// genStringInits writes every interned string into the global region a cell
// at a time. Memory starts zeroed, so all-zero cells are skipped.
func (cg *CodeGen) genStringInits() error {
	strs := cg.globals.Strings()
	if len(strs) == 0 {
		return nil
	}
	cg.comment("string constants")
	v, err := cg.alloc()
	if err != nil {
		return err
	}
	defer cg.free(v)
	for _, s := range strs {
		data := append([]byte(s.Value), 0)
		for i := 0; i < len(data); i += cellSize {
			var word int64
			for j := 0; j < cellSize && i+j < len(data); j++ {
				word |= int64(data[i+j]) << (8 * j)
			}
			if word == 0 {
				continue
			}
			cg.ldi(v, word)
			err := cg.withAddress(isa.RegGP, s.Offset+i, func(mem string) {
				cg.line("ST %s, %s", mem, reg(v))
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (cg *CodeGen) genGlobalInits(globals []*GlobalDecl) error {
	for _, g := range globals {
		if g.Init == nil {
			continue
		}
		cg.comment("init %s", g.Sym.Name)
		if err := cg.assignVar(g.Sym, g.Init); err != nil {
			return cg.wrap(g.Line, err)
		}
		if err := cg.regs.CheckLeaks(); err != nil {
			return cg.wrap(g.Line, err)
		}
	}
	return nil
}

//  Functions

func (cg *CodeGen) genFunc(f *FuncDecl) error {
	cg.regs.Reset()
	cg.frame.Begin()
	defer cg.frame.End()

	for i, p := range f.Params {
		if err := cg.frame.DeclareParam(p.Slot, i); err != nil {
			return cg.wrap(f.Line, err)
		}
	}
	if err := cg.declareLocals(f.Body); err != nil {
		return err
	}

	cg.retLabel = cg.newLabel()
	cg.result = f.Result
	cg.out.WriteByte('\n')
	cg.label(f.Name)
	cg.line("PUSH ra, fp")
	cg.line("MOV fp, sp")
	if size := cg.frame.FrameSize(); size > 0 {
		// No temporaries are live here, so the expander's scratch is free.
		cg.line("SUB sp, sp, %d", size)
	}

	if err := cg.genBlock(f.Body); err != nil {
		return err
	}

	cg.label(cg.retLabel)
	cg.line("MOV sp, fp")
	cg.line("POP ra, fp")
	cg.line("JMP ra")

	if err := cg.regs.CheckLeaks(); err != nil {
		return errorf(StageCodegen, cg.lines, f.Line, "function %s: %v", f.Name, err)
	}
	return nil
}

// declareLocals gives every local in the body a frame slot up front, so the
// frame size is known before the prologue is written.
func (cg *CodeGen) declareLocals(s Stmt) error {
	switch n := s.(type) {
	case *VarStmt:
		if _, err := cg.frame.Declare(n.Sym.Slot, n.Sym.Type); err != nil {
			return cg.wrap(n.Line, err)
		}
	case *BlockStmt:
		for _, c := range n.Stmts {
			if err := cg.declareLocals(c); err != nil {
				return err
			}
		}
	case *IfStmt:
		if err := cg.declareLocals(n.Then); err != nil {
			return err
		}
		if n.Else != nil {
			return cg.declareLocals(n.Else)
		}
	case *WhileStmt:
		return cg.declareLocals(n.Body)
	}
	return nil
}

//  Statements

func (cg *CodeGen) genBlock(b *BlockStmt) error {
	for _, s := range b.Stmts {
		if err := cg.genStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (cg *CodeGen) genStmt(s Stmt) error {
	var err error
	switch n := s.(type) {
	case *VarStmt:
		err = cg.genVar(n)
	case *AssignStmt:
		err = cg.genAssign(n.Target, n.Value)
	case *IncDecStmt:
		err = cg.genIncDec(n)
	case *IfStmt:
		err = cg.genIf(n)
	case *WhileStmt:
		err = cg.genWhile(n)
	case *ReturnStmt:
		err = cg.genReturn(n)
	case *BreakStmt:
		if len(cg.loops) == 0 {
			err = errors.New("break outside loop")
		} else {
			err = cg.jump(cg.loops[len(cg.loops)-1].End)
		}
	case *ContinueStmt:
		if len(cg.loops) == 0 {
			err = errors.New("continue outside loop")
		} else {
			err = cg.jump(cg.loops[len(cg.loops)-1].Start)
		}
	case *AsmStmt:
		for _, l := range n.Lines {
			cg.line("%s", l)
		}
	case *BlockStmt:
		err = cg.genBlock(n)
	case *ExprStmt:
		var r int
		r, err = cg.genExpr(n.X)
		if err == nil {
			cg.free(r)
		}
	default:
		err = fmt.Errorf("unhandled statement %T", s)
	}
	if err != nil {
		return cg.wrap(s.Pos(), err)
	}
	return nil
}

func (cg *CodeGen) genVar(s *VarStmt) error {
	if s.Init != nil {
		return cg.assignVar(s.Sym, s.Init)
	}
	if !s.Sym.Type.IsScalar() {
		return nil
	}
	// Scalars start at zero on every entry to their declaration.
	base, off, err := cg.cell(s.Sym)
	if err != nil {
		return err
	}
	r, err := cg.alloc()
	if err != nil {
		return err
	}
	cg.ldi(r, 0)
	err = cg.withAddress(base, off, func(mem string) {
		cg.line("ST %s, %s", mem, reg(r))
	})
	cg.free(r)
	return err
}

// assignVar stores value into a variable cell as a sign-extended 64-bit word.
func (cg *CodeGen) assignVar(sym *Symbol, value Expr) error {
	v, err := cg.genValue(value)
	if err != nil {
		return err
	}
	defer cg.free(v)
	if err := cg.normalize(v, sym.Type); err != nil {
		return err
	}
	base, off, err := cg.cell(sym)
	if err != nil {
		return err
	}
	return cg.withAddress(base, off, func(mem string) {
		cg.line("ST %s, %s", mem, reg(v))
	})
}

func (cg *CodeGen) genAssign(target, value Expr) error {
	if v, ok := target.(*VarExpr); ok {
		return cg.assignVar(v.Sym, value)
	}
	v, err := cg.genValue(value)
	if err != nil {
		return err
	}
	defer cg.free(v)
	a, err := cg.genAddr(target)
	if err != nil {
		return err
	}
	defer cg.free(a)
	return cg.storeMem(a, v, target.Type())
}

func (cg *CodeGen) genIncDec(s *IncDecStmt) error {
	t := s.Target.Type()
	step := int64(1)
	if t.IsPointer() {
		step = int64(t.Elem.Size())
	}
	op := "ADD"
	if s.Op == MINUS_MINUS {
		op = "SUB"
	}

	a, err := cg.genAddr(s.Target)
	if err != nil {
		return err
	}
	defer cg.free(a)
	v, err := cg.alloc()
	if err != nil {
		return err
	}
	defer cg.free(v)
	cg.line("LD %s, %s", reg(v), memOp(a, 0))
	if err := cg.normalize(v, t); err != nil {
		return err
	}
	if err := cg.applyImm(op, v, step); err != nil {
		return err
	}
	if _, isVar := s.Target.(*VarExpr); isVar {
		if err := cg.normalize(v, t); err != nil {
			return err
		}
		cg.line("ST %s, %s", memOp(a, 0), reg(v))
		return nil
	}
	return cg.storeMem(a, v, t)
}

func (cg *CodeGen) genIf(s *IfStmt) error {
	elseLabel := cg.newLabel()
	if err := cg.branchFalse(s.Cond, elseLabel); err != nil {
		return err
	}
	if err := cg.genBlock(s.Then); err != nil {
		return err
	}
	if s.Else == nil {
		cg.label(elseLabel)
		return nil
	}
	endLabel := cg.newLabel()
	if err := cg.jump(endLabel); err != nil {
		return err
	}
	cg.label(elseLabel)
	if err := cg.genStmt(s.Else); err != nil {
		return err
	}
	cg.label(endLabel)
	return nil
}

func (cg *CodeGen) genWhile(s *WhileStmt) error {
	loop := LoopLabel{Start: cg.newLabel(), End: cg.newLabel()}
	cg.label(loop.Start)
	if err := cg.branchFalse(s.Cond, loop.End); err != nil {
		return err
	}
	cg.loops = append(cg.loops, loop)
	err := cg.genBlock(s.Body)
	cg.loops = cg.loops[:len(cg.loops)-1]
	if err != nil {
		return err
	}
	if err := cg.jump(loop.Start); err != nil {
		return err
	}
	cg.label(loop.End)
	return nil
}

func (cg *CodeGen) genReturn(s *ReturnStmt) error {
	if s.Value != nil {
		r, err := cg.genExpr(s.Value)
		if err != nil {
			return err
		}
		// Callers see the result as a value of the declared type.
		if cg.result != nil && cg.result.IsScalar() {
			if err := cg.normalize(r, cg.result); err != nil {
				cg.free(r)
				return err
			}
		}
		cg.line("MOV a0, %s", reg(r))
		cg.free(r)
	}
	return cg.jump(cg.retLabel)
}

//  Calls

// call emits a call to a routine taking no arguments from _start, where no
// temporaries are live.
func (cg *CodeGen) call(name string) error {
	t, err := cg.alloc()
	if err != nil {
		return err
	}
	cg.line("LDI %s, %s", reg(t), name)
	cg.line("JAL ra, %s", reg(t))
	cg.free(t)
	return nil
}

// genCall saves live temporaries, pushes the arguments so arg0 ends up at
// the lowest address, calls, pops the arguments and restores the saved
// temporaries. The result comes back in a0 and is copied to a fresh
// temporary.
func (cg *CodeGen) genCall(c *CallExpr) (res int, err error) {
	live := cg.regs.Live()
	if len(live) > 0 {
		cg.line("PUSH %s", regList(live))
		cg.regs.Release(live)
	}
	cg.saved = append(cg.saved, live)
	restored := false
	defer func() {
		if !restored {
			cg.saved = cg.saved[:len(cg.saved)-1]
			cg.regs.Reclaim(live)
		}
	}()

	args := make([]int, 0, len(c.Args))
	for _, a := range c.Args {
		r, err := cg.genExpr(a)
		if err != nil {
			cg.free(args...)
			return 0, err
		}
		args = append(args, r)
	}
	if len(args) > 0 {
		rev := make([]int, len(args))
		for i, r := range args {
			rev[len(args)-1-i] = r
		}
		cg.line("PUSH %s", regList(rev))
		cg.free(args...)
	}

	if err := cg.call(c.Name); err != nil {
		return 0, err
	}
	if len(args) > 0 {
		t, err := cg.alloc()
		if err != nil {
			return 0, err
		}
		cg.ldi(t, int64(cellSize*len(args)))
		cg.op3("ADD", isa.RegSP, isa.RegSP, t)
		cg.free(t)
	}

	cg.saved = cg.saved[:len(cg.saved)-1]
	cg.regs.Reclaim(live)
	restored = true
	res, err = cg.alloc()
	if err != nil {
		return 0, err
	}
	cg.line("MOV %s, a0", reg(res))
	if len(live) > 0 {
		cg.line("POP %s", regList(live))
	}
	return res, nil
}

func regList(rs []int) string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = reg(r)
	}
	return strings.Join(names, ", ")
}

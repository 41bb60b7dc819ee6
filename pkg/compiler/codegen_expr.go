package compiler

import (
	"fmt"

	"triton/pkg/isa"
)

var arithOps = map[TokenType]string{
	PLUS:    "ADD",
	MINUS:   "SUB",
	STAR:    "MUL",
	SLASH:   "DIV",
	PERCENT: "MOD",
	AND:     "AND",
	PIPE:    "OR",
	CARET:   "XOR",
	SHL_OP:  "SHL",
	SHR_OP:  "SAR",
}

func isComparison(op TokenType) bool {
	switch op {
	case EQUALS, NOT_EQ, LESS, GREATER, LESS_EQ, GREATER_EQ:
		return true
	}
	return false
}

// normalize sign-extends r from the width of t. Long and pointer values are
// left alone.
func (cg *CodeGen) normalize(r int, t *Type) error {
	return cg.truncate(r, t.Bits())
}

func (cg *CodeGen) truncate(r int, bits int) error {
	if bits >= 64 {
		return nil
	}
	s, err := cg.alloc()
	if err != nil {
		return err
	}
	cg.ldi(s, int64(64-bits))
	cg.op3("SHL", r, r, s)
	cg.op3("SAR", r, r, s)
	cg.free(s)
	return nil
}

// genValue evaluates the right-hand side of an assignment, which may be an
// array literal.
func (cg *CodeGen) genValue(e Expr) (int, error) {
	if lit, ok := e.(*ArrayLit); ok {
		return cg.genArrayLit(lit)
	}
	return cg.genExpr(e)
}

// genExpr evaluates e into a freshly allocated temporary owned by the
// caller.
func (cg *CodeGen) genExpr(e Expr) (int, error) {
	switch n := e.(type) {
	case *IntLit:
		r, err := cg.alloc()
		if err != nil {
			return 0, err
		}
		cg.ldi(r, n.Value)
		return r, nil

	case *StringLit:
		r, err := cg.alloc()
		if err != nil {
			return 0, err
		}
		cg.ldi(r, int64(cg.globals.String(n.Value)))
		cg.op3("ADD", r, isa.RegGP, r)
		return r, nil

	case *VarExpr:
		if !n.Sym.Type.IsScalar() {
			return 0, fmt.Errorf("struct %s used as a value", n.Sym.Name)
		}
		base, off, err := cg.cell(n.Sym)
		if err != nil {
			return 0, err
		}
		r, err := cg.alloc()
		if err != nil {
			return 0, err
		}
		err = cg.withAddress(base, off, func(mem string) {
			cg.line("LD %s, %s", reg(r), mem)
		})
		if err != nil {
			return 0, err
		}
		return r, cg.normalize(r, n.Sym.Type)

	case *BinaryExpr:
		if isComparison(n.Op) {
			return cg.materialize(n)
		}
		return cg.genBinary(n)

	case *LogicalExpr:
		return cg.materialize(n)

	case *UnaryExpr:
		if n.Op == NOT {
			return cg.materialize(n)
		}
		r, err := cg.genExpr(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case MINUS:
			cg.line("NEG %s, %s", reg(r), reg(r))
		case TILDE:
			cg.line("NOT %s, %s", reg(r), reg(r))
		default:
			return 0, fmt.Errorf("unhandled unary operator %s", n.Op)
		}
		return r, nil

	case *AddrExpr:
		return cg.genAddr(n.X)

	case *DerefExpr, *FieldExpr, *IndexExpr:
		if !e.Type().IsScalar() {
			return 0, fmt.Errorf("struct %s used as a value", e)
		}
		a, err := cg.genAddr(e)
		if err != nil {
			return 0, err
		}
		cg.line("LD %s, %s", reg(a), memOp(a, 0))
		return a, cg.normalize(a, e.Type())

	case *CallExpr:
		return cg.genCall(n)

	case *ConvertExpr:
		r, err := cg.genExpr(n.X)
		if err != nil {
			return 0, err
		}
		return r, cg.truncate(r, min(n.X.Type().Bits(), n.To.Bits()))

	case *ArrayLit:
		return 0, fmt.Errorf("array literal is only allowed as an assignment value")
	}
	return 0, fmt.Errorf("unhandled expression %T", e)
}

func (cg *CodeGen) genBinary(n *BinaryExpr) (int, error) {
	op, ok := arithOps[n.Op]
	if !ok {
		return 0, fmt.Errorf("unhandled binary operator %s", n.Op)
	}
	l, err := cg.genExpr(n.Left)
	if err != nil {
		return 0, err
	}
	r, err := cg.genExpr(n.Right)
	if err != nil {
		return 0, err
	}
	defer cg.free(r)

	lt, rt := n.Left.Type(), n.Right.Type()
	switch {
	case n.Op == MINUS && lt.IsPointer() && rt.IsPointer():
		cg.op3("SUB", l, l, r)
		if size := lt.Elem.Size(); size > 1 {
			return l, cg.applyImm("DIV", l, int64(size))
		}
		return l, nil
	case (n.Op == PLUS || n.Op == MINUS) && lt.IsPointer():
		if err := cg.scale(r, lt.Elem); err != nil {
			return 0, err
		}
	case n.Op == PLUS && rt.IsPointer():
		if err := cg.scale(l, rt.Elem); err != nil {
			return 0, err
		}
	}
	cg.op3(op, l, l, r)
	return l, nil
}

// scale multiplies an index held in r by the size of elem.
func (cg *CodeGen) scale(r int, elem *Type) error {
	if size := elem.Size(); size != 1 {
		return cg.applyImm("MUL", r, int64(size))
	}
	return nil
}

// genAddr evaluates the address of an addressable expression.
func (cg *CodeGen) genAddr(e Expr) (int, error) {
	switch n := e.(type) {
	case *VarExpr:
		base, off, err := cg.cell(n.Sym)
		if err != nil {
			return 0, err
		}
		r, err := cg.alloc()
		if err != nil {
			return 0, err
		}
		cg.ldi(r, int64(off))
		cg.op3("ADD", r, base, r)
		return r, nil

	case *DerefExpr:
		return cg.genExpr(n.X)

	case *FieldExpr:
		var r int
		var err error
		if n.Indirect {
			r, err = cg.genExpr(n.X)
		} else {
			r, err = cg.genAddr(n.X)
		}
		if err != nil {
			return 0, err
		}
		if n.Field.Offset != 0 {
			if err := cg.applyImm("ADD", r, int64(n.Field.Offset)); err != nil {
				return 0, err
			}
		}
		return r, nil

	case *IndexExpr:
		r, err := cg.genExpr(n.X)
		if err != nil {
			return 0, err
		}
		i, err := cg.genExpr(n.Index)
		if err != nil {
			return 0, err
		}
		if err := cg.scale(i, n.T); err != nil {
			return 0, err
		}
		cg.op3("ADD", r, r, i)
		cg.free(i)
		return r, nil
	}
	return 0, fmt.Errorf("%s is not addressable", e)
}

// storeMem writes the low t.Size() bytes of v to [a]. Loads and stores are
// always 64-bit, so narrower values merge into the existing word.
func (cg *CodeGen) storeMem(a, v int, t *Type) error {
	if t.Size() >= 8 {
		cg.line("ST %s, %s", memOp(a, 0), reg(v))
		return nil
	}
	old, err := cg.alloc()
	if err != nil {
		return err
	}
	defer cg.free(old)
	mask, err := cg.alloc()
	if err != nil {
		return err
	}
	defer cg.free(mask)
	shift, err := cg.alloc()
	if err != nil {
		return err
	}
	defer cg.free(shift)

	cg.line("LD %s, %s", reg(old), memOp(a, 0))
	cg.ldi(mask, -1)
	cg.ldi(shift, int64(t.Bits()))
	cg.op3("SHL", mask, mask, shift)
	cg.op3("AND", old, old, mask)
	cg.line("NOT %s, %s", reg(mask), reg(mask))
	cg.op3("AND", v, v, mask)
	cg.op3("OR", old, old, v)
	cg.line("ST %s, %s", memOp(a, 0), reg(old))
	return nil
}

// genArrayLit carves the literal's storage from the heap and returns its
// address. Elements are stored at the element width.
func (cg *CodeGen) genArrayLit(lit *ArrayLit) (int, error) {
	size := alignUp(len(lit.Elems)*lit.Elem.Size(), cellSize)
	base, err := cg.alloc()
	if err != nil {
		return 0, err
	}
	cg.line("MOV %s, hp", reg(base))
	if err := cg.applyImm("ADD", isa.RegHP, int64(size)); err != nil {
		return 0, err
	}
	for i, el := range lit.Elems {
		if !el.Type().IsScalar() {
			return 0, fmt.Errorf("array element %s is not a scalar", el)
		}
		v, err := cg.genExpr(el)
		if err != nil {
			return 0, err
		}
		a, err := cg.alloc()
		if err != nil {
			return 0, err
		}
		cg.ldi(a, int64(i*lit.Elem.Size()))
		cg.op3("ADD", a, base, a)
		if err := cg.storeMem(a, v, lit.Elem); err != nil {
			return 0, err
		}
		cg.free(a, v)
	}
	return base, nil
}

package compiler

// Comparisons subtract the right operand from the left and test the sign of
// the difference. Tests that need "zero or positive" take two branches to
// the same target instead of a skip label.
var (
	// LESS and GREATER fail on zero as well as on the wrong sign, so their
	// false tests list two jumps. LESS_EQ and GREATER_EQ do the same in
	// trueJumps.
	falseJumps = map[TokenType][]string{
		LESS:       {"JP", "JZ"},
		GREATER:    {"JN", "JZ"},
		LESS_EQ:    {"JP"},
		GREATER_EQ: {"JN"},
		EQUALS:     {"JNZ"},
		NOT_EQ:     {"JZ"},
	}
	trueJumps = map[TokenType][]string{
		LESS:       {"JN"},
		GREATER:    {"JP"},
		LESS_EQ:    {"JN", "JZ"},
		GREATER_EQ: {"JP", "JZ"},
		EQUALS:     {"JZ"},
		NOT_EQ:     {"JNZ"},
	}
)

// branchFalse jumps to label when cond is false and falls through otherwise.
func (cg *CodeGen) branchFalse(cond Expr, label string) error {
	return cg.branchOn(cond, label, false)
}

// branchTrue jumps to label when cond is true.
func (cg *CodeGen) branchTrue(cond Expr, label string) error {
	return cg.branchOn(cond, label, true)
}

func (cg *CodeGen) branchOn(cond Expr, label string, when bool) error {
	switch n := cond.(type) {
	case *BinaryExpr:
		if isComparison(n.Op) {
			jumps := falseJumps[n.Op]
			if when {
				jumps = trueJumps[n.Op]
			}
			return cg.compare(n, jumps, label)
		}

	case *LogicalExpr:
		// a && b is false if either side is; a || b is true if either side is.
		if (n.Op == AND_LOGICAL) != when {
			if err := cg.branchOn(n.Left, label, when); err != nil {
				return err
			}
			return cg.branchOn(n.Right, label, when)
		}
		skip := cg.newLabel()
		if err := cg.branchOn(n.Left, skip, !when); err != nil {
			return err
		}
		if err := cg.branchOn(n.Right, label, when); err != nil {
			return err
		}
		cg.label(skip)
		return nil

	case *UnaryExpr:
		if n.Op == NOT {
			return cg.branchOn(n.X, label, !when)
		}

	case *IntLit:
		if (n.Value != 0) == when {
			return cg.jump(label)
		}
		return nil
	}

	r, err := cg.genExpr(cond)
	if err != nil {
		return err
	}
	defer cg.free(r)
	op := "JZ"
	if when {
		op = "JNZ"
	}
	return cg.branch(op, label, r)
}

func (cg *CodeGen) compare(n *BinaryExpr, jumps []string, label string) error {
	l, err := cg.genExpr(n.Left)
	if err != nil {
		return err
	}
	defer cg.free(l)
	r, err := cg.genExpr(n.Right)
	if err != nil {
		return err
	}
	cg.op3("SUB", l, l, r)
	cg.free(r)
	for _, op := range jumps {
		if err := cg.branch(op, label, l); err != nil {
			return err
		}
	}
	return nil
}

// materialize turns a condition into 0 or 1.
func (cg *CodeGen) materialize(cond Expr) (int, error) {
	r, err := cg.alloc()
	if err != nil {
		return 0, err
	}
	done := cg.newLabel()
	cg.ldi(r, 0)
	if err := cg.branchFalse(cond, done); err != nil {
		return 0, err
	}
	cg.ldi(r, 1)
	cg.label(done)
	return r, nil
}

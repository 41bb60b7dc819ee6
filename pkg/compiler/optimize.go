package compiler

import "strings"

// eliminateDeadFunctions drops functions that cannot be reached from main or
// from a global initializer. Inline assembly keeps alive any function whose
// name appears as an operand.
func eliminateDeadFunctions(prog *Program) *Program {
	funcs := make(map[string]*FuncDecl)
	for _, f := range prog.Funcs() {
		if _, dup := funcs[f.Name]; !dup {
			funcs[f.Name] = f
		}
	}

	reachable := make(map[string]bool)
	var worklist []string
	addReachable := func(name string) {
		if _, ok := funcs[name]; ok && !reachable[name] {
			reachable[name] = true
			worklist = append(worklist, name)
		}
	}

	addReachable("main")
	for _, g := range prog.Globals() {
		calls := make(map[string]bool)
		findCallsExpr(g.Init, calls)
		for call := range calls {
			addReachable(call)
		}
	}

	for len(worklist) > 0 {
		curr := worklist[0]
		worklist = worklist[1:]

		calls := make(map[string]bool)
		findCallsStmt(funcs[curr].Body, calls)
		for call := range calls {
			addReachable(call)
		}
	}

	out := &Program{}
	for _, d := range prog.Decls {
		if f, ok := d.(*FuncDecl); ok && !reachable[f.Name] {
			continue
		}
		out.Decls = append(out.Decls, d)
	}
	return out
}

// findCallsExpr recursively extracts function call names from an expression.
func findCallsExpr(e Expr, calls map[string]bool) {
	switch n := e.(type) {
	case *CallExpr:
		calls[n.Name] = true
		for _, arg := range n.Args {
			findCallsExpr(arg, calls)
		}
	case *BinaryExpr:
		findCallsExpr(n.Left, calls)
		findCallsExpr(n.Right, calls)
	case *LogicalExpr:
		findCallsExpr(n.Left, calls)
		findCallsExpr(n.Right, calls)
	case *UnaryExpr:
		findCallsExpr(n.X, calls)
	case *AddrExpr:
		findCallsExpr(n.X, calls)
	case *DerefExpr:
		findCallsExpr(n.X, calls)
	case *ConvertExpr:
		findCallsExpr(n.X, calls)
	case *FieldExpr:
		findCallsExpr(n.X, calls)
	case *IndexExpr:
		findCallsExpr(n.X, calls)
		findCallsExpr(n.Index, calls)
	case *ArrayLit:
		for _, el := range n.Elems {
			findCallsExpr(el, calls)
		}
	case nil, *IntLit, *StringLit, *VarExpr:
		// No function calls here
	}
}

// findCallsStmt recursively extracts function call names from a statement.
func findCallsStmt(s Stmt, calls map[string]bool) {
	switch n := s.(type) {
	case *VarStmt:
		findCallsExpr(n.Init, calls)
	case *AssignStmt:
		findCallsExpr(n.Target, calls)
		findCallsExpr(n.Value, calls)
	case *IncDecStmt:
		findCallsExpr(n.Target, calls)
	case *ReturnStmt:
		findCallsExpr(n.Value, calls)
	case *BlockStmt:
		if n == nil {
			return
		}
		for _, child := range n.Stmts {
			findCallsStmt(child, calls)
		}
	case *IfStmt:
		findCallsExpr(n.Cond, calls)
		findCallsStmt(n.Then, calls)
		findCallsStmt(n.Else, calls)
	case *WhileStmt:
		findCallsExpr(n.Cond, calls)
		findCallsStmt(n.Body, calls)
	case *ExprStmt:
		findCallsExpr(n.X, calls)
	case *AsmStmt:
		for _, line := range n.Lines {
			for _, f := range strings.FieldsFunc(line, isOperandSeparator) {
				calls[f] = true
			}
		}
	case nil, *BreakStmt, *ContinueStmt:
	}
}

func isOperandSeparator(r rune) bool {
	return r == ' ' || r == '\t' || r == ',' || r == '[' || r == ']' || r == '+' || r == '-' || r == ':'
}

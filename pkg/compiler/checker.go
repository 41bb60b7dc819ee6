package compiler

import (
	"strings"

	"github.com/samber/lo"

	"triton/pkg/isa"
)

// Check validates program shape only: a parameterless main must exist, and
// function and global names must be unique and usable as assembler labels.
// It is not a type checker.
func Check(prog *Program, lines []string) error {
	funcs := prog.Funcs()
	globals := prog.Globals()

	main, ok := lo.Find(funcs, func(f *FuncDecl) bool { return f.Name == "main" })
	if !ok {
		return errorf(StageCheck, lines, 0, "no main function")
	}
	if len(main.Params) != 0 {
		return errorf(StageCheck, lines, main.Line, "main must not take parameters")
	}

	names := append(
		lo.Map(funcs, func(f *FuncDecl, _ int) string { return f.Name }),
		lo.Map(globals, func(g *GlobalDecl, _ int) string { return g.Sym.Name })...,
	)
	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		line := 0
		for _, d := range prog.Decls {
			if declName(d) == dups[0] {
				line = d.Pos()
			}
		}
		return errorf(StageCheck, lines, line, "%s is defined more than once", dups[0])
	}

	for _, f := range funcs {
		if reason := badLabel(f.Name); reason != "" {
			return errorf(StageCheck, lines, f.Line, "function name %s %s", f.Name, reason)
		}
	}
	return nil
}

func declName(d Decl) string {
	switch n := d.(type) {
	case *FuncDecl:
		return n.Name
	case *GlobalDecl:
		return n.Sym.Name
	case *StructDecl:
		return n.Def.Name
	}
	return ""
}

// badLabel explains why name cannot be a function label, or returns "".
// Mnemonics are fine: the assembler reads an operand or a "name:" line as a
// label whatever it spells, but a register name would parse as a register.
func badLabel(name string) string {
	if _, ok := isa.Register(name); ok {
		return "collides with a register name"
	}
	if strings.HasPrefix(name, "_") {
		return "is reserved (leading underscore)"
	}
	return ""
}

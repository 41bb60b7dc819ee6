package compiler

import (
	"errors"
	"fmt"
	"strings"

	"triton/pkg/asm"
)

// Options controls a compilation.
type Options struct {
	// Libraries resolves import lines. Nil means the embedded libraries.
	Libraries LibraryStore
	// KeepDead disables dead function pruning.
	KeepDead bool
}

// Output holds the result of every stage, for tools that want to show them.
type Output struct {
	Source   string // linked source
	Tokens   []Token
	AST      *Program
	Assembly string
	Program  *asm.Program
}

// Compile runs the whole pipeline with default options and returns the
// assembled program.
func Compile(src string) (*asm.Program, error) {
	out, err := CompileWith(src, Options{})
	if err != nil {
		return nil, err
	}
	return out.Program, nil
}

// CompileWith runs the pipeline and keeps the intermediate results. On error
// the stages that completed are still filled in. Line numbers in errors refer
// to src; errors inside an imported library say so.
func CompileWith(src string, opts Options) (*Output, error) {
	out := &Output{}
	linked, prefix, err := link(src, opts.Libraries)
	if err != nil {
		return out, err
	}
	out.Source = linked
	lines := strings.Split(linked, "\n")

	out.Tokens, err = Lex(linked)
	if err != nil {
		return out, relocate(err, prefix)
	}
	out.AST, err = Parse(out.Tokens, linked)
	if err != nil {
		return out, relocate(err, prefix)
	}
	if err := Check(out.AST, lines); err != nil {
		return out, relocate(err, prefix)
	}

	prog := out.AST
	if !opts.KeepDead {
		prog = eliminateDeadFunctions(prog)
	}
	out.Assembly, err = Generate(prog, lines)
	if err != nil {
		return out, relocate(err, prefix)
	}

	out.Program, err = asm.Assemble(out.Assembly)
	if err != nil {
		return out, &Error{Stage: StageAssemble, Msg: err.Error(), Err: err}
	}
	return out, nil
}

// relocate maps a line in the linked text back to the user's source.
func relocate(err error, prefix int) error {
	var ce *Error
	if prefix == 0 || !errors.As(err, &ce) || ce.Line == 0 {
		return err
	}
	if ce.Line > prefix {
		ce.Line -= prefix
		return ce
	}
	ce.Msg = fmt.Sprintf("in imported library (linked line %d): %s", ce.Line, ce.Msg)
	ce.Line = 0
	return ce
}

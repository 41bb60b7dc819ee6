package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names the pipeline step an Error came from.
type Stage string

const (
	StageLink     Stage = "link"
	StageLex      Stage = "lex"
	StageParse    Stage = "parse"
	StageCheck    Stage = "check"
	StageCodegen  Stage = "codegen"
	StageAssemble Stage = "assemble"
)

var (
	ErrRegisterPoolExhausted = errors.New("register pool exhausted")
	ErrRegisterLeak          = errors.New("register leak")
	ErrNoFrame               = errors.New("no active stack frame")
	ErrUnknownLibrary        = errors.New("unknown library")
)

// Error is a compilation failure tied to a source line. Line is 0 when the
// failure has no single position (e.g. a missing main).
type Error struct {
	Stage  Stage
	Line   int
	Msg    string
	Source string // trimmed text of the offending line, if known
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error: ", e.Stage)
	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	b.WriteString(e.Msg)
	if e.Source != "" {
		fmt.Fprintf(&b, "\n  |> %s", e.Source)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// errorf builds an Error and fills in the source excerpt from lines.
func errorf(stage Stage, lines []string, line int, format string, args ...any) *Error {
	e := &Error{Stage: stage, Line: line, Msg: fmt.Sprintf(format, args...)}
	for _, a := range args {
		if err, ok := a.(error); ok {
			e.Err = err
		}
	}
	if line > 0 && line <= len(lines) {
		e.Source = strings.TrimSpace(lines[line-1])
	}
	return e
}

package compiler

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string // empty when the program is valid
	}{
		{"valid", "func main() { return 0; }", 0, ""},
		{"no main", "func start() { return 0; }", 0, "no main function"},
		{"main with params", "\nfunc main(a: long) { return a; }", 2, "must not take parameters"},
		{"duplicate function", "func main() { return 0; }\nfunc f() { return 1; }\nfunc f() { return 2; }", 3, "f is defined more than once"},
		{"global and function clash", "global f: long;\nfunc f() { return 1; }\nfunc main() { return 0; }", 2, "defined more than once"},
		{"register name", "func sp() { return 0; }\nfunc main() { return 0; }", 1, "register name"},
		{"mnemonic", "func main() { return 0; }\nfunc add() { return 0; }", 0, ""},
		{"pseudo mnemonic", "func main() { return 0; }\nfunc push() { return 0; }", 0, ""},
		{"reserved prefix", "func main() { return 0; }\nfunc _start() { return 0; }", 2, "reserved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := mustParse(t, tt.src)
			err := Check(prog, strings.Split(tt.src, "\n"))
			if tt.msg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			ce, ok := err.(*Error)
			if !ok {
				t.Fatalf("expected *Error, got %v", err)
			}
			if ce.Stage != StageCheck || ce.Line != tt.line || !strings.Contains(ce.Msg, tt.msg) {
				t.Errorf("got %s error line %d %q, want check line %d containing %q", ce.Stage, ce.Line, ce.Msg, tt.line, tt.msg)
			}
		})
	}
}

func TestEliminateDeadFunctions(t *testing.T) {
	src := `
global start: long = setup();

func setup() { return helper(); }
func helper() { return 1; }
func unused() { return orphan(); }
func orphan() { return 2; }
func viaAsm() { return 3; }
func main() {
    asm {
        LDI t0, viaAsm
        JAL ra, t0
    }
    return leaf(1);
}
func leaf(n: long) { return n; }`
	prog := eliminateDeadFunctions(mustParse(t, src))
	var names []string
	for _, f := range prog.Funcs() {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	want := []string{"helper", "leaf", "main", "setup", "viaAsm"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("kept functions mismatch (-want +got):\n%s", diff)
	}
	if len(prog.Globals()) != 1 {
		t.Errorf("globals dropped: %d left", len(prog.Globals()))
	}
}

package compiler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"triton/pkg/cpu"
	"triton/pkg/machine"
	"triton/pkg/vfs"
)

// runTriC compiles src, runs it on a fresh machine and returns main's result
// together with everything written to the console.
func runTriC(t *testing.T, src string, disk *vfs.Disk) (int64, string) {
	t.Helper()
	m, console := runMachine(t, src, disk)
	return m.Result(), console
}

func runMachine(t *testing.T, src string, disk *vfs.Disk) (*machine.Machine, string) {
	t.Helper()
	out, err := CompileWith(src, Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var console bytes.Buffer
	cfg := machine.DefaultConfig()
	cfg.Console = &console
	cfg.Disk = disk
	m, err := machine.New(cfg)
	if err != nil {
		t.Fatalf("machine: %v", err)
	}
	if err := m.Load(out.Program); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	state, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out.Assembly)
	}
	if state != cpu.Halted {
		t.Fatalf("cpu state %v, want halted\n%s", state, out.Assembly)
	}
	return m, console.String()
}

func TestGenerate_Programs(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int64
	}{
		{
			name: "return sum",
			src:  `func main(){ return 1+2; }`,
			want: 3,
		},
		{
			name: "byte read back as long",
			src: `
func main() {
    var x: byte = 200;
    var y: long = long@&x;
    return y;
}`,
			want: -56,
		},
		{
			name: "precedence",
			src:  `func main() { return 2 + 3 * 4 - 10 / 2; }`,
			want: 9,
		},
		{
			name: "modulo",
			src:  `func main() { return 17 % 5; }`,
			want: 2,
		},
		{
			name: "shifts are arithmetic",
			src:  `func main() { return ((1 << 10) >> 3) + (-64 >> 2); }`,
			want: 112,
		},
		{
			name: "bitwise",
			src:  `func main() { return ((12 & 10) | (1 ^ 3)) + ~0; }`,
			want: 9,
		},
		{
			name: "comparisons as values",
			src: `
func main() {
    var a: long = 5;
    return (a < 7) + (a > 7) * 10 + (a == 5) * 100 + (a != 5) * 1000 + (a <= 5) * 10000 + (a >= 6) * 100000;
}`,
			want: 10101,
		},
		{
			name: "negative comparisons",
			src: `
func main() {
    var a: long = -3;
    var n: long = 0;
    if a < 0 { n = n + 1; }
    if a <= -3 { n = n + 10; }
    if a > -4 { n = n + 100; }
    if a >= 0 { n = n + 1000; }
    return n;
}`,
			want: 111,
		},
		{
			name: "logical short circuit",
			src: `
func main() {
    var a: long = 0;
    var b: long = 3;
    if a != 0 && 10 / a > 1 {
        return 1;
    }
    if a == 0 || 10 / a > 1 {
        return 2 + !b + !a * 10 + (b && a) * 100 + (b || a) * 1000;
    }
    return 3;
}`,
			want: 1012,
		},
		{
			name: "while with break and continue",
			src: `
func main() {
    var i: long = 0;
    var sum: long = 0;
    while 1 {
        i++;
        if i > 10 {
            break;
        }
        if i % 2 == 0 {
            continue;
        }
        sum = sum + i;
    }
    return sum;
}`,
			want: 25,
		},
		{
			name: "else if chain",
			src: `
func classify(n: long) {
    if n < 0 {
        return 1;
    } else if n == 0 {
        return 2;
    } else {
        return 3;
    }
}

func main() {
    return classify(-5) * 100 + classify(0) * 10 + classify(7);
}`,
			want: 123,
		},
		{
			name: "recursion before definition",
			src: `
func main() {
    return fib(15);
}

func fib(n: long) {
    if n < 2 {
        return n;
    }
    return fib(n - 1) + fib(n - 2);
}`,
			want: 610,
		},
		{
			name: "seven arguments",
			src: `
func sum7(a: long, b: long, c: long, d: long, e: long, f: long, g: long) {
    return a + 2*b + 3*c + 4*d + 5*e + 6*f + 7*g;
}

func main() {
    return sum7(1, 2, 3, 4, 5, 6, 7);
}`,
			want: 140,
		},
		{
			name: "calls as arguments",
			src: `
func add(a: long, b: long) { return a + b; }
func main() { return add(add(1, 2), add(3, 4)) * 10 + add(1, 1); }`,
			want: 102,
		},
		{
			name: "globals",
			src: `
global counter: long = 5;
global scale: int;

func bump() {
    counter = counter + scale;
    return 0;
}

func main() {
    scale = 3;
    bump();
    bump();
    return counter;
}`,
			want: 11,
		},
		{
			name: "int width",
			src: `
func main() {
    var x: int = 0x80000000;
    return x;
}`,
			want: -2147483648,
		},
		{
			name: "conversions truncate",
			src:  `func main() { return int(0x1FFFFFFFF) + byte(300) * 10; }`,
			want: 439,
		},
		{
			name: "pointer parameter",
			src: `
func set(p: long*, v: long) {
    @p = v;
    return 0;
}

func main() {
    var x: long = 1;
    set(&x, 42);
    return x;
}`,
			want: 42,
		},
		{
			name: "pointer arithmetic",
			src: `
func main() {
    var a: long* = [10, 20, 30, 40];
    var p: long* = a + 2;
    var q: long* = &a[3];
    return @p + a[1] + (q - a) * 1000;
}`,
			want: 3050,
		},
		{
			name: "pointer increment",
			src: `
func main() {
    var p: int* = [1, 2, 3];
    p++;
    p++;
    var last: long = @p;
    p--;
    return last * 10 + @p;
}`,
			want: 32,
		},
		{
			name: "string literal",
			src: `
func main() {
    var s: byte* = "hello";
    var n: long = 0;
    while s[n] != 0 {
        n++;
    }
    return n * 1000 + s[1];
}`,
			want: 5101,
		},
		{
			name: "byte stores keep neighbours",
			src: `
func main() {
    var b: byte* = [1, 2, 3, 4];
    b[1] = 250;
    b[2] = b[2] + 1;
    return b[0] + b[1] * 10 + b[2] * 1000 + b[3] * 10000;
}`,
			want: 43941,
		},
		{
			name: "struct fields",
			src: `
struct Point {
    x: long;
    y: long;
    tag: byte;
}

func area(p: Point*) {
    return p.x * p.y;
}

func main() {
    var pt: Point;
    pt.x = 6;
    pt.y = 7;
    pt.tag = 255;
    return area(&pt) + pt.tag;
}`,
			want: 41,
		},
		{
			name: "self referential struct",
			src: `
struct Node {
    value: long;
    next: Node*;
}

func main() {
    var a: Node;
    var b: Node;
    a.value = 1;
    a.next = &b;
    b.value = 2;
    var p: Node* = &a;
    return p.next.value * 10 + p.value;
}`,
			want: 21,
		},
		{
			name: "inline asm",
			src: `
func main() {
    var x: long = 0;
    asm {
        LDI t0, 77
        ST [fp-8], t0
    }
    return x;
}`,
			want: 77,
		},
		{
			name: "locals start at zero",
			src: `
func f(k: long) {
    var acc: long;
    acc = acc + k;
    return acc;
}

func main() {
    var i: long = 0;
    var total: long = 0;
    while i < 3 {
        var z: long;
        z = z + 1;
        total = total + z;
        i++;
    }
    return f(3) + f(4) + total * 100;
}`,
			want: 307,
		},
		{
			name: "shadowing",
			src: `
func main() {
    var x: long = 1;
    {
        var x: long = 2;
        x = x + 10;
    }
    return x;
}`,
			want: 1,
		},
		{
			name: "global initializers",
			src: `
global greeting: byte* = "hey";
global table: long* = [5, 6, 7];

func main() {
    return greeting[1] + table[2];
}`,
			want: 108,
		},
		{
			name: "deep expression",
			src:  `func main() { return ((((1+2)+(3+4))+((5+6)+(7+8)))+(((9+10)+(11+12))+((13+14)+(15+16)))); }`,
			want: 136,
		},
		{
			name: "wide constants",
			src: `
func main() {
    var big: long = 0x123456789ABCDEF;
    return big - 0x123456789ABCDE0;
}`,
			want: 15,
		},
		{
			name: "byte result widened by the caller",
			src: `
func f(): byte { return 200; }
func main() {
    var y: long = f();
    return y;
}`,
			want: -56,
		},
		{
			name: "int result widened by the caller",
			src: `
func g(v: long): int { return v; }
func main() {
    var y: long = g(0x80000000);
    return y;
}`,
			want: -2147483648,
		},
		{
			name: "functions named like mnemonics",
			src: `
func add(a: long, b: long) { return a + b; }
func and(a: long, b: long) { return a & b; }
func push(v: long) { return v * 2; }
func main() { return add(and(14, 7), push(10)); }`,
			want: 26,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := runTriC(t, tt.src, nil)
			if got != tt.want {
				t.Errorf("main() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGenerate_ConsoleLibrary(t *testing.T) {
	src := `import io

func main() {
    puts("n=");
    print_int(-12);
    newline();
    return println("ok");
}`
	got, console := runTriC(t, src, nil)
	if console != "n=-12\nok\n" {
		t.Errorf("console = %q", console)
	}
	if got != 3 {
		t.Errorf("println returned %d, want 3", got)
	}
}

func TestGenerate_MemLibrary(t *testing.T) {
	src := `import mem

func main() {
    var buf: byte* = alloc(16);
    memset(buf, 65, 3);
    var copy: byte* = alloc(8);
    memcpy(copy, buf, 4);
    return strlen(copy) * 100 + copy[2];
}`
	if got, _ := runTriC(t, src, nil); got != 365 {
		t.Errorf("main() = %d, want 365", got)
	}
}

func TestGenerate_DiskLibrary(t *testing.T) {
	src := `import disk

func main() {
    var msg: byte* = "abc";
    var w: long = file_write("f.txt", msg, 3);
    var buf: byte* = [0, 0, 0, 0];
    var r: long = file_read("f.txt", buf, 4);
    var missing: long = file_read("zz.txt", buf, 4);
    return w * 100 + r * 10 + (buf[2] == 'c') + missing * 1000;
}`
	fs := vfs.New(0)
	got, _ := runTriC(t, src, fs)
	if got != 331-1000 {
		t.Errorf("main() = %d, want %d", got, 331-1000)
	}
	data, err := fs.Read("f.txt")
	if err != nil || string(data) != "abc" {
		t.Errorf("f.txt = %q, %v", data, err)
	}
}

func TestGenerate_GfxLibrary(t *testing.T) {
	src := `import gfx

func main() {
    var red: long = rgb(255, 0, 0);
    hline(10, 5, 3, red);
    plot(0, 0, rgb(1, 2, 3));
    return plot(-1, 0, red) + plot(320, 0, red) + plot(0, 239, red) * 10;
}`
	m, _ := runMachine(t, src, nil)
	if m.Result() != 10 {
		t.Errorf("main() = %d, want 10", m.Result())
	}
	fb := m.Layout().FBBase
	pixel := func(x, y uint64) uint32 {
		v, err := m.Mem.ReadInt(fb + 4*(y*machine.ScreenWidth+x))
		if err != nil {
			t.Fatal(err)
		}
		return v
	}
	checks := []struct {
		x, y uint64
		want uint32
	}{
		{0, 0, 0x010203},
		{9, 5, 0},
		{10, 5, 0xFF0000},
		{12, 5, 0xFF0000},
		{13, 5, 0},
		{0, 239, 0xFF0000},
	}
	for _, c := range checks {
		if got := pixel(c.x, c.y); got != c.want {
			t.Errorf("pixel (%d,%d) = %#x, want %#x", c.x, c.y, got, c.want)
		}
	}
}

func TestGenerate_StartSequence(t *testing.T) {
	out, err := CompileWith(`func main() { return "x"[0]; }`, Options{})
	if err != nil {
		t.Fatal(err)
	}
	asm := out.Assembly
	if !strings.HasPrefix(asm, "_start:\n") {
		t.Errorf("assembly does not begin with _start:\n%s", asm)
	}
	start := strings.Index(asm, "main:")
	halt := strings.Index(asm, "HLT")
	if halt < 0 || start < halt {
		t.Errorf("main should follow the HLT in _start:\n%s", asm)
	}
	if _, ok := out.Program.Symbols["main"]; !ok {
		t.Error("main label missing from the symbol table")
	}
}

func TestGenerate_RegisterPoolExhausted(t *testing.T) {
	src := `func main() { return 1+(2+(3+(4+(5+(6+(7+(8+(9+(10+11))))))))); }`
	_, err := CompileWith(src, Options{})
	if !errors.Is(err, ErrRegisterPoolExhausted) {
		t.Fatalf("expected pool exhaustion, got %v", err)
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Stage != StageCodegen {
		t.Errorf("expected a codegen error, got %#v", err)
	}
}

func TestGenerate_FailedCallRestoresPool(t *testing.T) {
	cg := newCodeGen(nil)
	held, err := cg.alloc()
	if err != nil {
		t.Fatal(err)
	}
	bad := &CallExpr{
		Name: "f",
		Args: []Expr{
			&IntLit{Value: 1},
			&VarExpr{Sym: &Symbol{Name: "s", Type: &Type{Kind: KindStruct}}},
		},
	}
	if _, err := cg.genCall(bad); err == nil {
		t.Fatal("expected an error for a struct argument")
	}
	if diff := cmp.Diff([]int{held}, cg.regs.Live()); diff != "" {
		t.Errorf("live temporaries after failed call (-want +got):\n%s", diff)
	}
	if len(cg.saved) != 0 {
		t.Errorf("saved stack has %d entries after failed call", len(cg.saved))
	}
}

func TestGenerate_NoLeaksAcrossFunctions(t *testing.T) {
	src := `
struct P { a: byte; b: long; }
func g(p: P*, n: long) {
    p.a = n;
    p.b = p.a + n * 2;
    return p.b;
}
func main() {
    var q: P;
    var arr: int* = [g(&q, 1), g(&q, 2)];
    return arr[0] + arr[1] + (q.b > 0 && q.a < 5 || !q.b);
}`
	prog, err := Parse(mustLex(t, src), src)
	if err != nil {
		t.Fatal(err)
	}
	cg := newCodeGen(strings.Split(src, "\n"))
	for _, f := range prog.Funcs() {
		if err := cg.genFunc(f); err != nil {
			t.Fatalf("genFunc(%s): %v", f.Name, err)
		}
		if n := cg.regs.InUse(); n != 0 {
			t.Errorf("%s left %d temporaries allocated", f.Name, n)
		}
	}
}

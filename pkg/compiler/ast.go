package compiler

import (
	"fmt"
	"strings"
)

// The AST uses three closed variant sets. Each interface has an unexported
// marker method so only the node types in this file implement it, and the
// code generator switches over them exhaustively.

// Expr is implemented by every node that produces a value. Type is resolved
// by the parser.
type Expr interface {
	exprNode()
	Type() *Type
	Pos() int
	String() string
}

// Stmt is implemented by every statement node.
type Stmt interface {
	stmtNode()
	Pos() int
}

// Decl is a top-level declaration.
type Decl interface {
	declNode()
	Pos() int
}

//  Expression nodes

// IntLit is an integer or character constant. Its type is long.
type IntLit struct {
	Value int64
	Line  int
}

// StringLit is a NUL-terminated string constant of type byte*.
type StringLit struct {
	Value string
	Line  int
}

// VarExpr is a read of a named variable.
//
//	return x;
//	       ^  VarExpr{Sym: x#1}
type VarExpr struct {
	Sym  *Symbol
	Line int
}

// BinaryExpr is Left Op Right for arithmetic, bitwise and comparison
// operators. Pointer arithmetic is scaled by the element size.
type BinaryExpr struct {
	Op    TokenType
	Left  Expr
	Right Expr
	T     *Type
	Line  int
}

// LogicalExpr is Left && Right or Left || Right. It is separate from
// BinaryExpr so code generation can short-circuit.
type LogicalExpr struct {
	Op    TokenType
	Left  Expr
	Right Expr
	Line  int
}

// UnaryExpr is -X, ~X or !X.
type UnaryExpr struct {
	Op   TokenType
	X    Expr
	Line int
}

// AddrExpr is &X for an addressable X.
type AddrExpr struct {
	X    Expr
	T    *Type
	Line int
}

// DerefExpr is @X or T@X. X must be a pointer; T is X's element type for @
// and the named type for T@.
//
//	long@&x
//	^^^^ ^^  DerefExpr{X: AddrExpr{x}, T: long}
type DerefExpr struct {
	X    Expr
	T    *Type
	Line int
}

// CallExpr is name(args). At most seven arguments are allowed.
type CallExpr struct {
	Name string
	Args []Expr
	T    *Type
	Line int
}

// ConvertExpr is type(X).
type ConvertExpr struct {
	To   *Type
	X    Expr
	Line int
}

// FieldExpr is X.name. When Indirect is set X is a pointer to the struct.
type FieldExpr struct {
	X        Expr
	Field    Field
	Indirect bool
	Line     int
}

// IndexExpr is X[Index] for a pointer X.
type IndexExpr struct {
	X     Expr
	Index Expr
	T     *Type
	Line  int
}

// ArrayLit is [e1, e2, ...]. It only appears on the right of an assignment
// to a pointer; Elem is that pointer's element type.
type ArrayLit struct {
	Elems []Expr
	Elem  *Type
	Line  int
}

func (*IntLit) exprNode()      {}
func (*StringLit) exprNode()   {}
func (*VarExpr) exprNode()     {}
func (*BinaryExpr) exprNode()  {}
func (*LogicalExpr) exprNode() {}
func (*UnaryExpr) exprNode()   {}
func (*AddrExpr) exprNode()    {}
func (*DerefExpr) exprNode()   {}
func (*CallExpr) exprNode()    {}
func (*ConvertExpr) exprNode() {}
func (*FieldExpr) exprNode()   {}
func (*IndexExpr) exprNode()   {}
func (*ArrayLit) exprNode()    {}

func (*IntLit) Type() *Type        { return LongType }
func (*StringLit) Type() *Type     { return PointerTo(ByteType) }
func (e *VarExpr) Type() *Type     { return e.Sym.Type }
func (e *BinaryExpr) Type() *Type  { return e.T }
func (*LogicalExpr) Type() *Type   { return LongType }
func (*UnaryExpr) Type() *Type     { return LongType }
func (e *AddrExpr) Type() *Type    { return e.T }
func (e *DerefExpr) Type() *Type   { return e.T }
func (e *CallExpr) Type() *Type    { return e.T }
func (e *ConvertExpr) Type() *Type { return e.To }
func (e *FieldExpr) Type() *Type   { return e.Field.Type }
func (e *IndexExpr) Type() *Type   { return e.T }
func (e *ArrayLit) Type() *Type    { return PointerTo(e.Elem) }

func (e *IntLit) Pos() int      { return e.Line }
func (e *StringLit) Pos() int   { return e.Line }
func (e *VarExpr) Pos() int     { return e.Line }
func (e *BinaryExpr) Pos() int  { return e.Line }
func (e *LogicalExpr) Pos() int { return e.Line }
func (e *UnaryExpr) Pos() int   { return e.Line }
func (e *AddrExpr) Pos() int    { return e.Line }
func (e *DerefExpr) Pos() int   { return e.Line }
func (e *CallExpr) Pos() int    { return e.Line }
func (e *ConvertExpr) Pos() int { return e.Line }
func (e *FieldExpr) Pos() int   { return e.Line }
func (e *IndexExpr) Pos() int   { return e.Line }
func (e *ArrayLit) Pos() int    { return e.Line }

func (e *IntLit) String() string      { return fmt.Sprintf("%d", e.Value) }
func (e *StringLit) String() string   { return fmt.Sprintf("%q", e.Value) }
func (e *VarExpr) String() string     { return e.Sym.Slot }
func (e *BinaryExpr) String() string  { return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right) }
func (e *LogicalExpr) String() string { return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right) }
func (e *UnaryExpr) String() string   { return fmt.Sprintf("(%s %s)", e.Op, e.X) }
func (e *AddrExpr) String() string    { return fmt.Sprintf("(& %s)", e.X) }
func (e *DerefExpr) String() string   { return fmt.Sprintf("(%s@ %s)", e.T, e.X) }
func (e *ConvertExpr) String() string { return fmt.Sprintf("%s(%s)", e.To, e.X) }
func (e *FieldExpr) String() string   { return fmt.Sprintf("%s.%s", e.X, e.Field.Name) }
func (e *IndexExpr) String() string   { return fmt.Sprintf("%s[%s]", e.X, e.Index) }

func (e *CallExpr) String() string {
	return fmt.Sprintf("%s(%s)", e.Name, joinExprs(e.Args))
}

func (e *ArrayLit) String() string {
	return fmt.Sprintf("[%s]", joinExprs(e.Elems))
}

func joinExprs(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

//  Statement nodes

// VarStmt declares a local. Its storage exists for the whole function.
type VarStmt struct {
	Sym  *Symbol
	Init Expr // nil when absent
	Line int
}

// AssignStmt is Target = Value. Target is addressable.
type AssignStmt struct {
	Target Expr
	Value  Expr
	Line   int
}

// IncDecStmt is Target++ or Target--.
type IncDecStmt struct {
	Target Expr
	Op     TokenType
	Line   int
}

type IfStmt struct {
	Cond Expr
	Then *BlockStmt
	Else Stmt // nil, *BlockStmt or *IfStmt
	Line int
}

type WhileStmt struct {
	Cond Expr
	Body *BlockStmt
	Line int
}

type ReturnStmt struct {
	Value Expr // nil for a bare return
	Line  int
}

type BreakStmt struct{ Line int }
type ContinueStmt struct{ Line int }

// AsmStmt carries inline assembly lines verbatim.
type AsmStmt struct {
	Lines []string
	Line  int
}

type BlockStmt struct {
	Stmts []Stmt
	Line  int
}

type ExprStmt struct {
	X    Expr
	Line int
}

func (*VarStmt) stmtNode()      {}
func (*AssignStmt) stmtNode()   {}
func (*IncDecStmt) stmtNode()   {}
func (*IfStmt) stmtNode()       {}
func (*WhileStmt) stmtNode()    {}
func (*ReturnStmt) stmtNode()   {}
func (*BreakStmt) stmtNode()    {}
func (*ContinueStmt) stmtNode() {}
func (*AsmStmt) stmtNode()      {}
func (*BlockStmt) stmtNode()    {}
func (*ExprStmt) stmtNode()     {}

func (s *VarStmt) Pos() int      { return s.Line }
func (s *AssignStmt) Pos() int   { return s.Line }
func (s *IncDecStmt) Pos() int   { return s.Line }
func (s *IfStmt) Pos() int       { return s.Line }
func (s *WhileStmt) Pos() int    { return s.Line }
func (s *ReturnStmt) Pos() int   { return s.Line }
func (s *BreakStmt) Pos() int    { return s.Line }
func (s *ContinueStmt) Pos() int { return s.Line }
func (s *AsmStmt) Pos() int      { return s.Line }
func (s *BlockStmt) Pos() int    { return s.Line }
func (s *ExprStmt) Pos() int     { return s.Line }

//  Declarations

type StructDecl struct {
	Def  *StructDef
	Line int
}

type GlobalDecl struct {
	Sym  *Symbol
	Init Expr // nil when absent
	Line int
}

// FuncDecl is a function definition. Result defaults to long.
type FuncDecl struct {
	Name   string
	Params []*Symbol
	Result *Type
	Body   *BlockStmt
	Line   int
}

func (*StructDecl) declNode() {}
func (*GlobalDecl) declNode() {}
func (*FuncDecl) declNode()   {}

func (d *StructDecl) Pos() int { return d.Line }
func (d *GlobalDecl) Pos() int { return d.Line }
func (d *FuncDecl) Pos() int   { return d.Line }

// Program is a parsed translation unit, declarations in source order.
type Program struct {
	Decls []Decl
}

func (p *Program) Funcs() []*FuncDecl {
	var out []*FuncDecl
	for _, d := range p.Decls {
		if f, ok := d.(*FuncDecl); ok {
			out = append(out, f)
		}
	}
	return out
}

func (p *Program) Globals() []*GlobalDecl {
	var out []*GlobalDecl
	for _, d := range p.Decls {
		if g, ok := d.(*GlobalDecl); ok {
			out = append(out, g)
		}
	}
	return out
}

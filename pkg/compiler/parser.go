package compiler

import (
	"strings"

	"github.com/samber/lo"
)

// MaxArgs is the number of argument registers, and the most arguments a call
// may pass.
const MaxArgs = 7

// Parser consumes the flat token slice produced by the Lexer and builds a
// typed AST.
//
// Grammar:
//
//	program   = { struct | global | func } EOF
//	struct    = "struct" ID "{" { ID ":" type ";" } "}" [";"]
//	global    = "global" ID ":" type [ "=" ( expr | arraylit ) ] ";"
//	func      = "func" ID "(" [ param { "," param } ] ")" [ ":" type ] block
//	param     = ID ":" type
//	type      = ( "byte" | "int" | "long" | StructName ) { "*" }
//	block     = "{" { stmt } "}"
//	stmt      = "var" ID ":" type [ "=" ( expr | arraylit ) ] ";"
//	          | "if" expr block [ "else" ( block | if ) ]
//	          | "while" expr block
//	          | "return" [ expr ] ";" | "break" ";" | "continue" ";"
//	          | "asm" "{" ASMLINE* "}" | block
//	          | expr ( "=" ( expr | arraylit ) | "++" | "--" ) ";"
//	          | expr ";"
//	expr      = logical_or
//	logical_or  = logical_and { "||" logical_and }
//	logical_and = bit_or { "&&" bit_or }
//	bit_or      = bit_xor { "|" bit_xor }
//	bit_xor     = bit_and { "^" bit_and }
//	bit_and     = equality { "&" equality }
//	equality    = relational { ( "==" | "!=" ) relational }
//	relational  = shift { ( "<" | ">" | "<=" | ">=" ) shift }
//	shift       = additive { ( "<<" | ">>" ) additive }
//	additive    = multiplicative { ( "+" | "-" ) multiplicative }
//	multiplicative = unary { ( "*" | "/" | "%" ) unary }
//	unary       = ( "-" | "!" | "~" | "&" | "@" ) unary | postfix
//	postfix     = primary { "." ID | "[" expr "]" }
//	primary     = NUMBER | char | string | "(" expr ")" | ID "(" args ")" | ID
//	            | type "(" expr ")" | type "@" unary
//
// Struct names and function signatures are collected before any body is
// parsed, so both may be used ahead of their definition.
type Parser struct {
	tokens      []Token
	pos         int
	sourceLines []string

	scopes  *ScopeStack
	structs map[string]*StructDef
	funcs   map[string]*FuncDecl
	loops   int
}

func NewParser(tokens []Token, rawSource string) *Parser {
	return &Parser{
		tokens:      tokens,
		sourceLines: strings.Split(rawSource, "\n"),
		scopes:      NewScopeStack(),
		structs:     make(map[string]*StructDef),
		funcs:       make(map[string]*FuncDecl),
	}
}

// Parse builds a Program from tokens. rawSource is used for error excerpts.
func Parse(tokens []Token, rawSource string) (*Program, error) {
	return NewParser(tokens, rawSource).ParseProgram()
}

func (p *Parser) errorf(tok Token, format string, args ...any) error {
	return errorf(StageParse, p.sourceLines, tok.Line, format, args...)
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// expect consumes the current token if it matches tt, otherwise returns an error.
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, p.errorf(tok, "expected %s, got %s (%q)", tt, tok.Type, tok.Lexeme)
	}
	return tok, nil
}

func (p *Parser) match(tt TokenType) bool {
	if p.peek().Type == tt {
		p.advance()
		return true
	}
	return false
}

//  Top level

// deferred is a global initializer or function body parsed after every
// top-level signature is known.
type deferred struct {
	pos    int
	global *GlobalDecl
	fn     *FuncDecl
}

func (p *Parser) ParseProgram() (*Program, error) {
	p.prescanStructs()

	prog := &Program{}
	var later []deferred
	for p.peek().Type != EOF {
		tok := p.peek()
		switch tok.Type {
		case STRUCT:
			d, err := p.parseStruct()
			if err != nil {
				return nil, err
			}
			prog.Decls = append(prog.Decls, d)
		case GLOBAL:
			d, initPos, err := p.parseGlobalHead()
			if err != nil {
				return nil, err
			}
			prog.Decls = append(prog.Decls, d)
			if initPos >= 0 {
				later = append(later, deferred{pos: initPos, global: d})
			}
		case FUNC:
			d, bodyPos, err := p.parseFuncHead()
			if err != nil {
				return nil, err
			}
			prog.Decls = append(prog.Decls, d)
			later = append(later, deferred{pos: bodyPos, fn: d})
		default:
			return nil, p.errorf(tok, "expected struct, global or func, got %s (%q)", tok.Type, tok.Lexeme)
		}
	}

	for _, d := range later {
		p.pos = d.pos
		var err error
		if d.global != nil {
			err = p.parseGlobalInit(d.global)
		} else {
			err = p.parseFuncBody(d.fn)
		}
		if err != nil {
			return nil, err
		}
	}
	return prog, nil
}

// prescanStructs registers every struct name as an incomplete definition.
func (p *Parser) prescanStructs() {
	for i := 0; i+1 < len(p.tokens); i++ {
		if p.tokens[i].Type == STRUCT && p.tokens[i+1].Type == IDENTIFIER {
			name := p.tokens[i+1].Lexeme
			if _, ok := p.structs[name]; !ok {
				p.structs[name] = &StructDef{Name: name}
			}
		}
	}
}

func (p *Parser) parseStruct() (*StructDecl, error) {
	start := p.advance()
	nameTok, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	def := p.structs[nameTok.Lexeme]
	if def.Complete {
		return nil, p.errorf(nameTok, "struct %s redefined", def.Name)
	}
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	for p.peek().Type != RBRACE {
		fieldTok, err := p.expect(IDENTIFIER)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(COLON); err != nil {
			return nil, err
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if err := p.requireComplete(t, fieldTok); err != nil {
			return nil, err
		}
		if err := def.addField(fieldTok.Lexeme, t); err != nil {
			return nil, p.errorf(fieldTok, "%v", err)
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
	}
	p.advance()
	p.match(SEMICOLON)
	def.Complete = true
	return &StructDecl{Def: def, Line: start.Line}, nil
}

// parseGlobalHead declares the global and skips its initializer, returning
// where the initializer starts (or -1).
func (p *Parser) parseGlobalHead() (*GlobalDecl, int, error) {
	start := p.advance()
	nameTok, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, -1, err
	}
	if _, err := p.expect(COLON); err != nil {
		return nil, -1, err
	}
	t, err := p.parseType()
	if err != nil {
		return nil, -1, err
	}
	if err := p.requireComplete(t, nameTok); err != nil {
		return nil, -1, err
	}
	sym, err := p.scopes.Declare(nameTok.Lexeme, t, SymGlobal, nameTok.Line)
	if err != nil {
		return nil, -1, p.errorf(nameTok, "%v", err)
	}
	decl := &GlobalDecl{Sym: sym, Line: start.Line}
	if p.match(SEMICOLON) {
		return decl, -1, nil
	}
	if _, err := p.expect(ASSIGN); err != nil {
		return nil, -1, err
	}
	initPos := p.pos
	depth := 0
	for {
		tok := p.advance()
		switch tok.Type {
		case EOF:
			return nil, -1, p.errorf(start, "unterminated initializer for %s", sym.Name)
		case LPAREN, LBRACKET, LBRACE:
			depth++
		case RPAREN, RBRACKET, RBRACE:
			depth--
		case SEMICOLON:
			if depth == 0 {
				return decl, initPos, nil
			}
		}
	}
}

func (p *Parser) parseGlobalInit(g *GlobalDecl) error {
	if g.Sym.Type.IsStruct() {
		return p.errorf(p.peek(), "struct global %s cannot have an initializer", g.Sym.Name)
	}
	init, err := p.parseAssignedValue(g.Sym.Type)
	if err != nil {
		return err
	}
	g.Init = init
	_, err = p.expect(SEMICOLON)
	return err
}

// parseFuncHead parses a signature, registers it and skips the body,
// returning where the body starts.
func (p *Parser) parseFuncHead() (*FuncDecl, int, error) {
	start := p.advance()
	nameTok, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, -1, err
	}
	fn := &FuncDecl{Name: nameTok.Lexeme, Result: LongType, Line: start.Line}
	if _, err := p.expect(LPAREN); err != nil {
		return nil, -1, err
	}
	for p.peek().Type != RPAREN {
		if len(fn.Params) > 0 {
			if _, err := p.expect(COMMA); err != nil {
				return nil, -1, err
			}
		}
		pTok, err := p.expect(IDENTIFIER)
		if err != nil {
			return nil, -1, err
		}
		if _, err := p.expect(COLON); err != nil {
			return nil, -1, err
		}
		t, err := p.parseType()
		if err != nil {
			return nil, -1, err
		}
		if t.IsStruct() {
			return nil, -1, p.errorf(pTok, "parameter %s: structs are passed by pointer", pTok.Lexeme)
		}
		fn.Params = append(fn.Params, &Symbol{Name: pTok.Lexeme, Type: t, Kind: SymParam, Index: len(fn.Params), Line: pTok.Line})
	}
	p.advance()
	if len(fn.Params) > MaxArgs {
		return nil, -1, p.errorf(nameTok, "function %s has %d parameters, at most %d allowed", fn.Name, len(fn.Params), MaxArgs)
	}
	if p.match(COLON) {
		t, err := p.parseType()
		if err != nil {
			return nil, -1, err
		}
		if t.IsStruct() {
			return nil, -1, p.errorf(nameTok, "function %s cannot return a struct by value", fn.Name)
		}
		fn.Result = t
	}
	if _, ok := p.funcs[fn.Name]; !ok {
		p.funcs[fn.Name] = fn
	}

	bodyPos := p.pos
	if _, err := p.expect(LBRACE); err != nil {
		return nil, -1, err
	}
	for depth := 1; depth > 0; {
		switch p.advance().Type {
		case EOF:
			return nil, -1, p.errorf(start, "unterminated body of function %s", fn.Name)
		case LBRACE:
			depth++
		case RBRACE:
			depth--
		}
	}
	return fn, bodyPos, nil
}

func (p *Parser) parseFuncBody(fn *FuncDecl) error {
	p.scopes.EnterFunction()
	defer p.scopes.ExitFunction()

	for i, param := range fn.Params {
		sym, err := p.scopes.Declare(param.Name, param.Type, SymParam, param.Line)
		if err != nil {
			return errorf(StageParse, p.sourceLines, param.Line, "%v", err)
		}
		sym.Index = i
		fn.Params[i] = sym
	}
	body, err := p.parseBlock()
	if err != nil {
		return err
	}
	fn.Body = body
	return nil
}

//  Types

// parseType reads a base type and any number of pointer stars.
func (p *Parser) parseType() (*Type, error) {
	tok := p.advance()
	var t *Type
	switch tok.Type {
	case BYTE:
		t = ByteType
	case INT:
		t = IntType
	case LONG:
		t = LongType
	case IDENTIFIER:
		def, ok := p.structs[tok.Lexeme]
		if !ok {
			return nil, p.errorf(tok, "unknown type %s", tok.Lexeme)
		}
		t = &Type{Kind: KindStruct, Struct: def}
	default:
		return nil, p.errorf(tok, "expected a type, got %s (%q)", tok.Type, tok.Lexeme)
	}
	for p.match(STAR) {
		t = PointerTo(t)
	}
	return t, nil
}

// requireComplete rejects by-value use of a struct whose fields are not yet
// known.
func (p *Parser) requireComplete(t *Type, at Token) error {
	if t.IsStruct() && !t.Struct.Complete {
		return p.errorf(at, "struct %s is incomplete here", t.Struct.Name)
	}
	return nil
}

// startsType reports whether the current token begins a type in expression
// position. A struct name shadowed by a variable is a variable.
func (p *Parser) startsType() bool {
	tok := p.peek()
	if tok.Type.isTypeKeyword() {
		return true
	}
	if tok.Type != IDENTIFIER {
		return false
	}
	if _, isStruct := p.structs[tok.Lexeme]; !isStruct {
		return false
	}
	_, isVar := p.scopes.Resolve(tok.Lexeme)
	return !isVar
}

//  Statements

func (p *Parser) parseBlock() (*BlockStmt, error) {
	open, err := p.expect(LBRACE)
	if err != nil {
		return nil, err
	}
	p.scopes.Push()
	defer p.scopes.Pop()

	block := &BlockStmt{Line: open.Line}
	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return nil, p.errorf(open, "unterminated block")
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		block.Stmts = append(block.Stmts, s)
	}
	p.advance()
	return block, nil
}

func (p *Parser) parseStatement() (Stmt, error) {
	tok := p.peek()
	switch tok.Type {
	case VAR:
		return p.parseVar()
	case IF:
		return p.parseIf()
	case WHILE:
		p.advance()
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		p.loops++
		body, err := p.parseBlock()
		p.loops--
		if err != nil {
			return nil, err
		}
		return &WhileStmt{Cond: cond, Body: body, Line: tok.Line}, nil
	case RETURN:
		p.advance()
		ret := &ReturnStmt{Line: tok.Line}
		if p.peek().Type != SEMICOLON {
			v, err := p.parseScalar()
			if err != nil {
				return nil, err
			}
			ret.Value = v
		}
		_, err := p.expect(SEMICOLON)
		return ret, err
	case BREAK, CONTINUE:
		p.advance()
		if p.loops == 0 {
			return nil, p.errorf(tok, "%s outside a loop", tok.Lexeme)
		}
		if _, err := p.expect(SEMICOLON); err != nil {
			return nil, err
		}
		if tok.Type == BREAK {
			return &BreakStmt{Line: tok.Line}, nil
		}
		return &ContinueStmt{Line: tok.Line}, nil
	case ASM:
		p.advance()
		if _, err := p.expect(LBRACE); err != nil {
			return nil, err
		}
		s := &AsmStmt{Line: tok.Line}
		for p.peek().Type == ASMLINE {
			s.Lines = append(s.Lines, p.advance().Lexeme)
		}
		_, err := p.expect(RBRACE)
		return s, err
	case LBRACE:
		return p.parseBlock()
	}
	return p.parseSimple()
}

func (p *Parser) parseVar() (Stmt, error) {
	start := p.advance()
	nameTok, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(COLON); err != nil {
		return nil, err
	}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if err := p.requireComplete(t, nameTok); err != nil {
		return nil, err
	}
	s := &VarStmt{Line: start.Line}
	if p.match(ASSIGN) {
		if t.IsStruct() {
			return nil, p.errorf(nameTok, "struct variable %s cannot have an initializer", nameTok.Lexeme)
		}
		// The initializer is parsed before the name is in scope.
		if s.Init, err = p.parseAssignedValue(t); err != nil {
			return nil, err
		}
	}
	if s.Sym, err = p.scopes.Declare(nameTok.Lexeme, t, SymLocal, nameTok.Line); err != nil {
		return nil, p.errorf(nameTok, "%v", err)
	}
	_, err = p.expect(SEMICOLON)
	return s, err
}

func (p *Parser) parseIf() (Stmt, error) {
	start := p.advance()
	cond, err := p.parseCondition()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	s := &IfStmt{Cond: cond, Then: then, Line: start.Line}
	if p.match(ELSE) {
		if p.peek().Type == IF {
			s.Else, err = p.parseIf()
		} else {
			s.Else, err = p.parseBlock()
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *Parser) parseCondition() (Expr, error) {
	return p.parseScalar()
}

// parseSimple handles assignment, ++/-- and expression statements.
func (p *Parser) parseSimple() (Stmt, error) {
	tok := p.peek()
	x, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	var s Stmt
	switch next := p.peek(); next.Type {
	case ASSIGN:
		p.advance()
		if !addressable(x) {
			return nil, p.errorf(tok, "cannot assign to %s", x)
		}
		if x.Type().IsStruct() {
			return nil, p.errorf(tok, "cannot assign struct values")
		}
		v, err := p.parseAssignedValue(x.Type())
		if err != nil {
			return nil, err
		}
		s = &AssignStmt{Target: x, Value: v, Line: tok.Line}
	case PLUS_PLUS, MINUS_MINUS:
		p.advance()
		if !addressable(x) || x.Type().IsStruct() {
			return nil, p.errorf(tok, "cannot apply %s to %s", next.Lexeme, x)
		}
		s = &IncDecStmt{Target: x, Op: next.Type, Line: tok.Line}
	default:
		s = &ExprStmt{X: x, Line: tok.Line}
	}
	_, err = p.expect(SEMICOLON)
	return s, err
}

// parseAssignedValue parses the right-hand side of an assignment to a
// target of type t: an expression, or an array literal when t is a pointer.
func (p *Parser) parseAssignedValue(t *Type) (Expr, error) {
	if p.peek().Type != LBRACKET {
		return p.parseScalar()
	}
	open := p.advance()
	if !t.IsPointer() {
		return nil, p.errorf(open, "array literal assigned to non-pointer type %s", t)
	}
	if t.Elem.IsStruct() {
		return nil, p.errorf(open, "array literal of struct %s", t.Elem)
	}
	lit := &ArrayLit{Elem: t.Elem, Line: open.Line}
	for p.peek().Type != RBRACKET {
		if len(lit.Elems) > 0 {
			if _, err := p.expect(COMMA); err != nil {
				return nil, err
			}
		}
		e, err := p.parseScalar()
		if err != nil {
			return nil, err
		}
		lit.Elems = append(lit.Elems, e)
	}
	p.advance()
	if len(lit.Elems) == 0 {
		return nil, p.errorf(open, "empty array literal")
	}
	return lit, nil
}

// addressable reports whether e denotes a storage location.
func addressable(e Expr) bool {
	switch n := e.(type) {
	case *VarExpr, *DerefExpr, *IndexExpr:
		return true
	case *FieldExpr:
		return n.Indirect || addressable(n.X)
	}
	return false
}

//  Expressions

// parseExpression is the entry point for expression parsing.
func (p *Parser) parseExpression() (Expr, error) {
	return p.parseLogicalOr()
}

// parseScalar parses an expression that must produce a register value.
func (p *Parser) parseScalar() (Expr, error) {
	tok := p.peek()
	e, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return e, p.wantScalar(e, tok)
}

func (p *Parser) wantScalar(e Expr, at Token) error {
	if !e.Type().IsScalar() {
		return p.errorf(at, "struct value %s used as a scalar", e)
	}
	return nil
}

// parseLogicalOr handles ||
func (p *Parser) parseLogicalOr() (Expr, error) {
	return p.parseLogical(OR_LOGICAL, p.parseLogicalAnd)
}

// parseLogicalAnd handles &&
func (p *Parser) parseLogicalAnd() (Expr, error) {
	return p.parseLogical(AND_LOGICAL, p.parseBitwiseOr)
}

func (p *Parser) parseLogical(op TokenType, next func() (Expr, error)) (Expr, error) {
	tok := p.peek()
	expr, err := next()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == op {
		opTok := p.advance()
		if err := p.wantScalar(expr, tok); err != nil {
			return nil, err
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		if err := p.wantScalar(right, opTok); err != nil {
			return nil, err
		}
		expr = &LogicalExpr{Op: op, Left: expr, Right: right, Line: opTok.Line}
	}
	return expr, nil
}

// binaryLevel parses one left-associative precedence level.
func (p *Parser) binaryLevel(ops []TokenType, next func() (Expr, error)) (Expr, error) {
	expr, err := next()
	if err != nil {
		return nil, err
	}
	for {
		opTok := p.peek()
		if !lo.Contains(ops, opTok.Type) {
			return expr, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		t, err := p.binaryType(opTok, expr, right)
		if err != nil {
			return nil, err
		}
		expr = &BinaryExpr{Op: opTok.Type, Left: expr, Right: right, T: t, Line: opTok.Line}
	}
}

// binaryType types an arithmetic result: pointer +/- integer stays a
// pointer, pointer - pointer is an element count, everything else is long.
func (p *Parser) binaryType(op Token, l, r Expr) (*Type, error) {
	lt, rt := l.Type(), r.Type()
	if lt.IsStruct() || rt.IsStruct() {
		return nil, p.errorf(op, "operator %s applied to a struct value", op.Lexeme)
	}
	switch op.Type {
	case PLUS:
		switch {
		case lt.IsPointer() && rt.IsPointer():
			return nil, p.errorf(op, "cannot add two pointers")
		case lt.IsPointer():
			return lt, nil
		case rt.IsPointer():
			return rt, nil
		}
	case MINUS:
		switch {
		case lt.IsPointer() && rt.IsPointer():
			return LongType, nil
		case lt.IsPointer():
			return lt, nil
		case rt.IsPointer():
			return nil, p.errorf(op, "cannot subtract a pointer from an integer")
		}
	}
	return LongType, nil
}

func (p *Parser) parseBitwiseOr() (Expr, error) {
	return p.binaryLevel([]TokenType{PIPE}, p.parseBitwiseXor)
}

func (p *Parser) parseBitwiseXor() (Expr, error) {
	return p.binaryLevel([]TokenType{CARET}, p.parseBitwiseAnd)
}

func (p *Parser) parseBitwiseAnd() (Expr, error) {
	return p.binaryLevel([]TokenType{AND}, p.parseEquality)
}

func (p *Parser) parseEquality() (Expr, error) {
	return p.binaryLevel([]TokenType{EQUALS, NOT_EQ}, p.parseRelational)
}

func (p *Parser) parseRelational() (Expr, error) {
	return p.binaryLevel([]TokenType{LESS, GREATER, LESS_EQ, GREATER_EQ}, p.parseShift)
}

func (p *Parser) parseShift() (Expr, error) {
	return p.binaryLevel([]TokenType{SHL_OP, SHR_OP}, p.parseAdditive)
}

func (p *Parser) parseAdditive() (Expr, error) {
	return p.binaryLevel([]TokenType{PLUS, MINUS}, p.parseMultiplicative)
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	return p.binaryLevel([]TokenType{STAR, SLASH, PERCENT}, p.parseUnary)
}

func (p *Parser) parseUnary() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case MINUS, NOT, TILDE:
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if err := p.wantScalar(x, tok); err != nil {
			return nil, err
		}
		if lit, ok := x.(*IntLit); ok && tok.Type == MINUS {
			return &IntLit{Value: -lit.Value, Line: lit.Line}, nil
		}
		return &UnaryExpr{Op: tok.Type, X: x, Line: tok.Line}, nil
	case AND:
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if !addressable(x) {
			return nil, p.errorf(tok, "cannot take the address of %s", x)
		}
		return &AddrExpr{X: x, T: PointerTo(x.Type()), Line: tok.Line}, nil
	case AT:
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if !x.Type().IsPointer() {
			return nil, p.errorf(tok, "cannot dereference non-pointer %s of type %s", x, x.Type())
		}
		return &DerefExpr{X: x, T: x.Type().Elem, Line: tok.Line}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		switch tok.Type {
		case DOT:
			p.advance()
			nameTok, err := p.expect(IDENTIFIER)
			if err != nil {
				return nil, err
			}
			t := expr.Type()
			indirect := false
			if t.IsPointer() && t.Elem.IsStruct() {
				t, indirect = t.Elem, true
			}
			if !t.IsStruct() {
				return nil, p.errorf(nameTok, "field access .%s on non-struct type %s", nameTok.Lexeme, expr.Type())
			}
			if !t.Struct.Complete {
				return nil, p.errorf(nameTok, "field access on incomplete struct %s", t.Struct.Name)
			}
			f, ok := t.Struct.Field(nameTok.Lexeme)
			if !ok {
				return nil, p.errorf(nameTok, "struct %s has no field %s", t.Struct.Name, nameTok.Lexeme)
			}
			expr = &FieldExpr{X: expr, Field: f, Indirect: indirect, Line: tok.Line}
		case LBRACKET:
			p.advance()
			if !expr.Type().IsPointer() {
				return nil, p.errorf(tok, "cannot index non-pointer %s of type %s", expr, expr.Type())
			}
			idx, err := p.parseScalar()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return nil, err
			}
			expr = &IndexExpr{X: expr, Index: idx, T: expr.Type().Elem, Line: tok.Line}
		default:
			return expr, nil
		}
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	if p.startsType() {
		return p.parseTypeLed()
	}

	tok := p.advance()
	switch tok.Type {
	case NUMBER:
		v, err := numberValue(tok.Lexeme)
		if err != nil {
			return nil, p.errorf(tok, "%v", err)
		}
		return &IntLit{Value: v, Line: tok.Line}, nil

	case SQUOTE:
		text, err := p.parseQuoted(SQUOTE)
		if err != nil {
			return nil, err
		}
		if len(text) != 1 {
			return nil, p.errorf(tok, "character literal must hold one byte, got %q", text)
		}
		return &IntLit{Value: int64(text[0]), Line: tok.Line}, nil

	case DQUOTE:
		text, err := p.parseQuoted(DQUOTE)
		if err != nil {
			return nil, err
		}
		return &StringLit{Value: text, Line: tok.Line}, nil

	case LPAREN:
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(RPAREN)
		return e, err

	case LBRACKET:
		return nil, p.errorf(tok, "array literal is only allowed on the right of an assignment to a pointer")

	case IDENTIFIER:
		if p.peek().Type == LPAREN {
			return p.parseCall(tok)
		}
		sym, ok := p.scopes.Resolve(tok.Lexeme)
		if !ok {
			return nil, p.errorf(tok, "undefined variable %s", tok.Lexeme)
		}
		return &VarExpr{Sym: sym, Line: tok.Line}, nil
	}
	return nil, p.errorf(tok, "unexpected %s (%q) in expression", tok.Type, tok.Lexeme)
}

// parseQuoted reads TEXT and the closing quote after an opening quote.
func (p *Parser) parseQuoted(quote TokenType) (string, error) {
	textTok, err := p.expect(TEXT)
	if err != nil {
		return "", err
	}
	if _, err := p.expect(quote); err != nil {
		return "", err
	}
	text, err := unescape(textTok.Lexeme)
	if err != nil {
		return "", p.errorf(textTok, "%v", err)
	}
	return text, nil
}

// parseTypeLed handles type(expr) conversions and type@expr typed
// dereferences.
func (p *Parser) parseTypeLed() (Expr, error) {
	tok := p.peek()
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	switch p.peek().Type {
	case AT:
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if !x.Type().IsPointer() {
			return nil, p.errorf(tok, "%s@ needs a pointer, got %s of type %s (convert it first)", t, x, x.Type())
		}
		if err := p.requireComplete(t, tok); err != nil {
			return nil, err
		}
		return &DerefExpr{X: x, T: t, Line: tok.Line}, nil
	case LPAREN:
		p.advance()
		x, err := p.parseScalar()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		if t.IsStruct() {
			return nil, p.errorf(tok, "cannot convert to struct %s", t)
		}
		return &ConvertExpr{To: t, X: x, Line: tok.Line}, nil
	}
	return nil, p.errorf(p.peek(), "expected ( or @ after type %s", t)
}

func (p *Parser) parseCall(nameTok Token) (Expr, error) {
	p.advance()
	fn, ok := p.funcs[nameTok.Lexeme]
	if !ok {
		return nil, p.errorf(nameTok, "undefined function %s", nameTok.Lexeme)
	}
	call := &CallExpr{Name: fn.Name, T: fn.Result, Line: nameTok.Line}
	for p.peek().Type != RPAREN {
		if len(call.Args) > 0 {
			if _, err := p.expect(COMMA); err != nil {
				return nil, err
			}
		}
		arg, err := p.parseScalar()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
	}
	p.advance()
	if len(call.Args) > MaxArgs {
		return nil, p.errorf(nameTok, "too many arguments to %s: %d, at most %d allowed", fn.Name, len(call.Args), MaxArgs)
	}
	if len(call.Args) != len(fn.Params) {
		return nil, p.errorf(nameTok, "%s takes %d arguments, got %d", fn.Name, len(fn.Params), len(call.Args))
	}
	return call, nil
}

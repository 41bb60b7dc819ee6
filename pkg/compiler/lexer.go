package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"func":     FUNC,
	"global":   GLOBAL,
	"var":      VAR,
	"struct":   STRUCT,
	"if":       IF,
	"else":     ELSE,
	"while":    WHILE,
	"return":   RETURN,
	"break":    BREAK,
	"continue": CONTINUE,
	"asm":      ASM,
	"byte":     BYTE,
	"int":      INT,
	"long":     LONG,
}

// lexMode selects how the next characters are interpreted.
type lexMode int

const (
	modeNormal lexMode = iota
	modeSingleQuote
	modeDoubleQuote
	modeAsmBlock
)

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src    []rune
	pos    int // index of the next rune to consume
	line   int // current 1-based source line
	mode   lexMode
	tokens []Token
	lines  []string // for error excerpts
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), pos: 0, line: 1, lines: strings.Split(src, "\n")}
}

func (l *Lexer) errorf(line int, format string, args ...any) error {
	return errorf(StageLex, l.lines, line, format, args...)
}

// peek returns the rune at the current position without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the rune one position ahead of the current position.
func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

func (l *Lexer) atEnd() bool { return l.pos >= len(l.src) }

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
	}
	return r
}

func (l *Lexer) emit(tt TokenType, lexeme string, line int) {
	l.tokens = append(l.tokens, Token{Type: tt, Lexeme: lexeme, Line: line})
}

func (l *Lexer) skipWhitespace() {
	for !l.atEnd() && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

// skipBlockComment discards everything up to and including the closing "*/".
// The opening "/*" must already have been consumed.
func (l *Lexer) skipBlockComment() error {
	startLine := l.line
	for !l.atEnd() {
		if l.peek() == '*' && l.peek2() == '/' {
			l.advance()
			l.advance()
			return nil
		}
		l.advance()
	}
	return l.errorf(startLine, "unterminated block comment")
}

// scanIdent collects a full identifier or keyword token.
func (l *Lexer) scanIdent() {
	line := l.line
	start := l.pos
	for !l.atEnd() {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.advance()
	}
	lexeme := string(l.src[start:l.pos])
	tt := IDENTIFIER
	if kw, ok := keywords[lexeme]; ok {
		tt = kw
	}
	l.emit(tt, lexeme, line)
}

// scanNumber collects a decimal, 0x or 0b literal. A literal running into
// letters ("12ab", "0x") is malformed.
func (l *Lexer) scanNumber() error {
	line := l.line
	start := l.pos
	digit := func(r rune) bool { return r >= '0' && r <= '9' }

	if l.peek() == '0' && strings.ContainsRune("xXbB", l.peek2()) {
		switch l.peek2() {
		case 'x', 'X':
			digit = func(r rune) bool {
				return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
			}
		default:
			digit = func(r rune) bool { return r == '0' || r == '1' }
		}
		l.advance()
		l.advance()
	}
	bodyStart := l.pos
	for !l.atEnd() && digit(l.peek()) {
		l.advance()
	}
	r := l.peek()
	if l.pos == bodyStart || unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
		for !l.atEnd() && (unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_') {
			l.advance()
		}
		return l.errorf(line, "malformed number %q", string(l.src[start:l.pos]))
	}
	l.emit(NUMBER, string(l.src[start:l.pos]), line)
	return nil
}

// scanQuoted collects raw text up to the unescaped closing quote. Newlines
// are kept and a backslash protects the character after it; escapes are
// interpreted later by unescape.
func (l *Lexer) scanQuoted(quote rune, tt TokenType) error {
	line := l.line
	var b strings.Builder
	for {
		if l.atEnd() {
			return l.errorf(line, "unterminated %c quote", quote)
		}
		r := l.advance()
		if r == quote {
			break
		}
		b.WriteRune(r)
		if r == '\\' {
			if l.atEnd() {
				return l.errorf(line, "unterminated %c quote", quote)
			}
			b.WriteRune(l.advance())
		}
	}
	l.emit(TEXT, b.String(), line)
	l.emit(tt, string(quote), l.line)
	l.mode = modeNormal
	return nil
}

// scanAsmBlock emits every line up to a line that is exactly "}" as one
// ASMLINE token. The opening brace must end its line.
func (l *Lexer) scanAsmBlock() error {
	open := l.line
	for !l.atEnd() && l.peek() != '\n' {
		if r := l.advance(); !unicode.IsSpace(r) {
			return l.errorf(open, "unexpected %q after asm {", r)
		}
	}
	l.advance()

	for !l.atEnd() {
		line := l.line
		start := l.pos
		for !l.atEnd() && l.peek() != '\n' {
			l.advance()
		}
		text := strings.TrimSpace(string(l.src[start:l.pos]))
		l.advance()
		if text == "}" {
			l.emit(RBRACE, "}", line)
			l.mode = modeNormal
			return nil
		}
		if text != "" {
			l.emit(ASMLINE, text, line)
		}
	}
	return l.errorf(open, "unterminated asm block")
}

// twoChar maps an operator's first rune to its possible second runes.
var twoChar = map[rune]map[rune]TokenType{
	'=': {'=': EQUALS},
	'!': {'=': NOT_EQ},
	'<': {'=': LESS_EQ, '<': SHL_OP},
	'>': {'=': GREATER_EQ, '>': SHR_OP},
	'&': {'&': AND_LOGICAL},
	'|': {'|': OR_LOGICAL},
	'+': {'+': PLUS_PLUS},
	'-': {'-': MINUS_MINUS},
}

var oneChar = map[rune]TokenType{
	'{': LBRACE, '}': RBRACE, '(': LPAREN, ')': RPAREN, '[': LBRACKET, ']': RBRACKET,
	'.': DOT, ';': SEMICOLON, ',': COMMA, ':': COLON, '@': AT,
	'+': PLUS, '-': MINUS, '*': STAR, '/': SLASH, '%': PERCENT,
	'&': AND, '|': PIPE, '^': CARET, '~': TILDE, '!': NOT,
	'<': LESS, '>': GREATER, '=': ASSIGN,
}

// scanNormal consumes one token (or comment) in NORMAL mode.
func (l *Lexer) scanNormal() error {
	l.skipWhitespace()
	if l.atEnd() {
		return nil
	}
	ch := l.peek()
	line := l.line

	switch {
	case ch == '/' && l.peek2() == '/':
		for !l.atEnd() && l.peek() != '\n' {
			l.advance()
		}
		return nil
	case ch == '/' && l.peek2() == '*':
		l.advance()
		l.advance()
		return l.skipBlockComment()
	case unicode.IsLetter(ch) || ch == '_':
		l.scanIdent()
		return nil
	case unicode.IsDigit(ch):
		return l.scanNumber()
	case ch == '\'':
		l.advance()
		l.emit(SQUOTE, "'", line)
		l.mode = modeSingleQuote
		return nil
	case ch == '"':
		l.advance()
		l.emit(DQUOTE, `"`, line)
		l.mode = modeDoubleQuote
		return nil
	}

	l.advance()
	if next, ok := twoChar[ch]; ok {
		if tt, ok := next[l.peek()]; ok {
			second := l.advance()
			l.emit(tt, string([]rune{ch, second}), line)
			return nil
		}
	}
	tt, ok := oneChar[ch]
	if !ok {
		return l.errorf(line, "unexpected character %q", ch)
	}
	l.emit(tt, string(ch), line)
	if tt == LBRACE && len(l.tokens) >= 2 && l.tokens[len(l.tokens)-2].Type == ASM {
		l.mode = modeAsmBlock
	}
	return nil
}

// Lex tokenises src and returns all tokens including the final EOF token.
// It returns a non-nil error on the first illegal character, malformed
// number, or unterminated quote, comment or asm block.
func Lex(src string) ([]Token, error) {
	l := newLexer(src)
	for !l.atEnd() {
		var err error
		switch l.mode {
		case modeNormal:
			err = l.scanNormal()
		case modeSingleQuote:
			err = l.scanQuoted('\'', SQUOTE)
		case modeDoubleQuote:
			err = l.scanQuoted('"', DQUOTE)
		case modeAsmBlock:
			err = l.scanAsmBlock()
		}
		if err != nil {
			return l.tokens, err
		}
	}
	switch l.mode {
	case modeSingleQuote, modeDoubleQuote:
		return l.tokens, l.errorf(l.line, "unterminated quote at end of input")
	case modeAsmBlock:
		return l.tokens, l.errorf(l.line, "unterminated asm block at end of input")
	}
	l.emit(EOF, "", l.line)
	return l.tokens, nil
}

// unescape interprets backslash escapes in quoted text.
func unescape(raw string) (string, error) {
	if !strings.ContainsRune(raw, '\\') {
		return raw, nil
	}
	var b strings.Builder
	rs := []rune(raw)
	for i := 0; i < len(rs); i++ {
		if rs[i] != '\\' {
			b.WriteRune(rs[i])
			continue
		}
		i++
		if i >= len(rs) {
			return "", fmt.Errorf("dangling backslash")
		}
		switch rs[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		case '\\', '\'', '"':
			b.WriteRune(rs[i])
		default:
			return "", fmt.Errorf("unknown escape sequence \\%c", rs[i])
		}
	}
	return b.String(), nil
}

// numberValue converts a NUMBER lexeme. Literals up to 2^64-1 wrap into the
// signed range.
func numberValue(lexeme string) (int64, error) {
	base, body := 10, lexeme
	if len(lexeme) > 2 && lexeme[0] == '0' {
		switch lexeme[1] {
		case 'x', 'X':
			base, body = 16, lexeme[2:]
		case 'b', 'B':
			base, body = 2, lexeme[2:]
		}
	}
	u, err := strconv.ParseUint(body, base, 64)
	if err != nil {
		return 0, fmt.Errorf("number %s out of range", lexeme)
	}
	return int64(u), nil
}

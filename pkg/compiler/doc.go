// Package compiler translates TriC source into Triton-64 assembly.
//
// Pipeline: TriC source → Link → Lex → Parse → Check → prune → Generate →
// assembly text → asm.Assemble.
//
// TriC is a small systems language with byte, int and long integers,
// pointers and packed structs. Scalars are signed. There is no type checker
// beyond the parser's structural rules; Check only validates program shape.
package compiler

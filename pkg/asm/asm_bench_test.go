package asm

import "testing"

// smallProgram is a counter loop with only short immediates.
const smallProgram = `
    LDI t0, 10
    LDI t1, 0
loop:
    ADD t1, t1, t0
    SUB t0, t0, 1
    JNZ loop, t0
    HLT
`

// mediumProgram has calls, stack traffic and wide constants, so most lines
// expand into several native words.
const mediumProgram = `
    JMP main

abs_fn:
    LDI t0, 0
    SUB t0, t0, a0
    JN  abs_done, t0
    NEG a0, a0
abs_done:
    RET

triple_fn:
    PUSH ra, s0
    MOV s0, a0
    ADD a0, a0, a0
    ADD a0, a0, s0
    POP ra, s0
    RET

count_down:
cd_loop:
    JZ  cd_done, a0
    SUB a0, a0, 1
    JMP cd_loop
cd_done:
    RET

main:
    LDI a0, -7
    CALL abs_fn
    PUSH a0
    LDI a0, 5
    CALL triple_fn
    PUSH a0
    LDI a0, 12
    CALL count_down
    POP s1, s2
    ADD s1, s1, s2
    LDI t3, 0x30000
    ST [t3], s1
    ST [t3+8], s2
    LDI t4, 0x123456789
    MUL s1, s1, 100000
    HLT
`

func BenchmarkAssemble_Small(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Assemble(smallProgram); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAssemble_Medium(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Assemble(mediumProgram); err != nil {
			b.Fatal(err)
		}
	}
}

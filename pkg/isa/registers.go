package isa

import (
	"fmt"
	"strconv"
	"strings"
)

const NumRegisters = 32

const (
	RegRA = 0
	RegSP = 1
	RegHP = 2
	RegGP = 3
	RegTP = 4
	RegS0 = 5
	RegFP = RegS0
	RegA0 = 15
	RegT0 = 22
	RegX  = 31

	NumSaved = 10
	NumArgs  = 7
	NumTemps = 9
)

var registerNames = func() [NumRegisters]string {
	var names [NumRegisters]string
	names[RegRA] = "ra"
	names[RegSP] = "sp"
	names[RegHP] = "hp"
	names[RegGP] = "gp"
	names[RegTP] = "tp"
	for i := 0; i < NumSaved; i++ {
		names[RegS0+i] = fmt.Sprintf("s%d", i)
	}
	for i := 0; i < NumArgs; i++ {
		names[RegA0+i] = fmt.Sprintf("a%d", i)
	}
	for i := 0; i < NumTemps; i++ {
		names[RegT0+i] = fmt.Sprintf("t%d", i)
	}
	names[RegX] = "x"
	return names
}()

var registerAliases = func() map[string]int {
	m := make(map[string]int, 2*NumRegisters+1)
	for i, name := range registerNames {
		m[name] = i
		m["r"+strconv.Itoa(i)] = i
	}
	m["fp"] = RegFP
	return m
}()

// Register resolves a register alias or rN form, ignoring case.
func Register(name string) (int, bool) {
	idx, ok := registerAliases[strings.ToLower(name)]
	return idx, ok
}

// RegisterName returns the conventional name of register idx.
func RegisterName(idx int) string {
	if idx < 0 || idx >= NumRegisters {
		return fmt.Sprintf("r%d", idx)
	}
	return registerNames[idx]
}

// Temp returns the register index of temporary tN.
func Temp(n int) int {
	return RegT0 + n
}

// Arg returns the register index of argument aN.
func Arg(n int) int {
	return RegA0 + n
}

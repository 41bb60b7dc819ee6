package asm

import (
	"errors"
	"fmt"
	"sort"

	"triton/pkg/isa"
)

var (
	ErrDuplicateLabel  = errors.New("duplicate label")
	ErrUndefinedLabel  = errors.New("undefined label")
	ErrImmediateRange  = errors.New("immediate out of range")
	ErrScratchRegister = errors.New("scratch register x is reserved")
	ErrTempsExhausted  = errors.New("no free temporary register")
)

// SymbolTable maps labels to addresses. Each label is written exactly once.
type SymbolTable struct {
	addrs map[string]uint64
	lines map[string]int
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		addrs: make(map[string]uint64),
		lines: make(map[string]int),
	}
}

// Define records name at addr. Redefinition is an error.
func (s *SymbolTable) Define(name string, addr uint64, line int) error {
	if _, ok := isa.Register(name); ok {
		return fmt.Errorf("label '%s' on line %d is a register name", name, line)
	}
	if prev, ok := s.lines[name]; ok {
		return fmt.Errorf("%w '%s' on line %d (first defined on line %d)", ErrDuplicateLabel, name, line, prev)
	}
	s.addrs[name] = addr
	s.lines[name] = line
	return nil
}

func (s *SymbolTable) Lookup(name string) (uint64, bool) {
	addr, ok := s.addrs[name]
	return addr, ok
}

// Resolve is Lookup with an error naming the line that used the label.
func (s *SymbolTable) Resolve(name string, line int) (uint64, error) {
	addr, ok := s.addrs[name]
	if !ok {
		return 0, fmt.Errorf("%w '%s' on line %d", ErrUndefinedLabel, name, line)
	}
	return addr, nil
}

func (s *SymbolTable) Len() int { return len(s.addrs) }

// Names returns all labels ordered by address, then name.
func (s *SymbolTable) Names() []string {
	names := make([]string, 0, len(s.addrs))
	for n := range s.addrs {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if s.addrs[names[i]] != s.addrs[names[j]] {
			return s.addrs[names[i]] < s.addrs[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// Map returns a copy of the table.
func (s *SymbolTable) Map() map[string]uint64 {
	out := make(map[string]uint64, len(s.addrs))
	for k, v := range s.addrs {
		out[k] = v
	}
	return out
}

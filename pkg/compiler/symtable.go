package compiler

import "fmt"

type SymbolKind int

const (
	SymGlobal SymbolKind = iota
	SymParam
	SymLocal
)

func (k SymbolKind) String() string {
	switch k {
	case SymGlobal:
		return "global"
	case SymParam:
		return "param"
	}
	return "local"
}

// Symbol is a declared variable. Slot is unique within its function (or
// among globals) even when the same name is shadowed, so code generation can
// key storage by it.
type Symbol struct {
	Name  string
	Slot  string
	Type  *Type
	Kind  SymbolKind
	Index int // parameter position, for SymParam
	Line  int
}

// ScopeStack tracks lexical scopes. The bottom scope holds globals; each
// function pushes one scope for its parameters and one per block.
type ScopeStack struct {
	scopes []map[string]*Symbol
	counts map[string]int
}

func NewScopeStack() *ScopeStack {
	return &ScopeStack{scopes: []map[string]*Symbol{make(map[string]*Symbol)}}
}

// EnterFunction starts a new slot numbering and opens the parameter scope.
func (s *ScopeStack) EnterFunction() {
	s.counts = make(map[string]int)
	s.Push()
}

// ExitFunction closes every scope above the globals.
func (s *ScopeStack) ExitFunction() {
	s.scopes = s.scopes[:1]
	s.counts = nil
}

func (s *ScopeStack) Push() {
	s.scopes = append(s.scopes, make(map[string]*Symbol))
}

func (s *ScopeStack) Pop() {
	if len(s.scopes) > 1 {
		s.scopes = s.scopes[:len(s.scopes)-1]
	}
}

// Depth is the number of open scopes, globals included.
func (s *ScopeStack) Depth() int { return len(s.scopes) }

// Declare adds name to the innermost scope.
func (s *ScopeStack) Declare(name string, t *Type, kind SymbolKind, line int) (*Symbol, error) {
	top := s.scopes[len(s.scopes)-1]
	if prev, dup := top[name]; dup {
		return nil, fmt.Errorf("%s is already declared in this scope (line %d)", name, prev.Line)
	}
	sym := &Symbol{Name: name, Slot: name, Type: t, Kind: kind, Line: line}
	if kind != SymGlobal {
		if s.counts == nil {
			return nil, fmt.Errorf("%s declared outside a function", name)
		}
		s.counts[name]++
		sym.Slot = fmt.Sprintf("%s#%d", name, s.counts[name])
	}
	top[name] = sym
	return sym, nil
}

// Resolve finds the innermost declaration of name.
func (s *ScopeStack) Resolve(name string) (*Symbol, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if sym, ok := s.scopes[i][name]; ok {
			return sym, true
		}
	}
	return nil, false
}

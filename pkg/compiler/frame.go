package compiler

import "fmt"

// cellSize is the storage unit for variables. Scalars of every width occupy
// one cell holding their sign-extended 64-bit value; structs occupy whole
// cells.
const cellSize = 8

// Frame layout, relative to fp after the prologue:
//
//	fp+16+8i  parameter i (pushed by the caller, arg0 lowest)
//	fp+8      return address
//	fp+0      caller's fp
//	fp-8 ...  locals, growing down
const (
	savedRegsSize = 16
	frameAlign    = 16
)

func cellsFor(t *Type) int {
	return alignUp(t.Size(), cellSize)
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

// StackManager assigns fp-relative offsets to the slots of one function.
type StackManager struct {
	active bool
	next   int // lowest offset handed out so far (<= 0)
	slots  map[string]int
}

// Begin opens a frame for a new function.
func (s *StackManager) Begin() {
	s.active = true
	s.next = 0
	s.slots = make(map[string]int)
}

// End closes the frame; further declarations are errors.
func (s *StackManager) End() {
	s.active = false
}

// DeclareParam places parameter index above the saved registers.
func (s *StackManager) DeclareParam(slot string, index int) error {
	if !s.active {
		return fmt.Errorf("%w: parameter %s", ErrNoFrame, slot)
	}
	if _, dup := s.slots[slot]; dup {
		return fmt.Errorf("slot %s declared twice", slot)
	}
	s.slots[slot] = savedRegsSize + cellSize*index
	return nil
}

// Declare reserves space for a local below fp and returns its offset.
func (s *StackManager) Declare(slot string, t *Type) (int, error) {
	if !s.active {
		return 0, fmt.Errorf("%w: local %s", ErrNoFrame, slot)
	}
	if _, dup := s.slots[slot]; dup {
		return 0, fmt.Errorf("slot %s declared twice", slot)
	}
	s.next -= cellsFor(t)
	s.next = -alignUp(-s.next, t.Align())
	s.slots[slot] = s.next
	return s.next, nil
}

// Offset returns the fp-relative offset of slot.
func (s *StackManager) Offset(slot string) (int, bool) {
	off, ok := s.slots[slot]
	return off, ok
}

// FrameSize is the space reserved below fp, rounded to 16 bytes.
func (s *StackManager) FrameSize() int {
	return alignUp(-s.next, frameAlign)
}

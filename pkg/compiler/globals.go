package compiler

// StringData is a string constant placed in the global region.
type StringData struct {
	Offset int
	Value  string
}

// GlobalManager lays out globals and string constants in one linear region
// addressed from gp.
type GlobalManager struct {
	size    int
	slots   map[string]int
	strings map[string]int
	order   []StringData
}

func NewGlobalManager() *GlobalManager {
	return &GlobalManager{slots: make(map[string]int), strings: make(map[string]int)}
}

func (g *GlobalManager) reserve(n, align int) int {
	g.size = alignUp(g.size, align)
	off := g.size
	g.size += n
	return off
}

// Declare places a global variable and returns its gp offset.
func (g *GlobalManager) Declare(slot string, t *Type) int {
	if off, ok := g.slots[slot]; ok {
		return off
	}
	off := g.reserve(cellsFor(t), t.Align())
	g.slots[slot] = off
	return off
}

func (g *GlobalManager) Offset(slot string) (int, bool) {
	off, ok := g.slots[slot]
	return off, ok
}

// String interns s (plus its NUL terminator) and returns its gp offset.
// Strings start on a cell boundary so they can be written a cell at a time.
func (g *GlobalManager) String(s string) int {
	if off, ok := g.strings[s]; ok {
		return off
	}
	off := g.reserve(alignUp(len(s)+1, cellSize), cellSize)
	g.strings[s] = off
	g.order = append(g.order, StringData{Offset: off, Value: s})
	return off
}

// Strings returns the interned strings in allocation order.
func (g *GlobalManager) Strings() []StringData { return g.order }

// Size is the number of bytes used.
func (g *GlobalManager) Size() int { return g.size }

package cpu

import (
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"

	"triton/pkg/isa"
)

// DumpRegisters writes all 32 registers in hex and decimal, columns per row,
// followed by the program counter and run state.
func (c *CPU) DumpRegisters(w io.Writer, columns int) error {
	if columns < 1 {
		columns = 1
	}
	idx := lo.Range(isa.NumRegisters)
	for _, row := range lo.Chunk(idx, columns) {
		cells := lo.Map(row, func(i int, _ int) string {
			return fmt.Sprintf("%-3s %016x %-20d", isa.RegisterName(i), c.Regs[i], int64(c.Regs[i]))
		})
		if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " ")); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "pc  %016x  state=%s steps=%d\n", c.PC, c.state, c.steps)
	return err
}

// DumpColumns picks how many register cells fit in width characters.
func DumpColumns(width int) int {
	const cell = 3 + 1 + 16 + 1 + 20 + 2
	return max(1, min(4, width/cell))
}

package memory

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a hex view of n bytes starting at addr, 16 bytes per row.
func (m *Memory) Dump(w io.Writer, addr uint64, n int) error {
	data, err := m.ReadBlock(addr, n)
	if err != nil {
		return err
	}
	for off := 0; off < len(data); off += 16 {
		end := min(off+16, len(data))
		row := data[off:end]

		var hex, ascii strings.Builder
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(&hex, "%02x ", row[i])
				if row[i] >= 0x20 && row[i] < 0x7f {
					ascii.WriteByte(row[i])
				} else {
					ascii.WriteByte('.')
				}
			} else {
				hex.WriteString("   ")
			}
			if i == 7 {
				hex.WriteByte(' ')
			}
		}
		if _, err := fmt.Fprintf(w, "%08x  %s |%s|\n", addr+uint64(off), hex.String(), ascii.String()); err != nil {
			return err
		}
	}
	return nil
}

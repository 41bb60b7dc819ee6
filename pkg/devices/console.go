package devices

import (
	"fmt"
	"io"
	"sync"
)

// Console registers.
const (
	ConsoleChar  = 0x00 // write: low byte is output
	ConsoleInt   = 0x08 // write: value is printed as a signed decimal
	ConsoleCount = 0x10 // read: bytes written so far
)

// Console writes program output to an io.Writer.
type Console struct {
	window
	mu    sync.Mutex
	out   io.Writer
	count uint64
}

func NewConsole(base uint64, out io.Writer) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{window: window{name: "console", base: base}, out: out}
}

func (c *Console) Read(offset uint64, width int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if offset == ConsoleCount {
		return c.count
	}
	return 0
}

func (c *Console) Write(offset uint64, width int, v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	switch offset {
	case ConsoleChar:
		n, _ = c.out.Write([]byte{byte(v)})
	case ConsoleInt:
		n, _ = fmt.Fprintf(c.out, "%d", int64(v))
	}
	c.count += uint64(n)
}

// Written returns the number of bytes output.
func (c *Console) Written() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

package devices

import (
	"context"
	"sync/atomic"
	"time"
)

// Timer registers.
const (
	TimerTicks = 0x00 // read: ticks since start or the last reset
	TimerReset = 0x08 // write: any value resets the count
)

// Timer counts ticks on its own goroutine.
type Timer struct {
	window
	ticks    atomic.Uint64
	interval time.Duration
}

// NewTimer returns a timer that ticks every interval once started.
func NewTimer(base uint64, interval time.Duration) *Timer {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Timer{window: window{name: "timer", base: base}, interval: interval}
}

// Start ticks until ctx is done.
func (t *Timer) Start(ctx context.Context) {
	go func() {
		tk := time.NewTicker(t.interval)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				t.ticks.Add(1)
			}
		}
	}()
}

// Tick advances the count by one.
func (t *Timer) Tick() { t.ticks.Add(1) }

func (t *Timer) Ticks() uint64 { return t.ticks.Load() }

func (t *Timer) Read(offset uint64, width int) uint64 {
	if offset == TimerTicks {
		return t.ticks.Load()
	}
	return 0
}

func (t *Timer) Write(offset uint64, width int, v uint64) {
	if offset == TimerReset {
		t.ticks.Store(0)
	}
}

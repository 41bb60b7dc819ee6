package compiler

import (
	"fmt"
	"strings"

	"triton/pkg/isa"
)

// RegisterManager owns the temporary registers t0..t8 during code
// generation. Every Alloc must be paired with a Free before the function
// ends; CheckLeaks enforces this.
type RegisterManager struct {
	used [isa.NumTemps]bool
}

// Alloc returns the lowest free temporary.
func (m *RegisterManager) Alloc() (int, error) {
	for i, u := range m.used {
		if !u {
			m.used[i] = true
			return isa.Temp(i), nil
		}
	}
	return 0, fmt.Errorf("%w: all %d temporaries are live", ErrRegisterPoolExhausted, isa.NumTemps)
}

// Free returns r to the pool. Freeing a register that is not allocated is a
// code generator bug.
func (m *RegisterManager) Free(r int) {
	i := r - isa.RegT0
	if i < 0 || i >= isa.NumTemps || !m.used[i] {
		panic(fmt.Sprintf("compiler: free of unallocated register %s", isa.RegisterName(r)))
	}
	m.used[i] = false
}

// Live lists the allocated temporaries in register order.
func (m *RegisterManager) Live() []int {
	var live []int
	for i, u := range m.used {
		if u {
			live = append(live, isa.Temp(i))
		}
	}
	return live
}

// Release frees rs without the double-free check; used when live registers
// have been saved to the stack around a call.
func (m *RegisterManager) Release(rs []int) {
	for _, r := range rs {
		m.used[r-isa.RegT0] = false
	}
}

// Reclaim marks rs as allocated again after a call.
func (m *RegisterManager) Reclaim(rs []int) {
	for _, r := range rs {
		m.used[r-isa.RegT0] = true
	}
}

func (m *RegisterManager) InUse() int { return len(m.Live()) }

func (m *RegisterManager) Reset() { m.used = [isa.NumTemps]bool{} }

// CheckLeaks reports registers still allocated.
func (m *RegisterManager) CheckLeaks() error {
	live := m.Live()
	if len(live) == 0 {
		return nil
	}
	names := make([]string, len(live))
	for i, r := range live {
		names[i] = isa.RegisterName(r)
	}
	return fmt.Errorf("%w: %s still allocated", ErrRegisterLeak, strings.Join(names, ", "))
}

package vm

// Address space layout. The stack occupies [0, maxStackAddr); the heap
// occupies [minHeapAddr, maxHeapAddr). Each region is backed by a fixed
// array of 2^24 int32 slots (64 MiB).
const (
	minStackAddr uint32 = 0
	maxStackAddr uint32 = 0x00ffffff
	maxStackSize uint32 = 0x01000000

	minHeapAddr uint32 = 0x01000000
	maxHeapAddr uint32 = 0x01ffffff
	maxHeapSize uint32 = 0x01000000
)

type heapRecord struct {
	base, length uint32
}

// memory is the stack+heap region backing a running Machine. Every access
// goes through checkAddr, so out-of-range reads/writes surface as the
// typed errors the fault reporting layer expects rather
// than a Go slice panic.
type memory struct {
	stack []int32
	heap  []int32
	recs  []heapRecord

	sp uint32
	bp uint32
}

func newMemory() *memory {
	return &memory{
		stack: make([]int32, maxStackSize),
		heap:  make([]int32, maxHeapSize),
	}
}

// ensureStackRest verifies count more slots can be pushed without
// crossing maxStackAddr.
func (m *memory) ensureStackRest(count uint32) error {
	if m.sp+count > maxStackAddr {
		return StackOverflow{}
	}
	return nil
}

// ensureStackUsed verifies count slots can be popped/consumed without
// reaching below the current frame's base pointer.
func (m *memory) ensureStackUsed(count uint32) error {
	if m.bp+count > m.sp {
		return InvalidMemoryAccess{Msg: "tried to modify important stack info"}
	}
	return nil
}

func (m *memory) incSP(count uint32) error {
	if err := m.ensureStackRest(count); err != nil {
		return err
	}
	m.sp += count
	return nil
}

func (m *memory) decSP(count uint32) error {
	if err := m.ensureStackUsed(count); err != nil {
		return err
	}
	m.sp -= count
	return nil
}

// alloc bump-allocates count slots on the heap and records the
// allocation so later accesses can be validated against it.
func (m *memory) alloc(count uint32) (uint32, error) {
	start := minHeapAddr
	if n := len(m.recs); n > 0 {
		last := m.recs[n-1]
		start = last.base + last.length
	}
	if start+count >= maxHeapAddr {
		return 0, HeapOverflow{}
	}
	m.recs = append(m.recs, heapRecord{base: start, length: count})
	return start, nil
}

// checkAddr validates that [addr, addr+count) lies entirely within the
// used portion of the stack or within a single heap allocation, and
// returns the backing slice + offset to read/write through.
func (m *memory) checkAddr(addr, count uint32) ([]int32, uint32, error) {
	end := addr + count
	if addr < m.sp {
		if end > m.sp {
			return nil, 0, InvalidMemoryAccess{Msg: "tried to access unused stack memory"}
		}
		return m.stack, addr, nil
	}
	if addr >= minHeapAddr && addr < maxHeapAddr {
		for _, r := range m.recs {
			if r.base <= addr && end <= r.base+r.length {
				return m.heap, addr - minHeapAddr, nil
			}
		}
		return nil, 0, InvalidMemoryAccess{Msg: "tried to access unused or constant heap memory"}
	}
	return nil, 0, InvalidMemoryAccess{Msg: "tried to access unexistent memory"}
}

func (m *memory) readSlot(addr uint32) (int32, error) {
	buf, off, err := m.checkAddr(addr, 1)
	if err != nil {
		return 0, err
	}
	return buf[off], nil
}

func (m *memory) writeSlot(addr uint32, v int32) error {
	buf, off, err := m.checkAddr(addr, 1)
	if err != nil {
		return err
	}
	buf[off] = v
	return nil
}

func (m *memory) readDouble(addr uint32) (float64, error) {
	buf, off, err := m.checkAddr(addr, 2)
	if err != nil {
		return 0, err
	}
	return slotsToDouble(buf[off], buf[off+1]), nil
}

func (m *memory) writeDouble(addr uint32, v float64) error {
	buf, off, err := m.checkAddr(addr, 2)
	if err != nil {
		return err
	}
	hi, lo := doubleToSlots(v)
	buf[off], buf[off+1] = hi, lo
	return nil
}

// pushSlot/popSlot/pushDouble/popDouble operate on the top of stack,
// advancing/retreating sp under the ensureStackRest/ensureStackUsed guards.

func (m *memory) pushSlot(v int32) error {
	if err := m.ensureStackRest(1); err != nil {
		return err
	}
	m.stack[m.sp] = v
	m.sp++
	return nil
}

func (m *memory) popSlot() (int32, error) {
	if err := m.ensureStackUsed(1); err != nil {
		return 0, err
	}
	m.sp--
	return m.stack[m.sp], nil
}

func (m *memory) pushDouble(v float64) error {
	if err := m.ensureStackRest(2); err != nil {
		return err
	}
	hi, lo := doubleToSlots(v)
	m.stack[m.sp] = hi
	m.stack[m.sp+1] = lo
	m.sp += 2
	return nil
}

func (m *memory) popDouble() (float64, error) {
	if err := m.ensureStackUsed(2); err != nil {
		return 0, err
	}
	m.sp -= 2
	return slotsToDouble(m.stack[m.sp], m.stack[m.sp+1]), nil
}

func (m *memory) pushAddr(a uint32) error { return m.pushSlot(int32(a)) }

func (m *memory) popAddr() (uint32, error) {
	v, err := m.popSlot()
	return uint32(v), err
}

func (m *memory) dup() error {
	if err := m.ensureStackUsed(1); err != nil {
		return err
	}
	if err := m.ensureStackRest(1); err != nil {
		return err
	}
	m.stack[m.sp] = m.stack[m.sp-1]
	m.sp++
	return nil
}

func (m *memory) dup2() error {
	if err := m.ensureStackUsed(2); err != nil {
		return err
	}
	if err := m.ensureStackRest(2); err != nil {
		return err
	}
	m.stack[m.sp] = m.stack[m.sp-2]
	m.stack[m.sp+1] = m.stack[m.sp-1]
	m.sp += 2
	return nil
}

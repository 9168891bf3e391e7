package kernel

// heapState models the monotonic sbrk bump allocator: a single break
// pointer moving forward inside a fixed linker-provided window. There
// is no free(); the window's size is the only capacity constraint
// (spec.md section 6, SVC 0, and section 8 property 8).
type heapState struct {
	base  uint32
	limit uint32
	brk   uint32
}

// heapWindowSize is large enough to exercise both growth and
// exhaustion in tests without the constant itself being load-bearing
// behavior; real hardware sizes this from the linker script.
const heapWindowSize = 64 * 1024

func (h *heapState) init() {
	h.base = 0x20020000
	h.limit = h.base + heapWindowSize
	h.brk = h.base
}

// Sbrk is SVC 0. incr may be negative or zero: zero just reports the
// current break (property 8's idempotence), negative fails since this
// allocator never shrinks, and a positive increment that would cross
// limit fails without moving brk.
func (k *Kernel) Sbrk(incr int32) (int32, error) {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()

	old := k.heap.brk
	if incr < 0 {
		return -1, newKernelError(KindSbrkExhausted)
	}
	next := old + uint32(incr)
	if next < old || next > k.heap.limit {
		return -1, newKernelError(KindSbrkExhausted)
	}
	k.heap.brk = next
	return int32(old), nil
}

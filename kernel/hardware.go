package kernel

import "sync/atomic"

// SimHardware is the default Hardware: a host-process stand-in for the
// Cortex-M primitives the kernel depends on. Load/store-exclusive is
// modeled with a compare-and-swap, which gives it the same "succeeds
// only if nothing else wrote the word since the load" semantics real
// LL/SC monitors provide; the memory barrier is a no-op under the Go
// memory model's own happens-before guarantees, and PendSwitch just
// counts how many times it fired for tests that want to assert a
// switch was actually requested.
type SimHardware struct {
	pendCount uint64
	lastLoad  uint32
}

// NewSimHardware returns a ready-to-use software Hardware.
func NewSimHardware() *SimHardware {
	return &SimHardware{}
}

func (s *SimHardware) LoadExclusive(word *uint32) uint32 {
	v := atomic.LoadUint32(word)
	s.lastLoad = v
	return v
}

func (s *SimHardware) StoreExclusive(word *uint32, val uint32) bool {
	return atomic.CompareAndSwapUint32(word, s.lastLoad, val)
}

func (s *SimHardware) DataMemBarrier() {}

func (s *SimHardware) PendSwitch() {
	atomic.AddUint64(&s.pendCount, 1)
}

// PendCount reports how many times PendSwitch has fired, for tests
// asserting a reschedule was actually requested.
func (s *SimHardware) PendCount() uint64 {
	return atomic.LoadUint64(&s.pendCount)
}

package kernel

// MPUMode selects how the two dynamic per-thread stack regions behave
// across a context switch (spec.md section 4.5).
type MPUMode int

const (
	// MPUKernelOnly sets the two dynamic regions once, covering the
	// entire user-stack window; no per-switch rebinding occurs.
	MPUKernelOnly MPUMode = iota
	// MPUPerThread disables and re-enables the dynamic regions at
	// every context switch, scoped to just the running task's bands.
	MPUPerThread
)

// region mirrors one of the six static MPU regions or the two dynamic
// ones (eight in all): a base/limit pair, sized and aligned to the next power
// of two of its extent per spec.md section 4.5.
type region struct {
	base, limit uint32
	writable    bool
}

// MPU models the six static regions (text/rodata/data/bss/heap/main
// stack) and the two dynamic per-thread stack regions, and classifies
// memory-management faults against the active TCB's stack extents.
type MPU struct {
	mode MPUMode

	text, rodata, data, bss, heapRegion, bootStack region

	// static per-slot stack bands, carved from the reserved stack
	// window at MultitaskRequest time.
	bandSize    uint32
	uBandBase   []uint32 // base (high) address of task i's unprivileged band
	pBandBase   []uint32 // base (high) address of task i's privileged band

	// dynamic regions, rebound at every switch under MPUPerThread.
	dynU, dynP region
}

// bootstrapBandSlot is the synthetic band index newMPU reserves one
// past the last user-task band for the bootstrap task's own static
// stack region (spec.md section 4.5's "eight MPU regions... cover:
// ...the bootstrap task's unprivileged stack"), so MultitaskRequest
// can hand it out via the same staticBandFor/staticPrivBandFor path
// ThreadDefine uses for user tasks.
func bootstrapBandSlot(numThreads int) int { return numThreads }

func newMPU(mode MPUMode, bandSize uint32, numThreads int) *MPU {
	m := &MPU{
		mode: mode,
		bandSize: bandSize,
		// +1 reserves bootstrapBandSlot's band, immediately above the
		// user-task bands, for the bootstrap task's own stacks.
		uBandBase: make([]uint32, numThreads+1),
		pBandBase: make([]uint32, numThreads+1),
	}
	// Layout is a simulated address space: unprivileged stacks occupy
	// [0x2000_0000, 0x2000_0000+StackWindow), privileged stacks occupy
	// the window immediately above it. Real linker scripts place these
	// per board; the exact numbers are not observable behavior.
	const uBase0 = uint32(0x20000000)
	const pBase0 = uint32(0x20008000)
	for i := 0; i <= numThreads; i++ {
		m.uBandBase[i] = uBase0 + uint32(i+1)*bandSize
		m.pBandBase[i] = pBase0 + uint32(i+1)*bandSize
	}
	if mode == MPUKernelOnly {
		// The dynamic regions only ever stand in for a user task's
		// stacks; the bootstrap band just above them is static and
		// never rebound, so it is excluded from this window.
		m.dynU = region{base: uBase0 + uint32(numThreads)*bandSize, limit: uBase0}
		m.dynP = region{base: pBase0 + uint32(numThreads)*bandSize, limit: pBase0}
	}
	return m
}

// bindStaticBands is a no-op placeholder hook called once per
// MultitaskRequest: real hardware would program the static regions here
// from linker-provided extents. The simulated model has no text/data
// segments to size, so this only exists to keep the call site matching
// the real initialization order (§4.5: "eight MPU regions, configured
// at kernel entry").
func (m *MPU) bindStaticBands(_ []TCB, _ uint32) {}

func (m *MPU) staticBandFor(slot int) (base, limit uint32) {
	b := m.uBandBase[slot]
	return b, b - m.bandSize
}

func (m *MPU) staticPrivBandFor(slot int) (base, limit uint32) {
	b := m.pBandBase[slot]
	return b, b - m.bandSize
}

// rebind re-programs the dynamic regions for the newly selected task
// under MPUPerThread; under MPUKernelOnly the dynamic regions already
// cover the whole window and nothing changes.
func (m *MPU) rebind(t *TCB) {
	if m.mode != MPUPerThread {
		return
	}
	m.dynU = region{base: t.uStackBase, limit: t.uStackLimit}
	m.dynP = region{base: t.pStackBase, limit: t.pStackLimit}
}

// withinActiveStackExtents reports whether faultingSP lies within
// either of the active TCB's stack bands.
func (k *Kernel) withinActiveStackExtents(faultingSP uint32) bool {
	active := &k.tasks[k.active]
	inUnpriv := faultingSP >= active.uStackLimit && faultingSP < active.uStackBase
	inPriv := faultingSP >= active.pStackLimit && faultingSP < active.pStackBase
	return inUnpriv || inPriv
}

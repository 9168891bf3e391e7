package kernel

// rttUpBufferSize and rttDownBufferSize are the fixed ring capacities
// spec.md section 4.6 and section 6 name: 256 bytes device-to-host,
// 16 bytes host-to-device. One slot of each ring is sacrificed to
// disambiguate full from empty (w_idx == r_idx means empty, w_idx+1
// == r_idx mod capacity means full).
const (
	rttUpBufferSize   = 256
	rttDownBufferSize = 16
)

// ringBuffer is one SPSC ring as described in spec.md section 4.6: the
// producer publishes a byte, then a barrier, then the advanced index;
// the consumer reads the published index, a barrier, then the bytes,
// then publishes its own advanced index. There is exactly one producer
// and one consumer role per ring (up: kernel produces, host consumes;
// down: host produces, kernel consumes), so no further synchronization
// is needed beyond the two barriered writes Hardware.DataMemBarrier
// stands in for.
type ringBuffer struct {
	name     string
	data     []byte
	capacity uint32
	wIdx     uint32
	rIdx     uint32
	flags    uint32
}

func newRingBuffer(name string, capacity uint32) ringBuffer {
	return ringBuffer{name: name, data: make([]byte, capacity), capacity: capacity, flags: 2}
}

func (r *ringBuffer) full() bool {
	return (r.wIdx+1)%r.capacity == r.rIdx
}

func (r *ringBuffer) empty() bool {
	return r.wIdx == r.rIdx
}

// produce appends as many of p as fit before the ring would become
// full, matching flags=2's "no blocking if full" instead of the
// debugger-attached hardware's busy-loop: a host process reading these
// buffers is not assumed to be draining them in lockstep.
func (r *ringBuffer) produce(hw Hardware, p []byte) int {
	n := 0
	for n < len(p) {
		next := (r.wIdx + 1) % r.capacity
		if next == r.rIdx {
			break
		}
		r.data[r.wIdx] = p[n]
		hw.DataMemBarrier()
		r.wIdx = next
		hw.DataMemBarrier()
		n++
	}
	return n
}

// consume copies up to len(p) bytes into p, stopping when the ring
// reports empty; non-blocking, matching spec.md's "may be 0".
func (r *ringBuffer) consume(hw Hardware, p []byte) int {
	n := 0
	for n < len(p) {
		if r.wIdx == r.rIdx {
			break
		}
		p[n] = r.data[r.rIdx]
		hw.DataMemBarrier()
		r.rIdx = (r.rIdx + 1) % r.capacity
		hw.DataMemBarrier()
		n++
	}
	return n
}

// rttControlBlock mirrors original_source/kernel/include/rtt.h's
// layout: a 16-byte identifier, the up/down buffer counts, and the two
// buffer descriptors. A real build places this at a link-time fixed
// address for an external debugger to find; the simulated kernel just
// keeps it as ordinary process state and exposes it read-only via
// ControlBlock for host tooling.
type rttControlBlock struct {
	id   [16]byte
	up   ringBuffer
	down ringBuffer
}

func (r *rttControlBlock) init() {
	copy(r.id[:], "IN2I64RTT\x00\x00\x00\x00\x00\x00\x00")
	r.up = newRingBuffer("Terminal", rttUpBufferSize)
	r.down = newRingBuffer("Terminal", rttDownBufferSize)
}

// ControlBlockSnapshot is a host-visible, read-only copy of the RTT
// control block's identifying fields, standing in for a debugger
// probing the fixed control-block address on real hardware.
type ControlBlockSnapshot struct {
	ID             [16]byte
	UpCapacity     uint32
	DownCapacity   uint32
	UpWriteIndex   uint32
	UpReadIndex    uint32
	DownWriteIndex uint32
	DownReadIndex  uint32
}

// ControlBlock returns a snapshot of the RTT control block.
func (k *Kernel) ControlBlock() ControlBlockSnapshot {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	return ControlBlockSnapshot{
		ID:             k.rtt.id,
		UpCapacity:     k.rtt.up.capacity,
		DownCapacity:   k.rtt.down.capacity,
		UpWriteIndex:   k.rtt.up.wIdx,
		UpReadIndex:    k.rtt.up.rIdx,
		DownWriteIndex: k.rtt.down.wIdx,
		DownReadIndex:  k.rtt.down.rIdx,
	}
}

// Write is SVC 1: fd must be 1 (the up/device-to-host buffer). buf and
// len stand in for a user-stack pointer and count. Write only validates
// them and returns 0: it publishes no bytes, and Dispatch's SVCWrite
// path does not call WriteBytes. WriteBytes is the separate entry point
// that publishes a byte slice to the up buffer.
func (k *Kernel) Write(fd, buf, length int) (int, error) {
	if fd != 1 || buf < 0 || length < 0 {
		return -1, wrapf(KindThreadDefineInvalidArgs, "write: fd=%d buf=%d len=%d", fd, buf, length)
	}
	return 0, nil
}

// WriteBytes publishes p to the up buffer, returning the number of
// bytes actually accepted before the ring filled (non-blocking).
func (k *Kernel) WriteBytes(p []byte) int {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	return k.rtt.up.produce(k.hw, p)
}

// Read is SVC 2: fd must be 0 (the down/host-to-device buffer). Like
// Write, it only validates its arguments and returns 0; Dispatch's
// SVCRead path does not call ReadBytes, the byte-slice entry point.
func (k *Kernel) Read(fd, buf, length int) (int, error) {
	if fd != 0 || buf < 0 || length < 0 {
		return -1, wrapf(KindThreadDefineInvalidArgs, "read: fd=%d buf=%d len=%d", fd, buf, length)
	}
	return 0, nil
}

// ReadBytes copies up to len(p) bytes from the down buffer into p,
// returning the number actually available (non-blocking, may be 0).
func (k *Kernel) ReadBytes(p []byte) int {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	return k.rtt.down.consume(k.hw, p)
}

// InjectDownBytes is the host side of the down buffer: it stands in
// for an external debugger writing bytes for the device to read via
// ReadBytes. Not part of the SVC surface.
func (k *Kernel) InjectDownBytes(p []byte) int {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	return k.rtt.down.produce(k.hw, p)
}

// DrainUpBytes is the host side of the up buffer: it stands in for an
// external debugger reading bytes the device published via WriteBytes.
// Not part of the SVC surface.
func (k *Kernel) DrainUpBytes(p []byte) int {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	return k.rtt.up.consume(k.hw, p)
}

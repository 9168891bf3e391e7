package kernel

import (
	"sort"

	"go.uber.org/zap"
)

// State is a TCB's lifecycle state (spec.md section 3).
type State int

const (
	Defunct State = iota
	Ready
	Running
	Waiting
	Blocked
)

func (s State) String() string {
	switch s {
	case Defunct:
		return "defunct"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// TCB is a task control block. Stacks are modeled as address ranges
// rather than real memory, since nothing in this process actually
// executes user code out of them; the ranges are what the MPU manager
// and fault handler validate against.
type TCB struct {
	id    int // opaque to the kernel, unique among non-Defunct TCBs; -1 for unused slots
	state State

	// Stack extents. Stacks grow down, so base > limit.
	uStackBase, uStackLimit uint32 // unprivileged
	pStackBase, pStackLimit uint32 // privileged

	// Snapshots of each stack pointer, valid while not Running.
	uSP, pSP uint32

	fn  func(arg uint32)
	arg uint32

	c, t int // worst-case execution time and period, in ticks

	staticPriority  int
	dynamicPriority int

	activeTime        uint64
	remainingWork     int
	timeUntilRelease  int
	inSyscall         bool

	name string // cosmetic, for diagnostics only
}

// ID returns the task's application-assigned id.
func (t *TCB) ID() int { return t.id }

// State returns the task's current lifecycle state.
func (t *TCB) State() State { return t.state }

// DynamicPriority returns the task's current scheduling priority.
func (t *TCB) DynamicPriority() int { return t.dynamicPriority }

// ActiveTime returns cumulative ticks the task has spent Running.
func (t *TCB) ActiveTime() uint64 { return t.activeTime }

func (t *TCB) holdsAnyLock(k *Kernel) bool {
	for i := 0; i < k.numMutexes; i++ {
		if k.mutexes[i].holder == t {
			return true
		}
	}
	return false
}

// MultitaskRequest is SVC 31. See spec.md section 4.1.
func (k *Kernel) MultitaskRequest(numThreads int, stackBytes uint32, idleFn func(), mode MPUMode, numLocks int) error {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()

	if k.requested {
		return newKernelError(KindMultitaskRequestRepeated)
	}
	if numThreads <= 0 || numThreads > MaxUserTasks || numLocks < 0 || numLocks > MaxMutexes || idleFn == nil {
		return newKernelError(KindMultitaskRequestInvalidParams)
	}

	rounded := nextPowerOfTwo(stackBytes)
	// Each task needs one unprivileged and one privileged band of equal
	// size, one from each of the two StackWindow-sized reserved windows.
	total := rounded * uint32(numThreads)
	if total == 0 || total > StackWindow {
		return newKernelError(KindMultitaskRequestInvalidParams)
	}

	k.stackBytes = rounded
	k.idleFn = idleFn
	k.mpuMode = mode
	k.numLocksCap = numLocks
	k.mpu = newMPU(mode, rounded, numThreads)

	for i := 0; i < numThreads; i++ {
		k.tasks[i] = TCB{id: -1, state: Defunct}
	}
	k.mpu.bindStaticBands(k.tasks[:numThreads], rounded)

	idle := &k.tasks[idleSlot]
	*idle = TCB{
		id:              -2,
		state:           Ready,
		c:               1,
		t:               1,
		staticPriority:  maxPriority(),
		dynamicPriority: maxPriority(),
		remainingWork:   1,
		timeUntilRelease: 0,
		fn:              func(uint32) { idleFn() },
		name:            "idle",
	}

	bootBase, bootLimit := k.mpu.staticBandFor(bootstrapBandSlot(numThreads))
	bootPBase, bootPLimit := k.mpu.staticPrivBandFor(bootstrapBandSlot(numThreads))

	boot := &k.tasks[bootstrapSlot]
	*boot = TCB{
		id:              -3,
		state:           Running,
		staticPriority:  maxPriority(),
		dynamicPriority: maxPriority(),
		name:            "bootstrap",
		uStackBase:      bootBase,
		uStackLimit:     bootLimit,
		pStackBase:      bootPBase,
		pStackLimit:     bootPLimit,
		uSP:             bootBase,
		pSP:             bootPBase,
	}
	k.active = bootstrapSlot
	k.activeCount = 1 // idle counts once it is given a stack by thread_define-equivalent bookkeeping below

	k.requested = true
	return nil
}

// ThreadDefine is SVC 32. See spec.md section 4.1.
func (k *Kernel) ThreadDefine(id int, fn func(arg uint32), arg uint32, c, t int) error {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()

	if !k.requested {
		return newKernelError(KindThreadDefineNoTCB)
	}
	if fn == nil || c <= 0 || t <= 0 || c > t {
		return wrapf(KindThreadDefineInvalidArgs, "thread_define: id=%d c=%d t=%d", id, c, t)
	}
	for i := 0; i < MaxUserTasks; i++ {
		if k.tasks[i].state != Defunct && k.tasks[i].id == id {
			return wrapf(KindThreadDefineDuplicate, "thread_define: id=%d already in use", id)
		}
	}
	slot := -1
	for i := 0; i < MaxUserTasks; i++ {
		if k.tasks[i].state == Defunct {
			slot = i
			break
		}
	}
	if slot == -1 {
		return newKernelError(KindThreadDefineNoTCB)
	}

	newUtil := k.totalUtil + float64(c)/float64(t)
	n := k.countNonDefunctUser() + 1
	if n > MaxUserTasks || newUtil > rmBound[n] {
		k.log.Warn("thread_define rejected: unsafe admission",
			zap.Int("id", id), zap.Float64("new_util", newUtil), zap.Float64("bound", rmBound[n]))
		return wrapf(KindThreadDefineUnsafeAdmission, "thread_define: id=%d util=%.4f bound=%.4f", id, newUtil, rmBound[n])
	}
	k.totalUtil = newUtil

	base, limit := k.mpu.staticBandFor(slot)
	pBase, pLimit := k.mpu.staticPrivBandFor(slot)

	k.tasks[slot] = TCB{
		id:               id,
		state:            Ready,
		fn:               fn,
		arg:              arg,
		c:                c,
		t:                t,
		remainingWork:    c,
		timeUntilRelease: t - 1,
		uStackBase:       base,
		uStackLimit:      limit,
		pStackBase:       pBase,
		pStackLimit:      pLimit,
		uSP:              base,
		pSP:              pBase,
	}

	k.orderAbsolutePriorities()
	return nil
}

// countNonDefunctUser counts user-task (not idle/bootstrap) TCBs that
// are not Defunct.
func (k *Kernel) countNonDefunctUser() int {
	n := 0
	for i := 0; i < MaxUserTasks; i++ {
		if k.tasks[i].state != Defunct {
			n++
		}
	}
	return n
}

// orderAbsolutePriorities recomputes dense static priorities for every
// non-Defunct user TCB by (t, id) ascending, per spec.md invariant 3.
// Idle and the bootstrap task are not re-ranked here; MultitaskRequest
// gives both maxPriority(). It is O(n^2)
// but n is bounded by MaxUserTasks, matching the teacher's willingness
// to trade asymptotic elegance for a simple bounded pass (see cpu.go's
// flat register-file style rather than an indexed structure).
func (k *Kernel) orderAbsolutePriorities() {
	type ranked struct {
		slot int
		t, id int
	}
	var live []ranked
	for i := 0; i < MaxUserTasks; i++ {
		if k.tasks[i].state != Defunct {
			live = append(live, ranked{i, k.tasks[i].t, k.tasks[i].id})
		}
	}
	sort.Slice(live, func(a, b int) bool {
		if live[a].t != live[b].t {
			return live[a].t < live[b].t
		}
		return live[a].id < live[b].id
	})
	for rank, r := range live {
		tcb := &k.tasks[r.slot]
		// Preserve any inherited inflation relative to the old static
		// priority: a task with no inheritance keeps dynamic == static.
		inherited := tcb.dynamicPriority < tcb.staticPriority
		tcb.staticPriority = rank
		if !inherited {
			tcb.dynamicPriority = rank
		}
	}
	k.activeCount = len(live) + 1 // + idle
}

func nextPowerOfTwo(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

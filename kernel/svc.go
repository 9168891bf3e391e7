package kernel

import "go.uber.org/zap"

// Supervisor-call numbers. These are the contractual numeric
// immediates a real build's SVC instruction encodes; every value here
// must stay bit-exact (original_source/kernel/include/svc_num.h).
const (
	SVCSbrk  = 0
	SVCWrite = 1
	SVCRead  = 2
	SVCExit  = 3

	SVCSleepMS      = 22
	SVCLuxRead      = 23
	SVCNeopixelSet  = 24
	SVCNeopixelLoad = 25

	SVCMultitaskRequest = 31
	SVCThreadDefine     = 32
	SVCMultitaskStart   = 33
	SVCThreadID         = 34
	SVCThreadYield      = 35
	SVCThreadEnd        = 36
	SVCGetTime          = 37
	SVCThreadTime       = 38
	SVCThreadPriority   = 39

	SVCLockInit = 41
	SVCLock     = 42
	SVCUnlock   = 43

	SVCStepperSetSpeed     = 51
	SVCStepperMove         = 52
	SVCUltrasonicSensorRead = 53
)

// Frame is the user exception frame a real SVC trap pushes onto the
// caller's unprivileged stack: up to five word-sized arguments, and a
// single word slot the handler overwrites with the return value
// (spec.md section 4.4 — "Return values are placed back into the
// frame's first word"). Dispatch never reads more than five words.
type Frame struct {
	Args [5]uint32
	Ret  uint32
}

// PeripheralTrap handles the supplemented SVC numbers that spec.md's
// core leaves to "thin peripheral drivers": sleep and the sensor/motor
// calls. Registered once via SetPeripheralTrap so the core dispatch
// switch stays peripheral-agnostic (original_source's
// peripheral_trap.c plays the same role against the same switch).
type PeripheralTrap func(svc int, f *Frame) error

// SetIdleFunc registers the closure Dispatch's multitask_request path
// hands to MultitaskRequest, since a real SVC_MULTITASK_REQUEST's
// idle-function argument can't be marshaled through a word-sized
// Frame. Callers using the typed Go methods directly (MultitaskRequest
// itself) do not need this.
func (k *Kernel) SetIdleFunc(fn func()) {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	k.idleFn = fn
}

// SetPeripheralTrap installs the callback Dispatch uses for SVC
// numbers it does not itself recognize as core kernel calls.
func (k *Kernel) SetPeripheralTrap(trap PeripheralTrap) {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	k.peripheralTrap = trap
}

// Dispatch decodes svc (as if recovered from the faulting instruction
// at PC-2) and routes to the matching kernel entry point, marshaling
// f.Args into typed parameters and f.Ret back from the result,
// exactly as spec.md section 4.4 describes. slot is the calling
// task's TCB index, needed by the handful of calls whose result
// depends on who's asking (thread_id, thread_time, thread_priority).
func (k *Kernel) Dispatch(slot int, svc int, f *Frame) error {
	switch svc {
	case SVCSbrk:
		old, err := k.Sbrk(int32(f.Args[0]))
		f.Ret = uint32(old)
		return err
	case SVCWrite:
		n, err := k.Write(int(f.Args[0]), int(f.Args[1]), int(f.Args[2]))
		f.Ret = uint32(n)
		return err
	case SVCRead:
		n, err := k.Read(int(f.Args[0]), int(f.Args[1]), int(f.Args[2]))
		f.Ret = uint32(n)
		return err
	case SVCExit:
		k.Exit(slot, int(f.Args[0]))
		return nil

	case SVCMultitaskRequest:
		// idle_fn is a function pointer in the real contract; this
		// simulated kernel takes Go closures, which cannot be recovered
		// from a word-sized argument. Callers needing multitask_request
		// through Dispatch must have pre-registered one via
		// SetIdleFunc; everyone else should call MultitaskRequest
		// directly, the same limitation thread_define has below.
		if k.idleFn == nil {
			return wrapf(KindMultitaskRequestInvalidParams, "dispatch: multitask_request needs SetIdleFunc first")
		}
		return k.MultitaskRequest(int(f.Args[0]), f.Args[1], k.idleFn, MPUMode(f.Args[3]), int(f.Args[4]))
	case SVCThreadDefine:
		return wrapf(KindThreadDefineInvalidArgs, "dispatch: thread_define needs a Go closure, call ThreadDefine directly")
	case SVCMultitaskStart:
		return k.MultitaskStart(f.Args[0])
	case SVCThreadID:
		f.Ret = uint32(k.ThreadID(slot))
		return nil
	case SVCThreadYield:
		k.ThreadYield(slot)
		return nil
	case SVCThreadEnd:
		k.ThreadEnd(slot)
		return nil
	case SVCGetTime:
		f.Ret = uint32(k.GetTime())
		return nil
	case SVCThreadTime:
		f.Ret = uint32(k.ThreadTime(slot))
		return nil
	case SVCThreadPriority:
		f.Ret = uint32(k.ThreadPriority(slot))
		return nil

	case SVCLockInit:
		h, err := k.LockInit(int(f.Args[0]))
		f.Ret = uint32(h)
		return err
	case SVCLock:
		return k.Lock(int(f.Args[0]))
	case SVCUnlock:
		return k.Unlock(int(f.Args[0]))

	default:
		if k.peripheralTrap != nil {
			return k.peripheralTrap(svc, f)
		}
		return wrapf(KindThreadDefineInvalidArgs, "dispatch: unknown svc %d", svc)
	}
}

// ThreadID is SVC 34.
func (k *Kernel) ThreadID(slot int) int {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	return k.tasks[slot].id
}

// SlotByID resolves an application task id to its TCB slot, for callers
// (such as host-side monitoring tools) that only know tasks by the id
// passed to ThreadDefine rather than by table position. Mirrors the
// duplicate-id scan ThreadDefine itself runs. Reports false if no
// non-Defunct task currently holds that id.
func (k *Kernel) SlotByID(id int) (slot int, ok bool) {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	for i := 0; i < MaxUserTasks; i++ {
		if k.tasks[i].state != Defunct && k.tasks[i].id == id {
			return i, true
		}
	}
	return 0, false
}

// ThreadYield is SVC 35: the caller gives up the remainder of its
// current release voluntarily. Blocks (via the runtime baton) until
// the scheduler gives the slot the CPU again.
func (k *Kernel) ThreadYield(slot int) {
	k.kernelLock.Lock()
	k.tasks[slot].state = Waiting
	k.pendAndMaybeBlock(slot)
	k.kernelLock.Unlock()
}

// ThreadEnd is SVC 36: the caller exits for good. Does not block the
// caller's own goroutine; its fn is expected to return immediately
// afterward, and taskTrampoline treats an already-Defunct slot as a
// no-op.
func (k *Kernel) ThreadEnd(slot int) {
	k.kernelLock.Lock()
	k.endTaskLocked(slot)
	k.kernelLock.Unlock()
}

// GetTime is SVC 37: the global tick counter.
func (k *Kernel) GetTime() uint64 {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	return k.tick
}

// ThreadTime is SVC 38: cumulative ticks slot has spent Running.
func (k *Kernel) ThreadTime(slot int) uint64 {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	return k.tasks[slot].activeTime
}

// ThreadPriority is SVC 39: slot's current dynamic priority.
func (k *Kernel) ThreadPriority(slot int) int {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	return k.tasks[slot].dynamicPriority
}

// Exit is SVC 3. It does not return to its caller on real hardware;
// here it ends every non-Defunct task and lets WaitUntilIdle's closer
// observe the application as finished.
func (k *Kernel) Exit(slot int, status int) {
	k.kernelLock.Lock()
	k.log.Info("exit", zap.Int("slot", slot), zap.Int("status", status))
	for i := 0; i < MaxUserTasks; i++ {
		if k.tasks[i].state != Defunct {
			k.endTaskLocked(i)
		}
	}
	k.kernelLock.Unlock()
	k.checkAllDefunct()
}

// MultitaskStart is SVC 33. See spec.md section 4.1.
func (k *Kernel) MultitaskStart(freq uint32) error {
	k.kernelLock.Lock()

	if !k.requested {
		k.kernelLock.Unlock()
		return newKernelError(KindMultitaskStartWithoutThread)
	}
	if k.countNonDefunctUser() == 0 {
		k.kernelLock.Unlock()
		return newKernelError(KindMultitaskStartWithoutThread)
	}
	const systickBaseHz = 1 << 24 // 24-bit reload counter at 1 Hz tick granularity
	if freq > systickBaseHz {
		k.kernelLock.Unlock()
		return newKernelError(KindMultitaskStartInvalidFreq)
	}
	if err := k.resolveCeilings(); err != nil {
		k.kernelLock.Unlock()
		return err
	}

	// freqHz, tickDiv and tickPart are recorded here; Tick reads none of
	// them, so whether periodic ticks happen is decided by whoever drives
	// Tick (RunTicker substitutes 1 kHz for freq == 0).
	k.freqHz = freq
	if freq == 0 {
		k.tickDiv, k.tickPart = 0, 0
	} else {
		reload := systickBaseHz / freq
		if reload <= (1<<24)-1 {
			k.tickDiv, k.tickPart = 1, 0
		} else {
			// Reload would overflow the 24-bit counter: record a small
			// wrap-and-count divisor.
			k.tickDiv = (reload + (1<<24 - 2)) / (1<<24 - 1)
			k.tickPart = 0
		}
	}
	k.tick = 0
	k.started = true

	k.startTasks()
	k.hw.PendSwitch()
	k.runScheduler(tickReasonExplicit)
	k.kernelLock.Unlock()

	k.WaitUntilIdle()
	return nil
}

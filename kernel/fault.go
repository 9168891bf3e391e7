package kernel

import "go.uber.org/zap"

// MemFaultStatus mirrors the subset of a Cortex-M MemManage fault status
// register this kernel decodes: whether the access was a data access
// violation, an instruction access violation, or a stacking/unstacking
// error, plus the faulting address when the hardware latched one.
type MemFaultStatus struct {
	DataAccessViolation        bool
	InstructionAccessViolation bool
	StackingError              bool
	FaultAddr                  uint32
	FaultAddrValid             bool
	FaultingSP                 uint32
}

// FaultOutcome reports what HandleFault did.
type FaultOutcome int

const (
	// FaultEndedTask means the offending (non-bootstrap) task was
	// moved to Defunct; other tasks continue.
	FaultEndedTask FaultOutcome = iota
	// FaultTerminatedApplication means the bootstrap task's own stack
	// was violated, and the whole application is considered exited.
	FaultTerminatedApplication
)

// HandleFault classifies a memory-management fault and attributes it to
// the currently active TCB (spec.md section 4.5 and section 7).
//
// If the faulting stack pointer lies outside the active task's stack
// extents, the fault is a stack overflow/underflow: for a user task
// that ends only the offending task (KindThreadMemoryOutOfBounds, other
// tasks keep running — see spec.md scenario S5); for the bootstrap task
// that terminates the whole application (KindMainMemoryOutOfBounds).
// Otherwise it is a generic access violation and the active task is
// ended via the same path as a voluntary thread_end, regardless of
// which task it is.
func (k *Kernel) HandleFault(status MemFaultStatus) (FaultOutcome, error) {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()

	active := &k.tasks[k.active]
	fields := []zap.Field{
		zap.Int("tcb_id", active.id),
		zap.String("tcb_name", active.name),
		zap.Uint32("faulting_sp", status.FaultingSP),
	}
	if status.FaultAddrValid {
		fields = append(fields, zap.Uint32("fault_addr", status.FaultAddr))
	}

	if !k.withinActiveStackExtents(status.FaultingSP) {
		if k.active == bootstrapSlot {
			k.log.Error("bootstrap stack overflow/underflow: terminating application", fields...)
			for i := 0; i < MaxUserTasks; i++ {
				if k.tasks[i].state != Defunct {
					k.endTaskLocked(i)
				}
			}
			k.allDefunctOnce.Do(func() { close(k.allDefunct) })
			return FaultTerminatedApplication, newKernelError(KindMainMemoryOutOfBounds)
		}
		k.log.Error("task stack overflow/underflow", fields...)
		k.endTaskLocked(k.active)
		return FaultEndedTask, newKernelError(KindThreadMemoryOutOfBounds)
	}

	kind := "data access violation"
	switch {
	case status.InstructionAccessViolation:
		kind = "instruction access violation"
	case status.StackingError:
		kind = "stacking/unstacking error"
	}
	k.log.Error("memory fault: "+kind, fields...)
	k.endTaskLocked(k.active)
	return FaultEndedTask, newKernelError(KindThreadMemoryOutOfBounds)
}

// endTaskLocked moves slot to Defunct, releasing any locks it holds and
// waking their waiters, exactly as a voluntary thread_end would, and
// forces an immediate reschedule. Caller must hold kernelLock; does not
// itself block the calling goroutine, since a Defunct task's body is
// expected to return promptly after the call that got it here.
func (k *Kernel) endTaskLocked(slot int) {
	t := &k.tasks[slot]
	for i := 0; i < k.numMutexes; i++ {
		if k.mutexes[i].holder == t {
			k.unlockLocked(i)
		}
	}
	if t.state != Defunct && slot < MaxUserTasks {
		k.totalUtil -= float64(t.c) / float64(t.t)
	}
	t.state = Defunct
	t.id = -1
	k.orderAbsolutePriorities()
	k.hw.PendSwitch()
	k.runScheduler(tickReasonExplicit)
}

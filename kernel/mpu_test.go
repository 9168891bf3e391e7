package kernel

import "testing"

// TestStackFaultAttributionUserTask is spec.md's S5: a user task whose
// stack band the faulting stack pointer falls outside of is ended with
// THREAD_MEMORY_OUT_OF_BOUNDS_ACCESS, while the rest of the table is
// left alone.
func TestStackFaultAttributionUserTask(t *testing.T) {
	k := armKernel(t, 2, []taskSpec{
		{id: 1, c: 1, t: 5},
		{id: 2, c: 1, t: 7},
	})
	slotFaulting, slotOther := slotOf(k, 1), slotOf(k, 2)

	k.kernelLock.Lock()
	k.active = slotFaulting
	faulting := &k.tasks[slotFaulting]
	faulting.uStackBase, faulting.uStackLimit = 0x20010400, 0x20010000
	faulting.pStackBase, faulting.pStackLimit = 0x20018400, 0x20018000
	k.kernelLock.Unlock()

	outcome, err := k.HandleFault(MemFaultStatus{FaultingSP: 0x2000fffc})
	if outcome != FaultEndedTask {
		t.Fatalf("outcome=%v, want FaultEndedTask", outcome)
	}
	if KindOf(err) != KindThreadMemoryOutOfBounds {
		t.Fatalf("err=%v, want KindThreadMemoryOutOfBounds", err)
	}

	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	if k.tasks[slotFaulting].state != Defunct {
		t.Errorf("faulting task state=%v, want Defunct", k.tasks[slotFaulting].state)
	}
	if k.tasks[slotOther].state == Defunct {
		t.Errorf("other task was ended too; fault should attribute to the active TCB only")
	}
}

// TestStackFaultAttributionBootstrap is the bootstrap-task half of S5:
// a fault whose SP lies outside the bootstrap task's own stack extents
// terminates the whole application rather than just ending a task.
func TestStackFaultAttributionBootstrap(t *testing.T) {
	k := newTestKernel(t)
	if err := k.MultitaskRequest(1, 2048, noopIdle, MPUPerThread, 0); err != nil {
		t.Fatal(err)
	}
	if err := k.ThreadDefine(1, noopIdle2, 0, 1, 5); err != nil {
		t.Fatal(err)
	}

	k.kernelLock.Lock()
	k.active = bootstrapSlot
	k.tasks[bootstrapSlot].uStackBase, k.tasks[bootstrapSlot].uStackLimit = 0x20000400, 0x20000000
	k.tasks[bootstrapSlot].pStackBase, k.tasks[bootstrapSlot].pStackLimit = 0x20008400, 0x20008000
	k.kernelLock.Unlock()

	outcome, err := k.HandleFault(MemFaultStatus{FaultingSP: 0x1fffffff})
	if outcome != FaultTerminatedApplication {
		t.Fatalf("outcome=%v, want FaultTerminatedApplication", outcome)
	}
	if KindOf(err) != KindMainMemoryOutOfBounds {
		t.Fatalf("err=%v, want KindMainMemoryOutOfBounds", err)
	}
}

// A fault whose SP lies within the active task's stack extents is a
// generic access violation (not a stack bounds error): the task still
// ends, but via the plain memory-fault path.
func TestGenericAccessViolationEndsActiveTask(t *testing.T) {
	k := armKernel(t, 1, []taskSpec{{id: 1, c: 1, t: 5}})
	slot := slotOf(k, 1)

	k.kernelLock.Lock()
	k.active = slot
	k.tasks[slot].uStackBase, k.tasks[slot].uStackLimit = 0x20010400, 0x20010000
	k.kernelLock.Unlock()

	outcome, err := k.HandleFault(MemFaultStatus{
		FaultingSP:          0x20010200,
		DataAccessViolation: true,
		FaultAddr:           0xdeadbeef,
		FaultAddrValid:      true,
	})
	if outcome != FaultEndedTask {
		t.Fatalf("outcome=%v, want FaultEndedTask", outcome)
	}
	if KindOf(err) != KindThreadMemoryOutOfBounds {
		t.Fatalf("err=%v, want KindThreadMemoryOutOfBounds", err)
	}
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	if k.tasks[slot].state != Defunct {
		t.Errorf("state=%v, want Defunct", k.tasks[slot].state)
	}
}

// MPU bands handed out to distinct slots at ThreadDefine time must not
// overlap, and must grow the way stacks do (base > limit).
func TestStaticBandsNonOverlapping(t *testing.T) {
	k := armKernel(t, 3, []taskSpec{
		{id: 1, c: 1, t: 5},
		{id: 2, c: 1, t: 7},
		{id: 3, c: 1, t: 9},
	})
	seen := map[[2]uint32]bool{}
	for i := 0; i < MaxUserTasks; i++ {
		tcb := &k.tasks[i]
		if tcb.state == Defunct {
			continue
		}
		if tcb.uStackBase <= tcb.uStackLimit {
			t.Fatalf("slot %d: uStackBase=%#x must be > uStackLimit=%#x", i, tcb.uStackBase, tcb.uStackLimit)
		}
		band := [2]uint32{tcb.uStackLimit, tcb.uStackBase}
		if seen[band] {
			t.Fatalf("slot %d: unprivileged stack band %v reused", i, band)
		}
		seen[band] = true
	}
}

// Under MPUPerThread, rebind must point the dynamic regions at the
// newly selected task's own bands, not the previous task's.
func TestMPURebindTracksRunningTask(t *testing.T) {
	k := armKernel(t, 2, []taskSpec{
		{id: 1, c: 1, t: 5},
		{id: 2, c: 1, t: 100},
	})
	slotA := slotOf(k, 1)

	k.Tick()
	if k.active != slotA {
		t.Fatalf("active=%d, want %d", k.active, slotA)
	}
	k.kernelLock.Lock()
	if k.mpu.dynU.base != k.tasks[slotA].uStackBase || k.mpu.dynU.limit != k.tasks[slotA].uStackLimit {
		t.Errorf("dynamic unprivileged region not bound to the running task's band")
	}
	k.kernelLock.Unlock()
}

package kernel

import "go.uber.org/zap"

// tickReasonTimer marks a scheduler invocation caused by the periodic
// systick; tickReasonExplicit marks one caused by an explicit
// yield/block/unlock pend, which skips the per-tick accounting step
// (spec.md section 4.2).
type tickReason int

const (
	tickReasonTimer tickReason = iota
	tickReasonExplicit
)

// Tick drives one pass of the scheduler, standing in for the pended
// context-switch interrupt, for the periodic case: call it from a
// real-time ticker. Explicit yield/block/unlock reschedules do not go
// through Tick; they call runScheduler directly (via pendAndMaybeBlock).
// Returns the slot index newly selected to run.
func (k *Kernel) Tick() int {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()
	if !k.started {
		// Mirrors real hardware: SysTick isn't even enabled until
		// multitask_start programs it, so a ticker started early (to be
		// ready the instant MultitaskStart unblocks it) must be a no-op
		// until then rather than running the scheduler over tasks whose
		// goroutines don't exist yet.
		return k.active
	}
	return k.runScheduler(tickReasonTimer)
}

// runScheduler implements spec.md section 4.2 steps 1-4. Caller must
// hold kernelLock.
func (k *Kernel) runScheduler(reason tickReason) int {
	if reason == tickReasonTimer {
		k.accountTick()
	}

	next := k.selectNext()
	prev := k.active
	swapped := next != prev

	if swapped {
		k.saveRunning(prev)
		k.mpu.rebind(&k.tasks[next])
		k.logSwitch(prev, next)
	}
	// Always mark the selected TCB Running before returning, independent
	// of whether a slot swap occurred (see spec.md section 9, first Open
	// Question: a preempted-then-reselected task must not be left
	// un-marked).
	k.tasks[next].state = Running
	k.active = next

	if swapped {
		k.signalTurn(next)
	}
	return next
}

// accountTick performs spec.md section 4.2 step 1.
func (k *Kernel) accountTick() {
	k.tick++

	running := &k.tasks[k.active]
	if k.active != idleSlot {
		running.activeTime++
	}
	if k.active != idleSlot && k.active != bootstrapSlot {
		running.remainingWork--
		if running.remainingWork <= 0 {
			if running.holdsAnyLock(k) {
				k.log.Warn("task forced Waiting while holding a lock",
					zap.Int("tcb_id", running.id))
			}
			running.state = Waiting
		} else {
			running.state = Ready
		}
	}

	for i := 0; i < MaxUserTasks; i++ {
		t := &k.tasks[i]
		if t.state == Defunct {
			continue
		}
		t.timeUntilRelease--
		if t.timeUntilRelease <= 0 {
			t.timeUntilRelease = t.t
			t.remainingWork = t.c
			t.state = Ready
		}
	}
}

// selectNext implements spec.md section 4.2 step 2: the Ready TCB with
// the smallest dynamic priority, ties broken by smaller id; idle if no
// user task is Ready; the bootstrap task if every user task is Defunct.
// A user task still marked Running (the caller of an explicit
// reschedule such as Unlock) competes as if Ready, so it can be
// reselected in place.
func (k *Kernel) selectNext() int {
	if k.countNonDefunctUser() == 0 {
		return bootstrapSlot
	}

	best := -1
	for i := 0; i < MaxUserTasks; i++ {
		t := &k.tasks[i]
		if t.state != Ready && t.state != Running {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		bt := &k.tasks[best]
		if t.dynamicPriority < bt.dynamicPriority ||
			(t.dynamicPriority == bt.dynamicPriority && t.id < bt.id) {
			best = i
		}
	}
	if best != -1 {
		return best
	}
	return idleSlot
}

// saveRunning prepares slot for a switch away from it (spec.md section
// 4.2 step 4) by demoting a still-Running task to Ready. It does not
// snapshot stack pointers or the in-syscall flag: uSP, pSP and inSyscall
// keep the values they were given when the TCB was filled in.
func (k *Kernel) saveRunning(slot int) {
	t := &k.tasks[slot]
	if t.state == Running {
		// The previously Running task becomes Ready unless some other
		// path (accountTick, yield, block) has already given it a more
		// specific state.
		t.state = Ready
	}
}

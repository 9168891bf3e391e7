package kernel

import (
	"time"

	"go.uber.org/zap"
)

// The kernel's deterministic core (tcb.go, scheduler.go, mutex.go,
// fault.go) never runs user code itself: Tick and the SVC-equivalent
// methods are driven directly by tests and fully capture spec.md's
// testable properties without any real concurrency. Running an actual
// sample application, however, means giving each task's fn its own
// thread of control, since nothing about a Go function lets the
// scheduler forcibly suspend it mid-statement. This file is that
// glue: one goroutine per task, each parked on its own channel
// ("resume") whenever the kernel's view of the world says someone
// else should be running. A task body is expected to call CheckIn at
// reasonable intervals (matching how a cooperative thread would yield
// on hardware with only voluntary preemption points in the middle of
// a long loop); the deterministic scheduling decisions themselves are
// exactly the ones runScheduler already makes from Tick.

// awaitTurn blocks the calling goroutine until slot is given the CPU.
// Must be called with kernelLock NOT held.
func (k *Kernel) awaitTurn(slot int) {
	<-k.resume[slot]
}

// signalTurn wakes slot's goroutine. The resume channel is buffered to
// depth one and drained opportunistically so a signal never piles up
// behind a task that is already running and not waiting on it.
func (k *Kernel) signalTurn(slot int) {
	select {
	case k.resume[slot] <- struct{}{}:
	default:
	}
}

// pendAndMaybeBlock requests an immediate (non-timer) reschedule and,
// if a different slot was selected to run, blocks the calling
// goroutine until slot is given the CPU again. Caller must hold
// kernelLock; returns with kernelLock held in every case. This is the
// cooperative-preemption half of every syscall that can hand the CPU
// to a higher-priority task mid-call: unlock, yield, and the blocking
// loop inside Lock.
func (k *Kernel) pendAndMaybeBlock(slot int) {
	k.hw.PendSwitch()
	k.runScheduler(tickReasonExplicit)
	if k.active == slot {
		return
	}
	k.kernelLock.Unlock()
	k.awaitTurn(slot)
	k.kernelLock.Lock()
}

// CheckIn is the cooperative preemption checkpoint task bodies call
// between bounded units of work. If a timer tick has already forced
// this slot out of Running (budget exhausted, or a higher-priority
// task released), it blocks here until the scheduler gives the slot
// the CPU again. slot is the task's TCB slot index (the table position
// ThreadDefine assigned it), not its application id.
func (k *Kernel) CheckIn(slot int) {
	k.kernelLock.Lock()
	if k.active == slot {
		k.kernelLock.Unlock()
		return
	}
	k.kernelLock.Unlock()
	k.awaitTurn(slot)
}

// startTasks launches one goroutine per defined user task plus idle,
// each parked immediately behind awaitTurn. Called once by
// MultitaskStart after resolveCeilings has succeeded. Caller must hold
// kernelLock; start is deferred to its own goroutine per slot so the
// lock is never held across a blocking channel receive.
func (k *Kernel) startTasks() {
	for i := 0; i <= idleSlot; i++ {
		if k.tasks[i].state == Defunct {
			continue
		}
		go k.taskTrampoline(i)
	}
}

// taskTrampoline is the body of a task's goroutine: wait for the
// kernel to actually schedule it, run its fn to completion, then end
// it exactly as thread_end would (a task is free to call ThreadEnd
// itself mid-fn and return immediately after; the trampoline skips
// endTaskLocked for an already-Defunct slot).
func (k *Kernel) taskTrampoline(slot int) {
	k.awaitTurn(slot)

	t := &k.tasks[slot]
	fn, arg := t.fn, t.arg
	fn(arg)

	k.kernelLock.Lock()
	if k.tasks[slot].state != Defunct {
		k.endTaskLocked(slot)
	}
	k.kernelLock.Unlock()
	k.checkAllDefunct()
}

// checkAllDefunct closes allDefunct, exactly once, the instant every
// user task (idle and bootstrap excluded) has gone Defunct.
func (k *Kernel) checkAllDefunct() {
	k.kernelLock.Lock()
	done := k.countNonDefunctUser() == 0
	k.kernelLock.Unlock()
	if done {
		k.allDefunctOnce.Do(func() { close(k.allDefunct) })
	}
}

// WaitUntilIdle blocks until every user task defined before
// MultitaskStart has gone Defunct. MultitaskStart calls it after
// starting the tasks, so MultitaskStart returns to its caller only once
// that has happened.
func (k *Kernel) WaitUntilIdle() {
	<-k.allDefunct
}

// RunTicker drives Tick at freqHz until stop is closed, standing in for
// the free-running hardware timer a bare-metal build would program at
// multitask_start. The caller passes the same freqHz it intends to
// hand MultitaskStart rather than this reading the kernel's own field,
// since callers need to start the ticker concurrently with the
// (blocking) MultitaskStart call, before the kernel has recorded it.
// The task set's periods are expressed in ticks, so freqHz only sets a
// host demo's wall-clock pacing, never scheduling decisions.
func (k *Kernel) RunTicker(freqHz uint32, stop <-chan struct{}) {
	if freqHz == 0 {
		k.log.Warn("RunTicker called with freqHz == 0; defaulting to 1kHz")
		freqHz = 1000
	}
	period := time.Second / time.Duration(freqHz)
	for {
		select {
		case <-stop:
			return
		default:
		}
		preciseSleep(period)
		k.Tick()
	}
}

// logSwitch is a small helper the scheduler calls at debug level;
// kept out of the hot runScheduler path's own file so that file stays
// focused on the scheduling algorithm itself.
func (k *Kernel) logSwitch(prev, next int) {
	k.log.Debug("context switch",
		zap.Int("from_slot", prev), zap.Int("to_slot", next),
		zap.Int("from_id", k.tasks[prev].id), zap.Int("to_id", k.tasks[next].id))
}

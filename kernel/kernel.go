// Package kernel implements a small preemptive rate-monotonic real-time
// kernel for a simulated ARM Cortex-M class microcontroller.
//
// Because the subject hardware has no Go build target, the kernel is a
// cycle-driven software model of it: a Hardware implementation stands in
// for the arch primitives (load/store-exclusive, barriers, interrupt
// mask, NVIC pend/clear of the context-switch interrupt), and Tick
// stands in for the pended switch interrupt. User tasks are ordinary Go
// functions run one at a time under the scheduler's baton; supervisor
// calls are ordinary method calls into the Kernel rather than real SVC
// traps, with the numeric supervisor numbers of Dispatch preserved
// bit-exactly for compatibility with the contract a real build would
// expose.
package kernel

import (
	"sync"

	"go.uber.org/zap"
)

// Fixed limits from the external interface contract.
const (
	MaxUserTasks  = 14
	MaxMutexes    = 32
	StackWindow   = 32 * 1024 // bytes, unprivileged and privileged each
	idleSlot      = MaxUserTasks
	bootstrapSlot = MaxUserTasks + 1
	tableSize     = MaxUserTasks + 2

	// IdleSlot is idleSlot's exported alias: the idle hook passed to
	// MultitaskRequest must call CheckIn(IdleSlot) in its loop so it
	// cooperates with the scheduler the same way a user task does.
	IdleSlot = idleSlot
)

// rmBound holds the Liu-Layland tight utilization bound n*(2^(1/n)-1) for
// n = 0..MaxUserTasks, precomputed so admission control never touches
// floating-point exponentiation at tick time.
var rmBound = [MaxUserTasks + 1]float64{
	0:  0,
	1:  1.0,
	2:  0.8284271247461903,
	3:  0.7797631496846196,
	4:  0.7568284600108841,
	5:  0.7434917749851755,
	6:  0.7347722898562381,
	7:  0.7286265957166858,
	8:  0.7240618613220615,
	9:  0.720537650030755,
	10: 0.7177346253629313,
	11: 0.7154519838395894,
	12: 0.7135571323115437,
	13: 0.7119589942614066,
	14: 0.7105929411450722,
}

// Hardware abstracts the arch primitives a real Cortex-M build would use
// directly: the load/store-exclusive monitor backing Mutex, memory
// barriers, and the pend/clear of the context-switch interrupt. A
// software model (the default via NewSimHardware) is used for tests and
// for running the sample application in a host process; a bare-metal
// build would satisfy the same interface with inline assembly.
type Hardware interface {
	// LoadExclusive opens an exclusive-access monitor on word and
	// returns its current value.
	LoadExclusive(word *uint32) uint32
	// StoreExclusive attempts to store val to word under the open
	// monitor. Returns true if the store succeeded (no intervening
	// write from elsewhere was observed), false otherwise.
	StoreExclusive(word *uint32, val uint32) bool
	// DataMemBarrier orders memory operations around a critical write.
	DataMemBarrier()
	// PendSwitch requests that the scheduler run at the next
	// opportunity (analogous to pending the context-switch interrupt).
	PendSwitch()
}

// Kernel holds all process-wide kernel state: the TCB table, the mutex
// table, the global ceiling, tick counters and the heap break. It is the
// interior-mutable "kernel" value the Design Notes describe: reachable
// from the scheduler, SVC dispatch and mutex code, never exposed
// directly to user code.
type Kernel struct {
	kernelLock sync.Mutex // critical-section guard standing in for interrupt disable/enable

	hw  Hardware
	log *zap.Logger

	requested bool // multitask_request has been called
	started   bool // multitask_start has been called

	stackBytes  uint32 // rounded up to a power of two
	idleFn      func()
	mpuMode     MPUMode
	mpu         *MPU
	numLocksCap int

	tasks          [tableSize]TCB
	active         int // index into tasks of the running slot
	activeCount    int // count of non-Defunct TCBs (user tasks + idle, not bootstrap)
	totalUtil      float64
	tick uint64

	mutexes    [MaxMutexes]Mutex
	numMutexes int

	ceilingPrio  int // global ceiling, as a static priority; maxPriority() means "free"
	ceilingMutex int // index into mutexes of the ceiling-owning mutex, or -1

	heap heapState

	rtt rttControlBlock

	freqHz   uint32
	tickDiv  uint32 // wrap-and-count divisor when reload would exceed 24 bits
	tickPart uint32

	// resume is the goroutine-baton runtime's per-slot wakeup channel: a
	// task's own goroutine blocks receiving from resume[slot] whenever
	// the scheduler has given the CPU to someone else, and is released
	// by signalTurn when it becomes Running again. See runtime.go.
	resume [tableSize]chan struct{}
	// allDefunct is closed exactly once, the moment every user task has
	// gone Defunct, so MultitaskStart's caller can block on it.
	allDefunct     chan struct{}
	allDefunctOnce sync.Once

	peripheralTrap PeripheralTrap
}

// maxPriority is the sentinel "ceiling free" value and the rank idle and
// the bootstrap task are given: worse than any user task's dense rank,
// which is at most MaxUserTasks-1.
func maxPriority() int { return MaxUserTasks + 2 }

// New creates a Kernel bound to the given Hardware. Pass logger = nil to
// get a no-op logger (zap.NewNop()); library consumers who want
// diagnostics supply their own *zap.Logger.
func New(hw Hardware, logger *zap.Logger) *Kernel {
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &Kernel{
		hw:          hw,
		log:         logger,
		ceilingPrio: maxPriority(),
		ceilingMutex: -1,
	}
	for i := range k.tasks {
		k.tasks[i].state = Defunct
		k.tasks[i].id = -1
	}
	for i := range k.resume {
		k.resume[i] = make(chan struct{}, 1)
	}
	k.allDefunct = make(chan struct{})
	k.rtt.init()
	k.heap.init()
	return k
}

// Logger returns the kernel's diagnostic logger.
func (k *Kernel) Logger() *zap.Logger { return k.log }

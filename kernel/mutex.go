package kernel

import "go.uber.org/zap"

// Mutex is a binary semaphore with the original priority-ceiling
// protocol and dynamic-priority inheritance layered on top (spec.md
// section 4.3). The semaphore word itself is manipulated only through
// the kernel's Hardware load/store-exclusive pair.
type Mutex struct {
	sem             uint32 // 1 = free, 0 = held; target of LL/SC
	holder          *TCB
	blocked         []*TCB
	priorityCeiling int // static priority of the highest-locker id, resolved at multitask_start
	highestLockerID int
	initialized     bool
}

// LockInit is SVC 41. Returns the mutex handle (index into the table)
// or an error if capacity is exhausted.
func (k *Kernel) LockInit(highestLockerID int) (int, error) {
	k.kernelLock.Lock()
	defer k.kernelLock.Unlock()

	if k.numMutexes >= k.numLocksCap || k.numMutexes >= MaxMutexes {
		return -1, wrapf(KindMultitaskRequestInvalidParams, "lock_init: no capacity")
	}
	idx := k.numMutexes
	k.numMutexes++
	k.mutexes[idx] = Mutex{
		sem:             1,
		priorityCeiling: maxPriority(),
		highestLockerID: highestLockerID,
		initialized:     true,
	}
	return idx, nil
}

// resolveCeilings is called once by MultitaskStart, after every task has
// a static priority, to set each mutex's numeric priority_ceiling from
// its declared highest-locker id (spec.md section 4.1).
func (k *Kernel) resolveCeilings() error {
	for i := 0; i < k.numMutexes; i++ {
		m := &k.mutexes[i]
		found := false
		for j := 0; j < MaxUserTasks; j++ {
			if k.tasks[j].state != Defunct && k.tasks[j].id == m.highestLockerID {
				m.priorityCeiling = k.tasks[j].staticPriority
				found = true
				break
			}
		}
		if !found {
			return wrapf(KindLockNonexistentHighestLocker, "lock_init: highest_locker_id=%d not defined", m.highestLockerID)
		}
	}
	return nil
}

// tryLock attempts the atomic load-exclusive/store-exclusive pair on
// m's semaphore word, returning true if it transitioned 1 -> 0.
func (k *Kernel) tryLock(m *Mutex) bool {
	val := k.hw.LoadExclusive(&m.sem)
	if val == 0 {
		return false
	}
	if !k.hw.StoreExclusive(&m.sem, 0) {
		return false
	}
	k.hw.DataMemBarrier()
	return true
}

// Lock is SVC 42, implementing spec.md section 4.3. The caller is the
// currently-running task (k.active). Blocks (via the runtime baton)
// until the lock is acquired, or ends the caller outright if it should
// never have attempted this mutex.
func (k *Kernel) Lock(handle int) error {
	k.kernelLock.Lock()

	if handle < 0 || handle >= k.numMutexes {
		k.kernelLock.Unlock()
		return wrapf(KindThreadDefineInvalidArgs, "lock: bad handle %d", handle)
	}
	m := &k.mutexes[handle]
	caller := &k.tasks[k.active]

	if caller.staticPriority > m.priorityCeiling {
		k.log.Error("task locked below mutex ceiling: ending task",
			zap.Int("tcb_id", caller.id), zap.Int("handle", handle))
		k.endTaskLocked(k.active)
		k.kernelLock.Unlock()
		return newKernelError(KindLockBelowCeiling)
	}
	if m.holder == caller {
		k.log.Warn("task attempted to relock a mutex it already holds",
			zap.Int("tcb_id", caller.id), zap.Int("handle", handle))
		k.kernelLock.Unlock()
		return newKernelError(KindLockSelfRelock)
	}

	slot := k.active
	for {
		eligible := caller.dynamicPriority < k.ceilingPrio ||
			(k.ceilingMutex != -1 && k.mutexes[k.ceilingMutex].holder == caller)
		if eligible && k.tryLock(m) {
			m.holder = caller
			if m.priorityCeiling < k.ceilingPrio {
				k.ceilingPrio = m.priorityCeiling
				k.ceilingMutex = handle
			}
			k.kernelLock.Unlock()
			return nil
		}

		caller.state = Blocked
		obstruction := handle
		if m.holder == nil && k.ceilingMutex != -1 {
			obstruction = k.ceilingMutex
		}
		obM := &k.mutexes[obstruction]
		obM.blocked = append(obM.blocked, caller)
		if obM.holder != nil && caller.dynamicPriority < obM.holder.dynamicPriority {
			obM.holder.dynamicPriority = caller.dynamicPriority
		}

		k.pendAndMaybeBlock(slot)
	}
}

// Unlock is SVC 43.
func (k *Kernel) Unlock(handle int) error {
	k.kernelLock.Lock()

	if handle < 0 || handle >= k.numMutexes {
		k.kernelLock.Unlock()
		return wrapf(KindThreadDefineInvalidArgs, "unlock: bad handle %d", handle)
	}
	slot := k.active
	k.unlockLocked(handle)
	// unlockLocked may have made a higher-priority waiter Ready and hand
	// it the CPU; if so, the caller must yield in place until its own
	// turn comes back around, exactly as the pended ISR would on real
	// hardware (spec.md section 4.2's "restore it in place" only applies
	// when the caller itself is reselected).
	k.pendAndMaybeBlock(slot)
	k.kernelLock.Unlock()
	return nil
}

// unlockLocked implements spec.md section 4.3's Unlock. Caller must
// hold kernelLock.
func (k *Kernel) unlockLocked(handle int) {
	m := &k.mutexes[handle]
	if m.holder == nil {
		k.log.Warn("unlock of an already-free mutex", zap.Int("handle", handle))
		return
	}
	caller := m.holder

	m.sem = 1
	k.hw.DataMemBarrier()
	m.holder = nil
	waiters := m.blocked
	m.blocked = nil
	for _, w := range waiters {
		w.state = Ready
	}

	// Recompute the global ceiling as the minimum over still-held
	// mutexes, or "max" if none.
	k.ceilingPrio = maxPriority()
	k.ceilingMutex = -1
	for i := 0; i < k.numMutexes; i++ {
		mm := &k.mutexes[i]
		if mm.holder != nil && mm.priorityCeiling < k.ceilingPrio {
			k.ceilingPrio = mm.priorityCeiling
			k.ceilingMutex = i
		}
	}

	// Recompute caller's dynamic priority: its static priority, raised
	// again for any legitimate inheritance from mutexes it still holds.
	caller.dynamicPriority = caller.staticPriority
	for i := 0; i < k.numMutexes; i++ {
		mm := &k.mutexes[i]
		if mm.holder != caller {
			continue
		}
		for _, w := range mm.blocked {
			if w.dynamicPriority < caller.dynamicPriority {
				caller.dynamicPriority = w.dynamicPriority
			}
		}
	}
}

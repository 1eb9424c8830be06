package kernel

// Kernel composes the process table, event registry, deadline monitor and
// the live scheduling state (effective priority, pending-event hint) into
// the single object a port's startup code builds once and then drives
// from a timer ISR and the syscall surface for the rest of its life.
type Kernel struct {
	gate Gate

	processes *ProcessTable
	events    *EventRegistry
	deadlines *deadlineMonitor
	observer  Observer

	tickPeriodUs  uint32
	supervisorPID int

	now             uint32
	currentPriority int
	pendingHint     *event // nil = no hint pending

	priorityStack []int // raise-priority-by-ceiling nesting, for lower-priority's symmetry check
	runTaskFloor  int    // monotonic recursion guard for run-task re-entry

	started bool
}

// recordPendingHint keeps the single highest-priority triggered event an
// ISR-context trigger could not dispatch immediately, so the epilogue can
// resume scanning there instead of walking down from PMAX. Caller holds the gate.
func (k *Kernel) recordPendingHint(ev *event) {
	if k.pendingHint == nil || ev.priority > k.pendingHint.priority {
		k.pendingHint = ev
	}
}

// trigger is the shared event-activation primitive behind the public
// trigger-event syscall, cyclic dispatch from Tick, and internal
// recursive calls made by a running task. fromISR distinguishes a timer
// interrupt (which can only ever record a hint -- an ISR has no task
// stack to dispatch from) from task context (which dispatches
// synchronously: recursive calls are the preemption primitive itself).
//
// trigger acquires the gate only for the state-transition bookkeeping; it
// never holds it across processTriggeredEvents's task-body execution, so
// a task that calls back into the kernel from within its own body (to
// trigger another event, or to raise/lower priority) never re-enters a
// lock it is already holding.
func (k *Kernel) trigger(ev *event, fromISR bool) bool {
	cs := enterCritSection(k.gate)
	if ev.state != eventIdle {
		saturatingAdd(&ev.activationLoss, 1)
		cs.leave()
		k.observer.ActivationLoss(ev.id)
		return false
	}
	ev.state.transitionTo(eventTriggered)
	if fromISR {
		k.recordPendingHint(ev)
		cs.leave()
		return true
	}
	cs.leave()

	k.processTriggeredEvents(ev)
	return true
}

// nextEligibleFrom walks the priority-sorted chain starting at the group
// containing start, following nextInGroup within a priority level and
// descending to the next lower populated level via the priority->event
// map, stopping as soon as the priority drops to or below the current
// effective priority (nothing further down could ever preempt). Returns
// the first triggered event found, or nil. Caller holds the gate.
func (k *Kernel) nextEligibleFrom(start *event) *event {
	guard := k.events.guardEvent()
	level := start
	for level != nil && level != guard && level.priority > k.currentPriority {
		for g := level; g != nil; g = g.nextInGroup {
			if g.state == eventTriggered {
				return g
			}
		}
		level = k.events.firstAtOrBelow(level.priority - 1)
	}
	return nil
}

// processTriggeredEvents is the main scheduling loop. It repeatedly
// dispatches the highest-priority triggered event above the
// current effective priority, running its full task sub-sequence to
// completion, until nothing above the baseline remains triggered.
//
// Each iteration acquires the gate only for the surrounding bookkeeping
// (picking the candidate, flipping its state, restoring priority
// afterward) and releases it while the candidate's tasks actually run:
// real hardware keeps interrupts enabled while a task body executes and
// only briefly disables them for the scheduler's own arithmetic, and this
// host has no way to hold a lock across a call that might recurse back
// into the very function holding it. This host also cannot interrupt a
// running Go call mid-body, so true preemption is modeled at task-body
// granularity rather than at arbitrary instructions: a task that calls
// back into the kernel (trigger-event, raise/lower-priority) still
// preempts correctly, by nested, ordinary recursion: scheduling
// decisions always happen at a kernel entry point, never mid-instruction.
func (k *Kernel) processTriggeredEvents(start *event) {
	for {
		cs := enterCritSection(k.gate)
		candidate := k.nextEligibleFrom(start)
		if candidate == nil {
			cs.leave()
			return
		}
		candidate.state.transitionTo(eventInProgress)
		oldPriority := k.currentPriority
		k.currentPriority = candidate.priority
		cs.leave()

		k.runEventTasks(candidate)

		cs = enterCritSection(k.gate)
		k.currentPriority = oldPriority
		candidate.state.transitionTo(eventIdle)
		if candidate.cyclePeriod != 0 {
			candidate.advanceNextDue()
		}
		cs.leave()

		start = k.events.firstAtOrBelow(k.events.maxPriority)
	}
}

// runEventTasks executes ev's registered task sub-sequence in
// registration order. A process suspended since activation aborts its
// own tasks without running them; everything else
// runs via the OS path (direct call) or the user-mode launch primitive.
func (k *Kernel) runEventTasks(ev *event) {
	tasks := k.events.tasksOf(ev)
	for i := range tasks {
		t := &tasks[i]

		if t.pid != 0 && k.processes.isSuspended(t.pid) {
			k.processes.incrementFailure(t.pid, FailureProcessAbort)
			k.observer.TaskAbort(t.pid, ev.id, FailureProcessAbort)
			continue
		}

		if t.pid == 0 {
			k.runOSTask(t)
			continue
		}

		res := k.launchUserTask(t, nil)
		if res.faulted {
			k.processes.incrementFailure(t.pid, res.kind)
			k.observer.TaskAbort(t.pid, ev.id, res.kind)
			continue
		}
		if res.value < 0 {
			k.processes.incrementFailure(t.pid, FailureUserAbort)
			k.observer.TaskAbort(t.pid, ev.id, FailureUserAbort)
		}
	}
}

// runOSTask invokes a PID-0 task directly on the calling goroutine's
// stack -- OS tasks are trusted kernel code, never sandboxed or deadline
// monitored.
// A panicking OS task is a kernel bug, not a process fault; it is not
// recovered here, matching the supervisor-only trust model of PID 0.
func (k *Kernel) runOSTask(t *task) {
	t.osFn()
}

// Tick is the simulated timer-interrupt entry point: for every cyclic event due at the current tick, trigger
// it under ISR-context semantics, then run the ISR epilogue (§4.4.3) to
// drain anything that could not be dispatched immediately.
func (k *Kernel) Tick() {
	cs := enterCritSection(k.gate)
	now := k.now
	due := k.dueCyclicEvents(now)
	k.now = (k.now + 1) & bit30Mask
	cs.leave()

	// The interrupt-context marker covers only the due-event triggering
	// loop: once that loop ends, the simulated interrupt has logically
	// returned, and isrEpilogue dispatches any deferred work at task
	// level, same as it would after a real hardware trap return.
	hg, ok := k.gate.(*hostGate)
	if ok {
		hg.enterInterrupt()
	}
	for _, ev := range due {
		k.trigger(ev, k.gate.IsInInterrupt())
	}
	if ok {
		hg.exitInterrupt()
	}

	k.isrEpilogue()
}

// dueCyclicEvents returns every cyclic event due at tick "now". Caller
// holds the gate.
func (k *Kernel) dueCyclicEvents(now uint32) []*event {
	var due []*event
	for _, ev := range k.events.byID {
		if ev.cyclePeriod != 0 && ev.dueRelativeTo(now) {
			due = append(due, ev)
		}
	}
	return due
}

// isrEpilogue is §4.4.3: if a pending-event hint was recorded during this
// interrupt, consume it and run the scheduling loop from there.
func (k *Kernel) isrEpilogue() {
	cs := enterCritSection(k.gate)
	hint := k.pendingHint
	k.pendingHint = nil
	cs.leave()

	if hint == nil {
		return
	}
	k.processTriggeredEvents(hint)
}

package kernel

import "fmt"

// TriggerEvent is the user-callable half of event activation: any
// process may request activation of an event whose minPIDToTrigger it
// satisfies.
func (k *Kernel) TriggerEvent(callerPID, eventID int) error {
	ev, err := k.events.eventByID(eventID)
	if err != nil {
		return err
	}
	if callerPID < ev.minPIDToTrigger {
		return newConfigError(ErrEventNotTriggerable, fmt.Sprintf("pid %d below minimum %d", callerPID, ev.minPIDToTrigger))
	}

	k.trigger(ev, k.gate.IsInInterrupt())
	return nil
}

// OSTriggerEvent is the OS-context entry point for event activation:
// unlike the user-callable TriggerEvent, it never crosses a protection
// boundary and is not subject to an event's minPIDToTrigger floor,
// since OS context is always at least as privileged as any configured
// minimum. It reports false exactly when the event was not idle.
func (k *Kernel) OSTriggerEvent(eventID int) (bool, error) {
	ev, err := k.events.eventByID(eventID)
	if err != nil {
		return false, err
	}
	return k.trigger(ev, k.gate.IsInInterrupt()), nil
}

// RunTask lets callerPID directly invoke a single registered task owned
// by targetPID, identified by its owning event and position within that
// event's task sub-sequence, bypassing the full event-triggering
// machinery. Permission is governed by the run-task grant bitmap
// installed at startup; a supervisor grant can never exist; the kernel
// checked that once, at InitKernel.
//
// Each nested run-task call must target a task whose event has a
// strictly higher priority than the one before it in the same call chain -- a
// recursion-depth bound enforced here with a monotonic floor rather
// than a counter, since priority is already bounded and strictly
// increasing guarantees termination.
func (k *Kernel) RunTask(callerPID, targetPID, eventID, taskIndex int, arg any) (int32, error) {
	if !k.processes.valid(callerPID) || !k.processes.valid(targetPID) {
		return 0, newConfigError(ErrBadProcessID, fmt.Sprintf("caller=%d target=%d", callerPID, targetPID))
	}
	if !k.processes.hasRunTaskPermission(callerPID, targetPID) {
		return 0, newConfigError(ErrRunTaskBadPermission, fmt.Sprintf("pid %d may not run-task on pid %d", callerPID, targetPID))
	}

	ev, err := k.events.eventByID(eventID)
	if err != nil {
		return 0, err
	}
	tasks := k.events.tasksOf(ev)
	if taskIndex < 0 || taskIndex >= len(tasks) {
		return 0, newConfigError(ErrBadEventID, fmt.Sprintf("task index %d out of range for event %d", taskIndex, eventID))
	}
	t := &tasks[taskIndex]
	if t.pid != targetPID {
		return 0, newConfigError(ErrTaskBelongsToInvalidProcess, fmt.Sprintf("task at index %d belongs to pid %d, not %d", taskIndex, t.pid, targetPID))
	}

	cs := enterCritSection(k.gate)
	if ev.priority <= k.runTaskFloor {
		cs.leave()
		return 0, newConfigError(ErrRunTaskRecursionTooDeep, fmt.Sprintf("event priority %d does not exceed run-task floor %d", ev.priority, k.runTaskFloor))
	}
	savedFloor := k.runTaskFloor
	k.runTaskFloor = ev.priority
	cs.leave()

	defer func() {
		cs2 := enterCritSection(k.gate)
		k.runTaskFloor = savedFloor
		cs2.leave()
	}()

	if k.processes.isSuspended(targetPID) {
		k.processes.incrementFailure(targetPID, FailureProcessAbort)
		return 0, nil
	}
	res := k.launchUserTask(t, arg)
	if res.faulted {
		k.processes.incrementFailure(targetPID, res.kind)
		return 0, nil
	}
	if res.value < 0 {
		k.processes.incrementFailure(targetPID, FailureUserAbort)
	}
	return res.value, nil
}

// RaisePriorityByCeiling is the user-callable entry to the priority
// ceiling protocol. The user variant never raises above max-lockable,
// whatever the caller's current priority -- only an OS-context caller
// (OSSuspendAllTasksByPriority) may do that.
func (k *Kernel) RaisePriorityByCeiling(ceiling int) error {
	if ceiling > k.events.maxLockable {
		return newConfigError(ErrPriorityCeilingViolation, fmt.Sprintf("user variant cannot raise above max-lockable %d", k.events.maxLockable))
	}
	cs := enterCritSection(k.gate)
	err := k.raisePriorityByCeiling(ceiling)
	cs.leave()
	return err
}

// LowerPriority is the matching release. It does not hold the gate while
// draining anything the raised ceiling deferred, for the same reason
// processTriggeredEvents never holds it across task-body execution.
func (k *Kernel) LowerPriority(ceiling int) error {
	cs := enterCritSection(k.gate)
	vacated, err := k.lowerPriority(ceiling)
	cs.leave()
	if err != nil {
		return err
	}
	k.processTriggeredEvents(k.events.firstAtOrBelow(vacated))
	return nil
}

// OSSuspendAllTasksByPriority is the OS-context entry to the priority
// ceiling protocol, returning the prior priority so the caller can
// restore it later. Unlike the user variant, OS context is trusted to
// raise above max-lockable -- that trust is exactly why only OS or
// supervisor processes may own a task on a high-priority event in the
// first place.
func (k *Kernel) OSSuspendAllTasksByPriority(ceiling int) (prior int, err error) {
	cs := enterCritSection(k.gate)
	prior = k.currentPriority
	err = k.raisePriorityByCeiling(ceiling)
	cs.leave()
	return prior, err
}

// OSResumeAllTasksByPriority is the matching OS-context release. It
// takes the ceiling that was passed to OSSuspendAllTasksByPriority, not
// the prior value that call returned: the prior priority is restored
// from the kernel's saved-priority stack, and any other argument is
// rejected with ErrPriorityCeilingViolation.
func (k *Kernel) OSResumeAllTasksByPriority(ceiling int) error {
	return k.LowerPriority(ceiling)
}

// SuspendProcess irreversibly suspends targetPID: its in-flight and
// future task activations abort without running. The caller's PID must
// be higher than the target's, the target must not be 0, and a suspend
// grant must exist. The supervisor PID can never be a valid target --
// InitKernel already refused to start with any grant naming it, so no
// supervisor-specific check is made here.
func (k *Kernel) SuspendProcess(callerPID, targetPID int) error {
	if !k.processes.valid(callerPID) || !k.processes.valid(targetPID) {
		return newConfigError(ErrBadProcessID, fmt.Sprintf("caller=%d target=%d", callerPID, targetPID))
	}
	if targetPID == 0 || callerPID <= targetPID {
		return newConfigError(ErrSuspendProcessBadPermission, fmt.Sprintf("pid %d may not suspend pid %d", callerPID, targetPID))
	}
	if !k.processes.hasSuspendPermission(callerPID, targetPID) {
		return newConfigError(ErrSuspendProcessBadPermission, fmt.Sprintf("pid %d may not suspend pid %d", callerPID, targetPID))
	}
	cs := enterCritSection(k.gate)
	k.processes.suspend(targetPID)
	cs.leave()
	k.observer.ProcessSuspend(callerPID, targetPID)
	return nil
}

// OSSuspendProcess is the OS-context entry point for suspension: OS
// context needs no permission grant, but the supervisor remains
// unsuspendable even from OS context -- the kernel never suspends the
// supervisor is an absolute guarantee, not a privilege-gated one.
func (k *Kernel) OSSuspendProcess(targetPID int) error {
	if !k.processes.valid(targetPID) {
		return newConfigError(ErrBadProcessID, fmt.Sprintf("target=%d", targetPID))
	}
	if targetPID == k.supervisorPID {
		return newConfigError(ErrSuspendProcessBadPermission, "the supervisor process can never be suspended")
	}
	cs := enterCritSection(k.gate)
	k.processes.suspend(targetPID)
	cs.leave()
	k.observer.ProcessSuspend(0, targetPID)
	return nil
}

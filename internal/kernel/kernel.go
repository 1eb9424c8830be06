package kernel

import "fmt"

// Config describes a kernel configuration before InitKernel validates and
// freezes it. NumUserProcesses is N: the highest user PID, and also the
// supervisor's PID -- the supervisor is simply the last configured
// process.
type Config struct {
	NumUserProcesses int
	MaxEvents        int
	MaxPriority      int
	MaxLockable      int
	TickPeriodUs     uint32

	// Gate is the preemption-control backend. Nil selects the host-testable
	// mutex-backed implementation; a real port supplies one backed by its
	// interrupt controller.
	Gate Gate

	// Observer watches task aborts, activation losses, and process
	// suspensions. Nil installs a no-op observer.
	Observer Observer
}

// New constructs an unconfigured kernel. Callers populate it with
// CreateEvent/RegisterUserTask/RegisterOSTask/RegisterInitTask/
// GrantRunTaskPermission/GrantSuspendPermission, then call InitKernel.
func New(cfg Config) *Kernel {
	gate := cfg.Gate
	if gate == nil {
		gate = newHostGate()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Kernel{
		gate:          gate,
		processes:     newProcessTable(cfg.NumUserProcesses),
		events:        NewEventRegistry(cfg.MaxEvents, cfg.MaxPriority, cfg.MaxLockable, cfg.TickPeriodUs, cfg.NumUserProcesses),
		deadlines:     newDeadlineMonitor(),
		observer:      observer,
		tickPeriodUs:  cfg.TickPeriodUs,
		supervisorPID: cfg.NumUserProcesses,
	}
}

// CreateEvent, RegisterUserTask, RegisterOSTask, RegisterInitTask,
// GrantRunTaskPermission and GrantSuspendPermission are thin pass-throughs
// to the owning component, kept on Kernel so callers configure one object
// rather than reaching into its internals.

func (k *Kernel) CreateEvent(cycle, firstDue uint32, priority, minPIDToTrigger int) (int, error) {
	return k.events.CreateEvent(cycle, firstDue, priority, minPIDToTrigger)
}

func (k *Kernel) RegisterUserTask(eventID int, fn UserTaskFunc, pid int, budgetUs uint32) error {
	return k.events.RegisterUserTask(eventID, fn, pid, budgetUs)
}

func (k *Kernel) RegisterOSTask(eventID int, fn OSTaskFunc) error {
	return k.events.RegisterOSTask(eventID, fn)
}

func (k *Kernel) RegisterInitTask(fn InitTaskFunc, pid int, budgetUs uint32) error {
	return k.events.RegisterInitTask(fn, pid, budgetUs)
}

func (k *Kernel) GrantRunTaskPermission(caller, target int) error {
	return k.processes.grantRunTaskPermission(caller, target)
}

func (k *Kernel) GrantSuspendPermission(caller, target int) error {
	return k.processes.grantSuspendPermission(caller, target)
}

// SetProcessStackReserve records pid's configured stack budget, validated
// at InitKernel time (ErrPrcStackInvalid if a configured process never
// gets one).
func (k *Kernel) SetProcessStackReserve(pid int, bytes uint32) error {
	return k.processes.setStackReserve(pid, bytes)
}

// SupervisorPID returns the PID guaranteed immune to any other process's
// failure.
func (k *Kernel) SupervisorPID() int { return k.supervisorPID }

// FailureCount and FailureCountOfKind expose a process's saturating
// failure counters, for diagnostics and the operator surface.
func (k *Kernel) FailureCount(pid int) uint32                       { return k.processes.totalFailuresOf(pid) }
func (k *Kernel) FailureCountOfKind(pid int, kind FailureKind) uint32 { return k.processes.failuresOfKind(pid, kind) }

// ArmedDeadlineCount reports how many task activations currently have a
// wall-clock budget armed, for operator diagnostics.
func (k *Kernel) ArmedDeadlineCount() int {
	cs := enterCritSection(k.gate)
	defer cs.leave()
	return k.deadlines.h.Len()
}

// GetNoActivationLoss reports the saturating count of activation requests
// dropped because eventID was already triggered or in progress.
func (k *Kernel) GetNoActivationLoss(eventID int) (uint32, error) {
	ev, err := k.events.eventByID(eventID)
	if err != nil {
		return 0, err
	}
	cs := enterCritSection(k.gate)
	defer cs.leave()
	return ev.activationLoss, nil
}

// GetTaskBasePriority reports the configured priority of eventID, the
// ceiling every task in its sub-sequence runs at absent an additional
// raise-priority-by-ceiling call.
func (k *Kernel) GetTaskBasePriority(eventID int) (int, error) {
	ev, err := k.events.eventByID(eventID)
	if err != nil {
		return 0, err
	}
	return ev.priority, nil
}

// GetCurrentTaskPriority reports the kernel's current effective
// priority, including any ceiling raised by RaisePriorityByCeiling.
func (k *Kernel) GetCurrentTaskPriority() int {
	cs := enterCritSection(k.gate)
	defer cs.leave()
	return k.currentPriority
}

// GetStackReserve reports pid's configured stack budget; see
// ProcessTable.setStackReserve for why this host reports the configured
// budget rather than a measured high-water mark.
func (k *Kernel) GetStackReserve(pid int) (uint32, error) {
	return k.processes.stackReserveOf(pid)
}

// InitKernel runs the startup sequence. Every configuration check runs
// before the registry is finalized, and a rejected configuration never
// marks the kernel started. Processes named by tasks are marked
// configured while the checks run, and an init task that fails is
// reported after finalize, so in that case the registry already refuses
// further create/register calls.
func InitKernel(k *Kernel) error {
	if k.started {
		return newConfigError(ErrConfigurationOfRunningKernel, "InitKernel called twice")
	}

	if k.events.count() == 0 && len(k.events.initTasks) == 0 {
		return newConfigError(ErrNoEventOrTaskRegistered, "")
	}

	// Step: compute maxPIDInUse and verify every registered task names a
	// configured process.
	for _, ev := range k.events.byID {
		if ev.taskCount == 0 {
			return newConfigError(ErrEventWithoutTask, fmt.Sprintf("event %d", ev.id))
		}
		for _, t := range k.events.tasksOf(ev) {
			if t.pid == 0 {
				continue
			}
			if !k.processes.valid(t.pid) {
				return newConfigError(ErrTaskBelongsToInvalidProcess, fmt.Sprintf("event %d task pid %d", ev.id, t.pid))
			}
			k.processes.markConfigured(t.pid)
		}
		if ev.priority > k.events.maxLockable {
			if err := k.requireOSOrSupervisorOnly(ev); err != nil {
				return err
			}
		}
	}
	for pid := range k.events.initTasks {
		if pid != 0 {
			if !k.processes.valid(pid) {
				return newConfigError(ErrBadProcessID, fmt.Sprintf("init task pid %d", pid))
			}
			k.processes.markConfigured(pid)
		}
	}

	// Step: verify no permission grant names the supervisor as a target.
	if k.processes.rejectsSupervisorTarget(k.supervisorPID) {
		return newConfigError(ErrBadProcessID, "a permission grant names the supervisor PID as target")
	}

	// Step: every configured process must carry a nonzero stack reserve.
	if err := k.processes.requiresConfiguredStack(); err != nil {
		return err
	}

	// Step: build next-in-priority-group links, the priority->event map,
	// and the guard sentinel.
	k.events.finalize()

	// Step: start the tick counter at 0 -- the half-range wraparound
	// comparison in event.dueRelativeTo is correct for any starting
	// value, so there is no startup hazard to work around here.
	k.now = 0

	// Step: enable preemption, then run init tasks OS first, then
	// ascending user PID; a negative return aborts startup.
	if err := k.runInitTasks(); err != nil {
		return err
	}

	// Step: mark every configured process running and mark the kernel
	// started, all under one critical section.
	cs := enterCritSection(k.gate)
	defer cs.leave()
	for pid := 1; pid <= k.supervisorPID; pid++ {
		if k.processes.isConfigured(pid) {
			k.processes.markRunning(pid)
		}
	}
	k.started = true
	return nil
}

// requireOSOrSupervisorOnly enforces the max-lockable rule: an event
// whose priority exceeds maxLockable may only carry OS (PID 0) or
// supervisor-owned tasks, since only those are trusted not to hold a
// high priority ceiling indefinitely.
func (k *Kernel) requireOSOrSupervisorOnly(ev *event) error {
	for _, t := range k.events.tasksOf(ev) {
		if t.pid != 0 && t.pid != k.supervisorPID {
			return newConfigError(ErrHighPriorityTaskInLowPrivilegeProcess, fmt.Sprintf("event %d priority %d exceeds max-lockable but task belongs to pid %d", ev.id, ev.priority, t.pid))
		}
	}
	return nil
}

// runInitTasks executes every registered init task to completion, OS
// (PID 0) first, then ascending user PID order. A negative return
// aborts startup with ErrInitTaskFailed; init tasks are not deadline
// monitored, since nothing is scheduling concurrently with them yet.
func (k *Kernel) runInitTasks() error {
	if fn, ok := k.events.initTasks[0]; ok {
		if r := fn(0); r < 0 {
			return newConfigError(ErrInitTaskFailed, "OS init task returned negative")
		}
	}
	for pid := 1; pid <= k.supervisorPID; pid++ {
		fn, ok := k.events.initTasks[pid]
		if !ok {
			continue
		}
		if r := fn(pid); r < 0 {
			return newConfigError(ErrInitTaskFailed, fmt.Sprintf("pid %d init task returned negative", pid))
		}
	}
	return nil
}

package kernelconfig

import (
	"fmt"
	"strconv"

	"github.com/pceos/kernel/internal/kernel"
)

// Build constructs and configures a *kernel.Kernel from spec, resolving
// every TaskRef against reg. It performs every config-time call
// (CreateEvent, RegisterUserTask/RegisterOSTask, RegisterInitTask, the
// two grant calls, SetProcessStackReserve) but never calls
// kernel.InitKernel -- that is the caller's decision, same as a real
// port's main() calls InitKernel only after every register* call it
// wants has run. obs may be nil, in which case the kernel installs its
// own no-op default.
func Build(spec *Spec, reg *Registry, obs kernel.Observer) (*kernel.Kernel, error) {
	k := kernel.New(kernel.Config{
		NumUserProcesses: spec.NumUserProcesses,
		MaxEvents:        spec.MaxEvents,
		MaxPriority:      spec.MaxPriority,
		MaxLockable:      spec.MaxLockable,
		TickPeriodUs:     spec.TickPeriodUs,
		Observer:         obs,
	})

	for pidStr, bytes := range spec.ProcessStackBytes {
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			return nil, fmt.Errorf("kernelconfig: process_stack_bytes key %q: %w", pidStr, err)
		}
		if err := k.SetProcessStackReserve(pid, bytes); err != nil {
			return nil, fmt.Errorf("kernelconfig: stack reserve for pid %d: %w", pid, err)
		}
	}

	for i, es := range spec.Events {
		// CreateEvent takes ticks; the spec carries microseconds. A nonzero
		// value shorter than one tick rounds up to one tick.
		cycleTicks := es.CycleUs / spec.TickPeriodUs
		if es.CycleUs != 0 && cycleTicks == 0 {
			cycleTicks = 1
		}
		firstDueTicks := es.FirstDueUs / spec.TickPeriodUs
		if es.FirstDueUs != 0 && firstDueTicks == 0 {
			firstDueTicks = 1
		}
		id, err := k.CreateEvent(cycleTicks, firstDueTicks, es.Priority, es.MinPIDToTrigger)
		if err != nil {
			return nil, fmt.Errorf("kernelconfig: event[%d]: %w", i, err)
		}
		for j, tr := range es.Tasks {
			if err := registerTask(k, reg, id, tr); err != nil {
				return nil, fmt.Errorf("kernelconfig: event[%d].tasks[%d]: %w", i, j, err)
			}
		}
	}

	for i, tr := range spec.InitTasks {
		fn, ok := reg.Init[tr.Name]
		if !ok {
			return nil, fmt.Errorf("kernelconfig: init_tasks[%d]: no init task registered under name %q", i, tr.Name)
		}
		if err := k.RegisterInitTask(fn, tr.PID, tr.BudgetUs); err != nil {
			return nil, fmt.Errorf("kernelconfig: init_tasks[%d]: %w", i, err)
		}
	}

	for i, g := range spec.RunTaskGrants {
		if err := k.GrantRunTaskPermission(g.Caller, g.Target); err != nil {
			return nil, fmt.Errorf("kernelconfig: run_task_grants[%d]: %w", i, err)
		}
	}
	for i, g := range spec.SuspendGrants {
		if err := k.GrantSuspendPermission(g.Caller, g.Target); err != nil {
			return nil, fmt.Errorf("kernelconfig: suspend_process_grants[%d]: %w", i, err)
		}
	}

	return k, nil
}

// registerTask dispatches a TaskRef to RegisterOSTask or
// RegisterUserTask: PID 0 selects the OS-task shape, any other PID the
// user-task shape.
func registerTask(k *kernel.Kernel, reg *Registry, eventID int, tr TaskRef) error {
	if tr.PID == 0 {
		fn, ok := reg.OS[tr.Name]
		if !ok {
			return fmt.Errorf("no OS task registered under name %q", tr.Name)
		}
		return k.RegisterOSTask(eventID, fn)
	}
	fn, ok := reg.User[tr.Name]
	if !ok {
		return fmt.Errorf("no user task registered under name %q", tr.Name)
	}
	return k.RegisterUserTask(eventID, fn, tr.PID, tr.BudgetUs)
}

package kernel

import "fmt"

// maxTaskBudgetUs bounds a task's deadline budget at roughly 18s
// expressed in microseconds, a fixed ceiling no task's budget may
// exceed.
const maxTaskBudgetUs = 18_000_000

// OSTaskFunc is the entry-point shape for a PID-0 (kernel) task: no
// arguments, no return value, run directly in OS context.
type OSTaskFunc func()

// UserTaskFunc is the entry-point shape for a user-process task: it
// receives the owning PID and an opaque argument, and returns a signed
// result; negative values are surfaced as a user-abort failure.
type UserTaskFunc func(pid int, arg any) int32

// InitTaskFunc is run once at startup, before the scheduler clock
// starts. A negative return aborts startup.
type InitTaskFunc func(pid int) int32

// task is a registered task descriptor:
// function entry address (here, a closure), owning PID, and a deadline
// budget expressed in timer ticks (0 = no monitoring).
type task struct {
	pid         int
	budgetTicks uint32

	osFn   OSTaskFunc
	userFn UserTaskFunc
}

func (t *task) validate() error {
	if t.pid == 0 {
		// "a task of owning-PID 0 must have a budget of 0"
		if t.budgetTicks != 0 {
			return newConfigError(ErrTaskBudgetTooBig, "OS task must have zero budget")
		}
		if t.osFn == nil {
			return newConfigError(ErrBadTaskFunction, "nil OS task function")
		}
		return nil
	}
	if t.userFn == nil {
		return newConfigError(ErrBadTaskFunction, "nil user task function")
	}
	return nil
}

// ticksFromBudgetUs converts a microsecond budget into timer ticks,
// rejecting budgets exceeding maxTaskBudgetUs.
func ticksFromBudgetUs(budgetUs uint32, tickPeriodUs uint32) (uint32, error) {
	if budgetUs == 0 {
		return 0, nil
	}
	if budgetUs > maxTaskBudgetUs {
		return 0, newConfigError(ErrTaskBudgetTooBig, fmt.Sprintf("%dus exceeds max %dus", budgetUs, maxTaskBudgetUs))
	}
	if tickPeriodUs == 0 {
		return 0, newConfigError(ErrTaskBudgetTooBig, "tick period is zero")
	}
	ticks := budgetUs / tickPeriodUs
	if ticks == 0 {
		ticks = 1
	}
	return ticks, nil
}

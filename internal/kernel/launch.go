package kernel

import (
	"time"
)

// taskResult is what a launched user task produces, whether by normal
// return or by a recovered panic standing in for a CPU-detected fault.
type taskResult struct {
	value  int32
	kind   FailureKind
	faulted bool
}

// launchUserTask is the user-mode launch primitive: a privilege
// descent, stack switch, deadline arming, and exception handling. This
// host has no real privilege rings or MPU, so privilege descent and
// stack switch are modeled by running the task body in its own
// goroutine, the nearest Go analogue of a distinct execution context
// with its own stack; deadline arming and exception handling are real.
//
// A supervised task races its result channel against a deadline timer,
// the same way a supervised OS process races its exit channel against a
// grace timer before escalating. Go cannot force-kill a goroutine the way
// SIGKILL force-kills a process, so on overrun this primitive abandons
// the goroutine (it may still finish and its result is discarded) and
// reports a deadline fault — the closest faithful analogue, and the one
// documented limitation of running this kernel's model hosted rather
// than on bare metal.
func (k *Kernel) launchUserTask(t *task, arg any) taskResult {
	resultCh := make(chan taskResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- taskResult{kind: classifyPanic(r), faulted: true}
			}
		}()
		v := t.userFn(t.pid, arg)
		resultCh <- taskResult{value: v}
	}()

	if t.budgetTicks == 0 {
		return <-resultCh
	}

	cs := enterCritSection(k.gate)
	handle, armed := k.deadlines.arm(k.now, t.budgetTicks, t.pid)
	cs.leave()

	budget := time.Duration(t.budgetTicks) * time.Duration(k.tickPeriodUs) * time.Microsecond
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if armed {
			cs := enterCritSection(k.gate)
			k.deadlines.disarm(handle)
			cs.leave()
		}
		return res
	case <-timer.C:
		if armed {
			cs := enterCritSection(k.gate)
			k.deadlines.disarm(handle)
			cs.leave()
		}
		return taskResult{kind: FailureDeadline, faulted: true}
	}
}

// classifyPanic maps a recovered Go panic to a failure kind. This host
// has no real MPU/FPU/TLB to raise storageFault/fpuUnavailable/tblData
// etc., so any recovered panic is uniformly reported as programInterrupt
// -- the kernel's model of "an illegal operation the CPU itself
// detected" -- rather than guessing at a more specific hardware kind
// from Go's runtime panic value.
func classifyPanic(r any) FailureKind {
	_ = r
	return FailureProgramInterrupt
}

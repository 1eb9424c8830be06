package kernel

import (
	"errors"
	"sync"
	"testing"
)

func newTestKernel(t *testing.T, numProcs, maxEvents, maxPriority, maxLockable int) *Kernel {
	t.Helper()
	k := New(Config{
		NumUserProcesses: numProcs,
		MaxEvents:        maxEvents,
		MaxPriority:      maxPriority,
		MaxLockable:      maxLockable,
		TickPeriodUs:     1000,
	})
	for pid := 1; pid <= numProcs; pid++ {
		if err := k.SetProcessStackReserve(pid, 4096); err != nil {
			t.Fatal(err)
		}
	}
	return k
}

// TestCyclicDispatchRunsOnDueTick covers a pure cyclic event: no one ever
// calls TriggerEvent, the tick driver alone must dispatch it exactly once
// per period.
func TestCyclicDispatchRunsOnDueTick(t *testing.T) {
	k := newTestKernel(t, 1, 4, 4, 1)
	var mu sync.Mutex
	runs := 0

	evID, err := k.CreateEvent(2, 0, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := k.RegisterUserTask(evID, func(pid int, arg any) int32 {
		mu.Lock()
		runs++
		mu.Unlock()
		return 0
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := InitKernel(k); err != nil {
		t.Fatal(err)
	}

	k.Tick() // tick 0: due, runs, nextDue advances to 2
	k.Tick() // tick 1: not due
	k.Tick() // tick 2: due again

	mu.Lock()
	defer mu.Unlock()
	if runs != 2 {
		t.Fatalf("expected 2 runs across 3 ticks with period 2, got %d", runs)
	}
}

// TestHigherPriorityPreemptsLower has a running low-priority task trigger
// a higher-priority event partway through its own body; the higher
// priority event must run to completion, as a nested call, before the
// low-priority task resumes.
func TestHigherPriorityPreemptsLower(t *testing.T) {
	k := newTestKernel(t, 1, 4, 4, 1)
	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	lo, _ := k.CreateEvent(0, 0, 1, 1)
	hi, _ := k.CreateEvent(0, 0, 3, 1)

	if err := k.RegisterUserTask(hi, func(pid int, arg any) int32 {
		record("hi")
		return 0
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := k.RegisterUserTask(lo, func(pid int, arg any) int32 {
		record("lo-start")
		if err := k.TriggerEvent(pid, hi); err != nil {
			t.Error(err)
		}
		record("lo-end")
		return 0
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := InitKernel(k); err != nil {
		t.Fatal(err)
	}

	if err := k.TriggerEvent(1, lo); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"lo-start", "hi", "lo-end"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

// TestActivationLossWhileInProgress re-triggers an event from inside its
// own task body, while it is still in-progress, and expects an
// activation-loss count rather than a second dispatch.
func TestActivationLossWhileInProgress(t *testing.T) {
	k := newTestKernel(t, 1, 4, 4, 1)
	runs := 0

	evID, _ := k.CreateEvent(0, 0, 1, 1)
	if err := k.RegisterUserTask(evID, func(pid int, arg any) int32 {
		runs++
		_ = k.TriggerEvent(pid, evID) // re-trigger self while in-progress
		return 0
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := InitKernel(k); err != nil {
		t.Fatal(err)
	}

	if err := k.TriggerEvent(1, evID); err != nil {
		t.Fatal(err)
	}

	if runs != 1 {
		t.Fatalf("expected exactly 1 run (self re-trigger must not re-enter), got %d", runs)
	}
	ev, _ := k.events.LookupByID(evID)
	if ev.activationLoss != 1 {
		t.Fatalf("expected activationLoss=1, got %d", ev.activationLoss)
	}
}

// TestEqualPriorityEventsBothRun verifies the equal-priority "later"
// variant decided in DESIGN.md: two events of the same priority, each
// triggered in turn, both run.
func TestEqualPriorityEventsBothRun(t *testing.T) {
	k := newTestKernel(t, 1, 4, 4, 1)
	var mu sync.Mutex
	ran := map[int]bool{}

	a, _ := k.CreateEvent(0, 0, 2, 1)
	b, _ := k.CreateEvent(0, 0, 2, 1)
	mark := func(id int) UserTaskFunc {
		return func(pid int, arg any) int32 {
			mu.Lock()
			ran[id] = true
			mu.Unlock()
			return 0
		}
	}
	if err := k.RegisterUserTask(a, mark(a), 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := k.RegisterUserTask(b, mark(b), 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := InitKernel(k); err != nil {
		t.Fatal(err)
	}

	if err := k.TriggerEvent(1, a); err != nil {
		t.Fatal(err)
	}
	if err := k.TriggerEvent(1, b); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !ran[a] || !ran[b] {
		t.Fatalf("expected both equal-priority events to run, got %v", ran)
	}
}

// TestPriorityCeilingDefersHigherPriorityUntilLowered demonstrates PCP
// mutual exclusion: while a task holds a raised ceiling, an event whose
// priority does not exceed that ceiling cannot preempt it, and runs only
// once the ceiling is released.
func TestPriorityCeilingDefersHigherPriorityUntilLowered(t *testing.T) {
	k := newTestKernel(t, 1, 4, 4, 4) // maxLockable=4 so a priority-3 event may be user-owned
	var mu sync.Mutex
	var order []string

	guarded, _ := k.CreateEvent(0, 0, 3, 1)
	low, _ := k.CreateEvent(0, 0, 2, 1)

	if err := k.RegisterUserTask(guarded, func(pid int, arg any) int32 {
		mu.Lock()
		order = append(order, "guarded")
		mu.Unlock()
		return 0
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := k.RegisterUserTask(low, func(pid int, arg any) int32 {
		mu.Lock()
		order = append(order, "low-start")
		mu.Unlock()

		if err := k.RaisePriorityByCeiling(3); err != nil {
			t.Error(err)
		}
		if err := k.TriggerEvent(pid, guarded); err != nil {
			t.Error(err)
		}

		mu.Lock()
		order = append(order, "low-holds-ceiling")
		mu.Unlock()

		if err := k.LowerPriority(3); err != nil {
			t.Error(err)
		}

		mu.Lock()
		order = append(order, "low-end")
		mu.Unlock()
		return 0
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := InitKernel(k); err != nil {
		t.Fatal(err)
	}

	if err := k.TriggerEvent(1, low); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"low-start", "low-holds-ceiling", "guarded", "low-end"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

// TestSupervisorUnaffectedByOtherProcessFailures covers a central
// safety property: the supervisor process's failure counters are
// isolated from an arbitrary other process's faults, and the
// supervisor's own tasks keep dispatching normally.
func TestSupervisorUnaffectedByOtherProcessFailures(t *testing.T) {
	k := newTestKernel(t, 2, 4, 4, 4) // maxLockable=4 so the priority-2 event may be owned by pid 1
	supervisorRuns := 0

	faulting, _ := k.CreateEvent(0, 0, 2, 1)
	supervised, _ := k.CreateEvent(0, 0, 1, 1)

	if err := k.RegisterUserTask(faulting, func(pid int, arg any) int32 {
		panic("simulated fault in non-supervisor process")
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := k.RegisterUserTask(supervised, func(pid int, arg any) int32 {
		supervisorRuns++
		return 0
	}, 2, 0); err != nil {
		t.Fatal(err)
	}
	if err := InitKernel(k); err != nil {
		t.Fatal(err)
	}

	if err := k.TriggerEvent(1, faulting); err != nil {
		t.Fatal(err)
	}
	if err := k.TriggerEvent(2, supervised); err != nil {
		t.Fatal(err)
	}

	if k.FailureCount(1) == 0 {
		t.Fatal("expected pid 1 to have recorded a failure")
	}
	if k.FailureCount(k.SupervisorPID()) != 0 {
		t.Fatal("expected supervisor to carry zero failures from pid 1's fault")
	}
	if supervisorRuns != 1 {
		t.Fatalf("expected supervisor task to run normally, got %d runs", supervisorRuns)
	}
}

// TestInitKernelRejectsMissingStackReserve covers the new startup check:
// a configured process with no stack reserve set must fail InitKernel
// with ErrPrcStackInvalid, rather than silently starting.
func TestInitKernelRejectsMissingStackReserve(t *testing.T) {
	k := New(Config{NumUserProcesses: 1, MaxEvents: 4, MaxPriority: 4, MaxLockable: 1, TickPeriodUs: 1000})
	evID, _ := k.CreateEvent(0, 0, 1, 1)
	if err := k.RegisterUserTask(evID, func(pid int, arg any) int32 { return 0 }, 1, 0); err != nil {
		t.Fatal(err)
	}
	err := InitKernel(k)
	if err == nil {
		t.Fatal("expected InitKernel to reject a configured process with no stack reserve")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Code != ErrPrcStackInvalid {
		t.Fatalf("expected ErrPrcStackInvalid, got %v", err)
	}
}

// TestAccessorSurfaceReportsLiveState exercises the run-time accessors
// against a kernel that has actually dispatched something.
func TestAccessorSurfaceReportsLiveState(t *testing.T) {
	k := newTestKernel(t, 1, 4, 4, 1)

	evID, _ := k.CreateEvent(0, 0, 2, 1)
	if err := k.RegisterUserTask(evID, func(pid int, arg any) int32 {
		if got := k.GetCurrentTaskPriority(); got != 2 {
			t.Errorf("expected current priority 2 while dispatching, got %d", got)
		}
		return 0
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := InitKernel(k); err != nil {
		t.Fatal(err)
	}

	if prio, err := k.GetTaskBasePriority(evID); err != nil || prio != 2 {
		t.Fatalf("expected base priority 2, got %d, %v", prio, err)
	}
	if got := k.GetCurrentTaskPriority(); got != 0 {
		t.Fatalf("expected idle effective priority 0 before dispatch, got %d", got)
	}
	if reserve, err := k.GetStackReserve(1); err != nil || reserve != 4096 {
		t.Fatalf("expected configured stack reserve 4096, got %d, %v", reserve, err)
	}

	if err := k.TriggerEvent(1, evID); err != nil {
		t.Fatal(err)
	}
	if err := k.TriggerEvent(1, evID); err != nil {
		t.Fatal(err)
	}
	if loss, err := k.GetNoActivationLoss(evID); err != nil {
		t.Fatal(err)
	} else if loss != 0 {
		t.Fatalf("expected no activation loss for two sequential completed triggers, got %d", loss)
	}
}

type recordingObserver struct {
	mu             sync.Mutex
	aborts         []FailureKind
	activationLoss int
	suspends       int
}

func (r *recordingObserver) TaskAbort(pid, eventID int, kind FailureKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts = append(r.aborts, kind)
}

func (r *recordingObserver) ActivationLoss(eventID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activationLoss++
}

func (r *recordingObserver) ProcessSuspend(callerPID, targetPID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspends++
}

// TestObserverSeesSafetyEvents covers the external-observer hook: a task
// abort, an activation loss, and a process suspend must each reach an
// installed Observer exactly once, without the kernel ever blocking on it.
func TestObserverSeesSafetyEvents(t *testing.T) {
	obs := &recordingObserver{}
	k := New(Config{NumUserProcesses: 2, MaxEvents: 4, MaxPriority: 4, MaxLockable: 1, TickPeriodUs: 1000, Observer: obs})
	if err := k.SetProcessStackReserve(1, 4096); err != nil {
		t.Fatal(err)
	}
	if err := k.SetProcessStackReserve(2, 4096); err != nil {
		t.Fatal(err)
	}

	evID, _ := k.CreateEvent(0, 0, 1, 1)
	if err := k.RegisterUserTask(evID, func(pid int, arg any) int32 {
		_ = k.TriggerEvent(pid, evID) // re-trigger self while in-progress: activation loss
		return -1                     // user-abort: task abort
	}, 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := InitKernel(k); err != nil {
		t.Fatal(err)
	}

	if err := k.TriggerEvent(1, evID); err != nil {
		t.Fatal(err)
	}
	if err := k.OSSuspendProcess(1); err != nil {
		t.Fatal(err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.activationLoss != 1 {
		t.Fatalf("expected 1 activation loss observed, got %d", obs.activationLoss)
	}
	if len(obs.aborts) != 1 || obs.aborts[0] != FailureUserAbort {
		t.Fatalf("expected 1 FailureUserAbort observed, got %v", obs.aborts)
	}
	if obs.suspends != 1 {
		t.Fatalf("expected 1 process suspend observed, got %d", obs.suspends)
	}
}

// TestRunTaskCrossProcessRequiresGrant covers the run-task syscall's
// permission check.
func TestRunTaskCrossProcessRequiresGrant(t *testing.T) {
	k := newTestKernel(t, 2, 4, 4, 1)
	evID, _ := k.CreateEvent(0, 0, 1, 1)
	if err := k.RegisterUserTask(evID, func(pid int, arg any) int32 { return 7 }, 2, 0); err != nil {
		t.Fatal(err)
	}
	if err := InitKernel(k); err != nil {
		t.Fatal(err)
	}

	if _, err := k.RunTask(1, 2, evID, 0, nil); err == nil {
		t.Fatal("expected run-task to fail without a grant")
	}
}

package kernel

// Observer watches kernel safety events from outside: task aborts,
// activation losses, and process suspensions. It is purely an
// observation hook -- the kernel never holds the gate while calling it
// and never acts on anything it does. Calls are synchronous: each one
// runs on the kernel's calling goroutine, which waits for it to return.
type Observer interface {
	TaskAbort(pid, eventID int, kind FailureKind)
	ActivationLoss(eventID int)
	ProcessSuspend(callerPID, targetPID int)
}

type noopObserver struct{}

func (noopObserver) TaskAbort(pid, eventID int, kind FailureKind) {}
func (noopObserver) ActivationLoss(eventID int)                   {}
func (noopObserver) ProcessSuspend(callerPID, targetPID int)      {}

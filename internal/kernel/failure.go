package kernel

// FailureKind enumerates the 13 ways a task activation can abort
//. Detected either by the CPU (memory protection,
// illegal instruction, alignment...) or by the kernel (deadline overrun,
// bad syscall argument, explicit user abort, suspend).
type FailureKind int

const (
	FailureProcessAbort FailureKind = iota
	FailureMachineCheck
	FailureDeadline
	FailureStorageFault
	FailureSysCallBadArg
	FailureAlignment
	FailureProgramInterrupt
	FailureFPUUnavailable
	FailureTblData
	FailureTblInstruction
	FailureTrap
	FailureSpeInstruction
	FailureUserAbort

	numFailureKinds
)

var failureKindNames = [...]string{
	"processAbort",
	"machineCheck",
	"deadline",
	"storageFault",
	"sysCallBadArg",
	"alignment",
	"programInterrupt",
	"fpuUnavailable",
	"tblData",
	"tblInstruction",
	"trap",
	"speInstruction",
	"userAbort",
}

func (k FailureKind) String() string {
	if int(k) < 0 || int(k) >= len(failureKindNames) {
		return "unknown"
	}
	return failureKindNames[k]
}

// maxCounter is the saturation ceiling for any failure or activation-loss
// counter.
const maxCounter = ^uint32(0)

func saturatingAdd(v *uint32, n uint32) {
	if maxCounter-*v < n {
		*v = maxCounter
		return
	}
	*v += n
}

package kernel

import "fmt"

// raisePriorityByCeiling implements the priority-ceiling protocol's
// "raise" half: the caller's effective priority rises to
// ceiling, which must already be at least the current effective
// priority -- the central PCP invariant that makes the protocol
// deadlock-free without ever needing priority inheritance. Caller holds
// the gate.
func (k *Kernel) raisePriorityByCeiling(ceiling int) error {
	if ceiling < k.currentPriority {
		return newConfigError(ErrPriorityCeilingViolation, fmt.Sprintf("ceiling %d below current effective priority %d", ceiling, k.currentPriority))
	}
	k.priorityStack = append(k.priorityStack, k.currentPriority)
	k.currentPriority = ceiling
	return nil
}

// lowerPriority implements the "lower" half: it restores the priority
// saved by the matching raise and reports the vacated ceiling, so the
// caller can re-enter the scheduling loop there once the gate is
// released -- anything triggered while priority was raised, and now
// eligible, must run before this syscall returns control to its caller.
// Caller holds the gate.
//
// ceiling must match the value most recently raised to -- raise/lower
// pairs nest like a stack, and a caller that lowers to the wrong
// ceiling has a bug the kernel refuses to paper over.
func (k *Kernel) lowerPriority(ceiling int) (vacated int, err error) {
	if len(k.priorityStack) == 0 {
		return 0, newConfigError(ErrPriorityCeilingViolation, "lower-priority with no matching raise")
	}
	if k.currentPriority != ceiling {
		return 0, newConfigError(ErrPriorityCeilingViolation, fmt.Sprintf("lower-priority ceiling %d does not match current effective priority %d", ceiling, k.currentPriority))
	}

	vacated = k.currentPriority
	prev := k.priorityStack[len(k.priorityStack)-1]
	k.priorityStack = k.priorityStack[:len(k.priorityStack)-1]
	k.currentPriority = prev
	return vacated, nil
}

package kernel

import "testing"

func TestDeadlineMonitorArmZeroBudgetIsNoop(t *testing.T) {
	m := newDeadlineMonitor()
	handle, armed := m.arm(0, 0, 1)
	if armed {
		t.Fatalf("expected zero budget to not arm, got handle %d", handle)
	}
	if m.h.Len() != 0 {
		t.Fatalf("expected empty heap, got %d entries", m.h.Len())
	}
}

func TestDeadlineMonitorExpiresInOrderNotArmOrder(t *testing.T) {
	m := newDeadlineMonitor()
	// Arm out of expiry order: pid 1 expires latest, pid 2 earliest, pid 3 middle.
	h1, ok1 := m.arm(0, 30, 1)
	h2, ok2 := m.arm(0, 10, 2)
	h3, ok3 := m.arm(0, 20, 3)
	if !ok1 || !ok2 || !ok3 {
		t.Fatalf("expected all three arms to succeed")
	}
	_ = h1
	_ = h2
	_ = h3

	expired := m.expired(10)
	if len(expired) != 1 || expired[0].pid != 2 {
		t.Fatalf("expected only pid 2 expired at tick 10, got %+v", expired)
	}

	expired = m.expired(20)
	if len(expired) != 1 || expired[0].pid != 3 {
		t.Fatalf("expected only pid 3 expired at tick 20, got %+v", expired)
	}

	expired = m.expired(30)
	if len(expired) != 1 || expired[0].pid != 1 {
		t.Fatalf("expected only pid 1 expired at tick 30, got %+v", expired)
	}

	if m.h.Len() != 0 {
		t.Fatalf("expected heap drained, got %d remaining", m.h.Len())
	}
}

func TestDeadlineMonitorDisarmRemovesBeforeExpiry(t *testing.T) {
	m := newDeadlineMonitor()
	handle, armed := m.arm(0, 10, 5)
	if !armed {
		t.Fatalf("expected arm to succeed")
	}
	m.disarm(handle)
	if m.h.Len() != 0 {
		t.Fatalf("expected heap empty after disarm, got %d", m.h.Len())
	}
	if len(m.expired(10)) != 0 {
		t.Fatalf("expected nothing expired after disarm")
	}
}

func TestDeadlineMonitorDisarmOfUnknownHandleIsNoop(t *testing.T) {
	m := newDeadlineMonitor()
	_, _ = m.arm(0, 10, 1)
	m.disarm(999)
	if m.h.Len() != 1 {
		t.Fatalf("expected unrelated entry untouched, got %d entries", m.h.Len())
	}
}

func TestDeadlineMonitorDisarmMiddleOfHeapPreservesOthers(t *testing.T) {
	m := newDeadlineMonitor()
	_, _ = m.arm(0, 10, 1)
	h2, _ := m.arm(0, 20, 2)
	_, _ = m.arm(0, 30, 3)

	m.disarm(h2)

	expired := m.expired(10)
	if len(expired) != 1 || expired[0].pid != 1 {
		t.Fatalf("expected pid 1 expired at tick 10, got %+v", expired)
	}
	expired = m.expired(30)
	if len(expired) != 1 || expired[0].pid != 3 {
		t.Fatalf("expected only pid 3 left (pid 2 was disarmed), got %+v", expired)
	}
}

func TestDeadlineMonitorHandlesWraparound(t *testing.T) {
	m := newDeadlineMonitor()
	// now is near the 30-bit wraparound boundary; expireAt wraps past it.
	var now uint32 = bit30Mask - 2
	_, armed := m.arm(now, 5, 1)
	if !armed {
		t.Fatalf("expected arm to succeed across wraparound")
	}
	if len(m.expired(now+2)) != 0 {
		t.Fatalf("expected not yet expired just before wraparound deadline")
	}
	wrapped := (now + 5) & bit30Mask
	expired := m.expired(wrapped)
	if len(expired) != 1 || expired[0].pid != 1 {
		t.Fatalf("expected expiry to fire at wrapped tick, got %+v", expired)
	}
}

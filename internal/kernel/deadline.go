package kernel

import (
	"container/heap"
)

// deadlineEntry is one armed per-activation wall-clock budget. index is
// required for heap.Fix-compatible removals.
type deadlineEntry struct {
	seq      uint64 // monotonic arming sequence, doubles as the removal handle
	expireAt uint32 // absolute tick at which the activation is overrun
	pid      int
	index    int
}

// deadlineHeap is a min-heap ordered by expireAt, implementing
// container/heap.Interface so an active deadline can be armed,
// canceled, and popped in expiry order.
type deadlineHeap []*deadlineEntry

// tickDiff30 returns a - b on the 30-bit wrapping tick counter, sign-extended
// from bit 29 -- the same half-range comparison event.dueRelativeTo uses.
func tickDiff30(a, b uint32) int32 {
	d := (a - b) & bit30Mask
	if d&(1<<29) != 0 {
		d |= ^uint32(bit30Mask)
	}
	return int32(d)
}

func (h deadlineHeap) Len() int { return len(h) }
func (h deadlineHeap) Less(i, j int) bool {
	return tickDiff30(h[i].expireAt, h[j].expireAt) < 0
}
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *deadlineHeap) Push(x any) {
	e := x.(*deadlineEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	e.index = -1
	*h = old[:n-1]
	return e
}

// deadlineMonitor arms and disarms per-activation wall-clock budgets. It
// is driven by the same tick counter the scheduler uses, so "now" always
// means "current kernel tick".
type deadlineMonitor struct {
	h       deadlineHeap
	entries map[uint64]*deadlineEntry
	nextSeq uint64
}

func newDeadlineMonitor() *deadlineMonitor {
	return &deadlineMonitor{entries: make(map[uint64]*deadlineEntry)}
}

// arm schedules a deadline budgetTicks ticks after now for pid, unless
// budgetTicks is 0 (no monitoring), and returns a handle for disarm.
func (m *deadlineMonitor) arm(now uint32, budgetTicks uint32, pid int) (handle uint64, armed bool) {
	if budgetTicks == 0 {
		return 0, false
	}
	m.nextSeq++
	e := &deadlineEntry{seq: m.nextSeq, expireAt: (now + budgetTicks) & bit30Mask, pid: pid}
	m.entries[e.seq] = e
	heap.Push(&m.h, e)
	return e.seq, true
}

// disarm cancels a previously armed deadline; a no-op if already expired
// and removed.
func (m *deadlineMonitor) disarm(handle uint64) {
	e, ok := m.entries[handle]
	if !ok {
		return
	}
	heap.Remove(&m.h, e.index)
	delete(m.entries, handle)
}

// expired pops and returns every entry whose expireAt has passed as of
// now, oldest-expiry first.
func (m *deadlineMonitor) expired(now uint32) []*deadlineEntry {
	var out []*deadlineEntry
	for m.h.Len() > 0 {
		head := m.h[0]
		if tickDiff30(head.expireAt, now) > 0 {
			break
		}
		heap.Pop(&m.h)
		delete(m.entries, head.seq)
		out = append(out, head)
	}
	return out
}

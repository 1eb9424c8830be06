package kernel

import "fmt"

// eventState is the three-valued cross-context event state machine:
// transitions are valid only idle -> triggered -> inProgress -> idle.
// Any other transition is a programming error in this package and
// panics rather than silently corrupting the model.
type eventState int

const (
	eventIdle eventState = iota
	eventTriggered
	eventInProgress
)

func (s eventState) String() string {
	switch s {
	case eventIdle:
		return "idle"
	case eventTriggered:
		return "triggered"
	case eventInProgress:
		return "in-progress"
	default:
		return "invalid"
	}
}

// transitionTo enforces the idle->triggered->inProgress->idle cycle.
func (s *eventState) transitionTo(next eventState) {
	valid := false
	switch *s {
	case eventIdle:
		valid = next == eventTriggered
	case eventTriggered:
		valid = next == eventInProgress
	case eventInProgress:
		valid = next == eventIdle
	}
	if !valid {
		panic(fmt.Sprintf("kernel: invalid event state transition %s -> %s", *s, next))
	}
	*s = next
}

// bit30Mask fits a 30-bit unsigned field.
const bit30Mask = 1<<30 - 1

// event is one event descriptor. Events are stored in the
// registry's slice in order of non-increasing priority; nextInGroup is
// installed by the registry at InitKernel time.
type event struct {
	id              int
	priority        int
	cyclePeriod     uint32 // ticks; 0 = pure software event
	nextDue         uint32 // absolute tick, 30-bit, half-range wraparound comparison
	minPIDToTrigger int

	state          eventState
	activationLoss uint32

	taskStart int
	taskCount int

	nextInGroup *event // built by EventRegistry.finalize
}

// dueRelativeTo reports whether the event is due at tick "now", using a
// half-range signed comparison so the 30-bit nextDue field tolerates
// wraparound. diff = nextDue - now, sign-extended from its low 30
// bits; the event is due once diff is non-positive.
func (e *event) dueRelativeTo(now uint32) bool {
	diff := (e.nextDue - now) & bit30Mask
	if diff&(1<<29) != 0 {
		diff |= ^uint32(bit30Mask) // sign-extend bit 29 across the high bits
	}
	return int32(diff) <= 0
}

func (e *event) advanceNextDue() {
	e.nextDue = (e.nextDue + e.cyclePeriod) & bit30Mask
}

// EventRegistry is the ordered collection of event descriptors built at
// init time. It owns the flat task array shared by every
// event's task sub-sequence, the priority-sorted event slice, the
// ID-stable lookup map, and (after finalize) the priority->first-event
// map used when the scheduler lowers the effective priority.
//
// Built as an order-preserving sorted slice rather than a flat map,
// since the scheduler needs priority-sorted storage to walk down from
// the highest-priority event efficiently.
type EventRegistry struct {
	maxEvents        int
	maxPriority      int
	maxLockable      int
	tickPeriodUs     uint32
	numUserProcesses int // N: minPIDToTrigger must not exceed N+1 (OS-only)

	events []*event // sorted non-increasing by priority; guard sentinel appended at finalize
	byID   []*event // stable by creation order

	tasks []task

	initTasks map[int]InitTaskFunc

	priorityMap []*event // index 0..maxPriority; built at finalize

	finalized bool
}

// NewEventRegistry constructs an empty registry. maxEvents bounds
// createEvent calls; maxPriority is PMAX; maxLockable is the
// max-lockable threshold above which only OS or supervisor tasks may
// own an event; tickPeriodUs is used to convert task budgets from
// microseconds to ticks; numUserProcesses is N, the highest configured
// user PID -- createEvent rejects any minPIDToTrigger above N+1.
func NewEventRegistry(maxEvents, maxPriority, maxLockable int, tickPeriodUs uint32, numUserProcesses int) *EventRegistry {
	return &EventRegistry{
		maxEvents:        maxEvents,
		maxPriority:      maxPriority,
		maxLockable:      maxLockable,
		tickPeriodUs:     tickPeriodUs,
		numUserProcesses: numUserProcesses,
		initTasks:        make(map[int]InitTaskFunc),
	}
}

func (r *EventRegistry) requireNotFinalized() error {
	if r.finalized {
		return newConfigError(ErrConfigurationOfRunningKernel, "")
	}
	return nil
}

// CreateEvent registers a new event descriptor and returns its stable
// public ID.
func (r *EventRegistry) CreateEvent(cycle, firstDue uint32, priority, minPIDToTrigger int) (int, error) {
	if err := r.requireNotFinalized(); err != nil {
		return 0, err
	}
	if len(r.events) >= r.maxEvents {
		return 0, newConfigError(ErrTooManyEvents, fmt.Sprintf("limit %d", r.maxEvents))
	}
	if priority <= 0 || priority > r.maxPriority {
		return 0, newConfigError(ErrInvalidEventPriority, fmt.Sprintf("priority %d out of 1..%d", priority, r.maxPriority))
	}
	if cycle == 0 && firstDue != 0 {
		return 0, newConfigError(ErrBadEventTiming, "cycle=0 requires firstDue=0")
	}
	if cycle&^bit30Mask != 0 || firstDue&^bit30Mask != 0 {
		return 0, newConfigError(ErrBadEventTiming, "cycle/firstDue must fit in 30 bits")
	}
	if minPIDToTrigger > r.numUserProcesses+1 {
		return 0, newConfigError(ErrBadProcessID, fmt.Sprintf("minPIDToTrigger %d exceeds N+1 (%d)", minPIDToTrigger, r.numUserProcesses+1))
	}

	ev := &event{
		id:              len(r.byID),
		priority:        priority,
		cyclePeriod:     cycle,
		nextDue:         firstDue,
		minPIDToTrigger: minPIDToTrigger,
		state:           eventIdle,
	}

	// Insert sorted, non-increasing priority: first position whose
	// priority is strictly less than the new event's priority.
	pos := len(r.events)
	for i, e := range r.events {
		if e.priority < priority {
			pos = i
			break
		}
	}
	r.events = append(r.events, nil)
	copy(r.events[pos+1:], r.events[pos:])
	r.events[pos] = ev

	r.byID = append(r.byID, ev)
	return ev.id, nil
}

// insertTaskSlot inserts t at the flat array position right after
// event ev's existing tasks, shifting later tasks right by one and
// bumping every other event's taskStart that pointed at or after that
// position.
func (r *EventRegistry) insertTaskSlot(ev *event, t task) {
	pos := ev.taskStart + ev.taskCount
	if ev.taskCount == 0 {
		pos = len(r.tasks)
		ev.taskStart = pos
	}

	r.tasks = append(r.tasks, task{})
	copy(r.tasks[pos+1:], r.tasks[pos:])
	r.tasks[pos] = t
	ev.taskCount++

	for _, other := range r.byID {
		if other == ev {
			continue
		}
		if other.taskCount > 0 && other.taskStart >= pos {
			other.taskStart++
		}
	}
}

func (r *EventRegistry) eventByID(id int) (*event, error) {
	if id < 0 || id >= len(r.byID) {
		return nil, newConfigError(ErrBadEventID, fmt.Sprintf("id %d", id))
	}
	return r.byID[id], nil
}

// RegisterUserTask appends a user-mode task to eventID's sub-sequence.
func (r *EventRegistry) RegisterUserTask(eventID int, fn UserTaskFunc, pid int, budgetUs uint32) error {
	if err := r.requireNotFinalized(); err != nil {
		return err
	}
	ev, err := r.eventByID(eventID)
	if err != nil {
		return err
	}
	if pid < 1 {
		return newConfigError(ErrBadProcessID, fmt.Sprintf("pid %d", pid))
	}
	if fn == nil {
		return newConfigError(ErrBadTaskFunction, "")
	}
	ticks, err := ticksFromBudgetUs(budgetUs, r.tickPeriodUs)
	if err != nil {
		return err
	}
	t := task{pid: pid, budgetTicks: ticks, userFn: fn}
	if err := t.validate(); err != nil {
		return err
	}
	r.insertTaskSlot(ev, t)
	return nil
}

// RegisterOSTask appends a PID-0 task to eventID's sub-sequence.
func (r *EventRegistry) RegisterOSTask(eventID int, fn OSTaskFunc) error {
	if err := r.requireNotFinalized(); err != nil {
		return err
	}
	ev, err := r.eventByID(eventID)
	if err != nil {
		return err
	}
	if fn == nil {
		return newConfigError(ErrBadTaskFunction, "")
	}
	t := task{pid: 0, budgetTicks: 0, osFn: fn}
	if err := t.validate(); err != nil {
		return err
	}
	r.insertTaskSlot(ev, t)
	return nil
}

// RegisterInitTask stores a once-per-PID startup task.
func (r *EventRegistry) RegisterInitTask(fn InitTaskFunc, pid int, budgetUs uint32) error {
	if err := r.requireNotFinalized(); err != nil {
		return err
	}
	if _, exists := r.initTasks[pid]; exists {
		return newConfigError(ErrInitTaskRedefined, fmt.Sprintf("pid %d", pid))
	}
	if fn == nil {
		return newConfigError(ErrBadTaskFunction, "")
	}
	if _, err := ticksFromBudgetUs(budgetUs, r.tickPeriodUs); err != nil {
		return err
	}
	r.initTasks[pid] = fn
	return nil
}

// LookupByID returns the event for a public ID in constant time.
func (r *EventRegistry) LookupByID(id int) (*event, error) {
	return r.eventByID(id)
}

// LookupByIndex returns the event at a given position in the
// priority-sorted slice (constant time), or nil if idx is out of range.
// After finalize the guard sentinel occupies the last index.
func (r *EventRegistry) LookupByIndex(idx int) *event {
	if idx < 0 || idx >= len(r.events) {
		return nil
	}
	return r.events[idx]
}

// finalize builds the next-in-priority-group links, the priority->event
// map, and installs the guard sentinel. Called
// exactly once, from InitKernel, after every create/register call has
// completed and before the clock starts.
func (r *EventRegistry) finalize() {
	if r.finalized {
		return
	}

	guard := &event{id: -1, priority: 0, state: eventIdle}
	r.events = append(r.events, guard)

	r.priorityMap = make([]*event, r.maxPriority+1)
	idx := 0
	for p := r.maxPriority; p >= 1; p-- {
		for idx < len(r.events)-1 && r.events[idx].priority > p {
			idx++
		}
		r.priorityMap[p] = r.events[idx]
	}

	for i := 0; i < len(r.events)-1; i++ {
		if r.events[i].priority == r.events[i+1].priority {
			r.events[i].nextInGroup = r.events[i+1]
		}
	}

	r.finalized = true
}

// guardEvent returns the terminator sentinel installed by finalize: zero
// priority, nil nextInGroup, one past the last real event.
func (r *EventRegistry) guardEvent() *event {
	return r.events[len(r.events)-1]
}

// firstAtOrBelow returns the first event descriptor (in priority order)
// whose priority is <= p, or the guard sentinel if none exists. This is
// the priority->first-event map used by lower-priority to resume the
// scheduling loop without walking down from PMAX.
func (r *EventRegistry) firstAtOrBelow(p int) *event {
	if p <= 0 {
		return r.guardEvent()
	}
	if p > r.maxPriority {
		p = r.maxPriority
	}
	return r.priorityMap[p]
}

func (r *EventRegistry) count() int { return len(r.events) }

// tasksOf returns the sub-sequence of tasks owned by ev, in registration
// order.
func (r *EventRegistry) tasksOf(ev *event) []task {
	return r.tasks[ev.taskStart : ev.taskStart+ev.taskCount]
}

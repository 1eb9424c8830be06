// Package kernelconfig decodes a JSON description of a kernel
// configuration (events, tasks, grants) and drives the Go configuration
// API (kernel.CreateEvent / RegisterUserTask / ...) from it, the way a
// real port's startup code would drive it from a board config file.
//
// Task and init-task bodies cannot be serialized: a Spec names them by
// a string key, resolved against a Registry supplied by the embedding
// program, so a task descriptor's function entry is still a real
// compiled Go function, never reflection-invoked from a string.
package kernelconfig

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/pceos/kernel/internal/kernel"
)

// TaskRef names a registered task body plus its owning PID and
// wall-clock budget.
type TaskRef struct {
	Name     string `json:"name" validate:"required"`
	PID      int    `json:"pid" validate:"min=0"`
	BudgetUs uint32 `json:"budget_us"`
}

// EventSpec is the JSON shape of one event descriptor.
type EventSpec struct {
	CycleUs         uint32    `json:"cycle_us"`
	FirstDueUs      uint32    `json:"first_due_us"`
	Priority        int       `json:"priority" validate:"required,min=1"`
	MinPIDToTrigger int       `json:"min_pid_to_trigger" validate:"min=0"`
	Tasks           []TaskRef `json:"tasks" validate:"required,min=1,dive"`
}

// GrantSpec is one (caller, target) permission grant.
type GrantSpec struct {
	Caller int `json:"caller" validate:"min=1"`
	Target int `json:"target" validate:"min=1"`
}

// Spec is the top-level JSON configuration document.
type Spec struct {
	NumUserProcesses  int               `json:"num_user_processes" validate:"required,min=1"`
	MaxEvents         int               `json:"max_events" validate:"required,min=1"`
	MaxPriority       int               `json:"max_priority" validate:"required,min=1"`
	MaxLockable       int               `json:"max_lockable" validate:"min=0"`
	TickPeriodUs      uint32            `json:"tick_period_us" validate:"required"`
	ProcessStackBytes map[string]uint32 `json:"process_stack_bytes"`
	Events            []EventSpec       `json:"events" validate:"required,min=1,dive"`
	InitTasks         []TaskRef         `json:"init_tasks" validate:"dive"`
	RunTaskGrants     []GrantSpec       `json:"run_task_grants" validate:"dive"`
	SuspendGrants     []GrantSpec       `json:"suspend_process_grants" validate:"dive"`
}

// Registry resolves the string task names a Spec carries to compiled
// Go function pointers. The embedding program populates this once,
// before calling Build.
type Registry struct {
	OS   map[string]kernel.OSTaskFunc
	User map[string]kernel.UserTaskFunc
	Init map[string]kernel.InitTaskFunc
}

// NewRegistry returns an empty Registry ready for its maps to be
// populated by the embedding program.
func NewRegistry() *Registry {
	return &Registry{
		OS:   map[string]kernel.OSTaskFunc{},
		User: map[string]kernel.UserTaskFunc{},
		Init: map[string]kernel.InitTaskFunc{},
	}
}

var validate = validator.New()

// Decode strict-decodes r into a Spec (DisallowUnknownFields, so a
// typo'd or stale field name fails config loading instead of silently
// being ignored) and validates it with go-playground/validator struct
// tags.
func Decode(r io.Reader) (*Spec, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("kernelconfig: decode: %w", err)
	}
	if err := validate.Struct(&spec); err != nil {
		return nil, fmt.Errorf("kernelconfig: validate: %w", err)
	}
	return &spec, nil
}

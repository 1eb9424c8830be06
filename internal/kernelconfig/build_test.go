package kernelconfig

import (
	"strings"
	"testing"
)

func validSpecJSON() string {
	return `{
		"num_user_processes": 2,
		"max_events": 8,
		"max_priority": 10,
		"max_lockable": 8,
		"tick_period_us": 1000,
		"process_stack_bytes": {"1": 4096, "2": 4096},
		"events": [
			{
				"cycle_us": 10000,
				"priority": 3,
				"min_pid_to_trigger": 1,
				"tasks": [{"name": "tick-counter", "pid": 1, "budget_us": 5000}]
			}
		],
		"run_task_grants": [{"caller": 1, "target": 2}]
	}`
}

func TestDecodeValid(t *testing.T) {
	spec, err := Decode(strings.NewReader(validSpecJSON()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(spec.Events) != 1 || spec.Events[0].Priority != 3 {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	bad := strings.Replace(validSpecJSON(), `"max_events": 8,`, `"max_events": 8, "bogus_field": 1,`, 1)
	if _, err := Decode(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error decoding spec with unknown field")
	}
}

func TestDecodeRejectsMissingRequired(t *testing.T) {
	bad := `{"max_events": 8}`
	if _, err := Decode(strings.NewReader(bad)); err == nil {
		t.Fatal("expected validation error for missing required fields")
	}
}

func TestBuildResolvesRegisteredTask(t *testing.T) {
	spec, err := Decode(strings.NewReader(validSpecJSON()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	reg := NewRegistry()
	reg.User["tick-counter"] = func(pid int, arg any) int32 { return 0 }

	k, err := Build(spec, reg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if k == nil {
		t.Fatal("Build returned nil kernel")
	}
}

func TestBuildFailsOnUnresolvedTask(t *testing.T) {
	spec, err := Decode(strings.NewReader(validSpecJSON()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	reg := NewRegistry() // tick-counter deliberately left unregistered

	if _, err := Build(spec, reg, nil); err == nil {
		t.Fatal("expected Build to fail for unresolved task name")
	}
}

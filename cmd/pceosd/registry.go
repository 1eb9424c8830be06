package main

import (
	"sync/atomic"

	"github.com/pceos/kernel/internal/kernelconfig"
)

// buildDemoRegistry wires a small set of named task bodies a config
// file can reference by name. A real deployment would replace this
// with its own application tasks; this is enough to drive an
// end-to-end scenario out of the box.
func buildDemoRegistry() *kernelconfig.Registry {
	reg := kernelconfig.NewRegistry()

	var cyclicCounter atomic.Uint64
	reg.OS["cyclic-counter"] = func() {
		cyclicCounter.Add(1)
	}

	reg.User["echo"] = func(pid int, arg any) int32 {
		return 0
	}

	reg.Init["noop-init"] = func(pid int) int32 {
		return 0
	}

	return reg
}

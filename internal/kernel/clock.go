package kernel

import (
	"context"
	"time"
)

// Clock drives the kernel's timer-interrupt entry point. A real port
// wires this to the hardware periodic timer's interrupt vector; RunClock
// below is the host-testable equivalent, a goroutine standing in for
// that ISR.
type Clock interface {
	// Run blocks, calling tick() once per tick period, until ctx is
	// cancelled.
	Run(ctx context.Context, tick func())
}

// realTimeClock ticks at a fixed wall-clock period. Besides the
// per-activation goroutines launchUserTask starts, it is the only piece
// of this package that runs on a goroutine distinct from whichever
// goroutine is driving the syscall surface -- exactly the ISR-vs-task
// split the gate exists to serialize.
type realTimeClock struct {
	period time.Duration
}

// NewRealTimeClock returns a Clock ticking every tickPeriodUs
// microseconds.
func NewRealTimeClock(tickPeriodUs uint32) Clock {
	return &realTimeClock{period: time.Duration(tickPeriodUs) * time.Microsecond}
}

func (c *realTimeClock) Run(ctx context.Context, tick func()) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// RunClock drives k.Tick from clock until ctx is cancelled. Intended to
// run on its own goroutine for the lifetime of the kernel.
func RunClock(ctx context.Context, k *Kernel, clock Clock) {
	clock.Run(ctx, k.Tick)
}

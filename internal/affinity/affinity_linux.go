//go:build linux

// Package affinity pins the calling OS thread to a specific CPU core,
// backing ScheduledTask core affinity (§4.3) and the per-worker "home
// core" a Scheduler assigns at startup. Grounded on Mu-L-gvisor's
// pervasive golang.org/x/sys use and the platform-file split seen in
// joeycumines-go-utilpkg/eventloop's poller_linux.go/poller_windows.go.
package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin binds the calling goroutine's current OS thread to core. The
// caller must have called runtime.LockOSThread first, or the pin will
// silently apply to whichever thread the goroutine is migrated onto
// next.
func Pin(core int) error {
	if core < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: pin to core %d: %w", core, err)
	}
	return nil
}

// NumCPU returns the number of logical CPUs available, used as the
// default worker pool size (§4.3 "default: number of cores").
func NumCPU() int {
	return runtime.NumCPU()
}

//go:build !linux

package affinity

import "runtime"

// Pin is a no-op on platforms without a portable core-pinning syscall;
// affinity then degrades gracefully to "preferred placement without a
// hard OS pin", which the scheduler already provides via local-queue
// placement alone.
func Pin(core int) error {
	return nil
}

// NumCPU returns the number of logical CPUs available.
func NumCPU() int {
	return runtime.NumCPU()
}

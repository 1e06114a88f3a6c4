// Package supervisor implements hierarchical fault isolation (§4.5): a
// Supervisor is an ordinary process.Actor that monitors its children and
// reacts to their Down signals by applying a restart strategy
// under an intensity limit. Grounded on ergonode's SupervisorBehavior
// (supervisor_ref.go.bak) generalized past its empty OneForOne branch
// and its commented-out SimpleOneForOne stub, and on its restart-type
// vocabulary (Permanent/Transient/Temporary).
package supervisor

import (
	"time"

	"github.com/ream-rt/ream/process"
)

// RestartPolicy governs whether a child is restarted after it exits
// (§3 ChildSpec, §4.5).
type RestartPolicy int

const (
	// Permanent children are always restarted, regardless of exit reason.
	Permanent RestartPolicy = iota
	// Transient children are restarted only on abnormal exit; a normal
	// exit (reason nil) removes them permanently.
	Transient
	// Temporary children are never restarted; any exit removes them.
	Temporary
)

func (r RestartPolicy) String() string {
	switch r {
	case Permanent:
		return "permanent"
	case Transient:
		return "transient"
	case Temporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// ChildType distinguishes an ordinary worker from a nested supervisor,
// which the ProcessTree needs to recurse into on startup/shutdown.
type ChildType int

const (
	Worker ChildType = iota
	SupervisorChild
)

// Factory constructs a fresh instance of a child's behavior. It is
// called on initial start and on every restart, so stateful actors get
// a clean slate unless they implement process.Restarter.
type Factory func() (process.Actor, process.NewOptions)

// ChildSpec is a supervisor's declaration of one child (§3).
type ChildSpec struct {
	// ID must be unique among siblings under the same supervisor.
	ID string
	// New builds the child's behavior and spawn options.
	New Factory
	// Restart governs whether New is called again after this child exits.
	Restart RestartPolicy
	// ShutdownTimeout bounds how long a forced termination waits for
	// the child to exit cleanly before it is considered stuck.
	ShutdownTimeout time.Duration
	// Type marks this child as a plain worker or a nested supervisor.
	Type ChildType
	// MaxRestartIntensity adds a per-child intensity limit over the
	// supervisor's RestartWindow, checked alongside (not instead of) the
	// supervisor's own MaxRestarts; exceeding either fails the
	// supervisor. Zero means no per-child limit.
	MaxRestartIntensity int
}

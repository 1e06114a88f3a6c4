package supervisor

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ream-rt/ream/process"
	"github.com/ream-rt/ream/scheduler"
)

// Strategy is a supervisor's restart strategy (§4.5).
type Strategy int

const (
	// OneForOne restarts only the failed child.
	OneForOne Strategy = iota
	// OneForAll terminates every sibling in reverse start order, then
	// restarts all of them in forward order.
	OneForAll
	// RestForOne terminates the failed child and every sibling started
	// after it (reverse order), then restarts that whole tail forward.
	RestForOne
)

func (s Strategy) String() string {
	switch s {
	case OneForOne:
		return "one_for_one"
	case OneForAll:
		return "one_for_all"
	case RestForOne:
		return "rest_for_one"
	default:
		return "unknown"
	}
}

// SupervisorSpec is a supervisor's full declaration (§3). Order is
// significant: RestForOne depends on it.
type SupervisorSpec struct {
	Name          string
	Strategy      Strategy
	MaxRestarts   int
	RestartWindow time.Duration
	Children      []ChildSpec
}

// ErrShutdown is the reason a child is given when its supervisor
// terminates it as part of a restart strategy, as opposed to the
// child failing on its own.
var ErrShutdown = errors.New("supervisor: shutdown")

// ErrShutdownLimit is the reason a supervisor gives its own exit when
// it exceeds its restart intensity limit (§4.5).
var ErrShutdownLimit = errors.New("supervisor: restart intensity exceeded")

type childState struct {
	spec         ChildSpec
	pid          process.Pid
	ref          process.MonitorRef
	restartCount uint64
	restartTimes []time.Time // per-child sliding window for ChildSpec.MaxRestartIntensity
	removed      bool        // Temporary, or Transient that exited normally: never restarted again
}

// Supervisor is itself a process.Actor (§4.5): it monitors its
// children (monitors, not links, so it is notified of every exit —
// normal or abnormal — regardless of trap-exit state) and applies its
// SupervisorSpec's strategy to their Down signals. Grounded on
// ergonode's Supervisor.loop (supervisor_ref.go.bak), generalized past
// its empty OneForOne case and its commented-out restart branch.
type Supervisor struct {
	spec      SupervisorSpec
	scheduler *scheduler.Scheduler
	registry  *process.Registry
	logger    *zap.Logger

	self process.Pid

	children []*childState
	byRef    map[process.MonitorRef]int

	restartTimes  []time.Time
	pending       map[process.Pid]struct{} // awaiting self-initiated termination
	pendingGroup  []int                    // child indices mid-restart, in restart order
	pendingReason error                    // reason driving the in-flight restart group
	failedIdx     int
}

// NewSupervisor constructs a Supervisor behavior for spec, to be
// spawned via scheduler.Spawn.
func NewSupervisor(spec SupervisorSpec, sched *scheduler.Scheduler, registry *process.Registry, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		spec:      spec,
		scheduler: sched,
		registry:  registry,
		logger:    logger.Named("supervisor").With(zap.String("name", spec.Name)),
		byRef:     make(map[process.MonitorRef]int),
		pending:   make(map[process.Pid]struct{}),
	}
}

// Init starts every child in declaration order and monitors each one
// (§4.5, §8 scenario "supervisor with zero children starts and idles").
func (sv *Supervisor) Init(proc *process.Process, _ ...interface{}) error {
	sv.self = proc.Self()
	sv.children = make([]*childState, len(sv.spec.Children))
	for i, spec := range sv.spec.Children {
		if err := sv.startChild(i, spec, nil, false); err != nil {
			return fmt.Errorf("supervisor %s: start child %s: %w", sv.spec.Name, spec.ID, err)
		}
	}
	return nil
}

// startChild spawns spec's behavior suspended, wires its bookkeeping
// and monitor, and, if isRestart, bumps the child's restart count and
// runs process.Restarter.OnRestart (with the count before this
// restart) on it if
// the behavior implements that optional capability (§4.5, so a
// restarted actor can seed state instead of always starting blank),
// then resumes it.
func (sv *Supervisor) startChild(idx int, spec ChildSpec, reason error, isRestart bool) error {
	behavior, opts := spec.New()
	proc, err := sv.scheduler.SpawnSuspended(behavior, opts)
	if err != nil {
		return err
	}

	ref := sv.registry.Monitor(sv.self, proc.Self())
	cs := &childState{spec: spec, pid: proc.Self(), ref: ref}
	var prior uint64
	if idx < len(sv.children) && sv.children[idx] != nil {
		prior = sv.children[idx].restartCount
		cs.restartTimes = sv.children[idx].restartTimes
	}
	cs.restartCount = prior
	sv.children[idx] = cs
	sv.byRef[ref] = idx

	if isRestart {
		cs.restartCount = prior + 1
		proc.SetRestartCount(cs.restartCount)
		if restarter, ok := behavior.(process.Restarter); ok {
			restarter.OnRestart(proc, prior, reason)
		}
	}

	sv.scheduler.Resume(proc, opts.Priority, scheduler.NoPreferredCore)
	return nil
}

// Receive handles Down signals from monitored children; everything
// else is ignored (a supervisor with zero children idles, §8
// scenario 1).
func (sv *Supervisor) Receive(proc *process.Process, msg process.Message) (process.Directive, error) {
	data, ok := msg.Data()
	if !ok {
		return process.Continue, nil
	}
	down, ok := data.(process.Down)
	if !ok {
		return process.Continue, nil
	}
	return sv.handleDown(proc, down)
}

func (sv *Supervisor) handleDown(proc *process.Process, down process.Down) (process.Directive, error) {
	idx, known := sv.byRef[down.Ref]
	if !known {
		return process.Continue, nil
	}
	delete(sv.byRef, down.Ref)

	if _, waiting := sv.pending[down.Pid]; waiting {
		delete(sv.pending, down.Pid)
		if len(sv.pending) == 0 {
			if err := sv.restartGroup(); err != nil {
				return process.Stop, err
			}
		}
		return process.Continue, nil
	}

	// An unexpected exit: this child actually failed (or exited on its
	// own). Apply the intensity check, then the configured strategy.
	if sv.overIntensity(idx) {
		sv.terminateAllBestEffort()
		return process.Stop, ErrShutdownLimit
	}

	cs := sv.children[idx]
	cs.removed = !shouldRestart(cs.spec.Restart, down.Reason)

	group := sv.groupFor(idx)
	sv.failedIdx = idx
	sv.pendingGroup = group
	sv.pendingReason = down.Reason

	waiting := false
	for _, i := range group {
		if i == idx {
			continue // already exited; nothing to terminate
		}
		sv.pending[sv.children[i].pid] = struct{}{}
		sv.terminateChild(i)
		waiting = true
	}
	if !waiting {
		if err := sv.restartGroup(); err != nil {
			return process.Stop, err
		}
	}
	return process.Continue, nil
}

// groupFor returns the indices a strategy terminates-and-restarts
// together, in termination order (reverse), given the failed index.
func (sv *Supervisor) groupFor(failedIdx int) []int {
	switch sv.spec.Strategy {
	case OneForAll:
		group := make([]int, len(sv.children))
		for i := range group {
			group[i] = len(sv.children) - 1 - i
		}
		return group
	case RestForOne:
		group := make([]int, 0, len(sv.children)-failedIdx)
		for i := len(sv.children) - 1; i >= failedIdx; i-- {
			group = append(group, i)
		}
		return group
	default: // OneForOne
		return []int{failedIdx}
	}
}

// terminateChild force-kills the child at idx, bounding how long its
// Terminate hook (if any) may run by its ChildSpec.ShutdownTimeout
// before the restart proceeds regardless (§4.5).
func (sv *Supervisor) terminateChild(idx int) {
	cs := sv.children[idx]
	sv.registry.ExitWithBudget(cs.pid, ErrShutdown, cs.spec.ShutdownTimeout, nil)
}

func (sv *Supervisor) terminateAllBestEffort() {
	for i := range sv.children {
		if sv.children[i] != nil && !sv.children[i].removed {
			cs := sv.children[i]
			sv.registry.ExitWithBudget(cs.pid, ErrShutdown, cs.spec.ShutdownTimeout, nil)
		}
	}
}

// restartGroup restarts the pending group in forward (ascending)
// order, honoring each child's removed flag, once every termination
// in the group has been confirmed via its Down signal.
func (sv *Supervisor) restartGroup() error {
	group := append([]int(nil), sv.pendingGroup...)
	sv.pendingGroup = nil
	reason := sv.pendingReason
	sv.pendingReason = nil

	ascending := make([]int, len(group))
	copy(ascending, group)
	for i, j := 0, len(ascending)-1; i < j; i, j = i+1, j-1 {
		ascending[i], ascending[j] = ascending[j], ascending[i]
	}

	for _, idx := range ascending {
		cs := sv.children[idx]
		if cs.removed {
			continue
		}
		if err := sv.startChild(idx, cs.spec, reason, true); err != nil {
			return fmt.Errorf("supervisor %s: restart child %s: %w", sv.spec.Name, cs.spec.ID, err)
		}
	}
	return nil
}

// shouldRestart applies a ChildSpec's restart policy to the reason a
// child exited with (§4.5).
func shouldRestart(policy RestartPolicy, reason error) bool {
	switch policy {
	case Permanent:
		return true
	case Transient:
		return reason != nil
	default: // Temporary
		return false
	}
}

// overIntensity records "now" in the supervisor's restart window and,
// if the failing child at idx carries its own MaxRestartIntensity
// override, in that child's window too; it prunes entries older than
// RestartWindow and reports whether either window's count now exceeds
// its limit (§4.5, ChildSpec.MaxRestartIntensity).
func (sv *Supervisor) overIntensity(idx int) bool {
	now := time.Now()
	cutoff := now.Add(-sv.spec.RestartWindow)
	over := false

	if sv.spec.MaxRestarts > 0 {
		kept := sv.restartTimes[:0]
		for _, t := range sv.restartTimes {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		kept = append(kept, now)
		sv.restartTimes = kept
		over = len(sv.restartTimes) > sv.spec.MaxRestarts
	}

	if cs := sv.children[idx]; cs != nil && cs.spec.MaxRestartIntensity > 0 {
		kept := cs.restartTimes[:0]
		for _, t := range cs.restartTimes {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		kept = append(kept, now)
		cs.restartTimes = kept
		over = over || len(cs.restartTimes) > cs.spec.MaxRestartIntensity
	}

	return over
}

// ChildPid returns the current Pid of the child identified by id, if
// it is running.
func (sv *Supervisor) ChildPid(id string) (process.Pid, bool) {
	for _, cs := range sv.children {
		if cs != nil && cs.spec.ID == id && !cs.removed {
			return cs.pid, true
		}
	}
	return process.Pid{}, false
}

package supervisor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ream-rt/ream/process"
	"github.com/ream-rt/ream/scheduler"
)

// idleActor never does anything; its only purpose is to exist until
// killed by the test or its supervisor.
type idleActor struct{}

func (idleActor) Receive(proc *process.Process, msg process.Message) (process.Directive, error) {
	return process.Continue, nil
}

// faultActor crashes the first time it receives "boom", otherwise
// idles. Mirrors spec.md §8 scenario 3's "Kill Y with reason boom".
type faultActor struct{}

func (faultActor) Receive(proc *process.Process, msg process.Message) (process.Directive, error) {
	if text, ok := msg.Text(); ok && text == "boom" {
		return process.Continue, errors.New("boom")
	}
	return process.Continue, nil
}

// restartAwareActor records every Terminate/OnRestart invocation it
// receives, proving both optional process.Actor lifecycle hooks
// actually fire along the crash/restart path (§4.5) instead of being
// decorative API.
type restartAwareActor struct {
	terminated *atomic.Int32
	restarted  *atomic.Int32
	lastPrior  *atomic.Uint64
}

func (a restartAwareActor) Receive(proc *process.Process, msg process.Message) (process.Directive, error) {
	if text, ok := msg.Text(); ok && text == "boom" {
		return process.Continue, errors.New("boom")
	}
	return process.Continue, nil
}

func (a restartAwareActor) Terminate(proc *process.Process, reason error) {
	a.terminated.Add(1)
}

func (a restartAwareActor) OnRestart(proc *process.Process, priorRestarts uint64, reason error) {
	a.restarted.Add(1)
	a.lastPrior.Store(priorRestarts)
}

func restartAwareSpec(id string, terminated, restarted *atomic.Int32, lastPrior *atomic.Uint64) ChildSpec {
	return ChildSpec{
		ID:      id,
		Restart: Permanent,
		New: func() (process.Actor, process.NewOptions) {
			return restartAwareActor{terminated: terminated, restarted: restarted, lastPrior: lastPrior}, process.NewOptions{Priority: process.Normal}
		},
	}
}

func newTestHarness(t *testing.T, workers int) (*scheduler.Scheduler, *process.Registry) {
	t.Helper()
	registry := process.NewRegistry(nil)
	s := scheduler.New(scheduler.Config{Workers: workers, Quantum: 5 * time.Millisecond}, registry, registry, nil)
	s.Start()
	t.Cleanup(s.Stop)
	return s, registry
}

func idleSpec(id string) ChildSpec {
	return ChildSpec{
		ID:      id,
		Restart: Permanent,
		New: func() (process.Actor, process.NewOptions) {
			return idleActor{}, process.NewOptions{Priority: process.Normal}
		},
	}
}

func faultSpec(id string) ChildSpec {
	return ChildSpec{
		ID:      id,
		Restart: Permanent,
		New: func() (process.Actor, process.NewOptions) {
			return faultActor{}, process.NewOptions{Priority: process.Normal}
		},
	}
}

func TestSupervisorWithZeroChildrenIdles(t *testing.T) {
	sched, registry := newTestHarness(t, 1)
	spec := SupervisorSpec{Name: "root", Strategy: OneForOne, MaxRestarts: 3, RestartWindow: time.Second}
	pid, err := Start(spec, sched, registry, nil)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.True(t, registry.Exists(pid))
}

func TestOneForAllRestartsAllSiblingsInOrder(t *testing.T) {
	sched, registry := newTestHarness(t, 2)
	spec := SupervisorSpec{
		Name:          "root",
		Strategy:      OneForAll,
		MaxRestarts:   5,
		RestartWindow: time.Second,
		Children:      []ChildSpec{idleSpec("x"), faultSpec("y"), idleSpec("z")},
	}
	supervisorPid, err := Start(spec, sched, registry, nil)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	sv := lookupSupervisor(t, registry, supervisorPid)
	xPidBefore, _ := sv.ChildPid("x")
	yPidBefore, _ := sv.ChildPid("y")
	zPidBefore, _ := sv.ChildPid("z")

	require.NoError(t, sched.Deliver(yPidBefore, process.TextMessage("boom")))

	require.Eventually(t, func() bool {
		x, okX := sv.ChildPid("x")
		y, okY := sv.ChildPid("y")
		z, okZ := sv.ChildPid("z")
		return okX && okY && okZ && x != xPidBefore && y != yPidBefore && z != zPidBefore
	}, time.Second, time.Millisecond)

	require.Equal(t, uint64(1), restartCountOf(sv, "x"))
	require.Equal(t, uint64(1), restartCountOf(sv, "y"))
	require.Equal(t, uint64(1), restartCountOf(sv, "z"))
}

// TestIntensityLimitEscalatesShutdownLimit reproduces spec.md §8
// scenario 4: max_restarts=3, restart_window=1s, one Permanent child
// killed 4 times within 500ms. The supervisor itself must exit with
// ErrShutdownLimit.
func TestIntensityLimitEscalatesShutdownLimit(t *testing.T) {
	sched, registry := newTestHarness(t, 1)
	spec := SupervisorSpec{
		Name:          "root",
		Strategy:      OneForOne,
		MaxRestarts:   3,
		RestartWindow: time.Second,
		Children:      []ChildSpec{faultSpec("child")},
	}
	supervisorPid, err := Start(spec, sched, registry, nil)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	sv := lookupSupervisor(t, registry, supervisorPid)

	for i := 0; i < 4 && registry.Exists(supervisorPid); i++ {
		pid, ok := sv.ChildPid("child")
		if !ok {
			break
		}
		require.NoError(t, sched.Deliver(pid, process.TextMessage("boom")))
		time.Sleep(30 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return !registry.Exists(supervisorPid)
	}, time.Second, time.Millisecond)
}

func lookupSupervisor(t *testing.T, registry *process.Registry, pid process.Pid) *Supervisor {
	t.Helper()
	proc := registry.Lookup(pid)
	require.NotNil(t, proc)
	sv, ok := proc.Behavior().(*Supervisor)
	require.True(t, ok)
	return sv
}

func restartCountOf(sv *Supervisor, id string) uint64 {
	for _, cs := range sv.children {
		if cs != nil && cs.spec.ID == id {
			return cs.restartCount
		}
	}
	return 0
}

// TestCrashedChildRunsTerminateThenOnRestart reproduces a single child
// crashing and restarting under OneForOne: the crashed instance's own
// Terminate must run (via the executor's exit path) and the freshly
// spawned instance's OnRestart must run with the prior restart count
// before it starts handling messages (§4.5).
func TestCrashedChildRunsTerminateThenOnRestart(t *testing.T) {
	sched, registry := newTestHarness(t, 1)
	var terminated, restarted atomic.Int32
	var lastPrior atomic.Uint64

	spec := SupervisorSpec{
		Name:          "root",
		Strategy:      OneForOne,
		MaxRestarts:   5,
		RestartWindow: time.Second,
		Children:      []ChildSpec{restartAwareSpec("child", &terminated, &restarted, &lastPrior)},
	}
	supervisorPid, err := Start(spec, sched, registry, nil)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	sv := lookupSupervisor(t, registry, supervisorPid)
	pid, ok := sv.ChildPid("child")
	require.True(t, ok)
	require.NoError(t, sched.Deliver(pid, process.TextMessage("boom")))

	require.Eventually(t, func() bool {
		return restarted.Load() == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, int32(1), terminated.Load())
	require.Equal(t, uint64(0), lastPrior.Load())
}

// TestForcedSiblingTerminationInvokesTerminateHook reproduces an
// OneForAll restart where one sibling never crashes on its own; its
// supervisor force-kills it via Registry.ExitWithBudget, which must
// still run its Terminate hook within its ChildSpec.ShutdownTimeout
// budget (§4.5).
func TestForcedSiblingTerminationInvokesTerminateHook(t *testing.T) {
	sched, registry := newTestHarness(t, 2)
	var terminatedX, restartedX atomic.Int32
	var lastPriorX atomic.Uint64

	xSpec := restartAwareSpec("x", &terminatedX, &restartedX, &lastPriorX)
	xSpec.ShutdownTimeout = 50 * time.Millisecond

	spec := SupervisorSpec{
		Name:          "root",
		Strategy:      OneForAll,
		MaxRestarts:   5,
		RestartWindow: time.Second,
		Children:      []ChildSpec{xSpec, faultSpec("y")},
	}
	supervisorPid, err := Start(spec, sched, registry, nil)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	sv := lookupSupervisor(t, registry, supervisorPid)
	yPid, ok := sv.ChildPid("y")
	require.True(t, ok)
	require.NoError(t, sched.Deliver(yPid, process.TextMessage("boom")))

	require.Eventually(t, func() bool {
		return terminatedX.Load() == 1 && restartedX.Load() == 1
	}, time.Second, time.Millisecond)
}

// TestSupervisionTreeReflectsLiveChildren exercises ProcessTree as a
// live query rather than a one-time startup artifact (§3).
func TestSupervisionTreeReflectsLiveChildren(t *testing.T) {
	sched, registry := newTestHarness(t, 1)
	spec := SupervisorSpec{
		Name:          "root",
		Strategy:      OneForOne,
		MaxRestarts:   3,
		RestartWindow: time.Second,
		Children:      []ChildSpec{idleSpec("x"), idleSpec("y")},
	}
	supervisorPid, err := Start(spec, sched, registry, nil)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	tree, ok := LookupTree(registry, supervisorPid)
	require.True(t, ok)
	require.False(t, tree.IsLeaf())
	require.Equal(t, supervisorPid, tree.Pid)
	require.Len(t, tree.Children, 2)
	for _, child := range tree.Children {
		require.True(t, child.IsLeaf())
	}
	require.Contains(t, tree.Pids(), supervisorPid)
}

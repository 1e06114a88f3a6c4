package supervisor

import (
	"sync"

	"go.uber.org/zap"

	"github.com/ream-rt/ream/process"
	"github.com/ream-rt/ream/scheduler"
)

// DynamicSupervisor is a supervisor whose children are not declared up
// front but added one at a time at runtime, all sharing one restart
// policy and one Factory template — completing ergonode's
// SupervisorStrategySimpleOneForOne, whose loop case was left empty
// (supervisor_ref.go.bak). Unlike a static Supervisor, children have
// no stable ID: they are addressed by Pid, and a crashed child is
// simply replaced under the same strategy rather than looked up by
// position.
type DynamicSupervisor struct {
	template Factory
	restart  RestartPolicy

	sched    *scheduler.Scheduler
	registry *process.Registry
	logger   *zap.Logger

	self process.Pid

	mu    sync.Mutex
	byPid map[process.Pid]process.MonitorRef
	byRef map[process.MonitorRef]process.Pid
}

// NewDynamicSupervisor builds a DynamicSupervisor. Every child it ever
// starts (via AddChild or a restart) is built from template and
// governed by restart.
func NewDynamicSupervisor(template Factory, restart RestartPolicy, sched *scheduler.Scheduler, registry *process.Registry, logger *zap.Logger) *DynamicSupervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamicSupervisor{
		template: template,
		restart:  restart,
		sched:    sched,
		registry: registry,
		logger:   logger.Named("dynamic_supervisor"),
		byPid:    make(map[process.Pid]process.MonitorRef),
		byRef:    make(map[process.MonitorRef]process.Pid),
	}
}

func (ds *DynamicSupervisor) Init(proc *process.Process, _ ...interface{}) error {
	ds.self = proc.Self()
	return nil
}

// AddChild starts one new instance of the template and monitors it.
// Safe to call concurrently and at any point in the supervisor's
// lifetime, which is the point of "dynamic" (§4.5 simple_one_for_one).
func (ds *DynamicSupervisor) AddChild() (process.Pid, error) {
	behavior, opts := ds.template()
	pid, err := ds.sched.Spawn(behavior, opts, opts.Priority, scheduler.NoPreferredCore)
	if err != nil {
		return process.Pid{}, err
	}
	ref := ds.registry.Monitor(ds.self, pid)
	ds.mu.Lock()
	ds.byPid[pid] = ref
	ds.byRef[ref] = pid
	ds.mu.Unlock()
	return pid, nil
}

// RemoveChild terminates one running instance and, since it was
// deliberately removed rather than failed, does not replace it.
func (ds *DynamicSupervisor) RemoveChild(pid process.Pid) {
	ds.mu.Lock()
	ref, ok := ds.byPid[pid]
	if ok {
		delete(ds.byPid, pid)
		delete(ds.byRef, ref)
	}
	ds.mu.Unlock()
	if ok {
		ds.registry.Demonitor(ds.self, ref)
	}
	ds.registry.Exit(pid, ErrShutdown, nil)
}

// Children returns the currently running instances' Pids.
func (ds *DynamicSupervisor) Children() []process.Pid {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	out := make([]process.Pid, 0, len(ds.byPid))
	for pid := range ds.byPid {
		out = append(out, pid)
	}
	return out
}

func (ds *DynamicSupervisor) Receive(proc *process.Process, msg process.Message) (process.Directive, error) {
	data, ok := msg.Data()
	if !ok {
		return process.Continue, nil
	}
	down, ok := data.(process.Down)
	if !ok {
		return process.Continue, nil
	}

	ds.mu.Lock()
	_, known := ds.byRef[down.Ref]
	if known {
		delete(ds.byRef, down.Ref)
		delete(ds.byPid, down.Pid)
	}
	ds.mu.Unlock()
	if !known {
		return process.Continue, nil
	}

	if shouldRestart(ds.restart, down.Reason) {
		if _, err := ds.AddChild(); err != nil {
			return process.Stop, err
		}
	}
	return process.Continue, nil
}

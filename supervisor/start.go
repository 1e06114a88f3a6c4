package supervisor

import (
	"go.uber.org/zap"

	"github.com/ream-rt/ream/process"
	"github.com/ream-rt/ream/scheduler"
)

// Start spawns a Supervisor for spec under sched/registry and returns
// its Pid. Nested supervisors need no special handling: a ChildSpec
// whose Factory constructs another Supervisor is started exactly like
// any other child, since Supervisor is itself just a process.Actor
// (§4.5, §6 "start_supervisor(spec) -> Pid").
func Start(spec SupervisorSpec, sched *scheduler.Scheduler, registry *process.Registry, logger *zap.Logger) (process.Pid, error) {
	sv := NewSupervisor(spec, sched, registry, logger)
	return sched.Spawn(sv, process.NewOptions{Priority: process.Normal, Name: spec.Name}, process.Normal, scheduler.NoPreferredCore)
}

// ChildSpecForSupervisor builds a ChildSpec whose Factory starts a
// nested Supervisor, so a parent SupervisorSpec can declare a subtree
// inline.
func ChildSpecForSupervisor(id string, nested SupervisorSpec, sched *scheduler.Scheduler, registry *process.Registry, logger *zap.Logger, restart RestartPolicy) ChildSpec {
	return ChildSpec{
		ID:      id,
		Restart: restart,
		Type:    SupervisorChild,
		New: func() (process.Actor, process.NewOptions) {
			return NewSupervisor(nested, sched, registry, logger), process.NewOptions{Priority: process.Normal, Name: nested.Name}
		},
	}
}

// Package ream is the public API facade for the runtime (§6): it wires
// together process, scheduler, supervisor, realtime, resource, and
// config into the single embeddable surface user code imports.
// Grounded on ergonode's top-level Node type (the one place that
// assembled registrar + process + supervisor in the teacher repo).
package ream

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ream-rt/ream/config"
	"github.com/ream-rt/ream/process"
	"github.com/ream-rt/ream/realtime"
	"github.com/ream-rt/ream/resource"
	"github.com/ream-rt/ream/scheduler"
	"github.com/ream-rt/ream/supervisor"
)

// Runtime is the embeddable REAM instance: one registry, one
// scheduler, one resource manager, and an optional real-time overlay
// (§6 "the runtime is embedded, not standalone"). The registry,
// scheduler and supervisors share one logger; the resource manager and
// the real-time overlay do not log.
type Runtime struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *process.Registry
	scheduler *scheduler.Scheduler
	resources *resource.Manager
	loadbal   *resource.LoadBalancer
	realtime  *realtime.Scheduler
}

// New constructs a Runtime from cfg but does not start it.
func New(cfg config.Config) (*Runtime, error) {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("ream: build logger: %w", err)
	}

	registry := process.NewRegistry(logger)
	sched := scheduler.New(scheduler.Config{
		Workers:           cfg.Scheduler.Workers,
		Quantum:           cfg.Scheduler.Quantum,
		DeprioritizeAfter: cfg.Scheduler.DeprioritizeAfter,
		PinWorkers:        cfg.Scheduler.PinWorkers,
	}, registry, registry, logger)

	res := resource.NewManager(resource.Quota{
		MemoryBytes:    cfg.Resource.MemoryBytes,
		CPUPerPeriod:   cfg.Resource.CPUPerPeriod,
		CPUPeriod:      cfg.Resource.CPUPeriod,
		MaxHandles:     cfg.Resource.MaxHandles,
		BandwidthBytes: cfg.Resource.BandwidthBytes,
		SyscallsPerSec: cfg.Resource.SyscallsPerSec,
	}, cfg.Resource.Enforce)

	return &Runtime{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		scheduler: sched,
		resources: res,
		loadbal:   resource.NewLoadBalancer(),
	}, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

// EnableRealtime installs the EDF/RM/Hybrid overlay (§4.6). Processes
// of Priority Realtime are otherwise scheduled fairly like any other
// process; adding a task for one with Realtime().Add is what subjects
// it to the overlay's EDF/RM ordering and admission control.
func (r *Runtime) EnableRealtime(discipline realtime.Discipline, onMiss realtime.MissedDeadlineHook) {
	r.realtime = realtime.New(discipline, onMiss)
}

// Start launches the scheduler's worker pool and preemption timer.
func (r *Runtime) Start() {
	r.scheduler.Start()
	r.logger.Info("ream runtime started")
}

// Stop halts the scheduler and flushes the logger.
func (r *Runtime) Stop() {
	r.scheduler.Stop()
	r.logger.Info("ream runtime stopped")
	_ = r.logger.Sync()
}

// Spawn starts a new process running behavior at priority and returns
// its Pid (§6 "spawn(behavior, priority) -> Pid").
func (r *Runtime) Spawn(behavior process.Actor, priority process.Priority, opts process.NewOptions) (process.Pid, error) {
	opts.Priority = priority
	return r.scheduler.Spawn(behavior, opts, priority, scheduler.NoPreferredCore)
}

// SpawnLink spawns behavior and links it to from in one atomic step
// relative to the caller (§6 "spawn_link").
func (r *Runtime) SpawnLink(from process.Pid, behavior process.Actor, priority process.Priority, opts process.NewOptions) (process.Pid, error) {
	pid, err := r.Spawn(behavior, priority, opts)
	if err != nil {
		return process.Pid{}, err
	}
	if err := r.registry.Link(from, pid); err != nil {
		return process.Pid{}, err
	}
	return pid, nil
}

// SpawnMonitored spawns behavior and has by monitor it in one step
// (§6 "spawn_monitored").
func (r *Runtime) SpawnMonitored(by process.Pid, behavior process.Actor, priority process.Priority, opts process.NewOptions) (process.Pid, process.MonitorRef, error) {
	pid, err := r.Spawn(behavior, priority, opts)
	if err != nil {
		return process.Pid{}, process.MonitorRef{}, err
	}
	ref := r.registry.Monitor(by, pid)
	return pid, ref, nil
}

// Send delivers msg to pid, non-blocking, fire-and-forget (§6 "send").
func (r *Runtime) Send(pid process.Pid, msg process.Message) error {
	return r.scheduler.Deliver(pid, msg)
}

// Link establishes a symmetric link between a and b (§6 "link(pid)").
func (r *Runtime) Link(a, b process.Pid) error {
	return r.registry.Link(a, b)
}

// Unlink removes a link between a and b.
func (r *Runtime) Unlink(a, b process.Pid) {
	r.registry.Unlink(a, b)
}

// Monitor makes by observe target's exit (§6 "monitor(pid) ->
// MonitorRef").
func (r *Runtime) Monitor(by, target process.Pid) process.MonitorRef {
	return r.registry.Monitor(by, target)
}

// Demonitor cancels a monitor previously established with Monitor.
func (r *Runtime) Demonitor(by process.Pid, ref process.MonitorRef) {
	r.registry.Demonitor(by, ref)
}

// Exit terminates pid with reason, cascading to its links and monitors
// (§6 "exit(pid, reason)").
func (r *Runtime) Exit(pid process.Pid, reason error) {
	r.registry.Exit(pid, reason, nil)
}

// StartSupervisor recursively starts spec's tree and returns the root
// supervisor's Pid (§6 "start_supervisor(spec) -> Pid", §4.5).
func (r *Runtime) StartSupervisor(spec supervisor.SupervisorSpec) (process.Pid, error) {
	return supervisor.Start(spec, r.scheduler, r.registry, r.logger)
}

// SupervisionTree snapshots the live subtree rooted at a Pid previously
// returned by StartSupervisor, or returns false if root is no longer a
// running supervisor (§3 ProcessTree).
func (r *Runtime) SupervisionTree(root process.Pid) (supervisor.ProcessTree, bool) {
	return supervisor.LookupTree(r.registry, root)
}

// Resources exposes the per-process quota/accounting manager (§4.7).
func (r *Runtime) Resources() *resource.Manager { return r.resources }

// LoadBalancer exposes the advisory cross-core migration recommender (§4.7).
func (r *Runtime) LoadBalancer() *resource.LoadBalancer { return r.loadbal }

// Realtime exposes the EDF/RM/Hybrid overlay, or nil if EnableRealtime
// was never called.
func (r *Runtime) Realtime() *realtime.Scheduler { return r.realtime }

// Stats returns the scheduler's aggregate work-stealing counters (§4.3).
func (r *Runtime) Stats() scheduler.AggregateStats { return r.scheduler.Stats() }

// Receive performs a blocking selective receive on behalf of a caller
// holding proc directly (e.g. a synchronous top-level goroutine rather
// than an Actor running under the executor); most user code instead
// receives via the Actor.Receive callback dispatched by the scheduler.
func (r *Runtime) Receive(proc *process.Process, pattern process.Pattern, timeout time.Duration) (process.Message, bool, error) {
	return proc.Receive(pattern, timeout)
}

// Lookup returns the live Process record for pid, or nil if it has
// exited or never existed.
func (r *Runtime) Lookup(pid process.Pid) *process.Process {
	return r.registry.Lookup(pid)
}

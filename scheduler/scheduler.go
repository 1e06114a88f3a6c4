package scheduler

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ream-rt/ream/internal/affinity"
	"github.com/ream-rt/ream/process"
)

// Config configures a Scheduler (§4.3, §9 Open Questions).
type Config struct {
	// Workers is the fixed pool size. Zero means affinity.NumCPU().
	Workers int
	// Quantum is the maximum contiguous run time granted per
	// executor invocation (§4.2).
	Quantum time.Duration
	// DeprioritizeAfter is the reschedule count at which a
	// repeatedly-preempted task's effective priority is lowered
	// (§9 Open Question, default 10).
	DeprioritizeAfter uint64
	// PinWorkers requests OS-thread affinity pinning per worker
	// (internal/affinity), best-effort and a no-op off Linux.
	PinWorkers bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = affinity.NumCPU()
	}
	if c.Quantum <= 0 {
		c.Quantum = 5 * time.Millisecond
	}
	if c.DeprioritizeAfter == 0 {
		c.DeprioritizeAfter = 10
	}
	return c
}

// ExitNotifier is consulted by the worker loop whenever a process
// outcome is Crashed or Exited, so its supervisor (if any) can be
// notified via the normal link/monitor cascade (§4.3 step 3, §4.5).
type ExitNotifier interface {
	Exit(pid process.Pid, reason error, seen map[process.Pid]struct{})
}

// Scheduler is the fixed pool of workers, the global injector, and the
// stealing policy described in §4.3.
type Scheduler struct {
	cfg      Config
	logger   *zap.Logger
	registry *process.Registry
	notifier ExitNotifier
	executor *process.Executor

	workers  []*Worker
	injector *Injector
	timer    *PreemptionTimer

	parkedMu sync.Mutex
	parked   map[process.Pid]ScheduledTask

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs a Scheduler bound to registry. The scheduler is not
// started until Start is called.
func New(cfg Config, registry *process.Registry, notifier ExitNotifier, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
		registry: registry,
		notifier: notifier,
		executor: process.NewExecutor(),
		injector: NewInjector(),
		parked:   make(map[process.Pid]ScheduledTask),
	}
	s.workers = make([]*Worker, cfg.Workers)
	for i := range s.workers {
		s.workers[i] = newWorker(i, s)
	}
	s.timer = NewPreemptionTimer(cfg.Quantum, s.workers)
	return s
}

// Start launches the worker pool and the preemption timer. Safe to
// call once.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.ctx, s.cancel = ctx, cancel
		group, gctx := errgroup.WithContext(ctx)
		s.group = group
		for _, w := range s.workers {
			w := w
			group.Go(func() error {
				w.run(gctx)
				return nil
			})
		}
		s.timer.Start()
		s.logger.Info("scheduler started", zap.Int("workers", len(s.workers)))
	})
}

// Stop cancels every worker and the preemption timer, and waits for
// them to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.group != nil {
			_ = s.group.Wait()
		}
		s.timer.Stop()
		s.logger.Info("scheduler stopped")
	})
}

// Spawn registers a new process with the scheduler installed as its
// Sender, enqueues its initial task per opts' priority and preferred
// core, and returns the new Pid.
func (s *Scheduler) Spawn(behavior process.Actor, opts process.NewOptions, priority process.Priority, preferredCore int) (process.Pid, error) {
	proc, err := s.SpawnSuspended(behavior, opts)
	if err != nil {
		return process.Pid{}, err
	}
	s.Resume(proc, priority, preferredCore)
	return proc.Self(), nil
}

// SpawnSuspended registers behavior with the scheduler installed as its
// Sender but does not enqueue its initial task, letting a caller (e.g.
// a supervisor restarting a process.Restarter) run setup against the
// live *process.Process before the new process is first scheduled.
// Resume must be called to actually start it running.
func (s *Scheduler) SpawnSuspended(behavior process.Actor, opts process.NewOptions) (*process.Process, error) {
	return s.registry.SpawnWithSender(behavior, opts, s)
}

// Resume enqueues proc's initial task at priority, onto preferredCore's
// local queue if it has affinity, otherwise the global injector.
func (s *Scheduler) Resume(proc *process.Process, priority process.Priority, preferredCore int) {
	task := NewTask(proc.Self(), priority, time.Now())
	task.PreferredCore = preferredCore
	s.Schedule(task)
}

// Schedule places a freshly-spawned (or externally constructed) task
// onto the pool: directly onto its preferred worker's local queue if
// it has core affinity, otherwise onto the global injector (§4.3
// Affinity).
func (s *Scheduler) Schedule(task ScheduledTask) {
	if task.PreferredCore >= 0 && task.PreferredCore < len(s.workers) {
		s.workers[task.PreferredCore].local.PushOwner(task)
		return
	}
	s.injector.Push(task)
}

// Deliver implements process.Sender: routes msg to pid, and if pid was
// parked (Waiting on an empty mailbox), resurrects its ScheduledTask
// so a worker picks it up again (§4.3 "on first push, the sender
// re-schedules the task").
func (s *Scheduler) Deliver(pid process.Pid, msg process.Message) error {
	if err := s.registry.Deliver(pid, msg); err != nil {
		return err
	}
	s.wake(pid)
	return nil
}

// Exists implements process.Sender.
func (s *Scheduler) Exists(pid process.Pid) bool {
	return s.registry.Exists(pid)
}

// NotifyExit implements process.Sender.
func (s *Scheduler) NotifyExit(pid process.Pid, reason error) {
	s.notifier.Exit(pid, reason, nil)
}

func (s *Scheduler) wake(pid process.Pid) {
	s.parkedMu.Lock()
	task, ok := s.parked[pid]
	if ok {
		delete(s.parked, pid)
	}
	s.parkedMu.Unlock()
	if !ok {
		return
	}
	task.Created = time.Now()
	s.Schedule(task)
}

// park records task as parked unless proc's mailbox has already gained
// a message since the executor's last empty Scan. Deliver pushes to
// the mailbox and then calls wake under parkedMu; if that push+wake
// pair runs entirely before this call (wake finding nothing parked
// yet), storing the task here unconditionally would wedge it forever.
// Rechecking the mailbox under the same lock that wake uses closes
// that window: whichever of wake/park loses the race still observes
// the other's effect (§8 liveness invariant).
func (s *Scheduler) park(task ScheduledTask, proc *process.Process) {
	s.parkedMu.Lock()
	if proc.Mailbox().Len() > 0 {
		s.parkedMu.Unlock()
		task.Created = time.Now()
		s.Schedule(task)
		return
	}
	s.parked[task.Pid] = task
	s.parkedMu.Unlock()
}

// Stats aggregates per-worker counters (§4.3).
func (s *Scheduler) Stats() AggregateStats {
	agg := AggregateStats{PerWorker: make([]WorkerStats, len(s.workers))}
	for i, w := range s.workers {
		ws := w.counters.snapshot()
		agg.PerWorker[i] = ws
		agg.TotalTasksExecuted += ws.TasksExecuted
		agg.TotalStealAttempts += ws.StealAttempts
		agg.TotalSuccessfulSteals += ws.SuccessfulSteals
	}
	return agg
}

// WorkerCount returns the number of workers in the pool.
func (s *Scheduler) WorkerCount() int { return len(s.workers) }

// Worker owns one local queue, one preemption flag, and runs on one
// dedicated goroutine (standing in for one OS thread) for the
// lifetime of the scheduler (§4.3).
type Worker struct {
	id    int
	s     *Scheduler
	local *LocalQueue
	flag  preemptFlag

	counters workerCounters

	mu       sync.Mutex
	deadline time.Time
	running  bool

	rng *rand.Rand
}

func newWorker(id int, s *Scheduler) *Worker {
	return &Worker{
		id:    id,
		s:     s,
		local: NewLocalQueue(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
	}
}

// Deadline reports the current quantum deadline and whether a task is
// running, consulted by PreemptionTimer.
func (w *Worker) Deadline() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deadline, w.running
}

func (w *Worker) setRunning(deadline time.Time) {
	w.mu.Lock()
	w.deadline, w.running = deadline, true
	w.mu.Unlock()
}

func (w *Worker) clearRunning() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// Stats returns this worker's counters.
func (w *Worker) Stats() WorkerStats { return w.counters.snapshot() }

func (w *Worker) run(ctx context.Context) {
	if w.s.cfg.PinWorkers {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := affinity.Pin(w.id); err != nil {
			w.s.logger.Warn("affinity pin failed", zap.Int("worker", w.id), zap.Error(err))
		}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 0 // never gives up; reset once a task is acquired

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok := w.acquire()
		if !ok {
			idleFor := b.NextBackOff()
			w.counters.idleNanos.Add(uint64(idleFor))
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleFor):
			}
			continue
		}
		b.Reset()
		w.execute(task)
	}
}

// acquire implements the worker loop's task-acquisition order: local
// queue, then randomized steal from peers, then the global injector
// (§4.3 step 1).
func (w *Worker) acquire() (ScheduledTask, bool) {
	if t, ok := w.local.PopOwner(); ok {
		return t, true
	}
	if t, ok := w.steal(); ok {
		return t, true
	}
	if t, ok := w.s.injector.Pop(); ok {
		return t, true
	}
	return ScheduledTask{}, false
}

func (w *Worker) steal() (ScheduledTask, bool) {
	peers := w.s.workers
	if len(peers) <= 1 {
		return ScheduledTask{}, false
	}
	order := w.rng.Perm(len(peers))
	for _, idx := range order {
		peer := peers[idx]
		if peer.id == w.id {
			continue
		}
		w.counters.stealAttempts.Add(1)
		if t, ok := peer.local.Steal(); ok {
			w.counters.successfulSteals.Add(1)
			return t, true
		}
	}
	return ScheduledTask{}, false
}

func (w *Worker) execute(task ScheduledTask) {
	proc := w.s.registry.Lookup(task.Pid)
	if proc == nil {
		return // exited before this worker got to it
	}

	deadline := time.Now().Add(w.s.cfg.Quantum)
	w.setRunning(deadline)
	result := w.s.executor.RunQuantum(proc, w.s.cfg.Quantum, w.flag.CheckAndClear)
	w.clearRunning()
	w.counters.tasksExecuted.Add(1)

	w.dispatch(task, proc, result)
}

func (w *Worker) dispatch(task ScheduledTask, proc *process.Process, result process.Result) {
	switch result.Outcome {
	case process.Yielded:
		if proc.Mailbox().Len() > 0 {
			w.reschedule(task)
		} else {
			w.s.park(task, proc)
		}
	case process.Blocked:
		w.s.park(task, proc)
	case process.Preempted:
		task.RescheduleCount++
		if task.RescheduleCount >= w.s.cfg.DeprioritizeAfter && task.Priority > process.Low {
			task.Priority--
		}
		w.reschedule(task)
	case process.Crashed, process.Exited:
		w.s.notifier.Exit(task.Pid, result.Reason, nil)
	}
}

func (w *Worker) reschedule(task ScheduledTask) {
	if task.PreferredCore >= 0 && task.PreferredCore < len(w.s.workers) {
		w.s.workers[task.PreferredCore].local.PushOwner(task)
		return
	}
	w.local.PushOwner(task)
}

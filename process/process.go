package process

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Priority is one of four scheduling classes a process can run at
// (§3). Realtime processes are additionally eligible for the overlay
// scheduler in package realtime.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Realtime
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Realtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// Status is a process's lifecycle state (§3).
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusWaiting
	StatusExiting
	StatusExited
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusWaiting:
		return "waiting"
	case StatusExiting:
		return "exiting"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// ErrNoProc is returned/delivered when an operation targets a Pid that
// does not exist, or that exited before the operation reached it
// (§8 "monitors registered after exit still fire Down ... with reason
// NoProc").
var ErrNoProc = errors.New("process: no such process")

// Sender is the minimal capability Process needs from its owning
// runtime: routing a message to a Pid, and looking one up. The
// concrete implementation (process.Registry) also drives spawn and
// supervision, but Process itself only ever needs to send and query.
type Sender interface {
	Deliver(to Pid, msg Message) error
	Exists(pid Pid) bool
	NotifyExit(pid Pid, reason error)
}

// Process is the state-machine record wrapping one user Actor, its
// mailbox, and its links/monitors (§3).
type Process struct {
	pid         Pid
	priority    Priority
	name        string
	groupLeader Pid
	mailbox     *Mailbox
	behavior    Actor
	sender      Sender

	mu           sync.Mutex
	status       Status
	exitReason   error
	trapExit     bool
	links        map[Pid]struct{}
	monitoring   map[MonitorRef]Pid // refs this process created, target Pid
	monitoredBy  map[MonitorRef]Pid // refs others created, targeting this process
	restartCount uint64
	cpuTime      time.Duration
	memAllocated uint64

	preemptCheck func() bool // installed by the executor/worker for this run
	initialized  bool
	terminated   bool
}

// NewOptions configures a freshly constructed Process.
type NewOptions struct {
	Priority    Priority
	Name        string
	GroupLeader Pid
	Mailbox     MailboxOptions
}

// New constructs a Process in StatusReady. It does not register the
// process anywhere; callers (normally Registry.Spawn) own that.
func New(pid Pid, behavior Actor, sender Sender, opts NewOptions) *Process {
	return &Process{
		pid:         pid,
		priority:    opts.Priority,
		name:        opts.Name,
		groupLeader: opts.GroupLeader,
		mailbox:     NewMailbox(opts.Mailbox),
		behavior:    behavior,
		sender:      sender,
		status:      StatusReady,
		links:       make(map[Pid]struct{}),
		monitoring:  make(map[MonitorRef]Pid),
		monitoredBy: make(map[MonitorRef]Pid),
	}
}

// Self returns the process's own Pid.
func (p *Process) Self() Pid { return p.pid }

// Name returns the process's registered name, or "" if anonymous.
func (p *Process) Name() string { return p.name }

// Priority returns the process's scheduling priority.
func (p *Process) Priority() Priority { return p.priority }

// Mailbox exposes the owned mailbox, e.g. for the executor to scan.
func (p *Process) Mailbox() *Mailbox { return p.mailbox }

// Behavior returns the user Actor this process runs, e.g. so a
// supervisor holding only a Pid can recover its own bookkeeping state.
func (p *Process) Behavior() Actor { return p.behavior }

// Status returns the current lifecycle status.
func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// setStatus transitions status under lock. Callers are the executor
// (Ready<->Running<->Waiting<->Exiting/Exited transitions, §3) and
// Process itself for direct blocking Receive calls.
func (p *Process) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// RestartCount returns how many times a supervisor has restarted this
// logical child (carried across Process instances by the supervisor;
// exposed here for a freshly-restarted instance to report its own
// count via Restarter.OnRestart).
func (p *Process) RestartCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartCount
}

// SetRestartCount is called by a supervisor when handing a restarted
// instance its lineage count.
func (p *Process) SetRestartCount(n uint64) {
	p.mu.Lock()
	p.restartCount = n
	p.mu.Unlock()
}

// AccountCPU adds d to the process's cumulative CPU time (used by the
// executor after each quantum, and read by package resource).
func (p *Process) AccountCPU(d time.Duration) {
	p.mu.Lock()
	p.cpuTime += d
	p.mu.Unlock()
}

// CPUTime returns cumulative CPU time consumed.
func (p *Process) CPUTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cpuTime
}

// SetShouldYield installs the cooperative preemption check the
// executor consults between user-observable steps (§4.2). Called by
// the worker immediately before running a quantum.
func (p *Process) SetShouldYield(fn func() bool) {
	p.mu.Lock()
	p.preemptCheck = fn
	p.mu.Unlock()
}

// ShouldYield is the lightweight check user code (or BytecodeActor)
// calls between steps. A nil check (no executor currently driving
// this process) never yields.
func (p *Process) ShouldYield() bool {
	p.mu.Lock()
	fn := p.preemptCheck
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	return fn()
}

// TrapExit toggles whether this process converts a linked peer's
// abnormal exit into an Exit message instead of dying itself (§4).
func (p *Process) TrapExit(trap bool) {
	p.mu.Lock()
	p.trapExit = trap
	p.mu.Unlock()
}

func (p *Process) trapsExit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trapExit
}

// Send delivers msg to the process identified by to, routed through
// the owning runtime. Never blocks (§6).
func (p *Process) Send(to Pid, msg Message) error {
	return p.sender.Deliver(to, msg)
}

// Deliver is the inbound half: push msg onto this process's own
// mailbox. Called by the runtime's router, not by user code directly.
func (p *Process) Deliver(msg Message) error {
	return p.mailbox.Push(msg)
}

// Receive performs a blocking selective receive: scan for a message
// matching pattern, waiting up to timeout for one to arrive if none
// match yet (§4.1 algorithm). timeout<=0 returns immediately. This is
// the primitive synchronous call sites like Call use directly; the
// executor's per-quantum dispatch loop instead uses a non-blocking
// Scan so it can yield control back to the scheduler on an empty
// mailbox rather than blocking the worker goroutine.
func (p *Process) Receive(pattern Pattern, timeout time.Duration) (Message, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, ok, err := p.mailbox.Scan(pattern)
		if err != nil {
			return Message{}, false, err
		}
		if ok {
			return msg, true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Message{}, false, nil
		}
		p.setStatus(StatusWaiting)
		woke := p.mailbox.waitPush(remaining)
		p.setStatus(StatusRunning)
		if !woke {
			return Message{}, false, nil
		}
	}
}

// Link records this process's side of a link with peer; the peer's
// side is not touched (Registry.Link records both). Once both sides
// are linked, if either exits abnormally the other receives an Exit
// signal (converted to a message if trapping, otherwise fatal) (§3
// Link, §4.2).
func (p *Process) Link(peer Pid) error {
	if !p.sender.Exists(peer) {
		return ErrNoProc
	}
	p.mu.Lock()
	p.links[peer] = struct{}{}
	p.mu.Unlock()
	return nil
}

// Unlink removes the link with peer, idempotently (§8 round-trip law).
func (p *Process) Unlink(peer Pid) {
	p.mu.Lock()
	delete(p.links, peer)
	p.mu.Unlock()
}

// Linked reports the current link set (for supervisors/tests).
func (p *Process) Linked() []Pid {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Pid, 0, len(p.links))
	for pid := range p.links {
		out = append(out, pid)
	}
	return out
}

// addMonitoring records that this process created ref to observe
// target. Called by the registry after wiring the reverse index on
// target.
func (p *Process) addMonitoring(ref MonitorRef, target Pid) {
	p.mu.Lock()
	p.monitoring[ref] = target
	p.mu.Unlock()
}

// addMonitoredBy records that ref (created elsewhere) observes this
// process.
func (p *Process) addMonitoredBy(ref MonitorRef, by Pid) {
	p.mu.Lock()
	p.monitoredBy[ref] = by
	p.mu.Unlock()
}

// removeMonitoring drops a ref this process created.
func (p *Process) removeMonitoring(ref MonitorRef) (Pid, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.monitoring[ref]
	delete(p.monitoring, ref)
	return target, ok
}

// removeMonitoredBy drops a reverse-index entry.
func (p *Process) removeMonitoredBy(ref MonitorRef) {
	p.mu.Lock()
	delete(p.monitoredBy, ref)
	p.mu.Unlock()
}

// monitoredByRefs snapshots the reverse index for exit notification.
func (p *Process) monitoredByRefs() map[MonitorRef]Pid {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[MonitorRef]Pid, len(p.monitoredBy))
	for ref, by := range p.monitoredBy {
		out[ref] = by
	}
	return out
}

// markExiting/markExited drive the terminal lifecycle transitions.
func (p *Process) markExiting(reason error) {
	p.mu.Lock()
	p.status = StatusExiting
	p.exitReason = reason
	p.mu.Unlock()
}

func (p *Process) markExited(reason error) {
	p.mu.Lock()
	p.status = StatusExited
	p.exitReason = reason
	p.mu.Unlock()
}

// ExitReason returns the reason recorded at exit, or nil if still
// alive or exited normally.
func (p *Process) ExitReason() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitReason
}

// runTerminate invokes the actor's Terminator hook exactly once,
// whichever exit path reaches this process first: the executor
// (voluntary Stop, crash, or mailbox fault) or a forced kill via
// Registry.Exit. budget<=0 runs Terminate inline with no deadline;
// budget>0 bounds how long the caller waits for it to return before
// proceeding regardless (§4.5 ChildSpec.ShutdownTimeout) — a Terminate
// that outlives its budget keeps running in its own goroutine but no
// longer blocks the exit.
func (p *Process) runTerminate(reason error, budget time.Duration) {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true
	p.mu.Unlock()

	term, ok := p.behavior.(Terminator)
	if !ok {
		return
	}
	if budget <= 0 {
		invokeTerminate(p, term, reason)
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		invokeTerminate(p, term, reason)
	}()
	select {
	case <-done:
	case <-time.After(budget):
	}
}

func invokeTerminate(p *Process, term Terminator, reason error) {
	defer func() { recover() }()
	term.Terminate(p, reason)
}

// Call sends a request and blocks for a matching reply within
// timeout, in the fashion of a synchronous RPC built atop async
// send+receive (ergonode's gen_call pattern, generalized off the
// dropped cross-node layer onto a plain correlation id carried in the
// message payload).
func (p *Process) Call(to Pid, request interface{}, timeout time.Duration) (interface{}, error) {
	corr := NewMonitorRef() // any unique ticket serves as a correlation id
	if err := p.Send(to, DataMessage(callEnvelope{From: p.pid, Corr: corr, Body: request})); err != nil {
		return nil, err
	}
	pattern := Custom(func(m Message) bool {
		data, ok := m.Data()
		if !ok {
			return false
		}
		reply, ok := data.(replyEnvelope)
		return ok && reply.Corr == corr
	})
	msg, ok, err := p.Receive(pattern, timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("process: call to %s timed out", to)
	}
	data, _ := msg.Data()
	reply := data.(replyEnvelope)
	if reply.Err != "" {
		return nil, errors.New(reply.Err)
	}
	return reply.Body, nil
}

// Reply answers a Call correlation envelope received via request. Actor
// code extracts the envelope from the dispatched Message and calls
// Reply to complete the round trip.
func (p *Process) Reply(request callEnvelope, body interface{}, err error) error {
	env := replyEnvelope{Corr: request.Corr, Body: body}
	if err != nil {
		env.Err = err.Error()
	}
	return p.Send(request.From, DataMessage(env))
}

// CallEnvelope returns (env, true) if msg carries a Call request,
// letting a behavior recognize and answer it.
func CallEnvelope(msg Message) (callEnvelope, bool) {
	data, ok := msg.Data()
	if !ok {
		return callEnvelope{}, false
	}
	env, ok := data.(callEnvelope)
	return env, ok
}

type callEnvelope struct {
	From Pid
	Corr MonitorRef
	Body interface{}
}

type replyEnvelope struct {
	Corr MonitorRef
	Body interface{}
	Err  string
}

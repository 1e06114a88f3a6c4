package process

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dchest/siphash"
	"go.uber.org/zap"
)

// numShards is the number of siphash-routed registry shards (§5:
// "Process registry: read-mostly map ... writes on spawn/exit"). 16
// keeps per-shard contention low without the memory overhead of one
// shard per core on small runtimes.
const numShards = 16

// shardKey is a fixed siphash key; the registry does not need
// adversarial-input resistance, only a cheap, well-distributed hash of
// Pid bytes, but siphash is what the corpus uses for this (see
// SnellerInc-sneller's plan/input.go) so we reuse it rather than
// hand-rolling fnv.
var shardKey0, shardKey1 uint64 = 0x5ea17e6d00000001, 0x5ea17e6d00000002

type shard struct {
	mu        sync.RWMutex
	processes map[Pid]*Process
}

// ErrNameTaken is returned by Spawn/Register when a name is already
// registered to a different process.
var ErrNameTaken = errors.New("process: name is taken")

// ErrAlreadyRegistered is the InvariantViolation (§7) raised if a Pid
// is ever registered twice — it should be unreachable given Pid is
// minted fresh per spawn, but is checked defensively at the boundary
// where the invariant actually matters.
var ErrAlreadyRegistered = errors.New("process: invariant violation: pid registered twice")

// Registry is the runtime-internal Pid -> Process map plus the name
// table, link/monitor cascade logic, and message routing (§3, §4,
// §5). It is a process-wide singleton in a running Runtime (§9).
type Registry struct {
	logger *zap.Logger

	shards [numShards]*shard

	namesMu sync.RWMutex
	names   map[string]Pid
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger: logger.Named("registry"),
		names:  make(map[string]Pid),
	}
	for i := range r.shards {
		r.shards[i] = &shard{processes: make(map[Pid]*Process)}
	}
	return r
}

func (r *Registry) shardFor(pid Pid) *shard {
	h := siphash.Hash(shardKey0, shardKey1, pid.id[:])
	return r.shards[h%uint64(numShards)]
}

// Spawn creates, registers, and returns a new Process running
// behavior, using the registry itself as the process's Sender. name
// may be empty for an anonymous process.
func (r *Registry) Spawn(behavior Actor, opts NewOptions) (*Process, error) {
	return r.SpawnWithSender(behavior, opts, r)
}

// SpawnWithSender is like Spawn but installs sender as the Process's
// Sender instead of the registry. A Scheduler passes itself here so
// that delivering to a parked process re-schedules its task (§4.3).
func (r *Registry) SpawnWithSender(behavior Actor, opts NewOptions, sender Sender) (*Process, error) {
	pid := NewPid()
	proc := New(pid, behavior, sender, opts)

	if opts.Name != "" {
		r.namesMu.Lock()
		if _, exists := r.names[opts.Name]; exists {
			r.namesMu.Unlock()
			return nil, ErrNameTaken
		}
		r.names[opts.Name] = pid
		r.namesMu.Unlock()
	}

	s := r.shardFor(pid)
	s.mu.Lock()
	if _, exists := s.processes[pid]; exists {
		s.mu.Unlock()
		return nil, ErrAlreadyRegistered
	}
	s.processes[pid] = proc
	s.mu.Unlock()

	r.logger.Debug("spawned", zap.Stringer("pid", pid), zap.String("name", opts.Name))
	return proc, nil
}

// Lookup returns the Process for pid, or nil if unknown.
func (r *Registry) Lookup(pid Pid) *Process {
	s := r.shardFor(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[pid]
}

// LookupName resolves a registered name to a Pid.
func (r *Registry) LookupName(name string) (Pid, bool) {
	r.namesMu.RLock()
	defer r.namesMu.RUnlock()
	pid, ok := r.names[name]
	return pid, ok
}

// Exists reports whether pid is currently registered (alive).
func (r *Registry) Exists(pid Pid) bool {
	return r.Lookup(pid) != nil
}

// Deliver implements Sender: routes msg to the process identified by
// pid. Silently dropped if the target has already exited, matching
// Erlang "send to dead pid is a no-op" semantics; callers needing
// failure feedback use Monitor instead (§6).
func (r *Registry) Deliver(pid Pid, msg Message) error {
	proc := r.Lookup(pid)
	if proc == nil {
		return nil
	}
	return proc.Deliver(msg)
}

// DeliverName routes msg to whichever Pid is currently registered
// under name.
func (r *Registry) DeliverName(name string, msg Message) error {
	pid, ok := r.LookupName(name)
	if !ok {
		return ErrNoProc
	}
	return r.Deliver(pid, msg)
}

// Link establishes a bidirectional link between a and b (§3 Link,
// §8 "both endpoints agree").
func (r *Registry) Link(a, b Pid) error {
	pa, pb := r.Lookup(a), r.Lookup(b)
	if pa == nil || pb == nil {
		return ErrNoProc
	}
	if err := pa.Link(b); err != nil {
		return err
	}
	return pb.Link(a)
}

// Unlink idempotently removes the link between a and b (§8 round-trip
// law).
func (r *Registry) Unlink(a, b Pid) {
	if pa := r.Lookup(a); pa != nil {
		pa.Unlink(b)
	}
	if pb := r.Lookup(b); pb != nil {
		pb.Unlink(a)
	}
}

// Monitor creates a one-directional monitor: by observes target. If
// target has already exited, Down fires synchronously with
// ErrNoProc (§8 boundary case).
func (r *Registry) Monitor(by, target Pid) MonitorRef {
	ref := NewMonitorRef()
	target_ := r.Lookup(target)
	byProc := r.Lookup(by)
	if byProc != nil {
		byProc.addMonitoring(ref, target)
	}
	if target_ == nil {
		if byProc != nil {
			r.deliverDown(byProc, ref, target, ErrNoProc)
		}
		return ref
	}
	target_.addMonitoredBy(ref, by)
	return ref
}

// Demonitor removes a monitor without side effects, idempotently.
func (r *Registry) Demonitor(by Pid, ref MonitorRef) {
	byProc := r.Lookup(by)
	if byProc == nil {
		return
	}
	target, ok := byProc.removeMonitoring(ref)
	if !ok {
		return
	}
	if targetProc := r.Lookup(target); targetProc != nil {
		targetProc.removeMonitoredBy(ref)
	}
}

// deliverDown and deliverExit route through the receiver's own Sender
// so that a scheduler-owned receiver parked on an empty mailbox is
// rescheduled to handle the signal.
func (r *Registry) deliverDown(by *Process, ref MonitorRef, target Pid, reason error) {
	_ = by.sender.Deliver(by.pid, DataMessage(Down{Pid: target, Ref: ref, Reason: reason}))
}

func (r *Registry) deliverExit(to *Process, from Pid, reason error) {
	_ = to.sender.Deliver(to.pid, DataMessage(Exit{Pid: from, Reason: reason}))
}

// Exit terminates pid with reason (nil means normal exit), cascades
// the exit to links and monitors per §3/§4/§7, then unregisters pid.
// seen guards against re-notifying a peer already observed exiting in
// this cascade, which is what keeps exit propagation terminating in
// the presence of link cycles (§9).
func (r *Registry) Exit(pid Pid, reason error, seen map[Pid]struct{}) {
	r.exit(pid, reason, 0, seen)
}

// ExitWithBudget is like Exit but bounds how long pid's Terminate hook
// (process.Terminator), if any, is allowed to run before the exit
// cascade proceeds regardless. Used for a forced kill that must honor
// a ChildSpec.ShutdownTimeout (§4.5) rather than block indefinitely on
// a stuck child's cleanup.
func (r *Registry) ExitWithBudget(pid Pid, reason error, budget time.Duration, seen map[Pid]struct{}) {
	r.exit(pid, reason, budget, seen)
}

func (r *Registry) exit(pid Pid, reason error, budget time.Duration, seen map[Pid]struct{}) {
	proc := r.Lookup(pid)
	if proc == nil {
		return
	}
	if seen == nil {
		seen = make(map[Pid]struct{})
	}
	if _, already := seen[pid]; already {
		return
	}
	seen[pid] = struct{}{}

	proc.markExited(reason)
	// A process that reached this exit via its own executor quantum
	// already ran its Terminate hook there; runTerminate is idempotent
	// so a forced kill (which never runs the executor) still gets it.
	proc.runTerminate(reason, budget)

	for _, peer := range proc.Linked() {
		peerProc := r.Lookup(peer)
		if peerProc == nil {
			continue
		}
		if reason == nil {
			// normal exit: linked peers are merely unlinked, not killed.
			peerProc.Unlink(pid)
			continue
		}
		if peerProc.trapsExit() {
			r.deliverExit(peerProc, pid, reason)
			peerProc.Unlink(pid)
			continue
		}
		// abnormal exit propagates: the peer dies with the same reason.
		r.exit(peer, reason, 0, seen)
	}

	for ref, by := range proc.monitoredByRefs() {
		if byProc := r.Lookup(by); byProc != nil {
			r.deliverDown(byProc, ref, pid, reason)
		}
	}

	r.unregister(pid)
}

func (r *Registry) unregister(pid Pid) {
	s := r.shardFor(pid)
	s.mu.Lock()
	delete(s.processes, pid)
	s.mu.Unlock()

	r.namesMu.Lock()
	for name, p := range r.names {
		if p == pid {
			delete(r.names, name)
		}
	}
	r.namesMu.Unlock()
}

// NotifyExit implements Sender for symmetry with Exit, used when a
// Process itself (not the scheduler/executor) needs to signal its own
// termination, e.g. an explicit self-exit call.
func (r *Registry) NotifyExit(pid Pid, reason error) {
	r.Exit(pid, reason, nil)
}

// Count returns the total number of live processes, for tests and
// introspection.
func (r *Registry) Count() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.processes)
		s.mu.RUnlock()
	}
	return total
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry{processes=%d}", r.Count())
}

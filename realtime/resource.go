package realtime

import (
	"sort"
	"sync"

	"github.com/ream-rt/ream/process"
)

// Resource is a lockable contested resource with priority inheritance
// (§3 "Resource (real-time)", §4.6). The holder's effective priority is
// kept ≥ the maximum effective priority among waiters.
type Resource struct {
	id string

	mu        sync.Mutex
	holder    *process.Pid
	original  process.Priority
	effective process.Priority
	waitQueue []waiter
}

type waiter struct {
	pid       process.Pid
	effective process.Priority
	ready     chan struct{}
}

// NewResource constructs an unheld Resource identified by id.
func NewResource(id string) *Resource {
	return &Resource{id: id}
}

// ID returns the resource's identifier.
func (r *Resource) ID() string { return r.id }

// Holder returns the current holder, if any.
func (r *Resource) Holder() (process.Pid, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holder == nil {
		return process.Pid{}, false
	}
	return *r.holder, true
}

// EffectivePriority returns the holder's current (possibly inherited)
// priority, or the zero Priority (Low) if the resource is free.
func (r *Resource) EffectivePriority() process.Priority {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effective
}

// Acquire requests the resource for pid and returns at once with a
// channel that is closed once pid holds it (already closed if the
// resource was free). Waiting on that channel is the caller's choice —
// callers running under the executor should not block on it directly
// from Receive; it is intended for synchronous helper goroutines or
// for Process.Receive-based wrappers. If the resource is held, priority
// inheritance is applied to the current holder when pid's priority is
// higher (§4.6 "Priority inheritance").
func (r *Resource) Acquire(pid process.Pid, priority process.Priority) <-chan struct{} {
	r.mu.Lock()
	if r.holder == nil {
		r.holder = &pid
		r.original = priority
		r.effective = priority
		ready := make(chan struct{})
		close(ready)
		r.mu.Unlock()
		return ready
	}

	if priority > r.effective {
		r.effective = priority
	}
	w := waiter{pid: pid, effective: priority, ready: make(chan struct{})}
	r.waitQueue = append(r.waitQueue, w)
	sort.SliceStable(r.waitQueue, func(i, j int) bool {
		return r.waitQueue[i].effective > r.waitQueue[j].effective
	})
	r.mu.Unlock()
	return w.ready
}

// Release gives up the resource. If waiters remain, the head of the
// (priority-ordered) wait queue becomes the new holder; otherwise the
// resource goes free. The outgoing holder's effective priority is
// restored to original (§4.6 "restored to its original").
func (r *Resource) Release(pid process.Pid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holder == nil || *r.holder != pid {
		return
	}
	if len(r.waitQueue) == 0 {
		r.holder = nil
		r.effective = 0
		return
	}
	next := r.waitQueue[0]
	r.waitQueue = r.waitQueue[1:]
	r.holder = &next.pid
	r.original = next.effective
	r.effective = next.effective
	for _, w := range r.waitQueue {
		if w.effective > r.effective {
			r.effective = w.effective
		}
	}
	close(next.ready)
}

// WaitQueueLen reports the number of processes currently waiting.
func (r *Resource) WaitQueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waitQueue)
}

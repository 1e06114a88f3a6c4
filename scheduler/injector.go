package scheduler

import (
	"container/heap"
	"sync"
)

// Injector is the shared global queue externally-scheduled tasks land
// on, and the fallback a worker drains from once its local queue and
// all steal attempts come up empty (§4.3). It is a multi-producer
// multi-consumer priority queue ordered by ScheduledTask's (priority,
// creation timestamp) lexicographic order (§3, §5).
type Injector struct {
	mu sync.Mutex
	pq taskHeap
}

// NewInjector constructs an empty Injector.
func NewInjector() *Injector {
	inj := &Injector{}
	heap.Init(&inj.pq)
	return inj
}

// Push enqueues t.
func (inj *Injector) Push(t ScheduledTask) {
	inj.mu.Lock()
	heap.Push(&inj.pq, t)
	inj.mu.Unlock()
}

// Pop removes and returns the highest-priority, oldest task, or
// ok=false if the injector is empty.
func (inj *Injector) Pop() (ScheduledTask, bool) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if inj.pq.Len() == 0 {
		return ScheduledTask{}, false
	}
	return heap.Pop(&inj.pq).(ScheduledTask), true
}

// Len reports the number of queued tasks.
func (inj *Injector) Len() int {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return inj.pq.Len()
}

type taskHeap []ScheduledTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(ScheduledTask)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

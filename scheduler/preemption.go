package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// preemptFlag is the atomic "should yield?" bit the executor consults
// between user-observable steps (§4.2). Observing it set clears it in
// the same operation, matching "upon observing a set flag it resets
// it and returns Preempted" — a compare-and-swap, not a plain load,
// so the flag fires exactly once per tick that finds the worker still
// over budget.
type preemptFlag struct {
	set atomic.Bool
}

func (f *preemptFlag) Raise() {
	f.set.Store(true)
}

// CheckAndClear reports whether the flag was set, clearing it.
func (f *preemptFlag) CheckAndClear() bool {
	return f.set.CompareAndSwap(true, false)
}

// PreemptionTimer is the single periodic source that bounds a
// process's contiguous execution (§4.4). It ticks at a sub-interval of
// the quantum and raises the preemption flag of any worker whose
// currently-running task has run past its deadline.
type PreemptionTimer struct {
	quantum  time.Duration
	workers  []*Worker
	stopCh   chan struct{}
	wg       sync.WaitGroup
	tickOnce sync.Once
}

// NewPreemptionTimer constructs a timer over workers, ticking at
// quantum/4 (bounded to at least 1ms) so a worker's deadline is
// observed with acceptable slop relative to the quantum itself.
func NewPreemptionTimer(quantum time.Duration, workers []*Worker) *PreemptionTimer {
	return &PreemptionTimer{
		quantum: quantum,
		workers: workers,
		stopCh:  make(chan struct{}),
	}
}

func (t *PreemptionTimer) tickInterval() time.Duration {
	interval := t.quantum / 4
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}

// Start launches the timer's background goroutine. Safe to call once;
// subsequent calls are no-ops.
func (t *PreemptionTimer) Start() {
	t.tickOnce.Do(func() {
		t.wg.Add(1)
		go t.run()
	})
}

func (t *PreemptionTimer) run() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.tickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			for _, w := range t.workers {
				if deadline, running := w.Deadline(); running && now.After(deadline) {
					w.flag.Raise()
				}
			}
		}
	}
}

// Stop halts the timer and waits for its goroutine to exit.
func (t *PreemptionTimer) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

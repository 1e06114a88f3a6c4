// Package scheduler implements the multi-core work-stealing scheduler
// (§4.3): per-worker local deques, a global injector, randomized
// stealing, core affinity, and the preemption timer that bounds each
// process's contiguous execution (§4.4).
package scheduler

import (
	"time"

	"github.com/ream-rt/ream/process"
)

// ScheduledTask is a schedulable handle referring to a process, with
// priority and optional core affinity (§3).
type ScheduledTask struct {
	Pid             process.Pid
	Priority        process.Priority
	PreferredCore   int // -1 means no affinity
	Created         time.Time
	RescheduleCount uint64
}

// NoPreferredCore is the sentinel PreferredCore value meaning "no
// affinity".
const NoPreferredCore = -1

// NewTask constructs a ScheduledTask for pid at the given priority with
// no core affinity and reschedule count 0. created must be supplied by
// the caller (the scheduler package never calls time.Now() internally
// outside of production code paths, so tests can pin it).
func NewTask(pid process.Pid, priority process.Priority, created time.Time) ScheduledTask {
	return ScheduledTask{Pid: pid, Priority: priority, PreferredCore: NoPreferredCore, Created: created}
}

// less implements the ordering used by the global injector's priority
// queue: lexicographic on (priority, creation timestamp), higher
// priority and earlier creation sort first (§3).
func less(a, b ScheduledTask) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Created.Before(b.Created)
}

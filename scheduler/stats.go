package scheduler

import "sync/atomic"

// WorkerStats are the per-worker counters §4.3 requires: tasks
// executed, steal attempts, successful steals, idle time.
type WorkerStats struct {
	TasksExecuted   uint64
	StealAttempts   uint64
	SuccessfulSteals uint64
	IdleNanos       uint64
}

type workerCounters struct {
	tasksExecuted    atomic.Uint64
	stealAttempts    atomic.Uint64
	successfulSteals atomic.Uint64
	idleNanos        atomic.Uint64
}

func (c *workerCounters) snapshot() WorkerStats {
	return WorkerStats{
		TasksExecuted:    c.tasksExecuted.Load(),
		StealAttempts:    c.stealAttempts.Load(),
		SuccessfulSteals: c.successfulSteals.Load(),
		IdleNanos:        c.idleNanos.Load(),
	}
}

// AggregateStats sums WorkerStats across the whole pool (§4.3 "total
// tasks, total steals").
type AggregateStats struct {
	TotalTasksExecuted    uint64
	TotalStealAttempts    uint64
	TotalSuccessfulSteals uint64
	PerWorker             []WorkerStats
}
